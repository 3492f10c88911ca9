package framework

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventInfo  EventType = "info"
	EventError EventType = "error"
)

// Event captures structured telemetry data, either forwarded from the
// language server or produced by the client itself.
type Event struct {
	Type      EventType `json:"type"`
	Name      string    `json:"name"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Telemetry receives events. Sinks are best effort and never report errors
// back to the caller.
type Telemetry interface {
	Emit(event Event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the event file in append mode.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		j.enc = nil
		return err
	}
	return nil
}

// LoggerTelemetry mirrors events into the log output.
type LoggerTelemetry struct {
	Logger *log.Logger
}

// Emit logs the event.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	if event.Type == EventError {
		logger.Warn("telemetry", "type", event.Type, "name", event.Name, "data", event.Data)
		return
	}
	logger.Debug("telemetry", "type", event.Type, "name", event.Name, "data", event.Data)
}

// Reporter is the client-facing telemetry API.
type Reporter struct {
	Sink Telemetry
	Now  func() time.Time
}

// NewReporter wraps sink. A nil sink drops every event.
func NewReporter(sink Telemetry) *Reporter {
	return &Reporter{Sink: sink, Now: time.Now}
}

// SendInfo records an informational event.
func (r *Reporter) SendInfo(name string, data any) {
	r.send(EventInfo, name, data)
}

// SendError records an error event.
func (r *Reporter) SendError(name string, data any) {
	r.send(EventError, name, data)
}

// ErrorData converts an error into the payload shape used for error events.
func ErrorData(err error) map[string]string {
	if err == nil {
		return nil
	}
	return map[string]string{"name": fmt.Sprintf("%T", err), "message": err.Error()}
}

func (r *Reporter) send(kind EventType, name string, data any) {
	if r == nil || r.Sink == nil {
		return
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	r.Sink.Emit(Event{Type: kind, Name: name, Data: data, Timestamp: now()})
}
