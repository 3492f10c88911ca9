package framework

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTelemetry struct {
	events []Event
}

func (r *recordingTelemetry) Emit(event Event) { r.events = append(r.events, event) }

func TestReporterFansOutToSinks(t *testing.T) {
	a, b := &recordingTelemetry{}, &recordingTelemetry{}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reporter := &Reporter{Sink: MultiplexTelemetry{Sinks: []Telemetry{a, nil, b}}, Now: func() time.Time { return fixed }}

	reporter.SendInfo("serverStarted", map[string]string{"pid": "42"})
	reporter.SendError("startFailed", ErrorData(errors.New("exit status 1")))

	require.Len(t, a.events, 2)
	assert.Equal(t, a.events, b.events)
	assert.Equal(t, EventInfo, a.events[0].Type)
	assert.Equal(t, "serverStarted", a.events[0].Name)
	assert.Equal(t, fixed, a.events[0].Timestamp)
	assert.Equal(t, EventError, a.events[1].Type)
	assert.Equal(t, "exit status 1", a.events[1].Data.(map[string]string)["message"])
}

func TestNilReporterDropsEvents(t *testing.T) {
	var reporter *Reporter
	reporter.SendInfo("ignored", nil)
	NewReporter(nil).SendError("ignored", nil)
}

func TestJSONFileTelemetryAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	sink, err := NewJSONFileTelemetry(path)
	require.NoError(t, err)

	reporter := NewReporter(sink)
	reporter.SendInfo("one", nil)
	reporter.SendError("two", map[string]string{"message": "bad"})
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"one", "two"}, names)
}
