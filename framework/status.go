package framework

import "sync"

// Severity grades a status message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Status is a snapshot of the language status item shown to the user.
type Status struct {
	Text     string
	Severity Severity
	Busy     bool
	Detail   string
}

// StatusIndicator receives lifecycle and validation updates. An empty message
// resets the indicator to its bare name.
type StatusIndicator interface {
	UpdateStatus(message string, severity Severity, busy bool)
}

// StatusItem is the single status indicator owned by the host. It prefixes
// messages with its name and notifies subscribers on every change.
type StatusItem struct {
	name string

	mu          sync.RWMutex
	current     Status
	subscribers map[int]func(Status)
	nextID      int
}

// NewStatusItem returns an indicator that initially shows only its name.
func NewStatusItem(name string) *StatusItem {
	return &StatusItem{
		name:        name,
		current:     Status{Text: name},
		subscribers: map[int]func(Status){},
	}
}

// UpdateStatus implements StatusIndicator.
func (s *StatusItem) UpdateStatus(message string, severity Severity, busy bool) {
	s.Update(message, severity, busy, "")
}

// Update sets every field of the status at once.
func (s *StatusItem) Update(message string, severity Severity, busy bool, detail string) {
	text := s.name
	if message != "" {
		text = s.name + ": " + message
	}
	next := Status{Text: text, Severity: severity, Busy: busy, Detail: detail}

	s.mu.Lock()
	s.current = next
	subs := make([]func(Status), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// Current returns the latest status.
func (s *StatusItem) Current() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Name returns the label the indicator was created with.
func (s *StatusItem) Name() string { return s.name }

// Subscribe registers fn for future updates.
func (s *StatusItem) Subscribe(fn func(Status)) Disposable {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return DisposeFunc(func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	})
}
