package docstring

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/oliversen/chatgpt-docstrings/framework"
)

// ActionOpenOutput is the message action that reveals the output log.
const ActionOpenOutput = "Open Output"

// ErrCancelled is the cancellation cause used by progress surfaces when the
// user aborts a task.
var ErrCancelled = errors.New("cancelled by user")

// Notifier shows a message to the user and returns the chosen action, or ""
// if the message was dismissed.
type Notifier interface {
	Notify(ctx context.Context, severity framework.Severity, message string, actions ...string) string
}

// ProgressOptions describes how a task is presented.
type ProgressOptions struct {
	Title string
	// Modal shows a notification that blocks input; otherwise a background
	// indicator is used.
	Modal       bool
	Cancellable bool
}

// ProgressReport is one update shown while a task runs.
type ProgressReport struct {
	Kind       string `json:"kind"`
	Message    string `json:"message,omitempty"`
	Percentage *int   `json:"percentage,omitempty"`
}

// ProgressUI runs task while showing progress and returns once task has
// returned. If the user cancels, the context passed to task is cancelled with
// cause ErrCancelled.
type ProgressUI interface {
	WithProgress(ctx context.Context, opts ProgressOptions, task func(ctx context.Context, report func(ProgressReport)) error) error
}

// decodeProgress reads a work done progress value. Unknown shapes are
// reported by kind only.
func decodeProgress(raw json.RawMessage) ProgressReport {
	var report ProgressReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return ProgressReport{Kind: "report"}
	}
	return report
}

// userCancelled reports whether ctx ended because the user cancelled it.
func userCancelled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrCancelled)
}
