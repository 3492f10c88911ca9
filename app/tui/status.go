package tui

import (
	"strings"

	"github.com/oliversen/chatgpt-docstrings/framework"
)

// RenderStatus draws the language status item as a single line.
func RenderStatus(s framework.Status) string {
	parts := []string{severityStyle(s.Severity).Render(statusIcon(s)), s.Text}
	if s.Detail != "" {
		parts = append(parts, detailStyle.Render(s.Detail))
	}
	return statusStyle.Render(strings.Join(parts, " "))
}

func statusIcon(s framework.Status) string {
	if s.Busy {
		return "⟳"
	}
	switch s.Severity {
	case framework.SeverityError:
		return "✗"
	case framework.SeverityWarning:
		return "!"
	default:
		return "✓"
	}
}

// StatusSource is a status indicator that can be observed.
type StatusSource interface {
	Current() framework.Status
	Subscribe(fn func(framework.Status)) framework.Disposable
}

// WatchStatus prints the status line every time it changes.
func (c *Console) WatchStatus(src StatusSource) framework.Disposable {
	return src.Subscribe(func(s framework.Status) {
		c.Println(RenderStatus(s))
	})
}
