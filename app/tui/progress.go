package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/oliversen/chatgpt-docstrings/docstring"
)

// Progress shows a spinner while a task runs. Modal tasks get a Bubble Tea
// view where esc cancels; other tasks print a line per report.
type Progress struct {
	Console *Console
}

type progressMsg docstring.ProgressReport

type taskDoneMsg struct{}

// WithProgress implements docstring.ProgressUI.
func (p *Progress) WithProgress(ctx context.Context, opts docstring.ProgressOptions, task func(context.Context, func(docstring.ProgressReport)) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if !opts.Modal || !p.Console.Interactive {
		p.Console.Println(dimStyle.Render("⟳ " + opts.Title))
		return task(ctx, func(r docstring.ProgressReport) {
			if line := reportLine(r); line != "" {
				p.Console.Println(dimStyle.Render("  " + line))
			}
		})
	}

	prog := p.Console.program(context.Background(), newProgressModel(opts, cancel))
	done := make(chan error, 1)
	go func() {
		err := task(ctx, func(r docstring.ProgressReport) { prog.Send(progressMsg(r)) })
		done <- err
		prog.Send(taskDoneMsg{})
	}()
	if _, err := prog.Run(); err != nil {
		p.Console.Println(dimStyle.Render("⟳ " + opts.Title))
	}
	return <-done
}

func reportLine(r docstring.ProgressReport) string {
	switch {
	case r.Message != "" && r.Percentage != nil:
		return fmt.Sprintf("%s (%d%%)", r.Message, *r.Percentage)
	case r.Message != "":
		return r.Message
	case r.Percentage != nil:
		return fmt.Sprintf("%d%%", *r.Percentage)
	}
	return ""
}

type progressModel struct {
	title       string
	cancellable bool
	cancel      context.CancelCauseFunc
	spinner     spinner.Model
	last        docstring.ProgressReport
	cancelled   bool
	done        bool
}

func newProgressModel(opts docstring.ProgressOptions, cancel context.CancelCauseFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle
	return progressModel{
		title:       opts.Title,
		cancellable: opts.Cancellable,
		cancel:      cancel,
		spinner:     s,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			// The view stays up until the task acknowledges the cancel.
			if m.cancellable && !m.cancelled {
				m.cancelled = true
				m.cancel(docstring.ErrCancelled)
			}
		}
		return m, nil
	case progressMsg:
		m.last = docstring.ProgressReport(msg)
		return m, nil
	case taskDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	lines := []string{m.spinner.View() + " " + titleStyle.Render(m.title)}
	if line := reportLine(m.last); line != "" {
		lines = append(lines, line)
	}
	switch {
	case m.cancelled:
		lines = append(lines, warningStyle.Render("Cancelling..."))
	case m.cancellable:
		lines = append(lines, dimStyle.Render("esc to cancel"))
	}
	return modalStyle.Render(strings.Join(lines, "\n")) + "\n"
}
