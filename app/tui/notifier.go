package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/oliversen/chatgpt-docstrings/framework"
)

// Notifier shows messages on the console. It serves both server pushed
// messages and client errors that offer follow-up actions.
type Notifier struct {
	Console *Console
}

// ShowMessage prints a message without waiting for the user.
func (n *Notifier) ShowMessage(severity framework.Severity, message string) {
	n.Console.Println(renderMessage(severity, message))
}

// Notify shows message with actions and returns the chosen one, or "" when
// the message is dismissed or the console is not interactive.
func (n *Notifier) Notify(ctx context.Context, severity framework.Severity, message string, actions ...string) string {
	if len(actions) == 0 || !n.Console.Interactive {
		n.ShowMessage(severity, message)
		return ""
	}
	final, err := n.Console.program(ctx, newChoiceModel(severity, message, actions)).Run()
	if err != nil {
		n.ShowMessage(severity, message)
		return ""
	}
	if m, ok := final.(choiceModel); ok {
		return m.chosen
	}
	return ""
}

func renderMessage(severity framework.Severity, message string) string {
	return severityStyle(severity).Render(severityLabel(severity)) + " " + message
}

type choiceModel struct {
	severity framework.Severity
	message  string
	actions  []string
	cursor   int
	chosen   string
	done     bool
}

func newChoiceModel(severity framework.Severity, message string, actions []string) choiceModel {
	return choiceModel{severity: severity, message: message, actions: actions}
}

func (m choiceModel) Init() tea.Cmd { return nil }

func (m choiceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "left", "h", "shift+tab":
		if m.cursor > 0 {
			m.cursor--
		}
	case "right", "l", "tab":
		if m.cursor < len(m.actions)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = m.actions[m.cursor]
		m.done = true
		return m, tea.Quit
	case "esc", "q", "ctrl+c":
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m choiceModel) View() string {
	if m.done {
		return renderMessage(m.severity, m.message) + "\n"
	}
	buttons := make([]string, 0, len(m.actions))
	for i, action := range m.actions {
		style := idleButtonStyle
		if i == m.cursor {
			style = buttonStyle
		}
		buttons = append(buttons, style.Render(action))
	}
	body := strings.Join([]string{
		renderMessage(m.severity, m.message),
		lipgloss.JoinHorizontal(lipgloss.Top, buttons...),
		dimStyle.Render("enter to choose | esc to dismiss"),
	}, "\n")
	return modalStyle.Render(body) + "\n"
}
