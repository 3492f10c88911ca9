package tui

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Prompt asks for secrets with a masked input.
type Prompt struct {
	Console *Console
}

// PromptSecret returns the entered value, or "" if the user gave up. Empty
// input is rejected and the prompt stays open.
func (p *Prompt) PromptSecret(ctx context.Context, prompt string) (string, error) {
	if !p.Console.Interactive {
		p.Console.Println(prompt)
		line, err := p.Console.ReadLine("> ")
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return strings.TrimSpace(line), err
	}
	final, err := p.Console.program(ctx, newPromptModel(prompt)).Run()
	if err != nil {
		return "", err
	}
	if m, ok := final.(promptModel); ok {
		return m.value, nil
	}
	return "", nil
}

type promptModel struct {
	prompt  string
	input   textinput.Model
	invalid bool
	value   string
	done    bool
}

func newPromptModel(prompt string) promptModel {
	input := textinput.New()
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.Placeholder = "sk-..."
	input.Width = 60
	input.Focus()
	return promptModel{prompt: prompt, input: input}
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			if value == "" {
				m.invalid = true
				return m, nil
			}
			m.value = value
			m.done = true
			return m, tea.Quit
		case "esc", "ctrl+c":
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != "" {
		m.invalid = false
	}
	return m, cmd
}

func (m promptModel) View() string {
	if m.done {
		return ""
	}
	lines := []string{titleStyle.Render("API key"), m.prompt, m.input.View()}
	if m.invalid {
		lines = append(lines, warningStyle.Render("A key is required."))
	}
	lines = append(lines, dimStyle.Render("enter to save | esc to cancel"))
	return modalStyle.Render(strings.Join(lines, "\n")) + "\n"
}
