package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliversen/chatgpt-docstrings/docstring"
	"github.com/oliversen/chatgpt-docstrings/framework"
)

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestChoiceModelSelectsAction(t *testing.T) {
	m := newChoiceModel(framework.SeverityError, "Failed to generate docstring!", []string{"Open Output", "Retry"})

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRight})
	m = next.(choiceModel)
	assert.Equal(t, 1, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyLeft})
	m = next.(choiceModel)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(choiceModel)
	require.NotNil(t, cmd)
	assert.Equal(t, "Open Output", m.chosen)
	assert.True(t, m.done)
}

func TestChoiceModelDismiss(t *testing.T) {
	m := newChoiceModel(framework.SeverityWarning, "careful", []string{"Open Output"})
	assert.Contains(t, m.View(), "Open Output")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(choiceModel)
	require.NotNil(t, cmd)
	assert.Empty(t, m.chosen)
}

func TestPromptModelRequiresValue(t *testing.T) {
	m := newPromptModel(docstring.APIKeyPrompt)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(promptModel)
	assert.Nil(t, cmd)
	assert.True(t, m.invalid)
	assert.Contains(t, m.View(), "A key is required.")

	next, _ = m.Update(keyRunes("sk-abc"))
	m = next.(promptModel)
	assert.False(t, m.invalid)
	assert.NotContains(t, m.View(), "sk-abc")

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(promptModel)
	require.NotNil(t, cmd)
	assert.Equal(t, "sk-abc", m.value)
}

func TestProgressModelCancel(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	m := newProgressModel(docstring.ProgressOptions{Title: "Generating docstring...", Cancellable: true}, cancel)

	pct := 40
	next, _ := m.Update(progressMsg{Kind: "report", Message: "Waiting for response", Percentage: &pct})
	m = next.(progressModel)
	assert.Contains(t, m.View(), "Waiting for response (40%)")
	assert.Contains(t, m.View(), "esc to cancel")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(progressModel)
	assert.Nil(t, cmd)
	assert.True(t, m.cancelled)
	assert.ErrorIs(t, context.Cause(ctx), docstring.ErrCancelled)
	assert.Contains(t, m.View(), "Cancelling...")

	next, cmd = m.Update(taskDoneMsg{})
	m = next.(progressModel)
	require.NotNil(t, cmd)
	assert.True(t, m.done)
}

func TestProgressModelNotCancellable(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	m := newProgressModel(docstring.ProgressOptions{Title: "Generating docstring..."}, cancel)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(progressModel)
	assert.False(t, m.cancelled)
	assert.NoError(t, ctx.Err())
}

func TestPlainConsoleSurfaces(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(strings.NewReader("\nsk-typed\n"), &out)
	require.False(t, console.Interactive)

	key, err := (&Prompt{Console: console}).PromptSecret(context.Background(), docstring.APIKeyPrompt)
	require.NoError(t, err)
	assert.Equal(t, "", key)
	key, err = (&Prompt{Console: console}).PromptSecret(context.Background(), docstring.APIKeyPrompt)
	require.NoError(t, err)
	assert.Equal(t, "sk-typed", key)
	key, err = (&Prompt{Console: console}).PromptSecret(context.Background(), docstring.APIKeyPrompt)
	require.NoError(t, err)
	assert.Equal(t, "", key)

	choice := (&Notifier{Console: console}).Notify(context.Background(), framework.SeverityError, "boom", "Open Output")
	assert.Empty(t, choice)
	assert.Contains(t, out.String(), "boom")

	progress := &Progress{Console: console}
	taskErr := errors.New("server gone")
	err = progress.WithProgress(context.Background(), docstring.ProgressOptions{Title: "Generating docstring...", Modal: true},
		func(ctx context.Context, report func(docstring.ProgressReport)) error {
			report(docstring.ProgressReport{Kind: "report", Message: "Sending request"})
			return taskErr
		})
	assert.ErrorIs(t, err, taskErr)
	assert.Contains(t, out.String(), "Generating docstring...")
	assert.Contains(t, out.String(), "Sending request")
}

func TestRenderStatus(t *testing.T) {
	item := framework.NewStatusItem("ChatGPT Docstrings")
	var out bytes.Buffer
	console := NewConsole(strings.NewReader(""), &out)
	sub := console.WatchStatus(item)
	defer sub.Dispose()

	item.UpdateStatus("Server failed to start.", framework.SeverityError, false)
	assert.Contains(t, out.String(), "ChatGPT Docstrings: Server failed to start.")
	assert.Contains(t, RenderStatus(framework.Status{Text: "x", Busy: true}), "⟳")
}
