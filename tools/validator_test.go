package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliversen/chatgpt-docstrings/framework"
)

type fakeInterpreters struct {
	versions map[string]string
	active   []string
}

func (f *fakeInterpreters) ResolveVersion(ctx context.Context, interpreter []string) (string, error) {
	if v, ok := f.versions[interpreter[0]]; ok {
		return v, nil
	}
	return "", errors.New("cannot run")
}

func (f *fakeInterpreters) Active(ctx context.Context, root string) ([]string, error) {
	if f.active == nil {
		return nil, ErrNoInterpreter
	}
	return f.active, nil
}

func newValidator(t *testing.T, setting []string, py *fakeInterpreters) (*Validator, *framework.StatusItem) {
	t.Helper()
	status := framework.NewStatusItem("ChatGPT Docstrings")
	return &Validator{
		Setting: func(context.Context) []string { return setting },
		Root:    func() string { return t.TempDir() },
		Python:  py,
		Status:  status,
	}, status
}

func TestCheckInterpreterAcceptsConfiguredSupportedVersion(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "python3.11")
	require.NoError(t, os.WriteFile(exe, nil, 0o755))
	v, status := newValidator(t, []string{exe}, &fakeInterpreters{versions: map[string]string{exe: "3.11.0"}})

	assert.True(t, v.CheckInterpreter(context.Background(), "chatgpt-docstrings"))
	assert.Equal(t, framework.Status{Text: "ChatGPT Docstrings"}, status.Current(), "success must not touch the status")
}

func TestCheckInterpreterMissingPath(t *testing.T) {
	v, status := newValidator(t, []string{"/no/such/path"}, &fakeInterpreters{})

	assert.False(t, v.CheckInterpreter(context.Background(), "chatgpt-docstrings"))
	current := status.Current()
	assert.Equal(t, framework.SeverityWarning, current.Severity)
	assert.Contains(t, current.Text, "not found")
	assert.Contains(t, current.Text, `"chatgpt-docstrings.interpreter"`)
}

func TestCheckInterpreterUnsupportedVersion(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "python3.8")
	require.NoError(t, os.WriteFile(exe, nil, 0o755))
	v, status := newValidator(t, []string{exe}, &fakeInterpreters{versions: map[string]string{exe: "3.8.18"}})

	assert.False(t, v.CheckInterpreter(context.Background(), "chatgpt-docstrings"))
	assert.Contains(t, status.Current().Text, "Please use Python 3.9 or greater.")
	assert.Equal(t, framework.SeverityWarning, status.Current().Severity)
}

func TestCheckInterpreterFallsBackToDiscovery(t *testing.T) {
	v, status := newValidator(t, nil, &fakeInterpreters{active: []string{"/usr/bin/python3"}})
	assert.True(t, v.CheckInterpreter(context.Background(), "chatgpt-docstrings"))
	assert.Equal(t, "ChatGPT Docstrings", status.Current().Text)
}

func TestCheckInterpreterAsksForSelection(t *testing.T) {
	v, status := newValidator(t, nil, &fakeInterpreters{})
	assert.False(t, v.CheckInterpreter(context.Background(), "chatgpt-docstrings"))
	assert.Contains(t, status.Current().Text, "Select the python interpreter version 3.9 or greater")
}
