package server

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/oliversen/chatgpt-docstrings/internal/settings"
)

const (
	envPythonPath  = "PYTHONPATH"
	envUseDebugpy  = "USE_DEBUGPY"
	envDebugpyPath = "DEBUGPY_PATH"
	debugOff       = "False"
)

// LaunchSpec is everything needed to spawn the server process.
type LaunchSpec struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args"`
	Dir     string            `yaml:"dir" json:"dir"`
	Env     map[string]string `yaml:"env" json:"env"`
	Debug   bool              `yaml:"debug" json:"debug"`
}

// Environ renders Env as sorted KEY=VALUE pairs for exec.Cmd.
func (s LaunchSpec) Environ() []string {
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// CommandLine joins the command and its arguments for logging.
func (s LaunchSpec) CommandLine() string {
	return strings.Join(append([]string{s.Command}, s.Args...), " ")
}

// Paths locates the bundled server files.
type Paths struct {
	LibsPath    string
	StartScript string
	DebugScript string
}

// BundlePaths returns the layout of a server bundle directory.
func BundlePaths(dir string) Paths {
	return Paths{
		LibsPath:    filepath.Join(dir, "libs"),
		StartScript: filepath.Join(dir, "_start.py"),
		DebugScript: filepath.Join(dir, "_debug.py"),
	}
}

// DebuggerLocator resolves the debugpy package directory for an interpreter.
type DebuggerLocator func(ctx context.Context, interpreter []string) (string, error)

// Launcher computes launch specs. It never spawns the server itself.
type Launcher struct {
	Paths    Paths
	Debugger DebuggerLocator
	Environ  func() []string
	Stat     func(string) (os.FileInfo, error)
	Logger   *log.Logger
}

// Build derives a fresh LaunchSpec from the resolved workspace settings.
func (l *Launcher) Build(ctx context.Context, s settings.Settings) (LaunchSpec, error) {
	if len(s.Interpreter) == 0 || s.Interpreter[0] == "" {
		return LaunchSpec{}, ErrNoInterpreter
	}
	env := l.environ()
	env[envPythonPath] = l.Paths.LibsPath

	script := l.Paths.StartScript
	debug := false
	if debugRequested(env[envUseDebugpy]) && l.exists(l.Paths.DebugScript) {
		if path := l.debuggerPath(ctx, s.Interpreter); path != "" {
			env[envDebugpyPath] = path
			script = l.Paths.DebugScript
			debug = true
		}
	}
	if !debug {
		env[envUseDebugpy] = debugOff
		delete(env, envDebugpyPath)
	}

	args := make([]string, 0, len(s.Interpreter))
	args = append(args, s.Interpreter[1:]...)
	args = append(args, script)

	spec := LaunchSpec{
		Command: s.Interpreter[0],
		Args:    args,
		Dir:     s.Cwd,
		Env:     env,
		Debug:   debug,
	}
	l.logger().Info("server run command", "cmd", spec.CommandLine(), "debug", debug)
	return spec, nil
}

func debugRequested(value string) bool {
	switch strings.TrimSpace(value) {
	case "", "False", "false", "0":
		return false
	}
	return true
}

func (l *Launcher) debuggerPath(ctx context.Context, interpreter []string) string {
	if l.Debugger == nil {
		return ""
	}
	path, err := l.Debugger(ctx, interpreter)
	if err != nil {
		l.logger().Debug("debugger not resolvable", "err", err)
		return ""
	}
	return path
}

func (l *Launcher) environ() map[string]string {
	source := l.Environ
	if source == nil {
		source = os.Environ
	}
	env := map[string]string{}
	for _, kv := range source() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func (l *Launcher) exists(path string) bool {
	if path == "" {
		return false
	}
	stat := l.Stat
	if stat == nil {
		stat = os.Stat
	}
	_, err := stat(path)
	return err == nil
}

func (l *Launcher) logger() *log.Logger {
	if l.Logger == nil {
		return log.Default()
	}
	return l.Logger
}
