package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// MinimumPythonVersion is the oldest interpreter the language server runs on.
const MinimumPythonVersion = "3.9"

const (
	versionScript = "import sys; print('%d.%d.%d' % sys.version_info[:3])"
	debugpyScript = "import debugpy, os; print(os.path.dirname(debugpy.__file__))"
)

// ErrNoInterpreter is returned when discovery finds no usable interpreter.
var ErrNoInterpreter = errors.New("no supported python interpreter found")

// SupportedVersion reports whether a dotted version such as "3.11.4" is a
// Python 3 release at or above MinimumPythonVersion.
func SupportedVersion(version string) bool {
	v := "v" + strings.TrimPrefix(strings.TrimSpace(version), "v")
	if !semver.IsValid(v) {
		return false
	}
	return semver.Major(v) == "v3" && semver.Compare(v, "v"+MinimumPythonVersion) >= 0
}

// InterpreterReport summarizes an inspected interpreter for status views.
type InterpreterReport struct {
	Path         []string
	Version      string
	Supported    bool
	DebuggerPath string
	Error        string
}

// Python inspects interpreters by running them.
type Python struct {
	Runner   CommandRunner
	Timeout  time.Duration
	Getenv   func(string) string
	LookPath func(string) (string, error)
	Stat     func(string) (os.FileInfo, error)
}

// NewPython returns an inspector that runs commands on the host.
func NewPython() *Python {
	return &Python{
		Runner:   LocalCommandRunner{},
		Timeout:  10 * time.Second,
		Getenv:   os.Getenv,
		LookPath: exec.LookPath,
		Stat:     os.Stat,
	}
}

// ResolveVersion runs the interpreter and returns its dotted version.
func (p *Python) ResolveVersion(ctx context.Context, interpreter []string) (string, error) {
	out, err := p.run(ctx, interpreter, versionScript)
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(out)
	if version == "" {
		return "", fmt.Errorf("%s printed no version", interpreter[0])
	}
	return version, nil
}

// DebuggerPath returns the directory of the debugpy package importable by the
// interpreter.
func (p *Python) DebuggerPath(ctx context.Context, interpreter []string) (string, error) {
	out, err := p.run(ctx, interpreter, debugpyScript)
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(out)
	if path == "" {
		return "", errors.New("debugpy location unknown")
	}
	return path, nil
}

// Active returns the first discovered interpreter with a supported version.
func (p *Python) Active(ctx context.Context, root string) ([]string, error) {
	for _, candidate := range p.Candidates(root) {
		version, err := p.ResolveVersion(ctx, candidate)
		if err != nil {
			continue
		}
		if SupportedVersion(version) {
			return candidate, nil
		}
	}
	return nil, ErrNoInterpreter
}

// Candidates lists interpreters in discovery order: the activated virtual
// environment, project-local environments, then the PATH.
func (p *Python) Candidates(root string) [][]string {
	var out [][]string
	seen := map[string]bool{}
	add := func(path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, []string{path})
	}
	if venv := p.getenv("VIRTUAL_ENV"); venv != "" {
		if exe := venvPython(venv); p.exists(exe) {
			add(exe)
		}
	}
	if root != "" {
		for _, dir := range []string{".venv", "venv"} {
			if exe := venvPython(filepath.Join(root, dir)); p.exists(exe) {
				add(exe)
			}
		}
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := p.lookPath(name); err == nil {
			add(path)
		}
	}
	return out
}

// Inspect gathers version and debugger details without failing.
func (p *Python) Inspect(ctx context.Context, interpreter []string) InterpreterReport {
	report := InterpreterReport{Path: interpreter}
	if len(interpreter) == 0 {
		report.Error = ErrNoInterpreter.Error()
		return report
	}
	if !p.exists(interpreter[0]) {
		report.Error = fmt.Sprintf("%s not found", interpreter[0])
		return report
	}
	version, err := p.ResolveVersion(ctx, interpreter)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Version = version
	report.Supported = SupportedVersion(version)
	if path, err := p.DebuggerPath(ctx, interpreter); err == nil {
		report.DebuggerPath = path
	}
	return report
}

func (p *Python) run(ctx context.Context, interpreter []string, script string) (string, error) {
	if len(interpreter) == 0 || interpreter[0] == "" {
		return "", ErrNoInterpreter
	}
	args := append(append([]string{}, interpreter...), "-c", script)
	runner := p.Runner
	if runner == nil {
		runner = LocalCommandRunner{}
	}
	stdout, _, err := runner.Run(ctx, CommandRequest{Args: args, Timeout: p.Timeout})
	return stdout, err
}

func (p *Python) exists(path string) bool {
	stat := p.Stat
	if stat == nil {
		stat = os.Stat
	}
	_, err := stat(path)
	return err == nil
}

func (p *Python) getenv(key string) string {
	if p.Getenv == nil {
		return os.Getenv(key)
	}
	return p.Getenv(key)
}

func (p *Python) lookPath(name string) (string, error) {
	if p.LookPath == nil {
		return exec.LookPath(name)
	}
	return p.LookPath(name)
}

func venvPython(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, "Scripts", "python.exe")
	}
	return filepath.Join(dir, "bin", "python")
}
