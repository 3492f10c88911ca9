package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/oliversen/chatgpt-docstrings/framework"
)

// Interpreters resolves versions and discovers the active interpreter.
type Interpreters interface {
	ResolveVersion(ctx context.Context, interpreter []string) (string, error)
	Active(ctx context.Context, root string) ([]string, error)
}

// Validator checks that a usable interpreter exists before a server start.
type Validator struct {
	// Setting returns the explicitly configured interpreter, if any.
	Setting func(ctx context.Context) []string
	// Root returns the directory used for interpreter discovery.
	Root   func() string
	Python Interpreters
	Status framework.StatusIndicator
	Logger *log.Logger
	Stat   func(string) (os.FileInfo, error)
}

// CheckInterpreter reports whether the server can be launched. Every failure
// pushes a warning status and logs it; nothing is returned besides the bool.
func (v *Validator) CheckInterpreter(ctx context.Context, serverID string) bool {
	var interpreter []string
	if v.Setting != nil {
		interpreter = v.Setting(ctx)
	}
	if len(interpreter) > 0 && strings.TrimSpace(interpreter[0]) != "" {
		if !v.exists(interpreter[0]) {
			v.fail(fmt.Sprintf("The interpreter set in %q setting was not found.", serverID+".interpreter"))
			return false
		}
		version, err := v.Python.ResolveVersion(ctx, interpreter)
		if err != nil || !SupportedVersion(version) {
			if err != nil {
				v.logger().Debug("interpreter version unresolved", "interpreter", interpreter[0], "err", err)
			}
			v.fail(fmt.Sprintf("The interpreter set in %q setting is not supported. Please use Python %s or greater.", serverID+".interpreter", MinimumPythonVersion))
			return false
		}
		v.logger().Debug("using interpreter from setting", "setting", serverID+".interpreter", "interpreter", strings.Join(interpreter, " "), "version", version)
		return true
	}

	root := ""
	if v.Root != nil {
		root = v.Root()
	}
	if active, err := v.Python.Active(ctx, root); err == nil && len(active) > 0 {
		v.logger().Debug("using discovered interpreter", "interpreter", strings.Join(active, " "))
		return true
	}

	v.fail(fmt.Sprintf("Select the python interpreter version %s or greater in the status bar, or set it in the %q setting.", MinimumPythonVersion, serverID+".interpreter"))
	return false
}

func (v *Validator) fail(msg string) {
	v.logger().Warn(msg)
	if v.Status != nil {
		v.Status.UpdateStatus(msg, framework.SeverityWarning, false)
	}
}

func (v *Validator) exists(path string) bool {
	stat := v.Stat
	if stat == nil {
		stat = os.Stat
	}
	_, err := stat(path)
	return err == nil
}

func (v *Validator) logger() *log.Logger {
	if v.Logger == nil {
		return log.Default()
	}
	return v.Logger
}
