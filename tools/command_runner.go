package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRequest captures a short-lived process execution.
type CommandRequest struct {
	Workdir string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// CommandRunner executes interpreter checks. Tests swap in fakes so nothing on
// the host is spawned.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (stdout string, stderr string, err error)
}

// LocalCommandRunner runs commands directly on the host.
type LocalCommandRunner struct{}

// Run executes req.Args[0] with the remaining arguments.
func (LocalCommandRunner) Run(ctx context.Context, req CommandRequest) (string, string, error) {
	if len(req.Args) == 0 {
		return "", "", errors.New("command arguments required")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Workdir
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return stdout.String(), stderr.String(), fmt.Errorf("%s: %w: %s", strings.Join(req.Args, " "), err, detail)
		}
		return stdout.String(), stderr.String(), fmt.Errorf("%s: %w", strings.Join(req.Args, " "), err)
	}
	return stdout.String(), stderr.String(), nil
}
