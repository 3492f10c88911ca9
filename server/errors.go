package server

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned when a message is sent to a connection that is
	// not in the running state.
	ErrNotRunning = errors.New("language server not running")

	// ErrStartFailed wraps failures to spawn or initialize the server.
	ErrStartFailed = errors.New("language server failed to start")

	// ErrConnectionClosed indicates the transport went away mid request.
	ErrConnectionClosed = errors.New("language server connection closed")

	// ErrNoInterpreter is returned by the launcher when settings carry no
	// interpreter command.
	ErrNoInterpreter = errors.New("no interpreter configured")
)

// ServerError ties a failure to the server id and the lifecycle phase that
// produced it.
type ServerError struct {
	ServerID string
	Phase    string
	Err      error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %s: %v", e.ServerID, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
