package docstring

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/oliversen/chatgpt-docstrings/framework"
	"github.com/oliversen/chatgpt-docstrings/internal/settings"
	"github.com/oliversen/chatgpt-docstrings/server"
)

const (
	// ApplyGenerateCommand is the server command that writes a docstring.
	ApplyGenerateCommand = "chatgpt-docstrings.applyGenerate"

	progressTitle = "Generating docstring..."
	cancelTimeout = 2 * time.Second
)

// Selection is the cursor a docstring is generated for.
type Selection struct {
	URI      protocol.DocumentURI
	Position protocol.Position
}

// ParseSelection parses "path:line[:column]" with 1-based line and column.
func ParseSelection(value string) (*Selection, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("selection %q: want path:line[:column]", value)
	}
	column := 1
	if len(parts) >= 3 {
		if c, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			column = c
			parts = parts[:len(parts)-1]
		}
	}
	line, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return nil, fmt.Errorf("selection %q: bad line: %w", value, err)
	}
	path := strings.Join(parts[:len(parts)-1], ":")
	return NewSelection(path, line, column)
}

// NewSelection builds a selection from a file path and 1-based line and
// column numbers.
func NewSelection(path string, line, column int) (*Selection, error) {
	if path == "" {
		return nil, fmt.Errorf("selection: path required")
	}
	if line < 1 || column < 1 {
		return nil, fmt.Errorf("selection %s:%d:%d: line and column start at 1", path, line, column)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &Selection{
		URI:      uri.File(abs),
		Position: protocol.Position{Line: uint32(line - 1), Character: uint32(column - 1)},
	}, nil
}

// KeySource resolves the API key. An empty key aborts the request.
type KeySource interface {
	Get(ctx context.Context) string
}

// SettingsSource resolves the settings a request reads.
type SettingsSource interface {
	ProjectRoot() settings.Folder
	WorkspaceSettings(ctx context.Context, folder settings.Folder, includeInterpreter bool) settings.Settings
}

// Generator issues one generate request per user action. Requests are
// independent: a new one never cancels an earlier one.
type Generator struct {
	Keys       KeySource
	Settings   SettingsSource
	Progress   ProgressUI
	Notifier   Notifier
	Telemetry  *framework.Reporter
	Logger     *log.Logger
	ServerName string
	OpenOutput func(ctx context.Context)
	NewToken   func() string
}

// Generate asks the server to write a docstring at sel. A missing or
// stopped connection and a missing selection are not errors. Cancellation by the user returns nil after a
// best effort cancel notification; other failures are shown to the user,
// sent to telemetry, and returned.
func (g *Generator) Generate(ctx context.Context, conn server.Connection, sel *Selection) error {
	if conn == nil || conn.State() != server.StateRunning {
		g.logger().Debug("generate skipped: server not running")
		return nil
	}
	if sel == nil {
		return nil
	}

	key := g.Keys.Get(ctx)
	if key == "" {
		g.logger().Debug("generate skipped: no api key")
		return nil
	}

	root := g.Settings.ProjectRoot()
	cfg := g.Settings.WorkspaceSettings(ctx, root, false)

	token := g.token()
	var (
		mu     sync.Mutex
		report func(ProgressReport)
	)
	sub := conn.OnProgress(token, func(raw json.RawMessage) {
		mu.Lock()
		fn := report
		mu.Unlock()
		if fn != nil {
			fn(decodeProgress(raw))
		}
	})
	defer sub.Dispose()

	params := &protocol.ExecuteCommandParams{
		Command: ApplyGenerateCommand,
		Arguments: []interface{}{
			protocol.TextDocumentPositionParams{
				TextDocument: protocol.TextDocumentIdentifier{URI: sel.URI},
				Position:     sel.Position,
			},
			key,
			token,
		},
	}

	cancelled := false
	opts := ProgressOptions{Title: progressTitle, Modal: cfg.ShowProgressNotification, Cancellable: true}
	err := g.Progress.WithProgress(ctx, opts, func(ctx context.Context, r func(ProgressReport)) error {
		mu.Lock()
		report = r
		mu.Unlock()

		stop := context.AfterFunc(ctx, func() {
			if userCancelled(ctx) {
				g.cancel(conn, token)
			}
		})
		defer stop()

		var applied bool
		err := conn.SendRequest(ctx, protocol.MethodWorkspaceExecuteCommand, params, &applied)
		if err != nil && userCancelled(ctx) {
			cancelled = true
			return nil
		}
		if err == nil && !applied {
			g.logger().Info("server did not apply a docstring", "uri", sel.URI, "line", sel.Position.Line)
		}
		return err
	})
	if cancelled {
		g.logger().Debug("generate cancelled", "token", token)
		return nil
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.logger().Error("generate docstring failed", "err", err)
	g.Telemetry.SendError("generateDocstringError", framework.ErrorData(err))
	if g.Notifier != nil {
		msg := fmt.Sprintf("Failed to generate docstring! See '%s' output channel for details.", g.ServerName)
		if g.Notifier.Notify(ctx, framework.SeverityError, msg, ActionOpenOutput) == ActionOpenOutput && g.OpenOutput != nil {
			g.OpenOutput(ctx)
		}
	}
	return fmt.Errorf("generate docstring: %w", err)
}

// cancel tells the server to stop working on token. It does not wait for
// the server to comply.
func (g *Generator) cancel(conn server.Connection, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	params := &protocol.WorkDoneProgressCancelParams{Token: *protocol.NewProgressToken(token)}
	if err := conn.SendNotification(ctx, protocol.MethodWorkDoneProgressCancel, params); err != nil {
		g.logger().Debug("cancel notification failed", "token", token, "err", err)
	}
}

func (g *Generator) token() string {
	if g.NewToken != nil {
		return g.NewToken()
	}
	return uuid.NewString()
}

func (g *Generator) logger() *log.Logger {
	if g.Logger == nil {
		return log.Default()
	}
	return g.Logger
}
