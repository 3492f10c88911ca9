package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/oliversen/chatgpt-docstrings/framework"
)

const (
	shutdownTimeout = 2 * time.Second
	exitTimeout     = 2 * time.Second
)

// Connection is one server instance as seen by the manager and by request
// issuers.
type Connection interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() LifecycleState
	OnStateChange(fn func(StateChange)) framework.Disposable
	OnTelemetry(fn func(framework.Event)) framework.Disposable
	OnProgress(token string, fn func(value json.RawMessage)) framework.Disposable
	SendRequest(ctx context.Context, method string, params, result any) error
	SendNotification(ctx context.Context, method string, params any) error
	SetTrace(ctx context.Context, value protocol.TraceValue) error
}

// MessageNotifier surfaces window/showMessage notifications to the user.
// Implementations must not block.
type MessageNotifier interface {
	ShowMessage(severity framework.Severity, message string)
}

// Process is a spawned server process.
type Process interface {
	Wait() error
	Kill() error
}

// Dialer spawns the server described by spec and returns its stdio stream.
type Dialer func(ctx context.Context, spec LaunchSpec) (io.ReadWriteCloser, Process, error)

// ConnectionOptions configures a ProcessConnection.
type ConnectionOptions struct {
	ServerID          string
	ServerName        string
	Version           string
	Spec              LaunchSpec
	RootURI           uri.URI
	Folders           []protocol.WorkspaceFolder
	InitializationOpt any
	Logger            *log.Logger
	Notifier          MessageNotifier
	Edits             EditApplier
	Dial              Dialer
}

// ProcessConnection speaks JSON-RPC with LSP framing to a child process.
type ProcessConnection struct {
	opts   ConnectionOptions
	logger *log.Logger

	mu       sync.Mutex
	state    LifecycleState
	conn     *jsonrpc2.Conn
	proc     Process
	exited   chan struct{}
	stopping bool
	cancel   context.CancelFunc

	trace atomic.Value // protocol.TraceValue

	lmu       sync.Mutex
	nextID    int
	states    map[int]func(StateChange)
	telemetry map[int]func(framework.Event)
	progress  map[string]map[int]func(json.RawMessage)
}

// NewProcessConnection returns an unconnected connection.
func NewProcessConnection(opts ConnectionOptions) *ProcessConnection {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Dial == nil {
		opts.Dial = ExecDialer(logger)
	}
	if opts.Edits == nil {
		opts.Edits = FileEditApplier{}
	}
	c := &ProcessConnection{
		opts:      opts,
		logger:    logger,
		states:    map[int]func(StateChange){},
		telemetry: map[int]func(framework.Event){},
		progress:  map[string]map[int]func(json.RawMessage){},
	}
	c.trace.Store(protocol.TraceOff)
	return c
}

// Start spawns the process and performs the initialize handshake.
func (c *ProcessConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return &ServerError{ServerID: c.opts.ServerID, Phase: "start", Err: errors.New("already started")}
	}
	// Claim the start before releasing the lock so a concurrent Start fails.
	c.state = StateStarting
	c.mu.Unlock()
	c.notifyState(StateStopped, StateStarting)

	rwc, proc, err := c.opts.Dial(ctx, c.opts.Spec)
	if err != nil {
		c.setState(StateStopped)
		return &ServerError{ServerID: c.opts.ServerID, Phase: "spawn", Err: fmt.Errorf("%w: %v", ErrStartFailed, err)}
	}

	// The rpc connection outlives the start context.
	connCtx, cancel := context.WithCancel(context.Background())
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(connCtx, stream, jsonrpc2.HandlerWithError(c.handle),
		jsonrpc2.OnSend(c.traceMessage("send")),
		jsonrpc2.OnRecv(c.traceMessage("recv")),
	)
	exited := make(chan struct{})
	go func() {
		err := proc.Wait()
		if err != nil {
			c.logger.Debug("server process exited", "err", err)
		}
		close(exited)
	}()

	c.mu.Lock()
	c.conn = conn
	c.proc = proc
	c.exited = exited
	c.cancel = cancel
	c.stopping = false
	c.mu.Unlock()

	if err := c.initialize(ctx, conn); err != nil {
		c.teardown(conn, proc, exited, cancel, false)
		c.mu.Lock()
		c.conn = nil
		c.proc = nil
		c.mu.Unlock()
		c.setState(StateStopped)
		return &ServerError{ServerID: c.opts.ServerID, Phase: "initialize", Err: fmt.Errorf("%w: %v", ErrStartFailed, err)}
	}

	c.setState(StateRunning)
	go c.monitor(conn)
	return nil
}

func (c *ProcessConnection) initialize(ctx context.Context, conn *jsonrpc2.Conn) error {
	rootPath, _ := filePath(c.opts.RootURI)
	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    c.opts.ServerID,
			Version: c.opts.Version,
		},
		RootURI:               c.opts.RootURI,
		RootPath:              rootPath,
		InitializationOptions: c.opts.InitializationOpt,
		WorkspaceFolders:      c.opts.Folders,
		Trace:                 c.currentTrace(),
		Capabilities: protocol.ClientCapabilities{
			Workspace: &protocol.WorkspaceClientCapabilities{
				ApplyEdit: true,
			},
			Window: &protocol.WindowClientCapabilities{
				WorkDoneProgress: true,
			},
		},
	}
	var result protocol.InitializeResult
	if err := conn.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return err
	}
	if result.ServerInfo != nil {
		c.logger.Info("server initialized", "name", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	}
	return conn.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{})
}

// monitor moves the connection to stopped when the transport dies while
// the server is supposed to be running. There is no automatic restart.
func (c *ProcessConnection) monitor(conn *jsonrpc2.Conn) {
	<-conn.DisconnectNotify()
	c.mu.Lock()
	if c.conn != conn || c.stopping {
		c.mu.Unlock()
		return
	}
	proc, exited, cancel := c.proc, c.exited, c.cancel
	c.conn = nil
	c.proc = nil
	c.mu.Unlock()

	c.logger.Warn("server connection closed unexpectedly")
	c.teardown(conn, proc, exited, cancel, false)
	c.setState(StateStopped)
}

// Stop runs shutdown, exit, and reaps the process. Stopping a stopped
// connection is a no-op.
func (c *ProcessConnection) Stop(ctx context.Context) error {
	c.mu.Lock()
	conn, proc, exited, cancel := c.conn, c.proc, c.exited, c.cancel
	if conn == nil || c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	c.teardown(conn, proc, exited, cancel, true)

	c.mu.Lock()
	c.conn = nil
	c.proc = nil
	c.stopping = false
	c.mu.Unlock()
	c.setState(StateStopped)
	return nil
}

func (c *ProcessConnection) teardown(conn *jsonrpc2.Conn, proc Process, exited chan struct{}, cancel context.CancelFunc, graceful bool) {
	if graceful {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := conn.Call(sctx, protocol.MethodShutdown, nil, nil); err != nil {
			c.logger.Debug("shutdown request failed", "err", err)
		}
		scancel()
		if err := conn.Notify(context.Background(), protocol.MethodExit, nil); err != nil {
			c.logger.Debug("exit notification failed", "err", err)
		}
	}
	_ = conn.Close()
	if cancel != nil {
		cancel()
	}
	if proc == nil || exited == nil {
		return
	}
	select {
	case <-exited:
	case <-time.After(exitTimeout):
		c.logger.Warn("server did not exit, killing it")
		if err := proc.Kill(); err != nil {
			c.logger.Debug("kill failed", "err", err)
		}
		<-exited
	}
}

// State reports the current lifecycle state.
func (c *ProcessConnection) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ProcessConnection) setState(next LifecycleState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	c.notifyState(prev, next)
}

func (c *ProcessConnection) notifyState(prev, next LifecycleState) {
	if prev == next {
		return
	}
	c.lmu.Lock()
	listeners := make([]func(StateChange), 0, len(c.states))
	for _, fn := range c.states {
		listeners = append(listeners, fn)
	}
	c.lmu.Unlock()
	for _, fn := range listeners {
		fn(StateChange{Old: prev, New: next})
	}
}

// OnStateChange registers a lifecycle listener.
func (c *ProcessConnection) OnStateChange(fn func(StateChange)) framework.Disposable {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.states[id] = fn
	return framework.DisposeFunc(func() {
		c.lmu.Lock()
		delete(c.states, id)
		c.lmu.Unlock()
	})
}

// OnTelemetry registers a listener for telemetry/event notifications.
func (c *ProcessConnection) OnTelemetry(fn func(framework.Event)) framework.Disposable {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.telemetry[id] = fn
	return framework.DisposeFunc(func() {
		c.lmu.Lock()
		delete(c.telemetry, id)
		c.lmu.Unlock()
	})
}

// OnProgress registers a listener for $/progress notifications carrying
// token. Other tokens never reach fn.
func (c *ProcessConnection) OnProgress(token string, fn func(json.RawMessage)) framework.Disposable {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	if c.progress[token] == nil {
		c.progress[token] = map[int]func(json.RawMessage){}
	}
	c.progress[token][id] = fn
	return framework.DisposeFunc(func() {
		c.lmu.Lock()
		delete(c.progress[token], id)
		if len(c.progress[token]) == 0 {
			delete(c.progress, token)
		}
		c.lmu.Unlock()
	})
}

// ProgressListeners reports how many listeners are registered for token.
func (c *ProcessConnection) ProgressListeners(token string) int {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	return len(c.progress[token])
}

// SendRequest issues a request and decodes the result.
func (c *ProcessConnection) SendRequest(ctx context.Context, method string, params, result any) error {
	conn, err := c.running()
	if err != nil {
		return err
	}
	if err := conn.Call(ctx, method, params, result); err != nil {
		if errors.Is(err, jsonrpc2.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%s: %w", method, ErrConnectionClosed)
		}
		return err
	}
	return nil
}

// SendNotification sends a notification.
func (c *ProcessConnection) SendNotification(ctx context.Context, method string, params any) error {
	conn, err := c.running()
	if err != nil {
		return err
	}
	if err := conn.Notify(ctx, method, params); err != nil {
		if errors.Is(err, jsonrpc2.ErrClosed) {
			return fmt.Errorf("%s: %w", method, ErrConnectionClosed)
		}
		return err
	}
	return nil
}

// SetTrace records the trace level and forwards it with $/setTrace.
func (c *ProcessConnection) SetTrace(ctx context.Context, value protocol.TraceValue) error {
	c.trace.Store(value)
	return c.SendNotification(ctx, protocol.MethodSetTrace, &protocol.SetTraceParams{Value: value})
}

func (c *ProcessConnection) currentTrace() protocol.TraceValue {
	if v, ok := c.trace.Load().(protocol.TraceValue); ok {
		return v
	}
	return protocol.TraceOff
}

func (c *ProcessConnection) running() (*jsonrpc2.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != StateRunning {
		return nil, ErrNotRunning
	}
	return c.conn, nil
}

func (c *ProcessConnection) traceMessage(direction string) func(*jsonrpc2.Request, *jsonrpc2.Response) {
	return func(req *jsonrpc2.Request, resp *jsonrpc2.Response) {
		trace := c.currentTrace()
		if trace == protocol.TraceOff {
			return
		}
		switch {
		case req != nil:
			kv := []any{"dir", direction, "method", req.Method}
			if !req.Notif {
				kv = append(kv, "id", req.ID.String())
			}
			if trace == protocol.TraceVerbose && req.Params != nil {
				kv = append(kv, "params", string(*req.Params))
			}
			c.logger.Debug("rpc", kv...)
		case resp != nil:
			kv := []any{"dir", direction, "id", resp.ID.String()}
			if resp.Error != nil {
				kv = append(kv, "err", resp.Error.Message)
			}
			if trace == protocol.TraceVerbose && resp.Result != nil {
				kv = append(kv, "result", string(*resp.Result))
			}
			c.logger.Debug("rpc", kv...)
		}
	}
}

// handle serves server-to-client traffic. It runs on the read loop, so it
// must never issue requests on the same connection.
func (c *ProcessConnection) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var raw json.RawMessage
	if req.Params != nil {
		raw = *req.Params
	}
	switch req.Method {
	case protocol.MethodTelemetryEvent:
		var event framework.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, err
		}
		c.emitTelemetry(event)
		return nil, nil
	case protocol.MethodProgress:
		var params struct {
			Token json.RawMessage `json:"token"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, err
		}
		c.emitProgress(tokenString(params.Token), params.Value)
		return nil, nil
	case protocol.MethodWorkDoneProgressCreate,
		protocol.MethodClientRegisterCapability,
		protocol.MethodClientUnregisterCapability:
		return nil, nil
	case protocol.MethodWindowLogMessage:
		var params protocol.LogMessageParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, err
		}
		c.logServerMessage(params.Type, params.Message)
		return nil, nil
	case protocol.MethodWindowShowMessage:
		var params protocol.ShowMessageParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, err
		}
		c.logServerMessage(params.Type, params.Message)
		if c.opts.Notifier != nil {
			c.opts.Notifier.ShowMessage(messageSeverity(params.Type), params.Message)
		}
		return nil, nil
	case protocol.MethodWorkspaceApplyEdit:
		var params protocol.ApplyWorkspaceEditParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, err
		}
		if err := c.opts.Edits.ApplyEdit(ctx, params.Edit); err != nil {
			c.logger.Error("apply edit failed", "label", params.Label, "err", err)
			return &protocol.ApplyWorkspaceEditResponse{Applied: false, FailureReason: err.Error()}, nil
		}
		return &protocol.ApplyWorkspaceEditResponse{Applied: true}, nil
	}
	if req.Notif {
		c.logger.Debug("ignoring server notification", "method", req.Method)
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled: " + req.Method}
}

func (c *ProcessConnection) emitTelemetry(event framework.Event) {
	c.lmu.Lock()
	listeners := make([]func(framework.Event), 0, len(c.telemetry))
	for _, fn := range c.telemetry {
		listeners = append(listeners, fn)
	}
	c.lmu.Unlock()
	for _, fn := range listeners {
		fn(event)
	}
}

func (c *ProcessConnection) emitProgress(token string, value json.RawMessage) {
	c.lmu.Lock()
	listeners := make([]func(json.RawMessage), 0, len(c.progress[token]))
	for _, fn := range c.progress[token] {
		listeners = append(listeners, fn)
	}
	c.lmu.Unlock()
	for _, fn := range listeners {
		fn(value)
	}
}

func (c *ProcessConnection) logServerMessage(kind protocol.MessageType, message string) {
	switch kind {
	case protocol.MessageTypeError:
		c.logger.Error(message)
	case protocol.MessageTypeWarning:
		c.logger.Warn(message)
	case protocol.MessageTypeInfo:
		c.logger.Info(message)
	default:
		c.logger.Debug(message)
	}
}

func messageSeverity(kind protocol.MessageType) framework.Severity {
	switch kind {
	case protocol.MessageTypeError:
		return framework.SeverityError
	case protocol.MessageTypeWarning:
		return framework.SeverityWarning
	default:
		return framework.SeverityInfo
	}
}

// tokenString normalizes a progress token, which may be a string or a number.
func tokenString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

// ExecDialer spawns the server with exec.Cmd and pipes its stdio. Server
// stderr is copied into the log at debug level.
func ExecDialer(logger *log.Logger) Dialer {
	return func(ctx context.Context, spec LaunchSpec) (io.ReadWriteCloser, Process, error) {
		cmd := exec.Command(spec.Command, spec.Args...)
		cmd.Dir = spec.Dir
		cmd.Env = spec.Environ()

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
		cmd.Stderr = logger.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}).Writer()
		if err := cmd.Start(); err != nil {
			return nil, nil, err
		}
		return &stdioReadWriteCloser{reader: stdout, writer: stdin}, execProcess{cmd}, nil
	}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Wait() error { return p.cmd.Wait() }
func (p execProcess) Kill() error { return p.cmd.Process.Kill() }

type stdioReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *stdioReadWriteCloser) Write(p []byte) (int, error) { return s.writer.Write(p) }
func (s *stdioReadWriteCloser) Close() error {
	_ = s.reader.Close()
	return s.writer.Close()
}
