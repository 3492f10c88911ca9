package docstring

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/oliversen/chatgpt-docstrings/framework"
	"github.com/oliversen/chatgpt-docstrings/internal/settings"
	"github.com/oliversen/chatgpt-docstrings/server"
)

type sentMessage struct {
	method string
	params json.RawMessage
}

type fakeConn struct {
	mu       sync.Mutex
	progress map[string]map[int]func(json.RawMessage)
	next     int
	requests []sentMessage
	notes    []sentMessage

	stopped bool
	started chan struct{}
	respond func(ctx context.Context, c *fakeConn, params *protocol.ExecuteCommandParams, result any) error
}

func newFakeConn(respond func(ctx context.Context, c *fakeConn, params *protocol.ExecuteCommandParams, result any) error) *fakeConn {
	return &fakeConn{
		progress: map[string]map[int]func(json.RawMessage){},
		started:  make(chan struct{}, 1),
		respond:  respond,
	}
}

func (c *fakeConn) Start(context.Context) error   { return nil }
func (c *fakeConn) Stop(context.Context) error    { return nil }
func (c *fakeConn) State() server.LifecycleState {
	if c.stopped {
		return server.StateStopped
	}
	return server.StateRunning
}

func (c *fakeConn) OnStateChange(func(server.StateChange)) framework.Disposable {
	return framework.DisposeFunc(nil)
}

func (c *fakeConn) OnTelemetry(func(framework.Event)) framework.Disposable {
	return framework.DisposeFunc(nil)
}

func (c *fakeConn) OnProgress(token string, fn func(json.RawMessage)) framework.Disposable {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	if c.progress[token] == nil {
		c.progress[token] = map[int]func(json.RawMessage){}
	}
	c.progress[token][id] = fn
	return framework.DisposeFunc(func() {
		c.mu.Lock()
		delete(c.progress[token], id)
		if len(c.progress[token]) == 0 {
			delete(c.progress, token)
		}
		c.mu.Unlock()
	})
}

func (c *fakeConn) emitProgress(token, value string) {
	c.mu.Lock()
	var fns []func(json.RawMessage)
	for _, fn := range c.progress[token] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(json.RawMessage(value))
	}
}

func (c *fakeConn) listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, fns := range c.progress {
		n += len(fns)
	}
	return n
}

func (c *fakeConn) SendRequest(ctx context.Context, method string, params, result any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.requests = append(c.requests, sentMessage{method: method, params: data})
	c.mu.Unlock()
	c.started <- struct{}{}
	return c.respond(ctx, c, params.(*protocol.ExecuteCommandParams), result)
}

func (c *fakeConn) SendNotification(ctx context.Context, method string, params any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.notes = append(c.notes, sentMessage{method: method, params: data})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) notifications() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.notes...)
}

func (c *fakeConn) SetTrace(context.Context, protocol.TraceValue) error { return nil }

type staticKey string

func (k staticKey) Get(context.Context) string { return string(k) }

type staticSettings struct {
	modal bool
}

func (s staticSettings) ProjectRoot() settings.Folder { return settings.NewFolder("/work/proj") }

func (s staticSettings) WorkspaceSettings(context.Context, settings.Folder, bool) settings.Settings {
	return settings.Settings{ShowProgressNotification: s.modal}
}

// fakeProgress runs the task inline. When cancelAfterStart is set it cancels
// as soon as the request reaches the connection.
type fakeProgress struct {
	conn             *fakeConn
	cancelAfterStart bool

	mu      sync.Mutex
	opts    []ProgressOptions
	reports []ProgressReport
}

func (p *fakeProgress) WithProgress(ctx context.Context, opts ProgressOptions, task func(context.Context, func(ProgressReport)) error) error {
	p.mu.Lock()
	p.opts = append(p.opts, opts)
	p.mu.Unlock()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if p.cancelAfterStart {
		go func() {
			<-p.conn.started
			cancel(ErrCancelled)
		}()
	}
	return task(ctx, func(r ProgressReport) {
		p.mu.Lock()
		p.reports = append(p.reports, r)
		p.mu.Unlock()
	})
}

type notice struct {
	severity framework.Severity
	message  string
	actions  []string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
	choose  string
}

func (n *fakeNotifier) Notify(ctx context.Context, severity framework.Severity, message string, actions ...string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{severity: severity, message: message, actions: actions})
	return n.choose
}

type memoryTelemetry struct {
	mu     sync.Mutex
	events []framework.Event
}

func (m *memoryTelemetry) Emit(e framework.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *memoryTelemetry) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Name)
	}
	return out
}

type generatorFixture struct {
	gen       *Generator
	conn      *fakeConn
	progress  *fakeProgress
	notifier  *fakeNotifier
	telemetry *memoryTelemetry
	opened    int
}

func newGeneratorFixture(conn *fakeConn, key string) *generatorFixture {
	f := &generatorFixture{
		conn:      conn,
		progress:  &fakeProgress{conn: conn},
		notifier:  &fakeNotifier{},
		telemetry: &memoryTelemetry{},
	}
	f.gen = &Generator{
		Keys:       staticKey(key),
		Settings:   staticSettings{modal: true},
		Progress:   f.progress,
		Notifier:   f.notifier,
		Telemetry:  framework.NewReporter(f.telemetry),
		ServerName: "ChatGPT Docstrings",
		OpenOutput: func(context.Context) { f.opened++ },
		NewToken:   func() string { return "tok-1" },
	}
	return f
}

func selection() *Selection {
	return &Selection{URI: uri.File("/work/proj/mod.py"), Position: protocol.Position{Line: 3, Character: 4}}
}

func TestGenerateSendsCommandAndRelaysProgress(t *testing.T) {
	conn := newFakeConn(func(ctx context.Context, c *fakeConn, params *protocol.ExecuteCommandParams, result any) error {
		c.emitProgress("tok-1", `{"kind":"report","message":"Waiting for response","percentage":50}`)
		c.emitProgress("other", `{"kind":"report","message":"not mine"}`)
		*(result.(*bool)) = true
		return nil
	})
	f := newGeneratorFixture(conn, "sk-test")

	require.NoError(t, f.gen.Generate(context.Background(), conn, selection()))

	require.Len(t, conn.requests, 1)
	assert.Equal(t, protocol.MethodWorkspaceExecuteCommand, conn.requests[0].method)
	assert.JSONEq(t, `{
		"command": "chatgpt-docstrings.applyGenerate",
		"arguments": [
			{"textDocument": {"uri": "file:///work/proj/mod.py"}, "position": {"line": 3, "character": 4}},
			"sk-test",
			"tok-1"
		]
	}`, string(conn.requests[0].params))

	require.Len(t, f.progress.opts, 1)
	assert.Equal(t, ProgressOptions{Title: "Generating docstring...", Modal: true, Cancellable: true}, f.progress.opts[0])
	require.Len(t, f.progress.reports, 1)
	assert.Equal(t, "Waiting for response", f.progress.reports[0].Message)
	require.NotNil(t, f.progress.reports[0].Percentage)
	assert.Equal(t, 50, *f.progress.reports[0].Percentage)

	assert.Zero(t, conn.listeners())
	assert.Empty(t, f.telemetry.names())
	assert.Empty(t, f.notifier.notices)
}

func TestGenerateCancelCleansUp(t *testing.T) {
	conn := newFakeConn(func(ctx context.Context, c *fakeConn, params *protocol.ExecuteCommandParams, result any) error {
		<-ctx.Done()
		return ctx.Err()
	})
	f := newGeneratorFixture(conn, "sk-test")
	f.progress.cancelAfterStart = true

	require.NoError(t, f.gen.Generate(context.Background(), conn, selection()))

	assert.Zero(t, conn.listeners())
	assert.Empty(t, f.telemetry.names())
	assert.Empty(t, f.notifier.notices)
	assert.Eventually(t, func() bool {
		notes := conn.notifications()
		return len(notes) == 1 &&
			notes[0].method == protocol.MethodWorkDoneProgressCancel &&
			string(notes[0].params) == `{"token":"tok-1"}`
	}, time.Second, 5*time.Millisecond)
}

func TestGenerateFailureIsReported(t *testing.T) {
	conn := newFakeConn(func(context.Context, *fakeConn, *protocol.ExecuteCommandParams, any) error {
		return errors.New("openai: 401 unauthorized")
	})
	f := newGeneratorFixture(conn, "sk-test")
	f.notifier.choose = ActionOpenOutput

	err := f.gen.Generate(context.Background(), conn, selection())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	assert.Equal(t, []string{"generateDocstringError"}, f.telemetry.names())
	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, notice{
		severity: framework.SeverityError,
		message:  "Failed to generate docstring! See 'ChatGPT Docstrings' output channel for details.",
		actions:  []string{ActionOpenOutput},
	}, f.notifier.notices[0])
	assert.Equal(t, 1, f.opened)
	assert.Zero(t, conn.listeners())
	assert.Empty(t, conn.notifications())
}

func TestGenerateNothingToDo(t *testing.T) {
	conn := newFakeConn(func(context.Context, *fakeConn, *protocol.ExecuteCommandParams, any) error {
		t.Fatal("request must not be sent")
		return nil
	})

	f := newGeneratorFixture(conn, "sk-test")
	assert.NoError(t, f.gen.Generate(context.Background(), nil, selection()))
	assert.NoError(t, f.gen.Generate(context.Background(), conn, nil))

	noKey := newGeneratorFixture(conn, "")
	assert.NoError(t, noKey.gen.Generate(context.Background(), conn, selection()))

	assert.Empty(t, conn.requests)
	assert.Empty(t, f.progress.opts)
	assert.Empty(t, noKey.progress.opts)
}

type promptingKey struct{ calls int }

func (k *promptingKey) Get(context.Context) string {
	k.calls++
	return "sk-test"
}

func TestGenerateSkipsDeadConnection(t *testing.T) {
	conn := newFakeConn(func(context.Context, *fakeConn, *protocol.ExecuteCommandParams, any) error {
		t.Fatal("request must not be sent")
		return nil
	})
	conn.stopped = true

	f := newGeneratorFixture(conn, "")
	keys := &promptingKey{}
	f.gen.Keys = keys
	assert.NoError(t, f.gen.Generate(context.Background(), conn, selection()))

	assert.Zero(t, keys.calls)
	assert.Empty(t, conn.requests)
	assert.Empty(t, f.notifier.notices)
	assert.Empty(t, f.progress.opts)
	assert.Empty(t, f.telemetry.names())
}

func TestParseSelection(t *testing.T) {
	sel, err := ParseSelection("/work/proj/mod.py:4:5")
	require.NoError(t, err)
	assert.Equal(t, uri.File("/work/proj/mod.py"), sel.URI)
	assert.Equal(t, protocol.Position{Line: 3, Character: 4}, sel.Position)

	sel, err = ParseSelection("/work/proj/mod.py:10")
	require.NoError(t, err)
	assert.Equal(t, protocol.Position{Line: 9, Character: 0}, sel.Position)

	_, err = ParseSelection("/work/proj/mod.py")
	assert.Error(t, err)
	_, err = ParseSelection("/work/proj/mod.py:0")
	assert.Error(t, err)
}
