package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/oliversen/chatgpt-docstrings/framework"
	"github.com/oliversen/chatgpt-docstrings/internal/settings"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeConn struct {
	id        int
	rec       *recorder
	live      *atomic.Int32
	overlap   *atomic.Bool
	failStart bool
	opts      ConnectionOptions

	mu        sync.Mutex
	state     LifecycleState
	trace     protocol.TraceValue
	states    map[int]func(StateChange)
	telemetry map[int]func(framework.Event)
	next      int
}

func (c *fakeConn) Start(ctx context.Context) error {
	c.rec.add("launch %d", c.id)
	c.set(StateStarting)
	time.Sleep(time.Millisecond)
	if c.failStart {
		c.set(StateStopped)
		return errors.New("spawn failed")
	}
	if c.live.Add(1) > 1 {
		c.overlap.Store(true)
	}
	c.set(StateRunning)
	return nil
}

func (c *fakeConn) Stop(ctx context.Context) error {
	c.rec.add("stop %d", c.id)
	if c.State() == StateRunning {
		c.live.Add(-1)
	}
	c.set(StateStopped)
	return nil
}

func (c *fakeConn) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) set(next LifecycleState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	var fns []func(StateChange)
	for _, fn := range c.states {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(StateChange{Old: prev, New: next})
	}
}

func (c *fakeConn) OnStateChange(fn func(StateChange)) framework.Disposable {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.states[id] = fn
	return framework.DisposeFunc(func() {
		c.mu.Lock()
		delete(c.states, id)
		c.mu.Unlock()
	})
}

func (c *fakeConn) OnTelemetry(fn func(framework.Event)) framework.Disposable {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.telemetry[id] = fn
	return framework.DisposeFunc(func() {
		c.mu.Lock()
		delete(c.telemetry, id)
		c.mu.Unlock()
	})
}

func (c *fakeConn) listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states) + len(c.telemetry)
}

func (c *fakeConn) emit(e framework.Event) {
	c.mu.Lock()
	var fns []func(framework.Event)
	for _, fn := range c.telemetry {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (c *fakeConn) OnProgress(string, func(json.RawMessage)) framework.Disposable {
	return framework.DisposeFunc(nil)
}

func (c *fakeConn) SendRequest(context.Context, string, any, any) error { return nil }

func (c *fakeConn) SendNotification(context.Context, string, any) error { return nil }

func (c *fakeConn) SetTrace(ctx context.Context, value protocol.TraceValue) error {
	c.mu.Lock()
	c.trace = value
	c.mu.Unlock()
	return nil
}

type fakeValidator struct {
	rec *recorder
	ok  atomic.Bool
}

func (v *fakeValidator) CheckInterpreter(ctx context.Context, serverID string) bool {
	v.rec.add("validate")
	time.Sleep(time.Millisecond)
	return v.ok.Load()
}

type fakeSettings struct{}

func (fakeSettings) ProjectRoot() settings.Folder { return settings.Folder{Name: "proj", Path: "/work/proj"} }

func (fakeSettings) WorkspaceFolders() []settings.Folder {
	return []settings.Folder{{Name: "proj", Path: "/work/proj"}}
}

func (fakeSettings) WorkspaceSettings(ctx context.Context, folder settings.Folder, include bool) settings.Settings {
	return settings.Settings{Cwd: folder.Path, Interpreter: []string{"/usr/bin/python3"}}
}

func (fakeSettings) InitializationOptions(ctx context.Context) settings.InitializationOptions {
	return settings.InitializationOptions{}
}

type fakeLauncher struct{}

func (fakeLauncher) Build(ctx context.Context, s settings.Settings) (LaunchSpec, error) {
	return LaunchSpec{Command: s.Interpreter[0], Dir: s.Cwd}, nil
}

type capturedTelemetry struct {
	mu     sync.Mutex
	events []framework.Event
}

func (c *capturedTelemetry) Emit(e framework.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

type harness struct {
	rec       *recorder
	validator *fakeValidator
	status    *framework.StatusItem
	telemetry *capturedTelemetry
	manager   *Manager
	live      atomic.Int32
	overlap   atomic.Bool
	failStart atomic.Bool

	mu    sync.Mutex
	conns []*fakeConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rec:       &recorder{},
		status:    framework.NewStatusItem("ChatGPT Docstrings"),
		telemetry: &capturedTelemetry{},
	}
	h.validator = &fakeValidator{rec: h.rec}
	h.validator.ok.Store(true)
	h.manager = NewManager(ManagerOptions{
		ServerID:   "chatgpt-docstrings",
		ServerName: "ChatGPT Docstrings",
		Validator:  h.validator,
		Settings:   fakeSettings{},
		Launcher:   fakeLauncher{},
		Status:     h.status,
		Telemetry:  framework.NewReporter(h.telemetry),
		NewConnection: func(opts ConnectionOptions) Connection {
			h.mu.Lock()
			defer h.mu.Unlock()
			c := &fakeConn{
				id:        len(h.conns) + 1,
				rec:       h.rec,
				live:      &h.live,
				overlap:   &h.overlap,
				failStart: h.failStart.Load(),
				opts:      opts,
				states:    map[int]func(StateChange){},
				telemetry: map[int]func(framework.Event){},
			}
			h.conns = append(h.conns, c)
			return c
		},
		ChannelLevel: framework.LogLevelDebug,
		GlobalLevel:  framework.LogLevelInfo,
	})
	return h
}

func (h *harness) conn(i int) *fakeConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[i]
}

func TestRestartServerStartsAndWires(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.RestartServer(context.Background()))

	current := h.manager.Current()
	require.NotNil(t, current)
	assert.Equal(t, StateRunning, current.State())
	assert.Equal(t, []string{"validate", "launch 1"}, h.rec.list())
	assert.Equal(t, framework.Status{Text: "ChatGPT Docstrings", Severity: framework.SeverityInfo}, h.status.Current())
	assert.Equal(t, framework.TraceMessages, h.conn(0).trace)
	assert.Equal(t, "/work/proj", h.conn(0).opts.Spec.Dir)
	assert.Equal(t, "file:///work/proj", string(h.conn(0).opts.RootURI))
}

func TestRestartServerSerializesConcurrentCalls(t *testing.T) {
	h := newHarness(t)
	const n = 8

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.manager.RestartServer(context.Background()))
		}()
	}
	wg.Wait()

	want := []string{"validate", "launch 1"}
	for i := 2; i <= n; i++ {
		want = append(want, fmt.Sprintf("stop %d", i-1), "validate", fmt.Sprintf("launch %d", i))
	}
	assert.Equal(t, want, h.rec.list())
	assert.False(t, h.overlap.Load(), "two connections were live at once")
	assert.Equal(t, int32(1), h.live.Load())

	// listeners of replaced connections are released
	for i := 0; i < n-1; i++ {
		assert.Zero(t, h.conn(i).listeners(), "connection %d leaked listeners", i+1)
	}
	assert.Equal(t, 2, h.conn(n-1).listeners())
}

func TestRestartServerValidationFailureSpawnsNothing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.RestartServer(context.Background()))

	h.validator.ok.Store(false)
	require.NoError(t, h.manager.RestartServer(context.Background()))

	assert.Equal(t, []string{"validate", "launch 1", "stop 1", "validate"}, h.rec.list())
	assert.Nil(t, h.manager.Current())
	assert.Equal(t, int32(0), h.live.Load())
	assert.Zero(t, h.conn(0).listeners())
}

func TestRestartServerStartFailure(t *testing.T) {
	h := newHarness(t)
	h.failStart.Store(true)

	require.NoError(t, h.manager.RestartServer(context.Background()))
	assert.Nil(t, h.manager.Current())
	assert.Equal(t, framework.Status{
		Text:     "ChatGPT Docstrings: Server failed to start.",
		Severity: framework.SeverityError,
	}, h.status.Current())
	assert.Zero(t, h.conn(0).listeners())
	assert.Equal(t, int32(0), h.live.Load())

	// no automatic retry
	assert.Equal(t, []string{"validate", "launch 1"}, h.rec.list())
}

func TestStateListenerUpdatesStatus(t *testing.T) {
	h := newHarness(t)
	var seen []framework.Status
	var mu sync.Mutex
	sub := h.status.Subscribe(func(s framework.Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer sub.Dispose()

	require.NoError(t, h.manager.RestartServer(context.Background()))
	require.NoError(t, h.manager.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, framework.Status{Text: "ChatGPT Docstrings: Server is starting...", Severity: framework.SeverityInfo, Busy: true}, seen[0])
	assert.Equal(t, framework.Status{Text: "ChatGPT Docstrings", Severity: framework.SeverityInfo}, seen[1])
	assert.Equal(t, framework.Status{Text: "ChatGPT Docstrings: Server is stopped.", Severity: framework.SeverityWarning}, seen[2])
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.Stop(context.Background()))

	require.NoError(t, h.manager.RestartServer(context.Background()))
	require.NoError(t, h.manager.Stop(context.Background()))
	require.NoError(t, h.manager.Stop(context.Background()))

	assert.Equal(t, []string{"validate", "launch 1", "stop 1"}, h.rec.list())
	assert.Nil(t, h.manager.Current())
}

func TestTelemetryForwarding(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.RestartServer(context.Background()))

	h.conn(0).emit(framework.Event{Type: framework.EventInfo, Name: "generate", Data: map[string]any{"ok": true}})
	h.conn(0).emit(framework.Event{Type: framework.EventError, Name: "openaiError", Data: "boom"})

	h.telemetry.mu.Lock()
	defer h.telemetry.mu.Unlock()
	require.Len(t, h.telemetry.events, 2)
	assert.Equal(t, framework.EventInfo, h.telemetry.events[0].Type)
	assert.Equal(t, "generate", h.telemetry.events[0].Name)
	assert.Equal(t, framework.EventError, h.telemetry.events[1].Type)
	assert.Equal(t, "openaiError", h.telemetry.events[1].Name)
}

func TestTelemetryDropsUnknownTypes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.RestartServer(context.Background()))

	h.conn(0).emit(framework.Event{Type: "metric", Name: "latency", Data: 12})
	h.conn(0).emit(framework.Event{Name: "untyped"})
	h.conn(0).emit(framework.Event{Type: framework.EventInfo, Name: "generate"})

	h.telemetry.mu.Lock()
	defer h.telemetry.mu.Unlock()
	require.Len(t, h.telemetry.events, 1)
	assert.Equal(t, "generate", h.telemetry.events[0].Name)
}

func TestSetLogLevelsUpdatesTrace(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.SetLogLevels(context.Background(), framework.LogLevelTrace, framework.LogLevelOff))
	require.NoError(t, h.manager.RestartServer(context.Background()))
	assert.Equal(t, protocol.TraceVerbose, h.conn(0).trace)

	require.NoError(t, h.manager.SetLogLevels(context.Background(), framework.LogLevelInfo, framework.LogLevelOff))
	assert.Equal(t, protocol.TraceOff, h.conn(0).trace)
}

func TestRestartServerHonoursContextWhileQueued(t *testing.T) {
	h := newHarness(t)
	release, err := h.manager.lock.Lock(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h.manager.RestartServer(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.rec.list())
}
