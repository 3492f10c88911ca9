package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"go.lsp.dev/protocol"

	"github.com/oliversen/chatgpt-docstrings/framework"
	"github.com/oliversen/chatgpt-docstrings/internal/settings"
)

// EnvironmentChecker validates the interpreter before a start attempt.
type EnvironmentChecker interface {
	CheckInterpreter(ctx context.Context, serverID string) bool
}

// SettingsSource resolves settings fresh for every start.
type SettingsSource interface {
	ProjectRoot() settings.Folder
	WorkspaceFolders() []settings.Folder
	WorkspaceSettings(ctx context.Context, folder settings.Folder, includeInterpreter bool) settings.Settings
	InitializationOptions(ctx context.Context) settings.InitializationOptions
}

// LaunchBuilder turns settings into a launch spec.
type LaunchBuilder interface {
	Build(ctx context.Context, s settings.Settings) (LaunchSpec, error)
}

// ConnectionFactory creates an unconnected connection.
type ConnectionFactory func(opts ConnectionOptions) Connection

// ManagerOptions wires the manager to its collaborators.
type ManagerOptions struct {
	ServerID      string
	ServerName    string
	Version       string
	Validator     EnvironmentChecker
	Settings      SettingsSource
	Launcher      LaunchBuilder
	NewConnection ConnectionFactory
	Status        framework.StatusIndicator
	Telemetry     *framework.Reporter
	Logger        *log.Logger
	Notifier      MessageNotifier
	Edits         EditApplier
	ChannelLevel  framework.LogLevel
	GlobalLevel   framework.LogLevel
}

// Manager owns the single live server connection. Restarts and stops are
// serialized through a fair mutex so they never interleave.
type Manager struct {
	opts   ManagerOptions
	logger *log.Logger
	lock   *framework.AsyncMutex

	mu      sync.RWMutex
	current Connection
	channel framework.LogLevel
	global  framework.LogLevel

	// listeners registered for the lifetime of the current connection
	disposables framework.Disposables
}

// NewManager returns a manager with no running server.
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.NewConnection == nil {
		opts.NewConnection = func(o ConnectionOptions) Connection { return NewProcessConnection(o) }
	}
	return &Manager{
		opts:    opts,
		logger:  logger,
		lock:    framework.NewAsyncMutex(),
		channel: opts.ChannelLevel,
		global:  opts.GlobalLevel,
	}
}

// Current returns the running connection or nil. Callers must tolerate the
// connection disappearing right after the call.
func (m *Manager) Current() Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// RestartServer stops the current server and starts a new one. Failures are
// reported through status, logs and telemetry; the only returned error is the
// context ending before the restart could begin. Once begun a restart runs to
// completion.
func (m *Manager) RestartServer(ctx context.Context) error {
	ran := false
	for range m.lock.Locked(ctx) {
		ran = true
		m.restart(context.WithoutCancel(ctx))
	}
	if !ran {
		return fmt.Errorf("restart %s: %w", m.opts.ServerID, ctx.Err())
	}
	return nil
}

func (m *Manager) restart(ctx context.Context) {
	m.stopCurrent(ctx)

	if !m.opts.Validator.CheckInterpreter(ctx, m.opts.ServerID) {
		return
	}

	root := m.opts.Settings.ProjectRoot()
	workspace := m.opts.Settings.WorkspaceSettings(ctx, root, true)
	spec, err := m.opts.Launcher.Build(ctx, workspace)
	if err != nil {
		m.startFailed(err)
		return
	}

	folders := m.opts.Settings.WorkspaceFolders()
	wsFolders := make([]protocol.WorkspaceFolder, 0, len(folders))
	for _, f := range folders {
		wsFolders = append(wsFolders, protocol.WorkspaceFolder{URI: string(f.URI()), Name: f.Name})
	}
	conn := m.opts.NewConnection(ConnectionOptions{
		ServerID:          m.opts.ServerID,
		ServerName:        m.opts.ServerName,
		Version:           m.opts.Version,
		Spec:              spec,
		RootURI:           root.URI(),
		Folders:           wsFolders,
		InitializationOpt: m.opts.Settings.InitializationOptions(ctx),
		Logger:            m.logger,
		Notifier:          m.opts.Notifier,
		Edits:             m.opts.Edits,
	})

	m.logger.Info("Server: Start requested.")
	m.disposables.Add(conn.OnStateChange(m.onStateChange))
	if err := conn.Start(ctx); err != nil {
		m.disposables.DisposeAll()
		m.startFailed(err)
		return
	}

	m.disposables.Add(conn.OnTelemetry(m.forwardTelemetry))
	channel, global := m.levels()
	if err := conn.SetTrace(ctx, framework.TraceLevel(channel, global)); err != nil {
		m.logger.Warn("set trace failed", "err", err)
	}

	m.mu.Lock()
	m.current = conn
	m.mu.Unlock()
}

func (m *Manager) startFailed(err error) {
	m.logger.Error("Server: Start failed", "err", err)
	m.updateStatus("Server failed to start.", framework.SeverityError, false)
}

// Stop shuts the current server down. Stopping a stopped manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	release, err := m.lock.Lock(ctx)
	if err != nil {
		return fmt.Errorf("stop %s: %w", m.opts.ServerID, err)
	}
	defer release()
	m.stopCurrent(context.WithoutCancel(ctx))
	return nil
}

// stopCurrent must be called with the lock held.
func (m *Manager) stopCurrent(ctx context.Context) {
	m.mu.Lock()
	conn := m.current
	m.current = nil
	m.mu.Unlock()
	if conn == nil {
		m.disposables.DisposeAll()
		return
	}
	m.logger.Info("Server: Stop requested")
	if err := conn.Stop(ctx); err != nil {
		m.logger.Warn("server stop failed", "err", err)
	}
	m.disposables.DisposeAll()
}

// SetLogLevels records new output and global levels and pushes the derived
// trace to the running server.
func (m *Manager) SetLogLevels(ctx context.Context, channel, global framework.LogLevel) error {
	m.mu.Lock()
	m.channel, m.global = channel, global
	conn := m.current
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.SetTrace(ctx, framework.TraceLevel(channel, global))
}

func (m *Manager) levels() (framework.LogLevel, framework.LogLevel) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channel, m.global
}

func (m *Manager) onStateChange(e StateChange) {
	switch e.New {
	case StateStopped:
		m.logger.Debug("Server State: Stopped")
		m.updateStatus("Server is stopped.", framework.SeverityWarning, false)
	case StateStarting:
		m.logger.Debug("Server State: Starting")
		m.updateStatus("Server is starting...", framework.SeverityInfo, true)
	case StateRunning:
		m.logger.Debug("Server State: Running")
		m.updateStatus("", framework.SeverityInfo, false)
	}
}

func (m *Manager) forwardTelemetry(e framework.Event) {
	switch e.Type {
	case framework.EventInfo:
		m.opts.Telemetry.SendInfo(e.Name, e.Data)
	case framework.EventError:
		m.opts.Telemetry.SendError(e.Name, e.Data)
	default:
		m.logger.Debug("dropping telemetry event", "type", e.Type, "name", e.Name)
	}
}

func (m *Manager) updateStatus(msg string, severity framework.Severity, busy bool) {
	if m.opts.Status != nil {
		m.opts.Status.UpdateStatus(msg, severity, busy)
	}
}
