package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/oliversen/chatgpt-docstrings/app/tui"
	"github.com/oliversen/chatgpt-docstrings/docstring"
	"github.com/oliversen/chatgpt-docstrings/framework"
	"github.com/oliversen/chatgpt-docstrings/internal/settings"
	"github.com/oliversen/chatgpt-docstrings/persistence"
	"github.com/oliversen/chatgpt-docstrings/server"
	"github.com/oliversen/chatgpt-docstrings/tools"
)

// outputTail is how many log lines "Open Output" shows.
const outputTail = 40

// Runtime wires the host commands to the server manager, the settings
// loader, the secret store and the terminal UI.
type Runtime struct {
	Config    Config
	Logger    *log.Logger
	Console   *tui.Console
	Status    *framework.StatusItem
	Telemetry *framework.Reporter
	Settings  *settings.Loader
	Python    *tools.Python
	Validator *tools.Validator
	Launcher  *server.Launcher
	Manager   *server.Manager
	Secrets   persistence.SecretStore
	Keys      *docstring.APIKey
	Generator *docstring.Generator
	Notifier  *tui.Notifier

	mu      sync.Mutex
	channel framework.LogLevel
	global  framework.LogLevel
	closers []io.Closer
}

// New builds a runtime without starting the server.
func New(ctx context.Context, cfg Config, console *tui.Console) (*Runtime, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if console == nil {
		console = tui.NewConsole(os.Stdin, os.Stdout)
	}
	channel, global, err := cfg.Levels()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	var out io.Writer = logFile
	if cfg.Mirror {
		out = io.MultiWriter(os.Stderr, logFile)
	}
	logger := log.NewWithOptions(out, log.Options{
		Prefix:          cfg.ServerName,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           channel.CharmLevel(),
	})

	rt := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Console: console,
		Status:  framework.NewStatusItem(cfg.ServerName),
		channel: channel,
		global:  global,
		closers: []io.Closer{logFile},
	}

	sinks := []framework.Telemetry{framework.LoggerTelemetry{Logger: logger.WithPrefix("telemetry")}}
	if fileSink, err := framework.NewJSONFileTelemetry(cfg.TelemetryPath); err != nil {
		logger.Warn("telemetry file unavailable", "path", cfg.TelemetryPath, "err", err)
	} else {
		sinks = append(sinks, fileSink)
		rt.closers = append(rt.closers, fileSink)
	}
	rt.Telemetry = framework.NewReporter(framework.MultiplexTelemetry{Sinks: sinks})

	secrets, err := openSecrets(cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Secrets = secrets
	if c, ok := secrets.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}

	folders := make([]settings.Folder, 0, len(cfg.Folders))
	for _, path := range cfg.Folders {
		folders = append(folders, settings.NewFolder(path))
	}
	rt.Python = tools.NewPython()
	rt.Settings = settings.NewLoader(cfg.GlobalSettings, folders, rt.Python)
	rt.Settings.Logger = logger.WithPrefix("settings")

	rt.Validator = &tools.Validator{
		Setting: rt.Settings.ConfiguredInterpreter,
		Root:    func() string { return rt.Settings.ProjectRoot().Path },
		Python:  rt.Python,
		Status:  rt.Status,
		Logger:  logger,
	}
	rt.Launcher = &server.Launcher{
		Paths:    server.BundlePaths(cfg.BundleDir),
		Debugger: rt.Python.DebuggerPath,
		Logger:   logger,
	}
	rt.Notifier = &tui.Notifier{Console: console}
	rt.Manager = server.NewManager(server.ManagerOptions{
		ServerID:     cfg.ServerID,
		ServerName:   cfg.ServerName,
		Version:      Version,
		Validator:    rt.Validator,
		Settings:     rt.Settings,
		Launcher:     rt.Launcher,
		Status:       rt.Status,
		Telemetry:    rt.Telemetry,
		Logger:       logger,
		Notifier:     rt.Notifier,
		ChannelLevel: channel,
		GlobalLevel:  global,
	})
	rt.Keys = &docstring.APIKey{
		Store:      secrets,
		Prompter:   &tui.Prompt{Console: console},
		Notifier:   rt.Notifier,
		Telemetry:  rt.Telemetry,
		Logger:     logger,
		ServerName: cfg.ServerName,
		OpenOutput: rt.OpenOutput,
	}
	rt.Generator = &docstring.Generator{
		Keys:       rt.Keys,
		Settings:   rt.Settings,
		Progress:   &tui.Progress{Console: console},
		Notifier:   rt.Notifier,
		Telemetry:  rt.Telemetry,
		Logger:     logger,
		ServerName: cfg.ServerName,
		OpenOutput: rt.OpenOutput,
	}

	logger.Info("runtime ready", "name", cfg.ServerName, "module", cfg.ServerID, "version", Version)
	logger.Debug("runtime config", "workspace", cfg.Workspace, "folders", cfg.Folders, "bundle", cfg.BundleDir, "secrets", cfg.SecretBackend)
	return rt, nil
}

func openSecrets(cfg Config) (persistence.SecretStore, error) {
	switch cfg.SecretBackend {
	case SecretBackendSQLite:
		store, err := persistence.NewSQLiteSecretStore(cfg.SecretPath)
		if err != nil {
			return nil, fmt.Errorf("open secret store: %w", err)
		}
		return store, nil
	default:
		store, err := persistence.NewFileSecretStore(cfg.SecretPath)
		if err != nil {
			return nil, fmt.Errorf("open secret store: %w", err)
		}
		return store, nil
	}
}

// Close releases files and stores owned by the runtime. It does not stop the
// server; call Stop first.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Restart runs a full restart sequence.
func (r *Runtime) Restart(ctx context.Context) error {
	return r.Manager.RestartServer(ctx)
}

// Stop shuts the server down.
func (r *Runtime) Stop(ctx context.Context) error {
	return r.Manager.Stop(ctx)
}

// Generate requests a docstring at sel from the running server.
func (r *Runtime) Generate(ctx context.Context, sel *docstring.Selection) error {
	return r.Generator.Generate(ctx, r.Manager.Current(), sel)
}

// SetKey prompts for a new API key.
func (r *Runtime) SetKey(ctx context.Context) bool {
	return r.Keys.Set(ctx) != ""
}

// SetLogLevel changes the output channel level, both for the client log and
// the server trace.
func (r *Runtime) SetLogLevel(ctx context.Context, value string) error {
	level, err := framework.ParseLogLevel(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.channel = level
	global := r.global
	r.mu.Unlock()
	r.Logger.SetLevel(level.CharmLevel())
	return r.Manager.SetLogLevels(ctx, level, global)
}

// TailLog returns the last n lines of the output log.
func (r *Runtime) TailLog(n int) ([]string, error) {
	f, err := os.Open(r.Config.LogPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, scanner.Err()
}

// OpenOutput prints the end of the output log.
func (r *Runtime) OpenOutput(ctx context.Context) {
	lines, err := r.TailLog(outputTail)
	if err != nil {
		r.Console.Println(fmt.Sprintf("cannot read %s: %v", r.Config.LogPath, err))
		return
	}
	r.Console.Println(fmt.Sprintf("--- %s (%s) ---", r.Config.ServerName, r.Config.LogPath))
	for _, line := range lines {
		r.Console.Println(line)
	}
}

// Watch runs the restart triggers until ctx ends, then stops the server.
// Settings changes and SIGHUP restart the server.
func (r *Runtime) Watch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	watcher := &settings.Watcher{Loader: r.Settings, Logger: r.Logger.WithPrefix("watcher")}
	g.Go(func() error {
		return watcher.Run(ctx, func(ctx context.Context, changed []string) {
			r.Logger.Info("settings changed", "keys", changed)
			if err := r.Restart(ctx); err != nil {
				r.Logger.Debug("restart skipped", "err", err)
			}
		})
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				r.Logger.Info("interpreter change signalled")
				if err := r.Restart(ctx); err != nil {
					r.Logger.Debug("restart skipped", "err", err)
				}
			}
		}
	})

	err := g.Wait()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if stopErr := r.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
