package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oliversen/chatgpt-docstrings/framework"
	"github.com/oliversen/chatgpt-docstrings/internal/settings"
)

const (
	// ServerID prefixes setting keys and host command names.
	ServerID = "chatgpt-docstrings"
	// ServerName labels the status item and the output channel.
	ServerName = "ChatGPT Docstrings"

	// EnvGlobalLogLevel carries the environment wide log level.
	EnvGlobalLogLevel = "DOCSTRINGS_LOG_LEVEL"
	// EnvBundleDir overrides where the bundled server lives.
	EnvBundleDir = "DOCSTRINGS_BUNDLE_DIR"

	SecretBackendFile   = "file"
	SecretBackendSQLite = "sqlite"
)

// Version is stamped at build time.
var Version = "dev"

// Config captures every knob shared by the host commands. Paths are made
// absolute by Normalize so later code never re-checks them.
type Config struct {
	Workspace      string   `yaml:"workspace"`
	Folders        []string `yaml:"folders"`
	ServerID       string   `yaml:"server_id"`
	ServerName     string   `yaml:"server_name"`
	BundleDir      string   `yaml:"bundle_dir"`
	LogPath        string   `yaml:"log_path"`
	TelemetryPath  string   `yaml:"telemetry_path"`
	GlobalSettings string   `yaml:"global_settings"`
	SecretBackend  string   `yaml:"secret_backend"`
	SecretPath     string   `yaml:"secret_path"`
	LogLevel       string   `yaml:"log_level"`
	GlobalLogLevel string   `yaml:"-"`
	// Mirror copies the output log to stderr.
	Mirror bool `yaml:"mirror"`
}

// DefaultConfig infers defaults from the working directory and environment.
// Errors from os.Getwd are ignored so callers can override manually.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Workspace:      cwd,
		ServerID:       ServerID,
		ServerName:     ServerName,
		BundleDir:      defaultBundleDir(),
		SecretBackend:  SecretBackendFile,
		LogLevel:       "info",
		GlobalLogLevel: os.Getenv(EnvGlobalLogLevel),
	}
}

func defaultBundleDir() string {
	if dir := os.Getenv(EnvBundleDir); dir != "" {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return "bundled"
	}
	return filepath.Join(filepath.Dir(exe), "bundled")
}

// Normalize makes every path absolute and fills missing defaults.
func (c *Config) Normalize() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	absWorkspace, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = absWorkspace
	if len(c.Folders) == 0 {
		c.Folders = []string{c.Workspace}
	}
	for i, folder := range c.Folders {
		c.Folders[i] = c.abs(folder)
	}
	if c.ServerID == "" {
		c.ServerID = ServerID
	}
	if c.ServerName == "" {
		c.ServerName = ServerName
	}
	if c.BundleDir == "" {
		c.BundleDir = defaultBundleDir()
	}
	c.BundleDir = c.abs(c.BundleDir)
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.Workspace, ".docstrings", "output.log")
	}
	c.LogPath = c.abs(c.LogPath)
	if c.TelemetryPath == "" {
		c.TelemetryPath = filepath.Join(c.Workspace, ".docstrings", "telemetry.jsonl")
	}
	c.TelemetryPath = c.abs(c.TelemetryPath)
	if c.GlobalSettings == "" {
		c.GlobalSettings = settings.GlobalPath()
	}
	switch c.SecretBackend {
	case "":
		c.SecretBackend = SecretBackendFile
	case SecretBackendFile, SecretBackendSQLite:
	default:
		return fmt.Errorf("unknown secret backend %q", c.SecretBackend)
	}
	if c.SecretPath == "" {
		name := "secrets.json"
		if c.SecretBackend == SecretBackendSQLite {
			name = "secrets.db"
		}
		c.SecretPath = filepath.Join(filepath.Dir(c.GlobalSettings), name)
	}
	c.SecretPath = c.abs(c.SecretPath)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, _, err := c.Levels(); err != nil {
		return err
	}
	return nil
}

func (c *Config) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Workspace, path)
}

// Levels parses the output channel level and the global level. An unset
// global level is treated as off so the channel level alone decides.
func (c Config) Levels() (channel, global framework.LogLevel, err error) {
	channel, err = framework.ParseLogLevel(c.LogLevel)
	if err != nil {
		return 0, 0, fmt.Errorf("log level: %w", err)
	}
	if c.GlobalLogLevel == "" {
		return channel, framework.LogLevelOff, nil
	}
	global, err = framework.ParseLogLevel(c.GlobalLogLevel)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", EnvGlobalLogLevel, err)
	}
	return channel, global, nil
}

// ConfigPath is the runtime config file of a workspace.
func ConfigPath(workspace string) string {
	return filepath.Join(workspace, ".docstrings", "config.yaml")
}

// LoadConfigFile overlays values from a YAML file onto cfg. A missing file
// leaves cfg untouched.
func LoadConfigFile(path string, cfg *Config) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// SaveConfigFile persists cfg for future sessions.
func SaveConfigFile(path string, cfg Config) error {
	if path == "" {
		return fmt.Errorf("config path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
