package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oliversen/chatgpt-docstrings/internal/runtime"
)

// options carries the persistent flags shared by every subcommand.
type options struct {
	cfgFile string
	flags   runtime.Config
	cfg     runtime.Config
}

// Execute is the entry point for the CLI.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	opts := &options{flags: runtime.DefaultConfig()}
	root := &cobra.Command{
		Use:           "docstrings",
		Short:         "Supervise the ChatGPT Docstrings language server",
		Version:       runtime.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.flags.Workspace, "workspace", opts.flags.Workspace, "Workspace directory")
	pf.StringSliceVar(&opts.flags.Folders, "folder", nil, "Workspace folder (repeatable, defaults to the workspace)")
	pf.StringVar(&opts.cfgFile, "config", "", "Path to the runtime config file")
	pf.StringVar(&opts.flags.LogLevel, "log-level", opts.flags.LogLevel, "Output channel log level (off, trace, debug, info, warning, error)")
	pf.StringVar(&opts.flags.GlobalSettings, "settings", "", "User settings file")
	pf.StringVar(&opts.flags.SecretBackend, "secret-backend", opts.flags.SecretBackend, "Secret storage backend (file or sqlite)")
	pf.StringVar(&opts.flags.BundleDir, "bundle-dir", opts.flags.BundleDir, "Directory holding the bundled server")
	pf.BoolVar(&opts.flags.Mirror, "mirror", false, "Copy the output log to stderr")

	root.AddCommand(
		newSessionCmd(opts),
		newGenerateCmd(opts),
		newRestartCmd(opts),
		newSetKeyCmd(opts),
		newForgetKeyCmd(opts),
		newLogsCmd(opts),
		newCheckCmd(opts),
		newLaunchSpecCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// resolve layers the config file under explicitly set flags.
func (o *options) resolve(cmd *cobra.Command) error {
	cfg := runtime.DefaultConfig()
	if o.flags.Workspace != "" {
		cfg.Workspace = o.flags.Workspace
	}
	path := o.cfgFile
	if path == "" {
		path = runtime.ConfigPath(cfg.Workspace)
	}
	if err := runtime.LoadConfigFile(path, &cfg); err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("workspace") {
		cfg.Workspace = o.flags.Workspace
	}
	if flags.Changed("folder") {
		cfg.Folders = o.flags.Folders
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.flags.LogLevel
	}
	if flags.Changed("settings") {
		cfg.GlobalSettings = o.flags.GlobalSettings
	}
	if flags.Changed("secret-backend") {
		cfg.SecretBackend = o.flags.SecretBackend
	}
	if flags.Changed("bundle-dir") {
		cfg.BundleDir = o.flags.BundleDir
	}
	if flags.Changed("mirror") {
		cfg.Mirror = o.flags.Mirror
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}
