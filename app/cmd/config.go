package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oliversen/chatgpt-docstrings/internal/runtime"
	"github.com/oliversen/chatgpt-docstrings/internal/settings"
)

// newConfigCmd registers subcommands that inspect or mutate settings files.
func newConfigCmd(opts *options) *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or modify extension settings",
	}
	cmd.PersistentFlags().BoolVar(&global, "global", false, "Use the user settings file instead of the workspace folder")
	cmd.AddCommand(
		newConfigInitCmd(opts, &global),
		newConfigGetCmd(opts, &global),
		newConfigSetCmd(opts, &global),
		newConfigSaveCmd(opts),
	)
	return cmd
}

// newConfigInitCmd writes a starter settings file.
func newConfigInitCmd(opts *options, global *bool) *cobra.Command {
	var interpreter []string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a settings file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := settingsStore(opts.cfg, *global)
			created, err := store.Init(interpreter)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", store.Path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", store.Path)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&interpreter, "interpreter", nil, "Interpreter command to pin")
	return cmd
}

// newConfigGetCmd prints the value referenced by a dotted key.
func newConfigGetCmd(opts *options, global *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Read a setting by dotted key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := settingsKey(args[0])
			value, ok, err := settingsStore(opts.cfg, *global).Get(key)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key %s not found", key)
			}
			fmt.Fprintln(cmd.OutOrStdout(), settings.PrettyValue(value))
			return nil
		},
	}
}

// newConfigSetCmd updates a dotted key with the provided value.
func newConfigSetCmd(opts *options, global *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Update a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := settingsKey(args[0])
			if err := settingsStore(opts.cfg, *global).Set(key, settings.ParseValue(key, args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", key)
			return nil
		},
	}
}

// newConfigSaveCmd persists the resolved runtime flags for later runs.
func newConfigSaveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Save the current runtime flags to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfgFile
			if path == "" {
				path = runtime.ConfigPath(opts.cfg.Workspace)
			}
			if err := runtime.SaveConfigFile(path, opts.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			return nil
		},
	}
}
