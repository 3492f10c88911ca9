package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oliversen/chatgpt-docstrings/app/tui"
	"github.com/oliversen/chatgpt-docstrings/internal/runtime"
	"github.com/oliversen/chatgpt-docstrings/internal/settings"
)

// stopTimeout bounds the final shutdown of a command.
const stopTimeout = 10 * time.Second

// openRuntime builds a runtime bound to the command's streams.
func openRuntime(cmd *cobra.Command, opts *options) (*runtime.Runtime, error) {
	console := tui.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())
	return runtime.New(cmd.Context(), opts.cfg, console)
}

// startServer restarts the server and reports the status text when it did
// not come up.
func startServer(ctx context.Context, rt *runtime.Runtime) error {
	if err := rt.Restart(ctx); err != nil {
		return err
	}
	if rt.Manager.Current() == nil {
		return fmt.Errorf("%s (see %s)", rt.Status.Current().Text, rt.Config.LogPath)
	}
	return nil
}

// shutdown stops the server even when ctx is already cancelled.
func shutdown(ctx context.Context, rt *runtime.Runtime) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := rt.Stop(stopCtx); err != nil {
		rt.Logger.Warn("stop failed", "err", err)
	}
	_ = rt.Close()
}

// settingsKey qualifies bare keys with the extension namespace.
func settingsKey(key string) string {
	if strings.Contains(key, ".") {
		return key
	}
	return settings.Namespace + "." + key
}

// settingsStore picks the user or the workspace folder settings file.
func settingsStore(cfg runtime.Config, global bool) settings.Store {
	if global {
		return settings.Store{Path: cfg.GlobalSettings}
	}
	return settings.Store{Path: settings.NewFolder(cfg.Folders[0]).SettingsPath()}
}
