package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newLogsCmd(opts *options) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the output log",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			tail, err := rt.TailLog(lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 40, "Number of lines (0 for all)")
	return cmd
}

// newCheckCmd runs interpreter validation without starting the server.
func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the Python interpreter used to launch the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			ok := rt.Validator.CheckInterpreter(ctx, rt.Config.ServerID)
			ws := rt.Settings.WorkspaceSettings(ctx, rt.Settings.ProjectRoot(), true)
			if len(ws.Interpreter) > 0 {
				report := rt.Python.Inspect(ctx, ws.Interpreter)
				fmt.Fprintf(out, "interpreter: %s\n", strings.Join(report.Path, " "))
				if report.Version != "" {
					fmt.Fprintf(out, "version:     %s (supported: %t)\n", report.Version, report.Supported)
				}
				if report.DebuggerPath != "" {
					fmt.Fprintf(out, "debugpy:     %s\n", report.DebuggerPath)
				}
				if report.Error != "" {
					fmt.Fprintf(out, "error:       %s\n", report.Error)
				}
			}
			if !ok {
				return fmt.Errorf("%s", rt.Status.Current().Text)
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}

// newRestartCmd runs one full restart sequence and reports the outcome.
func newRestartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Validate, start and stop the server once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer shutdown(cmd.Context(), rt)
			if err := startServer(cmd.Context(), rt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: server running\n", rt.Config.ServerName)
			return nil
		},
	}
}

// newLaunchSpecCmd prints the command that would start the server.
func newLaunchSpecCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "launch-spec",
		Short: "Show how the server would be launched",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()
			ws := rt.Settings.WorkspaceSettings(ctx, rt.Settings.ProjectRoot(), true)
			spec, err := rt.Launcher.Build(ctx, ws)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(spec)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
