package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSetKeyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Prompt for a new OpenAI API key and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			if !rt.SetKey(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), "API key unchanged.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key saved.")
			return nil
		},
	}
}

func newForgetKeyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "forget-key",
		Short: "Remove the stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Keys.Forget(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
			return nil
		},
	}
}
