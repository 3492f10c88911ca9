package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oliversen/chatgpt-docstrings/docstring"
)

// newGenerateCmd starts the server, requests one docstring and stops again.
func newGenerateCmd(opts *options) *cobra.Command {
	var file string
	var line, character int

	cmd := &cobra.Command{
		Use:   "generate [path:line[:column]]",
		Short: "Generate a docstring for the function at a position",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := selectionFromArgs(args, file, line, character)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer shutdown(cmd.Context(), rt)
			if err := startServer(cmd.Context(), rt); err != nil {
				return err
			}
			return rt.Generate(cmd.Context(), sel)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Python source file")
	cmd.Flags().IntVar(&line, "line", 0, "Line of the function (1-based)")
	cmd.Flags().IntVar(&character, "character", 1, "Column on the line (1-based)")
	return cmd
}

func selectionFromArgs(args []string, file string, line, character int) (*docstring.Selection, error) {
	if len(args) == 1 {
		return docstring.ParseSelection(args[0])
	}
	if file == "" || line < 1 {
		return nil, fmt.Errorf("a position is required: path:line[:column] or --file and --line")
	}
	return docstring.NewSelection(file, line, character)
}
