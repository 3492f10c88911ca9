package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oliversen/chatgpt-docstrings/docstring"
	"github.com/oliversen/chatgpt-docstrings/internal/runtime"
)

const sessionHelp = `Commands:
  generate path:line[:column]   generate a docstring at a position
  restart                       restart the server
  set-key                       enter a new API key
  forget-key                    remove the stored API key
  status                        show the server status
  loglevel <level>              change the output log level
  logs [n]                      print the end of the output log
  help                          show this help
  quit                          stop the server and exit`

// newSessionCmd keeps the server running and reads host commands from stdin.
// Settings changes and SIGHUP restart the server while the session is open.
func newSessionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Run the server and accept commands interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			status := rt.Console.WatchStatus(rt.Status)
			defer status.Dispose()

			if err := rt.Restart(ctx); err != nil {
				_ = rt.Close()
				return err
			}
			watched := make(chan error, 1)
			go func() { watched <- rt.Watch(ctx) }()

			s := &session{rt: rt}
			loopErr := s.loop(ctx)
			cancel()
			err = <-watched
			_ = rt.Close()
			if loopErr != nil {
				return loopErr
			}
			return err
		},
	}
}

type session struct {
	rt *runtime.Runtime
}

func (s *session) loop(ctx context.Context) error {
	console := s.rt.Console
	console.Println("Type 'help' for commands.")
	type read struct {
		line string
		err  error
	}
	reads := make(chan read, 1)
	for {
		// One read at a time, so prompts issued by a command own the input.
		go func() {
			line, err := console.ReadLine("docstrings> ")
			reads <- read{line, err}
		}()
		var line string
		var err error
		select {
		case <-ctx.Done():
			return nil
		case r := <-reads:
			line, err = r.line, r.err
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		quit, err := s.dispatch(ctx, fields[0], fields[1:])
		if err != nil {
			console.Println(err.Error())
		}
		if quit {
			return nil
		}
	}
}

func (s *session) dispatch(ctx context.Context, name string, args []string) (bool, error) {
	rt := s.rt
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		rt.Console.Println(sessionHelp)
	case "generate", "gen":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: generate path:line[:column]")
		}
		sel, err := docstring.ParseSelection(args[0])
		if err != nil {
			return false, err
		}
		if rt.Manager.Current() == nil {
			return false, fmt.Errorf("server is not running: %s", rt.Status.Current().Text)
		}
		// Failures were already reported through the notifier.
		if err := rt.Generate(ctx, sel); err != nil {
			rt.Logger.Debug("generate failed", "err", err)
		}
	case "restart":
		return false, rt.Restart(ctx)
	case "set-key":
		if rt.SetKey(ctx) {
			rt.Console.Println("API key saved.")
		}
	case "forget-key":
		return false, rt.Keys.Forget(ctx)
	case "status":
		st := rt.Status.Current()
		rt.Console.Println(fmt.Sprintf("%s [%s]", st.Text, st.Severity))
	case "loglevel":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: loglevel <off|trace|debug|info|warning|error>")
		}
		return false, rt.SetLogLevel(ctx, args[0])
	case "logs":
		n := 40
		if len(args) == 1 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return false, fmt.Errorf("logs: %w", err)
			}
			n = v
		}
		lines, err := rt.TailLog(n)
		if err != nil {
			return false, err
		}
		for _, line := range lines {
			rt.Console.Println(line)
		}
	default:
		return false, fmt.Errorf("unknown command %q, try 'help'", name)
	}
	return false, nil
}
