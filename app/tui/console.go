// Package tui renders the host side of the docstring client in a terminal:
// progress while a request runs, the API key prompt, notifications and the
// server status line.
package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// Console is the terminal shared by every UI surface. Writes are serialized
// so asynchronous server messages do not interleave with prompts.
type Console struct {
	In          io.Reader
	Out         io.Writer
	Interactive bool

	mu     sync.Mutex
	reader *bufio.Reader
}

// NewConsole wraps in and out. Bubble Tea surfaces are used only when both
// are terminals; otherwise everything degrades to plain lines.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		In:          in,
		Out:         out,
		Interactive: isTerminal(in) && isTerminal(out),
		reader:      bufio.NewReader(in),
	}
}

func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// Println writes one line.
func (c *Console) Println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.Out, line)
}

// Printf writes formatted text.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.Out, format, args...)
}

// ReadLine shows prompt and reads one line without its terminator. io.EOF is
// returned once input is exhausted.
func (c *Console) ReadLine(prompt string) (string, error) {
	if prompt != "" {
		c.Printf("%s", prompt)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Console) program(ctx context.Context, model tea.Model) *tea.Program {
	return tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(c.In),
		tea.WithOutput(c.Out),
	)
}
