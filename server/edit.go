package server

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// EditApplier applies workspace edits requested by the server.
type EditApplier interface {
	ApplyEdit(ctx context.Context, edit protocol.WorkspaceEdit) error
}

// FileEditApplier writes edits straight to files on disk.
type FileEditApplier struct{}

// ApplyEdit implements EditApplier.
func (FileEditApplier) ApplyEdit(ctx context.Context, edit protocol.WorkspaceEdit) error {
	return ApplyWorkspaceEdit(ctx, edit)
}

// ApplyWorkspaceEdit applies document changes first, then plain changes.
func ApplyWorkspaceEdit(ctx context.Context, edit protocol.WorkspaceEdit) error {
	for _, change := range edit.DocumentChanges {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := applyTextEdits(change.TextDocument.URI, change.Edits); err != nil {
			return err
		}
	}
	docs := make([]string, 0, len(edit.Changes))
	for u := range edit.Changes {
		docs = append(docs, string(u))
	}
	sort.Strings(docs)
	for _, u := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := applyTextEdits(uri.URI(u), edit.Changes[uri.URI(u)]); err != nil {
			return err
		}
	}
	return nil
}

func applyTextEdits(docURI uri.URI, edits []protocol.TextEdit) error {
	path, err := filePath(docURI)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	text := string(content)
	table := scanLines(text)

	for i := range edits {
		for j := i + 1; j < len(edits); j++ {
			if rangesOverlap(edits[i].Range, edits[j].Range) {
				return fmt.Errorf("overlapping edits %d and %d in %s", i, j, path)
			}
		}
	}

	// Offsets refer to the original text; applying from the end keeps them
	// valid. Inserts at the same position keep their array order.
	order := make([]int, len(edits))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := edits[order[i]].Range.Start, edits[order[j]].Range.Start
		if a.Line != b.Line {
			return a.Line > b.Line
		}
		if a.Character != b.Character {
			return a.Character > b.Character
		}
		return order[i] > order[j]
	})

	for _, idx := range order {
		edit := edits[idx]
		start := table.offset(text, edit.Range.Start)
		end := table.offset(text, edit.Range.End)
		if end < start {
			return fmt.Errorf("%s: inverted range", path)
		}
		newText := edit.NewText
		if eol := table.terminator(int(edit.Range.Start.Line)); eol != "\n" {
			newText = strings.ReplaceAll(strings.ReplaceAll(newText, "\r\n", "\n"), "\n", eol)
		}
		text = text[:start] + newText + text[end:]
	}

	return os.WriteFile(path, []byte(text), info.Mode().Perm())
}

// lineTable records where each line starts and which terminator ends it.
// Lines break on "\r\n", "\n" and "\r", the way the server counts them.
type lineTable struct {
	starts []int
	ends   []int
	eols   []string
}

func scanLines(text string) lineTable {
	var t lineTable
	start := 0
	for i := 0; i < len(text); i++ {
		var eol string
		switch {
		case text[i] == '\r' && i+1 < len(text) && text[i+1] == '\n':
			eol = "\r\n"
		case text[i] == '\r':
			eol = "\r"
		case text[i] == '\n':
			eol = "\n"
		default:
			continue
		}
		t.starts = append(t.starts, start)
		t.ends = append(t.ends, i)
		t.eols = append(t.eols, eol)
		i += len(eol) - 1
		start = i + 1
	}
	t.starts = append(t.starts, start)
	t.ends = append(t.ends, len(text))
	t.eols = append(t.eols, "")
	return t
}

// offset converts an LSP position (UTF-16 columns) into a byte offset.
// Positions past the end of a line clamp to the line end, positions past the
// last line clamp to the end of the text.
func (t lineTable) offset(text string, pos protocol.Position) int {
	line := int(pos.Line)
	if line >= len(t.starts) {
		return len(text)
	}
	start := t.starts[line]
	return start + utf16Column(text[start:t.ends[line]], int(pos.Character))
}

// terminator returns the line ending of line, falling back to the nearest
// terminated line above it.
func (t lineTable) terminator(line int) string {
	if line >= len(t.eols) {
		line = len(t.eols) - 1
	}
	for i := line; i >= 0; i-- {
		if t.eols[i] != "" {
			return t.eols[i]
		}
	}
	return "\n"
}

func utf16Column(line string, char int) int {
	units := 0
	for i, r := range line {
		if units >= char {
			return i
		}
		if r >= 0x10000 {
			units += 2
		} else {
			units++
		}
	}
	return len(line)
}

func rangesOverlap(a, b protocol.Range) bool {
	if before(a.End, b.Start) || equal(a.End, b.Start) {
		return false
	}
	if before(b.End, a.Start) || equal(b.End, a.Start) {
		return false
	}
	return true
}

func before(a, b protocol.Position) bool {
	return a.Line < b.Line || (a.Line == b.Line && a.Character < b.Character)
}

func equal(a, b protocol.Position) bool {
	return a.Line == b.Line && a.Character == b.Character
}

// filePath converts a file URI to a path without the panic uri.Filename
// raises for other schemes.
func filePath(u uri.URI) (string, error) {
	if !strings.HasPrefix(string(u), uri.FileScheme+"://") {
		return "", fmt.Errorf("unsupported document uri %q", u)
	}
	return u.Filename(), nil
}
