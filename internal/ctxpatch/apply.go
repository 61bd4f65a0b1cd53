package ctxpatch

import (
	"fmt"

	"github.com/kvit-s/kvit-patch/internal/filekind"
	"github.com/kvit-s/kvit-patch/internal/patcherr"
	"github.com/kvit-s/kvit-patch/internal/textdiff"
)

// Result is the outcome of applying one file block
type Result struct {
	Content    string
	Deleted    bool
	Strategies []Strategy // one per applied Update hunk
}

// ApplyUpdate applies hunks in order to content. Each hunk sees the buffer
// left by the previous one. On any failure content is returned unchanged
// together with the error.
func ApplyUpdate(path, content string, hunks []Hunk, opts Options) (string, []Strategy, error) {
	seq := textdiff.SplitLines(content)
	loc := &locator{
		lines: append([]string(nil), seq.Lines...),
		kind:  filekind.KindOf(path),
		opts:  opts,
	}

	strategies := make([]Strategy, 0, len(hunks))
	for i, h := range hunks {
		if len(h.Deletions) == 0 && len(h.Additions) == 0 {
			continue
		}

		pos, strategy, ok := loc.locate(h)
		if !ok {
			return content, nil, notFound(loc.lines, h, i).WithPath(path)
		}
		if pos+len(h.Deletions) > len(loc.lines) {
			return content, nil, patcherr.WithDetails(patcherr.DeleteMismatch,
				fmt.Sprintf("hunk %d: %d lines to remove at line %d run past end of file", i+1, len(h.Deletions), pos+1),
				map[string]any{"hunk": i + 1, "line": pos + 1}).WithPath(path)
		}

		next := make([]string, 0, len(loc.lines)-len(h.Deletions)+len(h.Additions))
		next = append(next, loc.lines[:pos]...)
		next = append(next, h.Additions...)
		next = append(next, loc.lines[pos+len(h.Deletions):]...)
		loc.lines = next
		loc.cursor = pos + len(h.Additions)

		strategies = append(strategies, strategy)
	}

	seq.Lines = loc.lines
	if content == "" {
		seq.TrailingNewline = true
	}
	return seq.Join(), strategies, nil
}

// ApplyFile applies one parsed block to the file's current content. exists
// reports whether the path is present in the working set.
func ApplyFile(fp FilePatch, current string, exists bool, opts Options) (Result, error) {
	if fp.ParseErr != nil {
		return Result{}, fp.ParseErr
	}

	switch fp.Action {
	case Add:
		return Result{Content: fp.Content()}, nil
	case Delete:
		if !exists {
			return Result{}, patcherr.New(patcherr.FileNotFound, "cannot delete a file that does not exist").WithPath(fp.Path)
		}
		return Result{Deleted: true}, nil
	case Update:
		if !exists {
			return Result{}, patcherr.New(patcherr.FileNotFound, "cannot update a file that does not exist; use Add File").WithPath(fp.Path)
		}
		content, strategies, err := ApplyUpdate(fp.Path, current, fp.Hunks, opts)
		if err != nil {
			return Result{}, err
		}
		return Result{Content: content, Strategies: strategies}, nil
	default:
		return Result{}, patcherr.Newf(patcherr.UnknownSign, "unknown file action %q", fp.Action).WithPath(fp.Path)
	}
}
