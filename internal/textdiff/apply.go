package textdiff

import (
	"fmt"
	"strings"

	"github.com/kvit-s/kvit-patch/internal/patcherr"
)

// mismatchWindow is the number of original lines shown on each side of a
// mismatching line in error details.
const mismatchWindow = 2

// Apply replays the hunks of d against original. Context and removed lines
// must match the original exactly at their position. The result uses the
// original's line ending.
func Apply(original string, d UnifiedDiff) (string, error) {
	seq := SplitLines(original)
	orig := seq.Lines

	out := make([]string, 0, len(orig))
	cursor := 0
	trailing := seq.TrailingNewline || len(orig) == 0

	for hi, h := range d.Hunks {
		start := h.OldStart - 1
		if h.OldCount == 0 {
			start = h.OldStart
		}
		if start < 0 {
			start = 0
		}
		if start > len(orig) {
			if h.OldCount > 0 {
				return "", patcherr.WithDetails(patcherr.ContextMismatch,
					fmt.Sprintf("hunk %d starts at line %d past end of file (%d lines)", hi+1, h.OldStart, len(orig)),
					map[string]any{"hunk": hi + 1, "file_lines": len(orig)})
			}
			start = len(orig)
		}
		if start < cursor {
			return "", patcherr.WithDetails(patcherr.OverlapHunks,
				fmt.Sprintf("hunk %d starts at line %d, before the end of the previous hunk (line %d)", hi+1, start+1, cursor),
				map[string]any{"hunk": hi + 1})
		}

		out = append(out, orig[cursor:start]...)
		cursor = start

		for _, l := range h.Lines {
			switch l.Sign {
			case SignContext:
				if err := expectLine(orig, cursor, l.Text, patcherr.ContextMismatch, hi); err != nil {
					return "", err
				}
				out = append(out, orig[cursor])
				cursor++
			case SignRemove:
				if err := expectLine(orig, cursor, l.Text, patcherr.DeleteMismatch, hi); err != nil {
					return "", err
				}
				cursor++
			case SignAdd:
				out = append(out, l.Text)
			default:
				return "", patcherr.WithDetails(patcherr.UnknownSign,
					fmt.Sprintf("hunk %d: unknown line sign %q", hi+1, byte(l.Sign)),
					map[string]any{"hunk": hi + 1, "text": l.Text})
			}
		}

		if h.OldNoEOL {
			trailing = true
		}
		if h.NewNoEOL {
			trailing = false
		}
	}

	out = append(out, orig[cursor:]...)
	result := LineSequence{Lines: out, EOL: seq.EOL, TrailingNewline: trailing}
	return result.Join(), nil
}

func expectLine(orig []string, idx int, want string, kind patcherr.Kind, hunk int) error {
	what := "context"
	if kind == patcherr.DeleteMismatch {
		what = "deleted"
	}
	if idx >= len(orig) {
		return patcherr.WithDetails(kind,
			fmt.Sprintf("hunk %d: %s line %q expected at line %d, past end of file", hunk+1, what, want, idx+1),
			map[string]any{
				"hunk":     hunk + 1,
				"line":     idx + 1,
				"expected": want,
				"actual":   nil,
				"window":   window(orig, idx),
			})
	}
	if orig[idx] == want {
		return nil
	}
	return patcherr.WithDetails(kind,
		fmt.Sprintf("hunk %d: %s line %d: expected %q, found %q", hunk+1, what, idx+1, want, orig[idx]),
		map[string]any{
			"hunk":     hunk + 1,
			"line":     idx + 1,
			"expected": want,
			"actual":   orig[idx],
			"window":   window(orig, idx),
		})
}

// window renders the original lines around idx with 1-based numbers
func window(orig []string, idx int) string {
	start := max(idx-mismatchWindow, 0)
	end := min(idx+mismatchWindow+1, len(orig))
	var b strings.Builder
	for i := start; i < end; i++ {
		marker := " "
		if i == idx {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s%4d| %s\n", marker, i+1, orig[i])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// ApplyText parses diffText, repairing a missing hunk header when headers
// are present, and applies it to original. path is used when the diff has
// no headers of its own.
func ApplyText(original, diffText, path string) (string, error) {
	if !Check(diffText).HasHeaders {
		diffText = fmt.Sprintf("--- a/%s\n+++ b/%s\n%s", path, path, diffText)
	}
	if repaired, ok := Repair(diffText); ok {
		diffText = repaired
	}
	if err := Validate(diffText); err != nil {
		return "", err
	}
	d, err := Parse(diffText)
	if err != nil {
		return "", err
	}
	return Apply(original, d)
}
