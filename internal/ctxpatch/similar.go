package ctxpatch

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kvit-s/kvit-patch/internal/patcherr"
)

const (
	previewLines  = 8
	headLines     = 10
	maxPreviewLen = 200
)

// similarLine is the file line that best resembles a sought line
type similarLine struct {
	Number int // 1-based
	Text   string
	Ratio  float64
}

// mostSimilarLine ranks file lines against want by character-level
// SequenceMatcher ratio.
func mostSimilarLine(lines []string, want string) (similarLine, bool) {
	want = strings.TrimSpace(want)
	if want == "" {
		return similarLine{}, false
	}
	wantChars := strings.Split(want, "")

	var best similarLine
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := difflib.NewMatcher(wantChars, strings.Split(trimmed, ""))
		if m.QuickRatio() <= best.Ratio {
			continue
		}
		if r := m.Ratio(); r > best.Ratio {
			best = similarLine{Number: i + 1, Text: line, Ratio: r}
		}
	}
	return best, best.Number > 0
}

// notFound builds the LOCATION_NOT_FOUND error for a hunk, carrying what was
// sought, the head of the file and the closest line.
func notFound(lines []string, h Hunk, index int) *patcherr.Error {
	sought := append(append([]string(nil), h.Context...), h.Deletions...)
	if len(sought) == 0 {
		sought = h.Additions
	}

	details := map[string]any{
		"hunk":      index + 1,
		"sought":    preview(sought, previewLines),
		"file_head": preview(lines, headLines),
	}
	if h.Marker != "" {
		details["marker"] = h.Marker
	}

	msg := fmt.Sprintf("hunk %d: could not locate", index+1)
	switch {
	case len(h.Context) > 0:
		msg += fmt.Sprintf(" context starting %q", truncate(h.Context[0]))
	case len(h.Deletions) > 0:
		msg += fmt.Sprintf(" lines to remove starting %q", truncate(h.Deletions[0]))
	default:
		msg += " an insertion point for a pure addition"
	}

	for _, s := range sought {
		if sim, ok := mostSimilarLine(lines, s); ok {
			details["similar_line"] = sim.Number
			details["similar_to"] = s
			details["similar_text"] = sim.Text
			details["similarity"] = fmt.Sprintf("%.0f%%", sim.Ratio*100)
			msg += fmt.Sprintf("; closest line %d: %q", sim.Number, truncate(sim.Text))
			break
		}
	}

	return patcherr.WithDetails(patcherr.LocationNotFound, msg, details)
}

func preview(lines []string, n int) string {
	var b strings.Builder
	for i, line := range lines {
		if i == n {
			fmt.Fprintf(&b, "... (%d more lines)\n", len(lines)-n)
			break
		}
		b.WriteString(truncate(line))
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func truncate(s string) string {
	if len(s) <= maxPreviewLen {
		return s
	}
	return s[:maxPreviewLen] + "..."
}
