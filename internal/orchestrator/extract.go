package orchestrator

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/kvit-s/kvit-patch/internal/ctxpatch"
)

// Dialect is the patch format found in model output
type Dialect string

const (
	DialectNone    Dialect = "none"
	DialectUnified Dialect = "unified"
	DialectContext Dialect = "context"
)

var (
	headerPairRegex = regexp.MustCompile(`(?m)^--- (a/|/dev/null).*\n\+\+\+ (b/|/dev/null)`)
	hunkStartRegex  = regexp.MustCompile(`(?m)^@@ -\d`)
	fenceOpenRegex  = regexp.MustCompile("^\\s*```+\\s*(\\w*)")
	fenceLineRegex  = regexp.MustCompile("(?m)^\\s*```+.*$")
)

var markdown = goldmark.New()

// extraction is a patch body and the prose that precedes it
type extraction struct {
	Dialect     Dialect
	Body        string
	Explanation string
}

// extract finds the patch in free-form model output
func extract(raw string) extraction {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	if ctxpatch.HasMarkers(raw) {
		idx := ctxpatch.MarkerIndex(raw)
		return extraction{
			Dialect:     DialectContext,
			Body:        raw[idx:],
			Explanation: explanation(raw[:idx]),
		}
	}

	if body, start, ok := fencedDiff(raw); ok {
		return extraction{Dialect: DialectUnified, Body: body, Explanation: explanation(raw[:start])}
	}

	if loc := headerPairRegex.FindStringIndex(raw); loc != nil {
		return extraction{Dialect: DialectUnified, Body: raw, Explanation: explanation(raw[:loc[0]])}
	}

	if loc := hunkStartRegex.FindStringIndex(raw); loc != nil {
		return extraction{Dialect: DialectUnified, Body: raw, Explanation: explanation(raw[:loc[0]])}
	}

	if body := diffLines(raw); body != "" {
		return extraction{Dialect: DialectUnified, Body: body}
	}

	return extraction{Dialect: DialectNone, Explanation: strings.TrimSpace(raw)}
}

// fencedDiff returns the body of the first code block labelled diff or
// patch and the offset where its fence starts.
func fencedDiff(raw string) (string, int, bool) {
	source := []byte(raw)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var body string
	start := -1
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || start >= 0 {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok || !isDiffLabel(string(block.Language(source))) {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		body = b.String()
		start = fenceStart(raw, block)
		return ast.WalkStop, nil
	})
	if start >= 0 {
		return trimBlankLines(body), start, true
	}

	return scanFences(raw)
}

// fenceStart finds the offset of the opening fence line of block
func fenceStart(raw string, block *ast.FencedCodeBlock) int {
	if block.Info != nil {
		seg := block.Info.Segment
		return strings.LastIndex(raw[:seg.Start], "\n") + 1
	}
	if block.Lines().Len() > 0 {
		first := block.Lines().At(0).Start
		if first > 0 {
			return strings.LastIndex(raw[:first-1], "\n") + 1
		}
	}
	return 0
}

// scanFences is a line scanner for labelled fences the markdown parser does
// not report, such as fences indented past a code-block boundary.
func scanFences(raw string) (string, int, bool) {
	lines := strings.SplitAfter(raw, "\n")
	offset := 0
	for i, line := range lines {
		m := fenceOpenRegex.FindStringSubmatch(line)
		if m == nil || !isDiffLabel(m[1]) {
			offset += len(line)
			continue
		}
		var b strings.Builder
		for _, inner := range lines[i+1:] {
			if strings.HasPrefix(strings.TrimSpace(inner), "```") {
				break
			}
			b.WriteString(inner)
		}
		return trimBlankLines(b.String()), offset, true
	}
	return "", 0, false
}

func isDiffLabel(lang string) bool {
	switch strings.ToLower(lang) {
	case "diff", "patch", "udiff":
		return true
	}
	return false
}

// diffLines keeps only lines that look like unified diff lines
func diffLines(raw string) string {
	var kept []string
	sawChange := false
	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "@@"):
			kept = append(kept, line)
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
			kept = append(kept, line)
			sawChange = true
		case strings.HasPrefix(line, " "), strings.HasPrefix(line, `\`):
			kept = append(kept, line)
		}
	}
	if !sawChange {
		return ""
	}
	return trimBlankLines(strings.Join(kept, "\n"))
}

// trimBlankLines drops whitespace-only lines at both ends, keeping the
// leading space of the first real line.
func trimBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start == end {
		return ""
	}
	return strings.Join(lines[start:end], "\n") + "\n"
}

// explanation cleans the prose before a patch, dropping a dangling fence
func explanation(prose string) string {
	prose = strings.TrimSpace(prose)
	if loc := fenceLineRegex.FindAllStringIndex(prose, -1); len(loc) > 0 {
		last := loc[len(loc)-1]
		if strings.TrimSpace(prose[last[1]:]) == "" {
			prose = strings.TrimSpace(prose[:last[0]])
		}
	}
	return prose
}
