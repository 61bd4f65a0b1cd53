package textdiff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kvit-s/kvit-patch/internal/patcherr"
)

var (
	hunkHeaderRe = regexp.MustCompile(`^@@\s+-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)
	oldHeaderRe  = regexp.MustCompile(`(?m)^--- (a/|/dev/null)`)
	newHeaderRe  = regexp.MustCompile(`(?m)^\+\+\+ (b/|/dev/null)`)
	anyHunkRe    = regexp.MustCompile(`(?m)^@@ .*@@`)
)

// Report describes which structural parts of a unified diff are present
type Report struct {
	HasHeaders    bool
	HasHunkHeader bool
}

// OK reports whether the diff has both headers and hunk markers
func (r Report) OK() bool {
	return r.HasHeaders && r.HasHunkHeader
}

// OnlyMissingHunks reports whether headers exist but no hunk marker does
func (r Report) OnlyMissingHunks() bool {
	return r.HasHeaders && !r.HasHunkHeader
}

// Check inspects diff text without parsing hunks
func Check(text string) Report {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return Report{
		HasHeaders:    oldHeaderRe.MatchString(text) && newHeaderRe.MatchString(text),
		HasHunkHeader: anyHunkRe.MatchString(text),
	}
}

// Validate returns an INVALID_DIFF error naming the first missing part, or nil
func Validate(text string) error {
	r := Check(text)
	switch {
	case !r.HasHeaders:
		return patcherr.WithDetails(patcherr.InvalidDiff,
			"missing '--- a/' / '+++ b/' header pair",
			map[string]any{"missing": "headers"})
	case !r.HasHunkHeader:
		return patcherr.WithDetails(patcherr.InvalidDiff,
			"missing '@@ ... @@' hunk header",
			map[string]any{"missing": "hunks"})
	}
	return nil
}

// Repair inserts a single hunk header after the file headers of a diff that
// has headers but no hunk markers, covering the whole remaining body.
// Unprefixed body lines are taken as additions. It reports false when the
// text cannot be repaired.
func Repair(text string) (string, bool) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if !Check(text).OnlyMissingHunks() {
		return text, false
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	headerEnd := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "+++ ") {
			headerEnd = i
			break
		}
	}
	if headerEnd < 0 || headerEnd == len(lines)-1 {
		return text, false
	}

	body := make([]string, 0, len(lines)-headerEnd-1)
	oldCount, newCount := 0, 0
	for _, line := range lines[headerEnd+1:] {
		switch {
		case strings.HasPrefix(line, " "):
			oldCount++
			newCount++
		case strings.HasPrefix(line, "-"):
			oldCount++
		case strings.HasPrefix(line, "+"):
			newCount++
		case strings.HasPrefix(line, `\`):
		default:
			line = "+" + line
			newCount++
		}
		body = append(body, line)
	}

	var b strings.Builder
	for _, line := range lines[:headerEnd+1] {
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "@@ -1,%d +1,%d @@\n", oldCount, newCount)
	for _, line := range body {
		b.WriteString(line + "\n")
	}
	return b.String(), true
}

// Parse reads file headers and hunks from diff text. Within a hunk a line
// starting with ' ', '+' or '-' is a hunk line, an empty line is blank
// context, and any other line ends the hunk. Counts are taken from the lines
// actually present, not from the header.
func Parse(text string) (UnifiedDiff, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var d UnifiedDiff
	var cur *Hunk
	var trailingBlank int // raw empty lines at the end of cur
	lastSign := Sign(0)

	flush := func() {
		if cur == nil {
			return
		}
		// Empty lines right before the next header or the end of input are
		// separators, not context.
		cur.Lines = cur.Lines[:len(cur.Lines)-trailingBlank]
		cur.recount()
		d.Hunks = append(d.Hunks, *cur)
		cur = nil
		trailingBlank = 0
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ") &&
			(cur == nil || cur.filled() || (i+2 < len(lines) && strings.HasPrefix(lines[i+2], "@@"))) {
			flush()
			d.OldPath = headerToPath(line[4:], "a/")
			d.NewPath = headerToPath(lines[i+1][4:], "b/")
			i++
			continue
		}

		if strings.HasPrefix(line, "@@") {
			flush()
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return d, patcherr.WithDetails(patcherr.MalformedHunk,
					fmt.Sprintf("line %d: unparsable hunk header", i+1),
					map[string]any{"line": i + 1, "header": line})
			}
			cur = &Hunk{
				OldStart: atoi(m[1]),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoi(m[3]),
				NewCount: atoiDefault(m[4], 1),
			}
			lastSign = 0
			continue
		}

		if cur == nil {
			continue
		}

		if line == "" {
			cur.Lines = append(cur.Lines, HunkLine{Sign: SignContext})
			trailingBlank++
			lastSign = SignContext
			continue
		}

		switch line[0] {
		case ' ', '+', '-':
			cur.Lines = append(cur.Lines, HunkLine{Sign: Sign(line[0]), Text: line[1:]})
			trailingBlank = 0
			lastSign = Sign(line[0])
		case '\\':
			switch lastSign {
			case SignContext:
				cur.OldNoEOL, cur.NewNoEOL = true, true
			case SignRemove:
				cur.OldNoEOL = true
			case SignAdd:
				cur.NewNoEOL = true
			}
			trailingBlank = 0
		default:
			flush()
		}
	}
	flush()

	return d, nil
}

// HunkCounts returns the old and new line counts declared by an @@ header
func HunkCounts(line string) (oldCount, newCount int, ok bool) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	return atoiDefault(m[2], 1), atoiDefault(m[4], 1), true
}

// headerToPath strips the a/ or b/ prefix and any trailing timestamp
func headerToPath(raw, prefix string) string {
	raw = strings.TrimSpace(raw)
	if tab := strings.IndexByte(raw, '\t'); tab >= 0 {
		raw = raw[:tab]
	}
	if raw == DevNull {
		return DevNull
	}
	return strings.TrimPrefix(raw, prefix)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	return atoi(s)
}
