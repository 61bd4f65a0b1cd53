package orchestrator

import (
	"strings"

	"github.com/kvit-s/kvit-patch/internal/textdiff"
)

// segment is the part of a unified diff that targets one file
type segment struct {
	Text       string
	HasHeaders bool
}

// splitSegments cuts a multi-file unified diff at each "--- "/"+++ " header
// pair. Hunks before the first pair form a headerless segment.
func splitSegments(body string) []segment {
	lines := strings.Split(body, "\n")

	var segments []segment
	var cur []string
	curHeaders := false

	flush := func() {
		text := strings.Join(cur, "\n")
		if curHeaders || strings.Contains(text, "@@") {
			segments = append(segments, segment{Text: ensureNewline(text), HasHeaders: curHeaders})
		}
		cur = nil
	}

	// lines still owed to the open hunk, per side
	oldLeft, newLeft := 0, 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		hunkOpen := oldLeft > 0 || newLeft > 0
		if isHeaderPair(lines, i) && (!hunkOpen || (i+2 < len(lines) && strings.HasPrefix(lines[i+2], "@@"))) {
			flush()
			curHeaders = true
			cur = append(cur, normalizeHeader(line, "--- ", "a/"), normalizeHeader(lines[i+1], "+++ ", "b/"))
			oldLeft, newLeft = 0, 0
			i++
			continue
		}
		cur = append(cur, line)

		switch {
		case strings.HasPrefix(line, "@@"):
			oldLeft, newLeft, _ = textdiff.HunkCounts(line)
		case line == "" || line[0] == ' ':
			oldLeft--
			newLeft--
		case line[0] == '-':
			oldLeft--
		case line[0] == '+':
			newLeft--
		}
	}
	flush()

	return segments
}

func isHeaderPair(lines []string, i int) bool {
	return strings.HasPrefix(lines[i], "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")
}

// normalizeHeader adds the a/ or b/ prefix to a bare header path
func normalizeHeader(line, marker, prefix string) string {
	path := strings.TrimSpace(strings.TrimPrefix(line, marker))
	if tab := strings.IndexByte(path, '\t'); tab >= 0 {
		path = path[:tab]
	}
	if path == textdiff.DevNull || strings.HasPrefix(path, prefix) {
		return marker + path
	}
	return marker + prefix + strings.TrimPrefix(path, "./")
}

// withHeaders prepends synthesized headers for path
func withHeaders(text, path string) string {
	return "--- a/" + path + "\n+++ b/" + path + "\n" + text
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// segmentPaths returns the target path of each headed segment
func segmentPaths(body string) []string {
	var paths []string
	for _, seg := range splitSegments(body) {
		if !seg.HasHeaders {
			continue
		}
		d, err := textdiff.Parse(seg.Text)
		switch {
		case err == nil && d.Path() != "":
			paths = append(paths, d.Path())
		case err != nil:
			// still load the file so the failure is reported against it
			if p := headerPath(seg.Text, ""); p != "" {
				paths = append(paths, p)
			}
		}
	}
	return paths
}
