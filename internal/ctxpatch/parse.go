// Package ctxpatch parses and applies multi-file context patches: Add,
// Update and Delete blocks whose Update hunks are located by surrounding
// text instead of line numbers.
package ctxpatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kvit-s/kvit-patch/internal/patcherr"
)

const (
	beginMarker     = "*** Begin Patch"
	endMarker       = "*** End Patch"
	endOfFileMarker = "*** End of File"
	addPrefix       = "*** Add File:"
	updatePrefix    = "*** Update File:"
	deletePrefix    = "*** Delete File:"
)

// lineHintRegex matches a ":line N" suffix on a marker
var lineHintRegex = regexp.MustCompile(`:line\s+(\d+)\s*$`)

// unifiedHeaderRegex matches a line-numbered "@@ -a,b +c,d @@ section" header
var unifiedHeaderRegex = regexp.MustCompile(`^-\d+(?:,\d+)?\s+\+\d+(?:,\d+)?\s*@@(.*)$`)

// fileMarkerRegex finds any file marker in free-form text
var fileMarkerRegex = regexp.MustCompile(`(?m)^\*\*\* (Add|Update|Delete) File:`)

// Action is the file operation of one block
type Action string

const (
	Add    Action = "Add"
	Update Action = "Update"
	Delete Action = "Delete"
)

// FilePatch is the parsed block for a single file. ParseErr is set when the
// block's body could not be parsed; other blocks are unaffected.
type FilePatch struct {
	Action   Action
	Path     string
	Hunks    []Hunk
	ParseErr error
}

// Content returns the full text of an Add block
func (fp FilePatch) Content() string {
	var b strings.Builder
	for _, h := range fp.Hunks {
		for _, line := range h.Additions {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Hunk is a single change within an Update block
type Hunk struct {
	Marker      string   // optional @@ anchor text
	LineHint    int      // optional 1-based hint from ":line N" on the marker
	Context     []string // lines before the change
	Deletions   []string
	Additions   []string
	PostContext []string // lines after the change, used to break ties
}

func (h Hunk) empty() bool {
	return len(h.Context) == 0 && len(h.Deletions) == 0 && len(h.Additions) == 0 && h.Marker == ""
}

// HasMarkers reports whether text contains at least one file marker
func HasMarkers(text string) bool {
	return fileMarkerRegex.MatchString(strings.ReplaceAll(text, "\r\n", "\n"))
}

// MarkerIndex returns the byte offset of the first file marker or envelope
// start in text, or -1.
func MarkerIndex(text string) int {
	idx := -1
	if loc := fileMarkerRegex.FindStringIndex(text); loc != nil {
		idx = loc[0]
	}
	if b := strings.Index(text, beginMarker); b >= 0 && (idx < 0 || b < idx) {
		idx = b
	}
	return idx
}

// Parse splits text into per-file blocks. The Begin/End envelope is
// optional; anything outside file blocks is ignored.
func Parse(text string) []FilePatch {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var patches []FilePatch
	var current *FilePatch
	var body []string

	finish := func() {
		if current == nil {
			return
		}
		parseBody(current, body)
		patches = append(patches, *current)
		current = nil
		body = nil
	}

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, beginMarker):
			continue
		case strings.HasPrefix(line, endMarker), closesFence(lines, i):
			finish()
		case strings.HasPrefix(line, addPrefix):
			finish()
			current = &FilePatch{Action: Add, Path: markerPath(line, addPrefix)}
		case strings.HasPrefix(line, updatePrefix):
			finish()
			current = &FilePatch{Action: Update, Path: markerPath(line, updatePrefix)}
		case strings.HasPrefix(line, deletePrefix):
			finish()
			current = &FilePatch{Action: Delete, Path: markerPath(line, deletePrefix)}
		default:
			if current != nil {
				body = append(body, line)
			}
		}
	}
	finish()

	return patches
}

// closesFence reports whether lines[i] is the code fence around the patch.
// A fence followed by more hunk lines belongs to the file body instead, where
// the missing prefix is reported.
func closesFence(lines []string, i int) bool {
	if !strings.HasPrefix(lines[i], "```") {
		return false
	}
	for _, next := range lines[i+1:] {
		if strings.TrimSpace(next) == "" {
			continue
		}
		if isMarkerLine(next) {
			return true
		}
		return !strings.HasPrefix(next, "@@") && !strings.ContainsAny(next[:1], " +-")
	}
	return true
}

func isMarkerLine(line string) bool {
	for _, prefix := range []string{beginMarker, endMarker, addPrefix, updatePrefix, deletePrefix} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func markerPath(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, prefix))
}

// parseBody fills fp.Hunks from the raw lines between its marker and the next
func parseBody(fp *FilePatch, body []string) {
	// Blank lines before the next marker separate blocks.
	for len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "" {
		body = body[:len(body)-1]
	}

	switch fp.Action {
	case Delete:
		return
	case Add:
		var h Hunk
		for _, line := range body {
			if strings.HasPrefix(line, "+") {
				h.Additions = append(h.Additions, line[1:])
			}
		}
		fp.Hunks = []Hunk{h}
		return
	}

	var cur Hunk
	flush := func() {
		if !cur.empty() {
			fp.Hunks = append(fp.Hunks, cur)
		}
		cur = Hunk{}
	}

	for i, line := range body {
		if line == "@@" || strings.HasPrefix(line, "@@ ") {
			flush()
			cur.Marker, cur.LineHint = parseMarker(strings.TrimPrefix(line, "@@"))
			continue
		}
		if line == endOfFileMarker {
			continue
		}

		if line == "" {
			line = " "
		}
		switch line[0] {
		case ' ':
			if len(cur.Deletions) > 0 || len(cur.Additions) > 0 {
				cur.PostContext = append(cur.PostContext, line[1:])
			} else {
				cur.Context = append(cur.Context, line[1:])
			}
		case '-', '+':
			// A change after post-context starts a new hunk anchored on
			// that post-context.
			if len(cur.PostContext) > 0 {
				anchor := append([]string(nil), cur.PostContext...)
				flush()
				cur.Context = anchor
			}
			if line[0] == '-' {
				cur.Deletions = append(cur.Deletions, line[1:])
			} else {
				cur.Additions = append(cur.Additions, line[1:])
			}
		default:
			fp.ParseErr = patcherr.WithDetails(patcherr.UnknownSign,
				fmt.Sprintf("line %d of %s block: expected ' ', '-', '+' or '@@', got %q", i+1, fp.Action, line),
				map[string]any{"line": line}).WithPath(fp.Path)
			fp.Hunks = nil
			return
		}
	}
	flush()
}

func parseMarker(raw string) (string, int) {
	marker := strings.TrimSpace(raw)
	if m := unifiedHeaderRegex.FindStringSubmatch(marker); m != nil {
		marker = strings.TrimSpace(m[1])
	}
	hint := 0
	if m := lineHintRegex.FindStringSubmatch(marker); m != nil {
		hint, _ = strconv.Atoi(m[1])
		marker = strings.TrimSpace(lineHintRegex.ReplaceAllString(marker, ""))
	}
	return marker, hint
}
