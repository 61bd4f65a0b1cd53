package ctxpatch

import (
	"strings"

	"github.com/kvit-s/kvit-patch/internal/filekind"
)

// Strategy names the rule that located a hunk
type Strategy int

const (
	NoStrategy Strategy = iota
	ExactContext
	RstripContext
	TrimContext
	ExactRemoval
	RstripRemoval
	TrimRemoval
	MarkerAnchor
	StylesheetNormalized
	StylesheetProperty
	ExactPostContext
	RstripPostContext
	TrimPostContext
	AppendEOF
)

var strategyNames = map[Strategy]string{
	NoStrategy:           "none",
	ExactContext:         "exact-context",
	RstripContext:        "rstrip-context",
	TrimContext:          "trim-context",
	ExactRemoval:         "exact-removal",
	RstripRemoval:        "rstrip-removal",
	TrimRemoval:          "trim-removal",
	MarkerAnchor:         "marker",
	StylesheetNormalized: "stylesheet-normalized",
	StylesheetProperty:   "stylesheet-property",
	ExactPostContext:     "exact-post-context",
	RstripPostContext:    "rstrip-post-context",
	TrimPostContext:      "trim-post-context",
	AppendEOF:            "append-eof",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the strategy by name
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// matchLevel is how loosely two lines are compared
type matchLevel int

const (
	levelExact matchLevel = iota
	levelRstrip
	levelTrim
	levelStylesheet
)

func normalize(s string, level matchLevel) string {
	switch level {
	case levelExact:
		return s
	case levelRstrip:
		return strings.TrimRight(s, " \t")
	case levelTrim:
		return strings.TrimSpace(s)
	default:
		return normalizeStylesheet(s)
	}
}

// Options controls location fallbacks
type Options struct {
	// AppendFallback allows pure-addition hunks that cannot be located to be
	// appended at end of file for every kind, not only stylesheets.
	AppendFallback bool
}

// locator finds the splice position of one hunk in a line buffer
type locator struct {
	lines  []string
	kind   filekind.Kind
	cursor int
	opts   Options
}

// locate returns the index at which the hunk's deletions start (or its
// additions are inserted) and the strategy that found it.
func (l *locator) locate(h Hunk) (int, Strategy, bool) {
	contextLevels := []struct {
		level    matchLevel
		strategy Strategy
	}{
		{levelExact, ExactContext},
		{levelRstrip, RstripContext},
		{levelTrim, TrimContext},
	}
	removalLevels := []struct {
		level    matchLevel
		strategy Strategy
	}{
		{levelExact, ExactRemoval},
		{levelRstrip, RstripRemoval},
		{levelTrim, TrimRemoval},
	}

	if len(h.Context) > 0 {
		for _, cl := range contextLevels {
			if pos, ok := l.byContext(h, cl.level); ok {
				return pos, cl.strategy, true
			}
		}
	}

	if len(h.Deletions) > 0 {
		for _, rl := range removalLevels {
			if pos, ok := l.byRemoval(h, rl.level); ok {
				return pos, rl.strategy, true
			}
		}
	}

	if h.Marker != "" {
		if pos, ok := l.byMarker(h); ok {
			return pos, MarkerAnchor, true
		}
	}

	if l.kind == filekind.Stylesheet {
		if len(h.Context) > 0 {
			if pos, ok := l.byContext(h, levelStylesheet); ok {
				return pos, StylesheetNormalized, true
			}
		}
		if len(h.Deletions) > 0 {
			if pos, ok := l.byRemoval(h, levelStylesheet); ok {
				return pos, StylesheetNormalized, true
			}
			if pos, ok := l.byProperty(h); ok {
				return pos, StylesheetProperty, true
			}
		}
	}

	// pure additions anchored only by the lines that follow them
	if len(h.Deletions) == 0 && len(h.PostContext) > 0 {
		postLevels := []struct {
			level    matchLevel
			strategy Strategy
		}{
			{levelExact, ExactPostContext},
			{levelRstrip, RstripPostContext},
			{levelTrim, TrimPostContext},
		}
		for _, pl := range postLevels {
			if pos, ok := l.byPostContext(h, pl.level); ok {
				return pos, pl.strategy, true
			}
		}
	}

	if len(h.Deletions) == 0 && (l.kind == filekind.Stylesheet || l.opts.AppendFallback) {
		return len(l.lines), AppendEOF, true
	}

	return -1, NoStrategy, false
}

// byContext finds the before-context block and splices right after it. A
// candidate counts only if the deletions follow it.
func (l *locator) byContext(h Hunk, level matchLevel) (int, bool) {
	accept := func(start int) (int, bool) {
		pos := start + len(h.Context)
		if !blockAt(l.lines, h.Deletions, pos, maxLevel(level, levelTrim)) {
			return 0, false
		}
		return pos, true
	}
	return l.search(h, h.Context, level, accept)
}

// byPostContext finds the block that follows the additions and inserts
// before it
func (l *locator) byPostContext(h Hunk, level matchLevel) (int, bool) {
	accept := func(start int) (int, bool) { return start, true }
	return l.search(h, h.PostContext, level, accept)
}

// byRemoval finds the deletion block itself
func (l *locator) byRemoval(h Hunk, level matchLevel) (int, bool) {
	accept := func(start int) (int, bool) { return start, true }
	return l.search(h, h.Deletions, level, accept)
}

// search looks for block from the cursor, then from the top of the buffer,
// and picks among accepted candidates.
func (l *locator) search(h Hunk, block []string, level matchLevel, accept func(int) (int, bool)) (int, bool) {
	for _, from := range l.origins() {
		var positions []int
		for _, start := range findBlock(l.lines, block, level, from) {
			if pos, ok := accept(start); ok {
				positions = append(positions, pos)
			}
		}
		if pos, ok := l.choose(h, positions, level); ok {
			return pos, true
		}
	}
	return 0, false
}

func (l *locator) origins() []int {
	if l.cursor > 0 && l.cursor < len(l.lines) {
		return []int{l.cursor, 0}
	}
	return []int{0}
}

// choose prefers candidates whose post-context matches, then the one nearest
// the line hint, then the first.
func (l *locator) choose(h Hunk, positions []int, level matchLevel) (int, bool) {
	if len(positions) == 0 {
		return 0, false
	}
	if len(h.PostContext) > 0 && len(positions) > 1 {
		var withPost []int
		for _, pos := range positions {
			if blockAt(l.lines, h.PostContext, pos+len(h.Deletions), maxLevel(level, levelTrim)) {
				withPost = append(withPost, pos)
			}
		}
		if len(withPost) > 0 {
			positions = withPost
		}
	}
	if h.LineHint > 0 {
		best := positions[0]
		for _, pos := range positions[1:] {
			if abs(pos-(h.LineHint-1)) < abs(best-(h.LineHint-1)) {
				best = pos
			}
		}
		return best, true
	}
	return positions[0], true
}

// byMarker finds the marker line, then the deletions below it or the line
// after the marker.
func (l *locator) byMarker(h Hunk) (int, bool) {
	needle := strings.ToLower(strings.TrimSpace(h.Marker))
	for _, from := range l.origins() {
		for i := from; i < len(l.lines); i++ {
			if !strings.Contains(strings.ToLower(l.lines[i]), needle) {
				continue
			}
			if len(h.Deletions) == 0 {
				return i + 1, true
			}
			if starts := findBlock(l.lines, h.Deletions, levelTrim, i+1); len(starts) > 0 {
				return starts[0], true
			}
		}
	}
	return 0, false
}

// findBlock returns every start index at or after from where block matches
func findBlock(lines, block []string, level matchLevel, from int) []int {
	if len(block) == 0 || len(block) > len(lines) {
		return nil
	}
	var starts []int
	for i := max(from, 0); i <= len(lines)-len(block); i++ {
		if blockAt(lines, block, i, level) {
			starts = append(starts, i)
		}
	}
	return starts
}

// blockAt reports whether block matches lines starting at pos
func blockAt(lines, block []string, pos int, level matchLevel) bool {
	if pos < 0 || pos+len(block) > len(lines) {
		return false
	}
	for j, want := range block {
		if normalize(lines[pos+j], level) != normalize(want, level) {
			return false
		}
	}
	return true
}

func maxLevel(a, b matchLevel) matchLevel {
	if a > b {
		return a
	}
	return b
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
