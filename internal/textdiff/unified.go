package textdiff

import (
	"fmt"
	"strings"
)

// DefaultContext is the number of unchanged lines kept around each change
const DefaultContext = 3

// NoNewlineMarker is the unified-diff line flagging a final line without a
// trailing newline.
const NoNewlineMarker = `\ No newline at end of file`

// DevNull is the header path used for a missing side (file added or deleted)
const DevNull = "/dev/null"

// Sign is the prefix of a hunk line
type Sign byte

const (
	SignContext Sign = ' '
	SignAdd     Sign = '+'
	SignRemove  Sign = '-'
)

// HunkLine is one signed line of a hunk
type HunkLine struct {
	Sign Sign
	Text string
}

// Hunk is one region of change. OldStart and NewStart are 1-based; a side
// with a zero count names the line after which the change sits.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []HunkLine

	// OldNoEOL/NewNoEOL mark that the last old/new line of this hunk is the
	// final line of its file and has no trailing newline.
	OldNoEOL bool
	NewNoEOL bool
}

// UnifiedDiff is the set of hunks for one file, ascending by old position
type UnifiedDiff struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// Path returns the file the diff targets, preferring the new side
func (d UnifiedDiff) Path() string {
	if d.NewPath != "" && d.NewPath != DevNull {
		return d.NewPath
	}
	return d.OldPath
}

// IsDeletion reports whether the diff removes its file
func (d UnifiedDiff) IsDeletion() bool {
	return d.NewPath == DevNull
}

// IsCreation reports whether the diff creates its file
func (d UnifiedDiff) IsCreation() bool {
	return d.OldPath == DevNull
}

// recount sets the counts from the hunk's own lines
func (h *Hunk) recount() {
	h.OldCount, h.NewCount = 0, 0
	for _, l := range h.Lines {
		switch l.Sign {
		case SignContext:
			h.OldCount++
			h.NewCount++
		case SignRemove:
			h.OldCount++
		case SignAdd:
			h.NewCount++
		}
	}
}

// filled reports whether the lines read so far cover the counts declared in
// the hunk header. Before that, "--- " and "+++ " lines are hunk content.
func (h *Hunk) filled() bool {
	oldSeen, newSeen := 0, 0
	for _, l := range h.Lines {
		switch l.Sign {
		case SignContext:
			oldSeen++
			newSeen++
		case SignRemove:
			oldSeen++
		case SignAdd:
			newSeen++
		}
	}
	return oldSeen >= h.OldCount && newSeen >= h.NewCount
}

// span is an op together with its 0-based position on each side
type span struct {
	Op
	oldPos int
	newPos int
}

// BuildHunks groups ops into hunks with up to context unchanged lines around
// each change run. Runs separated by no more than 2*context equal lines share
// a hunk. ops is read through an index cursor and never modified.
func BuildHunks(ops []Op, context int) []Hunk {
	if context < 0 {
		context = 0
	}
	ops = coalesce(ops)

	spans := make([]span, len(ops))
	lastChange := -1
	oldPos, newPos := 0, 0
	for i, op := range ops {
		spans[i] = span{Op: op, oldPos: oldPos, newPos: newPos}
		if op.Kind != OpInsert {
			oldPos += len(op.Lines)
		}
		if op.Kind != OpDelete {
			newPos += len(op.Lines)
		}
		if op.Kind != OpEqual {
			lastChange = i
		}
	}

	var hunks []Hunk
	var cur *Hunk
	for i := 0; i < len(spans); i++ {
		sp := spans[i]
		if sp.Kind == OpEqual {
			if cur == nil {
				continue
			}
			if i < lastChange && len(sp.Lines) <= 2*context {
				cur.Lines = appendSigned(cur.Lines, SignContext, sp.Lines)
				continue
			}
			n := min(context, len(sp.Lines))
			cur.Lines = appendSigned(cur.Lines, SignContext, sp.Lines[:n])
			hunks = append(hunks, finishHunk(*cur))
			cur = nil
			continue
		}

		if cur == nil {
			var lead []string
			if i > 0 && spans[i-1].Kind == OpEqual {
				prev := spans[i-1].Lines
				lead = prev[len(prev)-min(context, len(prev)):]
			}
			cur = &Hunk{
				OldStart: sp.oldPos - len(lead) + 1,
				NewStart: sp.newPos - len(lead) + 1,
			}
			cur.Lines = appendSigned(cur.Lines, SignContext, lead)
		}
		sign := SignAdd
		if sp.Kind == OpDelete {
			sign = SignRemove
		}
		cur.Lines = appendSigned(cur.Lines, sign, sp.Lines)
	}
	if cur != nil {
		hunks = append(hunks, finishHunk(*cur))
	}
	return hunks
}

func appendSigned(lines []HunkLine, sign Sign, texts []string) []HunkLine {
	for _, t := range texts {
		lines = append(lines, HunkLine{Sign: sign, Text: t})
	}
	return lines
}

func finishHunk(h Hunk) Hunk {
	h.recount()
	if h.OldCount == 0 {
		h.OldStart--
	}
	if h.NewCount == 0 {
		h.NewStart--
	}
	return h
}

// noEOLSentinel is appended to a final line that lacks a newline before
// diffing, so it never aligns with the same text followed by a newline.
const noEOLSentinel = "\x00" + NoNewlineMarker

// Unified computes the diff between two versions of path
func Unified(path, oldContent, newContent string, context int) UnifiedDiff {
	oldSeq := SplitLines(oldContent)
	newSeq := SplitLines(newContent)

	ops := Compute(markFinalLine(oldSeq), markFinalLine(newSeq))
	hunks := BuildHunks(ops, context)
	for i := range hunks {
		h := &hunks[i]
		for j := range h.Lines {
			text, found := strings.CutSuffix(h.Lines[j].Text, noEOLSentinel)
			if !found {
				continue
			}
			h.Lines[j].Text = text
			switch h.Lines[j].Sign {
			case SignContext:
				h.OldNoEOL, h.NewNoEOL = true, true
			case SignRemove:
				h.OldNoEOL = true
			case SignAdd:
				h.NewNoEOL = true
			}
		}
	}

	return UnifiedDiff{OldPath: path, NewPath: path, Hunks: hunks}
}

func markFinalLine(seq LineSequence) []string {
	lines := make([]string, len(seq.Lines))
	copy(lines, seq.Lines)
	if !seq.TrailingNewline && len(lines) > 0 {
		lines[len(lines)-1] += noEOLSentinel
	}
	return lines
}

// Diff returns the serialized unified diff between two versions of path, or
// "" when they are equal.
func Diff(path, oldContent, newContent string, context int) string {
	d := Unified(path, oldContent, newContent, context)
	if len(d.Hunks) == 0 {
		return ""
	}
	return Format(d)
}

// Format serializes d with a/ and b/ header prefixes
func Format(d UnifiedDiff) string {
	var b strings.Builder
	b.WriteString("--- " + headerPath("a/", d.OldPath) + "\n")
	b.WriteString("+++ " + headerPath("b/", d.NewPath) + "\n")
	for _, h := range d.Hunks {
		b.WriteString(FormatHunk(h))
	}
	return b.String()
}

func headerPath(prefix, path string) string {
	if path == DevNull {
		return DevNull
	}
	return prefix + path
}

// FormatHunk serializes a single hunk including its header line
func FormatHunk(h Hunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)

	lastOld, lastNew := -1, -1
	for i, l := range h.Lines {
		if l.Sign != SignAdd {
			lastOld = i
		}
		if l.Sign != SignRemove {
			lastNew = i
		}
	}

	for i, l := range h.Lines {
		b.WriteByte(byte(l.Sign))
		b.WriteString(l.Text)
		b.WriteByte('\n')
		if (h.OldNoEOL && i == lastOld) || (h.NewNoEOL && i == lastNew) {
			b.WriteString(NoNewlineMarker + "\n")
		}
	}
	return b.String()
}
