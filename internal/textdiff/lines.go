// Package textdiff computes line diffs, builds and parses unified diffs, and
// applies them to text.
package textdiff

import "strings"

// LineSequence is text split into lines with the line-ending style it was
// read with. Lines never contain line terminators.
type LineSequence struct {
	Lines           []string
	EOL             string // "\n" or "\r\n"
	TrailingNewline bool
}

// SplitLines splits content into a LineSequence. Content containing any CRLF
// is treated as a CRLF file; mixed endings are normalized on Join.
func SplitLines(content string) LineSequence {
	eol := "\n"
	if strings.Contains(content, "\r\n") {
		eol = "\r\n"
		content = strings.ReplaceAll(content, "\r\n", "\n")
	}
	if content == "" {
		return LineSequence{EOL: eol}
	}
	trailing := strings.HasSuffix(content, "\n")
	if trailing {
		content = content[:len(content)-1]
	}
	return LineSequence{
		Lines:           strings.Split(content, "\n"),
		EOL:             eol,
		TrailingNewline: trailing,
	}
}

// Join renders the sequence back to text using its EOL
func (s LineSequence) Join() string {
	if len(s.Lines) == 0 {
		return ""
	}
	eol := s.EOL
	if eol == "" {
		eol = "\n"
	}
	var b strings.Builder
	for i, line := range s.Lines {
		if i > 0 {
			b.WriteString(eol)
		}
		b.WriteString(line)
	}
	if s.TrailingNewline {
		b.WriteString(eol)
	}
	return b.String()
}

// DetectEOL returns the preferred line ending of content
func DetectEOL(content string) string {
	if strings.Contains(content, "\r\n") {
		return "\r\n"
	}
	return "\n"
}
