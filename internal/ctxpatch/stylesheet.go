package ctxpatch

import (
	"regexp"
	"strings"
)

var (
	spaceRunRegex     = regexp.MustCompile(`\s+`)
	punctSpaceRegex   = regexp.MustCompile(`\s*([:;{}])\s*`)
	propertyRegex     = regexp.MustCompile(`^\s*([-a-zA-Z_][-a-zA-Z0-9_]*)\s*:`)
	trailingSemiRegex = regexp.MustCompile(`;+$`)
)

// normalizeStylesheet makes indentation, spacing around ':', ';', '{', '}'
// and a trailing semicolon insignificant.
func normalizeStylesheet(s string) string {
	s = strings.TrimSpace(s)
	s = spaceRunRegex.ReplaceAllString(s, " ")
	s = punctSpaceRegex.ReplaceAllString(s, "$1")
	return trailingSemiRegex.ReplaceAllString(s, "")
}

// propertyName returns the declared property of a declaration line, or ""
func propertyName(line string) string {
	if strings.Contains(line, "{") {
		return ""
	}
	m := propertyRegex.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// byProperty matches deletions on declared property names alone, within the
// rule block opened by the hunk's selector context when there is one.
func (l *locator) byProperty(h Hunk) (int, bool) {
	names := make([]string, len(h.Deletions))
	anchor := -1
	for i, del := range h.Deletions {
		names[i] = propertyName(del)
		if anchor < 0 && names[i] != "" {
			anchor = i
		}
	}
	if anchor < 0 {
		return 0, false
	}

	lo, hi := 0, len(l.lines)
	if sel := selectorOf(h.Context); sel != "" {
		if start, end, ok := l.ruleBlock(sel); ok && start < end {
			lo, hi = start, end
		}
	}

	for i := lo; i+len(names) <= hi; i++ {
		if l.propertiesAt(h.Deletions, names, i) {
			return i, true
		}
	}
	return 0, false
}

func (l *locator) propertiesAt(deletions, names []string, pos int) bool {
	for j, name := range names {
		line := l.lines[pos+j]
		if name == "" {
			if normalizeStylesheet(line) != normalizeStylesheet(deletions[j]) {
				return false
			}
			continue
		}
		if propertyName(line) != name {
			return false
		}
	}
	return true
}

// selectorOf returns the normalized selector of the last rule opened in ctx
func selectorOf(ctx []string) string {
	for i := len(ctx) - 1; i >= 0; i-- {
		line := ctx[i]
		if idx := strings.Index(line, "{"); idx >= 0 {
			return normalizeStylesheet(line[:idx])
		}
	}
	return ""
}

// ruleBlock returns the line range of the body of the rule with selector sel
func (l *locator) ruleBlock(sel string) (int, int, bool) {
	for i, line := range l.lines {
		idx := strings.Index(line, "{")
		if idx < 0 || normalizeStylesheet(line[:idx]) != sel {
			continue
		}
		depth := 0
		for j := i; j < len(l.lines); j++ {
			depth += strings.Count(l.lines[j], "{") - strings.Count(l.lines[j], "}")
			if depth <= 0 {
				return i + 1, j, true
			}
		}
		return i + 1, len(l.lines), true
	}
	return 0, 0, false
}
