package validate

import "strings"

// syntax selects which lexical features the balance scanner honours
type syntax struct {
	lineComments bool // "//" comments
	templates    bool // `...${expr}...` literals
	regexes      bool // /re/ literals
}

var (
	scriptSyntax     = syntax{lineComments: true, templates: true, regexes: true}
	stylesheetSyntax = syntax{lineComments: false, templates: false}
)

var closerFor = map[byte]byte{')': '(', ']': '[', '}': '{'}

// open is an unclosed delimiter and the line it was opened on. kind '`' is a
// template literal and '$' a template substitution.
type open struct {
	kind byte
	line int
}

// checkBalance verifies bracket nesting while skipping strings, template
// text and comments.
func checkBalance(content string, syn syntax) Outcome {
	var stack []open
	line := 1
	inTemplate := false

	top := func() byte {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1].kind
	}

	for i := 0; i < len(content); i++ {
		c := content[i]
		if c == '\n' {
			line++
		}

		if inTemplate {
			switch {
			case c == '\\':
				i++
				if i < len(content) && content[i] == '\n' {
					line++
				}
			case c == '`':
				stack = stack[:len(stack)-1]
				inTemplate = false
			case c == '$' && i+1 < len(content) && content[i+1] == '{':
				stack = append(stack, open{kind: '$', line: line})
				inTemplate = false
				i++
			}
			continue
		}

		switch c {
		case '"':
			end, ok := skipString(content, i)
			if !ok {
				return fail("unterminated string starting on line %d", line)
			}
			line += strings.Count(content[i:end], "\n")
			i = end
		case '\'':
			// An apostrophe that does not close on its line is prose, as in
			// JSX text.
			if end, ok := skipString(content, i); ok {
				line += strings.Count(content[i:end], "\n")
				i = end
			}
		case '`':
			if syn.templates {
				stack = append(stack, open{kind: '`', line: line})
				inTemplate = true
			}
		case '/':
			if i+1 >= len(content) {
				continue
			}
			switch {
			case content[i+1] == '*':
				end := strings.Index(content[i+2:], "*/")
				if end < 0 {
					return fail("unterminated comment starting on line %d", line)
				}
				end += i + 2
				line += strings.Count(content[i:end], "\n")
				i = end + 1
			case syn.lineComments && content[i+1] == '/':
				end := strings.IndexByte(content[i:], '\n')
				if end < 0 {
					return pass().withStack(stack)
				}
				i += end - 1
			case syn.regexes && regexAllowed(content, i):
				if end, ok := skipRegex(content, i); ok {
					i = end
				}
			}
		case '(', '[', '{':
			stack = append(stack, open{kind: c, line: line})
		case ')', ']':
			if top() != closerFor[c] {
				return mismatch(c, line, stack)
			}
			stack = stack[:len(stack)-1]
		case '}':
			switch top() {
			case '{':
				stack = stack[:len(stack)-1]
			case '$':
				stack = stack[:len(stack)-1]
				inTemplate = true
			default:
				return mismatch(c, line, stack)
			}
		}
	}

	return pass().withStack(stack)
}

// withStack turns a pass into a failure when delimiters remain open
func (o Outcome) withStack(stack []open) Outcome {
	if len(stack) == 0 {
		return o
	}
	last := stack[len(stack)-1]
	if last.kind == '`' {
		return fail("unterminated template literal starting on line %d", last.line)
	}
	return fail("unclosed %q opened on line %d", displayKind(last.kind), last.line)
}

func mismatch(c byte, line int, stack []open) Outcome {
	if len(stack) == 0 {
		return fail("unexpected %q on line %d", string(c), line)
	}
	last := stack[len(stack)-1]
	return fail("unexpected %q on line %d, %q opened on line %d is still open", string(c), line, displayKind(last.kind), last.line)
}

func displayKind(k byte) string {
	if k == '$' {
		return "${"
	}
	return string(k)
}

// skipString returns the index of the closing quote of the string starting
// at i. Strings may not span lines unless the newline is escaped.
func skipString(content string, i int) (int, bool) {
	quote := content[i]
	for j := i + 1; j < len(content); j++ {
		switch content[j] {
		case '\\':
			j++
		case '\n':
			return j, false
		case quote:
			return j, true
		}
	}
	return len(content), false
}

// regexKeywords may directly precede a regex literal
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "void": true, "delete": true,
	"in": true, "of": true, "instanceof": true, "yield": true, "await": true,
}

// regexAllowed reports whether a '/' at i sits where an expression starts, so
// it opens a regex literal rather than dividing. '<' is left out so closing
// JSX tags are not read as regexes.
func regexAllowed(content string, i int) bool {
	j := i - 1
	for j >= 0 && (content[j] == ' ' || content[j] == '\t' || content[j] == '\n' || content[j] == '\r') {
		j--
	}
	if j < 0 {
		return true
	}
	if strings.IndexByte("(,=:[!&|?{};+-*%>~^", content[j]) >= 0 {
		return true
	}
	end := j + 1
	for j >= 0 && isIdentByte(content[j]) {
		j--
	}
	return regexKeywords[content[j+1:end]]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// skipRegex returns the index of the '/' closing the regex literal opened at
// i. Literals cannot span lines; ok is false when none closes on this line.
func skipRegex(content string, i int) (int, bool) {
	inClass := false
	for j := i + 1; j < len(content); j++ {
		switch content[j] {
		case '\\':
			j++
			if j < len(content) && content[j] == '\n' {
				return 0, false
			}
		case '\n':
			return 0, false
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				return j, true
			}
		}
	}
	return 0, false
}
