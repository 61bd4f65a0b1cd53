// Package validate checks patched file content before it is committed.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"regexp"
	"strings"

	jsparser "github.com/dop251/goja/parser"
	"gopkg.in/yaml.v3"

	"github.com/kvit-s/kvit-patch/internal/filekind"
)

// Outcome is the result of validating one file
type Outcome struct {
	OK      bool
	Message string
}

func pass() Outcome { return Outcome{OK: true} }

func fail(format string, args ...any) Outcome {
	return Outcome{Message: fmt.Sprintf(format, args...)}
}

// moduleSyntaxRegex detects ES module import/export statements
var moduleSyntaxRegex = regexp.MustCompile(`(?m)^\s*(import|export)\b`)

// Validate checks content according to the kind of path. Kinds without a
// checker always pass.
func Validate(path, content string) Outcome {
	switch filekind.KindOf(path) {
	case filekind.JSON:
		return checkJSON(content)
	case filekind.YAML:
		return checkYAML(content)
	case filekind.Script:
		if filekind.IsTyped(path) || moduleSyntaxRegex.MatchString(content) {
			return checkBalance(content, scriptSyntax)
		}
		return checkScript(path, content)
	case filekind.Go:
		return checkGo(path, content)
	case filekind.Stylesheet:
		return checkBalance(content, stylesheetSyntax)
	default:
		return pass()
	}
}

func checkJSON(content string) Outcome {
	dec := json.NewDecoder(strings.NewReader(content))
	var v any
	if err := dec.Decode(&v); err != nil {
		return fail("invalid JSON: %s", jsonError(content, err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fail("invalid JSON: unexpected data after top-level value at offset %d", dec.InputOffset())
	}
	return pass()
}

// jsonError adds a line number to syntax errors
func jsonError(content string, err error) string {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line := bytes.Count([]byte(content[:min(int(syntaxErr.Offset), len(content))]), []byte("\n")) + 1
		return fmt.Sprintf("%v (line %d)", err, line)
	}
	if errors.Is(err, io.EOF) {
		return "empty document"
	}
	return err.Error()
}

func checkYAML(content string) Outcome {
	dec := yaml.NewDecoder(strings.NewReader(content))
	for {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return pass()
		}
		if err != nil {
			return fail("invalid YAML: %v", err)
		}
	}
}

func checkScript(path, content string) Outcome {
	if _, err := jsparser.ParseFile(nil, path, content, 0); err != nil {
		return fail("invalid script syntax: %v", err)
	}
	return pass()
}

func checkGo(path, content string) Outcome {
	if _, err := parser.ParseFile(token.NewFileSet(), path, content, parser.SkipObjectResolution); err != nil {
		return fail("invalid Go syntax: %v", err)
	}
	return pass()
}
