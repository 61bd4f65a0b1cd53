// Package filekind classifies file paths into the content kinds that drive
// location strategies and validation.
package filekind

import (
	"path/filepath"
	"strings"
)

// Kind is a closed set of content kinds. Adding a kind means adding one arm
// to each switch that consumes it.
type Kind int

const (
	// Plain is any text without special handling
	Plain Kind = iota
	// JSON is strict structured data
	JSON
	// YAML is structured data parsed strictly
	YAML
	// Script is JavaScript/TypeScript source
	Script
	// Go is Go source
	Go
	// Stylesheet is CSS-like source matched with normalized punctuation
	Stylesheet
)

var kindNames = map[Kind]string{
	Plain:      "plain",
	JSON:       "json",
	YAML:       "yaml",
	Script:     "script",
	Go:         "go",
	Stylesheet: "stylesheet",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var extKinds = map[string]Kind{
	".json": JSON,
	".yaml": YAML,
	".yml":  YAML,
	".js":   Script,
	".mjs":  Script,
	".cjs":  Script,
	".jsx":  Script,
	".ts":   Script,
	".tsx":  Script,
	".go":   Go,
	".css":  Stylesheet,
	".scss": Stylesheet,
	".less": Stylesheet,
}

// KindOf returns the content kind for path based on its extension
func KindOf(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if k, ok := extKinds[ext]; ok {
		return k
	}
	return Plain
}

// IsTyped reports whether the extension names a dialect with syntax beyond
// plain JavaScript (TypeScript or JSX), which the script parser does not accept.
func IsTyped(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".tsx", ".jsx":
		return true
	}
	return false
}
