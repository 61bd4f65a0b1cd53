// Package patcherr defines the error taxonomy shared by the diff, patch and
// orchestration packages.
package patcherr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a patch failure.
type Kind string

const (
	// InvalidDiff - unified diff is structurally malformed (missing headers or hunks)
	InvalidDiff Kind = "INVALID_DIFF"

	// MalformedHunk - an @@ header could not be parsed
	MalformedHunk Kind = "MALFORMED_HUNK"

	// OverlapHunks - hunks are out of order or overlap
	OverlapHunks Kind = "OVERLAP_HUNKS"

	// ContextMismatch - a context line did not match the original at its position
	ContextMismatch Kind = "CONTEXT_MISMATCH"

	// DeleteMismatch - a removed line did not match the original at its position
	DeleteMismatch Kind = "DELETE_MISMATCH"

	// UnknownSign - a hunk line has an unrecognized prefix
	UnknownSign Kind = "UNKNOWN_SIGN"

	// LocationNotFound - a context-patch hunk could not be placed
	LocationNotFound Kind = "LOCATION_NOT_FOUND"

	// ValidationFailed - the patched content failed its content check
	ValidationFailed Kind = "VALIDATION_FAILED"

	// FileNotFound - update or delete of a path that is not in the working set
	FileNotFound Kind = "FILE_NOT_FOUND"
)

// Error is a classified patch error. Details holds structured diagnostics
// (expected/actual text, file samples) for callers that render them.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	Details map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ToJSON returns the error as a flat map for structured output
func (e *Error) ToJSON() map[string]any {
	result := map[string]any{
		"kind":    string(e.Kind),
		"message": e.Message,
	}
	if e.Path != "" {
		result["path"] = e.Path
	}
	for k, v := range e.Details {
		result[k] = v
	}
	return result
}

// New creates an error of the given kind
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a formatted error of the given kind
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails creates an error carrying structured diagnostics
func WithDetails(kind Kind, msg string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

// WithPath returns a copy of e bound to path. An error that already names a
// path keeps it.
func (e *Error) WithPath(path string) *Error {
	if e.Path != "" {
		return e
	}
	cp := *e
	cp.Path = path
	return &cp
}

// KindOf returns the Kind of err, or "" when err is not (and does not wrap) an *Error
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// As converts any error into an *Error, classifying unknown errors with fallback.
func As(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return New(fallback, err.Error())
}

// Format returns JSON for errors with details and a plain message otherwise
func Format(err error) string {
	var pe *Error
	if errors.As(err, &pe) && len(pe.Details) > 0 {
		jsonBytes, marshalErr := json.MarshalIndent(pe.ToJSON(), "", "  ")
		if marshalErr == nil {
			return string(jsonBytes)
		}
	}
	return fmt.Sprintf("Error: %v", err)
}
