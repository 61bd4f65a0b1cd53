// Package orchestrator applies patches found in free-form model output to an
// in-memory working set of files, validating each result and rolling back
// per file on failure.
package orchestrator

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/kvit-s/kvit-patch/internal/ctxpatch"
	"github.com/kvit-s/kvit-patch/internal/logging"
	"github.com/kvit-s/kvit-patch/internal/patcherr"
	"github.com/kvit-s/kvit-patch/internal/textdiff"
	"github.com/kvit-s/kvit-patch/internal/validate"
)

// Options configures an Orchestrator
type Options struct {
	Logger            *logging.Logger
	ContextLines      int  // context width of the diffs reported in Result.Diffs
	AppendFallback    bool // see ctxpatch.Options
	ConversationLimit int
	SkipValidation    bool
}

// ApplyOptions configures a single Apply call
type ApplyOptions struct {
	// TargetPath names the file for unified hunks that arrive without
	// --- / +++ headers.
	TargetPath string
}

// FileError is a per-file failure
type FileError struct {
	Path    string         `json:"path"`
	Kind    patcherr.Kind  `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is the outcome of one Apply call
type Result struct {
	UpdatedPaths []string                       `json:"updated_paths"`
	DeletedPaths []string                       `json:"deleted_paths"`
	Errors       []FileError                    `json:"errors"`
	Explanation  string                         `json:"explanation"`
	Dialect      Dialect                        `json:"dialect"`
	Strategies   map[string][]ctxpatch.Strategy `json:"strategies,omitempty"`
	Diffs        map[string]string              `json:"diffs,omitempty"`
}

// OK reports whether every file applied cleanly
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Changed reports whether any file was updated or deleted
func (r Result) Changed() bool {
	return len(r.UpdatedPaths) > 0 || len(r.DeletedPaths) > 0
}

// Orchestrator owns a working set of files. It is not safe for concurrent use.
type Orchestrator struct {
	snap *Snapshot
	conv *ConversationLog
	opts Options
	log  *logging.Logger
}

// New creates an Orchestrator over a copy of files
func New(files map[string]string, opts Options) *Orchestrator {
	if opts.ContextLines <= 0 {
		opts.ContextLines = textdiff.DefaultContext
	}
	return &Orchestrator{
		snap: NewSnapshot(files),
		conv: NewConversationLog(opts.ConversationLimit),
		opts: opts,
		log:  logging.OrNop(opts.Logger),
	}
}

// Seed replaces the working set and drops all rollback history
func (o *Orchestrator) Seed(files map[string]string) {
	o.snap = NewSnapshot(files)
}

// Files returns a copy of the working set
func (o *Orchestrator) Files() map[string]string {
	return o.snap.Files()
}

// File returns the current content of path
func (o *Orchestrator) File(path string) (string, bool) {
	return o.snap.Get(path)
}

// Revert undoes the most recent committed change to path
func (o *Orchestrator) Revert(path string) error {
	if !o.snap.Pop(path) {
		return patcherr.New(patcherr.FileNotFound, "no earlier version to revert to").WithPath(path)
	}
	o.log.Rollback(path, "revert")
	return nil
}

// AddMessage appends to the conversation log
func (o *Orchestrator) AddMessage(role, content string) {
	o.conv.Add(role, content)
}

// Messages returns the conversation log, oldest first
func (o *Orchestrator) Messages() []Message {
	return o.conv.Messages()
}

// RestoreMessages replaces the conversation log
func (o *Orchestrator) RestoreMessages(msgs []Message) {
	o.conv.Restore(msgs)
}

// ReferencedPaths lists the files a patch in raw would touch, in order of
// first appearance.
func ReferencedPaths(raw string) []string {
	ex := extract(raw)
	var paths []string
	switch ex.Dialect {
	case DialectContext:
		for _, fp := range ctxpatch.Parse(ex.Body) {
			paths = append(paths, fp.Path)
		}
	case DialectUnified:
		paths = segmentPaths(ex.Body)
	}

	seen := make(map[string]bool)
	unique := paths[:0]
	for _, p := range paths {
		if p != "" && !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}
	return unique
}

// Apply extracts a patch from raw model output and applies it file by file.
// A failing file keeps its previous content; other files are unaffected.
func (o *Orchestrator) Apply(raw string, ao ApplyOptions) Result {
	ex := extract(raw)
	res := Result{
		Explanation: ex.Explanation,
		Dialect:     ex.Dialect,
		Strategies:  make(map[string][]ctxpatch.Strategy),
		Diffs:       make(map[string]string),
	}

	switch ex.Dialect {
	case DialectContext:
		patches := ctxpatch.Parse(ex.Body)
		o.log.PatchExtracted(string(ex.Dialect), len(patches), len(ex.Explanation))
		for _, fp := range patches {
			o.applyContextFile(fp, &res)
		}
	case DialectUnified:
		segments := splitSegments(ex.Body)
		o.log.PatchExtracted(string(ex.Dialect), len(segments), len(ex.Explanation))
		if len(segments) == 0 {
			res.addError("", patcherr.New(patcherr.InvalidDiff, "no hunks found in diff"))
		}
		for _, seg := range segments {
			o.applySegment(seg, ao, &res)
		}
	default:
		res.addError("", patcherr.New(patcherr.InvalidDiff, "no patch found in input"))
	}

	for _, fe := range res.Errors {
		o.log.FileFailed(fe.Path, string(fe.Kind), errors.New(fe.Message))
	}
	return res
}

func (o *Orchestrator) applyContextFile(fp ctxpatch.FilePatch, res *Result) {
	start := time.Now()
	current, exists := o.snap.Get(fp.Path)

	o.snap.Push(fp.Path)
	out, err := ctxpatch.ApplyFile(fp, current, exists, ctxpatch.Options{AppendFallback: o.opts.AppendFallback})
	if err != nil {
		o.rollback(fp.Path, err, res)
		return
	}

	if out.Deleted {
		o.snap.Remove(fp.Path)
		res.markDeleted(fp.Path)
		o.log.FileApplied(fp.Path, "delete", nil, time.Since(start))
		return
	}

	if !o.commit(fp.Path, current, out.Content, res) {
		return
	}
	res.Strategies[fp.Path] = append(res.Strategies[fp.Path], out.Strategies...)
	o.log.FileApplied(fp.Path, strings.ToLower(string(fp.Action)), strategyNames(out.Strategies), time.Since(start))
}

func (o *Orchestrator) applySegment(seg segment, ao ApplyOptions, res *Result) {
	start := time.Now()
	text := seg.Text
	if !seg.HasHeaders {
		if ao.TargetPath == "" {
			res.addError("", patcherr.New(patcherr.InvalidDiff, "hunks without file headers and no target path"))
			return
		}
		text = withHeaders(text, ao.TargetPath)
	}

	repaired := false
	if err := textdiff.Validate(text); err != nil {
		fixed, ok := textdiff.Repair(text)
		if !ok {
			res.addError(headerPath(text, ao.TargetPath), err)
			return
		}
		if err := textdiff.Validate(fixed); err != nil {
			res.addError(headerPath(text, ao.TargetPath), err)
			return
		}
		text, repaired = fixed, true
	}

	d, err := textdiff.Parse(text)
	if err != nil {
		res.addError(headerPath(text, ao.TargetPath), err)
		return
	}
	path := d.Path()
	current, exists := o.snap.Get(path)

	if !exists && !d.IsCreation() && !(repaired && pureAddition(d)) {
		res.addError(path, patcherr.New(patcherr.FileNotFound, "diff targets a file that does not exist"))
		return
	}

	o.snap.Push(path)
	var next string
	switch {
	case repaired && pureAddition(d):
		// A headed body without hunk markers is a full-file replacement.
		next = additions(d, textdiff.DetectEOL(current))
	case d.IsCreation():
		next, err = textdiff.Apply("", d)
	default:
		next, err = textdiff.Apply(current, d)
	}
	if err != nil {
		o.rollback(path, err, res)
		return
	}

	if d.IsDeletion() {
		o.snap.Remove(path)
		res.markDeleted(path)
		o.log.FileApplied(path, "delete", nil, time.Since(start))
		return
	}

	if o.commit(path, current, next, res) {
		o.log.FileApplied(path, "update", nil, time.Since(start))
	}
}

// commit validates content and keeps it, or rolls path back. The caller has
// already pushed the previous state.
func (o *Orchestrator) commit(path, previous, content string, res *Result) bool {
	o.snap.Write(path, content)
	if !o.opts.SkipValidation {
		if outcome := validate.Validate(path, content); !outcome.OK {
			o.rollback(path, patcherr.New(patcherr.ValidationFailed, outcome.Message), res)
			return false
		}
	}
	res.markUpdated(path)
	if d := textdiff.Diff(path, previous, content, o.opts.ContextLines); d != "" {
		res.Diffs[path] = d
	}
	return true
}

func (o *Orchestrator) rollback(path string, err error, res *Result) {
	o.snap.Pop(path)
	o.log.Rollback(path, string(patcherr.KindOf(err)))
	res.addError(path, err)
}

func (r *Result) addError(path string, err error) {
	pe := patcherr.As(err, patcherr.InvalidDiff)
	if pe.Path != "" {
		path = pe.Path
	}
	r.Errors = append(r.Errors, FileError{Path: path, Kind: pe.Kind, Message: pe.Message, Details: pe.Details})
}

func (r *Result) markUpdated(path string) {
	if !slices.Contains(r.UpdatedPaths, path) {
		r.UpdatedPaths = append(r.UpdatedPaths, path)
	}
	r.DeletedPaths = slices.DeleteFunc(r.DeletedPaths, func(p string) bool { return p == path })
}

func (r *Result) markDeleted(path string) {
	if !slices.Contains(r.DeletedPaths, path) {
		r.DeletedPaths = append(r.DeletedPaths, path)
	}
	r.UpdatedPaths = slices.DeleteFunc(r.UpdatedPaths, func(p string) bool { return p == path })
	delete(r.Diffs, path)
}

// headerPath best-effort names the file of an unparsable segment
func headerPath(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "+++ ") {
			p := strings.TrimPrefix(strings.TrimSpace(line[4:]), "b/")
			if p != textdiff.DevNull {
				return p
			}
		}
	}
	return fallback
}

func pureAddition(d textdiff.UnifiedDiff) bool {
	for _, h := range d.Hunks {
		for _, l := range h.Lines {
			if l.Sign != textdiff.SignAdd {
				return false
			}
		}
	}
	return len(d.Hunks) > 0
}

func additions(d textdiff.UnifiedDiff, eol string) string {
	var lines []string
	for _, h := range d.Hunks {
		for _, l := range h.Lines {
			lines = append(lines, l.Text)
		}
	}
	return textdiff.LineSequence{Lines: lines, EOL: eol, TrailingNewline: true}.Join()
}

func strategyNames(strategies []ctxpatch.Strategy) []string {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.String()
	}
	return names
}
