// Package report renders orchestrator results for people and for programs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/kvit-s/kvit-patch/internal/orchestrator"
	"github.com/kvit-s/kvit-patch/internal/store"
)

// Color definitions for consistent output
var (
	// Gray for explanations and context
	grayColor = color.New(color.FgWhite, color.Faint)

	// Red for errors and removed lines
	errorColor = color.New(color.FgRed)

	// Yellow for warnings
	warnColor = color.New(color.FgYellow)

	// Green for applied files and added lines
	okColor = color.New(color.FgGreen)

	// Cyan for hunk headers
	hunkColor = color.New(color.FgCyan)

	// Highlighted spans inside mismatching lines
	removedSpan = color.New(color.FgRed, color.Bold, color.Underline)
	addedSpan   = color.New(color.FgGreen, color.Bold, color.Underline)
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Padding(0, 1).
	Border(lipgloss.RoundedBorder())

// JSONOutput represents the structured output for --json mode
type JSONOutput struct {
	Result     orchestrator.Result `json:"result"`
	DryRun     bool                `json:"dry_run"`
	Session    string              `json:"session,omitempty"`
	ApplyID    string              `json:"apply_id,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

// Summary carries run facts shown next to a result
type Summary struct {
	DryRun     bool
	Session    string
	ApplyID    string
	DurationMs int64
}

// Writer provides formatted output with optional colors.
type Writer struct {
	quiet     bool
	jsonMode  bool      // Output structured JSON instead of formatted text
	showDiffs bool      // Print the diff of every updated file
	stderr    io.Writer // stderr output (defaults to os.Stderr)
	stdout    io.Writer // stdout output (defaults to os.Stdout)
}

// NewWriter creates a new Writer
func NewWriter() *Writer {
	return &Writer{
		stderr: os.Stderr,
		stdout: os.Stdout,
	}
}

// SetOutput redirects output, mainly for tests
func (w *Writer) SetOutput(stdout, stderr io.Writer) {
	w.stdout = stdout
	w.stderr = stderr
}

// SetQuiet enables or disables quiet mode (suppresses everything but results).
func (w *Writer) SetQuiet(quiet bool) {
	w.quiet = quiet
}

// SetJSONMode enables or disables JSON output mode.
func (w *Writer) SetJSONMode(jsonMode bool) {
	w.jsonMode = jsonMode
}

// IsJSONMode returns true if JSON mode is enabled.
func (w *Writer) IsJSONMode() bool {
	return w.jsonMode
}

// SetShowDiffs enables printing the diff of each updated file
func (w *Writer) SetShowDiffs(show bool) {
	w.showDiffs = show
}

// SetColor forces colors on or off for all writers
func SetColor(enabled bool) {
	color.NoColor = !enabled
}

// Info prints an info message with [info] prefix in gray.
func (w *Writer) Info(msg string) {
	if w.quiet || w.jsonMode {
		return
	}
	grayColor.Fprintf(w.stderr, "[info] %s\n", msg)
}

// Warn prints a warning message with [warn] prefix in yellow.
func (w *Writer) Warn(msg string) {
	if w.quiet {
		return
	}
	warnColor.Fprintf(w.stderr, "[warn] %s\n", msg)
}

// Error prints an error message with [error] prefix in red.
func (w *Writer) Error(msg string) {
	errorColor.Fprintf(w.stderr, "[error] %s\n", msg)
}

// Result prints the outcome of an apply, as JSON in JSON mode
func (w *Writer) Result(res orchestrator.Result, sum Summary) error {
	if w.jsonMode {
		return w.JSON(JSONOutput{
			Result:     res,
			DryRun:     sum.DryRun,
			Session:    sum.Session,
			ApplyID:    sum.ApplyID,
			DurationMs: sum.DurationMs,
		})
	}

	fmt.Fprintln(w.stdout, headerStyle.Render(headline(res, sum.DryRun)))
	if res.Explanation != "" && !w.quiet {
		grayColor.Fprintln(w.stdout, res.Explanation)
	}

	for _, p := range res.UpdatedPaths {
		okColor.Fprintf(w.stdout, "  ✓ %s", p)
		if names := strategyList(res, p); names != "" {
			grayColor.Fprintf(w.stdout, "  [%s]", names)
		}
		fmt.Fprintln(w.stdout)
	}
	for _, p := range res.DeletedPaths {
		okColor.Fprintf(w.stdout, "  - %s (deleted)\n", p)
	}
	for _, fe := range res.Errors {
		w.fileError(fe)
	}

	if w.showDiffs {
		for _, p := range res.UpdatedPaths {
			if d := res.Diffs[p]; d != "" {
				fmt.Fprintln(w.stdout)
				w.Diff(d)
			}
		}
	}
	return nil
}

func headline(res orchestrator.Result, dryRun bool) string {
	parts := []string{
		fmt.Sprintf("%d updated", len(res.UpdatedPaths)),
		fmt.Sprintf("%d deleted", len(res.DeletedPaths)),
		fmt.Sprintf("%d failed", len(res.Errors)),
	}
	line := "kvit-patch: " + strings.Join(parts, ", ")
	if dryRun {
		line += " (dry run)"
	}
	return line
}

func strategyList(res orchestrator.Result, path string) string {
	strategies := res.Strategies[path]
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.String()
	}
	return strings.Join(names, ", ")
}

// fileError prints one failure with whatever diagnostics it carries
func (w *Writer) fileError(fe orchestrator.FileError) {
	path := fe.Path
	if path == "" {
		path = "(patch)"
	}
	errorColor.Fprintf(w.stdout, "  ✗ %s  %s: %s\n", path, fe.Kind, fe.Message)

	d := fe.Details
	if expected, ok := d["expected"].(string); ok {
		if actual, ok := d["actual"].(string); ok {
			fmt.Fprintf(w.stdout, "      expected: %s\n", w.highlight(actual, expected, addedSpan))
			fmt.Fprintf(w.stdout, "      actual:   %s\n", w.highlight(expected, actual, removedSpan))
		} else {
			fmt.Fprintf(w.stdout, "      expected: %s\n      actual:   (end of file)\n", expected)
		}
	}
	if win, ok := d["window"].(string); ok && win != "" {
		indent(w.stdout, win, grayColor)
	}
	if sought, ok := d["sought"].(string); ok {
		fmt.Fprintln(w.stdout, "      sought:")
		indent(w.stdout, sought, grayColor)
	}
	if similar, ok := d["similar_text"].(string); ok {
		fmt.Fprintf(w.stdout, "      closest (line %v, %v): ", d["similar_line"], d["similarity"])
		if to, ok := d["similar_to"].(string); ok {
			fmt.Fprintln(w.stdout, w.highlight(strings.TrimSpace(to), strings.TrimSpace(similar), removedSpan))
		} else {
			fmt.Fprintln(w.stdout, similar)
		}
	}
	if head, ok := d["file_head"].(string); ok && !w.quiet {
		fmt.Fprintln(w.stdout, "      file starts:")
		indent(w.stdout, head, grayColor)
	}
}

// highlight renders to, marking with span the characters that differ from from
func (w *Writer) highlight(from, to string, span *color.Color) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(from, to, false))

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			if color.NoColor {
				b.WriteString("[" + d.Text + "]")
			} else {
				b.WriteString(span.Sprint(d.Text))
			}
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

func indent(out io.Writer, text string, c *color.Color) {
	for _, line := range strings.Split(text, "\n") {
		c.Fprintf(out, "        %s\n", line)
	}
}

// Diff prints a unified diff with +/- colouring
func (w *Writer) Diff(text string) {
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
			color.New(color.Bold).Fprintln(w.stdout, line)
		case strings.HasPrefix(line, "@@"):
			hunkColor.Fprintln(w.stdout, line)
		case strings.HasPrefix(line, "+"):
			okColor.Fprintln(w.stdout, line)
		case strings.HasPrefix(line, "-"):
			errorColor.Fprintln(w.stdout, line)
		default:
			fmt.Fprintln(w.stdout, line)
		}
	}
}

// Sessions lists stored sessions
func (w *Writer) Sessions(list []store.SessionInfo) error {
	if w.jsonMode {
		return w.JSON(list)
	}
	if len(list) == 0 {
		grayColor.Fprintln(w.stdout, "no sessions")
		return nil
	}
	for _, s := range list {
		fmt.Fprintf(w.stdout, "%-20s %3d files %4d messages  %s  %s\n",
			s.Name, s.FileCount, s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Root)
	}
	return nil
}

// Undone reports a reverted apply
func (w *Writer) Undone(rec store.ApplyRecord, dryRun bool) error {
	if w.jsonMode {
		return w.JSON(map[string]any{"undone": rec.ID, "paths": len(rec.Before), "dry_run": dryRun})
	}
	fmt.Fprintln(w.stdout, headerStyle.Render(fmt.Sprintf("kvit-patch: reverted %d paths", len(rec.Before))))
	for _, p := range slices.Sorted(maps.Keys(rec.Before)) {
		if rec.Before[p].Existed {
			okColor.Fprintf(w.stdout, "  ✓ %s restored\n", p)
		} else {
			okColor.Fprintf(w.stdout, "  - %s removed\n", p)
		}
	}
	return nil
}

// JSON prints v as indented JSON
func (w *Writer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.stdout, string(data))
	return err
}
