// Package stats provides statistics tracking for patch applies.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/kvit-s/kvit-patch/internal/ctxpatch"
	"github.com/kvit-s/kvit-patch/internal/orchestrator"
)

// ApplyStats tracks cumulative statistics across one or more applies
type ApplyStats struct {
	Applies      int
	PatchBytes   int
	FilesUpdated int
	FilesDeleted int
	FilesFailed  int
	TotalTime    time.Duration

	Dialects   map[orchestrator.Dialect]int
	Strategies map[string]int // location strategy name -> files that used it
	ErrorKinds map[string]int
}

// ApplyStatsJSON is the JSON output format for apply stats
type ApplyStatsJSON struct {
	Applies    int     `json:"applies"`
	PatchBytes int     `json:"patch_bytes"`
	Seconds    float64 `json:"seconds"`
	Files      struct {
		Updated int `json:"updated"`
		Deleted int `json:"deleted"`
		Failed  int `json:"failed"`
	} `json:"files"`
	Dialects   map[string]int `json:"dialects,omitempty"`
	Strategies map[string]int `json:"strategies,omitempty"`
	ErrorKinds map[string]int `json:"error_kinds,omitempty"`
}

// New returns empty stats
func New() *ApplyStats {
	return &ApplyStats{
		Dialects:   make(map[orchestrator.Dialect]int),
		Strategies: make(map[string]int),
		ErrorKinds: make(map[string]int),
	}
}

// Add folds one apply result into the totals
func (s *ApplyStats) Add(raw string, res orchestrator.Result, elapsed time.Duration) {
	s.Applies++
	s.PatchBytes += len(raw)
	s.TotalTime += elapsed
	s.FilesUpdated += len(res.UpdatedPaths)
	s.FilesDeleted += len(res.DeletedPaths)
	s.FilesFailed += len(res.Errors)
	if res.Dialect != "" {
		s.Dialects[res.Dialect]++
	}
	for _, strategies := range res.Strategies {
		// count each strategy once per file
		seen := make(map[string]bool)
		for _, st := range strategies {
			if name := st.String(); !seen[name] {
				seen[name] = true
				s.Strategies[name]++
			}
		}
	}
	for _, fe := range res.Errors {
		s.ErrorKinds[string(fe.Kind)]++
	}
}

// FuzzyFiles counts files that needed a strategy other than exact matching,
// once per strategy used
func (s *ApplyStats) FuzzyFiles() int {
	n := 0
	for name, count := range s.Strategies {
		if name != ctxpatch.ExactContext.String() && name != ctxpatch.ExactRemoval.String() {
			n += count
		}
	}
	return n
}

// ToJSON converts ApplyStats to its JSON representation
func (s *ApplyStats) ToJSON() ApplyStatsJSON {
	var j ApplyStatsJSON
	j.Applies = s.Applies
	j.PatchBytes = s.PatchBytes
	j.Seconds = s.TotalTime.Seconds()
	j.Files.Updated = s.FilesUpdated
	j.Files.Deleted = s.FilesDeleted
	j.Files.Failed = s.FilesFailed
	if len(s.Dialects) > 0 {
		j.Dialects = make(map[string]int, len(s.Dialects))
		for d, n := range s.Dialects {
			j.Dialects[string(d)] = n
		}
	}
	if len(s.Strategies) > 0 {
		j.Strategies = maps.Clone(s.Strategies)
	}
	if len(s.ErrorKinds) > 0 {
		j.ErrorKinds = maps.Clone(s.ErrorKinds)
	}
	return j
}

// PrintTo outputs the stats in a formatted JSON block to the given writer
func (s *ApplyStats) PrintTo(w io.Writer) {
	jsonBytes, _ := json.MarshalIndent(s.ToJSON(), "", "  ")
	fmt.Fprintln(w, "=== APPLY STATS START ===")
	fmt.Fprintln(w, string(jsonBytes))
	fmt.Fprintln(w, "=== APPLY STATS END ===")
}

// Summary is a one-line human rendering
func (s *ApplyStats) Summary() string {
	line := fmt.Sprintf("%d applies, %d updated, %d deleted, %d failed, %d fuzzy, %.2fs",
		s.Applies, s.FilesUpdated, s.FilesDeleted, s.FilesFailed, s.FuzzyFiles(), s.TotalTime.Seconds())
	for _, kind := range slices.Sorted(maps.Keys(s.ErrorKinds)) {
		line += fmt.Sprintf(", %s=%d", kind, s.ErrorKinds[kind])
	}
	return line
}
