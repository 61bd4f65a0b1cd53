package orchestrator

import (
	"maps"
	"slices"
)

// maxHistory bounds the per-path stack of prior versions
const maxHistory = 16

// version is one prior state of a path
type version struct {
	content string
	exists  bool
}

// Snapshot is the working set of files plus, per path, a short stack of
// prior versions used to roll back or revert the most recent changes.
type Snapshot struct {
	files   map[string]string
	history map[string][]version
}

// NewSnapshot copies files into a new snapshot
func NewSnapshot(files map[string]string) *Snapshot {
	s := &Snapshot{history: make(map[string][]version)}
	s.files = maps.Clone(files)
	if s.files == nil {
		s.files = make(map[string]string)
	}
	return s
}

// Get returns the content of path and whether it exists
func (s *Snapshot) Get(path string) (string, bool) {
	content, ok := s.files[path]
	return content, ok
}

// Push records the current state of path before a speculative write
func (s *Snapshot) Push(path string) {
	content, ok := s.files[path]
	stack := append(s.history[path], version{content: content, exists: ok})
	if len(stack) > maxHistory {
		stack = stack[len(stack)-maxHistory:]
	}
	s.history[path] = stack
}

// Pop restores the most recently pushed state of path. It reports false
// when there is nothing to restore.
func (s *Snapshot) Pop(path string) bool {
	stack := s.history[path]
	if len(stack) == 0 {
		return false
	}
	prev := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(s.history, path)
	} else {
		s.history[path] = stack[:len(stack)-1]
	}
	if prev.exists {
		s.files[path] = prev.content
	} else {
		delete(s.files, path)
	}
	return true
}

// Write sets the content of path
func (s *Snapshot) Write(path, content string) {
	s.files[path] = content
}

// Remove deletes path from the working set
func (s *Snapshot) Remove(path string) {
	delete(s.files, path)
}

// Files returns a copy of the working set
func (s *Snapshot) Files() map[string]string {
	return maps.Clone(s.files)
}

// Paths returns the sorted paths of the working set
func (s *Snapshot) Paths() []string {
	return slices.Sorted(maps.Keys(s.files))
}

// Depth returns the number of stored prior versions of path
func (s *Snapshot) Depth(path string) int {
	return len(s.history[path])
}
