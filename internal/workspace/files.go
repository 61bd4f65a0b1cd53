package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// binarySniffLen is how much of a file is checked for NUL bytes
const binarySniffLen = 8000

// ErrBinary is returned for files that cannot be patched as text
var ErrBinary = errors.New("binary file")

// LoadFiles reads paths relative to root. Paths that do not exist are left
// out of the map so that a patch can create them.
func LoadFiles(root string, paths []string) (map[string]string, error) {
	files := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		if bytes.IndexByte(data[:min(len(data), binarySniffLen)], 0) >= 0 {
			return nil, fmt.Errorf("%s: %w", p, ErrBinary)
		}
		files[p] = string(data)
	}
	return files, nil
}

// Commit writes the updated paths from files and removes the deleted ones.
// It stops at the first failure.
func Commit(root string, files map[string]string, updated, deleted []string) error {
	for _, p := range updated {
		content, ok := files[p]
		if !ok {
			return fmt.Errorf("commit %s: not in working set", p)
		}
		if err := WriteFileAtomic(filepath.Join(root, p), content); err != nil {
			return fmt.Errorf("commit %s: %w", p, err)
		}
	}
	for _, p := range deleted {
		if err := os.Remove(filepath.Join(root, p)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	return nil
}

// WriteFileAtomic writes content to a file atomically using temp file + rename
func WriteFileAtomic(fullPath, content string) error {
	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	// Write atomically - write to temp file first, then rename
	tempFile, err := os.CreateTemp(parentDir, ".patch-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // Clean up temp file in case of error

	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Keep the original file's permissions
	if info, _ := os.Stat(fullPath); info != nil {
		_ = os.Chmod(tempPath, info.Mode())
	} else {
		_ = os.Chmod(tempPath, 0644)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		return fmt.Errorf("atomic rename failed: %w", err)
	}
	return nil
}
