package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AccessType defines the type of file access being requested
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
)

// PermissionResult indicates the result of a permission check
type PermissionResult int

const (
	PermissionGranted PermissionResult = iota
	PermissionReadOnly
	PermissionDenied
)

// CheckPathPermission validates if a patch may read or write path. Relative
// paths are resolved against the workspace root.
func (c *Config) CheckPathPermission(path string, accessType AccessType) (PermissionResult, error) {
	absPath := c.resolve(path)

	// Check denied paths first (highest priority)
	for _, denied := range c.Workspace.DeniedPaths {
		if within(absPath, c.resolve(expandPath(denied))) {
			return PermissionDenied, fmt.Errorf("path is in denied_paths: %s", path)
		}
	}

	workspaceAbs, _ := filepath.Abs(c.Workspace.Root)
	if within(absPath, workspaceAbs) {
		return PermissionGranted, nil
	}

	for _, allowed := range c.Workspace.AllowedPaths {
		allowedAbs, _ := filepath.Abs(expandPath(allowed))
		if within(absPath, allowedAbs) {
			return PermissionGranted, nil
		}
	}

	for _, allowedRead := range c.Workspace.AllowedReadPaths {
		allowedReadAbs, _ := filepath.Abs(expandPath(allowedRead))
		if within(absPath, allowedReadAbs) {
			if accessType == AccessWrite {
				return PermissionReadOnly, fmt.Errorf("path is read-only: %s", path)
			}
			return PermissionGranted, nil
		}
	}

	return PermissionDenied, fmt.Errorf("path outside workspace: %s", path)
}

// resolve makes path absolute against the workspace root
func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	abs, _ := filepath.Abs(filepath.Join(c.Workspace.Root, path))
	return abs
}

// within reports whether path is dir or below it
func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
