// Package security validates request-supplied names before they are joined
// into data root and work root paths.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath, once cleaned, stays
// inside safeDir. The check is lexical so it works on any fsutil.FileSystem,
// including in-memory ones.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	cleanPath := filepath.Clean(filePath)
	cleanDir := filepath.Clean(safeDir)

	relPath, err := filepath.Rel(cleanDir, cleanPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}

	// Reject paths that escape the safe directory
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// ValidateFileName checks that name is a plain file name with no directory
// component, so it can only refer to an entry of the directory it is
// joined to.
func ValidateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, `/\`), name != filepath.Base(name):
		return fmt.Errorf("file name %q must not contain a directory", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("file name %q contains a NUL byte", name)
	}
	return nil
}
