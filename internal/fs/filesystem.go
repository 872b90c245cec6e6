// Package fs holds the filesystem helpers shared by the daemon: the afero
// filesystem it runs on, root resolution and archive exclusion patterns.
package fs

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// NewOSFs returns the real filesystem.
func NewOSFs() afero.Fs {
	return afero.NewOsFs()
}

// ResolveRoot makes rawPath absolute and checks that it is a directory.
// A symlink to a directory is accepted and kept as given.
func ResolveRoot(fsys afero.Fs, rawPath string) (string, error) {
	if rawPath == "" {
		return "", fmt.Errorf("no root directory given")
	}
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := fsys.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root is not a directory: %s", absPath)
	}
	return absPath, nil
}
