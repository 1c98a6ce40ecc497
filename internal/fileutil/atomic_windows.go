//go:build windows

// Package fileutil writes files so that readers never observe a partial write.
package fileutil

import (
	"os"
	"path/filepath"
)

// WriteFile replaces path with data through a temporary file in the same
// directory, creating parent directories.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return err
	}
	return nil
}
