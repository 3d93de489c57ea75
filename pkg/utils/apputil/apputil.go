// Package apputil provides small filesystem helpers used during startup.
package apputil

import (
	"os"
	"path/filepath"
)

// FileExists reports whether a file exists at the given path.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !fi.IsDir()
}

// EnsureDir creates the parent directory of the given file path if it does
// not yet exist.
func EnsureDir(path string) (err error) {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
