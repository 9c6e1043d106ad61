// Package fsatomic provides crash-safe atomic file writes for the
// session journal, lockfile, and progress log.
package fsatomic

import (
	"os"
	"path/filepath"
)

// DefaultMode is the permission used for lockfiles and session journals.
const DefaultMode = 0o600

// WriteAtomic ensures parent directories exist, then writes data to path
// such that any reader observes either the pre-existing content or the
// complete new content, never a partial file. mode of 0 selects
// DefaultMode.
func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	if mode == 0 {
		mode = DefaultMode
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return WriteFile(path, data, mode)
}
