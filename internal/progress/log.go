// Package progress implements the append-only, size-capped progress.md
// log that the engine writes a short note to after each iteration,
// giving the Prompt Builder recent context to hand back to the agent.
package progress

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ralph-tui/ralph-tui/internal/fsatomic"
)

// Cap is the maximum size progress.md is allowed to grow to. Once an
// append would exceed it, the oldest entries are dropped at the next
// "## " heading boundary.
const Cap = 50 * 1024

// Log manages one progress.md file.
type Log struct {
	path string
}

// NewLog returns a Log for the file at path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append adds entry to the log, truncating from the front at an entry
// boundary if the result would exceed Cap.
func (l *Log) Append(entry string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("creating progress directory: %w", err)
	}

	existing, err := os.ReadFile(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading progress file: %w", err)
	}

	combined := append(existing, []byte(entry)...)
	combined = truncateToBoundary(combined, Cap)

	return fsatomic.WriteAtomic(l.path, combined, 0o600)
}

// Read returns the current contents of progress.md, or empty if it
// doesn't exist yet.
func (l *Log) Read() (string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// truncateToBoundary trims data to at most capBytes by dropping whole
// entries from the front, at the next "## " heading boundary, so the
// result never starts mid-entry.
func truncateToBoundary(data []byte, capBytes int) []byte {
	if len(data) <= capBytes {
		return data
	}
	overflow := len(data) - capBytes
	rest := data[overflow:]
	idx := indexOfBoundary(rest)
	if idx < 0 {
		// No boundary found in the retained tail; keep the cap-sized
		// slice as-is rather than discard everything.
		return rest
	}
	return rest[idx:]
}

func indexOfBoundary(data []byte) int {
	marker := []byte("\n## ")
	for i := 0; i+len(marker) <= len(data); i++ {
		match := true
		for k, b := range marker {
			if data[i+k] != b {
				match = false
				break
			}
		}
		if match {
			return i + 1
		}
	}
	return -1
}
