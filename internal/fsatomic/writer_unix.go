//go:build !windows

package fsatomic

import (
	"os"

	"github.com/google/renameio/v2"
)

// WriteFile writes data to path atomically: a temp file in the same
// directory is written and fsynced, then renamed over path. Readers never
// observe a partial write.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
