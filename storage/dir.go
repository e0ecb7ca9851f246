package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Dir is a temporary directory, such as a browser's user data directory,
// that is removed once it's no longer needed.
type Dir struct {
	Dir string

	fs afero.Fs
}

// MakeDir creates a new temporary directory in the OS temp directory. The
// directory name starts with prefix.
func MakeDir(fs afero.Fs, prefix string) (*Dir, error) {
	dir, err := afero.TempDir(fs, os.TempDir(), prefix)
	if err != nil {
		return nil, fmt.Errorf("creating a temporary directory: %w", err)
	}

	return &Dir{Dir: dir, fs: fs}, nil
}

// Cleanup removes the directory and everything in it. It is safe to call
// more than once.
func (d *Dir) Cleanup() error {
	if d == nil || d.Dir == "" {
		return nil
	}
	if err := d.fs.RemoveAll(filepath.Clean(d.Dir)); err != nil {
		return fmt.Errorf("removing %q: %w", d.Dir, err)
	}

	return nil
}
