package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// FilePersister will persist files. It abstracts away the where and how of
// writing files to the source destination.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// LocalFilePersister will persist files to the local disk.
type LocalFilePersister struct {
	// Fs is the filesystem files are written to. It defaults to the OS
	// filesystem.
	Fs afero.Fs
}

// NewLocalFilePersister returns a LocalFilePersister writing to fs.
func NewLocalFilePersister(fs afero.Fs) *LocalFilePersister {
	return &LocalFilePersister{Fs: fs}
}

func (l *LocalFilePersister) fs() afero.Fs {
	if l.Fs == nil {
		return afero.NewOsFs()
	}
	return l.Fs
}

// Persist writes the contents of data to path, replacing any existing file.
// The data is first written to a temporary file next to path, which is then
// renamed over it, so readers see either the old or the new contents.
func (l *LocalFilePersister) Persist(ctx context.Context, path string, data io.Reader) (err error) {
	fs := l.fs()
	cp := filepath.Clean(path)

	dir := filepath.Dir(cp)
	if err = fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating a local directory %q: %w", dir, err)
	}

	f, err := afero.TempFile(fs, dir, "."+filepath.Base(cp)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating a temporary file in %q: %w", dir, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp)
		}
	}()

	if _, err = io.Copy(f, data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing to %q: %w", tmp, err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing %q: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing the local file %q: %w", tmp, err)
	}
	if err = ctx.Err(); err != nil {
		return fmt.Errorf("persisting %q: %w", cp, err)
	}
	if err = fs.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("setting permissions of %q: %w", tmp, err)
	}
	if err = fs.Rename(tmp, cp); err != nil {
		return fmt.Errorf("renaming %q to %q: %w", tmp, cp, err)
	}

	return nil
}
