package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

// DefaultDir is the scratch directory used when none is configured.
const DefaultDir = "bot/tmp_files"

// Disk stages artifacts as files in a scratch directory.
type Disk struct {
	dir string
}

func NewDisk(dir string) *Disk {
	if dir == "" {
		dir = DefaultDir
	}
	return &Disk{dir: dir}
}

// Stage writes content to dir/name. Parent directories are created and an
// existing file is never overwritten.
func (d *Disk) Stage(ctx context.Context, name string, content io.Reader) (domain.StagedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("stage: invalid name %q", name)
	}
	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	p := filepath.Join(d.dir, name)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	a := &diskArtifact{name: name, path: p}
	n, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = a.Release()
		return nil, fmt.Errorf("stage %s: %w", p, err)
	}
	a.size = n
	return a, nil
}

// Ping checks the scratch directory is writable.
func (d *Disk) Ping(context.Context) error {
	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(d.dir, ".ping-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}

type diskArtifact struct {
	name string
	path string
	size int64
}

func (a *diskArtifact) Name() string     { return a.name }
func (a *diskArtifact) Location() string { return a.path }
func (a *diskArtifact) Size() int64      { return a.size }

func (a *diskArtifact) Open() (io.ReadCloser, error) {
	return os.Open(a.path)
}

// Release deletes the file if present.
func (a *diskArtifact) Release() error {
	if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
