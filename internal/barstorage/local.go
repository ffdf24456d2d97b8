package barstorage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"barchive/internal/barerr"
	"barchive/internal/barhandle"
)

// Local stores archive objects as plain files under a root directory. It is
// always mounted: Mount/Unmount are no-ops.
type Local struct {
	Root string
}

// NewLocal returns a Local adapter rooted at dir, creating it if necessary.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage root %s: %w", dir, err)
	}
	return &Local{Root: dir}, nil
}

func (l *Local) path(name string) string { return filepath.Join(l.Root, name) }

func (l *Local) Put(ctx context.Context, name string, src barhandle.Handle, progress func(n int64)) (ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := l.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", barerr.ErrNotReachable, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("%w: %v", barerr.ErrNotReachable, err)
	}
	defer f.Close()

	var written int64
	buf := make([]byte, 256<<10)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("%w: %v", barerr.ErrNotReachable, werr)
			}
			written += int64(n)
			if progress != nil {
				progress(written)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}
	return ObjectID(name), nil
}

func (l *Local) Get(ctx context.Context, name string) (barhandle.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := barhandle.Open(l.path(name), barhandle.Read)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, barerr.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", barerr.ErrNotReachable, err)
	}
	return h, nil
}

func (l *Local) List(ctx context.Context, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		root := l.path(prefix)
		walkRoot := l.Root
		filepath.WalkDir(walkRoot, func(path string, d os.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				yield(ObjectInfo{}, err)
				return nil
			}
			if d.IsDir() {
				return nil
			}
			rel, rerr := filepath.Rel(walkRoot, path)
			if rerr != nil {
				return nil
			}
			if prefix != "" && !hasPrefix(rel, prefix) {
				return nil
			}
			info, ierr := d.Info()
			if ierr != nil {
				yield(ObjectInfo{}, ierr)
				return nil
			}
			_ = root
			if !yield(ObjectInfo{Name: rel, Size: info.Size(), ModTime: info.ModTime().Unix()}, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (l *Local) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, barerr.ErrNotFound)
		}
		return fmt.Errorf("%w: %v", barerr.ErrNotReachable, err)
	}
	return nil
}

func (l *Local) Mount(ctx context.Context) error   { return nil }
func (l *Local) Unmount(ctx context.Context) error { return nil }
func (l *Local) IsMounted() bool                   { return true }
