package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Local serves a directory tree on a locally mounted filesystem,
// typically the NAS share mount point.
type Local struct {
	base string
}

func NewLocal(base string) (*Local, error) {
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("stat library root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root %s is not a directory", base)
	}
	return &Local{base: base}, nil
}

func (l *Local) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid path %q", path)
	}
	return filepath.Join(l.base, clean), nil
}

func (l *Local) ListTree(ctx context.Context, root string) ([]Entry, []string, error) {
	full, err := l.resolve(root)
	if err != nil {
		return nil, nil, err
	}

	var entries []Entry
	var skipped []string

	walkErr := filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if d == nil {
				// The root itself failed to stat; nothing to walk.
				return err
			}
			// Enumeration error: drop this subtree, keep walking.
			skipped = append(skipped, path)
			slog.Warn("skipping unreadable subtree", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// File vanished mid-walk; the scanner will classify it as
			// deleted on the next pass.
			skipped = append(skipped, path)
			return nil
		}
		rel, err := filepath.Rel(l.base, path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:  filepath.ToSlash(rel),
			MTime: info.ModTime(),
			Size:  info.Size(),
		})
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return nil, nil, ErrNotFound
		}
		return nil, skipped, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	return entries, skipped, nil
}

func (l *Local) Stat(ctx context.Context, path string) (Entry, error) {
	full, err := l.resolve(path)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Entry{Path: path, MTime: info.ModTime(), Size: info.Size()}, nil
}

func (l *Local) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (l *Local) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
