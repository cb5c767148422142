// Package source abstracts access to the mounted media share. The
// pipeline only ever stats, enumerates, and reads bytes; whether the
// tree lives on local disk or a network mount is invisible to callers.
package source

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound reports that a path does not exist (or vanished between
// enumeration and access). Any other error is an I/O failure.
var ErrNotFound = errors.New("source: file not found")

// Entry describes one file in the tree.
type Entry struct {
	Path  string
	MTime time.Time
	Size  int64
}

// Source is the file-access capability consumed by the scanner and the
// extraction stage.
type Source interface {
	// ListTree enumerates all regular files under root. Directories that
	// fail to enumerate are skipped (that subtree only) and returned in
	// skipped; the walk itself continues.
	ListTree(ctx context.Context, root string) (entries []Entry, skipped []string, err error)

	// Stat returns the current signature of a single file.
	Stat(ctx context.Context, path string) (Entry, error)

	// ReadBytes reads the full content of a file.
	ReadBytes(ctx context.Context, path string) ([]byte, error)

	// Open returns a seekable reader, used for streamed hashing and the
	// head+tail quick digest.
	Open(ctx context.Context, path string) (io.ReadSeekCloser, error)
}
