// Package scanner implements incremental change detection against the
// signature store: only files whose (mtime, size) pair moved are ever
// re-hashed or re-processed.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/internal/source"
)

var photoExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".heic": true, ".heif": true, ".bmp": true, ".tiff": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".webm": true, ".m4v": true,
}

// MediaTypeOf classifies a path by extension. ok is false for files the
// pipeline does not ingest.
func MediaTypeOf(p string) (models.MediaType, bool) {
	ext := strings.ToLower(path.Ext(p))
	if photoExtensions[ext] {
		return models.MediaTypePhoto, true
	}
	if videoExtensions[ext] {
		return models.MediaTypeVideo, true
	}
	return "", false
}

// SignatureStore is the scanner's view of the tracked-file table.
type SignatureStore interface {
	TrackedFiles(ctx context.Context, ownerID uuid.UUID, root string) (map[string]models.TrackedFile, error)
}

type Scanner struct {
	src         source.Source
	sigs        SignatureStore
	quickDigest bool
}

func New(src source.Source, sigs SignatureStore, useQuickDigest bool) *Scanner {
	return &Scanner{src: src, sigs: sigs, quickDigest: useQuickDigest}
}

// Detect walks the share under root and classifies every tracked or
// present file as new, modified, deleted, or unchanged. Unchanged files
// are classified from (mtime, size) alone and trigger no hashing.
func (s *Scanner) Detect(ctx context.Context, ownerID uuid.UUID, root string) ([]models.FileChange, models.ScanStats, error) {
	var stats models.ScanStats

	tracked, err := s.sigs.TrackedFiles(ctx, ownerID, root)
	if err != nil {
		return nil, stats, fmt.Errorf("load tracked files: %w", err)
	}

	entries, skipped, err := s.src.ListTree(ctx, root)
	if err != nil {
		return nil, stats, fmt.Errorf("list tree %s: %w", root, err)
	}
	stats.Errors += len(skipped)

	current := make(map[string]source.Entry, len(entries))
	for _, e := range entries {
		if _, ok := MediaTypeOf(e.Path); !ok {
			continue
		}
		current[e.Path] = e
	}
	stats.Scanned = len(current)
	observability.FilesScanned.Add(float64(len(current)))

	changes := make([]models.FileChange, 0, len(current))

	for p, e := range current {
		newSig := &models.Signature{MTime: e.MTime, Size: e.Size}

		tf, known := tracked[p]
		if !known {
			stats.New++
			changes = append(changes, models.FileChange{Path: p, Kind: models.ChangeNew, New: newSig})
			continue
		}

		oldSig := tf.Signature()
		if oldSig.MTime.Equal(e.MTime) && oldSig.Size == e.Size {
			stats.Unchanged++
			changes = append(changes, models.FileChange{Path: p, Kind: models.ChangeUnchanged, Old: &oldSig, New: newSig})
			continue
		}

		// The signature moved. Coarse filesystem timestamps (FAT, some
		// SMB servers) can shift mtime without a content change; the
		// head+tail digest settles it without a full strong hash.
		if s.quickDigest && oldSig.Size == e.Size && tf.QuickDigest != nil {
			digest, derr := QuickDigest(ctx, s.src, p, e.Size)
			if derr == nil && digest == *tf.QuickDigest {
				stats.Unchanged++
				changes = append(changes, models.FileChange{Path: p, Kind: models.ChangeUnchanged, Old: &oldSig, New: newSig})
				continue
			}
			if derr != nil {
				slog.Warn("quick digest failed", "path", p, "error", derr)
			}
		}

		stats.Modified++
		changes = append(changes, models.FileChange{Path: p, Kind: models.ChangeModified, Old: &oldSig, New: newSig})
	}

	for p, tf := range tracked {
		if _, present := current[p]; present {
			continue
		}
		oldSig := tf.Signature()
		stats.Deleted++
		changes = append(changes, models.FileChange{Path: p, Kind: models.ChangeDeleted, Old: &oldSig})
	}

	for _, c := range changes {
		observability.FileChanges.WithLabelValues(string(c.Kind)).Inc()
	}

	return changes, stats, nil
}
