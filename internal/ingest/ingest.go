// Package ingest applies detected file changes to the record store:
// new and modified files are hashed, deduplicated and registered as
// media, deleted files are soft-deleted, and the signature store is
// kept in sync throughout.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/dedup"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/internal/scanner"
	"github.com/your-org/photovault/internal/source"
)

// Store is the ingestor's view of the record store.
type Store interface {
	CreateMedia(ctx context.Context, m *models.Media) error
	MarkMediaDeleted(ctx context.Context, ownerID uuid.UUID, path string) error
	UpsertTrackedFile(ctx context.Context, t models.TrackedFile) error
	DeleteTrackedFile(ctx context.Context, ownerID uuid.UUID, path string) error
}

type Ingestor struct {
	src         source.Source
	dedup       *dedup.Deduplicator
	store       Store
	quickDigest bool
}

func New(src source.Source, dd *dedup.Deduplicator, store Store, useQuickDigest bool) *Ingestor {
	return &Ingestor{src: src, dedup: dd, store: store, quickDigest: useQuickDigest}
}

// Apply processes one file change. It returns true when a media row was
// created. Exact duplicates are rejected but still tracked, so the same
// file is not re-hashed on every scan.
func (i *Ingestor) Apply(ctx context.Context, ownerID uuid.UUID, change models.FileChange) (bool, error) {
	switch change.Kind {
	case models.ChangeNew, models.ChangeModified:
		return i.applyUpsert(ctx, ownerID, change)
	case models.ChangeDeleted:
		return false, i.applyDelete(ctx, ownerID, change.Path)
	case models.ChangeUnchanged:
		return false, i.refreshSignature(ctx, ownerID, change)
	default:
		return false, fmt.Errorf("unknown change kind %q", change.Kind)
	}
}

func (i *Ingestor) applyUpsert(ctx context.Context, ownerID uuid.UUID, change models.FileChange) (bool, error) {
	mediaType, ok := scanner.MediaTypeOf(change.Path)
	if !ok {
		return false, fmt.Errorf("not a media file: %s", change.Path)
	}

	data, err := i.src.ReadBytes(ctx, change.Path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", change.Path, err)
	}

	cls, err := i.dedup.Classify(ctx, ownerID, data, mediaType)
	if err != nil {
		return false, fmt.Errorf("classify %s: %w", change.Path, err)
	}

	// A modified file is a new content version; the old row keeps its
	// derived artifacts under soft delete.
	if change.Kind == models.ChangeModified {
		if err := i.store.MarkMediaDeleted(ctx, ownerID, change.Path); err != nil {
			return false, fmt.Errorf("retire previous version: %w", err)
		}
	}

	created := false
	switch cls.Verdict {
	case dedup.ExactDuplicate:
		observability.DuplicatesRejected.Inc()
		slog.Info("exact duplicate rejected",
			"path", change.Path, "existing", cls.Of.OriginalPath, "hash", cls.FileHash)

	case dedup.NearDuplicate, dedup.Accept:
		if cls.Verdict == dedup.NearDuplicate {
			observability.NearDuplicatesFlagged.Inc()
			slog.Info("near duplicate accepted",
				"path", change.Path, "similar_to", cls.Of.OriginalPath)
		}
		m := &models.Media{
			ID:             uuid.New(),
			OwnerID:        ownerID,
			Filename:       path.Base(change.Path),
			OriginalPath:   change.Path,
			FileHash:       cls.FileHash,
			PerceptualHash: cls.PerceptualHash,
			FileSize:       int64(len(data)),
			MimeType:       mimeTypeOf(change.Path),
			MediaType:      mediaType,
		}
		if err := i.store.CreateMedia(ctx, m); err != nil {
			return false, fmt.Errorf("create media: %w", err)
		}
		created = true
	}

	if err := i.trackFile(ctx, ownerID, change); err != nil {
		return created, err
	}
	return created, nil
}

func (i *Ingestor) applyDelete(ctx context.Context, ownerID uuid.UUID, p string) error {
	if err := i.store.MarkMediaDeleted(ctx, ownerID, p); err != nil {
		return fmt.Errorf("mark deleted %s: %w", p, err)
	}
	if err := i.store.DeleteTrackedFile(ctx, ownerID, p); err != nil {
		return fmt.Errorf("untrack %s: %w", p, err)
	}
	return nil
}

// refreshSignature re-records the signature of a file whose content is
// unchanged but whose stored mtime or size drifted, so the quick digest
// is not recomputed on every scan.
func (i *Ingestor) refreshSignature(ctx context.Context, ownerID uuid.UUID, change models.FileChange) error {
	if change.Old == nil || change.New == nil {
		return nil
	}
	if change.Old.MTime.Equal(change.New.MTime) && change.Old.Size == change.New.Size {
		return nil
	}
	return i.trackFile(ctx, ownerID, change)
}

func (i *Ingestor) trackFile(ctx context.Context, ownerID uuid.UUID, change models.FileChange) error {
	t := models.TrackedFile{
		OwnerID: ownerID,
		Path:    change.Path,
		MTime:   change.New.MTime,
		Size:    change.New.Size,
	}
	if i.quickDigest {
		digest, err := scanner.QuickDigest(ctx, i.src, change.Path, change.New.Size)
		if err != nil {
			slog.Warn("quick digest failed", "path", change.Path, "error", err)
		} else {
			t.QuickDigest = &digest
		}
	}
	if err := i.store.UpsertTrackedFile(ctx, t); err != nil {
		return fmt.Errorf("track %s: %w", change.Path, err)
	}
	return nil
}

func mimeTypeOf(p string) string {
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
