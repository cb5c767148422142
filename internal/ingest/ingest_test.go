package ingest

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/dedup"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/source"
)

type fakeSource struct {
	files map[string][]byte
}

func (f *fakeSource) ListTree(ctx context.Context, root string) ([]source.Entry, []string, error) {
	return nil, nil, nil
}

func (f *fakeSource) Stat(ctx context.Context, path string) (source.Entry, error) {
	data, ok := f.files[path]
	if !ok {
		return source.Entry{}, source.ErrNotFound
	}
	return source.Entry{Path: path, Size: int64(len(data))}, nil
}

func (f *fakeSource) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, source.ErrNotFound
	}
	return data, nil
}

type readSeekCloser struct{ *bytes.Reader }

func (readSeekCloser) Close() error { return nil }

func (f *fakeSource) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, source.ErrNotFound
	}
	return readSeekCloser{bytes.NewReader(data)}, nil
}

// fakeStore backs both the ingestor's store and the deduplicator's
// index. Like the live store, hash and perceptual lookups see only
// non-deleted rows.
type fakeStore struct {
	media   []*models.Media
	tracked map[string]models.TrackedFile
}

func newFakeStore() *fakeStore {
	return &fakeStore{tracked: make(map[string]models.TrackedFile)}
}

func (f *fakeStore) CreateMedia(ctx context.Context, m *models.Media) error {
	f.media = append(f.media, m)
	return nil
}

func (f *fakeStore) MarkMediaDeleted(ctx context.Context, ownerID uuid.UUID, path string) error {
	for _, m := range f.media {
		if m.OwnerID == ownerID && m.OriginalPath == path && !m.IsDeleted {
			m.IsDeleted = true
		}
	}
	return nil
}

func (f *fakeStore) UpsertTrackedFile(ctx context.Context, t models.TrackedFile) error {
	f.tracked[t.Path] = t
	return nil
}

func (f *fakeStore) DeleteTrackedFile(ctx context.Context, ownerID uuid.UUID, path string) error {
	delete(f.tracked, path)
	return nil
}

func (f *fakeStore) MediaByHash(ctx context.Context, ownerID uuid.UUID, fileHash string) (*models.Media, error) {
	for _, m := range f.media {
		if m.OwnerID == ownerID && m.FileHash == fileHash && !m.IsDeleted {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MediaWithPerceptualHash(ctx context.Context, ownerID uuid.UUID) ([]models.Media, error) {
	var out []models.Media
	for _, m := range f.media {
		if m.OwnerID == ownerID && m.PerceptualHash != nil && !m.IsDeleted {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) liveMedia() []*models.Media {
	var out []*models.Media
	for _, m := range f.media {
		if !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out
}

func newIngestor(src *fakeSource, store *fakeStore, quickDigest bool) *Ingestor {
	return New(src, dedup.New(store, 8), store, quickDigest)
}

func newChange(kind models.ChangeKind, path string, size int64) models.FileChange {
	sig := &models.Signature{MTime: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), Size: size}
	c := models.FileChange{Path: path, Kind: kind, New: sig}
	if kind != models.ChangeNew {
		c.Old = &models.Signature{MTime: sig.MTime.Add(-time.Hour), Size: size}
	}
	return c
}

func TestApplyNewCreatesMediaAndTracks(t *testing.T) {
	owner := uuid.New()
	content := []byte("jpeg bytes")
	src := &fakeSource{files: map[string][]byte{"trip/a.jpg": content}}
	store := newFakeStore()
	ing := newIngestor(src, store, true)

	created, err := ing.Apply(context.Background(), owner, newChange(models.ChangeNew, "trip/a.jpg", int64(len(content))))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !created {
		t.Fatal("want media created")
	}
	if len(store.media) != 1 {
		t.Fatalf("media rows = %d, want 1", len(store.media))
	}

	m := store.media[0]
	if m.Filename != "a.jpg" || m.OriginalPath != "trip/a.jpg" {
		t.Errorf("media names = %s / %s", m.Filename, m.OriginalPath)
	}
	if m.MediaType != models.MediaTypePhoto {
		t.Errorf("media type = %s", m.MediaType)
	}
	if m.MimeType != "image/jpeg" {
		t.Errorf("mime type = %s", m.MimeType)
	}
	if m.FileHash == "" {
		t.Error("file hash must be set")
	}
	if m.FileSize != int64(len(content)) {
		t.Errorf("file size = %d", m.FileSize)
	}

	tf, ok := store.tracked["trip/a.jpg"]
	if !ok {
		t.Fatal("file must be tracked after ingest")
	}
	if tf.QuickDigest == nil {
		t.Error("quick digest must be recorded when enabled")
	}
}

func TestApplyExactDuplicateTracksWithoutMedia(t *testing.T) {
	owner := uuid.New()
	content := []byte("same bytes")
	hash := dedup.StrongHash(bytes.NewReader(content))

	src := &fakeSource{files: map[string][]byte{"copy.jpg": content}}
	store := newFakeStore()
	store.media = append(store.media, &models.Media{
		ID: uuid.New(), OwnerID: owner, OriginalPath: "original.jpg", FileHash: hash,
	})
	ing := newIngestor(src, store, false)

	created, err := ing.Apply(context.Background(), owner, newChange(models.ChangeNew, "copy.jpg", int64(len(content))))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if created {
		t.Error("exact duplicate must not create media")
	}
	if len(store.media) != 1 {
		t.Errorf("media rows = %d, want 1", len(store.media))
	}
	if _, ok := store.tracked["copy.jpg"]; !ok {
		t.Error("duplicate must still be tracked so it is not re-hashed next scan")
	}
}

func TestApplyModifiedRetiresOldVersion(t *testing.T) {
	owner := uuid.New()
	content := []byte("new version bytes")
	src := &fakeSource{files: map[string][]byte{"a.jpg": content}}
	store := newFakeStore()
	store.media = append(store.media, &models.Media{
		ID: uuid.New(), OwnerID: owner, OriginalPath: "a.jpg", FileHash: "old-hash",
	})
	ing := newIngestor(src, store, false)

	created, err := ing.Apply(context.Background(), owner, newChange(models.ChangeModified, "a.jpg", int64(len(content))))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !created {
		t.Fatal("modified file must create a new media row")
	}
	if !store.media[0].IsDeleted {
		t.Error("previous version must be soft-deleted first")
	}
	live := store.liveMedia()
	if len(live) != 1 || live[0].FileHash == "old-hash" {
		t.Fatalf("live rows = %d, want exactly the new version", len(live))
	}
}

func TestApplyDeleteThenRestoreReingests(t *testing.T) {
	owner := uuid.New()
	content := []byte("restored bytes")
	src := &fakeSource{files: map[string][]byte{"a.jpg": content}}
	store := newFakeStore()
	ing := newIngestor(src, store, false)
	ctx := context.Background()

	if _, err := ing.Apply(ctx, owner, newChange(models.ChangeNew, "a.jpg", int64(len(content)))); err != nil {
		t.Fatalf("Apply new: %v", err)
	}

	del := models.FileChange{Path: "a.jpg", Kind: models.ChangeDeleted, Old: &models.Signature{Size: int64(len(content))}}
	if _, err := ing.Apply(ctx, owner, del); err != nil {
		t.Fatalf("Apply delete: %v", err)
	}
	if len(store.liveMedia()) != 0 {
		t.Fatal("delete must leave no live media")
	}

	// The file reappears with the same bytes. The soft-deleted row must
	// not shadow it as an exact duplicate.
	created, err := ing.Apply(ctx, owner, newChange(models.ChangeNew, "a.jpg", int64(len(content))))
	if err != nil {
		t.Fatalf("Apply restore: %v", err)
	}
	if !created {
		t.Fatal("restored file must be ingested again")
	}
	live := store.liveMedia()
	if len(live) != 1 {
		t.Fatalf("live rows = %d, want 1", len(live))
	}
	if live[0].OriginalPath != "a.jpg" {
		t.Errorf("live path = %s", live[0].OriginalPath)
	}
}

func TestApplyModifiedRevertKeepsOneLiveRow(t *testing.T) {
	owner := uuid.New()
	original := []byte("take one")
	src := &fakeSource{files: map[string][]byte{"a.jpg": original}}
	store := newFakeStore()
	ing := newIngestor(src, store, false)
	ctx := context.Background()

	if _, err := ing.Apply(ctx, owner, newChange(models.ChangeNew, "a.jpg", int64(len(original)))); err != nil {
		t.Fatalf("Apply new: %v", err)
	}

	// Edit, then revert to the original bytes. Each modification retires
	// the previous row, so the reverted hash collides only with a
	// soft-deleted row and must ingest cleanly.
	src.files["a.jpg"] = []byte("take two")
	if _, err := ing.Apply(ctx, owner, newChange(models.ChangeModified, "a.jpg", int64(len("take two")))); err != nil {
		t.Fatalf("Apply edit: %v", err)
	}
	src.files["a.jpg"] = original
	created, err := ing.Apply(ctx, owner, newChange(models.ChangeModified, "a.jpg", int64(len(original))))
	if err != nil {
		t.Fatalf("Apply revert: %v", err)
	}
	if !created {
		t.Fatal("reverted content must become a live media row again")
	}

	live := store.liveMedia()
	if len(live) != 1 {
		t.Fatalf("live rows = %d, want 1", len(live))
	}
	wantHash := dedup.StrongHash(bytes.NewReader(original))
	if live[0].FileHash != wantHash {
		t.Errorf("live hash = %s, want the original content's hash", live[0].FileHash)
	}
}

func TestApplyDeletedSoftDeletesAndUntracks(t *testing.T) {
	owner := uuid.New()
	store := newFakeStore()
	store.tracked["a.jpg"] = models.TrackedFile{Path: "a.jpg"}
	store.media = append(store.media, &models.Media{
		ID: uuid.New(), OwnerID: owner, OriginalPath: "a.jpg", FileHash: "h",
	})
	ing := newIngestor(&fakeSource{}, store, false)

	change := models.FileChange{Path: "a.jpg", Kind: models.ChangeDeleted, Old: &models.Signature{Size: 10}}
	created, err := ing.Apply(context.Background(), owner, change)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if created {
		t.Error("delete must not create media")
	}
	if !store.media[0].IsDeleted {
		t.Error("media must be soft-deleted")
	}
	if _, ok := store.tracked["a.jpg"]; ok {
		t.Error("deleted file must be untracked")
	}
}

func TestApplyUnchangedRefreshesDriftedSignatureOnly(t *testing.T) {
	owner := uuid.New()
	content := []byte("stable bytes")
	src := &fakeSource{files: map[string][]byte{"a.jpg": content}}
	store := newFakeStore()
	ing := newIngestor(src, store, false)

	// Identical signatures: nothing to do.
	sig := models.Signature{MTime: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), Size: int64(len(content))}
	same := models.FileChange{Path: "a.jpg", Kind: models.ChangeUnchanged, Old: &sig, New: &sig}
	if _, err := ing.Apply(context.Background(), owner, same); err != nil {
		t.Fatalf("Apply same: %v", err)
	}
	if len(store.tracked) != 0 {
		t.Errorf("unchanged with stable signature must not write, tracked = %v", store.tracked)
	}

	// Drifted mtime: signature row is refreshed, no media created.
	drifted := models.Signature{MTime: sig.MTime.Add(time.Hour), Size: sig.Size}
	drift := models.FileChange{Path: "a.jpg", Kind: models.ChangeUnchanged, Old: &sig, New: &drifted}
	if _, err := ing.Apply(context.Background(), owner, drift); err != nil {
		t.Fatalf("Apply drift: %v", err)
	}
	tf, ok := store.tracked["a.jpg"]
	if !ok {
		t.Fatal("drifted signature must be re-recorded")
	}
	if !tf.MTime.Equal(drifted.MTime) {
		t.Errorf("tracked mtime = %v, want %v", tf.MTime, drifted.MTime)
	}
	if len(store.media) != 0 {
		t.Error("signature refresh must not create media")
	}
}

func TestApplyRejectsNonMediaPath(t *testing.T) {
	ing := newIngestor(&fakeSource{}, newFakeStore(), false)
	if _, err := ing.Apply(context.Background(), uuid.New(), newChange(models.ChangeNew, "notes.txt", 4)); err == nil {
		t.Fatal("non-media path must be rejected")
	}
}
