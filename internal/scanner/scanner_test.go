package scanner

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/source"
)

type fakeSource struct {
	entries []source.Entry
	files   map[string][]byte
}

func (f *fakeSource) ListTree(ctx context.Context, root string) ([]source.Entry, []string, error) {
	return f.entries, nil, nil
}

func (f *fakeSource) Stat(ctx context.Context, path string) (source.Entry, error) {
	for _, e := range f.entries {
		if e.Path == path {
			return e, nil
		}
	}
	return source.Entry{}, source.ErrNotFound
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

type fakeSigStore struct {
	tracked map[string]models.TrackedFile
}

func (f *fakeSigStore) TrackedFiles(ctx context.Context, ownerID uuid.UUID, root string) (map[string]models.TrackedFile, error) {
	out := make(map[string]models.TrackedFile, len(f.tracked))
	for k, v := range f.tracked {
		out[k] = v
	}
	return out, nil
}

func changeByPath(t *testing.T, changes []models.FileChange, path string) models.FileChange {
	t.Helper()
	for _, c := range changes {
		if c.Path == path {
			return c
		}
	}
	t.Fatalf("no change for path %s", path)
	return models.FileChange{}
}

func TestDetectClassifiesChanges(t *testing.T) {
	owner := uuid.New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	src := &fakeSource{entries: []source.Entry{
		{Path: "photos/new.jpg", MTime: base, Size: 100},
		{Path: "photos/same.jpg", MTime: base, Size: 200},
		{Path: "photos/touched.jpg", MTime: base.Add(time.Hour), Size: 300},
		{Path: "notes.txt", MTime: base, Size: 10},
	}}

	sigs := &fakeSigStore{tracked: map[string]models.TrackedFile{
		"photos/same.jpg":    {OwnerID: owner, Path: "photos/same.jpg", MTime: base, Size: 200},
		"photos/touched.jpg": {OwnerID: owner, Path: "photos/touched.jpg", MTime: base, Size: 300},
		"photos/gone.jpg":    {OwnerID: owner, Path: "photos/gone.jpg", MTime: base, Size: 400},
	}}

	sc := New(src, sigs, false)
	changes, stats, err := sc.Detect(context.Background(), owner, "photos")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if stats.Scanned != 3 {
		t.Errorf("scanned = %d, want 3 (txt file must be ignored)", stats.Scanned)
	}
	if stats.New != 1 || stats.Unchanged != 1 || stats.Modified != 1 || stats.Deleted != 1 {
		t.Errorf("stats = %+v, want one of each kind", stats)
	}

	if got := changeByPath(t, changes, "photos/new.jpg").Kind; got != models.ChangeNew {
		t.Errorf("new.jpg kind = %s", got)
	}
	if got := changeByPath(t, changes, "photos/same.jpg").Kind; got != models.ChangeUnchanged {
		t.Errorf("same.jpg kind = %s", got)
	}
	if got := changeByPath(t, changes, "photos/touched.jpg").Kind; got != models.ChangeModified {
		t.Errorf("touched.jpg kind = %s", got)
	}
	del := changeByPath(t, changes, "photos/gone.jpg")
	if del.Kind != models.ChangeDeleted {
		t.Errorf("gone.jpg kind = %s", del.Kind)
	}
	if del.Old == nil || del.Old.Size != 400 {
		t.Errorf("deleted change must carry the old signature, got %+v", del.Old)
	}
}

func TestDetectQuickDigestSuppressesTimestampChurn(t *testing.T) {
	owner := uuid.New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	content := []byte("same bytes either way")

	src := &fakeSource{
		entries: []source.Entry{
			// mtime drifted, size and bytes did not.
			{Path: "a.jpg", MTime: base.Add(2 * time.Hour), Size: int64(len(content))},
		},
		files: map[string][]byte{"a.jpg": content},
	}

	digest, err := QuickDigest(context.Background(), src, "a.jpg", int64(len(content)))
	if err != nil {
		t.Fatalf("QuickDigest: %v", err)
	}

	sigs := &fakeSigStore{tracked: map[string]models.TrackedFile{
		"a.jpg": {OwnerID: owner, Path: "a.jpg", MTime: base, Size: int64(len(content)), QuickDigest: &digest},
	}}

	sc := New(src, sigs, true)
	changes, stats, err := sc.Detect(context.Background(), owner, "")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if stats.Unchanged != 1 || stats.Modified != 0 {
		t.Fatalf("stats = %+v, want timestamp churn classified unchanged", stats)
	}
	if got := changeByPath(t, changes, "a.jpg").Kind; got != models.ChangeUnchanged {
		t.Errorf("kind = %s, want unchanged", got)
	}
}

func TestDetectQuickDigestCatchesRealEdit(t *testing.T) {
	owner := uuid.New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	oldContent := []byte("original original!")
	newContent := []byte("rewritten rewrite!") // same length, new bytes

	src := &fakeSource{
		entries: []source.Entry{
			{Path: "a.jpg", MTime: base.Add(time.Hour), Size: int64(len(newContent))},
		},
		files: map[string][]byte{"a.jpg": newContent},
	}

	oldDigest, err := QuickDigest(context.Background(), &fakeSource{files: map[string][]byte{"a.jpg": oldContent}}, "a.jpg", int64(len(oldContent)))
	if err != nil {
		t.Fatalf("QuickDigest: %v", err)
	}

	sigs := &fakeSigStore{tracked: map[string]models.TrackedFile{
		"a.jpg": {OwnerID: owner, Path: "a.jpg", MTime: base, Size: int64(len(oldContent)), QuickDigest: &oldDigest},
	}}

	sc := New(src, sigs, true)
	changes, _, err := sc.Detect(context.Background(), owner, "")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got := changeByPath(t, changes, "a.jpg").Kind; got != models.ChangeModified {
		t.Errorf("kind = %s, want modified for same-size content edit", got)
	}
}

func TestQuickDigestDependsOnHeadTailAndSize(t *testing.T) {
	ctx := context.Background()
	a := []byte("identical prefix . suffix identical")
	b := []byte("identical prefix X suffix identical")

	src := &fakeSource{files: map[string][]byte{"a": a, "b": b}}

	da, err := QuickDigest(ctx, src, "a", int64(len(a)))
	if err != nil {
		t.Fatalf("QuickDigest a: %v", err)
	}
	db, err := QuickDigest(ctx, src, "b", int64(len(b)))
	if err != nil {
		t.Fatalf("QuickDigest b: %v", err)
	}
	if da == db {
		t.Error("digests of different content must differ")
	}

	da2, err := QuickDigest(ctx, src, "a", int64(len(a)))
	if err != nil {
		t.Fatalf("QuickDigest a again: %v", err)
	}
	if da != da2 {
		t.Error("digest must be deterministic")
	}
}

func TestMediaTypeOf(t *testing.T) {
	if mt, ok := MediaTypeOf("trip/IMG_0001.JPG"); !ok || mt != models.MediaTypePhoto {
		t.Errorf("JPG = (%s, %v), want photo", mt, ok)
	}
	if mt, ok := MediaTypeOf("trip/clip.mov"); !ok || mt != models.MediaTypeVideo {
		t.Errorf("mov = (%s, %v), want video", mt, ok)
	}
	if _, ok := MediaTypeOf("readme.md"); ok {
		t.Error("md must not be ingestable")
	}
	if _, ok := MediaTypeOf("noextension"); ok {
		t.Error("extension-less path must not be ingestable")
	}
}
