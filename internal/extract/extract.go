// Package extract runs the per-media feature extraction stage: semantic
// embedding, face detection and identity matching, and object
// detection. Each capability completes independently and flips its own
// flag on the media row, so a crashed or missing model never blocks the
// other capabilities and re-runs only redo what is still pending.
package extract

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/internal/source"
	"github.com/your-org/photovault/internal/storage"
	"github.com/your-org/photovault/internal/vision"
)

// Embedder produces a fixed-dimension semantic embedding for an image.
type Embedder interface {
	Embed(img image.Image) ([]float32, error)
	Dim() int
}

// FaceDetector finds faces and their encodings in an image.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]vision.DetectedFace, error)
}

// ObjectDetector labels the objects present in an image.
type ObjectDetector interface {
	DetectObjects(img image.Image) ([]models.ObjectDetection, error)
}

// FaceMatcher resolves a fresh encoding against the owner's known
// persons. Implemented by faces.Resolver.
type FaceMatcher interface {
	Match(encoding []float32, persons []models.Person) *models.Person
}

// Store is the extraction stage's view of the record store.
type Store interface {
	PendingExtraction(ctx context.Context, ownerID *uuid.UUID) ([]models.Media, error)
	SetMediaEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	SetMediaFaceProcessed(ctx context.Context, id uuid.UUID) error
	SetMediaObjects(ctx context.Context, id uuid.UUID, detections []models.ObjectDetection) error
	SetMediaThumbnails(ctx context.Context, id uuid.UUID, small, medium, large string, width, height int) error
	InsertFace(ctx context.Context, f *models.Face) error
	PersonsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Person, error)
}

// BlobStore receives derived artifacts (thumbnails, face crops).
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type Extractor struct {
	store   Store
	blobs   BlobStore
	src     source.Source
	matcher FaceMatcher

	// Any of these may be nil when the model is not configured; the
	// capability is then skipped and its flag stays unset.
	embedder Embedder
	faceDet  FaceDetector
	objDet   ObjectDetector
}

func New(store Store, blobs BlobStore, src source.Source, matcher FaceMatcher,
	embedder Embedder, faceDet FaceDetector, objDet ObjectDetector) *Extractor {
	return &Extractor{
		store:    store,
		blobs:    blobs,
		src:      src,
		matcher:  matcher,
		embedder: embedder,
		faceDet:  faceDet,
		objDet:   objDet,
	}
}

// Pending lists the media still waiting on at least one capability.
func (e *Extractor) Pending(ctx context.Context, ownerID *uuid.UUID) ([]models.Media, error) {
	return e.store.PendingExtraction(ctx, ownerID)
}

// ProcessMedia runs every still-pending capability on one media item.
// Returns the number of capabilities that failed; already-completed
// capabilities are never redone. A non-empty caps list restricts the
// run to those capabilities.
func (e *Extractor) ProcessMedia(ctx context.Context, m *models.Media, caps ...string) int {
	want := func(name string) bool {
		if len(caps) == 0 {
			return true
		}
		for _, c := range caps {
			if c == name {
				return true
			}
		}
		return false
	}

	if m.MediaType != models.MediaTypePhoto {
		// Video frame extraction is not wired up; flip the flags so the
		// item does not stay pending forever.
		e.skipNonPhoto(ctx, m)
		return 0
	}

	data, err := e.src.ReadBytes(ctx, m.OriginalPath)
	if err != nil {
		slog.Error("read media for extraction", "media", m.ID, "path", m.OriginalPath, "error", err)
		return e.pendingCount(m, want)
	}
	img, err := vision.DecodeImage(data)
	if err != nil {
		slog.Error("decode media for extraction", "media", m.ID, "path", m.OriginalPath, "error", err)
		return e.pendingCount(m, want)
	}

	if m.ThumbSmallKey == "" {
		if err := e.generateThumbnails(ctx, m, img); err != nil {
			slog.Warn("generate thumbnails", "media", m.ID, "error", err)
		}
	}

	failed := 0
	if !m.EmbeddingProcessed && e.embedder != nil && want("embedding") {
		if err := e.runCapability("embedding", func() error {
			return e.extractEmbedding(ctx, m, img)
		}); err != nil {
			slog.Error("embedding extraction failed", "media", m.ID, "error", err)
			failed++
		} else {
			m.EmbeddingProcessed = true
		}
	}
	if !m.FaceProcessed && e.faceDet != nil && want("face") {
		if err := e.runCapability("face", func() error {
			return e.extractFaces(ctx, m, img)
		}); err != nil {
			slog.Error("face extraction failed", "media", m.ID, "error", err)
			failed++
		} else {
			m.FaceProcessed = true
		}
	}
	if !m.ObjectProcessed && e.objDet != nil && want("object") {
		if err := e.runCapability("object", func() error {
			return e.extractObjects(ctx, m, img)
		}); err != nil {
			slog.Error("object extraction failed", "media", m.ID, "error", err)
			failed++
		} else {
			m.ObjectProcessed = true
		}
	}
	return failed
}

func (e *Extractor) pendingCount(m *models.Media, want func(string) bool) int {
	n := 0
	if !m.EmbeddingProcessed && e.embedder != nil && want("embedding") {
		n++
	}
	if !m.FaceProcessed && e.faceDet != nil && want("face") {
		n++
	}
	if !m.ObjectProcessed && e.objDet != nil && want("object") {
		n++
	}
	return n
}

func (e *Extractor) skipNonPhoto(ctx context.Context, m *models.Media) {
	if !m.EmbeddingProcessed {
		if err := e.store.SetMediaEmbedding(ctx, m.ID, nil); err == nil {
			m.EmbeddingProcessed = true
		}
	}
	if !m.FaceProcessed {
		if err := e.store.SetMediaFaceProcessed(ctx, m.ID); err == nil {
			m.FaceProcessed = true
		}
	}
	if !m.ObjectProcessed {
		if err := e.store.SetMediaObjects(ctx, m.ID, nil); err == nil {
			m.ObjectProcessed = true
		}
	}
	slog.Debug("skipped extraction for non-photo media", "media", m.ID, "type", m.MediaType)
}

// runCapability wraps one capability with timing, failure metrics and
// panic recovery, so a crashing model run fails only that capability.
func (e *Extractor) runCapability(name string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s panicked: %v", name, r)
		}
		observability.ExtractionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.ExtractionFailures.WithLabelValues(name).Inc()
		}
	}()
	return fn()
}

func (e *Extractor) extractEmbedding(ctx context.Context, m *models.Media, img image.Image) error {
	vec, err := e.embedder.Embed(img)
	if err != nil {
		return err
	}
	vec = fitDim(vec, e.embedder.Dim(), m.ID)
	return e.store.SetMediaEmbedding(ctx, m.ID, vec)
}

func (e *Extractor) extractFaces(ctx context.Context, m *models.Media, img image.Image) error {
	detected, err := e.faceDet.DetectFaces(img)
	if err != nil {
		return err
	}

	var persons []models.Person
	if len(detected) > 0 && e.matcher != nil {
		persons, err = e.store.PersonsByOwner(ctx, m.OwnerID)
		if err != nil {
			return fmt.Errorf("load persons: %w", err)
		}
	}

	for _, d := range detected {
		face := &models.Face{
			ID:         uuid.New(),
			MediaID:    m.ID,
			X:          d.X,
			Y:          d.Y,
			Width:      d.Width,
			Height:     d.Height,
			Encoding:   fitDim(d.Encoding, vision.FaceEncodingDim, m.ID),
			Confidence: d.Confidence,
		}

		if e.matcher != nil {
			if p := e.matcher.Match(face.Encoding, persons); p != nil {
				face.PersonID = &p.ID
				observability.FacesMatched.Inc()
			}
		}

		if e.blobs != nil && d.Crop != nil {
			key := storage.FaceCropKey(face.ID)
			if err := e.blobs.PutObject(ctx, key, vision.EncodeJPEG(d.Crop, 85), "image/jpeg"); err != nil {
				slog.Warn("store face crop", "face", face.ID, "error", err)
			} else {
				face.CropKey = key
			}
		}

		if err := e.store.InsertFace(ctx, face); err != nil {
			return fmt.Errorf("insert face: %w", err)
		}
		observability.FacesDetected.Inc()
	}

	return e.store.SetMediaFaceProcessed(ctx, m.ID)
}

func (e *Extractor) extractObjects(ctx context.Context, m *models.Media, img image.Image) error {
	detections, err := e.objDet.DetectObjects(img)
	if err != nil {
		return err
	}
	return e.store.SetMediaObjects(ctx, m.ID, detections)
}

// fitDim pads with zeros or truncates a vector to the expected
// dimension. A mismatch means the configured model does not match the
// schema; the vector is still stored so the pipeline keeps moving.
func fitDim(vec []float32, dim int, mediaID uuid.UUID) []float32 {
	if len(vec) == dim {
		return vec
	}
	slog.Warn("encoding dimension mismatch", "media", mediaID, "got", len(vec), "want", dim)
	out := make([]float32, dim)
	copy(out, vec)
	return out
}
