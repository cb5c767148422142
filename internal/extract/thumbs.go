package extract

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/storage"
	"github.com/your-org/photovault/internal/vision"
)

// Thumbnail long-edge sizes. Small backs grid views, medium the
// lightbox, large fullscreen zoom.
var thumbSizes = []struct {
	name string
	edge int
}{
	{"small", 256},
	{"medium", 768},
	{"large", 1600},
}

func (e *Extractor) generateThumbnails(ctx context.Context, m *models.Media, img image.Image) error {
	if e.blobs == nil {
		return nil
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	keys := make(map[string]string, len(thumbSizes))
	for _, size := range thumbSizes {
		thumb := img
		if width > size.edge || height > size.edge {
			thumb = imaging.Fit(img, size.edge, size.edge, imaging.Lanczos)
		}
		key := storage.ThumbKey(m.ID, size.name)
		if err := e.blobs.PutObject(ctx, key, vision.EncodeJPEG(thumb, 85), "image/jpeg"); err != nil {
			return fmt.Errorf("store %s thumbnail: %w", size.name, err)
		}
		keys[size.name] = key
	}

	if err := e.store.SetMediaThumbnails(ctx, m.ID, keys["small"], keys["medium"], keys["large"], width, height); err != nil {
		return fmt.Errorf("record thumbnails: %w", err)
	}
	m.ThumbSmallKey = keys["small"]
	m.ThumbMediumKey = keys["medium"]
	m.ThumbLargeKey = keys["large"]
	m.Width, m.Height = &width, &height
	return nil
}
