package models

import (
	"time"

	"github.com/google/uuid"
)

type MediaType string

const (
	MediaTypePhoto MediaType = "photo"
	MediaTypeVideo MediaType = "video"
)

// Media is one ingested file from the library share.
// A row is created once per accepted file and mutated in place as each
// extraction capability completes. The pipeline never deletes rows;
// is_deleted is owned by the serving layer.
type Media struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OwnerID        uuid.UUID `json:"owner_id" db:"owner_id"`
	Filename       string    `json:"filename" db:"filename"`
	OriginalPath   string    `json:"original_path" db:"original_path"`
	FileHash       string    `json:"file_hash" db:"file_hash"`
	PerceptualHash *string   `json:"perceptual_hash,omitempty" db:"perceptual_hash"`
	FileSize       int64     `json:"file_size" db:"file_size"`
	MimeType       string    `json:"mime_type" db:"mime_type"`
	MediaType      MediaType `json:"media_type" db:"media_type"`

	Width  *int `json:"width,omitempty" db:"width"`
	Height *int `json:"height,omitempty" db:"height"`

	ThumbSmallKey  string `json:"thumb_small_key,omitempty" db:"thumb_small_key"`
	ThumbMediumKey string `json:"thumb_medium_key,omitempty" db:"thumb_medium_key"`
	ThumbLargeKey  string `json:"thumb_large_key,omitempty" db:"thumb_large_key"`

	// Per-capability completion flags. Each is flipped to true only after
	// that capability succeeded, independently of the others.
	EmbeddingProcessed bool `json:"embedding_processed" db:"embedding_processed"`
	FaceProcessed      bool `json:"face_processed" db:"face_processed"`
	ObjectProcessed    bool `json:"object_processed" db:"object_processed"`

	Embedding        []float32         `json:"-" db:"embedding"`
	ObjectDetections []ObjectDetection `json:"object_detections,omitempty" db:"object_detections"`

	IsDeleted bool       `json:"is_deleted" db:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	IndexedAt time.Time `json:"indexed_at" db:"indexed_at"`
}

// ObjectDetection is one detected object, stored as JSON on the media row.
type ObjectDetection struct {
	Label      string     `json:"label"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2 normalized 0-1
}
