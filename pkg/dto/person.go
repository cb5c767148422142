package dto

import (
	"time"

	"github.com/google/uuid"
)

type PersonResponse struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Name        string     `json:"name"`
	IsNamed     bool       `json:"is_named"`
	FaceCount   int        `json:"face_count"`
	CoverFaceID *uuid.UUID `json:"cover_face_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type RenamePersonRequest struct {
	Name string `json:"name" binding:"required"`
}

type MergePersonsRequest struct {
	SourceIDs []uuid.UUID `json:"source_ids" binding:"required,min=1"`
}

type MergePersonsResponse struct {
	TargetID   uuid.UUID `json:"target_id"`
	FacesMoved int       `json:"faces_moved"`
}

type FaceResponse struct {
	ID         uuid.UUID  `json:"id"`
	MediaID    uuid.UUID  `json:"media_id"`
	PersonID   *uuid.UUID `json:"person_id,omitempty"`
	X          float32    `json:"x"`
	Y          float32    `json:"y"`
	Width      float32    `json:"width"`
	Height     float32    `json:"height"`
	Confidence float32    `json:"confidence"`
	CropKey    string     `json:"crop_key,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SearchMediaRequest queries the similarity index with a raw embedding.
type SearchMediaRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	Limit     int       `json:"limit"`
}

type SearchMediaResult struct {
	MediaID uuid.UUID `json:"media_id"`
	Path    string    `json:"path"`
	Score   float32   `json:"score"`
}

// SearchFacesRequest finds the persons closest to a face encoding.
type SearchFacesRequest struct {
	Encoding []float32 `json:"encoding" binding:"required"`
	Limit    int       `json:"limit"`
}

type SearchFacesResult struct {
	PersonID uuid.UUID `json:"person_id"`
	Name     string    `json:"name"`
	Distance float32   `json:"distance"`
}
