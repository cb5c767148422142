package models

import (
	"time"

	"github.com/google/uuid"
)

// Person groups recurring faces into one identity for an owner.
// Encoding holds the running centroid of the member face encodings.
// FaceCount is denormalized and must always equal the number of Face
// rows whose PersonID points here.
type Person struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	OwnerID     uuid.UUID  `json:"owner_id" db:"owner_id"`
	Name        string     `json:"name" db:"name"`
	IsNamed     bool       `json:"is_named" db:"is_named"`
	FaceCount   int        `json:"face_count" db:"face_count"`
	Encoding    []float32  `json:"-" db:"encoding"`
	CoverFaceID *uuid.UUID `json:"cover_face_id,omitempty" db:"cover_face_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Face is one detected face on a media item. PersonID is a weak
// reference: the resolver reassigns it, and deleting a person nulls it.
type Face struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	MediaID    uuid.UUID  `json:"media_id" db:"media_id"`
	PersonID   *uuid.UUID `json:"person_id,omitempty" db:"person_id"`
	X          float32    `json:"x" db:"x"` // bounding box, normalized 0-1
	Y          float32    `json:"y" db:"y"`
	Width      float32    `json:"width" db:"width"`
	Height     float32    `json:"height" db:"height"`
	Encoding   []float32  `json:"-" db:"encoding"`
	Confidence float32    `json:"confidence" db:"confidence"`
	CropKey    string     `json:"crop_key,omitempty" db:"crop_key"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
