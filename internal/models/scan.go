package models

import (
	"time"

	"github.com/google/uuid"
)

// Signature is the cheap change-detection pair for one file.
type Signature struct {
	MTime time.Time `json:"mtime"`
	Size  int64     `json:"size"`
}

// TrackedFile is the signature store's view of one physical file.
// One row per (owner, path); updated on every detected change and
// removed when the file disappears from the share.
type TrackedFile struct {
	OwnerID     uuid.UUID `db:"owner_id"`
	Path        string    `db:"path"`
	MTime       time.Time `db:"mtime"`
	Size        int64     `db:"size"`
	QuickDigest *string   `db:"quick_digest"`
	SeenAt      time.Time `db:"seen_at"`
}

func (t TrackedFile) Signature() Signature {
	return Signature{MTime: t.MTime, Size: t.Size}
}

type ChangeKind string

const (
	ChangeNew       ChangeKind = "new"
	ChangeModified  ChangeKind = "modified"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeUnchanged ChangeKind = "unchanged"
)

// FileChange is one classified difference between the share and the
// signature store.
type FileChange struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	Old  *Signature `json:"old,omitempty"`
	New  *Signature `json:"new,omitempty"`
}

// ScanStats summarises one change-detection pass.
type ScanStats struct {
	Scanned   int `json:"scanned"`
	New       int `json:"new"`
	Modified  int `json:"modified"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}
