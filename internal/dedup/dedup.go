// Package dedup classifies candidate files against already-ingested
// media. Exact duplicates (same strong hash, same owner) are rejected;
// perceptual near-duplicates are only flagged, never merged — false
// positives there would destroy user data, so the call stays with the
// user.
package dedup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
)

type Verdict int

const (
	Accept Verdict = iota
	ExactDuplicate
	NearDuplicate
)

func (v Verdict) String() string {
	switch v {
	case ExactDuplicate:
		return "exact_duplicate"
	case NearDuplicate:
		return "near_duplicate"
	default:
		return "accept"
	}
}

// Classification carries the verdict and, for duplicates, the existing
// media row it collides with.
type Classification struct {
	Verdict        Verdict
	Of             *models.Media
	FileHash       string
	PerceptualHash *string
}

// MediaIndex is the lookup surface the deduplicator needs from the
// record store. Both methods consider only non-deleted rows.
type MediaIndex interface {
	MediaByHash(ctx context.Context, ownerID uuid.UUID, fileHash string) (*models.Media, error)
	MediaWithPerceptualHash(ctx context.Context, ownerID uuid.UUID) ([]models.Media, error)
}

type Deduplicator struct {
	index       MediaIndex
	maxDistance int // Hamming distance threshold for near-duplicates
}

func New(index MediaIndex, maxDistance int) *Deduplicator {
	return &Deduplicator{index: index, maxDistance: maxDistance}
}

// Classify computes the strong and perceptual hashes of data and checks
// them against the owner's existing media. The perceptual hash is only
// computed for photos; video near-duplicate detection is out of scope.
func (d *Deduplicator) Classify(ctx context.Context, ownerID uuid.UUID, data []byte, mediaType models.MediaType) (Classification, error) {
	fileHash := StrongHash(bytes.NewReader(data))

	existing, err := d.index.MediaByHash(ctx, ownerID, fileHash)
	if err != nil {
		return Classification{}, fmt.Errorf("hash lookup: %w", err)
	}
	if existing != nil {
		return Classification{Verdict: ExactDuplicate, Of: existing, FileHash: fileHash}, nil
	}

	var phash *string
	if mediaType == models.MediaTypePhoto {
		if h, err := PerceptualHash(data); err == nil {
			phash = &h
		}
		// An undecodable image still gets ingested; it just carries no
		// perceptual hash.
	}

	cls := Classification{Verdict: Accept, FileHash: fileHash, PerceptualHash: phash}

	if phash == nil {
		return cls, nil
	}

	candidates, err := d.index.MediaWithPerceptualHash(ctx, ownerID)
	if err != nil {
		return Classification{}, fmt.Errorf("perceptual lookup: %w", err)
	}
	for i := range candidates {
		c := &candidates[i]
		if c.PerceptualHash == nil {
			continue
		}
		dist, err := HammingDistance(*phash, *c.PerceptualHash)
		if err != nil {
			continue
		}
		if dist <= d.maxDistance {
			cls.Verdict = NearDuplicate
			cls.Of = c
			return cls, nil
		}
	}

	return cls, nil
}

// StrongHash returns the SHA-256 content digest in hex.
func StrongHash(r io.Reader) string {
	h := sha256.New()
	_, _ = io.Copy(h, r)
	return hex.EncodeToString(h.Sum(nil))
}
