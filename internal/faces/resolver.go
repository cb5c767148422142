// Package faces resolves recurring face observations into stable
// person identities: greedy nearest-centroid matching for fresh
// detections, single-linkage clustering for the unassigned backlog, and
// user-driven merging of identities.
package faces

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
)

// Store is the record-store surface the resolver needs. Implementations
// must keep face_count adjustments atomic with the person_id write.
type Store interface {
	// PersonsByOwner returns all persons ordered by creation time,
	// oldest first.
	PersonsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Person, error)
	GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
	CreatePerson(ctx context.Context, p *models.Person) error
	DeletePerson(ctx context.Context, id uuid.UUID) error
	UpdatePersonEncoding(ctx context.Context, id uuid.UUID, enc []float32) error
	SetCoverFace(ctx context.Context, personID uuid.UUID, faceID *uuid.UUID) error

	// UnassignedFaces returns the owner's faces with no person, oldest
	// first.
	UnassignedFaces(ctx context.Context, ownerID uuid.UUID) ([]models.Face, error)
	// AssignFace moves a face between persons (either side may be nil),
	// decrementing and incrementing face counts atomically.
	AssignFace(ctx context.Context, faceID uuid.UUID, from, to *uuid.UUID) error
	// ReassignFaces points every face of person from at person to and
	// folds the face counts, returning how many faces moved.
	ReassignFaces(ctx context.Context, from, to uuid.UUID) (int, error)
}

type Resolver struct {
	store     Store
	tolerance float64
}

func NewResolver(store Store, tolerance float64) *Resolver {
	return &Resolver{store: store, tolerance: tolerance}
}

// Distance is the Euclidean distance between two encodings. Length
// mismatches compare only the shorter prefix; persisted encodings are
// already padded to a fixed dimension so this only matters in tests.
func Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Centroid is the arithmetic mean of a set of encodings.
func Centroid(encodings [][]float32) []float32 {
	if len(encodings) == 0 {
		return nil
	}
	dim := len(encodings[0])
	sum := make([]float64, dim)
	for _, enc := range encodings {
		for i := 0; i < dim && i < len(enc); i++ {
			sum[i] += float64(enc[i])
		}
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(len(encodings)))
	}
	return out
}

// Match picks the closest person within tolerance, or nil. Among
// candidates at equal distance the earliest-created person wins;
// persons must be ordered oldest first, as PersonsByOwner guarantees.
func (r *Resolver) Match(encoding []float32, persons []models.Person) *models.Person {
	var best *models.Person
	bestDist := math.Inf(1)

	for i := range persons {
		p := &persons[i]
		if len(p.Encoding) == 0 {
			continue
		}
		d := Distance(encoding, p.Encoding)
		if d > r.tolerance {
			continue
		}
		// Strict less-than keeps the earlier person on ties.
		if d < bestDist {
			best = p
			bestDist = d
		}
	}

	return best
}

// ClusterUnassigned groups the owner's unassigned faces by
// single-linkage: faces land in the same cluster when connected by any
// chain of pairwise distances within tolerance. Clusters of two or more
// become a new person; singletons stay unassigned for lack of evidence.
// Returns the number of persons created.
func (r *Resolver) ClusterUnassigned(ctx context.Context, ownerID uuid.UUID) (int, error) {
	unassigned, err := r.store.UnassignedFaces(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("load unassigned faces: %w", err)
	}
	if len(unassigned) == 0 {
		return 0, nil
	}

	clusters := clusterSingleLinkage(unassigned, r.tolerance)

	created := 0
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}

		encodings := make([][]float32, len(cluster))
		for i, fi := range cluster {
			encodings[i] = unassigned[fi].Encoding
		}

		person := &models.Person{
			ID:       uuid.New(),
			OwnerID:  ownerID,
			Encoding: Centroid(encodings),
		}
		if err := r.store.CreatePerson(ctx, person); err != nil {
			return created, fmt.Errorf("create person: %w", err)
		}

		for _, fi := range cluster {
			if err := r.store.AssignFace(ctx, unassigned[fi].ID, nil, &person.ID); err != nil {
				return created, fmt.Errorf("assign face: %w", err)
			}
		}

		coverID := unassigned[cluster[0]].ID
		if err := r.store.SetCoverFace(ctx, person.ID, &coverID); err != nil {
			return created, fmt.Errorf("set cover face: %w", err)
		}

		created++
		observability.PersonsCreated.Inc()
	}

	slog.Info("face clustering finished",
		"owner", ownerID,
		"unassigned", len(unassigned),
		"clusters", len(clusters),
		"persons_created", created,
	)

	return created, nil
}

// clusterSingleLinkage returns clusters as index lists into faces,
// using union-find over all within-tolerance pairs.
func clusterSingleLinkage(fcs []models.Face, tolerance float64) [][]int {
	parent := make([]int, len(fcs))
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < len(fcs); i++ {
		for j := i + 1; j < len(fcs); j++ {
			if Distance(fcs[i].Encoding, fcs[j].Encoding) <= tolerance {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := range fcs {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	// Deterministic order: clusters sorted by their lowest member index.
	clusters := make([][]int, 0, len(groups))
	for i := range fcs {
		if g, ok := groups[i]; ok && find(i) == i {
			clusters = append(clusters, g)
		}
	}
	return clusters
}

// Merge consolidates the source persons into target: every source face
// is reassigned to target, face counts are folded in, the target
// centroid becomes the count-weighted mean, and the emptied sources are
// deleted. Returns how many faces moved.
func (r *Resolver) Merge(ctx context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) (int, error) {
	target, err := r.store.GetPerson(ctx, targetID)
	if err != nil {
		return 0, fmt.Errorf("load target person: %w", err)
	}
	if target == nil {
		return 0, fmt.Errorf("target person %s not found", targetID)
	}

	weightedSum := scaledEncoding(target.Encoding, float64(target.FaceCount))
	totalWeight := float64(target.FaceCount)

	moved := 0
	for _, srcID := range sourceIDs {
		if srcID == targetID {
			continue
		}
		src, err := r.store.GetPerson(ctx, srcID)
		if err != nil {
			return moved, fmt.Errorf("load source person: %w", err)
		}
		if src == nil {
			continue // already merged away; merge is idempotent per source
		}
		if src.OwnerID != target.OwnerID {
			return moved, fmt.Errorf("person %s belongs to another owner", srcID)
		}

		n, err := r.store.ReassignFaces(ctx, srcID, targetID)
		if err != nil {
			return moved, fmt.Errorf("reassign faces: %w", err)
		}
		moved += n

		if n != src.FaceCount {
			// face_count drifted from the live face rows; the reassign
			// already restored consistency from the rows themselves.
			slog.Error("face count out of sync during merge",
				"person", srcID, "face_count", src.FaceCount, "faces", n)
		}

		weightedSum = addScaled(weightedSum, src.Encoding, float64(n))
		totalWeight += float64(n)

		// Dropping the source also clears any cover face pointing into
		// it; faces themselves now belong to the target.
		if err := r.store.DeletePerson(ctx, srcID); err != nil {
			return moved, fmt.Errorf("delete source person: %w", err)
		}
	}

	if totalWeight > 0 && len(weightedSum) > 0 {
		centroid := make([]float32, len(weightedSum))
		for i, v := range weightedSum {
			centroid[i] = float32(v / totalWeight)
		}
		if err := r.store.UpdatePersonEncoding(ctx, targetID, centroid); err != nil {
			return moved, fmt.Errorf("update target centroid: %w", err)
		}
	}

	slog.Info("persons merged", "target", targetID, "sources", len(sourceIDs), "faces_moved", moved)
	return moved, nil
}

func scaledEncoding(enc []float32, w float64) []float64 {
	out := make([]float64, len(enc))
	for i, v := range enc {
		out[i] = float64(v) * w
	}
	return out
}

func addScaled(sum []float64, enc []float32, w float64) []float64 {
	if len(sum) == 0 {
		return scaledEncoding(enc, w)
	}
	for i := 0; i < len(sum) && i < len(enc); i++ {
		sum[i] += float64(enc[i]) * w
	}
	return sum
}
