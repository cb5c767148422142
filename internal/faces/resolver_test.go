package faces

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
)

type fakeStore struct {
	persons map[uuid.UUID]*models.Person
	faces   map[uuid.UUID]*models.Face
	order   []uuid.UUID // face insertion order
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		persons: make(map[uuid.UUID]*models.Person),
		faces:   make(map[uuid.UUID]*models.Face),
	}
}

func (s *fakeStore) addFace(enc []float32) uuid.UUID {
	id := uuid.New()
	s.faces[id] = &models.Face{ID: id, Encoding: enc}
	s.order = append(s.order, id)
	return id
}

func (s *fakeStore) PersonsByOwner(_ context.Context, _ uuid.UUID) ([]models.Person, error) {
	out := make([]models.Person, 0, len(s.persons))
	for _, p := range s.persons {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakeStore) GetPerson(_ context.Context, id uuid.UUID) (*models.Person, error) {
	p, ok := s.persons[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) CreatePerson(_ context.Context, p *models.Person) error {
	cp := *p
	cp.CreatedAt = time.Now()
	s.persons[p.ID] = &cp
	return nil
}

func (s *fakeStore) DeletePerson(_ context.Context, id uuid.UUID) error {
	delete(s.persons, id)
	return nil
}

func (s *fakeStore) UpdatePersonEncoding(_ context.Context, id uuid.UUID, enc []float32) error {
	s.persons[id].Encoding = enc
	return nil
}

func (s *fakeStore) SetCoverFace(_ context.Context, personID uuid.UUID, faceID *uuid.UUID) error {
	s.persons[personID].CoverFaceID = faceID
	return nil
}

func (s *fakeStore) UnassignedFaces(_ context.Context, _ uuid.UUID) ([]models.Face, error) {
	var out []models.Face
	for _, id := range s.order {
		f := s.faces[id]
		if f.PersonID == nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *fakeStore) AssignFace(_ context.Context, faceID uuid.UUID, from, to *uuid.UUID) error {
	if from != nil {
		s.persons[*from].FaceCount--
	}
	if to != nil {
		s.persons[*to].FaceCount++
	}
	s.faces[faceID].PersonID = to
	return nil
}

func (s *fakeStore) ReassignFaces(_ context.Context, from, to uuid.UUID) (int, error) {
	n := 0
	for _, f := range s.faces {
		if f.PersonID != nil && *f.PersonID == from {
			pid := to
			f.PersonID = &pid
			n++
		}
	}
	s.persons[from].FaceCount -= n
	s.persons[to].FaceCount += n
	return n, nil
}

func enc(v float32, dim int) []float32 {
	out := make([]float32, dim)
	out[0] = v
	return out
}

func TestDistance(t *testing.T) {
	a := []float32{3, 0}
	b := []float32{0, 4}
	if d := Distance(a, b); math.Abs(d-5) > 1e-9 {
		t.Fatalf("Distance = %v, want 5", d)
	}
	if d := Distance(a, a); d != 0 {
		t.Fatalf("Distance to self = %v, want 0", d)
	}
}

func TestMatchPicksClosestWithinTolerance(t *testing.T) {
	r := NewResolver(newFakeStore(), 0.6)
	persons := []models.Person{
		{ID: uuid.New(), Encoding: enc(1.0, 4)},
		{ID: uuid.New(), Encoding: enc(0.1, 4)},
	}

	got := r.Match(enc(0, 4), persons)
	if got == nil || got.ID != persons[1].ID {
		t.Fatalf("Match picked %v, want closest person %s", got, persons[1].ID)
	}
}

func TestMatchNoneWithinTolerance(t *testing.T) {
	r := NewResolver(newFakeStore(), 0.6)
	persons := []models.Person{{ID: uuid.New(), Encoding: enc(5, 4)}}

	if got := r.Match(enc(0, 4), persons); got != nil {
		t.Fatalf("Match = %v, want nil when nothing within tolerance", got)
	}
}

func TestMatchTieGoesToEarliestCreated(t *testing.T) {
	r := NewResolver(newFakeStore(), 1.0)
	// Both persons at the exact same distance; list ordered oldest first.
	first := models.Person{ID: uuid.New(), Encoding: enc(0.5, 4)}
	second := models.Person{ID: uuid.New(), Encoding: enc(-0.5, 4)}

	got := r.Match(enc(0, 4), []models.Person{first, second})
	if got == nil || got.ID != first.ID {
		t.Fatalf("tie went to %v, want earliest person %s", got, first.ID)
	}
}

func TestClusterUnassignedCreatesPersons(t *testing.T) {
	store := newFakeStore()
	ownerID := uuid.New()

	// Chain a-b-c where a and c are only transitively close, plus a
	// distant singleton that must stay unassigned.
	a := store.addFace(enc(0.0, 4))
	b := store.addFace(enc(0.5, 4))
	c := store.addFace(enc(1.0, 4))
	lone := store.addFace(enc(10, 4))

	r := NewResolver(store, 0.6)
	created, err := r.ClusterUnassigned(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("ClusterUnassigned: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	pid := store.faces[a].PersonID
	if pid == nil {
		t.Fatal("face a not assigned")
	}
	for _, id := range []uuid.UUID{b, c} {
		if store.faces[id].PersonID == nil || *store.faces[id].PersonID != *pid {
			t.Fatalf("face %s not in the same cluster", id)
		}
	}
	if store.faces[lone].PersonID != nil {
		t.Fatal("singleton face must remain unassigned")
	}

	p := store.persons[*pid]
	if p.FaceCount != 3 {
		t.Fatalf("FaceCount = %d, want 3", p.FaceCount)
	}
	if p.CoverFaceID == nil || *p.CoverFaceID != a {
		t.Fatalf("CoverFaceID = %v, want first face %s", p.CoverFaceID, a)
	}
	// Centroid of 0.0, 0.5, 1.0 in dim 0.
	if math.Abs(float64(p.Encoding[0])-0.5) > 1e-6 {
		t.Fatalf("centroid[0] = %v, want 0.5", p.Encoding[0])
	}
}

func TestClusterUnassignedNoFaces(t *testing.T) {
	r := NewResolver(newFakeStore(), 0.6)
	created, err := r.ClusterUnassigned(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ClusterUnassigned: %v", err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0", created)
	}
}

func TestMergeFoldsSourcesIntoTarget(t *testing.T) {
	store := newFakeStore()
	ownerID := uuid.New()
	ctx := context.Background()

	target := &models.Person{ID: uuid.New(), OwnerID: ownerID, Encoding: enc(0, 4)}
	source := &models.Person{ID: uuid.New(), OwnerID: ownerID, Encoding: enc(1, 4)}
	store.CreatePerson(ctx, target)
	store.CreatePerson(ctx, source)

	f1 := store.addFace(enc(0, 4))
	f2 := store.addFace(enc(1, 4))
	f3 := store.addFace(enc(1, 4))
	store.AssignFace(ctx, f1, nil, &target.ID)
	store.AssignFace(ctx, f2, nil, &source.ID)
	store.AssignFace(ctx, f3, nil, &source.ID)

	r := NewResolver(store, 0.6)
	moved, err := r.Merge(ctx, target.ID, []uuid.UUID{source.ID})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	if _, ok := store.persons[source.ID]; ok {
		t.Fatal("source person must be deleted after merge")
	}

	got := store.persons[target.ID]
	if got.FaceCount != 3 {
		t.Fatalf("target FaceCount = %d, want 3", got.FaceCount)
	}
	// Weighted mean: (1*0 + 2*1) / 3.
	if math.Abs(float64(got.Encoding[0])-2.0/3.0) > 1e-6 {
		t.Fatalf("merged centroid[0] = %v, want 2/3", got.Encoding[0])
	}

	for _, id := range []uuid.UUID{f1, f2, f3} {
		if store.faces[id].PersonID == nil || *store.faces[id].PersonID != target.ID {
			t.Fatalf("face %s not pointing at target after merge", id)
		}
	}
}

func TestMergeRejectsForeignOwner(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	target := &models.Person{ID: uuid.New(), OwnerID: uuid.New(), Encoding: enc(0, 4)}
	foreign := &models.Person{ID: uuid.New(), OwnerID: uuid.New(), Encoding: enc(1, 4)}
	store.CreatePerson(ctx, target)
	store.CreatePerson(ctx, foreign)

	f := store.addFace(enc(1, 4))
	store.AssignFace(ctx, f, nil, &foreign.ID)

	r := NewResolver(store, 0.6)
	moved, err := r.Merge(ctx, target.ID, []uuid.UUID{foreign.ID})
	if err == nil {
		t.Fatal("merging another owner's person must fail")
	}
	if moved != 0 {
		t.Fatalf("moved = %d, want 0", moved)
	}
	if _, ok := store.persons[foreign.ID]; !ok {
		t.Fatal("foreign person must survive the rejected merge")
	}
	if store.faces[f].PersonID == nil || *store.faces[f].PersonID != foreign.ID {
		t.Fatal("foreign person's face must stay put")
	}
}

func TestMergeSkipsTargetInSources(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	target := &models.Person{ID: uuid.New(), Encoding: enc(0, 4)}
	store.CreatePerson(ctx, target)
	f := store.addFace(enc(0, 4))
	store.AssignFace(ctx, f, nil, &target.ID)

	r := NewResolver(store, 0.6)
	moved, err := r.Merge(ctx, target.ID, []uuid.UUID{target.ID})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if moved != 0 {
		t.Fatalf("moved = %d, want 0", moved)
	}
	if store.persons[target.ID].FaceCount != 1 {
		t.Fatal("target must be untouched when listed as its own source")
	}
}
