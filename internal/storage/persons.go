package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/photovault/internal/models"
)

// --- Persons ---

func scanPerson(row pgx.Row) (*models.Person, error) {
	p := &models.Person{}
	var vec *pgvector.Vector
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.IsNamed, &p.FaceCount,
		&vec, &p.CoverFaceID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if vec != nil {
		p.Encoding = vec.Slice()
	}
	return p, nil
}

const personColumns = `id, owner_id, name, is_named, face_count, encoding, cover_face_id, created_at, updated_at`

func (s *PostgresStore) CreatePerson(ctx context.Context, p *models.Person) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	var vec *pgvector.Vector
	if len(p.Encoding) > 0 {
		v := pgvector.NewVector(p.Encoding)
		vec = &v
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO people (id, owner_id, name, is_named, encoding)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		p.ID, p.OwnerID, p.Name, p.IsNamed, vec,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p, err := scanPerson(s.pool.QueryRow(ctx,
		`SELECT `+personColumns+` FROM people WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// PersonsByOwner returns the owner's persons oldest first, so that
// matching ties resolve to the earliest-created identity.
func (s *PostgresStore) PersonsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+personColumns+` FROM people WHERE owner_id = $1 ORDER BY created_at, id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("persons by owner: %w", err)
	}
	defer rows.Close()

	var out []models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// RenamePerson sets the display name and flips is_named; a renamed
// person survives re-clustering.
func (s *PostgresStore) RenamePerson(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE people SET name = $1, is_named = TRUE, updated_at = now() WHERE id = $2`,
		name, id)
	if err != nil {
		return fmt.Errorf("rename person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("person not found")
	}
	return nil
}

func (s *PostgresStore) UpdatePersonEncoding(ctx context.Context, id uuid.UUID, encoding []float32) error {
	vec := pgvector.NewVector(encoding)
	_, err := s.pool.Exec(ctx,
		`UPDATE people SET encoding = $1, updated_at = now() WHERE id = $2`, vec, id)
	if err != nil {
		return fmt.Errorf("update person encoding: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetCoverFace(ctx context.Context, personID uuid.UUID, faceID *uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE people SET cover_face_id = $1, updated_at = now() WHERE id = $2`,
		faceID, personID)
	if err != nil {
		return fmt.Errorf("set cover face: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePerson(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM people WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("person not found")
	}
	return nil
}

// --- Faces ---

func (s *PostgresStore) InsertFace(ctx context.Context, f *models.Face) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	vec := pgvector.NewVector(f.Encoding)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO faces (id, media_id, person_id, x, y, width, height, encoding, confidence, crop_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`,
		f.ID, f.MediaID, f.PersonID, f.X, f.Y, f.Width, f.Height, vec, f.Confidence, f.CropKey,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert face: %w", err)
	}
	if f.PersonID != nil {
		_, err = s.pool.Exec(ctx,
			`UPDATE people SET face_count = face_count + 1, updated_at = now() WHERE id = $1`,
			*f.PersonID)
		if err != nil {
			return fmt.Errorf("bump face count: %w", err)
		}
	}
	return nil
}

func scanFace(row pgx.Row) (*models.Face, error) {
	f := &models.Face{}
	var vec pgvector.Vector
	err := row.Scan(&f.ID, &f.MediaID, &f.PersonID, &f.X, &f.Y, &f.Width, &f.Height,
		&vec, &f.Confidence, &f.CropKey, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.Encoding = vec.Slice()
	return f, nil
}

const faceColumns = `id, media_id, person_id, x, y, width, height, encoding, confidence, crop_key, created_at`

// UnassignedFaces returns the owner's faces with no person, oldest
// first, joining through media for ownership.
func (s *PostgresStore) UnassignedFaces(ctx context.Context, ownerID uuid.UUID) ([]models.Face, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.id, f.media_id, f.person_id, f.x, f.y, f.width, f.height, f.encoding, f.confidence, f.crop_key, f.created_at
		 FROM faces f
		 JOIN media m ON m.id = f.media_id
		 WHERE m.owner_id = $1 AND f.person_id IS NULL AND NOT m.is_deleted
		 ORDER BY f.created_at, f.id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("unassigned faces: %w", err)
	}
	defer rows.Close()

	var out []models.Face
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FacesByPerson(ctx context.Context, personID uuid.UUID) ([]models.Face, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE person_id = $1 ORDER BY created_at`,
		personID)
	if err != nil {
		return nil, fmt.Errorf("faces by person: %w", err)
	}
	defer rows.Close()

	var out []models.Face
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FacesByMedia(ctx context.Context, mediaID uuid.UUID) ([]models.Face, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE media_id = $1 ORDER BY created_at`,
		mediaID)
	if err != nil {
		return nil, fmt.Errorf("faces by media: %w", err)
	}
	defer rows.Close()

	var out []models.Face
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// AssignFace moves a face from one person to another inside a single
// transaction so face counts never drift from the face rows. Either
// side may be nil. A decrement that would go negative is floored at
// zero and logged; the count is denormalized and self-heals on the next
// reassignment.
func (s *PostgresStore) AssignFace(ctx context.Context, faceID uuid.UUID, from, to *uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin assign face: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE faces SET person_id = $1 WHERE id = $2`, to, faceID)
	if err != nil {
		return fmt.Errorf("assign face: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("face not found")
	}

	if from != nil {
		var before int
		err := tx.QueryRow(ctx,
			`SELECT face_count FROM people WHERE id = $1 FOR UPDATE`, *from,
		).Scan(&before)
		if err != nil {
			return fmt.Errorf("lock source person: %w", err)
		}
		if before <= 0 {
			slog.Error("face count underflow clamped", "person", *from)
		}
		_, err = tx.Exec(ctx,
			`UPDATE people SET face_count = GREATEST(face_count - 1, 0), updated_at = now()
			 WHERE id = $1`, *from)
		if err != nil {
			return fmt.Errorf("decrement face count: %w", err)
		}
	}
	if to != nil {
		_, err := tx.Exec(ctx,
			`UPDATE people SET face_count = face_count + 1, updated_at = now() WHERE id = $1`, *to)
		if err != nil {
			return fmt.Errorf("increment face count: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ReassignFaces moves every face of person from to person to and folds
// the counts, all in one transaction. Returns the number of faces moved.
func (s *PostgresStore) ReassignFaces(ctx context.Context, from, to uuid.UUID) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reassign faces: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE faces SET person_id = $1 WHERE person_id = $2`, to, from)
	if err != nil {
		return 0, fmt.Errorf("reassign faces: %w", err)
	}
	moved := int(tag.RowsAffected())

	_, err = tx.Exec(ctx,
		`UPDATE people SET face_count = $1, updated_at = now() WHERE id = $2`, 0, from)
	if err != nil {
		return 0, fmt.Errorf("zero source face count: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE people SET face_count = face_count + $1, updated_at = now() WHERE id = $2`, moved, to)
	if err != nil {
		return 0, fmt.Errorf("fold target face count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return moved, nil
}

// SearchFaces returns the persons whose centroid is closest to the
// query encoding by Euclidean distance.
func (s *PostgresStore) SearchFaces(ctx context.Context, ownerID uuid.UUID, encoding []float32, limit int) ([]PersonMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(encoding)

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, encoding <-> $1 AS distance
		 FROM people
		 WHERE owner_id = $2 AND encoding IS NOT NULL
		 ORDER BY encoding <-> $1
		 LIMIT $3`,
		vec, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	defer rows.Close()

	var matches []PersonMatch
	for rows.Next() {
		var m PersonMatch
		if err := rows.Scan(&m.PersonID, &m.Name, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan person match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

type PersonMatch struct {
	PersonID uuid.UUID `json:"person_id"`
	Name     string    `json:"name"`
	Distance float32   `json:"distance"`
}
