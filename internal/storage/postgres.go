package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/models"
)

// ErrAlreadyRunning is returned by CreateJob when a job of the same type
// is already pending or running for the same scope.
var ErrAlreadyRunning = errors.New("a job of this type is already active for this scope")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tracked files ---

// TrackedFiles returns the signature rows for one owner whose path falls
// under root, keyed by path.
func (s *PostgresStore) TrackedFiles(ctx context.Context, ownerID uuid.UUID, root string) (map[string]models.TrackedFile, error) {
	// starts_with treats the prefix literally, so roots containing % or _
	// do not turn into wildcards the way a LIKE pattern would.
	prefix := root
	if prefix != "" {
		prefix += "/"
	}
	rows, err := s.pool.Query(ctx,
		`SELECT owner_id, path, mtime, size, quick_digest, seen_at
		 FROM tracked_files
		 WHERE owner_id = $1 AND starts_with(path, $2)`,
		ownerID, prefix)
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.TrackedFile)
	for rows.Next() {
		var t models.TrackedFile
		if err := rows.Scan(&t.OwnerID, &t.Path, &t.MTime, &t.Size, &t.QuickDigest, &t.SeenAt); err != nil {
			return nil, fmt.Errorf("scan tracked file: %w", err)
		}
		out[t.Path] = t
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertTrackedFile(ctx context.Context, t models.TrackedFile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tracked_files (owner_id, path, mtime, size, quick_digest, seen_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (owner_id, path)
		 DO UPDATE SET mtime = $3, size = $4, quick_digest = $5, seen_at = now()`,
		t.OwnerID, t.Path, t.MTime, t.Size, t.QuickDigest)
	if err != nil {
		return fmt.Errorf("upsert tracked file: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTrackedFile(ctx context.Context, ownerID uuid.UUID, path string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM tracked_files WHERE owner_id = $1 AND path = $2`, ownerID, path)
	if err != nil {
		return fmt.Errorf("delete tracked file: %w", err)
	}
	return nil
}

// --- Media ---

const mediaColumns = `id, owner_id, filename, original_path, file_hash, perceptual_hash,
	file_size, mime_type, media_type, width, height,
	thumb_small_key, thumb_medium_key, thumb_large_key,
	embedding_processed, face_processed, object_processed,
	object_detections, is_deleted, deleted_at, created_at, updated_at, indexed_at`

func scanMedia(row pgx.Row) (*models.Media, error) {
	m := &models.Media{}
	var detections []byte
	err := row.Scan(&m.ID, &m.OwnerID, &m.Filename, &m.OriginalPath, &m.FileHash, &m.PerceptualHash,
		&m.FileSize, &m.MimeType, &m.MediaType, &m.Width, &m.Height,
		&m.ThumbSmallKey, &m.ThumbMediumKey, &m.ThumbLargeKey,
		&m.EmbeddingProcessed, &m.FaceProcessed, &m.ObjectProcessed,
		&detections, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt, &m.IndexedAt)
	if err != nil {
		return nil, err
	}
	if len(detections) > 0 {
		if err := json.Unmarshal(detections, &m.ObjectDetections); err != nil {
			return nil, fmt.Errorf("decode object detections: %w", err)
		}
	}
	return m, nil
}

func (s *PostgresStore) CreateMedia(ctx context.Context, m *models.Media) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO media (id, owner_id, filename, original_path, file_hash, perceptual_hash,
		                    file_size, mime_type, media_type, width, height)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at, indexed_at`,
		m.ID, m.OwnerID, m.Filename, m.OriginalPath, m.FileHash, m.PerceptualHash,
		m.FileSize, m.MimeType, m.MediaType, m.Width, m.Height,
	).Scan(&m.CreatedAt, &m.UpdatedAt, &m.IndexedAt)
	if err != nil {
		return fmt.Errorf("create media: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMedia(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	m, err := scanMedia(s.pool.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get media: %w", err)
	}
	return m, nil
}

// MediaByHash finds the owner's live media with the given content hash.
// Soft-deleted rows are invisible here: a deleted file restored to the
// share must ingest again.
func (s *PostgresStore) MediaByHash(ctx context.Context, ownerID uuid.UUID, fileHash string) (*models.Media, error) {
	m, err := scanMedia(s.pool.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media
		 WHERE owner_id = $1 AND file_hash = $2 AND NOT is_deleted`,
		ownerID, fileHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("media by hash: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) MediaByPath(ctx context.Context, ownerID uuid.UUID, path string) (*models.Media, error) {
	m, err := scanMedia(s.pool.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media
		 WHERE owner_id = $1 AND original_path = $2 AND NOT is_deleted`,
		ownerID, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("media by path: %w", err)
	}
	return m, nil
}

// MediaWithPerceptualHash returns the owner's live photos that carry a
// perceptual hash, for near-duplicate comparison.
func (s *PostgresStore) MediaWithPerceptualHash(ctx context.Context, ownerID uuid.UUID) ([]models.Media, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, original_path, file_hash, perceptual_hash
		 FROM media
		 WHERE owner_id = $1 AND perceptual_hash IS NOT NULL AND NOT is_deleted`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("media with perceptual hash: %w", err)
	}
	defer rows.Close()

	var out []models.Media
	for rows.Next() {
		var m models.Media
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.OriginalPath, &m.FileHash, &m.PerceptualHash); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PendingExtraction returns live media with at least one capability flag
// still unset. A nil ownerID means all owners.
func (s *PostgresStore) PendingExtraction(ctx context.Context, ownerID *uuid.UUID) ([]models.Media, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mediaColumns+` FROM media
		 WHERE NOT is_deleted
		   AND NOT (embedding_processed AND face_processed AND object_processed)
		   AND ($1::uuid IS NULL OR owner_id = $1)
		 ORDER BY created_at`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("pending extraction: %w", err)
	}
	defer rows.Close()

	var out []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SetMediaEmbedding stores the semantic embedding and marks the
// capability complete. A nil embedding flips the flag only, for media
// the capability deliberately skips.
func (s *PostgresStore) SetMediaEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	if embedding == nil {
		_, err := s.pool.Exec(ctx,
			`UPDATE media SET embedding_processed = TRUE, updated_at = now() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("set media embedding: %w", err)
		}
		return nil
	}
	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx,
		`UPDATE media SET embedding = $1, embedding_processed = TRUE, updated_at = now()
		 WHERE id = $2`, vec, id)
	if err != nil {
		return fmt.Errorf("set media embedding: %w", err)
	}
	return nil
}

// SetMediaFaceProcessed marks face extraction complete; the face rows
// themselves are inserted separately.
func (s *PostgresStore) SetMediaFaceProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE media SET face_processed = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set face processed: %w", err)
	}
	return nil
}

// SetMediaObjects stores object detections as JSON and marks the
// capability complete.
func (s *PostgresStore) SetMediaObjects(ctx context.Context, id uuid.UUID, detections []models.ObjectDetection) error {
	data, err := json.Marshal(detections)
	if err != nil {
		return fmt.Errorf("encode object detections: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE media SET object_detections = $1, object_processed = TRUE, updated_at = now()
		 WHERE id = $2`, data, id)
	if err != nil {
		return fmt.Errorf("set media objects: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMediaThumbnails(ctx context.Context, id uuid.UUID, small, medium, large string, width, height int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE media SET thumb_small_key = $1, thumb_medium_key = $2, thumb_large_key = $3,
		                  width = $4, height = $5, updated_at = now()
		 WHERE id = $6`, small, medium, large, width, height, id)
	if err != nil {
		return fmt.Errorf("set media thumbnails: %w", err)
	}
	return nil
}

// MarkMediaDeleted soft-deletes the media at path; the row and its
// derived artifacts are kept for the serving layer.
func (s *PostgresStore) MarkMediaDeleted(ctx context.Context, ownerID uuid.UUID, path string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE media SET is_deleted = TRUE, deleted_at = now(), updated_at = now()
		 WHERE owner_id = $1 AND original_path = $2 AND NOT is_deleted`,
		ownerID, path)
	if err != nil {
		return fmt.Errorf("mark media deleted: %w", err)
	}
	return nil
}

// SearchMedia returns the owner's live media closest to the query
// embedding by cosine distance.
func (s *PostgresStore) SearchMedia(ctx context.Context, ownerID uuid.UUID, embedding []float32, limit int) ([]MediaMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx,
		`SELECT id, original_path, 1 - (embedding <=> $1) AS score
		 FROM media
		 WHERE owner_id = $2 AND embedding IS NOT NULL AND NOT is_deleted
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("search media: %w", err)
	}
	defer rows.Close()

	var matches []MediaMatch
	for rows.Next() {
		var m MediaMatch
		if err := rows.Scan(&m.MediaID, &m.Path, &m.Score); err != nil {
			return nil, fmt.Errorf("scan media match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

type MediaMatch struct {
	MediaID uuid.UUID `json:"media_id"`
	Path    string    `json:"path"`
	Score   float32   `json:"score"`
}
