package storage

import (
	"context"
	"fmt"
)

// EnsureSchema creates the tables and indexes if they do not exist.
// embeddingDim sets the pgvector dimension for media embeddings,
// encodingDim the one for face and person encodings; changing either on
// an existing database requires a manual migration.
func (s *PostgresStore) EnsureSchema(ctx context.Context, embeddingDim, encodingDim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS tracked_files (
			owner_id     UUID        NOT NULL,
			path         TEXT        NOT NULL,
			mtime        TIMESTAMPTZ NOT NULL,
			size         BIGINT      NOT NULL,
			quick_digest TEXT,
			seen_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner_id, path)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS media (
			id                  UUID PRIMARY KEY,
			owner_id            UUID        NOT NULL,
			filename            TEXT        NOT NULL,
			original_path       TEXT        NOT NULL,
			file_hash           TEXT        NOT NULL,
			perceptual_hash     TEXT,
			file_size           BIGINT      NOT NULL,
			mime_type           TEXT        NOT NULL,
			media_type          TEXT        NOT NULL,
			width               INT,
			height              INT,
			thumb_small_key     TEXT        NOT NULL DEFAULT '',
			thumb_medium_key    TEXT        NOT NULL DEFAULT '',
			thumb_large_key     TEXT        NOT NULL DEFAULT '',
			embedding_processed BOOLEAN     NOT NULL DEFAULT FALSE,
			face_processed      BOOLEAN     NOT NULL DEFAULT FALSE,
			object_processed    BOOLEAN     NOT NULL DEFAULT FALSE,
			embedding           vector(%d),
			object_detections   JSONB,
			is_deleted          BOOLEAN     NOT NULL DEFAULT FALSE,
			deleted_at          TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			indexed_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDim),
		// Hash uniqueness holds among live rows only; a soft-deleted row
		// must not block re-ingesting the same bytes later.
		`CREATE UNIQUE INDEX IF NOT EXISTS media_live_hash_idx
			ON media (owner_id, file_hash) WHERE NOT is_deleted`,
		`CREATE INDEX IF NOT EXISTS media_owner_path_idx ON media (owner_id, original_path)`,
		`CREATE INDEX IF NOT EXISTS media_pending_idx ON media (owner_id)
			WHERE NOT is_deleted AND NOT (embedding_processed AND face_processed AND object_processed)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS people (
			id            UUID PRIMARY KEY,
			owner_id      UUID        NOT NULL,
			name          TEXT        NOT NULL DEFAULT '',
			is_named      BOOLEAN     NOT NULL DEFAULT FALSE,
			face_count    INT         NOT NULL DEFAULT 0,
			encoding      vector(%d),
			cover_face_id UUID,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, encodingDim),
		`CREATE INDEX IF NOT EXISTS people_owner_idx ON people (owner_id, created_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS faces (
			id         UUID PRIMARY KEY,
			media_id   UUID        NOT NULL REFERENCES media (id) ON DELETE CASCADE,
			person_id  UUID        REFERENCES people (id) ON DELETE SET NULL,
			x          REAL        NOT NULL,
			y          REAL        NOT NULL,
			width      REAL        NOT NULL,
			height     REAL        NOT NULL,
			encoding   vector(%d)  NOT NULL,
			confidence REAL        NOT NULL,
			crop_key   TEXT        NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, encodingDim),
		`CREATE INDEX IF NOT EXISTS faces_person_idx ON faces (person_id)`,
		`CREATE INDEX IF NOT EXISTS faces_media_idx ON faces (media_id)`,

		`CREATE TABLE IF NOT EXISTS processing_jobs (
			id               UUID PRIMARY KEY,
			scope_id         UUID,
			job_type         TEXT        NOT NULL,
			status           TEXT        NOT NULL,
			params           JSONB,
			total_items      INT         NOT NULL DEFAULT 0,
			processed_items  INT         NOT NULL DEFAULT 0,
			failed_items     INT         NOT NULL DEFAULT 0,
			cancel_requested BOOLEAN     NOT NULL DEFAULT FALSE,
			error_message    TEXT        NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at       TIMESTAMPTZ,
			completed_at     TIMESTAMPTZ
		)`,
		// One active job per type and scope; NULL scope collapses to a
		// fixed UUID so system-wide jobs collide with each other too.
		`CREATE UNIQUE INDEX IF NOT EXISTS processing_jobs_active_idx
			ON processing_jobs (job_type, COALESCE(scope_id, '00000000-0000-0000-0000-000000000000'))
			WHERE status IN ('pending', 'running')`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
