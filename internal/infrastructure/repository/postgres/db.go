package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

const uniqueViolation = "23505"

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the publication and mapping tables. Mappings are
// unique per (source, external_key) and per publication and disappear with
// their publication.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS publications (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL UNIQUE,
	registry_key TEXT NOT NULL DEFAULT '',
	doi TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	resource_type TEXT NOT NULL,
	owner_id BIGINT NOT NULL,
	owner_name TEXT NOT NULL DEFAULT '',
	poster_url TEXT NOT NULL DEFAULT '',
	publisher TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	date_issued TEXT NOT NULL DEFAULT '',
	subjects JSONB NOT NULL DEFAULT '[]'::jsonb,
	extended_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	creators JSONB NOT NULL DEFAULT '[]'::jsonb,
	organizations JSONB NOT NULL DEFAULT '[]'::jsonb,
	funders JSONB NOT NULL DEFAULT '[]'::jsonb,
	projects JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_publications_registry_key ON publications(registry_key) WHERE registry_key <> '';
CREATE INDEX IF NOT EXISTS idx_publications_owner_id ON publications(owner_id);

CREATE TABLE IF NOT EXISTS publication_files (
	id BIGSERIAL PRIMARY KEY,
	publication_id BIGINT NOT NULL REFERENCES publications(id) ON DELETE CASCADE,
	position INT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	handle TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	external_id_type TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_publication_files_publication_id ON publication_files(publication_id);

CREATE TABLE IF NOT EXISTS publication_documents (
	id BIGSERIAL PRIMARY KEY,
	publication_id BIGINT NOT NULL REFERENCES publications(id) ON DELETE CASCADE,
	position INT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	handle TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	external_id_type TEXT NOT NULL DEFAULT '',
	catalogue_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_publication_documents_publication_id ON publication_documents(publication_id);

CREATE TABLE IF NOT EXISTS source_mappings (
	id BIGSERIAL PRIMARY KEY,
	publication_id BIGINT NOT NULL UNIQUE REFERENCES publications(id) ON DELETE CASCADE,
	source TEXT NOT NULL,
	external_key TEXT NOT NULL,
	external_url TEXT NOT NULL DEFAULT '',
	sync_status TEXT NOT NULL,
	last_sync_at TIMESTAMPTZ NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	retry_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (source, external_key)
);

CREATE INDEX IF NOT EXISTS idx_source_mappings_sync_status ON source_mappings(sync_status, updated_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// wrapWriteError turns unique violations into domain conflicts.
func wrapWriteError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.WrapError(domain.ErrConflict, operation, fmt.Errorf("%s: %w", pgErr.ConstraintName, err))
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func marshalJSON[T any](value T, empty string) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return []byte(empty), nil
	}
	return raw, nil
}

func unmarshalJSON(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func expectAffected(result sql.Result, operation string, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, notFound)
	}
	return nil
}
