package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

type MappingRepository struct {
	db *sql.DB
}

func NewMappingRepository(db *sql.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

const mappingColumns = `id, publication_id, source, external_key, external_url, sync_status, last_sync_at,
	content_hash, error_message, retry_count, created_at, updated_at`

func (r *MappingRepository) GetByExternalKey(ctx context.Context, source, externalKey string) (*domain.SourceMapping, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mappingColumns+`
FROM source_mappings
WHERE source = $1 AND external_key = $2
`, source, externalKey)

	mapping, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get mapping", fmt.Errorf("mapping not found: %s/%s", source, externalKey))
		}
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	return mapping, nil
}

func (r *MappingRepository) GetByPublicationID(ctx context.Context, publicationID int64) (*domain.SourceMapping, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mappingColumns+`
FROM source_mappings
WHERE publication_id = $1
`, publicationID)

	mapping, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get mapping", fmt.Errorf("mapping not found: publication=%d", publicationID))
		}
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	return mapping, nil
}

func (r *MappingRepository) ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SourceMapping, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+mappingColumns+`
FROM source_mappings
WHERE sync_status = $1
ORDER BY updated_at, id
LIMIT $2
`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SourceMapping, 0, limit)
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, *mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return out, nil
}

func (r *MappingRepository) Update(ctx context.Context, mapping *domain.SourceMapping) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE source_mappings
SET external_url = $2, sync_status = $3, last_sync_at = $4, content_hash = $5,
	error_message = $6, retry_count = $7, updated_at = $8
WHERE id = $1
`, mapping.ID, mapping.ExternalURL, string(mapping.SyncStatus), mapping.LastSyncAt, mapping.ContentHash,
		mapping.ErrorMessage, mapping.RetryCount, mapping.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	return expectAffected(result, "update mapping", fmt.Errorf("mapping not found: id=%d", mapping.ID))
}

func insertMapping(ctx context.Context, tx *sql.Tx, mapping *domain.SourceMapping) error {
	err := tx.QueryRowContext(ctx, `
INSERT INTO source_mappings (
	publication_id, source, external_key, external_url, sync_status, last_sync_at,
	content_hash, error_message, retry_count, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id
`, mapping.PublicationID, mapping.Source, mapping.ExternalKey, mapping.ExternalURL, string(mapping.SyncStatus),
		mapping.LastSyncAt, mapping.ContentHash, mapping.ErrorMessage, mapping.RetryCount,
		mapping.CreatedAt, mapping.UpdatedAt).Scan(&mapping.ID)
	if err != nil {
		return wrapWriteError("insert mapping", err)
	}
	return nil
}

func scanMapping(row rowScanner) (*domain.SourceMapping, error) {
	var mapping domain.SourceMapping
	var status string
	err := row.Scan(
		&mapping.ID,
		&mapping.PublicationID,
		&mapping.Source,
		&mapping.ExternalKey,
		&mapping.ExternalURL,
		&status,
		&mapping.LastSyncAt,
		&mapping.ContentHash,
		&mapping.ErrorMessage,
		&mapping.RetryCount,
		&mapping.CreatedAt,
		&mapping.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	mapping.SyncStatus = domain.SyncStatus(status)
	return &mapping, nil
}
