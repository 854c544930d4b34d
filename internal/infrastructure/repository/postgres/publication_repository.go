package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

type PublicationRepository struct {
	db *sql.DB
}

func NewPublicationRepository(db *sql.DB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

func (r *PublicationRepository) Create(ctx context.Context, pub *domain.Publication) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return insertAggregate(ctx, tx, pub)
	})
}

// CreateWithMapping stores an imported aggregate and its source mapping in
// one transaction. A duplicate external key yields domain.ErrConflict.
func (r *PublicationRepository) CreateWithMapping(ctx context.Context, pub *domain.Publication, mapping *domain.SourceMapping) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertAggregate(ctx, tx, pub); err != nil {
			return err
		}
		mapping.PublicationID = pub.ID
		return insertMapping(ctx, tx, mapping)
	})
}

func (r *PublicationRepository) GetByID(ctx context.Context, id int64) (*domain.Publication, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, registry_key, doi, title, description, resource_type, owner_id, owner_name, poster_url,
	publisher, language, date_issued, subjects, extended_metadata, creators, organizations, funders, projects,
	created_at, updated_at
FROM publications
WHERE id = $1
`, id)

	pub, err := scanPublication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get publication", fmt.Errorf("publication not found: id=%d", id))
		}
		return nil, fmt.Errorf("scan publication: %w", err)
	}

	if pub.Files, err = r.listFiles(ctx, id); err != nil {
		return nil, err
	}
	if pub.Documents, err = r.listDocuments(ctx, id); err != nil {
		return nil, err
	}
	return pub, nil
}

func (r *PublicationRepository) UpdateMetadata(ctx context.Context, pub *domain.Publication) error {
	cols, err := encodeCollections(pub)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE publications
SET title = $2, description = $3, resource_type = $4, owner_name = $5, poster_url = $6, publisher = $7,
	language = $8, date_issued = $9, subjects = $10, extended_metadata = $11, creators = $12,
	organizations = $13, funders = $14, projects = $15, updated_at = $16
WHERE id = $1
`, pub.ID, pub.Title, pub.Description, pub.ResourceType, pub.OwnerName, pub.PosterURL, pub.Publisher,
		pub.Language, pub.DateIssued, cols.subjects, cols.extended, cols.creators,
		cols.organizations, cols.funders, cols.projects, pub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update publication: %w", err)
	}
	return expectAffected(result, "update publication", fmt.Errorf("publication not found: id=%d", pub.ID))
}

// ClaimRegistryKey stores key only while the publication has none and
// returns the key stored afterwards, which may belong to a concurrent run.
func (r *PublicationRepository) ClaimRegistryKey(ctx context.Context, id int64, key string) (string, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE publications SET registry_key = $2 WHERE id = $1 AND registry_key = ''`, id, key)
	if err != nil {
		return "", wrapWriteError("claim registry key", err)
	}
	if claimed, err := result.RowsAffected(); err != nil {
		return "", fmt.Errorf("claim registry key rows affected: %w", err)
	} else if claimed == 1 {
		return key, nil
	}

	var stored string
	err = r.db.QueryRowContext(ctx, `SELECT registry_key FROM publications WHERE id = $1`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.WrapError(domain.ErrNotFound, "claim registry key", fmt.Errorf("publication not found: id=%d", id))
	}
	if err != nil {
		return "", fmt.Errorf("read registry key: %w", err)
	}
	return stored, nil
}

func (r *PublicationRepository) ClaimFileIdentifier(ctx context.Context, fileID int64, resolved domain.ResolvedIdentifier) (domain.ResolvedIdentifier, error) {
	return r.claimChildIdentifier(ctx, "publication_files", "file", fileID, resolved)
}

func (r *PublicationRepository) ClaimDocumentIdentifier(ctx context.Context, documentID int64, resolved domain.ResolvedIdentifier) (domain.ResolvedIdentifier, error) {
	return r.claimChildIdentifier(ctx, "publication_documents", "document", documentID, resolved)
}

// claimChildIdentifier writes the resolved identifier while the row has no
// handle. Otherwise the stored identifier wins and is returned.
func (r *PublicationRepository) claimChildIdentifier(ctx context.Context, table, kind string, id int64, resolved domain.ResolvedIdentifier) (domain.ResolvedIdentifier, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE `+table+`
SET handle = $2, external_id = $3, external_id_type = $4
WHERE id = $1 AND handle = ''
`, id, resolved.Handle, resolved.ExternalID, resolved.ExternalType)
	if err != nil {
		return domain.ResolvedIdentifier{}, fmt.Errorf("claim %s identifier: %w", kind, err)
	}
	if claimed, err := result.RowsAffected(); err != nil {
		return domain.ResolvedIdentifier{}, fmt.Errorf("claim %s identifier rows affected: %w", kind, err)
	} else if claimed == 1 {
		return resolved, nil
	}

	var stored domain.ResolvedIdentifier
	err = r.db.QueryRowContext(ctx, `SELECT handle, external_id, external_id_type FROM `+table+` WHERE id = $1`, id).
		Scan(&stored.Handle, &stored.ExternalID, &stored.ExternalType)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ResolvedIdentifier{}, domain.WrapError(domain.ErrNotFound, "claim "+kind+" identifier", fmt.Errorf("%s not found: id=%d", kind, id))
	}
	if err != nil {
		return domain.ResolvedIdentifier{}, fmt.Errorf("read %s identifier: %w", kind, err)
	}
	return stored, nil
}

func (r *PublicationRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM publications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete publication: %w", err)
	}
	return expectAffected(result, "delete publication", fmt.Errorf("publication not found: id=%d", id))
}

func (r *PublicationRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertAggregate(ctx context.Context, tx *sql.Tx, pub *domain.Publication) error {
	cols, err := encodeCollections(pub)
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO publications (
	document_id, registry_key, doi, title, description, resource_type, owner_id, owner_name, poster_url,
	publisher, language, date_issued, subjects, extended_metadata, creators, organizations, funders, projects,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
RETURNING id
`,
		pub.DocumentID, pub.RegistryKey, pub.DOI, pub.Title, pub.Description, pub.ResourceType, pub.OwnerID,
		pub.OwnerName, pub.PosterURL, pub.Publisher, pub.Language, pub.DateIssued, cols.subjects, cols.extended,
		cols.creators, cols.organizations, cols.funders, cols.projects, pub.CreatedAt, pub.UpdatedAt,
	).Scan(&pub.ID)
	if err != nil {
		return wrapWriteError("insert publication", err)
	}

	for i := range pub.Files {
		f := &pub.Files[i]
		f.PublicationID = pub.ID
		err := tx.QueryRowContext(ctx, `
INSERT INTO publication_files (
	publication_id, position, title, description, url, type, handle, external_id, external_id_type
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`, pub.ID, i, f.Title, f.Description, f.URL, f.Type, f.Handle, f.ExternalID, f.ExternalIDType).Scan(&f.ID)
		if err != nil {
			return fmt.Errorf("insert publication file: %w", err)
		}
	}

	for i := range pub.Documents {
		d := &pub.Documents[i]
		d.PublicationID = pub.ID
		err := tx.QueryRowContext(ctx, `
INSERT INTO publication_documents (
	publication_id, position, title, description, url, type, handle, external_id, external_id_type, catalogue_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id
`, pub.ID, i, d.Title, d.Description, d.URL, d.Type, d.Handle, d.ExternalID, d.ExternalIDType, d.CatalogueID).Scan(&d.ID)
		if err != nil {
			return fmt.Errorf("insert publication document: %w", err)
		}
	}
	return nil
}

func (r *PublicationRepository) listFiles(ctx context.Context, publicationID int64) ([]domain.File, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, publication_id, title, description, url, type, handle, external_id, external_id_type
FROM publication_files
WHERE publication_id = $1
ORDER BY position, id
`, publicationID)
	if err != nil {
		return nil, fmt.Errorf("list publication files: %w", err)
	}
	defer rows.Close()

	out := make([]domain.File, 0)
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.PublicationID, &f.Title, &f.Description, &f.URL, &f.Type, &f.Handle, &f.ExternalID, &f.ExternalIDType); err != nil {
			return nil, fmt.Errorf("scan publication file: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publication files: %w", err)
	}
	return out, nil
}

func (r *PublicationRepository) listDocuments(ctx context.Context, publicationID int64) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, publication_id, title, description, url, type, handle, external_id, external_id_type, catalogue_id
FROM publication_documents
WHERE publication_id = $1
ORDER BY position, id
`, publicationID)
	if err != nil {
		return nil, fmt.Errorf("list publication documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.PublicationID, &d.Title, &d.Description, &d.URL, &d.Type, &d.Handle, &d.ExternalID, &d.ExternalIDType, &d.CatalogueID); err != nil {
			return nil, fmt.Errorf("scan publication document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publication documents: %w", err)
	}
	return out, nil
}

type encodedCollections struct {
	subjects      []byte
	extended      []byte
	creators      []byte
	organizations []byte
	funders       []byte
	projects      []byte
}

func encodeCollections(pub *domain.Publication) (encodedCollections, error) {
	var out encodedCollections
	var err error
	if out.subjects, err = marshalJSON(pub.Subjects, "[]"); err != nil {
		return out, fmt.Errorf("marshal subjects: %w", err)
	}
	if out.extended, err = marshalJSON(pub.ExtendedMetadata, "{}"); err != nil {
		return out, fmt.Errorf("marshal extended metadata: %w", err)
	}
	if out.creators, err = marshalJSON(pub.Creators, "[]"); err != nil {
		return out, fmt.Errorf("marshal creators: %w", err)
	}
	if out.organizations, err = marshalJSON(pub.Organizations, "[]"); err != nil {
		return out, fmt.Errorf("marshal organizations: %w", err)
	}
	if out.funders, err = marshalJSON(pub.Funders, "[]"); err != nil {
		return out, fmt.Errorf("marshal funders: %w", err)
	}
	if out.projects, err = marshalJSON(pub.Projects, "[]"); err != nil {
		return out, fmt.Errorf("marshal projects: %w", err)
	}
	return out, nil
}

func scanPublication(row rowScanner) (*domain.Publication, error) {
	var pub domain.Publication
	var subjects, extended, creators, organizations, funders, projects []byte
	err := row.Scan(
		&pub.ID,
		&pub.DocumentID,
		&pub.RegistryKey,
		&pub.DOI,
		&pub.Title,
		&pub.Description,
		&pub.ResourceType,
		&pub.OwnerID,
		&pub.OwnerName,
		&pub.PosterURL,
		&pub.Publisher,
		&pub.Language,
		&pub.DateIssued,
		&subjects,
		&extended,
		&creators,
		&organizations,
		&funders,
		&projects,
		&pub.CreatedAt,
		&pub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pub.Subjects = []string{}
	pub.Creators = []domain.Creator{}
	pub.Organizations = []domain.Organization{}
	pub.Funders = []domain.Funder{}
	pub.Projects = []domain.Project{}
	for _, field := range []struct {
		name   string
		raw    []byte
		target any
	}{
		{"subjects", subjects, &pub.Subjects},
		{"extended metadata", extended, &pub.ExtendedMetadata},
		{"creators", creators, &pub.Creators},
		{"organizations", organizations, &pub.Organizations},
		{"funders", funders, &pub.Funders},
		{"projects", projects, &pub.Projects},
	} {
		if err := unmarshalJSON(field.raw, field.target); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", field.name, err)
		}
	}
	return &pub, nil
}
