package document

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the remote document store boundary. Load fetches the full
// committed set for a scope in one call; the mutation calls may be applied
// by an eventually consistent backend, which is why the stager reloads after
// a settle delay instead of patching locally.
type Store interface {
	Load(ctx context.Context, scopeID string) ([]Document, error)
	Upload(ctx context.Context, scopeID string, upload StagedUpload) (Document, error)
	Delete(ctx context.Context, scopeID, documentID string) error
	Rename(ctx context.Context, scopeID, documentID, newName string) error
	Retype(ctx context.Context, scopeID, documentID, newType string) error
}

// PGStore is a PostgreSQL-backed Store over the documents table. It also
// serves the lifecycle engine's committed-document count guard.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Load(ctx context.Context, scopeID string) ([]Document, error) {
	const query = `
SELECT id, scope_id, name, document_type, size_bytes, uploaded_by, uploaded_at
FROM documents
WHERE scope_id = $1
ORDER BY uploaded_at, id`

	rows, err := s.pool.Query(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("document: load: %w", err)
	}
	defer rows.Close()

	out := make([]Document, 0, 8)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ScopeID, &d.Name, &d.DocumentType, &d.SizeBytes, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("document: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document: iterate: %w", err)
	}
	return out, nil
}

func (s *PGStore) Upload(ctx context.Context, scopeID string, upload StagedUpload) (Document, error) {
	const insertSQL = `
INSERT INTO documents (scope_id, name, document_type, size_bytes, content, uploaded_by)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, scope_id, name, document_type, size_bytes, uploaded_by, uploaded_at`

	var d Document
	err := s.pool.QueryRow(ctx, insertSQL,
		scopeID, upload.Name, upload.DocumentType, int64(len(upload.Content)), upload.Content, upload.UploadedBy,
	).Scan(&d.ID, &d.ScopeID, &d.Name, &d.DocumentType, &d.SizeBytes, &d.UploadedBy, &d.UploadedAt)
	if err != nil {
		return Document{}, fmt.Errorf("document: upload: %w", err)
	}
	return d, nil
}

func (s *PGStore) Delete(ctx context.Context, scopeID, documentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND scope_id = $2`, documentID, scopeID)
	if err != nil {
		return fmt.Errorf("document: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *PGStore) Rename(ctx context.Context, scopeID, documentID, newName string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET name = $3 WHERE id = $1 AND scope_id = $2`, documentID, scopeID, newName)
	if err != nil {
		return fmt.Errorf("document: rename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *PGStore) Retype(ctx context.Context, scopeID, documentID, newType string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET document_type = $3 WHERE id = $1 AND scope_id = $2`, documentID, scopeID, newType)
	if err != nil {
		return fmt.Errorf("document: retype: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// CommittedCount reports the committed documents for a scope. The request
// lifecycle submission guard consults this.
func (s *PGStore) CommittedCount(ctx context.Context, scopeID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE scope_id = $1`, scopeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("document: count: %w", err)
	}
	return n, nil
}
