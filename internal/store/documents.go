package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
)

// UpsertDocument records a document announced by the document collaborator.
func (r repo) UpsertDocument(ctx context.Context, d *models.Document) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, title, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			title      = excluded.title,
			updated_at = excluded.updated_at
	`, d.ID, d.ProjectID, d.Title, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert document: %w", err)
	}
	return nil
}

// GetDocument returns a mirrored document by id.
func (r repo) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	err := r.q.QueryRowContext(ctx, `
		SELECT id, project_id, title, updated_at FROM documents WHERE id = ?
	`, id).Scan(&d.ID, &d.ProjectID, &d.Title, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	return &d, nil
}

// DocumentsByIDs returns the known documents among ids, keyed by id.
func (r repo) DocumentsByIDs(ctx context.Context, ids []string) (map[string]models.Document, error) {
	ids = dedupe(ids)
	out := make(map[string]models.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	docs, err := r.queryDocuments(ctx, `
		SELECT id, project_id, title, updated_at FROM documents WHERE id IN (`+placeholders(len(ids))+`)
	`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		out[d.ID] = d
	}
	return out, nil
}

// ProjectDocuments returns every mirrored document of a project.
func (r repo) ProjectDocuments(ctx context.Context, projectID string) ([]models.Document, error) {
	return r.queryDocuments(ctx, `
		SELECT id, project_id, title, updated_at FROM documents WHERE project_id = ? ORDER BY id
	`, projectID)
}

func (r repo) queryDocuments(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Title, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
