package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
)

const linkColumns = `id, source_block_id, target_block_id, target_document_id, link_type, metadata, created_at`

// InsertLink writes a semantic link. The XOR target rule is enforced by a
// table CHECK as well as by the link service.
func (r repo) InsertLink(ctx context.Context, l *models.SemanticLink) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO semantic_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.SourceBlockID, nullable(l.TargetBlockID), nullable(l.TargetDocumentID),
		string(l.LinkType), encodeJSON(l.Metadata, "{}"), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert link: %w", err)
	}
	return nil
}

// GetLink returns a link by id.
func (r repo) GetLink(ctx context.Context, id string) (*models.SemanticLink, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM semantic_links WHERE id = ?`, id)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("link", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get link: %w", err)
	}
	return l, nil
}

// DeleteLink removes a link by id.
func (r repo) DeleteLink(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM semantic_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("link", id)
	}
	return nil
}

// LinksFrom returns links whose source is blockID, oldest first.
func (r repo) LinksFrom(ctx context.Context, blockID string) ([]models.SemanticLink, error) {
	return r.queryLinks(ctx, `
		SELECT `+linkColumns+` FROM semantic_links WHERE source_block_id = ? ORDER BY created_at, id
	`, blockID)
}

// LinksTo returns links that target blockID, oldest first.
func (r repo) LinksTo(ctx context.Context, blockID string) ([]models.SemanticLink, error) {
	return r.queryLinks(ctx, `
		SELECT `+linkColumns+` FROM semantic_links WHERE target_block_id = ? ORDER BY created_at, id
	`, blockID)
}

// CountLinksTouching returns how many links have blockID as either endpoint.
func (r repo) CountLinksTouching(ctx context.Context, blockID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT count(*) FROM semantic_links WHERE source_block_id = ? OR target_block_id = ?
	`, blockID, blockID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count links: %w", err)
	}
	return n, nil
}

// DeleteLinksTouching removes every link that has blockID as an endpoint.
func (r repo) DeleteLinksTouching(ctx context.Context, blockID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id FROM semantic_links WHERE source_block_id = ? OR target_block_id = ?
	`, blockID, blockID)
	if err != nil {
		return nil, fmt.Errorf("store: links touching: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM semantic_links WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...); err != nil {
		return nil, fmt.Errorf("store: delete links touching: %w", err)
	}
	return ids, nil
}

func (r repo) queryLinks(ctx context.Context, query string, args ...any) ([]models.SemanticLink, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list links: %w", err)
	}
	defer rows.Close()

	out := []models.SemanticLink{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan link: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func scanLink(s rowScanner) (*models.SemanticLink, error) {
	var (
		l       models.SemanticLink
		tBlock  sql.NullString
		tDoc    sql.NullString
		ltype   string
		rawMeta string
	)
	if err := s.Scan(&l.ID, &l.SourceBlockID, &tBlock, &tDoc, &ltype, &rawMeta, &l.CreatedAt); err != nil {
		return nil, err
	}
	if tBlock.Valid {
		l.TargetBlockID = ptr(tBlock.String)
	}
	if tDoc.Valid {
		l.TargetDocumentID = ptr(tDoc.String)
	}
	l.LinkType = models.LinkType(ltype)
	l.Metadata = decodeMap(rawMeta)
	return &l, nil
}
