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

const blockColumns = `id, document_id, title, content, order_index, parent_block_id, block_type, tags, is_deleted, last_edited_at`

// AllocateOrder reserves n consecutive order_index slots for documentID and
// returns the first one. The sequence row is seeded from MAX(order_index)+1
// and advanced in a single statement, so concurrent callers never receive
// overlapping ranges.
func (r repo) AllocateOrder(ctx context.Context, documentID string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("store: allocate order: n must be positive, got %d", n)
	}
	var next int
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO order_sequences (document_id, next_order)
		VALUES (?, (SELECT COALESCE(MAX(order_index), -1) + 1 FROM blocks WHERE document_id = ?) + ?)
		ON CONFLICT(document_id) DO UPDATE SET next_order = order_sequences.next_order + ?
		RETURNING next_order
	`, documentID, documentID, n, n).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("store: allocate order: %w", err)
	}
	return next - n, nil
}

// InsertBlock writes a new block. ID and LastEditedAt are filled when empty.
func (r repo) InsertBlock(ctx context.Context, b *models.Block) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.LastEditedAt.IsZero() {
		b.LastEditedAt = time.Now().UTC()
	}
	b.Tags = models.NormalizeTags(b.Tags)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO blocks (`+blockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.DocumentID, b.Title, b.Content, b.OrderIndex, nullable(b.ParentBlockID),
		string(b.BlockType), encodeJSON(b.Tags, "[]"), b.IsDeleted, b.LastEditedAt)
	if err != nil {
		return fmt.Errorf("store: insert block: %w", err)
	}
	return nil
}

// GetBlock returns a block by id, deleted or not.
func (r repo) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("block", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get block: %w", err)
	}
	return b, nil
}

// GetBlocks returns the blocks with the given ids in the order requested.
// Missing ids are omitted; callers compare lengths.
func (r repo) GetBlocks(ctx context.Context, ids []string) ([]models.Block, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []models.Block{}, nil
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("store: get blocks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]models.Block, len(ids))
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan block: %w", err)
		}
		byID[b.ID] = *b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Block, 0, len(byID))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// ListActiveBlocks returns the non-deleted blocks of a document by order_index.
func (r repo) ListActiveBlocks(ctx context.Context, documentID string) ([]models.Block, error) {
	return r.queryBlocks(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE document_id = ? AND is_deleted = 0
		ORDER BY order_index
	`, documentID)
}

// ListBlocksByDocuments returns the non-deleted blocks of several documents.
func (r repo) ListBlocksByDocuments(ctx context.Context, documentIDs []string) ([]models.Block, error) {
	documentIDs = dedupe(documentIDs)
	if len(documentIDs) == 0 {
		return []models.Block{}, nil
	}
	return r.queryBlocks(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE document_id IN (`+placeholders(len(documentIDs))+`) AND is_deleted = 0
		ORDER BY document_id, order_index
	`, stringArgs(documentIDs)...)
}

// CountBlocks returns how many blocks (deleted included) a document has.
func (r repo) CountBlocks(ctx context.Context, documentID string) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM blocks WHERE document_id = ?`, documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count blocks: %w", err)
	}
	return n, nil
}

// UpdateBlock persists title, content, block_type and tags of a live block
// and stamps last_edited_at.
func (r repo) UpdateBlock(ctx context.Context, b *models.Block) error {
	b.LastEditedAt = time.Now().UTC()
	b.Tags = models.NormalizeTags(b.Tags)
	res, err := r.q.ExecContext(ctx, `
		UPDATE blocks
		SET title = ?, content = ?, block_type = ?, tags = ?, last_edited_at = ?
		WHERE id = ? AND is_deleted = 0
	`, b.Title, b.Content, string(b.BlockType), encodeJSON(b.Tags, "[]"), b.LastEditedAt, b.ID)
	if err != nil {
		return fmt.Errorf("store: update block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("block", b.ID)
	}
	return nil
}

// SoftDeleteBlock flags a block as deleted. Rows are never purged.
func (r repo) SoftDeleteBlock(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE blocks SET is_deleted = 1, last_edited_at = ? WHERE id = ? AND is_deleted = 0
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: soft delete block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("block", id)
	}
	return nil
}

func (r repo) queryBlocks(ctx context.Context, query string, args ...any) ([]models.Block, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list blocks: %w", err)
	}
	defer rows.Close()

	out := []models.Block{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan block: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBlock(s rowScanner) (*models.Block, error) {
	var (
		b      models.Block
		parent sql.NullString
		btype  string
		tags   string
	)
	if err := s.Scan(&b.ID, &b.DocumentID, &b.Title, &b.Content, &b.OrderIndex, &parent,
		&btype, &tags, &b.IsDeleted, &b.LastEditedAt); err != nil {
		return nil, err
	}
	if parent.Valid {
		b.ParentBlockID = ptr(parent.String)
	}
	b.BlockType = models.BlockType(btype)
	b.Tags = decodeStrings(tags)
	return &b, nil
}
