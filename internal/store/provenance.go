package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/loom/internal/models"
)

const provenanceColumns = `id, block_id, source_document_id, source_block_id, contribution_type, contribution_percentage, confidence_score, created_at`

// InsertProvenance appends a provenance row. Rows are immutable once written.
func (r repo) InsertProvenance(ctx context.Context, p *models.BlockProvenance) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO block_provenance (`+provenanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.BlockID, p.SourceDocumentID, nullable(p.SourceBlockID), string(p.ContributionType),
		p.ContributionPercentage, p.ConfidenceScore, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert provenance: %w", err)
	}
	return nil
}

// ProvenanceForBlocks returns every provenance row whose block_id is in blockIDs.
func (r repo) ProvenanceForBlocks(ctx context.Context, blockIDs []string) ([]models.BlockProvenance, error) {
	blockIDs = dedupe(blockIDs)
	if len(blockIDs) == 0 {
		return []models.BlockProvenance{}, nil
	}
	return r.queryProvenance(ctx, `
		SELECT `+provenanceColumns+` FROM block_provenance
		WHERE block_id IN (`+placeholders(len(blockIDs))+`)
		ORDER BY created_at, id
	`, stringArgs(blockIDs)...)
}

// ProvenanceFromSource returns the rows in which blockID contributed to another block.
func (r repo) ProvenanceFromSource(ctx context.Context, blockID string) ([]models.BlockProvenance, error) {
	return r.queryProvenance(ctx, `
		SELECT `+provenanceColumns+` FROM block_provenance WHERE source_block_id = ? ORDER BY created_at, id
	`, blockID)
}

func (r repo) queryProvenance(ctx context.Context, query string, args ...any) ([]models.BlockProvenance, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list provenance: %w", err)
	}
	defer rows.Close()

	out := []models.BlockProvenance{}
	for rows.Next() {
		var (
			p     models.BlockProvenance
			src   sql.NullString
			ctype string
		)
		if err := rows.Scan(&p.ID, &p.BlockID, &p.SourceDocumentID, &src, &ctype,
			&p.ContributionPercentage, &p.ConfidenceScore, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan provenance: %w", err)
		}
		if src.Valid {
			p.SourceBlockID = ptr(src.String)
		}
		p.ContributionType = models.ContributionType(ctype)
		out = append(out, p)
	}
	return out, rows.Err()
}
