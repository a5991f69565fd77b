package store

import (
	"context"
	"fmt"
	"time"
)

// RecordInboxImport remembers that a proposal file with the given checksum
// was imported.
func (r repo) RecordInboxImport(ctx context.Context, checksum, path, documentID string, blockCount int) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO inbox_imports (checksum, path, document_id, block_count, imported_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(checksum) DO NOTHING
	`, checksum, path, documentID, blockCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: record inbox import: %w", err)
	}
	return nil
}

// InboxImported reports whether a proposal with this checksum was already imported.
func (r repo) InboxImported(ctx context.Context, checksum string) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM inbox_imports WHERE checksum = ?`, checksum).Scan(&n); err != nil {
		return false, fmt.Errorf("store: inbox lookup: %w", err)
	}
	return n > 0, nil
}
