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

const operationColumns = `id, session_id, operation_type, input_block_ids, output_block_id, ai_reasoning, user_approved, created_at`

// InsertOperation appends a synthesis operation to the log.
func (r repo) InsertOperation(ctx context.Context, op *models.SynthesisOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	var approved any
	if op.UserApproved != nil {
		approved = *op.UserApproved
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO synthesis_operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.SessionID, string(op.OperationType), encodeJSON(op.InputBlockIDs, "[]"),
		op.OutputBlockID, op.AIReasoning, approved, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert operation: %w", err)
	}
	return nil
}

// GetOperation returns an operation by id.
func (r repo) GetOperation(ctx context.Context, id string) (*models.SynthesisOperation, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM synthesis_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("operation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get operation: %w", err)
	}
	return op, nil
}

// OperationsBySession returns a session's operations in append order.
func (r repo) OperationsBySession(ctx context.Context, sessionID string) ([]models.SynthesisOperation, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+operationColumns+` FROM synthesis_operations
		WHERE session_id = ? ORDER BY created_at, rowid
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list operations: %w", err)
	}
	defer rows.Close()

	out := []models.SynthesisOperation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan operation: %w", err)
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

// SetApproval records the editor's verdict. It only succeeds while
// user_approved is still NULL and reports whether a row changed.
func (r repo) SetApproval(ctx context.Context, id string, approved bool) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE synthesis_operations SET user_approved = ? WHERE id = ? AND user_approved IS NULL
	`, approved, id)
	if err != nil {
		return false, fmt.Errorf("store: set approval: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func scanOperation(s rowScanner) (*models.SynthesisOperation, error) {
	var (
		op       models.SynthesisOperation
		otype    string
		inputs   string
		approved sql.NullBool
	)
	if err := s.Scan(&op.ID, &op.SessionID, &otype, &inputs, &op.OutputBlockID,
		&op.AIReasoning, &approved, &op.CreatedAt); err != nil {
		return nil, err
	}
	op.OperationType = models.OperationType(otype)
	op.InputBlockIDs = decodeStrings(inputs)
	if approved.Valid {
		v := approved.Bool
		op.UserApproved = &v
	}
	return &op, nil
}
