// Package oplog exposes the append-only synthesis operation log.
package oplog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/metrics"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
)

// Service reads operations and records approvals.
type Service struct {
	db     *store.DB
	logger *slog.Logger
}

// NewService creates a new operation log service.
func NewService(db *store.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// List returns a session's operations in append order.
func (s *Service) List(ctx context.Context, sessionID string) ([]models.SynthesisOperation, error) {
	if _, err := s.db.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.db.OperationsBySession(ctx, sessionID)
}

// Get returns one operation.
func (s *Service) Get(ctx context.Context, id string) (*models.SynthesisOperation, error) {
	return s.db.GetOperation(ctx, id)
}

// Approve records the editor's verdict. user_approved moves from null to a
// value exactly once; later calls are conflicts.
func (s *Service) Approve(ctx context.Context, id string, approved bool) (op *models.SynthesisOperation, err error) {
	defer func(start time.Time) { metrics.Observe("approve_operation", start, err) }(time.Now())

	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetOperation(ctx, id)
		if err != nil {
			return err
		}
		if cur.UserApproved != nil {
			return fmt.Errorf("%w: operation %s already reviewed (approved=%t)", apperr.ErrConflict, id, *cur.UserApproved)
		}
		changed, err := tx.SetApproval(ctx, id, approved)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: operation %s already reviewed", apperr.ErrConflict, id)
		}
		cur.UserApproved = &approved
		op = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("operation reviewed",
		slog.String("operation_id", id),
		slog.Bool("approved", approved))
	return op, nil
}
