// Package blocks implements the block store: creation with atomic
// order_index allocation, edits, soft deletion and per-document listing.
package blocks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/metrics"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
)

// CreateInput describes a block to create.
type CreateInput struct {
	DocumentID string
	Title      string
	Content    string
	ParentID   *string
	Type       models.BlockType
	Tags       []string
}

// UpdateInput carries the fields to change. Nil fields are left untouched.
type UpdateInput struct {
	Title   *string
	Content *string
	Type    *models.BlockType
	Tags    *[]string
}

// DeleteResult reports what a soft delete touched.
type DeleteResult struct {
	BlockID        string   `json:"block_id"`
	RemovedLinkIDs []string `json:"removed_link_ids"`
}

// Service coordinates block operations over the store.
type Service struct {
	db     *store.DB
	logger *slog.Logger
}

// NewService creates a new block service.
func NewService(db *store.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// CreateBlock validates the parent and inserts a block at the end of its
// document. Allocation and insert share one immediate transaction.
func (s *Service) CreateBlock(ctx context.Context, in CreateInput) (b *models.Block, err error) {
	defer func(start time.Time) { metrics.Observe("create_block", start, err) }(time.Now())

	if in.Type == "" {
		in.Type = models.BlockSection
	}
	b = &models.Block{
		DocumentID:    strings.TrimSpace(in.DocumentID),
		Title:         in.Title,
		Content:       in.Content,
		ParentBlockID: in.ParentID,
		BlockType:     in.Type,
		Tags:          in.Tags,
	}
	if err := b.Validate(); err != nil {
		return nil, apperr.Invalid("block", err.Error())
	}

	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetDocument(ctx, b.DocumentID); err != nil {
			return err
		}
		if b.ParentBlockID != nil {
			if err := checkParent(ctx, tx, b.DocumentID, *b.ParentBlockID); err != nil {
				return err
			}
		}
		idx, err := tx.AllocateOrder(ctx, b.DocumentID, 1)
		if err != nil {
			return err
		}
		b.OrderIndex = idx
		return tx.InsertBlock(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	metrics.BlocksCreated.WithLabelValues("create").Inc()
	s.logger.Debug("block created",
		slog.String("block_id", b.ID),
		slog.String("document_id", b.DocumentID),
		slog.Int("order_index", b.OrderIndex))
	return b, nil
}

// checkParent enforces that a parent exists, is live and belongs to the same
// document. A brand-new block cannot close a cycle, so this keeps the parent
// graph a forest.
func checkParent(ctx context.Context, r store.Reader, documentID, parentID string) error {
	parent, err := r.GetBlock(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.IsDeleted {
		return apperr.NotFound("block", parentID)
	}
	if parent.DocumentID != documentID {
		return apperr.Invalidf("parent_block_id", "parent %s belongs to document %s, not %s", parentID, parent.DocumentID, documentID)
	}
	return nil
}

// GetBlock returns a block, including soft-deleted ones.
func (s *Service) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	return s.db.GetBlock(ctx, id)
}

// UpdateBlock applies in to a live block and refreshes last_edited_at.
func (s *Service) UpdateBlock(ctx context.Context, id string, in UpdateInput) (b *models.Block, err error) {
	defer func(start time.Time) { metrics.Observe("update_block", start, err) }(time.Now())

	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetBlock(ctx, id)
		if err != nil {
			return err
		}
		if cur.IsDeleted {
			return apperr.NotFound("block", id)
		}
		if in.Title != nil {
			cur.Title = *in.Title
		}
		if in.Content != nil {
			cur.Content = *in.Content
		}
		if in.Type != nil {
			cur.BlockType = *in.Type
		}
		if in.Tags != nil {
			cur.Tags = *in.Tags
		}
		if err := cur.Validate(); err != nil {
			return apperr.Invalid("block", err.Error())
		}
		if err := tx.UpdateBlock(ctx, cur); err != nil {
			return err
		}
		b = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// SoftDelete flags a block as deleted. A block that is an endpoint of any
// semantic link is refused with ErrConflict unless cascade is set, in which
// case those links are removed in the same transaction. Provenance rows are
// kept; deleting a provenance participant is logged as a consistency warning.
func (s *Service) SoftDelete(ctx context.Context, id string, cascade bool) (res *DeleteResult, err error) {
	defer func(start time.Time) { metrics.Observe("soft_delete_block", start, err) }(time.Now())

	res = &DeleteResult{BlockID: id, RemovedLinkIDs: []string{}}
	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetBlock(ctx, id)
		if err != nil {
			return err
		}
		if cur.IsDeleted {
			return apperr.NotFound("block", id)
		}
		n, err := tx.CountLinksTouching(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			if !cascade {
				return fmt.Errorf("%w: block %s is referenced by %d link(s); delete with cascade to remove them", apperr.ErrConflict, id, n)
			}
			removed, err := tx.DeleteLinksTouching(ctx, id)
			if err != nil {
				return err
			}
			res.RemovedLinkIDs = removed
		}
		return tx.SoftDeleteBlock(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	s.warnProvenanceParticipant(ctx, id)
	s.logger.Info("block soft-deleted",
		slog.String("block_id", id),
		slog.Int("removed_links", len(res.RemovedLinkIDs)))
	return res, nil
}

func (s *Service) warnProvenanceParticipant(ctx context.Context, id string) {
	asSource, err := s.db.ProvenanceFromSource(ctx, id)
	if err != nil {
		s.logger.Warn("provenance lookup failed", slog.String("block_id", id), slog.String("error", err.Error()))
		return
	}
	asOutput, err := s.db.ProvenanceForBlocks(ctx, []string{id})
	if err != nil {
		s.logger.Warn("provenance lookup failed", slog.String("block_id", id), slog.String("error", err.Error()))
		return
	}
	if len(asSource)+len(asOutput) == 0 {
		return
	}
	metrics.ConsistencyWarnings.WithLabelValues("deleted_provenance_block").Inc()
	apperr.Warn(s.logger, apperr.ConsistencyWarning{
		Subject: "deleted_provenance_block",
		Detail:  "soft-deleted block is still referenced by provenance records",
		Attrs: []slog.Attr{
			slog.String("block_id", id),
			slog.Int("as_source", len(asSource)),
			slog.Int("as_output", len(asOutput)),
		},
	})
}

// ListActiveBlocks returns the non-deleted blocks of a known document,
// ordered by order_index.
func (s *Service) ListActiveBlocks(ctx context.Context, documentID string) ([]models.Block, error) {
	if _, err := s.db.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.db.ListActiveBlocks(ctx, documentID)
}

// RegisterDocument mirrors a document announced by the document collaborator.
func (s *Service) RegisterDocument(ctx context.Context, d *models.Document) error {
	if strings.TrimSpace(d.ID) == "" {
		return apperr.Invalid("id", "document id is required")
	}
	d.UpdatedAt = time.Now().UTC()
	return s.db.UpsertDocument(ctx, d)
}
