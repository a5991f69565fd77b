// Package links implements the typed semantic-link graph between blocks and documents.
package links

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/metrics"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
)

// Direction selects which side of a block's links to list.
type Direction string

// Directions.
const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// CreateInput describes a link to create.
type CreateInput struct {
	SourceBlockID    string
	TargetBlockID    *string
	TargetDocumentID *string
	Type             models.LinkType
	Metadata         map[string]any
}

// Service manages semantic links.
type Service struct {
	db     *store.DB
	logger *slog.Logger
}

// NewService creates a new link service.
func NewService(db *store.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// Validate checks the shape of a link independent of stored state: a known
// type, a source, exactly one target, and for hierarchy links a target block
// plus a reason. A confidence, when present, must be a number in [0,1].
func Validate(l *models.SemanticLink) error {
	if strings.TrimSpace(l.SourceBlockID) == "" {
		return apperr.Invalid("source_block_id", "is required")
	}
	if !l.LinkType.Valid() {
		return apperr.Invalidf("link_type", "unknown link type %q", l.LinkType)
	}
	hasBlock := l.TargetBlockID != nil && *l.TargetBlockID != ""
	hasDoc := l.TargetDocumentID != nil && *l.TargetDocumentID != ""
	if hasBlock == hasDoc {
		return apperr.Invalid("target", "exactly one of target_block_id and target_document_id must be set")
	}
	if hasBlock && *l.TargetBlockID == l.SourceBlockID {
		return apperr.Invalid("target_block_id", "a block cannot link to itself")
	}
	if l.LinkType == models.LinkHierarchy {
		if !hasBlock {
			return apperr.Invalid("target_block_id", "hierarchy links must target a block")
		}
		reason, _ := l.Metadata[models.MetaReason].(string)
		if strings.TrimSpace(reason) == "" {
			return apperr.Invalid("metadata.reason", "hierarchy links require a reason")
		}
	}
	if _, present := l.Metadata[models.MetaConfidence]; present {
		c, ok := l.Confidence()
		if !ok || c < 0 || c > 1 {
			return apperr.Invalid("metadata.confidence", "must be a number between 0 and 1")
		}
	}
	return nil
}

// CreateLink validates and persists a link between live endpoints.
func (s *Service) CreateLink(ctx context.Context, in CreateInput) (l *models.SemanticLink, err error) {
	defer func(start time.Time) { metrics.Observe("create_link", start, err) }(time.Now())

	l = &models.SemanticLink{
		SourceBlockID:    strings.TrimSpace(in.SourceBlockID),
		TargetBlockID:    in.TargetBlockID,
		TargetDocumentID: in.TargetDocumentID,
		LinkType:         in.Type,
		Metadata:         in.Metadata,
	}
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	if err := Validate(l); err != nil {
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := requireLive(ctx, tx, l.SourceBlockID); err != nil {
			return err
		}
		if l.TargetBlockID != nil && *l.TargetBlockID != "" {
			if err := requireLive(ctx, tx, *l.TargetBlockID); err != nil {
				return err
			}
			l.TargetDocumentID = nil
		} else {
			if _, err := tx.GetDocument(ctx, *l.TargetDocumentID); err != nil {
				return err
			}
			l.TargetBlockID = nil
		}
		return tx.InsertLink(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	metrics.LinksCreated.WithLabelValues(string(l.LinkType)).Inc()
	return l, nil
}

func requireLive(ctx context.Context, r store.Reader, blockID string) error {
	b, err := r.GetBlock(ctx, blockID)
	if err != nil {
		return err
	}
	if b.IsDeleted {
		return apperr.NotFound("block", blockID)
	}
	return nil
}

// DeleteLink removes a link. Links are only ever removed on explicit request.
func (s *Service) DeleteLink(ctx context.Context, id string) error {
	if err := s.db.DeleteLink(ctx, id); err != nil {
		return err
	}
	s.logger.Info("link deleted", slog.String("link_id", id))
	return nil
}

// ListOutgoing returns links leaving blockID with their targets resolved.
func (s *Service) ListOutgoing(ctx context.Context, blockID string) ([]models.ResolvedLink, error) {
	return s.list(ctx, blockID, Outgoing)
}

// ListIncoming returns links arriving at blockID with their sources resolved.
func (s *Service) ListIncoming(ctx context.Context, blockID string) ([]models.ResolvedLink, error) {
	return s.list(ctx, blockID, Incoming)
}

// List dispatches on direction.
func (s *Service) List(ctx context.Context, blockID string, dir Direction) ([]models.ResolvedLink, error) {
	switch dir {
	case Outgoing, Incoming:
		return s.list(ctx, blockID, dir)
	default:
		return nil, apperr.Invalidf("direction", "must be %q or %q", Outgoing, Incoming)
	}
}

func (s *Service) list(ctx context.Context, blockID string, dir Direction) ([]models.ResolvedLink, error) {
	if _, err := s.db.GetBlock(ctx, blockID); err != nil {
		return nil, err
	}

	var (
		raw []models.SemanticLink
		err error
	)
	if dir == Outgoing {
		raw, err = s.db.LinksFrom(ctx, blockID)
	} else {
		raw, err = s.db.LinksTo(ctx, blockID)
	}
	if err != nil {
		return nil, err
	}

	var blockIDs, docIDs []string
	for _, l := range raw {
		switch {
		case dir == Incoming:
			blockIDs = append(blockIDs, l.SourceBlockID)
		case l.TargetBlockID != nil:
			blockIDs = append(blockIDs, *l.TargetBlockID)
		case l.TargetDocumentID != nil:
			docIDs = append(docIDs, *l.TargetDocumentID)
		}
	}
	blocks, err := s.db.GetBlocks(ctx, blockIDs)
	if err != nil {
		return nil, err
	}
	summaries := make(map[string]models.BlockSummary, len(blocks))
	for i := range blocks {
		summaries[blocks[i].ID] = blocks[i].Summary()
	}
	docs, err := s.db.DocumentsByIDs(ctx, docIDs)
	if err != nil {
		return nil, err
	}

	out := make([]models.ResolvedLink, 0, len(raw))
	for _, l := range raw {
		rl := models.ResolvedLink{
			SemanticLink: l,
			Label:        l.LinkType.Label(),
			Curated:      l.LinkType.Curated(),
		}
		switch {
		case dir == Incoming:
			rl.Endpoint = blockEndpoint(summaries, l.SourceBlockID)
		case l.TargetBlockID != nil:
			rl.Endpoint = blockEndpoint(summaries, *l.TargetBlockID)
		default:
			d, ok := docs[*l.TargetDocumentID]
			if !ok {
				d = models.Document{ID: *l.TargetDocumentID}
			}
			rl.Endpoint = models.Endpoint{Kind: "document", Document: &d}
		}
		out = append(out, rl)
	}
	return out, nil
}

func blockEndpoint(summaries map[string]models.BlockSummary, id string) models.Endpoint {
	sum, ok := summaries[id]
	if !ok {
		sum = models.BlockSummary{ID: id}
	}
	return models.Endpoint{Kind: "block", Block: &sum}
}
