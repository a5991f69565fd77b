// Package synthesis merges blocks into a new synthesis block and records
// the provenance ledger and operation log entry for the merge.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/metrics"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
)

// DefaultConfidence is the confidence_score written on merged provenance.
const DefaultConfidence = 0.85

// percentTolerance is how far contribution percentages may drift from 100
// before a consistency warning is logged.
const percentTolerance = 1.0

// Store is the persistence the merge needs. *store.DB satisfies it.
type Store interface {
	store.Writer
	Atomic(ctx context.Context, fn func(w store.Writer) error) error
}

// MergeInput names the blocks to merge and where the result goes.
type MergeInput struct {
	BlockIDs         []string
	TargetDocumentID string
	SessionID        string
	Instructions     string
}

// MergeResult is what a successful merge wrote.
type MergeResult struct {
	Block      *models.Block              `json:"block"`
	Provenance []models.BlockProvenance   `json:"provenance"`
	Operation  *models.SynthesisOperation `json:"operation,omitempty"`
	Citations  []string                   `json:"citations"`
}

// Service implements MergeBlocks.
type Service struct {
	store      Store
	synth      Synthesizer
	confidence float64
	logger     *slog.Logger
}

// NewService creates a merge service. A confidence outside [0,1] falls back
// to DefaultConfidence.
func NewService(s Store, synth Synthesizer, confidence float64, logger *slog.Logger) *Service {
	if synth == nil {
		synth = ConcatSynthesizer{}
	}
	if confidence <= 0 || confidence > 1 {
		confidence = DefaultConfidence
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, synth: synth, confidence: confidence, logger: logger}
}

// MergeBlocks synthesises the listed live blocks into one synthesis block
// appended to the target document. Lookups and collaborator validation run
// before any write. The block is committed first; if the provenance ledger
// or operation entry then fails, a PartialFailureError carries the block id.
func (s *Service) MergeBlocks(ctx context.Context, in MergeInput) (res *MergeResult, err error) {
	defer func(start time.Time) { metrics.Observe("merge", start, err) }(time.Now())

	sources, err := s.loadSources(ctx, in.BlockIDs)
	if err != nil {
		return nil, err
	}
	target := strings.TrimSpace(in.TargetDocumentID)
	if target == "" {
		return nil, apperr.Invalid("target_document_id", "is required")
	}
	if _, err := s.store.GetDocument(ctx, target); err != nil {
		return nil, err
	}
	if in.SessionID != "" {
		sess, err := s.store.GetSession(ctx, in.SessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status != models.SessionActive {
			return nil, fmt.Errorf("%w: session %s is %s", apperr.ErrConflict, sess.ID, sess.Status)
		}
	}

	out, err := s.synth.Synthesize(ctx, Request{Sources: sources, TargetDocumentID: target, Instructions: in.Instructions})
	if err != nil {
		return nil, fmt.Errorf("synthesis: collaborator: %w", err)
	}
	if err := s.checkResult(out, sources); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	block := &models.Block{
		DocumentID: target,
		Title:      strings.TrimSpace(out.Title),
		Content:    out.Content,
		BlockType:  models.BlockSynthesis,
		Tags:       sourceTags(sources),
	}
	if block.Title == "" {
		block.Title = fmt.Sprintf("Synthesis of %d blocks", len(sources))
	}
	err = s.store.Atomic(ctx, func(w store.Writer) error {
		idx, err := w.AllocateOrder(ctx, target, 1)
		if err != nil {
			return err
		}
		block.OrderIndex = idx
		return w.InsertBlock(ctx, block)
	})
	if err != nil {
		return nil, err
	}
	metrics.BlocksCreated.WithLabelValues("merge").Inc()

	res = &MergeResult{Block: block, Citations: out.Citations}
	if res.Citations == nil {
		res.Citations = []string{}
	}
	err = s.store.Atomic(ctx, func(w store.Writer) error {
		res.Provenance = make([]models.BlockProvenance, 0, len(sources))
		for i := range sources {
			p := models.BlockProvenance{
				BlockID:                block.ID,
				SourceDocumentID:       sources[i].DocumentID,
				SourceBlockID:          &sources[i].ID,
				ContributionType:       models.ContributionMerged,
				ContributionPercentage: percentageAt(out.ContributionPercentages, i),
				ConfidenceScore:        s.confidence,
			}
			if err := w.InsertProvenance(ctx, &p); err != nil {
				return err
			}
			res.Provenance = append(res.Provenance, p)
		}
		if in.SessionID == "" {
			return nil
		}
		op := &models.SynthesisOperation{
			SessionID:     in.SessionID,
			OperationType: models.OperationMerge,
			InputBlockIDs: in.BlockIDs,
			OutputBlockID: block.ID,
			AIReasoning:   out.Reasoning,
		}
		if err := w.InsertOperation(ctx, op); err != nil {
			return err
		}
		res.Operation = op
		return nil
	})
	if err != nil {
		s.logger.Error("merge: provenance write failed after block commit",
			slog.String("block_id", block.ID),
			slog.String("error", err.Error()))
		return nil, apperr.Partial("merge", []string{block.ID}, err)
	}

	s.logger.Info("merge completed",
		slog.String("block_id", block.ID),
		slog.String("document_id", target),
		slog.Int("sources", len(sources)),
		slog.String("session_id", in.SessionID))
	return res, nil
}

// loadSources returns the blocks in request order. Any missing or
// soft-deleted id fails the whole merge with NotFound.
func (s *Service) loadSources(ctx context.Context, ids []string) ([]models.Block, error) {
	if len(ids) == 0 {
		return nil, apperr.NotFound("block")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, apperr.Invalidf("block_ids", "duplicate block id %s", id)
		}
		seen[id] = struct{}{}
	}

	found, err := s.store.GetBlocks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Block, len(found))
	for _, b := range found {
		if !b.IsDeleted {
			byID[b.ID] = b
		}
	}
	var missing []string
	sources := make([]models.Block, 0, len(ids))
	for _, id := range ids {
		b, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		sources = append(sources, b)
	}
	if len(missing) > 0 {
		return nil, apperr.NotFound("block", missing...)
	}
	return sources, nil
}

// checkResult rejects unusable collaborator output. Percentages that do not
// sum to 100 are only logged.
func (s *Service) checkResult(out *Result, sources []models.Block) error {
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return apperr.Invalid("content", "synthesizer returned no content")
	}
	pcts := out.ContributionPercentages
	if len(pcts) > len(sources) {
		return apperr.Invalidf("contribution_percentages", "got %d values for %d sources", len(pcts), len(sources))
	}
	sum := 0.0
	for i, p := range pcts {
		if math.IsNaN(p) || p < 0 || p > 100 {
			return apperr.Invalidf("contribution_percentages", "value %d is %v, want 0..100", i, p)
		}
		sum += p
	}
	if len(pcts) > 0 && math.Abs(sum-100) > percentTolerance {
		metrics.ConsistencyWarnings.WithLabelValues("contribution_percentages").Inc()
		apperr.Warn(s.logger, apperr.ConsistencyWarning{
			Subject: "contribution_percentages",
			Detail:  fmt.Sprintf("percentages sum to %.2f, not 100", sum),
			Attrs:   []slog.Attr{slog.Int("sources", len(sources))},
		})
	}
	return nil
}

func percentageAt(pcts []float64, i int) float64 {
	if i < len(pcts) {
		return pcts[i]
	}
	return 0
}

func sourceTags(sources []models.Block) []string {
	var tags []string
	for _, b := range sources {
		tags = append(tags, b.Tags...)
	}
	return models.NormalizeTags(tags)
}
