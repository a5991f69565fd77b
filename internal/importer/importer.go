// Package importer persists a proposed block tree and its index-paired
// candidate links as blocks and semantic links.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/metrics"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/proposal"
	"github.com/starford/loom/internal/store"
)

// DefaultConfidence is stored on imported links that carry no confidence.
const DefaultConfidence = 0.8

// Mode selects the write strategy of an import.
type Mode string

const (
	// ModeAtomic writes the whole tree in one transaction; a failure leaves nothing behind.
	ModeAtomic Mode = "atomic"
	// ModeStreaming commits block by block; a mid-tree failure is reported as
	// a partial failure listing the committed ids.
	ModeStreaming Mode = "streaming"
)

// Store is the persistence the importer needs. *store.DB satisfies it.
type Store interface {
	store.Writer
	Atomic(ctx context.Context, fn func(w store.Writer) error) error
}

// Options tune a single import.
type Options struct {
	Mode Mode
}

// SkippedLink records a candidate link that was not persisted.
type SkippedLink struct {
	Position    int    `json:"position"`
	SourceIndex int    `json:"source_index"`
	TargetIndex int    `json:"target_index"`
	Reason      string `json:"reason"`
}

// Result describes what an import wrote.
type Result struct {
	DocumentID   string                `json:"document_id"`
	BlockIDs     []string              `json:"block_ids"`
	IndexMap     map[int]string        `json:"index_map"`
	Links        []models.SemanticLink `json:"links"`
	SkippedLinks []SkippedLink         `json:"skipped_links"`
	DroppedNodes int                   `json:"dropped_nodes"`
}

// Service runs imports.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new importer.
func NewService(s Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger}
}

// planned is one node scheduled for insertion.
type planned struct {
	flatIndex   int
	parentIndex int
	depth       int
	node        *proposal.Node
}

// plan flattens the tree in pre-order and keeps nodes shallower than
// proposal.MaxDepth. Indices stay aligned with the proposer's flattening,
// dropped subtrees included, so candidate links resolve correctly.
func plan(roots []proposal.Node) (kept []planned, dropped int) {
	proposal.Walk(roots, func(f proposal.Flat) bool {
		if f.Depth >= proposal.MaxDepth {
			dropped++
			return true
		}
		kept = append(kept, planned{flatIndex: f.Index, parentIndex: f.ParentIndex, depth: f.Depth, node: f.Node})
		return true
	})
	return kept, dropped
}

// Import persists p into documentID. Validation and lookup failures happen
// before any write. Importing the same proposal twice creates two
// independent block sets.
func (s *Service) Import(ctx context.Context, documentID string, p *proposal.Proposal, opts Options) (res *Result, err error) {
	defer func(start time.Time) { metrics.Observe("import", start, err) }(time.Now())

	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, apperr.Invalid("document_id", "is required")
	}
	if p == nil {
		return nil, apperr.Invalid("proposal", "is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeAtomic
	case ModeAtomic, ModeStreaming:
	default:
		return nil, apperr.Invalidf("mode", "unknown import mode %q", opts.Mode)
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	kept, dropped := plan(p.Blocks)
	if dropped > 0 {
		s.logger.Warn("import: nodes beyond max depth dropped",
			slog.String("document_id", documentID),
			slog.Int("dropped", dropped),
			slog.Int("max_depth", proposal.MaxDepth))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res = &Result{
		DocumentID:   documentID,
		BlockIDs:     make([]string, 0, len(kept)),
		IndexMap:     make(map[int]string, len(kept)),
		Links:        []models.SemanticLink{},
		SkippedLinks: []SkippedLink{},
		DroppedNodes: dropped,
	}

	switch opts.Mode {
	case ModeAtomic:
		err = s.store.Atomic(ctx, func(w store.Writer) error {
			return s.write(ctx, w, documentID, kept, p.Links, res, false)
		})
		if err != nil {
			return nil, err
		}
	case ModeStreaming:
		if err := s.write(ctx, s.store, documentID, kept, p.Links, res, true); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.Invalidf("mode", "unknown import mode %q", opts.Mode)
	}

	metrics.BlocksCreated.WithLabelValues("import").Add(float64(len(res.BlockIDs)))
	for _, l := range res.Links {
		metrics.LinksCreated.WithLabelValues(string(l.LinkType)).Inc()
	}
	s.logger.Info("import completed",
		slog.String("document_id", documentID),
		slog.Int("blocks", len(res.BlockIDs)),
		slog.Int("links", len(res.Links)),
		slog.Int("skipped_links", len(res.SkippedLinks)))
	return res, nil
}

// write inserts blocks then links. In streaming mode every statement
// commits on its own and failures after the first commit become partial
// failures.
func (s *Service) write(ctx context.Context, w store.Writer, documentID string, kept []planned, candidates []proposal.CandidateLink, res *Result, streaming bool) error {
	var committed []string
	fail := func(err error) error {
		if streaming && len(committed) > 0 {
			return apperr.Partial("import", committed, err)
		}
		return err
	}

	start := -1
	for i, pl := range kept {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		b := &models.Block{
			DocumentID: documentID,
			Title:      strings.TrimSpace(pl.node.Title),
			Content:    pl.node.Content,
			BlockType:  models.BlockType(pl.node.Type),
			Tags:       append(append([]string{}, pl.node.Tags...), proposal.DepthTag(pl.depth)),
		}
		if b.BlockType == "" {
			b.BlockType = proposal.DepthType(pl.depth)
		}
		if pl.parentIndex >= 0 {
			parentID, ok := res.IndexMap[pl.parentIndex]
			if !ok {
				return fail(fmt.Errorf("import: parent index %d of node %d not inserted", pl.parentIndex, pl.flatIndex))
			}
			b.ParentBlockID = &parentID
		}
		if start < 0 {
			first, err := s.reserveFirst(ctx, w, documentID, len(kept), b, streaming)
			if err != nil {
				return err
			}
			start = first
		} else {
			b.OrderIndex = start + i
			if err := w.InsertBlock(ctx, b); err != nil {
				return fail(err)
			}
		}
		committed = append(committed, b.ID)
		res.IndexMap[pl.flatIndex] = b.ID
		res.BlockIDs = append(res.BlockIDs, b.ID)
	}

	for pos, c := range candidates {
		link, reason := s.resolve(res.IndexMap, c)
		if link == nil {
			res.SkippedLinks = append(res.SkippedLinks, SkippedLink{
				Position: pos, SourceIndex: c.SourceIndex, TargetIndex: c.TargetIndex, Reason: reason,
			})
			metrics.LinkIndicesSkipped.Inc()
			s.logger.Warn("import: candidate link skipped",
				slog.String("document_id", documentID),
				slog.Int("position", pos),
				slog.Int("source_index", c.SourceIndex),
				slog.Int("target_index", c.TargetIndex),
				slog.String("reason", reason))
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := w.InsertLink(ctx, link); err != nil {
			return fail(err)
		}
		committed = append(committed, link.ID)
		res.Links = append(res.Links, *link)
	}
	return nil
}

// reserveFirst allocates the order range for n blocks and inserts b at its
// start. In streaming mode both run in their own transaction so a failing
// first insert leaves the order sequence untouched.
func (s *Service) reserveFirst(ctx context.Context, w store.Writer, documentID string, n int, b *models.Block, streaming bool) (int, error) {
	start := 0
	do := func(w store.Writer) error {
		var err error
		if start, err = w.AllocateOrder(ctx, documentID, n); err != nil {
			return err
		}
		b.OrderIndex = start
		return w.InsertBlock(ctx, b)
	}
	if streaming {
		return start, s.store.Atomic(ctx, do)
	}
	return start, do(w)
}

// resolve maps a candidate onto persisted block ids. Unresolvable
// candidates return a nil link and the reason they were skipped.
func (s *Service) resolve(index map[int]string, c proposal.CandidateLink) (*models.SemanticLink, string) {
	src, ok := index[c.SourceIndex]
	if !ok {
		return nil, fmt.Sprintf("source index %d out of range", c.SourceIndex)
	}
	tgt, ok := index[c.TargetIndex]
	if !ok {
		return nil, fmt.Sprintf("target index %d out of range", c.TargetIndex)
	}
	if src == tgt {
		return nil, "source and target are the same node"
	}
	confidence := DefaultConfidence
	if c.Confidence != nil {
		if *c.Confidence < 0 || *c.Confidence > 1 {
			return nil, fmt.Sprintf("confidence %v outside [0,1]", *c.Confidence)
		}
		confidence = *c.Confidence
	}
	meta := map[string]any{models.MetaConfidence: confidence}
	if r := strings.TrimSpace(c.Reason); r != "" {
		meta[models.MetaReason] = r
	}
	return &models.SemanticLink{
		SourceBlockID: src,
		TargetBlockID: &tgt,
		LinkType:      models.LinkSemanticSimilarity,
		Metadata:      meta,
	}, ""
}
