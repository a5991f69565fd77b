// Package lineage resolves the transitive provenance of a block.
package lineage

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

// DefaultMaxDepth bounds a walk when the caller passes no depth.
const DefaultMaxDepth = 5

// Entry is one provenance row reached during a walk. Depth 0 rows feed the
// requested block directly.
type Entry struct {
	models.BlockProvenance
	Depth       int                  `json:"depth"`
	SourceBlock *models.BlockSummary `json:"source_block,omitempty"`
}

// Lineage is the de-duplicated provenance closure of a block.
type Lineage struct {
	BlockID   string  `json:"block_id"`
	MaxDepth  int     `json:"max_depth"`
	Entries   []Entry `json:"entries"`
	Truncated bool    `json:"truncated"`
}

// Resolver walks provenance level by level.
type Resolver struct {
	store    store.Reader
	maxDepth int
	logger   *slog.Logger
}

// NewResolver creates a resolver. maxDepth <= 0 selects DefaultMaxDepth.
func NewResolver(r store.Reader, maxDepth int, logger *slog.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: r, maxDepth: maxDepth, logger: logger}
}

// GetFullLineage returns every provenance row reachable from blockID within
// maxDepth levels (the resolver default when maxDepth <= 0). Each level is
// one batched query and a block is expanded at most once, so cycles end
// early. When unexpanded sources remain at the depth cap the result is
// marked Truncated; this is not an error.
func (r *Resolver) GetFullLineage(ctx context.Context, blockID string, maxDepth int) (res *Lineage, err error) {
	defer func(start time.Time) { metrics.Observe("lineage", start, err) }(time.Now())

	if maxDepth <= 0 {
		maxDepth = r.maxDepth
	}
	if _, err := r.store.GetBlock(ctx, blockID); err != nil {
		return nil, err
	}

	res = &Lineage{BlockID: blockID, MaxDepth: maxDepth, Entries: []Entry{}}
	visited := map[string]bool{blockID: true}
	seen := map[string]bool{}
	frontier := []string{blockID}

	for depth := 0; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := r.store.ProvenanceForBlocks(ctx, frontier)
		if err != nil {
			return nil, err
		}
		if depth == maxDepth {
			res.Truncated = len(rows) > 0
			break
		}
		var next []string
		for _, row := range rows {
			if seen[row.ID] {
				continue
			}
			seen[row.ID] = true
			res.Entries = append(res.Entries, Entry{BlockProvenance: row, Depth: depth})
			if row.SourceBlockID != nil && !visited[*row.SourceBlockID] {
				visited[*row.SourceBlockID] = true
				next = append(next, *row.SourceBlockID)
			}
		}
		frontier = next
	}

	if res.Truncated {
		metrics.LineageTruncated.Inc()
		r.logger.Info("lineage truncated at depth cap",
			slog.String("block_id", blockID),
			slog.Int("max_depth", maxDepth))
	}
	if err := r.attachSources(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// attachSources resolves source block summaries in one query and warns about
// provenance that points at soft-deleted blocks.
func (r *Resolver) attachSources(ctx context.Context, res *Lineage) error {
	ids := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		if e.SourceBlockID != nil {
			ids = append(ids, *e.SourceBlockID)
		}
	}
	found, err := r.store.GetBlocks(ctx, ids)
	if err != nil {
		return err
	}
	summaries := make(map[string]models.BlockSummary, len(found))
	for i := range found {
		summaries[found[i].ID] = found[i].Summary()
	}
	for i := range res.Entries {
		e := &res.Entries[i]
		if e.SourceBlockID == nil {
			continue
		}
		sum, ok := summaries[*e.SourceBlockID]
		if !ok {
			continue
		}
		e.SourceBlock = &sum
		if sum.IsDeleted {
			metrics.ConsistencyWarnings.WithLabelValues("provenance_source_deleted").Inc()
			apperr.Warn(r.logger, apperr.ConsistencyWarning{
				Subject: "provenance_source_deleted",
				Detail:  fmt.Sprintf("provenance %s references soft-deleted block %s", e.ID, sum.ID),
				Attrs:   []slog.Attr{slog.String("block_id", e.BlockID)},
			})
		}
	}
	return nil
}
