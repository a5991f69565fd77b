// Package graph projects provenance into a node/link graph for a session
// or a whole project.
package graph

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/metrics"
	"github.com/starford/loom/internal/models"
)

// Source is the read side the projector needs. *store.DB satisfies it.
type Source interface {
	GetSession(ctx context.Context, id string) (*models.ResearchSession, error)
	OperationsBySession(ctx context.Context, sessionID string) ([]models.SynthesisOperation, error)
	ProjectDocuments(ctx context.Context, projectID string) ([]models.Document, error)
	ListBlocksByDocuments(ctx context.Context, documentIDs []string) ([]models.Block, error)
	GetBlocks(ctx context.Context, ids []string) ([]models.Block, error)
	ProvenanceForBlocks(ctx context.Context, blockIDs []string) ([]models.BlockProvenance, error)
	DocumentsByIDs(ctx context.Context, ids []string) (map[string]models.Document, error)
}

// Scope selects the blocks to project. Exactly one field must be set.
type Scope struct {
	SessionID string
	ProjectID string
}

// Projector builds provenance graphs.
type Projector struct {
	src    Source
	logger *slog.Logger
}

// NewProjector creates a projector.
func NewProjector(src Source, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{src: src, logger: logger}
}

// BuildProvenanceGraph returns one node per block in scope, one node per
// source document whose contributing block is not a node, and one edge per
// provenance row whose endpoints both resolve. Unresolvable edges are
// dropped.
func (p *Projector) BuildProvenanceGraph(ctx context.Context, scope Scope) (g *Graph, err error) {
	defer func(start time.Time) { metrics.Observe("provenance_graph", start, err) }(time.Now())

	scope.SessionID = strings.TrimSpace(scope.SessionID)
	scope.ProjectID = strings.TrimSpace(scope.ProjectID)
	if (scope.SessionID == "") == (scope.ProjectID == "") {
		return nil, apperr.Invalid("scope", "exactly one of session_id or project_id is required")
	}

	blocks, err := p.scopeBlocks(ctx, scope)
	if err != nil {
		return nil, err
	}

	g = &Graph{Nodes: []Node{}, Links: []Edge{}}
	nodes := make(map[string]Node, len(blocks))
	ids := make([]string, 0, len(blocks))
	for i := range blocks {
		n := &BlockNode{Block: blocks[i].Summary()}
		nodes[n.NodeID()] = n
		g.Nodes = append(g.Nodes, n)
		ids = append(ids, n.NodeID())
	}

	rows, err := p.src.ProvenanceForBlocks(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Document nodes for contributors whose block is not in scope.
	var docIDs []string
	for _, row := range rows {
		if row.SourceBlockID != nil && nodes[*row.SourceBlockID] != nil {
			continue
		}
		if row.SourceDocumentID != "" && nodes[row.SourceDocumentID] == nil {
			nodes[row.SourceDocumentID] = &DocumentNode{Document: models.Document{ID: row.SourceDocumentID}}
			docIDs = append(docIDs, row.SourceDocumentID)
		}
	}
	if len(docIDs) > 0 {
		docs, err := p.src.DocumentsByIDs(ctx, docIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range docIDs {
			n := nodes[id].(*DocumentNode)
			if d, ok := docs[id]; ok {
				n.Document = d
			}
			g.Nodes = append(g.Nodes, n)
		}
	}

	dropped := 0
	for _, row := range rows {
		source := ""
		switch {
		case row.SourceBlockID != nil && nodes[*row.SourceBlockID] != nil:
			source = *row.SourceBlockID
		case nodes[row.SourceDocumentID] != nil:
			source = row.SourceDocumentID
		}
		if source == "" || nodes[row.BlockID] == nil {
			dropped++
			continue
		}
		g.Links = append(g.Links, Edge{
			Source: source,
			Target: row.BlockID,
			Type:   string(row.ContributionType),
			Value:  row.ContributionPercentage,
		})
	}
	if dropped > 0 {
		p.logger.Debug("provenance graph: unresolved edges dropped", slog.Int("dropped", dropped))
	}
	return g, nil
}

func (p *Projector) scopeBlocks(ctx context.Context, scope Scope) ([]models.Block, error) {
	if scope.SessionID != "" {
		if _, err := p.src.GetSession(ctx, scope.SessionID); err != nil {
			return nil, err
		}
		ops, err := p.src.OperationsBySession(ctx, scope.SessionID)
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, op := range ops {
			ids = append(ids, op.InputBlockIDs...)
			ids = append(ids, op.OutputBlockID)
		}
		return p.src.GetBlocks(ctx, ids)
	}

	docs, err := p.src.ProjectDocuments(ctx, scope.ProjectID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return p.src.ListBlocksByDocuments(ctx, ids)
}
