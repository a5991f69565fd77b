package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/blocks"
	"github.com/starford/loom/internal/graph"
	"github.com/starford/loom/internal/importer"
	"github.com/starford/loom/internal/lineage"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/oplog"
	"github.com/starford/loom/internal/proposal"
	"github.com/starford/loom/internal/sessions"
	"github.com/starford/loom/internal/sse"
	"github.com/starford/loom/internal/storage"
	"github.com/starford/loom/internal/synthesis"
)

// Deps are the services behind the REST API. Proposer and Inbox are optional.
type Deps struct {
	Blocks   *blocks.Service
	Links    *links.Service
	Importer *importer.Service
	Proposer proposal.Proposer
	Merger   *synthesis.Service
	Lineage  *lineage.Resolver
	Graph    *graph.Projector
	Sessions *sessions.Service
	Oplog    *oplog.Service
	Events   sse.Notifier
	Inbox    storage.Provider
	Logger   *slog.Logger
}

// Handler holds API route handlers.
type Handler struct {
	Deps
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	if d.Events == nil {
		d.Events = sse.Discard
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Deps: d, logger: logger}
}

// PutDocument handles PUT /api/documents/{documentID}.
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	doc := &models.Document{ID: chi.URLParam(r, "documentID"), ProjectID: req.ProjectID, Title: req.Title}
	if err := h.Blocks.RegisterDocument(r.Context(), doc); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ListBlocks handles GET /api/documents/{documentID}/blocks.
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	items, err := h.Blocks.ListActiveBlocks(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": items, "total": len(items)})
}

// CreateBlock handles POST /api/documents/{documentID}/blocks.
func (h *Handler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req CreateBlockRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.Blocks.CreateBlock(r.Context(), req.input(chi.URLParam(r, "documentID")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Events.Notify(sse.BlockCreated, blockEvent(b))
	writeJSON(w, http.StatusCreated, b)
}

// GetBlock handles GET /api/blocks/{blockID}.
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.Blocks.GetBlock(r.Context(), chi.URLParam(r, "blockID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// UpdateBlock handles PATCH /api/blocks/{blockID}.
func (h *Handler) UpdateBlock(w http.ResponseWriter, r *http.Request) {
	var req UpdateBlockRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.Blocks.UpdateBlock(r.Context(), chi.URLParam(r, "blockID"), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Events.Notify(sse.BlockUpdated, blockEvent(b))
	writeJSON(w, http.StatusOK, b)
}

// DeleteBlock handles DELETE /api/blocks/{blockID}?cascade=true.
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))
	res, err := h.Blocks.SoftDelete(r.Context(), chi.URLParam(r, "blockID"), cascade)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, id := range res.RemovedLinkIDs {
		h.Events.Notify(sse.LinkDeleted, map[string]string{"link_id": id})
	}
	h.Events.Notify(sse.BlockDeleted, map[string]string{"block_id": res.BlockID})
	writeJSON(w, http.StatusOK, res)
}

// ListLinks handles GET /api/blocks/{blockID}/links?direction=incoming.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	dir := links.Direction(r.URL.Query().Get("direction"))
	if dir == "" {
		dir = links.Outgoing
	}
	items, err := h.Links.List(r.Context(), chi.URLParam(r, "blockID"), dir)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": items, "direction": dir})
}

// CreateLink handles POST /api/links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req CreateLinkRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.Links.CreateLink(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Events.Notify(sse.LinkCreated, map[string]string{"link_id": l.ID, "source_block_id": l.SourceBlockID})
	writeJSON(w, http.StatusCreated, l)
}

// DeleteLink handles DELETE /api/links/{linkID}.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "linkID")
	if err := h.Links.DeleteLink(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Events.Notify(sse.LinkDeleted, map[string]string{"link_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// Import handles POST /api/documents/{documentID}/import?mode=streaming.
// The body is a proposal in JSON or YAML.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, r, apperr.Invalid("body", "failed to read body"))
		return
	}
	p, err := proposal.Parse(raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	documentID := chi.URLParam(r, "documentID")
	if p.DocumentID != "" && p.DocumentID != documentID {
		h.fail(w, r, apperr.Invalidf("document_id", "body names %s but path names %s", p.DocumentID, documentID))
		return
	}
	mode := importer.Mode(r.URL.Query().Get("mode"))
	res, err := h.Importer.Import(r.Context(), documentID, p, importer.Options{Mode: mode})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Events.Notify(sse.ImportCompleted, map[string]any{
		"document_id": documentID,
		"blocks":      len(res.BlockIDs),
		"links":       len(res.Links),
	})
	writeJSON(w, http.StatusCreated, res)
}

// Propose handles POST /api/documents/{documentID}/propose. Nothing is written.
func (h *Handler) Propose(w http.ResponseWriter, r *http.Request) {
	if h.Proposer == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody("no proposer configured"))
		return
	}
	var req ProposeRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Proposer.Propose(r.Context(), chi.URLParam(r, "documentID"), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	total, kept := proposal.Count(p.Blocks)
	writeJSON(w, http.StatusOK, map[string]any{"proposal": p, "nodes": total, "importable_nodes": kept})
}

// Merge handles POST /api/merge.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Merger.MergeBlocks(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Events.Notify(sse.MergeCompleted, map[string]any{
		"block_id":    res.Block.ID,
		"document_id": res.Block.DocumentID,
		"sources":     len(res.Provenance),
	})
	writeJSON(w, http.StatusCreated, res)
}

// GetLineage handles GET /api/blocks/{blockID}/lineage?max_depth=5.
func (h *Handler) GetLineage(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if raw := r.URL.Query().Get("max_depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			h.fail(w, r, apperr.Invalid("max_depth", "must be an integer between 1 and 50"))
			return
		}
		depth = n
	}
	res, err := h.Lineage.GetFullLineage(r.Context(), chi.URLParam(r, "blockID"), depth)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ProvenanceGraph handles GET /api/graph/provenance?session_id=...|project_id=....
func (h *Handler) ProvenanceGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g, err := h.Graph.BuildProvenanceGraph(r.Context(), graph.Scope{
		SessionID: q.Get("session_id"),
		ProjectID: q.Get("project_id"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ProposalFormat handles GET /api/proposal-format.
func (h *Handler) ProposalFormat(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = io.WriteString(w, proposal.FormatContract)
}

func blockEvent(b *models.Block) map[string]string {
	return map[string]string{"block_id": b.ID, "document_id": b.DocumentID}
}
