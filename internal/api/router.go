package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Document mirror and blocks.
	r.Put("/documents/{documentID}", h.PutDocument)
	r.Get("/documents/{documentID}/blocks", h.ListBlocks)
	r.Post("/documents/{documentID}/blocks", h.CreateBlock)
	r.Post("/documents/{documentID}/import", h.Import)
	r.Post("/documents/{documentID}/propose", h.Propose)

	r.Get("/blocks/{blockID}", h.GetBlock)
	r.Patch("/blocks/{blockID}", h.UpdateBlock)
	r.Delete("/blocks/{blockID}", h.DeleteBlock)
	r.Get("/blocks/{blockID}/links", h.ListLinks)
	r.Get("/blocks/{blockID}/lineage", h.GetLineage)

	// Links.
	r.Post("/links", h.CreateLink)
	r.Delete("/links/{linkID}", h.DeleteLink)

	// Synthesis and provenance.
	r.Post("/merge", h.Merge)
	r.Get("/graph/provenance", h.ProvenanceGraph)
	r.Get("/proposal-format", h.ProposalFormat)

	// Research sessions and their operation log.
	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{sessionID}", h.GetSession)
	r.Post("/sessions/{sessionID}/documents", h.AddSessionDocuments)
	r.Put("/sessions/{sessionID}/target", h.SetSessionTarget)
	r.Post("/sessions/{sessionID}/status", h.SetSessionStatus)
	r.Get("/sessions/{sessionID}/operations", h.ListOperations)
	r.Get("/operations/{operationID}", h.GetOperation)
	r.Post("/operations/{operationID}/approval", h.ApproveOperation)

	// Proposal inbox.
	r.Get("/inbox", h.ListInbox)
	r.Post("/inbox", h.UploadInbox)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
