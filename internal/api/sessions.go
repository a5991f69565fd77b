package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/loom/internal/models"
)

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.Sessions.Create(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /api/sessions?project_id=....
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	items, err := h.Sessions.List(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items, "total": len(items)})
}

// GetSession handles GET /api/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// AddSessionDocuments handles POST /api/sessions/{sessionID}/documents.
func (h *Handler) AddSessionDocuments(w http.ResponseWriter, r *http.Request) {
	var req SessionDocumentsRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.Sessions.AddSourceDocuments(r.Context(), chi.URLParam(r, "sessionID"), req.DocumentIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SetSessionTarget handles PUT /api/sessions/{sessionID}/target.
func (h *Handler) SetSessionTarget(w http.ResponseWriter, r *http.Request) {
	var req SessionTargetRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.Sessions.SetTarget(r.Context(), chi.URLParam(r, "sessionID"), req.DocumentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SetSessionStatus handles POST /api/sessions/{sessionID}/status.
func (h *Handler) SetSessionStatus(w http.ResponseWriter, r *http.Request) {
	var req SessionStatusRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.Sessions.Transition(r.Context(), chi.URLParam(r, "sessionID"), models.SessionStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListOperations handles GET /api/sessions/{sessionID}/operations.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.Oplog.List(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops, "total": len(ops)})
}

// GetOperation handles GET /api/operations/{operationID}.
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.Oplog.Get(r.Context(), chi.URLParam(r, "operationID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// ApproveOperation handles POST /api/operations/{operationID}/approval.
func (h *Handler) ApproveOperation(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	op, err := h.Oplog.Approve(r.Context(), chi.URLParam(r, "operationID"), *req.Approved)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}
