package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/storage"
)

const maxUploadBytes = 10 << 20

// ListInbox handles GET /api/inbox: files waiting to be imported.
func (h *Handler) ListInbox(w http.ResponseWriter, r *http.Request) {
	if h.Inbox == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody("inbox is disabled"))
		return
	}
	files, err := h.Inbox.List("")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// UploadInbox handles POST /api/inbox (multipart/form-data, field "file").
// The file is written into the inbox and imported asynchronously by the
// watcher.
func (h *Handler) UploadInbox(w http.ResponseWriter, r *http.Request) {
	if h.Inbox == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody("inbox is disabled"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.fail(w, r, apperr.Invalid("file", "file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, apperr.Invalid("file", "missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name := header.Filename
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		h.fail(w, r, apperr.Invalidf("file", "invalid filename %q", name))
		return
	}
	if !storage.Accepted(name) {
		h.fail(w, r, apperr.Invalidf("file", "unsupported file type %q", filepath.Ext(name)))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Inbox.Write(name, data); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"filename": name,
		"size":     len(data),
	})
}
