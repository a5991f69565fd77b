package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"

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
	"github.com/starford/loom/internal/storage"
	"github.com/starford/loom/internal/store"
	"github.com/starford/loom/internal/synthesis"
	"github.com/starford/loom/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Notify(kind string, _ any) {
	r.mu.Lock()
	r.events = append(r.events, kind)
	r.mu.Unlock()
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type testEnv struct {
	db      *store.DB
	router  http.Handler
	events  *recorder
	inbox   string
	handler *Handler
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	db := testutil.TestDB(t)
	logger := testutil.Logger()
	inboxDir := t.TempDir()
	files, err := storage.NewFS(inboxDir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	ev := &recorder{}
	h := NewHandler(Deps{
		Blocks:   blocks.NewService(db, logger),
		Links:    links.NewService(db, logger),
		Importer: importer.NewService(db, logger),
		Merger:   synthesis.NewService(db, nil, 0, logger),
		Lineage:  lineage.NewResolver(db, 0, logger),
		Graph:    graph.NewProjector(db, logger),
		Sessions: sessions.NewService(db, logger),
		Oplog:    oplog.NewService(db, logger),
		Events:   ev,
		Inbox:    files,
		Logger:   logger,
	})
	return &testEnv{
		db:      db,
		router:  NewRouter(h, token != "", token, nil),
		events:  ev,
		inbox:   inboxDir,
		handler: h,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v, body = %s", err, rec.Body.String())
	}
	return v
}

func (e *testEnv) document(t *testing.T, id string) {
	t.Helper()
	rec := e.do(t, http.MethodPut, "/documents/"+id, map[string]string{"project_id": "proj", "title": id})
	if rec.Code != http.StatusOK {
		t.Fatalf("put document = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func (e *testEnv) block(t *testing.T, doc, title string) models.Block {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/documents/"+doc+"/blocks", map[string]any{"title": title, "content": title + " body"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create block = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decodeBody[models.Block](t, rec)
}

func TestAuthMiddleware(t *testing.T) {
	e := newTestEnv(t, "secret")

	rec := e.do(t, http.MethodGet, "/proposal-format", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/proposal-format", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/proposal-format", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authed = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "source_index") {
		t.Errorf("format contract missing source_index: %s", rec.Body.String())
	}
}

func TestBlockLifecycle(t *testing.T) {
	e := newTestEnv(t, "")
	e.document(t, "doc")
	a := e.block(t, "doc", "A")
	b := e.block(t, "doc", "B")
	if a.OrderIndex != 0 || b.OrderIndex != 1 {
		t.Errorf("order = %d, %d, want 0, 1", a.OrderIndex, b.OrderIndex)
	}

	rec := e.do(t, http.MethodPatch, "/blocks/"+a.ID, map[string]any{"title": "A2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[models.Block](t, rec).Title; got != "A2" {
		t.Errorf("title = %q, want A2", got)
	}

	rec = e.do(t, http.MethodGet, "/documents/doc/blocks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	list := decodeBody[struct {
		Blocks []models.Block `json:"blocks"`
		Total  int            `json:"total"`
	}](t, rec)
	if list.Total != 2 {
		t.Errorf("total = %d, want 2", list.Total)
	}

	rec = e.do(t, http.MethodDelete, "/blocks/"+b.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodDelete, "/blocks/"+b.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}

	want := []string{"block.created", "block.created", "block.updated", "block.deleted"}
	if got := e.events.kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestCreateBlockValidation(t *testing.T) {
	e := newTestEnv(t, "")
	e.document(t, "doc")

	rec := e.do(t, http.MethodPost, "/documents/doc/blocks", map[string]any{"title": "x", "block_type": "poem"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type = %d, want 400", rec.Code)
	}
	if f := decodeBody[errResponse](t, rec).Field; f != "block_type" {
		t.Errorf("field = %q, want block_type", f)
	}

	rec = e.do(t, http.MethodPost, "/documents/doc/blocks", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/documents/missing/blocks", map[string]any{"title": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing document = %d, want 404", rec.Code)
	}
}

func TestDeleteLinkedBlockNeedsCascade(t *testing.T) {
	e := newTestEnv(t, "")
	e.document(t, "doc")
	a := e.block(t, "doc", "A")
	b := e.block(t, "doc", "B")

	rec := e.do(t, http.MethodPost, "/links", map[string]any{
		"source_block_id": a.ID,
		"target_block_id": b.ID,
		"link_type":       "manual_ref",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create link = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/blocks/"+b.ID+"/links?direction=incoming", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("links = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), a.ID) {
		t.Errorf("incoming links missing source %s: %s", a.ID, rec.Body.String())
	}

	rec = e.do(t, http.MethodDelete, "/blocks/"+b.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete without cascade = %d, want 409", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, "/blocks/"+b.ID+"?cascade=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cascade delete = %d, body = %s", rec.Code, rec.Body.String())
	}
	if res := decodeBody[blocks.DeleteResult](t, rec); len(res.RemovedLinkIDs) != 1 {
		t.Errorf("removed links = %v, want 1", res.RemovedLinkIDs)
	}
}

func TestImportEndpoint(t *testing.T) {
	e := newTestEnv(t, "")
	e.document(t, "doc")

	body := `document_id: doc
blocks:
  - title: Libro
    children:
      - title: Capítulo
        children:
          - title: Artículo 1
links:
  - {source_index: 0, target_index: 2, reason: same topic}
  - {source_index: 0, target_index: 9}
`
	rec := e.do(t, http.MethodPost, "/documents/doc/import", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import = %d, body = %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[importer.Result](t, rec)
	if len(res.BlockIDs) != 3 {
		t.Errorf("blocks = %d, want 3", len(res.BlockIDs))
	}
	if len(res.Links) != 1 {
		t.Errorf("links = %d, want 1", len(res.Links))
	}
	if len(res.SkippedLinks) != 1 {
		t.Errorf("skipped links = %d, want 1", len(res.SkippedLinks))
	}
	if !slices.Contains(e.events.kinds(), "import.completed") {
		t.Errorf("events = %v, want import.completed", e.events.kinds())
	}

	rec = e.do(t, http.MethodPost, "/documents/other/import", `{"document_id":"doc","blocks":[{"title":"x"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("mismatched document = %d, want 400", rec.Code)
	}
}

func TestProposeWithoutProposer(t *testing.T) {
	e := newTestEnv(t, "")
	rec := e.do(t, http.MethodPost, "/documents/doc/propose", map[string]string{"text": "hello"})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("propose = %d, want 501", rec.Code)
	}
}

func TestProposeWithOutlineProposer(t *testing.T) {
	e := newTestEnv(t, "")
	e.handler.Proposer = proposal.OutlineProposer{}
	e.document(t, "doc")

	text := "# Title I\nScope.\n\n## Chapter 1\nSee [[Title I]].\n"
	rec := e.do(t, http.MethodPost, "/documents/doc/propose", map[string]string{"text": text})
	if rec.Code != http.StatusOK {
		t.Fatalf("propose = %d, body = %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[struct {
		Proposal        proposal.Proposal `json:"proposal"`
		Nodes           int               `json:"nodes"`
		ImportableNodes int               `json:"importable_nodes"`
	}](t, rec)
	if res.Proposal.DocumentID != "doc" {
		t.Errorf("document_id = %q, want doc", res.Proposal.DocumentID)
	}
	if res.Nodes != 2 || res.ImportableNodes != 2 {
		t.Errorf("nodes = %d, importable = %d, want 2, 2", res.Nodes, res.ImportableNodes)
	}
	if len(res.Proposal.Links) != 1 {
		t.Errorf("candidate links = %d, want 1", len(res.Proposal.Links))
	}

	live, err := e.db.ListActiveBlocks(t.Context(), "doc")
	if err != nil {
		t.Fatalf("ListActiveBlocks: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("propose wrote %d blocks, want 0", len(live))
	}
}

func TestMergeLineageAndGraph(t *testing.T) {
	e := newTestEnv(t, "")
	e.document(t, "src")
	e.document(t, "dst")
	a := e.block(t, "src", "A")
	b := e.block(t, "src", "B")

	rec := e.do(t, http.MethodPost, "/sessions", map[string]any{
		"project_id":          "proj",
		"user_id":             "u1",
		"name":                "research",
		"source_document_ids": []string{"src"},
		"target_document_id":  "dst",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session = %d, body = %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[models.ResearchSession](t, rec)

	rec = e.do(t, http.MethodPost, "/merge", map[string]any{
		"block_ids":          []string{a.ID, b.ID},
		"target_document_id": "dst",
		"session_id":         sess.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("merge = %d, body = %s", rec.Code, rec.Body.String())
	}
	merged := decodeBody[synthesis.MergeResult](t, rec)
	if merged.Block.BlockType != models.BlockSynthesis {
		t.Errorf("block type = %q, want %q", merged.Block.BlockType, models.BlockSynthesis)
	}
	if len(merged.Provenance) != 2 {
		t.Errorf("provenance = %d, want 2", len(merged.Provenance))
	}
	if merged.Operation == nil {
		t.Fatal("merge in a session must record an operation")
	}

	rec = e.do(t, http.MethodGet, "/blocks/"+merged.Block.ID+"/lineage?max_depth=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lineage = %d, body = %s", rec.Code, rec.Body.String())
	}
	lin := decodeBody[lineage.Lineage](t, rec)
	if len(lin.Entries) != 2 {
		t.Errorf("lineage entries = %d, want 2", len(lin.Entries))
	}
	if lin.Truncated {
		t.Error("lineage should not be truncated")
	}

	rec = e.do(t, http.MethodGet, "/blocks/"+merged.Block.ID+"/lineage?max_depth=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("max_depth=0 = %d, want 400", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/graph/provenance?session_id="+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("graph = %d, body = %s", rec.Code, rec.Body.String())
	}
	g := decodeBody[struct {
		Nodes []map[string]any `json:"nodes"`
		Links []map[string]any `json:"links"`
	}](t, rec)
	if len(g.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(g.Nodes))
	}
	if len(g.Links) != 2 {
		t.Errorf("links = %d, want 2", len(g.Links))
	}

	rec = e.do(t, http.MethodGet, "/graph/provenance", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("graph without scope = %d, want 400", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/sessions/"+sess.ID+"/operations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("operations = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), merged.Operation.ID) {
		t.Errorf("operations missing %s: %s", merged.Operation.ID, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/operations/"+merged.Operation.ID+"/approval", map[string]any{"approved": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, "/operations/"+merged.Operation.ID+"/approval", map[string]any{"approved": false})
	if rec.Code != http.StatusConflict {
		t.Errorf("second approval = %d, want 409", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/sessions/"+sess.ID+"/status", map[string]any{"status": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete session = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, "/merge", map[string]any{
		"block_ids":          []string{a.ID},
		"target_document_id": "dst",
		"session_id":         sess.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("merge into completed session = %d, want 409", rec.Code)
	}
}

func TestMergeMissingBlock(t *testing.T) {
	e := newTestEnv(t, "")
	e.document(t, "dst")
	a := e.block(t, "dst", "A")

	rec := e.do(t, http.MethodPost, "/merge", map[string]any{
		"block_ids":          []string{a.ID, "ghost"},
		"target_document_id": "dst",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("merge = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ghost") {
		t.Errorf("error should name the missing id: %s", rec.Body.String())
	}

	blocksInDst, err := e.db.ListActiveBlocks(t.Context(), "dst")
	if err != nil {
		t.Fatalf("ListActiveBlocks: %v", err)
	}
	if len(blocksInDst) != 1 {
		t.Errorf("blocks in dst = %d, want 1", len(blocksInDst))
	}
}

func TestFailMapsErrors(t *testing.T) {
	e := newTestEnv(t, "")
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"partial", apperr.Partial("merge", []string{"b1"}, errors.New("disk full")), http.StatusMultiStatus},
		{"validation", apperr.Invalid("x", "bad"), http.StatusBadRequest},
		{"not found", apperr.NotFound("block", "b1"), http.StatusNotFound},
		{"conflict", apperr.ErrConflict, http.StatusConflict},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.handler.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}
		})
	}

	rec := httptest.NewRecorder()
	e.handler.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), apperr.Partial("merge", []string{"b1"}, errors.New("disk full")))
	if got := decodeBody[errResponse](t, rec).CommittedIDs; !reflect.DeepEqual(got, []string{"b1"}) {
		t.Errorf("committed_ids = %v, want [b1]", got)
	}

	rec = httptest.NewRecorder()
	e.handler.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret detail"))
	if strings.Contains(rec.Body.String(), "secret detail") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func upload(t *testing.T, e *testEnv, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/inbox", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestInboxUpload(t *testing.T) {
	e := newTestEnv(t, "")

	rec := upload(t, e, "p.yaml", "document_id: doc\nblocks:\n  - title: T\n")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(e.inbox, "p.yaml")); err != nil {
		t.Errorf("uploaded file missing: %v", err)
	}

	rec = e.do(t, http.MethodGet, "/inbox", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list inbox = %d", rec.Code)
	}
	files := decodeBody[[]storage.FileInfo](t, rec)
	if len(files) != 1 {
		t.Fatalf("inbox files = %d, want 1", len(files))
	}
	if files[0].Path != "p.yaml" {
		t.Errorf("path = %q, want p.yaml", files[0].Path)
	}

	rec = upload(t, e, "virus.exe", "MZ")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("upload .exe = %d, want 400", rec.Code)
	}
}
