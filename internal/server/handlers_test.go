package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/studycrew-go/internal/agent"
	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/retriever"
	"github.com/54b3r/studycrew-go/internal/service"
	"github.com/54b3r/studycrew-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fake service for handler tests
// ---------------------------------------------------------------------------

// fakeDocuments implements the documents interface for tests.
type fakeDocuments struct {
	mu sync.Mutex

	// answer is returned by Query when err is nil.
	answer *service.Answer
	// err is returned by every fallible method.
	err error
	// docs is returned by ListDocuments.
	docs []service.DocumentInfo
	// status is returned by Status.
	status service.StatusReport

	// lastQuery records the most recent Query argument.
	lastQuery service.Query
	// uploaded records the filename and body of the most recent Upload.
	uploaded     string
	uploadedBody string
	// deleted records names passed to Delete.
	deleted []string
}

func (f *fakeDocuments) Query(_ context.Context, q service.Query) (*service.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *fakeDocuments) Upload(_ context.Context, filename string, r io.Reader, _ int64) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return store.Document{}, f.err
	}
	body, _ := io.ReadAll(r)
	f.uploaded, f.uploadedBody = filename, string(body)
	return store.Document{
		Name:     strings.TrimSuffix(filename, ".txt"),
		Filename: filename,
		Size:     int64(len(body)),
		Status:   store.StatusProcessing,
	}, nil
}

func (f *fakeDocuments) ListDocuments(context.Context) ([]service.DocumentInfo, error) {
	return f.docs, f.err
}

func (f *fakeDocuments) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeDocuments) DeleteAll(context.Context) (int, error) {
	return len(f.docs), f.err
}

func (f *fakeDocuments) Status() service.StatusReport { return f.status }

// newTestServer builds a minimal *Server for handler tests. Handlers are
// called directly: no network, no goroutines, no port.
func newTestServer() *Server {
	return newTestServerWith(&fakeDocuments{})
}

func newTestServerWith(svc documents) *Server {
	return &Server{
		svc:     svc,
		cfg:     &Config{MaxUploadSize: 1 << 10},
		log:     logging.Discard(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
}

// newRoutedServer builds a *Server through New so middleware and routing are
// exercised end to end.
func newRoutedServer(t *testing.T, svc documents, apiKey string) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(svc, &Config{
		Logger:          logging.Discard(),
		APIKey:          apiKey,
		Metrics:         NewMetrics(reg),
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, reg
}

func sampleAnswer() *service.Answer {
	return &service.Answer{
		Document:  "biology",
		Strategy:  retriever.Similarity,
		Requested: retriever.MMR,
		FellBack:  true,
		Context:   "Cells divide.",
		Passages:  []retriever.Passage{{Content: "Cells divide.", Position: 0, Distance: 0.12, Tier: "highly relevant"}},
		Experts: []agent.ExpertOutput{
			{Role: agent.RoleTutor, Output: "Mitosis."},
			{Role: agent.RoleCoach, Output: "Think of copying a recipe."},
			{Role: agent.RoleAnalyst, Output: "Checkpoints regulate it."},
		},
		FinalAnswer: "Cells divide by mitosis.",
	}
}

// ---------------------------------------------------------------------------
// POST /api/ask
// ---------------------------------------------------------------------------

func TestHandleAsk_OK(t *testing.T) {
	t.Parallel()

	fake := &fakeDocuments{answer: sampleAnswer()}
	s := newTestServerWith(fake)
	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"question":"How do cells divide?","document_name":"biology","strategy":"mmr","top_k":3}`))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", w.Code, w.Body.String())
	}
	got := fake.lastQuery
	if got.Document != "biology" || got.Question != "How do cells divide?" || got.Strategy != "mmr" {
		t.Errorf("unexpected query: %+v", got)
	}
	if got.TopK == nil || *got.TopK != 3 {
		t.Errorf("top_k: want 3, got %v", got.TopK)
	}

	var body struct {
		Document      string               `json:"document_name"`
		Strategy      string               `json:"strategy"`
		FellBack      bool                 `json:"fell_back"`
		ExpertOutputs []agent.ExpertOutput `json:"expert_outputs"`
		FinalAnswer   string               `json:"final_answer"`
		Passages      []passage            `json:"passages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Document != "biology" || body.Strategy != "similarity" || !body.FellBack {
		t.Errorf("unexpected envelope: %+v", body)
	}
	if len(body.ExpertOutputs) != 3 || body.FinalAnswer != "Cells divide by mitosis." {
		t.Errorf("unexpected answer: %+v", body)
	}
	if len(body.Passages) != 1 || body.Passages[0].Tier != "highly relevant" {
		t.Errorf("unexpected passages: %+v", body.Passages)
	}
}

func TestHandleAsk_TopKPresence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want *int
	}{
		{"omitted", `{"question":"q"}`, nil},
		{"explicit zero", `{"question":"q","top_k":0}`, new(int)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeDocuments{answer: sampleAnswer()}
			s := newTestServerWith(fake)
			w := httptest.NewRecorder()
			s.handleAsk(w, httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(tc.body)))

			got := fake.lastQuery.TopK
			if (got == nil) != (tc.want == nil) || (got != nil && *got != *tc.want) {
				t.Errorf("top_k: want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHandleAsk_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()

	s.handleAsk(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleAsk_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
		wantRole string
	}{
		{"validation", apperr.New(apperr.KindValidation, "op", "question must not be empty"), http.StatusBadRequest, "validation", ""},
		{"not found", apperr.New(apperr.KindNotFound, "op", "no documents available"), http.StatusNotFound, "not_found", ""},
		{"no context", apperr.New(apperr.KindDocumentProcessing, "op", "no context"), http.StatusUnprocessableEntity, "document_processing", ""},
		{"backend down", apperr.New(apperr.KindBackendUnavailable, "op", "index offline"), http.StatusServiceUnavailable, "backend_unavailable", ""},
		{"timeout", apperr.New(apperr.KindBackendTimeout, "op", "deadline"), http.StatusGatewayTimeout, "backend_timeout", ""},
		{
			"agent",
			&apperr.Error{Kind: apperr.KindAgent, Op: "agent.Process", Role: agent.RoleAnalyst, Msg: "task failed"},
			http.StatusBadGateway, "agent", agent.RoleAnalyst,
		},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "internal", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServerWith(&fakeDocuments{err: tc.err})
			req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"What is X?"}`))
			w := httptest.NewRecorder()

			s.handleAsk(w, req)

			if w.Code != tc.wantCode {
				t.Errorf("status: want %d, got %d", tc.wantCode, w.Code)
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tc.wantKind {
				t.Errorf("kind: want %q, got %q", tc.wantKind, body.Error)
			}
			if body.Role != tc.wantRole {
				t.Errorf("role: want %q, got %q", tc.wantRole, body.Role)
			}
			if body.Message == "" {
				t.Error("message must not be empty")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// /api/documents
// ---------------------------------------------------------------------------

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleUpload_Accepted(t *testing.T) {
	t.Parallel()

	fake := &fakeDocuments{}
	s := newTestServerWith(fake)
	body, ct := multipartBody(t, "file", "biology.txt", "Cells divide.")
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleUpload(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d, body: %s", w.Code, w.Body.String())
	}
	if fake.uploaded != "biology.txt" || fake.uploadedBody != "Cells divide." {
		t.Errorf("upload not forwarded: %q %q", fake.uploaded, fake.uploadedBody)
	}
	var resp uploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Name != "biology" || resp.Status != store.StatusProcessing {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleUpload_MissingFileField(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	body, ct := multipartBody(t, "attachment", "biology.txt", "Cells divide.")
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	body, ct := multipartBody(t, "file", "big.txt", strings.Repeat("x", multipartOverhead+4<<10))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleUpload(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func TestHandleUpload_ServiceRejects(t *testing.T) {
	t.Parallel()

	s := newTestServerWith(&fakeDocuments{err: apperr.New(apperr.KindValidation, "service.Upload", "file type \".pptx\" not allowed")})
	body, ct := multipartBody(t, "file", "slides.pptx", "x")
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleListDocuments_EmptyIsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()

	s.handleListDocuments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"documents":[]}` {
		t.Errorf("body: got %s", got)
	}
}

// ---------------------------------------------------------------------------
// Routing, auth and metrics through New
// ---------------------------------------------------------------------------

func TestRouting_DeleteDocumentUsesPathName(t *testing.T) {
	t.Parallel()

	fake := &fakeDocuments{}
	s, _ := newRoutedServer(t, fake, "")
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/biology", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", w.Code, w.Body.String())
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "biology" {
		t.Errorf("deleted: %v", fake.deleted)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRouting_DeleteMissingDocumentIs404(t *testing.T) {
	t.Parallel()

	s, _ := newRoutedServer(t, &fakeDocuments{err: apperr.New(apperr.KindNotFound, "service.Delete", `document "x" not found`)}, "")
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/x", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRouting_AuthProtectsAPIButNotProbes(t *testing.T) {
	t.Parallel()

	s, _ := newRoutedServer(t, &fakeDocuments{}, "secret")

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/status", http.StatusUnauthorized},
		{http.MethodGet, "/api/documents", http.StatusUnauthorized},
		{http.MethodPost, "/api/ask", http.StatusUnauthorized},
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/ready", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s %s: want %d, got %d", tc.method, tc.path, tc.want, w.Code)
		}
	}
}

func TestRouting_StatusReport(t *testing.T) {
	t.Parallel()

	fake := &fakeDocuments{status: service.StatusReport{
		Status:    service.StateReady,
		Documents: []string{"biology"},
		Default:   "biology",
	}}
	s, _ := newRoutedServer(t, fake, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rep service.StatusReport
	if err := json.NewDecoder(w.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Status != service.StateReady || rep.Default != "biology" {
		t.Errorf("unexpected report: %+v", rep)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[apperr.Kind]int{
		apperr.KindValidation:         http.StatusBadRequest,
		apperr.KindNotFound:           http.StatusNotFound,
		apperr.KindUnsupportedFormat:  http.StatusUnsupportedMediaType,
		apperr.KindExtractionFailed:   http.StatusUnprocessableEntity,
		apperr.KindDocumentProcessing: http.StatusUnprocessableEntity,
		apperr.KindBackendUnavailable: http.StatusServiceUnavailable,
		apperr.KindBackendTimeout:     http.StatusGatewayTimeout,
		apperr.KindAgent:              http.StatusBadGateway,
		"":                            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%q): want %d, got %d", kind, want, got)
		}
	}
}
