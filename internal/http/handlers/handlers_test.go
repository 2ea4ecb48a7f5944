package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"mdconvert/internal/audit"
	"mdconvert/internal/convert"
	"mdconvert/internal/domain"
	"mdconvert/internal/http/handlers"
	"mdconvert/internal/http/httpapi"
	"mdconvert/internal/orchestrator"
	"mdconvert/internal/queue"
)

const testAdminKey = "test-admin-key"

type stubQueue struct {
	enqueued []queue.Task
	state    queue.TaskResult
	revoked  []string
}

func (s *stubQueue) Enqueue(ctx context.Context, task queue.Task) error {
	s.enqueued = append(s.enqueued, task)
	return nil
}

func (s *stubQueue) State(ctx context.Context, jobID string) (queue.TaskResult, error) {
	if s.state.State == "" {
		return queue.TaskResult{State: queue.StateUnknown}, nil
	}
	return s.state, nil
}

func (s *stubQueue) Revoke(ctx context.Context, jobID string) error {
	s.revoked = append(s.revoked, jobID)
	return nil
}

func (s *stubQueue) Close() error { return nil }

type stubAudit struct {
	queueStats *domain.QueueStats
	active     []domain.JobRecord
}

func (s *stubAudit) Insert(ctx context.Context, rec *domain.JobRecord) error { return nil }
func (s *stubAudit) MarkStarted(ctx context.Context, jobID string) error     { return nil }
func (s *stubAudit) MarkComplete(ctx context.Context, jobID string, status domain.Status, c audit.Completion) error {
	return nil
}
func (s *stubAudit) Get(ctx context.Context, jobID, userID string) (*domain.JobRecord, error) {
	return nil, domain.ErrNotFound
}
func (s *stubAudit) ListActive(ctx context.Context, userID string) ([]domain.JobRecord, error) {
	return s.active, nil
}
func (s *stubAudit) ListActiveAll(ctx context.Context) ([]domain.JobRecord, error) {
	return s.active, nil
}
func (s *stubAudit) History(ctx context.Context, userID string, days int) ([]domain.JobRecord, error) {
	return nil, nil
}
func (s *stubAudit) Search(ctx context.Context, userID, q string) ([]domain.JobRecord, error) {
	return nil, nil
}
func (s *stubAudit) Stats(ctx context.Context, userID string) (*domain.UserStats, error) {
	return &domain.UserStats{}, nil
}
func (s *stubAudit) QueueStats(ctx context.Context) (*domain.QueueStats, error) {
	return s.queueStats, nil
}

type testEnv struct {
	handler http.Handler
	queue   *stubQueue
	audit   *stubAudit
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	q := &stubQueue{}
	store := &stubAudit{queueStats: &domain.QueueStats{PendingCount: 3, TotalActive: 5}}
	log := zerolog.Nop()

	app := &handlers.App{
		Orc:            orchestrator.New(q, store, nil, nil, log),
		Converter:      convert.NewService(nil, log),
		MaxUploadBytes: 1 << 20,
		Log:            log,
	}
	return &testEnv{
		handler: httpapi.NewRouter(app, testAdminKey, log),
		queue:   q,
		audit:   store,
	}
}

// multipartUpload builds a form with one file per (field, filename)
// entry, all sharing the given field name.
func multipartUpload(t *testing.T, field string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	var body map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rr.Body.String())
		}
	}
	return rr, body
}

func TestConvertDocumentPassthrough(t *testing.T) {
	env := newTestEnv(t)
	buf, ctype := multipartUpload(t, "document", map[string]string{"notes.md": "# Title\n\nbody"})

	req := httptest.NewRequest(http.MethodPost, "/documents/convert", buf)
	req.Header.Set("Content-Type", ctype)
	rr, body := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if md, _ := body["markdown"].(string); md != "# Title\n\nbody" {
		t.Fatalf("markdown = %q", md)
	}
}

func TestConvertDocumentRejectsLegacyFormat(t *testing.T) {
	env := newTestEnv(t)
	buf, ctype := multipartUpload(t, "document", map[string]string{"memo.doc": "old format"})

	req := httptest.NewRequest(http.MethodPost, "/documents/convert", buf)
	req.Header.Set("Content-Type", ctype)
	rr, body := env.do(t, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body["error"] != string(domain.KindUnsupportedFormat) {
		t.Fatalf("error = %v", body["error"])
	}
	if len(env.queue.enqueued) != 0 {
		t.Fatal("rejected upload must not reach the queue")
	}
}

func TestConvertDocumentValidatesImageScale(t *testing.T) {
	env := newTestEnv(t)
	buf, ctype := multipartUpload(t, "document", map[string]string{"notes.md": "# hi"})

	req := httptest.NewRequest(http.MethodPost, "/documents/convert?image_resolution_scale=9", buf)
	req.Header.Set("Content-Type", ctype)
	rr, body := env.do(t, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body["error"] != string(domain.KindInvalidParameter) {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestConvertDocumentTooLarge(t *testing.T) {
	env := newTestEnv(t)
	buf, ctype := multipartUpload(t, "document", map[string]string{
		"big.md": strings.Repeat("a", 2<<20),
	})

	req := httptest.NewRequest(http.MethodPost, "/documents/convert", buf)
	req.Header.Set("Content-Type", ctype)
	rr, body := env.do(t, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
	if body["error"] != string(domain.KindFileTooLarge) {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestConvertDocumentsEmbedsPerFileErrors(t *testing.T) {
	env := newTestEnv(t)
	buf, ctype := multipartUpload(t, "documents", map[string]string{
		"good.md":   "# fine",
		"photo.png": "\x89PNG\r\n\x1a\n",
	})

	req := httptest.NewRequest(http.MethodPost, "/documents/batch-convert", buf)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var results []domain.ConversionResult
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatalf("response is not a result array: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	var failed, clean int
	for _, res := range results {
		if res.Failed() {
			failed++
		} else {
			clean++
		}
	}
	if failed != 1 || clean != 1 {
		t.Fatalf("failed=%d clean=%d: %+v", failed, clean, results)
	}
}

func TestCreateConversionJobEnqueues(t *testing.T) {
	env := newTestEnv(t)
	buf, ctype := multipartUpload(t, "document", map[string]string{"notes.md": "# hi"})

	req := httptest.NewRequest(http.MethodPost, "/conversion-jobs/", buf)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-User-ID", "u1")
	rr, body := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if body["status"] != string(domain.StatusPending) {
		t.Fatalf("status field = %v", body["status"])
	}
	if body["job_id"] == "" || body["job_id"] == nil {
		t.Fatal("job_id missing")
	}
	if len(env.queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d tasks", len(env.queue.enqueued))
	}
	if env.queue.enqueued[0].UserID != "u1" {
		t.Fatalf("task user = %q", env.queue.enqueued[0].UserID)
	}
}

func TestConversionJobStatusUnknownIsSparse(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/conversion-jobs/nope", nil)
	req.Header.Set("X-User-ID", "u1")
	rr, body := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["job_id"] != "nope" || body["status"] != string(domain.StatusPending) {
		t.Fatalf("unexpected view: %v", body)
	}
	if _, ok := body["filename"]; ok {
		t.Fatal("sparse view must omit filename")
	}
}

func TestConversionJobStatusAttachesResult(t *testing.T) {
	env := newTestEnv(t)
	env.queue.state = queue.TaskResult{
		State:   queue.StateSucceeded,
		Results: []domain.ConversionResult{{Filename: "notes", Markdown: "# done"}},
	}

	req := httptest.NewRequest(http.MethodGet, "/conversion-jobs/j1", nil)
	req.Header.Set("X-User-ID", "u1")
	rr, body := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["status"] != string(domain.StatusSuccess) {
		t.Fatalf("status field = %v", body["status"])
	}
	result, _ := body["result"].(map[string]any)
	if result == nil || result["markdown"] != "# done" {
		t.Fatalf("result payload = %v", body["result"])
	}
}

func TestBatchConversionJobStatusExpandsMembers(t *testing.T) {
	env := newTestEnv(t)
	env.queue.state = queue.TaskResult{
		State: queue.StateSucceeded,
		Results: []domain.ConversionResult{
			{Filename: "good", Markdown: "# ok"},
			{Filename: "bad", Error: "boom"},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/batch-conversion-jobs/b1", nil)
	req.Header.Set("X-User-ID", "u1")
	rr, body := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	// A batch with any failed member reports FAILURE overall.
	if body["status"] != string(domain.StatusFailure) {
		t.Fatalf("status field = %v", body["status"])
	}
	items, _ := body["conversion_results"].([]any)
	if len(items) != 2 {
		t.Fatalf("conversion_results = %v", body["conversion_results"])
	}
	second, _ := items[1].(map[string]any)
	if second["status"] != string(domain.StatusFailure) || second["error"] != "boom" {
		t.Fatalf("failed member = %v", second)
	}
}

func TestCancelConversionJobs(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"job_ids":["a","b"]}`
	req := httptest.NewRequest(http.MethodPost, "/conversion-jobs/batch/cancel", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	rr, body := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if body["cancelled_count"] != float64(2) {
		t.Fatalf("cancelled_count = %v", body["cancelled_count"])
	}
	if len(env.queue.revoked) != 2 {
		t.Fatalf("revoked = %v", env.queue.revoked)
	}
}

func TestCancelConversionJobsRequiresIDs(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/conversion-jobs/batch/cancel", strings.NewReader(`{"job_ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rr, body := env.do(t, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body["error"] != string(domain.KindInvalidParameter) {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestHistorySurfacesRequireUser(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/jobs/active", "/jobs/history", "/jobs/search?q=x", "/jobs/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr, body := env.do(t, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: status = %d, want 403", path, rr.Code)
		}
		if body["error"] != string(domain.KindAccessDenied) {
			t.Fatalf("%s: error = %v", path, body["error"])
		}
	}
}

func TestJobHistoryValidatesDays(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/history?days=0", nil)
	req.Header.Set("X-User-ID", "u1")
	rr, body := env.do(t, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if body["error"] != string(domain.KindInvalidParameter) {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestAdminEndpointsRequireKey(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	rr, body := env.do(t, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if body["error"] != string(domain.KindAccessDenied) {
		t.Fatalf("error = %v", body["error"])
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rr, _ = env.do(t, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("wrong key: status = %d, want 403", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	rr, body = env.do(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid key: status = %d: %s", rr.Code, rr.Body.String())
	}
	if body["pending_count"] != float64(3) {
		t.Fatalf("pending_count = %v", body["pending_count"])
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr, body := env.do(t, req)
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", rr.Code, body)
	}
}
