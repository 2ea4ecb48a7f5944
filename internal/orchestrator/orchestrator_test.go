package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"mdconvert/internal/audit"
	"mdconvert/internal/domain"
	"mdconvert/internal/queue"
)

type fakeQueue struct {
	enqueued   []queue.Task
	enqueueErr error
	state      queue.TaskResult
	stateErr   error
	revoked    []string
	revokeErr  map[string]error
}

func (f *fakeQueue) Enqueue(ctx context.Context, task queue.Task) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, task)
	return nil
}

func (f *fakeQueue) State(ctx context.Context, jobID string) (queue.TaskResult, error) {
	if f.stateErr != nil {
		return queue.TaskResult{}, f.stateErr
	}
	if f.state.State == "" {
		return queue.TaskResult{State: queue.StateUnknown}, nil
	}
	return f.state, nil
}

func (f *fakeQueue) Revoke(ctx context.Context, jobID string) error {
	if err, ok := f.revokeErr[jobID]; ok {
		return err
	}
	f.revoked = append(f.revoked, jobID)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

type completedWrite struct {
	status domain.Status
	c      audit.Completion
}

type fakeAudit struct {
	records   map[string]*domain.JobRecord
	insertErr error
	started   []string
	completed map[string]completedWrite
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{
		records:   map[string]*domain.JobRecord{},
		completed: map[string]completedWrite{},
	}
}

func (f *fakeAudit) Insert(ctx context.Context, rec *domain.JobRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	f.records[rec.JobID] = &cp
	return nil
}

func (f *fakeAudit) MarkStarted(ctx context.Context, jobID string) error {
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeAudit) MarkComplete(ctx context.Context, jobID string, status domain.Status, c audit.Completion) error {
	f.completed[jobID] = completedWrite{status: status, c: c}
	return nil
}

func (f *fakeAudit) Get(ctx context.Context, jobID, userID string) (*domain.JobRecord, error) {
	rec, ok := f.records[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if userID != "" && rec.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeAudit) ListActive(ctx context.Context, userID string) ([]domain.JobRecord, error) {
	return nil, nil
}
func (f *fakeAudit) ListActiveAll(ctx context.Context) ([]domain.JobRecord, error) { return nil, nil }
func (f *fakeAudit) History(ctx context.Context, userID string, days int) ([]domain.JobRecord, error) {
	return nil, nil
}
func (f *fakeAudit) Search(ctx context.Context, userID, q string) ([]domain.JobRecord, error) {
	return nil, nil
}
func (f *fakeAudit) Stats(ctx context.Context, userID string) (*domain.UserStats, error) {
	return nil, nil
}
func (f *fakeAudit) QueueStats(ctx context.Context) (*domain.QueueStats, error) { return nil, nil }

type fakeFiles struct {
	saved map[string]string
	err   error
}

func (f *fakeFiles) SaveResult(ctx context.Context, jobID, filename string, markdown []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.saved == nil {
		f.saved = map[string]string{}
	}
	f.saved[filename] = string(markdown)
	return "/converted/" + jobID + "/" + filename, nil
}

type fakeAnalyzer struct {
	enrichment *domain.Enrichment
	err        error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, markdown string) (*domain.Enrichment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.enrichment, nil
}

func mdDoc(name, content string) domain.Document {
	return domain.Document{Filename: name, Content: []byte(content)}
}

func TestSubmitEnqueuesAndRecords(t *testing.T) {
	q := &fakeQueue{}
	store := newFakeAudit()
	o := New(q, store, nil, nil, zerolog.Nop())

	rec, err := o.Submit(context.Background(), "u1", mdDoc("notes.md", "# hi"), domain.ConversionOptions{})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if rec.JobID == "" || rec.Status != domain.StatusPending {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.FileType != "md" {
		t.Fatalf("file_type = %q, want md", rec.FileType)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].JobID != rec.JobID {
		t.Fatalf("task not enqueued: %+v", q.enqueued)
	}
	if _, ok := store.records[rec.JobID]; !ok {
		t.Fatal("audit record missing")
	}
}

func TestSubmitRejectsUnsupportedBeforeEnqueue(t *testing.T) {
	q := &fakeQueue{}
	store := newFakeAudit()
	o := New(q, store, nil, nil, zerolog.Nop())

	_, err := o.Submit(context.Background(), "u1", mdDoc("memo.doc", "legacy"), domain.ConversionOptions{})
	if err == nil {
		t.Fatal("legacy format must be rejected")
	}
	if len(q.enqueued) != 0 {
		t.Fatal("nothing must be enqueued for a rejected submission")
	}
	if len(store.records) != 0 {
		t.Fatal("no audit record must exist for a rejected submission")
	}
}

func TestSubmitSurvivesAuditFailure(t *testing.T) {
	q := &fakeQueue{}
	store := newFakeAudit()
	store.insertErr = errors.New("db down")
	o := New(q, store, nil, nil, zerolog.Nop())

	rec, err := o.Submit(context.Background(), "u1", mdDoc("notes.md", "# hi"), domain.ConversionOptions{})
	if err != nil {
		t.Fatalf("audit failure must not fail submission: %v", err)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].JobID != rec.JobID {
		t.Fatal("task must still be enqueued")
	}
}

func TestSubmitAnonymousSkipsAudit(t *testing.T) {
	q := &fakeQueue{}
	store := newFakeAudit()
	o := New(q, store, nil, nil, zerolog.Nop())

	if _, err := o.Submit(context.Background(), "", mdDoc("notes.md", "# hi"), domain.ConversionOptions{}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(store.records) != 0 {
		t.Fatal("anonymous submissions must not be recorded")
	}
}

func TestSubmitBatchRecordsAggregate(t *testing.T) {
	q := &fakeQueue{}
	store := newFakeAudit()
	o := New(q, store, nil, nil, zerolog.Nop())

	docs := []domain.Document{mdDoc("a.md", "# a"), mdDoc("b.md", "# b")}
	rec, err := o.SubmitBatch(context.Background(), "u1", docs, domain.ConversionOptions{})
	if err != nil {
		t.Fatalf("SubmitBatch returned error: %v", err)
	}
	if rec.FileType != BatchFileType {
		t.Fatalf("file_type = %q, want %q", rec.FileType, BatchFileType)
	}
	if rec.Filename != "[BATCH: 2 files] a.md, b.md" {
		t.Fatalf("filename = %q", rec.Filename)
	}
	if rec.FileSize != int64(len("# a")+len("# b")) {
		t.Fatalf("file_size = %d", rec.FileSize)
	}
	if q.enqueued[0].Kind != queue.TaskBatch {
		t.Fatalf("kind = %q", q.enqueued[0].Kind)
	}
}

func TestOnWorkerCompleteSuccessEnrichesAndStores(t *testing.T) {
	store := newFakeAudit()
	files := &fakeFiles{}
	analyzer := &fakeAnalyzer{enrichment: &domain.Enrichment{
		Summary: "short", Category: "report", Tags: []string{"a"}, Language: "en",
	}}
	o := New(&fakeQueue{}, store, files, analyzer, zerolog.Nop())

	task := queue.Task{JobID: "j1", Kind: queue.TaskSingle}
	results := []domain.ConversionResult{{Filename: "notes", Markdown: "# hi"}}
	out := o.OnWorkerComplete(context.Background(), task, results, nil, 1500*time.Millisecond)

	if out.State != queue.StateSucceeded {
		t.Fatalf("state = %q", out.State)
	}
	write, ok := store.completed["j1"]
	if !ok {
		t.Fatal("terminal audit write missing")
	}
	if write.status != domain.StatusSuccess {
		t.Fatalf("status = %q", write.status)
	}
	if write.c.Enrichment.Summary != "short" {
		t.Fatalf("enrichment missing: %+v", write.c)
	}
	if write.c.ResultURL == "" {
		t.Fatal("result url missing")
	}
	if write.c.ProcessingTimeMS == nil || *write.c.ProcessingTimeMS != 1500 {
		t.Fatalf("processing time = %v", write.c.ProcessingTimeMS)
	}
}

func TestOnWorkerCompleteLogicalFailureSkipsPostprocess(t *testing.T) {
	store := newFakeAudit()
	analyzer := &fakeAnalyzer{err: errors.New("must not be called")}
	files := &fakeFiles{err: errors.New("must not be called")}
	o := New(&fakeQueue{}, store, files, analyzer, zerolog.Nop())

	task := queue.Task{JobID: "j1", Kind: queue.TaskSingle}
	results := []domain.ConversionResult{{Filename: "bad", Error: "no text content found in pdf"}}
	out := o.OnWorkerComplete(context.Background(), task, results, nil, time.Second)

	// The broker-level task still succeeded; the logical error travels in
	// the result payload.
	if out.State != queue.StateSucceeded {
		t.Fatalf("state = %q", out.State)
	}
	write := store.completed["j1"]
	if write.status != domain.StatusFailure {
		t.Fatalf("status = %q, want FAILURE", write.status)
	}
	if write.c.Error != "no text content found in pdf" {
		t.Fatalf("error = %q", write.c.Error)
	}
	if len(files.saved) != 0 {
		t.Fatal("nothing must be stored for a failed conversion")
	}
}

func TestOnWorkerCompletePostprocessFailureIsNonFatal(t *testing.T) {
	store := newFakeAudit()
	o := New(&fakeQueue{}, store, nil, &fakeAnalyzer{err: errors.New("llm down")}, zerolog.Nop())

	task := queue.Task{JobID: "j1", Kind: queue.TaskSingle}
	results := []domain.ConversionResult{{Filename: "notes", Markdown: "# hi"}}
	o.OnWorkerComplete(context.Background(), task, results, nil, time.Second)

	write := store.completed["j1"]
	if write.status != domain.StatusSuccess {
		t.Fatalf("status = %q, want SUCCESS", write.status)
	}
	if !write.c.Enrichment.Empty() {
		t.Fatalf("enrichment should be empty: %+v", write.c.Enrichment)
	}
}

func TestOnWorkerCompleteBatchFailurePolicy(t *testing.T) {
	store := newFakeAudit()
	o := New(&fakeQueue{}, store, nil, nil, zerolog.Nop())

	task := queue.Task{JobID: "b1", Kind: queue.TaskBatch}
	results := []domain.ConversionResult{
		{Filename: "a", Markdown: "# a"},
		{Filename: "b", Error: "broken"},
		{Filename: "c", Error: "broken too"},
	}
	out := o.OnWorkerComplete(context.Background(), task, results, nil, time.Second)

	if out.State != queue.StateSucceeded || len(out.Results) != 3 {
		t.Fatalf("unexpected result payload: %+v", out)
	}
	write := store.completed["b1"]
	if write.status != domain.StatusFailure {
		t.Fatalf("status = %q, want FAILURE", write.status)
	}
	if write.c.Error != "2/3 conversions failed" {
		t.Fatalf("error = %q", write.c.Error)
	}
}

func TestOnWorkerCompleteBatchAllCleanSumsPages(t *testing.T) {
	store := newFakeAudit()
	o := New(&fakeQueue{}, store, nil, nil, zerolog.Nop())

	two, three := 2, 3
	task := queue.Task{JobID: "b1", Kind: queue.TaskBatch}
	results := []domain.ConversionResult{
		{Filename: "a", Markdown: "# a", Pages: &two},
		{Filename: "b", Markdown: "# b", Pages: &three},
	}
	o.OnWorkerComplete(context.Background(), task, results, nil, time.Second)

	write := store.completed["b1"]
	if write.status != domain.StatusSuccess {
		t.Fatalf("status = %q", write.status)
	}
	if write.c.Pages == nil || *write.c.Pages != 5 {
		t.Fatalf("pages = %v, want 5", write.c.Pages)
	}
}

func TestResolveStatusUnknownJobIsPending(t *testing.T) {
	o := New(&fakeQueue{}, newFakeAudit(), nil, nil, zerolog.Nop())

	report, err := o.ResolveStatus(context.Background(), "missing", "u1", false)
	if err != nil {
		t.Fatalf("ResolveStatus returned error: %v", err)
	}
	if report.View.Status != domain.StatusPending {
		t.Fatalf("status = %q, want PENDING", report.View.Status)
	}
	if report.View.Filename != "" {
		t.Fatal("unknown job must have a bare view")
	}
}

func TestResolveStatusMergesAuditMetadata(t *testing.T) {
	q := &fakeQueue{state: queue.TaskResult{State: queue.StateRunning}}
	store := newFakeAudit()
	o := New(q, store, nil, nil, zerolog.Nop())

	rec, err := o.Submit(context.Background(), "u1", mdDoc("notes.md", "# hi"), domain.ConversionOptions{})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	report, err := o.ResolveStatus(context.Background(), rec.JobID, "u1", false)
	if err != nil {
		t.Fatalf("ResolveStatus returned error: %v", err)
	}
	if report.View.Status != domain.StatusInProgress {
		t.Fatalf("live state must win: %q", report.View.Status)
	}
	if report.View.Filename != "notes.md" || report.View.FileType != "md" {
		t.Fatalf("audit metadata missing: %+v", report.View)
	}
	if report.View.UserID != "" {
		t.Fatal("user_id must not leak to non-admin views")
	}
}

func TestResolveStatusScopesToOwner(t *testing.T) {
	q := &fakeQueue{state: queue.TaskResult{State: queue.StateRunning}}
	store := newFakeAudit()
	o := New(q, store, nil, nil, zerolog.Nop())

	rec, _ := o.Submit(context.Background(), "owner", mdDoc("notes.md", "# hi"), domain.ConversionOptions{})

	report, err := o.ResolveStatus(context.Background(), rec.JobID, "intruder", false)
	if err != nil {
		t.Fatalf("ResolveStatus returned error: %v", err)
	}
	// The intruder sees only the live state, never the owner's metadata.
	if report.View.Filename != "" {
		t.Fatal("audit metadata leaked across users")
	}

	admin, err := o.ResolveStatus(context.Background(), rec.JobID, "", true)
	if err != nil {
		t.Fatalf("ResolveStatus returned error: %v", err)
	}
	if admin.View.Filename != "notes.md" || admin.View.UserID != "owner" {
		t.Fatalf("admin view incomplete: %+v", admin.View)
	}
}

func TestResolveStatusSucceededWithEmbeddedError(t *testing.T) {
	q := &fakeQueue{state: queue.TaskResult{
		State:   queue.StateSucceeded,
		Results: []domain.ConversionResult{{Filename: "bad", Error: "boom"}},
	}}
	o := New(q, nil, nil, nil, zerolog.Nop())

	report, err := o.ResolveStatus(context.Background(), "j1", "u1", false)
	if err != nil {
		t.Fatalf("ResolveStatus returned error: %v", err)
	}
	if report.View.Status != domain.StatusFailure {
		t.Fatalf("status = %q, want FAILURE", report.View.Status)
	}
	if report.View.Error != "boom" {
		t.Fatalf("error = %q", report.View.Error)
	}
}

func TestCancelPartialFailure(t *testing.T) {
	q := &fakeQueue{revokeErr: map[string]error{"j2": errors.New("broker error")}}
	o := New(q, newFakeAudit(), nil, nil, zerolog.Nop())

	cancelled := o.Cancel(context.Background(), "u1", []string{"j1", "j2", "j3"})
	if len(cancelled) != 2 {
		t.Fatalf("cancelled = %v, want j1 and j3", cancelled)
	}
	for _, id := range cancelled {
		if id == "j2" {
			t.Fatal("j2 must not be reported cancelled")
		}
	}
}

func TestCancelNeverWritesAuditRecords(t *testing.T) {
	q := &fakeQueue{}
	store := newFakeAudit()
	o := New(q, store, nil, nil, zerolog.Nop())

	rec, err := o.Submit(context.Background(), "owner", mdDoc("notes.md", "# hi"), domain.ConversionOptions{})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	// Cancellation by any caller only revokes the broker handle; the
	// audit record stays open until the worker closes it.
	cancelled := o.Cancel(context.Background(), "someone-else", []string{rec.JobID})
	if len(cancelled) != 1 {
		t.Fatalf("cancelled = %v", cancelled)
	}
	if len(store.completed) != 0 {
		t.Fatalf("cancel must not write terminal records: %v", store.completed)
	}
	if store.records[rec.JobID].Status != domain.StatusPending {
		t.Fatalf("record status = %q, want PENDING", store.records[rec.JobID].Status)
	}
}

func TestOnWorkerRevokedClosesJob(t *testing.T) {
	store := newFakeAudit()
	o := New(&fakeQueue{}, store, nil, nil, zerolog.Nop())

	result := o.OnWorkerRevoked(context.Background(), "j1")
	if result.State != queue.StateFailed || result.Error != "cancelled by user" {
		t.Fatalf("result = %+v", result)
	}
	write, ok := store.completed["j1"]
	if !ok {
		t.Fatal("terminal audit write missing")
	}
	if write.status != domain.StatusFailure || write.c.Error != "cancelled by user" {
		t.Fatalf("audit write = %+v", write)
	}
}

func TestBatchFilenameTruncatesOnRunes(t *testing.T) {
	name := strings.Repeat("é", 120) + ".md"
	got := batchFilename([]string{name})

	if !utf8.ValidString(got) {
		t.Fatalf("label is not valid UTF-8: %q", got)
	}
	label := strings.TrimPrefix(got, "[BATCH: 1 files] ")
	if n := utf8.RuneCountInString(label); n != 100 {
		t.Fatalf("label length = %d runes, want 100", n)
	}
}
