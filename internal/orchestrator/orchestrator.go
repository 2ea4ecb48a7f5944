// Package orchestrator owns the job lifecycle: submission, worker-side
// completion, status resolution and cancellation. It treats the queue as
// the authority on live execution and the audit store as the durable
// record; audit failures are logged and never fail the job itself.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mdconvert/internal/audit"
	"mdconvert/internal/domain"
	"mdconvert/internal/format"
	"mdconvert/internal/postprocess"
	"mdconvert/internal/queue"
)

// AuditStore is the durable-record contract the orchestrator needs.
// *audit.Store satisfies it; tests use fakes.
type AuditStore interface {
	Insert(ctx context.Context, rec *domain.JobRecord) error
	MarkStarted(ctx context.Context, jobID string) error
	MarkComplete(ctx context.Context, jobID string, status domain.Status, c audit.Completion) error
	Get(ctx context.Context, jobID, userID string) (*domain.JobRecord, error)
	ListActive(ctx context.Context, userID string) ([]domain.JobRecord, error)
	ListActiveAll(ctx context.Context) ([]domain.JobRecord, error)
	History(ctx context.Context, userID string, days int) ([]domain.JobRecord, error)
	Search(ctx context.Context, userID, q string) ([]domain.JobRecord, error)
	Stats(ctx context.Context, userID string) (*domain.UserStats, error)
	QueueStats(ctx context.Context) (*domain.QueueStats, error)
}

// FileStore persists converted markdown and returns a stable URL for it.
type FileStore interface {
	SaveResult(ctx context.Context, jobID, filename string, markdown []byte) (string, error)
}

const (
	// BatchFileType is the file_type recorded for batch jobs, whose
	// members may mix formats.
	BatchFileType = "batch"

	postprocessTimeout = 45 * time.Second
)

// Orchestrator coordinates the queue, the audit store, storage and the
// optional enrichment analyzer. audit, files and analyzer may each be nil
// when the corresponding collaborator is not configured.
type Orchestrator struct {
	q        queue.Queue
	audit    AuditStore
	files    FileStore
	analyzer postprocess.Analyzer
	log      zerolog.Logger
}

func New(q queue.Queue, audit AuditStore, files FileStore, analyzer postprocess.Analyzer, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{q: q, audit: audit, files: files, analyzer: analyzer, log: log}
}

// Submit validates a single document, records it and places it on the
// queue. Validation failures (unsupported or legacy formats) are returned
// synchronously; nothing is enqueued for them.
func (o *Orchestrator) Submit(ctx context.Context, userID string, doc domain.Document, opts domain.ConversionOptions) (*domain.JobRecord, error) {
	f, err := format.Classify(doc.Content, doc.Filename)
	if err != nil {
		return nil, err
	}
	opts.Normalize()

	rec := &domain.JobRecord{
		JobID:    uuid.NewString(),
		UserID:   userID,
		Filename: doc.Filename,
		FileType: string(f),
		FileSize: int64(len(doc.Content)),
		Status:   domain.StatusPending,
	}
	o.record(ctx, rec)

	task := queue.Task{
		JobID:       rec.JobID,
		Kind:        queue.TaskSingle,
		UserID:      userID,
		Documents:   []domain.Document{doc},
		Options:     opts,
		SubmittedAt: time.Now().UTC(),
	}
	if err := o.q.Enqueue(ctx, task); err != nil {
		o.log.Error().Err(err).Str("job_id", rec.JobID).Msg("enqueue failed")
		o.completeAudit(ctx, rec.JobID, domain.StatusFailure, audit.Completion{Error: "failed to enqueue job"})
		return nil, domain.Internal("failed to enqueue job")
	}
	return rec, nil
}

// SubmitBatch validates every document up front and enqueues them as one
// task under a single job id. Any invalid member rejects the whole batch.
func (o *Orchestrator) SubmitBatch(ctx context.Context, userID string, docs []domain.Document, opts domain.ConversionOptions) (*domain.JobRecord, error) {
	if len(docs) == 0 {
		return nil, domain.InvalidParameter("documents", 0, "at least one file is required")
	}
	var totalSize int64
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		if _, err := format.Classify(doc.Content, doc.Filename); err != nil {
			return nil, err
		}
		totalSize += int64(len(doc.Content))
		names = append(names, doc.Filename)
	}
	opts.Normalize()

	rec := &domain.JobRecord{
		JobID:    uuid.NewString(),
		UserID:   userID,
		Filename: batchFilename(names),
		FileType: BatchFileType,
		FileSize: totalSize,
		Status:   domain.StatusPending,
	}
	o.record(ctx, rec)

	task := queue.Task{
		JobID:       rec.JobID,
		Kind:        queue.TaskBatch,
		UserID:      userID,
		Documents:   docs,
		Options:     opts,
		SubmittedAt: time.Now().UTC(),
	}
	if err := o.q.Enqueue(ctx, task); err != nil {
		o.log.Error().Err(err).Str("job_id", rec.JobID).Msg("enqueue failed")
		o.completeAudit(ctx, rec.JobID, domain.StatusFailure, audit.Completion{Error: "failed to enqueue job"})
		return nil, domain.Internal("failed to enqueue job")
	}
	return rec, nil
}

// batchFilename labels a batch record with its member count and a truncated
// filename list, keeping the audit row readable for wide batches.
func batchFilename(names []string) string {
	joined := strings.Join(names, ", ")
	// Truncate on runes so a multi-byte filename cannot leave the label
	// with invalid UTF-8.
	if runes := []rune(joined); len(runes) > 100 {
		joined = string(runes[:100])
	}
	return fmt.Sprintf("[BATCH: %d files] %s", len(names), joined)
}

// OnWorkerStart records the PENDING -> IN_PROGRESS transition.
func (o *Orchestrator) OnWorkerStart(ctx context.Context, jobID string) {
	if o.audit == nil {
		return
	}
	if err := o.audit.MarkStarted(ctx, jobID); err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Msg("audit mark started failed")
	}
}

// OnWorkerRevoked closes out a task the worker discarded before running
// it. The broker gets a failed state so status lookups stop resolving the
// handle as pending, and the terminal audit write happens here, on the
// worker side, rather than in the cancellation request path.
func (o *Orchestrator) OnWorkerRevoked(ctx context.Context, jobID string) queue.TaskResult {
	o.completeAudit(ctx, jobID, domain.StatusFailure, audit.Completion{Error: "cancelled by user"})
	return queue.TaskResult{State: queue.StateFailed, Error: "cancelled by user"}
}

// OnWorkerComplete builds the broker result payload from the conversion
// outcome and writes the terminal audit record. convErr is an unexpected
// worker failure; per-document conversion failures travel inside results.
func (o *Orchestrator) OnWorkerComplete(ctx context.Context, task queue.Task, results []domain.ConversionResult, convErr error, elapsed time.Duration) queue.TaskResult {
	ms := elapsed.Milliseconds()

	if convErr != nil {
		o.log.Error().Err(convErr).Str("job_id", task.JobID).Msg("conversion crashed")
		msg := domain.AsAPIError(convErr).Message
		o.completeAudit(ctx, task.JobID, domain.StatusFailure, audit.Completion{
			ProcessingTimeMS: &ms,
			Error:            msg,
		})
		return queue.TaskResult{State: queue.StateFailed, Error: msg}
	}

	if task.Kind == queue.TaskBatch {
		return o.completeBatch(ctx, task, results, ms)
	}
	if len(results) == 0 {
		o.completeAudit(ctx, task.JobID, domain.StatusFailure, audit.Completion{
			ProcessingTimeMS: &ms,
			Error:            "worker produced no result",
		})
		return queue.TaskResult{State: queue.StateFailed, Error: "worker produced no result"}
	}
	return o.completeSingle(ctx, task, results[0], ms)
}

func (o *Orchestrator) completeSingle(ctx context.Context, task queue.Task, result domain.ConversionResult, ms int64) queue.TaskResult {
	if result.Failed() {
		o.completeAudit(ctx, task.JobID, domain.StatusFailure, audit.Completion{
			ProcessingTimeMS: &ms,
			Error:            result.Error,
		})
		return queue.TaskResult{State: queue.StateSucceeded, Results: []domain.ConversionResult{result}}
	}

	enrichment := o.enrich(ctx, task.JobID, result.Markdown)
	resultURL := o.save(ctx, task.JobID, result.Filename, result.Markdown)

	o.completeAudit(ctx, task.JobID, domain.StatusSuccess, audit.Completion{
		Pages:            result.Pages,
		ProcessingTimeMS: &ms,
		ResultURL:        resultURL,
		Enrichment:       enrichment,
	})
	return queue.TaskResult{State: queue.StateSucceeded, Results: []domain.ConversionResult{result}}
}

// completeBatch applies the all-or-nothing terminal policy: a batch with
// any failed member is recorded FAILURE, with the failure count in the
// error message. Individual results still carry their own markdown or
// error for the client.
func (o *Orchestrator) completeBatch(ctx context.Context, task queue.Task, results []domain.ConversionResult, ms int64) queue.TaskResult {
	failed := 0
	var pages int
	for _, r := range results {
		if r.Failed() {
			failed++
			continue
		}
		if r.Pages != nil {
			pages += *r.Pages
		}
		o.save(ctx, task.JobID, r.Filename, r.Markdown)
	}

	c := audit.Completion{ProcessingTimeMS: &ms}
	status := domain.StatusSuccess
	if failed > 0 {
		status = domain.StatusFailure
		c.Error = fmt.Sprintf("%d/%d conversions failed", failed, len(results))
	} else {
		c.Pages = &pages
	}
	o.completeAudit(ctx, task.JobID, status, c)
	return queue.TaskResult{State: queue.StateSucceeded, Results: results}
}

// StatusReport pairs the client-facing view with the live result payload,
// when the broker still holds one.
type StatusReport struct {
	View    domain.JobView
	Results []domain.ConversionResult
}

// ResolveStatus merges the broker's live state with the audit record. The
// live state is authoritative for the status field; the audit record
// contributes metadata. A job id neither side knows resolves to a bare
// PENDING view, matching the broker's not-yet-seen semantics.
func (o *Orchestrator) ResolveStatus(ctx context.Context, jobID, userID string, admin bool) (*StatusReport, error) {
	var rec *domain.JobRecord
	if o.audit != nil && (admin || userID != "") {
		scope := userID
		if admin {
			scope = ""
		}
		var err error
		rec, err = o.audit.Get(ctx, jobID, scope)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.log.Warn().Err(err).Str("job_id", jobID).Msg("audit lookup failed")
		}
	}

	live, err := o.q.State(ctx, jobID)
	if err != nil {
		o.log.Error().Err(err).Str("job_id", jobID).Msg("queue state lookup failed")
		return nil, domain.Internal("failed to query job state")
	}

	view := domain.JobView{JobID: jobID, Status: domain.StatusPending}
	if rec != nil {
		view = domain.ViewOf(rec, admin)
	}

	switch live.State {
	case queue.StateRunning:
		view.Status = domain.StatusInProgress
	case queue.StateFailed:
		view.Status = domain.StatusFailure
		if view.Error == "" {
			view.Error = live.Error
		}
	case queue.StateSucceeded:
		view.Status = domain.StatusSuccess
		for _, r := range live.Results {
			if r.Failed() {
				view.Status = domain.StatusFailure
				if view.Error == "" {
					view.Error = r.Error
				}
				break
			}
		}
	case queue.StateUnknown:
		// Broker record expired or not yet created; the audit status
		// (or bare PENDING) stands.
	}

	report := &StatusReport{View: view}
	if view.Status.Terminal() {
		report.Results = live.Results
	}
	return report, nil
}

// Cancel revokes each job id and returns those accepted for cancellation.
// Revocation is best-effort: a task already running may still finish, and
// one failed revocation does not stop the rest. Cancellation never writes
// the audit record — only the worker closes it, either when it discards a
// revoked task or when a running task completes anyway.
func (o *Orchestrator) Cancel(ctx context.Context, userID string, jobIDs []string) []string {
	cancelled := make([]string, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		if err := o.q.Revoke(ctx, jobID); err != nil {
			o.log.Warn().Err(err).Str("job_id", jobID).Str("user_id", userID).Msg("revoke failed")
			continue
		}
		o.log.Info().Str("job_id", jobID).Str("user_id", userID).Msg("cancellation requested")
		cancelled = append(cancelled, jobID)
	}
	return cancelled
}

// Active lists the requesting user's PENDING and IN_PROGRESS jobs.
func (o *Orchestrator) Active(ctx context.Context, userID string) ([]domain.JobRecord, error) {
	if o.audit == nil {
		return nil, errAuditDisabled()
	}
	return o.audit.ListActive(ctx, userID)
}

// ActiveAll lists every user's active jobs. Admin only.
func (o *Orchestrator) ActiveAll(ctx context.Context) ([]domain.JobRecord, error) {
	if o.audit == nil {
		return nil, errAuditDisabled()
	}
	return o.audit.ListActiveAll(ctx)
}

func (o *Orchestrator) History(ctx context.Context, userID string, days int) ([]domain.JobRecord, error) {
	if o.audit == nil {
		return nil, errAuditDisabled()
	}
	return o.audit.History(ctx, userID, days)
}

func (o *Orchestrator) Search(ctx context.Context, userID, q string) ([]domain.JobRecord, error) {
	if o.audit == nil {
		return nil, errAuditDisabled()
	}
	return o.audit.Search(ctx, userID, q)
}

func (o *Orchestrator) Stats(ctx context.Context, userID string) (*domain.UserStats, error) {
	if o.audit == nil {
		return nil, errAuditDisabled()
	}
	return o.audit.Stats(ctx, userID)
}

func (o *Orchestrator) QueueStats(ctx context.Context) (*domain.QueueStats, error) {
	if o.audit == nil {
		return nil, errAuditDisabled()
	}
	return o.audit.QueueStats(ctx)
}

// record inserts the submission-time audit row. Anonymous submissions are
// not recorded; audit errors are logged and swallowed.
func (o *Orchestrator) record(ctx context.Context, rec *domain.JobRecord) {
	if o.audit == nil || rec.UserID == "" {
		return
	}
	if err := o.audit.Insert(ctx, rec); err != nil {
		o.log.Warn().Err(err).Str("job_id", rec.JobID).Msg("audit insert failed")
	}
}

func (o *Orchestrator) completeAudit(ctx context.Context, jobID string, status domain.Status, c audit.Completion) {
	if o.audit == nil {
		return
	}
	if err := o.audit.MarkComplete(ctx, jobID, status, c); err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Msg("audit mark complete failed")
	}
}

// enrich runs the analyzer with its own deadline. Any failure degrades to
// an empty enrichment; it never affects the job outcome.
func (o *Orchestrator) enrich(ctx context.Context, jobID, markdown string) domain.Enrichment {
	if o.analyzer == nil || markdown == "" {
		return domain.Enrichment{}
	}
	enrichCtx, cancel := context.WithTimeout(ctx, postprocessTimeout)
	defer cancel()
	e, err := o.analyzer.Analyze(enrichCtx, markdown)
	if err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Msg("postprocess analysis failed")
		return domain.Enrichment{}
	}
	return *e
}

// save persists the converted markdown and returns its URL; empty when no
// file store is configured or the write fails. The markdown itself still
// reaches the client through the result backend.
func (o *Orchestrator) save(ctx context.Context, jobID, filename string, markdown string) string {
	if o.files == nil {
		return ""
	}
	url, err := o.files.SaveResult(ctx, jobID, filename, []byte(markdown))
	if err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Str("filename", filename).Msg("result save failed")
		return ""
	}
	return url
}

func errAuditDisabled() error {
	return domain.Internal("audit store is not configured")
}
