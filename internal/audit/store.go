// Package audit keeps the durable record of every conversion job,
// independent of the broker's live state. Writes are keyed by job_id and
// never touch other rows; reads are user-scoped unless explicitly admin.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"mdconvert/internal/domain"
)

// DB is the executor contract the store needs; *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the audit operations over Postgres.
type Store struct {
	db  DB
	log zerolog.Logger
}

func NewStore(db DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

const jobColumns = `job_id, user_id, filename, COALESCE(file_type, ''), COALESCE(file_size, 0),
status, created_at, started_at, completed_at,
pages, processing_time_ms, COALESCE(result_url, ''), COALESCE(error, ''),
COALESCE(summary, ''), COALESCE(category, ''), tags, COALESCE(language, '')`

// Insert creates a PENDING record. A duplicate job_id is an internal error,
// surfaced as domain.ErrDuplicateJob.
func (s *Store) Insert(ctx context.Context, rec *domain.JobRecord) error {
	query := `
INSERT INTO conversions (job_id, user_id, filename, file_type, file_size, status)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6);
`
	_, err := s.db.Exec(ctx, query,
		rec.JobID, rec.UserID, rec.Filename, rec.FileType, rec.FileSize, domain.StatusPending)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateStatus sets the status of a non-terminal record. No-op when the
// job_id is absent or already terminal.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status domain.Status) error {
	query := `
UPDATE conversions
SET status = $2
WHERE job_id = $1 AND status NOT IN ($3, $4);
`
	_, err := s.db.Exec(ctx, query, jobID, status, domain.StatusSuccess, domain.StatusFailure)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// MarkStarted transitions PENDING -> IN_PROGRESS and stamps started_at.
// Safe to repeat; terminal records are never touched.
func (s *Store) MarkStarted(ctx context.Context, jobID string) error {
	query := `
UPDATE conversions
SET status = $2, started_at = COALESCE(started_at, now())
WHERE job_id = $1 AND status NOT IN ($3, $4);
`
	_, err := s.db.Exec(ctx, query, jobID, domain.StatusInProgress, domain.StatusSuccess, domain.StatusFailure)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	return nil
}

// Completion carries the result metadata written at the terminal
// transition.
type Completion struct {
	Pages            *int
	ProcessingTimeMS *int64
	ResultURL        string
	Error            string
	Enrichment       domain.Enrichment
}

// MarkComplete writes the terminal transition. The status guard makes the
// write a no-op on records that already reached a terminal state, keeping
// status monotonic even if a late or duplicate completion arrives.
func (s *Store) MarkComplete(ctx context.Context, jobID string, status domain.Status, c Completion) error {
	var tags []byte
	if len(c.Enrichment.Tags) > 0 {
		var err error
		tags, err = json.Marshal(c.Enrichment.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
	}
	query := `
UPDATE conversions
SET status = $2,
    completed_at = now(),
    pages = $3,
    processing_time_ms = $4,
    result_url = NULLIF($5, ''),
    error = NULLIF($6, ''),
    summary = NULLIF($7, ''),
    category = NULLIF($8, ''),
    tags = $9,
    language = NULLIF($10, '')
WHERE job_id = $1 AND status NOT IN ($11, $12);
`
	_, err := s.db.Exec(ctx, query,
		jobID, status, c.Pages, c.ProcessingTimeMS, c.ResultURL, c.Error,
		c.Enrichment.Summary, c.Enrichment.Category, tags, c.Enrichment.Language,
		domain.StatusSuccess, domain.StatusFailure)
	if err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	return nil
}

// Get fetches one record. A non-empty userID scopes the lookup: a job that
// exists under a different owner is indistinguishable from a missing one.
func (s *Store) Get(ctx context.Context, jobID, userID string) (*domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM conversions WHERE job_id = $1`
	args := []any{jobID}
	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}
	row := s.db.QueryRow(ctx, query+`;`, args...)
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// ListActive returns one user's PENDING and IN_PROGRESS jobs, oldest first.
func (s *Store) ListActive(ctx context.Context, userID string) ([]domain.JobRecord, error) {
	query := `
SELECT ` + jobColumns + `
FROM conversions
WHERE user_id = $1 AND status IN ($2, $3)
ORDER BY created_at ASC;
`
	return s.queryJobs(ctx, query, userID, domain.StatusPending, domain.StatusInProgress)
}

// ListActiveAll is the unscoped admin variant.
func (s *Store) ListActiveAll(ctx context.Context) ([]domain.JobRecord, error) {
	query := `
SELECT ` + jobColumns + `
FROM conversions
WHERE status IN ($1, $2)
ORDER BY created_at ASC;
`
	return s.queryJobs(ctx, query, domain.StatusPending, domain.StatusInProgress)
}

// History returns one user's terminal jobs created within the trailing day
// window, newest first.
func (s *Store) History(ctx context.Context, userID string, days int) ([]domain.JobRecord, error) {
	query := `
SELECT ` + jobColumns + `
FROM conversions
WHERE user_id = $1
  AND status IN ($2, $3)
  AND created_at >= now() - make_interval(days => $4)
ORDER BY created_at DESC;
`
	return s.queryJobs(ctx, query, userID, domain.StatusSuccess, domain.StatusFailure, days)
}

// Search matches terminal jobs on filename, summary or the serialized tag
// list. The match is a case-insensitive substring (ILIKE).
func (s *Store) Search(ctx context.Context, userID, q string) ([]domain.JobRecord, error) {
	pattern := "%" + q + "%"
	query := `
SELECT ` + jobColumns + `
FROM conversions
WHERE user_id = $1
  AND status IN ($2, $3)
  AND (filename ILIKE $4 OR summary ILIKE $4 OR tags::text ILIKE $4)
ORDER BY created_at DESC;
`
	return s.queryJobs(ctx, query, userID, domain.StatusSuccess, domain.StatusFailure, pattern)
}

// Stats aggregates all of one user's jobs regardless of status.
func (s *Store) Stats(ctx context.Context, userID string) (*domain.UserStats, error) {
	query := `
SELECT COUNT(*),
       COALESCE(SUM(pages), 0),
       COALESCE(SUM(file_size), 0),
       COALESCE(SUM(processing_time_ms), 0),
       COUNT(*) FILTER (WHERE status = $2),
       COUNT(*) FILTER (WHERE status = $3)
FROM conversions
WHERE user_id = $1;
`
	stats := &domain.UserStats{ByFileType: map[string]int64{}}
	row := s.db.QueryRow(ctx, query, userID, domain.StatusSuccess, domain.StatusFailure)
	if err := row.Scan(
		&stats.TotalJobs,
		&stats.TotalPages,
		&stats.TotalFileBytes,
		&stats.TotalProcessingTimeMS,
		&stats.SuccessCount,
		&stats.FailureCount,
	); err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}

	byType := `
SELECT file_type, COUNT(*)
FROM conversions
WHERE user_id = $1 AND file_type IS NOT NULL
GROUP BY file_type;
`
	rows, err := s.db.Query(ctx, byType, userID)
	if err != nil {
		return nil, fmt.Errorf("user stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fileType string
		var count int64
		if err := rows.Scan(&fileType, &count); err != nil {
			return nil, fmt.Errorf("scan stats by type: %w", err)
		}
		stats.ByFileType[fileType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user stats by type: %w", err)
	}
	return stats, nil
}

// QueueStats reports unscoped queue health: active counts, age of the
// oldest PENDING record and the average created-to-completed latency over
// SUCCESS jobs completed within the trailing hour.
func (s *Store) QueueStats(ctx context.Context) (*domain.QueueStats, error) {
	query := `
SELECT COUNT(*) FILTER (WHERE status = $1),
       COUNT(*) FILTER (WHERE status = $2),
       MIN(created_at) FILTER (WHERE status = $1)
FROM conversions
WHERE status IN ($1, $2);
`
	stats := &domain.QueueStats{}
	var oldestPending *time.Time
	row := s.db.QueryRow(ctx, query, domain.StatusPending, domain.StatusInProgress)
	if err := row.Scan(&stats.PendingCount, &stats.InProgressCount, &oldestPending); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	stats.TotalActive = stats.PendingCount + stats.InProgressCount
	if oldestPending != nil {
		minutes := int64(time.Since(*oldestPending).Minutes())
		stats.OldestPendingMinutes = &minutes
	}

	avgQuery := `
SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at)) / 60), 0)
FROM conversions
WHERE status = $1 AND completed_at >= now() - interval '1 hour';
`
	var avg float64
	if err := s.db.QueryRow(ctx, avgQuery, domain.StatusSuccess).Scan(&avg); err != nil {
		return nil, fmt.Errorf("queue stats latency: %w", err)
	}
	stats.AvgWaitTimeMinutes = math.Round(avg*100) / 100
	return stats, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.JobRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var records []domain.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return records, nil
}

func scanJob(row pgx.Row) (*domain.JobRecord, error) {
	var rec domain.JobRecord
	var tags []byte
	if err := row.Scan(
		&rec.JobID,
		&rec.UserID,
		&rec.Filename,
		&rec.FileType,
		&rec.FileSize,
		&rec.Status,
		&rec.CreatedAt,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.Pages,
		&rec.ProcessingTimeMS,
		&rec.ResultURL,
		&rec.Error,
		&rec.Summary,
		&rec.Category,
		&tags,
		&rec.Language,
	); err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		// A malformed tag payload degrades to an empty list, never an error.
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			rec.Tags = []string{}
		}
	}
	return &rec, nil
}
