package domain

import "time"

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
)

// Terminal reports whether no further transitions are permitted out of s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// JobRecord is the durable audit row for one submitted conversion job.
// Inserted once at submission, updated in place, never mutated after
// reaching a terminal status.
type JobRecord struct {
	JobID    string
	UserID   string
	Filename string
	FileType string
	FileSize int64

	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Pages            *int
	ProcessingTimeMS *int64
	ResultURL        string
	Error            string

	Summary  string
	Category string
	Tags     []string
	Language string
}

// JobView is the client-facing status shape shared by the status, history
// and admin surfaces. All fields except JobID and Status are optional so
// partial responses stay sparse (a job the audit store never saw returns
// only the identifier and the live status).
type JobView struct {
	JobID            string     `json:"job_id"`
	Status           Status     `json:"status"`
	Filename         string     `json:"filename,omitempty"`
	FileType         string     `json:"file_type,omitempty"`
	FileSize         int64      `json:"file_size,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Pages            *int       `json:"pages,omitempty"`
	ProcessingTimeMS *int64     `json:"processing_time_ms,omitempty"`
	ResultURL        string     `json:"result_url,omitempty"`
	Error            string     `json:"error,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	Category         string     `json:"category,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Language         string     `json:"language,omitempty"`

	// UserID is populated only on admin responses.
	UserID string `json:"user_id,omitempty"`
}

// ViewOf projects a JobRecord into the client-facing shape. The user_id is
// included only when admin is set.
func ViewOf(rec *JobRecord, admin bool) JobView {
	v := JobView{
		JobID:            rec.JobID,
		Status:           rec.Status,
		Filename:         rec.Filename,
		FileType:         rec.FileType,
		FileSize:         rec.FileSize,
		CompletedAt:      rec.CompletedAt,
		Pages:            rec.Pages,
		ProcessingTimeMS: rec.ProcessingTimeMS,
		ResultURL:        rec.ResultURL,
		Error:            rec.Error,
		Summary:          rec.Summary,
		Category:         rec.Category,
		Tags:             rec.Tags,
		Language:         rec.Language,
	}
	if !rec.CreatedAt.IsZero() {
		created := rec.CreatedAt
		v.CreatedAt = &created
	}
	if admin {
		v.UserID = rec.UserID
	}
	return v
}

// UserStats aggregates one user's jobs across every status.
type UserStats struct {
	TotalJobs             int64            `json:"total_jobs"`
	TotalPages            int64            `json:"total_pages"`
	TotalFileBytes        int64            `json:"total_files_size"`
	TotalProcessingTimeMS int64            `json:"total_processing_time_ms"`
	SuccessCount          int64            `json:"success_count"`
	FailureCount          int64            `json:"failure_count"`
	ByFileType            map[string]int64 `json:"by_file_type"`
}

// QueueStats is the unscoped queue health view for admins.
// OldestPendingMinutes is nil when nothing is PENDING.
type QueueStats struct {
	PendingCount         int64   `json:"pending_count"`
	InProgressCount      int64   `json:"in_progress_count"`
	TotalActive          int64   `json:"total_active"`
	OldestPendingMinutes *int64  `json:"oldest_pending_minutes,omitempty"`
	AvgWaitTimeMinutes   float64 `json:"avg_wait_time_minutes"`
}
