package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"mdconvert/internal/domain"
	"mdconvert/internal/middleware"
)

const defaultHistoryDays = 30

// requireUser rejects anonymous requests; the history surfaces are
// meaningless without an identity to scope them to.
func (a *App) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.fail(w, domain.AccessDenied("An X-User-ID header is required for this operation."))
		return "", false
	}
	return userID, true
}

func views(records []domain.JobRecord, admin bool) []domain.JobView {
	out := make([]domain.JobView, 0, len(records))
	for i := range records {
		out = append(out, domain.ViewOf(&records[i], admin))
	}
	return out
}

// ActiveJobs lists the caller's PENDING and IN_PROGRESS jobs, oldest
// first.
func (a *App) ActiveJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	records, err := a.Orc.Active(r.Context(), userID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views(records, false)})
}

// JobHistory lists the caller's terminal jobs inside a trailing day
// window, newest first.
func (a *App) JobHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			a.fail(w, domain.InvalidParameter("days", v, "must be a positive integer"))
			return
		}
		days = n
	}
	records, err := a.Orc.History(r.Context(), userID, days)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"days": days, "jobs": views(records, false)})
}

// SearchJobs matches the caller's terminal jobs on filename, summary or
// tags.
func (a *App) SearchJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		a.fail(w, domain.InvalidParameter("q", q, "search query is required"))
		return
	}
	records, err := a.Orc.Search(r.Context(), userID, q)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"query": q, "jobs": views(records, false)})
}

// UserJobStats aggregates all of the caller's jobs.
func (a *App) UserJobStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	stats, err := a.Orc.Stats(r.Context(), userID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}
