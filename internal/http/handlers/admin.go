package handlers

import (
	"net/http"

	"mdconvert/internal/domain"
	"mdconvert/internal/middleware"
)

func (a *App) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !middleware.IsAdmin(r.Context()) {
		a.fail(w, domain.AdminRequired())
		return false
	}
	return true
}

// AdminActiveJobs lists active jobs across every user, with user_id
// included in each record.
func (a *App) AdminActiveJobs(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	records, err := a.Orc.ActiveAll(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views(records, true)})
}

// AdminQueueStats reports unscoped queue health.
func (a *App) AdminQueueStats(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	stats, err := a.Orc.QueueStats(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}
