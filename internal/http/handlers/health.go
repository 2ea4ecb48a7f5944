package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready verifies the backing services are reachable. Any unreachable
// dependency turns the probe negative; unconfigured ones are skipped.
func (a *App) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if a.QueuePing != nil {
		if err := a.QueuePing.Ping(ctx); err != nil {
			checks["queue"] = "unreachable"
			healthy = false
		} else {
			checks["queue"] = "ok"
		}
	}
	if a.DBPing != nil {
		if err := a.DBPing.Ping(ctx); err != nil {
			checks["database"] = "unreachable"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	status := "ready"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	a.json(w, code, map[string]any{"status": status, "checks": checks})
}
