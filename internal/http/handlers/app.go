package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"mdconvert/internal/convert"
	"mdconvert/internal/domain"
	"mdconvert/internal/orchestrator"
)

// Pinger reports reachability of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App bundles the dependencies the HTTP handlers need. DBPing and QueuePing
// feed the readiness probe and may be nil when the dependency is not
// configured.
type App struct {
	Orc       *orchestrator.Orchestrator
	Converter *convert.Service

	DBPing    Pinger
	QueuePing Pinger

	MaxUploadBytes int64
	Log            zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps any error onto the closed error taxonomy and writes it.
func (a *App) fail(w http.ResponseWriter, err error) {
	apiErr := domain.AsAPIError(err)
	a.json(w, apiErr.HTTPStatus(), map[string]any{
		"error":   apiErr.Kind,
		"message": apiErr.Message,
		"details": apiErr.Details,
	})
}
