package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mdconvert/internal/http/handlers"
	"mdconvert/internal/middleware"
)

// NewRouter wires every endpoint. adminKey guards the /admin surfaces;
// when empty they always reject.
func NewRouter(app *handlers.App, adminKey string, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(log),
		middleware.CORS([]string{"*"}),
		middleware.Identity(adminKey),
	)

	r.Get("/health", app.Health)
	r.Get("/health/ready", app.Ready)

	r.Post("/documents/convert", app.ConvertDocument)
	r.Post("/documents/batch-convert", app.ConvertDocuments)

	r.Route("/conversion-jobs", func(r chi.Router) {
		r.Post("/", app.CreateConversionJob)
		r.Post("/batch/cancel", app.CancelConversionJobs)
		r.Get("/{job_id}", app.ConversionJobStatus)
	})

	r.Route("/batch-conversion-jobs", func(r chi.Router) {
		r.Post("/", app.CreateBatchConversionJob)
		r.Get("/{job_id}", app.BatchConversionJobStatus)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/active", app.ActiveJobs)
		r.Get("/history", app.JobHistory)
		r.Get("/search", app.SearchJobs)
		r.Get("/stats", app.UserJobStats)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/jobs/active", app.AdminActiveJobs)
		r.Get("/queue/stats", app.AdminQueueStats)
	})

	return r
}
