package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mdconvert/internal/domain"
	"mdconvert/internal/middleware"
)

// jobStatusResponse is the single-job status shape: the sparse view plus,
// on terminal success, the conversion result payload.
type jobStatusResponse struct {
	domain.JobView
	Result *domain.ConversionResult `json:"result,omitempty"`
}

// batchItem mirrors one member of a batch result.
type batchItem struct {
	Status domain.Status            `json:"status"`
	Result *domain.ConversionResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

type batchStatusResponse struct {
	domain.JobView
	ConversionResults []batchItem `json:"conversion_results,omitempty"`
}

// CreateConversionJob accepts one document and submits it for asynchronous
// conversion.
func (a *App) CreateConversionJob(w http.ResponseWriter, r *http.Request) {
	doc, err := a.singleUpload(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	opts, err := conversionOptions(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	rec, err := a.Orc.Submit(r.Context(), middleware.UserIDFromContext(r.Context()), doc, opts)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, domain.JobView{
		JobID:    rec.JobID,
		Status:   rec.Status,
		Filename: rec.Filename,
		FileType: rec.FileType,
		FileSize: rec.FileSize,
	})
}

// CreateBatchConversionJob accepts several documents and submits them as
// one batch job.
func (a *App) CreateBatchConversionJob(w http.ResponseWriter, r *http.Request) {
	docs, err := a.multiUpload(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	opts, err := conversionOptions(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	rec, err := a.Orc.SubmitBatch(r.Context(), middleware.UserIDFromContext(r.Context()), docs, opts)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, domain.JobView{JobID: rec.JobID, Status: rec.Status})
}

// ConversionJobStatus resolves one job, merging live queue state with the
// audit record visible to the caller.
func (a *App) ConversionJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ctx := r.Context()

	report, err := a.Orc.ResolveStatus(ctx, jobID, middleware.UserIDFromContext(ctx), middleware.IsAdmin(ctx))
	if err != nil {
		a.fail(w, err)
		return
	}

	resp := jobStatusResponse{JobView: report.View}
	if report.View.Status == domain.StatusSuccess && len(report.Results) > 0 {
		resp.Result = &report.Results[0]
	}
	a.json(w, http.StatusOK, resp)
}

// BatchConversionJobStatus resolves a batch job, expanding per-member
// results.
func (a *App) BatchConversionJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ctx := r.Context()

	report, err := a.Orc.ResolveStatus(ctx, jobID, middleware.UserIDFromContext(ctx), middleware.IsAdmin(ctx))
	if err != nil {
		a.fail(w, err)
		return
	}

	resp := batchStatusResponse{JobView: report.View}
	for i := range report.Results {
		res := &report.Results[i]
		if res.Failed() {
			resp.ConversionResults = append(resp.ConversionResults, batchItem{Status: domain.StatusFailure, Error: res.Error})
			continue
		}
		resp.ConversionResults = append(resp.ConversionResults, batchItem{Status: domain.StatusSuccess, Result: res})
	}
	a.json(w, http.StatusOK, resp)
}

type cancelRequest struct {
	JobIDs []string `json:"job_ids"`
}

type cancelResponse struct {
	CancelledCount int      `json:"cancelled_count"`
	JobIDs         []string `json:"job_ids"`
}

// CancelConversionJobs requests best-effort cancellation for a list of job
// ids. One bad handle never fails the rest.
func (a *App) CancelConversionJobs(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, domain.InvalidParameter("job_ids", nil, "request body must be JSON with a job_ids array"))
		return
	}
	if len(req.JobIDs) == 0 {
		a.fail(w, domain.InvalidParameter("job_ids", nil, "at least one job id is required"))
		return
	}

	cancelled := a.Orc.Cancel(r.Context(), middleware.UserIDFromContext(r.Context()), req.JobIDs)
	a.json(w, http.StatusOK, cancelResponse{CancelledCount: len(cancelled), JobIDs: cancelled})
}
