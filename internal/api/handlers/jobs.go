package handlers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/jobs"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

type JobGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type DownloadOpener interface {
	Open(ctx context.Context, id uuid.UUID) (*jobs.Download, error)
}

type JobHandler struct {
	jobs JobGetter
	gate DownloadOpener
	now  func() time.Time
}

func NewJobHandler(jobs JobGetter, gate DownloadOpener) *JobHandler {
	return &JobHandler{jobs: jobs, gate: gate, now: time.Now}
}

type jobStatus struct {
	JobID            string     `json:"job_id"`
	Status           string     `json:"status"`
	Tool             string     `json:"tool"`
	OriginalSize     *int64     `json:"original_size"`
	OutputSize       *int64     `json:"output_size"`
	ReductionPercent *float64   `json:"reduction_percent"`
	DownloadURL      *string    `json:"download_url"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ErrorCode        *string    `json:"error_code,omitempty"`
	ErrorMessage     *string    `json:"error_message"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

func jobID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		return uuid.Nil, apperr.NotFound(apperr.CodeJobNotFound, "job not found")
	}
	return id, nil
}

// Status handles GET /v1/status/{job_id}.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	resp := jobStatus{
		JobID:            job.ID.String(),
		Status:           string(job.Status),
		Tool:             string(job.Tool),
		OriginalSize:     job.OriginalSize,
		OutputSize:       job.OutputSize,
		ReductionPercent: job.ReductionPercent(),
		ExpiresAt:        job.ExpiresAt,
		ErrorCode:        job.ErrorCode,
		ErrorMessage:     job.ErrorMessage,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
	}
	if jobs.Downloadable(job, h.now()) {
		url := "/v1/download/" + job.ID.String()
		resp.DownloadURL = &url
	}
	writeJSON(w, http.StatusOK, resp)
}

// Download handles GET /v1/download/{job_id}. Unfinished jobs answer 202 so
// clients can keep polling the same URL.
func (h *JobHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	dl, err := h.gate.Open(r.Context(), id)
	if errors.Is(err, jobs.ErrNotReady) {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id":  id.String(),
			"status":  "processing",
			"message": "the job is still being processed, try again shortly",
		})
		return
	}
	if err != nil {
		apperr.Write(w, err)
		return
	}

	f, err := os.Open(dl.Path)
	if errors.Is(err, os.ErrNotExist) {
		apperr.Write(w, apperr.NotFound(apperr.CodeFileNotFound, "output file not found"))
		return
	}
	if err != nil {
		apperr.Write(w, apperr.Internal(err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		apperr.Write(w, apperr.Internal(err))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	http.ServeContent(w, r, dl.Name, info.ModTime(), f)
}
