package handlers

import (
	"context"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/auth"
	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/files"
	"github.com/slimpdf/slimpdf-api/internal/jobs"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/usage"
)

type QuotaChecker interface {
	Check(ctx context.Context, tool models.Tool, id models.Identity) (usage.Decision, error)
}

type Submitter interface {
	Submit(ctx context.Context, sub jobs.Submission) (*models.Job, error)
}

type Receiver interface {
	Receive(mr *multipart.Reader, spec files.IntakeSpec) (*files.Upload, error)
}

// ToolHandler accepts uploads for the three PDF tools and turns them into
// queued jobs.
type ToolHandler struct {
	quota QuotaChecker
	files Receiver
	jobs  Submitter
	cfg   config.FilesConfig
	now   func() time.Time
}

func NewToolHandler(quota QuotaChecker, files Receiver, jobs Submitter, cfg config.FilesConfig) *ToolHandler {
	return &ToolHandler{quota: quota, files: files, jobs: jobs, cfg: cfg, now: time.Now}
}

type jobAccepted struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FileCount  int    `json:"file_count,omitempty"`
	ImageCount int    `json:"image_count,omitempty"`
}

// Compress handles POST /v1/compress.
func (h *ToolHandler) Compress(w http.ResponseWriter, r *http.Request) {
	h.accept(w, r, models.ToolCompress)
}

// Merge handles POST /v1/merge.
func (h *ToolHandler) Merge(w http.ResponseWriter, r *http.Request) {
	h.accept(w, r, models.ToolMerge)
}

// ImageToPDF handles POST /v1/image-to-pdf.
func (h *ToolHandler) ImageToPDF(w http.ResponseWriter, r *http.Request) {
	h.accept(w, r, models.ToolImageToPDF)
}

func (h *ToolHandler) accept(w http.ResponseWriter, r *http.Request, tool models.Tool) {
	ctx := r.Context()
	id := auth.IdentityFromContext(ctx)

	// The pre-check keeps over-quota callers from uploading anything. The
	// authoritative count happens again inside the admission transaction.
	d, err := h.quota.Check(ctx, tool, id)
	if err != nil {
		apperr.Write(w, apperr.Internal(err))
		return
	}
	if !d.Allowed {
		h.rejectQuota(w, tool, id, d)
		return
	}

	spec := files.SpecFor(h.cfg, tool, id.IsPro())
	r.Body = http.MaxBytesReader(w, r.Body, spec.RequestCeiling())
	mr, err := r.MultipartReader()
	if err != nil {
		apperr.Write(w, apperr.Validation(apperr.CodeInvalidRequest, "expected a multipart/form-data body"))
		return
	}

	up, err := h.files.Receive(mr, spec)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	sub, err := submissionFor(tool, id, up)
	if err != nil {
		up.Discard()
		apperr.Write(w, err)
		return
	}

	job, err := h.jobs.Submit(ctx, sub)
	if err != nil {
		if e := apperr.As(err); e != nil && e.Kind == apperr.KindQuotaExceeded {
			h.rejectQuota(w, tool, id, usage.Decision{Used: int(e.Used), Limit: int(e.Limit)})
			return
		}
		apperr.Write(w, err)
		return
	}

	used := d.Used
	if !d.Unlimited() {
		used++
	}
	setRateHeaders(w, id, usage.Decision{Allowed: true, Used: used, Limit: d.Limit})

	resp := jobAccepted{JobID: job.ID.String(), Status: string(job.Status)}
	switch tool {
	case models.ToolCompress:
		resp.Message = "File uploaded. Processing started."
	case models.ToolMerge:
		resp.Message = "Files uploaded. Merge processing started."
		resp.FileCount = len(up.Files)
	case models.ToolImageToPDF:
		resp.Message = "Images uploaded. Conversion started."
		resp.ImageCount = len(up.Files)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *ToolHandler) rejectQuota(w http.ResponseWriter, tool models.Tool, id models.Identity, d usage.Decision) {
	setRateHeaders(w, id, d)
	retry := int(math.Ceil(usage.UntilReset(h.now()).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	apperr.Write(w, apperr.QuotaExceeded(string(tool), d.Used, d.Limit))
}

func setRateHeaders(w http.ResponseWriter, id models.Identity, d usage.Decision) {
	if id.IsPro() {
		w.Header().Set("X-RateLimit-Tier", string(models.PlanPro))
		return
	}
	w.Header().Set("X-RateLimit-Tier", string(models.PlanFree))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Used", strconv.Itoa(d.Used))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining()))
}

// submissionFor validates the tool options carried in the form fields.
func submissionFor(tool models.Tool, id models.Identity, up *files.Upload) (jobs.Submission, error) {
	sub := jobs.Submission{
		Identity:   id,
		Tool:       tool,
		Inputs:     up.Paths(),
		InputBytes: up.TotalBytes(),
	}

	switch tool {
	case models.ToolCompress:
		sub.InputFilename = up.Files[0].OriginalName
		q, err := models.ParseQuality(up.Fields["quality"])
		if err != nil {
			return sub, apperr.Validation(apperr.CodeInvalidQuality, err.Error())
		}
		sub.Quality = q
		target, err := parseTargetSize(up.Fields["target_size_mb"], id)
		if err != nil {
			return sub, err
		}
		sub.TargetBytes = target
	case models.ToolMerge:
		sub.InputFilename = fmt.Sprintf("%d files", len(up.Files))
	case models.ToolImageToPDF:
		sub.InputFilename = fmt.Sprintf("%d images", len(up.Files))
		p, err := models.ParsePageSize(up.Fields["page_size"])
		if err != nil {
			return sub, apperr.Validation(apperr.CodeInvalidPageSize, err.Error())
		}
		sub.PageSize = p
	}
	return sub, nil
}

// parseTargetSize converts target_size_mb to bytes. Zero means no target.
func parseTargetSize(raw string, id models.Identity) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	mb, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(mb) || math.IsInf(mb, 0) || mb <= 0 {
		return 0, apperr.Validation(apperr.CodeInvalidTargetSize, "target_size_mb must be a positive number")
	}
	if !id.IsPro() {
		return 0, apperr.Forbidden(apperr.CodeProRequired, "target size compression requires a Pro subscription")
	}
	return int64(mb * (1 << 20)), nil
}
