package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

// ErrNotReady means the job has not reached a terminal state yet. It is not
// a failure; callers answer 202.
var ErrNotReady = errors.New("job still processing")

type Getter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type FileChecker interface {
	Exists(path string) bool
}

type Gate struct {
	jobs  Getter
	files FileChecker
	now   func() time.Time
}

func NewGate(jobs Getter, files FileChecker) *Gate {
	return &Gate{jobs: jobs, files: files, now: time.Now}
}

type Download struct {
	Job  *models.Job
	Path string
	Name string
}

// Open decides whether job id can be downloaded right now.
func (g *Gate) Open(ctx context.Context, id uuid.UUID) (*Download, error) {
	job, err := g.jobs.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeJobNotFound, "job not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	switch job.Status {
	case models.JobStatusPending, models.JobStatusProcessing:
		return nil, ErrNotReady
	case models.JobStatusFailed:
		return nil, failureError(job)
	}

	if job.IsExpired(g.now()) {
		return nil, apperr.Expired("this file has expired and is no longer available")
	}
	if job.FilePath == nil || !g.files.Exists(*job.FilePath) {
		return nil, apperr.NotFound(apperr.CodeFileNotFound, "output file not found")
	}

	return &Download{Job: job, Path: *job.FilePath, Name: job.DownloadName()}, nil
}

// failureError rebuilds the error a failed job was recorded with, so a
// timeout or an abandoned job keeps its code on the way to the client.
func failureError(job *models.Job) *apperr.Error {
	msg := "processing failed"
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		msg = *job.ErrorMessage
	}
	code := ""
	if job.ErrorCode != nil {
		code = *job.ErrorCode
	}
	switch code {
	case apperr.CodeProcessingTimeout:
		return apperr.Timeout(msg, nil)
	case apperr.CodeJobAbandoned:
		return apperr.Abandoned(msg)
	default:
		return apperr.Processing(msg, nil)
	}
}

// Downloadable reports whether job's output may be served at now. Status
// snapshots use it to decide on a download_url without touching the disk.
func Downloadable(job *models.Job, now time.Time) bool {
	return job.Status == models.JobStatusCompleted && job.FilePath != nil && !job.IsExpired(now)
}
