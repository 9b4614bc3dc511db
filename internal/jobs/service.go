// Package jobs owns the job lifecycle: admission of accepted uploads, the
// Postgres job store and its conditional transitions, and the download gate.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/queue"
	"github.com/slimpdf/slimpdf-api/internal/usage"
)

type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Admit(ctx context.Context, req AdmitRequest) error
	MarkFailed(ctx context.Context, id uuid.UUID, f Failure, at time.Time) error
}

type Enqueuer interface {
	EnqueueJob(ctx context.Context, p queue.JobPayload) error
}

// Discarder deletes temp files; *files.Manager satisfies it.
type Discarder interface {
	DeleteAll(paths []string)
}

type Service struct {
	store      Store
	queue      Enqueuer
	files      Discarder
	limits     usage.Limits
	expiryFree time.Duration
	expiryPro  time.Duration
	now        func() time.Time
}

func NewService(store Store, q Enqueuer, files Discarder, limits usage.Limits, cfg config.FilesConfig) *Service {
	return &Service{
		store:      store,
		queue:      q,
		files:      files,
		limits:     limits,
		expiryFree: cfg.ExpiryFree,
		expiryPro:  cfg.ExpiryPro,
		now:        time.Now,
	}
}

// Submission is a validated upload ready to become a job.
type Submission struct {
	Identity      models.Identity
	Tool          models.Tool
	InputFilename string
	Inputs        []string
	InputBytes    int64
	Quality       models.Quality
	TargetBytes   int64
	PageSize      models.PageSize
}

// Submit admits sub against the caller's quota, creates the pending job and
// enqueues it. Inputs are deleted on every failure path; on success they
// belong to the worker.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Job, error) {
	job, err := s.admit(ctx, sub)
	if err != nil {
		s.files.DeleteAll(sub.Inputs)
		return nil, err
	}

	payload := queue.JobPayload{
		JobID:       job.ID,
		Tool:        job.Tool,
		Inputs:      sub.Inputs,
		OutputName:  job.DownloadName(),
		Quality:     sub.Quality,
		TargetBytes: sub.TargetBytes,
		PageSize:    sub.PageSize,
	}
	if err := s.queue.EnqueueJob(ctx, payload); err != nil {
		slog.Error("failed to enqueue job", "job_id", job.ID, "tool", job.Tool, "error", err)
		failCtx := context.WithoutCancel(ctx)
		if ferr := s.store.MarkFailed(failCtx, job.ID, Failure{Code: apperr.CodeInternal, Message: "job could not be queued"}, s.now()); ferr != nil {
			slog.Error("failed to record enqueue failure", "job_id", job.ID, "error", ferr)
		}
		s.files.DeleteAll(sub.Inputs)
		return nil, apperr.Internal(fmt.Errorf("enqueue job %s: %w", job.ID, err))
	}

	slog.Info("job submitted", "job_id", job.ID, "tool", job.Tool, "subject", sub.Identity.Subject(), "files", len(sub.Inputs))
	return job, nil
}

func (s *Service) admit(ctx context.Context, sub Submission) (*models.Job, error) {
	id := sub.Identity
	subject, ok := usage.SubjectOf(id)

	limit := 0
	if !id.IsPro() {
		limit = s.limits[sub.Tool]
		if !ok {
			return nil, apperr.QuotaExceeded(string(sub.Tool), 0, limit)
		}
	}

	expiry := s.expiryFree
	if id.IsPro() {
		expiry = s.expiryPro
	}

	size := sub.InputBytes
	job := &models.Job{
		UserID:        id.UserID,
		Tool:          sub.Tool,
		InputFilename: sub.InputFilename,
		OriginalSize:  &size,
		ExpiresAt:     s.now().Add(expiry).UTC(),
	}
	entry := &models.UsageLogEntry{
		UserID:     id.UserID,
		Tool:       sub.Tool,
		InputBytes: sub.InputBytes,
		FileCount:  len(sub.Inputs),
		APIRequest: id.ViaAPIKey,
		IPAddress:  parseIP(id.IP),
	}

	err := s.store.Admit(ctx, AdmitRequest{Job: job, Usage: entry, Subject: subject, Limit: limit})
	if err != nil {
		if apperr.As(err) != nil {
			return nil, err
		}
		return nil, apperr.Internal(fmt.Errorf("admit job: %w", err))
	}
	return job, nil
}

func parseIP(s string) *netip.Addr {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil
	}
	return &addr
}

// Get returns the job or a JOB_NOT_FOUND error.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeJobNotFound, "job not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return j, nil
}
