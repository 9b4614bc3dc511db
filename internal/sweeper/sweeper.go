// Package sweeper removes expired outputs, old job rows and orphaned temp
// files, and fails jobs that no worker finished.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/jobs"
)

const defaultBatch = 500

// AbandonedMessage is recorded on jobs failed by the stale pass.
const AbandonedMessage = "the job did not finish in time and was abandoned"

type Store interface {
	ExpiredWithFiles(ctx context.Context, now time.Time, limit int) ([]jobs.FileRef, error)
	FailedWithFiles(ctx context.Context, limit int) ([]jobs.FileRef, error)
	ClearFilePath(ctx context.Context, ref jobs.FileRef) error
	DeleteTerminalWithoutFile(ctx context.Context, cutoff time.Time) (int64, error)
	FailStale(ctx context.Context, cutoff time.Time, f jobs.Failure, at time.Time) ([]uuid.UUID, error)
}

type Files interface {
	Delete(path string) error
	RemoveOlderThan(maxAge time.Duration) int
}

type Sweeper struct {
	store        Store
	files        Files
	retention    time.Duration
	orphanMaxAge time.Duration
	staleAfter   time.Duration
	batch        int
	now          func() time.Time
}

func New(store Store, files Files, cfg config.WorkerConfig) *Sweeper {
	return &Sweeper{
		store:        store,
		files:        files,
		retention:    cfg.JobRetention,
		orphanMaxAge: cfg.OrphanMaxAge,
		staleAfter:   cfg.StaleJobTimeout,
		batch:        defaultBatch,
		now:          time.Now,
	}
}

// Report counts what one sweep did.
type Report struct {
	ExpiredCleared int
	FailedCleared  int
	RowsDeleted    int64
	OrphansRemoved int
}

// Sweep runs every retention pass once. A failing pass is logged and the
// remaining passes still run.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	var r Report
	now := s.now()

	if refs, err := s.store.ExpiredWithFiles(ctx, now, s.batch); err != nil {
		slog.Error("sweep: list expired jobs", "error", err)
	} else {
		r.ExpiredCleared = s.clear(ctx, refs, "expired")
	}

	if refs, err := s.store.FailedWithFiles(ctx, s.batch); err != nil {
		slog.Error("sweep: list failed jobs with files", "error", err)
	} else {
		r.FailedCleared = s.clear(ctx, refs, "failed")
	}

	if n, err := s.store.DeleteTerminalWithoutFile(ctx, now.Add(-s.retention)); err != nil {
		slog.Error("sweep: delete old jobs", "error", err)
	} else {
		r.RowsDeleted = n
	}

	r.OrphansRemoved = s.files.RemoveOlderThan(s.orphanMaxAge)

	slog.Info("sweep finished",
		"expired_cleared", r.ExpiredCleared,
		"failed_cleared", r.FailedCleared,
		"rows_deleted", r.RowsDeleted,
		"orphans_removed", r.OrphansRemoved,
	)
	return r
}

// clear deletes each referenced file and then nulls its path. A file that
// cannot be deleted keeps its path so the next sweep retries it.
func (s *Sweeper) clear(ctx context.Context, refs []jobs.FileRef, reason string) int {
	cleared := 0
	for _, ref := range refs {
		if err := s.files.Delete(ref.Path); err != nil {
			slog.Warn("sweep: delete job file", "job_id", ref.JobID, "reason", reason, "error", err)
			continue
		}
		if err := s.store.ClearFilePath(ctx, ref); err != nil {
			slog.Warn("sweep: clear job file path", "job_id", ref.JobID, "reason", reason, "error", err)
			continue
		}
		cleared++
	}
	return cleared
}

// FailStale marks pending and processing jobs older than the stale timeout
// as failed. A worker that finishes one later finds its terminal write
// rejected.
func (s *Sweeper) FailStale(ctx context.Context) (int, error) {
	now := s.now()
	abandoned := jobs.Failure{Code: apperr.CodeJobAbandoned, Message: AbandonedMessage}
	ids, err := s.store.FailStale(ctx, now.Add(-s.staleAfter), abandoned, now)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		slog.Warn("job abandoned", "job_id", id, "code", apperr.CodeJobAbandoned, "stale_after", s.staleAfter)
	}
	return len(ids), nil
}
