package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/engine"
	"github.com/slimpdf/slimpdf-api/internal/jobs"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/queue"
)

type JobStore interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, c jobs.Completion, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, f jobs.Failure, at time.Time) error
}

type Compressor interface {
	Compress(ctx context.Context, in, out string, q models.Quality) (*engine.Result, error)
	CompressToTarget(ctx context.Context, in, out string, targetBytes int64) (*engine.Result, error)
}

type Merger interface {
	Merge(ctx context.Context, inputs []string, out string) (*engine.Result, error)
}

type ImageConverter interface {
	ImagesToPDF(ctx context.Context, images []string, out string, size models.PageSize) (*engine.Result, error)
}

type TempFiles interface {
	OutputPath() string
	Delete(path string) error
	DeleteAll(paths []string)
	Root() string
}

// JobWorker drives one job through processing to a terminal state.
type JobWorker struct {
	store      JobStore
	compressor Compressor
	merger     Merger
	images     ImageConverter
	files      TempFiles
	timeout    time.Duration
	now        func() time.Time
}

func NewJobWorker(store JobStore, c Compressor, m Merger, i ImageConverter, files TempFiles, timeout time.Duration) *JobWorker {
	return &JobWorker{
		store:      store,
		compressor: c,
		merger:     m,
		images:     i,
		files:      files,
		timeout:    timeout,
		now:        time.Now,
	}
}

func (w *JobWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p queue.JobPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	// Inputs go exactly once, after whatever terminal write happens below.
	defer w.files.DeleteAll(p.Inputs)

	log := slog.With("job_id", p.JobID, "tool", p.Tool)

	if err := w.store.MarkProcessing(ctx, p.JobID); err != nil {
		if errors.Is(err, jobs.ErrTransition) {
			log.Warn("job is no longer pending, skipping")
			return nil
		}
		w.fail(ctx, log, p.JobID, jobs.Failure{Code: apperr.CodeInternal, Message: "job could not be started"})
		return fmt.Errorf("mark processing: %w", err)
	}
	log.Info("job processing", "inputs", len(p.Inputs))

	out := w.files.OutputPath()
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	res, err := w.run(runCtx, p, out)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if derr := w.files.Delete(out); derr != nil {
			log.Warn("failed to remove partial output", "error", derr)
		}
		w.fail(ctx, log, p.JobID, w.failure(ctx, err, timedOut))
		return nil
	}

	done := jobs.Completion{OutputFilename: p.OutputName, FilePath: res.OutputPath, OutputSize: res.OutputSize}
	if err := w.store.MarkCompleted(context.WithoutCancel(ctx), p.JobID, done, w.now()); err != nil {
		if derr := w.files.Delete(res.OutputPath); derr != nil {
			log.Warn("failed to remove unrecorded output", "error", derr)
		}
		if errors.Is(err, jobs.ErrTransition) {
			log.Warn("job was finalized elsewhere, discarding output")
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}

	log.Info("job completed",
		"original_size", res.OriginalSize,
		"output_size", res.OutputSize,
		"pages", res.PageCount,
	)
	return nil
}

func (w *JobWorker) run(ctx context.Context, p queue.JobPayload, out string) (*engine.Result, error) {
	if len(p.Inputs) == 0 {
		return nil, errors.New("job has no input files")
	}

	switch p.Tool {
	case models.ToolCompress:
		if p.TargetBytes > 0 {
			return w.compressor.CompressToTarget(ctx, p.Inputs[0], out, p.TargetBytes)
		}
		q := p.Quality
		if q == "" {
			q = models.QualityMedium
		}
		return w.compressor.Compress(ctx, p.Inputs[0], out, q)
	case models.ToolMerge:
		return w.merger.Merge(ctx, p.Inputs, out)
	case models.ToolImageToPDF:
		size := p.PageSize
		if size == "" {
			size = models.PageSizeA4
		}
		return w.images.ImagesToPDF(ctx, p.Inputs, out, size)
	default:
		return nil, fmt.Errorf("unknown tool %q", p.Tool)
	}
}

func (w *JobWorker) failure(ctx context.Context, err error, timedOut bool) jobs.Failure {
	switch {
	case timedOut:
		return jobs.Failure{
			Code:    apperr.CodeProcessingTimeout,
			Message: fmt.Sprintf("processing timed out after %s", w.timeout),
		}
	case ctx.Err() != nil:
		return jobs.Failure{Code: apperr.CodeProcessingFailed, Message: "processing was interrupted"}
	default:
		return jobs.Failure{Code: apperr.CodeProcessingFailed, Message: apperr.Sanitize(err.Error(), w.files.Root())}
	}
}

// fail records f on the job even if ctx has been cancelled.
func (w *JobWorker) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, f jobs.Failure) {
	err := w.store.MarkFailed(context.WithoutCancel(ctx), id, f, w.now())
	switch {
	case errors.Is(err, jobs.ErrTransition):
		log.Warn("job was finalized elsewhere, failure not recorded", "code", f.Code, "reason", f.Message)
	case err != nil:
		log.Error("failed to record job failure", "code", f.Code, "reason", f.Message, "error", err)
	default:
		log.Error("job failed", "code", f.Code, "reason", f.Message)
	}
}
