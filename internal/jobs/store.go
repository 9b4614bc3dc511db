package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/slimpdf/slimpdf-api/internal/apperr"
	"github.com/slimpdf/slimpdf-api/internal/database"
	"github.com/slimpdf/slimpdf-api/internal/models"
	"github.com/slimpdf/slimpdf-api/internal/usage"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrTransition is returned when a conditional status update matched no
	// row because the job already left the expected state.
	ErrTransition = errors.New("job not in expected state")
)

type PostgresStore struct {
	db  database.Beginner
	now func() time.Time
}

func NewPostgresStore(db database.Beginner) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const jobColumns = `id, user_id, tool, status, input_filename, output_filename, file_path,
	original_size, output_size, error_code, error_message, expires_at, created_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.Tool, &j.Status, &j.InputFilename, &j.OutputFilename, &j.FilePath,
		&j.OriginalSize, &j.OutputSize, &j.ErrorCode, &j.ErrorMessage, &j.ExpiresAt, &j.CreatedAt, &j.CompletedAt)
	return &j, err
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// AdmitRequest is one accepted upload about to become a job. Limit 0 skips
// the quota recount.
type AdmitRequest struct {
	Job     *models.Job
	Usage   *models.UsageLogEntry
	Subject usage.Subject
	Limit   int
}

// Admit records the usage entry and creates the pending job in one
// transaction. For limited subjects it first takes the per-subject advisory
// lock and recounts today's usage, so concurrent requests cannot both take
// the last slot.
func (s *PostgresStore) Admit(ctx context.Context, req AdmitRequest) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		if req.Limit > 0 {
			day := usage.StartOfDay(s.now())
			if err := usage.Lock(ctx, tx, req.Job.Tool, req.Subject, day); err != nil {
				return err
			}
			used, err := usage.CountSince(ctx, tx, req.Job.Tool, req.Subject, day)
			if err != nil {
				return err
			}
			if used >= req.Limit {
				return apperr.QuotaExceeded(string(req.Job.Tool), used, req.Limit)
			}
		}

		if err := usage.Insert(ctx, tx, req.Usage); err != nil {
			return err
		}

		j := req.Job
		err := tx.QueryRow(ctx,
			`INSERT INTO jobs (user_id, tool, status, input_filename, original_size, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at`,
			j.UserID, j.Tool, models.JobStatusPending, j.InputFilename, j.OriginalSize, j.ExpiresAt,
		).Scan(&j.ID, &j.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		j.Status = models.JobStatusPending
		return nil
	})
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET status = $2 WHERE id = $1 AND status = $3`,
		id, models.JobStatusProcessing, models.JobStatusPending)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransition
	}
	return nil
}

// Completion is what a successful run records on its job.
type Completion struct {
	OutputFilename string
	FilePath       string
	OutputSize     int64
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id uuid.UUID, c Completion, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET status = $2, output_filename = $3, file_path = $4, output_size = $5, completed_at = $6
		 WHERE id = $1 AND status = $7`,
		id, models.JobStatusCompleted, c.OutputFilename, c.FilePath, c.OutputSize, at, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransition
	}
	return nil
}

// Failure is the reason recorded on a failed job. Code is one of the apperr
// codes; Message is safe to show to the client.
type Failure struct {
	Code    string
	Message string
}

// MarkFailed moves a pending or processing job to failed. A job that is
// already terminal is left untouched and ErrTransition is returned.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, f Failure, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET status = $2, error_code = $3, error_message = $4, completed_at = $5
		 WHERE id = $1 AND status IN ($6, $7)`,
		id, models.JobStatusFailed, f.Code, f.Message, at, models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransition
	}
	return nil
}

// FileRef points at a job's output file.
type FileRef struct {
	JobID uuid.UUID
	Path  string
}

func (s *PostgresStore) collectRefs(ctx context.Context, sql string, args ...any) ([]FileRef, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (FileRef, error) {
		var r FileRef
		err := row.Scan(&r.JobID, &r.Path)
		return r, err
	})
}

// ExpiredWithFiles lists jobs past expires_at that still reference a file.
func (s *PostgresStore) ExpiredWithFiles(ctx context.Context, now time.Time, limit int) ([]FileRef, error) {
	refs, err := s.collectRefs(ctx,
		`SELECT id, file_path FROM jobs
		 WHERE expires_at < $1 AND file_path IS NOT NULL
		 ORDER BY expires_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	return refs, nil
}

// FailedWithFiles lists failed jobs that still reference a file.
func (s *PostgresStore) FailedWithFiles(ctx context.Context, limit int) ([]FileRef, error) {
	refs, err := s.collectRefs(ctx,
		`SELECT id, file_path FROM jobs
		 WHERE status = $1 AND file_path IS NOT NULL
		 LIMIT $2`, models.JobStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs with files: %w", err)
	}
	return refs, nil
}

// ClearFilePath nulls the job's file_path if it still equals path.
func (s *PostgresStore) ClearFilePath(ctx context.Context, ref FileRef) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE jobs SET file_path = NULL WHERE id = $1 AND file_path = $2`, ref.JobID, ref.Path); err != nil {
		return fmt.Errorf("clear job file path: %w", err)
	}
	return nil
}

// DeleteTerminalWithoutFile removes terminal jobs created before cutoff that
// hold no file.
func (s *PostgresStore) DeleteTerminalWithoutFile(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM jobs
		 WHERE status IN ($1, $2) AND file_path IS NULL AND created_at < $3`,
		models.JobStatusCompleted, models.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FailStale fails every pending or processing job created before cutoff and
// returns their ids.
func (s *PostgresStore) FailStale(ctx context.Context, cutoff time.Time, f Failure, at time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE jobs SET status = $1, error_code = $2, error_message = $3, completed_at = $4
		 WHERE status IN ($5, $6) AND created_at < $7
		 RETURNING id`,
		models.JobStatusFailed, f.Code, f.Message, at, models.JobStatusPending, models.JobStatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	return ids, nil
}
