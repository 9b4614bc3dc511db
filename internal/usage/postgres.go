package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/slimpdf/slimpdf-api/internal/database"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

type PostgresStore struct {
	db database.DBTX
}

func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CountSince(ctx context.Context, tool models.Tool, subject Subject, since time.Time) (int, error) {
	return CountSince(ctx, s.db, tool, subject, since)
}

func (s *PostgresStore) Summary(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.ToolUsage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT tool, COUNT(*), COALESCE(SUM(input_size_bytes), 0)
		 FROM usage_logs
		 WHERE user_id = $1 AND created_at >= $2
		 GROUP BY tool
		 ORDER BY tool`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ToolUsage, error) {
		var u models.ToolUsage
		err := row.Scan(&u.Tool, &u.Count, &u.InputBytes)
		return u, err
	})
}

// CountSince counts subject's tool entries created at or after since. It
// takes a DBTX so admission can recount inside its transaction.
func CountSince(ctx context.Context, db database.DBTX, tool models.Tool, subject Subject, since time.Time) (int, error) {
	var (
		n   int
		err error
	)
	switch {
	case subject.UserID != nil:
		err = db.QueryRow(ctx,
			`SELECT COUNT(*) FROM usage_logs WHERE tool = $1 AND user_id = $2 AND created_at >= $3`,
			tool, *subject.UserID, since).Scan(&n)
	case subject.IP != nil:
		err = db.QueryRow(ctx,
			`SELECT COUNT(*) FROM usage_logs WHERE tool = $1 AND user_id IS NULL AND ip_address = $2 AND created_at >= $3`,
			tool, *subject.IP, since).Scan(&n)
	default:
		return 0, fmt.Errorf("usage subject has neither user nor address")
	}
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Lock takes a transaction-scoped advisory lock on (tool, subject, day) so
// concurrent admissions for the same subject serialize on the recount.
func Lock(ctx context.Context, tx pgx.Tx, tool models.Tool, subject Subject, day time.Time) error {
	key := fmt.Sprintf("usage:%s:%s:%s", tool, subject, day.Format("2006-01-02"))
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
		return fmt.Errorf("lock usage subject: %w", err)
	}
	return nil
}

func Insert(ctx context.Context, db database.DBTX, e *models.UsageLogEntry) error {
	err := db.QueryRow(ctx,
		`INSERT INTO usage_logs (user_id, tool, input_size_bytes, file_count, api_request, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		e.UserID, e.Tool, e.InputBytes, e.FileCount, e.APIRequest, e.IPAddress,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
