package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/slimpdf/slimpdf-api/internal/sweeper"
)

type SweepRunner interface {
	Sweep(ctx context.Context) sweeper.Report
	FailStale(ctx context.Context) (int, error)
}

// MaintenanceWorker serves the periodic retention and stale-job tasks.
type MaintenanceWorker struct {
	sweeper SweepRunner
}

func NewMaintenanceWorker(s SweepRunner) *MaintenanceWorker {
	return &MaintenanceWorker{sweeper: s}
}

func (w *MaintenanceWorker) Sweep(ctx context.Context, _ *asynq.Task) error {
	w.sweeper.Sweep(ctx)
	return nil
}

func (w *MaintenanceWorker) FailStale(ctx context.Context, _ *asynq.Task) error {
	if _, err := w.sweeper.FailStale(ctx); err != nil {
		return fmt.Errorf("fail stale jobs: %w", err)
	}
	return nil
}
