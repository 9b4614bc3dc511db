package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/database"
	"github.com/slimpdf/slimpdf-api/internal/engine"
	"github.com/slimpdf/slimpdf-api/internal/files"
	"github.com/slimpdf/slimpdf-api/internal/jobs"
	"github.com/slimpdf/slimpdf-api/internal/logging"
	"github.com/slimpdf/slimpdf-api/internal/queue"
	"github.com/slimpdf/slimpdf-api/internal/queue/workers"
	"github.com/slimpdf/slimpdf-api/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg).With("component", "worker"))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	fm, err := files.NewManager(cfg.Files.TempDir)
	if err != nil {
		slog.Error("temp directory unavailable", "dir", cfg.Files.TempDir, "error", err)
		os.Exit(1)
	}

	gs := engine.NewGhostscript(cfg.Engine.GhostscriptPath, engine.ExecRunner{})
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = gs.Available(checkCtx)
	cancel()
	if err != nil {
		slog.Error("ghostscript not available", "path", cfg.Engine.GhostscriptPath, "error", err)
		os.Exit(1)
	}
	pdf := engine.NewPDFCPU(fm.OutputDir())

	store := jobs.NewPostgresStore(db)
	jobWorker := workers.NewJobWorker(store, gs, pdf, pdf, fm, cfg.Worker.ProcessingTimeout)
	maintenance := workers.NewMaintenanceWorker(sweeper.New(store, fm, cfg.Worker))

	redisOpt := queue.RedisOpt(cfg.Redis)
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				queue.QueueDefault:     6,
				queue.QueueMaintenance: 1,
			},
			ShutdownTimeout: cfg.Worker.ProcessingTimeout,
		},
	)

	registry := queue.NewHandlersRegistry()

	// Register workers
	registry.Register(queue.TypeCompress, jobWorker)
	registry.Register(queue.TypeMerge, jobWorker)
	registry.Register(queue.TypeImageToPDF, jobWorker)
	registry.RegisterFunc(queue.TypeSweep, maintenance.Sweep)
	registry.RegisterFunc(queue.TypeStaleJobs, maintenance.FailStale)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	every := "@every " + cfg.Worker.SweepInterval.String()
	for _, taskType := range []string{queue.TypeSweep, queue.TypeStaleJobs} {
		_, err := scheduler.Register(every, asynq.NewTask(taskType, nil),
			asynq.Queue(queue.QueueMaintenance),
			asynq.MaxRetry(0),
			asynq.Unique(cfg.Worker.SweepInterval),
		)
		if err != nil {
			slog.Error("failed to schedule maintenance task", "task", taskType, "error", err)
			os.Exit(1)
		}
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	slog.Info("starting worker", "concurrency", cfg.Worker.Concurrency, "sweep_interval", cfg.Worker.SweepInterval)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
