package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/aiwaverider/mediasync/internal/core/config"
	"github.com/aiwaverider/mediasync/internal/core/domain"
	"github.com/aiwaverider/mediasync/internal/health"
	"github.com/aiwaverider/mediasync/internal/infra/backend/aiwaverider"
	"github.com/aiwaverider/mediasync/internal/infra/backend/drive"
	"github.com/aiwaverider/mediasync/internal/infra/storage/sqlite"
	"github.com/aiwaverider/mediasync/internal/pipeline"
	"github.com/aiwaverider/mediasync/internal/queue"
	"github.com/aiwaverider/mediasync/internal/upload/chunk"
	"github.com/aiwaverider/mediasync/internal/upload/gate"
	"github.com/aiwaverider/mediasync/internal/upload/retry"
)

// Collaborators are the pluggable media stages. A nil collaborator disables
// its worker; uploads always run.
type Collaborators struct {
	Downloader  pipeline.Downloader
	Transcriber pipeline.Transcriber
	Sheets      pipeline.SheetUpdater
}

// Config holds the application configuration.
type Config struct {
	App           *config.AppConfig
	Collaborators Collaborators
}

// Service is the main application struct that manages the upload pipeline
// lifecycle.
type Service struct {
	cfg          Config
	db           *sqlite.DB
	queue        *queue.Queue
	workers      []*queue.Worker
	pipeline     *pipeline.Pipeline
	registry     *retry.Registry
	healthServer *health.Server
	log          *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a Service with all dependencies initialized.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	log := slog.Default()

	// 1. Initialize Storage
	db, err := sqlite.NewDB(ctx, cfg.App.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	ledgerRepo := sqlite.NewLedgerRepo(db)
	taskRepo := sqlite.NewTaskRepo(db)

	// 2. Initialize Retry Infrastructure
	registry := retry.NewRegistry(retry.DefaultBreakerConfig)
	registry.Configure(domain.BackendDrive, cfg.App.Retry.BreakerProfile(domain.BackendDrive))
	registry.Configure(domain.BackendAIWaverider, cfg.App.Retry.BreakerProfile(domain.BackendAIWaverider))

	driveMgr := retry.NewManager(cfg.App.Retry.RetryProfile(domain.BackendDrive), registry, log)
	awMgr := retry.NewManager(cfg.App.Retry.RetryProfile(domain.BackendAIWaverider), registry, log)

	// 3. Initialize Backends and Upload Components
	driveBackend := drive.New(cfg.App.Drive)
	awBackend := aiwaverider.New(cfg.App.AIWaverider)

	hasher := gate.NewHasher(cfg.App.Gate.HashConcurrency)
	uploadGate := gate.New(cfg.App.Gate, ledgerRepo, hasher, log)

	driveUploader := chunk.New(cfg.App.Chunk, driveMgr, log)
	awUploader := chunk.New(cfg.App.Chunk, awMgr, log)

	// 4. Initialize Queue and Workers
	q := queue.New(cfg.App.Queue, taskRepo, log)
	uploadSem := semaphore.NewWeighted(cfg.App.Uploads.MaxInFlightOrDefault())

	driveExec := pipeline.NewUploadExecutor(
		domain.TaskUploadDrive,
		driveBackend,
		map[domain.FileType]string{
			domain.FileVideo:     cfg.App.Drive.VideoFolderID,
			domain.FileThumbnail: cfg.App.Drive.ThumbFolderID,
		},
		uploadGate, driveUploader, ledgerRepo, taskRepo, uploadSem, log,
	)
	awExec := pipeline.NewUploadExecutor(
		domain.TaskUploadAIWaverider,
		awBackend,
		map[domain.FileType]string{
			domain.FileVideo:     cfg.App.AIWaverider.VideoFolder,
			domain.FileThumbnail: cfg.App.AIWaverider.ThumbnailFolder,
		},
		uploadGate, awUploader, ledgerRepo, taskRepo, uploadSem, log,
	)

	workers := []*queue.Worker{
		queue.NewWorker(driveExec, taskRepo, q, log),
		queue.NewWorker(awExec, taskRepo, q, log),
	}

	if cfg.Collaborators.Downloader != nil {
		exec := pipeline.NewDownloadExecutor(cfg.Collaborators.Downloader, log)
		workers = append(workers, queue.NewWorker(exec, taskRepo, q, log))
	}
	if cfg.Collaborators.Transcriber != nil {
		exec := pipeline.NewTranscribeExecutor(cfg.Collaborators.Transcriber, taskRepo, log)
		workers = append(workers, queue.NewWorker(exec, taskRepo, q, log))
	}
	if cfg.Collaborators.Sheets != nil {
		exec := pipeline.NewSheetExecutor(cfg.Collaborators.Sheets, taskRepo, log)
		workers = append(workers, queue.NewWorker(exec, taskRepo, q, log))
	}

	// A nil collaborator means nothing drains its task type: the download
	// task of an enqueued video would sit PENDING forever, and with it every
	// dependent. Say so loudly at startup.
	if unstaffed := missingWorkers(cfg.Collaborators); len(unstaffed) > 0 {
		log.Warn("No workers for some task types; their tasks stay PENDING until a collaborator is wired in",
			"task_types", unstaffed)
	}

	// 5. Initialize Health Monitor
	monitor := health.NewMonitor(db, registry, taskRepo, ledgerRepo)
	healthServer := health.NewServer(monitor, cfg.App.Server.Port)

	return &Service{
		cfg:          cfg,
		db:           db,
		queue:        q,
		workers:      workers,
		pipeline:     pipeline.New(q, log),
		registry:     registry,
		healthServer: healthServer,
		log:          log,
	}, nil
}

// Start starts the service and all its components.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// Start Health Server
	go func() {
		if err := s.healthServer.Start(); err != nil {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	s.db.StartMetricsCollector(ctx)

	// Start Queue Sweeper
	go s.queue.Start(ctx)

	// Start Workers
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *queue.Worker) {
			defer s.wg.Done()
			w.Run(ctx)
		}(w)
	}

	s.log.Info("Service started", "workers", len(s.workers))
	return nil
}

// Stop stops the service. Workers finish their in-flight task before the
// database closes, bounded by ctx; a worker that outlives ctx loses its task
// to the stale sweep of the next run.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if err := s.healthServer.Stop(ctx); err != nil {
		s.log.Warn("Failed to stop health server", "error", err)
	}

	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Timed out waiting for workers to stop")
	}

	return s.db.Close()
}

// missingWorkers lists the task types left without a worker by nil
// collaborators.
func missingWorkers(c Collaborators) []string {
	var out []string
	if c.Downloader == nil {
		out = append(out, string(domain.TaskDownloadVideo))
	}
	if c.Transcriber == nil {
		out = append(out, string(domain.TaskTranscribeAudio))
	}
	if c.Sheets == nil {
		out = append(out, string(domain.TaskUpdateSheet))
	}
	return out
}

// Pipeline returns the DAG builder for enqueueing new videos.
func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Queue returns the underlying task queue.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}
