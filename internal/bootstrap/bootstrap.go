// Package bootstrap provides dependency initialization for the loop
// generation API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/loopgen/loopgen-api/internal/config"
	"github.com/loopgen/loopgen-api/internal/engine"
	"github.com/loopgen/loopgen-api/internal/job"
	"github.com/loopgen/loopgen-api/internal/loop"
	"github.com/loopgen/loopgen-api/internal/media"
	"github.com/loopgen/loopgen-api/internal/pipeline"
	"github.com/loopgen/loopgen-api/internal/publish"
	"github.com/loopgen/loopgen-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	LoopService *job.LoopService

	repo job.Repository
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() error {
	if closer, ok := d.repo.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	prober := media.NewFFprobeProber(cfg.FFprobePath)
	eng := engine.NewFFmpegEngine(cfg.FFmpegPath, prober)

	orch, err := pipeline.NewOrchestrator(eng, cfg.TempDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	resolver := loop.NewResolver(loop.DefaultResolutionPolicy())

	repo, err := initRepository(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []job.Option{
		job.WithProcessTimeout(cfg.ProcessTimeout()),
		job.WithMaxOutputMB(cfg.MaxOutputMB),
	}
	if cfg.S3Enabled() {
		publisher, err := initPublisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, job.WithPublisher(publisher))
	}

	svc := job.NewLoopService(repo, prober, resolver, orch, store, logger, opts...)

	return &Dependencies{
		LoopService: svc,
		repo:        repo,
	}, nil
}

// initRepository chooses the job store: sqlite when a database path is
// configured, in-memory otherwise.
func initRepository(cfg *config.Config, logger *slog.Logger) (job.Repository, error) {
	if cfg.JobDBPath == "" {
		logger.Info("in-memory job store configured")
		return job.NewMemoryRepository(), nil
	}

	repo, err := job.NewSQLiteRepository(cfg.JobDBPath)
	if err != nil {
		return nil, fmt.Errorf("create sqlite job store: %w", err)
	}
	logger.Info("sqlite job store configured",
		slog.String("path", cfg.JobDBPath),
	)
	return repo, nil
}

// initPublisher creates the S3 artifact publisher.
func initPublisher(cfg *config.Config, logger *slog.Logger) (publish.Publisher, error) {
	publisher, err := publish.NewS3Publisher(publish.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		KeyPrefix:       cfg.S3KeyPrefix,
		URLTTL:          cfg.ArtifactTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 publisher: %w", err)
	}
	logger.Info("S3 publisher configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
		slog.String("key_prefix", cfg.S3KeyPrefix),
	)
	return publisher, nil
}
