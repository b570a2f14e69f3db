package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loopgen/loopgen-api/internal/loop"
	"github.com/loopgen/loopgen-api/internal/media"
	"github.com/loopgen/loopgen-api/internal/publish"
	"github.com/loopgen/loopgen-api/internal/storage"
)

// Executor renders an execution plan into a finished artifact on disk.
// Satisfied by pipeline.Orchestrator.
type Executor interface {
	Execute(ctx context.Context, inputPath string, source media.SourceMedia, plan loop.ExecutionPlan) (string, error)
}

// Error codes reported on failed jobs and in API error responses.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInsufficientSource = "INSUFFICIENT_SOURCE"
	CodeUnprobeableMedia   = "UNPROBEABLE_MEDIA"
	CodeResourceLimit      = "RESOURCE_LIMIT"
	CodeEngineFailed       = "ENGINE_FAILED"
)

const (
	defaultProcessTimeout = 10 * time.Minute
	defaultMaxOutputMB    = 2048
)

// LoopService coordinates loop generation: it accepts uploads, runs jobs
// through probe, resolve, plan and execute, and records the outcome.
type LoopService struct {
	repo      Repository
	prober    media.Prober
	resolver  *loop.Resolver
	orch      Executor
	store     storage.Storage
	publisher publish.Publisher
	logger    *slog.Logger

	processTimeout time.Duration
	maxOutputMB    int
}

// Option configures a LoopService.
type Option func(*LoopService)

// WithPublisher makes finished artifacts get uploaded and served by URL
// instead of from the local filesystem.
func WithPublisher(p publish.Publisher) Option {
	return func(s *LoopService) { s.publisher = p }
}

// WithProcessTimeout bounds how long a single job may render.
func WithProcessTimeout(d time.Duration) Option {
	return func(s *LoopService) {
		if d > 0 {
			s.processTimeout = d
		}
	}
}

// WithMaxOutputMB caps the estimated output size a job may produce.
func WithMaxOutputMB(mb int) Option {
	return func(s *LoopService) {
		if mb > 0 {
			s.maxOutputMB = mb
		}
	}
}

// NewLoopService creates a LoopService with the given collaborators.
func NewLoopService(
	repo Repository,
	prober media.Prober,
	resolver *loop.Resolver,
	orch Executor,
	store storage.Storage,
	logger *slog.Logger,
	opts ...Option,
) *LoopService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LoopService{
		repo:           repo,
		prober:         prober,
		resolver:       resolver,
		orch:           orch,
		store:          store,
		logger:         logger,
		processTimeout: defaultProcessTimeout,
		maxOutputMB:    defaultMaxOutputMB,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateLoopInput carries one upload and its raw options.
type CreateLoopInput struct {
	FileName string
	File     io.Reader
	Params   loop.RequestParams
}

// CreateLoop stores the uploaded clip and enqueues a job for it. The
// returned job is in IN_QUEUE state; call ProcessJob to render it.
func (s *LoopService) CreateLoop(ctx context.Context, input CreateLoopInput) (*Job, error) {
	path, err := s.store.SaveTemp(ctx, input.FileName, input.File)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	j := New(input.Params)
	j.InputPath = path

	if err := s.repo.Save(ctx, j); err != nil {
		_ = s.store.CleanupTemp(ctx, []string{path})
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.logger.Info("loop job created",
		"job_id", j.ID,
		"file", input.FileName,
		"mode", input.Params.Mode,
		"target_seconds", input.Params.TargetDurationSeconds)

	return j, nil
}

// GetJob returns a snapshot of the job with the given ID.
func (s *LoopService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ProcessJob renders the job with the given ID to completion. It is meant
// to run detached from the request that created the job; pass a context
// that outlives the HTTP request. The uploaded source file is removed on
// every exit path.
func (s *LoopService) ProcessJob(ctx context.Context, jobID string) error {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("find job: %w", err)
	}

	if err := j.Start(); err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save job: %w", err)
	}

	defer func() {
		if j.InputPath != "" {
			_ = s.store.CleanupTemp(context.WithoutCancel(ctx), []string{j.InputPath})
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.processTimeout)
	defer cancel()

	if err := s.runJob(runCtx, j); err != nil {
		s.recordFailure(ctx, j, runCtx, err)
		return err
	}

	j.UpdateProgress(100)
	if err := j.Complete(); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("save job: %w", err)
	}

	s.logger.Info("loop job completed",
		"job_id", j.ID,
		"mode", j.Mode,
		"resolution", j.Resolution,
		"downgraded", j.Downgraded)
	return nil
}

// runJob performs the actual rendering steps. Errors are classified by
// recordFailure; this function only wraps them with stage context.
func (s *LoopService) runJob(ctx context.Context, j *Job) error {
	source, err := s.prober.Probe(ctx, j.InputPath)
	if err != nil {
		return fmt.Errorf("probe source: %w", err)
	}
	s.saveProgress(ctx, j, 10)

	resolved := s.resolver.Resolve(j.Params, source)
	j.ApplyResolved(resolved)

	if err := loop.CheckOutputBudget(resolved, source, s.maxOutputMB); err != nil {
		return fmt.Errorf("output budget: %w", err)
	}

	plan, err := loop.Plan(source, resolved)
	if err != nil {
		return fmt.Errorf("plan loop: %w", err)
	}
	s.saveProgress(ctx, j, 20)

	s.logger.Info("executing loop plan",
		"job_id", j.ID,
		"mode", plan.Mode,
		"steps", len(plan.Steps),
		"resolution", plan.OutputResolution)

	outputPath, err := s.orch.Execute(ctx, j.InputPath, source, plan)
	if err != nil {
		return fmt.Errorf("execute plan: %w", err)
	}
	s.saveProgress(ctx, j, 80)

	if s.publisher == nil {
		j.SetOutput(outputPath)
		return nil
	}

	// Publishing must survive job timeout; the render already finished.
	artifact, err := s.publisher.Publish(context.WithoutCancel(ctx), outputPath)
	if err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("publish artifact: %w", err)
	}
	j.SetArtifact(artifact.URL, artifact.Name, artifact.ExpiresAt)
	_ = os.Remove(outputPath)
	return nil
}

// recordFailure maps the error to a terminal state and persists it. The
// save uses a context detached from the render deadline so a timed out job
// still gets recorded.
func (s *LoopService) recordFailure(ctx context.Context, j *Job, runCtx context.Context, err error) {
	saveCtx := context.WithoutCancel(ctx)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		_ = j.Timeout()
	case errors.Is(err, context.Canceled):
		_ = j.Cancel()
	default:
		_ = j.Fail(classifyError(err), err.Error())
	}

	if saveErr := s.repo.Save(saveCtx, j); saveErr != nil {
		s.logger.Error("failed to persist job failure", "job_id", j.ID, "error", saveErr)
	}

	s.logger.Error("loop job failed",
		"job_id", j.ID,
		"status", j.GetStatus(),
		"error", err)
}

// classifyError maps pipeline errors onto the public error codes.
func classifyError(err error) string {
	switch {
	case errors.Is(err, media.ErrUnprobeableMedia):
		return CodeUnprobeableMedia
	case errors.Is(err, loop.ErrInsufficientSource):
		return CodeInsufficientSource
	case errors.Is(err, loop.ErrResourceLimit):
		return CodeResourceLimit
	default:
		return CodeEngineFailed
	}
}

// saveProgress updates and persists progress, tolerating save failures.
func (s *LoopService) saveProgress(ctx context.Context, j *Job, progress int) {
	j.UpdateProgress(progress)
	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Warn("failed to save progress", "job_id", j.ID, "error", err)
	}
}
