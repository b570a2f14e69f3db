// Package job provides the Job aggregate for loop generation requests,
// repository interfaces for persistence, and the LoopService use case that
// runs a request through probe, resolve, plan, execute and publish.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/loopgen/loopgen-api/internal/job/id"
	"github.com/loopgen/loopgen-api/internal/loop"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting to be processed.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is being rendered.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during rendering.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates rendering exceeded the processing deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one loop generation request from upload to artifact.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Params are the raw, untrusted options as received; the resolver
	// sanitizes them when processing starts.
	Params loop.RequestParams
	// Mode, Resolution, Speed and Downgraded hold the resolved values once
	// processing has started.
	Mode       loop.Mode
	Resolution loop.Tier
	Speed      float64
	Downgraded bool
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains a user-facing message if the job failed.
	Error string
	// ErrorCode classifies the failure for programmatic handling.
	ErrorCode string
	// InputPath is the path to the uploaded source clip.
	InputPath string
	// OutputPath is the local path to the final artifact, kept only when no
	// publisher is configured.
	OutputPath string
	// ArtifactURL, ArtifactName and ArtifactExpiresAt describe the
	// published artifact when a publisher is configured.
	ArtifactURL       string
	ArtifactName      string
	ArtifactExpiresAt time.Time
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New(params loop.RequestParams) *Job {
	now := time.Now()
	return &Job{
		ID:        id.Generate(),
		Status:    StatusInQueue,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with a user-facing message and
// an error code.
func (j *Job) Fail(code, message string) error {
	j.mu.Lock()
	j.ErrorCode = code
	j.Error = message
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// ApplyResolved records the sanitized parameters once probing succeeded.
func (j *Job) ApplyResolved(p loop.ResolvedParams) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Mode = p.Mode
	j.Resolution = p.Resolution
	j.Speed = p.Speed
	j.Downgraded = p.Downgraded
	j.UpdatedAt = time.Now()
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// SetOutput records the local artifact path for direct download.
func (j *Job) SetOutput(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.UpdatedAt = time.Now()
}

// SetArtifact records the published artifact reference and clears the
// local path, which has been deleted after upload.
func (j *Job) SetArtifact(url, name string, expiresAt time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ArtifactURL = url
	j.ArtifactName = name
	j.ArtifactExpiresAt = expiresAt
	j.OutputPath = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled ||
		j.Status == StatusTimedOut
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:                j.ID,
		Status:            j.Status,
		Params:            j.Params,
		Mode:              j.Mode,
		Resolution:        j.Resolution,
		Speed:             j.Speed,
		Downgraded:        j.Downgraded,
		Progress:          j.Progress,
		Error:             j.Error,
		ErrorCode:         j.ErrorCode,
		InputPath:         j.InputPath,
		OutputPath:        j.OutputPath,
		ArtifactURL:       j.ArtifactURL,
		ArtifactName:      j.ArtifactName,
		ArtifactExpiresAt: j.ArtifactExpiresAt,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
	}
}
