// Package server provides the HTTP server for the loop generation API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// createLoopForm carries the multipart form fields of a loop request.
// Only the target duration is validated here; every other option is
// sanitized downstream and never rejects a request.
type createLoopForm struct {
	// TargetDurationSeconds is the requested output length.
	TargetDurationSeconds int `validate:"required,min=1"`
}

// CreateLoopResponse is the HTTP response after creating a loop job.
type CreateLoopResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// LoopResponse is the HTTP response for getting loop job details.
type LoopResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Mode, Resolution and Speed are the sanitized values actually used,
	// present once processing has started.
	Mode       string  `json:"mode,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	// Downgraded reports that the safety policy lowered the resolution
	// below what was requested.
	Downgraded bool `json:"downgraded,omitempty"`
	// Error and ErrorCode describe the failure if the job failed.
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	// ArtifactURL is the published download URL when an external publisher
	// is configured; DownloadPath points at this API otherwise.
	ArtifactURL       string     `json:"artifact_url,omitempty"`
	ArtifactExpiresAt *time.Time `json:"artifact_expires_at,omitempty"`
	DownloadPath      string     `json:"download_path,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
