package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/loopgen/loopgen-api/internal/job"
	"github.com/loopgen/loopgen-api/internal/loop"
)

const defaultMaxUploadBytes = 512 << 20 // 512 MB

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.LoopService
	validator          *validator.Validate
	logger             *slog.Logger
	maxUploadBytes     int64
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateLoop only creates the job and returns immediately
// without starting background rendering.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUploadBytes caps how large an uploaded clip may be.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.LoopService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		maxUploadBytes:     defaultMaxUploadBytes,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateLoop handles POST /loops requests. The body is a multipart form
// with the source clip under "file" plus the loop options as form fields.
// Only a missing file or an unusable target duration reject the request;
// every other option is clamped to a safe value downstream.
func (h *Handlers) CreateLoop(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.logger.Warn("failed to parse multipart form",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid multipart body", job.CodeValidation)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field", job.CodeValidation)
		return
	}
	defer func() { _ = file.Close() }()

	form := createLoopForm{
		TargetDurationSeconds: formInt(r, "duration_seconds"),
	}
	if err := h.validator.Struct(form); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "duration_seconds must be a positive integer", job.CodeValidation)
		return
	}

	params := loop.RequestParams{
		Mode:                  r.FormValue("mode"),
		TargetDurationSeconds: form.TargetDurationSeconds,
		CrossfadeSeconds:      formFloat(r, "crossfade_seconds"),
		StartPauseSeconds:     formFloat(r, "start_pause_seconds"),
		EndPauseSeconds:       formFloat(r, "end_pause_seconds"),
		Resolution:            r.FormValue("resolution"),
		Speed:                 r.FormValue("speed"),
	}

	createdJob, err := h.service.CreateLoop(r.Context(), job.CreateLoopInput{
		FileName: header.Filename,
		File:     file,
		Params:   params,
	})
	if err != nil {
		h.logger.Error("failed to create loop job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create loop job", "JOB_CREATION_FAILED")
		return
	}

	// Start rendering in background with a detached context.
	// context.WithoutCancel keeps the job alive when the request ends.
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string) {
			if processErr := h.service.ProcessJob(ctx, jobID); processErr != nil {
				h.logger.Error("background rendering failed",
					slog.String("job_id", jobID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), createdJob.ID)
	}

	h.logger.Info("loop job accepted",
		slog.String("job_id", createdJob.ID),
		slog.String("file", header.Filename),
		slog.Int("target_seconds", params.TargetDurationSeconds),
	)

	writeJSON(w, http.StatusAccepted, CreateLoopResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// GetLoop handles GET /loops/{id} requests.
func (h *Handlers) GetLoop(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "loop job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get loop job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get loop job", "JOB_FETCH_FAILED")
		return
	}

	resp := LoopResponse{
		ID:        foundJob.ID,
		Status:    string(foundJob.Status),
		Progress:  foundJob.Progress,
		Error:     foundJob.Error,
		ErrorCode: foundJob.ErrorCode,
	}
	if foundJob.Mode != "" {
		resp.Mode = string(foundJob.Mode)
		resp.Resolution = string(foundJob.Resolution)
		resp.Speed = foundJob.Speed
		resp.Downgraded = foundJob.Downgraded
	}
	if foundJob.Status == job.StatusCompleted {
		switch {
		case foundJob.ArtifactURL != "":
			resp.ArtifactURL = foundJob.ArtifactURL
			if !foundJob.ArtifactExpiresAt.IsZero() {
				expires := foundJob.ArtifactExpiresAt
				resp.ArtifactExpiresAt = &expires
			}
		case foundJob.OutputPath != "":
			resp.DownloadPath = fmt.Sprintf("/loops/%s/download", foundJob.ID)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// DownloadLoop handles GET /loops/{id}/download requests. It serves the
// finished artifact from local disk, or redirects to the published URL
// when an external publisher handled the upload.
func (h *Handlers) DownloadLoop(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "loop job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get loop job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get loop job", "JOB_FETCH_FAILED")
		return
	}

	if foundJob.Status != job.StatusCompleted {
		writeError(w, http.StatusConflict, "loop is not ready", "JOB_NOT_READY")
		return
	}
	if foundJob.ArtifactURL != "" {
		http.Redirect(w, r, foundJob.ArtifactURL, http.StatusFound)
		return
	}
	if foundJob.OutputPath == "" {
		writeError(w, http.StatusNotFound, "artifact no longer available", "ARTIFACT_GONE")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", foundJob.ID+".mp4"))
	http.ServeFile(w, r, foundJob.OutputPath)
}

// formInt reads a form field as an integer, returning 0 when absent or
// unparseable.
func formInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.FormValue(name))
	if err != nil {
		return 0
	}
	return v
}

// formFloat reads a form field as a float, returning 0 when absent or
// unparseable.
func formFloat(r *http.Request, name string) float64 {
	v, err := strconv.ParseFloat(r.FormValue(name), 64)
	if err != nil {
		return 0
	}
	return v
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
