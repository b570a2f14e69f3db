// Package pipeline contains the execution orchestrator: it walks an
// execution plan, drives the transcoding engine primitives, and owns every
// temporary artifact for the lifetime of one request.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/loopgen/loopgen-api/internal/engine"
	"github.com/loopgen/loopgen-api/internal/loop"
	"github.com/loopgen/loopgen-api/internal/media"
)

// EngineError reports a failed primitive with the pipeline stage it
// happened in. The stage name is safe to surface to callers; the wrapped
// error keeps the tool diagnostics for logs.
type EngineError struct {
	Stage string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine failed at stage %s: %v", e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Orchestrator executes plans against an engine. It is the only component
// that touches the filesystem or spawns external work.
type Orchestrator struct {
	engine   engine.Engine
	workRoot string
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator writing all artifacts under
// workRoot, which is created if missing.
func NewOrchestrator(eng engine.Engine, workRoot string, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(workRoot, 0750); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	return &Orchestrator{engine: eng, workRoot: workRoot, logger: logger}, nil
}

// Execute renders a plan into a final artifact and returns its path. All
// intermediates live in a request-scoped directory that is removed on every
// exit path; on failure the final artifact is removed too, so a returned
// error never leaves partial output behind. A single primitive failure is
// fatal for the request; nothing is retried.
func (o *Orchestrator) Execute(ctx context.Context, inputPath string, source media.SourceMedia, plan loop.ExecutionPlan) (final string, err error) {
	reqID := uuid.NewString()
	workDir := filepath.Join(o.workRoot, "req-"+reqID)
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return "", fmt.Errorf("create request work dir: %w", err)
	}
	finalPath := filepath.Join(o.workRoot, "loop-"+reqID+".mp4")

	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			o.logger.Warn("failed to remove work dir",
				slog.String("dir", workDir),
				slog.String("error", rmErr.Error()),
			)
		}
		if err != nil {
			_ = os.Remove(finalPath)
		}
	}()

	run := &planRun{
		o:        o,
		ctx:      ctx,
		workDir:  workDir,
		frameDur: frameDuration(source, plan.OutputSpeed),
	}

	prepared, err := run.prepare(inputPath, plan)
	if err != nil {
		return "", err
	}

	segments, finalTrim, err := run.renderSteps(prepared, plan.Steps)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", &EngineError{Stage: "concat", Err: fmt.Errorf("plan produced no segments")}
	}

	combined := segments[0]
	if len(segments) > 1 {
		combined = filepath.Join(workDir, "combined.mp4")
		if err := run.step("concat", func() error {
			return o.engine.Concat(ctx, segments, combined)
		}); err != nil {
			return "", err
		}
	}

	if finalTrim > 0 {
		combined, err = run.finishExact(combined, finalTrim)
		if err != nil {
			return "", err
		}
	}

	if err := run.step("final-mux", func() error {
		return o.engine.Mux(ctx, combined, finalPath, "mp4")
	}); err != nil {
		return "", err
	}

	o.logger.Info("plan executed",
		slog.String("mode", string(plan.Mode)),
		slog.Int("steps", len(plan.Steps)),
		slog.Int("segments", len(segments)),
		slog.String("artifact", finalPath),
	)
	return finalPath, nil
}

// planRun carries per-request execution state.
type planRun struct {
	o        *Orchestrator
	ctx      context.Context
	workDir  string
	frameDur float64

	segIdx   int
	blendIdx int

	// passPath and passSeconds remember the first rendered play segment,
	// used to extend a crossfade chain when the seam needs more material.
	// rendered tracks the running screen time of the assembled chain.
	passPath    string
	passSeconds float64
	overlap     float64
	rendered    float64
}

// step runs one primitive invocation and tags any failure with its stage.
// Cancellation is reported as such, not as an engine failure.
func (r *planRun) step(stage string, fn func() error) error {
	if err := fn(); err != nil {
		if r.ctx.Err() != nil {
			return fmt.Errorf("execution cancelled at stage %s: %w", stage, r.ctx.Err())
		}
		return &EngineError{Stage: stage, Err: err}
	}
	return nil
}

// prepare applies the plan-wide scale and speed change once, so every
// segment trim afterwards operates on the speed-adjusted clip the planner
// reasoned about.
func (r *planRun) prepare(inputPath string, plan loop.ExecutionPlan) (string, error) {
	prepared := inputPath

	if plan.OutputResolution != loop.TierOriginal {
		scaled := filepath.Join(r.workDir, "scaled.mp4")
		w, h := plan.OutputResolution.Dimensions()
		if err := r.step("prepare", func() error {
			return r.o.engine.Scale(r.ctx, prepared, w, h, scaled)
		}); err != nil {
			return "", err
		}
		prepared = scaled
	}

	if plan.OutputSpeed != 1.0 {
		respeed := filepath.Join(r.workDir, "respeed.mp4")
		if err := r.step("prepare", func() error {
			return r.o.engine.TimeScale(r.ctx, prepared, plan.OutputSpeed, respeed)
		}); err != nil {
			return "", err
		}
		prepared = respeed
	}

	return prepared, nil
}

// renderSteps materializes every play and hold step as a segment file,
// folding crossfade joins into their left neighbor as it goes. It returns
// the ordered segment files plus the final trim total, if any.
func (r *planRun) renderSteps(prepared string, steps []loop.PlanStep) ([]string, float64, error) {
	var (
		segments       []string
		finalTrim      float64
		pendingOverlap = -1.0
	)

	emit := func(path string) error {
		if pendingOverlap < 0 {
			segments = append(segments, path)
			return nil
		}
		overlap := pendingOverlap
		pendingOverlap = -1
		left := segments[len(segments)-1]
		r.blendIdx++
		blended := filepath.Join(r.workDir, fmt.Sprintf("blend_%d.mp4", r.blendIdx))
		if err := r.step(fmt.Sprintf("blend-%d", r.blendIdx), func() error {
			return r.o.engine.CrossfadeBlend(r.ctx, left, path, overlap, blended)
		}); err != nil {
			return err
		}
		segments[len(segments)-1] = blended
		r.rendered -= overlap
		return nil
	}

	for i, s := range steps {
		switch s.Kind {
		case loop.StepPlayForward:
			path, err := r.renderForward(prepared, s)
			if err != nil {
				return nil, 0, err
			}
			if r.passPath == "" {
				r.passPath = path
				r.passSeconds = s.EndOffset - s.StartOffset
			}
			r.rendered += s.EndOffset - s.StartOffset
			if err := emit(path); err != nil {
				return nil, 0, err
			}

		case loop.StepPlayReverse:
			path, err := r.renderReverse(prepared, s)
			if err != nil {
				return nil, 0, err
			}
			r.rendered += s.EndOffset - s.StartOffset
			if err := emit(path); err != nil {
				return nil, 0, err
			}

		case loop.StepStaticHold:
			path, err := r.renderHold(prepared, steps, i)
			if err != nil {
				return nil, 0, err
			}
			r.rendered += s.DurationSeconds
			if err := emit(path); err != nil {
				return nil, 0, err
			}

		case loop.StepCrossfadeJoin:
			pendingOverlap = s.OverlapSeconds
			r.overlap = s.OverlapSeconds

		case loop.StepFinalTrim:
			finalTrim = s.DurationSeconds
		}
	}

	return segments, finalTrim, nil
}

// finishExact cuts the assembled chain to the exact target duration. When
// the chain was joined with crossfades it is also resealed so the restart
// boundary becomes one more blended seam instead of a hard cut.
func (r *planRun) finishExact(chain string, target float64) (string, error) {
	if r.canSealLoop(target) {
		return r.sealLoop(chain, target)
	}

	trimmed := filepath.Join(r.workDir, "trimmed.mp4")
	if err := r.step("final-trim", func() error {
		return r.o.engine.Trim(r.ctx, chain, 0, target, trimmed)
	}); err != nil {
		return "", err
	}
	return trimmed, nil
}

// canSealLoop reports whether the tail-to-head seam can be built: there must
// be a pass to extend material with, and the target must leave room for the
// blend regions. Very short targets keep the plain trim.
func (r *planRun) canSealLoop(target float64) bool {
	return r.overlap > 0 &&
		r.passPath != "" &&
		r.passSeconds > 2*r.overlap &&
		target > 3*r.overlap
}

// sealLoop rebuilds the chain so its last overlap seconds crossfade back
// into its first overlap seconds. The output is mid plus blend(tail, head):
// it ends on the same frame it starts with, so the restart boundary plays as
// one more crossfade seam. Duration stays exactly target.
func (r *planRun) sealLoop(chain string, target float64) (string, error) {
	xf := r.overlap
	need := target + 2*xf

	// The minimal pass count can land short of the extra seam material;
	// blend in additional passes until the chain covers it.
	for r.rendered < need-1e-6 {
		r.blendIdx++
		extended := filepath.Join(r.workDir, fmt.Sprintf("blend_%d.mp4", r.blendIdx))
		stage := fmt.Sprintf("blend-%d", r.blendIdx)
		from := chain
		if err := r.step(stage, func() error {
			return r.o.engine.CrossfadeBlend(r.ctx, from, r.passPath, xf, extended)
		}); err != nil {
			return "", err
		}
		chain = extended
		r.rendered += r.passSeconds - xf
	}

	var (
		base = filepath.Join(r.workDir, "seam_base.mp4")
		head = filepath.Join(r.workDir, "seam_head.mp4")
		mid  = filepath.Join(r.workDir, "seam_mid.mp4")
		tail = filepath.Join(r.workDir, "seam_tail.mp4")
		seam = filepath.Join(r.workDir, "seam_blend.mp4")
		out  = filepath.Join(r.workDir, "sealed.mp4")
	)
	err := r.step("loop-seam", func() error {
		if err := r.o.engine.Trim(r.ctx, chain, 0, need, base); err != nil {
			return err
		}
		if err := r.o.engine.Trim(r.ctx, base, 0, xf, head); err != nil {
			return err
		}
		if err := r.o.engine.Trim(r.ctx, base, xf, target, mid); err != nil {
			return err
		}
		if err := r.o.engine.Trim(r.ctx, base, target, target+xf, tail); err != nil {
			return err
		}
		if err := r.o.engine.CrossfadeBlend(r.ctx, tail, head, xf, seam); err != nil {
			return err
		}
		return r.o.engine.Concat(r.ctx, []string{mid, seam}, out)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// renderForward maps a forward play step to one trim call.
func (r *planRun) renderForward(prepared string, s loop.PlanStep) (string, error) {
	r.segIdx++
	out := filepath.Join(r.workDir, fmt.Sprintf("seg_%d.mp4", r.segIdx))
	err := r.step(fmt.Sprintf("segment-%d", r.segIdx), func() error {
		return r.o.engine.Trim(r.ctx, prepared, s.StartOffset, s.EndOffset, out)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// renderReverse maps a reverse play step to two calls: trim the range, then
// time-scale by -1 to flip playback direction.
func (r *planRun) renderReverse(prepared string, s loop.PlanStep) (string, error) {
	r.segIdx++
	stage := fmt.Sprintf("segment-%d", r.segIdx)
	forward := filepath.Join(r.workDir, fmt.Sprintf("seg_%d_fwd.mp4", r.segIdx))
	out := filepath.Join(r.workDir, fmt.Sprintf("seg_%d.mp4", r.segIdx))

	err := r.step(stage, func() error {
		if err := r.o.engine.Trim(r.ctx, prepared, s.StartOffset, s.EndOffset, forward); err != nil {
			return err
		}
		return r.o.engine.TimeScale(r.ctx, forward, -1, out)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// renderHold freezes the boundary frame next to the hold: trim a single
// frame, then stretch it to the hold duration.
func (r *planRun) renderHold(prepared string, steps []loop.PlanStep, i int) (string, error) {
	r.segIdx++
	stage := fmt.Sprintf("segment-%d", r.segIdx)
	frameStart, frameEnd := holdAnchor(steps, i, r.frameDur)
	frame := filepath.Join(r.workDir, fmt.Sprintf("seg_%d_frame.mp4", r.segIdx))
	out := filepath.Join(r.workDir, fmt.Sprintf("seg_%d.mp4", r.segIdx))

	hold := steps[i].DurationSeconds
	err := r.step(stage, func() error {
		if err := r.o.engine.Trim(r.ctx, prepared, frameStart, frameEnd, frame); err != nil {
			return err
		}
		return r.o.engine.TimeScale(r.ctx, frame, r.frameDur/hold, out)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// holdAnchor picks the single frame a static hold freezes: the first
// displayed frame of the following play step for a start hold, the last
// displayed frame of the preceding play step for an end hold. A reverse
// segment displays its EndOffset first and its StartOffset last. Degenerate
// pause-only plans freeze the clip's first frame.
func holdAnchor(steps []loop.PlanStep, i int, frameDur float64) (float64, float64) {
	if steps[i].Boundary == loop.BoundaryStart {
		for _, s := range steps[i+1:] {
			switch s.Kind {
			case loop.StepPlayForward:
				return s.StartOffset, s.StartOffset + frameDur
			case loop.StepPlayReverse:
				return clampFrame(s.EndOffset-frameDur, frameDur)
			}
		}
	} else {
		for j := i - 1; j >= 0; j-- {
			switch steps[j].Kind {
			case loop.StepPlayForward:
				return clampFrame(steps[j].EndOffset-frameDur, frameDur)
			case loop.StepPlayReverse:
				return steps[j].StartOffset, steps[j].StartOffset + frameDur
			}
		}
	}
	return 0, frameDur
}

func clampFrame(start, frameDur float64) (float64, float64) {
	if start < 0 {
		start = 0
	}
	return start, start + frameDur
}

// frameDuration is the length of one output frame after the speed change;
// the fps restamp in the speed primitive keeps it exact.
func frameDuration(source media.SourceMedia, speed float64) float64 {
	fps := source.FrameRate
	if fps <= 0 {
		fps = 30
	}
	if speed > 0 && speed != 1.0 {
		fps = fps * speed
	}
	if fps < 1 {
		fps = 1
	}
	return 1 / fps
}
