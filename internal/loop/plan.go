package loop

import (
	"errors"
	"math"

	"github.com/loopgen/loopgen-api/internal/media"
)

// ErrInsufficientSource is returned when the effective clip duration is too
// small to construct even one valid cycle for the chosen mode.
var ErrInsufficientSource = errors.New("source clip too short for the requested loop")

// planEpsilon absorbs float rounding when deciding whether a remainder
// segment is worth emitting.
const planEpsilon = 1e-6

// StepKind identifies a primitive operation in an execution plan.
type StepKind string

const (
	// StepStaticHold freezes a boundary frame for a fixed duration.
	StepStaticHold StepKind = "static-hold"
	// StepPlayForward plays a clip range forward.
	StepPlayForward StepKind = "play-forward"
	// StepPlayReverse plays a clip range backwards.
	StepPlayReverse StepKind = "play-reverse"
	// StepCrossfadeJoin marks that the following segment blends into the
	// previous one over OverlapSeconds.
	StepCrossfadeJoin StepKind = "crossfade-join"
	// StepFinalTrim cuts the assembled output to the exact total duration.
	StepFinalTrim StepKind = "final-trim"
)

// Boundary names which end of the sequence a static hold sits at.
type Boundary string

const (
	BoundaryStart Boundary = "start"
	BoundaryEnd   Boundary = "end"
)

// PlanStep is one primitive operation. It is a tagged variant: Kind selects
// which of the remaining fields are meaningful.
type PlanStep struct {
	Kind StepKind

	// Boundary and DurationSeconds apply to static holds; DurationSeconds
	// also carries the total for a final trim.
	Boundary        Boundary
	DurationSeconds float64

	// StartOffset and EndOffset bound a play segment, in seconds within
	// the speed-adjusted clip. A reverse segment displays EndOffset first
	// and StartOffset last.
	StartOffset float64
	EndOffset   float64

	// OverlapSeconds is the blend window of a crossfade join.
	OverlapSeconds float64
}

// segmentSeconds returns the screen time a play step contributes.
func (s PlanStep) segmentSeconds() float64 {
	return s.EndOffset - s.StartOffset
}

// ExecutionPlan is the ordered list of primitive operations the
// orchestrator executes to produce the final artifact. It is constructed
// once per request and never mutated.
type ExecutionPlan struct {
	Mode             Mode
	OutputResolution Tier
	OutputSpeed      float64
	Steps            []PlanStep
}

// NominalSeconds sums the screen time of all steps, with crossfade overlaps
// subtracting shared time and the final trim ignored. For crossfade plans
// this is at least the target duration; the trim cuts the overshoot.
func (p ExecutionPlan) NominalSeconds() float64 {
	var total float64
	for _, s := range p.Steps {
		switch s.Kind {
		case StepStaticHold:
			total += s.DurationSeconds
		case StepPlayForward, StepPlayReverse:
			total += s.segmentSeconds()
		case StepCrossfadeJoin:
			total -= s.OverlapSeconds
		}
	}
	return total
}

// Plan builds the execution plan for a probed source clip and resolved
// parameters. It is a pure function: identical inputs yield identical
// plans. The only failure is ErrInsufficientSource, returned when the
// effective clip cannot support a single cycle of the chosen mode.
func Plan(source media.SourceMedia, params ResolvedParams) (ExecutionPlan, error) {
	eff := params.EffectiveClipSeconds
	if eff <= 0 {
		return ExecutionPlan{}, ErrInsufficientSource
	}

	var mp modePlanner
	switch params.Mode {
	case ModePingPong:
		mp = pingPongPlanner{}
	case ModeCrossfade:
		mp = crossfadePlanner{}
	default:
		mp = simplePlanner{}
	}

	steps, err := mp.steps(eff, params)
	if err != nil {
		return ExecutionPlan{}, err
	}

	return ExecutionPlan{
		Mode:             params.Mode,
		OutputResolution: params.Resolution,
		OutputSpeed:      params.Speed,
		Steps:            steps,
	}, nil
}

// modePlanner is the per-mode strategy. Each implementation produces the
// step sequence for one looping mode; the duration arithmetic stays
// independently testable.
type modePlanner interface {
	steps(eff float64, params ResolvedParams) ([]PlanStep, error)
}

type simplePlanner struct{}

// steps repeats the clip forward: n full passes plus a partial tail, with
// optional boundary holds. The construction is exact, so no final trim is
// emitted. When the pauses consume the whole target the plan degenerates to
// holds only; that is accepted, not an error.
func (simplePlanner) steps(eff float64, params ResolvedParams) ([]PlanStep, error) {
	budget := loopBudget(params)
	full, tail := splitBudget(budget, eff)

	steps := make([]PlanStep, 0, full+3)
	steps = appendStartHold(steps, params)
	for i := 0; i < full; i++ {
		steps = append(steps, PlanStep{Kind: StepPlayForward, StartOffset: 0, EndOffset: eff})
	}
	if tail > planEpsilon {
		steps = append(steps, PlanStep{Kind: StepPlayForward, StartOffset: 0, EndOffset: tail})
	}
	steps = appendEndHold(steps, params)
	return steps, nil
}

type pingPongPlanner struct{}

// steps builds forward+reverse cycles. The two passes of a cycle do not
// share a boundary frame, so one cycle is exactly twice the effective clip.
// A remainder shorter than one clip becomes a partial forward pass; a
// longer one becomes a full forward pass plus a partial reverse pass that
// walks back from the clip end.
func (pingPongPlanner) steps(eff float64, params ResolvedParams) ([]PlanStep, error) {
	budget := loopBudget(params)
	cycle := 2 * eff
	full, tail := splitBudget(budget, cycle)

	steps := make([]PlanStep, 0, 2*full+4)
	steps = appendStartHold(steps, params)
	for i := 0; i < full; i++ {
		steps = append(steps,
			PlanStep{Kind: StepPlayForward, StartOffset: 0, EndOffset: eff},
			PlanStep{Kind: StepPlayReverse, StartOffset: 0, EndOffset: eff},
		)
	}
	switch {
	case tail <= planEpsilon:
	case tail <= eff+planEpsilon:
		steps = append(steps, PlanStep{Kind: StepPlayForward, StartOffset: 0, EndOffset: math.Min(tail, eff)})
	default:
		back := tail - eff
		steps = append(steps,
			PlanStep{Kind: StepPlayForward, StartOffset: 0, EndOffset: eff},
			PlanStep{Kind: StepPlayReverse, StartOffset: eff - back, EndOffset: eff},
		)
	}
	steps = appendEndHold(steps, params)
	return steps, nil
}

type crossfadePlanner struct{}

// steps picks the smallest n >= 2 with
// eff + (n-1)*(eff-crossfade) >= target, emits n forward passes with a
// crossfade join between each consecutive pair, and trims the integer-cycle
// overshoot to the exact target. Pauses do not apply in this mode.
func (crossfadePlanner) steps(eff float64, params ResolvedParams) ([]PlanStep, error) {
	xf := params.CrossfadeSeconds
	if eff <= 2*xf {
		return nil, ErrInsufficientSource
	}

	target := params.TargetDurationSeconds
	gain := eff - xf
	n := 2
	if target > eff {
		n = 1 + int(math.Ceil((target-eff)/gain-planEpsilon))
		if n < 2 {
			n = 2
		}
	}

	steps := make([]PlanStep, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			steps = append(steps, PlanStep{Kind: StepCrossfadeJoin, OverlapSeconds: xf})
		}
		steps = append(steps, PlanStep{Kind: StepPlayForward, StartOffset: 0, EndOffset: eff})
	}
	steps = append(steps, PlanStep{Kind: StepFinalTrim, DurationSeconds: target})
	return steps, nil
}

// loopBudget is the screen time available for motion after boundary pauses.
// Never negative: oversized pauses degenerate to a pause-only plan.
func loopBudget(params ResolvedParams) float64 {
	b := params.TargetDurationSeconds - params.StartPauseSeconds - params.EndPauseSeconds
	if b < 0 {
		return 0
	}
	return b
}

// splitBudget divides a budget into full cycles of the given length plus a
// remainder.
func splitBudget(budget, cycle float64) (int, float64) {
	if cycle <= 0 || budget <= 0 {
		return 0, 0
	}
	full := int(math.Floor(budget/cycle + planEpsilon))
	tail := budget - float64(full)*cycle
	if tail < planEpsilon {
		tail = 0
	}
	return full, tail
}

func appendStartHold(steps []PlanStep, params ResolvedParams) []PlanStep {
	if params.StartPauseSeconds > 0 {
		steps = append(steps, PlanStep{
			Kind:            StepStaticHold,
			Boundary:        BoundaryStart,
			DurationSeconds: math.Min(params.StartPauseSeconds, params.TargetDurationSeconds),
		})
	}
	return steps
}

func appendEndHold(steps []PlanStep, params ResolvedParams) []PlanStep {
	if params.EndPauseSeconds > 0 {
		remaining := params.TargetDurationSeconds - params.StartPauseSeconds
		if remaining <= 0 {
			return steps
		}
		steps = append(steps, PlanStep{
			Kind:            StepStaticHold,
			Boundary:        BoundaryEnd,
			DurationSeconds: math.Min(params.EndPauseSeconds, remaining),
		})
	}
	return steps
}
