package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopgen/loopgen-api/internal/media"
)

func source(duration float64) media.SourceMedia {
	return media.SourceMedia{DurationSeconds: duration, Width: 1280, Height: 720, FrameRate: 30}
}

func resolved(mode Mode, target float64, duration float64) ResolvedParams {
	return ResolvedParams{
		Mode:                  mode,
		TargetDurationSeconds: target,
		Resolution:            TierOriginal,
		Speed:                 1.0,
		EffectiveClipSeconds:  duration,
	}
}

// kinds extracts the step kind sequence for compact assertions.
func kinds(steps []PlanStep) []StepKind {
	out := make([]StepKind, len(steps))
	for i, s := range steps {
		out[i] = s.Kind
	}
	return out
}

func TestPlan_SimpleFullAndPartial(t *testing.T) {
	// 10s clip into 25s: two full passes plus a 5s tail.
	plan, err := Plan(source(10), resolved(ModeSimple, 25, 10))
	require.NoError(t, err)

	require.Equal(t, []StepKind{StepPlayForward, StepPlayForward, StepPlayForward}, kinds(plan.Steps))
	assert.Equal(t, 10.0, plan.Steps[0].EndOffset)
	assert.Equal(t, 10.0, plan.Steps[1].EndOffset)
	assert.Equal(t, 5.0, plan.Steps[2].EndOffset)
	assert.InDelta(t, 25.0, plan.NominalSeconds(), 1e-9)
}

func TestPlan_SimpleExactMultiple(t *testing.T) {
	// 10s clip into 30s: three full passes, no tail.
	plan, err := Plan(source(10), resolved(ModeSimple, 30, 10))
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	for _, s := range plan.Steps {
		assert.Equal(t, StepPlayForward, s.Kind)
		assert.Equal(t, 10.0, s.EndOffset)
	}
	assert.InDelta(t, 30.0, plan.NominalSeconds(), 1e-9)
}

func TestPlan_SimpleClipLongerThanTarget(t *testing.T) {
	// A clip longer than the target is just cut down.
	plan, err := Plan(source(60), resolved(ModeSimple, 30, 60))
	require.NoError(t, err)

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, StepPlayForward, plan.Steps[0].Kind)
	assert.Equal(t, 30.0, plan.Steps[0].EndOffset)
}

func TestPlan_SimpleWithPauses(t *testing.T) {
	params := resolved(ModeSimple, 30, 10)
	params.StartPauseSeconds = 2
	params.EndPauseSeconds = 3

	plan, err := Plan(source(10), params)
	require.NoError(t, err)

	steps := plan.Steps
	require.GreaterOrEqual(t, len(steps), 3)
	assert.Equal(t, StepStaticHold, steps[0].Kind)
	assert.Equal(t, BoundaryStart, steps[0].Boundary)
	assert.Equal(t, 2.0, steps[0].DurationSeconds)

	last := steps[len(steps)-1]
	assert.Equal(t, StepStaticHold, last.Kind)
	assert.Equal(t, BoundaryEnd, last.Boundary)
	assert.Equal(t, 3.0, last.DurationSeconds)

	// Motion budget is 25s: two full passes plus a 5s tail.
	assert.InDelta(t, 30.0, plan.NominalSeconds(), 1e-9)
}

func TestPlan_PausesConsumeWholeTarget(t *testing.T) {
	// Pauses capped at 10s each can swallow a minimum-length target. The
	// plan degenerates to holds summing exactly to the target.
	params := resolved(ModeSimple, 5, 10)
	params.StartPauseSeconds = 10
	params.EndPauseSeconds = 10

	plan, err := Plan(source(10), params)
	require.NoError(t, err)

	for _, s := range plan.Steps {
		assert.Equal(t, StepStaticHold, s.Kind)
	}
	assert.InDelta(t, 5.0, plan.NominalSeconds(), 1e-9)
}

func TestPlan_PingPongCycles(t *testing.T) {
	// 8s clip into 20s: one full 16s cycle plus a 4s forward tail.
	plan, err := Plan(source(8), resolved(ModePingPong, 20, 8))
	require.NoError(t, err)

	require.Equal(t, []StepKind{StepPlayForward, StepPlayReverse, StepPlayForward}, kinds(plan.Steps))
	assert.Equal(t, 8.0, plan.Steps[0].EndOffset)
	assert.Equal(t, 8.0, plan.Steps[1].EndOffset)
	assert.Equal(t, 4.0, plan.Steps[2].EndOffset)
	assert.InDelta(t, 20.0, plan.NominalSeconds(), 1e-9)
}

func TestPlan_PingPongAlternation(t *testing.T) {
	// Full cycles strictly alternate forward and reverse.
	plan, err := Plan(source(5), resolved(ModePingPong, 40, 5))
	require.NoError(t, err)

	require.Len(t, plan.Steps, 8)
	for i, s := range plan.Steps {
		if i%2 == 0 {
			assert.Equal(t, StepPlayForward, s.Kind, "step %d", i)
		} else {
			assert.Equal(t, StepPlayReverse, s.Kind, "step %d", i)
		}
	}
	assert.InDelta(t, 40.0, plan.NominalSeconds(), 1e-9)
}

func TestPlan_PingPongPartialReverse(t *testing.T) {
	// 8s clip into 28s: one full cycle (16s), then a full forward pass
	// (8s) and a reverse pass covering the last 4s of the clip.
	plan, err := Plan(source(8), resolved(ModePingPong, 28, 8))
	require.NoError(t, err)

	require.Equal(t, []StepKind{
		StepPlayForward, StepPlayReverse, StepPlayForward, StepPlayReverse,
	}, kinds(plan.Steps))

	partial := plan.Steps[3]
	assert.Equal(t, 4.0, partial.StartOffset)
	assert.Equal(t, 8.0, partial.EndOffset)
	assert.InDelta(t, 28.0, plan.NominalSeconds(), 1e-9)
}

func TestPlan_CrossfadeMinimalPasses(t *testing.T) {
	// 6s clip, 1s overlap, 20s target: each extra pass gains 5s, so
	// 6 + (n-1)*5 >= 20 needs n = 4.
	params := resolved(ModeCrossfade, 20, 6)
	params.CrossfadeSeconds = 1

	plan, err := Plan(source(6), params)
	require.NoError(t, err)

	var plays, joins, trims int
	for _, s := range plan.Steps {
		switch s.Kind {
		case StepPlayForward:
			plays++
		case StepCrossfadeJoin:
			joins++
			assert.Equal(t, 1.0, s.OverlapSeconds)
		case StepFinalTrim:
			trims++
			assert.Equal(t, 20.0, s.DurationSeconds)
		}
	}
	assert.Equal(t, 4, plays)
	assert.Equal(t, 3, joins)
	assert.Equal(t, 1, trims)

	// The assembled chain is 21s; the trim cuts the overshoot.
	assert.InDelta(t, 21.0, plan.NominalSeconds(), 1e-9)
	assert.Equal(t, StepFinalTrim, plan.Steps[len(plan.Steps)-1].Kind)
}

func TestPlan_CrossfadeAtLeastTwoPasses(t *testing.T) {
	// Even when one pass would cover the target, a loop needs a seam.
	params := resolved(ModeCrossfade, 5, 30)
	params.CrossfadeSeconds = 2

	plan, err := Plan(source(30), params)
	require.NoError(t, err)

	var plays int
	for _, s := range plan.Steps {
		if s.Kind == StepPlayForward {
			plays++
		}
	}
	assert.Equal(t, 2, plays)
}

func TestPlan_CrossfadeInsufficientSource(t *testing.T) {
	// Overlap of 1s needs the clip to outlast 2s.
	params := resolved(ModeCrossfade, 20, 1.5)
	params.CrossfadeSeconds = 1

	_, err := Plan(source(1.5), params)
	assert.ErrorIs(t, err, ErrInsufficientSource)
}

func TestPlan_ZeroEffectiveClip(t *testing.T) {
	_, err := Plan(source(0), resolved(ModeSimple, 30, 0))
	assert.ErrorIs(t, err, ErrInsufficientSource)
}

func TestPlan_TargetBoundaries(t *testing.T) {
	for _, target := range []float64{MinTargetSeconds, MaxTargetSeconds} {
		plan, err := Plan(source(10), resolved(ModeSimple, target, 10))
		require.NoError(t, err)
		assert.InDelta(t, target, plan.NominalSeconds(), 1e-6)
	}
}

func TestPlan_Deterministic(t *testing.T) {
	params := resolved(ModePingPong, 28, 8)
	a, err := Plan(source(8), params)
	require.NoError(t, err)
	b, err := Plan(source(8), params)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestPlan_CarriesOutputSettings(t *testing.T) {
	params := resolved(ModeSimple, 30, 5)
	params.Resolution = Tier720
	params.Speed = 2.0

	plan, err := Plan(source(10), params)
	require.NoError(t, err)

	assert.Equal(t, ModeSimple, plan.Mode)
	assert.Equal(t, Tier720, plan.OutputResolution)
	assert.Equal(t, 2.0, plan.OutputSpeed)
}
