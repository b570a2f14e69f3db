package loop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopgen/loopgen-api/internal/media"
)

func hdSource() media.SourceMedia {
	return media.SourceMedia{DurationSeconds: 10, Width: 1920, Height: 1080, FrameRate: 30}
}

func sdSource() media.SourceMedia {
	return media.SourceMedia{DurationSeconds: 10, Width: 1280, Height: 720, FrameRate: 30}
}

func uhdSource() media.SourceMedia {
	return media.SourceMedia{DurationSeconds: 10, Width: 3840, Height: 2160, FrameRate: 30}
}

func TestResolve_Defaults(t *testing.T) {
	r := NewResolver(nil)

	p := r.Resolve(RequestParams{TargetDurationSeconds: 30}, sdSource())

	assert.Equal(t, ModeSimple, p.Mode)
	assert.Equal(t, 30.0, p.TargetDurationSeconds)
	assert.Equal(t, 1.0, p.Speed)
	assert.Equal(t, TierOriginal, p.Resolution)
	assert.Equal(t, 0.0, p.StartPauseSeconds)
	assert.Equal(t, 0.0, p.EndPauseSeconds)
	assert.Equal(t, 10.0, p.EffectiveClipSeconds)
	assert.False(t, p.Downgraded)
}

func TestResolve_ClampsNumericFields(t *testing.T) {
	r := NewResolver(nil)

	tests := []struct {
		name   string
		raw    RequestParams
		source media.SourceMedia
		want   func(t *testing.T, p ResolvedParams)
	}{
		{
			name: "target below minimum",
			raw:  RequestParams{TargetDurationSeconds: 1},
			want: func(t *testing.T, p ResolvedParams) {
				assert.Equal(t, float64(MinTargetSeconds), p.TargetDurationSeconds)
			},
		},
		{
			name: "target above maximum",
			raw:  RequestParams{TargetDurationSeconds: 999999},
			want: func(t *testing.T, p ResolvedParams) {
				assert.Equal(t, float64(MaxTargetSeconds), p.TargetDurationSeconds)
			},
		},
		{
			name: "negative pauses",
			raw:  RequestParams{TargetDurationSeconds: 30, StartPauseSeconds: -2, EndPauseSeconds: -7},
			want: func(t *testing.T, p ResolvedParams) {
				assert.Equal(t, 0.0, p.StartPauseSeconds)
				assert.Equal(t, 0.0, p.EndPauseSeconds)
			},
		},
		{
			name: "oversized pauses",
			raw:  RequestParams{TargetDurationSeconds: 30, StartPauseSeconds: 99, EndPauseSeconds: 42},
			want: func(t *testing.T, p ResolvedParams) {
				assert.Equal(t, MaxPauseSeconds, p.StartPauseSeconds)
				assert.Equal(t, MaxPauseSeconds, p.EndPauseSeconds)
			},
		},
		{
			name: "crossfade above maximum",
			raw:  RequestParams{TargetDurationSeconds: 30, Mode: "crossfade", CrossfadeSeconds: 60},
			// Long enough that the range clamp binds, not the half-clip rule.
			source: media.SourceMedia{DurationSeconds: 30, Width: 1280, Height: 720, FrameRate: 30},
			want: func(t *testing.T, p ResolvedParams) {
				assert.Equal(t, MaxCrossfadeSeconds, p.CrossfadeSeconds)
			},
		},
		{
			name: "unknown mode falls back to simple",
			raw:  RequestParams{TargetDurationSeconds: 30, Mode: "zigzag"},
			want: func(t *testing.T, p ResolvedParams) {
				assert.Equal(t, ModeSimple, p.Mode)
			},
		},
		{
			name: "unsupported speed falls back to 1.0",
			raw:  RequestParams{TargetDurationSeconds: 30, Speed: "3.5"},
			want: func(t *testing.T, p ResolvedParams) {
				assert.Equal(t, 1.0, p.Speed)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := tt.source
			if source == (media.SourceMedia{}) {
				source = sdSource()
			}
			tt.want(t, r.Resolve(tt.raw, source))
		})
	}
}

func TestResolve_SpeedScalesEffectiveClip(t *testing.T) {
	r := NewResolver(nil)

	fast := r.Resolve(RequestParams{TargetDurationSeconds: 30, Speed: "2.0"}, sdSource())
	assert.Equal(t, 2.0, fast.Speed)
	assert.Equal(t, 5.0, fast.EffectiveClipSeconds)

	slow := r.Resolve(RequestParams{TargetDurationSeconds: 30, Speed: "0.5"}, sdSource())
	assert.Equal(t, 0.5, slow.Speed)
	assert.Equal(t, 20.0, slow.EffectiveClipSeconds)
}

func TestResolve_CrossfadeClampedBelowHalfClip(t *testing.T) {
	r := NewResolver(nil)
	// 4s clip: overlap must stay strictly below 2s.
	source := media.SourceMedia{DurationSeconds: 4, Width: 1280, Height: 720, FrameRate: 30}

	p := r.Resolve(RequestParams{
		TargetDurationSeconds: 30,
		Mode:                  "crossfade",
		CrossfadeSeconds:      3,
	}, source)

	assert.Less(t, p.CrossfadeSeconds, 2.0)
	assert.GreaterOrEqual(t, p.CrossfadeSeconds, MinCrossfadeSeconds)

	// On a 10s clip the half-clip rule overrides the range maximum too.
	p = r.Resolve(RequestParams{
		TargetDurationSeconds: 30,
		Mode:                  "crossfade",
		CrossfadeSeconds:      60,
	}, sdSource())
	assert.InDelta(t, 4.95, p.CrossfadeSeconds, 1e-9)
}

func TestResolve_CrossfadeFloorKeptForTinyClips(t *testing.T) {
	r := NewResolver(nil)
	// Clip so short even the minimum overlap cannot fit below half of it.
	// The value stays at the floor so the planner rejects the request.
	source := media.SourceMedia{DurationSeconds: 0.15, Width: 1280, Height: 720, FrameRate: 30}

	p := r.Resolve(RequestParams{
		TargetDurationSeconds: 30,
		Mode:                  "crossfade",
		CrossfadeSeconds:      1,
	}, source)

	assert.Equal(t, MinCrossfadeSeconds, p.CrossfadeSeconds)
	_, err := Plan(source, p)
	assert.ErrorIs(t, err, ErrInsufficientSource)
}

func TestResolve_ResolutionPolicy(t *testing.T) {
	r := NewResolver(nil)

	tests := []struct {
		name           string
		mode           string
		source         media.SourceMedia
		requested      string
		wantTier       Tier
		wantDowngraded bool
	}{
		{"simple SD keeps original", "simple", sdSource(), "", TierOriginal, false},
		{"simple SD keeps 4K request", "simple", sdSource(), "4K", Tier4K, false},
		{"simple HD capped at 1080p", "simple", hdSource(), "4K", Tier1080, true},
		{"simple UHD original capped at 1080p", "simple", uhdSource(), "", Tier1080, true},
		{"pingpong HD capped at 1080p", "pingpong", hdSource(), "4K", Tier1080, true},
		{"pingpong HD 720p request kept", "pingpong", hdSource(), "720p", Tier720, false},
		{"crossfade SD capped at 720p", "crossfade", sdSource(), "1080p", Tier720, true},
		{"crossfade SD 720p request kept", "crossfade", sdSource(), "720p", Tier720, false},
		{"crossfade HD forced to 480p", "crossfade", hdSource(), "", Tier480, true},
		{"crossfade UHD forced to 480p", "crossfade", uhdSource(), "4K", Tier480, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.Resolve(RequestParams{
				TargetDurationSeconds: 30,
				Mode:                  tt.mode,
				Resolution:            tt.requested,
			}, tt.source)

			assert.Equal(t, tt.wantTier, p.Resolution)
			assert.Equal(t, tt.wantDowngraded, p.Downgraded)
		})
	}
}

func TestResolve_CustomPolicy(t *testing.T) {
	policy := ResolutionPolicy{
		ModeSimple: {ClassSD: Tier480},
	}
	r := NewResolver(policy)

	p := r.Resolve(RequestParams{TargetDurationSeconds: 30, Resolution: "1080p"}, sdSource())

	assert.Equal(t, Tier480, p.Resolution)
	assert.True(t, p.Downgraded)
}

func TestCheckOutputBudget(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		p := ResolvedParams{TargetDurationSeconds: 30, Resolution: Tier720}
		require.NoError(t, CheckOutputBudget(p, sdSource(), 100))
	})

	t.Run("over limit", func(t *testing.T) {
		p := ResolvedParams{TargetDurationSeconds: 3600, Resolution: Tier4K}
		err := CheckOutputBudget(p, uhdSource(), 1000)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrResourceLimit))
	})

	t.Run("original tier estimated from source class", func(t *testing.T) {
		p := ResolvedParams{TargetDurationSeconds: 3600, Resolution: TierOriginal}
		err := CheckOutputBudget(p, uhdSource(), 1000)
		require.Error(t, err)
	})

	t.Run("disabled when limit is zero", func(t *testing.T) {
		p := ResolvedParams{TargetDurationSeconds: 3600, Resolution: Tier4K}
		require.NoError(t, CheckOutputBudget(p, uhdSource(), 0))
	})
}

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"0.5", 0.5},
		{"1.0", 1.0},
		{"1", 1.0},
		{"2.0", 2.0},
		{"2", 2.0},
		{"", 1.0},
		{"abc", 1.0},
		{"1.5", 1.0},
		{"-2", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseSpeed(tt.input))
		})
	}
}

func TestClassifySource(t *testing.T) {
	tests := []struct {
		name     string
		width    int
		height   int
		expected SourceClass
	}{
		{"720p is SD", 1280, 720, ClassSD},
		{"vertical 720p is SD", 720, 1280, ClassSD},
		{"1080p is HD", 1920, 1080, ClassHD},
		{"1440p is UHD", 2560, 1440, ClassUHD},
		{"4K is UHD", 3840, 2160, ClassUHD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifySource(tt.width, tt.height))
		})
	}
}
