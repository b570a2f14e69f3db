package loop

import (
	"errors"
	"fmt"

	"github.com/loopgen/loopgen-api/internal/media"
)

// Clamp ranges for user-supplied options.
const (
	MinTargetSeconds = 5
	MaxTargetSeconds = 3600

	MinCrossfadeSeconds = 0.1
	MaxCrossfadeSeconds = 5.0

	MaxPauseSeconds = 10.0

	// crossfadeMargin keeps a clamped crossfade strictly below half the
	// effective clip so a two-cycle plan stays constructible.
	crossfadeMargin = 0.05
)

// ErrResourceLimit is returned when the would-be output exceeds the
// configured size cap even after the policy downgrade.
var ErrResourceLimit = errors.New("requested output exceeds the configured size limit")

// RequestParams carries the raw, untrusted loop options exactly as received
// at the request boundary. All fields are optional; the resolver defaults
// and clamps them per field instead of rejecting the request.
type RequestParams struct {
	// Mode is the looping strategy name ("simple", "pingpong", "crossfade").
	Mode string
	// TargetDurationSeconds is the requested output length.
	TargetDurationSeconds int
	// CrossfadeSeconds is the blend overlap, meaningful only for crossfade.
	CrossfadeSeconds float64
	// StartPauseSeconds freezes the first frame, simple/pingpong only.
	StartPauseSeconds float64
	// EndPauseSeconds freezes the last frame, simple/pingpong only.
	EndPauseSeconds float64
	// Resolution is the requested output tier name.
	Resolution string
	// Speed is the playback speed as sent by the client (string or number
	// on the wire, kept as a string here).
	Speed string
}

// ResolvedParams is the sanitized form of RequestParams: every field is
// within its clamped range, the resolution tier has been through the safety
// policy, and the effective clip duration is derived.
type ResolvedParams struct {
	Mode                  Mode
	TargetDurationSeconds float64
	CrossfadeSeconds      float64
	StartPauseSeconds     float64
	EndPauseSeconds       float64
	Resolution            Tier
	Speed                 float64

	// EffectiveClipSeconds is the source duration divided by Speed; all
	// planning math runs against this value.
	EffectiveClipSeconds float64

	// Downgraded is set when the safety policy lowered the resolution below
	// what the client asked for. Reported to the caller, never an error.
	Downgraded bool
}

// ResolutionPolicy maps (mode, source class) to the highest output tier the
// resolver may hand to the planner. It is plain configuration: construct a
// different table in tests to exercise the resolver without 4K fixtures.
type ResolutionPolicy map[Mode]map[SourceClass]Tier

// DefaultResolutionPolicy returns the production cap table. Crossfade holds
// several decoded frames per blended seam, so its caps are the tightest;
// larger source classes never map to a higher tier than smaller ones.
func DefaultResolutionPolicy() ResolutionPolicy {
	return ResolutionPolicy{
		ModeSimple: {
			ClassSD:  TierOriginal,
			ClassHD:  Tier1080,
			ClassUHD: Tier1080,
		},
		ModePingPong: {
			ClassSD:  TierOriginal,
			ClassHD:  Tier1080,
			ClassUHD: Tier1080,
		},
		ModeCrossfade: {
			ClassSD:  Tier720,
			ClassHD:  Tier480,
			ClassUHD: Tier480,
		},
	}
}

// maxTier looks up the cap for a mode and source class. Missing entries
// mean "no cap".
func (p ResolutionPolicy) maxTier(mode Mode, class SourceClass) Tier {
	caps, ok := p[mode]
	if !ok {
		return TierOriginal
	}
	tier, ok := caps[class]
	if !ok {
		return TierOriginal
	}
	return tier
}

// Resolver sanitizes raw request parameters against a resolution policy.
type Resolver struct {
	policy ResolutionPolicy
}

// NewResolver creates a Resolver with the given policy table. A nil policy
// uses the default production table.
func NewResolver(policy ResolutionPolicy) *Resolver {
	if policy == nil {
		policy = DefaultResolutionPolicy()
	}
	return &Resolver{policy: policy}
}

// Resolve is a total function: it never fails on bad input. Unknown mode,
// resolution and speed fall back to their defaults, numeric fields are
// clamped into range, the resolution is capped by the safety policy, and
// the crossfade overlap is clamped below half the effective clip.
func (r *Resolver) Resolve(raw RequestParams, source media.SourceMedia) ResolvedParams {
	p := ResolvedParams{
		Mode:                  ParseMode(raw.Mode),
		TargetDurationSeconds: clamp(float64(raw.TargetDurationSeconds), MinTargetSeconds, MaxTargetSeconds),
		CrossfadeSeconds:      clamp(raw.CrossfadeSeconds, MinCrossfadeSeconds, MaxCrossfadeSeconds),
		StartPauseSeconds:     clamp(raw.StartPauseSeconds, 0, MaxPauseSeconds),
		EndPauseSeconds:       clamp(raw.EndPauseSeconds, 0, MaxPauseSeconds),
		Speed:                 ParseSpeed(raw.Speed),
	}

	if p.Speed > 0 {
		p.EffectiveClipSeconds = source.DurationSeconds / p.Speed
	}

	// Crossfade must stay below half the effective clip or no cycle can be
	// built. When the clip is too short even for the minimum overlap the
	// value stays at the floor and the planner rejects the request.
	if p.Mode == ModeCrossfade && p.EffectiveClipSeconds > 0 {
		half := p.EffectiveClipSeconds / 2
		if p.CrossfadeSeconds >= half {
			clamped := half - crossfadeMargin
			if clamped < MinCrossfadeSeconds {
				clamped = MinCrossfadeSeconds
			}
			p.CrossfadeSeconds = clamped
		}
	}

	p.Resolution, p.Downgraded = r.resolveTier(p.Mode, ParseTier(raw.Resolution), source)

	return p
}

// resolveTier applies the safety policy: the output tier is the lower of
// the requested tier and the policy cap for this mode and source class.
func (r *Resolver) resolveTier(mode Mode, requested Tier, source media.SourceMedia) (Tier, bool) {
	class := ClassifySource(source.Width, source.Height)
	max := r.policy.maxTier(mode, class)
	if max == TierOriginal {
		return requested, false
	}

	// TierOriginal means "whatever the source is", so compare against the
	// actual source height.
	requestedHeight := requested.Height()
	if requested == TierOriginal {
		requestedHeight = source.Height
	}
	if requestedHeight > max.Height() {
		return max, true
	}
	return requested, false
}

// tierBitrateMbps is a rough per-tier output bitrate used only for the
// size guardrail, not for encoding.
var tierBitrateMbps = map[Tier]float64{
	Tier480:  2,
	Tier720:  4,
	Tier1080: 8,
	Tier4K:   24,
}

// CheckOutputBudget estimates the final artifact size from the target
// duration and the already-capped output tier, and returns ErrResourceLimit
// when it exceeds maxOutputMB. TierOriginal is estimated from the source
// class. A non-positive limit disables the check.
func CheckOutputBudget(p ResolvedParams, source media.SourceMedia, maxOutputMB int) error {
	if maxOutputMB <= 0 {
		return nil
	}

	tier := p.Resolution
	if tier == TierOriginal {
		switch ClassifySource(source.Width, source.Height) {
		case ClassSD:
			tier = Tier720
		case ClassHD:
			tier = Tier1080
		default:
			tier = Tier4K
		}
	}

	estimatedMB := p.TargetDurationSeconds * tierBitrateMbps[tier] / 8
	if estimatedMB > float64(maxOutputMB) {
		return fmt.Errorf("%w: estimated %.0f MB, limit %d MB", ErrResourceLimit, estimatedMB, maxOutputMB)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
