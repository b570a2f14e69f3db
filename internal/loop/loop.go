// Package loop contains the domain core of the loop generator: the
// parameter resolver that sanitizes untrusted request options, and the
// composition planner that turns clip metadata plus resolved options into a
// deterministic execution plan. Nothing in this package touches the
// filesystem or spawns processes.
package loop

import "strconv"

// Mode selects the looping strategy.
type Mode string

const (
	// ModeSimple repeats the clip forward until the target duration is reached.
	ModeSimple Mode = "simple"
	// ModePingPong alternates forward and reverse passes.
	ModePingPong Mode = "pingpong"
	// ModeCrossfade blends the tail of each cycle into the head of the next.
	ModeCrossfade Mode = "crossfade"
)

// ParseMode normalizes a raw mode string. Unknown or empty values fall back
// to ModeSimple rather than erroring; malformed client input must not abort
// an otherwise valid request.
func ParseMode(raw string) Mode {
	switch Mode(raw) {
	case ModeSimple, ModePingPong, ModeCrossfade:
		return Mode(raw)
	default:
		return ModeSimple
	}
}

// Tier is a discrete output resolution class. TierOriginal keeps the source
// resolution; Tier480 is internal-only, used by the safety policy as a
// memory cap for crossfade rendering, and is not offered to clients.
type Tier string

const (
	TierOriginal Tier = "Original"
	Tier480      Tier = "480p"
	Tier720      Tier = "720p"
	Tier1080     Tier = "1080p"
	Tier4K       Tier = "4K"
)

// ParseTier normalizes a raw resolution string. Unknown or empty values fall
// back to TierOriginal. Tier480 is not accepted from clients.
func ParseTier(raw string) Tier {
	switch Tier(raw) {
	case TierOriginal, Tier720, Tier1080, Tier4K:
		return Tier(raw)
	default:
		return TierOriginal
	}
}

// Height returns the target frame height in pixels, or 0 for TierOriginal.
func (t Tier) Height() int {
	switch t {
	case Tier480:
		return 480
	case Tier720:
		return 720
	case Tier1080:
		return 1080
	case Tier4K:
		return 2160
	default:
		return 0
	}
}

// Dimensions returns the (width, height) pair to pass to the engine's scale
// primitive. One side is -2 so the encoder keeps the aspect ratio on even
// pixel boundaries. The 480p cap scales by width (854px, 16:9) because that
// is the bound that matters for crossfade memory use.
func (t Tier) Dimensions() (int, int) {
	if t == Tier480 {
		return 854, -2
	}
	return -2, t.Height()
}

// ParseSpeed normalizes a raw playback speed. Only 0.5, 1.0 and 2.0 are
// allowed; anything else, including unparseable input, falls back to 1.0.
func ParseSpeed(raw string) float64 {
	s, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1.0
	}
	switch s {
	case 0.5, 1.0, 2.0:
		return s
	default:
		return 1.0
	}
}

// SourceClass buckets a source clip by pixel count for the resolution
// safety policy.
type SourceClass string

const (
	// ClassSD covers sources up to 1280x720 pixels.
	ClassSD SourceClass = "sd"
	// ClassHD covers sources up to 1920x1080 pixels.
	ClassHD SourceClass = "hd"
	// ClassUHD covers anything larger, 4K included.
	ClassUHD SourceClass = "uhd"
)

// ClassifySource buckets a source resolution. Unknown dimensions (probe
// returned zero) classify as SD so the policy never blocks small inputs.
func ClassifySource(width, height int) SourceClass {
	pixels := width * height
	switch {
	case pixels <= 1280*720:
		return ClassSD
	case pixels <= 1920*1080:
		return ClassHD
	default:
		return ClassUHD
	}
}
