// Package engine abstracts the external transcoding tool behind a small
// fixed set of primitives so the orchestrator can be tested against a fake
// implementation without spawning processes.
package engine

import "context"

// Engine is the capability surface of the external transcoding tool. Every
// primitive takes explicit paths and time offsets, writes exactly one output
// file, and returns an error carrying the tool's diagnostic text on failure.
type Engine interface {
	// Trim re-encodes the range [start, end) of the input, in seconds.
	Trim(ctx context.Context, in string, start, end float64, out string) error

	// Scale resizes the video stream. Either width or height may be -2 to
	// preserve aspect ratio on even pixel boundaries.
	Scale(ctx context.Context, in string, width, height int, out string) error

	// Concat joins the inputs back to back without re-encoding.
	Concat(ctx context.Context, inputs []string, out string) error

	// CrossfadeBlend fades the tail of a into the head of b over
	// overlapSeconds, so the result is shorter than the two inputs combined
	// by exactly the overlap.
	CrossfadeBlend(ctx context.Context, a, b string, overlapSeconds float64, out string) error

	// TimeScale changes playback speed by the given factor: 2 halves the
	// duration, 0.5 doubles it. A negative factor additionally reverses
	// playback, so -1 is the clip played backwards at normal speed.
	TimeScale(ctx context.Context, in string, factor float64, out string) error

	// Mux rewraps the input into the given container without re-encoding.
	Mux(ctx context.Context, in, out, container string) error
}
