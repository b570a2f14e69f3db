package engine

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/loopgen/loopgen-api/internal/media"
)

// Segment encoding settings. Intermediates favor encode speed over size;
// they are deleted as soon as the request finishes.
var segmentKwargs = ffmpeg.KwArgs{
	"c:v":    "libx264",
	"preset": "ultrafast",
	"crf":    18,
}

// FFmpegEngine implements Engine by compiling ffmpeg filter graphs and
// running the ffmpeg CLI as a child process under the caller's context.
type FFmpegEngine struct {
	ffmpegPath string
	prober     media.Prober
}

// NewFFmpegEngine creates an FFmpegEngine. An empty ffmpegPath defaults to
// "ffmpeg" (found via PATH). The prober supplies durations and frame rates
// for primitives whose filter parameters depend on the input.
func NewFFmpegEngine(ffmpegPath string, prober media.Prober) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEngine{ffmpegPath: ffmpegPath, prober: prober}
}

// Trim re-encodes the requested range. Input-side seeking plus re-encode
// keeps the cut frame-accurate.
func (e *FFmpegEngine) Trim(ctx context.Context, in string, start, end float64, out string) error {
	if end <= start {
		return errors.Errorf("trim: empty range [%.3f, %.3f)", start, end)
	}
	stream := ffmpeg.Input(in, ffmpeg.KwArgs{"ss": start, "t": end - start}).
		Output(out, mergeKwargs(segmentKwargs, ffmpeg.KwArgs{"map": "0:v:0"}))
	return e.run(ctx, stream)
}

// Scale resizes the video stream.
func (e *FFmpegEngine) Scale(ctx context.Context, in string, width, height int, out string) error {
	stream := ffmpeg.Input(in).
		Filter("scale", ffmpeg.Args{fmt.Sprint(width), fmt.Sprint(height)}).
		Output(out, segmentKwargs)
	return e.run(ctx, stream)
}

// Concat joins the inputs with the concat demuxer and stream copy. The list
// file lives next to the output and is removed before returning.
func (e *FFmpegEngine) Concat(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return errors.New("concat: no inputs")
	}

	listFile, err := writeConcatList(filepath.Dir(out), inputs)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(listFile) }()

	stream := ffmpeg.Input(listFile, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(out, ffmpeg.KwArgs{"c": "copy"})
	return e.run(ctx, stream)
}

// CrossfadeBlend fades a into b. The xfade offset is the duration of a
// minus the overlap, so the inputs are probed before building the graph.
func (e *FFmpegEngine) CrossfadeBlend(ctx context.Context, a, b string, overlapSeconds float64, out string) error {
	srcA, err := e.prober.Probe(ctx, a)
	if err != nil {
		return errors.Wrap(err, "crossfade: probe first input")
	}
	offset := srcA.DurationSeconds - overlapSeconds
	if offset < 0 {
		return errors.Errorf("crossfade: overlap %.2fs longer than first input %.2fs", overlapSeconds, srcA.DurationSeconds)
	}

	va := prepareBlendInput(ffmpeg.Input(a))
	vb := prepareBlendInput(ffmpeg.Input(b))
	blended := ffmpeg.Filter([]*ffmpeg.Stream{va, vb}, "xfade", ffmpeg.Args{}, ffmpeg.KwArgs{
		"transition": "fade",
		"duration":   overlapSeconds,
		"offset":     offset,
	})
	return e.run(ctx, blended.Output(out, segmentKwargs))
}

// TimeScale changes playback speed, reversing when the factor is negative.
// The scaled output duration is enforced explicitly in the graph; setpts
// alone never emits frames past the last input timestamp, so a single-frame
// input stretched to a long hold would otherwise come out one frame long.
func (e *FFmpegEngine) TimeScale(ctx context.Context, in string, factor float64, out string) error {
	if factor == 0 {
		return errors.New("timescale: factor must be non-zero")
	}

	src, err := e.prober.Probe(ctx, in)
	if err != nil {
		return errors.Wrap(err, "timescale: probe input")
	}

	return e.run(ctx, timeScaleGraph(ffmpeg.Input(in), src, factor).Output(out, segmentKwargs))
}

// timeScaleGraph builds the speed-change filter chain for a probed input.
// After the timestamp rescale the last frame is clone-padded up to the
// scaled length and the stream cut exactly there.
func timeScaleGraph(stream *ffmpeg.Stream, src media.SourceMedia, factor float64) *ffmpeg.Stream {
	speed := math.Abs(factor)
	target := scaledDuration(src.DurationSeconds, speed)

	if factor < 0 {
		stream = stream.Filter("reverse", ffmpeg.Args{}).
			Filter("setpts", ffmpeg.Args{"PTS-STARTPTS"})
	}
	if speed != 1.0 {
		stream = stream.Filter("setpts", ffmpeg.Args{fmt.Sprintf("%v*PTS", 1.0/speed)})
	}

	fps := src.FrameRate
	if fps <= 0 {
		fps = 30
	}
	outFPS := int(math.Max(1, math.Round(fps*speed)))
	stream = stream.Filter("fps", ffmpeg.Args{}, ffmpeg.KwArgs{"fps": outFPS})

	stream = stream.Filter("tpad", ffmpeg.Args{}, ffmpeg.KwArgs{
		"stop_mode":     "clone",
		"stop_duration": target,
	})
	return stream.Filter("trim", ffmpeg.Args{}, ffmpeg.KwArgs{"duration": target}).
		Filter("setpts", ffmpeg.Args{"PTS-STARTPTS"})
}

// scaledDuration rounds to microseconds so the duration survives the trip
// through filter argument formatting.
func scaledDuration(inSeconds, speed float64) float64 {
	return math.Round(inSeconds/speed*1e6) / 1e6
}

// Mux rewraps the stream into the target container. For mp4 the moov atom
// is moved up front so artifacts start playing while still downloading.
func (e *FFmpegEngine) Mux(ctx context.Context, in, out, container string) error {
	kwargs := ffmpeg.KwArgs{"c": "copy", "f": container}
	if container == "mp4" {
		kwargs["movflags"] = "+faststart"
	}
	return e.run(ctx, ffmpeg.Input(in).Output(out, kwargs))
}

// prepareBlendInput normalizes pixel format and sample aspect ratio; xfade
// requires both inputs to match.
func prepareBlendInput(s *ffmpeg.Stream) *ffmpeg.Stream {
	return s.Filter("format", ffmpeg.Args{"yuv420p"}).
		Filter("setsar", ffmpeg.Args{"1"})
}

// run compiles the graph to CLI arguments and executes ffmpeg under ctx,
// so cancellation kills the child process.
func (e *FFmpegEngine) run(ctx context.Context, stream *ffmpeg.Stream) error {
	args := stream.OverWriteOutput().GetArgs()

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "ffmpeg cancelled")
		}
		return &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// writeConcatList writes a concat-demuxer list file in dir and returns its
// path. Paths are absolute with single quotes escaped, as the demuxer
// requires.
func writeConcatList(dir string, inputs []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", errors.Wrap(err, "create concat list")
	}
	defer func() { _ = f.Close() }()

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			_ = os.Remove(f.Name())
			return "", errors.Wrapf(err, "resolve concat input %s", in)
		}
		escaped := strings.ReplaceAll(abs, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			_ = os.Remove(f.Name())
			return "", errors.Wrap(err, "write concat list")
		}
	}
	return f.Name(), nil
}

// mergeKwargs overlays extra on top of base without mutating either.
func mergeKwargs(base, extra ffmpeg.KwArgs) ffmpeg.KwArgs {
	merged := make(ffmpeg.KwArgs, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// CommandError is a failed ffmpeg invocation, including the tool's stderr
// for diagnosis. The arguments never reach API responses; the orchestrator
// reports only the stage name to callers.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
