// Package main provides the loopgen command line tool for rendering
// seamless video loops without running the API server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loopgen/loopgen-api/internal/engine"
	"github.com/loopgen/loopgen-api/internal/loop"
	"github.com/loopgen/loopgen-api/internal/media"
	"github.com/loopgen/loopgen-api/internal/pipeline"
)

var (
	rootCmd = &cobra.Command{
		Use:   "loopgen",
		Short: "A tool for turning short clips into seamless loops",
		Long: `loopgen renders a short video clip into a seamlessly looping video of an
exact target duration.

Supported modes:
- simple: repeat the clip forward until the target duration is reached
- pingpong: alternate forward and reverse passes
- crossfade: blend the tail of each pass into the head of the next

Examples:
  # A 30 second simple loop
  loopgen render -i clip.mp4 -o loop.mp4 -d 30

  # A ping-pong loop with a one second freeze on the first frame
  loopgen render -i clip.mp4 -o loop.mp4 -d 30 -m pingpong --start-pause 1

  # Inspect the composition without rendering
  loopgen plan -i clip.mp4 -d 30 -m crossfade --crossfade 1.5`,
	}

	renderCmd = &cobra.Command{
		Use:   "render",
		Short: "Render a looping video from a source clip",
		Long: `Render a source clip into a looping video of the requested duration.

Out-of-range options are clamped to safe values rather than rejected, and
the output resolution may be lowered by the safety policy for heavy modes.

Example:
  loopgen render -i clip.mp4 -o loop.mp4 -d 30 -m crossfade --crossfade 1.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath, _ := cmd.Flags().GetString("input")
			outputPath, _ := cmd.Flags().GetString("output")
			if inputPath == "" || outputPath == "" {
				return fmt.Errorf("input and output paths are required")
			}
			return runRender(cmd, inputPath, outputPath)
		},
	}

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Print the loop composition for a source clip",
		Long: `Probe the source clip, resolve the loop options and print the resulting
composition without rendering anything.

Example:
  loopgen plan -i clip.mp4 -d 30 -m pingpong`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath, _ := cmd.Flags().GetString("input")
			if inputPath == "" {
				return fmt.Errorf("input path is required")
			}
			return runPlan(cmd, inputPath)
		},
	}
)

// paramsFromFlags builds the raw loop options from command flags. The
// resolver clamps them downstream.
func paramsFromFlags(cmd *cobra.Command) loop.RequestParams {
	duration, _ := cmd.Flags().GetInt("duration")
	mode, _ := cmd.Flags().GetString("mode")
	crossfade, _ := cmd.Flags().GetFloat64("crossfade")
	startPause, _ := cmd.Flags().GetFloat64("start-pause")
	endPause, _ := cmd.Flags().GetFloat64("end-pause")
	resolution, _ := cmd.Flags().GetString("resolution")
	speed, _ := cmd.Flags().GetString("speed")

	return loop.RequestParams{
		Mode:                  mode,
		TargetDurationSeconds: duration,
		CrossfadeSeconds:      crossfade,
		StartPauseSeconds:     startPause,
		EndPauseSeconds:       endPause,
		Resolution:            resolution,
		Speed:                 speed,
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolvePlan probes the input and turns the flag values into an
// execution plan.
func resolvePlan(ctx context.Context, cmd *cobra.Command, inputPath string) (media.SourceMedia, loop.ResolvedParams, loop.ExecutionPlan, error) {
	ffprobePath, _ := cmd.Flags().GetString("ffprobe")
	prober := media.NewFFprobeProber(ffprobePath)

	source, err := prober.Probe(ctx, inputPath)
	if err != nil {
		return media.SourceMedia{}, loop.ResolvedParams{}, loop.ExecutionPlan{}, fmt.Errorf("probe %s: %w", inputPath, err)
	}

	resolver := loop.NewResolver(loop.DefaultResolutionPolicy())
	resolved := resolver.Resolve(paramsFromFlags(cmd), source)

	plan, err := loop.Plan(source, resolved)
	if err != nil {
		return media.SourceMedia{}, loop.ResolvedParams{}, loop.ExecutionPlan{}, err
	}
	return source, resolved, plan, nil
}

func runRender(cmd *cobra.Command, inputPath, outputPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cmd)

	source, resolved, plan, err := resolvePlan(ctx, cmd, inputPath)
	if err != nil {
		return err
	}
	if resolved.Downgraded {
		fmt.Fprintf(cmd.ErrOrStderr(), "note: resolution lowered to %s by the safety policy\n", resolved.Resolution)
	}

	ffmpegPath, _ := cmd.Flags().GetString("ffmpeg")
	ffprobePath, _ := cmd.Flags().GetString("ffprobe")
	eng := engine.NewFFmpegEngine(ffmpegPath, media.NewFFprobeProber(ffprobePath))

	workRoot, err := os.MkdirTemp("", "loopgen-")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workRoot) }()

	orch, err := pipeline.NewOrchestrator(eng, workRoot, logger)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	rendered, err := orch.Execute(ctx, inputPath, source, plan)
	if err != nil {
		return fmt.Errorf("render loop: %w", err)
	}

	if err := moveFile(rendered, outputPath); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s, %.0fs)\n",
		outputPath, plan.Mode, resolved.Resolution, plan.NominalSeconds())
	return nil
}

func runPlan(cmd *cobra.Command, inputPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, resolved, plan, err := resolvePlan(ctx, cmd, inputPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "source: %.2fs %dx%d @ %.2f fps\n",
		source.DurationSeconds, source.Width, source.Height, source.FrameRate)
	fmt.Fprintf(out, "mode: %s  resolution: %s  speed: %.1fx  downgraded: %v\n",
		plan.Mode, plan.OutputResolution, plan.OutputSpeed, resolved.Downgraded)
	for i, step := range plan.Steps {
		fmt.Fprintf(out, "%3d. %s\n", i+1, describeStep(step))
	}
	fmt.Fprintf(out, "nominal duration: %.2fs\n", plan.NominalSeconds())
	return nil
}

func describeStep(s loop.PlanStep) string {
	switch s.Kind {
	case loop.StepStaticHold:
		return fmt.Sprintf("hold %s frame for %.2fs", s.Boundary, s.DurationSeconds)
	case loop.StepPlayForward:
		return fmt.Sprintf("play forward [%.2fs..%.2fs]", s.StartOffset, s.EndOffset)
	case loop.StepPlayReverse:
		return fmt.Sprintf("play reverse [%.2fs..%.2fs]", s.StartOffset, s.EndOffset)
	case loop.StepCrossfadeJoin:
		return fmt.Sprintf("crossfade join over %.2fs", s.OverlapSeconds)
	case loop.StepFinalTrim:
		return fmt.Sprintf("trim output to %.2fs", s.DurationSeconds)
	default:
		return string(s.Kind)
	}
}

// moveFile renames the rendered file into place, copying when the rename
// crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func addSharedFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input", "i", "", "Input video file")
	cmd.Flags().IntP("duration", "d", 30, "Target loop duration in seconds")
	cmd.Flags().StringP("mode", "m", "simple", "Loop mode (simple, pingpong, crossfade)")
	cmd.Flags().Float64("crossfade", 1.0, "Crossfade overlap in seconds (crossfade mode)")
	cmd.Flags().Float64("start-pause", 0, "Freeze the first frame for this many seconds")
	cmd.Flags().Float64("end-pause", 0, "Freeze the last frame for this many seconds")
	cmd.Flags().StringP("resolution", "r", "", "Output resolution (Original, 720p, 1080p, 4K)")
	cmd.Flags().StringP("speed", "s", "1.0", "Playback speed (0.5, 1.0, 2.0)")
	cmd.Flags().String("ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	cmd.Flags().String("ffprobe", "ffprobe", "Path to the ffprobe binary")
	cmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")
}

func init() {
	addSharedFlags(renderCmd)
	renderCmd.Flags().StringP("output", "o", "", "Output video path")
	_ = renderCmd.MarkFlagRequired("input")
	_ = renderCmd.MarkFlagRequired("output")

	addSharedFlags(planCmd)
	_ = planCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(planCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
