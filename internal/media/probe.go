// Package media provides source clip inspection. It defines the Prober
// port and an ffprobe-backed implementation.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrUnprobeableMedia is returned when the uploaded file cannot be
// inspected, typically because it is corrupt or not a video at all.
var ErrUnprobeableMedia = errors.New("media cannot be probed")

// SourceMedia is the probed metadata of an uploaded clip. Immutable once
// probed; owned by the request lifecycle.
type SourceMedia struct {
	DurationSeconds float64
	Width           int
	Height          int
	FrameRate       float64
}

// Prober inspects a media file on disk.
type Prober interface {
	// Probe returns duration, resolution and frame rate of the first video
	// stream. Failure wraps ErrUnprobeableMedia.
	Probe(ctx context.Context, path string) (SourceMedia, error)
}

// FFprobeProber implements Prober using the ffprobe CLI.
type FFprobeProber struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobeProber creates a new FFprobeProber.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobeProber(ffprobePath string) *FFprobeProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeProber{ffprobePath: ffprobePath}
}

// probeOutput mirrors the subset of ffprobe's JSON output we consume.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	Duration   string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// Probe runs ffprobe and parses its JSON output.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (SourceMedia, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type,width,height,r_frame_rate,duration",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return SourceMedia{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return SourceMedia{}, fmt.Errorf("%w: %s", ErrUnprobeableMedia, strings.TrimSpace(stderr.String()))
	}

	return ParseProbeOutput(stdout.Bytes())
}

// ParseProbeOutput decodes ffprobe JSON into SourceMedia. Split out from
// Probe so the parsing is testable without the binary.
func ParseProbeOutput(data []byte) (SourceMedia, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return SourceMedia{}, fmt.Errorf("%w: invalid probe output: %w", ErrUnprobeableMedia, err)
	}

	var video *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			video = &out.Streams[i]
			break
		}
	}
	if video == nil {
		return SourceMedia{}, fmt.Errorf("%w: no video stream", ErrUnprobeableMedia)
	}

	duration := parseSeconds(video.Duration)
	if duration <= 0 {
		duration = parseSeconds(out.Format.Duration)
	}
	if duration <= 0 {
		return SourceMedia{}, fmt.Errorf("%w: no usable duration", ErrUnprobeableMedia)
	}

	return SourceMedia{
		DurationSeconds: duration,
		Width:           video.Width,
		Height:          video.Height,
		FrameRate:       parseFrameRate(video.RFrameRate),
	}, nil
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFrameRate handles the "30000/1001" fraction form ffprobe reports.
// Unparseable rates fall back to 30, which only affects freeze-frame length.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN == nil && errD == nil && d > 0 && n > 0 {
			return n / d
		}
		return 30
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
		return v
	}
	return 30
}
