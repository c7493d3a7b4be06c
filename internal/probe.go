package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SourceMetadata describes the source file. It is derived once per job.
type SourceMetadata struct {
	DurationSeconds float64
	Width           int
	Height          int
	VideoCodec      string
	AudioCodec      string
}

// Prober extracts SourceMetadata from a local media file.
type Prober interface {
	Probe(ctx context.Context, sourcePath string) (SourceMetadata, error)
}

// FFprobe runs the ffprobe binary and decodes its JSON report.
type FFprobe struct {
	// Binary defaults to "ffprobe" when empty.
	Binary string
}

type probeReport struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func (p *FFprobe) Probe(ctx context.Context, sourcePath string) (SourceMetadata, error) {
	binary := p.Binary
	if binary == "" {
		binary = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		sourcePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return SourceMetadata{}, fmt.Errorf("%w: ffprobe %s: %w", ErrProbe, sourcePath, err)
	}
	return parseProbeReport(output)
}

func parseProbeReport(output []byte) (SourceMetadata, error) {
	var report probeReport
	if err := json.Unmarshal(output, &report); err != nil {
		return SourceMetadata{}, fmt.Errorf("%w: failed to parse ffprobe output: %w", ErrProbe, err)
	}

	var meta SourceMetadata
	var video *probeStream
	for i := range report.Streams {
		s := &report.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = s.CodecName
			}
		}
	}
	if video == nil {
		return SourceMetadata{}, fmt.Errorf("%w: no video stream", ErrProbe)
	}
	if video.Height <= 0 {
		return SourceMetadata{}, fmt.Errorf("%w: video stream has no height", ErrProbe)
	}
	meta.Width = video.Width
	meta.Height = video.Height
	meta.VideoCodec = video.CodecName

	duration, ok := parseSeconds(report.Format.Duration)
	if !ok {
		duration, ok = parseSeconds(video.Duration)
	}
	if !ok {
		return SourceMetadata{}, fmt.Errorf("%w: unknown duration", ErrProbe)
	}
	meta.DurationSeconds = duration
	return meta, nil
}

func parseSeconds(value string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
