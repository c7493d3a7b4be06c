package internal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	PreviewsDirName = "previews"
	MainThumbnail   = "main.png"
	PosterThumbnail = "poster.png"

	previewWidth  = 160
	keyframeSize  = "320x180"
	previewFormat = "preview%03d.png"
)

func previewFileName(n int) string {
	return fmt.Sprintf(previewFormat, n)
}

// ThumbnailStage renders the storyboard and the two still thumbnails.
type ThumbnailStage struct {
	// Binary defaults to "ffmpeg" when empty.
	Binary string
}

func (s *ThumbnailStage) run(ctx context.Context, args ...string) error {
	binary := s.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// GeneratePreviews samples one frame every SegmentDuration seconds into
// outputDir/previews/preview001.png, preview002.png, ...
func (s *ThumbnailStage) GeneratePreviews(ctx context.Context, sourcePath, outputDir string) error {
	dir := filepath.Join(outputDir, PreviewsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create previews directory: %w", err)
	}
	err := s.run(ctx,
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", sourcePath,
		"-vf", fmt.Sprintf("fps=1/%d,scale=%d:-1", SegmentDuration, previewWidth),
		"-vsync", "vfr",
		"-f", "image2",
		filepath.Join(dir, previewFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to generate previews: %w", err)
	}
	return nil
}

// GenerateKeyframes writes main.png from the first frame and poster.png from
// the middle of the source.
func (s *ThumbnailStage) GenerateKeyframes(ctx context.Context, sourcePath, outputDir string, durationSeconds float64) error {
	shots := []struct {
		name string
		at   float64
	}{
		{MainThumbnail, 0},
		{PosterThumbnail, durationSeconds / 2},
	}
	for _, shot := range shots {
		err := s.run(ctx,
			"-hide_banner",
			"-nostdin",
			"-y",
			"-ss", strconv.FormatFloat(shot.at, 'f', 3, 64),
			"-i", sourcePath,
			"-frames:v", "1",
			"-s", keyframeSize,
			filepath.Join(outputDir, shot.name),
		)
		if err != nil {
			return fmt.Errorf("failed to generate %s: %w", shot.name, err)
		}
	}
	return nil
}
