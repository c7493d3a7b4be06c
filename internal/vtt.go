package internal

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

const ThumbnailsVTTName = "thumbnails.vtt"

// CueCount is the number of whole storyboard intervals in duration.
func CueCount(durationSeconds float64, segmentDuration int) int {
	if segmentDuration <= 0 || durationSeconds <= 0 {
		return 0
	}
	return int(math.Floor(durationSeconds / float64(segmentDuration)))
}

// RenderVTT returns the WebVTT index mapping each interval to its storyboard
// frame. Frames are numbered from 1 to match the preview filenames.
func RenderVTT(durationSeconds float64, segmentDuration int) string {
	count := CueCount(durationSeconds, segmentDuration)
	if count == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for i := 0; i < count; i++ {
		start := i * segmentDuration
		end := (i + 1) * segmentDuration
		fmt.Fprintf(&sb, "%d\n", i+1)
		fmt.Fprintf(&sb, "%s --> %s\n", vttTimestamp(start), vttTimestamp(end))
		fmt.Fprintf(&sb, "%s/%s\n\n", PreviewsDirName, previewFileName(i+1))
	}
	return sb.String()
}

// BuildVTT writes thumbnails.vtt into outputDir. Nothing is written when the
// source is shorter than one interval.
func BuildVTT(outputDir string, durationSeconds float64, segmentDuration int) error {
	content := RenderVTT(durationSeconds, segmentDuration)
	if content == "" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(outputDir, ThumbnailsVTTName), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write vtt: %w", err)
	}
	return nil
}

// vttTimestamp formats whole seconds as HH:MM:SS.000.
func vttTimestamp(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d.000", seconds/3600, (seconds/60)%60, seconds%60)
}
