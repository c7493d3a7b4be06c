package internal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// SegmentDuration is the HLS segment length and the storyboard sampling
// interval, in seconds.
const SegmentDuration = 5

const (
	VariantPlaylistName = "playlist.m3u8"
	segmentPattern      = "segment%03d.ts"
)

type ProgressCallback func(percent float64)

// EncodeStage renders one HLS rendition per call with ffmpeg.
type EncodeStage struct {
	// Binary defaults to "ffmpeg" when empty.
	Binary string
}

func (s *EncodeStage) binary() string {
	if s.Binary == "" {
		return "ffmpeg"
	}
	return s.Binary
}

func encodeArgs(sourcePath, resolutionDir string, profile ResolutionProfile) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", sourcePath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-s", fmt.Sprintf("%dx%d", profile.Width, profile.Height),
		"-preset", "veryfast",
		"-crf", "22",
		"-start_number", "0",
		"-hls_time", strconv.Itoa(SegmentDuration),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(resolutionDir, segmentPattern),
		"-f", "hls",
		filepath.Join(resolutionDir, VariantPlaylistName),
	}
}

// EncodeTask is one running encoder invocation. Parsed progress samples are
// delivered on Progress(), which is closed once the encoder has exited.
type EncodeTask struct {
	profile  ResolutionProfile
	progress chan float64
	done     chan struct{}
	err      error
}

// Start launches the encoder for profile, writing into outputDir/profile.Name.
// totalSeconds is the source duration used to compute percentages.
func (s *EncodeStage) Start(ctx context.Context, sourcePath, outputDir string, profile ResolutionProfile, totalSeconds float64) (*EncodeTask, error) {
	resolutionDir := filepath.Join(outputDir, profile.Name)
	if err := os.MkdirAll(resolutionDir, 0o755); err != nil {
		return nil, &EncodeFailure{Resolution: profile.Name, Err: err}
	}

	cmd := exec.CommandContext(ctx, s.binary(), encodeArgs(sourcePath, resolutionDir, profile)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &EncodeFailure{Resolution: profile.Name, Err: fmt.Errorf("failed to create stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &EncodeFailure{Resolution: profile.Name, Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	task := &EncodeTask{
		profile:  profile,
		progress: make(chan float64),
		done:     make(chan struct{}),
	}
	go task.run(ctx, cmd, stderr, totalSeconds)
	return task, nil
}

func (t *EncodeTask) run(ctx context.Context, cmd *exec.Cmd, stderr io.Reader, totalSeconds float64) {
	defer close(t.done)
	defer close(t.progress)

	// Keep the last lines so a failure carries ffmpeg's own explanation.
	var tail tailBuffer
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := scanner.Text()
		tail.add(line)
		percent, ok := ParseProgress(line, totalSeconds)
		if !ok {
			continue
		}
		select {
		case t.progress <- percent:
		case <-ctx.Done():
		}
	}
	// Consume any remaining output
	io.Copy(io.Discard, stderr)

	if err := cmd.Wait(); err != nil {
		if msg := tail.String(); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		t.err = &EncodeFailure{Resolution: t.profile.Name, Err: err}
	}
}

// Progress returns the channel of percent samples in [0, 100].
func (t *EncodeTask) Progress() <-chan float64 {
	return t.progress
}

// Wait blocks until the encoder exits and returns an *EncodeFailure if it
// exited with a non-zero status.
func (t *EncodeTask) Wait() error {
	<-t.done
	return t.err
}

// Encode runs the encoder to completion, forwarding progress to onProgress.
func (s *EncodeStage) Encode(ctx context.Context, sourcePath, outputDir string, profile ResolutionProfile, totalSeconds float64, onProgress ProgressCallback) error {
	task, err := s.Start(ctx, sourcePath, outputDir, profile, totalSeconds)
	if err != nil {
		return err
	}
	for percent := range task.Progress() {
		if onProgress != nil {
			onProgress(percent)
		}
	}
	return task.Wait()
}

var timeRegex = regexp.MustCompile(`time=(\S+)`)

// ParseProgress extracts the elapsed-time marker from an ffmpeg output line and
// converts it to a percentage of totalSeconds. Lines without a well-formed
// HH:MM:SS.ss marker report false.
func ParseProgress(line string, totalSeconds float64) (float64, bool) {
	if totalSeconds <= 0 {
		return 0, false
	}
	matches := timeRegex.FindStringSubmatch(line)
	if len(matches) != 2 {
		return 0, false
	}
	elapsed, ok := parseClock(matches[1])
	if !ok {
		return 0, false
	}
	percent := elapsed / totalSeconds * 100
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	return percent, true
}

// parseClock parses [-]HH:MM:SS.ss. ffmpeg reports negative times while it
// is still before the first output timestamp.
func parseClock(token string) (float64, bool) {
	sign := 1.0
	if rest, ok := strings.CutPrefix(token, "-"); ok {
		sign, token = -1, rest
	}
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	if hours < 0 || minutes < 0 || minutes >= 60 || seconds < 0 || seconds >= 60 {
		return 0, false
	}
	return sign * (float64(hours*3600+minutes*60) + seconds), true
}

// scanProgressLines splits on '\n' or '\r'; ffmpeg redraws its stats line
// with carriage returns.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

const tailLines = 5

type tailBuffer struct {
	lines []string
}

func (b *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > tailLines {
		b.lines = b.lines[len(b.lines)-tailLines:]
	}
}

func (b *tailBuffer) String() string {
	return strings.Join(b.lines, " | ")
}
