package internal_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"
	"github.com/krelinga/hls-transcoder/internal"
)

// fakeFFmpeg mimics the three ffmpeg invocations the pipeline makes, keyed
// on the output argument. Outputs whose path contains failOn exit non-zero.
const fakeFFmpeg = `#!/bin/sh
for last; do :; done
fail=%q
if [ -n "$fail" ]; then
  case "$last" in
    *"$fail"*) echo "Conversion failed for $fail" >&2; exit 1 ;;
  esac
fi
dir=$(dirname "$last")
mkdir -p "$dir"
case "$last" in
  *%%03d*)
    : > "$dir/preview001.png"
    : > "$dir/preview002.png"
    ;;
  *.m3u8)
    printf 'frame=1 time=00:00:06.00 bitrate=1\r' >&2
    : > "$dir/segment000.ts"
    echo "#EXTM3U" > "$last"
    ;;
  *)
    echo png > "$last"
    ;;
esac
`

const fakeFFprobe = `#!/bin/sh
echo '{"streams":[{"codec_name":"h264","codec_type":"video","width":%d,"height":%d}],"format":{"duration":"12.0"}}'
`

type pipelineFixture struct {
	storageRoot string
	workDir     string
	pipeline    *internal.Pipeline

	mu     sync.Mutex
	events []internal.ProgressEvent
}

func (f *pipelineFixture) Report(_ context.Context, event internal.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func newPipelineFixture(t *testing.T, sourceHeight int, failOn string) *pipelineFixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	bin := t.TempDir()
	ffmpeg := filepath.Join(bin, "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte(fmt.Sprintf(fakeFFmpeg, failOn)), 0o755); err != nil {
		t.Fatal(err)
	}
	ffprobe := filepath.Join(bin, "ffprobe")
	if err := os.WriteFile(ffprobe, []byte(fmt.Sprintf(fakeFFprobe, sourceHeight*16/9, sourceHeight)), 0o755); err != nil {
		t.Fatal(err)
	}

	f := &pipelineFixture{storageRoot: t.TempDir(), workDir: t.TempDir()}
	writeTree(t, f.storageRoot, map[string]string{"uploads/cat.mov": "source bytes"})

	cfg := &internal.WorkerConfig{
		WorkDir:     f.workDir,
		FFmpegPath:  ffmpeg,
		FFprobePath: ffprobe,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := internal.NewPipeline(cfg, &internal.DirStorage{Root: f.storageRoot}, nil, logger)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	f.pipeline = p
	return f
}

func (f *pipelineFixture) exists(root string, rel ...string) bool {
	_, err := os.Stat(filepath.Join(append([]string{root}, rel...)...))
	return err == nil
}

var catArgs = internal.StreamJobArgs{Key: "uploads/cat.mov", VideoID: "cat"}

func TestPipelineRun(t *testing.T) {
	f := newPipelineFixture(t, 240, "")

	result, err := f.pipeline.Run(context.Background(), catArgs, f)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(result.Renditions, ",") != "240p,144p" {
		t.Errorf("renditions = %v", result.Renditions)
	}
	if result.MasterPath != "streams/cat/master.m3u8" {
		t.Errorf("master path = %q", result.MasterPath)
	}

	published := filepath.Join(f.storageRoot, "streams", "cat")
	for _, rel := range []string{
		internal.MasterPlaylistName,
		"240p/playlist.m3u8",
		"240p/segment000.ts",
		"144p/playlist.m3u8",
		internal.ThumbnailsVTTName,
		internal.MainThumbnail,
		internal.PosterThumbnail,
		"previews/preview001.png",
	} {
		if !f.exists(published, filepath.FromSlash(rel)) {
			t.Errorf("%s was not published", rel)
		}
	}
	if f.exists(published, "360p") {
		t.Error("360p must not be produced for a 240p source")
	}
	master, err := os.ReadFile(filepath.Join(published, internal.MasterPlaylistName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(master), "BANDWIDTH=400000,RESOLUTION=426x240\n240p/playlist.m3u8") {
		t.Errorf("unexpected master playlist:\n%s", master)
	}

	if f.exists(f.workDir, "downloads", "cat.mov") {
		t.Error("local source copy was not removed")
	}
	if !f.exists(f.workDir, "streams", "cat", internal.MasterPlaylistName) {
		t.Error("local output tree must be kept when DeleteAfterUpload is off")
	}

	first, last := f.events[0], f.events[len(f.events)-1]
	if first.Type != internal.EventDownloading || first.Percent != 0 {
		t.Errorf("first event = %+v", first)
	}
	if last.Type != internal.EventCompleted || last.Percent != 100 {
		t.Errorf("last event = %+v", last)
	}
	var encodeEvents int
	for _, ev := range f.events {
		if ev.VideoID != "cat" {
			t.Errorf("event for %q", ev.VideoID)
		}
		if ev.Percent < 0 || ev.Percent > 100 {
			t.Errorf("percent out of range: %+v", ev)
		}
		if ev.Type == internal.EventProcessing && ev.Resolution != "" {
			encodeEvents++
			if ev.Percent < 50 || ev.Percent > 75 {
				t.Errorf("encode progress outside 50-75: %+v", ev)
			}
		}
		if ev.Type == internal.EventUploading && ev.Percent < 75 {
			t.Errorf("upload progress below 75: %+v", ev)
		}
	}
	if encodeEvents != 2 {
		t.Errorf("expected one encoder sample per rendition, got %d", encodeEvents)
	}
}

func TestPipelineRunDeletesAfterUpload(t *testing.T) {
	f := newPipelineFixture(t, 240, "")
	f.pipeline.DeleteAfterUpload = true
	f.pipeline.DeleteSourceAfterUpload = true

	if _, err := f.pipeline.Run(context.Background(), catArgs, f); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.exists(f.workDir, "streams", "cat") {
		t.Error("local output tree was not removed")
	}
	if f.exists(f.storageRoot, "uploads", "cat.mov") {
		t.Error("remote source was not removed")
	}
	if !f.exists(f.storageRoot, "streams", "cat", internal.MasterPlaylistName) {
		t.Error("published package must survive local cleanup")
	}
	if entries, _ := os.ReadDir(filepath.Join(f.workDir, "streams")); len(entries) != 0 {
		t.Errorf("streams directory not empty: %v", entries)
	}
}

func TestPipelineEncodeFailure(t *testing.T) {
	f := newPipelineFixture(t, 240, "144p")

	_, err := f.pipeline.Run(context.Background(), catArgs, f)
	var pipelineErr *internal.PipelineError
	if !errors.As(err, &pipelineErr) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if pipelineErr.Stage != internal.JobStateProcessing {
		t.Errorf("stage = %s", pipelineErr.Stage)
	}
	var failure *internal.EncodeFailure
	if !errors.As(err, &failure) || failure.Resolution != "144p" {
		t.Fatalf("expected an encode failure for 144p, got %v", err)
	}
	if internal.IsPermanent(err) {
		t.Error("encode failures must be retried")
	}

	if !f.exists(f.workDir, "streams", "cat", "240p", "playlist.m3u8") {
		t.Error("the first rendition should remain on local disk")
	}
	if f.exists(f.workDir, "streams", "cat", internal.MasterPlaylistName) {
		t.Error("master playlist must not be built after a failed rendition")
	}
	if f.exists(f.storageRoot, "streams") {
		t.Error("nothing may be uploaded after a failed rendition")
	}

	last := f.events[len(f.events)-1]
	if last.Type != internal.EventError || last.Error == nil || !strings.Contains(*last.Error, "144p") {
		t.Errorf("last event = %+v", last)
	}
}

func TestPipelineNoTargetResolution(t *testing.T) {
	f := newPipelineFixture(t, 100, "")

	_, err := f.pipeline.Run(context.Background(), catArgs, f)
	if !errors.Is(err, internal.ErrNoTargetResolution) {
		t.Fatalf("expected ErrNoTargetResolution, got %v", err)
	}
	if !internal.IsPermanent(err) {
		t.Error("a source below every rung can never succeed")
	}
	for _, rel := range []string{internal.MasterPlaylistName, internal.MainThumbnail, internal.ThumbnailsVTTName} {
		if f.exists(f.workDir, "streams", "cat", rel) {
			t.Errorf("%s must not be produced", rel)
		}
	}
	if f.exists(f.storageRoot, "streams") {
		t.Error("nothing may be uploaded")
	}
}

func TestPipelineValidation(t *testing.T) {
	f := newPipelineFixture(t, 240, "")

	_, err := f.pipeline.Run(context.Background(), internal.StreamJobArgs{Key: "uploads/cat.mov", VideoID: "../cat"}, f)
	var pipelineErr *internal.PipelineError
	if !errors.As(err, &pipelineErr) || pipelineErr.Stage != internal.JobStateQueued {
		t.Fatalf("expected a queued-stage PipelineError, got %v", err)
	}
	if !errors.Is(err, internal.ErrJobValidation) || !internal.IsPermanent(err) {
		t.Errorf("expected a permanent validation error, got %v", err)
	}
	if len(f.events) != 1 || f.events[0].Type != internal.EventError {
		t.Errorf("expected a single error event, got %+v", f.events)
	}
}

func TestPipelineMissingSource(t *testing.T) {
	f := newPipelineFixture(t, 240, "")

	_, err := f.pipeline.Run(context.Background(), internal.StreamJobArgs{Key: "uploads/dog.mov", VideoID: "dog"}, f)
	var pipelineErr *internal.PipelineError
	if !errors.As(err, &pipelineErr) || pipelineErr.Stage != internal.JobStateDownloading {
		t.Fatalf("expected a downloading-stage PipelineError, got %v", err)
	}
	if !errors.Is(err, internal.ErrStorageDownload) {
		t.Errorf("expected ErrStorageDownload, got %v", err)
	}
}

func TestPipelineWorkTreeBusy(t *testing.T) {
	f := newPipelineFixture(t, 240, "")
	if err := os.MkdirAll(filepath.Join(f.workDir, "streams"), 0o755); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(filepath.Join(f.workDir, "streams", "cat.lock"))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: %v, %v", ok, err)
	}
	defer lock.Unlock()

	_, err = f.pipeline.Run(context.Background(), catArgs, f)
	if !errors.Is(err, internal.ErrJobBusy) {
		t.Fatalf("expected ErrJobBusy, got %v", err)
	}
	if f.exists(f.storageRoot, "streams") {
		t.Error("a busy job must not upload")
	}
}

func TestPipelineCleanupAfterFinalFailure(t *testing.T) {
	f := newPipelineFixture(t, 100, "")

	_, err := f.pipeline.Run(context.Background(), catArgs, f)
	if !internal.IsPermanent(err) {
		t.Fatalf("expected a permanent failure, got %v", err)
	}
	if !f.exists(f.workDir, "downloads", "cat.mov") {
		t.Fatal("the source copy should remain until cleanup")
	}

	if err := f.pipeline.Cleanup(catArgs); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if f.exists(f.workDir, "downloads", "cat.mov") {
		t.Error("source copy left after cleanup")
	}
	if entries, _ := os.ReadDir(filepath.Join(f.workDir, "streams")); len(entries) != 0 {
		t.Errorf("streams directory not empty: %v", entries)
	}
	if err := f.pipeline.Cleanup(catArgs); err != nil {
		t.Errorf("second Cleanup: %v", err)
	}
}

func TestPipelineCleanupRemovesPartialTree(t *testing.T) {
	f := newPipelineFixture(t, 240, "144p")

	if _, err := f.pipeline.Run(context.Background(), catArgs, f); err == nil {
		t.Fatal("expected an encode failure")
	}
	if !f.exists(f.workDir, "streams", "cat", "240p") {
		t.Fatal("expected a partial output tree")
	}
	if err := f.pipeline.Cleanup(catArgs); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if f.exists(f.workDir, "streams", "cat") || f.exists(f.workDir, "downloads", "cat.mov") {
		t.Error("partial output left after cleanup")
	}
}

func TestPipelineCleanupIgnoresInvalidArgs(t *testing.T) {
	f := newPipelineFixture(t, 240, "")
	writeTree(t, f.workDir, map[string]string{"streams/dog/master.m3u8": "#EXTM3U\n"})

	if err := f.pipeline.Cleanup(internal.StreamJobArgs{Key: "uploads/cat.mov"}); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if !f.exists(f.workDir, "streams", "dog", "master.m3u8") {
		t.Error("cleanup of an invalid job removed another video's tree")
	}
}
