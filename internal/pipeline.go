package internal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"
)

// PipelineResult describes a completed job.
type PipelineResult struct {
	VideoID       string
	Renditions    []string
	UploadedFiles int
	UploadedBytes int64
	// MasterPath is the remote key of the verified master playlist.
	MasterPath string
}

// Pipeline turns one uploaded source into a published HLS package. Each Run
// is strictly sequential; concurrent Runs for different videos share nothing
// but the storage gateway.
type Pipeline struct {
	Storage    StorageGateway
	Prober     Prober
	Encoder    *EncodeStage
	Thumbnails *ThumbnailStage
	Manifest   *ManifestBuilder
	Ladder     []ResolutionProfile
	// WorkDir holds downloads/ and streams/ for every job on this worker.
	WorkDir string
	// DeleteAfterUpload removes the local output tree once it is published.
	DeleteAfterUpload bool
	// DeleteSourceAfterUpload removes the original upload from the object
	// store once the package is published.
	DeleteSourceAfterUpload bool
	Metrics                 *Metrics
	Logger                  *slog.Logger
}

// NewPipeline wires a Pipeline from worker configuration.
func NewPipeline(cfg *WorkerConfig, storage StorageGateway, metrics *Metrics, logger *slog.Logger) (*Pipeline, error) {
	ladder := DefaultLadder()
	if cfg.LadderFile != "" {
		var err error
		ladder, err = LoadLadderFile(cfg.LadderFile)
		if err != nil {
			return nil, err
		}
	}
	return &Pipeline{
		Storage:                 NewGuardedStorage(storage),
		Prober:                  &FFprobe{Binary: cfg.FFprobePath},
		Encoder:                 &EncodeStage{Binary: cfg.FFmpegPath},
		Thumbnails:              &ThumbnailStage{Binary: cfg.FFmpegPath},
		Manifest:                NewManifestBuilder(ladder),
		Ladder:                  ladder,
		WorkDir:                 cfg.WorkDir,
		DeleteAfterUpload:       cfg.DeleteAfterUpload,
		DeleteSourceAfterUpload: cfg.DeleteSourceAfterUpload,
		Metrics:                 metrics,
		Logger:                  logger,
	}, nil
}

func (p *Pipeline) streamsDir() string {
	return filepath.Join(p.WorkDir, "streams")
}

// SourcePath is the job-scoped local path of the downloaded source.
func (p *Pipeline) SourcePath(args StreamJobArgs) string {
	return filepath.Join(p.WorkDir, "downloads", args.VideoID+args.SourceExt())
}

// OutputDir is the job-scoped local output tree.
func (p *Pipeline) OutputDir(videoID string) string {
	return filepath.Join(p.streamsDir(), videoID)
}

// Cleanup removes a job's local source copy and output tree. The worker
// calls it once a job will not be attempted again.
func (p *Pipeline) Cleanup(args StreamJobArgs) error {
	// Invalid ids never reach the disk and must not resolve to a shared path.
	if err := args.Validate(); err != nil {
		return nil
	}
	var errs []error
	for _, target := range []string{p.SourcePath(args), p.OutputDir(args.VideoID)} {
		if err := os.RemoveAll(target); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrCleanup, target, err))
		}
	}
	return errors.Join(errs...)
}

// Run executes every stage for one job. On failure it emits an error event
// and returns a *PipelineError; retrying is left to the caller.
func (p *Pipeline) Run(ctx context.Context, args StreamJobArgs, reporter Reporter) (PipelineResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = ReporterFunc(func(context.Context, ProgressEvent) {})
	}
	r := &jobRun{
		p:        p,
		args:     args,
		logger:   logger.With("video_id", args.VideoID, "key", args.Key),
		reporter: &dedupReporter{next: reporter},
		state:    JobStateQueued,
	}

	p.Metrics.jobStarted()
	result, err := r.run(ctx)
	p.Metrics.jobFinished(err)
	return result, err
}

type jobRun struct {
	p        *Pipeline
	args     StreamJobArgs
	logger   *slog.Logger
	reporter Reporter
	state    JobState
}

func (r *jobRun) transition(next JobState) {
	if !r.state.CanTransition(next) {
		r.logger.Error("invalid job state transition", "from", r.state, "to", next)
	}
	r.logger.Debug("job state", "from", r.state, "to", next)
	r.state = next
}

func (r *jobRun) emit(ctx context.Context, typ EventType, percent int, status, resolution string) {
	r.reporter.Report(ctx, ProgressEvent{
		Type:       typ,
		VideoID:    r.args.VideoID,
		Percent:    percent,
		Status:     status,
		Resolution: resolution,
	})
}

func (r *jobRun) fail(ctx context.Context, err error) error {
	stage := r.state
	r.transition(JobStateFailed)
	msg := err.Error()
	r.reporter.Report(ctx, ProgressEvent{
		Type:    EventError,
		VideoID: r.args.VideoID,
		Status:  "Failed",
		Error:   &msg,
	})
	r.logger.Error("job failed", "stage", stage, "error", err)
	return &PipelineError{VideoID: r.args.VideoID, Stage: stage, Err: err}
}

// cleanup logs and swallows a local deletion failure.
func (r *jobRun) cleanup(target string, err error) {
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	r.logger.Warn("cleanup failed", "target", target, "error", fmt.Errorf("%w: %w", ErrCleanup, err))
}

func (r *jobRun) run(ctx context.Context) (PipelineResult, error) {
	if err := r.args.Validate(); err != nil {
		return PipelineResult{}, r.fail(ctx, err)
	}
	unlock, err := lockWorkTree(r.p.streamsDir(), r.args.VideoID)
	if err != nil {
		return PipelineResult{}, r.fail(ctx, err)
	}
	defer unlock()

	r.logger.Info("job started")

	sourcePath, err := r.download(ctx)
	if err != nil {
		return PipelineResult{}, r.fail(ctx, err)
	}

	target, err := r.process(ctx, sourcePath)
	if err != nil {
		return PipelineResult{}, r.fail(ctx, err)
	}
	r.cleanup(sourcePath, os.Remove(sourcePath))

	result, err := r.upload(ctx)
	if err != nil {
		return PipelineResult{}, r.fail(ctx, err)
	}
	for _, profile := range target {
		result.Renditions = append(result.Renditions, profile.Name)
	}

	if r.p.DeleteAfterUpload {
		r.cleanup(r.p.OutputDir(r.args.VideoID), os.RemoveAll(r.p.OutputDir(r.args.VideoID)))
	}
	if r.p.DeleteSourceAfterUpload {
		r.deleteRemoteSource(ctx)
	}

	r.transition(JobStateCompleted)
	r.emit(ctx, EventCompleted, 100, "Completed", "")
	r.logger.Info("job completed", "renditions", result.Renditions, "files", result.UploadedFiles, "bytes", result.UploadedBytes)
	return result, nil
}

func (r *jobRun) download(ctx context.Context) (string, error) {
	defer r.p.Metrics.observeStage(JobStateDownloading, time.Now())
	r.transition(JobStateDownloading)
	r.emit(ctx, EventDownloading, 0, "Downloading source", "")

	sourcePath, err := r.p.Storage.Download(ctx, r.args.Key, r.p.SourcePath(r.args), func(percent int, loaded, total int64) {
		r.emit(ctx, EventDownloading, percent, "Downloading source", "")
	})
	if err != nil {
		return "", err
	}
	r.emit(ctx, EventDownloading, 100, "Downloaded source", "")
	r.logger.Info("source downloaded", "path", sourcePath)
	return sourcePath, nil
}

// process builds the complete local output tree. Nothing is uploaded unless
// it returns nil.
func (r *jobRun) process(ctx context.Context, sourcePath string) ([]ResolutionProfile, error) {
	defer r.p.Metrics.observeStage(JobStateProcessing, time.Now())
	r.transition(JobStateProcessing)
	r.emit(ctx, EventProcessing, 50, "Processing video", "")

	meta, err := r.p.Prober.Probe(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	target, err := Plan(meta, r.p.Ladder)
	if err != nil {
		return nil, err
	}
	r.logger.Info("source probed",
		"duration", meta.DurationSeconds, "width", meta.Width, "height", meta.Height,
		"video_codec", meta.VideoCodec, "renditions", len(target))

	outputDir := r.p.OutputDir(r.args.VideoID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	for i, profile := range target {
		if err := r.encode(ctx, sourcePath, outputDir, profile, meta.DurationSeconds, i, len(target)); err != nil {
			return nil, err
		}
	}

	if err := r.p.Manifest.Build(outputDir, target); err != nil {
		return nil, err
	}
	if err := r.p.Thumbnails.GeneratePreviews(ctx, sourcePath, outputDir); err != nil {
		return nil, err
	}
	if err := r.p.Thumbnails.GenerateKeyframes(ctx, sourcePath, outputDir, meta.DurationSeconds); err != nil {
		return nil, err
	}
	if err := BuildVTT(outputDir, meta.DurationSeconds, SegmentDuration); err != nil {
		return nil, err
	}
	return target, nil
}

// encode renders one rendition, mapping its progress into the 50-75% band
// of the job.
func (r *jobRun) encode(ctx context.Context, sourcePath, outputDir string, profile ResolutionProfile, duration float64, index, count int) error {
	start := time.Now()
	task, err := r.p.Encoder.Start(ctx, sourcePath, outputDir, profile, duration)
	if err != nil {
		return err
	}
	status := "Encoding " + profile.Name
	for percent := range task.Progress() {
		overall := 50 + int(25*(float64(index)+percent/100)/float64(count))
		r.emit(ctx, EventProcessing, overall, status, profile.Name)
	}
	if err := task.Wait(); err != nil {
		return err
	}
	r.logger.Info("rendition encoded", "resolution", profile.Name, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (r *jobRun) upload(ctx context.Context) (PipelineResult, error) {
	defer r.p.Metrics.observeStage(JobStateUploading, time.Now())
	r.transition(JobStateUploading)
	r.emit(ctx, EventUploading, 75, "Uploading", "")

	prefix := RemoteOutputPrefix(r.args.VideoID)
	res, err := r.p.Storage.UploadTree(ctx, r.p.OutputDir(r.args.VideoID), prefix, func(pr UploadProgress) {
		percent := 75
		if pr.TotalBytes > 0 {
			percent += int(24 * pr.UploadedBytes / pr.TotalBytes)
		}
		r.emit(ctx, EventUploading, percent, fmt.Sprintf("Uploaded %d/%d files", pr.UploadedCount, pr.TotalCount), "")
	})
	if err != nil {
		return PipelineResult{}, err
	}
	if res.Skipped {
		return PipelineResult{}, fmt.Errorf("%w: %w", ErrStorageUpload, ErrUploadInProgress)
	}
	r.p.Metrics.addUploadedBytes(res.TotalBytes)

	masterPath := path.Join(prefix, MasterPlaylistName)
	ok, err := r.p.Storage.Verify(ctx, masterPath)
	if err != nil {
		return PipelineResult{}, fmt.Errorf("%w: verify %s: %w", ErrStorageUpload, masterPath, err)
	}
	if !ok {
		return PipelineResult{}, fmt.Errorf("%w: %s missing after upload", ErrStorageUpload, masterPath)
	}
	r.logger.Info("package uploaded", "prefix", prefix, "files", res.UploadedCount)

	return PipelineResult{
		VideoID:       r.args.VideoID,
		UploadedFiles: res.UploadedCount,
		UploadedBytes: res.TotalBytes,
		MasterPath:    masterPath,
	}, nil
}

func (r *jobRun) deleteRemoteSource(ctx context.Context) {
	d, ok := r.p.Storage.(Deleter)
	if !ok {
		r.logger.Warn("storage gateway cannot delete the source object")
		return
	}
	if err := d.Delete(ctx, r.args.Key); err != nil {
		r.logger.Warn("cleanup failed", "target", r.args.Key, "error", fmt.Errorf("%w: %w", ErrCleanup, err))
	}
}
