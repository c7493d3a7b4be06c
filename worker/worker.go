package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/krelinga/hls-transcoder/internal"
	"github.com/riverqueue/river"
)

// StreamWorker handles HLS packaging jobs by running the pipeline.
type StreamWorker struct {
	river.WorkerDefaults[internal.StreamJobArgs]
	Pipeline *internal.Pipeline
	// Reporters receive every progress event in addition to the job output.
	Reporters internal.MultiReporter
	Logger    *slog.Logger
}

// Timeout disables River's default job timeout; encodes run for as long as
// the source needs.
func (w *StreamWorker) Timeout(*river.Job[internal.StreamJobArgs]) time.Duration {
	return -1
}

// Work executes one attempt of the pipeline. Permanent failures cancel the
// job; everything else is returned so River retries it under the client's
// retry policy.
func (w *StreamWorker) Work(ctx context.Context, job *river.Job[internal.StreamJobArgs]) error {
	logger := w.Logger.With("job_id", job.ID, "attempt", job.Attempt)
	reporter := internal.MultiReporter{
		&outputReporter{logger: logger},
		&webhookReporter{args: job.Args, logger: logger},
	}
	reporter = append(reporter, w.Reporters...)

	pipeline := *w.Pipeline
	pipeline.Logger = logger
	result, err := pipeline.Run(ctx, job.Args, reporter)
	if err != nil {
		permanent := internal.IsPermanent(err)
		exhausted := job.Attempt >= job.MaxAttempts
		// A busy tree belongs to another worker's run of the same video.
		if (permanent || exhausted) && !errors.Is(err, internal.ErrJobBusy) {
			if cleanupErr := w.Pipeline.Cleanup(job.Args); cleanupErr != nil {
				logger.Warn("cleanup failed", "error", cleanupErr)
			}
		}
		if permanent {
			logger.Warn("cancelling job after permanent failure", "error", err)
			return river.JobCancel(err)
		}
		if exhausted {
			logger.Error("job exhausted its attempts", "max_attempts", job.MaxAttempts, "error", err)
		}
		return err
	}

	logger.Info("stream published", "master", result.MasterPath, "renditions", result.Renditions)
	return nil
}

// outputReporter records the latest event as River job output so that it is
// stored alongside the finalized job.
type outputReporter struct {
	logger *slog.Logger
}

func (r *outputReporter) Report(ctx context.Context, event internal.ProgressEvent) {
	ev := event
	status := internal.StreamJobStatus{
		State:    internal.StateForEvent(event.Type),
		Progress: event.Percent,
		Event:    &ev,
		Error:    event.Error,
	}
	if err := river.RecordOutput(ctx, status); err != nil {
		r.logger.Warn("failed to record job output", "error", err)
	}
}

// webhookReporter enqueues a progress_webhook job for milestone events when
// the stream job carries a webhook URI. Intermediate percentages are not
// forwarded to keep the webhook queue small.
type webhookReporter struct {
	args   internal.StreamJobArgs
	logger *slog.Logger
	last   internal.EventType
}

func (r *webhookReporter) Report(ctx context.Context, event internal.ProgressEvent) {
	if r.args.WebhookURI == nil {
		return
	}
	if event.Type == r.last && event.Type != internal.EventError {
		return
	}
	r.last = event.Type

	client, err := river.ClientFromContextSafely[pgx.Tx](ctx)
	if err != nil {
		r.logger.Warn("cannot enqueue progress webhook", "error", err)
		return
	}
	_, err = client.Insert(ctx, internal.WebhookJobArgs{
		URI:   *r.args.WebhookURI,
		Token: r.args.WebhookToken,
		Event: event,
	}, nil)
	if err != nil {
		r.logger.Warn("failed to enqueue progress webhook", "type", event.Type, "error", err)
	}
}
