package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reporter receives progress events. Reporting is best effort: a reporter
// logs its own failures and never fails the job.
type Reporter interface {
	Report(ctx context.Context, event ProgressEvent)
}

type ReporterFunc func(ctx context.Context, event ProgressEvent)

func (f ReporterFunc) Report(ctx context.Context, event ProgressEvent) {
	f(ctx, event)
}

// MultiReporter fans an event out to every reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(ctx context.Context, event ProgressEvent) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, event)
		}
	}
}

// dedupReporter drops events identical to the previous one, which keeps the
// encoder's per-line samples from flooding downstream reporters.
type dedupReporter struct {
	next Reporter
	last *ProgressEvent
}

func (d *dedupReporter) Report(ctx context.Context, event ProgressEvent) {
	if d.last != nil && d.last.Type == event.Type && d.last.Percent == event.Percent &&
		d.last.Resolution == event.Resolution && d.last.Status == event.Status {
		return
	}
	ev := event
	d.last = &ev
	d.next.Report(ctx, event)
}

const (
	ProgressChannel   = "video-progress"
	progressKeyPrefix = "stream:"
	progressKeyTTL    = 24 * time.Hour
)

// RedisReporter publishes events on a pub/sub channel and keeps the latest
// event per video in a hash for clients that connect late.
type RedisReporter struct {
	Client *redis.Client
	Logger *slog.Logger
}

// NewRedisReporter connects to addr and verifies the connection.
func NewRedisReporter(ctx context.Context, addr string, logger *slog.Logger) (*RedisReporter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisReporter{Client: client, Logger: logger}, nil
}

func (r *RedisReporter) Report(ctx context.Context, event ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.Logger.Warn("failed to marshal progress event", "error", err)
		return
	}
	if err := r.Client.Publish(ctx, ProgressChannel, payload).Err(); err != nil {
		r.Logger.Warn("failed to publish progress event", "video_id", event.VideoID, "error", err)
		return
	}

	key := progressKeyPrefix + event.VideoID
	fields := []any{
		"type", string(event.Type),
		"percent", event.Percent,
		"status", event.Status,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	}
	if event.Error != nil {
		fields = append(fields, "error", *event.Error)
	}
	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, key, fields...)
	pipe.Expire(ctx, key, progressKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.Logger.Warn("failed to store progress event", "video_id", event.VideoID, "error", err)
	}
}

func (r *RedisReporter) Close() error {
	return r.Client.Close()
}
