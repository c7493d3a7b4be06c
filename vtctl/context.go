package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krelinga/hls-transcoder/internal"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// streamBackend is the part of internal.StreamStore the commands use.
type streamBackend interface {
	Enqueue(ctx context.Context, args internal.StreamJobArgs) (*internal.StreamRecord, error)
	Lookup(ctx context.Context, videoID string) (*internal.StreamRecord, error)
	List(ctx context.Context, limit int) ([]*internal.StreamRecord, error)
}

type commandContext struct {
	logLevel string

	// openStreams and openPool are replaced in tests.
	openStreams func(ctx context.Context) (streamBackend, func(), error)
	openPool    func(ctx context.Context) (*pgxpool.Pool, func(), error)
}

func newCommandContext() *commandContext {
	c := &commandContext{}
	c.openPool = c.connect
	c.openStreams = c.connectStreams
	return c
}

func (c *commandContext) logger() *slog.Logger {
	logger, err := internal.NewLogger(&internal.LogConfig{Level: c.logLevel, Format: "console"})
	if err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return logger
}

// loadConfig converts the configuration panics into errors for the shell.
func (c *commandContext) loadConfig() (cfg *internal.CtlConfig, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid configuration: %v", r)
		}
	}()
	if err := internal.LoadDotEnv(); err != nil {
		return nil, err
	}
	return internal.NewCtlConfigFromEnv(), nil
}

func (c *commandContext) connect(ctx context.Context) (*pgxpool.Pool, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := internal.NewDBPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func (c *commandContext) connectStreams(ctx context.Context) (streamBackend, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := internal.NewDBPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{Logger: c.logger()})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create river client: %w", err)
	}
	return internal.NewStreamStore(pool, riverClient, internal.NewRetryPolicy(cfg.Retry)), pool.Close, nil
}

func (c *commandContext) withStreams(ctx context.Context, fn func(streamBackend) error) error {
	streams, closeFn, err := c.openStreams(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(streams)
}
