// Package janitor removes expired session state and stale progress streams.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredDeleter removes expired rows from the session store.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// StreamSweeper evicts finished progress streams nobody subscribed to.
type StreamSweeper interface {
	Sweep(maxAge time.Duration) int
}

// Janitor periodically sweeps the store and the stream registry. SQLite and
// Postgres have no native key expiry, so expired rows would otherwise pile up.
type Janitor struct {
	store        ExpiredDeleter
	streams      StreamSweeper
	interval     time.Duration
	streamMaxAge time.Duration
	logger       *slog.Logger
}

// New creates a janitor. streamMaxAge is normally the summary TTL: after it
// the run's results are gone anyway.
func New(store ExpiredDeleter, streams StreamSweeper, interval, streamMaxAge time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		store:        store,
		streams:      streams,
		interval:     interval,
		streamMaxAge: streamMaxAge,
		logger:       logger,
	}
}

// Start runs the sweep loop in a background goroutine until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	go func() {
		defer ticker.Stop()
		j.logger.Info("janitor started", "interval", j.interval, "stream_max_age", j.streamMaxAge)

		for {
			select {
			case <-ticker.C:
				j.Sweep(ctx)
			case <-ctx.Done():
				j.logger.Info("janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one cleanup pass.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.store != nil {
		deleted, err := j.store.DeleteExpired(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			j.logger.Debug("janitor sweep interrupted", "error", err)
		case err != nil:
			j.logger.Error("janitor failed to delete expired state", "error", err)
		case deleted > 0:
			j.logger.Info("janitor deleted expired state", "count", deleted)
		}
	}

	if j.streams != nil {
		if n := j.streams.Sweep(j.streamMaxAge); n > 0 {
			j.logger.Info("janitor evicted stale progress streams", "count", n)
		}
	}
}
