// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteConflictError checks if the error is a SQLITE_BUSY or
// "database is locked" error. Both are concurrency errors that warrant a retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// ConflictRetry controls RetryOnConflict.
type ConflictRetry struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultConflictRetry retries three times with 100ms, 200ms backoff.
var DefaultConflictRetry = ConflictRetry{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// RetryOnConflict runs fn, retrying with exponential backoff while it fails
// with a SQLite conflict error. Other errors are returned immediately.
func (r ConflictRetry) RetryOnConflict(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < r.Attempts; i++ {
		err = fn()
		if err == nil || !IsSQLiteConflictError(err) || i == r.Attempts-1 {
			return err
		}

		delay := r.BaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite conflict, retrying",
			"op", op,
			"attempt", i+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
