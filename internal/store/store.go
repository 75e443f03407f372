// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
)

// Repository defines the interface for persisting session state and pipeline
// result summaries. Every entry carries its own expiry; expired entries are
// invisible to reads even before DeleteExpired removes them.
type Repository interface {
	// LoadSession retrieves session state, returning the default state when
	// none is stored or the stored state has expired.
	LoadSession(ctx context.Context, id string) (*domain.Session, error)

	// SaveSession stores session state, replacing any previous state and
	// resetting its expiry to ttl from now.
	SaveSession(ctx context.Context, s *domain.Session, ttl time.Duration) error

	// DeleteSession removes session state and any pending result summary.
	DeleteSession(ctx context.Context, id string) error

	// SaveSummary stores the result summary of a pipeline run.
	SaveSummary(ctx context.Context, sessionID string, sum domain.ResultSummary, ttl time.Duration) error

	// LoadSummary retrieves a pending result summary. It returns nil, nil
	// when none is stored or it has expired.
	LoadSummary(ctx context.Context, sessionID string) (*domain.ResultSummary, error)

	// DeleteSummary removes a pending result summary.
	DeleteSummary(ctx context.Context, sessionID string) error

	// DeleteExpired removes expired sessions and summaries.
	DeleteExpired(ctx context.Context) (int64, error)

	// Ping verifies connectivity and returns an error if the store is unreachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// Options configures the default state handed out for unknown sessions.
type Options struct {
	// SystemPrompt seeds the history of default sessions.
	SystemPrompt string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) defaultSession(id string) *domain.Session {
	return domain.NewSession(id, o.SystemPrompt, o.now())
}

func encodeSession(s *domain.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return data, nil
}

func decodeSession(data []byte) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func encodeSummary(sum domain.ResultSummary) ([]byte, error) {
	data, err := json.Marshal(sum)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return data, nil
}

func decodeSummary(data []byte) (*domain.ResultSummary, error) {
	var sum domain.ResultSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &sum, nil
}
