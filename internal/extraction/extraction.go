// Package extraction provides clients for the language model that turns the
// conversation into a structured batch document.
package extraction

import (
	"context"

	"github.com/ashureev/batchbot/internal/domain"
)

// Extractor sends the conversation history and returns the raw document the
// model produced. Failures to reach the model match domain.ErrUpstreamUnavailable.
type Extractor interface {
	Extract(ctx context.Context, history []domain.Message) (string, error)
}
