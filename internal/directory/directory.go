// Package directory talks to the user directory that validates and applies
// user-management requests.
package directory

import (
	"context"

	"github.com/ashureev/batchbot/internal/domain"
)

// Outcome is the verdict of one validation or action call.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Validator checks a request against the directory before it is applied.
type Validator interface {
	Validate(ctx context.Context, req domain.Request) (Outcome, error)
}

// Actor applies a validated request.
type Actor interface {
	Apply(ctx context.Context, req domain.Request) (Outcome, error)
}

// Service is both a Validator and an Actor.
type Service interface {
	Validator
	Actor
}
