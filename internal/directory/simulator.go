package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
)

// Simulator accepts every request after a fixed delay. It stands in for the
// directory in development.
type Simulator struct {
	ValidationLatency time.Duration
	ActionLatency     time.Duration
	Logger            *slog.Logger
}

// Validate waits ValidationLatency and reports success.
func (s *Simulator) Validate(ctx context.Context, req domain.Request) (Outcome, error) {
	s.logger().Info("validating request", "request_id", req.ID, "request_type", req.Type)
	if err := sleep(ctx, s.ValidationLatency); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Validation successful for request %d", req.ID),
	}, nil
}

// Apply waits ActionLatency and reports success.
func (s *Simulator) Apply(ctx context.Context, req domain.Request) (Outcome, error) {
	s.logger().Info("applying request", "request_id", req.ID, "request_type", req.Type)
	if err := sleep(ctx, s.ActionLatency); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Action completed: processed request for %s.", describeUsers(req.UsersInfo)),
	}, nil
}

func (s *Simulator) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func describeUsers(users []domain.UserInfo) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		switch {
		case u.Email != "":
			names = append(names, u.Email)
		case u.Name != "":
			names = append(names, u.Name)
		default:
			names = append(names, "unknown user")
		}
	}
	return strings.Join(names, ", ")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
