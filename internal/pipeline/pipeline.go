// Package pipeline validates and applies a confirmed batch, streaming
// progress events to a single subscriber.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/batchbot/internal/directory"
	"github.com/ashureev/batchbot/internal/domain"
)

// SummaryStore persists the result summary of a run.
type SummaryStore interface {
	SaveSummary(ctx context.Context, sessionID string, sum domain.ResultSummary, ttl time.Duration) error
}

// Sink receives the events of one run.
type Sink interface {
	Publish(Event)
	// Discarded reports that nobody will read the results any more; the
	// summary is then not persisted.
	Discarded() bool
}

// Config holds the collaborators of a Pipeline.
type Config struct {
	Validator  directory.Validator
	Actor      directory.Actor
	Summaries  SummaryStore
	Registry   *Registry
	SummaryTTL time.Duration
	Logger     *slog.Logger
}

// Pipeline runs confirmed batches in two phases: validate every request,
// then act on the ones that validated.
type Pipeline struct {
	validator  directory.Validator
	actor      directory.Actor
	summaries  SummaryStore
	registry   *Registry
	summaryTTL time.Duration
	logger     *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Pipeline{
		validator:  cfg.Validator,
		actor:      cfg.Actor,
		summaries:  cfg.Summaries,
		registry:   registry,
		summaryTTL: cfg.SummaryTTL,
		logger:     logger,
	}
}

// Registry returns the stream registry runs publish to.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Start runs the batch in the background. The batch is copied, so later
// changes to the caller's slice do not affect the run. Start fails with
// ErrPipelineActive while a previous run for the session is still going.
func (p *Pipeline) Start(sessionID string, batch []domain.Request) error {
	st, err := p.registry.open(sessionID)
	if err != nil {
		return err
	}
	snapshot := domain.CloneBatch(batch)

	p.logger.Info("pipeline started", "session_id", sessionID, "requests", len(snapshot))
	go func() {
		defer st.finish(p.registry.now())
		// Detached from the triggering request; the run outlives it.
		p.Run(context.Background(), sessionID, snapshot, st)
	}()
	return nil
}

// Run processes the batch synchronously, publishing every event to sink, and
// returns the result summary. Requests are handled strictly in order. The
// summary is only stored once the action phase has run.
func (p *Pipeline) Run(ctx context.Context, sessionID string, batch []domain.Request, sink Sink) domain.ResultSummary {
	sum := domain.ResultSummary{
		Successes:        []string{},
		ValidationErrors: []string{},
		ActionErrors:     []string{},
	}

	sink.Publish(phase(PhaseValidation, MsgValidationStarted))
	validated := make([]domain.Request, 0, len(batch))
	for _, req := range batch {
		sink.Publish(update(req.ID, StatusValidating, ""))
		out := p.invoke(ctx, "validate", req, p.validator.Validate)
		if out.Success {
			validated = append(validated, req)
			sink.Publish(update(req.ID, StatusValidationSuccess, out.Message))
		} else {
			sum.ValidationErrors = append(sum.ValidationErrors, out.Message)
			sink.Publish(update(req.ID, StatusValidationFailed, out.Message))
		}
	}

	if len(validated) == 0 {
		sink.Publish(phase(PhaseComplete, MsgNothingValidated))
		p.logger.Info("pipeline stopped, nothing validated",
			"session_id", sessionID,
			"validation_errors", len(sum.ValidationErrors),
		)
		return sum
	}

	sink.Publish(phase(PhaseProcessing, MsgProcessingStarted))
	for _, req := range validated {
		sink.Publish(update(req.ID, StatusProcessing, ""))
		out := p.invoke(ctx, "apply", req, p.actor.Apply)
		if out.Success {
			sum.Successes = append(sum.Successes, out.Message)
			sink.Publish(update(req.ID, StatusActionSuccess, out.Message))
		} else {
			sum.ActionErrors = append(sum.ActionErrors, out.Message)
			sink.Publish(update(req.ID, StatusActionFailed, out.Message))
		}
	}

	p.persist(ctx, sessionID, sum, sink)
	sink.Publish(phase(PhaseComplete, MsgAllFinished))

	p.logger.Info("pipeline finished",
		"session_id", sessionID,
		"successes", len(sum.Successes),
		"validation_errors", len(sum.ValidationErrors),
		"action_errors", len(sum.ActionErrors),
	)
	return sum
}

func (p *Pipeline) persist(ctx context.Context, sessionID string, sum domain.ResultSummary, sink Sink) {
	if sink.Discarded() {
		p.logger.Info("session closed during processing, summary dropped", "session_id", sessionID)
		return
	}
	if p.summaries == nil {
		return
	}
	if err := p.summaries.SaveSummary(ctx, sessionID, sum, p.summaryTTL); err != nil {
		p.logger.Error("failed to save result summary", "session_id", sessionID, "error", err)
	}
}

type collaboratorCall func(context.Context, domain.Request) (directory.Outcome, error)

// invoke calls a collaborator once. Errors and panics count as failure with
// their text as the message.
func (p *Pipeline) invoke(ctx context.Context, op string, req domain.Request, call collaboratorCall) (out directory.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("collaborator panicked", "op", op, "request_id", req.ID, "panic", r)
			out = directory.Outcome{Success: false, Message: fmt.Sprintf("request %d: %v", req.ID, r)}
		}
	}()

	out, err := call(ctx, req)
	if err != nil {
		p.logger.Warn("collaborator call failed", "op", op, "request_id", req.ID, "error", err)
		return directory.Outcome{Success: false, Message: err.Error()}
	}
	return out
}
