// Package service implements the session operations behind the HTTP API:
// conversational turns, batch processing triggers and progress subscriptions.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/ashureev/batchbot/internal/extraction"
	"github.com/ashureev/batchbot/internal/intent"
	"github.com/ashureev/batchbot/internal/pipeline"
	"github.com/ashureev/batchbot/internal/store"
)

// Config holds the collaborators of a Service.
type Config struct {
	Store        store.Repository
	Extractor    extraction.Extractor
	Reducer      *intent.Reducer
	Pipeline     *pipeline.Pipeline
	SystemPrompt string
	SessionTTL   time.Duration
	Logger       *slog.Logger
}

// Service runs session operations. Each call loads the session, mutates a
// copy and saves it back; concurrent calls for one session are not serialised.
type Service struct {
	store        store.Repository
	extractor    extraction.Extractor
	reducer      *intent.Reducer
	pipeline     *pipeline.Pipeline
	systemPrompt string
	sessionTTL   time.Duration
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// New creates a service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reducer := cfg.Reducer
	if reducer == nil {
		reducer = intent.NewReducer(logger)
	}
	return &Service{
		store:        cfg.Store,
		extractor:    cfg.Extractor,
		reducer:      reducer,
		pipeline:     cfg.Pipeline,
		systemPrompt: cfg.SystemPrompt,
		sessionTTL:   cfg.SessionTTL,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Reply is the result of one conversational turn.
type Reply struct {
	Reply               string             `json:"ai_response"`
	ConfirmationSummary string             `json:"confirmation_summary,omitempty"`
	Corrected           []int              `json:"corrected_request_ids,omitempty"`
	Batch               []domain.Request   `json:"requests_in_batch"`
	Status              domain.BatchStatus `json:"batch_status"`
	State               domain.BotState    `json:"current_bot_state"`
}

func replyFor(s *domain.Session, text string) *Reply {
	batch := s.Batch
	if batch == nil {
		batch = []domain.Request{}
	}
	return &Reply{
		Reply:  text,
		Batch:  batch,
		Status: s.Status,
		State:  s.State,
	}
}

// Open creates a session owned by the caller.
func (s *Service) Open(ctx context.Context, owner string) (*domain.Session, error) {
	sess := domain.NewSession(s.newID(), s.systemPrompt, s.now())
	sess.Owner = owner
	if err := s.store.SaveSession(ctx, sess, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.logger.Info("session created", "session_id", sess.ID, "user_email", owner)
	return sess, nil
}

// Get returns the session if the caller owns it.
func (s *Service) Get(ctx context.Context, owner, id string) (*domain.Session, error) {
	return s.load(ctx, owner, id)
}

func (s *Service) load(ctx context.Context, owner, id string) (*domain.Session, error) {
	sess, err := s.store.LoadSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !sess.OwnedBy(owner) {
		return nil, domain.ErrUnauthorized
	}
	return sess, nil
}

// PostMessage runs one conversational turn. The summarize trigger narrates
// the result of the last pipeline run instead. On any collaborator failure
// the stored session is left as it was.
func (s *Service) PostMessage(ctx context.Context, owner, id, text string) (*Reply, error) {
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if text == intent.SummarizeTrigger {
		return s.summarize(ctx, sess)
	}

	next := sess.Clone()
	next.Append(domain.RoleUser, text)

	raw, err := s.extractor.Extract(ctx, next.History)
	if err != nil {
		return nil, fmt.Errorf("extract intent: %w", err)
	}
	update, err := intent.Decode(raw)
	if err != nil {
		s.logger.Warn("discarding malformed intent update", "session_id", id, "error", err)
		return nil, err
	}
	out, err := s.reducer.Apply(next, update)
	if err != nil {
		s.logger.Warn("rejecting intent update", "session_id", id, "error", err)
		return nil, err
	}
	next.Append(domain.RoleAssistant, raw)

	if err := s.store.SaveSession(ctx, next, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	r := replyFor(next, out.Reply)
	r.ConfirmationSummary = out.ConfirmationPrompt
	r.Corrected = out.Corrected
	return r, nil
}

func (s *Service) summarize(ctx context.Context, sess *domain.Session) (*Reply, error) {
	sum, err := s.store.LoadSummary(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	if sum == nil {
		s.logger.Info("no result summary to narrate", "session_id", sess.ID)
		sess.State = domain.StateFinalizing
		sess.UpdatedAt = s.now()
		if err := s.store.SaveSession(ctx, sess, s.sessionTTL); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
		return replyFor(sess, intent.NoSummaryReply), nil
	}

	next := sess.Clone()
	next.Append(domain.RoleSystem, intent.ClosingContext(*sum))

	raw, err := s.extractor.Extract(ctx, next.History)
	if err != nil {
		return nil, fmt.Errorf("narrate results: %w", err)
	}
	text, err := intent.DecodeReply(raw)
	if err != nil {
		return nil, err
	}
	next.Append(domain.RoleAssistant, raw)
	next.Batch = nil
	next.Status = domain.BatchStatus{}
	next.ConfirmationSummary = ""
	next.State = domain.StateFinalizing
	next.UpdatedAt = s.now()

	// Consume the summary first: if the save below fails, a retry reports
	// no summary instead of narrating the same results twice.
	if err := s.store.DeleteSummary(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("delete summary: %w", err)
	}
	if err := s.store.SaveSession(ctx, next, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.logger.Info("result summary narrated",
		"session_id", sess.ID,
		"successes", len(sum.Successes),
		"validation_errors", len(sum.ValidationErrors),
		"action_errors", len(sum.ActionErrors),
	)
	return replyFor(next, text), nil
}

// TriggerProcessing starts the pipeline for the session's confirmed batch.
// The confirmation is consumed so the same batch cannot run twice.
func (s *Service) TriggerProcessing(ctx context.Context, owner, id string) error {
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return err
	}
	if s.pipeline.Registry().Active(id) {
		return domain.ErrPipelineActive
	}
	if len(sess.Batch) == 0 || !sess.Status.BatchConfirmed || !sess.State.CollectsBatch() {
		return domain.ErrNoActiveBatch
	}

	batch := domain.CloneBatch(sess.Batch)
	sess.State = domain.StateProcessing
	sess.Status.BatchConfirmed = false
	sess.UpdatedAt = s.now()
	if err := s.store.SaveSession(ctx, sess, s.sessionTTL); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if err := s.pipeline.Start(id, batch); err != nil {
		return err
	}
	s.logger.Info("batch processing triggered", "session_id", id, "user_email", owner, "requests", len(batch))
	return nil
}

// Subscribe attaches the caller to the session's progress stream.
func (s *Service) Subscribe(ctx context.Context, owner, id string) (*pipeline.Subscription, error) {
	if _, err := s.load(ctx, owner, id); err != nil {
		return nil, err
	}
	return s.pipeline.Registry().Subscribe(id)
}

// Close deletes the session. A running pipeline keeps going but its
// progress stream is discarded and its summary dropped.
func (s *Service) Close(ctx context.Context, owner, id string) error {
	if _, err := s.load(ctx, owner, id); err != nil {
		return err
	}
	if s.pipeline.Registry().Discard(id) {
		s.logger.Info("discarded progress stream", "session_id", id)
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Info("session closed", "session_id", id, "user_email", owner)
	return nil
}

// Ready reports whether the session store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return errors.Join(domain.ErrStoreUnavailable, err)
	}
	return nil
}
