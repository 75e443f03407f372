package intent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
)

// Outcome describes what an applied update changed.
type Outcome struct {
	Reply string
	// ConfirmationPrompt is the numbered batch summary, set only on the turn
	// the batch enters AWAITING_BATCH_CONFIRMATION.
	ConfirmationPrompt string
	// Corrected lists the requests reset from complete to gathering.
	Corrected []int
}

// Reducer applies intent updates to a session.
type Reducer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewReducer creates a reducer.
func NewReducer(logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{logger: logger, now: time.Now}
}

// Apply replaces the session batch with the update's requests and recomputes
// the aggregate status and lifecycle state. On error the session is left
// untouched.
func (r *Reducer) Apply(s *domain.Session, update *domain.IntentUpdate) (*Outcome, error) {
	if err := ValidateRequests(update.Requests); err != nil {
		return nil, &domain.DecodeError{Reason: "invalid request batch", Err: err}
	}

	prevState := s.State
	var prevBatch []domain.Request
	if prevState.CollectsBatch() {
		prevBatch = s.Batch
	}
	// A confirmed batch that has not been triggered yet can still be amended.
	allowCorrection := prevState.AwaitingConfirmation() || s.Status.BatchConfirmed
	corrected, err := checkTransitions(prevBatch, update.Requests, allowCorrection)
	if err != nil {
		return nil, &domain.DecodeError{Reason: "invalid status transition", Err: err}
	}

	complete := domain.BatchDataComplete(update.Requests)
	awaiting := update.BatchStatus.AwaitingBatchConfirmation
	if awaiting && !complete {
		r.logger.Warn("ignoring confirmation request for incomplete batch",
			"session_id", s.ID,
			"requests", len(update.Requests),
		)
		awaiting = false
	}
	confirmed := update.BatchStatus.BatchConfirmed && complete &&
		(prevState == domain.StateAwaitingBatchConfirmation || s.Status.BatchConfirmed)
	if confirmed {
		awaiting = false
	}

	var next domain.BotState
	switch {
	case awaiting:
		next = domain.StateAwaitingBatchConfirmation
	case confirmed:
		next = domain.StateGathering
	case len(corrected) > 0, prevState.AwaitingConfirmation():
		next = domain.StateAwaitingCorrectionInput
	default:
		next = domain.StateGathering
	}

	out := &Outcome{Reply: update.Reply, Corrected: corrected}

	s.Batch = domain.CloneBatch(update.Requests)
	s.Status = domain.BatchStatus{
		BatchDataComplete:         complete,
		AwaitingBatchConfirmation: awaiting,
		BatchConfirmed:            confirmed,
	}
	if awaiting {
		s.ConfirmationSummary = domain.ConfirmationSummary(s.Batch)
		if prevState != domain.StateAwaitingBatchConfirmation {
			out.ConfirmationPrompt = s.ConfirmationSummary
		}
	} else if !confirmed {
		s.ConfirmationSummary = ""
	}
	if next != prevState {
		r.logger.Info("bot state changed",
			"session_id", s.ID,
			"from", prevState.String(),
			"to", next.String(),
		)
	}
	s.State = next
	s.UpdatedAt = r.now()

	return out, nil
}

// checkTransitions verifies that no request moved backwards, except complete
// to gathering when a correction is allowed. It returns the corrected ids.
func checkTransitions(prev, next []domain.Request, allowCorrection bool) ([]int, error) {
	before := make(map[int]domain.GatheringStatus, len(prev))
	for _, r := range prev {
		before[r.ID] = r.Status
	}

	var corrected []int
	for _, r := range next {
		old, ok := before[r.ID]
		if !ok || !old.Precedes(r.Status) {
			continue
		}
		if allowCorrection && old == domain.StatusComplete && r.Status == domain.StatusGathering {
			corrected = append(corrected, r.ID)
			continue
		}
		return nil, fmt.Errorf("request %d moved from %s back to %s", r.ID, old, r.Status)
	}
	return corrected, nil
}
