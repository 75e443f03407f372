package domain

import (
	"fmt"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BotState is the lifecycle state of a session's assistant.
type BotState int

const (
	StateGathering BotState = iota
	StateAwaitingBatchConfirmation
	StateAwaitingCorrectionInput
	StateProcessing
	StateFinalizing
	StateError
)

var botStateNames = [...]string{
	StateGathering:                 "GATHERING",
	StateAwaitingBatchConfirmation: "AWAITING_BATCH_CONFIRMATION",
	StateAwaitingCorrectionInput:   "AWAITING_CORRECTION_INPUT",
	StateProcessing:                "PROCESSING",
	StateFinalizing:                "FINALIZING",
	StateError:                     "ERROR",
}

func (s BotState) String() string {
	if s < 0 || int(s) >= len(botStateNames) {
		return fmt.Sprintf("BotState(%d)", int(s))
	}
	return botStateNames[s]
}

// MarshalText encodes the state by name.
func (s BotState) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(botStateNames) {
		return nil, fmt.Errorf("unknown bot state %d", int(s))
	}
	return []byte(botStateNames[s]), nil
}

// UnmarshalText decodes a state from its name.
func (s *BotState) UnmarshalText(text []byte) error {
	name := string(text)
	for i, n := range botStateNames {
		if n == name {
			*s = BotState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown bot state %q", name)
}

// AwaitingConfirmation reports whether the assistant has presented a batch
// summary that the user has not yet accepted, including a pending correction.
func (s BotState) AwaitingConfirmation() bool {
	return s == StateAwaitingBatchConfirmation || s == StateAwaitingCorrectionInput
}

// CollectsBatch reports whether the assistant is still building the current
// batch. Once processing starts the batch is closed and the next one starts
// from scratch.
func (s BotState) CollectsBatch() bool {
	switch s {
	case StateGathering, StateAwaitingBatchConfirmation, StateAwaitingCorrectionInput:
		return true
	}
	return false
}

// Session is the full conversational state of one batch session.
type Session struct {
	ID                  string      `json:"session_id"`
	Owner               string      `json:"user_email"`
	History             []Message   `json:"conversation_history"`
	Batch               []Request   `json:"active_requests_batch"`
	Status              BatchStatus `json:"batch_status"`
	State               BotState    `json:"current_bot_state"`
	ConfirmationSummary string      `json:"confirmation_summary,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// NewSession returns the default state for a session that has no stored state.
// The history is seeded with the system prompt.
func NewSession(id, systemPrompt string, now time.Time) *Session {
	s := &Session{
		ID:        id,
		State:     StateGathering,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if systemPrompt != "" {
		s.History = []Message{{Role: RoleSystem, Content: systemPrompt}}
	}
	return s
}

// OwnedBy reports whether the session belongs to the given caller.
func (s *Session) OwnedBy(owner string) bool {
	return s.Owner != "" && s.Owner == owner
}

// Append adds a message to the conversation history.
func (s *Session) Append(role, content string) {
	s.History = append(s.History, Message{Role: role, Content: content})
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.History != nil {
		c.History = make([]Message, len(s.History))
		copy(c.History, s.History)
	}
	c.Batch = CloneBatch(s.Batch)
	return &c
}

// ResultSummary is the outcome of one pipeline run.
type ResultSummary struct {
	Successes        []string `json:"successes"`
	ValidationErrors []string `json:"validation_errors"`
	ActionErrors     []string `json:"action_errors"`
}

// IntentUpdate is the structured document returned by the extraction collaborator.
type IntentUpdate struct {
	BatchStatus         BatchStatus `json:"batch_status"`
	Requests            []Request   `json:"requests_in_batch"`
	CurrentFocus        *int        `json:"current_focus_request_id"`
	ConsolidatedSummary *string     `json:"consolidated_summary_for_confirmation"`
	Reply               string      `json:"ai_response"`
}
