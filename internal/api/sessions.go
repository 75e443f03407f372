package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/ashureev/batchbot/internal/identity"
)

type loginRequest struct {
	Email string `json:"email"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	UserEmail string `json:"user_email"`
}

// sessionView is the client-facing state of a session. The conversation
// history stays server-side.
type sessionView struct {
	SessionID           string             `json:"session_id"`
	UserEmail           string             `json:"user_email"`
	Batch               []domain.Request   `json:"requests_in_batch"`
	Status              domain.BatchStatus `json:"batch_status"`
	State               domain.BotState    `json:"current_bot_state"`
	ConfirmationSummary string             `json:"confirmation_summary,omitempty"`
	Messages            int                `json:"message_count"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

func viewOf(s *domain.Session) sessionView {
	batch := s.Batch
	if batch == nil {
		batch = []domain.Request{}
	}
	return sessionView{
		SessionID:           s.ID,
		UserEmail:           s.Owner,
		Batch:               batch,
		Status:              s.Status,
		State:               s.State,
		ConfirmationSummary: s.ConfirmationSummary,
		Messages:            len(s.History),
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

// Login issues an access token for an allow-listed email.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		Error(w, http.StatusBadRequest, "email is required")
		return
	}

	tok, err := h.tokens.Login(req.Email)
	if err != nil {
		if errors.Is(err, identity.ErrEmailNotAllowed) {
			h.logger.Warn("login rejected", "user_email", req.Email, "ip", identity.IPFromRequest(r))
			Error(w, http.StatusUnauthorized, "email is not authorized")
			return
		}
		h.logger.Error("failed to issue token", "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.logger.Info("user logged in", "user_email", req.Email)
	JSON(w, http.StatusOK, tok)
}

// OpenSession creates a session owned by the caller.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	owner := identity.EmailFromContext(r.Context())
	sess, err := h.sessions.Open(r.Context(), owner)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, UserEmail: sess.Owner})
}

// GetSession returns the caller's view of a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	owner := identity.EmailFromContext(r.Context())
	sess, err := h.sessions.Get(r.Context(), owner, chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, viewOf(sess))
}

// PostMessage runs one conversational turn.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	owner := identity.EmailFromContext(r.Context())
	reply, err := h.sessions.PostMessage(r.Context(), owner, chi.URLParam(r, "sessionID"), req.Text)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// TriggerProcessing starts processing of the confirmed batch. Progress is
// read from the status stream.
func (h *Handler) TriggerProcessing(w http.ResponseWriter, r *http.Request) {
	owner := identity.EmailFromContext(r.Context())
	if err := h.sessions.TriggerProcessing(r.Context(), owner, chi.URLParam(r, "sessionID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"message": "Batch processing started."})
}

// CloseSession deletes a session.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	owner := identity.EmailFromContext(r.Context())
	if err := h.sessions.Close(r.Context(), owner, chi.URLParam(r, "sessionID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports whether the API and its session store are reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.sessions.Ready(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["store"] = "ok"
	}

	JSON(w, statusCode, status)
}
