// Package api provides HTTP handlers for the batch assistant API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/ashureev/batchbot/internal/identity"
	"github.com/ashureev/batchbot/internal/middleware"
	"github.com/ashureev/batchbot/internal/pipeline"
	"github.com/ashureev/batchbot/internal/service"
)

// Sessions is the session service behind the handlers.
type Sessions interface {
	Open(ctx context.Context, owner string) (*domain.Session, error)
	Get(ctx context.Context, owner, id string) (*domain.Session, error)
	PostMessage(ctx context.Context, owner, id, text string) (*service.Reply, error)
	TriggerProcessing(ctx context.Context, owner, id string) error
	Subscribe(ctx context.Context, owner, id string) (*pipeline.Subscription, error)
	Close(ctx context.Context, owner, id string) error
	Ready(ctx context.Context) error
}

// Config holds the dependencies of a Handler.
type Config struct {
	Sessions    Sessions
	Tokens      *identity.TokenService
	RateLimiter *middleware.RateLimiter
	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin.
	AllowedOrigins []string
	// KeepaliveInterval spaces SSE pings; zero means 10s.
	KeepaliveInterval time.Duration
	// RetryDelay is the reconnect delay advertised to SSE clients; zero means 5s.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Handler serves the session API.
type Handler struct {
	sessions       Sessions
	tokens         *identity.TokenService
	limiter        *middleware.RateLimiter
	allowedOrigins []string
	keepalive      time.Duration
	retryDelay     time.Duration
	logger         *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		sessions:       cfg.Sessions,
		tokens:         cfg.Tokens,
		limiter:        cfg.RateLimiter,
		allowedOrigins: cfg.AllowedOrigins,
		keepalive:      cfg.KeepaliveInterval,
		retryDelay:     cfg.RetryDelay,
		logger:         cfg.Logger,
	}
	if h.keepalive <= 0 {
		h.keepalive = 10 * time.Second
	}
	if h.retryDelay <= 0 {
		h.retryDelay = 5 * time.Second
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterRoutes registers the API routes. Session routes require a bearer
// token; login and health are public.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware(identity.IPFromRequest))
		}
		r.Post("/auth/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(h.tokens))
		if h.limiter != nil {
			r.Use(h.limiter.Middleware(callerKey))
		}

		r.Post("/sessions", h.OpenSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CloseSession)
			r.Post("/messages", h.PostMessage)
			r.Post("/process-batch", h.TriggerProcessing)
			r.Get("/process-batch/status", h.StreamStatus)
			r.Get("/process-batch/ws", h.StreamWebSocket)
		})
	})
}

// callerKey rate limits authenticated callers by email.
func callerKey(r *http.Request) string {
	if email := identity.EmailFromContext(r.Context()); email != "" {
		return "user:" + email
	}
	return "ip:" + identity.IPFromRequest(r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	var decodeErr *domain.DecodeError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNoActiveBatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoActiveStream):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPipelineActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err as a JSON error. Server-side failures are
// logged with their cause and reported with a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	var decodeErr *domain.DecodeError

	switch {
	case status == http.StatusUnprocessableEntity && errors.As(err, &decodeErr):
		msg = "the assistant returned an unusable reply, please send your message again"
	case status == http.StatusBadGateway:
		msg = "the assistant service is unavailable, please try again"
	case status == http.StatusServiceUnavailable:
		msg = "the session store is unavailable, please try again"
	case status == http.StatusInternalServerError:
		msg = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"session_id", chi.URLParam(r, "sessionID"),
			"user_email", identity.EmailFromContext(r.Context()),
			"status", status,
			"error", err,
		)
	} else {
		h.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, msg)
}

// decodeBody reads a JSON request body of at most 64 KiB.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
