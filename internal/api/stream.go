package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/ashureev/batchbot/internal/identity"
	"github.com/ashureev/batchbot/internal/pipeline"
)

// nextEvent waits up to wait for the next event. idle is true when the wait
// elapsed without an event; nothing is consumed in that case.
func nextEvent(ctx context.Context, sub *pipeline.Subscription, wait time.Duration) (e pipeline.Event, ok, idle bool, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	e, ok, err = sub.Next(waitCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return pipeline.Event{}, false, true, nil
	}
	return e, ok, false, err
}

// StreamStatus streams the progress events of the session's pipeline run as
// Server-Sent Events. The stream ends after the terminal complete event. A
// client that disconnects early can reconnect and receive the events it has
// not seen yet.
//
//nolint:gocognit // SSE lifecycle handling keeps its branches together.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	owner := identity.EmailFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := h.sessions.Subscribe(r.Context(), owner, sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer sub.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.retryDelay.Milliseconds())); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	h.logger.Info("progress stream connected", "session_id", sessionID, "user_email", owner)
	ctx := r.Context()

	for {
		e, ok, idle, err := nextEvent(ctx, sub, h.keepalive)
		switch {
		case err != nil && errors.Is(err, domain.ErrNoActiveStream):
			h.logger.Info("progress stream discarded", "session_id", sessionID)
			_ = writeSSE(w, "closed", `{"error":"session closed"}`)
			flusher.Flush()
			return
		case err != nil:
			h.logger.Info("progress stream disconnected", "session_id", sessionID)
			return
		case idle:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
			continue
		case !ok:
			h.logger.Info("progress stream finished", "session_id", sessionID)
			return
		}

		data, err := json.Marshal(e)
		if err != nil {
			h.logger.Error("failed to encode progress event", "error", err, "session_id", sessionID)
			return
		}
		if err := writeSSE(w, "", string(data)); err != nil {
			h.logger.Warn("failed to write SSE event", "error", err, "session_id", sessionID)
			return
		}
		flusher.Flush()
	}
}

// StreamWebSocket delivers the same progress events as StreamStatus as JSON
// text messages over a WebSocket.
func (h *Handler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	owner := identity.EmailFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	sub, err := h.sessions.Subscribe(r.Context(), owner, sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer sub.Close()

	patterns := h.allowedOrigins
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer ws.CloseNow()

	// Reads are not expected; CloseRead cancels ctx once the peer goes away.
	ctx := ws.CloseRead(r.Context())
	h.logger.Info("progress websocket connected", "session_id", sessionID, "user_email", owner)

	for {
		e, ok, idle, err := nextEvent(ctx, sub, h.keepalive)
		switch {
		case err != nil && errors.Is(err, domain.ErrNoActiveStream):
			_ = ws.Close(websocket.StatusGoingAway, "session closed")
			return
		case err != nil:
			h.logger.Info("progress websocket disconnected", "session_id", sessionID)
			return
		case idle:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.Warn("websocket ping failed", "error", err, "session_id", sessionID)
				return
			}
			continue
		case !ok:
			if err := ws.Close(websocket.StatusNormalClosure, "processing finished"); err != nil {
				h.logger.Debug("Failed to close websocket", "error", err, "session_id", sessionID)
			}
			return
		}

		if err := wsjson.Write(ctx, ws, e); err != nil {
			h.logger.Warn("failed to write progress event", "error", err, "session_id", sessionID)
			return
		}
	}
}

// writeSSE writes one event. An empty name sends the default message event.
func writeSSE(w io.Writer, event, data string) error {
	if event == "" {
		_, err := fmt.Fprintf(w, "data: %s\n\n", data)
		return err
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
