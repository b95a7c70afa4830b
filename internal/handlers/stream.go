package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/guichetec/backend/internal/broker"
	"github.com/guichetec/backend/internal/models"
	"github.com/guichetec/backend/internal/services"
	"github.com/guichetec/backend/internal/state"
)

// StreamHandler serves Server-Sent Events streams for real-time queue updates.
type StreamHandler struct {
	store  *state.Store
	broker *broker.Broker
	tokens *services.TokenService
}

// NewStreamHandler creates a StreamHandler backed by the given store, broker,
// and token service.
func NewStreamHandler(s *state.Store, b *broker.Broker, t *services.TokenService) *StreamHandler {
	return &StreamHandler{store: s, broker: b, tokens: t}
}

// Stream opens an SSE connection. It assigns the connection an ID and a
// signed token (sent in the "connected" event), follows with the full
// "initial_state" snapshot — the only catch-up mechanism for a party that
// missed earlier broadcasts — and then relays broker events until the client
// disconnects. A heartbeat comment is sent every 30 seconds to keep the
// connection alive through proxies. Disconnecting prunes the connection's
// session bindings but never touches queues or history.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	connectionID := uuid.NewString()
	token, err := h.tokens.GenerateToken(connectionID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to create connection token", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.broker.Register(connectionID)
	defer func() {
		h.broker.Unregister(connectionID)
		h.store.DropConnection(connectionID)
	}()

	writeEvent(w, broker.EventConnected, models.ConnectedEvent{
		ConnectionID: connectionID,
		Token:        token,
	})
	writeEvent(w, broker.EventInitialState, h.store.InitialState())
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				// Channel replaced or broker shut the connection down.
				return
			}
			writeEvent(w, ev.Name, ev.Data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE event with a JSON data payload.
func writeEvent(w http.ResponseWriter, name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal stream event", slog.String("event", name), slog.Any("error", err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}
