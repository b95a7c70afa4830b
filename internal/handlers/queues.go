package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/guichetec/backend/internal/broker"
	"github.com/guichetec/backend/internal/middleware"
	"github.com/guichetec/backend/internal/models"
	"github.com/guichetec/backend/internal/state"
)

// QueueHandler serves the operator-submitted authoritative resync.
type QueueHandler struct {
	store  *state.Store
	broker *broker.Broker
}

// NewQueueHandler creates a QueueHandler backed by the given store and broker.
func NewQueueHandler(s *state.Store, b *broker.Broker) *QueueHandler {
	return &QueueHandler{store: s, broker: b}
}

// Resync replaces the queues wholesale with the submitted arrays. This is
// the last-writer-wins path: the operator console is trusted after local
// reordering or removal. A payload that is not ticket arrays is rejected and
// the prior state retained. The updated state is broadcast to every
// connection except the submitter, which already holds what it pushed.
func (h *QueueHandler) Resync(w http.ResponseWriter, r *http.Request) {
	var req models.ResyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed resync payload")
		return
	}

	if err := h.store.Resync(req.NormalQueue, req.PriorityQueue); err != nil {
		if errors.Is(err, state.ErrMalformedResync) {
			writeError(w, http.StatusBadRequest, "malformed resync payload")
			return
		}
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to resync queues", err)
		return
	}

	snapshot := h.store.Snapshot()
	event := broker.Event{Name: broker.EventQueuesUpdated, Data: snapshot}
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		h.broker.BroadcastExcept(claims.ConnectionID, event)
	} else {
		h.broker.Broadcast(event)
	}

	writeJSON(w, http.StatusOK, snapshot)
}
