package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/guichetec/backend/internal/broker"
	"github.com/guichetec/backend/internal/models"
	"github.com/guichetec/backend/internal/state"
)

// ServiceHandler serves the counter-side finalization of a service.
type ServiceHandler struct {
	store  *state.Store
	broker *broker.Broker
}

// NewServiceHandler creates a ServiceHandler backed by the given store and broker.
func NewServiceHandler(s *state.Store, b *broker.Broker) *ServiceHandler {
	return &ServiceHandler{store: s, broker: b}
}

// Finalize records a finished service in the history ledger, drops the
// ticket's session binding, and frees the counter. The engine accepts the
// operator's record even for a ticket it never saw called.
func (h *ServiceHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req models.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Number == "" && req.TicketID == "" {
		writeError(w, http.StatusBadRequest, "ticketId or number is required")
		return
	}

	entry := h.store.FinalizeService(req.Counter, req.TicketID, req.Category, req.Number, req.FinishedAt)

	h.broker.Broadcast(broker.Event{Name: broker.EventHistoryAppended, Data: entry})
	h.broker.Broadcast(broker.Event{
		Name: broker.EventCounterFreed,
		Data: models.CounterFreedEvent{Counter: req.Counter},
	})

	writeJSON(w, http.StatusOK, entry)
}
