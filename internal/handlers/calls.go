package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/guichetec/backend/internal/broker"
	"github.com/guichetec/backend/internal/models"
	"github.com/guichetec/backend/internal/state"
)

// CallHandler serves operator call events.
type CallHandler struct {
	store  *state.Store
	broker *broker.Broker
}

// NewCallHandler creates a CallHandler backed by the given store and broker.
func NewCallHandler(s *state.Store, b *broker.Broker) *CallHandler {
	return &CallHandler{store: s, broker: b}
}

// Call registers a call of (category, number) at a counter. The ticket does
// not have to be queued anymore: re-calls and calls of tickets another
// console already synchronized away proceed on the caller's record alone.
// Everyone gets the updated queues and the panel event; the bound patient
// device, when one exists, additionally gets a targeted notification.
func (h *CallHandler) Call(w http.ResponseWriter, r *http.Request) {
	var req models.CallTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Number == "" || req.Counter == "" {
		writeError(w, http.StatusBadRequest, "number and counter are required")
		return
	}

	entry, boundConnection := h.store.CallTicket(req.Category, req.Number, req.Counter)

	h.broker.Broadcast(broker.Event{Name: broker.EventQueuesUpdated, Data: h.store.Snapshot()})
	h.broker.Broadcast(broker.Event{
		Name: broker.EventTicketCalled,
		Data: models.TicketCalledEvent{CurrentCalled: entry},
	})
	if boundConnection != "" {
		h.broker.Send(boundConnection, broker.Event{
			Name: broker.EventCounterCalled,
			Data: models.CounterCalledEvent{
				Ticket:  req.Category.Prefix() + req.Number,
				Counter: req.Counter,
			},
		})
	}

	writeJSON(w, http.StatusOK, models.TicketCalledEvent{CurrentCalled: entry})
}
