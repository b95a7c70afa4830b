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

// TicketHandler serves ticket issuance and the patient-side acknowledgement.
type TicketHandler struct {
	store  *state.Store
	broker *broker.Broker
}

// NewTicketHandler creates a TicketHandler backed by the given store and broker.
func NewTicketHandler(s *state.Store, b *broker.Broker) *TicketHandler {
	return &TicketHandler{store: s, broker: b}
}

// Issue creates a numbered ticket in the requested category. Remote-origin
// requests must carry a connection token so the eventual call can be
// delivered to the issuing device; kiosk requests are anonymous and default
// to manual origin.
func (h *TicketHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req models.IssueTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var connectionID string
	if req.Origin == models.OriginRemote {
		claims := middleware.GetClaims(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "connection token required for remote issuance")
			return
		}
		connectionID = claims.ConnectionID
	}

	ticket, err := h.store.Issue(req.Category, req.Origin, connectionID)
	if err != nil {
		if errors.Is(err, state.ErrInvalidCategory) {
			writeError(w, http.StatusBadRequest, "invalid ticket category")
			return
		}
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to issue ticket", err)
		return
	}

	h.broker.Broadcast(broker.Event{Name: broker.EventQueuesUpdated, Data: h.store.Snapshot()})

	writeJSON(w, http.StatusCreated, models.IssueTicketResponse{
		Ticket: ticket,
		Number: ticket.Number,
	})
}

// Ack removes the session binding for a ticket at the patient's request,
// e.g. after they have seen their call. No broadcast is produced; queues and
// history are untouched.
func (h *TicketHandler) Ack(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	var req models.AckTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TicketID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if bound, ok := h.store.BoundConnection(req.TicketID); ok && bound != claims.ConnectionID {
		writeError(w, http.StatusForbidden, "ticket is bound to another connection")
		return
	}

	h.store.FinalizePatient(req.TicketID)
	w.WriteHeader(http.StatusNoContent)
}
