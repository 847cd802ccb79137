package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/internal/vrf"
)

func (h *handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner string `json:"owner"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := parseAddress(payload.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := h.app.Coordinator.CreateSubscription(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeSubscription(w, http.StatusCreated, id)
}

func (h *handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(mux.Vars(r)["id"], "subscription id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeSubscription(w, http.StatusOK, id)
}

func (h *handler) fundSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(mux.Vars(r)["id"], "subscription id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Coordinator.FundSubscription(r.Context(), id, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeSubscription(w, http.StatusOK, id)
}

// addConsumer registers an in-process consumer. The raffle is the only
// consumer hosted by this process.
func (h *handler) addConsumer(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(mux.Vars(r)["id"], "subscription id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Address string `json:"address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(payload.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if addr != h.app.Machine.Address() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: no in-process consumer at %s", vrf.ErrInvalidConsumer, addr.Hex()))
		return
	}
	if err := h.app.Coordinator.AddConsumer(r.Context(), id, addr, h.app.Machine); err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeSubscription(w, http.StatusOK, id)
}

func (h *handler) removeConsumer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseUint(vars["id"], "subscription id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(vars["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Coordinator.RemoveConsumer(r.Context(), id, addr); err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeSubscription(w, http.StatusOK, id)
}

func (h *handler) writeSubscription(w http.ResponseWriter, status int, id uint64) {
	sub, err := h.app.Coordinator.GetSubscription(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status, sub)
}

func (h *handler) pendingRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Coordinator.PendingRequests(time.Now()))
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := raffle.ParseRequestID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeRequest(w, http.StatusOK, id)
}

func (h *handler) fulfillRequest(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, h.app.Coordinator.FulfillRandomWords)
}

func (h *handler) redeliverRequest(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, h.app.Coordinator.Redeliver)
}

func (h *handler) deliver(w http.ResponseWriter, r *http.Request, fn func(context.Context, raffle.RequestID) error) {
	id, err := raffle.ParseRequestID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := fn(r.Context(), id); err != nil {
		h.log.WithError(err).WithField("request_id", id.String()).Warn("delivery failed")
		writeDomainError(w, err)
		return
	}
	h.writeRequest(w, http.StatusOK, id)
}

func (h *handler) writeRequest(w http.ResponseWriter, status int, id raffle.RequestID) {
	req, err := h.app.Coordinator.Request(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status, req)
}
