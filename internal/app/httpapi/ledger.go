package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
		Amount  string `json:"amount"`
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
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, err := h.app.Ledger.Deposit(r.Context(), addr, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) account(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, err := h.app.Ledger.Account(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) transfers(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	history, err := h.app.Ledger.History(r.Context(), addr, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *handler) freeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, true)
}

func (h *handler) unfreeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, false)
}

func (h *handler) setFrozen(w http.ResponseWriter, r *http.Request, frozen bool) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if frozen {
		err = h.app.Ledger.Freeze(r.Context(), addr)
	} else {
		err = h.app.Ledger.Unfreeze(r.Context(), addr)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	acct, err := h.app.Ledger.Account(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
