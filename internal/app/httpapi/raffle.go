package httpapi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
)

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Machine.Snapshot())
}

func (h *handler) enter(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Player string `json:"player"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	player, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	if payload.Player != "" {
		named, err := parseAddress(payload.Player)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if named != player {
			writeError(w, http.StatusForbidden, fmt.Errorf("%w: token is for %s", middleware.ErrForbidden, player.Hex()))
			return
		}
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.app.Enter(r.Context(), player, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"player":       player.Hex(),
		"amount":       amount.Dec(),
		"round":        h.app.Machine.Round(),
		"players":      h.app.Machine.PlayerCount(),
		"pooled_funds": h.app.Machine.PooledFunds().Dec(),
	})
}

type upkeepResponse struct {
	Eligible   bool   `json:"upkeep_needed"`
	Diagnostic string `json:"diagnostic"`
	PerformHex string `json:"perform_data"`
}

func (h *handler) checkUpkeep(w http.ResponseWriter, r *http.Request) {
	eligible, diag := h.app.CheckUpkeep()
	writeJSON(w, http.StatusOK, upkeepResponse{
		Eligible:   eligible,
		Diagnostic: diag.String(),
		PerformHex: "0x" + hex.EncodeToString(diag.Bytes()),
	})
}

func (h *handler) performUpkeep(w http.ResponseWriter, r *http.Request) {
	id, err := h.app.PerformUpkeep(r.Context(), nil)
	if err != nil {
		var notNeeded *raffle.UpkeepNotNeededError
		if errors.As(err, &notNeeded) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":      err.Error(),
				"balance":    notNeeded.Balance.Dec(),
				"players":    notNeeded.Players,
				"phase":      notNeeded.Phase.String(),
				"diagnostic": notNeeded.Diagnostic.String(),
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": id.String(),
		"phase":      h.app.Machine.Phase().String(),
	})
}

// fulfill accepts random words from a remote oracle. The token subject is
// the address the oracle delivers as, which must be the configured
// coordinator.
func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RequestID   string   `json:"request_id"`
		RandomWords []string `json:"random_words"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := raffle.ParseRequestID(payload.RequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	words := make([]*uint256.Int, 0, len(payload.RandomWords))
	for _, raw := range payload.RandomWords {
		word, err := parseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		words = append(words, word)
	}

	caller, err := callerAddress(r)
	if err != nil {
		writeError(w, http.StatusForbidden, raffle.ErrOnlyCoordinator)
		return
	}

	if err := h.app.Fulfill(r.Context(), caller, id, words); err != nil {
		writeDomainError(w, err)
		return
	}
	winner, _ := h.app.Machine.LastWinner()
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": id.String(),
		"winner":     winner.Hex(),
		"round":      h.app.Machine.Round(),
	})
}

func (h *handler) players(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Machine.Players())
}

func (h *handler) player(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := h.app.Machine.Player(index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "player": addr.Hex()})
}

func (h *handler) winner(w http.ResponseWriter, r *http.Request) {
	winner, ok := h.app.Machine.LastWinner()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no winner yet"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"winner": winner.Hex()})
}

func (h *handler) rounds(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rounds, err := h.app.Rounds.ListRounds(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (h *handler) round(w http.ResponseWriter, r *http.Request) {
	number, err := parseUint(mux.Vars(r)["number"], "round")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	round, err := h.app.Rounds.GetRound(r.Context(), number)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// callerAddress returns the address carried as the verified token subject.
func callerAddress(r *http.Request) (common.Address, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || claims == nil {
		return common.Address{}, middleware.ErrMissingToken
	}
	return parseAddress(claims.Subject)
}
