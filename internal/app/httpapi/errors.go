package httpapi

import (
	"errors"
	"net/http"

	"github.com/R3E-Network/raffle_layer/internal/ledger"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/internal/vrf"
)

// statusFor maps domain errors to HTTP status codes. The first match wins,
// so a payout failure is reported as such even when its cause is a frozen
// account.
func statusFor(err error) int {
	switch {
	case errors.Is(err, raffle.ErrPayoutFailed):
		return http.StatusBadGateway
	case errors.Is(err, raffle.ErrRandomnessRequest):
		return http.StatusBadGateway
	case errors.Is(err, raffle.ErrOnlyCoordinator):
		return http.StatusForbidden
	case errors.Is(err, raffle.ErrUnknownRequest),
		errors.Is(err, raffle.ErrPlayerIndexOutOfRange),
		errors.Is(err, vrf.ErrRequestNotFound),
		errors.Is(err, vrf.ErrInvalidSubscription),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, raffle.ErrRoundNotOpen),
		errors.Is(err, raffle.ErrUpkeepNotNeeded),
		errors.Is(err, raffle.ErrRaffleFull),
		errors.Is(err, raffle.ErrPoolOverflow),
		errors.Is(err, vrf.ErrAlreadyFulfilled),
		errors.Is(err, vrf.ErrDeliveryInProgress),
		errors.Is(err, vrf.ErrNotRedeliverable),
		errors.Is(err, vrf.ErrInsufficientBalance),
		errors.Is(err, storage.ErrAccountFrozen):
		return http.StatusConflict
	case errors.Is(err, raffle.ErrInsufficientPayment),
		errors.Is(err, raffle.ErrNoRandomWords),
		errors.Is(err, storage.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, vrf.ErrInvalidConsumer):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}
