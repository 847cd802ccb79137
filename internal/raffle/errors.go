package raffle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientPayment   = errors.New("insufficient payment")
	ErrRoundNotOpen          = errors.New("round is not open")
	ErrUpkeepNotNeeded       = errors.New("upkeep not needed")
	ErrUnknownRequest        = errors.New("unknown randomness request")
	ErrPayoutFailed          = errors.New("payout failed")
	ErrRaffleFull            = errors.New("raffle is full")
	ErrPoolOverflow          = errors.New("pooled funds overflow")
	ErrNoRandomWords         = errors.New("no random words delivered")
	ErrRandomnessRequest     = errors.New("randomness request failed")
	ErrOnlyCoordinator       = errors.New("only the coordinator can fulfill")
	ErrPlayerIndexOutOfRange = errors.New("player index out of range")
	ErrInvalidConfig         = errors.New("invalid raffle config")
)

// InsufficientPaymentError reports an entry below the entrance fee.
type InsufficientPaymentError struct {
	Required *uint256.Int
	Sent     *uint256.Int
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("%s: sent %s, required %s", ErrInsufficientPayment, e.Sent.Dec(), e.Required.Dec())
}

func (e *InsufficientPaymentError) Unwrap() error { return ErrInsufficientPayment }

// UpkeepNotNeededError carries the state that made a draw ineligible.
type UpkeepNotNeededError struct {
	Balance    *uint256.Int
	Players    int
	Phase      Phase
	Diagnostic Diagnostic
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("%s: balance=%s players=%d phase=%s conditions=%s",
		ErrUpkeepNotNeeded, e.Balance.Dec(), e.Players, e.Phase, e.Diagnostic)
}

func (e *UpkeepNotNeededError) Unwrap() error { return ErrUpkeepNotNeeded }

// UnknownRequestError rejects a fulfillment that does not match the pending
// request.
type UnknownRequestError struct {
	RequestID  RequestID
	Pending    RequestID
	HasPending bool
}

func (e *UnknownRequestError) Error() string {
	if !e.HasPending {
		return fmt.Sprintf("%s: %s (no request pending)", ErrUnknownRequest, e.RequestID)
	}
	return fmt.Sprintf("%s: %s (pending %s)", ErrUnknownRequest, e.RequestID, e.Pending)
}

func (e *UnknownRequestError) Unwrap() error { return ErrUnknownRequest }

// PayoutError reports a failed prize transfer. The round stays in the
// drawing phase.
type PayoutError struct {
	RequestID RequestID
	Winner    common.Address
	Amount    *uint256.Int
	Err       error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("%s: %s to %s for request %s: %v",
		ErrPayoutFailed, e.Amount.Dec(), e.Winner.Hex(), e.RequestID, e.Err)
}

func (e *PayoutError) Unwrap() []error { return []error{ErrPayoutFailed, e.Err} }
