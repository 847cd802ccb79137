// Package vrf provides the randomness oracle used by the raffle: a
// subscription based coordinator with a signing prover, a background
// fulfiller and an HTTP client for a remote coordinator.
package vrf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/raffle"
)

const (
	MaxNumWords         uint32 = 500
	MaxCallbackGasLimit uint32 = 2_500_000
	MaxConfirmations    uint16 = 200
)

var (
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrInvalidConsumer      = errors.New("consumer not registered")
	ErrNumWordsTooHigh      = errors.New("number of words too high")
	ErrGasLimitTooHigh      = errors.New("callback gas limit too high")
	ErrInvalidConfirmations = errors.New("invalid request confirmations")
	ErrInsufficientBalance  = errors.New("insufficient subscription balance")
	ErrRequestNotFound      = errors.New("request not found")
	ErrAlreadyFulfilled     = errors.New("request already fulfilled")
	ErrDeliveryInProgress   = errors.New("delivery in progress")
	ErrNotRedeliverable     = errors.New("request has no failed delivery")
)

// Status tracks a request through delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusFailed    Status = "failed"
)

// Consumer receives random words. The raffle machine implements it.
type Consumer interface {
	RawFulfillRandomWords(ctx context.Context, caller common.Address, id raffle.RequestID, words []*uint256.Int) error
}

// Subscription pays for requests made by its consumers.
type Subscription struct {
	ID        uint64           `json:"id"`
	Owner     common.Address   `json:"owner"`
	Balance   *uint256.Int     `json:"balance"`
	Consumers []common.Address `json:"consumers"`
	CreatedAt time.Time        `json:"created_at"`
}

func (s Subscription) clone() Subscription {
	s.Balance = new(uint256.Int).Set(s.Balance)
	s.Consumers = append([]common.Address(nil), s.Consumers...)
	return s
}

// Request is a randomness request as tracked by the coordinator.
type Request struct {
	ID               raffle.RequestID `json:"id"`
	SubscriptionID   uint64           `json:"subscription_id"`
	Consumer         common.Address   `json:"consumer"`
	KeyHash          common.Hash      `json:"key_hash"`
	Confirmations    uint16           `json:"confirmations"`
	CallbackGasLimit uint32           `json:"callback_gas_limit"`
	NumWords         uint32           `json:"num_words"`
	PreSeed          common.Hash      `json:"pre_seed"`
	Status           Status           `json:"status"`
	Words            []*uint256.Int   `json:"words,omitempty"`
	Proof            *Proof           `json:"proof,omitempty"`
	Payment          *uint256.Int     `json:"payment,omitempty"`
	Attempts         int              `json:"attempts"`
	Error            string           `json:"error,omitempty"`
	RequestedAt      time.Time        `json:"requested_at"`
	FulfilledAt      time.Time        `json:"fulfilled_at,omitempty"`
}

func (r Request) clone() Request {
	if r.Words != nil {
		words := make([]*uint256.Int, len(r.Words))
		for i, w := range r.Words {
			words[i] = new(uint256.Int).Set(w)
		}
		r.Words = words
	}
	if r.Payment != nil {
		r.Payment = new(uint256.Int).Set(r.Payment)
	}
	if r.Proof != nil {
		p := *r.Proof
		r.Proof = &p
	}
	return r
}

// InsufficientBalanceError reports a subscription that cannot pay for a
// fulfillment.
type InsufficientBalanceError struct {
	SubscriptionID uint64
	Balance        *uint256.Int
	Payment        *uint256.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: subscription %d has %s, needs %s",
		ErrInsufficientBalance, e.SubscriptionID, e.Balance.Dec(), e.Payment.Dec())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
