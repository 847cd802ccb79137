// Package raffle implements the periodic VRF-drawn raffle state machine.
//
// A Machine accepts entries while a round is open, reports whether a draw is
// due, requests randomness from an Oracle and settles the round when the
// oracle delivers the matching fulfillment.
package raffle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/events"
)

// Phase is the lifecycle phase of the current round.
type Phase uint8

const (
	PhaseOpen Phase = iota
	PhaseDrawing
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "OPEN"
	case PhaseDrawing:
		return "DRAWING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// RequestID correlates a randomness request with its fulfillment.
type RequestID uint64

func (id RequestID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseRequestID parses the decimal form produced by String.
func ParseRequestID(s string) (RequestID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse request id %q: %w", s, err)
	}
	return RequestID(v), nil
}

// roundState is the tagged phase of the machine. The drawing variant is the
// only place a pending request id can live.
type roundState interface {
	phase() Phase
}

type openState struct{}

func (openState) phase() Phase { return PhaseOpen }

type drawingState struct {
	requestID RequestID
}

func (drawingState) phase() Phase { return PhaseDrawing }

// Diagnostic records which eligibility conditions held during a check.
type Diagnostic uint8

const (
	DiagOpen Diagnostic = 1 << iota
	DiagIntervalElapsed
	DiagHasPlayers
	DiagHasBalance

	DiagAll = DiagOpen | DiagIntervalElapsed | DiagHasPlayers | DiagHasBalance
)

var diagnosticNames = []struct {
	flag Diagnostic
	name string
}{
	{DiagOpen, "open"},
	{DiagIntervalElapsed, "interval_elapsed"},
	{DiagHasPlayers, "has_players"},
	{DiagHasBalance, "has_balance"},
}

// Has reports whether flag is set.
func (d Diagnostic) Has(flag Diagnostic) bool {
	return d&flag == flag
}

// Eligible reports whether every condition held.
func (d Diagnostic) Eligible() bool {
	return d.Has(DiagAll)
}

// Bytes is the one byte wire encoding of the diagnostic.
func (d Diagnostic) Bytes() []byte {
	return []byte{byte(d)}
}

func (d Diagnostic) String() string {
	var parts []string
	for _, n := range diagnosticNames {
		if d.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// RandomnessRequest is what the machine asks of the oracle.
type RandomnessRequest struct {
	KeyHash          common.Hash
	SubscriptionID   uint64
	Confirmations    uint16
	CallbackGasLimit uint32
	NumWords         uint32
	Requester        common.Address
}

// Oracle issues randomness requests. Implementations must not call back into
// the machine from RequestRandomWords.
type Oracle interface {
	RequestRandomWords(ctx context.Context, req RandomnessRequest) (RequestID, error)
}

// Transferer moves native funds between accounts.
type Transferer interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// Emitter receives the machine's notifications.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event)
}

// Snapshot is a consistent read of the machine's state.
type Snapshot struct {
	Round             uint64           `json:"round"`
	Phase             Phase            `json:"phase"`
	PendingRequest    *RequestID       `json:"pending_request_id,omitempty"`
	EntranceFee       *uint256.Int     `json:"entrance_fee"`
	Interval          time.Duration    `json:"interval"`
	Players           []common.Address `json:"players"`
	PooledFunds       *uint256.Int     `json:"pooled_funds"`
	LastDrawTimestamp time.Time        `json:"last_draw_timestamp"`
	LastWinner        *common.Address  `json:"last_winner,omitempty"`
	Coordinator       common.Address   `json:"coordinator"`
	Address           common.Address   `json:"address"`
	MaxPlayers        int              `json:"max_players,omitempty"`
}
