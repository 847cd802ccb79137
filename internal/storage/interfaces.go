// Package storage defines the persistence contracts of the raffle layer.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountFrozen     = errors.New("account is frozen")
	ErrDuplicateRound    = errors.New("round already recorded")
)

// TransferKind classifies a ledger movement.
type TransferKind string

const (
	KindDeposit  TransferKind = "deposit"
	KindEntry    TransferKind = "entry"
	KindRefund   TransferKind = "refund"
	KindPayout   TransferKind = "payout"
	KindTransfer TransferKind = "transfer"
)

// Account is a ledger balance.
type Account struct {
	Address   common.Address `json:"address"`
	Balance   *uint256.Int   `json:"balance"`
	Frozen    bool           `json:"frozen"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Transfer is a journal entry. From is the zero address for deposits.
type Transfer struct {
	ID        string         `json:"id"`
	Kind      TransferKind   `json:"kind"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    *uint256.Int   `json:"amount"`
	CreatedAt time.Time      `json:"created_at"`
}

// Round is the record of a completed raffle round.
type Round struct {
	Number      uint64         `json:"number"`
	RequestID   string         `json:"request_id"`
	Winner      common.Address `json:"winner"`
	Prize       *uint256.Int   `json:"prize"`
	Players     int            `json:"players"`
	CompletedAt time.Time      `json:"completed_at"`
}

// BalanceStore persists ledger balances. Transfer must debit and credit
// atomically and fail with ErrInsufficientFunds or ErrAccountFrozen without
// changing either account.
type BalanceStore interface {
	GetAccount(ctx context.Context, addr common.Address) (Account, error)
	Credit(ctx context.Context, addr common.Address, amount *uint256.Int) (Account, error)
	Transfer(ctx context.Context, tr Transfer) (Transfer, error)
	SetFrozen(ctx context.Context, addr common.Address, frozen bool) error
	ListTransfers(ctx context.Context, addr common.Address, limit int) ([]Transfer, error)
}

// RoundStore persists completed rounds.
type RoundStore interface {
	SaveRound(ctx context.Context, round Round) error
	GetRound(ctx context.Context, number uint64) (Round, error)
	ListRounds(ctx context.Context, limit int) ([]Round, error)
}
