// Package ledger holds native balances for players and the raffle escrow.
//
// Fund flow:
//  1. An operator credits a player with Deposit.
//  2. Entering the raffle moves the entrance fee from the player to the
//     raffle escrow account.
//  3. A rejected entry is refunded from escrow.
//  4. The round payout moves the pooled funds from escrow to the winner.
//
// A frozen account rejects incoming transfers, which is how a winner that
// cannot receive funds is represented.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// Ledger moves funds between accounts in a BalanceStore.
type Ledger struct {
	store storage.BalanceStore
	log   *logger.Logger
}

// New creates a ledger over store.
func New(store storage.BalanceStore, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Ledger{store: store, log: log}
}

// Deposit credits amount to addr.
func (l *Ledger) Deposit(ctx context.Context, addr common.Address, amount *uint256.Int) (storage.Account, error) {
	if amount == nil || amount.IsZero() {
		return storage.Account{}, ErrInvalidAmount
	}
	acct, err := l.store.Credit(ctx, addr, amount)
	if err != nil {
		return storage.Account{}, fmt.Errorf("deposit to %s: %w", addr.Hex(), err)
	}
	l.log.WithField("address", addr.Hex()).
		WithField("amount", amount.Dec()).
		WithField("balance", acct.Balance.Dec()).
		Info("deposit credited")
	return acct, nil
}

// Account returns the account for addr. Unknown addresses have a zero
// balance.
func (l *Ledger) Account(ctx context.Context, addr common.Address) (storage.Account, error) {
	acct, err := l.store.GetAccount(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Account{Address: addr, Balance: new(uint256.Int)}, nil
	}
	return acct, err
}

// Balance returns the balance of addr.
func (l *Ledger) Balance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	acct, err := l.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	return acct.Balance, nil
}

// Move transfers amount and records it under kind.
func (l *Ledger) Move(ctx context.Context, kind storage.TransferKind, from, to common.Address, amount *uint256.Int) (storage.Transfer, error) {
	if amount == nil {
		return storage.Transfer{}, ErrInvalidAmount
	}
	tr, err := l.store.Transfer(ctx, storage.Transfer{Kind: kind, From: from, To: to, Amount: amount})
	if err != nil {
		return storage.Transfer{}, fmt.Errorf("%s %s from %s to %s: %w", kind, amount.Dec(), from.Hex(), to.Hex(), err)
	}
	l.log.WithField("kind", string(kind)).
		WithField("from", from.Hex()).
		WithField("to", to.Hex()).
		WithField("amount", amount.Dec()).
		Debug("transfer applied")
	return tr, nil
}

// Transfer implements raffle.Transferer. Movements are recorded as payouts.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	_, err := l.Move(ctx, storage.KindPayout, from, to, amount)
	return err
}

// Freeze makes addr reject incoming transfers.
func (l *Ledger) Freeze(ctx context.Context, addr common.Address) error {
	if err := l.store.SetFrozen(ctx, addr, true); err != nil {
		return fmt.Errorf("freeze %s: %w", addr.Hex(), err)
	}
	l.log.WithField("address", addr.Hex()).Warn("account frozen")
	return nil
}

// Unfreeze lets addr receive transfers again.
func (l *Ledger) Unfreeze(ctx context.Context, addr common.Address) error {
	if err := l.store.SetFrozen(ctx, addr, false); err != nil {
		return fmt.Errorf("unfreeze %s: %w", addr.Hex(), err)
	}
	l.log.WithField("address", addr.Hex()).Info("account unfrozen")
	return nil
}

// History lists the most recent transfers touching addr.
func (l *Ledger) History(ctx context.Context, addr common.Address, limit int) ([]storage.Transfer, error) {
	return l.store.ListTransfers(ctx, addr, limit)
}
