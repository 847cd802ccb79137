// Package memory provides in-process implementations of the storage
// interfaces, used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/storage"
)

// Store keeps balances, transfers and rounds in memory.
type Store struct {
	mu        sync.RWMutex
	accounts  map[common.Address]storage.Account
	transfers []storage.Transfer
	rounds    map[uint64]storage.Round
}

var (
	_ storage.BalanceStore = (*Store)(nil)
	_ storage.RoundStore   = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[common.Address]storage.Account),
		rounds:   make(map[uint64]storage.Round),
	}
}

func (s *Store) account(addr common.Address) storage.Account {
	acct, ok := s.accounts[addr]
	if !ok {
		return storage.Account{Address: addr, Balance: new(uint256.Int)}
	}
	return acct
}

func cloneAccount(acct storage.Account) storage.Account {
	acct.Balance = new(uint256.Int).Set(acct.Balance)
	return acct
}

// --- BalanceStore ------------------------------------------------------------

func (s *Store) GetAccount(_ context.Context, addr common.Address) (storage.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[addr]
	if !ok {
		return storage.Account{}, fmt.Errorf("account %s: %w", addr.Hex(), storage.ErrNotFound)
	}
	return cloneAccount(acct), nil
}

func (s *Store) Credit(_ context.Context, addr common.Address, amount *uint256.Int) (storage.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.account(addr)
	balance, overflow := new(uint256.Int).AddOverflow(acct.Balance, amount)
	if overflow {
		return storage.Account{}, fmt.Errorf("credit %s: balance overflow", addr.Hex())
	}
	now := time.Now().UTC()
	acct.Balance = balance
	acct.UpdatedAt = now
	s.accounts[addr] = acct
	s.transfers = append(s.transfers, storage.Transfer{
		ID:        uuid.NewString(),
		Kind:      storage.KindDeposit,
		To:        addr,
		Amount:    new(uint256.Int).Set(amount),
		CreatedAt: now,
	})
	return cloneAccount(acct), nil
}

func (s *Store) Transfer(_ context.Context, tr storage.Transfer) (storage.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.account(tr.From)
	to := s.account(tr.To)
	if to.Frozen {
		return storage.Transfer{}, fmt.Errorf("credit %s: %w", tr.To.Hex(), storage.ErrAccountFrozen)
	}
	if from.Balance.Lt(tr.Amount) {
		return storage.Transfer{}, fmt.Errorf("debit %s: %w", tr.From.Hex(), storage.ErrInsufficientFunds)
	}

	now := time.Now().UTC()
	if tr.From == tr.To {
		from.UpdatedAt = now
		s.accounts[tr.From] = from
	} else {
		credited, overflow := new(uint256.Int).AddOverflow(to.Balance, tr.Amount)
		if overflow {
			return storage.Transfer{}, fmt.Errorf("credit %s: balance overflow", tr.To.Hex())
		}
		from.Balance = new(uint256.Int).Sub(from.Balance, tr.Amount)
		from.UpdatedAt = now
		to.Balance = credited
		to.UpdatedAt = now
		s.accounts[tr.From] = from
		s.accounts[tr.To] = to
	}

	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.Kind == "" {
		tr.Kind = storage.KindTransfer
	}
	tr.Amount = new(uint256.Int).Set(tr.Amount)
	tr.CreatedAt = now
	s.transfers = append(s.transfers, tr)
	return tr, nil
}

func (s *Store) SetFrozen(_ context.Context, addr common.Address, frozen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(addr)
	acct.Frozen = frozen
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[addr] = acct
	return nil
}

func (s *Store) ListTransfers(_ context.Context, addr common.Address, limit int) ([]storage.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Transfer
	for i := len(s.transfers) - 1; i >= 0; i-- {
		tr := s.transfers[i]
		if tr.From != addr && tr.To != addr {
			continue
		}
		tr.Amount = new(uint256.Int).Set(tr.Amount)
		out = append(out, tr)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- RoundStore --------------------------------------------------------------

func (s *Store) SaveRound(_ context.Context, round storage.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rounds[round.Number]; exists {
		return fmt.Errorf("round %d: %w", round.Number, storage.ErrDuplicateRound)
	}
	round.Prize = new(uint256.Int).Set(round.Prize)
	s.rounds[round.Number] = round
	return nil
}

func (s *Store) GetRound(_ context.Context, number uint64) (storage.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	round, ok := s.rounds[number]
	if !ok {
		return storage.Round{}, fmt.Errorf("round %d: %w", number, storage.ErrNotFound)
	}
	round.Prize = new(uint256.Int).Set(round.Prize)
	return round, nil
}

func (s *Store) ListRounds(_ context.Context, limit int) ([]storage.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		r.Prize = new(uint256.Int).Set(r.Prize)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
