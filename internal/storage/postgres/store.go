// Package postgres implements the storage interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/raffle_layer/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.BalanceStore = (*Store)(nil)
	_ storage.RoundStore   = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

type accountRow struct {
	Address   string    `db:"address"`
	Balance   string    `db:"balance"`
	Frozen    bool      `db:"frozen"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r accountRow) toAccount() (storage.Account, error) {
	balance, err := uint256.FromDecimal(r.Balance)
	if err != nil {
		return storage.Account{}, fmt.Errorf("decode balance of %s: %w", r.Address, err)
	}
	return storage.Account{
		Address:   common.HexToAddress(r.Address),
		Balance:   balance,
		Frozen:    r.Frozen,
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}

type transferRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	From      string    `db:"from_addr"`
	To        string    `db:"to_addr"`
	Amount    string    `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

func (r transferRow) toTransfer() (storage.Transfer, error) {
	amount, err := uint256.FromDecimal(r.Amount)
	if err != nil {
		return storage.Transfer{}, fmt.Errorf("decode amount of %s: %w", r.ID, err)
	}
	return storage.Transfer{
		ID:        r.ID,
		Kind:      storage.TransferKind(r.Kind),
		From:      common.HexToAddress(r.From),
		To:        common.HexToAddress(r.To),
		Amount:    amount,
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}

type roundRow struct {
	Number      int64     `db:"number"`
	RequestID   string    `db:"request_id"`
	Winner      string    `db:"winner"`
	Prize       string    `db:"prize"`
	Players     int       `db:"players"`
	CompletedAt time.Time `db:"completed_at"`
}

func (r roundRow) toRound() (storage.Round, error) {
	prize, err := uint256.FromDecimal(r.Prize)
	if err != nil {
		return storage.Round{}, fmt.Errorf("decode prize of round %d: %w", r.Number, err)
	}
	return storage.Round{
		Number:      uint64(r.Number),
		RequestID:   r.RequestID,
		Winner:      common.HexToAddress(r.Winner),
		Prize:       prize,
		Players:     r.Players,
		CompletedAt: r.CompletedAt.UTC(),
	}, nil
}

const (
	selectAccount = `
		SELECT address, balance::TEXT AS balance, frozen, updated_at
		FROM ledger_accounts
		WHERE address = $1`
	ensureAccount = `
		INSERT INTO ledger_accounts (address, balance, frozen, updated_at)
		VALUES ($1, 0, FALSE, $2)
		ON CONFLICT (address) DO NOTHING`
	insertTransfer = `
		INSERT INTO ledger_transfers (id, kind, from_addr, to_addr, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

// --- BalanceStore ------------------------------------------------------------

func (s *Store) GetAccount(ctx context.Context, addr common.Address) (storage.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, selectAccount, addr.Hex()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Account{}, fmt.Errorf("account %s: %w", addr.Hex(), storage.ErrNotFound)
		}
		return storage.Account{}, err
	}
	return row.toAccount()
}

func (s *Store) Credit(ctx context.Context, addr common.Address, amount *uint256.Int) (storage.Account, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storage.Account{}, err
	}
	defer tx.Rollback()

	var row accountRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO ledger_accounts (address, balance, frozen, updated_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (address) DO UPDATE
		SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		RETURNING address, balance::TEXT AS balance, frozen, updated_at
	`, addr.Hex(), amount.Dec(), now)
	if err != nil {
		return storage.Account{}, err
	}
	if _, err := tx.ExecContext(ctx, insertTransfer,
		uuid.NewString(), string(storage.KindDeposit), common.Address{}.Hex(), addr.Hex(), amount.Dec(), now); err != nil {
		return storage.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.Account{}, err
	}
	return row.toAccount()
}

func (s *Store) Transfer(ctx context.Context, tr storage.Transfer) (storage.Transfer, error) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.Kind == "" {
		tr.Kind = storage.KindTransfer
	}
	now := time.Now().UTC()
	tr.CreatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storage.Transfer{}, err
	}
	defer tx.Rollback()

	// Lock rows in address order so concurrent transfers cannot deadlock.
	addrs := []string{tr.From.Hex()}
	if tr.To != tr.From {
		addrs = append(addrs, tr.To.Hex())
	}
	sort.Strings(addrs)

	locked := make(map[string]storage.Account, len(addrs))
	for _, addr := range addrs {
		if _, err := tx.ExecContext(ctx, ensureAccount, addr, now); err != nil {
			return storage.Transfer{}, err
		}
		var row accountRow
		if err := tx.GetContext(ctx, &row, selectAccount+" FOR UPDATE", addr); err != nil {
			return storage.Transfer{}, err
		}
		acct, err := row.toAccount()
		if err != nil {
			return storage.Transfer{}, err
		}
		locked[addr] = acct
	}

	if locked[tr.To.Hex()].Frozen {
		return storage.Transfer{}, fmt.Errorf("credit %s: %w", tr.To.Hex(), storage.ErrAccountFrozen)
	}
	if locked[tr.From.Hex()].Balance.Lt(tr.Amount) {
		return storage.Transfer{}, fmt.Errorf("debit %s: %w", tr.From.Hex(), storage.ErrInsufficientFunds)
	}

	if tr.To != tr.From {
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_accounts SET balance = balance - $2, updated_at = $3 WHERE address = $1
		`, tr.From.Hex(), tr.Amount.Dec(), now); err != nil {
			return storage.Transfer{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_accounts SET balance = balance + $2, updated_at = $3 WHERE address = $1
		`, tr.To.Hex(), tr.Amount.Dec(), now); err != nil {
			return storage.Transfer{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, insertTransfer,
		tr.ID, string(tr.Kind), tr.From.Hex(), tr.To.Hex(), tr.Amount.Dec(), now); err != nil {
		return storage.Transfer{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.Transfer{}, err
	}
	tr.Amount = new(uint256.Int).Set(tr.Amount)
	return tr, nil
}

func (s *Store) SetFrozen(ctx context.Context, addr common.Address, frozen bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_accounts (address, balance, frozen, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (address) DO UPDATE
		SET frozen = EXCLUDED.frozen, updated_at = EXCLUDED.updated_at
	`, addr.Hex(), frozen, time.Now().UTC())
	return err
}

func (s *Store) ListTransfers(ctx context.Context, addr common.Address, limit int) ([]storage.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []transferRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, from_addr, to_addr, amount::TEXT AS amount, created_at
		FROM ledger_transfers
		WHERE from_addr = $1 OR to_addr = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, addr.Hex(), limit)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Transfer, 0, len(rows))
	for _, row := range rows {
		tr, err := row.toTransfer()
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// --- RoundStore --------------------------------------------------------------

func (s *Store) SaveRound(ctx context.Context, round storage.Round) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_rounds (number, request_id, winner, prize, players, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (number) DO NOTHING
	`, int64(round.Number), round.RequestID, round.Winner.Hex(), round.Prize.Dec(), round.Players, round.CompletedAt.UTC())
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("round %d: %w", round.Number, storage.ErrDuplicateRound)
	}
	return nil
}

func (s *Store) GetRound(ctx context.Context, number uint64) (storage.Round, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `
		SELECT number, request_id, winner, prize::TEXT AS prize, players, completed_at
		FROM raffle_rounds
		WHERE number = $1
	`, int64(number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Round{}, fmt.Errorf("round %d: %w", number, storage.ErrNotFound)
		}
		return storage.Round{}, err
	}
	return row.toRound()
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]storage.Round, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []roundRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT number, request_id, winner, prize::TEXT AS prize, players, completed_at
		FROM raffle_rounds
		ORDER BY number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Round, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRound()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
