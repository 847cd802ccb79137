package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_layer/internal/storage"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func TestTransferMovesFunds(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, err := store.Credit(ctx, alice, uint256.NewInt(300))
	require.NoError(t, err)

	tr, err := store.Transfer(ctx, storage.Transfer{Kind: storage.KindEntry, From: alice, To: bob, Amount: uint256.NewInt(100)})
	require.NoError(t, err)
	assert.NotEmpty(t, tr.ID)

	a, _ := store.GetAccount(ctx, alice)
	b, _ := store.GetAccount(ctx, bob)
	assert.Equal(t, uint64(200), a.Balance.Uint64())
	assert.Equal(t, uint64(100), b.Balance.Uint64())

	history, err := store.ListTransfers(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, storage.KindEntry, history[0].Kind)
	assert.Equal(t, storage.KindDeposit, history[1].Kind)
}

func TestTransferFailuresLeaveBalances(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, err := store.Credit(ctx, alice, uint256.NewInt(50))
	require.NoError(t, err)

	_, err = store.Transfer(ctx, storage.Transfer{From: alice, To: bob, Amount: uint256.NewInt(51)})
	if !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	require.NoError(t, store.SetFrozen(ctx, bob, true))
	_, err = store.Transfer(ctx, storage.Transfer{From: alice, To: bob, Amount: uint256.NewInt(10)})
	assert.ErrorIs(t, err, storage.ErrAccountFrozen)

	a, _ := store.GetAccount(ctx, alice)
	assert.Equal(t, uint64(50), a.Balance.Uint64())
	b, _ := store.GetAccount(ctx, bob)
	assert.True(t, b.Balance.IsZero())
}

func TestGetAccountNotFound(t *testing.T) {
	_, err := New().GetAccount(context.Background(), alice)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRoundsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, store.SaveRound(ctx, storage.Round{Number: i, Winner: alice, Prize: uint256.NewInt(i * 100), Players: 2}))
	}
	assert.ErrorIs(t, store.SaveRound(ctx, storage.Round{Number: 2, Prize: uint256.NewInt(1)}), storage.ErrDuplicateRound)

	rounds, err := store.ListRounds(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, uint64(3), rounds[0].Number)
	assert.Equal(t, uint64(2), rounds[1].Number)

	r, err := store.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.Prize.Uint64())
	_, err = store.GetRound(ctx, 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
