package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/keeper"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/internal/vrf"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Raffle.EntranceFee = "100"
	cfg.Raffle.Interval = 0
	cfg.Keeper.Enabled = false
	cfg.VRF.AutoFulfill = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	log := logger.NewWithWriter("test", io.Discard, logrus.PanicLevel)
	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func fund(t *testing.T, a *Application, addr common.Address, amount uint64) {
	t.Helper()
	if _, err := a.Ledger.Deposit(context.Background(), addr, uint256.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func balance(t *testing.T, a *Application, addr common.Address) uint64 {
	t.Helper()
	b, err := a.Ledger.Balance(context.Background(), addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Uint64()
}

func TestNewProvisionsSubscription(t *testing.T) {
	a := newTestApp(t, testConfig())
	require.NotNil(t, a.Coordinator)

	sub, err := a.Coordinator.GetSubscription(a.Machine.SubscriptionID())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{a.Machine.Address()}, sub.Consumers)
	assert.Equal(t, "30000000000000000000", sub.Balance.Dec())
	assert.Equal(t, raffle.PhaseOpen, a.Machine.Phase())
	assert.Contains(t, a.Services(), "round-history")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Raffle.EntranceFee = "abc"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestRoundPaysWinnerThroughLedger(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig())
	fund(t, a, alice, 1000)
	fund(t, a, bob, 1000)

	require.NoError(t, a.Enter(ctx, alice, uint256.NewInt(100)))
	require.NoError(t, a.Enter(ctx, bob, uint256.NewInt(100)))
	assert.Equal(t, uint64(200), balance(t, a, a.Machine.Address()))

	eligible, diag := a.CheckUpkeep()
	require.True(t, eligible, diag.String())

	id, err := a.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, raffle.RequestID(1), id)
	assert.Equal(t, raffle.PhaseDrawing, a.Machine.Phase())

	coordinator := common.HexToAddress(a.Config.VRF.CoordinatorAddress)
	require.NoError(t, a.Fulfill(ctx, coordinator, id, []*uint256.Int{uint256.NewInt(42)}))

	winner, ok := a.Machine.LastWinner()
	require.True(t, ok)
	assert.Equal(t, alice, winner)
	assert.Equal(t, uint64(1100), balance(t, a, alice))
	assert.Equal(t, uint64(900), balance(t, a, bob))
	assert.Equal(t, uint64(0), balance(t, a, a.Machine.Address()))
	assert.Equal(t, raffle.PhaseOpen, a.Machine.Phase())
	assert.Equal(t, 0, a.Machine.PlayerCount())

	require.Eventually(t, func() bool {
		rounds, err := a.Rounds.ListRounds(ctx, 10)
		return err == nil && len(rounds) == 1
	}, 2*time.Second, 10*time.Millisecond)
	round, err := a.Rounds.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, alice, round.Winner)
	assert.Equal(t, "200", round.Prize.Dec())
	assert.Equal(t, 2, round.Players)
	assert.Equal(t, "1", round.RequestID)
}

func TestEnterUnderpaymentMovesNoFunds(t *testing.T) {
	a := newTestApp(t, testConfig())
	fund(t, a, alice, 1000)

	err := a.Enter(context.Background(), alice, uint256.NewInt(50))
	var insufficient *raffle.InsufficientPaymentError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "100", insufficient.Required.Dec())
	assert.Equal(t, uint64(1000), balance(t, a, alice))
	assert.Equal(t, 0, a.Machine.PlayerCount())
}

func TestEnterWithoutBalanceFails(t *testing.T) {
	a := newTestApp(t, testConfig())
	err := a.Enter(context.Background(), alice, uint256.NewInt(100))
	assert.ErrorIs(t, err, storage.ErrInsufficientFunds)
	assert.Equal(t, 0, a.Machine.PlayerCount())
}

func TestEnterWhileDrawingIsRefunded(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig())
	fund(t, a, alice, 1000)
	fund(t, a, bob, 1000)
	require.NoError(t, a.Enter(ctx, alice, uint256.NewInt(100)))
	_, err := a.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	err = a.Enter(ctx, bob, uint256.NewInt(100))
	assert.ErrorIs(t, err, raffle.ErrRoundNotOpen)
	assert.Equal(t, uint64(1000), balance(t, a, bob))
	assert.Equal(t, uint64(100), balance(t, a, a.Machine.Address()))

	history, err := a.Ledger.History(ctx, bob, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, storage.KindRefund, history[0].Kind)
	assert.Equal(t, storage.KindEntry, history[1].Kind)
}

func TestCoordinatorDeliveryChargesSubscription(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig())
	fund(t, a, alice, 1000)
	fund(t, a, bob, 1000)
	require.NoError(t, a.Enter(ctx, alice, uint256.NewInt(100)))
	require.NoError(t, a.Enter(ctx, bob, uint256.NewInt(100)))

	id, err := a.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	before, err := a.Coordinator.GetSubscription(a.Machine.SubscriptionID())
	require.NoError(t, err)

	require.NoError(t, a.Coordinator.FulfillRandomWords(ctx, id))

	req, err := a.Coordinator.Request(id)
	require.NoError(t, err)
	assert.Equal(t, vrf.StatusFulfilled, req.Status)

	after, err := a.Coordinator.GetSubscription(a.Machine.SubscriptionID())
	require.NoError(t, err)
	spent := new(uint256.Int).Sub(before.Balance, after.Balance)
	assert.Equal(t, a.Coordinator.Payment(a.Machine.CallbackGasLimit()).Dec(), spent.Dec())

	winner, ok := a.Machine.LastWinner()
	require.True(t, ok)
	assert.Contains(t, []common.Address{alice, bob}, winner)
	assert.Equal(t, uint64(1100), balance(t, a, winner))
}

func TestFrozenWinnerIsRecoveredByRedelivery(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig())
	fund(t, a, alice, 1000)
	require.NoError(t, a.Enter(ctx, alice, uint256.NewInt(100)))
	id, err := a.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, a.Ledger.Freeze(ctx, alice))
	err = a.Coordinator.FulfillRandomWords(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, raffle.ErrPayoutFailed), "got %v", err)
	assert.Equal(t, raffle.PhaseDrawing, a.Machine.Phase())
	assert.Equal(t, uint64(100), balance(t, a, a.Machine.Address()))

	require.NoError(t, a.Ledger.Unfreeze(ctx, alice))
	require.NoError(t, a.Coordinator.Redeliver(ctx, id))
	assert.Equal(t, raffle.PhaseOpen, a.Machine.Phase())
	assert.Equal(t, uint64(1000), balance(t, a, alice))
}

func TestFulfillRejectsForeignCaller(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig())
	fund(t, a, alice, 1000)
	require.NoError(t, a.Enter(ctx, alice, uint256.NewInt(100)))
	id, err := a.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	err = a.Fulfill(ctx, bob, id, []*uint256.Int{uint256.NewInt(1)})
	assert.ErrorIs(t, err, raffle.ErrOnlyCoordinator)
	assert.Equal(t, raffle.PhaseDrawing, a.Machine.Phase())
}

func TestPerformUpkeepWithoutPlayers(t *testing.T) {
	a := newTestApp(t, testConfig())
	_, err := a.PerformUpkeep(context.Background(), nil)
	var notNeeded *raffle.UpkeepNotNeededError
	require.ErrorAs(t, err, &notNeeded)
	assert.Equal(t, 0, notNeeded.Players)
}

func TestAutoFulfillCompletesRound(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.VRF.AutoFulfill = true
	cfg.VRF.FulfillDelay = time.Millisecond
	a := newTestApp(t, cfg)
	assert.Contains(t, a.Services(), "vrf-fulfiller")

	fund(t, a, alice, 1000)
	require.NoError(t, a.Enter(ctx, alice, uint256.NewInt(100)))
	_, err := a.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.Machine.Round() == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1000), balance(t, a, alice))
}

func TestKeeperSharesApplicationClock(t *testing.T) {
	cfg := testConfig()
	cfg.Raffle.Interval = 30 * time.Second
	cfg.Keeper.Enabled = true
	cfg.Keeper.Schedule = "@every 1h"

	clock := raffle.NewManualClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	log := logger.NewWithWriter("test", io.Discard, logrus.PanicLevel)
	a, err := New(context.Background(), cfg, log, WithClock(clock.Now))
	require.NoError(t, err)
	require.NotNil(t, a.Keeper)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	fund(t, a, alice, 1000)
	require.NoError(t, a.Enter(context.Background(), alice, uint256.NewInt(100)))

	outcome, err := a.Keeper.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keeper.OutcomeIdle, outcome)

	clock.Advance(30 * time.Second)
	outcome, err = a.Keeper.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keeper.OutcomeRequested, outcome)
	assert.Equal(t, raffle.PhaseDrawing, a.Machine.Phase())
	require.Len(t, a.Events.RecentByType(events.EventUpkeepPerformed, 10), 1)
}
