package vrf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
)

var (
	coordinatorAddr = common.HexToAddress("0x000000000000000000000000000000000000c00d")
	raffleAddr      = common.HexToAddress("0x000000000000000000000000000000000000ed00")
	owner           = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

type recordingConsumer struct {
	calls  int
	caller common.Address
	id     raffle.RequestID
	words  []*uint256.Int
	err    error
}

func (c *recordingConsumer) RawFulfillRandomWords(_ context.Context, caller common.Address, id raffle.RequestID, words []*uint256.Int) error {
	c.calls++
	c.caller = caller
	c.id = id
	c.words = words
	return c.err
}

func newTestCoordinator(t *testing.T) (*Coordinator, *events.RingBuffer) {
	t.Helper()
	prover, err := NewProver(testKey)
	require.NoError(t, err)
	bus := events.NewRingBuffer(64)
	return NewCoordinator(CoordinatorConfig{Address: coordinatorAddr}, prover, bus, nil), bus
}

func fundedSubscription(t *testing.T, c *Coordinator, consumer Consumer) uint64 {
	t.Helper()
	ctx := context.Background()
	subID, err := c.CreateSubscription(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, c.FundSubscription(ctx, subID, new(uint256.Int).Mul(uint256.NewInt(1e18), uint256.NewInt(10))))
	require.NoError(t, c.AddConsumer(ctx, subID, raffleAddr, consumer))
	return subID
}

func request(subID uint64) raffle.RandomnessRequest {
	return raffle.RandomnessRequest{
		KeyHash:          common.HexToHash("0x474e"),
		SubscriptionID:   subID,
		Confirmations:    3,
		CallbackGasLimit: 500000,
		NumWords:         2,
		Requester:        raffleAddr,
	}
}

func TestRequestRandomWordsValidates(t *testing.T) {
	c, _ := newTestCoordinator(t)
	subID := fundedSubscription(t, c, &recordingConsumer{})

	cases := []struct {
		name   string
		mutate func(*raffle.RandomnessRequest)
		want   error
	}{
		{"unknown subscription", func(r *raffle.RandomnessRequest) { r.SubscriptionID = 99 }, ErrInvalidSubscription},
		{"unknown consumer", func(r *raffle.RandomnessRequest) { r.Requester = owner }, ErrInvalidConsumer},
		{"too many words", func(r *raffle.RandomnessRequest) { r.NumWords = MaxNumWords + 1 }, ErrNumWordsTooHigh},
		{"gas too high", func(r *raffle.RandomnessRequest) { r.CallbackGasLimit = MaxCallbackGasLimit + 1 }, ErrGasLimitTooHigh},
		{"confirmations", func(r *raffle.RandomnessRequest) { r.Confirmations = MaxConfirmations + 1 }, ErrInvalidConfirmations},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := request(subID)
			tc.mutate(&req)
			_, err := c.RequestRandomWords(context.Background(), req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRequestIDsIncrement(t *testing.T) {
	c, bus := newTestCoordinator(t)
	subID := fundedSubscription(t, c, &recordingConsumer{})

	first, err := c.RequestRandomWords(context.Background(), request(subID))
	require.NoError(t, err)
	second, err := c.RequestRandomWords(context.Background(), request(subID))
	require.NoError(t, err)

	assert.Equal(t, raffle.RequestID(1), first)
	assert.Equal(t, raffle.RequestID(2), second)
	assert.Equal(t, first, <-c.Pending())
	assert.Equal(t, second, <-c.Pending())

	r1, _ := c.Request(first)
	r2, _ := c.Request(second)
	assert.NotEqual(t, r1.PreSeed, r2.PreSeed)
	assert.Len(t, bus.RecentByType(events.EventRandomWordsRequested, 10), 2)
}

func TestFulfillDeliversAndCharges(t *testing.T) {
	c, bus := newTestCoordinator(t)
	consumer := &recordingConsumer{}
	subID := fundedSubscription(t, c, consumer)
	before, _ := c.GetSubscription(subID)

	id, err := c.RequestRandomWords(context.Background(), request(subID))
	require.NoError(t, err)
	require.NoError(t, c.FulfillRandomWords(context.Background(), id))

	assert.Equal(t, 1, consumer.calls)
	assert.Equal(t, coordinatorAddr, consumer.caller)
	assert.Equal(t, id, consumer.id)
	require.Len(t, consumer.words, 2)

	req, err := c.Request(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, req.Status)
	require.NotNil(t, req.Proof)
	assert.True(t, Verify(c.prover.Address(), *req.Proof))

	// 0.25 LINK base fee plus 1 gwei per gas unit.
	payment := c.Payment(500000)
	assert.Equal(t, "250500000000000000", payment.Dec())
	after, _ := c.GetSubscription(subID)
	assert.True(t, new(uint256.Int).Sub(before.Balance, payment).Eq(after.Balance))

	fulfilled := bus.RecentByType(events.EventRandomWordsFulfilled, 1)
	require.Len(t, fulfilled, 1)
	assert.Equal(t, "true", fulfilled[0].Attr("success"))

	err = c.FulfillRandomWords(context.Background(), id)
	assert.ErrorIs(t, err, ErrAlreadyFulfilled)
}

func TestFulfillInsufficientBalanceKeepsPending(t *testing.T) {
	c, _ := newTestCoordinator(t)
	consumer := &recordingConsumer{}
	ctx := context.Background()
	subID, err := c.CreateSubscription(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, c.AddConsumer(ctx, subID, raffleAddr, consumer))

	id, err := c.RequestRandomWords(ctx, request(subID))
	require.NoError(t, err)

	err = c.FulfillRandomWords(ctx, id)
	var balErr *InsufficientBalanceError
	require.True(t, errors.As(err, &balErr))
	assert.Equal(t, 0, consumer.calls)

	req, _ := c.Request(id)
	assert.Equal(t, StatusPending, req.Status)
}

func TestRejectedDeliveryCanBeRedelivered(t *testing.T) {
	c, bus := newTestCoordinator(t)
	consumer := &recordingConsumer{err: raffle.ErrPayoutFailed}
	subID := fundedSubscription(t, c, consumer)
	before, _ := c.GetSubscription(subID)

	id, err := c.RequestRandomWords(context.Background(), request(subID))
	require.NoError(t, err)

	err = c.FulfillRandomWords(context.Background(), id)
	assert.ErrorIs(t, err, raffle.ErrPayoutFailed)
	req, _ := c.Request(id)
	assert.Equal(t, StatusFailed, req.Status)
	firstWords := consumer.words
	mid, _ := c.GetSubscription(subID)
	assert.True(t, before.Balance.Eq(mid.Balance))
	assert.Equal(t, "false", bus.RecentByType(events.EventRandomWordsFulfilled, 1)[0].Attr("success"))

	consumer.err = nil
	require.NoError(t, c.Redeliver(context.Background(), id))
	assert.Equal(t, 2, consumer.calls)
	assert.Equal(t, firstWords, consumer.words)

	req, _ = c.Request(id)
	assert.Equal(t, StatusFulfilled, req.Status)
	assert.Equal(t, 2, req.Attempts)

	err = c.Redeliver(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotRedeliverable)
}

func TestRemoveConsumer(t *testing.T) {
	c, _ := newTestCoordinator(t)
	subID := fundedSubscription(t, c, &recordingConsumer{})

	require.NoError(t, c.RemoveConsumer(context.Background(), subID, raffleAddr))
	sub, _ := c.GetSubscription(subID)
	assert.Empty(t, sub.Consumers)

	_, err := c.RequestRandomWords(context.Background(), request(subID))
	assert.ErrorIs(t, err, ErrInvalidConsumer)
	assert.ErrorIs(t, c.RemoveConsumer(context.Background(), subID, raffleAddr), ErrInvalidConsumer)
}

func TestCoordinatorDrivesRaffleRound(t *testing.T) {
	c, _ := newTestCoordinator(t)
	transfer := &raffle.MockTransferer{}
	clock := raffle.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	ctx := context.Background()
	subID, err := c.CreateSubscription(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, c.FundSubscription(ctx, subID, uint256.NewInt(1e18)))

	m, err := raffle.New(raffle.Config{
		EntranceFee:      uint256.NewInt(100),
		Interval:         30 * time.Second,
		Coordinator:      coordinatorAddr,
		SubscriptionID:   subID,
		CallbackGasLimit: 500000,
		Address:          raffleAddr,
	}, c, transfer, raffle.WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, c.AddConsumer(ctx, subID, raffleAddr, m))

	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")
	require.NoError(t, m.Enter(ctx, alice, uint256.NewInt(100)))
	require.NoError(t, m.Enter(ctx, bob, uint256.NewInt(100)))
	clock.Advance(30 * time.Second)

	id, err := m.PerformUpkeep(ctx, clock.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, c.FulfillRandomWords(ctx, id))

	req, _ := c.Request(id)
	winner, ok := m.LastWinner()
	require.True(t, ok)
	index := new(uint256.Int).Mod(req.Words[0], uint256.NewInt(2)).Uint64()
	assert.Equal(t, []common.Address{alice, bob}[index], winner)
	assert.Equal(t, uint64(200), transfer.BalanceOf(winner).Uint64())
	assert.Equal(t, raffle.PhaseOpen, m.Phase())
}
