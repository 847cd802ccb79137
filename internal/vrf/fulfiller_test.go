package vrf

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_layer/internal/raffle"
)

type signallingConsumer struct {
	mu   sync.Mutex
	ids  []raffle.RequestID
	done chan struct{}
}

func (c *signallingConsumer) RawFulfillRandomWords(_ context.Context, _ common.Address, id raffle.RequestID, _ []*uint256.Int) error {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func TestFulfillerDeliversPendingRequests(t *testing.T) {
	c, _ := newTestCoordinator(t)
	consumer := &signallingConsumer{done: make(chan struct{}, 4)}
	subID := fundedSubscription(t, c, consumer)

	f := NewFulfiller(c, 10*time.Millisecond, nil)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop(context.Background())

	id, err := c.RequestRandomWords(context.Background(), request(subID))
	require.NoError(t, err)

	select {
	case <-consumer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("request was not fulfilled")
	}

	require.Eventually(t, func() bool {
		req, err := c.Request(id)
		return err == nil && req.Status == StatusFulfilled
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFulfillerStopIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	f := NewFulfiller(c, 0, nil)
	require.NoError(t, f.Stop(context.Background()))
	require.NoError(t, f.Start(context.Background()))
	require.NoError(t, f.Start(context.Background()))
	require.NoError(t, f.Stop(context.Background()))
	require.NoError(t, f.Stop(context.Background()))
}
