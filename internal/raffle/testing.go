package raffle

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MockOracle records randomness requests and hands out sequential ids
// starting at 1.
type MockOracle struct {
	mu       sync.Mutex
	Requests []RandomnessRequest
	NextID   RequestID
	Err      error
}

// RequestRandomWords implements Oracle.
func (o *MockOracle) RequestRandomWords(_ context.Context, req RandomnessRequest) (RequestID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return 0, o.Err
	}
	o.NextID++
	o.Requests = append(o.Requests, req)
	return o.NextID, nil
}

// Transfer is a completed payout recorded by MockTransferer.
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

// MockTransferer records transfers and credits recipients in Balances.
type MockTransferer struct {
	mu        sync.Mutex
	Transfers []Transfer
	Balances  map[common.Address]*uint256.Int
	Err       error
}

// Transfer implements Transferer.
func (t *MockTransferer) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	if t.Balances == nil {
		t.Balances = make(map[common.Address]*uint256.Int)
	}
	bal, ok := t.Balances[to]
	if !ok {
		bal = new(uint256.Int)
	}
	t.Balances[to] = new(uint256.Int).Add(bal, amount)
	t.Transfers = append(t.Transfers, Transfer{From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// BalanceOf returns the amount credited to addr.
func (t *MockTransferer) BalanceOf(addr common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bal, ok := t.Balances[addr]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// ManualClock is a settable time source for tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts the clock at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
