package vrf

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Fulfiller delivers pending coordinator requests after a fixed delay,
// standing in for the off-chain oracle node. Requests that were missed by
// the notification channel are picked up by a periodic sweep.
type Fulfiller struct {
	coordinator *Coordinator
	delay       time.Duration
	sweep       time.Duration
	log         *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFulfiller creates a fulfiller for coordinator.
func NewFulfiller(coordinator *Coordinator, delay time.Duration, log *logger.Logger) *Fulfiller {
	if log == nil {
		log = logger.NewDefault("vrf-fulfiller")
	}
	if delay < 0 {
		delay = 0
	}
	return &Fulfiller{
		coordinator: coordinator,
		delay:       delay,
		sweep:       5 * time.Second,
		log:         log,
	}
}

// Name implements system.Service.
func (f *Fulfiller) Name() string { return "vrf-fulfiller" }

// Start launches the delivery loop.
func (f *Fulfiller) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.wg.Add(1)
	go f.run(runCtx)
	f.log.WithField("delay", f.delay.String()).Info("vrf fulfiller started")
	return nil
}

// Stop halts the loop and waits for in-flight deliveries.
func (f *Fulfiller) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fulfiller) run(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-f.coordinator.Pending():
			if !f.wait(ctx) {
				return
			}
			f.deliver(ctx, id)
		case <-ticker.C:
			cutoff := time.Now().Add(-f.delay)
			for _, req := range f.coordinator.PendingRequests(cutoff) {
				f.deliver(ctx, req.ID)
			}
		}
	}
}

func (f *Fulfiller) wait(ctx context.Context) bool {
	if f.delay == 0 {
		return true
	}
	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (f *Fulfiller) deliver(ctx context.Context, id raffle.RequestID) {
	err := f.coordinator.FulfillRandomWords(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyFulfilled), errors.Is(err, ErrDeliveryInProgress):
		f.log.WithField("request_id", id.String()).Debug("request already handled")
	case errors.Is(err, raffle.ErrPayoutFailed):
		f.log.WithError(err).WithField("request_id", id.String()).Error("payout failed, operator redelivery required")
	default:
		f.log.WithError(err).WithField("request_id", id.String()).Warn("fulfill request")
	}
}
