// Package keeper is the automation trigger of the raffle. On a cron schedule
// it polls the eligibility check and performs the upkeep when a draw is due.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// DefaultSchedule polls every five seconds.
const DefaultSchedule = "@every 5s"

// Upkeeper is the target polled by the keeper.
type Upkeeper interface {
	CheckUpkeep(now time.Time) (bool, raffle.Diagnostic)
	PerformUpkeep(ctx context.Context, now time.Time, payload []byte) (raffle.RequestID, error)
}

// Outcome describes a single keeper tick.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeRequested Outcome = "requested"
	OutcomeNotNeeded Outcome = "not_needed"
	OutcomeError     Outcome = "error"
)

// Keeper runs upkeep checks on a schedule.
type Keeper struct {
	target   Upkeeper
	schedule string
	now      func() time.Time
	emitter  raffle.Emitter
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	lastRun time.Time
	lastOut Outcome
}

// Option customises a Keeper.
type Option func(*Keeper)

// WithClock sets the time passed to the eligibility check and the upkeep.
// It should be the clock of the raffle being polled.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

// WithEmitter publishes an upkeep event for every requested draw.
func WithEmitter(e raffle.Emitter) Option {
	return func(k *Keeper) { k.emitter = e }
}

// New creates a keeper for target. An empty schedule uses DefaultSchedule.
func New(target Upkeeper, schedule string, log *logger.Logger, opts ...Option) (*Keeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse keeper schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.NewDefault("keeper")
	}
	k := &Keeper{
		target:   target,
		schedule: schedule,
		now:      time.Now,
		emitter:  events.Discard{},
		log:      log,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// Name implements system.Service.
func (k *Keeper) Name() string { return "keeper" }

// Start schedules the upkeep job.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(k.schedule, func() { k.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule upkeep: %w", err)
	}
	c.Start()
	k.cron = c
	k.cancel = cancel
	k.log.WithField("schedule", k.schedule).Info("keeper started")
	return nil
}

// Stop cancels the schedule and waits for a running tick to finish.
func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	c, cancel := k.cron, k.cancel
	k.cron, k.cancel = nil, nil
	k.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	cancel()
	select {
	case <-done.Done():
		k.log.Info("keeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one check and, when eligible, one upkeep. A lost race against
// another trigger is reported as OutcomeNotNeeded and not retried.
func (k *Keeper) Tick(ctx context.Context) (Outcome, error) {
	now := k.now()
	eligible, diag := k.target.CheckUpkeep(now)
	metrics.RecordUpkeepCheck(eligible)
	if !eligible {
		k.record(now, OutcomeIdle)
		k.log.WithField("diagnostic", diag.String()).Debug("upkeep not needed")
		return OutcomeIdle, nil
	}

	start := time.Now()
	id, err := k.target.PerformUpkeep(ctx, now, diag.Bytes())
	var outcome Outcome
	switch {
	case err == nil:
		outcome = OutcomeRequested
		k.log.WithField("request_id", id.String()).Info("upkeep performed")
		k.emitter.Emit(ctx, events.NewEvent(events.EventUpkeepPerformed).
			Source("keeper").
			RequestID(id.String()).
			At(now).
			Attr("diagnostic", diag.String()).
			Build())
	case errors.Is(err, raffle.ErrUpkeepNotNeeded):
		outcome = OutcomeNotNeeded
		k.log.WithError(err).Info("upkeep raced, skipping")
	default:
		outcome = OutcomeError
		k.log.WithError(err).Error("perform upkeep")
	}
	metrics.RecordUpkeep(string(outcome), time.Since(start))
	k.record(now, outcome)
	if outcome == OutcomeError {
		return outcome, err
	}
	return outcome, nil
}

func (k *Keeper) record(at time.Time, outcome Outcome) {
	k.mu.Lock()
	k.lastRun = at
	k.lastOut = outcome
	k.mu.Unlock()
}

// Last returns the time and outcome of the most recent tick.
func (k *Keeper) Last() (time.Time, Outcome) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastRun, k.lastOut
}
