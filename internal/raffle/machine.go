package raffle

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

const eventSource = "raffle"

// Machine owns the round state. Every mutating operation holds the write
// lock for its whole duration, including the oracle request and the payout,
// so operations never interleave.
type Machine struct {
	mu sync.RWMutex

	cfg      Config
	oracle   Oracle
	transfer Transferer
	emitter  Emitter
	log      *logger.Logger
	now      func() time.Time

	state      roundState
	players    []common.Address
	pooled     *uint256.Int
	lastDraw   time.Time
	lastWinner common.Address
	hasWinner  bool
	round      uint64
}

// Option customises a Machine.
type Option func(*Machine)

// WithClock overrides the time source used for round boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithEmitter sets the notification sink.
func WithEmitter(e Emitter) Option {
	return func(m *Machine) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates an open machine for round 1 with lastDrawTimestamp set to the
// construction time.
func New(cfg Config, oracle Oracle, transfer Transferer, opts ...Option) (*Machine, error) {
	cfg = cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if oracle == nil {
		return nil, fmt.Errorf("%w: oracle is required", ErrInvalidConfig)
	}
	if transfer == nil {
		return nil, fmt.Errorf("%w: transferer is required", ErrInvalidConfig)
	}

	m := &Machine{
		cfg:      cfg,
		oracle:   oracle,
		transfer: transfer,
		emitter:  events.Discard{},
		log:      logger.NewDefault("raffle"),
		now:      time.Now,
		state:    openState{},
		pooled:   new(uint256.Int),
		round:    1,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastDraw = m.now().UTC()
	return m, nil
}

// Enter records caller as a player for the current round.
func (m *Machine) Enter(ctx context.Context, caller common.Address, payment *uint256.Int) error {
	if payment == nil {
		payment = new(uint256.Int)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if payment.Lt(m.cfg.EntranceFee) {
		return &InsufficientPaymentError{
			Required: new(uint256.Int).Set(m.cfg.EntranceFee),
			Sent:     new(uint256.Int).Set(payment),
		}
	}
	if m.state.phase() != PhaseOpen {
		return ErrRoundNotOpen
	}
	if m.cfg.MaxPlayers > 0 && len(m.players) >= m.cfg.MaxPlayers {
		return fmt.Errorf("%w: %d players", ErrRaffleFull, len(m.players))
	}
	pooled, overflow := new(uint256.Int).AddOverflow(m.pooled, payment)
	if overflow {
		return ErrPoolOverflow
	}

	m.players = append(m.players, caller)
	m.pooled = pooled

	m.log.WithField("round", m.round).
		WithField("player", caller.Hex()).
		WithField("amount", payment.Dec()).
		WithField("players", len(m.players)).
		Info("raffle entered")

	m.emitter.Emit(ctx, events.NewEvent(events.EventRaffleEntered).
		Source(eventSource).
		Round(m.round).
		At(m.now()).
		Attr("player", caller.Hex()).
		Attr("amount", payment.Dec()).
		Attr("players", strconv.Itoa(len(m.players))).
		Attr("pooled_funds", m.pooled.Dec()).
		Build())
	return nil
}

// CheckUpkeep reports whether a draw may start at now. It never mutates.
func (m *Machine) CheckUpkeep(now time.Time) (bool, Diagnostic) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d := m.diagnose(now)
	return d.Eligible(), d
}

func (m *Machine) diagnose(now time.Time) Diagnostic {
	var d Diagnostic
	if m.state.phase() == PhaseOpen {
		d |= DiagOpen
	}
	if now.Sub(m.lastDraw) >= m.cfg.Interval {
		d |= DiagIntervalElapsed
	}
	if len(m.players) > 0 {
		d |= DiagHasPlayers
	}
	if !m.pooled.IsZero() {
		d |= DiagHasBalance
	}
	return d
}

// PerformUpkeep requests randomness and moves the round to the drawing
// phase. The payload is not interpreted.
func (m *Machine) PerformUpkeep(ctx context.Context, now time.Time, payload []byte) (RequestID, error) {
	_ = payload

	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.diagnose(now)
	if !d.Eligible() {
		return 0, &UpkeepNotNeededError{
			Balance:    new(uint256.Int).Set(m.pooled),
			Players:    len(m.players),
			Phase:      m.state.phase(),
			Diagnostic: d,
		}
	}

	req := RandomnessRequest{
		KeyHash:          m.cfg.KeyHash,
		SubscriptionID:   m.cfg.SubscriptionID,
		Confirmations:    m.cfg.RequestConfirmations,
		CallbackGasLimit: m.cfg.CallbackGasLimit,
		NumWords:         m.cfg.NumWords,
		Requester:        m.cfg.Address,
	}
	id, err := m.oracle.RequestRandomWords(ctx, req)
	if err != nil {
		m.log.WithError(err).WithField("round", m.round).Error("randomness request failed")
		return 0, fmt.Errorf("%w: %w", ErrRandomnessRequest, err)
	}
	m.state = drawingState{requestID: id}

	m.log.WithField("round", m.round).
		WithField("request_id", id.String()).
		WithField("players", len(m.players)).
		Info("draw requested")

	m.emitter.Emit(ctx, events.NewEvent(events.EventDrawRequested).
		Source(eventSource).
		Round(m.round).
		RequestID(id.String()).
		At(now).
		Attr("players", strconv.Itoa(len(m.players))).
		Attr("pooled_funds", m.pooled.Dec()).
		Build())
	return id, nil
}

// RawFulfillRandomWords is the delivery entry point for oracles. Only the
// configured coordinator may call it.
func (m *Machine) RawFulfillRandomWords(ctx context.Context, caller common.Address, id RequestID, words []*uint256.Int) error {
	if caller != m.cfg.Coordinator {
		return fmt.Errorf("%w: have %s, want %s", ErrOnlyCoordinator, caller.Hex(), m.cfg.Coordinator.Hex())
	}
	return m.FulfillRandomWords(ctx, id, words)
}

// FulfillRandomWords settles the drawing round. The winner is the player at
// words[0] mod len(players). Nothing changes unless the id matches the
// pending request and the payout succeeds.
func (m *Machine) FulfillRandomWords(ctx context.Context, id RequestID, words []*uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drawing, ok := m.state.(drawingState)
	if !ok || drawing.requestID != id {
		m.log.WithField("request_id", id.String()).Warn("rejected fulfillment for unknown request")
		return &UnknownRequestError{RequestID: id, Pending: drawing.requestID, HasPending: ok}
	}
	if len(words) == 0 || words[0] == nil {
		return ErrNoRandomWords
	}

	count := uint256.NewInt(uint64(len(m.players)))
	index := new(uint256.Int).Mod(words[0], count).Uint64()
	winner := m.players[index]
	prize := new(uint256.Int).Set(m.pooled)

	if err := m.transfer.Transfer(ctx, m.cfg.Address, winner, prize); err != nil {
		m.log.WithError(err).
			WithField("round", m.round).
			WithField("request_id", id.String()).
			WithField("winner", winner.Hex()).
			Error("payout failed, round stays drawing")
		return &PayoutError{RequestID: id, Winner: winner, Amount: prize, Err: err}
	}

	now := m.now().UTC()
	completed := m.round
	players := len(m.players)

	m.lastWinner = winner
	m.hasWinner = true
	m.players = nil
	m.pooled = new(uint256.Int)
	m.state = openState{}
	m.lastDraw = now
	m.round++

	m.log.WithField("round", completed).
		WithField("request_id", id.String()).
		WithField("winner", winner.Hex()).
		WithField("prize", prize.Dec()).
		Info("winner picked")

	m.emitter.Emit(ctx, events.NewEvent(events.EventWinnerPicked).
		Source(eventSource).
		Round(completed).
		RequestID(id.String()).
		At(now).
		Attr("winner", winner.Hex()).
		Attr("winner_index", strconv.FormatUint(index, 10)).
		Attr("prize", prize.Dec()).
		Attr("players", strconv.Itoa(players)).
		Build())
	return nil
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.phase()
}

// PendingRequest returns the outstanding request id while drawing.
func (m *Machine) PendingRequest() (RequestID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.state.(drawingState)
	return d.requestID, ok
}

// EntranceFee returns the minimum accepted payment.
func (m *Machine) EntranceFee() *uint256.Int { return new(uint256.Int).Set(m.cfg.EntranceFee) }

// Interval returns the minimum time between round boundaries.
func (m *Machine) Interval() time.Duration { return m.cfg.Interval }

// Coordinator returns the oracle coordinator address.
func (m *Machine) Coordinator() common.Address { return m.cfg.Coordinator }

// Address returns the raffle escrow account.
func (m *Machine) Address() common.Address { return m.cfg.Address }

// KeyHash returns the oracle key hash sent with each request.
func (m *Machine) KeyHash() common.Hash { return m.cfg.KeyHash }

// SubscriptionID returns the oracle subscription charged for requests.
func (m *Machine) SubscriptionID() uint64 { return m.cfg.SubscriptionID }

// CallbackGasLimit returns the gas limit requested for the fulfillment.
func (m *Machine) CallbackGasLimit() uint32 { return m.cfg.CallbackGasLimit }

// Player returns the player at index in entry order.
func (m *Machine) Player(index int) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.players) {
		return common.Address{}, fmt.Errorf("%w: %d of %d", ErrPlayerIndexOutOfRange, index, len(m.players))
	}
	return m.players[index], nil
}

// PlayerCount returns the number of entries in the current round.
func (m *Machine) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// Players returns a copy of the current entries.
func (m *Machine) Players() []common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]common.Address(nil), m.players...)
}

// PooledFunds returns the sum of entrance payments since the last reset.
func (m *Machine) PooledFunds() *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(uint256.Int).Set(m.pooled)
}

// LastDrawTimestamp returns the last round boundary.
func (m *Machine) LastDrawTimestamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDraw
}

// LastWinner returns the most recently paid winner, if any.
func (m *Machine) LastWinner() (common.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastWinner, m.hasWinner
}

// Round returns the current round number, starting at 1.
func (m *Machine) Round() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.round
}

// Snapshot returns a consistent copy of the whole state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Round:             m.round,
		Phase:             m.state.phase(),
		EntranceFee:       new(uint256.Int).Set(m.cfg.EntranceFee),
		Interval:          m.cfg.Interval,
		Players:           append([]common.Address{}, m.players...),
		PooledFunds:       new(uint256.Int).Set(m.pooled),
		LastDrawTimestamp: m.lastDraw,
		Coordinator:       m.cfg.Coordinator,
		Address:           m.cfg.Address,
		MaxPlayers:        m.cfg.MaxPlayers,
	}
	if d, ok := m.state.(drawingState); ok {
		id := d.requestID
		snap.PendingRequest = &id
	}
	if m.hasWinner {
		w := m.lastWinner
		snap.LastWinner = &w
	}
	return snap
}
