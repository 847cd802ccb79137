package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

const roundQueueSize = 64

// roundRecorder writes a history record for every winner_picked event. The
// event handler only enqueues, so the store is never called while the
// machine holds its lock.
type roundRecorder struct {
	store storage.RoundStore
	log   *logger.Logger
	queue chan events.Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	dropped int
}

func newRoundRecorder(store storage.RoundStore, log *logger.Logger) *roundRecorder {
	return &roundRecorder{
		store: store,
		log:   log,
		queue: make(chan events.Event, roundQueueSize),
	}
}

func (r *roundRecorder) Name() string { return "round-history" }

// Handle queues ev for persistence.
func (r *roundRecorder) Handle(ev events.Event) {
	if ev.Type != events.EventWinnerPicked {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.log.WithField("round", ev.Round).Warn("round history queue full, record dropped")
	}
}

func (r *roundRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(runCtx, r.done)
	return nil
}

func (r *roundRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *roundRecorder) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.save(ev)
		}
	}
}

func (r *roundRecorder) save(ev events.Event) {
	round, err := roundFromEvent(ev)
	if err != nil {
		r.log.WithError(err).WithField("event_id", ev.ID).Warn("malformed winner event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveRound(ctx, round); err != nil {
		if errors.Is(err, storage.ErrDuplicateRound) {
			r.log.WithField("round", round.Number).Debug("round already recorded")
			return
		}
		r.log.WithError(err).WithField("round", round.Number).Error("save round history")
		return
	}
	r.log.WithField("round", round.Number).
		WithField("winner", round.Winner.Hex()).
		WithField("prize", round.Prize.Dec()).
		Info("round recorded")
}

func roundFromEvent(ev events.Event) (storage.Round, error) {
	prize, err := uint256.FromDecimal(ev.Attr("prize"))
	if err != nil {
		return storage.Round{}, err
	}
	players, err := strconv.Atoi(ev.Attr("players"))
	if err != nil {
		return storage.Round{}, err
	}
	winner := ev.Attr("winner")
	if !common.IsHexAddress(winner) {
		return storage.Round{}, errors.New("winner is not an address")
	}
	return storage.Round{
		Number:      ev.Round,
		RequestID:   ev.RequestID,
		Winner:      common.HexToAddress(winner),
		Prize:       prize,
		Players:     players,
		CompletedAt: ev.Timestamp,
	}, nil
}
