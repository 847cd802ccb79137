package vrf

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

const eventSource = "vrf"

var (
	// DefaultBaseFee is 0.25 LINK in juels.
	DefaultBaseFee = uint256.NewInt(250_000_000_000_000_000)
	// DefaultGasPriceLink is the juels charged per unit of callback gas.
	DefaultGasPriceLink = uint256.NewInt(1_000_000_000)
)

// CoordinatorConfig configures the in-process coordinator.
type CoordinatorConfig struct {
	// Address identifies the coordinator to consumers.
	Address      common.Address
	BaseFee      *uint256.Int
	GasPriceLink *uint256.Int
}

// Coordinator tracks subscriptions and randomness requests and delivers
// proofs to registered consumers. Consumers are always called without the
// coordinator lock held.
type Coordinator struct {
	mu sync.Mutex

	cfg     CoordinatorConfig
	prover  *Prover
	emitter raffle.Emitter
	log     *logger.Logger
	now     func() time.Time

	subs       map[uint64]*Subscription
	consumers  map[uint64]map[common.Address]Consumer
	requests   map[raffle.RequestID]*Request
	delivering map[raffle.RequestID]bool
	nonces     map[common.Address]uint64
	nextSub    uint64
	nextReq    uint64

	notify chan raffle.RequestID
}

// NewCoordinator creates a coordinator signing with prover.
func NewCoordinator(cfg CoordinatorConfig, prover *Prover, emitter raffle.Emitter, log *logger.Logger) *Coordinator {
	if cfg.BaseFee == nil {
		cfg.BaseFee = new(uint256.Int).Set(DefaultBaseFee)
	}
	if cfg.GasPriceLink == nil {
		cfg.GasPriceLink = new(uint256.Int).Set(DefaultGasPriceLink)
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if log == nil {
		log = logger.NewDefault("vrf-coordinator")
	}
	return &Coordinator{
		cfg:        cfg,
		prover:     prover,
		emitter:    emitter,
		log:        log,
		now:        time.Now,
		subs:       make(map[uint64]*Subscription),
		consumers:  make(map[uint64]map[common.Address]Consumer),
		requests:   make(map[raffle.RequestID]*Request),
		delivering: make(map[raffle.RequestID]bool),
		nonces:     make(map[common.Address]uint64),
		notify:     make(chan raffle.RequestID, 256),
	}
}

// Address returns the coordinator identity presented to consumers.
func (c *Coordinator) Address() common.Address { return c.cfg.Address }

// Pending delivers the ids of new requests. Sends never block; a full
// channel drops the notification and the request stays pending.
func (c *Coordinator) Pending() <-chan raffle.RequestID { return c.notify }

// Payment is the fee charged for a fulfillment with the given gas limit.
func (c *Coordinator) Payment(callbackGasLimit uint32) *uint256.Int {
	fee := new(uint256.Int).Mul(c.cfg.GasPriceLink, uint256.NewInt(uint64(callbackGasLimit)))
	return fee.Add(fee, c.cfg.BaseFee)
}

// CreateSubscription opens an empty subscription owned by owner.
func (c *Coordinator) CreateSubscription(ctx context.Context, owner common.Address) (uint64, error) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = &Subscription{
		ID:        id,
		Owner:     owner,
		Balance:   new(uint256.Int),
		CreatedAt: c.now().UTC(),
	}
	c.consumers[id] = make(map[common.Address]Consumer)
	c.mu.Unlock()

	c.log.WithField("subscription_id", id).WithField("owner", owner.Hex()).Info("subscription created")
	c.emitter.Emit(ctx, events.NewEvent(events.EventSubscriptionCreated).
		Source(eventSource).
		Attr("subscription_id", strconv.FormatUint(id, 10)).
		Attr("owner", owner.Hex()).
		Build())
	return id, nil
}

// FundSubscription adds amount to the subscription balance.
func (c *Coordinator) FundSubscription(ctx context.Context, subID uint64, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("fund subscription %d: amount is required", subID)
	}
	c.mu.Lock()
	sub, ok := c.subs[subID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	old := new(uint256.Int).Set(sub.Balance)
	sub.Balance.Add(sub.Balance, amount)
	balance := sub.Balance.Dec()
	c.mu.Unlock()

	c.emitter.Emit(ctx, events.NewEvent(events.EventSubscriptionFunded).
		Source(eventSource).
		Attr("subscription_id", strconv.FormatUint(subID, 10)).
		Attr("old_balance", old.Dec()).
		Attr("new_balance", balance).
		Build())
	return nil
}

// AddConsumer authorises addr to request randomness on subID. Fulfillments
// for its requests are delivered to consumer.
func (c *Coordinator) AddConsumer(ctx context.Context, subID uint64, addr common.Address, consumer Consumer) error {
	if consumer == nil {
		return fmt.Errorf("add consumer %s: consumer is nil", addr.Hex())
	}
	c.mu.Lock()
	sub, ok := c.subs[subID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	if _, exists := c.consumers[subID][addr]; !exists {
		sub.Consumers = append(sub.Consumers, addr)
	}
	c.consumers[subID][addr] = consumer
	c.mu.Unlock()

	c.log.WithField("subscription_id", subID).WithField("consumer", addr.Hex()).Info("consumer added")
	c.emitter.Emit(ctx, events.NewEvent(events.EventConsumerAdded).
		Source(eventSource).
		Attr("subscription_id", strconv.FormatUint(subID, 10)).
		Attr("consumer", addr.Hex()).
		Build())
	return nil
}

// RemoveConsumer revokes addr from subID.
func (c *Coordinator) RemoveConsumer(ctx context.Context, subID uint64, addr common.Address) error {
	c.mu.Lock()
	sub, ok := c.subs[subID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	if _, exists := c.consumers[subID][addr]; !exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidConsumer, addr.Hex())
	}
	delete(c.consumers[subID], addr)
	for i, a := range sub.Consumers {
		if a == addr {
			sub.Consumers = append(sub.Consumers[:i], sub.Consumers[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.emitter.Emit(ctx, events.NewEvent(events.EventConsumerRemoved).
		Source(eventSource).
		Attr("subscription_id", strconv.FormatUint(subID, 10)).
		Attr("consumer", addr.Hex()).
		Build())
	return nil
}

// GetSubscription returns a copy of the subscription.
func (c *Coordinator) GetSubscription(subID uint64) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	return sub.clone(), nil
}

// RequestRandomWords implements raffle.Oracle. It records the request and
// returns immediately; delivery happens through FulfillRandomWords.
func (c *Coordinator) RequestRandomWords(ctx context.Context, req raffle.RandomnessRequest) (raffle.RequestID, error) {
	switch {
	case req.NumWords > MaxNumWords:
		return 0, fmt.Errorf("%w: %d > %d", ErrNumWordsTooHigh, req.NumWords, MaxNumWords)
	case req.CallbackGasLimit > MaxCallbackGasLimit:
		return 0, fmt.Errorf("%w: %d > %d", ErrGasLimitTooHigh, req.CallbackGasLimit, MaxCallbackGasLimit)
	case req.Confirmations > MaxConfirmations:
		return 0, fmt.Errorf("%w: %d > %d", ErrInvalidConfirmations, req.Confirmations, MaxConfirmations)
	}

	c.mu.Lock()
	if _, ok := c.subs[req.SubscriptionID]; !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrInvalidSubscription, req.SubscriptionID)
	}
	if _, ok := c.consumers[req.SubscriptionID][req.Requester]; !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrInvalidConsumer, req.Requester.Hex())
	}

	c.nextReq++
	id := raffle.RequestID(c.nextReq)
	c.nonces[req.Requester]++
	request := &Request{
		ID:               id,
		SubscriptionID:   req.SubscriptionID,
		Consumer:         req.Requester,
		KeyHash:          req.KeyHash,
		Confirmations:    req.Confirmations,
		CallbackGasLimit: req.CallbackGasLimit,
		NumWords:         req.NumWords,
		PreSeed:          preSeed(req.KeyHash, req.Requester, req.SubscriptionID, c.nonces[req.Requester]),
		Status:           StatusPending,
		RequestedAt:      c.now().UTC(),
	}
	c.requests[id] = request
	c.mu.Unlock()

	select {
	case c.notify <- id:
	default:
		c.log.WithField("request_id", id.String()).Warn("pending queue full, request left for sweep")
	}

	c.log.WithField("request_id", id.String()).
		WithField("subscription_id", req.SubscriptionID).
		WithField("consumer", req.Requester.Hex()).
		Info("random words requested")
	c.emitter.Emit(ctx, events.NewEvent(events.EventRandomWordsRequested).
		Source(eventSource).
		RequestID(id.String()).
		Attr("subscription_id", strconv.FormatUint(req.SubscriptionID, 10)).
		Attr("consumer", req.Requester.Hex()).
		Attr("key_hash", req.KeyHash.Hex()).
		Attr("num_words", strconv.FormatUint(uint64(req.NumWords), 10)).
		Build())
	return id, nil
}

// FulfillRandomWords proves and delivers a pending or failed request. The
// subscription is charged only when the consumer accepts the words. A
// rejected delivery keeps the request and its words for Redeliver.
func (c *Coordinator) FulfillRandomWords(ctx context.Context, id raffle.RequestID) error {
	c.mu.Lock()
	req, ok := c.requests[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if req.Status == StatusFulfilled {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyFulfilled, id)
	}
	if c.delivering[id] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeliveryInProgress, id)
	}

	sub := c.subs[req.SubscriptionID]
	payment := c.Payment(req.CallbackGasLimit)
	if sub.Balance.Lt(payment) {
		c.mu.Unlock()
		return &InsufficientBalanceError{
			SubscriptionID: sub.ID,
			Balance:        new(uint256.Int).Set(sub.Balance),
			Payment:        payment,
		}
	}
	consumer, ok := c.consumers[req.SubscriptionID][req.Consumer]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidConsumer, req.Consumer.Hex())
	}

	if req.Words == nil {
		proof, err := c.prover.Prove(req.PreSeed)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("prove request %s: %w", id, err)
		}
		req.Proof = &proof
		req.Words = proof.Words(req.NumWords)
	}
	words := req.clone().Words
	c.delivering[id] = true
	c.mu.Unlock()

	deliverErr := consumer.RawFulfillRandomWords(ctx, c.cfg.Address, id, words)

	c.mu.Lock()
	delete(c.delivering, id)
	req.Attempts++
	success := deliverErr == nil
	if success {
		sub.Balance.Sub(sub.Balance, payment)
		req.Status = StatusFulfilled
		req.Payment = payment
		req.Error = ""
		req.FulfilledAt = c.now().UTC()
	} else {
		req.Status = StatusFailed
		req.Error = deliverErr.Error()
	}
	attempts := req.Attempts
	c.mu.Unlock()

	entry := c.log.WithField("request_id", id.String()).WithField("attempts", attempts)
	if success {
		entry.WithField("payment", payment.Dec()).Info("random words fulfilled")
	} else {
		entry.WithError(deliverErr).Warn("consumer rejected random words")
	}
	c.emitter.Emit(ctx, events.NewEvent(events.EventRandomWordsFulfilled).
		Source(eventSource).
		RequestID(id.String()).
		Attr("success", strconv.FormatBool(success)).
		Attr("payment", payment.Dec()).
		Attr("attempts", strconv.Itoa(attempts)).
		Build())

	if deliverErr != nil {
		return fmt.Errorf("deliver request %s: %w", id, deliverErr)
	}
	return nil
}

// Redeliver replays the stored words of a request whose last delivery was
// rejected.
func (c *Coordinator) Redeliver(ctx context.Context, id raffle.RequestID) error {
	c.mu.Lock()
	req, ok := c.requests[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	status := req.Status
	c.mu.Unlock()

	if status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotRedeliverable, id, status)
	}
	return c.FulfillRandomWords(ctx, id)
}

// Request returns a copy of the tracked request.
func (c *Coordinator) Request(id raffle.RequestID) (Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return req.clone(), nil
}

// PendingRequests returns pending requests created at or before cutoff,
// oldest first.
func (c *Coordinator) PendingRequests(cutoff time.Time) []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Request
	for _, req := range c.requests {
		if req.Status == StatusPending && !c.delivering[req.ID] && !req.RequestedAt.After(cutoff) {
			out = append(out, req.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
