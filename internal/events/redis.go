package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// RedisConfig configures the Redis forwarder.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"RAFFLE_REDIS_ADDR"`
	Password string `yaml:"password" env:"RAFFLE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"RAFFLE_REDIS_DB"`
	Channel  string `yaml:"channel" env:"RAFFLE_REDIS_CHANNEL"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// redisPublisher is the subset of the go-redis client used by the forwarder.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

const defaultRedisChannel = "raffle:events"

// RedisForwarder republishes events on a Redis pub/sub channel. Events are
// queued by the bus handler and published from a background worker so that
// emitters never wait on the network.
type RedisForwarder struct {
	client  redisPublisher
	closer  func() error
	channel string
	queue   chan Event
	log     *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	dropped int
}

// NewRedisForwarder dials Redis using cfg.
func NewRedisForwarder(cfg RedisConfig, log *logger.Logger) *RedisForwarder {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	f := newRedisForwarder(client, cfg.Channel, log)
	f.closer = client.Close
	return f
}

func newRedisForwarder(client redisPublisher, channel string, log *logger.Logger) *RedisForwarder {
	if log == nil {
		log = logger.NewDefault("events-redis")
	}
	if channel == "" {
		channel = defaultRedisChannel
	}
	return &RedisForwarder{
		client:  client,
		channel: channel,
		queue:   make(chan Event, 256),
		log:     log,
	}
}

// Name implements system.Service.
func (f *RedisForwarder) Name() string { return "events-redis" }

// Handle is the bus handler. It never blocks; events are dropped when the
// queue is full.
func (f *RedisForwarder) Handle(event Event) {
	select {
	case f.queue <- event:
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		f.log.WithField("event_type", event.Type).Warn("redis queue full, event dropped")
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (f *RedisForwarder) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Start launches the publishing worker.
func (f *RedisForwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.loop(runCtx, f.done)
	f.log.WithField("channel", f.channel).Info("redis event forwarder started")
	return nil
}

// Stop halts the worker and closes the client.
func (f *RedisForwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.closer != nil {
		return f.closer()
	}
	return nil
}

func (f *RedisForwarder) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-f.queue:
			if err := f.publish(ctx, event); err != nil {
				f.log.WithError(err).WithField("event_type", event.Type).Warn("publish event to redis")
			}
		}
	}
}

func (f *RedisForwarder) publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.client.Publish(pubCtx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
