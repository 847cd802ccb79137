package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferEmitFillsDefaults(t *testing.T) {
	rb := NewRingBuffer(4)
	ctx := WithTraceID(context.Background(), "trace-1")

	rb.Emit(ctx, NewEvent(EventRaffleEntered).Source("raffle").Round(1).Attr("player", "0xabc").Build())

	recent := rb.Recent(1)
	require.Len(t, recent, 1)
	ev := recent[0]
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "trace-1", ev.TraceID)
	assert.Equal(t, "0xabc", ev.Attr("player"))
	assert.Equal(t, uint64(1), ev.Round)
}

func TestRingBufferWrapsAndOrdersNewestFirst(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 1; i <= 5; i++ {
		rb.Emit(context.Background(), NewEvent(EventRaffleEntered).Round(uint64(i)).Build())
	}

	if rb.Count() != 3 {
		t.Fatalf("expected 3 buffered events, got %d", rb.Count())
	}
	recent := rb.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(5), recent[0].Round)
	assert.Equal(t, uint64(4), recent[1].Round)
	assert.Equal(t, uint64(3), recent[2].Round)
}

func TestRecentByType(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Emit(context.Background(), NewEvent(EventRaffleEntered).Build())
	rb.Emit(context.Background(), NewEvent(EventDrawRequested).RequestID("1").Build())
	rb.Emit(context.Background(), NewEvent(EventRaffleEntered).Build())

	entered := rb.RecentByType(EventRaffleEntered, 10)
	assert.Len(t, entered, 2)
	draws := rb.RecentByType(EventDrawRequested, 10)
	require.Len(t, draws, 1)
	assert.Equal(t, "1", draws[0].RequestID)
	assert.Empty(t, rb.RecentByType(EventWinnerPicked, 10))
}

func TestSubscribeFilteredAndUnsubscribe(t *testing.T) {
	rb := NewRingBuffer(10)
	var got []EventType
	unsubscribe := rb.SubscribeFiltered(TypeFilter(EventWinnerPicked), func(e Event) {
		got = append(got, e.Type)
	})

	rb.Emit(context.Background(), NewEvent(EventRaffleEntered).Build())
	rb.Emit(context.Background(), NewEvent(EventWinnerPicked).Build())
	unsubscribe()
	rb.Emit(context.Background(), NewEvent(EventWinnerPicked).Build())

	assert.Equal(t, []EventType{EventWinnerPicked}, got)
}

type fakePublisher struct {
	mu       sync.Mutex
	channel  string
	messages [][]byte
	notify   chan struct{}
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	f.channel = channel
	f.messages = append(f.messages, message.([]byte))
	f.mu.Unlock()
	f.notify <- struct{}{}
	return redis.NewIntResult(1, nil)
}

func TestRedisForwarderPublishesJSON(t *testing.T) {
	pub := &fakePublisher{notify: make(chan struct{}, 1)}
	fwd := newRedisForwarder(pub, "", nil)
	require.NoError(t, fwd.Start(context.Background()))
	defer fwd.Stop(context.Background())

	fwd.Handle(NewEvent(EventWinnerPicked).Round(2).Attr("winner", "0x01").Build())

	select {
	case <-pub.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, defaultRedisChannel, pub.channel)
	var decoded Event
	require.NoError(t, json.Unmarshal(pub.messages[0], &decoded))
	assert.Equal(t, EventWinnerPicked, decoded.Type)
	assert.Equal(t, "0x01", decoded.Attr("winner"))
}

func TestRedisForwarderDropsWhenQueueFull(t *testing.T) {
	fwd := newRedisForwarder(&fakePublisher{notify: make(chan struct{}, 1)}, "c", nil)
	for i := 0; i < cap(fwd.queue)+3; i++ {
		fwd.Handle(NewEvent(EventRaffleEntered).Build())
	}
	if fwd.Dropped() != 3 {
		t.Fatalf("expected 3 dropped events, got %d", fwd.Dropped())
	}
}
