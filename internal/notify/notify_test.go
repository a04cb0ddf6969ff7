package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-trade-ledger/internal/domain"
)

func testEvent(id string) domain.Event {
	return domain.Event{
		ID:        id,
		Type:      domain.EventPositionOpened,
		Reason:    domain.ReasonBuy,
		Timestamp: 1000,
		Position:  domain.Position{Wallet: "w", Asset: "a", Holding: 10, Active: true},
		Status:    domain.Status{ActivePositions: 1, TrackedAssets: 1, TrackedWallets: 1},
	}
}

func TestBroker_Delivers(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	require.NoError(t, b.Publish(context.Background(), testEvent("e1")))
	assert.Equal(t, "e1", (<-ch1).ID)
	assert.Equal(t, "e1", (<-ch2).ID)
	assert.Equal(t, 2, b.Subscribers())

	cancel1()
	cancel1()
	_, ok := <-ch1
	assert.False(t, ok)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	require.NoError(t, b.Publish(context.Background(), testEvent("e1")))
	require.NoError(t, b.Publish(context.Background(), testEvent("e2")))
	assert.Equal(t, int64(1), b.Dropped())
	assert.Equal(t, "e1", (<-ch).ID)
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	b.Close()
	b.Close()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestBroker_ConcurrentPublish(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1000)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Publish(context.Background(), testEvent("e"))
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 500)
}

func TestFanout(t *testing.T) {
	var got []string
	ok := SinkFunc(func(_ context.Context, e domain.Event) error {
		got = append(got, "ok:"+e.ID)
		return nil
	})
	boom := errors.New("boom")
	failing := SinkFunc(func(context.Context, domain.Event) error { return boom })

	f := NewFanout(failing, nil, ok)
	assert.Equal(t, 2, f.Len())

	err := f.Publish(context.Background(), testEvent("e1"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"ok:e1"}, got)
}

type fakeRedis struct {
	published map[string][][]byte
	streams   []*redis.XAddArgs
	err       error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	if f.published == nil {
		f.published = make(map[string][][]byte)
	}
	f.published[channel] = append(f.published[channel], message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.streams = append(f.streams, a)
	cmd.SetVal("1-0")
	return cmd
}

func TestRedisSink_Publish(t *testing.T) {
	fake := &fakeRedis{}
	s := newRedisSink(fake, RedisConfig{Channel: "ledger:events", Stream: "ledger:stream"})

	require.NoError(t, s.Publish(context.Background(), testEvent("e1")))

	require.Len(t, fake.published["ledger:events"], 1)
	var decoded domain.Event
	require.NoError(t, json.Unmarshal(fake.published["ledger:events"][0], &decoded))
	assert.Equal(t, "e1", decoded.ID)
	assert.Equal(t, "w", decoded.Position.Wallet)

	require.Len(t, fake.streams, 1)
	args := fake.streams[0]
	assert.Equal(t, "ledger:stream", args.Stream)
	assert.Equal(t, DefaultStreamMaxLen, args.MaxLen)
	assert.True(t, args.Approx)
	values := args.Values.(map[string]interface{})
	assert.Equal(t, "position_opened", values["type"])
	assert.NoError(t, s.Close())
}

func TestRedisSink_ChannelOnly(t *testing.T) {
	fake := &fakeRedis{}
	s := newRedisSink(fake, RedisConfig{Channel: "c"})
	require.NoError(t, s.Publish(context.Background(), testEvent("e1")))
	assert.Len(t, fake.published["c"], 1)
	assert.Empty(t, fake.streams)
}

func TestRedisSink_Error(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	s := newRedisSink(fake, RedisConfig{Channel: "c", Stream: "s"})
	err := s.Publish(context.Background(), testEvent("e1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: publish c")
}
