package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"solana-trade-ledger/internal/domain"
)

// DefaultStreamMaxLen is the approximate stream length enforced via
// XADD MAXLEN ~.
const DefaultStreamMaxLen int64 = 10000

// RedisConfig holds connection and destination settings.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	// Channel receives every event via PUBLISH. Empty disables it.
	Channel string
	// Stream receives every event via XADD. Empty disables it.
	Stream       string
	StreamMaxLen int64
}

// redisWriter is the subset of *redis.Client used by RedisSink.
type redisWriter interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink publishes events as JSON to a Redis channel and appends them
// to a Redis stream.
type RedisSink struct {
	rdb     redisWriter
	channel string
	stream  string
	maxLen  int64
	closer  func() error
}

// NewRedisSink connects to Redis, pings it, and returns a sink.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	s := newRedisSink(rdb, cfg)
	s.closer = rdb.Close
	return s, nil
}

func newRedisSink(rdb redisWriter, cfg RedisConfig) *RedisSink {
	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisSink{rdb: rdb, channel: cfg.Channel, stream: cfg.Stream, maxLen: maxLen}
}

var _ Sink = (*RedisSink)(nil)

// Publish encodes event and writes it to the channel and the stream.
func (s *RedisSink) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	if s.channel != "" {
		if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
			return fmt.Errorf("redis: publish %s: %w", s.channel, err)
		}
	}
	if s.stream != "" {
		args := &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"type":    string(event.Type),
				"payload": payload,
			},
		}
		if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("redis: stream append %s: %w", s.stream, err)
		}
	}
	return nil
}

// Close releases the connection.
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
