package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// streamMaxLen is the approximate maximum length for Redis streams, enforced
// via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for ephemeral
// fan-out and Redis Streams for a durable, ordered signal history.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend appends a payload to a Redis stream with XADD MAXLEN ~10000.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count messages after lastID without blocking. Use
// "0" to read from the beginning. It returns an empty slice (not an error)
// when no messages are available.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return sb.streamRead(ctx, stream, lastID, count, -1)
}

// StreamReadBlock is StreamRead that waits up to block for new entries.
func (sb *SignalBus) StreamReadBlock(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	return sb.streamRead(ctx, stream, lastID, count, block)
}

func (sb *SignalBus) streamRead(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   block,
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

// RiskSink publishes risk signals as JSON on "<prefix>.<kind>" and appends
// them to a durable stream so late consumers such as an auto-close executor
// can replay what they missed.
type RiskSink struct {
	bus    domain.SignalBus
	prefix string
	stream string
}

// NewRiskSink creates a RiskSink. Empty prefix and stream default to
// "hedgerisk.signal" and "hedgerisk:signals".
func NewRiskSink(bus domain.SignalBus, prefix, stream string) *RiskSink {
	if prefix == "" {
		prefix = "hedgerisk.signal"
	}
	if stream == "" {
		stream = "hedgerisk:signals"
	}
	return &RiskSink{bus: bus, prefix: prefix, stream: stream}
}

// Emit implements domain.SignalSink.
func (s *RiskSink) Emit(ctx context.Context, sig domain.RiskSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal: %w", err)
	}
	if err := s.bus.Publish(ctx, s.prefix+"."+string(sig.Kind), payload); err != nil {
		return err
	}
	// riskUpdated fires every tick for every position; keep the stream for
	// actionable kinds only.
	if sig.Kind == domain.SignalRiskUpdated {
		return nil
	}
	return s.bus.StreamAppend(ctx, s.stream, payload)
}

// Stream returns the durable stream name.
func (s *RiskSink) Stream() string { return s.stream }

// Compile-time interface checks.
var (
	_ domain.SignalBus  = (*SignalBus)(nil)
	_ domain.SignalSink = (*RiskSink)(nil)
)
