package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeStream struct {
	args []*redis.XAddArgs
}

func (s *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.args = append(s.args, a)
	return redis.NewStringResult("1-0", nil)
}

func (s *fakeStream) Close() error { return nil }

func TestKafkaSink_KeyIsAccount(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}
	event := newEvent(42)

	require.NoError(t, sink.Send(context.Background(), event))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))

	var decoded domain.LedgerEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, event.TransactionID, decoded.TransactionID)
	assert.Equal(t, domain.EventTypeDeposited, decoded.Type)
	assert.Equal(t, domain.MustParseAmount("1"), decoded.Amount)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestRedisSink_XAdd(t *testing.T) {
	s := &fakeStream{}
	sink := &RedisSink{client: s, stream: "ledger-events", maxLen: 1000}

	require.NoError(t, sink.Send(context.Background(), newEvent(7)))
	require.Len(t, s.args, 1)
	args := s.args[0]
	assert.Equal(t, "ledger-events", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values, ok := args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, domain.EventTypeDeposited, values["type"])
	assert.Contains(t, values["event"], `"to_account_id":7`)
}

func TestNewSink(t *testing.T) {
	sink, err := NewSink(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, sink)

	_, err = NewSink(Config{Driver: "kafka"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewSink(Config{Driver: "redis", Redis: RedisConfig{Addr: "localhost:6379"}}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewSink(Config{Driver: "nats"}, zap.NewNop())
	assert.Error(t, err)

	sink, err = NewSink(Config{Driver: "kafka", Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "ledger"}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &KafkaSink{}, sink)
	assert.NoError(t, sink.Close())
}
