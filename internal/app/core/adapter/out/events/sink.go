package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Config 事件輸出設定
type Config struct {
	// Driver: none | kafka | redis
	Driver     string      `yaml:"driver"`
	BufferSize int         `yaml:"buffer_size"`
	Kafka      KafkaConfig `yaml:"kafka"`
	Redis      RedisConfig `yaml:"redis"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	// MaxLen 串流保留的大約筆數，0 表示不限制
	MaxLen int64 `yaml:"max_len"`
}

// NewSink 依 Driver 建立對應的 Sink
func NewSink(cfg Config, logger *zap.Logger) (Sink, error) {
	switch cfg.Driver {
	case "", "none":
		return NewLogSink(logger), nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return nil, fmt.Errorf("kafka sink requires brokers and topic")
		}
		return NewKafkaSink(cfg.Kafka), nil
	case "redis":
		if cfg.Redis.Addr == "" || cfg.Redis.Stream == "" {
			return nil, fmt.Errorf("redis sink requires addr and stream")
		}
		return NewRedisSink(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unknown event driver %q", cfg.Driver)
	}
}

// messageWriter 為 *kafka.Writer 使用到的方法
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 把事件寫入 Kafka topic，key 為帳戶 ID 讓同一帳戶的事件落在同一個 partition
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Send(ctx context.Context, event domain.LedgerEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.PartitionKey(), 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// streamClient 為 *redis.Client 使用到的方法
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisSink 把事件 XADD 到 Redis Stream，欄位 event 為 JSON
type RedisSink struct {
	client streamClient
	stream string
	maxLen int64
}

func NewRedisSink(cfg RedisConfig) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}
}

func (s *RedisSink) Send(ctx context.Context, event domain.LedgerEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":  event.Type,
			"event": string(value),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// LogSink 只寫 log，未設定外部訊息系統時使用
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, event domain.LedgerEvent) error {
	s.logger.Info("ledger event",
		zap.String("type", event.Type),
		zap.Stringer("ref_id", event.TransactionID),
		zap.Int64("from", event.From),
		zap.Int64("to", event.To),
		zap.Stringer("amount", event.Amount),
	)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
