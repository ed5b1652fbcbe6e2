package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaRelay publishes score updates to a Kafka topic keyed by round and
// fans the topic back out to the local hub.
type KafkaRelay struct {
	writer  *kafka.Writer
	reader  *kafka.Reader
	groupID string
	sink    Sink
	log     *slog.Logger
}

var _ Relay = (*KafkaRelay)(nil)

// GroupID is a prefix. Each relay joins its own consumer group so every
// instance reads all partitions of the topic.
type KafkaRelayConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

func NewKafkaRelay(cfg KafkaRelayConfig, sink Sink, log *slog.Logger) (*KafkaRelay, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers list is empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka group id prefix is required")
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	groupID := instanceGroupID(cfg.GroupID)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MaxWait:     maxWait,
	})
	log.Info("kafka relay configured",
		slog.String("topic", cfg.Topic),
		slog.String("group", groupID),
	)
	return &KafkaRelay{
		writer:  writer,
		reader:  reader,
		groupID: groupID,
		sink:    sink,
		log:     log,
	}, nil
}

// instanceGroupID gives a process a consumer group nobody else shares.
// Members of one group split partitions, which would hide rounds owned by
// other instances from local observers.
func instanceGroupID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Publish writes payload keyed by round, so one round's updates stay in a
// single partition and keep their order.
func (r *KafkaRelay) Publish(ctx context.Context, round string, payload []byte) error {
	err := r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(round),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (r *KafkaRelay) Run(ctx context.Context) error {
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			r.log.Warn("kafka read failed", slog.String("err", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if err := r.handle(msg); errors.Is(err, ErrClosed) {
			return nil
		}
	}
}

func (r *KafkaRelay) handle(msg kafka.Message) error {
	round := string(msg.Key)
	if round == "" {
		var ok bool
		if round, ok = RoundID(msg.Value); !ok {
			r.log.Debug("kafka message without round", slog.Int64("offset", msg.Offset))
			return ErrNoRound
		}
	}
	return r.sink.Publish(round, msg.Value)
}

func (r *KafkaRelay) Close() error {
	return errors.Join(r.writer.Close(), r.reader.Close())
}
