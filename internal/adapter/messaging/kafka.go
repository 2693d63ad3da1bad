package messaging

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to one topic. Messages are keyed by
// transaction id and the Hash balancer routes a key to a stable partition,
// which keeps per-transaction ordering without any global ordering.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaStream reads one topic as part of a competing-consumer group.
// Fetch/Commit are split so callers can delay the commit until their own
// side effects are durable.
type KafkaStream struct {
	reader *kafka.Reader
}

func NewKafkaStream(broker, topic, groupID string) *KafkaStream {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: groupID,
	})
	return &KafkaStream{reader: reader}
}

func (s *KafkaStream) Fetch(ctx context.Context) (kafka.Message, error) {
	return s.reader.FetchMessage(ctx)
}

func (s *KafkaStream) Commit(ctx context.Context, msgs ...kafka.Message) error {
	return s.reader.CommitMessages(ctx, msgs...)
}

func (s *KafkaStream) Close() error {
	return s.reader.Close()
}
