package messaging

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

const memoryTopicBuffer = 1024

// MemoryBroker is a channel-backed stand-in for the Kafka transport,
// implementing the same publisher and stream ports. Streams attached to the
// same topic compete for messages the way members of one consumer group do.
// Used by tests and single-process runs.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]chan kafka.Message
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]chan kafka.Message)}
}

func (b *MemoryBroker) topic(name string) chan kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan kafka.Message, memoryTopicBuffer)
		b.topics[name] = ch
	}
	return ch
}

func (b *MemoryBroker) Publisher(topic string) *MemoryPublisher {
	return &MemoryPublisher{ch: b.topic(topic)}
}

func (b *MemoryBroker) Stream(topic string) *MemoryStream {
	return &MemoryStream{ch: b.topic(topic)}
}

type MemoryPublisher struct {
	ch chan kafka.Message
}

func (p *MemoryPublisher) Publish(ctx context.Context, key, payload []byte) error {
	select {
	case p.ch <- kafka.Message{Key: key, Value: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MemoryPublisher) Close() error { return nil }

type MemoryStream struct {
	ch chan kafka.Message
}

func (s *MemoryStream) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *MemoryStream) Commit(ctx context.Context, msgs ...kafka.Message) error { return nil }

func (s *MemoryStream) Close() error { return nil }
