package port

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// EventPublisher writes one event to a topic. Publish blocks until the
// transport acknowledges the write or reports an error; it never drops.
type EventPublisher interface {
	Publish(ctx context.Context, key, payload []byte) error
	Close() error
}

// EventStream is a committed-offset view of one topic for one consumer
// group. Fetch hands out the next message without committing it; Commit
// acknowledges messages whose handling finished. A message fetched but
// never committed is redelivered after a restart or rebalance.
type EventStream interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
