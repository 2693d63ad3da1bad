package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/core/domain"
	"github.com/markethub/stock-saga/internal/port"
)

// ProcessingConsumer drains the placed-transaction stream and drives the
// Processor. A message is committed only after its status event has been
// published, so a crash in between causes redelivery rather than a
// transaction stuck IN_PROGRESS.
type ProcessingConsumer struct {
	stream    port.EventStream
	processor *Processor
	logger    *zap.Logger
}

func NewProcessingConsumer(stream port.EventStream, processor *Processor, logger *zap.Logger) *ProcessingConsumer {
	return &ProcessingConsumer{
		stream:    stream,
		processor: processor,
		logger:    logger,
	}
}

func (c *ProcessingConsumer) Run(ctx context.Context) error {
	c.logger.Info("processing consumer started, waiting for transactions")

	for {
		msg, err := c.stream.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("context done, exiting processing loop")
				return nil
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			continue
		}

		var event domain.TransactionPlacedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Malformed payloads never become valid; skip past them
			c.logger.Error("malformed placed event, skipping",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
			)
			if err := c.stream.Commit(ctx, msg); err != nil {
				c.logger.Error("failed to commit skipped message", zap.Error(err))
			}
			continue
		}

		if err := c.processor.Process(ctx, event); err != nil {
			c.logger.Error("processing failed, message left for redelivery",
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err),
			)
			continue
		}

		if err := c.stream.Commit(ctx, msg); err != nil {
			c.logger.Error("failed to commit processed message",
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err),
			)
		}
	}
}
