package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/core/domain"
	"github.com/markethub/stock-saga/internal/port"
)

// ResultConsumer consumes terminal status events and records them on the
// durable transaction record. Redelivery is harmless because RecordOutcome
// is idempotent.
type ResultConsumer struct {
	stream  port.EventStream
	service *TransactionService
	logger  *zap.Logger
}

func NewResultConsumer(stream port.EventStream, service *TransactionService, logger *zap.Logger) *ResultConsumer {
	return &ResultConsumer{
		stream:  stream,
		service: service,
		logger:  logger,
	}
}

func (c *ResultConsumer) Run(ctx context.Context) error {
	c.logger.Info("result consumer started, waiting for status events")

	for {
		msg, err := c.stream.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("context done, exiting result loop")
				return nil
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			continue
		}

		var event domain.TransactionStatusEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Error("malformed status event, skipping",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
			)
			if err := c.stream.Commit(ctx, msg); err != nil {
				c.logger.Error("failed to commit skipped message", zap.Error(err))
			}
			continue
		}

		if err := c.service.RecordOutcome(ctx, event.TransactionID, event.Status); err != nil {
			if errors.Is(err, domain.ErrTransactionNotFound) {
				// Transactions are persisted before their placed event is
				// published, so an unknown id cannot heal on retry
				c.logger.Warn("status event for unknown transaction, skipping",
					zap.String("transaction_id", event.TransactionID),
				)
			} else {
				c.logger.Error("failed to record outcome, message left for redelivery",
					zap.String("transaction_id", event.TransactionID),
					zap.Error(err),
				)
				continue
			}
		}

		if err := c.stream.Commit(ctx, msg); err != nil {
			c.logger.Error("failed to commit status message",
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err),
			)
		}
	}
}
