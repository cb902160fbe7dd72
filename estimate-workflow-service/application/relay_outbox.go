package application

import (
	"context"
	"fmt"
	"time"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/logging"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/greenpath/lawn-platform/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultOutboxMaxAttempts is how many publish attempts a relayed message gets
// before it is parked on the dead-letter queue
const DefaultOutboxMaxAttempts = 10

// RelayOutbox publishes outbox messages that were committed but never
// dispatched, for example because the process stopped right after the commit
type RelayOutbox struct {
	outbox         events.Outbox
	eventPublisher events.Publisher
	deadLetters    events.DeadLetterQueue
	batchSize      int
	maxAttempts    int
	logger         *zap.Logger
	now            func() time.Time
}

// NewRelayOutbox creates a new RelayOutbox use case
func NewRelayOutbox(
	outbox events.Outbox,
	eventPublisher events.Publisher,
	deadLetters events.DeadLetterQueue,
	batchSize int,
	maxAttempts int,
	logger *zap.Logger,
) *RelayOutbox {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOutboxMaxAttempts
	}

	return &RelayOutbox{
		outbox:         outbox,
		eventPublisher: eventPublisher,
		deadLetters:    deadLetters,
		batchSize:      batchSize,
		maxAttempts:    maxAttempts,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Execute relays one batch and returns how many messages were published.
// A message that fails to publish is recorded and retried after fresher
// messages on later runs; once it reaches maxAttempts it is dead-lettered
// and no longer relayed.
func (uc *RelayOutbox) Execute(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "workflow.relay_outbox")
	defer span.End()

	pending, err := uc.outbox.FetchPending(ctx, uc.batchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, errors.Wrap(err, "failed to fetch pending outbox messages")
	}

	if len(pending) == 0 {
		return 0, nil
	}

	logger := logging.WithTrace(ctx, uc.logger)
	dispatched := make([]models.ID, 0, len(pending))

	for _, msg := range pending {
		if err := uc.eventPublisher.Publish(ctx, msg.Event); err != nil {
			attempts := msg.Attempts + 1
			msgLogger := logger.With(
				zap.String("message_id", msg.Event.ID.String()),
				zap.String("topic", msg.Event.Topic.String()),
				zap.String("estimate_id", msg.Event.CorrelationID.String()),
				zap.Int("attempts", attempts),
			)
			msgLogger.Warn("failed to relay outbox message", zap.Error(err))

			if attempts >= uc.maxAttempts && uc.park(ctx, msg, attempts, err, msgLogger) {
				continue
			}

			if markErr := uc.outbox.MarkFailed(ctx, msg.Event.ID, err.Error()); markErr != nil {
				msgLogger.Error("failed to record outbox failure", zap.Error(markErr))
			}
			continue
		}

		dispatched = append(dispatched, msg.Event.ID)
	}

	if err := uc.outbox.MarkDispatched(ctx, dispatched, uc.now()); err != nil {
		telemetry.RecordError(span, err)
		return len(dispatched), errors.Wrap(err, "failed to mark relayed messages dispatched")
	}

	telemetry.RecordCounter(ctx, "outbox_dispatched_total", "Outbox messages published", int64(len(dispatched)),
		attribute.String("path", "relay"),
	)

	if len(dispatched) > 0 {
		logger.Info("relayed outbox messages",
			zap.Int("dispatched", len(dispatched)),
			zap.Int("failed", len(pending)-len(dispatched)),
		)
	}

	return len(dispatched), nil
}

// park dead-letters a message that used up its attempts and takes it out of
// the outbox. It returns false when the message must stay pending because the
// dead-letter queue could not take it.
func (uc *RelayOutbox) park(ctx context.Context, msg events.OutboxMessage, attempts int, cause error, logger *zap.Logger) bool {
	if uc.deadLetters == nil {
		return false
	}

	now := uc.now()
	reason := fmt.Sprintf("publish failed after %d attempts: %v", attempts, cause)

	err := uc.deadLetters.Send(ctx, events.DeadLetter{
		Event:    msg.Event,
		Reason:   reason,
		Attempts: attempts,
		FailedAt: now,
	})
	if err != nil {
		logger.Error("failed to dead-letter outbox message", zap.Error(err))
		return false
	}

	if err := uc.outbox.MarkParked(ctx, msg.Event.ID, reason, now); err != nil {
		logger.Error("failed to park outbox message", zap.Error(err))
	}

	telemetry.RecordCounter(ctx, "outbox_parked_total", "Outbox messages dead-lettered after exhausting publish attempts", 1,
		attribute.String("topic", msg.Event.Topic.String()),
	)
	logger.Error("outbox message dead-lettered")

	return true
}
