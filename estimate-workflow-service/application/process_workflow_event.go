package application

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/logging"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/greenpath/lawn-platform/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RetryConfig bounds how often a transition is recomputed after losing a
// version race
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig is used when no retry settings are configured
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// OutcomeDeadLettered marks an event that kept losing version races and was parked
const OutcomeDeadLettered domain.Outcome = "dead_lettered"

// ProcessResult describes what happened to one inbound event
type ProcessResult struct {
	Outcome  domain.Outcome
	From     domain.StateName
	Workflow *domain.WorkflowInstance
	Attempts int
	// DeadLettered is set when the event was parked instead of applied
	DeadLettered bool
	Reason       string
}

// ProcessWorkflowEvent applies one participant event to its workflow: load,
// transition, compare-and-swap with the outbox, then dispatch what the
// transition emitted.
type ProcessWorkflowEvent struct {
	correlator         *EventCorrelator
	workflowRepository domain.WorkflowRepository
	outbox             events.Outbox
	eventPublisher     events.Publisher
	deadLetters        events.DeadLetterQueue
	retry              RetryConfig
	logger             *zap.Logger
	now                func() time.Time
}

// NewProcessWorkflowEvent creates a new ProcessWorkflowEvent use case
func NewProcessWorkflowEvent(
	workflowRepository domain.WorkflowRepository,
	outbox events.Outbox,
	eventPublisher events.Publisher,
	deadLetters events.DeadLetterQueue,
	retry RetryConfig,
	logger *zap.Logger,
) *ProcessWorkflowEvent {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = DefaultRetryConfig.InitialInterval
	}
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = retry.InitialInterval
	}

	return &ProcessWorkflowEvent{
		correlator:         NewEventCorrelator(workflowRepository),
		workflowRepository: workflowRepository,
		outbox:             outbox,
		eventPublisher:     eventPublisher,
		deadLetters:        deadLetters,
		retry:              retry,
		logger:             logger,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests
func (uc *ProcessWorkflowEvent) WithClock(now func() time.Time) *ProcessWorkflowEvent {
	uc.now = now
	return uc
}

// Execute processes evt. source is the bus message evt was decoded from and
// is what gets dead-lettered; it may be nil for internally generated events.
// Only storage and bus failures are returned, so the caller can redeliver.
func (uc *ProcessWorkflowEvent) Execute(ctx context.Context, evt events.Correlated, source *events.Event) (ProcessResult, error) {
	if evt == nil {
		return ProcessResult{Outcome: domain.OutcomeRejected, Reason: "event is nil"}, ErrMissingCorrelationID
	}

	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "workflow.process_event",
		trace.WithAttributes(
			attribute.String("workflow.topic", evt.EventTopic().String()),
			attribute.String("workflow.estimate_id", evt.CorrelationKey().String()),
		),
	)
	defer span.End()

	logger := logging.WithTrace(ctx, uc.logger).With(
		zap.String("estimate_id", evt.CorrelationKey().String()),
		zap.String("topic", evt.EventTopic().String()),
	)

	result, err := uc.applyWithRetry(ctx, evt, logger)

	switch {
	case isConflict(err):
		reason := fmt.Sprintf("version conflict persisted after %d attempts", result.Attempts)
		if dlqErr := uc.deadLetter(ctx, evt, source, reason, result.Attempts); dlqErr != nil {
			telemetry.RecordError(span, dlqErr)
			return result, dlqErr
		}
		result.Outcome = OutcomeDeadLettered
		result.DeadLettered = true
		result.Reason = reason
		logger.Error("workflow event dead-lettered", zap.String("reason", reason), zap.Int("attempts", result.Attempts))

	case err != nil:
		telemetry.RecordError(span, err)
		logger.Error("failed to process workflow event", zap.Int("attempts", result.Attempts), zap.Error(err))
		return result, err

	case result.Outcome == domain.OutcomeRejected:
		if dlqErr := uc.deadLetter(ctx, evt, source, result.Reason, result.Attempts); dlqErr != nil {
			telemetry.RecordError(span, dlqErr)
			return result, dlqErr
		}
		result.DeadLettered = true
		logger.Warn("malformed workflow event dead-lettered", zap.String("reason", result.Reason))

	case result.Outcome == domain.OutcomeOrphaned:
		logger.Warn("orphaned event dropped", zap.String("reason", result.Reason))

	case result.Outcome == domain.OutcomeIgnored:
		logger.Info("event ignored",
			zap.String("state", result.From.String()),
			zap.String("reason", result.Reason),
		)

	case result.Outcome == domain.OutcomeApplied:
		logger.Info("workflow advanced",
			zap.String("from", result.From.String()),
			zap.String("state", result.Workflow.StateName().String()),
			zap.Int("version", result.Workflow.Version.Value),
			zap.Int("attempts", result.Attempts),
		)
	}

	span.SetAttributes(attribute.String("workflow.outcome", string(result.Outcome)))

	to := ""
	if result.Workflow != nil {
		to = result.Workflow.StateName().String()
	}

	telemetry.RecordCounter(ctx, "workflow_transitions_total", "Workflow events by outcome", 1,
		attribute.String("outcome", string(result.Outcome)),
		attribute.String("from", result.From.String()),
		attribute.String("to", to),
		attribute.String("topic", evt.EventTopic().String()),
	)
	telemetry.RecordHistogram(ctx, "workflow_processing_duration_seconds", "Time to process one workflow event", time.Since(start).Seconds(),
		attribute.String("outcome", string(result.Outcome)),
	)

	return result, nil
}

type appliedTransition struct {
	result  ProcessResult
	emitted []*events.Event
}

// applyWithRetry recomputes the transition against the latest stored
// version until the write wins or attempts run out
func (uc *ProcessWorkflowEvent) applyWithRetry(ctx context.Context, evt events.Correlated, logger *zap.Logger) (ProcessResult, error) {
	attempts := 0

	operation := func() (appliedTransition, error) {
		attempts++

		applied, err := uc.apply(ctx, evt)
		applied.result.Attempts = attempts

		if isConflict(err) {
			telemetry.RecordCounter(ctx, "workflow_conflicts_total", "Version conflicts while applying workflow events", 1,
				attribute.String("topic", evt.EventTopic().String()),
			)
			logger.Info("version conflict, retrying", zap.Int("attempt", attempts), zap.Error(err))
			return applied, err
		}

		if err != nil {
			return applied, backoff.Permanent(err)
		}

		return applied, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = uc.retry.InitialInterval
	b.MaxInterval = uc.retry.MaxInterval

	applied, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(uc.retry.MaxAttempts)),
	)
	applied.result.Attempts = attempts
	if err != nil {
		return applied.result, err
	}

	if applied.result.Outcome == domain.OutcomeApplied {
		uc.dispatch(ctx, applied.emitted, logger)
	}

	return applied.result, nil
}

func (uc *ProcessWorkflowEvent) apply(ctx context.Context, evt events.Correlated) (appliedTransition, error) {
	current, err := uc.correlator.Correlate(ctx, evt)
	switch {
	case errors.Is(err, ErrOrphanedEvent):
		return appliedTransition{result: ProcessResult{Outcome: domain.OutcomeOrphaned, Reason: err.Error()}}, nil
	case errors.Is(err, ErrMissingCorrelationID):
		return appliedTransition{result: ProcessResult{Outcome: domain.OutcomeRejected, Reason: err.Error()}}, nil
	case err != nil:
		return appliedTransition{}, err
	}

	decision := domain.Transition(current, evt, uc.now())

	applied := appliedTransition{
		result: ProcessResult{
			Outcome:  decision.Outcome,
			From:     decision.From,
			Workflow: current,
			Reason:   decision.Reason,
		},
		emitted: decision.Emitted,
	}

	if decision.Outcome != domain.OutcomeApplied {
		return applied, nil
	}

	if decision.Created() {
		err = uc.workflowRepository.Create(ctx, *decision.Next, decision.Emitted)
	} else {
		err = uc.workflowRepository.CompareAndSwap(ctx, current.Version, *decision.Next, decision.Emitted)
	}
	if err != nil {
		return applied, err
	}

	applied.result.Workflow = decision.Next
	return applied, nil
}

// dispatch publishes freshly committed outbox messages. Failures are left
// for the outbox relay.
func (uc *ProcessWorkflowEvent) dispatch(ctx context.Context, emitted []*events.Event, logger *zap.Logger) {
	if len(emitted) == 0 {
		return
	}

	if err := uc.eventPublisher.Publish(ctx, emitted...); err != nil {
		logger.Warn("immediate dispatch failed, leaving messages to the outbox relay", zap.Error(err))
		return
	}

	ids := make([]models.ID, len(emitted))
	for i, evt := range emitted {
		ids[i] = evt.ID
	}

	if err := uc.outbox.MarkDispatched(ctx, ids, uc.now()); err != nil {
		logger.Warn("failed to mark outbox messages dispatched, relay will publish them again", zap.Error(err))
		return
	}

	telemetry.RecordCounter(ctx, "outbox_dispatched_total", "Outbox messages published", int64(len(emitted)),
		attribute.String("path", "immediate"),
	)
}

func (uc *ProcessWorkflowEvent) deadLetter(ctx context.Context, evt events.Correlated, source *events.Event, reason string, attempts int) error {
	if source == nil {
		source = events.NewEvent(evt.CorrelationKey(), evt.EventTopic(), evt).WithCorrelationID(evt.CorrelationKey())
	}

	err := uc.deadLetters.Send(ctx, events.DeadLetter{
		Event:    source,
		Reason:   reason,
		Attempts: attempts,
		FailedAt: uc.now(),
	})
	return errors.Wrap(err, "failed to dead-letter workflow event")
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrWorkflowExists)
}
