package application

import (
	"context"
	"time"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/logging"
	"github.com/greenpath/lawn-platform/shared/telemetry"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SweepStalledWorkflows times out workflows that have waited on a
// participant for longer than the stall timeout. Each timeout goes through
// ProcessWorkflowEvent, so it races participant replies under the same
// version check.
type SweepStalledWorkflows struct {
	workflowRepository domain.WorkflowRepository
	processEvent       *ProcessWorkflowEvent
	stallTimeout       time.Duration
	batchSize          int
	logger             *zap.Logger
	now                func() time.Time
}

// NewSweepStalledWorkflows creates a new SweepStalledWorkflows use case
func NewSweepStalledWorkflows(
	workflowRepository domain.WorkflowRepository,
	processEvent *ProcessWorkflowEvent,
	stallTimeout time.Duration,
	batchSize int,
	logger *zap.Logger,
) *SweepStalledWorkflows {
	if batchSize <= 0 {
		batchSize = 100
	}

	return &SweepStalledWorkflows{
		workflowRepository: workflowRepository,
		processEvent:       processEvent,
		stallTimeout:       stallTimeout,
		batchSize:          batchSize,
		logger:             logger,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests
func (uc *SweepStalledWorkflows) WithClock(now func() time.Time) *SweepStalledWorkflows {
	uc.now = now
	return uc
}

// Execute sweeps one batch and returns how many workflows were timed out
func (uc *SweepStalledWorkflows) Execute(ctx context.Context) (int, error) {
	if uc.stallTimeout <= 0 {
		return 0, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "workflow.sweep_stalled")
	defer span.End()

	stalled, err := uc.workflowRepository.FindStalled(ctx, uc.now().Add(-uc.stallTimeout), uc.batchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, errors.Wrap(err, "failed to find stalled workflows")
	}

	var (
		timedOut int
		errs     error
	)

	for _, wf := range stalled {
		evt := events.WorkflowTimedOutEvent{
			EstimateID:   wf.CorrelationID,
			StalledState: wf.StateName().String(),
			Deadline:     wf.UpdatedAt.Add(uc.stallTimeout),
		}

		result, err := uc.processEvent.Execute(ctx, evt, nil)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "timing out workflow %s", wf.CorrelationID))
			continue
		}

		if result.Outcome == domain.OutcomeApplied {
			timedOut++
		}
	}

	if len(stalled) > 0 {
		logging.WithTrace(ctx, uc.logger).Info("stalled workflow sweep finished",
			zap.Int("stalled", len(stalled)),
			zap.Int("timed_out", timedOut),
		)
	}

	telemetry.RecordError(span, errs)
	return timedOut, errs
}
