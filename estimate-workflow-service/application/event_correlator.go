package application

import (
	"context"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/pkg/errors"
)

var (
	// ErrOrphanedEvent is returned for a participant result whose workflow does not exist
	ErrOrphanedEvent = errors.New("no workflow for event")
	// ErrMissingCorrelationID is returned for events that carry no estimate ID
	ErrMissingCorrelationID = errors.New("event carries no correlation ID")
)

// EventCorrelator finds the workflow an inbound event belongs to
type EventCorrelator struct {
	workflowRepository domain.WorkflowRepository
}

// NewEventCorrelator creates a new EventCorrelator
func NewEventCorrelator(workflowRepository domain.WorkflowRepository) *EventCorrelator {
	return &EventCorrelator{workflowRepository: workflowRepository}
}

// Correlate returns the workflow evt refers to. A nil workflow with no error
// means evt is an EstimateReceived that starts a new workflow.
func (c *EventCorrelator) Correlate(ctx context.Context, evt events.Correlated) (*domain.WorkflowInstance, error) {
	if evt == nil || evt.CorrelationKey().IsZero() {
		return nil, ErrMissingCorrelationID
	}

	wf, err := c.workflowRepository.FindByID(ctx, evt.CorrelationKey())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load workflow")
	}

	if wf != nil {
		return wf, nil
	}

	if _, initiating := evt.(events.EstimateReceivedEvent); initiating {
		return nil, nil
	}

	return nil, errors.Wrapf(ErrOrphanedEvent, "%s for estimate %s", evt.EventTopic(), evt.CorrelationKey())
}
