package handlers

import (
	"context"
	"time"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/application"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/logging"
	"github.com/greenpath/lawn-platform/shared/saga"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errUnhandledTopic = errors.New("topic is not consumed by the workflow")

// ConsumedTopics are the bus topics that drive the workflow
var ConsumedTopics = []events.Topic{
	events.EstimateReceivedTopic,
	events.CustomerFoundTopic,
	events.CustomerCreatedTopic,
	events.CustomerResolutionFailedTopic,
	events.JobCreatedTopic,
	events.JobCreationFailedTopic,
	events.NotificationSentTopic,
	events.NotificationFailedTopic,
}

// WorkflowEventHandlers decodes participant results from the bus and feeds
// them to the workflow
type WorkflowEventHandlers struct {
	processEvent *application.ProcessWorkflowEvent
	deadLetters  events.DeadLetterQueue
	logger       *zap.Logger
}

// NewWorkflowEventHandlers creates new workflow event handlers
func NewWorkflowEventHandlers(
	processEvent *application.ProcessWorkflowEvent,
	deadLetters events.DeadLetterQueue,
	logger *zap.Logger,
) *WorkflowEventHandlers {
	return &WorkflowEventHandlers{
		processEvent: processEvent,
		deadLetters:  deadLetters,
		logger:       logger,
	}
}

// RegisterRoutes registers the handler for every consumed topic
func (h *WorkflowEventHandlers) RegisterRoutes(router *saga.EventRouter) {
	for _, topic := range ConsumedTopics {
		router.RegisterHandler(topic, h)
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *WorkflowEventHandlers) HandlerID() string {
	return "estimate-workflow-event-handler"
}

// Handle implements the events.EventHandler interface. Only storage and bus
// failures are returned so the message is redelivered; a payload that does
// not decode is dead-lettered.
func (h *WorkflowEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	evt, err := decodeParticipantEvent(event)
	if errors.Is(err, errUnhandledTopic) {
		return nil
	}
	if err != nil {
		return h.rejectMalformed(ctx, event, err)
	}

	_, err = h.processEvent.Execute(ctx, evt, event)
	return err
}

func (h *WorkflowEventHandlers) rejectMalformed(ctx context.Context, event *events.Event, cause error) error {
	logging.WithTrace(ctx, h.logger).Warn("malformed workflow event dead-lettered",
		zap.String("event_id", event.ID.String()),
		zap.String("topic", event.Topic.String()),
		zap.Error(cause),
	)

	err := h.deadLetters.Send(ctx, events.DeadLetter{
		Event:    event,
		Reason:   cause.Error(),
		Attempts: 1,
		FailedAt: time.Now().UTC(),
	})
	return errors.Wrap(err, "failed to dead-letter malformed event")
}

func decodeParticipantEvent(event *events.Event) (events.Correlated, error) {
	switch event.Topic {
	case events.EstimateReceivedTopic:
		return decode[events.EstimateReceivedEvent](event)
	case events.CustomerFoundTopic:
		return decode[events.CustomerFoundEvent](event)
	case events.CustomerCreatedTopic:
		return decode[events.CustomerCreatedEvent](event)
	case events.CustomerResolutionFailedTopic:
		return decode[events.CustomerResolutionFailedEvent](event)
	case events.JobCreatedTopic:
		return decode[events.JobCreatedEvent](event)
	case events.JobCreationFailedTopic:
		return decode[events.JobCreationFailedEvent](event)
	case events.NotificationSentTopic:
		return decode[events.NotificationSentEvent](event)
	case events.NotificationFailedTopic:
		return decode[events.NotificationFailedEvent](event)
	default:
		return nil, errUnhandledTopic
	}
}

func decode[T events.Correlated](event *events.Event) (events.Correlated, error) {
	var payload T
	if err := event.UnmarshalPayload(&payload); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s payload", event.Topic)
	}
	return payload, nil
}
