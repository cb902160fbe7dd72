package saga

import (
	"context"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EventHandlerFunc wraps function as handler
type EventHandlerFunc func(ctx context.Context, event *events.Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event *events.Event) error {
	return f(ctx, event)
}

type route struct {
	pattern events.Topic
	handler events.EventHandler
}

// EventRouter dispatches bus messages to the handlers registered for their
// topic. Patterns follow Topic.Matches, so "customer.*" or "#" are accepted.
type EventRouter struct {
	id     string
	routes []route
	logger *zap.Logger
}

// NewEventRouter creates a router identified by id in logs and subscriber metrics
func NewEventRouter(id string, logger *zap.Logger) *EventRouter {
	return &EventRouter{
		id:     id,
		logger: logger,
	}
}

// RegisterHandler registers a handler for every topic matching pattern
func (r *EventRouter) RegisterHandler(pattern events.Topic, handler events.EventHandler) {
	r.routes = append(r.routes, route{pattern: pattern, handler: handler})
}

// Topics returns the registered patterns in registration order
func (r *EventRouter) Topics() []events.Topic {
	topics := make([]events.Topic, 0, len(r.routes))
	for _, rt := range r.routes {
		topics = append(topics, rt.pattern)
	}
	return topics
}

// HandlerID identifies the router to the subscriber
func (r *EventRouter) HandlerID() string {
	return r.id
}

// Handle runs every matching handler in registration order and stops at the
// first error so the message is redelivered. Messages nobody handles are
// acknowledged.
func (r *EventRouter) Handle(ctx context.Context, event *events.Event) error {
	matched := false

	for _, rt := range r.routes {
		if !event.Topic.Matches(rt.pattern) {
			continue
		}
		matched = true

		if err := rt.handler.Handle(ctx, event); err != nil {
			return errors.Wrapf(err, "handling %s", event.Topic)
		}
	}

	if !matched {
		r.logger.Debug("no handler registered for topic",
			zap.String("router", r.id),
			zap.String("topic", event.Topic.String()),
			zap.String("event_id", event.ID.String()),
		)
	}

	return nil
}
