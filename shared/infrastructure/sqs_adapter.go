package infrastructure

import (
	"context"
	"sync"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/pkg/errors"
)

var _ events.Subscriber = (*SQSSubscriberAdapter)(nil)

// SQSSubscriberAdapter exposes one SQS queue through events.Subscriber.
// A queue feeds a single handler; route topics inside it.
type SQSSubscriberAdapter struct {
	mux        sync.Mutex
	client     SQSAPI
	queueURL   string
	options    []SQSSubscriberOption
	subscriber *SQSEventSubscriber
}

// NewSQSSubscriberAdapter creates a new SQS subscriber adapter
func NewSQSSubscriberAdapter(client SQSAPI, queueURL string, opts ...SQSSubscriberOption) *SQSSubscriberAdapter {
	return &SQSSubscriberAdapter{
		client:   client,
		queueURL: queueURL,
		options:  opts,
	}
}

// topicFilter acknowledges messages whose topic does not match the
// subscribed pattern without running the handler
type topicFilter struct {
	pattern events.Topic
	handler events.EventHandler
}

func (f *topicFilter) HandlerID() string {
	if h, ok := f.handler.(interface{ HandlerID() string }); ok {
		return h.HandlerID()
	}
	return "topic:" + f.pattern.String()
}

func (f *topicFilter) Handle(ctx context.Context, event *events.Event) error {
	if !event.Topic.Matches(f.pattern) {
		return nil
	}
	return f.handler.Handle(ctx, event)
}

// Subscribe starts consuming the queue. Only one subscription per adapter is allowed.
func (s *SQSSubscriberAdapter) Subscribe(ctx context.Context, topic string, handler events.EventHandler) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.subscriber != nil {
		return errors.New("subscriber is already running")
	}

	pattern, err := events.NewTopic(topic)
	if err != nil {
		return err
	}

	subscriber := NewSQSEventSubscriber(s.client, s.queueURL, &topicFilter{pattern: pattern, handler: handler}, s.options...)
	if err := subscriber.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start SQS subscriber")
	}

	s.subscriber = subscriber
	return nil
}

// Close stops the subscriber
func (s *SQSSubscriberAdapter) Close(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.subscriber == nil {
		return nil
	}

	if err := s.subscriber.Stop(ctx); err != nil {
		return errors.Wrap(err, "failed to stop SQS subscriber")
	}

	s.subscriber = nil
	return nil
}
