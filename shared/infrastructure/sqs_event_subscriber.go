package infrastructure

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	SQSMessageIDKey     = "sqs_message_id"
	SQSReceiptHandleKey = "sqs_receipt_handle"
	SQSReceiveCountKey  = "sqs_receive_count"
)

// SQSAPI is the part of the SQS client the subscriber and dead-letter queue use
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type sqsMessage struct {
	Message      types.Message
	Event        *events.Event
	ReceiveCount int
	Err          error
	// undecodable messages skip the handler and are dead-lettered at once
	Malformed bool
}

// EventHandler is a handler the subscriber can identify in logs and metrics
type EventHandler interface {
	HandlerID() string
	Handle(ctx context.Context, event *events.Event) error
}

// SQSEventSubscriber implements event subscription using AWS SQS. Readers
// long-poll the queue, workers run the handler and cleaners acknowledge,
// back off or dead-letter each message.
type SQSEventSubscriber struct {
	mux              sync.Mutex
	wg               sync.WaitGroup
	inboundMessages  chan *sqsMessage
	outboundMessages chan *sqsMessage
	cancel           context.CancelFunc
	running          atomic.Bool
	options          *sqsSubscriberOptions

	client   SQSAPI
	queueURL string
	handler  EventHandler
}

type sqsSubscriberOptions struct {
	workers                        int32
	readers                        int32
	cleaners                       int32
	maxNumberOfMessages            int32
	waitTimeSeconds                int32
	visibilityTimeout              int32
	sleepTimeAfterEmptyReceive     time.Duration
	sleepTimeAfterError            time.Duration
	ack                            bool
	extendVisibilityTimeoutOnError bool
	receiveCountRange              int32
	visibilityTimeoutOffset        int32
	maxVisibilityTimeout           int32
	maxReceiveCount                int
	deadLetters                    events.DeadLetterQueue
	logger                         *zap.Logger
}

type SQSSubscriberOption func(*sqsSubscriberOptions)

func WithWorkers(workers int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.workers = workers
	}
}

func WithReaders(readers int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.readers = readers
	}
}

func WithVisibilityTimeout(timeout int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.visibilityTimeout = timeout
	}
}

func WithWaitTimeSeconds(seconds int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.waitTimeSeconds = seconds
	}
}

// WithPollBackoff sets how long readers pause after an empty receive and after a receive error
func WithPollBackoff(afterEmpty, afterError time.Duration) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.sleepTimeAfterEmptyReceive = afterEmpty
		o.sleepTimeAfterError = afterError
	}
}

// WithDeadLetterQueue moves messages that failed maxReceiveCount times, or
// could not be decoded, to dlq and deletes them from the source queue
func WithDeadLetterQueue(dlq events.DeadLetterQueue, maxReceiveCount int) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.deadLetters = dlq
		o.maxReceiveCount = maxReceiveCount
	}
}

func WithLogger(logger *zap.Logger) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.logger = logger
	}
}

// NewSQSEventSubscriber creates a new SQS event subscriber
func NewSQSEventSubscriber(
	client SQSAPI,
	queueURL string,
	handler EventHandler,
	opts ...SQSSubscriberOption,
) *SQSEventSubscriber {
	options := &sqsSubscriberOptions{
		workers:                        30,
		readers:                        1,
		cleaners:                       2,
		maxNumberOfMessages:            5,
		waitTimeSeconds:                15,
		visibilityTimeout:              30,
		sleepTimeAfterEmptyReceive:     10 * time.Second,
		sleepTimeAfterError:            20 * time.Second,
		ack:                            true,
		extendVisibilityTimeoutOnError: true,
		receiveCountRange:              3,
		visibilityTimeoutOffset:        30,
		maxVisibilityTimeout:           900, // 15 minutes
		logger:                         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &SQSEventSubscriber{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		options:  options,
	}
}

// Start launches readers, workers and cleaners. They stop when ctx is
// cancelled or Stop is called.
func (s *SQSEventSubscriber) Start(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.running.Load() {
		return nil
	}

	if s.handler == nil {
		return errors.New("no handler configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.inboundMessages = make(chan *sqsMessage, 10)
	s.outboundMessages = make(chan *sqsMessage, 10)
	s.cancel = cancel

	s.spawn(ctx, s.options.workers, s.startWorker)
	s.spawn(ctx, s.options.readers, s.startReader)
	s.spawn(ctx, s.options.cleaners, s.startCleaner)

	s.running.Store(true)

	s.options.logger.Info("sqs subscriber started",
		zap.String("queue_url", s.queueURL),
		zap.String("handler", s.handler.HandlerID()),
		zap.Int32("workers", s.options.workers),
	)

	return nil
}

func (s *SQSEventSubscriber) spawn(ctx context.Context, n int32, fn func(context.Context)) {
	for i := 0; i < int(n); i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn(ctx)
		}()
	}
}

// Stop cancels the pollers and waits for in-flight messages to be released.
// Messages received but not acknowledged become visible again after their
// visibility timeout.
func (s *SQSEventSubscriber) Stop(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if !s.running.Load() {
		return nil
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	s.running.Store(false)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for sqs subscriber goroutines")
	}
}

func (s *SQSEventSubscriber) startWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.inboundMessages:
			s.handle(ctx, message)
		}
	}
}

func (s *SQSEventSubscriber) startReader(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		received, err := s.read(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			s.options.logger.Warn("failed to receive from sqs", zap.Error(err))
			sleep(ctx, s.options.sleepTimeAfterError)
		case err == nil && received == 0:
			sleep(ctx, s.options.sleepTimeAfterEmptyReceive)
		}
	}
}

func (s *SQSEventSubscriber) startCleaner(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.outboundMessages:
			if err := s.clean(ctx, message); err != nil {
				s.options.logger.Error("failed to settle sqs message",
					zap.String("message_id", aws.ToString(message.Message.MessageId)),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *SQSEventSubscriber) read(ctx context.Context) (int, error) {
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: s.options.maxNumberOfMessages,
		WaitTimeSeconds:     s.options.waitTimeSeconds,
		VisibilityTimeout:   s.options.visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameApproximateFirstReceiveTimestamp,
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to receive message from SQS")
	}

	for _, message := range output.Messages {
		msg := s.decode(message)

		target := s.inboundMessages
		if msg.Malformed {
			target = s.outboundMessages
		}

		select {
		case target <- msg:
		case <-ctx.Done():
			return len(output.Messages), ctx.Err()
		}
	}

	return len(output.Messages), nil
}

func (s *SQSEventSubscriber) decode(message types.Message) *sqsMessage {
	receiveCount, err := strconv.Atoi(message.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		receiveCount = 1
	}

	event, err := events.Decode([]byte(aws.ToString(message.Body)))
	if err != nil {
		return &sqsMessage{Message: message, ReceiveCount: receiveCount, Err: err, Malformed: true}
	}

	event.Metadata.Set(SQSMessageIDKey, aws.ToString(message.MessageId))
	event.Metadata.Set(SQSReceiptHandleKey, aws.ToString(message.ReceiptHandle))
	event.Metadata.Set(SQSReceiveCountKey, strconv.Itoa(receiveCount))

	for k, v := range message.MessageAttributes {
		if v.StringValue != nil && !event.Metadata.Has(k) {
			event.Metadata.Set(k, *v.StringValue)
		}
	}

	return &sqsMessage{Message: message, Event: event, ReceiveCount: receiveCount}
}

func (s *SQSEventSubscriber) handle(ctx context.Context, message *sqsMessage) {
	message.Err = s.handler.Handle(ctx, message.Event)

	status := "success"
	if message.Err != nil {
		status = "error"
		s.options.logger.Warn("handler failed, message will be redelivered",
			zap.String("handler", s.handler.HandlerID()),
			zap.String("topic", message.Event.Topic.String()),
			zap.String("event_id", message.Event.ID.String()),
			zap.Int("receive_count", message.ReceiveCount),
			zap.Error(message.Err),
		)
	}

	telemetry.RecordCounter(ctx, "messages_consumed_total", "Messages consumed from SQS", 1,
		attribute.String("handler", s.handler.HandlerID()),
		attribute.String("topic", message.Event.Topic.String()),
		attribute.String("status", status),
	)

	select {
	case s.outboundMessages <- message:
	case <-ctx.Done():
	}
}

func (s *SQSEventSubscriber) clean(ctx context.Context, message *sqsMessage) error {
	switch {
	case message.Malformed:
		return s.deadLetter(ctx, message, "undecodable message: "+message.Err.Error())

	case message.Err != nil && s.exhausted(message):
		return s.deadLetter(ctx, message, message.Err.Error())

	case message.Err != nil:
		if !s.options.extendVisibilityTimeoutOnError {
			return nil
		}

		visibilityTimeout := s.options.visibilityTimeout
		visibilityTimeout += (int32(message.ReceiveCount) / s.options.receiveCountRange) * s.options.visibilityTimeoutOffset

		if visibilityTimeout > s.options.maxVisibilityTimeout {
			visibilityTimeout = s.options.maxVisibilityTimeout
		}

		_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(s.queueURL),
			ReceiptHandle:     message.Message.ReceiptHandle,
			VisibilityTimeout: visibilityTimeout,
		})
		return errors.Wrap(err, "failed to extend visibility timeout")
	}

	return s.ack(ctx, message)
}

func (s *SQSEventSubscriber) exhausted(message *sqsMessage) bool {
	return s.options.deadLetters != nil &&
		s.options.maxReceiveCount > 0 &&
		message.ReceiveCount >= s.options.maxReceiveCount
}

func (s *SQSEventSubscriber) deadLetter(ctx context.Context, message *sqsMessage, reason string) error {
	if s.options.deadLetters == nil {
		// without a dead-letter queue the message is left to the queue's redrive policy
		s.options.logger.Error("dropping message to queue redrive policy",
			zap.String("message_id", aws.ToString(message.Message.MessageId)),
			zap.String("reason", reason),
		)
		return nil
	}

	letter := events.DeadLetter{
		Event:    message.Event,
		Reason:   reason,
		Attempts: message.ReceiveCount,
		FailedAt: time.Now().UTC(),
	}
	if message.Event == nil {
		letter.Body = aws.ToString(message.Message.Body)
	}

	if err := s.options.deadLetters.Send(ctx, letter); err != nil {
		return errors.Wrap(err, "failed to dead-letter message")
	}

	s.options.logger.Error("message dead-lettered",
		zap.String("message_id", aws.ToString(message.Message.MessageId)),
		zap.Int("receive_count", message.ReceiveCount),
		zap.String("reason", reason),
	)

	return s.ack(ctx, message)
}

func (s *SQSEventSubscriber) ack(ctx context.Context, message *sqsMessage) error {
	if !s.options.ack {
		return nil
	}

	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: message.Message.ReceiptHandle,
	})
	return errors.Wrap(err, "failed to delete message from SQS")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
