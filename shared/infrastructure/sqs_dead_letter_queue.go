package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

var _ events.DeadLetterQueue = (*SQSDeadLetterQueue)(nil)

// SQSDeadLetterQueue parks failed messages on a dedicated SQS queue
type SQSDeadLetterQueue struct {
	client   SQSAPI
	queueURL string
}

func NewSQSDeadLetterQueue(client SQSAPI, queueURL string) *SQSDeadLetterQueue {
	return &SQSDeadLetterQueue{
		client:   client,
		queueURL: queueURL,
	}
}

// Send writes the letter as JSON with the original topic as a message attribute
func (q *SQSDeadLetterQueue) Send(ctx context.Context, letter events.DeadLetter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return errors.Wrap(err, "failed to marshal dead letter")
	}

	topic := "unknown"
	if letter.Event != nil {
		topic = letter.Event.Topic.String()
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"topic": {
				DataType:    aws.String("String"),
				StringValue: aws.String(topic),
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to send dead letter to SQS")
	}

	telemetry.RecordCounter(ctx, "workflow_dead_letters_total", "Messages moved to the dead-letter queue", 1,
		attribute.String("topic", topic),
	)

	return nil
}
