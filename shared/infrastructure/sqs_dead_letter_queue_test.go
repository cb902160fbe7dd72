package infrastructure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQSDeadLetterQueue_Send(t *testing.T) {
	failedAt := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

	t.Run("decoded event", func(t *testing.T) {
		client := newFakeSQS()
		dlq := NewSQSDeadLetterQueue(client, "http://localhost:4566/000000000000/workflow-dlq")

		err := dlq.Send(context.Background(), events.DeadLetter{
			Event:    newCommand(1),
			Reason:   "version conflict persisted after 5 attempts",
			Attempts: 5,
			FailedAt: failedAt,
		})
		require.NoError(t, err)

		_, _, sent := client.snapshot()
		require.Len(t, sent, 1)
		assert.Equal(t, "http://localhost:4566/000000000000/workflow-dlq", aws.ToString(sent[0].QueueUrl))
		assert.Equal(t, events.CreateJobTopic.String(), aws.ToString(sent[0].MessageAttributes["topic"].StringValue))

		var letter struct {
			Event    map[string]interface{} `json:"event"`
			Reason   string                 `json:"reason"`
			Attempts int                    `json:"attempts"`
			FailedAt time.Time              `json:"failed_at"`
		}
		require.NoError(t, json.Unmarshal([]byte(aws.ToString(sent[0].MessageBody)), &letter))
		assert.Equal(t, "version conflict persisted after 5 attempts", letter.Reason)
		assert.Equal(t, 5, letter.Attempts)
		assert.True(t, failedAt.Equal(letter.FailedAt))
		assert.NotEmpty(t, letter.Event["id"])
	})

	t.Run("undecodable body", func(t *testing.T) {
		client := newFakeSQS()
		dlq := NewSQSDeadLetterQueue(client, "dlq")

		require.NoError(t, dlq.Send(context.Background(), events.DeadLetter{
			Body:     "not json",
			Reason:   "invalid envelope",
			Attempts: 1,
			FailedAt: failedAt,
		}))

		_, _, sent := client.snapshot()
		require.Len(t, sent, 1)
		assert.Equal(t, "unknown", aws.ToString(sent[0].MessageAttributes["topic"].StringValue))
		assert.Contains(t, aws.ToString(sent[0].MessageBody), `"body":"not json"`)
		assert.NotContains(t, aws.ToString(sent[0].MessageBody), `"event"`)
	})
}
