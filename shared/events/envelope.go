package events

import (
	"encoding/json"
	"time"

	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/pkg/errors"
)

// Envelope is the JSON body published to SNS and read back from SQS
type Envelope struct {
	ID        string          `json:"id"`
	Metadata  Metadata        `json:"metadata"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// snsNotification is the wrapper SNS adds when raw message delivery is off
type snsNotification struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// WireMetadata returns a copy of the event metadata with the correlation,
// aggregate and schema version folded in
func (e *Event) WireMetadata() Metadata {
	metadata := e.Metadata.Clone()
	if !e.CorrelationID.IsZero() {
		metadata.Set(MetadataCorrelationID, e.CorrelationID.String())
	}
	if !e.AggregateID.IsZero() {
		metadata.Set(MetadataAggregateID, e.AggregateID.String())
	}
	if e.Version != "" {
		metadata.Set(MetadataSchemaVersion, e.Version)
	}
	return metadata
}

// Restore rebuilds an event from its stored or transmitted parts. The
// payload stays raw until a handler unmarshals it.
func Restore(id models.ID, topic Topic, payload json.RawMessage, metadata Metadata, ts time.Time) *Event {
	if metadata == nil {
		metadata = make(Metadata)
	}

	event := &Event{
		ID:        id,
		Topic:     topic,
		Version:   metadata[MetadataSchemaVersion],
		Data:      payload,
		Metadata:  metadata,
		Timestamp: ts,
	}

	if v, ok := metadata.Get(MetadataCorrelationID); ok {
		event.CorrelationID = models.ID(v)
	}
	if v, ok := metadata.Get(MetadataAggregateID); ok {
		event.AggregateID = models.ID(v)
	}

	return event
}

// Encode converts an event into its wire envelope
func Encode(event *Event) ([]byte, error) {
	payload, err := event.MarshalPayload()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	return json.Marshal(&Envelope{
		ID:        event.ID.String(),
		Metadata:  event.WireMetadata(),
		Topic:     event.Topic.String(),
		Payload:   payload,
		Timestamp: event.Timestamp,
	})
}

// Decode parses a wire envelope, unwrapping an SNS notification if present
func Decode(body []byte) (*Event, error) {
	var notification snsNotification
	if err := json.Unmarshal(body, &notification); err == nil && notification.Type == "Notification" && notification.Message != "" {
		body = []byte(notification.Message)
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal envelope")
	}

	topic, err := NewTopic(envelope.Topic)
	if err != nil {
		return nil, err
	}

	if len(envelope.Payload) == 0 || string(envelope.Payload) == "null" {
		return nil, ErrInvalidPayload
	}

	return Restore(models.ID(envelope.ID), topic, envelope.Payload, envelope.Metadata, envelope.Timestamp), nil
}
