package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/mocks"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

var (
	t0         = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	estimateID = models.ID("8b0f4c55-2f0e-4a53-9a0b-5d1c6a7c1001")
	customerID = models.ID("8b0f4c55-2f0e-4a53-9a0b-5d1c6a7c2001")
	jobID      = models.ID("8b0f4c55-2f0e-4a53-9a0b-5d1c6a7c3001")
	fastRetry  = RetryConfig{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
)

func received(id models.ID) events.EstimateReceivedEvent {
	return events.EstimateReceivedEvent{
		TenantID:   "tenant-1",
		EstimateID: id,
		CustomerInfo: events.CustomerInfo{
			FirstName: "Dana",
			LastName:  "Reyes",
			Email:     "dana@example.com",
			Phone:     "555-0100",
		},
		JobDetails: events.JobDetails{
			ServiceType:    "weekly_mowing",
			LotSizeSqFt:    8000,
			VisitFrequency: "weekly",
			QuotedPrice:    models.NewMoney(4500, "USD"),
		},
		EstimatorID: "estimator-7",
	}
}

// recordingPublisher wires a MockPublisher that accepts every batch and
// keeps what it was given
type recordingPublisher struct {
	*mocks.MockPublisher

	mux       sync.Mutex
	published []*events.Event
}

func newRecordingPublisher(t *testing.T) *recordingPublisher {
	p := &recordingPublisher{MockPublisher: mocks.NewMockPublisher(t)}
	p.EXPECT().Publish(mock.Anything, mock.Anything).RunAndReturn(func(_ context.Context, evts []*events.Event) error {
		p.mux.Lock()
		defer p.mux.Unlock()
		p.published = append(p.published, evts...)
		return nil
	}).Maybe()
	return p
}

func (p *recordingPublisher) topics() []events.Topic {
	p.mux.Lock()
	defer p.mux.Unlock()

	topics := make([]events.Topic, len(p.published))
	for i, evt := range p.published {
		topics[i] = evt.Topic
	}
	return topics
}

func (p *recordingPublisher) count(topic events.Topic) int {
	n := 0
	for _, tp := range p.topics() {
		if tp == topic {
			n++
		}
	}
	return n
}

func fixedClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
