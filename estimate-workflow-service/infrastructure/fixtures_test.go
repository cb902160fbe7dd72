package infrastructure

import (
	"testing"
	"time"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func received(id models.ID, tenant string) events.EstimateReceivedEvent {
	return events.EstimateReceivedEvent{
		TenantID:   tenant,
		EstimateID: id,
		CustomerInfo: events.CustomerInfo{
			FirstName: "Sam",
			LastName:  "Ortiz",
			Email:     "sam@example.com",
		},
		JobDetails: events.JobDetails{
			ServiceType: "aeration",
			QuotedPrice: models.NewMoney(12000, "USD"),
		},
		EstimatorID: "estimator-1",
	}
}

// started returns a freshly created workflow and the messages its creation emitted
func started(t *testing.T, id models.ID, tenant string, at time.Time) (domain.WorkflowInstance, []*events.Event) {
	t.Helper()

	d := domain.Transition(nil, received(id, tenant), at)
	require.Equal(t, domain.OutcomeApplied, d.Outcome)
	return *d.Next, d.Emitted
}

func advance(t *testing.T, wf domain.WorkflowInstance, evt events.Correlated, at time.Time) (domain.WorkflowInstance, []*events.Event) {
	t.Helper()

	d := domain.Transition(&wf, evt, at)
	require.Equal(t, domain.OutcomeApplied, d.Outcome, d.Reason)
	return *d.Next, d.Emitted
}
