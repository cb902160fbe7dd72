package domain

import (
	"testing"
	"time"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func estimateReceived(id models.ID) events.EstimateReceivedEvent {
	return events.EstimateReceivedEvent{
		TenantID:   "tenant-green-acres",
		EstimateID: id,
		CustomerInfo: events.CustomerInfo{
			FirstName: "Dana",
			LastName:  "Reyes",
			Email:     "dana.reyes@example.com",
			Phone:     "555-0142",
			ServiceAddress: events.Address{
				Street:     "12 Elm St",
				City:       "Springfield",
				State:      "IL",
				PostalCode: "62704",
			},
		},
		JobDetails: events.JobDetails{
			ServiceType:    "weekly_mowing",
			LotSizeSqFt:    8200,
			VisitFrequency: "weekly",
			QuotedPrice:    models.NewMoney(4500, "USD"),
		},
		EstimatorID: "estimator-7",
	}
}

// run applies evts in order, failing the test if any of them is not applied
func run(t *testing.T, evts ...events.Correlated) (*WorkflowInstance, []Decision) {
	t.Helper()

	var (
		wf        *WorkflowInstance
		decisions []Decision
	)

	for i, evt := range evts {
		d := Transition(wf, evt, baseTime.Add(time.Duration(i)*time.Minute))
		require.Equal(t, OutcomeApplied, d.Outcome, "event %d (%s): %s", i, evt.EventTopic(), d.Reason)
		require.NotNil(t, d.Next)
		require.NoError(t, d.Next.Validate())
		wf = d.Next
		decisions = append(decisions, d)
	}

	return wf, decisions
}

func emittedTopics(decisions []Decision) []events.Topic {
	var topics []events.Topic
	for _, d := range decisions {
		for _, e := range d.Emitted {
			topics = append(topics, e.Topic)
		}
	}
	return topics
}

func TestTransition_NewCustomerHappyPath(t *testing.T) {
	wf, decisions := run(t,
		estimateReceived("E1"),
		events.CustomerCreatedEvent{EstimateID: "E1", CustomerID: "C1"},
		events.JobCreatedEvent{EstimateID: "E1", JobID: "J1"},
		events.NotificationSentEvent{EstimateID: "E1"},
	)

	assert.Equal(t, StateCompleted, wf.StateName())
	assert.True(t, wf.IsNewCustomer)
	require.NotNil(t, wf.JobID)
	assert.Equal(t, models.ID("J1"), *wf.JobID)
	require.NotNil(t, wf.CustomerID)
	assert.Equal(t, models.ID("C1"), *wf.CustomerID)
	assert.Nil(t, wf.NotificationError)
	assert.Nil(t, wf.ErrorReason)
	require.NotNil(t, wf.CompletedAt)
	assert.Equal(t, baseTime.Add(3*time.Minute), *wf.CompletedAt)
	assert.Equal(t, 4, wf.Version.Value)

	assert.Equal(t, []events.Topic{
		events.ResolveCustomerTopic,
		events.CreateJobTopic,
		events.SendWelcomeNotificationTopic,
		events.WorkflowCompletedTopic,
	}, emittedTopics(decisions))

	var completed events.WorkflowCompletedEvent
	require.NoError(t, decisions[3].Emitted[0].UnmarshalPayload(&completed))
	assert.Equal(t, events.WorkflowCompletedEvent{
		TenantID:         "tenant-green-acres",
		EstimateID:       "E1",
		CustomerID:       "C1",
		JobID:            "J1",
		NotificationSent: true,
	}, completed)
}

func TestTransition_ExistingCustomerSkipsNotification(t *testing.T) {
	wf, decisions := run(t,
		estimateReceived("E2"),
		events.CustomerFoundEvent{EstimateID: "E2", CustomerID: "C2", IsNewCustomer: false},
		events.JobCreatedEvent{EstimateID: "E2", JobID: "J2"},
	)

	assert.Equal(t, StateCompleted, wf.StateName())
	assert.Equal(t, StateCreatingJob, decisions[2].From)
	assert.False(t, wf.IsNewCustomer)
	assert.NotContains(t, emittedTopics(decisions), events.SendWelcomeNotificationTopic)

	var completed events.WorkflowCompletedEvent
	require.NoError(t, decisions[2].Emitted[0].UnmarshalPayload(&completed))
	assert.False(t, completed.NotificationSent)
	assert.Equal(t, models.ID("J2"), completed.JobID)
}

func TestTransition_CustomerFoundAlwaysMarksExistingCustomer(t *testing.T) {
	wf, _ := run(t,
		estimateReceived("E2b"),
		events.CustomerFoundEvent{EstimateID: "E2b", CustomerID: "C2", IsNewCustomer: true},
	)

	assert.False(t, wf.IsNewCustomer)
}

func TestTransition_CustomerResolutionFails(t *testing.T) {
	wf, decisions := run(t,
		estimateReceived("E3"),
		events.CustomerResolutionFailedEvent{EstimateID: "E3", Reason: "duplicate email conflict"},
	)

	assert.Equal(t, StateFailed, wf.StateName())
	require.NotNil(t, wf.ErrorReason)
	assert.Equal(t, "duplicate email conflict", *wf.ErrorReason)
	assert.Nil(t, wf.CustomerID)
	assert.Nil(t, wf.JobID)
	assert.NotNil(t, wf.CompletedAt)
	assert.Empty(t, decisions[1].Emitted)
}

func TestTransition_JobCreationFails(t *testing.T) {
	wf, _ := run(t,
		estimateReceived("E5"),
		events.CustomerCreatedEvent{EstimateID: "E5", CustomerID: "C5"},
		events.JobCreationFailedEvent{EstimateID: "E5", Reason: "no crew covers postal code"},
	)

	assert.Equal(t, StateFailed, wf.StateName())
	assert.Equal(t, "no crew covers postal code", *wf.ErrorReason)
	assert.Nil(t, wf.JobID)
}

func TestTransition_NotificationFailureIsDegradedSuccess(t *testing.T) {
	wf, decisions := run(t,
		estimateReceived("E4"),
		events.CustomerCreatedEvent{EstimateID: "E4", CustomerID: "C4"},
		events.JobCreatedEvent{EstimateID: "E4", JobID: "J4"},
		events.NotificationFailedEvent{EstimateID: "E4", Reason: "smtp timeout"},
	)

	assert.Equal(t, StateCompleted, wf.StateName())
	assert.Equal(t, models.ID("J4"), *wf.JobID)
	require.NotNil(t, wf.NotificationError)
	assert.Equal(t, "smtp timeout", *wf.NotificationError)
	assert.Nil(t, wf.ErrorReason)

	var completed events.WorkflowCompletedEvent
	require.NoError(t, decisions[3].Emitted[0].UnmarshalPayload(&completed))
	assert.False(t, completed.NotificationSent)
}

func TestTransition_IgnoredEvents(t *testing.T) {
	completed, _ := run(t,
		estimateReceived("E6"),
		events.CustomerFoundEvent{EstimateID: "E6", CustomerID: "C6"},
		events.JobCreatedEvent{EstimateID: "E6", JobID: "J6"},
	)
	resolving, _ := run(t, estimateReceived("E7"))

	tests := []struct {
		name    string
		current *WorkflowInstance
		event   events.Correlated
	}{
		{
			name:    "duplicate initiating event",
			current: resolving,
			event:   estimateReceived("E7"),
		},
		{
			name:    "job created before customer resolved",
			current: resolving,
			event:   events.JobCreatedEvent{EstimateID: "E7", JobID: "J7"},
		},
		{
			name:    "customer found without customer id",
			current: resolving,
			event:   events.CustomerFoundEvent{EstimateID: "E7"},
		},
		{
			name:    "redelivered job created after completion",
			current: completed,
			event:   events.JobCreatedEvent{EstimateID: "E6", JobID: "J6"},
		},
		{
			name:    "late failure after completion",
			current: completed,
			event:   events.CustomerResolutionFailedEvent{EstimateID: "E6", Reason: "late"},
		},
		{
			name:    "timeout for a state the workflow already left",
			current: resolving,
			event:   events.WorkflowTimedOutEvent{EstimateID: "E7", StalledState: string(StateCreatingJob)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := *tt.current

			d := Transition(tt.current, tt.event, baseTime.Add(time.Hour))

			assert.Equal(t, OutcomeIgnored, d.Outcome)
			assert.Nil(t, d.Next)
			assert.Empty(t, d.Emitted)
			assert.NotEmpty(t, d.Reason)
			assert.Equal(t, before, *tt.current)
		})
	}
}

func TestTransition_OrphanedAndRejectedEvents(t *testing.T) {
	d := Transition(nil, events.JobCreatedEvent{EstimateID: "E8", JobID: "J8"}, baseTime)
	assert.Equal(t, OutcomeOrphaned, d.Outcome)
	assert.Nil(t, d.Next)

	d = Transition(nil, events.CustomerCreatedEvent{CustomerID: "C9"}, baseTime)
	assert.Equal(t, OutcomeRejected, d.Outcome)

	received := estimateReceived("E9")
	received.TenantID = ""
	d = Transition(nil, received, baseTime)
	assert.Equal(t, OutcomeRejected, d.Outcome)

	wf, _ := run(t, estimateReceived("E10"))
	d = Transition(wf, events.CustomerCreatedEvent{EstimateID: "E11", CustomerID: "C11"}, baseTime)
	assert.Equal(t, OutcomeRejected, d.Outcome)
}

func TestTransition_TimeoutsStayInsideTheGraph(t *testing.T) {
	timeout := func(id models.ID, state StateName) events.WorkflowTimedOutEvent {
		return events.WorkflowTimedOutEvent{EstimateID: id, StalledState: string(state), Deadline: baseTime}
	}

	t.Run("resolving customer fails", func(t *testing.T) {
		wf, _ := run(t, estimateReceived("T1"), timeout("T1", StateResolvingCustomer))
		assert.Equal(t, StateFailed, wf.StateName())
		assert.Equal(t, "timed out waiting for customer resolution", *wf.ErrorReason)
	})

	t.Run("creating job fails", func(t *testing.T) {
		wf, _ := run(t,
			estimateReceived("T2"),
			events.CustomerFoundEvent{EstimateID: "T2", CustomerID: "C"},
			timeout("T2", StateCreatingJob),
		)
		assert.Equal(t, StateFailed, wf.StateName())
		assert.Equal(t, "timed out waiting for job creation", *wf.ErrorReason)
	})

	t.Run("sending notification completes degraded", func(t *testing.T) {
		wf, decisions := run(t,
			estimateReceived("T3"),
			events.CustomerCreatedEvent{EstimateID: "T3", CustomerID: "C"},
			events.JobCreatedEvent{EstimateID: "T3", JobID: "J"},
			timeout("T3", StateSendingNotification),
		)
		assert.Equal(t, StateCompleted, wf.StateName())
		assert.Equal(t, "timed out waiting for notification", *wf.NotificationError)
		assert.Equal(t, events.WorkflowCompletedTopic, decisions[3].Emitted[0].Topic)
	})
}

func TestTransition_IsDeterministic(t *testing.T) {
	wf, _ := run(t,
		estimateReceived("E12"),
		events.CustomerCreatedEvent{EstimateID: "E12", CustomerID: "C12"},
	)
	evt := events.JobCreatedEvent{EstimateID: "E12", JobID: "J12"}
	now := baseTime.Add(time.Hour)

	first := Transition(wf, evt, now)
	second := Transition(wf, evt, now)

	require.Len(t, first.Emitted, 1)
	require.Len(t, second.Emitted, 1)
	assert.Equal(t, first.Next, second.Next)
	assert.Equal(t, first.Emitted[0].ID, second.Emitted[0].ID)
	assert.Equal(t, models.ID("E12"), first.Emitted[0].CorrelationID)
	assert.Equal(t, wf.Version.Value, 2, "input must not be modified")
}

func TestTransition_Invariants(t *testing.T) {
	sequences := map[string][]events.Correlated{
		"new customer": {
			estimateReceived("P1"),
			events.CustomerCreatedEvent{EstimateID: "P1", CustomerID: "C"},
			events.JobCreatedEvent{EstimateID: "P1", JobID: "J"},
			events.NotificationSentEvent{EstimateID: "P1"},
		},
		"existing customer": {
			estimateReceived("P2"),
			events.CustomerFoundEvent{EstimateID: "P2", CustomerID: "C"},
			events.JobCreatedEvent{EstimateID: "P2", JobID: "J"},
		},
		"resolution failure": {
			estimateReceived("P3"),
			events.CustomerResolutionFailedEvent{EstimateID: "P3", Reason: "r"},
		},
		"job failure": {
			estimateReceived("P4"),
			events.CustomerFoundEvent{EstimateID: "P4", CustomerID: "C"},
			events.JobCreationFailedEvent{EstimateID: "P4", Reason: "r"},
		},
		"notification failure": {
			estimateReceived("P5"),
			events.CustomerCreatedEvent{EstimateID: "P5", CustomerID: "C"},
			events.JobCreatedEvent{EstimateID: "P5", JobID: "J"},
			events.NotificationFailedEvent{EstimateID: "P5", Reason: "r"},
		},
	}

	for name, seq := range sequences {
		t.Run(name, func(t *testing.T) {
			var (
				wf        *WorkflowInstance
				createdAt time.Time
			)

			for i, evt := range seq {
				d := Transition(wf, evt, baseTime.Add(time.Duration(i)*time.Second))
				require.Equal(t, OutcomeApplied, d.Outcome)

				next := d.Next
				assert.Equal(t, seq[0].CorrelationKey(), next.CorrelationID)
				assert.Equal(t, next.IsTerminal(), next.CompletedAt != nil)

				if wf == nil {
					assert.Equal(t, 1, next.Version.Value)
					createdAt = next.CreatedAt
				} else {
					assert.True(t, next.Version.Follows(wf.Version))
					assert.Equal(t, createdAt, next.CreatedAt)
					assert.False(t, wf.IsTerminal(), "no transition may leave a terminal state")
				}

				wf = next
			}

			assert.True(t, wf.IsTerminal())
			assert.Contains(t, []StateName{StateCompleted, StateFailed}, wf.StateName())

			for _, evt := range seq {
				d := Transition(wf, evt, baseTime.Add(time.Hour))
				assert.Equal(t, OutcomeIgnored, d.Outcome, "redelivery of %s", evt.EventTopic())
				assert.Empty(t, d.Emitted)
			}
		})
	}
}

func TestParseState(t *testing.T) {
	for _, name := range []StateName{StateResolvingCustomer, StateCreatingJob, StateSendingNotification, StateCompleted, StateFailed} {
		st, err := ParseState(string(name))
		require.NoError(t, err)
		assert.Equal(t, name, st.Name())
	}

	_, err := ParseState("scheduling")
	assert.Error(t, err)
}
