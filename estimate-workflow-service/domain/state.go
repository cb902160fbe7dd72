package domain

import (
	"time"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/pkg/errors"
)

// StateName is the persisted name of a workflow state
type StateName string

const (
	StateResolvingCustomer   StateName = "resolving_customer"
	StateCreatingJob         StateName = "creating_job"
	StateSendingNotification StateName = "sending_notification"
	StateCompleted           StateName = "completed"
	StateFailed              StateName = "failed"
)

func (n StateName) String() string {
	return string(n)
}

// State is the closed set of workflow states. Each state decides which
// events it accepts; the unexported method keeps the set sealed to this package.
type State interface {
	Name() StateName
	IsTerminal() bool
	on(wf WorkflowInstance, evt events.Correlated, now time.Time) (step, bool)
}

// step is the result of a state accepting an event
type step struct {
	next WorkflowInstance
	emit []outbound
}

type outbound struct {
	topic events.Topic
	data  interface{}
}

type (
	ResolvingCustomer   struct{}
	CreatingJob         struct{}
	SendingNotification struct{}
	Completed           struct{}
	Failed              struct{}
)

var (
	_ State = ResolvingCustomer{}
	_ State = CreatingJob{}
	_ State = SendingNotification{}
	_ State = Completed{}
	_ State = Failed{}
)

// ParseState maps a persisted state name back to its State
func ParseState(name string) (State, error) {
	switch StateName(name) {
	case StateResolvingCustomer:
		return ResolvingCustomer{}, nil
	case StateCreatingJob:
		return CreatingJob{}, nil
	case StateSendingNotification:
		return SendingNotification{}, nil
	case StateCompleted:
		return Completed{}, nil
	case StateFailed:
		return Failed{}, nil
	default:
		return nil, errors.Errorf("unknown workflow state %q", name)
	}
}

// NonTerminalStates lists the states a stalled workflow can be parked in
func NonTerminalStates() []StateName {
	return []StateName{StateResolvingCustomer, StateCreatingJob, StateSendingNotification}
}

func (ResolvingCustomer) Name() StateName { return StateResolvingCustomer }
func (ResolvingCustomer) IsTerminal() bool { return false }

func (s ResolvingCustomer) on(wf WorkflowInstance, evt events.Correlated, now time.Time) (step, bool) {
	switch e := evt.(type) {
	case events.CustomerFoundEvent:
		if e.CustomerID.IsZero() {
			return step{}, false
		}
		return customerResolved(wf, e.CustomerID, false), true

	case events.CustomerCreatedEvent:
		if e.CustomerID.IsZero() {
			return step{}, false
		}
		return customerResolved(wf, e.CustomerID, true), true

	case events.CustomerResolutionFailedEvent:
		return fail(wf, e.Reason, now), true

	case events.WorkflowTimedOutEvent:
		if e.StalledState != s.Name().String() {
			return step{}, false
		}
		return fail(wf, "timed out waiting for customer resolution", now), true
	}

	return step{}, false
}

func (CreatingJob) Name() StateName { return StateCreatingJob }
func (CreatingJob) IsTerminal() bool { return false }

func (s CreatingJob) on(wf WorkflowInstance, evt events.Correlated, now time.Time) (step, bool) {
	switch e := evt.(type) {
	case events.JobCreatedEvent:
		if e.JobID.IsZero() {
			return step{}, false
		}
		wf.JobID = e.JobID.Ptr()

		if wf.IsNewCustomer {
			wf.State = SendingNotification{}
			return step{
				next: wf,
				emit: []outbound{{topic: events.SendWelcomeNotificationTopic, data: sendWelcomeNotification(wf)}},
			}, true
		}

		return complete(wf, now, false), true

	case events.JobCreationFailedEvent:
		return fail(wf, e.Reason, now), true

	case events.WorkflowTimedOutEvent:
		if e.StalledState != s.Name().String() {
			return step{}, false
		}
		return fail(wf, "timed out waiting for job creation", now), true
	}

	return step{}, false
}

func (SendingNotification) Name() StateName { return StateSendingNotification }
func (SendingNotification) IsTerminal() bool { return false }

func (s SendingNotification) on(wf WorkflowInstance, evt events.Correlated, now time.Time) (step, bool) {
	switch e := evt.(type) {
	case events.NotificationSentEvent:
		return complete(wf, now, true), true

	case events.NotificationFailedEvent:
		wf.NotificationError = stringPtr(e.Reason)
		return complete(wf, now, false), true

	case events.WorkflowTimedOutEvent:
		if e.StalledState != s.Name().String() {
			return step{}, false
		}
		wf.NotificationError = stringPtr("timed out waiting for notification")
		return complete(wf, now, false), true
	}

	return step{}, false
}

// Terminal states accept nothing.

func (Completed) Name() StateName { return StateCompleted }
func (Completed) IsTerminal() bool { return true }

func (Completed) on(WorkflowInstance, events.Correlated, time.Time) (step, bool) {
	return step{}, false
}

func (Failed) Name() StateName { return StateFailed }
func (Failed) IsTerminal() bool { return true }

func (Failed) on(WorkflowInstance, events.Correlated, time.Time) (step, bool) {
	return step{}, false
}

func customerResolved(wf WorkflowInstance, customerID models.ID, isNew bool) step {
	wf.CustomerID = customerID.Ptr()
	wf.IsNewCustomer = isNew
	wf.State = CreatingJob{}

	return step{
		next: wf,
		emit: []outbound{{topic: events.CreateJobTopic, data: createJob(wf)}},
	}
}

// complete emits the broadcast. delivered is false on the degraded path and
// for existing customers, who never get a welcome.
func complete(wf WorkflowInstance, now time.Time, delivered bool) step {
	wf.State = Completed{}
	wf.CompletedAt = timePtr(now)

	return step{
		next: wf,
		emit: []outbound{{topic: events.WorkflowCompletedTopic, data: workflowCompleted(wf, delivered)}},
	}
}

func fail(wf WorkflowInstance, reason string, now time.Time) step {
	wf.State = Failed{}
	wf.ErrorReason = stringPtr(reason)
	wf.CompletedAt = timePtr(now)
	return step{next: wf}
}

func stringPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
