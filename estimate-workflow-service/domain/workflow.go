package domain

import (
	"time"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/pkg/errors"
)

// WorkflowInstance is the persisted progress of one estimate through the
// workflow. It is handled as a value: transitions return a new instance and
// never modify the one they were given.
type WorkflowInstance struct {
	CorrelationID     models.ID
	State             State
	TenantID          string
	EstimatorID       string
	CustomerID        *models.ID
	JobID             *models.ID
	CustomerSnapshot  events.CustomerInfo
	JobSnapshot       events.JobDetails
	IsNewCustomer     bool
	ErrorReason       *string
	NotificationError *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	Version           models.Version
}

// IsTerminal reports whether the workflow reached Completed or Failed
func (w WorkflowInstance) IsTerminal() bool {
	return w.State != nil && w.State.IsTerminal()
}

// StateName returns the name of the current state
func (w WorkflowInstance) StateName() StateName {
	if w.State == nil {
		return ""
	}
	return w.State.Name()
}

// Validate checks the structural invariants every persisted instance must hold
func (w WorkflowInstance) Validate() error {
	if w.CorrelationID.IsZero() {
		return errors.New("correlation ID is required")
	}

	if w.State == nil {
		return errors.New("state is required")
	}

	if w.Version.Value < 1 {
		return errors.Errorf("invalid version %d", w.Version.Value)
	}

	if w.CreatedAt.IsZero() {
		return errors.New("created at is required")
	}

	if w.IsTerminal() != (w.CompletedAt != nil) {
		return errors.Errorf("completed at must be set if and only if state is terminal (state %s)", w.StateName())
	}

	return nil
}

// newWorkflow initializes an instance from the initiating event
func newWorkflow(received events.EstimateReceivedEvent, now time.Time) WorkflowInstance {
	now = now.UTC()
	return WorkflowInstance{
		CorrelationID:    received.EstimateID,
		State:            ResolvingCustomer{},
		TenantID:         received.TenantID,
		EstimatorID:      received.EstimatorID,
		CustomerSnapshot: received.CustomerInfo,
		JobSnapshot:      received.JobDetails,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          models.NewVersion(),
	}
}

func resolveCustomer(w WorkflowInstance) events.ResolveCustomerCommand {
	return events.ResolveCustomerCommand{
		TenantID:     w.TenantID,
		EstimateID:   w.CorrelationID,
		CustomerInfo: w.CustomerSnapshot,
	}
}

func createJob(w WorkflowInstance) events.CreateJobCommand {
	return events.CreateJobCommand{
		TenantID:   w.TenantID,
		EstimateID: w.CorrelationID,
		CustomerID: deref(w.CustomerID),
		JobDetails: w.JobSnapshot,
	}
}

func sendWelcomeNotification(w WorkflowInstance) events.SendWelcomeNotificationCommand {
	return events.SendWelcomeNotificationCommand{
		TenantID:     w.TenantID,
		EstimateID:   w.CorrelationID,
		CustomerID:   deref(w.CustomerID),
		CustomerInfo: w.CustomerSnapshot,
	}
}

func workflowCompleted(w WorkflowInstance, notificationSent bool) events.WorkflowCompletedEvent {
	return events.WorkflowCompletedEvent{
		TenantID:         w.TenantID,
		EstimateID:       w.CorrelationID,
		CustomerID:       deref(w.CustomerID),
		JobID:            deref(w.JobID),
		NotificationSent: notificationSent,
	}
}

func deref(id *models.ID) models.ID {
	if id == nil {
		return ""
	}
	return *id
}
