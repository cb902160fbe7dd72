package events

import (
	"time"

	"github.com/greenpath/lawn-platform/shared/models"
)

// Address is a service address for a property
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// CustomerInfo is what the estimator captured about the customer
type CustomerInfo struct {
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	ServiceAddress Address `json:"service_address"`
}

// JobDetails is the work described by an estimate
type JobDetails struct {
	ServiceType        string       `json:"service_type"`
	Description        string       `json:"description"`
	LotSizeSqFt        int          `json:"lot_size_sq_ft"`
	VisitFrequency     string       `json:"visit_frequency"`
	QuotedPrice        models.Money `json:"quoted_price"`
	RequestedStartDate *time.Time   `json:"requested_start_date,omitempty"`
}

// Correlated is implemented by every message the workflow consumes
type Correlated interface {
	EventTopic() Topic
	CorrelationKey() models.ID
}

// EstimateReceivedEvent initiates a workflow
type EstimateReceivedEvent struct {
	TenantID     string       `json:"tenant_id"`
	EstimateID   models.ID    `json:"estimate_id"`
	CustomerInfo CustomerInfo `json:"customer_info"`
	JobDetails   JobDetails   `json:"job_details"`
	EstimatorID  string       `json:"estimator_id"`
}

func (e EstimateReceivedEvent) EventTopic() Topic         { return EstimateReceivedTopic }
func (e EstimateReceivedEvent) CorrelationKey() models.ID { return e.EstimateID }

// ResolveCustomerCommand asks Customer Resolution to find or create a customer
type ResolveCustomerCommand struct {
	TenantID     string       `json:"tenant_id"`
	EstimateID   models.ID    `json:"estimate_id"`
	CustomerInfo CustomerInfo `json:"customer_info"`
}

// CustomerFoundEvent reports an existing customer matched the estimate
type CustomerFoundEvent struct {
	EstimateID    models.ID `json:"estimate_id"`
	CustomerID    models.ID `json:"customer_id"`
	IsNewCustomer bool      `json:"is_new_customer"`
}

func (e CustomerFoundEvent) EventTopic() Topic         { return CustomerFoundTopic }
func (e CustomerFoundEvent) CorrelationKey() models.ID { return e.EstimateID }

// CustomerCreatedEvent reports a new customer was created for the estimate
type CustomerCreatedEvent struct {
	EstimateID models.ID `json:"estimate_id"`
	CustomerID models.ID `json:"customer_id"`
}

func (e CustomerCreatedEvent) EventTopic() Topic         { return CustomerCreatedTopic }
func (e CustomerCreatedEvent) CorrelationKey() models.ID { return e.EstimateID }

// CustomerResolutionFailedEvent reports Customer Resolution rejected the request
type CustomerResolutionFailedEvent struct {
	EstimateID models.ID `json:"estimate_id"`
	Reason     string    `json:"reason"`
}

func (e CustomerResolutionFailedEvent) EventTopic() Topic         { return CustomerResolutionFailedTopic }
func (e CustomerResolutionFailedEvent) CorrelationKey() models.ID { return e.EstimateID }

// CreateJobCommand asks Job Creation to schedule the estimated work
type CreateJobCommand struct {
	TenantID   string     `json:"tenant_id"`
	EstimateID models.ID  `json:"estimate_id"`
	CustomerID models.ID  `json:"customer_id"`
	JobDetails JobDetails `json:"job_details"`
}

// JobCreatedEvent reports the job was created
type JobCreatedEvent struct {
	EstimateID models.ID `json:"estimate_id"`
	JobID      models.ID `json:"job_id"`
}

func (e JobCreatedEvent) EventTopic() Topic         { return JobCreatedTopic }
func (e JobCreatedEvent) CorrelationKey() models.ID { return e.EstimateID }

// JobCreationFailedEvent reports Job Creation rejected the request
type JobCreationFailedEvent struct {
	EstimateID models.ID `json:"estimate_id"`
	Reason     string    `json:"reason"`
}

func (e JobCreationFailedEvent) EventTopic() Topic         { return JobCreationFailedTopic }
func (e JobCreationFailedEvent) CorrelationKey() models.ID { return e.EstimateID }

// SendWelcomeNotificationCommand asks Notification to welcome a new customer
type SendWelcomeNotificationCommand struct {
	TenantID     string       `json:"tenant_id"`
	EstimateID   models.ID    `json:"estimate_id"`
	CustomerID   models.ID    `json:"customer_id"`
	CustomerInfo CustomerInfo `json:"customer_info"`
}

// NotificationSentEvent reports the welcome notification went out
type NotificationSentEvent struct {
	EstimateID models.ID `json:"estimate_id"`
}

func (e NotificationSentEvent) EventTopic() Topic         { return NotificationSentTopic }
func (e NotificationSentEvent) CorrelationKey() models.ID { return e.EstimateID }

// NotificationFailedEvent reports the welcome notification could not be delivered
type NotificationFailedEvent struct {
	EstimateID models.ID `json:"estimate_id"`
	Reason     string    `json:"reason"`
}

func (e NotificationFailedEvent) EventTopic() Topic         { return NotificationFailedTopic }
func (e NotificationFailedEvent) CorrelationKey() models.ID { return e.EstimateID }

// WorkflowCompletedEvent is broadcast once a workflow completes
type WorkflowCompletedEvent struct {
	TenantID         string    `json:"tenant_id"`
	EstimateID       models.ID `json:"estimate_id"`
	CustomerID       models.ID `json:"customer_id"`
	JobID            models.ID `json:"job_id"`
	NotificationSent bool      `json:"notification_sent"`
}

// WorkflowTimedOutEvent is raised by the stalled-workflow sweep
type WorkflowTimedOutEvent struct {
	EstimateID   models.ID `json:"estimate_id"`
	StalledState string    `json:"stalled_state"`
	Deadline     time.Time `json:"deadline"`
}

func (e WorkflowTimedOutEvent) EventTopic() Topic         { return WorkflowTimedOutTopic }
func (e WorkflowTimedOutEvent) CorrelationKey() models.ID { return e.EstimateID }
