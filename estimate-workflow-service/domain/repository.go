package domain

import (
	"context"
	"time"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/pkg/errors"
)

var (
	// ErrVersionConflict is returned when the stored version no longer matches the expected one
	ErrVersionConflict = errors.New("workflow version conflict")
	// ErrWorkflowExists is returned when creating a workflow whose correlation ID is taken
	ErrWorkflowExists = errors.New("workflow already exists")
	// ErrWorkflowNotFound is returned by lookups that require the workflow to exist
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// WorkflowFilter narrows a workflow listing
type WorkflowFilter struct {
	State    StateName
	TenantID string
	Offset   int
	Limit    int
}

// WorkflowRepository persists workflow instances together with the messages
// their transitions emitted. Create and CompareAndSwap write the instance and
// its outbox rows atomically.
type WorkflowRepository interface {
	// FindByID returns nil, nil when no workflow exists
	FindByID(ctx context.Context, id models.ID) (*WorkflowInstance, error)
	Create(ctx context.Context, wf WorkflowInstance, outbox []*events.Event) error
	// CompareAndSwap replaces the stored workflow only if its version is still expected
	CompareAndSwap(ctx context.Context, expected models.Version, next WorkflowInstance, outbox []*events.Event) error
	FindStalled(ctx context.Context, updatedBefore time.Time, limit int) ([]WorkflowInstance, error)
	List(ctx context.Context, filter WorkflowFilter) ([]WorkflowInstance, error)
}
