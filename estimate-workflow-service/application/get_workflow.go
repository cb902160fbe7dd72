package application

import (
	"context"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/pkg/errors"
)

// GetWorkflow use case returns one workflow by its estimate ID
type GetWorkflow struct {
	workflowRepository domain.WorkflowRepository
}

// NewGetWorkflow creates a new GetWorkflow use case
func NewGetWorkflow(workflowRepository domain.WorkflowRepository) *GetWorkflow {
	return &GetWorkflow{workflowRepository: workflowRepository}
}

// Execute returns domain.ErrWorkflowNotFound when the estimate has no workflow
func (uc *GetWorkflow) Execute(ctx context.Context, id models.ID) (*domain.WorkflowInstance, error) {
	if id.IsZero() {
		return nil, errors.New("workflow ID is required")
	}

	wf, err := uc.workflowRepository.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find workflow")
	}

	if wf == nil {
		return nil, domain.ErrWorkflowNotFound
	}

	return wf, nil
}
