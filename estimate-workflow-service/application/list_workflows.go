package application

import (
	"context"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ErrInvalidFilter is returned for listing requests that cannot be served
var ErrInvalidFilter = errors.New("invalid workflow filter")

// ListWorkflowsQuery represents the query to list workflows
type ListWorkflowsQuery struct {
	State    string
	TenantID string
	Limit    int
	Offset   int
}

// ListWorkflowsResult is one page of workflows and the bounds actually applied
type ListWorkflowsResult struct {
	Workflows []domain.WorkflowInstance
	Limit     int
	Offset    int
}

// ListWorkflows use case lists workflows by state and tenant
type ListWorkflows struct {
	workflowRepository domain.WorkflowRepository
}

// NewListWorkflows creates a new ListWorkflows use case
func NewListWorkflows(workflowRepository domain.WorkflowRepository) *ListWorkflows {
	return &ListWorkflows{workflowRepository: workflowRepository}
}

// Execute lists workflows. A zero limit means the default page size and
// larger limits are capped.
func (uc *ListWorkflows) Execute(ctx context.Context, query ListWorkflowsQuery) (*ListWorkflowsResult, error) {
	filter, err := uc.toFilter(query)
	if err != nil {
		return nil, err
	}

	workflows, err := uc.workflowRepository.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workflows")
	}

	return &ListWorkflowsResult{
		Workflows: workflows,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	}, nil
}

func (uc *ListWorkflows) toFilter(query ListWorkflowsQuery) (domain.WorkflowFilter, error) {
	filter := domain.WorkflowFilter{
		TenantID: query.TenantID,
		Limit:    query.Limit,
		Offset:   query.Offset,
	}

	if query.State != "" {
		state, err := domain.ParseState(query.State)
		if err != nil {
			return domain.WorkflowFilter{}, errors.Wrap(ErrInvalidFilter, err.Error())
		}
		filter.State = state.Name()
	}

	if filter.Offset < 0 {
		return domain.WorkflowFilter{}, errors.Wrap(ErrInvalidFilter, "offset must not be negative")
	}

	switch {
	case filter.Limit < 0:
		return domain.WorkflowFilter{}, errors.Wrap(ErrInvalidFilter, "limit must not be negative")
	case filter.Limit == 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	return filter, nil
}
