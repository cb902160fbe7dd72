package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/greenpath/lawn-platform/estimate-workflow-service/application"
	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/pkg/errors"
)

// WorkflowView is the JSON representation of a workflow instance
type WorkflowView struct {
	EstimateID        string              `json:"estimate_id"`
	State             string              `json:"state"`
	TenantID          string              `json:"tenant_id"`
	EstimatorID       string              `json:"estimator_id"`
	CustomerID        *string             `json:"customer_id,omitempty"`
	JobID             *string             `json:"job_id,omitempty"`
	IsNewCustomer     bool                `json:"is_new_customer"`
	Customer          events.CustomerInfo `json:"customer"`
	Job               events.JobDetails   `json:"job"`
	ErrorReason       *string             `json:"error_reason,omitempty"`
	NotificationError *string             `json:"notification_error,omitempty"`
	Version           int                 `json:"version"`
	CreatedAt         string              `json:"created_at"`
	UpdatedAt         string              `json:"updated_at"`
	CompletedAt       *string             `json:"completed_at,omitempty"`
}

// WorkflowListView is the JSON representation of a workflow listing
type WorkflowListView struct {
	Workflows []WorkflowView `json:"workflows"`
	Count     int            `json:"count"`
	Limit     int            `json:"limit"`
	Offset    int            `json:"offset"`
}

// NewWorkflowView converts a workflow instance for the API
func NewWorkflowView(wf domain.WorkflowInstance) WorkflowView {
	view := WorkflowView{
		EstimateID:        wf.CorrelationID.String(),
		State:             wf.StateName().String(),
		TenantID:          wf.TenantID,
		EstimatorID:       wf.EstimatorID,
		CustomerID:        idString(wf.CustomerID),
		JobID:             idString(wf.JobID),
		IsNewCustomer:     wf.IsNewCustomer,
		Customer:          wf.CustomerSnapshot,
		Job:               wf.JobSnapshot,
		ErrorReason:       wf.ErrorReason,
		NotificationError: wf.NotificationError,
		Version:           wf.Version.Value,
		CreatedAt:         wf.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         wf.UpdatedAt.Format(time.RFC3339),
	}

	if wf.CompletedAt != nil {
		completedAt := wf.CompletedAt.Format(time.RFC3339)
		view.CompletedAt = &completedAt
	}

	return view
}

func idString(id *models.ID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// WorkflowHandlers contains the read-only workflow HTTP handlers
type WorkflowHandlers struct {
	getWorkflow   *application.GetWorkflow
	listWorkflows *application.ListWorkflows
}

// NewWorkflowHandlers creates new workflow handlers
func NewWorkflowHandlers(getWorkflow *application.GetWorkflow, listWorkflows *application.ListWorkflows) *WorkflowHandlers {
	return &WorkflowHandlers{
		getWorkflow:   getWorkflow,
		listWorkflows: listWorkflows,
	}
}

// GetWorkflow handles workflow retrieval requests
func (h *WorkflowHandlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	wf, err := h.getWorkflow.Execute(r.Context(), models.ID(id))
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, NewWorkflowView(*wf))
}

// ListWorkflows handles workflow listing requests
func (h *WorkflowHandlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit, err := intParam(params.Get("limit"))
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	offset, err := intParam(params.Get("offset"))
	if err != nil {
		http.Error(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	query := application.ListWorkflowsQuery{
		State:    params.Get("state"),
		TenantID: params.Get("tenant_id"),
		Limit:    limit,
		Offset:   offset,
	}

	result, err := h.listWorkflows.Execute(r.Context(), query)
	if err != nil {
		if errors.Is(err, application.ErrInvalidFilter) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]WorkflowView, 0, len(result.Workflows))
	for _, wf := range result.Workflows {
		views = append(views, NewWorkflowView(wf))
	}

	writeJSON(w, http.StatusOK, WorkflowListView{
		Workflows: views,
		Count:     len(views),
		Limit:     result.Limit,
		Offset:    result.Offset,
	})
}

// RegisterRoutes registers workflow routes
func (h *WorkflowHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", h.ListWorkflows)
		r.Get("/{id}", h.GetWorkflow)
	})
}

func intParam(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
