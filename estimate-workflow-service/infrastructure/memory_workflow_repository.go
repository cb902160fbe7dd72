package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/pkg/errors"
)

var (
	_ domain.WorkflowRepository = (*MemoryWorkflowRepository)(nil)
	_ events.Outbox             = (*MemoryWorkflowRepository)(nil)
)

type memoryOutboxEntry struct {
	message      events.OutboxMessage
	dispatchedAt *time.Time
	parkedAt     *time.Time
}

// MemoryWorkflowRepository keeps workflows and their outbox in process
// memory. It honors the same version and atomicity rules as the Postgres
// repository and backs the memory storage driver and use case tests.
type MemoryWorkflowRepository struct {
	mux       sync.RWMutex
	workflows map[models.ID]domain.WorkflowInstance
	outbox    []*memoryOutboxEntry
	outboxIDs map[models.ID]struct{}
}

// NewMemoryWorkflowRepository creates an empty repository
func NewMemoryWorkflowRepository() *MemoryWorkflowRepository {
	return &MemoryWorkflowRepository{
		workflows: make(map[models.ID]domain.WorkflowInstance),
		outboxIDs: make(map[models.ID]struct{}),
	}
}

func (r *MemoryWorkflowRepository) FindByID(_ context.Context, id models.ID) (*domain.WorkflowInstance, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	wf, ok := r.workflows[id]
	if !ok {
		return nil, nil
	}

	return &wf, nil
}

func (r *MemoryWorkflowRepository) Create(_ context.Context, wf domain.WorkflowInstance, outbox []*events.Event) error {
	if err := wf.Validate(); err != nil {
		return errors.Wrap(err, "refusing to persist invalid workflow")
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if _, ok := r.workflows[wf.CorrelationID]; ok {
		return domain.ErrWorkflowExists
	}

	r.workflows[wf.CorrelationID] = wf
	r.appendOutbox(outbox)

	return nil
}

func (r *MemoryWorkflowRepository) CompareAndSwap(_ context.Context, expected models.Version, next domain.WorkflowInstance, outbox []*events.Event) error {
	if !next.Version.Follows(expected) {
		return errors.Errorf("next version %d does not follow %d", next.Version.Value, expected.Value)
	}

	if err := next.Validate(); err != nil {
		return errors.Wrap(err, "refusing to persist invalid workflow")
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	current, ok := r.workflows[next.CorrelationID]
	if !ok || current.Version != expected {
		return domain.ErrVersionConflict
	}

	r.workflows[next.CorrelationID] = next
	r.appendOutbox(outbox)

	return nil
}

func (r *MemoryWorkflowRepository) appendOutbox(evts []*events.Event) {
	for _, evt := range evts {
		if _, ok := r.outboxIDs[evt.ID]; ok {
			continue
		}

		r.outboxIDs[evt.ID] = struct{}{}
		r.outbox = append(r.outbox, &memoryOutboxEntry{
			message: events.OutboxMessage{
				Event:     evt.Clone(),
				CreatedAt: evt.Timestamp,
			},
		})
	}
}

func (r *MemoryWorkflowRepository) FindStalled(_ context.Context, updatedBefore time.Time, limit int) ([]domain.WorkflowInstance, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	var stalled []domain.WorkflowInstance
	for _, wf := range r.workflows {
		if !wf.IsTerminal() && wf.UpdatedAt.Before(updatedBefore) {
			stalled = append(stalled, wf)
		}
	}

	sort.Slice(stalled, func(i, j int) bool {
		return stalled[i].UpdatedAt.Before(stalled[j].UpdatedAt)
	})

	if limit > 0 && len(stalled) > limit {
		stalled = stalled[:limit]
	}

	return stalled, nil
}

func (r *MemoryWorkflowRepository) List(_ context.Context, filter domain.WorkflowFilter) ([]domain.WorkflowInstance, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	var matched []domain.WorkflowInstance
	for _, wf := range r.workflows {
		if filter.State != "" && wf.StateName() != filter.State {
			continue
		}
		if filter.TenantID != "" && wf.TenantID != filter.TenantID {
			continue
		}
		matched = append(matched, wf)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CorrelationID < matched[j].CorrelationID
	})

	if filter.Offset >= len(matched) {
		return []domain.WorkflowInstance{}, nil
	}
	matched = matched[filter.Offset:]

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

func (r *MemoryWorkflowRepository) FetchPending(_ context.Context, limit int) ([]events.OutboxMessage, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	var pending []events.OutboxMessage
	for _, entry := range r.outbox {
		if entry.dispatchedAt != nil || entry.parkedAt != nil {
			continue
		}

		msg := entry.message
		msg.Event = msg.Event.Clone()
		pending = append(pending, msg)
	}

	// insertion order is kept within the same attempt count
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Attempts < pending[j].Attempts
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	return pending, nil
}

func (r *MemoryWorkflowRepository) MarkDispatched(_ context.Context, ids []models.ID, at time.Time) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	wanted := make(map[models.ID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	for _, entry := range r.outbox {
		if _, ok := wanted[entry.message.Event.ID]; ok && entry.dispatchedAt == nil {
			dispatchedAt := at.UTC()
			entry.dispatchedAt = &dispatchedAt
		}
	}

	return nil
}

func (r *MemoryWorkflowRepository) MarkFailed(_ context.Context, id models.ID, reason string) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	for _, entry := range r.outbox {
		if entry.message.Event.ID == id {
			entry.message.Attempts++
			entry.message.LastError = reason
			return nil
		}
	}

	return nil
}

func (r *MemoryWorkflowRepository) MarkParked(_ context.Context, id models.ID, reason string, at time.Time) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	for _, entry := range r.outbox {
		if entry.message.Event.ID == id {
			parkedAt := at.UTC()
			entry.message.Attempts++
			entry.message.LastError = reason
			entry.parkedAt = &parkedAt
			return nil
		}
	}

	return nil
}

// Outbox returns every recorded message in insertion order, dispatched or not
func (r *MemoryWorkflowRepository) Outbox() []events.OutboxMessage {
	r.mux.RLock()
	defer r.mux.RUnlock()

	all := make([]events.OutboxMessage, 0, len(r.outbox))
	for _, entry := range r.outbox {
		all = append(all, entry.message)
	}
	return all
}
