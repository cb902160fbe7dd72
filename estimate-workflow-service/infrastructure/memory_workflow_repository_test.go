package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWorkflowRepository_CreateAndCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflowRepository()

	wf, emitted := started(t, "E1", "t1", t0)
	require.NoError(t, repo.Create(ctx, wf, emitted))
	assert.ErrorIs(t, repo.Create(ctx, wf, emitted), domain.ErrWorkflowExists)

	next, emitted := advance(t, wf, events.CustomerFoundEvent{EstimateID: "E1", CustomerID: "C1"}, t0.Add(time.Minute))
	require.NoError(t, repo.CompareAndSwap(ctx, wf.Version, next, emitted))

	// a second writer that loaded version 1 loses
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, wf.Version, next, emitted), domain.ErrVersionConflict)

	stored, err := repo.FindByID(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, next, *stored)

	missing, err := repo.FindByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	topics := []events.Topic{}
	for _, msg := range repo.Outbox() {
		topics = append(topics, msg.Event.Topic)
	}
	assert.Equal(t, []events.Topic{events.ResolveCustomerTopic, events.CreateJobTopic}, topics)
}

func TestMemoryWorkflowRepository_RejectsInvalidWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflowRepository()

	wf, _ := started(t, "E1", "t1", t0)
	require.NoError(t, repo.Create(ctx, wf, nil))

	next, _ := advance(t, wf, events.CustomerFoundEvent{EstimateID: "E1", CustomerID: "C1"}, t0)
	skipped := next
	skipped.Version = models.Version{Value: 5}
	assert.Error(t, repo.CompareAndSwap(ctx, wf.Version, skipped, nil))

	broken := wf
	broken.CorrelationID = ""
	assert.Error(t, repo.Create(ctx, broken, nil))
}

func TestMemoryWorkflowRepository_Outbox(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflowRepository()

	wf, emitted := started(t, "E1", "t1", t0)
	require.NoError(t, repo.Create(ctx, wf, emitted))
	wf2, emitted2 := started(t, "E2", "t1", t0)
	require.NoError(t, repo.Create(ctx, wf2, emitted2))

	pending, err := repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, repo.MarkFailed(ctx, pending[1].Event.ID, "throttled"))
	require.NoError(t, repo.MarkDispatched(ctx, []models.ID{pending[0].Event.ID}, t0))

	pending, err = repo.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, emitted2[0].ID, pending[0].Event.ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "throttled", pending[0].LastError)
}

func TestMemoryWorkflowRepository_OutboxRetriedMessagesGoLast(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflowRepository()

	for _, id := range []models.ID{"E1", "E2", "E3"} {
		wf, emitted := started(t, id, "t1", t0)
		require.NoError(t, repo.Create(ctx, wf, emitted))
	}

	pending, err := repo.FetchPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	first, second, third := pending[0].Event.ID, pending[1].Event.ID, pending[2].Event.ID

	require.NoError(t, repo.MarkFailed(ctx, first, "throttled"))

	pending, err = repo.FetchPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second, pending[0].Event.ID)
	assert.Equal(t, third, pending[1].Event.ID)

	require.NoError(t, repo.MarkParked(ctx, second, "rejected", t0))

	pending, err = repo.FetchPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, third, pending[0].Event.ID)
	assert.Equal(t, first, pending[1].Event.ID)

	var parked events.OutboxMessage
	for _, msg := range repo.Outbox() {
		if msg.Event.ID == second {
			parked = msg
		}
	}
	assert.Equal(t, 1, parked.Attempts)
	assert.Equal(t, "rejected", parked.LastError)
}

func TestMemoryWorkflowRepository_FindStalled(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflowRepository()

	old, _ := started(t, "old", "t1", t0)
	older, _ := started(t, "older", "t1", t0.Add(-time.Hour))
	fresh, _ := started(t, "fresh", "t1", t0.Add(time.Hour))
	failed, _ := started(t, "failed", "t1", t0.Add(-2*time.Hour))
	failed, _ = advance(t, failed, events.CustomerResolutionFailedEvent{EstimateID: "failed", Reason: "x"}, t0.Add(-2*time.Hour))

	for _, wf := range []domain.WorkflowInstance{old, older, fresh, failed} {
		require.NoError(t, repo.Create(ctx, wf, nil))
	}

	stalled, err := repo.FindStalled(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stalled, 2)
	assert.Equal(t, models.ID("older"), stalled[0].CorrelationID)
	assert.Equal(t, models.ID("old"), stalled[1].CorrelationID)

	stalled, err = repo.FindStalled(ctx, t0.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, stalled, 1)
}

func TestMemoryWorkflowRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflowRepository()

	for i, id := range []models.ID{"a", "b", "c"} {
		wf, _ := started(t, id, "t1", t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, wf, nil))
	}
	other, _ := started(t, "d", "t2", t0)
	require.NoError(t, repo.Create(ctx, other, nil))

	tests := []struct {
		name   string
		filter domain.WorkflowFilter
		want   []models.ID
	}{
		{"by tenant newest first", domain.WorkflowFilter{TenantID: "t1", Limit: 10}, []models.ID{"c", "b", "a"}},
		{"paged", domain.WorkflowFilter{TenantID: "t1", Limit: 1, Offset: 1}, []models.ID{"b"}},
		{"offset past end", domain.WorkflowFilter{Offset: 10, Limit: 10}, []models.ID{}},
		{"by state", domain.WorkflowFilter{State: domain.StateCompleted, Limit: 10}, []models.ID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)

			ids := []models.ID{}
			for _, wf := range got {
				ids = append(ids, wf.CorrelationID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
