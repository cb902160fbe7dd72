package mocks

import (
	"context"
	"time"

	"github.com/greenpath/lawn-platform/estimate-workflow-service/domain"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a testify mock for domain.WorkflowRepository
type MockWorkflowRepository struct {
	mock.Mock
}

type MockWorkflowRepository_Expecter struct {
	mock *mock.Mock
}

func (_m *MockWorkflowRepository) EXPECT() *MockWorkflowRepository_Expecter {
	return &MockWorkflowRepository_Expecter{mock: &_m.Mock}
}

// FindByID provides a mock function with given fields: ctx, id
func (_m *MockWorkflowRepository) FindByID(ctx context.Context, id models.ID) (*domain.WorkflowInstance, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for FindByID")
	}

	var r0 *domain.WorkflowInstance
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*domain.WorkflowInstance)
	}
	return r0, ret.Error(1)
}

// Create provides a mock function with given fields: ctx, wf, outbox
func (_m *MockWorkflowRepository) Create(ctx context.Context, wf domain.WorkflowInstance, outbox []*events.Event) error {
	ret := _m.Called(ctx, wf, outbox)

	if len(ret) == 0 {
		panic("no return value specified for Create")
	}
	return ret.Error(0)
}

// CompareAndSwap provides a mock function with given fields: ctx, expected, next, outbox
func (_m *MockWorkflowRepository) CompareAndSwap(ctx context.Context, expected models.Version, next domain.WorkflowInstance, outbox []*events.Event) error {
	ret := _m.Called(ctx, expected, next, outbox)

	if len(ret) == 0 {
		panic("no return value specified for CompareAndSwap")
	}
	return ret.Error(0)
}

// FindStalled provides a mock function with given fields: ctx, updatedBefore, limit
func (_m *MockWorkflowRepository) FindStalled(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.WorkflowInstance, error) {
	ret := _m.Called(ctx, updatedBefore, limit)

	if len(ret) == 0 {
		panic("no return value specified for FindStalled")
	}

	var r0 []domain.WorkflowInstance
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]domain.WorkflowInstance)
	}
	return r0, ret.Error(1)
}

// List provides a mock function with given fields: ctx, filter
func (_m *MockWorkflowRepository) List(ctx context.Context, filter domain.WorkflowFilter) ([]domain.WorkflowInstance, error) {
	ret := _m.Called(ctx, filter)

	if len(ret) == 0 {
		panic("no return value specified for List")
	}

	var r0 []domain.WorkflowInstance
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]domain.WorkflowInstance)
	}
	return r0, ret.Error(1)
}

type MockWorkflowRepository_FindByID_Call struct {
	*mock.Call
}

func (_e *MockWorkflowRepository_Expecter) FindByID(ctx interface{}, id interface{}) *MockWorkflowRepository_FindByID_Call {
	return &MockWorkflowRepository_FindByID_Call{Call: _e.mock.On("FindByID", ctx, id)}
}

func (_c *MockWorkflowRepository_FindByID_Call) Return(_a0 *domain.WorkflowInstance, _a1 error) *MockWorkflowRepository_FindByID_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

type MockWorkflowRepository_Create_Call struct {
	*mock.Call
}

func (_e *MockWorkflowRepository_Expecter) Create(ctx interface{}, wf interface{}, outbox interface{}) *MockWorkflowRepository_Create_Call {
	return &MockWorkflowRepository_Create_Call{Call: _e.mock.On("Create", ctx, wf, outbox)}
}

func (_c *MockWorkflowRepository_Create_Call) Return(_a0 error) *MockWorkflowRepository_Create_Call {
	_c.Call.Return(_a0)
	return _c
}

type MockWorkflowRepository_CompareAndSwap_Call struct {
	*mock.Call
}

func (_e *MockWorkflowRepository_Expecter) CompareAndSwap(ctx interface{}, expected interface{}, next interface{}, outbox interface{}) *MockWorkflowRepository_CompareAndSwap_Call {
	return &MockWorkflowRepository_CompareAndSwap_Call{Call: _e.mock.On("CompareAndSwap", ctx, expected, next, outbox)}
}

func (_c *MockWorkflowRepository_CompareAndSwap_Call) Return(_a0 error) *MockWorkflowRepository_CompareAndSwap_Call {
	_c.Call.Return(_a0)
	return _c
}

type MockWorkflowRepository_FindStalled_Call struct {
	*mock.Call
}

func (_e *MockWorkflowRepository_Expecter) FindStalled(ctx interface{}, updatedBefore interface{}, limit interface{}) *MockWorkflowRepository_FindStalled_Call {
	return &MockWorkflowRepository_FindStalled_Call{Call: _e.mock.On("FindStalled", ctx, updatedBefore, limit)}
}

func (_c *MockWorkflowRepository_FindStalled_Call) Return(_a0 []domain.WorkflowInstance, _a1 error) *MockWorkflowRepository_FindStalled_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

type MockWorkflowRepository_List_Call struct {
	*mock.Call
}

func (_e *MockWorkflowRepository_Expecter) List(ctx interface{}, filter interface{}) *MockWorkflowRepository_List_Call {
	return &MockWorkflowRepository_List_Call{Call: _e.mock.On("List", ctx, filter)}
}

func (_c *MockWorkflowRepository_List_Call) Return(_a0 []domain.WorkflowInstance, _a1 error) *MockWorkflowRepository_List_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

// NewMockWorkflowRepository creates a new instance of MockWorkflowRepository
// and asserts its expectations when the test ends
func NewMockWorkflowRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockWorkflowRepository {
	m := &MockWorkflowRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
