package mocks

import (
	"context"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a testify mock for events.Publisher. The variadic events
// are matched as a single []*events.Event argument.
type MockPublisher struct {
	mock.Mock
}

type MockPublisher_Expecter struct {
	mock *mock.Mock
}

func (_m *MockPublisher) EXPECT() *MockPublisher_Expecter {
	return &MockPublisher_Expecter{mock: &_m.Mock}
}

// Publish provides a mock function with given fields: ctx, evts
func (_m *MockPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	ret := _m.Called(ctx, evts)

	if len(ret) == 0 {
		panic("no return value specified for Publish")
	}

	if rf, ok := ret.Get(0).(func(context.Context, []*events.Event) error); ok {
		return rf(ctx, evts)
	}
	return ret.Error(0)
}

type MockPublisher_Publish_Call struct {
	*mock.Call
}

// Publish is a helper method to define mock.On call
func (_e *MockPublisher_Expecter) Publish(ctx interface{}, evts interface{}) *MockPublisher_Publish_Call {
	return &MockPublisher_Publish_Call{Call: _e.mock.On("Publish", ctx, evts)}
}

func (_c *MockPublisher_Publish_Call) Return(_a0 error) *MockPublisher_Publish_Call {
	_c.Call.Return(_a0)
	return _c
}

func (_c *MockPublisher_Publish_Call) RunAndReturn(run func(context.Context, []*events.Event) error) *MockPublisher_Publish_Call {
	_c.Call.Return(run)
	return _c
}

// NewMockPublisher creates a new instance of MockPublisher and asserts its
// expectations when the test ends
func NewMockPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPublisher {
	m := &MockPublisher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
