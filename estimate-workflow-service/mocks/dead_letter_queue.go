package mocks

import (
	"context"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/stretchr/testify/mock"
)

// MockDeadLetterQueue is a testify mock for events.DeadLetterQueue
type MockDeadLetterQueue struct {
	mock.Mock
}

type MockDeadLetterQueue_Expecter struct {
	mock *mock.Mock
}

func (_m *MockDeadLetterQueue) EXPECT() *MockDeadLetterQueue_Expecter {
	return &MockDeadLetterQueue_Expecter{mock: &_m.Mock}
}

// Send provides a mock function with given fields: ctx, letter
func (_m *MockDeadLetterQueue) Send(ctx context.Context, letter events.DeadLetter) error {
	ret := _m.Called(ctx, letter)

	if len(ret) == 0 {
		panic("no return value specified for Send")
	}

	if rf, ok := ret.Get(0).(func(context.Context, events.DeadLetter) error); ok {
		return rf(ctx, letter)
	}
	return ret.Error(0)
}

type MockDeadLetterQueue_Send_Call struct {
	*mock.Call
}

// Send is a helper method to define mock.On call
func (_e *MockDeadLetterQueue_Expecter) Send(ctx interface{}, letter interface{}) *MockDeadLetterQueue_Send_Call {
	return &MockDeadLetterQueue_Send_Call{Call: _e.mock.On("Send", ctx, letter)}
}

func (_c *MockDeadLetterQueue_Send_Call) Return(_a0 error) *MockDeadLetterQueue_Send_Call {
	_c.Call.Return(_a0)
	return _c
}

func (_c *MockDeadLetterQueue_Send_Call) RunAndReturn(run func(context.Context, events.DeadLetter) error) *MockDeadLetterQueue_Send_Call {
	_c.Call.Return(run)
	return _c
}

// NewMockDeadLetterQueue creates a new instance of MockDeadLetterQueue and
// asserts its expectations when the test ends
func NewMockDeadLetterQueue(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDeadLetterQueue {
	m := &MockDeadLetterQueue{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
