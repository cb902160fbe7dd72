package application

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRunPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan struct{})

	go func() {
		defer close(done)
		RunPeriodically(ctx, "test", time.Millisecond, testLogger(), func(context.Context) (int, error) {
			if calls.Add(1) == 1 {
				return 0, errors.New("first run fails")
			}
			return 1, nil
		})
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond,
		"a failing run does not stop the loop")

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodically did not return after cancellation")
	}
}
