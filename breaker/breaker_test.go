package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreakerStartsClosed(t *testing.T) {
	b := New(Options{})
	assert.Equal(t, StateClosed, b.Status().State)
}

func TestBreakerTripsAfterFailureThreshold(t *testing.T) {
	b := New(Options{FailureThreshold: 2, Window: time.Minute})

	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	assert.Equal(t, StateClosed, b.Status().State)

	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	assert.Equal(t, StateOpen, b.Status().State)
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, StateOpen, b.Status().State)

	err := b.Call(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: 1 * time.Millisecond, SuccessThreshold: 1})
	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, StateOpen, b.Status().State)

	time.Sleep(5 * time.Millisecond)

	err := b.Call(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.Status().State)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: 1 * time.Millisecond, SuccessThreshold: 2})
	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	time.Sleep(5 * time.Millisecond)

	err := b.Call(context.Background(), func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.Status().State)
}

func TestBreakerHalfOpenRequiresConsecutiveSuccesses(t *testing.T) {
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: 1 * time.Millisecond, SuccessThreshold: 2})
	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	time.Sleep(5 * time.Millisecond)

	_ = b.Call(context.Background(), func(context.Context) error { return nil })
	assert.Equal(t, StateHalfOpen, b.Status().State)

	_ = b.Call(context.Background(), func(context.Context) error { return nil })
	assert.Equal(t, StateClosed, b.Status().State)
}

func TestBreakerCallAsyncHonorsContextCancellation(t *testing.T) {
	b := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.CallAsync(ctx, func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreakerSuccessRateReflectsRecentCalls(t *testing.T) {
	b := New(Options{RingSize: 4})
	_ = b.Call(context.Background(), func(context.Context) error { return nil })
	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })

	rate := b.Status().SuccessRate
	assert.InDelta(t, 0.5, rate, 0.001)
}

func TestRegistryGetCreatesAndReusesBreakerPerComponent(t *testing.T) {
	r := NewRegistry(Options{})
	a1 := r.Get("planner")
	a2 := r.Get("planner")
	b1 := r.Get("coordinator")

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b1)
}

func TestRegistryStatusesReportsAllComponents(t *testing.T) {
	r := NewRegistry(Options{FailureThreshold: 1})
	r.Get("planner")
	_ = r.Get("coordinator").Call(context.Background(), func(context.Context) error { return errBoom })

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, StateClosed, statuses["planner"].State)
	assert.Equal(t, StateOpen, statuses["coordinator"].State)
}
