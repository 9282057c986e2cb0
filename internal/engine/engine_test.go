package engine

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// scriptedProcessor returns outcomes in order, then repeats the last one.
type scriptedProcessor struct {
	outcomes []Outcome
	err      error
	errAfter int

	calls atomic.Int64
}

func (s *scriptedProcessor) Name() string { return "scripted" }

func (s *scriptedProcessor) ProcessNext(context.Context) (Outcome, error) {
	n := int(s.calls.Add(1))
	if s.err != nil && n > s.errAfter {
		return 0, s.err
	}
	if n > len(s.outcomes) {
		return s.outcomes[len(s.outcomes)-1], nil
	}
	return s.outcomes[n-1], nil
}

func newInlinePool(p Processor) *Pool {
	return NewPool(p, 0, time.Millisecond, logger.NewNoOp())
}

func TestPoolStopsAfterConsecutiveExhaustion(t *testing.T) {
	processor := &scriptedProcessor{outcomes: []Outcome{OutcomeExhausted}}
	pool := newInlinePool(processor)

	err := pool.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(exhaustedRounds), processor.calls.Load())
}

func TestPoolProgressResetsExhaustionCount(t *testing.T) {
	processor := &scriptedProcessor{outcomes: []Outcome{
		OutcomeExhausted,
		OutcomeExhausted,
		OutcomeProcessed,
		OutcomeExhausted,
		OutcomeExhausted,
		OutcomeExhausted,
	}}
	pool := newInlinePool(processor)

	err := pool.Run(context.Background())
	require.NoError(t, err)

	// The processed cycle resets the streak, so all six cycles run.
	assert.Equal(t, int64(6), processor.calls.Load())
}

func TestPoolFatalErrorStopsAndPropagates(t *testing.T) {
	fatal := errors.New("store connection lost")
	processor := &scriptedProcessor{
		outcomes: []Outcome{OutcomeProcessed},
		err:      fatal,
		errAfter: 2,
	}
	pool := newInlinePool(processor)

	err := pool.Run(context.Background())
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, int64(3), processor.calls.Load())
}

func TestPoolFatalErrorStopsAllWorkers(t *testing.T) {
	fatal := errors.New("boom")
	processor := &scriptedProcessor{
		outcomes: []Outcome{OutcomeProcessed},
		err:      fatal,
		errAfter: 5,
	}
	pool := NewPool(processor, 1, time.Millisecond, logger.NewNoOp())

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, fatal)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after fatal error")
	}
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	processor := &scriptedProcessor{outcomes: []Outcome{OutcomeIdleFuture}}
	pool := NewPool(processor, 0.5, 10*time.Millisecond, logger.NewNoOp())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}

func TestPoolSize(t *testing.T) {
	procs := runtime.GOMAXPROCS(0)

	tests := []struct {
		name       string
		multiplier float64
		want       int
	}{
		{name: "inline", multiplier: 0, want: 1},
		{name: "full", multiplier: 1, want: procs},
		{name: "double", multiplier: 2, want: 2 * procs},
		{name: "fractional floors to at least one", multiplier: 0.001, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(&scriptedProcessor{}, tt.multiplier, 0, logger.NewNoOp())
			assert.Equal(t, tt.want, pool.Size())
		})
	}
}
