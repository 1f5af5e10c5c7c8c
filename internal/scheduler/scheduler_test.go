package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elonfeng/demandcast/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRunner struct {
	calls atomic.Int32
	mode  atomic.Value
	fail  bool
}

func (r *countingRunner) Run(_ context.Context, mode pipeline.Mode) (*pipeline.Report, error) {
	r.calls.Add(1)
	r.mode.Store(mode)
	if r.fail {
		return nil, errors.New("boom")
	}
	return &pipeline.Report{Mode: mode}, nil
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	r := &countingRunner{}
	s := New(r, pipeline.ModeRetrain, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, pipeline.ModeRetrain, r.mode.Load())
}

func TestScheduler_SurvivesFailures(t *testing.T) {
	r := &countingRunner{fail: true}
	s := New(r, "", 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, pipeline.ModePredict, r.mode.Load())
}

func TestNew_Defaults(t *testing.T) {
	s := New(&countingRunner{}, "", 0, zap.NewNop())
	assert.Equal(t, 24*time.Hour, s.interval)
	assert.Equal(t, pipeline.ModePredict, s.mode)
}
