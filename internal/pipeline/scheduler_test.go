package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dq-engine/internal/logging"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type staticSources []uint

func (s staticSources) ActiveDataSourceIDs() ([]uint, error) { return s, nil }

type fakeTrigger struct {
	mu      sync.Mutex
	calls   map[uint]int
	release chan struct{}
	started chan uint
	result  func(id uint) (*RunResult, error)
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{
		calls: map[uint]int{},
		result: func(uint) (*RunResult, error) {
			return &RunResult{Status: RunSucceeded}, nil
		},
	}
}

func (f *fakeTrigger) RunPipeline(_ context.Context, id uint, _ time.Time, _ ...RunOption) (*RunResult, error) {
	f.mu.Lock()
	f.calls[id]++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- id
	}
	if f.release != nil {
		<-f.release
	}
	return f.result(id)
}

func TestScheduler_RejectsConcurrentRunForSameSource(t *testing.T) {
	trig := newFakeTrigger()
	trig.started = make(chan uint, 1)
	trig.release = make(chan struct{})
	s := NewScheduler(trig, staticSources{1}, 2, clockwork.NewFakeClockAt(day1), logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := s.RunPipeline(context.Background(), 1, day1)
		done <- err
	}()
	<-trig.started

	_, err := s.RunPipeline(context.Background(), 1, day1)
	require.ErrorIs(t, err, ErrRunInProgress)

	summary, err := s.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, TickSummary{Skipped: 1}, summary)

	close(trig.release)
	require.NoError(t, <-done)

	// the guard is released once the run returns
	trig.started = nil
	res, err := s.RunPipeline(context.Background(), 1, day1)
	require.NoError(t, err)
	require.Equal(t, RunSucceeded, res.Status)
}

func TestScheduler_RunAllCountsOutcomes(t *testing.T) {
	trig := newFakeTrigger()
	trig.result = func(id uint) (*RunResult, error) {
		switch id {
		case 2:
			return &RunResult{Status: RunFailed}, nil
		case 3:
			return nil, ErrDataSourceNotFound
		}
		return &RunResult{Status: RunSucceeded}, nil
	}
	s := NewScheduler(trig, staticSources{1, 2, 3, 4}, 2, clockwork.NewFakeClockAt(day1), logging.Discard())

	summary, err := s.RunAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, TickSummary{Started: 4, Succeeded: 2, Failed: 2}, summary)
	for _, id := range []uint{1, 2, 3, 4} {
		require.Equal(t, 1, trig.calls[id])
	}
}

type failingSources struct{}

func (failingSources) ActiveDataSourceIDs() ([]uint, error) { return nil, errors.New("db down") }

func TestScheduler_RunAllListError(t *testing.T) {
	s := NewScheduler(newFakeTrigger(), failingSources{}, 1, nil, logging.Discard())
	_, err := s.RunAll(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestScheduler_StartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(newFakeTrigger(), staticSources{}, 1, nil, logging.Discard())
	require.Error(t, s.Start("every tuesday"))

	require.NoError(t, s.Start("0 2 * * *"))
	<-s.Stop().Done()
}
