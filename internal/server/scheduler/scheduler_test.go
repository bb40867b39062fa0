package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/natskeeper/internal/logging"
	"github.com/dmitrijs2005/natskeeper/internal/metrics"
)

// counterValue sums the samples of a counter family matching labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func start(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSchedule_UnknownJob(t *testing.T) {
	s := New(Options{}, nil, logging.Nop())

	err := s.Schedule("nats||missing", "", time.Now())
	assert.True(t, errors.Is(err, ErrUnknownJob))
}

func TestSchedule_RunsOnce(t *testing.T) {
	s := New(Options{Interval: time.Hour}, nil, logging.Nop())
	ran := make(chan struct{}, 4)
	s.Register("nats||sync_info", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, false)
	start(t, s)

	require.NoError(t, s.Schedule("nats||sync_info", "nats||sync_info", time.Now()))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	select {
	case <-ran:
		t.Fatal("job ran twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedule_Delayed(t *testing.T) {
	s := New(Options{Interval: time.Hour}, nil, logging.Nop())
	ran := make(chan time.Time, 1)
	s.Register("job", func(context.Context) error {
		ran <- time.Now()
		return nil
	}, false)
	start(t, s)

	runAt := time.Now().Add(100 * time.Millisecond)
	require.NoError(t, s.Schedule("job", "", runAt))

	select {
	case at := <-ran:
		assert.False(t, at.Before(runAt))
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestPeriodicJobs(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, nil, logging.Nop())
	var periodic, oneOff atomic.Int32
	s.Register("nats||sync_accounts", func(context.Context) error {
		periodic.Add(1)
		return nil
	}, true)
	s.Register("nats||sync_info", func(context.Context) error {
		oneOff.Add(1)
		return nil
	}, false)
	start(t, s)

	require.Eventually(t, func() bool { return periodic.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, oneOff.Load())
}

func TestSchedule_DeduplicatesInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(Options{Interval: time.Hour}, metrics.New(reg), logging.Nop())

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var runs atomic.Int32
	s.Register("nats||process_revoke_requests", func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}, false)
	start(t, s)

	const key = "nats||process_revoke_requests"
	require.NoError(t, s.Schedule(key, key, time.Now()))
	<-started

	require.NoError(t, s.Schedule(key, key, time.Now()))
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "natskeeper_scheduler_job_deduplicated_total", map[string]string{"job": key}) == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "natskeeper_scheduler_job_runs_total", map[string]string{"job": key, "result": metrics.ResultSuccess}) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestJobTimeout(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(Options{Interval: time.Hour, Timeout: 20 * time.Millisecond}, metrics.New(reg), logging.Nop())

	s.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, false)
	start(t, s)

	require.NoError(t, s.Schedule("slow", "", time.Now()))
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "natskeeper_scheduler_job_runs_total", map[string]string{"job": "slow", "result": metrics.ResultFailure}) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRun_WaitsForRunningJobs(t *testing.T) {
	s := New(Options{Interval: time.Hour}, nil, logging.Nop())
	started := make(chan struct{})
	var finished atomic.Bool
	s.Register("job", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	require.NoError(t, s.Schedule("job", "", time.Now()))
	<-started
	cancel()
	<-done
	assert.True(t, finished.Load())
}
