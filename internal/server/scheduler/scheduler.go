// Package scheduler runs the background reconciliation jobs: periodically on
// a fixed interval and on demand through Schedule. Runs sharing a dedup key
// never overlap, and every run is bounded by the job timeout.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/natskeeper/internal/logging"
	"github.com/dmitrijs2005/natskeeper/internal/metrics"
)

var ErrUnknownJob = errors.New("unknown job")

// JobFunc is one job execution. ctx carries the job's time budget.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	run      JobFunc
	periodic bool
}

type request struct {
	job   *job
	key   string
	runAt time.Time
}

// Options configure a Scheduler. Zero values fall back to 5s and 300s.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   logging.Logger

	mu   sync.Mutex
	jobs map[string]*job

	requests chan request
	group    singleflight.Group
	wg       sync.WaitGroup
}

func New(opts Options, m *metrics.Metrics, logger logging.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	return &Scheduler{
		interval: opts.Interval,
		timeout:  opts.Timeout,
		metrics:  m,
		logger:   logging.ForModule(logger, "scheduler"),
		jobs:     map[string]*job{},
		requests: make(chan request, 64),
	}
}

// Register adds a job. Periodic jobs are also started on every tick, with
// their name as dedup key.
func (s *Scheduler) Register(name string, run JobFunc, periodic bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, run: run, periodic: periodic}
}

// Schedule queues one run of taskName at runAt. A run whose dedupKey is
// already in flight is dropped. Schedule does not block: when the queue is
// full the request is dropped and the next tick picks the work up.
func (s *Scheduler) Schedule(taskName, dedupKey string, runAt time.Time) error {
	s.mu.Lock()
	j, ok := s.jobs[taskName]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, taskName)
	}
	if dedupKey == "" {
		dedupKey = taskName
	}

	select {
	case s.requests <- request{job: j, key: dedupKey, runAt: runAt}:
		return nil
	default:
		s.logger.Warn(context.Background(), "scheduler queue full, request dropped", "job", taskName)
		return nil
	}
}

// Run processes ticks and queued requests until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "scheduler started", "interval", s.interval.String(), "timeout", s.timeout.String())
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopping")
			return nil
		case <-ticker.C:
			for _, j := range s.periodic() {
				s.trigger(ctx, j, j.name)
			}
		case req := <-s.requests:
			if d := time.Until(req.runAt); d > 0 {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					t := time.NewTimer(d)
					defer t.Stop()
					select {
					case <-ctx.Done():
					case <-t.C:
						s.trigger(ctx, req.job, req.key)
					}
				}()
				continue
			}
			s.trigger(ctx, req.job, req.key)
		}
	}
}

func (s *Scheduler) periodic() []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job
	for _, j := range s.jobs {
		if j.periodic {
			out = append(out, j)
		}
	}
	return out
}

func (s *Scheduler) trigger(ctx context.Context, j *job, key string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		leader := false
		_, _, _ = s.group.Do(key, func() (any, error) {
			leader = true
			return nil, s.execute(ctx, j)
		})
		if !leader {
			s.metrics.RecordJobDeduplicated(j.name)
			s.logger.Debug(ctx, "job already running, trigger dropped", "job", j.name, "key", key)
		}
	}()
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	err := j.run(ctx)
	s.metrics.RecordJobRun(j.name, err)
	if err != nil {
		s.logger.Error(ctx, "job failed", "job", j.name, "duration", time.Since(started).String(), "error", err)
		return err
	}
	s.logger.Debug(ctx, "job finished", "job", j.name, "duration", time.Since(started).String())
	return nil
}
