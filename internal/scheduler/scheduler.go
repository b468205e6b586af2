// Package scheduler owns the set of jobs and dispatches due jobs to the
// executor. Jobs sit in a min-heap keyed by next-due time; the loop sleeps
// until the earliest deadline or a bounded tick, whichever comes first, so
// newly added jobs and shutdown are observed promptly without busy-waiting.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/script-exporter/internal/executor"
	"github.com/script-exporter/internal/registry"
)

// DefaultTick bounds how long the loop sleeps when no deadline is nearer.
const DefaultTick = time.Second

// DefaultMaxConcurrency caps the number of in-flight job executions.
const DefaultMaxConcurrency = 64

// Runner executes one job. Satisfied by *executor.Executor.
type Runner interface {
	Execute(ctx context.Context, job *executor.Job) ([]executor.Observation, error)
}

// entry is one scheduled job plus its next-due time. Only the scheduler
// mutates due.
type entry struct {
	job   *executor.Job
	due   time.Time
	index int
}

// jobHeap is a min-heap over entries keyed by due time.
type jobHeap []*entry

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *jobHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Options configures a Scheduler.
type Options struct {
	// Tick bounds the dispatch loop's sleep. Zero means DefaultTick.
	Tick time.Duration
	// MaxConcurrency caps in-flight executions. Zero means
	// DefaultMaxConcurrency.
	MaxConcurrency int
	// Clock drives time; tests inject a fake. Nil means the real clock.
	Clock clockwork.Clock
}

// Scheduler dispatches due jobs to the executor on a worker pool. Each due
// job runs independently; a blocked command never delays the dispatch loop
// or other jobs.
type Scheduler struct {
	mu    sync.Mutex
	jobs  jobHeap
	clock clockwork.Clock
	tick  time.Duration
	pool  *ants.Pool
	run   Runner
	reg   *registry.Registry
	log   *zap.Logger
	wg    sync.WaitGroup

	runsStarted   atomic.Uint64
	runsCompleted atomic.Uint64
}

// New creates a scheduler over the given jobs. Every job is due immediately
// at start, so all jobs execute once on the first due check.
func New(jobs []*executor.Job, run Runner, reg *registry.Registry, log *zap.Logger, opts Options) (*Scheduler, error) {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	// Nonblocking: a saturated pool skips the run instead of stalling the
	// dispatch loop.
	pool, err := ants.NewPool(opts.MaxConcurrency, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		clock: opts.Clock,
		tick:  opts.Tick,
		pool:  pool,
		run:   run,
		reg:   reg,
		log:   log,
	}
	now := s.clock.Now()
	for _, job := range jobs {
		heap.Push(&s.jobs, &entry{job: job, due: now})
	}
	return s, nil
}

// Add schedules one more job, due immediately. The bounded tick guarantees
// the loop notices it within one tick even while sleeping on a later
// deadline.
func (s *Scheduler) Add(job *executor.Job) {
	s.mu.Lock()
	heap.Push(&s.jobs, &entry{job: job, due: s.clock.Now()})
	s.mu.Unlock()
}

// JobCount returns the number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Len()
}

// RunsStarted returns the total number of dispatched executions.
func (s *Scheduler) RunsStarted() uint64 { return s.runsStarted.Load() }

// RunsCompleted returns the total number of finished executions.
func (s *Scheduler) RunsCompleted() uint64 { return s.runsCompleted.Load() }

// Run drives the dispatch loop until ctx is cancelled. Already-dispatched
// executions are not cancelled; call Stop after Run returns to wait for
// them.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started",
		zap.Int("jobs", s.JobCount()),
		zap.Duration("tick", s.tick),
		zap.Int("max_concurrency", s.pool.Cap()))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping, waiting for in-flight runs",
				zap.Uint64("runs_started", s.runsStarted.Load()))
			return
		case <-s.clock.After(s.sleepFor()):
		}
		s.dispatchDue()
	}
}

// Stop waits for in-flight executions to complete and releases the worker
// pool. Call after Run has returned.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	s.pool.Release()
	s.log.Info("scheduler stopped",
		zap.Uint64("runs_completed", s.runsCompleted.Load()))
}

// sleepFor returns the time until the earliest due job, capped by the
// bounded tick.
func (s *Scheduler) sleepFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.tick
	if s.jobs.Len() > 0 {
		if until := s.jobs[0].due.Sub(s.clock.Now()); until < d {
			d = until
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// dispatchDue pops every job whose due time has passed, hands each to the
// pool, and reschedules it as now+interval. Missed ticks are not caught up;
// at most one execution is queued per due check.
func (s *Scheduler) dispatchDue() {
	s.mu.Lock()
	now := s.clock.Now()
	var due []*executor.Job
	for s.jobs.Len() > 0 && !s.jobs[0].due.After(now) {
		e := heap.Pop(&s.jobs).(*entry)
		due = append(due, e.job)
		e.due = now.Add(e.job.Interval)
		heap.Push(&s.jobs, e)
	}
	s.mu.Unlock()

	for _, job := range due {
		s.dispatch(job)
	}
}

func (s *Scheduler) dispatch(job *executor.Job) {
	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		s.runJob(job)
	})
	if err != nil {
		s.wg.Done()
		s.log.Warn("worker pool saturated, skipping run",
			zap.String("job", job.Name),
			zap.Error(err))
		return
	}
	s.runsStarted.Add(1)
}

// runJob executes one job and writes its observations into the registry.
// All four error kinds are recovered here: logged, counted on the job's
// error series, and the run is skipped. Shutdown does not cancel the
// command; only the job's own timeout bounds it.
func (s *Scheduler) runJob(job *executor.Job) {
	defer s.runsCompleted.Add(1)

	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	s.log.Debug("executing job",
		zap.String("job", job.Name),
		zap.Strings("command", job.Command))

	obs, err := s.run.Execute(ctx, job)
	if err != nil {
		s.log.Warn("job execution failed",
			zap.String("job", job.Name),
			zap.String("metric", job.Metric),
			zap.Error(err))
		if regErr := s.reg.ObserveError(job.Metric, job.Help, job.Labels); regErr != nil {
			s.log.Error("recording execution error failed",
				zap.String("job", job.Name),
				zap.Error(regErr))
		}
		return
	}

	for _, o := range obs {
		set := job.Labels.WithComponent(o.Component)
		if err := s.reg.Observe(job.Metric, job.Help, job.Kind, set, o.Value); err != nil {
			s.log.Error("observation rejected",
				zap.String("job", job.Name),
				zap.String("metric", job.Metric),
				zap.String("component", o.Component),
				zap.Error(err))
		}
	}
}
