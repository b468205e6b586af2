package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/script-exporter/internal/executor"
	"github.com/script-exporter/internal/labels"
	"github.com/script-exporter/internal/registry"
)

// recordingRunner reports each executed job on a channel instead of running
// a real command.
type recordingRunner struct {
	ch  chan string
	obs []executor.Observation
	err error
}

func (r *recordingRunner) Execute(_ context.Context, job *executor.Job) ([]executor.Observation, error) {
	r.ch <- job.Name
	return r.obs, r.err
}

func newJob(name string, interval time.Duration) *executor.Job {
	return &executor.Job{
		Name:     name,
		Command:  []string{"true"},
		Interval: interval,
		Metric:   name + "_metric",
		Help:     "h",
		Kind:     registry.KindGauge,
		Labels:   labels.Resolve(nil, nil, executor.MainComponent),
	}
}

func drainRuns(t *testing.T, ch chan string, n int) map[string]int {
	t.Helper()
	got := make(map[string]int)
	for i := 0; i < n; i++ {
		select {
		case name := <-ch:
			got[name]++
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for run %d of %d, got %v", i+1, n, got)
		}
	}
	return got
}

func TestDispatchIntervals(t *testing.T) {
	fc := clockwork.NewFakeClock()
	runner := &recordingRunner{ch: make(chan string, 16)}
	reg := registry.New()

	jobs := []*executor.Job{
		newJob("fast", 30*time.Second),
		newJob("slow", 60*time.Second),
	}
	s, err := New(jobs, runner, reg, zap.NewNop(), Options{Clock: fc})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// both jobs are due at start
	fc.BlockUntil(1)
	fc.Advance(time.Millisecond)
	got := drainRuns(t, runner.ch, 2)
	assert.Equal(t, map[string]int{"fast": 1, "slow": 1}, got)

	// at +30s only the 30s job runs again
	fc.BlockUntil(1)
	fc.Advance(30 * time.Second)
	got = drainRuns(t, runner.ch, 1)
	assert.Equal(t, map[string]int{"fast": 1}, got)

	// no extra runs are pending
	select {
	case name := <-runner.ch:
		t.Fatalf("unexpected extra run of %q", name)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	<-done
	s.Stop()
	assert.Equal(t, uint64(3), s.RunsStarted())
}

func TestRunJobWritesObservations(t *testing.T) {
	reg := registry.New()
	runner := &recordingRunner{
		ch: make(chan string, 1),
		obs: []executor.Observation{
			{Component: "DB", Value: 1},
			{Component: "health", Value: 200},
		},
	}
	s, err := New(nil, runner, reg, zap.NewNop(), Options{})
	require.NoError(t, err)
	defer s.Stop()

	job := newJob("multi", 30*time.Second)
	s.runJob(job)
	<-runner.ch

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "multi_metric", snap[0].Name)
	assert.Len(t, snap[0].Samples, 2)
}

func TestRunJobRecordsErrorCounter(t *testing.T) {
	reg := registry.New()
	runner := &recordingRunner{
		ch: make(chan string, 2),
		err: &executor.Error{
			Kind: executor.KindExit,
			Job:  "failing",
			Err:  errors.New("exit status 1"),
		},
	}
	s, err := New(nil, runner, reg, zap.NewNop(), Options{})
	require.NoError(t, err)
	defer s.Stop()

	job := newJob("failing", 30*time.Second)
	s.runJob(job)
	s.runJob(job)

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "failing_metric_errors_total", snap[0].Name)
	assert.Equal(t, registry.KindCounter, snap[0].Kind)
	assert.Equal(t, 2.0, snap[0].Samples[0].Value)
}

func TestRunJobFailureLeavesPriorValue(t *testing.T) {
	reg := registry.New()
	job := newJob("flaky", 30*time.Second)

	ok := &recordingRunner{
		ch:  make(chan string, 1),
		obs: []executor.Observation{{Component: "main", Value: 42}},
	}
	s, err := New(nil, ok, reg, zap.NewNop(), Options{})
	require.NoError(t, err)
	s.runJob(job)
	s.Stop()

	failing := &recordingRunner{
		ch:  make(chan string, 1),
		err: &executor.Error{Kind: executor.KindParse, Job: "flaky", Err: errors.New("bad output")},
	}
	s2, err := New(nil, failing, reg, zap.NewNop(), Options{})
	require.NoError(t, err)
	s2.runJob(job)
	s2.Stop()

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "flaky_metric", snap[0].Name)
	assert.Equal(t, 42.0, snap[0].Samples[0].Value)
	assert.Equal(t, "flaky_metric_errors_total", snap[1].Name)
}

func TestSaturatedPoolSkipsRun(t *testing.T) {
	reg := registry.New()
	block := make(chan struct{})
	runner := &blockingRunner{started: make(chan struct{}), block: block}

	s, err := New(nil, runner, reg, zap.NewNop(), Options{MaxConcurrency: 1})
	require.NoError(t, err)

	job := newJob("busy", 30*time.Second)
	s.dispatch(job)
	runner.wait()
	s.dispatch(job) // pool full, skipped

	assert.Equal(t, uint64(1), s.RunsStarted())

	close(block)
	s.Stop()
	assert.Equal(t, uint64(1), s.RunsCompleted())
}

type blockingRunner struct {
	started chan struct{}
	block   chan struct{}
}

func (r *blockingRunner) Execute(context.Context, *executor.Job) ([]executor.Observation, error) {
	if r.started != nil {
		close(r.started)
	}
	<-r.block
	return nil, nil
}

func (r *blockingRunner) wait() {
	if r.started != nil {
		<-r.started
	}
}

func TestAddJobIsPickedUp(t *testing.T) {
	fc := clockwork.NewFakeClock()
	runner := &recordingRunner{ch: make(chan string, 4)}
	s, err := New(nil, runner, registry.New(), zap.NewNop(), Options{Clock: fc})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	fc.BlockUntil(1)
	s.Add(newJob("late", time.Minute))
	fc.Advance(DefaultTick)

	got := drainRuns(t, runner.ch, 1)
	assert.Equal(t, map[string]int{"late": 1}, got)

	cancel()
	<-done
	s.Stop()
}
