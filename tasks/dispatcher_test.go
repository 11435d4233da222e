package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JerryLinyx/feedrefresh/metrics"
)

// funcJob adapts a function to Job.
type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

func startDispatcher(t *testing.T, prefix string, workers int) *Dispatcher {
	t.Helper()
	d := NewDispatcher(prefix, workers)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)
	return d
}

func TestRoutingKey(t *testing.T) {
	job := funcJob{name: JobRefreshFeed}
	assert.Equal(t, "feedrefresh.feedimporter", NewDispatcher("feedrefresh", 1).RoutingKey(job))
	assert.Equal(t, "feedimporter", NewDispatcher("", 1).RoutingKey(job))
}

func TestDispatcherStartValidates(t *testing.T) {
	assert.Error(t, NewDispatcher("x", 0).Start(context.Background()))

	d := startDispatcher(t, "x", 1)
	assert.Error(t, d.Start(context.Background()), "second start")
}

func TestDispatcherRunsJobs(t *testing.T) {
	d := startDispatcher(t, "test.run", 3)

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		d.Dispatch(funcJob{name: "count", fn: func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}}, 0)
	}
	wg.Wait()

	assert.Equal(t, int32(50), ran.Load())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Jobs.WithLabelValues("test.run.count", "ok")) == 50
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherDelaysJobs(t *testing.T) {
	d := startDispatcher(t, "test.delay", 1)

	start := time.Now()
	done := make(chan time.Time, 1)
	d.Dispatch(funcJob{name: "late", fn: func(context.Context) error {
		done <- time.Now()
		return nil
	}}, 100*time.Millisecond)

	select {
	case at := <-done:
		assert.GreaterOrEqual(t, at.Sub(start), 100*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed job never ran")
	}
}

func TestDispatcherSurvivesFailingJobs(t *testing.T) {
	d := startDispatcher(t, "test.fail", 1)

	d.Dispatch(funcJob{name: "error", fn: func(context.Context) error { return errors.New("boom") }}, 0)
	d.Dispatch(funcJob{name: "panic", fn: func(context.Context) error { panic("boom") }}, 0)

	done := make(chan struct{})
	d.Dispatch(funcJob{name: "after", fn: func(context.Context) error {
		close(done)
		return nil
	}}, 0)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after a failing job")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Jobs.WithLabelValues("test.fail.error", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Jobs.WithLabelValues("test.fail.panic", "panic")))
}

// A job that dispatches more jobs must not deadlock a single worker.
func TestDispatcherNestedDispatch(t *testing.T) {
	d := startDispatcher(t, "test.nested", 1)

	var ran atomic.Int32
	done := make(chan struct{})
	d.Dispatch(funcJob{name: "parent", fn: func(context.Context) error {
		for i := 0; i < 10; i++ {
			d.Dispatch(funcJob{name: "child", fn: func(context.Context) error {
				if ran.Add(1) == 10 {
					close(done)
				}
				return nil
			}}, 0)
		}
		return nil
	}}, 0)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d of 10 child jobs ran", ran.Load())
	}
}

func TestDispatcherResize(t *testing.T) {
	d := startDispatcher(t, "test.resize", 1)
	assert.Error(t, d.Resize(0))

	require.NoError(t, d.Resize(4))
	assert.Equal(t, 4, d.CurrentWorkers())

	// four jobs that wait for each other only finish with four workers
	var barrier sync.WaitGroup
	barrier.Add(4)
	finished := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		d.Dispatch(funcJob{name: "barrier", fn: func(context.Context) error {
			barrier.Done()
			barrier.Wait()
			finished <- struct{}{}
			return nil
		}}, 0)
	}
	for i := 0; i < 4; i++ {
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("resized pool did not run jobs concurrently")
		}
	}

	require.NoError(t, d.Resize(2))
	assert.Equal(t, 2, d.CurrentWorkers())

	done := make(chan struct{})
	d.Dispatch(funcJob{name: "after", fn: func(context.Context) error {
		close(done)
		return nil
	}}, 0)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shrunk pool stopped running jobs")
	}
}

func TestDispatcherStopDropsPending(t *testing.T) {
	d := NewDispatcher("test.stop", 1)
	require.NoError(t, d.Start(context.Background()))

	release := make(chan struct{})
	started := make(chan struct{})
	var cancelled atomic.Bool
	d.Dispatch(funcJob{name: "blocker", fn: func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-release:
		}
		return nil
	}}, 0)
	<-started

	var ranLate atomic.Bool
	for i := 0; i < 3; i++ {
		d.Dispatch(funcJob{name: "queued", fn: func(context.Context) error {
			ranLate.Store(true)
			return nil
		}}, 0)
	}
	assert.Equal(t, 3, d.Pending())

	d.Stop()
	close(release)

	assert.True(t, cancelled.Load(), "running job sees cancellation")
	assert.False(t, ranLate.Load())
	assert.Zero(t, d.Pending())

	d.Dispatch(funcJob{name: "queued", fn: func(context.Context) error { return nil }}, 0)
	assert.Zero(t, d.Pending(), "dispatch after stop is dropped")
}
