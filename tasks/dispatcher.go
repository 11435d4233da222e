package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JerryLinyx/feedrefresh/metrics"
)

// Job is a unit of work run by the dispatcher's workers.
type Job interface {
	// Name is appended to the routing key prefix.
	Name() string
	Run(ctx context.Context) error
}

type envelope struct {
	routingKey string
	job        Job
}

// Dispatcher queues jobs, optionally after a delay, and runs them on a
// resizable pool of workers. Dispatch never blocks, so jobs can dispatch
// further jobs.
type Dispatcher struct {
	prefix string

	mu            sync.Mutex
	workers       int
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
	stopped       bool
	workerCancels []context.CancelFunc
	pending       []envelope
	ready         chan struct{}
	wg            sync.WaitGroup
}

func NewDispatcher(routingKeyPrefix string, workers int) *Dispatcher {
	return &Dispatcher{
		prefix:  routingKeyPrefix,
		workers: workers,
		ready:   make(chan struct{}, 1),
	}
}

func (d *Dispatcher) RoutingKey(job Job) string {
	if d.prefix == "" {
		return job.Name()
	}
	return d.prefix + "." + job.Name()
}

// Dispatch queues job to run once delay has elapsed.
func (d *Dispatcher) Dispatch(job Job, delay time.Duration) {
	env := envelope{routingKey: d.RoutingKey(job), job: job}
	if delay <= 0 {
		d.push(env)
		return
	}
	time.AfterFunc(delay, func() { d.push(env) })
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}
	if d.workers <= 0 {
		return fmt.Errorf("workers must be > 0, got %d", d.workers)
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.workerCancels = nil
	d.startWorkers(d.workers)
	d.started = true
	return nil
}

// Stop cancels running jobs, drops pending ones and waits for the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancel := d.cancel
	cancels := append([]context.CancelFunc(nil), d.workerCancels...)
	dropped := len(d.pending)
	d.pending = nil
	d.mu.Unlock()

	cancel()
	for _, c := range cancels {
		c()
	}
	d.wg.Wait()

	if dropped > 0 {
		log.WithField("dropped", dropped).Warn("Dispatcher stopped with pending jobs")
	}
}

func (d *Dispatcher) Resize(workers int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.workers == workers {
		return nil
	}
	if d.started && !d.stopped {
		if workers > d.workers {
			d.startWorkers(workers - d.workers)
		} else {
			delta := d.workers - workers
			for i := 0; i < delta && len(d.workerCancels) > 0; i++ {
				idx := len(d.workerCancels) - 1
				c := d.workerCancels[idx]
				d.workerCancels = d.workerCancels[:idx]
				c()
			}
		}
	}
	d.workers = workers
	return nil
}

func (d *Dispatcher) CurrentWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workers
}

// Pending returns the number of jobs ready to run but not picked up yet.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) startWorkers(count int) {
	for i := 0; i < count; i++ {
		wctx, cancel := context.WithCancel(d.ctx)
		d.workerCancels = append(d.workerCancels, cancel)
		d.wg.Add(1)
		go d.worker(wctx)
	}
}

func (d *Dispatcher) worker(wctx context.Context) {
	defer d.wg.Done()
	for {
		if wctx.Err() != nil {
			d.signal()
			return
		}
		if env, ok := d.pop(); ok {
			d.run(env)
			continue
		}
		select {
		case <-wctx.Done():
			d.signal()
			return
		case <-d.ready:
		}
	}
}

func (d *Dispatcher) push(env envelope) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		log.WithField("routing_key", env.routingKey).Debug("Dispatcher stopped, dropping job")
		return
	}
	d.pending = append(d.pending, env)
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) pop() (envelope, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return envelope{}, false
	}
	env := d.pending[0]
	d.pending[0] = envelope{}
	d.pending = d.pending[1:]
	if len(d.pending) > 0 {
		d.signal()
	}
	return env, true
}

// signal wakes one idle worker.
func (d *Dispatcher) signal() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(env envelope) {
	logger := log.WithField("routing_key", env.routingKey)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Job panicked")
			metrics.Jobs.WithLabelValues(env.routingKey, "panic").Inc()
		}
	}()

	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()

	if err := env.job.Run(ctx); err != nil {
		logger.WithError(err).Error("Job failed")
		metrics.Jobs.WithLabelValues(env.routingKey, "error").Inc()
		return
	}
	metrics.Jobs.WithLabelValues(env.routingKey, "ok").Inc()
}
