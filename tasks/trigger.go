package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Trigger calls fire on a fixed interval until stopped.
type Trigger struct {
	fire       func(ctx context.Context)
	runOnStart bool

	mu       sync.Mutex
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	resetCh  chan struct{}
	done     chan struct{}
	started  bool
}

func NewTrigger(interval time.Duration, runOnStart bool, fire func(ctx context.Context)) *Trigger {
	return &Trigger{fire: fire, runOnStart: runOnStart, interval: interval}
}

func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return errors.New("trigger already started")
	}
	if t.interval <= 0 {
		return errors.New("interval must be > 0")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.resetCh = make(chan struct{})
	t.done = make(chan struct{})
	t.started = true
	go t.loop()
	return nil
}

func (t *Trigger) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
}

// SetInterval restarts the wait with the new interval.
func (t *Trigger) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("interval must be > 0")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = d
	if t.started {
		close(t.resetCh)
		t.resetCh = make(chan struct{})
	}
	return nil
}

func (t *Trigger) CurrentInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

func (t *Trigger) loop() {
	defer close(t.done)

	if t.runOnStart {
		t.fire(t.ctx)
	}
	for {
		t.mu.Lock()
		interval := t.interval
		resetCh := t.resetCh
		t.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case <-resetCh:
			timer.Stop()
			log.WithField("interval", t.CurrentInterval()).Info("Refresh interval changed")
			continue
		case <-timer.C:
		}
		t.fire(t.ctx)
	}
}
