package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/JerryLinyx/feedrefresh/metrics"
	"github.com/JerryLinyx/feedrefresh/models"
)

const (
	JobRefreshFeed  = "feedimporter"
	JobRefreshSlice = "slice"
	JobRefreshAll   = "allrefresh"
)

type FeedSource interface {
	DueFeedIDs(ctx context.Context, threshold time.Time) ([]uint, error)
	DueFeedsBetween(ctx context.Context, threshold time.Time, firstID, lastID uint) ([]models.Feed, error)
}

type FeedRefresher interface {
	Refresh(ctx context.Context, ref models.FeedRef) (Outcome, error)
}

type JobDispatcher interface {
	Dispatch(job Job, delay time.Duration)
}

// Scheduler splits the due feeds into staggered slices so a cycle finishes
// inside the window before the next one starts.
type Scheduler struct {
	feeds        FeedSource
	refresher    FeedRefresher
	dispatcher   JobDispatcher
	mu           sync.RWMutex
	refreshEvery time.Duration
	iterations   int
	now          func() time.Time
}

func NewScheduler(feeds FeedSource, refresher FeedRefresher, dispatcher JobDispatcher, refreshEvery time.Duration, iterations int) *Scheduler {
	return &Scheduler{
		feeds:        feeds,
		refresher:    refresher,
		dispatcher:   dispatcher,
		refreshEvery: refreshEvery,
		iterations:   iterations,
		now:          time.Now,
	}
}

// CyclePlan describes what ScheduleCycle dispatched.
type CyclePlan struct {
	Total      int
	Window     time.Duration
	Step       time.Duration
	Size       int
	LegacySize int
	Slices     []*RefreshSliceJob
}

// SliceSize spreads total feeds over the given number of slices.
func SliceSize(total, iterations int) int {
	if total <= 0 || iterations <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(float64(total)/float64(iterations))))
}

// LegacySliceSize is ceil(window/iterations) * floor(total/window), window in
// seconds. It is zero whenever total is smaller than the window, so it is
// only reported, never used.
func LegacySliceSize(total int, window time.Duration, iterations int) int {
	seconds := window.Seconds()
	if seconds <= 0 || iterations <= 0 {
		return 0
	}
	return int(math.Ceil(seconds/float64(iterations)) * math.Floor(float64(total)/seconds))
}

// RefreshEvery is how long a refreshed feed stays fresh.
func (s *Scheduler) RefreshEvery() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshEvery
}

// SetRefreshEvery changes the refresh interval for the next cycle. Slices
// already dispatched keep the window they were planned with.
func (s *Scheduler) SetRefreshEvery(d time.Duration) error {
	if d <= 0 {
		return errors.New("refresh interval must be > 0")
	}
	s.mu.Lock()
	s.refreshEvery = d
	s.mu.Unlock()
	return nil
}

// Window is the part of the refresh interval a cycle may use, 80% of it.
func (s *Scheduler) Window() time.Duration {
	return s.RefreshEvery() * 4 / 5
}

func (s *Scheduler) threshold() time.Time {
	return s.now().Add(-s.RefreshEvery())
}

// ScheduleCycle dispatches one delayed slice job per non-empty slice of the
// due set. iterations <= 0 falls back to the configured value.
func (s *Scheduler) ScheduleCycle(ctx context.Context, iterations int) (*CyclePlan, error) {
	if iterations <= 0 {
		iterations = s.iterations
	}
	if iterations <= 0 {
		return nil, errors.New("iterations must be > 0")
	}

	ids, err := s.feeds.DueFeedIDs(ctx, s.threshold())
	if err != nil {
		return nil, fmt.Errorf("query due feeds: %w", err)
	}
	metrics.DueFeeds.Set(float64(len(ids)))

	window := s.Window()
	plan := &CyclePlan{
		Total:      len(ids),
		Window:     window,
		Step:       time.Duration(math.Ceil(window.Seconds()/float64(iterations))) * time.Second,
		Size:       SliceSize(len(ids), iterations),
		LegacySize: LegacySliceSize(len(ids), window, iterations),
	}

	logger := log.WithFields(log.Fields{
		"total":       plan.Total,
		"iterations":  iterations,
		"window":      plan.Window,
		"size":        plan.Size,
		"legacy_size": plan.LegacySize,
	})
	if plan.Total > 0 && plan.LegacySize*iterations < plan.Total {
		logger.Warn("Legacy slice size would leave due feeds unscheduled")
	}

	for i, chunk := range lo.Chunk(ids, plan.Size) {
		job := &RefreshSliceJob{
			Index:     i,
			Start:     i * plan.Size,
			Stop:      i*plan.Size + len(chunk),
			FirstID:   chunk[0],
			LastID:    chunk[len(chunk)-1],
			scheduler: s,
		}
		plan.Slices = append(plan.Slices, job)
		s.dispatcher.Dispatch(job, plan.Step*time.Duration(i))
	}

	logger.WithField("slices", len(plan.Slices)).Info("Scheduled refresh cycle")
	return plan, nil
}

// DispatchSlice queues a refresh job for every feed of the slice that is
// still due.
func (s *Scheduler) DispatchSlice(ctx context.Context, slice *RefreshSliceJob) (int, error) {
	feeds, err := s.feeds.DueFeedsBetween(ctx, s.threshold(), slice.FirstID, slice.LastID)
	if err != nil {
		return 0, fmt.Errorf("query slice %d: %w", slice.Index, err)
	}
	for i := range feeds {
		s.dispatcher.Dispatch(s.RefreshJob(feeds[i].Ref()), 0)
	}
	log.WithFields(log.Fields{
		"slice":      slice.Index,
		"start":      slice.Start,
		"stop":       slice.Stop,
		"dispatched": len(feeds),
	}).Info("Dispatched refresh slice")
	return len(feeds), nil
}

func (s *Scheduler) RefreshJob(ref models.FeedRef) *RefreshFeedJob {
	return &RefreshFeedJob{Ref: ref, refresher: s.refresher}
}

func (s *Scheduler) CycleJob(iterations int) *RefreshAllJob {
	return &RefreshAllJob{Iterations: iterations, scheduler: s}
}

// RefreshFeedJob refreshes one feed. A failed refresh is a job error, a
// skipped one is not.
type RefreshFeedJob struct {
	Ref       models.FeedRef
	refresher FeedRefresher
}

func (j *RefreshFeedJob) Name() string { return JobRefreshFeed }

func (j *RefreshFeedJob) Run(ctx context.Context) error {
	_, err := j.refresher.Refresh(ctx, j.Ref)
	return err
}

// RefreshSliceJob covers positions [Start, Stop) of the due set, which were
// the feeds FirstID..LastID when the cycle was planned.
type RefreshSliceJob struct {
	Index   int
	Start   int
	Stop    int
	FirstID uint
	LastID  uint

	scheduler *Scheduler
}

func (j *RefreshSliceJob) Name() string { return JobRefreshSlice }

func (j *RefreshSliceJob) Run(ctx context.Context) error {
	_, err := j.scheduler.DispatchSlice(ctx, j)
	return err
}

type RefreshAllJob struct {
	Iterations int
	scheduler  *Scheduler
}

func (j *RefreshAllJob) Name() string { return JobRefreshAll }

func (j *RefreshAllJob) Run(ctx context.Context) error {
	_, err := j.scheduler.ScheduleCycle(ctx, j.Iterations)
	return err
}
