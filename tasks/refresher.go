package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JerryLinyx/feedrefresh/metrics"
	"github.com/JerryLinyx/feedrefresh/models"
	"github.com/JerryLinyx/feedrefresh/store"
)

type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomeSkipped means another worker holds the feed lock.
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (*models.FeedContent, error)
}

type FeedStore interface {
	SaveFeedContent(ctx context.Context, ref models.FeedRef, content *models.FeedContent, requestedAt time.Time) (*models.Feed, error)
	MarkRefreshed(ctx context.Context, feedID uint, at time.Time) error
}

type PostMerger interface {
	MergePost(ctx context.Context, feed *models.Feed, raw models.RawPost) (*models.Post, error)
}

type Locker interface {
	Key(feedID uint, feedURL string) (string, error)
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error)
}

// Refresher imports a single feed under its lock.
type Refresher struct {
	locks   Locker
	fetcher Fetcher
	feeds   FeedStore
	posts   PostMerger
	now     func() time.Time
}

func NewRefresher(locks Locker, fetcher Fetcher, feeds FeedStore, posts PostMerger) *Refresher {
	return &Refresher{
		locks:   locks,
		fetcher: fetcher,
		feeds:   feeds,
		posts:   posts,
		now:     time.Now,
	}
}

// Refresh fetches the feed and merges its posts. Failures leave the feed
// due for the next cycle.
func (r *Refresher) Refresh(ctx context.Context, ref models.FeedRef) (Outcome, error) {
	logger := log.WithFields(log.Fields{
		"feed_id":  ref.ID,
		"feed_url": ref.URL,
	})

	outcome, err := r.refresh(ctx, ref, logger)
	switch outcome {
	case OutcomeSkipped:
		logger.Info("Feed is already being imported by another process")
	case OutcomeFailed:
		logger.WithError(err).Error("Feed refresh failed")
	}
	metrics.FeedRefreshes.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (r *Refresher) refresh(ctx context.Context, ref models.FeedRef, logger *log.Entry) (Outcome, error) {
	if ref.URL == "" {
		return OutcomeFailed, errors.New("feed url cannot be empty")
	}
	key, err := r.locks.Key(ref.ID, ref.URL)
	if err != nil {
		return OutcomeFailed, err
	}

	logger.Info("Importing feed")
	acquired, err := r.locks.WithLock(ctx, key, func(ctx context.Context) error {
		return r.importFeed(ctx, ref, logger)
	})
	switch {
	case err != nil:
		return OutcomeFailed, err
	case !acquired:
		return OutcomeSkipped, nil
	}
	return OutcomeRefreshed, nil
}

func (r *Refresher) importFeed(ctx context.Context, ref models.FeedRef, logger *log.Entry) error {
	content, err := r.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return err
	}

	feed, err := r.feeds.SaveFeedContent(ctx, ref, content, r.now())
	if err != nil {
		return err
	}

	merged, skipped := 0, 0
	for _, raw := range content.Posts {
		if _, err := r.posts.MergePost(ctx, feed, raw); err != nil {
			if errors.Is(err, store.ErrInvalidPostData) {
				logger.WithError(err).WithField("link", raw.Link).Warn("Skipping post")
				skipped++
				continue
			}
			return fmt.Errorf("merge post %q: %w", raw.Title, err)
		}
		merged++
	}

	if err := r.feeds.MarkRefreshed(ctx, feed.ID, r.now()); err != nil {
		return err
	}

	logger.WithFields(log.Fields{
		"feed_id": feed.ID,
		"merged":  merged,
		"skipped": skipped,
	}).Info("Feed imported")
	return nil
}
