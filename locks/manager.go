// Package locks provides the per-feed mutual exclusion used by refresh jobs.
//
// Locks expire on their own: a worker that dies while holding one blocks the
// feed for at most the expiry window.
package locks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JerryLinyx/feedrefresh/metrics"
)

const (
	heldValue     = "held"
	releasedValue = "released"
	releaseTTL    = time.Second
)

var ErrNoLockKey = errors.New("feed has neither id nor url")

type Manager struct {
	cache     Cache
	keyFormat string
	expire    time.Duration
}

// NewManager returns a lock manager. keyFormat must contain exactly one %s,
// replaced by the feed identity.
func NewManager(cache Cache, keyFormat string, expire time.Duration) (*Manager, error) {
	if strings.Count(keyFormat, "%") != 1 || strings.Count(keyFormat, "%s") != 1 {
		return nil, fmt.Errorf("lock key format %q must contain exactly one %%s", keyFormat)
	}
	if expire <= 0 {
		return nil, fmt.Errorf("lock expiry must be positive, got %s", expire)
	}
	return &Manager{cache: cache, keyFormat: keyFormat, expire: expire}, nil
}

// Key returns the lock key of a feed. A non-zero id always wins; the URL is
// only used for feeds that have not been stored yet.
func (m *Manager) Key(feedID uint, feedURL string) (string, error) {
	var identity string
	switch {
	case feedID != 0:
		identity = strconv.FormatUint(uint64(feedID), 10)
	case strings.TrimSpace(feedURL) != "":
		identity = strings.TrimSpace(feedURL)
	default:
		return "", ErrNoLockKey
	}
	return fmt.Sprintf(m.keyFormat, identity), nil
}

// TryAcquire takes the lock unless it is held. It never blocks.
func (m *Manager) TryAcquire(ctx context.Context, key string) (bool, error) {
	acquired, err := m.cache.CASSet(ctx, key, heldValue, m.expire)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		metrics.LockContention.Inc()
	}
	return acquired, nil
}

// Release overwrites the lock with a short-lived sentinel.
func (m *Manager) Release(ctx context.Context, key string) error {
	if err := m.cache.Set(ctx, key, releasedValue, releaseTTL); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func (m *Manager) IsLocked(ctx context.Context, key string) (bool, error) {
	value, err := m.cache.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read lock %s: %w", key, err)
	}
	return value == heldValue, nil
}

// WithLock runs fn while holding key. It reports false without calling fn
// when the lock is held elsewhere. The lock is released on every return path.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (acquired bool, err error) {
	acquired, err = m.TryAcquire(ctx, key)
	if err != nil || !acquired {
		return acquired, err
	}

	defer func() {
		// the job context may be cancelled already, release regardless
		if rerr := m.Release(context.WithoutCancel(ctx), key); rerr != nil {
			log.WithField("key", key).WithError(rerr).Error("Failed to release feed lock")
			if err == nil {
				err = rerr
			}
		}
	}()

	return true, fn(ctx)
}
