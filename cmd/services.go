package cmd

import (
	"context"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/JerryLinyx/feedrefresh/config"
	"github.com/JerryLinyx/feedrefresh/fetcher"
	"github.com/JerryLinyx/feedrefresh/locks"
	"github.com/JerryLinyx/feedrefresh/store"
	"github.com/JerryLinyx/feedrefresh/tasks"
)

// services holds the components shared by the serve and refresh commands.
type services struct {
	db         *gorm.DB
	redis      *redis.Client
	cache      *locks.RedisCache
	feeds      *store.FeedRepository
	posts      *store.PostMerger
	locks      *locks.Manager
	refresher  *tasks.Refresher
	dispatcher *tasks.Dispatcher
	scheduler  *tasks.Scheduler
}

func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	db, err := config.OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &services{db: db}

	s.redis, err = config.OpenRedis(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.cache = locks.NewRedisCache(s.redis)

	if s.feeds, err = store.NewFeedRepository(db); err != nil {
		s.Close()
		return nil, err
	}
	if s.posts, err = store.NewPostMerger(db, cfg.Refresh.PostLimit); err != nil {
		s.Close()
		return nil, err
	}
	if s.locks, err = locks.NewManager(s.cache, cfg.Lock.KeyFormat, cfg.LockExpire()); err != nil {
		s.Close()
		return nil, err
	}

	feedFetcher := fetcher.New(fetcher.Config{
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgent:    cfg.Fetch.UserAgent,
	})
	s.refresher = tasks.NewRefresher(s.locks, feedFetcher, s.feeds, s.posts)
	s.dispatcher = tasks.NewDispatcher(cfg.Refresh.RoutingKeyPrefix, cfg.Refresh.Workers)
	s.scheduler = tasks.NewScheduler(s.feeds, s.refresher, s.dispatcher, cfg.RefreshEvery(), cfg.Refresh.Iterations)
	return s, nil
}

func (s *services) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.WithError(err).Warn("Failed to close redis client")
		}
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.WithError(err).Warn("Failed to close database")
			}
		}
	}
}
