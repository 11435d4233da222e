package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/JerryLinyx/feedrefresh/models"
	"github.com/JerryLinyx/feedrefresh/store"
	"github.com/JerryLinyx/feedrefresh/tasks"
)

const postsCacheTTL = time.Minute

type FeedRepository interface {
	ListFeeds(ctx context.Context) ([]models.Feed, error)
	GetFeed(ctx context.Context, id uint) (*models.Feed, error)
	AddFeed(ctx context.Context, feedURL, name string) (*models.Feed, bool, error)
}

type PostReader interface {
	LatestPosts(ctx context.Context, feedID uint, limit int) ([]models.Post, error)
}

type LockInspector interface {
	Key(feedID uint, feedURL string) (string, error)
	IsLocked(ctx context.Context, key string) (bool, error)
}

type JobFactory interface {
	RefreshJob(ref models.FeedRef) *tasks.RefreshFeedJob
	CycleJob(iterations int) *tasks.RefreshAllJob
	RefreshEvery() time.Duration
	SetRefreshEvery(d time.Duration) error
}

type WorkerPool interface {
	Dispatch(job tasks.Job, delay time.Duration)
	RoutingKey(job tasks.Job) string
	Resize(workers int) error
	CurrentWorkers() int
}

type IntervalTrigger interface {
	SetInterval(d time.Duration) error
	CurrentInterval() time.Duration
}

// Cache stores rendered post listings. Get returns "" on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type FeedController struct {
	Feeds     FeedRepository
	Posts     PostReader
	Locks     LockInspector
	Jobs      JobFactory
	Pool      WorkerPool
	Trigger   IntervalTrigger
	Cache     Cache
	PostLimit int
}

type feedView struct {
	models.Feed
	Due    bool `json:"due"`
	Locked bool `json:"locked"`
}

func (fc *FeedController) ListFeeds(c *gin.Context) {
	ctx := c.Request.Context()
	feeds, err := fc.Feeds.ListFeeds(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	threshold := time.Now().Add(-fc.Jobs.RefreshEvery())
	views := make([]feedView, 0, len(feeds))
	for i := range feeds {
		view := feedView{Feed: feeds[i], Due: feeds[i].IsDue(threshold)}
		if key, err := fc.Locks.Key(feeds[i].ID, feeds[i].FeedURL); err == nil {
			locked, err := fc.Locks.IsLocked(ctx, key)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			view.Locked = locked
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

type createFeedRequest struct {
	URL  string `json:"url" binding:"required,url"`
	Name string `json:"name"`
}

func (fc *FeedController) CreateFeed(c *gin.Context) {
	var req createFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	feed, created, err := fc.Feeds.AddFeed(c.Request.Context(), req.URL, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, feed)
}

func (fc *FeedController) GetFeedPosts(c *gin.Context) {
	feed, ok := fc.lookupFeed(c)
	if !ok {
		return
	}

	limit := fc.PostLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("feedrefresh.posts.%d.%d", feed.ID, limit)
	if fc.Cache != nil {
		if cached, err := fc.Cache.Get(ctx, cacheKey); err == nil && cached != "" {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			return
		} else if err != nil {
			log.WithError(err).WithField("key", cacheKey).Warn("Post cache unavailable")
		}
	}

	posts, err := fc.Posts.LatestPosts(ctx, feed.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	postsJSON, err := json.Marshal(posts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fc.Cache != nil {
		if err := fc.Cache.Set(ctx, cacheKey, string(postsJSON), postsCacheTTL); err != nil {
			log.WithError(err).WithField("key", cacheKey).Warn("Failed to cache posts")
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", postsJSON)
}

func (fc *FeedController) RefreshFeed(c *gin.Context) {
	feed, ok := fc.lookupFeed(c)
	if !ok {
		return
	}

	job := fc.Jobs.RefreshJob(feed.Ref())
	fc.Pool.Dispatch(job, 0)
	c.JSON(http.StatusAccepted, gin.H{
		"routing_key": fc.Pool.RoutingKey(job),
		"feed":        job.Ref,
	})
}

func (fc *FeedController) RefreshAll(c *gin.Context) {
	iterations := 0
	if raw := c.Query("iterations"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "iterations must be a positive integer"})
			return
		}
		iterations = n
	}

	job := fc.Jobs.CycleJob(iterations)
	fc.Pool.Dispatch(job, 0)
	c.JSON(http.StatusAccepted, gin.H{
		"routing_key": fc.Pool.RoutingKey(job),
		"iterations":  iterations,
	})
}

type schedulerSettings struct {
	Workers         int `json:"workers"`
	IntervalSeconds int `json:"interval_seconds"`
}

func (fc *FeedController) GetScheduler(c *gin.Context) {
	c.JSON(http.StatusOK, fc.schedulerSettings())
}

func (fc *FeedController) UpdateScheduler(c *gin.Context) {
	var req schedulerSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Workers < 0 || req.IntervalSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workers and interval_seconds must not be negative"})
		return
	}

	if req.Workers > 0 {
		if err := fc.Pool.Resize(req.Workers); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	// the trigger period and the due threshold move together
	if req.IntervalSeconds > 0 {
		interval := time.Duration(req.IntervalSeconds) * time.Second
		if err := fc.Jobs.SetRefreshEvery(interval); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := fc.Trigger.SetInterval(interval); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	settings := fc.schedulerSettings()
	log.WithFields(log.Fields{
		"workers":  settings.Workers,
		"interval": settings.IntervalSeconds,
	}).Info("Scheduler settings updated")
	c.JSON(http.StatusOK, settings)
}

func (fc *FeedController) schedulerSettings() schedulerSettings {
	return schedulerSettings{
		Workers:         fc.Pool.CurrentWorkers(),
		IntervalSeconds: int(fc.Trigger.CurrentInterval() / time.Second),
	}
}

func (fc *FeedController) lookupFeed(c *gin.Context) (*models.Feed, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feed id"})
		return nil, false
	}
	feed, err := fc.Feeds.GetFeed(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrFeedNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return feed, true
}
