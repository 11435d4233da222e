package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/JerryLinyx/feedrefresh/models"
)

var ErrFeedNotFound = errors.New("feed not found")

const dueCondition = "active = ? AND (date_last_refresh IS NULL OR date_last_refresh < ?)"

// FeedRepository reads and writes feeds and their categories.
type FeedRepository struct {
	db         *gorm.DB
	feeds      *GormStore[models.Feed]
	categories *GormStore[models.Category]
}

func NewFeedRepository(db *gorm.DB) (*FeedRepository, error) {
	feeds, err := NewGormStore[models.Feed](db)
	if err != nil {
		return nil, err
	}
	categories, err := NewGormStore[models.Category](db)
	if err != nil {
		return nil, err
	}
	return &FeedRepository{db: db, feeds: feeds, categories: categories}, nil
}

// DueFeedIDs returns the ids of active feeds not refreshed since threshold,
// in primary key order.
func (r *FeedRepository) DueFeedIDs(ctx context.Context, threshold time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Feed{}).
		Where(dueCondition, true, threshold).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}
	return ids, nil
}

// DueFeedsBetween returns the due feeds with firstID <= id <= lastID.
func (r *FeedRepository) DueFeedsBetween(ctx context.Context, threshold time.Time, firstID, lastID uint) ([]models.Feed, error) {
	var feeds []models.Feed
	err := r.db.WithContext(ctx).
		Where(dueCondition, true, threshold).
		Where("id BETWEEN ? AND ?", firstID, lastID).
		Order("id").
		Find(&feeds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}
	return feeds, nil
}

func (r *FeedRepository) GetFeed(ctx context.Context, id uint) (*models.Feed, error) {
	var feed models.Feed
	err := r.db.WithContext(ctx).Preload("Categories").First(&feed, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrFeedNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return &feed, nil
}

func (r *FeedRepository) ListFeeds(ctx context.Context) ([]models.Feed, error) {
	var feeds []models.Feed
	if err := r.db.WithContext(ctx).Order("sort_order").Order("id").Find(&feeds).Error; err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return feeds, nil
}

// AddFeed registers a feed by URL. An existing feed keeps its name unless a
// new one is given.
func (r *FeedRepository) AddFeed(ctx context.Context, feedURL, name string) (*models.Feed, bool, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, false, errors.New("feed url cannot be empty")
	}

	defaults := models.Fields{}
	if name != "" {
		defaults["name"] = name
	}
	return Upsert(ctx, r.feeds, models.Fields{"feed_url": feedURL}, defaults)
}

// SaveFeedContent applies fetched feed metadata and categories to the feed
// identified by ref. Feeds without an id are found or created by URL.
func (r *FeedRepository) SaveFeedContent(ctx context.Context, ref models.FeedRef, content *models.FeedContent, requestedAt time.Time) (*models.Feed, error) {
	fields := TruncateFields(content.Fields(), r.feeds.FieldSizes())
	fields["date_last_requested"] = requestedAt

	var feed *models.Feed
	if ref.ID != 0 {
		found, err := r.GetFeed(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if err := r.feeds.Update(ctx, found, fields); err != nil {
			return nil, fmt.Errorf("failed to update feed: %w", err)
		}
		feed = found
	} else {
		upserted, _, err := Upsert(ctx, r.feeds, models.Fields{"feed_url": strings.TrimSpace(ref.URL)}, fields)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert feed: %w", err)
		}
		feed = upserted
	}

	if len(content.Categories) == 0 {
		return feed, nil
	}

	sizes := r.categories.FieldSizes()
	categories := make([]*models.Category, 0, len(content.Categories))
	for _, c := range content.Categories {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		match := TruncateFields(models.Fields{"name": strings.TrimSpace(c.Name), "domain": c.Domain}, sizes)
		category, _, err := Upsert(ctx, r.categories, match, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert category %q: %w", c.Name, err)
		}
		categories = append(categories, category)
	}
	if len(categories) > 0 {
		if err := r.db.WithContext(ctx).Model(feed).Association("Categories").Append(categories); err != nil {
			return nil, fmt.Errorf("failed to associate categories: %w", err)
		}
	}

	return feed, nil
}

// MarkRefreshed records a successful refresh, taking the feed out of the due set.
func (r *FeedRepository) MarkRefreshed(ctx context.Context, feedID uint, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Feed{}).
		Where("id = ?", feedID).
		Update("date_last_refresh", at).Error
	if err != nil {
		return fmt.Errorf("failed to mark feed %d refreshed: %w", feedID, err)
	}
	return nil
}
