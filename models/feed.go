package models

import (
	"time"
)

// Feed defines an RSS/Atom source to refresh.
type Feed struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	FeedURL           string     `gorm:"size:200;uniqueIndex;not null" json:"feed_url"`
	Name              string     `gorm:"size:200" json:"name"`
	Title             string     `gorm:"size:200" json:"title"`
	Description       string     `gorm:"type:text" json:"description"`
	Link              string     `gorm:"size:200" json:"link"`
	Active            bool       `gorm:"default:true" json:"active"`
	SortOrder         int        `gorm:"default:0" json:"sort_order"`
	DateLastRefresh   *time.Time `gorm:"index" json:"date_last_refresh"`
	DateLastRequested *time.Time `json:"date_last_requested"`
	Categories        []Category `gorm:"many2many:feed_categories" json:"categories,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Category is feed metadata shared between feeds.
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null;uniqueIndex:idx_categories_name_domain" json:"name"`
	Domain    string    `gorm:"size:128;uniqueIndex:idx_categories_name_domain" json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedRef identifies a feed for a refresh job. ID is zero for feeds that
// have not been persisted yet.
type FeedRef struct {
	ID  uint   `json:"id"`
	URL string `json:"url"`
}

// Ref returns the job reference for a stored feed.
func (f *Feed) Ref() FeedRef {
	return FeedRef{ID: f.ID, URL: f.FeedURL}
}

// IsDue reports whether the feed was last refreshed before threshold.
func (f *Feed) IsDue(threshold time.Time) bool {
	return f.DateLastRefresh == nil || f.DateLastRefresh.Before(threshold)
}
