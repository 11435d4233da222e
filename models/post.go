package models

import (
	"time"
)

// Post is a single entry of a feed. GUID is unique per feed when present;
// otherwise (title, date_published, feed) is only a heuristic key.
type Post struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	FeedID        uint      `gorm:"not null;uniqueIndex:idx_posts_guid_feed,where:guid <> '';index:idx_posts_title_date_feed,priority:3" json:"feed_id"`
	GUID          string    `gorm:"column:guid;size:200;uniqueIndex:idx_posts_guid_feed,where:guid <> ''" json:"guid"`
	Title         string    `gorm:"size:200;index:idx_posts_title_date_feed,priority:1" json:"title"`
	Link          string    `gorm:"size:200" json:"link"`
	Author        string    `gorm:"size:50" json:"author"`
	Content       string    `gorm:"type:text" json:"content"`
	DatePublished time.Time `gorm:"index:idx_posts_title_date_feed,priority:2" json:"date_published"`
	DateUpdated   time.Time `json:"date_updated"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Enclosure is a media attachment of a post.
type Enclosure struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	PostID uint   `gorm:"not null;uniqueIndex:idx_enclosures_post_url" json:"post_id"`
	URL    string `gorm:"column:url;size:200;not null;uniqueIndex:idx_enclosures_post_url" json:"url"`
	Type   string `gorm:"size:200" json:"type"`
	Length int64  `json:"length"`
}
