package store

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/JerryLinyx/feedrefresh/metrics"
	"github.com/JerryLinyx/feedrefresh/models"
)

// ErrInvalidPostData is returned for posts that carry neither a guid nor a
// title and publication date.
var ErrInvalidPostData = errors.New("invalid post data")

// Fields compared, in order, when several posts share title, date and feed.
// Short fields come first so the content is only compared when needed.
var duplicateCompareFields = []string{"author", "link", "content"}

// PostMerger merges fetched posts into the stored posts of a feed.
type PostMerger struct {
	posts          EntityStore[models.Post]
	enclosures     EntityStore[models.Enclosure]
	sizes          map[string]int
	enclosureSizes map[string]int
	postLimit      int
	db             *gorm.DB
}

// NewPostMerger builds a merger over the posts and enclosures tables.
func NewPostMerger(db *gorm.DB, postLimit int) (*PostMerger, error) {
	posts, err := NewGormStore[models.Post](db)
	if err != nil {
		return nil, err
	}
	enclosures, err := NewGormStore[models.Enclosure](db)
	if err != nil {
		return nil, err
	}
	m := newPostMerger(posts, enclosures, posts.FieldSizes(), enclosures.FieldSizes(), postLimit)
	m.db = db
	return m, nil
}

func newPostMerger(posts EntityStore[models.Post], enclosures EntityStore[models.Enclosure], sizes, enclosureSizes map[string]int, postLimit int) *PostMerger {
	return &PostMerger{
		posts:          posts,
		enclosures:     enclosures,
		sizes:          sizes,
		enclosureSizes: enclosureSizes,
		postLimit:      postLimit,
	}
}

// MergePost stores raw as a post of feed, updating the post it matches.
func (m *PostMerger) MergePost(ctx context.Context, feed *models.Feed, raw models.RawPost) (*models.Post, error) {
	fields := TruncateFields(raw.Fields(), m.sizes)
	fields["feed_id"] = feed.ID

	guid, _ := fields["guid"].(string)
	title, _ := fields["title"].(string)
	if guid == "" && (title == "" || raw.DatePublished.IsZero()) {
		return nil, fmt.Errorf("%w: no guid and no title/date_published", ErrInvalidPostData)
	}

	var (
		post   *models.Post
		action string
		err    error
	)
	if guid != "" {
		post, action, err = m.mergeByGUID(ctx, fields)
	} else {
		post, action, err = m.mergeByTitleDate(ctx, fields)
	}
	if err != nil {
		return nil, err
	}
	metrics.PostsMerged.WithLabelValues(action).Inc()

	for _, enc := range raw.Enclosures {
		if enc.URL == "" {
			continue
		}
		match := TruncateFields(models.Fields{"post_id": post.ID, "url": enc.URL}, m.enclosureSizes)
		defaults := TruncateFields(models.Fields{"type": enc.Type, "length": enc.Length}, m.enclosureSizes)
		_, _, err := Upsert(ctx, m.enclosures, match, defaults)
		if err != nil {
			return nil, fmt.Errorf("upsert enclosure %s: %w", enc.URL, err)
		}
	}

	return post, nil
}

func (m *PostMerger) mergeByGUID(ctx context.Context, fields models.Fields) (*models.Post, string, error) {
	match := models.Fields{"guid": fields["guid"], "feed_id": fields["feed_id"]}
	post, created, err := Upsert(ctx, m.posts, match, fields)
	if err != nil {
		return nil, "", err
	}
	return post, createdOrUpdated(created), nil
}

func (m *PostMerger) mergeByTitleDate(ctx context.Context, fields models.Fields) (*models.Post, string, error) {
	match := models.Fields{
		"title":          fields["title"],
		"date_published": fields["date_published"],
		"feed_id":        fields["feed_id"],
	}

	post, created, err := FindOrCreate(ctx, m.posts, match, fields)

	var dup *MultipleMatchesError[models.Post]
	switch {
	case errors.As(err, &dup):
		if found := findDuplicatePost(dup.Matches, fields); found != nil {
			if err := m.posts.Update(ctx, found, fields); err != nil {
				return nil, "", err
			}
			return found, "resolved", nil
		}
		log.WithFields(log.Fields{
			"feed_id":    fields["feed_id"],
			"title":      fields["title"],
			"candidates": len(dup.Matches),
		}).Debug("No candidate matches post, inserting")
		inserted, err := m.posts.Create(ctx, fields)
		if err != nil {
			return nil, "", err
		}
		return inserted, "inserted_distinct", nil
	case err != nil:
		return nil, "", err
	case created:
		return post, "created", nil
	}

	if err := m.posts.Update(ctx, post, fields); err != nil {
		return nil, "", err
	}
	return post, "updated", nil
}

// findDuplicatePost returns the first candidate having one of the compared
// fields equal to the incoming value. Empty values compare equal, so a post
// without author, link and content resolves to the first candidate.
func findDuplicatePost(candidates []*models.Post, fields models.Fields) *models.Post {
	for _, possible := range candidates {
		for _, name := range duplicateCompareFields {
			incoming, _ := fields[name].(string)
			if postField(possible, name) == incoming {
				return possible
			}
		}
	}
	return nil
}

func postField(p *models.Post, name string) string {
	switch name {
	case "author":
		return p.Author
	case "link":
		return p.Link
	case "content":
		return p.Content
	}
	return ""
}

// LatestPosts returns the newest posts of a feed. A limit <= 0 uses the
// configured default.
func (m *PostMerger) LatestPosts(ctx context.Context, feedID uint, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = m.postLimit
	}

	var posts []models.Post
	err := m.db.WithContext(ctx).
		Where("feed_id = ?", feedID).
		Order("date_published DESC").
		Order("id DESC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

func createdOrUpdated(created bool) string {
	if created {
		return "created"
	}
	return "updated"
}
