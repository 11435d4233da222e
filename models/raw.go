package models

import (
	"strings"
	"time"
)

// Fields maps column names to values.
type Fields map[string]any

// Merge returns a copy of f overlaid with other.
func (f Fields) Merge(other Fields) Fields {
	out := make(Fields, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// FeedContent is the result of fetching a feed.
type FeedContent struct {
	Title       string
	Description string
	Link        string
	Categories  []RawCategory
	Posts       []RawPost
}

type RawCategory struct {
	Name   string
	Domain string
}

// RawPost holds candidate post values as yielded by the fetcher.
type RawPost struct {
	GUID          string
	Title         string
	Link          string
	Author        string
	Content       string
	DatePublished time.Time
	DateUpdated   time.Time
	Enclosures    []RawEnclosure
}

type RawEnclosure struct {
	URL    string
	Type   string
	Length int64
}

// Fields returns the post columns carried by the raw post.
func (p RawPost) Fields() Fields {
	return Fields{
		"guid":           strings.TrimSpace(p.GUID),
		"title":          p.Title,
		"link":           p.Link,
		"author":         p.Author,
		"content":        p.Content,
		"date_published": p.DatePublished,
		"date_updated":   p.DateUpdated,
	}
}

// Fields returns the feed columns updated on import.
func (c *FeedContent) Fields() Fields {
	return Fields{
		"title":       c.Title,
		"description": c.Description,
		"link":        c.Link,
	}
}
