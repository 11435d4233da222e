package fetcher

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/JerryLinyx/feedrefresh/models"
)

type rssCategory struct {
	Domain string `xml:"domain,attr"`
	Name   string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

type rssItem struct {
	Title       string         `xml:"title"`
	Link        string         `xml:"link"`
	Description string         `xml:"description"`
	Encoded     string         `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	Author      string         `xml:"author"`
	Creator     string         `xml:"http://purl.org/dc/elements/1.1/ creator"`
	GUID        string         `xml:"guid"`
	PubDate     string         `xml:"pubDate"`
	Date        string         `xml:"http://purl.org/dc/elements/1.1/ date"`
	Enclosures  []rssEnclosure `xml:"enclosure"`
}

type rssEnvelope struct {
	Channel struct {
		Title       string        `xml:"title"`
		Link        string        `xml:"link"`
		Description string        `xml:"description"`
		Categories  []rssCategory `xml:"category"`
		Items       []rssItem     `xml:"item"`
	} `xml:"channel"`
	// RSS 1.0 keeps items next to the channel
	Items []rssItem `xml:"item"`
}

type atomLink struct {
	Href   string `xml:"href,attr"`
	Rel    string `xml:"rel,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

type atomCategory struct {
	Term   string `xml:"term,attr"`
	Scheme string `xml:"scheme,attr"`
}

type atomEnvelope struct {
	Title      string         `xml:"title"`
	Subtitle   string         `xml:"subtitle"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
	Entries    []struct {
		Title     string     `xml:"title"`
		Links     []atomLink `xml:"link"`
		Summary   string     `xml:"summary"`
		Content   string     `xml:"content"`
		ID        string     `xml:"id"`
		Updated   string     `xml:"updated"`
		Published string     `xml:"published"`
		Author    struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

func parseTimeString(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		time.RFC1123Z,
		time.RFC1123,
		time.RFC850,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseRSS(data []byte) (*models.FeedContent, error) {
	var rss rssEnvelope
	if err := xml.Unmarshal(data, &rss); err != nil {
		return nil, err
	}

	content := &models.FeedContent{
		Title:       strings.TrimSpace(rss.Channel.Title),
		Link:        strings.TrimSpace(rss.Channel.Link),
		Description: rss.Channel.Description,
		Categories: lo.Map(rss.Channel.Categories, func(c rssCategory, _ int) models.RawCategory {
			return models.RawCategory{Name: strings.TrimSpace(c.Name), Domain: strings.TrimSpace(c.Domain)}
		}),
	}

	items := append(rss.Channel.Items, rss.Items...)
	content.Posts = make([]models.RawPost, 0, len(items))
	for _, it := range items {
		body := it.Encoded
		if body == "" {
			body = it.Description
		}
		published := parseTimeString(it.PubDate)
		if published.IsZero() {
			published = parseTimeString(it.Date)
		}
		content.Posts = append(content.Posts, models.RawPost{
			GUID:          strings.TrimSpace(it.GUID),
			Title:         strings.TrimSpace(it.Title),
			Link:          strings.TrimSpace(it.Link),
			Author:        strings.TrimSpace(lo.Ternary(it.Creator != "", it.Creator, it.Author)),
			Content:       body,
			DatePublished: published,
			DateUpdated:   published,
			Enclosures: lo.Map(it.Enclosures, func(e rssEnclosure, _ int) models.RawEnclosure {
				return models.RawEnclosure{URL: strings.TrimSpace(e.URL), Type: e.Type, Length: parseLength(e.Length)}
			}),
		})
	}
	return content, nil
}

func parseAtom(data []byte) (*models.FeedContent, error) {
	var atom atomEnvelope
	if err := xml.Unmarshal(data, &atom); err != nil {
		return nil, err
	}

	content := &models.FeedContent{
		Title:       strings.TrimSpace(atom.Title),
		Description: atom.Subtitle,
		Link:        alternateLink(atom.Links),
		Categories: lo.Map(atom.Categories, func(c atomCategory, _ int) models.RawCategory {
			return models.RawCategory{Name: strings.TrimSpace(c.Term), Domain: strings.TrimSpace(c.Scheme)}
		}),
	}

	content.Posts = make([]models.RawPost, 0, len(atom.Entries))
	for _, entry := range atom.Entries {
		published := parseTimeString(entry.Published)
		updated := parseTimeString(entry.Updated)
		if published.IsZero() {
			published = updated
		}
		body := entry.Content
		if body == "" {
			body = entry.Summary
		}

		var enclosures []models.RawEnclosure
		for _, l := range entry.Links {
			if l.Rel == "enclosure" && strings.TrimSpace(l.Href) != "" {
				enclosures = append(enclosures, models.RawEnclosure{
					URL:    strings.TrimSpace(l.Href),
					Type:   l.Type,
					Length: parseLength(l.Length),
				})
			}
		}

		content.Posts = append(content.Posts, models.RawPost{
			GUID:          strings.TrimSpace(entry.ID),
			Title:         strings.TrimSpace(entry.Title),
			Link:          alternateLink(entry.Links),
			Author:        strings.TrimSpace(entry.Author.Name),
			Content:       body,
			DatePublished: published,
			DateUpdated:   lo.Ternary(updated.IsZero(), published, updated),
			Enclosures:    enclosures,
		})
	}
	return content, nil
}

// alternateLink picks the first link that is not an enclosure or self link.
func alternateLink(links []atomLink) string {
	for _, l := range links {
		if (l.Rel == "" || l.Rel == "alternate") && strings.TrimSpace(l.Href) != "" {
			return strings.TrimSpace(l.Href)
		}
	}
	return ""
}

func parseLength(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
