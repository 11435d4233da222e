package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssDocument = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"
	xmlns:content="http://purl.org/rss/1.0/modules/content/"
	xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
	<title> Example News </title>
	<link>https://example.com/</link>
	<description>Everything that happened</description>
	<category domain="https://example.com/cats">tech</category>
	<category>go</category>
	<item>
		<title>First post</title>
		<link>https://example.com/1</link>
		<guid isPermaLink="false">post-1</guid>
		<description>Short summary</description>
		<content:encoded><![CDATA[<p>Full body</p>]]></content:encoded>
		<dc:creator>Alice</dc:creator>
		<pubDate>Fri, 01 Mar 2024 12:00:00 +0000</pubDate>
		<enclosure url="https://cdn.example.com/1.mp3" type="audio/mpeg" length="1234"/>
	</item>
	<item>
		<title>Second post</title>
		<link>https://example.com/2</link>
		<author>bob@example.com</author>
		<description>Only a description</description>
		<dc:date>2024-03-02T08:30:00Z</dc:date>
	</item>
</channel>
</rss>`

const atomDocument = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
	<title>Example Atom</title>
	<subtitle>Atom things</subtitle>
	<link rel="self" href="https://example.com/atom.xml"/>
	<link href="https://example.com/"/>
	<category term="science" scheme="https://example.com/topics"/>
	<entry>
		<title>Atom entry</title>
		<id>urn:uuid:1225c695</id>
		<link rel="alternate" href="https://example.com/atom/1"/>
		<link rel="enclosure" href="https://cdn.example.com/a.ogg" type="audio/ogg" length="99"/>
		<published>2024-03-01T10:00:00+02:00</published>
		<updated>2024-03-03T10:00:00Z</updated>
		<author><name>Carol</name></author>
		<summary>Summary only</summary>
	</entry>
	<entry>
		<title>Updated only</title>
		<id>urn:uuid:2</id>
		<link href="https://example.com/atom/2"/>
		<updated>2024-03-04T00:00:00Z</updated>
		<content type="html">Body</content>
	</entry>
</feed>`

func TestParseRSS(t *testing.T) {
	content, err := Parse([]byte(rssDocument))
	require.NoError(t, err)

	assert.Equal(t, "Example News", content.Title)
	assert.Equal(t, "https://example.com/", content.Link)
	assert.Equal(t, "Everything that happened", content.Description)
	require.Len(t, content.Categories, 2)
	assert.Equal(t, "tech", content.Categories[0].Name)
	assert.Equal(t, "https://example.com/cats", content.Categories[0].Domain)

	require.Len(t, content.Posts, 2)
	first := content.Posts[0]
	assert.Equal(t, "post-1", first.GUID)
	assert.Equal(t, "First post", first.Title)
	assert.Equal(t, "Alice", first.Author)
	assert.Equal(t, "<p>Full body</p>", first.Content)
	assert.WithinDuration(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), first.DatePublished, 0)
	require.Len(t, first.Enclosures, 1)
	assert.Equal(t, "https://cdn.example.com/1.mp3", first.Enclosures[0].URL)
	assert.Equal(t, "audio/mpeg", first.Enclosures[0].Type)
	assert.Equal(t, int64(1234), first.Enclosures[0].Length)

	second := content.Posts[1]
	assert.Empty(t, second.GUID)
	assert.Equal(t, "bob@example.com", second.Author)
	assert.Equal(t, "Only a description", second.Content)
	assert.WithinDuration(t, time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC), second.DatePublished, 0)
}

func TestParseAtom(t *testing.T) {
	content, err := Parse([]byte(atomDocument))
	require.NoError(t, err)

	assert.Equal(t, "Example Atom", content.Title)
	assert.Equal(t, "Atom things", content.Description)
	assert.Equal(t, "https://example.com/", content.Link)
	require.Len(t, content.Categories, 1)
	assert.Equal(t, "science", content.Categories[0].Name)
	assert.Equal(t, "https://example.com/topics", content.Categories[0].Domain)

	require.Len(t, content.Posts, 2)
	entry := content.Posts[0]
	assert.Equal(t, "urn:uuid:1225c695", entry.GUID)
	assert.Equal(t, "https://example.com/atom/1", entry.Link)
	assert.Equal(t, "Carol", entry.Author)
	assert.Equal(t, "Summary only", entry.Content)
	assert.WithinDuration(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), entry.DatePublished, 0)
	assert.WithinDuration(t, time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC), entry.DateUpdated, 0)
	require.Len(t, entry.Enclosures, 1)
	assert.Equal(t, int64(99), entry.Enclosures[0].Length)

	updatedOnly := content.Posts[1]
	assert.Equal(t, "Body", updatedOnly.Content)
	assert.WithinDuration(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), updatedOnly.DatePublished, 0)
}

func TestParseRejectsUnknownDocuments(t *testing.T) {
	_, err := Parse([]byte(`<html><body>not a feed</body></html>`))
	assert.ErrorContains(t, err, "unsupported feed document")

	_, err = Parse([]byte(`not xml at all`))
	assert.Error(t, err)
}

func TestParseTimeString(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T12:00:00Z", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"Fri, 01 Mar 2024 14:00:00 +0200", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"Fri, 1 Mar 2024 12:00:00 +0000", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Time{}},
		{"  ", time.Time{}},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.True(t, tc.want.Equal(parseTimeString(tc.in)), "got %s", parseTimeString(tc.in))
		})
	}
}

func TestFetch(t *testing.T) {
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.UserAgent()
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssDocument))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "feedrefresh-test"})
	content, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "feedrefresh-test", userAgent)
	assert.Len(t, content.Posts, 2)
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/garbage":
			_, _ = w.Write([]byte("<html>"))
		case "/huge":
			_, _ = w.Write([]byte(rssDocument + strings.Repeat(" ", 10)))
		}
	}))
	defer srv.Close()

	tests := []struct {
		name string
		url  string
		cfg  Config
	}{
		{"http status", srv.URL + "/missing", Config{}},
		{"unparseable body", srv.URL + "/garbage", Config{}},
		{"body over limit", srv.URL + "/huge", Config{MaxBodyBytes: 64}},
		{"bad url", "://nope", Config{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg).Fetch(context.Background(), tc.url)

			var fetchErr *FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tc.url, fetchErr.URL)
			assert.NotNil(t, fetchErr.Unwrap())
		})
	}
}

func TestFetchHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{}).Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
