package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRSSFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
  <channel>
    <title>Test RSS Feed</title>
    <description>A test RSS feed</description>
    <link>https://example.com</link>
    <language>en-us</language>
    <lastBuildDate>Mon, 01 Jan 2024 12:00:00 +0000</lastBuildDate>
    <item>
      <title>RSS Post One</title>
      <link>https://example.com/post-1</link>
      <guid>rss-guid-1</guid>
      <description>First RSS post description</description>
      <pubDate>Mon, 01 Jan 2024 12:00:00 +0000</pubDate>
      <author>someone@example.com</author>
      <category>news</category>
    </item>
    <item>
      <title>RSS Post Two</title>
      <link>https://example.com/post-2</link>
      <guid>rss-guid-2</guid>
      <description>Plain description</description>
      <content:encoded>&lt;p&gt;Rich &lt;b&gt;encoded&lt;/b&gt; content&lt;/p&gt;</content:encoded>
      <pubDate>Tue, 02 Jan 2024 12:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

const testAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Test Atom Feed</title>
  <subtitle>A test Atom feed</subtitle>
  <link href="https://example.com" rel="alternate"/>
  <updated>2024-01-02T12:00:00Z</updated>
  <entry>
    <title>Atom Post One</title>
    <id>atom-id-1</id>
    <link href="https://example.com/atom-1" rel="alternate"/>
    <summary>First Atom post summary</summary>
    <published>2024-01-01T12:00:00Z</published>
    <author><name>Alice</name></author>
  </entry>
  <entry>
    <title>Atom Post Two</title>
    <id>atom-id-2</id>
    <link href="https://example.com/atom-2" rel="alternate"/>
    <summary>The summary</summary>
    <content>Second Atom post content body</content>
    <published>2024-01-02T12:00:00Z</published>
  </entry>
</feed>`

func TestParse_RSS(t *testing.T) {
	doc, err := Parse([]byte(testRSSFeed))
	require.NoError(t, err)

	assert.Equal(t, "Test RSS Feed", doc.Title)
	assert.Equal(t, "https://example.com", doc.Link)
	assert.Equal(t, "A test RSS feed", doc.Description)
	assert.Equal(t, "en-us", doc.Language)
	assert.Equal(t, "Mon, 01 Jan 2024 12:00:00 +0000", doc.LastBuildDate)

	require.Len(t, doc.Items, 2)

	assert.Equal(t, "RSS Post One", doc.Items[0].Title)
	assert.Equal(t, "https://example.com/post-1", doc.Items[0].Link)
	assert.Equal(t, "rss-guid-1", doc.Items[0].GUID)
	assert.Equal(t, "First RSS post description", doc.Items[0].Description)
	assert.Equal(t, "Mon, 01 Jan 2024 12:00:00 +0000", doc.Items[0].PubDate)
	assert.Equal(t, "someone@example.com", doc.Items[0].Author)
	assert.Equal(t, "news", doc.Items[0].Category)

	// Encoded content supersedes the plain description.
	assert.Equal(t, "Rich encoded content", doc.Items[1].Description)
}

func TestParse_Atom(t *testing.T) {
	doc, err := Parse([]byte(testAtomFeed))
	require.NoError(t, err)

	assert.Equal(t, "Test Atom Feed", doc.Title)
	assert.Equal(t, "https://example.com", doc.Link)
	assert.Equal(t, "A test Atom feed", doc.Description)

	require.Len(t, doc.Items, 2)

	assert.Equal(t, "Atom Post One", doc.Items[0].Title)
	assert.Equal(t, "https://example.com/atom-1", doc.Items[0].Link)
	assert.Equal(t, "atom-id-1", doc.Items[0].GUID)
	assert.Equal(t, "First Atom post summary", doc.Items[0].Description)
	assert.Equal(t, "2024-01-01T12:00:00Z", doc.Items[0].PubDate)
	assert.Equal(t, "Alice", doc.Items[0].Author)

	// Content preferred over summary when both exist.
	assert.Equal(t, "Second Atom post content body", doc.Items[1].Description)
}

func TestParse_ItemCountMatchesElements(t *testing.T) {
	doc, err := Parse([]byte(testRSSFeed))
	require.NoError(t, err)
	assert.Len(t, doc.Items, 2)

	doc, err = Parse([]byte(testAtomFeed))
	require.NoError(t, err)
	assert.Len(t, doc.Items, 2)
}

func TestParse_MissingOptionalFields(t *testing.T) {
	const minimal = `<rss><channel><item><link>https://example.com/x</link></item></channel></rss>`

	doc, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "Unknown Feed", doc.Title)
	assert.Equal(t, "", doc.Link)
	assert.Equal(t, "", doc.Description)

	require.Len(t, doc.Items, 1)
	assert.Equal(t, "No Title", doc.Items[0].Title)
	assert.Equal(t, "", doc.Items[0].Description)
	assert.Empty(t, doc.Items[0].MediaURLs)
}

func TestParse_NotXML(t *testing.T) {
	_, err := Parse([]byte("this is not xml at all"))

	parseErr := &ParseError{}
	require.ErrorAs(t, err, &parseErr)
}

func TestParse_UnknownRoot(t *testing.T) {
	_, err := Parse([]byte(`<html><body>nope</body></html>`))

	unknownErr := &UnknownFormatError{}
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "html", unknownErr.Root)
}

func TestParseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testRSSFeed))
	}))
	defer srv.Close()

	doc, err := NewFetcher(time.Second).ParseURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Test RSS Feed", doc.Title)
	assert.Len(t, doc.Items, 2)
}

func TestParseURL_FetchFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second)

	_, err := f.ParseURL(context.Background(), srv.URL)
	fetchErr := &FetchError{}
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)

	_, err = f.ParseURL(context.Background(), "")
	require.ErrorAs(t, err, &fetchErr)
}

func TestParsePubDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *time.Time
	}{
		{
			name:  "rfc2822",
			input: "Mon, 01 Jan 2024 12:00:00 +0000",
			want:  timePtr(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		},
		{
			name:  "iso8601",
			input: "2024-01-01T12:00:00Z",
			want:  timePtr(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		},
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "garbage",
			input: "next tuesday-ish",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePubDate(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got))
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
