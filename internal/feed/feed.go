// Package feed turns raw RSS/Atom documents into structured feed items with
// sanitized body content and extracted media URLs.
package feed

import (
	"fmt"
	"time"
)

type (
	// Document is the parsed representation of one RSS or Atom feed.
	// It is produced fresh on every parse call and never persisted here.
	Document struct {
		Title         string
		Link          string
		Description   string
		Language      string
		LastBuildDate string
		Items         []Item
	}

	// Item is a single entry of a feed document. Description holds the
	// sanitized body; MediaURLs are extracted from the raw body before
	// sanitization. PubDate is kept verbatim: RFC 2822 for RSS feeds,
	// ISO 8601 for Atom.
	Item struct {
		Title       string
		Link        string
		Description string
		PubDate     string
		GUID        string
		Author      string
		Category    string
		MediaURLs   []string
	}
)

// ParseError means the document was not well-formed XML.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid XML: %s", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownFormatError means the XML was fine but the root element was neither
// <rss> nor <feed>.
type UnknownFormatError struct {
	Root string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown feed format: %s", e.Root)
}

// FetchError means the HTTP fetch of a feed document failed.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %s", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Date layouts seen across the two grammars.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParsePubDate leniently parses an item's verbatim publish date. Returns nil
// when the string is empty or matches no known layout.
func ParsePubDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
