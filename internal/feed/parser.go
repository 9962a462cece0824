package feed

import (
	"bytes"
	"encoding/xml"
	"io"
)

const (
	defaultFeedTitle = "Unknown Feed"
	defaultItemTitle = "No Title"
)

// Wire shape of an RSS 2.0 document: metadata and items nested under
// <channel>. The encoded content element carries richer HTML than the plain
// description and supersedes it when both are present.
type rssDoc struct {
	Channel struct {
		Title         string `xml:"title"`
		Link          string `xml:"link"`
		Description   string `xml:"description"`
		Language      string `xml:"language"`
		LastBuildDate string `xml:"lastBuildDate"`
		Items         []struct {
			Title          string `xml:"title"`
			Link           string `xml:"link"`
			Description    string `xml:"description"`
			ContentEncoded string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
			PubDate        string `xml:"pubDate"`
			GUID           string `xml:"guid"`
			Author         string `xml:"author"`
			Category       string `xml:"category"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Wire shape of an Atom document: metadata and entries at the root, in the
// Atom namespace.
type atomDoc struct {
	Title    string     `xml:"title"`
	Subtitle string     `xml:"subtitle"`
	Updated  string     `xml:"updated"`
	Links    []atomLink `xml:"link"`
	Entries  []struct {
		Title     string     `xml:"title"`
		Links     []atomLink `xml:"link"`
		Content   string     `xml:"content"`
		Summary   string     `xml:"summary"`
		Published string     `xml:"published"`
		ID        string     `xml:"id"`
		Author    struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
}

// Parse turns a raw XML document into a Document. The grammar is picked by
// the name of the root element: <rss> or <feed>.
func Parse(data []byte) (*Document, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	switch root {
	case "rss":
		return parseRSS(data)
	case "feed":
		return parseAtom(data)
	default:
		return nil, &UnknownFormatError{Root: root}
	}
}

// Finds the local name of the document's root element, consuming any leading
// declarations and comments.
func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func parseRSS(data []byte) (*Document, error) {
	var doc rssDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Err: err}
	}

	out := &Document{
		Title:         doc.Channel.Title,
		Link:          doc.Channel.Link,
		Description:   doc.Channel.Description,
		Language:      doc.Channel.Language,
		LastBuildDate: doc.Channel.LastBuildDate,
	}
	if out.Title == "" {
		out.Title = defaultFeedTitle
	}

	for _, item := range doc.Channel.Items {
		body := item.Description
		if item.ContentEncoded != "" {
			body = item.ContentEncoded
		}

		out.Items = append(out.Items, newItem(Item{
			Title:    item.Title,
			Link:     item.Link,
			PubDate:  item.PubDate,
			GUID:     item.GUID,
			Author:   item.Author,
			Category: item.Category,
		}, body))
	}

	return out, nil
}

func parseAtom(data []byte) (*Document, error) {
	var doc atomDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Err: err}
	}

	out := &Document{
		Title:         doc.Title,
		Link:          firstHref(doc.Links),
		Description:   doc.Subtitle,
		LastBuildDate: doc.Updated,
	}
	if out.Title == "" {
		out.Title = defaultFeedTitle
	}

	for _, entry := range doc.Entries {
		body := entry.Content
		if body == "" {
			body = entry.Summary
		}

		out.Items = append(out.Items, newItem(Item{
			Title:   entry.Title,
			Link:    firstHref(entry.Links),
			PubDate: entry.Published,
			GUID:    entry.ID,
			Author:  entry.Author.Name,
		}, body))
	}

	return out, nil
}

// Fills in the sanitized body, extracted media, and title default. Items with
// an empty link are kept; discarding them is the caller's call.
func newItem(item Item, rawBody string) Item {
	if item.Title == "" {
		item.Title = defaultItemTitle
	}
	item.Description = CleanContent(rawBody)
	item.MediaURLs = ExtractMediaURLs(rawBody)
	return item
}

func firstHref(links []atomLink) string {
	if len(links) == 0 {
		return ""
	}
	return links[0].Href
}
