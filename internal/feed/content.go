package feed

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// The Telegram RSS-bridge wraps every post in presentation markup; these
// patterns pick apart the pieces we either drop or unwrap before the final
// tag strip.
var (
	// "Media not supported" placeholder blocks and their label spans.
	unsupportedMediaRegex = regexp.MustCompile(`(?s)<div class="message_media_not_supported"[^>]*>.*?</div>`)
	mediaLabelRegex       = regexp.MustCompile(`(?s)<span class="message_media_not_supported_label"[^>]*>.*?</span>`)

	// "VIEW IN TELEGRAM" action links, both <a> and <span> variants.
	actionLinkRegex = regexp.MustCompile(`(?s)<(?:a|span)[^>]*class="message_media_view_in_telegram"[^>]*>.*?</(?:a|span)>`)

	imgTagRegex   = regexp.MustCompile(`(?i)<img[^>]*/?>`)
	linkOpenRegex = regexp.MustCompile(`(?i)<a[^>]*href="[^"]*"[^>]*>`)

	// Custom emoji wrappers; the inner bolded characters are the emoji.
	emojiRegex = regexp.MustCompile(`(?is)<tg-emoji[^>]*>.*?<b>([^<]*)</b>.*?</tg-emoji>`)

	// Runs of spaces and tabs, but not newlines.
	spaceRegex = regexp.MustCompile(`[ \t]+`)

	imgSrcRegex      = regexp.MustCompile(`(?i)<img[^>]+src="([^"]+)"`)
	videoPosterRegex = regexp.MustCompile(`(?i)<video[^>]+poster="([^"]+)"`)
)

var stripPolicy = bluemonday.StrictPolicy()

// CleanContent reduces a raw, possibly double-HTML-encoded fragment to plain
// text. Line breaks become newlines; every other tag is removed, with anchor
// labels and emoji characters surviving as text. An input that is nothing but
// noise markup cleans to the empty string.
func CleanContent(raw string) string {
	if raw == "" {
		return ""
	}

	// The bridge double-encodes its HTML, so entities have to be resolved
	// before any structural cleanup can see the tags.
	content := html.UnescapeString(raw)

	content = unsupportedMediaRegex.ReplaceAllString(content, "")
	content = mediaLabelRegex.ReplaceAllString(content, "")
	content = actionLinkRegex.ReplaceAllString(content, "")

	// The only place newlines are introduced.
	content = strings.ReplaceAll(content, "<br/>", "\n")
	content = strings.ReplaceAll(content, "<br>", "\n")

	// Image URLs are extracted separately; the text keeps no trace of them.
	content = imgTagRegex.ReplaceAllString(content, "")

	// Drop anchors but keep their labels.
	content = linkOpenRegex.ReplaceAllString(content, "")
	content = strings.ReplaceAll(content, "</a>", "")

	content = emojiRegex.ReplaceAllString(content, "$1")

	// Everything still tag-shaped goes away here.
	content = stripPolicy.Sanitize(content)

	// The sanitizer re-escapes text content; resolve entities once more for
	// anything remaining in plain text.
	content = html.UnescapeString(content)

	content = spaceRegex.ReplaceAllString(content, " ")

	return strings.TrimSpace(content)
}

// ExtractMediaURLs scans a raw fragment for <img src> and <video poster>
// attribute values, in first-seen order with duplicates dropped.
//
// Independent of CleanContent: run both on the same raw input to get text and
// media separately.
func ExtractMediaURLs(raw string) []string {
	if raw == "" {
		return nil
	}

	content := html.UnescapeString(raw)

	var urls []string
	for _, re := range []*regexp.Regexp{imgSrcRegex, videoPosterRegex} {
		for _, match := range re.FindAllStringSubmatch(content, -1) {
			urls = append(urls, match[1])
		}
	}

	seen := make(map[string]struct{}, len(urls))
	unique := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}

	return unique
}
