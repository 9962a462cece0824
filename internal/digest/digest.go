// Package digest renders unpublished events into Telegram digest messages
// and marks their posts published once delivered.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ksusonic/event-platform/internal/platform"
)

// Telegram rejects messages longer than this.
const maxMessageLen = 4096

const defaultBatchLimit = 50

// DefaultWindow is how far ahead the digest looks for upcoming events.
const DefaultWindow = 7 * 24 * time.Hour

type (
	// Messenger delivers one rendered digest message.
	Messenger interface {
		SendMessage(ctx context.Context, text string) error
	}

	// Summarizer writes an optional one-paragraph intro for the digest.
	Summarizer interface {
		Summarize(ctx context.Context, events []platform.Event) (string, error)
	}

	Publisher struct {
		events    platform.EventService
		posts     platform.PostService
		messenger Messenger

		// Optional; a nil summarizer means no intro paragraph.
		summarizer Summarizer

		limit  int
		window time.Duration
	}

	// Report is what one publish run did.
	Report struct {
		Events   int
		Messages int
	}
)

func New(events platform.EventService, posts platform.PostService, messenger Messenger, summarizer Summarizer, window time.Duration) *Publisher {
	if window <= 0 {
		window = DefaultWindow
	}

	return &Publisher{
		events:     events,
		posts:      posts,
		messenger:  messenger,
		summarizer: summarizer,
		limit:      defaultBatchLimit,
		window:     window,
	}
}

// Run publishes the pending events inside the upcoming window. Posts are
// marked published only after all messages went out, so a delivery failure
// retries the whole digest.
func (p *Publisher) Run(ctx context.Context) (Report, error) {
	// Date-only event dates parse to midnight, so the window opens at the
	// start of today rather than the current instant.
	now := time.Now().UTC()
	from := now.Truncate(24 * time.Hour)

	events, err := p.events.UnpublishedEvents(ctx, from, now.Add(p.window), p.limit)
	if err != nil {
		return Report{}, fmt.Errorf("error fetching unpublished events: %w", err)
	}
	if len(events) == 0 {
		slog.InfoContext(ctx, "no events to publish")
		return Report{}, nil
	}

	intro := ""
	if p.summarizer != nil {
		intro, err = p.summarizer.Summarize(ctx, events)
		if err != nil {
			// The digest is still useful without the intro.
			slog.WarnContext(ctx, "could not summarize digest", "error", err)
			intro = ""
		}
	}

	messages := SplitMessages(Render(events, intro))
	for _, msg := range messages {
		if err := p.messenger.SendMessage(ctx, msg); err != nil {
			return Report{}, fmt.Errorf("error sending digest message: %w", err)
		}
	}

	links := make([]string, 0, len(events))
	for _, e := range events {
		links = append(links, e.PostLink)
	}
	if err := p.posts.MarkPublished(ctx, links); err != nil {
		return Report{}, fmt.Errorf("error marking posts published: %w", err)
	}

	slog.InfoContext(ctx, "digest published", "events", len(events), "messages", len(messages))

	return Report{Events: len(events), Messages: len(messages)}, nil
}

// Render produces the digest blocks: a header, the optional intro, then one
// block per event. Blocks are joined later by the splitter.
func Render(events []platform.Event, intro string) []string {
	blocks := make([]string, 0, len(events)+2)
	blocks = append(blocks, fmt.Sprintf("📅 *Events digest* — %d upcoming", len(events)))

	if intro != "" {
		blocks = append(blocks, intro)
	}

	for _, e := range events {
		blocks = append(blocks, renderEvent(e))
	}

	return blocks
}

func renderEvent(e platform.Event) string {
	var b strings.Builder

	title := "Untitled event"
	if e.Title != nil && *e.Title != "" {
		title = *e.Title
	}
	fmt.Fprintf(&b, "*%s*\n", title)

	if e.EventDate != nil {
		marker := ""
		if e.DateIsApproximate {
			marker = "~"
		}
		fmt.Fprintf(&b, "🗓 %s%s\n", marker, e.EventDate.Format("Mon, 02 Jan 2006"))
	}
	if e.Location != nil && *e.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", *e.Location)
	}
	if e.EventType != nil && *e.EventType != "" {
		fmt.Fprintf(&b, "🏷 %s\n", *e.EventType)
	}
	if e.Summary != nil && *e.Summary != "" {
		fmt.Fprintf(&b, "%s\n", *e.Summary)
	}
	fmt.Fprintf(&b, "[source](%s)", e.PostLink)

	return b.String()
}

// SplitMessages packs blocks into as few messages as fit under the Telegram
// length limit, never breaking inside a block. A single oversized block is
// truncated rather than dropped.
func SplitMessages(blocks []string) []string {
	var (
		messages []string
		current  strings.Builder
	)

	flush := func() {
		if current.Len() > 0 {
			messages = append(messages, current.String())
			current.Reset()
		}
	}

	for _, block := range blocks {
		if len(block) > maxMessageLen {
			block = block[:maxMessageLen]
		}

		// +2 for the blank line between blocks.
		if current.Len() > 0 && current.Len()+2+len(block) > maxMessageLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(block)
	}
	flush()

	return messages
}
