// Package ingest pulls the configured Telegram channels through their
// RSS-bridge feeds and stores new posts, one row per unique link.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ksusonic/event-platform/internal/feed"
	"github.com/ksusonic/event-platform/internal/logger"
	"github.com/ksusonic/event-platform/internal/platform"
)

const bridgeURLTemplate = "https://rss-bridge.org/bridge01/?action=display&username=%s&bridge=TelegramBridge&format=Mrss"

const defaultKnownLinks = 4096

type (
	// FeedSource fetches and parses one feed URL. Satisfied by feed.Fetcher.
	FeedSource interface {
		ParseURL(ctx context.Context, url string) (*feed.Document, error)
	}

	// Summary counts what happened to one channel's items.
	Summary struct {
		Channel string
		Saved   int
		Skipped int
		Empty   int
		Errors  int
	}

	// Result is the full report of one ingest run.
	Result struct {
		Channels []Summary
		Saved    int
		Skipped  int
		Empty    int
		Errors   int
	}

	Ingestor struct {
		source   FeedSource
		channels platform.ChannelService
		posts    platform.PostService

		// Links already seen by this process; saves a write attempt per
		// duplicate. The unique constraint on posts.link stays the
		// authority.
		known *lru.Cache[string, struct{}]
	}
)

func New(source FeedSource, channels platform.ChannelService, posts platform.PostService) (*Ingestor, error) {
	known, err := lru.New[string, struct{}](defaultKnownLinks)
	if err != nil {
		return nil, fmt.Errorf("error creating link cache: %w", err)
	}

	return &Ingestor{
		source:   source,
		channels: channels,
		posts:    posts,
		known:    known,
	}, nil
}

// Run ingests every configured channel concurrently, one goroutine per
// channel. A channel that fails is reported in its summary and does not
// stop the others.
func (i *Ingestor) Run(ctx context.Context) (Result, error) {
	channels, err := i.channels.AllChannels(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("error fetching channels: %w", err)
	}

	var (
		mu        sync.Mutex
		summaries = make([]Summary, 0, len(channels))
	)

	eg, ctx := errgroup.WithContext(ctx)

	for _, ch := range channels {
		eg.Go(func() error {
			summary := i.ingestChannel(ctx, ch)

			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()

			return nil
		})
	}

	// Goroutines never return errors, but Wait still observes ctx.
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Channels: summaries}
	for _, s := range summaries {
		res.Saved += s.Saved
		res.Skipped += s.Skipped
		res.Empty += s.Empty
		res.Errors += s.Errors
	}

	slog.InfoContext(ctx, "ingest run finished",
		"channels", len(channels),
		"saved", res.Saved,
		"skipped", res.Skipped,
		"empty", res.Empty,
		"errors", res.Errors,
	)

	return res, nil
}

func (i *Ingestor) ingestChannel(ctx context.Context, ch platform.Channel) Summary {
	ctx = logger.Ctx(ctx, slog.String("channel", ch.Name))
	summary := Summary{Channel: ch.Name}

	doc, err := i.source.ParseURL(ctx, FeedURL(ch))
	if err != nil {
		slog.ErrorContext(ctx, "error fetching channel feed", "error", err)
		summary.Errors++
		return summary
	}

	for _, item := range doc.Items {
		switch i.storeItem(ctx, item) {
		case itemSaved:
			summary.Saved++
		case itemSkipped:
			summary.Skipped++
		case itemEmpty:
			summary.Empty++
		case itemErrored:
			summary.Errors++
		}
	}

	slog.InfoContext(ctx, "channel ingested",
		"items", len(doc.Items),
		"saved", summary.Saved,
		"skipped", summary.Skipped,
	)

	return summary
}

type itemOutcome int

const (
	itemSaved itemOutcome = iota
	itemSkipped
	itemEmpty
	itemErrored
)

func (i *Ingestor) storeItem(ctx context.Context, item feed.Item) itemOutcome {
	if item.Link == "" || item.Description == "" {
		return itemEmpty
	}

	if _, ok := i.known.Get(item.Link); ok {
		return itemSkipped
	}

	post := platform.Post{
		Link:    item.Link,
		Content: item.Description,
		PubDate: feed.ParsePubDate(item.PubDate),
	}

	if len(item.MediaURLs) > 0 {
		raw, err := json.Marshal(item.MediaURLs)
		if err == nil {
			media := string(raw)
			post.Media = &media
		}
	}

	err := i.posts.InsertPost(ctx, post)
	if errors.Is(err, platform.ErrConflict) {
		i.known.Add(item.Link, struct{}{})
		return itemSkipped
	}
	if err != nil {
		slog.ErrorContext(ctx, "error inserting post", "link", item.Link, "error", err)
		return itemErrored
	}

	i.known.Add(item.Link, struct{}{})
	return itemSaved
}

// FeedURL resolves the feed address of a channel: an explicit URL when
// configured, otherwise the public RSS-bridge endpoint for its username.
func FeedURL(ch platform.Channel) string {
	if ch.URL != nil && *ch.URL != "" {
		return *ch.URL
	}
	return fmt.Sprintf(bridgeURLTemplate, ch.Name)
}
