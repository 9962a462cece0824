package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/ksusonic/event-platform/internal/classify"
	"github.com/ksusonic/event-platform/internal/digest"
	"github.com/ksusonic/event-platform/internal/feed"
	"github.com/ksusonic/event-platform/internal/ingest"
	"github.com/ksusonic/event-platform/internal/logger"
	"github.com/ksusonic/event-platform/internal/migrations"
	"github.com/ksusonic/event-platform/internal/pipeline"
	"github.com/ksusonic/event-platform/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, default=events.db"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`

	DigestWindow time.Duration `env:"DIGEST_WINDOW, default=168h"`

	Model        string        `env:"CLASSIFIER_MODEL, default=gpt-4o-mini"`
	BatchSize    int           `env:"CLASSIFIER_BATCH_SIZE, default=100"`
	PollInterval time.Duration `env:"CLASSIFIER_POLL_INTERVAL, default=30s"`
	MaxWait      time.Duration `env:"CLASSIFIER_MAX_WAIT, default=1h"`

	FetchTimeout time.Duration `env:"FETCH_TIMEOUT, default=10s"`

	PipelineInterval time.Duration `env:"PIPELINE_INTERVAL, default=1h"`
	AgentTimeout     time.Duration `env:"AGENT_TIMEOUT, default=10m"`
	AgentMaxRetries  uint64        `env:"AGENT_MAX_RETRIES, default=2"`
	AgentRetryDelay  time.Duration `env:"AGENT_RETRY_DELAY, default=30s"`
}

const usage = `usage: eventd <command> [args]

commands:
  ingest                 fetch all channel feeds and store new posts
  classify               submit one batch of unprocessed posts and reconcile it
  check-batch <id>       print the status of a submitted batch
  complete-batch <id>    download and reconcile a finished batch
  digest                 publish upcoming unpublished events to Telegram
  events                 list upcoming events
  parse <url>            fetch and print one feed, for debugging
  add-channel <name>     register a channel by its Telegram username
  stats                  print post counts
  pipeline [-loop]       run ingest, classify, digest in order; -loop repeats
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	l := slog.New(logger.NewContextHandler(slog.NewTextHandler(os.Stdout, nil)))
	slog.SetDefault(l)

	// Connect to the sqlite db
	dbx, err := sqlx.Open("sqlite", cfg.Database)
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	if err := migrations.Run(dbx); err != nil {
		log.Fatalf("error running migrations: %s", err)
	}

	app := application{cfg: cfg, repo: sqlite.New(dbx)}

	if err := app.dispatch(ctx, os.Args[1], os.Args[2:]); err != nil {
		log.Fatalf("error running %s: %s", os.Args[1], err)
	}
}

type application struct {
	cfg  config
	repo sqlite.Repo
}

func (a application) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "ingest":
		return a.runIngest(ctx)
	case "classify":
		return a.runClassify(ctx)
	case "check-batch":
		if len(args) < 1 {
			return errors.New("check-batch needs a batch id")
		}
		return a.runCheckBatch(ctx, args[0])
	case "complete-batch":
		if len(args) < 1 {
			return errors.New("complete-batch needs a batch id")
		}
		return a.runCompleteBatch(ctx, args[0])
	case "digest":
		return a.runDigest(ctx)
	case "events":
		return a.runEvents(ctx)
	case "parse":
		if len(args) < 1 {
			return errors.New("parse needs a feed URL")
		}
		return a.runParse(ctx, args[0])
	case "add-channel":
		if len(args) < 1 {
			return errors.New("add-channel needs a channel name")
		}
		return a.runAddChannel(ctx, args[0])
	case "stats":
		return a.runStats(ctx)
	case "pipeline":
		loop := len(args) > 0 && args[0] == "-loop"
		return a.runPipeline(ctx, loop)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a application) ingestor() (*ingest.Ingestor, error) {
	fetcher := feed.NewFetcher(a.cfg.FetchTimeout)
	return ingest.New(fetcher, a.repo, a.repo)
}

func (a application) classifier() (*classify.Classifier, error) {
	if a.cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required for classification")
	}

	api := classify.NewOpenAIBatchAPI(a.cfg.OpenAIAPIKey)
	return classify.New(api, a.repo, a.repo, a.repo, classify.Config{
		Model:        a.cfg.Model,
		BatchSize:    a.cfg.BatchSize,
		PollInterval: a.cfg.PollInterval,
		MaxWait:      a.cfg.MaxWait,
	}), nil
}

func (a application) publisher() (*digest.Publisher, error) {
	if a.cfg.TelegramBotToken == "" || a.cfg.TelegramChatID == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required for digests")
	}

	messenger := digest.NewTelegramMessenger(a.cfg.TelegramBotToken, a.cfg.TelegramChatID)

	// The Claude intro is optional: no key, no intro.
	var summarizer digest.Summarizer
	if a.cfg.AnthropicAPIKey != "" {
		client := anthropic.NewClient(anthropicopt.WithAPIKey(a.cfg.AnthropicAPIKey))
		summarizer = digest.NewClaudeSummarizer(client)
	}

	return digest.New(a.repo, a.repo, messenger, summarizer, a.cfg.DigestWindow), nil
}

func (a application) runIngest(ctx context.Context) error {
	ing, err := a.ingestor()
	if err != nil {
		return err
	}

	res, err := ing.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("saved %d, skipped %d, empty %d, errors %d\n", res.Saved, res.Skipped, res.Empty, res.Errors)
	return nil
}

func (a application) runClassify(ctx context.Context) error {
	c, err := a.classifier()
	if err != nil {
		return err
	}

	res, err := c.Run(ctx)
	if err != nil {
		return err
	}

	if res.BatchID == "" {
		fmt.Println("nothing to classify")
		return nil
	}
	fmt.Printf("batch %s: %d posts, %d success, %d failed, %d events\n",
		res.BatchID, res.PostsCount, res.Stats.Success, res.Stats.Failed, res.Stats.EventsFound)
	return nil
}

func (a application) runCheckBatch(ctx context.Context, batchID string) error {
	c, err := a.classifier()
	if err != nil {
		return err
	}

	job, err := c.CheckBatch(ctx, batchID)
	if err != nil {
		return err
	}

	fmt.Printf("batch %s: %s (%d/%d done, %d failed)\n", job.ID, job.Status, job.Completed, job.Total, job.Failed)
	return nil
}

func (a application) runCompleteBatch(ctx context.Context, batchID string) error {
	c, err := a.classifier()
	if err != nil {
		return err
	}

	stats, ready, err := c.CompleteBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !ready {
		fmt.Printf("batch %s is not finished yet\n", batchID)
		return nil
	}

	fmt.Printf("batch %s: %d total, %d success, %d failed, %d events\n",
		batchID, stats.Total, stats.Success, stats.Failed, stats.EventsFound)
	return nil
}

func (a application) runDigest(ctx context.Context) error {
	pub, err := a.publisher()
	if err != nil {
		return err
	}

	report, err := pub.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("published %d events in %d messages\n", report.Events, report.Messages)
	return nil
}

func (a application) runEvents(ctx context.Context) error {
	now := time.Now().UTC()
	events, err := a.repo.EventsBetween(ctx, now.Truncate(24*time.Hour), now.Add(a.cfg.DigestWindow))
	if err != nil {
		return err
	}

	for _, e := range events {
		title := "(untitled)"
		if e.Title != nil {
			title = *e.Title
		}
		marker := ""
		if e.DateIsApproximate {
			marker = "~"
		}
		fmt.Printf("%s%s  %s  %s\n", marker, e.EventDate.Format("2006-01-02"), title, e.PostLink)
	}
	fmt.Printf("%d events in the next %s\n", len(events), a.cfg.DigestWindow)
	return nil
}

func (a application) runParse(ctx context.Context, url string) error {
	fetcher := feed.NewFetcher(a.cfg.FetchTimeout)

	doc, err := fetcher.ParseURL(ctx, url)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%d items)\n", doc.Title, len(doc.Items))
	for _, item := range doc.Items {
		fmt.Printf("- %s\n  %s\n", item.Title, item.Link)
	}
	return nil
}

func (a application) runAddChannel(ctx context.Context, name string) error {
	ch, err := a.repo.InsertChannel(ctx, name, nil)
	if err != nil {
		return err
	}

	fmt.Printf("added channel %s (%s)\n", ch.Name, ingest.FeedURL(ch))
	return nil
}

func (a application) runStats(ctx context.Context) error {
	stats, err := a.repo.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("posts: %d total, %d processed, %d unprocessed, %d events, %d published\n",
		stats.Total, stats.Processed, stats.Unprocessed, stats.Events, stats.Published)
	return nil
}

// buildPipeline wires the three agents. Classification and digest are only
// included when their credentials are configured, so a bare setup can still
// run ingests.
func (a application) buildPipeline() (*pipeline.Pipeline, error) {
	ing, err := a.ingestor()
	if err != nil {
		return nil, err
	}

	agents := []pipeline.Agent{
		pipeline.AgentFunc{AgentName: "ingest", Fn: func(ctx context.Context) error {
			_, err := ing.Run(ctx)
			return err
		}},
	}

	if a.cfg.OpenAIAPIKey != "" {
		c, err := a.classifier()
		if err != nil {
			return nil, err
		}
		agents = append(agents, pipeline.AgentFunc{AgentName: "classify", Fn: func(ctx context.Context) error {
			_, err := c.Run(ctx)
			return err
		}})
	}

	if a.cfg.TelegramBotToken != "" && a.cfg.TelegramChatID != "" {
		pub, err := a.publisher()
		if err != nil {
			return nil, err
		}
		agents = append(agents, pipeline.AgentFunc{AgentName: "digest", Fn: func(ctx context.Context) error {
			_, err := pub.Run(ctx)
			return err
		}})
	}

	return pipeline.New(pipeline.Config{
		AgentTimeout: a.cfg.AgentTimeout,
		MaxRetries:   a.cfg.AgentMaxRetries,
		RetryDelay:   a.cfg.AgentRetryDelay,
	}, agents...), nil
}

func (a application) runPipeline(ctx context.Context, loop bool) error {
	p, err := a.buildPipeline()
	if err != nil {
		return err
	}

	if !loop {
		summary, err := p.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pipeline finished: %d agents, %d failed\n", len(summary.Results), summary.Failed)
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(func() error {
		ticker := time.NewTicker(a.cfg.PipelineInterval)
		defer ticker.Stop()

		for {
			if _, err := p.Run(loopCtx); err != nil {
				// The next tick gets a fresh chance.
				slog.ErrorContext(loopCtx, "pipeline run failed", "error", err)
			}

			select {
			case <-loopCtx.Done():
				return loopCtx.Err()
			case <-ticker.C:
			}
		}
	}, func(error) {
		cancel()
	})

	err = g.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
