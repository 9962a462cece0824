// Package classify submits unclassified posts to an external LLM batch job
// API and reconciles the asynchronous results back onto the stored posts.
package classify

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ksusonic/event-platform/internal/platform"
)

//go:embed system_prompt.txt
var systemPrompt string

//go:embed user_prompt.txt
var userPromptTemplate string

// ErrBatchTimeout is returned when a batch does not reach a terminal status
// within the configured maximum wait.
var ErrBatchTimeout = errors.New("timed out waiting for batch completion")

type (
	// BatchAPI is the external batch job collaborator: upload a file of
	// newline-delimited requests, poll the job, fetch the output file.
	BatchAPI interface {
		SubmitBatch(ctx context.Context, payload []byte) (platform.BatchJob, error)
		BatchStatus(ctx context.Context, batchID string) (platform.BatchJob, error)
		FetchResults(ctx context.Context, outputFileID string) ([]byte, error)
	}

	Config struct {
		Model        string
		BatchSize    int
		MaxTokens    int
		Temperature  float64
		ContentLimit int
		PollInterval time.Duration
		MaxWait      time.Duration
	}

	// Classifier drives one batch through
	// build -> submit -> poll -> download -> reconcile.
	Classifier struct {
		api    BatchAPI
		posts  platform.PostService
		logs   platform.RequestLogService
		events platform.EventService
		cfg    Config
	}

	// Stats summarizes one reconciliation pass.
	Stats struct {
		Total       int
		Success     int
		Failed      int
		EventsFound int
	}

	// RunResult is what a full classification run reports upward.
	RunResult struct {
		BatchID    string
		PostsCount int
		Stats      Stats
	}
)

func New(api BatchAPI, posts platform.PostService, logs platform.RequestLogService, events platform.EventService, cfg Config) *Classifier {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.ContentLimit <= 0 {
		cfg.ContentLimit = 2000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Hour
	}

	return &Classifier{
		api:    api,
		posts:  posts,
		logs:   logs,
		events: events,
		cfg:    cfg,
	}
}

// Run takes one batch of unclassified posts end to end. A run with nothing
// to classify is not an error.
func (c *Classifier) Run(ctx context.Context) (RunResult, error) {
	posts, err := c.posts.Unprocessed(ctx, c.cfg.BatchSize)
	if err != nil {
		return RunResult{}, fmt.Errorf("error fetching unprocessed posts: %w", err)
	}
	if len(posts) == 0 {
		slog.InfoContext(ctx, "no unprocessed posts to classify")
		return RunResult{}, nil
	}

	slog.InfoContext(ctx, "submitting classification batch", "posts", len(posts), "model", c.cfg.Model)

	job, index, err := c.Submit(ctx, posts)
	if err != nil {
		return RunResult{}, err
	}

	job, err = c.WaitForCompletion(ctx, job.ID)
	if err != nil {
		return RunResult{BatchID: job.ID, PostsCount: len(posts)}, err
	}

	results, ready, err := c.DownloadResults(ctx, job.ID)
	if err != nil {
		return RunResult{BatchID: job.ID, PostsCount: len(posts)}, err
	}
	if !ready {
		return RunResult{BatchID: job.ID, PostsCount: len(posts)}, fmt.Errorf("batch %s has no downloadable results", job.ID)
	}

	stats := c.Reconcile(ctx, results, index)

	slog.InfoContext(ctx, "classification batch reconciled",
		"batch_id", job.ID,
		"total", stats.Total,
		"success", stats.Success,
		"failed", stats.Failed,
		"events_found", stats.EventsFound,
	)

	return RunResult{BatchID: job.ID, PostsCount: len(posts), Stats: stats}, nil
}

// CheckBatch reports the current status of a previously submitted batch.
func (c *Classifier) CheckBatch(ctx context.Context, batchID string) (platform.BatchJob, error) {
	return c.api.BatchStatus(ctx, batchID)
}

// CompleteBatch downloads and reconciles a batch submitted by an earlier
// run, rebuilding the custom-id index from the persisted request logs.
// Returns ready=false without side effects when the batch is not done.
func (c *Classifier) CompleteBatch(ctx context.Context, batchID string) (Stats, bool, error) {
	results, ready, err := c.DownloadResults(ctx, batchID)
	if err != nil || !ready {
		return Stats{}, ready, err
	}

	logs, err := c.logs.RequestLogsByBatchID(ctx, batchID)
	if err != nil {
		return Stats{}, true, fmt.Errorf("error fetching request logs: %w", err)
	}

	index := make(map[string]platform.Post, len(logs))
	for _, rl := range logs {
		post, err := c.posts.Post(ctx, rl.PostLink)
		if errors.Is(err, platform.ErrNotFound) {
			continue
		}
		if err != nil {
			return Stats{}, true, fmt.Errorf("error fetching post %s: %w", rl.PostLink, err)
		}
		index[rl.CustomID] = post
	}

	return c.Reconcile(ctx, results, index), true, nil
}

// WaitForCompletion polls the job until it reaches a terminal status or the
// configured maximum wait elapses. Cancelling the context interrupts an
// in-flight wait between polls.
func (c *Classifier) WaitForCompletion(ctx context.Context, batchID string) (platform.BatchJob, error) {
	deadline := time.Now().Add(c.cfg.MaxWait)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, err := c.api.BatchStatus(ctx, batchID)
		if err != nil {
			return platform.BatchJob{ID: batchID}, fmt.Errorf("error polling batch %s: %w", batchID, err)
		}

		slog.InfoContext(ctx, "batch status",
			"batch_id", batchID,
			"status", job.Status,
			"completed", job.Completed,
			"total", job.Total,
		)

		if job.Status == platform.BatchStatusCompleted {
			return job, nil
		}
		if job.Status.Terminal() {
			return job, fmt.Errorf("batch %s ended with status %s", batchID, job.Status)
		}

		if time.Now().After(deadline) {
			return job, fmt.Errorf("batch %s: %w", batchID, ErrBatchTimeout)
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadResults fetches the output file of a completed batch. Returns
// ready=false, with no side effects, when the batch has not completed or has
// no output file yet.
func (c *Classifier) DownloadResults(ctx context.Context, batchID string) ([]byte, bool, error) {
	job, err := c.api.BatchStatus(ctx, batchID)
	if err != nil {
		return nil, false, fmt.Errorf("error fetching batch %s: %w", batchID, err)
	}

	if job.Status != platform.BatchStatusCompleted || job.OutputFileID == "" {
		slog.InfoContext(ctx, "batch results not ready", "batch_id", batchID, "status", job.Status)
		return nil, false, nil
	}

	results, err := c.api.FetchResults(ctx, job.OutputFileID)
	if err != nil {
		return nil, true, fmt.Errorf("error downloading results for batch %s: %w", batchID, err)
	}

	return results, true, nil
}
