// Package pipeline runs the ingest, classify, and digest agents in order,
// with per-agent timeouts and retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

type (
	// Agent is one stage of the pipeline.
	Agent interface {
		Name() string
		Run(ctx context.Context) error
	}

	Config struct {
		// AgentTimeout bounds a single attempt, not the whole stage.
		AgentTimeout time.Duration
		MaxRetries   uint64
		RetryDelay   time.Duration
	}

	Pipeline struct {
		agents []Agent
		cfg    Config
	}

	// AgentResult is the outcome of one stage, failed or not.
	AgentResult struct {
		Agent    string
		Err      error
		Duration time.Duration
	}

	Summary struct {
		Results []AgentResult
		Failed  int
	}
)

func New(cfg Config, agents ...Agent) *Pipeline {
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 10 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}

	return &Pipeline{agents: agents, cfg: cfg}
}

// Run executes the agents sequentially. A failure of the first agent aborts
// the run, since every later stage would be working on stale input; failures
// further down are recorded and the remaining agents still run. Cancelling
// the context stops everything.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	for i, agent := range p.agents {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		start := time.Now()
		err := p.runAgent(ctx, agent)
		result := AgentResult{
			Agent:    agent.Name(),
			Err:      err,
			Duration: time.Since(start),
		}
		summary.Results = append(summary.Results, result)

		if err == nil {
			slog.InfoContext(ctx, "agent finished", "agent", agent.Name(), "duration", result.Duration)
			continue
		}

		summary.Failed++
		slog.ErrorContext(ctx, "agent failed", "agent", agent.Name(), "error", err)

		if errors.Is(err, context.Canceled) {
			return summary, err
		}
		if i == 0 {
			return summary, fmt.Errorf("first agent %s failed, aborting run: %w", agent.Name(), err)
		}
	}

	return summary, nil
}

// runAgent retries one stage with a constant delay. Every attempt gets a
// fresh timeout.
func (p *Pipeline) runAgent(ctx context.Context, agent Agent) error {
	backoff := retry.WithMaxRetries(p.cfg.MaxRetries, retry.NewConstant(p.cfg.RetryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AgentTimeout)
		defer cancel()

		if err := agent.Run(attemptCtx); err != nil {
			slog.WarnContext(ctx, "agent attempt failed", "agent", agent.Name(), "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// AgentFunc adapts a bare function into an Agent.
type AgentFunc struct {
	AgentName string
	Fn        func(ctx context.Context) error
}

func (a AgentFunc) Name() string                  { return a.AgentName }
func (a AgentFunc) Run(ctx context.Context) error { return a.Fn(ctx) }
