package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		AgentTimeout: time.Second,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	}
}

func TestRun_AllAgentsSucceed(t *testing.T) {
	var order []string
	agent := func(name string) Agent {
		return AgentFunc{AgentName: name, Fn: func(context.Context) error {
			order = append(order, name)
			return nil
		}}
	}

	p := New(testConfig(), agent("ingest"), agent("classify"), agent("digest"))
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"ingest", "classify", "digest"}, order)
	assert.Zero(t, summary.Failed)
	require.Len(t, summary.Results, 3)
	for _, r := range summary.Results {
		assert.NoError(t, r.Err)
	}
}

func TestRun_FirstAgentFailureAborts(t *testing.T) {
	var classifyRan bool

	p := New(testConfig(),
		AgentFunc{AgentName: "ingest", Fn: func(context.Context) error {
			return errors.New("feed unreachable")
		}},
		AgentFunc{AgentName: "classify", Fn: func(context.Context) error {
			classifyRan = true
			return nil
		}},
	)

	summary, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborting run")
	assert.False(t, classifyRan)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
}

func TestRun_LaterFailureContinues(t *testing.T) {
	var digestRan bool

	p := New(testConfig(),
		AgentFunc{AgentName: "ingest", Fn: func(context.Context) error { return nil }},
		AgentFunc{AgentName: "classify", Fn: func(context.Context) error {
			return errors.New("batch API down")
		}},
		AgentFunc{AgentName: "digest", Fn: func(context.Context) error {
			digestRan = true
			return nil
		}},
	)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, digestRan)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 3)
	assert.Error(t, summary.Results[1].Err)
}

func TestRun_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	p := New(testConfig(), AgentFunc{AgentName: "flaky", Fn: func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Zero(t, summary.Failed)
}

func TestRun_RetriesExhausted(t *testing.T) {
	attempts := 0
	p := New(testConfig(), AgentFunc{AgentName: "broken", Fn: func(context.Context) error {
		attempts++
		return errors.New("permanent")
	}})

	_, err := p.Run(context.Background())
	require.Error(t, err)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 3, attempts)
}

func TestRun_AttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.AgentTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 0

	p := New(cfg, AgentFunc{AgentName: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_CancellationStopsPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var secondRan bool
	p := New(testConfig(),
		AgentFunc{AgentName: "first", Fn: func(context.Context) error {
			cancel()
			return nil
		}},
		AgentFunc{AgentName: "second", Fn: func(context.Context) error {
			secondRan = true
			return nil
		}},
	)

	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, secondRan)
}
