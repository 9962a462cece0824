package digest

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ksusonic/event-platform/internal/platform"
)

//go:embed summary_prompt.txt
var summaryPrompt string

// ClaudeSummarizer asks Claude for a short intro paragraph describing the
// digest's contents.
type ClaudeSummarizer struct {
	client anthropic.Client
}

var _ Summarizer = (*ClaudeSummarizer)(nil)

func NewClaudeSummarizer(client anthropic.Client) *ClaudeSummarizer {
	return &ClaudeSummarizer{client: client}
}

func (s *ClaudeSummarizer) Summarize(ctx context.Context, events []platform.Event) (string, error) {
	byts, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("error marshaling events: %w", err)
	}

	resp, err := s.client.Beta.Messages.New(ctx, anthropic.BetaMessageNewParams{
		Model:     anthropic.ModelClaudeHaiku4_5,
		MaxTokens: 512,
		System: []anthropic.BetaTextBlockParam{{
			Text: summaryPrompt,
		}},
		Messages: []anthropic.BetaMessageParam{
			anthropic.NewBetaUserMessage(anthropic.NewBetaTextBlock(string(byts))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("error calling claude: %w", err)
	}

	var b strings.Builder
	for _, content := range resp.Content {
		b.WriteString(content.Text)
	}

	return strings.TrimSpace(b.String()), nil
}
