package classify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ksusonic/event-platform/internal/feed"
	"github.com/ksusonic/event-platform/internal/platform"
)

// Per-token prices in dollars per million, for the cost estimate column.
const (
	promptCostPerMillion     = 0.15
	completionCostPerMillion = 0.60
)

const (
	maxTitleLen   = 500
	maxSummaryLen = 1000
)

type (
	// batchResultLine is one line of the downloaded batch output file.
	batchResultLine struct {
		CustomID string `json:"custom_id"`
		Response *struct {
			StatusCode int                    `json:"status_code"`
			Body       chatCompletionResponse `json:"body"`
		} `json:"response"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	chatCompletionResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
)

// Reconcile applies a downloaded results file to the store, line by line.
// Each line lands exactly one outcome on its post and request log; a
// malformed line is counted failed and never aborts the rest of the file.
func (c *Classifier) Reconcile(ctx context.Context, results []byte, index map[string]platform.Post) Stats {
	var stats Stats

	scanner := bufio.NewScanner(bytes.NewReader(results))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Total++

		var res batchResultLine
		if err := json.Unmarshal(line, &res); err != nil {
			slog.WarnContext(ctx, "skipping malformed result line", "error", err)
			stats.Failed++
			continue
		}

		if c.reconcileLine(ctx, res, index, &stats) {
			stats.Success++
		} else {
			stats.Failed++
		}
	}
	if err := scanner.Err(); err != nil {
		slog.ErrorContext(ctx, "error scanning results file", "error", err)
	}

	return stats
}

// reconcileLine lands one result. Returns true only when the post was
// marked processed successfully.
func (c *Classifier) reconcileLine(ctx context.Context, res batchResultLine, index map[string]platform.Post, stats *Stats) bool {
	post, ok := index[res.CustomID]
	if !ok {
		// The API echoed an id we never issued, or the post disappeared.
		// Close out the log so the row does not stay pending forever.
		msg := "Post not found in current batch"
		c.resolve(ctx, res.CustomID, platform.RequestLogResult{
			Status:       platform.RequestLogStatusCompleted,
			ErrorMessage: &msg,
		})
		slog.WarnContext(ctx, "result for unknown custom id", "custom_id", res.CustomID)
		return false
	}

	if res.Error != nil {
		msg := res.Error.Message
		c.resolve(ctx, res.CustomID, platform.RequestLogResult{
			Status:       platform.RequestLogStatusFailed,
			ErrorMessage: &msg,
		})
		slog.WarnContext(ctx, "request failed", "link", post.Link, "error", msg)
		return false
	}

	if res.Response == nil || res.Response.StatusCode != http.StatusOK {
		code := 0
		if res.Response != nil {
			code = res.Response.StatusCode
		}
		msg := fmt.Sprintf("unexpected status code %d", code)
		c.resolve(ctx, res.CustomID, platform.RequestLogResult{
			Status:       platform.RequestLogStatusFailed,
			StatusCode:   &code,
			ErrorMessage: &msg,
		})
		slog.WarnContext(ctx, "request failed", "link", post.Link, "status_code", code)
		return false
	}

	body := res.Response.Body
	if len(body.Choices) == 0 {
		msg := "response has no choices"
		code := res.Response.StatusCode
		c.resolve(ctx, res.CustomID, platform.RequestLogResult{
			Status:       platform.RequestLogStatusFailed,
			StatusCode:   &code,
			ErrorMessage: &msg,
		})
		return false
	}

	content := body.Choices[0].Message.Content
	classification, err := platform.ParseClassification([]byte(content))
	if err != nil {
		msg := err.Error()
		code := res.Response.StatusCode
		c.resolve(ctx, res.CustomID, platform.RequestLogResult{
			Status:       platform.RequestLogStatusFailed,
			StatusCode:   &code,
			ErrorMessage: &msg,
		})
		slog.WarnContext(ctx, "unparseable classification", "link", post.Link, "error", err)
		return false
	}

	if err := c.posts.MarkProcessed(ctx, post.Link, classification.IsEvent, content); err != nil {
		msg := err.Error()
		c.resolve(ctx, res.CustomID, platform.RequestLogResult{
			Status:       platform.RequestLogStatusFailed,
			ErrorMessage: &msg,
		})
		slog.ErrorContext(ctx, "error marking post processed", "link", post.Link, "error", err)
		return false
	}

	code := res.Response.StatusCode
	tokens := body.Usage.TotalTokens
	cost := float64(body.Usage.PromptTokens)*promptCostPerMillion/1e6 +
		float64(body.Usage.CompletionTokens)*completionCostPerMillion/1e6
	c.resolve(ctx, res.CustomID, platform.RequestLogResult{
		Status:       platform.RequestLogStatusCompleted,
		StatusCode:   &code,
		ResponseData: &content,
		TokensUsed:   &tokens,
		CostEstimate: &cost,
	})

	if classification.IsEvent {
		stats.EventsFound++
		// A failed upsert loses the event row but not the classification;
		// the post stays processed either way.
		if _, err := c.events.UpsertEvent(ctx, deriveEvent(post, classification)); err != nil {
			slog.ErrorContext(ctx, "error upserting event", "link", post.Link, "error", err)
		}
	}

	return true
}

func (c *Classifier) resolve(ctx context.Context, customID string, res platform.RequestLogResult) {
	if err := c.logs.ResolveRequestLog(ctx, customID, res); err != nil {
		slog.ErrorContext(ctx, "error resolving request log", "custom_id", customID, "error", err)
	}
}

// deriveEvent builds the event row for a positively classified post.
func deriveEvent(post platform.Post, cls platform.Classification) platform.Event {
	e := platform.Event{
		PostLink:   post.Link,
		Confidence: cls.Confidence,
	}

	title := truncate(titleFromLink(post.Link), maxTitleLen)
	if title != "" {
		e.Title = &title
	}

	summary := truncate(post.Content, maxSummaryLen)
	if summary != "" {
		e.Summary = &summary
	}

	if cls.EventDetails != nil {
		if loc := cls.EventDetails.Location; loc != "" {
			e.Location = &loc
		}
		if typ := cls.EventDetails.Type; typ != "" {
			e.EventType = &typ
		}
		if raw, err := json.Marshal(cls.EventDetails); err == nil {
			data := string(raw)
			e.AdditionalData = &data
		}

		if cls.EventDetails.Date != "" {
			if parsed := feed.ParsePubDate(cls.EventDetails.Date); parsed != nil {
				e.EventDate = parsed
			}
		}
	}

	// No usable date from the model: fall back to the post's publish date
	// and flag it so downstream consumers know it is a guess.
	if e.EventDate == nil {
		e.EventDate = post.PubDate
		e.DateIsApproximate = true
	}

	return e
}

// titleFromLink uses the last path segment of the post link, which for
// Telegram bridge links is the message number scoped by channel.
func titleFromLink(link string) string {
	trimmed := strings.TrimRight(link, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
