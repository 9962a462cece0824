package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ksusonic/event-platform/internal/platform"
)

type (
	// batchRequest is one line of the uploaded batch input file.
	batchRequest struct {
		CustomID string             `json:"custom_id"`
		Method   string             `json:"method"`
		URL      string             `json:"url"`
		Body     chatCompletionBody `json:"body"`
	}

	chatCompletionBody struct {
		Model          string          `json:"model"`
		Messages       []chatMessage   `json:"messages"`
		MaxTokens      int             `json:"max_tokens"`
		Temperature    float64         `json:"temperature"`
		ResponseFormat *responseFormat `json:"response_format,omitempty"`
	}

	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	responseFormat struct {
		Type string `json:"type"`
	}
)

// Submit builds the batch input file for the given posts, writes a pending
// request log per post, uploads the batch, and returns the job along with
// the custom-id index used to join results back to posts.
//
// Request logs are written before the upload so a crash mid-submit still
// leaves an audit trail; the batch id is attached afterwards best-effort.
func (c *Classifier) Submit(ctx context.Context, posts []platform.Post) (platform.BatchJob, map[string]platform.Post, error) {
	var (
		buf       bytes.Buffer
		enc       = json.NewEncoder(&buf)
		index     = make(map[string]platform.Post, len(posts))
		customIDs = make([]string, 0, len(posts))
	)

	for _, post := range posts {
		req := c.buildRequest(post)

		raw, err := json.Marshal(req)
		if err != nil {
			return platform.BatchJob{}, nil, fmt.Errorf("error marshaling request for %s: %w", post.Link, err)
		}

		if err := c.logs.InsertRequestLog(ctx, platform.RequestLog{
			CustomID:    req.CustomID,
			PostLink:    post.Link,
			Model:       c.cfg.Model,
			RequestData: string(raw),
		}); err != nil {
			return platform.BatchJob{}, nil, fmt.Errorf("error logging request for %s: %w", post.Link, err)
		}

		if err := enc.Encode(req); err != nil {
			return platform.BatchJob{}, nil, fmt.Errorf("error encoding request for %s: %w", post.Link, err)
		}

		index[req.CustomID] = post
		customIDs = append(customIDs, req.CustomID)
	}

	job, err := c.api.SubmitBatch(ctx, buf.Bytes())
	if err != nil {
		return platform.BatchJob{}, nil, fmt.Errorf("error submitting batch: %w", err)
	}

	// Reconciliation joins on custom id, so a missing batch id only costs
	// us the CompleteBatch recovery path.
	if err := c.logs.AttachBatchID(ctx, customIDs, job.ID); err != nil {
		slog.WarnContext(ctx, "could not attach batch id to request logs", "batch_id", job.ID, "error", err)
	}

	return job, index, nil
}

func (c *Classifier) buildRequest(post platform.Post) batchRequest {
	content := truncate(post.Content, c.cfg.ContentLimit)

	date := "unknown"
	if post.PubDate != nil {
		date = post.PubDate.Format("2006-01-02")
	}

	return batchRequest{
		CustomID: uuid.NewString(),
		Method:   "POST",
		URL:      "/v1/chat/completions",
		Body: chatCompletionBody{
			Model: c.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: fmt.Sprintf(userPromptTemplate, post.Link, content, date)},
			},
			MaxTokens:      c.cfg.MaxTokens,
			Temperature:    c.cfg.Temperature,
			ResponseFormat: &responseFormat{Type: "json_object"},
		},
	}
}
