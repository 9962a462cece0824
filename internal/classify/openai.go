package classify

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/ksusonic/event-platform/internal/platform"
)

// OpenAIBatchAPI drives the OpenAI Batch API: upload the request file,
// create the job, poll it, download the output file.
type OpenAIBatchAPI struct {
	client openai.Client
}

var _ BatchAPI = (*OpenAIBatchAPI)(nil)

func NewOpenAIBatchAPI(apiKey string) *OpenAIBatchAPI {
	return &OpenAIBatchAPI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (o *OpenAIBatchAPI) SubmitBatch(ctx context.Context, payload []byte) (platform.BatchJob, error) {
	file, err := o.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(payload), "batch_requests.jsonl", "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return platform.BatchJob{}, fmt.Errorf("error uploading batch file: %w", err)
	}

	batch, err := o.client.Batches.New(ctx, openai.BatchNewParams{
		InputFileID:      file.ID,
		Endpoint:         openai.BatchNewParamsEndpointV1ChatCompletions,
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
	})
	if err != nil {
		return platform.BatchJob{}, fmt.Errorf("error creating batch: %w", err)
	}

	return toBatchJob(batch), nil
}

func (o *OpenAIBatchAPI) BatchStatus(ctx context.Context, batchID string) (platform.BatchJob, error) {
	batch, err := o.client.Batches.Get(ctx, batchID)
	if err != nil {
		return platform.BatchJob{}, fmt.Errorf("error fetching batch %s: %w", batchID, err)
	}

	return toBatchJob(batch), nil
}

func (o *OpenAIBatchAPI) FetchResults(ctx context.Context, outputFileID string) ([]byte, error) {
	res, err := o.client.Files.Content(ctx, outputFileID)
	if err != nil {
		return nil, fmt.Errorf("error fetching file %s: %w", outputFileID, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", outputFileID, err)
	}

	return body, nil
}

func toBatchJob(batch *openai.Batch) platform.BatchJob {
	return platform.BatchJob{
		ID:           batch.ID,
		Status:       platform.BatchStatus(batch.Status),
		Total:        int(batch.RequestCounts.Total),
		Completed:    int(batch.RequestCounts.Completed),
		Failed:       int(batch.RequestCounts.Failed),
		OutputFileID: batch.OutputFileID,
	}
}
