package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RequestLogStatus is the lifecycle of a single classification request.
// Exactly one terminal transition (completed or failed) is expected per row.
type RequestLogStatus string

const (
	RequestLogStatusPending   RequestLogStatus = "pending"
	RequestLogStatusCompleted RequestLogStatus = "completed"
	RequestLogStatusFailed    RequestLogStatus = "failed"
)

// BatchStatus mirrors the state machine of the external batch job API. The
// classifier treats the job as opaque and polls until a terminal status.
type BatchStatus string

const (
	BatchStatusValidating BatchStatus = "validating"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusFinalizing BatchStatus = "finalizing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusExpired    BatchStatus = "expired"
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether polling should stop at this status.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired, BatchStatusCancelled:
		return true
	}
	return false
}

type (
	// BatchJob is the externally-owned job the classifier polls.
	BatchJob struct {
		ID           string
		Status       BatchStatus
		Total        int
		Completed    int
		Failed       int
		OutputFileID string
	}

	// RequestLog is the audit record for one classification request. It is
	// written with status pending before the batch is submitted, so a crash
	// between build and submit still leaves a trail.
	RequestLog struct {
		ID           string           `db:"id"`
		CustomID     string           `db:"custom_id"`
		BatchID      *string          `db:"batch_id"`
		PostLink     string           `db:"post_link"`
		Model        string           `db:"model"`
		RequestData  string           `db:"request_data"` // JSON
		Status       RequestLogStatus `db:"status"`
		StatusCode   *int             `db:"status_code"`
		ResponseData *string          `db:"response_data"` // JSON
		TokensUsed   *int             `db:"tokens_used"`
		CostEstimate *float64         `db:"cost_estimate"`
		ErrorMessage *string          `db:"error_message"`
		CreatedAt    time.Time        `db:"created_at"`
		UpdatedAt    time.Time        `db:"updated_at"`
	}

	// RequestLogResult holds the terminal fields applied to a RequestLog
	// once its batch line has been reconciled.
	RequestLogResult struct {
		Status       RequestLogStatus
		StatusCode   *int
		ResponseData *string
		TokensUsed   *int
		CostEstimate *float64
		ErrorMessage *string
	}

	RequestLogService interface {
		InsertRequestLog(ctx context.Context, rl RequestLog) error
		RequestLogByCustomID(ctx context.Context, customID string) (RequestLog, error)
		RequestLogsByBatchID(ctx context.Context, batchID string) ([]RequestLog, error)
		// AttachBatchID sets the batch id on every pending log that does
		// not have one yet.
		AttachBatchID(ctx context.Context, customIDs []string, batchID string) error
		ResolveRequestLog(ctx context.Context, customID string, res RequestLogResult) error
	}
)

// EventDetails are the optional nested fields of a positive classification.
type EventDetails struct {
	Date     string `json:"date"`
	Location string `json:"location"`
	Type     string `json:"type"`
}

// Classification is the payload the model returns for one post.
type Classification struct {
	IsEvent      bool          `json:"is_event"`
	Confidence   float64       `json:"confidence"`
	EventDetails *EventDetails `json:"event_details,omitempty"`
}

// ParseClassification validates a raw model response. It fails fast on
// missing required fields instead of defaulting silently.
func ParseClassification(raw []byte) (Classification, error) {
	var probe struct {
		IsEvent    *bool         `json:"is_event"`
		Confidence *float64      `json:"confidence"`
		Details    *EventDetails `json:"event_details"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Classification{}, fmt.Errorf("error unmarshaling classification: %w", err)
	}
	if probe.IsEvent == nil {
		return Classification{}, fmt.Errorf("classification missing is_event field")
	}
	if probe.Confidence == nil {
		return Classification{}, fmt.Errorf("classification missing confidence field")
	}
	if *probe.Confidence < 0 || *probe.Confidence > 1 {
		return Classification{}, fmt.Errorf("confidence %f out of range [0,1]", *probe.Confidence)
	}

	return Classification{
		IsEvent:      *probe.IsEvent,
		Confidence:   *probe.Confidence,
		EventDetails: probe.Details,
	}, nil
}
