package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/ksusonic/event-platform/internal/platform"
)

const requestLogNamespace = "-rlog"

func (r Repo) InsertRequestLog(ctx context.Context, rl platform.RequestLog) error {
	const q = `INSERT INTO request_logs (id, custom_id, batch_id, post_link, model, request_data, status)
	VALUES (:id, :custom_id, :batch_id, :post_link, :model, :request_data, :status);`

	if rl.ID == "" {
		rl.ID = fmt.Sprintf("%s%s", uuid.NewString(), requestLogNamespace)
	}
	if rl.Status == "" {
		rl.Status = platform.RequestLogStatusPending
	}
	if _, err := r.db.NamedExecContext(ctx, q, rl); err != nil {
		return fmt.Errorf("error inserting request log: %s", err)
	}

	return nil
}

func (r Repo) RequestLogByCustomID(ctx context.Context, customID string) (platform.RequestLog, error) {
	const q = `SELECT * FROM request_logs WHERE custom_id = ?;`

	var rl platform.RequestLog
	err := r.db.GetContext(ctx, &rl, q, customID)
	if errors.Is(err, sql.ErrNoRows) {
		return platform.RequestLog{}, platform.ErrNotFound
	}
	if err != nil {
		return platform.RequestLog{}, fmt.Errorf("error fetching request log: %s", err)
	}

	return rl, nil
}

func (r Repo) RequestLogsByBatchID(ctx context.Context, batchID string) ([]platform.RequestLog, error) {
	const q = `SELECT * FROM request_logs WHERE batch_id = ? ORDER BY created_at ASC;`

	var logs []platform.RequestLog
	if err := r.db.SelectContext(ctx, &logs, q, batchID); err != nil {
		return nil, fmt.Errorf("error selecting request logs: %s", err)
	}

	return logs, nil
}

// AttachBatchID backfills the batch id onto pending logs created before the
// batch existed. Logs that already have one are left alone.
func (r Repo) AttachBatchID(ctx context.Context, customIDs []string, batchID string) error {
	if len(customIDs) == 0 {
		return nil
	}

	query, args, err := sq.Update("request_logs").
		Set("batch_id", batchID).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"custom_id": customIDs}).
		Where(sq.Eq{"batch_id": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error attaching batch id: %s", err)
	}

	return nil
}

func (r Repo) ResolveRequestLog(ctx context.Context, customID string, res platform.RequestLogResult) error {
	const q = `UPDATE request_logs
	SET status = ?,
		status_code = ?,
		response_data = ?,
		tokens_used = ?,
		cost_estimate = ?,
		error_message = ?,
		updated_at = ?
	WHERE custom_id = ?;`

	out, err := r.db.ExecContext(ctx, q,
		res.Status,
		res.StatusCode,
		res.ResponseData,
		res.TokensUsed,
		res.CostEstimate,
		res.ErrorMessage,
		time.Now().UTC(),
		customID,
	)
	if err != nil {
		return fmt.Errorf("error resolving request log: %s", err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return platform.ErrNotFound
	}

	return nil
}
