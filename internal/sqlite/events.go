package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ksusonic/event-platform/internal/platform"
)

const eventNamespace = "-evt"

// UpsertEvent keeps at most one event per post: a replayed reconciliation
// overwrites the existing row for the same post link.
func (r Repo) UpsertEvent(ctx context.Context, e platform.Event) (platform.Event, error) {
	const q = `INSERT INTO events (
		id, post_link, title, summary, event_date, date_is_approximate,
		location, event_type, confidence, additional_data
	) VALUES (
		:id, :post_link, :title, :summary, :event_date, :date_is_approximate,
		:location, :event_type, :confidence, :additional_data
	)
	ON CONFLICT (post_link) DO UPDATE SET
		title = excluded.title,
		summary = excluded.summary,
		event_date = excluded.event_date,
		date_is_approximate = excluded.date_is_approximate,
		location = excluded.location,
		event_type = excluded.event_type,
		confidence = excluded.confidence,
		additional_data = excluded.additional_data,
		updated_at = CURRENT_TIMESTAMP;`

	if e.ID == "" {
		e.ID = fmt.Sprintf("%s%s", uuid.NewString(), eventNamespace)
	}
	if _, err := r.db.NamedExecContext(ctx, q, e); err != nil {
		return platform.Event{}, fmt.Errorf("error upserting event: %s", err)
	}

	return r.EventByPostLink(ctx, e.PostLink)
}

func (r Repo) EventByPostLink(ctx context.Context, postLink string) (platform.Event, error) {
	const q = `SELECT * FROM events WHERE post_link = ?;`

	var e platform.Event
	err := r.db.GetContext(ctx, &e, q, postLink)
	if errors.Is(err, sql.ErrNoRows) {
		return platform.Event{}, platform.ErrNotFound
	}
	if err != nil {
		return platform.Event{}, fmt.Errorf("error fetching event: %s", err)
	}

	return e, nil
}

func (r Repo) EventsBetween(ctx context.Context, from, to time.Time) ([]platform.Event, error) {
	const q = `SELECT * FROM events
	WHERE event_date >= ? AND event_date < ?
	ORDER BY event_date ASC;`

	var events []platform.Event
	if err := r.db.SelectContext(ctx, &events, q, from, to); err != nil {
		return nil, fmt.Errorf("error selecting events: %s", err)
	}

	return events, nil
}

func (r Repo) UnpublishedEvents(ctx context.Context, from, to time.Time, limit int) ([]platform.Event, error) {
	const q = `SELECT events.* FROM events
	INNER JOIN posts ON posts.link = events.post_link
	WHERE posts.is_published = 0
		AND events.event_date >= ? AND events.event_date < ?
	ORDER BY events.event_date ASC
	LIMIT ?;`

	var events []platform.Event
	if err := r.db.SelectContext(ctx, &events, q, from, to, limit); err != nil {
		return nil, fmt.Errorf("error selecting unpublished events: %s", err)
	}

	return events, nil
}
