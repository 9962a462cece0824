package platform

import (
	"context"
	"time"
)

type (
	// Event is derived from a post the classifier marked positive. At most
	// one event exists per post; re-reconciling the same results file
	// overwrites the existing row instead of duplicating it.
	Event struct {
		ID       string  `db:"id"`
		PostLink string  `db:"post_link"`
		Title    *string `db:"title"`
		Summary  *string `db:"summary"`

		EventDate *time.Time `db:"event_date"`
		// Set when the model gave no date, or one we could not parse.
		DateIsApproximate bool `db:"date_is_approximate"`

		Location       *string   `db:"location"`
		EventType      *string   `db:"event_type"`
		Confidence     float64   `db:"confidence"`
		AdditionalData *string   `db:"additional_data"` // JSON
		CreatedAt      time.Time `db:"created_at"`
		UpdatedAt      time.Time `db:"updated_at"`
	}

	EventService interface {
		// UpsertEvent inserts the event, or overwrites the existing one
		// for the same post link.
		UpsertEvent(ctx context.Context, e Event) (Event, error)
		EventByPostLink(ctx context.Context, postLink string) (Event, error)
		// EventsBetween returns events whose date falls in [from, to),
		// soonest first.
		EventsBetween(ctx context.Context, from, to time.Time) ([]Event, error)
		// UnpublishedEvents returns events whose date falls in [from, to)
		// and whose originating post has not been published in a digest
		// yet, soonest first.
		UnpublishedEvents(ctx context.Context, from, to time.Time, limit int) ([]Event, error)
	}
)
