// Package platform holds the domain records shared by the pipeline agents
// and the repository interfaces the storage layer implements.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type (
	// Channel is a Telegram channel the ingestor pulls posts from, by way
	// of an RSS-bridge feed.
	Channel struct {
		ID          string    `db:"id"`
		Name        string    `db:"name"`
		Description *string   `db:"description"`
		URL         *string   `db:"url"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}

	// Post is one ingested feed item, keyed by its link. A post is created
	// once per unique link and later mutated by the classifier and the
	// digest publisher.
	Post struct {
		Link        string     `db:"link"`
		Content     string     `db:"content"`
		PubDate     *time.Time `db:"pub_date"`
		Media       *string    `db:"media"` // JSON array of media URLs
		IsProcessed bool       `db:"is_processed"`

		// Nullable until the classifier has seen the post.
		IsEvent            *bool   `db:"is_event"`
		ClassificationData *string `db:"classification_data"` // JSON

		CreatedAt    time.Time  `db:"created_at"`
		UpdatedAt    time.Time  `db:"updated_at"`
		ClassifiedAt *time.Time `db:"classified_at"`

		IsPublished bool       `db:"is_published"`
		PublishedAt *time.Time `db:"published_at"`
	}

	// PostStats are the aggregate counts shown after a pipeline run.
	PostStats struct {
		Total       int `db:"total"`
		Processed   int `db:"processed"`
		Events      int `db:"events"`
		Published   int `db:"published"`
		Unprocessed int `db:"unprocessed"`
	}

	// ListPostsArgs holds the optional filters for listing posts.
	ListPostsArgs struct {
		Processed *bool
		IsEvent   *bool
		Limit     uint64
		Offset    uint64
	}

	ChannelService interface {
		AllChannels(ctx context.Context) ([]Channel, error)
		InsertChannel(ctx context.Context, name string, url *string) (Channel, error)
	}

	PostService interface {
		Post(ctx context.Context, link string) (Post, error)
		// InsertPost creates the post, returning ErrConflict when the
		// link is already stored.
		InsertPost(ctx context.Context, p Post) error
		Posts(ctx context.Context, args ListPostsArgs) ([]Post, error)
		// Unprocessed returns posts the classifier has not seen yet,
		// oldest first.
		Unprocessed(ctx context.Context, limit int) ([]Post, error)
		// MarkProcessed overwrites the post's classification fields.
		MarkProcessed(ctx context.Context, link string, isEvent bool, classificationData string) error
		MarkPublished(ctx context.Context, links []string) error
		Stats(ctx context.Context) (PostStats, error)
	}
)
