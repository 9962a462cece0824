package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"

	"github.com/ksusonic/event-platform/internal/platform"
)

func (r Repo) Post(ctx context.Context, link string) (platform.Post, error) {
	const q = `SELECT * FROM posts WHERE link = ?;`

	var p platform.Post
	err := r.db.GetContext(ctx, &p, q, link)
	if errors.Is(err, sql.ErrNoRows) {
		return platform.Post{}, platform.ErrNotFound
	}
	if err != nil {
		return platform.Post{}, fmt.Errorf("error fetching post: %s", err)
	}

	return p, nil
}

func (r Repo) InsertPost(ctx context.Context, p platform.Post) error {
	const q = `INSERT INTO posts (link, content, pub_date, media) VALUES (:link, :content, :pub_date, :media);`

	_, err := r.db.NamedExecContext(ctx, q, p)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 1555 {
		return fmt.Errorf("post already exists: %w", platform.ErrConflict)
	}
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 {
		return fmt.Errorf("post already exists: %w", platform.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("error inserting post: %s", err)
	}

	return nil
}

func (r Repo) Posts(ctx context.Context, args platform.ListPostsArgs) ([]platform.Post, error) {
	q := sq.Select("*").From("posts").OrderBy("created_at DESC")
	if args.Processed != nil {
		q = q.Where(sq.Eq{"is_processed": *args.Processed})
	}
	if args.IsEvent != nil {
		q = q.Where(sq.Eq{"is_event": *args.IsEvent})
	}
	if args.Limit > 0 {
		q = q.Limit(args.Limit)
	}
	if args.Offset > 0 {
		q = q.Offset(args.Offset)
	}

	query, queryArgs, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var posts []platform.Post
	if err := r.db.SelectContext(ctx, &posts, query, queryArgs...); err != nil {
		return nil, fmt.Errorf("error selecting posts: %s", err)
	}

	return posts, nil
}

func (r Repo) Unprocessed(ctx context.Context, limit int) ([]platform.Post, error) {
	const q = `SELECT * FROM posts WHERE is_processed = 0 ORDER BY created_at ASC LIMIT ?;`

	var posts []platform.Post
	if err := r.db.SelectContext(ctx, &posts, q, limit); err != nil {
		return nil, fmt.Errorf("error selecting unprocessed posts: %s", err)
	}

	return posts, nil
}

// MarkProcessed is a full overwrite of the post's classification fields, so
// replaying a results file converges instead of compounding.
func (r Repo) MarkProcessed(ctx context.Context, link string, isEvent bool, classificationData string) error {
	const q = `UPDATE posts
	SET is_processed = 1,
		is_event = ?,
		classification_data = ?,
		classified_at = ?,
		updated_at = ?
	WHERE link = ?;`

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, q, isEvent, classificationData, now, now, link)
	if err != nil {
		return fmt.Errorf("error marking post processed: %s", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return platform.ErrNotFound
	}

	return nil
}

func (r Repo) MarkPublished(ctx context.Context, links []string) error {
	if len(links) == 0 {
		return nil
	}

	query, args, err := sq.Update("posts").
		Set("is_published", 1).
		Set("published_at", time.Now().UTC()).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"link": links}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error marking posts published: %s", err)
	}

	return nil
}

func (r Repo) Stats(ctx context.Context) (platform.PostStats, error) {
	const q = `SELECT
		COUNT(*) AS total,
		COALESCE(SUM(is_processed), 0) AS processed,
		COALESCE(SUM(CASE WHEN is_event = 1 THEN 1 ELSE 0 END), 0) AS events,
		COALESCE(SUM(is_published), 0) AS published,
		COALESCE(SUM(CASE WHEN is_processed = 0 THEN 1 ELSE 0 END), 0) AS unprocessed
	FROM posts;`

	var stats platform.PostStats
	if err := r.db.GetContext(ctx, &stats, q); err != nil {
		return platform.PostStats{}, fmt.Errorf("error counting posts: %s", err)
	}

	return stats, nil
}
