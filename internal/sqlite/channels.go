package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/ksusonic/event-platform/internal/platform"
)

const channelNamespace = "-chan"

func (r Repo) AllChannels(ctx context.Context) ([]platform.Channel, error) {
	const q = `SELECT * FROM channels ORDER BY name ASC;`

	var channels []platform.Channel
	if err := r.db.SelectContext(ctx, &channels, q); err != nil {
		return nil, fmt.Errorf("error selecting channels: %s", err)
	}

	return channels, nil
}

func (r Repo) InsertChannel(ctx context.Context, name string, url *string) (platform.Channel, error) {
	const q = `INSERT INTO channels (id, name, url) VALUES (:id, :name, :url);`

	c := platform.Channel{
		ID:   fmt.Sprintf("%s%s", uuid.NewString(), channelNamespace),
		Name: name,
		URL:  url,
	}
	_, err := r.db.NamedExecContext(ctx, q, c)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 {
		return platform.Channel{}, fmt.Errorf("channel already exists: %w", platform.ErrConflict)
	}
	if err != nil {
		return platform.Channel{}, fmt.Errorf("error inserting channel: %s", err)
	}

	return r.channel(ctx, c.ID)
}

func (r Repo) channel(ctx context.Context, id string) (platform.Channel, error) {
	const q = `SELECT * FROM channels WHERE id = ?;`

	var c platform.Channel
	err := r.db.GetContext(ctx, &c, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return platform.Channel{}, platform.ErrNotFound
	}
	if err != nil {
		return platform.Channel{}, fmt.Errorf("error fetching channel: %s", err)
	}

	return c, nil
}
