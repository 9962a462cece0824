// Package sqlite implements the platform repositories over a sqlite
// database accessed through sqlx.
package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/ksusonic/event-platform/internal/platform"
)

// Ensure Repo implements the service interfaces.
var (
	_ platform.ChannelService    = (*Repo)(nil)
	_ platform.PostService       = (*Repo)(nil)
	_ platform.RequestLogService = (*Repo)(nil)
	_ platform.EventService      = (*Repo)(nil)
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}
