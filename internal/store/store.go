// Package store is the durable side of the app: a SQLite-backed draft
// store, the active-session pointer, guest-report flags, and the
// home/booking directory.
package store

import (
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) Store {
	return Store{DB: db, Now: time.Now}
}

func (s Store) now() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
