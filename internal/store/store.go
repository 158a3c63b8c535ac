// Package store is the persistence gateway for chat and notification data.
// It issues parameterized SQL through safedb and owns no state of its own.
package store

import (
	"errors"
	"time"

	"github.com/developerYeasin/blood-donation-backend/internal/safedb"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for requests the schema cannot represent.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store implements every persistence operation the relay, dispatcher and
// HTTP API consume.
type Store struct {
	db  *safedb.DB
	now func() time.Time
}

// New creates a store over db.
func New(db *safedb.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the wrapped connection for health checks.
func (s *Store) DB() *safedb.DB {
	return s.db
}

func (s *Store) timestamp() string {
	return types.FormatTime(s.now())
}
