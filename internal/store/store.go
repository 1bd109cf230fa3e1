// Package store defines the roster persistence contract and an in-memory
// implementation. Database-backed implementations live in subpackages.
package store

import (
	"context"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/google/uuid"
)

type Driver string

const (
	DriverMemory   Driver = "memory"   // process-local, tests / ephemeral
	DriverPostgres Driver = "postgres" // gorm + pg_notify change feed
	DriverMongo    Driver = "mongo"    // document store, optional change streams
)

// Store persists sessions and their roster entries. Every mutation is atomic
// on its own; Relocate in particular never copies an entry.
//
// Errors are the roster sentinels: ErrSessionNotFound, ErrSessionExists,
// ErrSessionNotEmpty, ErrEntryNotFound and ErrLocationFull.
type Store interface {
	CreateSession(ctx context.Context, id string) error
	SessionExists(ctx context.Context, id string) (bool, error)
	// DeleteSession removes the session marker. It refuses while entries remain.
	DeleteSession(ctx context.Context, id string) error

	List(ctx context.Context, session string, loc roster.Location) ([]roster.Entry, error)
	Get(ctx context.Context, session string, loc roster.Location, id string) (roster.Entry, error)
	// Insert stores e under e.SessionID / e.Location with a fresh ID. limit > 0
	// rejects the write once the location holds limit entries.
	Insert(ctx context.Context, e roster.Entry, limit int) (roster.Entry, error)
	Relocate(ctx context.Context, session, id string, from, to roster.Location, limit int) (roster.Entry, error)
	Delete(ctx context.Context, session string, loc roster.Location, id string) error
	Patch(ctx context.Context, session string, loc roster.Location, id string, p roster.Patch) (roster.Entry, error)
	// StepLevel adds delta to the entry's level in one atomic write. At the
	// MinLevel/MaxLevel bound nothing is written and the entry is returned as is.
	StepLevel(ctx context.Context, session string, loc roster.Location, id string, delta int) (roster.Entry, error)

	Close() error
}

// ChangeFeed is implemented by stores that can observe writes made by other
// processes. notify receives the changed session id, or "" when unknown.
type ChangeFeed interface {
	WatchChanges(ctx context.Context, notify func(sessionID string)) error
}

// NewID returns a fresh entry identity.
func NewID() string { return uuid.NewString() }

// Now is the placement clock; tests may replace it.
var Now = func() time.Time { return time.Now().UTC() }
