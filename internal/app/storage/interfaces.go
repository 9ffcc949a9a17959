package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/engine/events"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("storage: object not found")
	// ErrVersionConflict is returned by Commit when an expected version does
	// not match the stored one. No write of the batch is applied.
	ErrVersionConflict = errors.New("storage: version conflict")
)

// Object is a versioned JSON document addressed by kind and id.
type Object struct {
	Kind      string    `json:"kind" db:"kind"`
	ID        string    `json:"id" db:"id"`
	Version   uint64    `json:"version" db:"version"`
	Data      []byte    `json:"data" db:"data"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Write stages a mutation. Version is the version the caller observed: zero
// means the object must not exist yet. A successful write stores Version+1.
type Write struct {
	Kind    string
	ID      string
	Version uint64
	Data    []byte
	Delete  bool
}

// Backend persists objects and the event log. Commit applies every write and
// appends every record atomically, or nothing at all.
type Backend interface {
	Get(ctx context.Context, kind, id string) (Object, error)
	List(ctx context.Context, kind string) ([]Object, error)
	// Commit assigns sequence numbers to records and returns them in order.
	Commit(ctx context.Context, writes []Write, records []events.Record) ([]events.Record, error)
	// Events returns up to limit records with Seq > after, oldest first.
	Events(ctx context.Context, after uint64, limit int) ([]events.Record, error)
	Close() error
}
