// Package ledger is the transactional command layer every state mutation goes
// through. A transaction declares the objects it touches, runs against a
// consistent view of them, and commits its writes together with its events as
// one atomic batch on a storage.Backend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/app/storage"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

// Key addresses one versioned object.
type Key struct {
	Kind string
	ID   string
}

// K is shorthand for Key{kind, id}.
func K(kind, id string) Key { return Key{Kind: kind, ID: id} }

func (k Key) String() string { return k.Kind + "/" + k.ID }

// Observer receives transaction outcomes. The metrics package implements it.
type Observer interface {
	TxCommitted(writes, records int, elapsed time.Duration)
	TxAborted(reason string)
}

// Engine executes transactions.
type Engine struct {
	backend   storage.Backend
	clock     *monotonic
	publisher events.Publisher
	observer  Observer
	locks     *lockTable
	log       *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher fans committed records out after each commit.
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithObserver reports commit/abort outcomes.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithLogger overrides the engine logger.
func WithLogger(l *logger.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an Engine. A nil clock uses the system clock.
func New(backend storage.Backend, clock Clock, opts ...Option) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	e := &Engine{
		backend: backend,
		clock:   &monotonic{clock: clock},
		locks:   newLockTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.NewDefault("ledger")
	}
	return e
}

// Backend returns the underlying storage.
func (e *Engine) Backend() storage.Backend { return e.backend }

// Now returns the current wall time of the underlying clock without
// reserving a transaction timestamp. Read-only checks use it.
func (e *Engine) Now() time.Time { return e.clock.clock.Now().UTC() }

// Execute runs fn as one atomic transaction on behalf of sender. Every key in
// keys is locked exclusively for the duration; other objects may still be
// read and written but rely on version checks alone. When fn returns an
// error nothing is persisted and the error is returned unchanged.
func (e *Engine) Execute(ctx context.Context, sender string, keys []Key, fn func(*Tx) error) error {
	if sender == "" {
		return apperrors.ErrUnauthenticated
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	release := e.locks.acquire(keys)
	defer release()

	start := time.Now()
	tx := &Tx{
		ctx:    ctx,
		engine: e,
		sender: sender,
		now:    e.clock.next(),
		reads:  make(map[Key]storage.Object),
		writes: make(map[Key]*storage.Write),
	}

	if err := fn(tx); err != nil {
		e.aborted(err)
		return err
	}

	writes := tx.stagedWrites()
	if len(writes) == 0 && len(tx.records) == 0 {
		return nil
	}

	committed, err := e.backend.Commit(ctx, writes, tx.records)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			e.aborted(apperrors.ErrConflict)
			return apperrors.ErrConflict.Wrap(err)
		}
		e.aborted(err)
		e.log.WithError(err).WithField("sender", sender).Error("ledger commit failed")
		return apperrors.Internal("commit transaction", err)
	}

	if e.observer != nil {
		e.observer.TxCommitted(len(writes), len(committed), time.Since(start))
	}
	if e.publisher != nil && len(committed) > 0 {
		e.publisher.Publish(committed...)
	}
	return nil
}

func (e *Engine) aborted(err error) {
	if e.observer == nil {
		return
	}
	reason := string(apperrors.CodeInternal)
	if se := apperrors.GetServiceError(err); se != nil {
		reason = string(se.Code)
	}
	e.observer.TxAborted(reason)
}

// Events pages through the committed event log.
func (e *Engine) Events(ctx context.Context, after uint64, limit int) ([]events.Record, error) {
	return e.backend.Events(ctx, after, limit)
}

// Fetch decodes one committed object outside any transaction.
func Fetch[T any](ctx context.Context, e *Engine, key Key) (T, error) {
	var out T
	obj, err := e.backend.Get(ctx, key.Kind, key.ID)
	if err != nil {
		return out, mapStorageErr(key, err)
	}
	if err := decode(key, obj.Data, &out); err != nil {
		return out, err
	}
	return out, nil
}

// FetchAll decodes every committed object of a kind that matches keep. A nil
// keep returns everything.
func FetchAll[T any](ctx context.Context, e *Engine, kind string, keep func(T) bool) ([]T, error) {
	objs, err := e.backend.List(ctx, kind)
	if err != nil {
		return nil, apperrors.Internal("list "+kind, err)
	}
	result := make([]T, 0, len(objs))
	for _, obj := range objs {
		var v T
		if err := decode(K(obj.Kind, obj.ID), obj.Data, &v); err != nil {
			return nil, err
		}
		if keep == nil || keep(v) {
			result = append(result, v)
		}
	}
	return result, nil
}

func mapStorageErr(key Key, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound(key.Kind, key.ID)
	}
	return apperrors.Internal(fmt.Sprintf("load %s", key), err)
}
