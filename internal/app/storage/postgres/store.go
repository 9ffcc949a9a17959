package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/provenance_layer/internal/app/storage"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
)

// Store implements storage.Backend backed by PostgreSQL. Schema lives in
// internal/platform/migrations.
type Store struct {
	db *sqlx.DB
}

var _ storage.Backend = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects using the lib/pq driver.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sql.DB { return s.db.DB }

func (s *Store) Get(ctx context.Context, kind, id string) (storage.Object, error) {
	var obj storage.Object
	err := s.db.GetContext(ctx, &obj, `
		SELECT kind, id, version, data, updated_at
		FROM provenance_objects
		WHERE kind = $1 AND id = $2
	`, kind, id)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Object{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Object{}, err
	}
	return obj, nil
}

func (s *Store) List(ctx context.Context, kind string) ([]storage.Object, error) {
	var result []storage.Object
	if err := s.db.SelectContext(ctx, &result, `
		SELECT kind, id, version, data, updated_at
		FROM provenance_objects
		WHERE kind = $1
		ORDER BY id
	`, kind); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Commit(ctx context.Context, writes []storage.Write, records []events.Record) ([]events.Record, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, w := range writes {
		var result sql.Result
		switch {
		case w.Delete:
			result, err = tx.ExecContext(ctx, `
				DELETE FROM provenance_objects
				WHERE kind = $1 AND id = $2 AND version = $3
			`, w.Kind, w.ID, w.Version)
		case w.Version == 0:
			result, err = tx.ExecContext(ctx, `
				INSERT INTO provenance_objects (kind, id, version, data, updated_at)
				VALUES ($1, $2, 1, $3, $4)
				ON CONFLICT (kind, id) DO NOTHING
			`, w.Kind, w.ID, w.Data, now)
		default:
			result, err = tx.ExecContext(ctx, `
				UPDATE provenance_objects
				SET version = version + 1, data = $4, updated_at = $5
				WHERE kind = $1 AND id = $2 AND version = $3
			`, w.Kind, w.ID, w.Version, w.Data, now)
		}
		if err != nil {
			return nil, fmt.Errorf("write %s/%s: %w", w.Kind, w.ID, err)
		}
		if rows, _ := result.RowsAffected(); rows != 1 {
			return nil, storage.ErrVersionConflict
		}
	}

	committed := make([]events.Record, len(records))
	for i, rec := range records {
		attrs, err := json.Marshal(rec.Attributes)
		if err != nil {
			return nil, err
		}
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO provenance_events (type, entity_id, actor, occurred_at, attributes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING seq
		`, string(rec.Type), rec.EntityID, rec.Actor, rec.Timestamp, attrs).Scan(&rec.Seq); err != nil {
			return nil, fmt.Errorf("append event: %w", err)
		}
		committed[i] = rec
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return committed, nil
}

type eventRow struct {
	Seq        uint64    `db:"seq"`
	Type       string    `db:"type"`
	EntityID   string    `db:"entity_id"`
	Actor      string    `db:"actor"`
	OccurredAt time.Time `db:"occurred_at"`
	Attributes []byte    `db:"attributes"`
}

func (s *Store) Events(ctx context.Context, after uint64, limit int) ([]events.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT seq, type, entity_id, actor, occurred_at, attributes
		FROM provenance_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`, after, limit); err != nil {
		return nil, err
	}

	result := make([]events.Record, 0, len(rows))
	for _, row := range rows {
		rec := events.Record{
			Seq:       row.Seq,
			Type:      events.Type(row.Type),
			EntityID:  row.EntityID,
			Actor:     row.Actor,
			Timestamp: row.OccurredAt.UTC(),
		}
		if len(row.Attributes) > 0 {
			_ = json.Unmarshal(row.Attributes, &rec.Attributes)
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
