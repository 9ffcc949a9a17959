// Package leveldb provides an embedded, durable Backend on top of goleveldb.
// Objects and the event log share one database; each Commit is a single
// atomic batch.
package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/R3E-Network/provenance_layer/internal/app/storage"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
)

var (
	objectPrefix = []byte("o/")
	eventPrefix  = []byte("e/")
	seqKey       = []byte("m/seq")
)

// Store is a goleveldb-backed Backend. Commits are serialised in-process;
// the database must not be shared between processes.
type Store struct {
	db   *leveldb.DB
	sync bool

	mu  sync.Mutex
	seq uint64
}

var _ storage.Backend = (*Store)(nil)

// Open opens (or creates) a database directory. When syncWrites is set every
// commit is fsynced before returning.
func Open(path string, syncWrites bool) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return newStore(db, syncWrites)
}

// OpenInMemory opens a database held entirely in memory.
func OpenInMemory() (*Store, error) {
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newStore(db, false)
}

func newStore(db *leveldb.DB, syncWrites bool) (*Store, error) {
	s := &Store{db: db, sync: syncWrites}
	raw, err := db.Get(seqKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("read sequence: %w", err)
	default:
		s.seq = binary.BigEndian.Uint64(raw)
	}
	return s, nil
}

func objectKey(kind, id string) []byte {
	return []byte(string(objectPrefix) + kind + "/" + id)
}

func eventKey(seq uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], seq)
	return key
}

func (s *Store) Get(_ context.Context, kind, id string) (storage.Object, error) {
	raw, err := s.db.Get(objectKey(kind, id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return storage.Object{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Object{}, err
	}
	var obj storage.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return storage.Object{}, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return obj, nil
}

func (s *Store) List(_ context.Context, kind string) ([]storage.Object, error) {
	iter := s.db.NewIterator(util.BytesPrefix(objectKey(kind, "")), nil)
	defer iter.Release()

	var result []storage.Object
	for iter.Next() {
		var obj storage.Object
		if err := json.Unmarshal(iter.Value(), &obj); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		result = append(result, obj)
	}
	return result, iter.Error()
}

func (s *Store) Commit(_ context.Context, writes []storage.Write, records []events.Record) ([]events.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		raw, err := s.db.Get(objectKey(w.Kind, w.ID), nil)
		exists := err == nil
		if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
			return nil, err
		}
		if w.Version == 0 {
			if exists {
				return nil, storage.ErrVersionConflict
			}
			continue
		}
		if !exists {
			return nil, storage.ErrVersionConflict
		}
		var current storage.Object
		if err := json.Unmarshal(raw, &current); err != nil {
			return nil, err
		}
		if current.Version != w.Version {
			return nil, storage.ErrVersionConflict
		}
	}

	batch := new(leveldb.Batch)
	now := time.Now().UTC()
	for _, w := range writes {
		key := objectKey(w.Kind, w.ID)
		if w.Delete {
			batch.Delete(key)
			continue
		}
		data, err := json.Marshal(storage.Object{Kind: w.Kind, ID: w.ID, Version: w.Version + 1, Data: w.Data, UpdatedAt: now})
		if err != nil {
			return nil, err
		}
		batch.Put(key, data)
	}

	seq := s.seq
	committed := make([]events.Record, len(records))
	for i, rec := range records {
		seq++
		rec.Seq = seq
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		batch.Put(eventKey(seq), data)
		committed[i] = rec
	}
	if len(records) > 0 {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], seq)
		batch.Put(seqKey, buf[:])
	}

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: s.sync}); err != nil {
		return nil, fmt.Errorf("write batch: %w", err)
	}
	s.seq = seq
	return committed, nil
}

func (s *Store) Events(_ context.Context, after uint64, limit int) ([]events.Record, error) {
	iter := s.db.NewIterator(&util.Range{Start: eventKey(after + 1), Limit: eventKey(^uint64(0))}, nil)
	defer iter.Release()

	var result []events.Record
	for iter.Next() {
		if limit > 0 && len(result) >= limit {
			break
		}
		var rec events.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, iter.Error()
}

func (s *Store) Close() error {
	return s.db.Close()
}
