package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/app/storage"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
)

// Store is an in-memory Backend. It is safe for concurrent use and is
// primarily intended for tests and local development.
type Store struct {
	mu      sync.RWMutex
	objects map[string]map[string]storage.Object
	log     []events.Record
	seq     uint64
}

var _ storage.Backend = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{objects: make(map[string]map[string]storage.Object)}
}

func (s *Store) Get(_ context.Context, kind, id string) (storage.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[kind][id]
	if !ok {
		return storage.Object{}, storage.ErrNotFound
	}
	return cloneObject(obj), nil
}

func (s *Store) List(_ context.Context, kind string) ([]storage.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.objects[kind]
	result := make([]storage.Object, 0, len(byID))
	for _, obj := range byID {
		result = append(result, cloneObject(obj))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) Commit(_ context.Context, writes []storage.Write, records []events.Record) ([]events.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		current, exists := s.objects[w.Kind][w.ID]
		switch {
		case w.Version == 0 && exists:
			return nil, storage.ErrVersionConflict
		case w.Version != 0 && (!exists || current.Version != w.Version):
			return nil, storage.ErrVersionConflict
		}
	}

	now := time.Now().UTC()
	for _, w := range writes {
		if w.Delete {
			delete(s.objects[w.Kind], w.ID)
			continue
		}
		byID, ok := s.objects[w.Kind]
		if !ok {
			byID = make(map[string]storage.Object)
			s.objects[w.Kind] = byID
		}
		byID[w.ID] = storage.Object{
			Kind:      w.Kind,
			ID:        w.ID,
			Version:   w.Version + 1,
			Data:      append([]byte(nil), w.Data...),
			UpdatedAt: now,
		}
	}

	committed := make([]events.Record, len(records))
	for i, rec := range records {
		s.seq++
		rec.Seq = s.seq
		rec.Attributes = cloneAttrs(rec.Attributes)
		s.log = append(s.log, rec)
		committed[i] = rec
	}
	return committed, nil
}

func (s *Store) Events(_ context.Context, after uint64, limit int) ([]events.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// seq n lives at index n-1
	start := int(after)
	if start >= len(s.log) {
		return nil, nil
	}
	end := len(s.log)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	result := make([]events.Record, 0, end-start)
	for _, rec := range s.log[start:end] {
		rec.Attributes = cloneAttrs(rec.Attributes)
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) Close() error { return nil }

func cloneObject(obj storage.Object) storage.Object {
	obj.Data = append([]byte(nil), obj.Data...)
	return obj
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
