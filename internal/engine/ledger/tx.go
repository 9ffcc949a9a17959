package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/app/storage"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
)

// Tx is an open transaction. It is not safe for concurrent use.
type Tx struct {
	ctx     context.Context
	engine  *Engine
	sender  string
	now     time.Time
	reads   map[Key]storage.Object
	writes  map[Key]*storage.Write
	order   []Key
	records []events.Record
}

// Sender is the authenticated caller.
func (tx *Tx) Sender() string { return tx.sender }

// Now is the transaction timestamp. It is strictly greater than the
// timestamp of any earlier transaction on the same engine.
func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) Context() context.Context { return tx.ctx }

// load returns the current view of key, including staged writes.
func (tx *Tx) load(key Key) (data []byte, found bool, err error) {
	if w, ok := tx.writes[key]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return w.Data, true, nil
	}
	if obj, ok := tx.reads[key]; ok {
		return obj.Data, obj.Version > 0, nil
	}
	obj, err := tx.engine.backend.Get(tx.ctx, key.Kind, key.ID)
	switch {
	case err == nil:
		tx.reads[key] = obj
		return obj.Data, true, nil
	case isNotFound(err):
		// Remember the miss so a later Put creates with version 0.
		tx.reads[key] = storage.Object{Kind: key.Kind, ID: key.ID}
		return nil, false, nil
	default:
		return nil, false, mapStorageErr(key, err)
	}
}

// Get decodes key inside the transaction. Missing objects yield a NotFound
// service error.
func Get[T any](tx *Tx, key Key) (T, error) {
	v, found, err := Lookup[T](tx, key)
	if err != nil {
		return v, err
	}
	if !found {
		return v, apperrors.NotFound(key.Kind, key.ID)
	}
	return v, nil
}

// Lookup is Get without the NotFound error.
func Lookup[T any](tx *Tx, key Key) (T, bool, error) {
	var out T
	data, found, err := tx.load(key)
	if err != nil || !found {
		return out, false, err
	}
	if err := decode(key, data, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// Exists reports whether key currently holds an object.
func (tx *Tx) Exists(key Key) (bool, error) {
	_, found, err := tx.load(key)
	return found, err
}

// Put stages v as the new value of key. The commit fails with a conflict if
// the object changed since it was first read by this transaction.
func (tx *Tx) Put(key Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Internal(fmt.Sprintf("encode %s", key), err)
	}
	if _, _, err := tx.load(key); err != nil {
		return err
	}
	w, ok := tx.writes[key]
	if !ok {
		w = &storage.Write{Kind: key.Kind, ID: key.ID, Version: tx.reads[key].Version}
		tx.writes[key] = w
		tx.order = append(tx.order, key)
	}
	w.Data = data
	w.Delete = false
	return nil
}

// Delete stages removal of key. Deleting a missing object is a no-op.
func (tx *Tx) Delete(key Key) error {
	_, found, err := tx.load(key)
	if err != nil {
		return err
	}
	w, staged := tx.writes[key]
	if !found && !staged {
		return nil
	}
	if !staged {
		w = &storage.Write{Kind: key.Kind, ID: key.ID, Version: tx.reads[key].Version}
		tx.writes[key] = w
		tx.order = append(tx.order, key)
	}
	w.Delete = true
	w.Data = nil
	return nil
}

// Emit appends an event stamped with the sender and transaction time.
func (tx *Tx) Emit(t events.Type, entityID string, attrs map[string]string) {
	tx.records = append(tx.records, events.Record{
		Type:       t,
		EntityID:   entityID,
		Actor:      tx.sender,
		Timestamp:  tx.now,
		Attributes: attrs,
	})
}

func (tx *Tx) stagedWrites() []storage.Write {
	out := make([]storage.Write, 0, len(tx.order))
	for _, key := range tx.order {
		w := tx.writes[key]
		// created and deleted within the same transaction
		if w.Delete && w.Version == 0 {
			continue
		}
		out = append(out, *w)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func decode(key Key, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Internal(fmt.Sprintf("decode %s", key), err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
