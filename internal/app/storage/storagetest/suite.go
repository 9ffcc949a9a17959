// Package storagetest holds a behavioural suite shared by every Backend
// implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/app/storage"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
)

// Run exercises a fresh backend produced by newBackend for each subtest.
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	t.Helper()

	t.Run("CreateGetList", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		_, err := b.Commit(ctx, []storage.Write{
			{Kind: "content", ID: "b", Data: []byte(`{"n":2}`)},
			{Kind: "content", ID: "a", Data: []byte(`{"n":1}`)},
			{Kind: "verifier", ID: "v", Data: []byte(`{}`)},
		}, nil)
		if err != nil {
			t.Fatalf("commit: %v", err)
		}

		obj, err := b.Get(ctx, "content", "a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if obj.Version != 1 || string(obj.Data) != `{"n":1}` {
			t.Fatalf("unexpected object %+v", obj)
		}

		list, err := b.List(ctx, "content")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
			t.Fatalf("unexpected list %+v", list)
		}

		if _, err := b.Get(ctx, "content", "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("VersionConflictAbortsWholeBatch", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		if _, err := b.Commit(ctx, []storage.Write{{Kind: "task", ID: "t1", Data: []byte(`{"v":1}`)}}, nil); err != nil {
			t.Fatalf("seed: %v", err)
		}

		_, err := b.Commit(ctx, []storage.Write{
			{Kind: "task", ID: "t2", Data: []byte(`{}`)},
			{Kind: "task", ID: "t1", Version: 7, Data: []byte(`{"v":2}`)},
		}, []events.Record{{Type: events.TaskCreated, EntityID: "t2"}})
		if !errors.Is(err, storage.ErrVersionConflict) {
			t.Fatalf("expected version conflict, got %v", err)
		}
		if _, err := b.Get(ctx, "task", "t2"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("partial batch applied: %v", err)
		}
		recs, err := b.Events(ctx, 0, 10)
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if len(recs) != 0 {
			t.Fatalf("events of aborted batch persisted: %+v", recs)
		}

		if _, err := b.Commit(ctx, []storage.Write{{Kind: "task", ID: "t1", Data: []byte(`{}`)}}, nil); !errors.Is(err, storage.ErrVersionConflict) {
			t.Fatalf("create over existing object should conflict, got %v", err)
		}
	})

	t.Run("UpdateAndDelete", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		if _, err := b.Commit(ctx, []storage.Write{{Kind: "capability", ID: "c1", Data: []byte(`{}`)}}, nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if _, err := b.Commit(ctx, []storage.Write{{Kind: "capability", ID: "c1", Version: 1, Data: []byte(`{"x":1}`)}}, nil); err != nil {
			t.Fatalf("update: %v", err)
		}
		obj, err := b.Get(ctx, "capability", "c1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if obj.Version != 2 {
			t.Fatalf("version = %d, want 2", obj.Version)
		}
		if _, err := b.Commit(ctx, []storage.Write{{Kind: "capability", ID: "c1", Version: 2, Delete: true}}, nil); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := b.Get(ctx, "capability", "c1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected deleted object, got %v", err)
		}
	})

	t.Run("EventLogOrdering", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		first, err := b.Commit(ctx, nil, []events.Record{
			{Type: events.ContentRegistered, EntityID: "c1", Actor: "alice", Timestamp: ts},
			{Type: events.PolicyCreated, EntityID: "p1", Actor: "alice", Timestamp: ts},
		})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		if first[0].Seq != 1 || first[1].Seq != 2 {
			t.Fatalf("unexpected seqs %d,%d", first[0].Seq, first[1].Seq)
		}
		if _, err := b.Commit(ctx, nil, []events.Record{{
			Type: events.GrantIssued, EntityID: "g1", Actor: "alice", Timestamp: ts,
			Attributes: map[string]string{"role": "viewer"},
		}}); err != nil {
			t.Fatalf("commit: %v", err)
		}

		all, err := b.Events(ctx, 0, 0)
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 events, got %d", len(all))
		}
		tail, err := b.Events(ctx, 1, 1)
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if len(tail) != 1 || tail[0].Seq != 2 || tail[0].EntityID != "p1" {
			t.Fatalf("unexpected page %+v", tail)
		}
		if all[2].Attributes["role"] != "viewer" || !all[2].Timestamp.Equal(ts) {
			t.Fatalf("record not preserved: %+v", all[2])
		}
	})
}
