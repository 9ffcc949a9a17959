package events

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

func rec(seq uint64, t Type, entity string) Record {
	return Record{Seq: seq, Type: t, EntityID: entity, Actor: "alice", Timestamp: time.Unix(int64(seq), 0).UTC()}
}

func TestRingBuffer_PublishAndRecent(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Publish(rec(1, ContentRegistered, "c1"), rec(2, TaskCreated, "t1"))

	if rb.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", rb.Count())
	}
	recent := rb.Recent(5)
	if len(recent) != 2 {
		t.Fatalf("Recent len = %d, want 2", len(recent))
	}
	if recent[0].Seq != 2 || recent[1].Seq != 1 {
		t.Fatalf("expected most recent first, got %d,%d", recent[0].Seq, recent[1].Seq)
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := uint64(1); i <= 10; i++ {
		rb.Publish(rec(i, VoteCast, "t1"))
	}
	if rb.Count() != 5 {
		t.Fatalf("Count() = %d, want 5 (capped)", rb.Count())
	}
	recent := rb.Recent(5)
	if recent[0].Seq != 10 || recent[4].Seq != 6 {
		t.Fatalf("unexpected window: first=%d last=%d", recent[0].Seq, recent[4].Seq)
	}
}

func TestRingBuffer_Filters(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Publish(
		rec(1, ContentRegistered, "c1"),
		rec(2, VoteCast, "t1"),
		rec(3, VoteCast, "t2"),
		rec(4, TaskFinalized, "t1"),
	)

	votes := rb.RecentByType(VoteCast, 10)
	if len(votes) != 2 {
		t.Fatalf("RecentByType len = %d, want 2", len(votes))
	}
	t1 := rb.RecentByEntity("t1", 10)
	if len(t1) != 2 || t1[0].Type != TaskFinalized {
		t.Fatalf("RecentByEntity unexpected: %+v", t1)
	}
}

func TestRingBuffer_SubscribeAndUnsubscribe(t *testing.T) {
	rb := NewRingBuffer(10)

	var mu sync.Mutex
	var all, filtered []uint64
	unsubAll := rb.Subscribe(func(r Record) {
		mu.Lock()
		all = append(all, r.Seq)
		mu.Unlock()
	})
	rb.SubscribeFiltered(OfTypes(TaskFinalized), func(r Record) {
		mu.Lock()
		filtered = append(filtered, r.Seq)
		mu.Unlock()
	})

	rb.Publish(rec(1, VoteCast, "t1"), rec(2, TaskFinalized, "t1"))
	unsubAll()
	rb.Publish(rec(3, VoteCast, "t1"))

	mu.Lock()
	defer mu.Unlock()
	if len(all) != 2 || all[0] != 1 || all[1] != 2 {
		t.Fatalf("unexpected deliveries to unfiltered handler: %v", all)
	}
	if len(filtered) != 1 || filtered[0] != 2 {
		t.Fatalf("unexpected deliveries to filtered handler: %v", filtered)
	}
}

func TestStreamValues(t *testing.T) {
	r := rec(42, GrantIssued, "p1")
	r.Attributes = map[string]string{"grantee": "bob"}
	values := streamValues(r)
	if values["seq"] != "42" || values["type"] != "policy.grant_issued" {
		t.Fatalf("unexpected values: %v", values)
	}
	if values["attributes"] != `{"grantee":"bob"}` {
		t.Fatalf("attributes not encoded: %v", values["attributes"])
	}
}

type fakeStream struct {
	mu   sync.Mutex
	args []*redis.XAddArgs
	seen chan struct{}
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	f.args = append(f.args, a)
	f.mu.Unlock()
	f.seen <- struct{}{}
	return redis.NewStringResult("1-0", nil)
}

func TestRedisExporter_ForwardsSubscribedRecords(t *testing.T) {
	stream := &fakeStream{seen: make(chan struct{}, 4)}
	exp := NewRedisExporter(stream, "test:events", logger.Discard())
	rb := NewRingBuffer(10)
	exp.Attach(rb)

	ctx := context.Background()
	if err := exp.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer exp.Stop(ctx)

	rb.Publish(rec(7, TaskCreated, "t9"))
	select {
	case <-stream.seen:
	case <-time.After(2 * time.Second):
		t.Fatalf("record was not exported")
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.args[0].Stream != "test:events" {
		t.Fatalf("unexpected stream %q", stream.args[0].Stream)
	}
}

func TestRedisExporterIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	exp := NewRedisExporter(client, "provenance:test", logger.Discard())
	if err := exp.Export(context.Background(), rec(1, ContentRegistered, "c1")); err != nil {
		t.Fatalf("export: %v", err)
	}
	n, err := client.XLen(context.Background(), "provenance:test").Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected stream entries")
	}
}
