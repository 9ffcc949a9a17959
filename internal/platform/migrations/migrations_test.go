package migrations

import (
	"context"
	"database/sql"
	"io"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

func TestSourceOrdersMigrations(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first != 1 {
		t.Fatalf("first version = %d, want 1", first)
	}
	next, err := src.Next(first)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next != 2 {
		t.Fatalf("next version = %d, want 2", next)
	}

	r, _, err := src.ReadUp(next)
	if err != nil {
		t.Fatalf("read up: %v", err)
	}
	defer r.Close()
	body, _ := io.ReadAll(r)
	if !strings.Contains(string(body), "provenance_events") {
		t.Fatalf("unexpected migration body: %s", body)
	}
}

func TestApplyIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := Apply(ctx, db); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// second run is a no-op
	if err := Apply(ctx, db); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
}
