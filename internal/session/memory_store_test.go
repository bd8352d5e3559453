package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"agendas/api/internal/clock"
)

func TestMemoryStoreExpiresOnClock(t *testing.T) {
	fake := clock.Fake(time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore(fake)
	ctx := context.Background()

	record := Record{Email: "ana@encorelm.com", Name: "Ana"}
	if err := store.Save(ctx, "hash", record, fake.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Lookup(ctx, "hash")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Email != record.Email || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected record %+v", got)
	}

	fake.Advance(time.Hour)
	if _, err := store.Lookup(ctx, "hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound at expiry, got %v", err)
	}
}

func TestMemoryStoreRevoke(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	if err := store.Save(ctx, "hash", Record{Email: "ana@encorelm.com"}, time.Time{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Lookup(ctx, "hash"); err != nil {
		t.Fatalf("past expiry should fall back to the default TTL, got %v", err)
	}
	if err := store.Revoke(ctx, "hash"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Lookup(ctx, "hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}
