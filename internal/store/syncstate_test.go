package store

import (
	"context"
	"testing"
	"time"
)

func TestWatermarkRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStore(newMockDynamo(), "sync")

	got, err := s.LastSyncAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("expected empty watermark before first sync, got %q", got)
	}

	if err := s.SetLastSyncAt(ctx, "2024-06-01T12:00:00Z"); err != nil {
		t.Fatal(err)
	}
	got, err = s.LastSyncAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2024-06-01T12:00:00Z" {
		t.Fatalf("watermark = %q", got)
	}
}

func TestBulkStateDefaultsToIdle(t *testing.T) {
	s := NewSyncStore(newMockDynamo(), "sync")
	st, err := s.BulkState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != BulkStatusIdle {
		t.Fatalf("status = %q, want idle", st.Status)
	}
}

func TestBulkStateLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStore(newMockDynamo(), "sync")

	if err := s.SetBulkPending(ctx, "gid://shopify/BulkOperation/1"); err != nil {
		t.Fatal(err)
	}
	st, err := s.BulkState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != BulkStatusPending || st.OperationID != "gid://shopify/BulkOperation/1" {
		t.Fatalf("got %+v", st)
	}

	if err := s.SetBulkIdle(ctx, st.OperationID, 42); err != nil {
		t.Fatal(err)
	}
	st, err = s.BulkState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != BulkStatusIdle || st.Synced == nil || *st.Synced != 42 {
		t.Fatalf("got %+v", st)
	}
}

func TestBulkStateServedFromCache(t *testing.T) {
	ctx := context.Background()
	mock := newMockDynamo()
	s := NewSyncStore(mock, "sync")

	if _, err := s.BulkState(ctx); err != nil {
		t.Fatal(err)
	}
	before := mock.getCalls
	for i := 0; i < 5; i++ {
		if _, err := s.BulkState(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if mock.getCalls != before {
		t.Fatalf("cache miss: %d extra reads", mock.getCalls-before)
	}
}

func TestBulkStateCacheExpires(t *testing.T) {
	ctx := context.Background()
	mock := newMockDynamo()
	s := NewSyncStore(mock, "sync")

	current := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.Cache().now = func() time.Time { return current }

	if _, err := s.BulkState(ctx); err != nil {
		t.Fatal(err)
	}
	before := mock.getCalls

	current = current.Add(61 * time.Second)
	if _, err := s.BulkState(ctx); err != nil {
		t.Fatal(err)
	}
	if mock.getCalls != before+1 {
		t.Fatal("expected a fresh read after the cache expired")
	}
}

func TestBulkWriteInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	mock := newMockDynamo()
	s := NewSyncStore(mock, "sync")

	if err := s.SetBulkPending(ctx, "op-1"); err != nil {
		t.Fatal(err)
	}
	st, _ := s.BulkState(ctx)
	if st.Status != BulkStatusPending {
		t.Fatalf("got %+v", st)
	}

	if err := s.SetBulkFailed(ctx, "op-1"); err != nil {
		t.Fatal(err)
	}
	st, _ = s.BulkState(ctx)
	if st.Status != BulkStatusFailed {
		t.Fatalf("stale cache after write: %+v", st)
	}
}

func TestClaimFinalizeSingleWinner(t *testing.T) {
	ctx := context.Background()
	mock := newMockDynamo()
	s := NewSyncStore(mock, "sync")

	if err := s.SetBulkPending(ctx, "op-1"); err != nil {
		t.Fatal(err)
	}

	won, err := s.ClaimFinalize(ctx, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if !won {
		t.Fatal("first claim should win")
	}

	won, err = s.ClaimFinalize(ctx, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if won {
		t.Fatal("second claim must lose")
	}
}

func TestClaimFinalizeWrongOperation(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStore(newMockDynamo(), "sync")

	if err := s.SetBulkPending(ctx, "op-1"); err != nil {
		t.Fatal(err)
	}
	won, err := s.ClaimFinalize(ctx, "op-2")
	if err != nil {
		t.Fatal(err)
	}
	if won {
		t.Fatal("claim for a different operation must lose")
	}
}

func TestClaimResetByNewOperation(t *testing.T) {
	ctx := context.Background()
	s := NewSyncStore(newMockDynamo(), "sync")

	if err := s.SetBulkPending(ctx, "op-1"); err != nil {
		t.Fatal(err)
	}
	if won, _ := s.ClaimFinalize(ctx, "op-1"); !won {
		t.Fatal("setup claim failed")
	}

	// A new pending operation rewrites the record, dropping the old claim.
	if err := s.SetBulkPending(ctx, "op-2"); err != nil {
		t.Fatal(err)
	}
	won, err := s.ClaimFinalize(ctx, "op-2")
	if err != nil {
		t.Fatal(err)
	}
	if !won {
		t.Fatal("claim on the new operation should win")
	}
}
