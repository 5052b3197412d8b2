package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/relay/internal/record"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := Open(db, Options{Queue: "q"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestEnqueueIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Enqueue(ctx, "a", []byte("p1"), 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Enqueue(ctx, "a", []byte("p2"), 2000); err != nil {
		t.Fatalf("enqueue dup: %v", err)
	}
	if got := s.PendingCount(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	rec, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Payload) != "p2" {
		t.Fatalf("payload not refreshed while pending: %q", rec.Payload)
	}
	if rec.CreatedAtMs != 1000 {
		t.Fatalf("created at changed on duplicate enqueue")
	}
}

func TestClaimBatchOrdersByReadyTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "b", nil, 2000)
	s.Enqueue(ctx, "a", nil, 1000)
	s.Enqueue(ctx, "c", nil, 3000)

	recs, err := s.ClaimBatch(ctx, 10, 5000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("claimed %d, want 3", len(recs))
	}
	if recs[0].ID != "a" || recs[1].ID != "b" || recs[2].ID != "c" {
		t.Fatalf("order: %s %s %s", recs[0].ID, recs[1].ID, recs[2].ID)
	}
}

func TestClaimBatchSkipsFutureRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "now", nil, 1000)
	if err := s.MarkRetry(ctx, "now", 9000, "later"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	recs, err := s.ClaimBatch(ctx, 10, 5000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("claimed %d records before their ready time", len(recs))
	}
	recs, _ = s.ClaimBatch(ctx, 10, 9001)
	if len(recs) != 1 {
		t.Fatalf("claimed %d after ready time, want 1", len(recs))
	}
}

func TestClaimBatchIsExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", nil, 1000)
	first, _ := s.ClaimBatch(ctx, 10, 2000)
	second, _ := s.ClaimBatch(ctx, 10, 2000)
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("claims not exclusive: %d then %d", len(first), len(second))
	}
}

func TestMarkDeliveredCountsAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", nil, 1000)
	s.ClaimBatch(ctx, 1, 2000)
	if err := s.MarkDelivered(ctx, "a", 3000); err != nil {
		t.Fatalf("delivered: %v", err)
	}
	// no-op on repeat
	if err := s.MarkDelivered(ctx, "a", 4000); err != nil {
		t.Fatalf("delivered again: %v", err)
	}
	rec, _ := s.Get(ctx, "a")
	if rec.State != record.StateDelivered || rec.Attempts != 1 {
		t.Fatalf("state=%s attempts=%d", rec.State, rec.Attempts)
	}
	if s.InFlightCount() != 0 {
		t.Fatalf("inflight count not released")
	}
}

func TestMarkRetryRequeues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", nil, 1000)
	s.ClaimBatch(ctx, 1, 2000)
	if err := s.MarkRetry(ctx, "a", 6000, "boom"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	rec, _ := s.Get(ctx, "a")
	if rec.State != record.StatePending || rec.Attempts != 1 || rec.LastError != "boom" {
		t.Fatalf("state=%s attempts=%d err=%q", rec.State, rec.Attempts, rec.LastError)
	}
	if s.PendingCount() != 1 || s.InFlightCount() != 0 {
		t.Fatalf("counts pending=%d inflight=%d", s.PendingCount(), s.InFlightCount())
	}
}

func TestMarkDeadLetterRetains(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", []byte("x"), 1000)
	s.ClaimBatch(ctx, 1, 2000)
	if err := s.MarkDeadLetter(ctx, "a", "bad request"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if s.DeadLetterCount() != 1 {
		t.Fatalf("dlq count = %d", s.DeadLetterCount())
	}
	recs, err := s.ListDeadLetters(ctx, 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("list: %v len=%d", err, len(recs))
	}
	if recs[0].LastError != "bad request" || recs[0].Attempts != 1 {
		t.Fatalf("dlq record: %+v", recs[0])
	}
	// dead-lettered records are never claimed
	claimed, _ := s.ClaimBatch(ctx, 10, 9000)
	if len(claimed) != 0 {
		t.Fatalf("claimed dead-lettered record")
	}
}

func TestReleaseDoesNotConsumeAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", nil, 1000)
	recs, _ := s.ClaimBatch(ctx, 1, 2000)
	if err := s.Release(ctx, []string{recs[0].ID}); err != nil {
		t.Fatalf("release: %v", err)
	}
	rec, _ := s.Get(ctx, "a")
	if rec.State != record.StatePending || rec.Attempts != 0 {
		t.Fatalf("state=%s attempts=%d after release", rec.State, rec.Attempts)
	}
	// released records can be claimed again
	recs, _ = s.ClaimBatch(ctx, 1, 3000)
	if len(recs) != 1 {
		t.Fatalf("re-claim after release failed")
	}
}

func TestRecoverStaleInFlight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", nil, 1000)
	s.ClaimBatch(ctx, 1, 2000)

	// claim too young: nothing recovered
	n, err := s.RecoverStaleInFlight(ctx, 60*time.Second, 3000)
	if err != nil || n != 0 {
		t.Fatalf("recover young: n=%d err=%v", n, err)
	}

	n, err = s.RecoverStaleInFlight(ctx, 60*time.Second, 2000+61_000)
	if err != nil || n != 1 {
		t.Fatalf("recover: n=%d err=%v", n, err)
	}
	rec, _ := s.Get(ctx, "a")
	if rec.State != record.StatePending || rec.Attempts != 0 {
		t.Fatalf("state=%s attempts=%d after recovery", rec.State, rec.Attempts)
	}
}

func TestOpenRecoversOrphanedClaims(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	ctx := context.Background()
	s, err := Open(db, Options{Queue: "q"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Enqueue(ctx, "a", nil, 1000)
	s.ClaimBatch(ctx, 1, 2000)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reopen simulates a restart after a crash mid-delivery
	db, err = pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err = Open(db, Options{Queue: "q"})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	rec, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != record.StatePending || rec.Attempts != 0 {
		t.Fatalf("state=%s attempts=%d after restart", rec.State, rec.Attempts)
	}
	if s.InFlightCount() != 0 || s.PendingCount() != 1 {
		t.Fatalf("counts pending=%d inflight=%d", s.PendingCount(), s.InFlightCount())
	}
}

func TestSweepDelivered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", nil, 1000)
	s.ClaimBatch(ctx, 1, 2000)
	s.MarkDelivered(ctx, "a", 3000)

	n, err := s.SweepDelivered(ctx, time.Hour, 3000+60_000)
	if err != nil || n != 0 {
		t.Fatalf("sweep early: n=%d err=%v", n, err)
	}
	n, err = s.SweepDelivered(ctx, time.Hour, 3000+3_600_001)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after sweep, got %v", err)
	}
}

func TestRequeueDeadLetterResetsAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", nil, 1000)
	s.ClaimBatch(ctx, 1, 2000)
	s.MarkDeadLetter(ctx, "a", "nope")

	if err := s.RequeueDeadLetter(ctx, "a", 4000); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	rec, _ := s.Get(ctx, "a")
	if rec.State != record.StatePending || rec.Attempts != 0 || rec.LastError != "" {
		t.Fatalf("requeued record: %+v", rec)
	}
	if s.DeadLetterCount() != 0 || s.PendingCount() != 1 {
		t.Fatalf("counts dlq=%d pending=%d", s.DeadLetterCount(), s.PendingCount())
	}
	// requeue of a pending record is an error
	if err := s.RequeueDeadLetter(ctx, "a", 5000); err == nil {
		t.Fatalf("expected error requeueing non-dead record")
	}
}

func TestPurgeDeadLetters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		s.Enqueue(ctx, id, nil, 1000)
	}
	s.ClaimBatch(ctx, 2, 2000)
	s.MarkDeadLetter(ctx, "a", "x")
	s.MarkDeadLetter(ctx, "b", "y")

	n, err := s.PurgeDeadLetters(ctx)
	if err != nil || n != 2 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if s.DeadLetterCount() != 0 {
		t.Fatalf("dlq count = %d after purge", s.DeadLetterCount())
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("purged record still readable: %v", err)
	}
}

func TestClaimBatchQuarantinesCorruptRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Enqueue(ctx, "a", []byte("x"), 1000); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := s.Enqueue(ctx, "b", []byte("y"), 1000); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	// Damage a's stored value in place.
	if err := s.db.Set(recordKey(s.queue, "a"), []byte("junk")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	recs, err := s.ClaimBatch(ctx, 10, 5000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "b" {
		t.Fatalf("claimed %d records, want just b", len(recs))
	}
	if got := s.DeadLetterCount(); got != 1 {
		t.Fatalf("dead letters = %d, want the quarantined record", got)
	}
	if got := s.PendingCount(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("get corrupt record: %v, want ErrCorrupt", err)
	}
	// The raw bytes stay on disk for inspection.
	if _, err := s.db.Get(recordKey(s.queue, "a")); err != nil {
		t.Fatalf("corrupt value was deleted: %v", err)
	}
	// The quarantined entry must not be rescanned.
	recs, err = s.ClaimBatch(ctx, 10, 5000)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("second claim returned %d records", len(recs))
	}
}

func TestRecoverStaleQuarantinesCorruptRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Enqueue(ctx, "a", nil, 1000)
	s.Enqueue(ctx, "b", nil, 1000)
	if _, err := s.ClaimBatch(ctx, 10, 2000); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.db.Set(recordKey(s.queue, "a"), []byte("junk")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	n, err := s.RecoverStaleInFlight(ctx, time.Second, 10_000)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d records, want just b", n)
	}
	rec, err := s.Get(ctx, "b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if rec.State != record.StatePending {
		t.Fatalf("b state = %s, want pending", rec.State)
	}
	if got := s.DeadLetterCount(); got != 1 {
		t.Fatalf("dead letters = %d, want the quarantined record", got)
	}
	if got := s.InFlightCount(); got != 0 {
		t.Fatalf("in-flight = %d, want 0", got)
	}
}
