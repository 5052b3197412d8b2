package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/relay/internal/record"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
)

// ErrUnavailable is returned when the underlying persistence medium cannot
// be written (disk full, closed database). It is surfaced to producers and
// never swallowed.
var ErrUnavailable = errors.New("store: unavailable")

// ErrNotFound is returned for operations on unknown record ids.
var ErrNotFound = errors.New("store: record not found")

// ErrCorrupt is returned when a stored record value fails its checksum or
// cannot be decoded. The raw bytes are kept on disk.
var ErrCorrupt = errors.New("store: corrupt record")

// Store is the durable, crash-surviving record store. It is the single
// source of truth for record state; every transition commits as one atomic
// Pebble batch together with its index and counter updates.
type Store struct {
	db    *pebblestore.DB
	queue string

	// mu serializes all mutations. Claiming under the lock makes claims
	// exclusive across concurrent callers.
	mu sync.Mutex
}

// Options configures a Store.
type Options struct {
	// Queue names the keyspace. Defaults to "default".
	Queue string
}

// Open initializes a Store and reverts any record left InFlight by a
// previous process. Enqueues issued during this recovery pass block until
// it completes.
func Open(db *pebblestore.DB, opts Options) (*Store, error) {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	s := &Store{db: db, queue: opts.Queue}
	s.mu.Lock()
	defer s.mu.Unlock()
	// At startup every claim belongs to a dead dispatcher.
	if _, err := s.recoverStaleLocked(context.Background(), 0, time.Now().UnixMilli()); err != nil {
		return nil, err
	}
	return s, nil
}

// Queue returns the queue name.
func (s *Store) Queue() string { return s.queue }

type counts struct {
	pending  uint64
	inflight uint64
	dlq      uint64
}

func (s *Store) loadCounts() counts {
	b, err := s.db.Get(countsKey(s.queue))
	if err != nil || len(b) < 24 {
		return counts{}
	}
	return counts{
		pending:  binary.BigEndian.Uint64(b[0:8]),
		inflight: binary.BigEndian.Uint64(b[8:16]),
		dlq:      binary.BigEndian.Uint64(b[16:24]),
	}
}

func (s *Store) setCounts(b *pebble.Batch, c counts) error {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], c.pending)
	binary.BigEndian.PutUint64(buf[8:16], c.inflight)
	binary.BigEndian.PutUint64(buf[16:24], c.dlq)
	return b.Set(countsKey(s.queue), buf[:], nil)
}

func (s *Store) commit(ctx context.Context, b *pebble.Batch) error {
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) getRecord(id string) (*record.Record, error) {
	val, err := s.db.Get(recordKey(s.queue, id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rec, ok := record.Decode(val)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCorrupt, id)
	}
	return rec, nil
}

func setRecord(b *pebble.Batch, queue string, rec *record.Record) error {
	val, err := record.Encode(rec)
	if err != nil {
		return err
	}
	return b.Set(recordKey(queue, rec.ID), val, nil)
}

// Enqueue persists a new Pending record. The write is synchronously
// durable before Enqueue returns. Enqueueing an id that already exists is
// idempotent: the existing record is kept (its payload is refreshed while
// the record is still Pending) and no second entry is created.
func (s *Store) Enqueue(ctx context.Context, id string, payload []byte, nowMs int64) (*record.Record, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getRecord(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.State != record.StatePending {
			return existing, nil
		}
		// Duplicate enqueue of a pending record: refresh the payload only.
		existing.Payload = append([]byte(nil), payload...)
		b := s.db.NewBatch()
		defer b.Close()
		if err := setRecord(b, s.queue, existing); err != nil {
			return nil, err
		}
		if err := s.commit(ctx, b); err != nil {
			return nil, err
		}
		return existing, nil
	}

	rec := &record.Record{
		ID:              id,
		Payload:         append([]byte(nil), payload...),
		CreatedAtMs:     nowMs,
		State:           record.StatePending,
		NextAttemptAtMs: nowMs,
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := setRecord(b, s.queue, rec); err != nil {
		return nil, err
	}
	if err := b.Set(readyKey(s.queue, rec.NextAttemptAtMs, id), nil, nil); err != nil {
		return nil, err
	}
	c := s.loadCounts()
	c.pending++
	if err := s.setCounts(b, c); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, b); err != nil {
		return nil, err
	}
	return rec, nil
}

// ClaimBatch atomically selects up to maxCount Pending records whose
// next-attempt time has passed, transitions them to InFlight, and returns
// them. Records claimed by one call are never returned by a concurrent
// call.
func (s *Store) ClaimBatch(ctx context.Context, maxCount int, nowMs int64) ([]*record.Record, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if maxCount <= 0 {
		maxCount = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := readyPrefix(s.queue)
	iter, err := s.db.NewPrefixIter(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()

	claimed := make([]*record.Record, 0, maxCount)
	dropped, quarantined := 0, 0
	for ok := iter.First(); ok && len(claimed) < maxCount; ok = iter.Next() {
		atMs, rid, okKey := splitTimeIndexKey(iter.Key(), prefix)
		if !okKey {
			continue
		}
		if atMs > nowMs {
			break
		}
		rec, err := s.getRecord(rid)
		switch {
		case errors.Is(err, ErrNotFound):
			// Dangling index entry; drop it.
			_ = b.Delete(iter.Key(), nil)
			dropped++
			continue
		case errors.Is(err, ErrCorrupt):
			if err := s.quarantine(b, iter.Key(), rid); err != nil {
				return nil, err
			}
			quarantined++
			continue
		case err != nil:
			// Read failure; abort the cycle so the entry survives.
			return nil, err
		}
		rec.State = record.StateInFlight
		rec.ClaimedAtMs = nowMs
		if err := setRecord(b, s.queue, rec); err != nil {
			return nil, err
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return nil, err
		}
		if err := b.Set(inflightKey(s.queue, nowMs, rid), nil, nil); err != nil {
			return nil, err
		}
		claimed = append(claimed, rec)
	}
	if len(claimed) == 0 && dropped == 0 && quarantined == 0 {
		return nil, nil
	}
	c := s.loadCounts()
	for range claimed {
		if c.pending > 0 {
			c.pending--
		}
		c.inflight++
	}
	for i := 0; i < quarantined; i++ {
		if c.pending > 0 {
			c.pending--
		}
		c.dlq++
	}
	if err := s.setCounts(b, c); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, b); err != nil {
		return nil, err
	}
	return claimed, nil
}

// quarantine moves an index entry whose record value is undecodable into
// the dead-letter index. The raw value is kept for inspection; shifting
// the entry keeps the claim and recovery scans from revisiting it.
func (s *Store) quarantine(b *pebble.Batch, indexKey []byte, rid string) error {
	if err := b.Delete(indexKey, nil); err != nil {
		return err
	}
	return b.Set(dlqKey(s.queue, rid), nil, nil)
}

// Release returns claimed records to Pending without recording a delivery
// attempt. Used when the circuit breaker opened between claim and submit:
// the sink was never contacted, so no attempt budget is consumed.
func (s *Store) Release(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	c := s.loadCounts()
	released := 0
	for _, id := range ids {
		rec, err := s.getRecord(id)
		if err != nil || rec.State != record.StateInFlight {
			continue
		}
		if err := b.Delete(inflightKey(s.queue, rec.ClaimedAtMs, id), nil); err != nil {
			return err
		}
		rec.State = record.StatePending
		rec.ClaimedAtMs = 0
		if err := setRecord(b, s.queue, rec); err != nil {
			return err
		}
		if err := b.Set(readyKey(s.queue, rec.NextAttemptAtMs, id), nil, nil); err != nil {
			return err
		}
		released++
	}
	if released == 0 {
		return nil
	}
	for i := 0; i < released; i++ {
		if c.inflight > 0 {
			c.inflight--
		}
		c.pending++
	}
	if err := s.setCounts(b, c); err != nil {
		return err
	}
	return s.commit(ctx, b)
}

// MarkDelivered records a successful delivery attempt. Idempotent: marking
// an already-delivered record is a no-op.
func (s *Store) MarkDelivered(ctx context.Context, id string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getRecord(id)
	if err != nil {
		return err
	}
	if rec.State == record.StateDelivered {
		return nil
	}
	wasInflight := rec.State == record.StateInFlight

	b := s.db.NewBatch()
	defer b.Close()
	if wasInflight {
		if err := b.Delete(inflightKey(s.queue, rec.ClaimedAtMs, id), nil); err != nil {
			return err
		}
	}
	rec.State = record.StateDelivered
	rec.Attempts++
	rec.LastError = ""
	rec.ClaimedAtMs = 0
	rec.DeliveredAtMs = nowMs
	if err := setRecord(b, s.queue, rec); err != nil {
		return err
	}
	if err := b.Set(doneKey(s.queue, nowMs, id), nil, nil); err != nil {
		return err
	}
	if wasInflight {
		c := s.loadCounts()
		if c.inflight > 0 {
			c.inflight--
		}
		if err := s.setCounts(b, c); err != nil {
			return err
		}
	}
	return s.commit(ctx, b)
}

// MarkRetry records a failed but retryable delivery attempt and requeues
// the record for nextAttemptAtMs. Idempotent for repeated calls with the
// same target time.
func (s *Store) MarkRetry(ctx context.Context, id string, nextAttemptAtMs int64, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getRecord(id)
	if err != nil {
		return err
	}
	if rec.State == record.StatePending && rec.NextAttemptAtMs == nextAttemptAtMs {
		return nil
	}
	if rec.State.Terminal() {
		return nil
	}
	wasInflight := rec.State == record.StateInFlight

	b := s.db.NewBatch()
	defer b.Close()
	if wasInflight {
		if err := b.Delete(inflightKey(s.queue, rec.ClaimedAtMs, id), nil); err != nil {
			return err
		}
	} else {
		if err := b.Delete(readyKey(s.queue, rec.NextAttemptAtMs, id), nil); err != nil {
			return err
		}
	}
	rec.State = record.StatePending
	rec.Attempts++
	rec.NextAttemptAtMs = nextAttemptAtMs
	rec.LastError = cause
	rec.ClaimedAtMs = 0
	if err := setRecord(b, s.queue, rec); err != nil {
		return err
	}
	if err := b.Set(readyKey(s.queue, nextAttemptAtMs, id), nil, nil); err != nil {
		return err
	}
	if wasInflight {
		c := s.loadCounts()
		if c.inflight > 0 {
			c.inflight--
		}
		c.pending++
		if err := s.setCounts(b, c); err != nil {
			return err
		}
	}
	return s.commit(ctx, b)
}

// MarkDeadLetter records a terminal delivery failure. The record is
// retained until an operator requeues or purges it. Idempotent.
func (s *Store) MarkDeadLetter(ctx context.Context, id string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getRecord(id)
	if err != nil {
		return err
	}
	if rec.State == record.StateDeadLettered {
		return nil
	}
	wasInflight := rec.State == record.StateInFlight

	b := s.db.NewBatch()
	defer b.Close()
	switch rec.State {
	case record.StateInFlight:
		if err := b.Delete(inflightKey(s.queue, rec.ClaimedAtMs, id), nil); err != nil {
			return err
		}
	case record.StatePending:
		if err := b.Delete(readyKey(s.queue, rec.NextAttemptAtMs, id), nil); err != nil {
			return err
		}
	}
	rec.State = record.StateDeadLettered
	rec.Attempts++
	rec.LastError = cause
	rec.ClaimedAtMs = 0
	if err := setRecord(b, s.queue, rec); err != nil {
		return err
	}
	if err := b.Set(dlqKey(s.queue, id), nil, nil); err != nil {
		return err
	}
	c := s.loadCounts()
	if wasInflight {
		if c.inflight > 0 {
			c.inflight--
		}
	} else if c.pending > 0 {
		c.pending--
	}
	c.dlq++
	if err := s.setCounts(b, c); err != nil {
		return err
	}
	return s.commit(ctx, b)
}

// RecoverStaleInFlight reverts InFlight records whose claim is older than
// olderThan back to Pending with attempts unchanged. Called at startup and
// periodically to recover from a dispatcher crash mid-delivery.
func (s *Store) RecoverStaleInFlight(ctx context.Context, olderThan time.Duration, nowMs int64) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoverStaleLocked(ctx, olderThan, nowMs)
}

func (s *Store) recoverStaleLocked(ctx context.Context, olderThan time.Duration, nowMs int64) (int, error) {
	cutoff := nowMs - olderThan.Milliseconds()
	prefix := inflightPrefix(s.queue)
	iter, err := s.db.NewPrefixIter(prefix)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()
	recovered := 0
	dropped, quarantined := 0, 0
	for ok := iter.First(); ok; ok = iter.Next() {
		claimedMs, rid, okKey := splitTimeIndexKey(iter.Key(), prefix)
		if !okKey {
			continue
		}
		if claimedMs > cutoff {
			break
		}
		rec, err := s.getRecord(rid)
		switch {
		case errors.Is(err, ErrNotFound):
			_ = b.Delete(iter.Key(), nil)
			dropped++
			continue
		case errors.Is(err, ErrCorrupt):
			if err := s.quarantine(b, iter.Key(), rid); err != nil {
				return 0, err
			}
			quarantined++
			continue
		case err != nil:
			return 0, err
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return recovered, err
		}
		if rec.State != record.StateInFlight {
			continue
		}
		rec.State = record.StatePending
		rec.ClaimedAtMs = 0
		if rec.NextAttemptAtMs < nowMs {
			rec.NextAttemptAtMs = nowMs
		}
		if err := setRecord(b, s.queue, rec); err != nil {
			return recovered, err
		}
		if err := b.Set(readyKey(s.queue, rec.NextAttemptAtMs, rid), nil, nil); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered == 0 && dropped == 0 && quarantined == 0 {
		return 0, nil
	}
	c := s.loadCounts()
	for i := 0; i < recovered; i++ {
		if c.inflight > 0 {
			c.inflight--
		}
		c.pending++
	}
	for i := 0; i < quarantined; i++ {
		if c.inflight > 0 {
			c.inflight--
		}
		c.dlq++
	}
	if err := s.setCounts(b, c); err != nil {
		return recovered, err
	}
	return recovered, s.commit(ctx, b)
}

// SweepDelivered deletes Delivered records older than the retention window.
func (s *Store) SweepDelivered(ctx context.Context, retention time.Duration, nowMs int64) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := nowMs - retention.Milliseconds()
	prefix := donePrefix(s.queue)
	iter, err := s.db.NewPrefixIter(prefix)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()
	swept := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		deliveredMs, rid, okKey := splitTimeIndexKey(iter.Key(), prefix)
		if !okKey {
			continue
		}
		if deliveredMs > cutoff {
			break
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return swept, err
		}
		if err := b.Delete(recordKey(s.queue, rid), nil); err != nil {
			return swept, err
		}
		swept++
	}
	if swept == 0 {
		return 0, nil
	}
	if err := s.commit(ctx, b); err != nil {
		return swept, err
	}
	if swept >= 4096 {
		hi := append(append([]byte{}, prefix...), 0xFF)
		_ = s.db.CompactRange(prefix, hi)
	}
	return swept, nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRecord(id)
}

// PendingCount returns the number of Pending records.
func (s *Store) PendingCount() uint64 { return s.loadCounts().pending }

// InFlightCount returns the number of InFlight records.
func (s *Store) InFlightCount() uint64 { return s.loadCounts().inflight }

// DeadLetterCount returns the number of DeadLettered records.
func (s *Store) DeadLetterCount() uint64 { return s.loadCounts().dlq }

// ListDeadLetters returns up to limit dead-lettered records.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]*record.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := dlqPrefix(s.queue)
	iter, err := s.db.NewPrefixIter(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer iter.Close()

	out := make([]*record.Record, 0, limit)
	for ok := iter.First(); ok && len(out) < limit; ok = iter.Next() {
		rid := string(iter.Key()[len(prefix):])
		rec, err := s.getRecord(rid)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// RequeueDeadLetter returns a dead-lettered record to Pending with a fresh
// attempt budget.
func (s *Store) RequeueDeadLetter(ctx context.Context, id string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getRecord(id)
	if err != nil {
		return err
	}
	if rec.State != record.StateDeadLettered {
		return fmt.Errorf("store: record %q is %s, not dead-lettered", id, rec.State)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(dlqKey(s.queue, id), nil); err != nil {
		return err
	}
	rec.State = record.StatePending
	rec.Attempts = 0
	rec.NextAttemptAtMs = nowMs
	rec.LastError = ""
	if err := setRecord(b, s.queue, rec); err != nil {
		return err
	}
	if err := b.Set(readyKey(s.queue, nowMs, id), nil, nil); err != nil {
		return err
	}
	c := s.loadCounts()
	if c.dlq > 0 {
		c.dlq--
	}
	c.pending++
	if err := s.setCounts(b, c); err != nil {
		return err
	}
	return s.commit(ctx, b)
}

// PurgeDeadLetters deletes all dead-lettered records and returns the count.
func (s *Store) PurgeDeadLetters(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := dlqPrefix(s.queue)
	iter, err := s.db.NewPrefixIter(prefix)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()
	purged := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		rid := string(iter.Key()[len(prefix):])
		if err := b.Delete(iter.Key(), nil); err != nil {
			return purged, err
		}
		if err := b.Delete(recordKey(s.queue, rid), nil); err != nil {
			return purged, err
		}
		purged++
	}
	if purged == 0 {
		return 0, nil
	}
	c := s.loadCounts()
	if uint64(purged) >= c.dlq {
		c.dlq = 0
	} else {
		c.dlq -= uint64(purged)
	}
	if err := s.setCounts(b, c); err != nil {
		return purged, err
	}
	return purged, s.commit(ctx, b)
}
