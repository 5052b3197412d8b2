package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/record"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	"github.com/rzbill/relay/internal/store"
	"github.com/rzbill/relay/internal/telemetry"
	"github.com/rzbill/relay/pkg/id"
)

// ErrBackpressure is returned when MaxPending is set and the queue is full.
// Producers should retry later; nothing was persisted.
var ErrBackpressure = errors.New("runtime: queue full, retry later")

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Runtime wires storage, config, and the durable store for a single-node
// instance.
type Runtime struct {
	db     *pebblestore.DB
	st     *store.Store
	config cfgpkg.Config
	idgen  *id.Generator

	// onEnqueue wakes the dispatcher; set by the server wiring.
	onEnqueue func()
}

// Open initializes the underlying storage and returns a Runtime. Startup
// recovery of stale in-flight records happens inside store.Open.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	st, err := store.Open(db, store.Options{Queue: opts.Config.Queue})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Runtime{db: db, st: st, config: opts.Config, idgen: id.NewGenerator()}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// SetEnqueueHook registers a callback invoked after each successful
// enqueue.
func (r *Runtime) SetEnqueueHook(fn func()) { r.onEnqueue = fn }

// Enqueue persists a record and wakes the dispatcher. An empty recordID
// gets a generated sortable id. The only failures producers ever see are
// ErrBackpressure and store unavailability.
func (r *Runtime) Enqueue(ctx context.Context, recordID string, payload []byte) (*record.Record, error) {
	if max := r.config.MaxPending; max > 0 && r.st.PendingCount() >= uint64(max) {
		return nil, fmt.Errorf("%w: %d pending", ErrBackpressure, r.st.PendingCount())
	}
	if recordID == "" {
		recordID = r.idgen.NextString()
	}
	rec, err := r.st.Enqueue(ctx, recordID, payload, 0)
	if err != nil {
		return nil, err
	}
	telemetry.EnqueueCounter.Inc()
	if r.onEnqueue != nil {
		r.onEnqueue()
	}
	return rec, nil
}

// Store exposes the durable store.
func (r *Runtime) Store() *store.Store { return r.st }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
