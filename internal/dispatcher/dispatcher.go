package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rzbill/relay/internal/breaker"
	"github.com/rzbill/relay/internal/connectivity"
	"github.com/rzbill/relay/internal/record"
	"github.com/rzbill/relay/internal/retry"
	"github.com/rzbill/relay/internal/sink"
	"github.com/rzbill/relay/internal/store"
	"github.com/rzbill/relay/internal/telemetry"
	"github.com/rzbill/relay/pkg/log"
)

// Config tunes the dispatcher.
type Config struct {
	// ClaimBatch bounds how many records one cycle claims. Default 32.
	ClaimBatch int
	// Workers bounds parallel submissions within a cycle. Default 4.
	Workers int64
	// AttemptTimeout bounds a single sink submission so a hung connection
	// cannot occupy a worker slot indefinitely. Default 10s.
	AttemptTimeout time.Duration
	// Tick drives draining when no event fires. Default 30s.
	Tick time.Duration
	// StaleClaim is the age past which an InFlight claim is considered
	// abandoned. Default 60s.
	StaleClaim time.Duration
	// Retention keeps Delivered records before GC. Default 24h.
	Retention time.Duration
	// ShutdownGrace bounds the wait for in-flight submissions on shutdown.
	// Default 10s.
	ShutdownGrace time.Duration
	// PreferBatch uses the sink's bulk call when it implements BatchClient.
	PreferBatch bool
}

func (c *Config) applyDefaults() {
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = 32
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.StaleClaim <= 0 {
		c.StaleClaim = 60 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
}

// Stats is the observability snapshot exported for health checks.
type Stats struct {
	Pending             uint64 `json:"pending"`
	InFlight            uint64 `json:"in_flight"`
	DeadLetters         uint64 `json:"dead_letters"`
	BreakerState        string `json:"breaker_state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastDeliveryMs      int64  `json:"last_delivery_ms"`
}

// Dispatcher drains the store and delivers records to the sink under the
// circuit breaker and retry policy. One logical driver runs cycles to
// completion; within a cycle, submissions run with bounded parallelism.
type Dispatcher struct {
	st      *store.Store
	client  sink.Client
	policy  retry.Policy
	brk     *breaker.Breaker
	monitor *connectivity.Monitor
	cfg     Config
	logger  log.Logger

	wake   chan struct{}
	sem    *semaphore.Weighted
	cycles sync.WaitGroup

	lastDeliveryMs atomic.Int64
}

// New creates a Dispatcher. monitor may be nil.
func New(st *store.Store, client sink.Client, policy retry.Policy, brk *breaker.Breaker, monitor *connectivity.Monitor, cfg Config, logger log.Logger) *Dispatcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	d := &Dispatcher{
		st:      st,
		client:  client,
		policy:  policy,
		brk:     brk,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.With(log.Component("dispatcher")),
		wake:    make(chan struct{}, 1),
		sem:     semaphore.NewWeighted(cfg.Workers),
	}
	brk.OnStateChange = func(from, to breaker.State) {
		d.logger.Warn("circuit breaker transition",
			log.Str("from", from.String()),
			log.Str("to", to.String()),
		)
		telemetry.BreakerGauge.Set(float64(to))
	}
	return d
}

// NotifyEnqueue wakes the dispatcher after a producer enqueue. Coalesced;
// never blocks the producer.
func (d *Dispatcher) NotifyEnqueue() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// SyncNow requests an immediate drain cycle.
func (d *Dispatcher) SyncNow() { d.NotifyEnqueue() }

// Stats returns the current observability snapshot.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Pending:             d.st.PendingCount(),
		InFlight:            d.st.InFlightCount(),
		DeadLetters:         d.st.DeadLetterCount(),
		BreakerState:        d.brk.State().String(),
		ConsecutiveFailures: d.brk.ConsecutiveFailures(),
		LastDeliveryMs:      d.lastDeliveryMs.Load(),
	}
}

// Run drives delivery until ctx is cancelled, then waits up to
// ShutdownGrace for in-flight submissions. Abandoned submissions stay
// InFlight and are recovered on the next startup; their outcome is
// genuinely unknown, so they are never force-marked failed.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	var monitorEvents <-chan struct{}
	if d.monitor != nil {
		monitorEvents = d.monitor.Events()
	}

	d.logger.Info("dispatcher started",
		log.Int("claim_batch", d.cfg.ClaimBatch),
		log.Int64("workers", d.cfg.Workers),
		log.Dur("tick", d.cfg.Tick),
	)

	// Initial drain covers records enqueued before this process started.
	d.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return d.drainAndStop()
		case <-d.wake:
			d.runCycle(ctx)
		case <-monitorEvents:
			d.logger.Info("connectivity restored, draining")
			d.runCycle(ctx)
		case <-ticker.C:
			d.maintenance(ctx)
			d.runCycle(ctx)
		}
	}
}

func (d *Dispatcher) drainAndStop() error {
	done := make(chan struct{})
	go func() {
		d.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
	case <-time.After(d.cfg.ShutdownGrace):
		d.logger.Warn("shutdown grace elapsed, abandoning in-flight submissions")
	}
	return nil
}

// maintenance reverts stale claims and GCs delivered records.
func (d *Dispatcher) maintenance(ctx context.Context) {
	nowMs := time.Now().UnixMilli()
	if n, err := d.st.RecoverStaleInFlight(ctx, d.cfg.StaleClaim, nowMs); err != nil {
		d.logger.Error("stale claim recovery failed", log.Err(err))
	} else if n > 0 {
		telemetry.RecoveredCounter.Add(float64(n))
		d.logger.Warn("recovered stale in-flight records", log.Int("count", n))
	}
	if n, err := d.st.SweepDelivered(ctx, d.cfg.Retention, nowMs); err != nil {
		d.logger.Error("delivered retention sweep failed", log.Err(err))
	} else if n > 0 {
		d.logger.Debug("swept delivered records", log.Int("count", n))
	}
}

// runCycle claims a bounded batch and submits it. Cycles are serialized by
// the Run loop; claims are exclusive at the store level regardless.
func (d *Dispatcher) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	state := d.brk.State()
	if state == breaker.Open {
		// Pause without consuming attempt budgets; the sink is known bad.
		telemetry.CycleSkipCounter.Inc()
		d.logger.Debug("cycle skipped, circuit open")
		return
	}

	claim := d.cfg.ClaimBatch
	if state == breaker.HalfOpen {
		// Exactly one probe delivery while half-open.
		claim = 1
	}

	recs, err := d.st.ClaimBatch(ctx, claim, time.Now().UnixMilli())
	if err != nil {
		d.logger.Error("claim failed", log.Err(err))
		return
	}
	if len(recs) == 0 {
		d.updateGauges()
		return
	}

	if bc, ok := d.client.(sink.BatchClient); ok && d.cfg.PreferBatch && state == breaker.Closed {
		d.submitBatch(ctx, bc, recs)
	} else {
		d.submitEach(ctx, recs)
	}
	d.updateGauges()
}

// submitEach delivers claimed records with bounded parallelism. On
// shutdown the unsubmitted remainder of the claim is released untouched;
// submissions already handed to the sink keep running under their own
// attempt timeouts and are awaited by drainAndStop.
func (d *Dispatcher) submitEach(ctx context.Context, recs []*record.Record) {
	var release []string
	var wg sync.WaitGroup
	for _, rec := range recs {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			// Shutdown mid-cycle: the rest of the claim goes back untouched.
			release = append(release, rec.ID)
			continue
		}
		if !d.brk.Allow() {
			// Breaker flipped open mid-cycle; the sink was never contacted
			// for this record, so no attempt budget is consumed.
			d.sem.Release(1)
			release = append(release, rec.ID)
			continue
		}
		wg.Add(1)
		d.cycles.Add(1)
		go func(rec *record.Record) {
			defer wg.Done()
			defer d.cycles.Done()
			defer d.sem.Release(1)
			d.submitOne(ctx, rec)
		}(rec)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Return to the Run loop without waiting; drainAndStop bounds the
		// wait for the outstanding submissions.
	}

	if len(release) > 0 {
		if err := d.st.Release(context.Background(), release); err != nil {
			d.logger.Error("release failed", log.Err(err))
		}
	}
}

// submitOne performs a single delivery attempt and records its outcome.
// The attempt carries its own deadline rather than the run context:
// cancelling the run context must not abort a submission whose outcome
// would then be unknown.
func (d *Dispatcher) submitOne(ctx context.Context, rec *record.Record) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.AttemptTimeout)
	err := d.client.Submit(actx, rec)
	cancel()
	// Outcome bookkeeping must survive shutdown; the attempt already
	// happened.
	d.resolve(context.Background(), rec, err)
}

func (d *Dispatcher) submitBatch(ctx context.Context, bc sink.BatchClient, recs []*record.Record) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.AttemptTimeout)
	outcomes := bc.SubmitBatch(actx, recs)
	cancel()
	for i, rec := range recs {
		var err error
		if i < len(outcomes) {
			err = outcomes[i]
		}
		d.resolve(context.Background(), rec, err)
	}
}

// resolve applies one attempt outcome: delivered, retry with backoff, or
// dead-letter.
func (d *Dispatcher) resolve(ctx context.Context, rec *record.Record, submitErr error) {
	nowMs := time.Now().UnixMilli()
	if submitErr == nil {
		if err := d.st.MarkDelivered(ctx, rec.ID, nowMs); err != nil {
			d.logger.Error("mark delivered failed", log.Str("id", rec.ID), log.Err(err))
			return
		}
		d.brk.RecordSuccess()
		d.lastDeliveryMs.Store(nowMs)
		telemetry.DeliveredCounter.Inc()
		d.logger.Debug("delivered", log.Str("id", rec.ID), log.Int("attempts", int(rec.Attempts)+1))
		return
	}

	attempts := rec.Attempts + 1
	class := d.policy.ClassifyError(submitErr)
	if class == retry.ClassTerminal || d.policy.Exhausted(attempts) {
		if err := d.st.MarkDeadLetter(ctx, rec.ID, submitErr.Error()); err != nil {
			d.logger.Error("mark dead-letter failed", log.Str("id", rec.ID), log.Err(err))
			return
		}
		if class != retry.ClassTerminal {
			// Exhaustion implies a transient failure; count it against the
			// breaker. A terminal rejection means the sink is up and
			// answering, so it does not.
			d.brk.RecordFailure()
		}
		telemetry.DeadLetterCounter.Inc()
		d.logger.Warn("dead-lettered",
			log.Str("id", rec.ID),
			log.Int("attempts", int(attempts)),
			log.Err(submitErr),
		)
		return
	}

	delay := d.policy.NextDelay(attempts)
	if err := d.st.MarkRetry(ctx, rec.ID, nowMs+delay.Milliseconds(), submitErr.Error()); err != nil {
		d.logger.Error("mark retry failed", log.Str("id", rec.ID), log.Err(err))
		return
	}
	d.brk.RecordFailure()
	telemetry.RetryCounter.Inc()
	d.logger.Debug("retry scheduled",
		log.Str("id", rec.ID),
		log.Int("attempts", int(attempts)),
		log.Dur("delay", delay),
		log.Err(submitErr),
	)
}

func (d *Dispatcher) updateGauges() {
	telemetry.PendingGauge.Set(float64(d.st.PendingCount()))
	telemetry.InFlightGauge.Set(float64(d.st.InFlightCount()))
	telemetry.DeadLetterGauge.Set(float64(d.st.DeadLetterCount()))
}
