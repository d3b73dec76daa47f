package streamz

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys.
const (
	CheckpointRoundsTotal    = metricz.Key("checkpoint.rounds.total")
	CheckpointCommittedTotal = metricz.Key("checkpoint.committed.total")
	CheckpointFailuresTotal  = metricz.Key("checkpoint.failures.total")
	CheckpointBlockedTotal   = metricz.Key("checkpoint.blocked.total")
	CheckpointStateBytes     = metricz.Key("checkpoint.state.bytes.total")
)

// Trace keys.
const (
	CheckpointRoundSpan = tracez.Key("checkpoint.round")

	CheckpointTagID        = tracez.Tag("checkpoint.id")
	CheckpointTagCommitted = tracez.Tag("checkpoint.committed")
)

// Hook keys.
const (
	CheckpointEventCommitted = hookz.Key("checkpoint.committed")
	CheckpointEventBlocked   = hookz.Key("checkpoint.blocked")
	CheckpointEventFailed    = hookz.Key("checkpoint.failed")
)

// CheckpointEvent describes one checkpoint round's outcome, emitted via
// hooks so external systems can monitor recovery readiness.
type CheckpointEvent struct {
	Pipeline  PipelineID
	ID        uint64
	Committed bool
	Blocked   []Name
	Err       error
	Bytes     int
	Timestamp time.Time
}

// CheckpointCoordinator drives aligned-barrier checkpointing for running
// pipelines. It periodically injects a barrier at the source; the barrier
// flows through the chain interleaved with data, each operator flushes and
// snapshots when it sees it, and once every operator has acked, the round
// commits durably.
//
// Checkpoint failures are logged and reported via hooks but never kill the
// pipeline; the next round proceeds normally. Pipelines containing
// operators that cannot be checkpointed (non-deterministic without explicit
// state) are blocked: the coordinator logs, emits a blocked event, and
// retries on an exponentially longer interval.
type CheckpointCoordinator struct {
	store    *CheckpointStore
	interval time.Duration
	keep     int
	clock    clockz.Clock
	log      logrus.FieldLogger
	metrics  *metricz.Registry
	tracer   *tracez.Tracer
	hooks    *hookz.Hooks[CheckpointEvent]
}

// NewCheckpointCoordinator creates a coordinator writing to store every
// interval.
func NewCheckpointCoordinator(store *CheckpointStore, interval time.Duration) *CheckpointCoordinator {
	metrics := metricz.New()
	metrics.Counter(CheckpointRoundsTotal)
	metrics.Counter(CheckpointCommittedTotal)
	metrics.Counter(CheckpointFailuresTotal)
	metrics.Counter(CheckpointBlockedTotal)
	metrics.Counter(CheckpointStateBytes)
	return &CheckpointCoordinator{
		store:    store,
		interval: interval,
		keep:     1,
		log:      logrus.StandardLogger(),
		metrics:  metrics,
		tracer:   tracez.New(),
		hooks:    hookz.New[CheckpointEvent](),
	}
}

// WithClock sets a custom clock for testing.
func (c *CheckpointCoordinator) WithClock(clock clockz.Clock) *CheckpointCoordinator {
	c.clock = clock
	return c
}

// WithLogger sets the logger.
func (c *CheckpointCoordinator) WithLogger(log logrus.FieldLogger) *CheckpointCoordinator {
	c.log = log
	return c
}

// WithKeep sets how many pre-committed checkpoints survive pruning as
// restore fallbacks.
func (c *CheckpointCoordinator) WithKeep(n int) *CheckpointCoordinator {
	if n < 0 {
		n = 0
	}
	c.keep = n
	return c
}

func (c *CheckpointCoordinator) getClock() clockz.Clock {
	if c.clock == nil {
		return clockz.RealClock
	}
	return c.clock
}

// Metrics returns the coordinator's metrics registry.
func (c *CheckpointCoordinator) Metrics() *metricz.Registry { return c.metrics }

// Tracer returns the coordinator's tracer.
func (c *CheckpointCoordinator) Tracer() *tracez.Tracer { return c.tracer }

// OnCommitted registers a handler for committed checkpoints.
func (c *CheckpointCoordinator) OnCommitted(handler func(ctx context.Context, e CheckpointEvent) error) error {
	_, err := c.hooks.Hook(CheckpointEventCommitted, handler)
	return err
}

// OnBlocked registers a handler for blocked checkpoint attempts.
func (c *CheckpointCoordinator) OnBlocked(handler func(ctx context.Context, e CheckpointEvent) error) error {
	_, err := c.hooks.Hook(CheckpointEventBlocked, handler)
	return err
}

// OnFailed registers a handler for failed checkpoint rounds.
func (c *CheckpointCoordinator) OnFailed(handler func(ctx context.Context, e CheckpointEvent) error) error {
	_, err := c.hooks.Hook(CheckpointEventFailed, handler)
	return err
}

// Close shuts down observability components.
func (c *CheckpointCoordinator) Close() error {
	if c.tracer != nil {
		c.tracer.Close()
	}
	c.hooks.Close()
	return nil
}

// Store returns the underlying durable store.
func (c *CheckpointCoordinator) Store() *CheckpointStore { return c.store }

// loadLatest finds the newest fully readable checkpoint at or below the
// committed marker and returns its blobs. Corrupted checkpoints fall back
// to the next older one.
func (c *CheckpointCoordinator) loadLatest(p PipelineID, numOps int) (uint64, [][]byte, bool) {
	committed, ok, err := c.store.Committed(p)
	if err != nil || !ok {
		if err != nil {
			c.log.WithError(err).Warn("cannot read committed checkpoint marker")
		}
		return 0, nil, false
	}
	ids, err := c.store.Checkpoints(p)
	if err != nil {
		c.log.WithError(err).Warn("cannot list checkpoints")
		return 0, nil, false
	}
	// Newest first, never newer than the committed marker.
	var candidates []uint64
	for i := len(ids) - 1; i >= 0; i-- {
		if ids[i] <= committed {
			candidates = append(candidates, ids[i])
		}
	}
	for _, id := range candidates {
		blobs := make([][]byte, numOps)
		readable := true
		for i := 0; i < numOps; i++ {
			blob, err := c.store.ReadState(p, id, i)
			if err != nil {
				c.log.WithError(err).WithField("checkpoint", id).
					Warn("checkpoint unreadable, falling back to older one")
				readable = false
				break
			}
			blobs[i] = blob
		}
		if readable {
			return id, blobs, true
		}
	}
	return 0, nil, false
}

// Barrier is the in-band marker that splits a stream into pre- and
// post-checkpoint. It flows through the pipeline interleaved with data,
// preserving order; operators forward it after flushing and snapshotting.
type Barrier struct {
	ID    uint64
	round *checkpointRound
}

// Ack records operator index's snapshot for this barrier's round. The
// executor calls it exactly once per operator per barrier.
func (b *Barrier) Ack(index int, state []byte) {
	if b.round != nil {
		b.round.ack(index, state)
	}
}

// checkpointSchedule is the coordinator's per-run driver: it times barrier
// injection and tracks in-flight rounds.
type checkpointSchedule struct {
	coord    *CheckpointCoordinator
	pipeline PipelineID
	numOps   int
	blocked  []Name
	nextID   uint64
	pending  chan *Barrier
	done     chan struct{}
	wg       sync.WaitGroup
}

// schedule starts barrier injection for one pipeline run. blocked names the
// operators that prevent checkpointing; a non-empty list switches the
// schedule into backoff-retry mode until the run ends.
func (c *CheckpointCoordinator) schedule(p PipelineID, numOps int, firstID uint64, blocked []Name) *checkpointSchedule {
	s := &checkpointSchedule{
		coord:    c,
		pipeline: p,
		numOps:   numOps,
		blocked:  blocked,
		nextID:   firstID,
		pending:  make(chan *Barrier, 1),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *checkpointSchedule) run() {
	defer s.wg.Done()
	clock := s.coord.getClock()
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.coord.interval * 2
	retry.MaxInterval = s.coord.interval * 16
	retry.MaxElapsedTime = 0
	wait := s.coord.interval
	for {
		select {
		case <-s.done:
			return
		case <-clock.After(wait):
		}
		s.coord.metrics.Counter(CheckpointRoundsTotal).Inc()
		if len(s.blocked) > 0 {
			s.coord.metrics.Counter(CheckpointBlockedTotal).Inc()
			s.coord.log.WithField("operators", s.blocked).
				Warn("checkpointing blocked by non-checkpointable operators, retrying later")
			emitHook(s.coord.hooks, CheckpointEventBlocked, CheckpointEvent{
				Pipeline:  s.pipeline,
				Blocked:   s.blocked,
				Timestamp: clock.Now(),
			})
			wait = retry.NextBackOff()
			continue
		}
		wait = s.coord.interval
		round := &checkpointRound{
			sched: s,
			id:    s.nextID,
			acked: make(map[int]struct{}, s.numOps),
		}
		barrier := &Barrier{ID: round.id, round: round}
		select {
		case s.pending <- barrier:
			s.nextID++
		default:
			// The previous barrier has not entered the stream yet; skip
			// this round rather than queueing barriers up.
		}
	}
}

// barriers returns the channel the source drive loop polls for injection.
func (s *checkpointSchedule) barriers() <-chan *Barrier { return s.pending }

func (s *checkpointSchedule) stop() {
	close(s.done)
	s.wg.Wait()
}

// checkpointRound tracks one barrier's progress through the chain.
type checkpointRound struct {
	sched  *checkpointSchedule
	id     uint64
	mu     sync.Mutex
	acked  map[int]struct{}
	failed bool
	bytes  int
}

// ack persists one operator's snapshot and commits the round once every
// operator has acked. Failures mark the round dead but never propagate into
// the data path.
func (r *checkpointRound) ack(index int, state []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coord := r.sched.coord
	if _, dup := r.acked[index]; dup {
		return
	}
	r.acked[index] = struct{}{}
	r.bytes += len(state)
	if !r.failed {
		if err := coord.store.WriteState(r.sched.pipeline, r.id, index, state); err != nil {
			r.failed = true
			coord.metrics.Counter(CheckpointFailuresTotal).Inc()
			coord.log.WithError(err).WithField("checkpoint", r.id).Warn("checkpoint write failed")
			emitHook(coord.hooks, CheckpointEventFailed, CheckpointEvent{
				Pipeline:  r.sched.pipeline,
				ID:        r.id,
				Err:       err,
				Timestamp: coord.getClock().Now(),
			})
		}
	}
	if len(r.acked) < r.sched.numOps || r.failed {
		return
	}
	_, span := coord.tracer.StartSpan(context.Background(), CheckpointRoundSpan)
	span.SetTag(CheckpointTagID, strconv.FormatUint(r.id, 10))
	defer span.Finish()
	if err := coord.store.Commit(r.sched.pipeline, r.id); err != nil {
		coord.metrics.Counter(CheckpointFailuresTotal).Inc()
		coord.log.WithError(err).WithField("checkpoint", r.id).Warn("checkpoint commit failed")
		emitHook(coord.hooks, CheckpointEventFailed, CheckpointEvent{
			Pipeline:  r.sched.pipeline,
			ID:        r.id,
			Err:       err,
			Timestamp: coord.getClock().Now(),
		})
		return
	}
	span.SetTag(CheckpointTagCommitted, "true")
	coord.metrics.Counter(CheckpointCommittedTotal).Inc()
	coord.metrics.Counter(CheckpointStateBytes).Add(float64(r.bytes))
	coord.log.WithField("checkpoint", r.id).WithField("bytes", r.bytes).Debug("checkpoint committed")
	emitHook(coord.hooks, CheckpointEventCommitted, CheckpointEvent{
		Pipeline:  r.sched.pipeline,
		ID:        r.id,
		Committed: true,
		Bytes:     r.bytes,
		Timestamp: coord.getClock().Now(),
	})
	if err := coord.store.Prune(r.sched.pipeline, coord.keep); err != nil {
		coord.log.WithError(err).Warn("checkpoint prune failed")
	}
}
