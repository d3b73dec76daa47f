package streamz

import (
	"context"
	"time"

	"github.com/zoobzio/clockz"
)

// defaultBatchLimit is the row limit batch coalesces to when none is
// given.
const defaultBatchLimit = 64 << 10

// batchOp coalesces input into slices of up to limit rows, or whatever has
// accumulated when the timeout elapses, whichever comes first.
type batchOp struct {
	limit   uint64
	timeout time.Duration
	clock   clockz.Clock
}

// NewBatch creates the coalescing operator. A zero limit means the default;
// a zero timeout means unbounded (flush only on limit, schema change, and
// end of input). Empty input slices pass through as keep-alives so
// downstream timers keep ticking during idle periods.
func NewBatch(limit uint64, timeout time.Duration) Operator {
	if limit == 0 {
		limit = defaultBatchLimit
	}
	return &batchOp{limit: limit, timeout: timeout}
}

// WithClock sets a custom clock for testing.
func (b *batchOp) WithClock(clock clockz.Clock) *batchOp {
	b.clock = clock
	return b
}

func (b *batchOp) getClock() clockz.Clock {
	if b.clock == nil {
		return clockz.RealClock
	}
	return b.clock
}

func (b *batchOp) Name() Name              { return "batch" }
func (b *batchOp) InputKind() ElementKind  { return ElementAnyEvents }
func (b *batchOp) OutputKind() ElementKind { return ElementAnyEvents }

func (b *batchOp) Optimize(filter Expr, order Order) OptimizeResult {
	return PassThrough(b, filter, order)
}

func (b *batchOp) Instantiate(Control) (Instance, error) {
	return &batchInstance{op: b, lastYield: b.getClock().Now()}, nil
}

type batchInstance struct {
	op        *batchOp
	buffer    []TableSlice
	buffered  uint64
	lastYield time.Time
}

func (b *batchInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	now := b.op.getClock().Now()
	if b.op.timeout > 0 && now.Sub(b.lastYield) > b.op.timeout && b.buffered > 0 {
		b.lastYield = now
		if err := b.emitBuffer(ctx, out); err != nil {
			return err
		}
	}
	if s.Len() == 0 {
		// Keep-alive: forward so downstream timers advance.
		return out.Slice(ctx, s)
	}
	if len(b.buffer) > 0 && !b.buffer[len(b.buffer)-1].Schema().Equal(s.Schema()) {
		// Schema change: drain the old schema completely first.
		for len(b.buffer) > 0 {
			b.lastYield = now
			if err := b.emitUpTo(ctx, out, b.op.limit); err != nil {
				return err
			}
		}
	}
	b.buffer = append(b.buffer, s)
	b.buffered += uint64(s.Len())
	for b.buffered >= b.op.limit {
		b.lastYield = now
		if err := b.emitUpTo(ctx, out, b.op.limit); err != nil {
			return err
		}
	}
	return nil
}

// emitUpTo concatenates and emits at most limit buffered rows.
func (b *batchInstance) emitUpTo(ctx context.Context, out Emitter, limit uint64) error {
	var take []TableSlice
	var taken uint64
	for len(b.buffer) > 0 && taken < limit {
		s := b.buffer[0]
		if taken+uint64(s.Len()) <= limit {
			take = append(take, s)
			taken += uint64(s.Len())
			b.buffer = b.buffer[1:]
			continue
		}
		head, tail := s.Split(int(limit - taken))
		take = append(take, head)
		taken += uint64(head.Len())
		b.buffer[0] = tail
	}
	if len(take) == 0 {
		return nil
	}
	merged, err := Concatenate(take)
	if err != nil {
		return err
	}
	b.buffered -= taken
	return out.Slice(ctx, merged)
}

func (b *batchInstance) emitBuffer(ctx context.Context, out Emitter) error {
	for len(b.buffer) > 0 {
		if err := b.emitUpTo(ctx, out, b.op.limit); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains the buffer so barriers see everything derived from
// pre-barrier input.
func (b *batchInstance) Flush(ctx context.Context, out Emitter) error {
	return b.emitBuffer(ctx, out)
}

func (b *batchInstance) Finish(ctx context.Context, out Emitter) error {
	return b.emitBuffer(ctx, out)
}
