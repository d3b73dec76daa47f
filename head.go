package streamz

import (
	"context"
	"encoding/binary"
)

// headOp forwards the first n events and drops the rest.
type headOp struct {
	limit uint64
}

// NewHead creates the row limit operator.
func NewHead(limit uint64) Operator {
	return &headOp{limit: limit}
}

func (h *headOp) Name() Name              { return "head" }
func (h *headOp) InputKind() ElementKind  { return ElementAnyEvents }
func (h *headOp) OutputKind() ElementKind { return ElementAnyEvents }

// Optimize stops predicate pushdown: filtering before the limit would
// change which rows count against it.
func (h *headOp) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(h, order)
}

func (h *headOp) Instantiate(Control) (Instance, error) {
	return &headInstance{limit: h.limit}, nil
}

type headInstance struct {
	limit     uint64
	forwarded uint64
}

func (h *headInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	if h.forwarded >= h.limit {
		return nil
	}
	remaining := h.limit - h.forwarded
	if uint64(s.Len()) > remaining {
		s, _ = s.Split(int(remaining))
	}
	h.forwarded += uint64(s.Len())
	return out.Slice(ctx, s)
}

func (h *headInstance) Flush(context.Context, Emitter) error  { return nil }
func (h *headInstance) Finish(context.Context, Emitter) error { return nil }

func (h *headInstance) CheckpointState() ([]byte, error) {
	var state [8]byte
	binary.BigEndian.PutUint64(state[:], h.forwarded)
	return state[:], nil
}

func (h *headInstance) RestoreState(state []byte) error {
	if len(state) != 8 {
		return Errorf(CodeStateCorruption, "head state has %d bytes, want 8", len(state))
	}
	h.forwarded = binary.BigEndian.Uint64(state)
	return nil
}
