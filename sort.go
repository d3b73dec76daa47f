package streamz

import (
	"context"
	"encoding/binary"
	"sort"
)

// sortOp buffers the whole stream and re-emits it ordered by a key
// expression. Rows with null keys sort last.
type sortOp struct {
	key  Expr
	desc bool
}

// NewSort creates the blocking sort operator.
func NewSort(key Expr, desc bool) Operator {
	return &sortOp{key: key, desc: desc}
}

func (s *sortOp) Name() Name              { return "sort" }
func (s *sortOp) InputKind() ElementKind  { return ElementAnyEvents }
func (s *sortOp) OutputKind() ElementKind { return ElementAnyEvents }

// Optimize removes the sort entirely when the downstream neighbor declares
// it does not rely on input order; filtering commutes with sorting, so the
// predicate keeps travelling either way. Upstream never needs to preserve
// order for us.
func (s *sortOp) Optimize(filter Expr, order Order) OptimizeResult {
	if order == OrderUnordered {
		return OptimizeResult{Replacement: nil, Filter: filter, ResidualOrder: OrderUnordered}
	}
	return OptimizeResult{Replacement: s, Filter: filter, ResidualOrder: OrderUnordered}
}

func (s *sortOp) Instantiate(ctl Control) (Instance, error) {
	return &sortInstance{op: s, ctl: ctl}, nil
}

type sortInstance struct {
	op     *sortOp
	ctl    Control
	buffer []TableSlice
}

func (s *sortInstance) Process(_ context.Context, sl TableSlice, _ Emitter) error {
	if sl.Len() == 0 {
		return nil
	}
	s.buffer = append(s.buffer, sl)
	return nil
}

// Flush is a no-op: a partial sort result would be wrong, so the buffer
// rides along in the checkpoint state instead.
func (s *sortInstance) Flush(context.Context, Emitter) error { return nil }

func (s *sortInstance) Finish(ctx context.Context, out Emitter) error {
	type schemaGroup struct {
		schema Type
		rows   []Value
		keys   []Value
	}
	var groups []*schemaGroup
	byHash := make(map[uint64]*schemaGroup)
	for _, sl := range s.buffer {
		hash := sl.Schema().Hash()
		g, ok := byHash[hash]
		if !ok {
			g = &schemaGroup{schema: sl.Schema()}
			byHash[hash] = g
			groups = append(groups, g)
		}
		keys := Eval(s.op.key, sl, s.ctl)
		for i := 0; i < sl.Len(); i++ {
			g.rows = append(g.rows, sl.Row(i))
			g.keys = append(g.keys, keys.Value(i))
		}
	}
	s.buffer = nil
	for _, g := range groups {
		order := make([]int, len(g.rows))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			ka, kb := g.keys[order[a]], g.keys[order[b]]
			if ka.IsNull() || kb.IsNull() {
				// Nulls sort last regardless of direction.
				return !ka.IsNull() && kb.IsNull()
			}
			c, ok := ka.Compare(kb)
			if !ok {
				return false
			}
			if s.op.desc {
				return c > 0
			}
			return c < 0
		})
		b := NewSliceBuilder(g.schema)
		for _, i := range order {
			if err := b.Append(g.rows[i]); err != nil {
				return err
			}
		}
		if err := out.Slice(ctx, b.Finish()); err != nil {
			return err
		}
	}
	return nil
}

// CheckpointState carries the whole buffer, one framed slice per entry.
func (s *sortInstance) CheckpointState() ([]byte, error) {
	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.buffer)))
	for _, sl := range s.buffer {
		payload := encodeSlicePayload(sl)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
		buf = append(buf, payload...)
	}
	return buf, nil
}

func (s *sortInstance) RestoreState(state []byte) error {
	cur := &cursor{buf: state}
	n, err := cur.u32()
	if err != nil {
		return err
	}
	s.buffer = nil
	for i := uint32(0); i < n; i++ {
		size, err := cur.u32()
		if err != nil {
			return err
		}
		raw, err := cur.bytes(int(size))
		if err != nil {
			return err
		}
		sl, err := decodeSlicePayload(raw)
		if err != nil {
			return err
		}
		s.buffer = append(s.buffer, sl)
	}
	return nil
}
