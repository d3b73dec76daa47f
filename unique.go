package streamz

import (
	"context"
)

// uniqueOp drops events that equal their immediate predecessor. Input must
// be sorted by the interesting columns for global deduplication.
type uniqueOp struct{}

// NewUnique creates the consecutive-duplicate filter.
func NewUnique() Operator {
	return &uniqueOp{}
}

func (u *uniqueOp) Name() Name              { return "unique" }
func (u *uniqueOp) InputKind() ElementKind  { return ElementAnyEvents }
func (u *uniqueOp) OutputKind() ElementKind { return ElementAnyEvents }

func (u *uniqueOp) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(u, order)
}

func (u *uniqueOp) Instantiate(Control) (Instance, error) {
	return &uniqueInstance{}, nil
}

type uniqueInstance struct {
	last    Value
	hasLast bool
}

func (u *uniqueInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	if s.Len() == 0 {
		return out.Slice(ctx, s)
	}
	keep := make([]bool, s.Len())
	kept := 0
	for i := 0; i < s.Len(); i++ {
		row := s.Row(i)
		if !u.hasLast || !u.last.Equal(row) {
			keep[i] = true
			kept++
		}
		u.last = row
		u.hasLast = true
	}
	if kept == 0 {
		return nil
	}
	if kept == s.Len() {
		return out.Slice(ctx, s)
	}
	return out.Slice(ctx, filterRows(s, keep))
}

func (u *uniqueInstance) Flush(context.Context, Emitter) error  { return nil }
func (u *uniqueInstance) Finish(context.Context, Emitter) error { return nil }

func (u *uniqueInstance) CheckpointState() ([]byte, error) {
	if !u.hasLast {
		return nil, nil
	}
	var buf []byte
	buf = u.last.Type().appendCanonical(buf)
	return appendValue(buf, u.last), nil
}

func (u *uniqueInstance) RestoreState(state []byte) error {
	if len(state) == 0 {
		u.hasLast = false
		u.last = Value{}
		return nil
	}
	cur := &cursor{buf: state}
	t, err := readType(cur)
	if err != nil {
		return err
	}
	v, err := readValue(cur, t)
	if err != nil {
		return err
	}
	u.last = v
	u.hasLast = true
	return nil
}
