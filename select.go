package streamz

import (
	"context"
	"sort"
)

// selectOp projects events onto the columns matched by its paths.
type selectOp struct {
	paths []string
}

// NewSelect creates the projection operator. Paths are dot-separated field
// names; a trailing ".*" expands a record into its leaves. Duplicates
// deduplicate and retained columns keep schema order.
func NewSelect(paths ...string) Operator {
	dedup := append([]string(nil), paths...)
	sort.Strings(dedup)
	out := dedup[:0]
	for i, p := range dedup {
		if i == 0 || dedup[i-1] != p {
			out = append(out, p)
		}
	}
	return &selectOp{paths: out}
}

func (s *selectOp) Name() Name              { return "select" }
func (s *selectOp) InputKind() ElementKind  { return ElementAnyEvents }
func (s *selectOp) OutputKind() ElementKind { return ElementAnyEvents }

func (s *selectOp) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(s, order)
}

func (s *selectOp) Instantiate(ctl Control) (Instance, error) {
	return &selectInstance{op: s}, nil
}

type selectInstance struct {
	op *selectOp
}

func (s *selectInstance) Process(ctx context.Context, sl TableSlice, out Emitter) error {
	return out.Slice(ctx, sl.SelectColumns(s.op.paths))
}

func (s *selectInstance) Flush(context.Context, Emitter) error  { return nil }
func (s *selectInstance) Finish(context.Context, Emitter) error { return nil }
