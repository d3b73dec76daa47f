package streamz

import (
	"context"
)

// whereOp filters events by a predicate expression. Rows where the
// predicate is not true (false or null) are dropped.
type whereOp struct {
	pred Expr
}

// NewWhere creates the filter operator. During optimization the predicate
// travels upstream and merges with other filters; a fully absorbed filter
// vanishes from the chain.
func NewWhere(pred Expr) Operator {
	return &whereOp{pred: pred}
}

func (w *whereOp) Name() Name              { return "where" }
func (w *whereOp) InputKind() ElementKind  { return ElementAnyEvents }
func (w *whereOp) OutputKind() ElementKind { return ElementAnyEvents }

// Optimize absorbs the operator into the upstream predicate: the filter
// itself disappears and its conjunction with the downstream filter keeps
// travelling.
func (w *whereOp) Optimize(filter Expr, order Order) OptimizeResult {
	return OptimizeResult{
		Replacement:   nil,
		Filter:        ConjoinFilters(w.pred, filter),
		ResidualOrder: order,
	}
}

func (w *whereOp) Instantiate(ctl Control) (Instance, error) {
	return &whereInstance{pred: w.pred, ctl: ctl}, nil
}

type whereInstance struct {
	pred Expr
	ctl  Control
}

func (w *whereInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	if s.Len() == 0 {
		return out.Slice(ctx, s)
	}
	mask := Eval(w.pred, s, w.ctl)
	keep := make([]bool, s.Len())
	kept := 0
	for i := range keep {
		if v, ok := mask.Value(i).AsBool(); ok && v {
			keep[i] = true
			kept++
		}
	}
	if kept == s.Len() {
		return out.Slice(ctx, s)
	}
	if kept == 0 {
		return nil
	}
	return out.Slice(ctx, filterRows(s, keep))
}

func (w *whereInstance) Flush(context.Context, Emitter) error  { return nil }
func (w *whereInstance) Finish(context.Context, Emitter) error { return nil }

// filterRows keeps the marked rows. Consecutive kept runs are carved out as
// zero-copy sub-ranges and concatenated.
func filterRows(s TableSlice, keep []bool) TableSlice {
	var runs []TableSlice
	begin := -1
	for i := 0; i <= len(keep); i++ {
		if i < len(keep) && keep[i] {
			if begin < 0 {
				begin = i
			}
			continue
		}
		if begin >= 0 {
			runs = append(runs, s.subRange(begin, i))
			begin = -1
		}
	}
	if len(runs) == 1 {
		return runs[0]
	}
	out, err := Concatenate(runs)
	if err != nil {
		// Runs of one slice always share a schema.
		panic(err)
	}
	return out
}
