package streamz

import (
	"context"
)

// Assignment binds a computed expression to a top-level output field.
type Assignment struct {
	Field string
	Expr  Expr
}

// setOp evaluates expressions per slice and writes the results into
// top-level fields, replacing a field of the same name or appending a new
// one. Existing columns pass through untouched.
type setOp struct {
	assignments []Assignment
}

// NewSet creates the field assignment operator.
func NewSet(assignments ...Assignment) Operator {
	return &setOp{assignments: append([]Assignment(nil), assignments...)}
}

func (s *setOp) Name() Name              { return "set" }
func (s *setOp) InputKind() ElementKind  { return ElementAnyEvents }
func (s *setOp) OutputKind() ElementKind { return ElementAnyEvents }

// Optimize stops predicate pushdown: the predicate may reference fields
// this operator produces or overwrites.
func (s *setOp) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(s, order)
}

func (s *setOp) Instantiate(ctl Control) (Instance, error) {
	return &setInstance{op: s, ctl: ctl}, nil
}

type setInstance struct {
	op  *setOp
	ctl Control
}

func (s *setInstance) Process(ctx context.Context, sl TableSlice, out Emitter) error {
	if sl.Len() == 0 {
		return out.Slice(ctx, sl)
	}
	fields := append([]Field(nil), sl.Schema().Fields()...)
	cols := append([]Array(nil), sl.Columns()...)
	for _, a := range s.op.assignments {
		series := Eval(a.Expr, sl, s.ctl)
		field := Field{Name: a.Field, Type: series.Type}
		replaced := false
		for i := range fields {
			if fields[i].Name == a.Field {
				fields[i] = field
				cols[i] = series.Array
				replaced = true
				break
			}
		}
		if !replaced {
			// Appending keeps all pre-existing columns zero-copy.
			fields = append(fields, field)
			cols = append(cols, series.Array)
		}
	}
	next := TableSlice{
		schema:     RecordType(fields...),
		cols:       cols,
		n:          sl.Len(),
		importTime: sl.importTime,
		offset:     sl.offset,
		hasOffset:  sl.hasOffset,
	}
	return out.Slice(ctx, next)
}

func (s *setInstance) Flush(context.Context, Emitter) error  { return nil }
func (s *setInstance) Finish(context.Context, Emitter) error { return nil }
