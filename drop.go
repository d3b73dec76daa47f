package streamz

import (
	"context"
)

// dropOp removes the columns matched by its paths, the complement of
// projection.
type dropOp struct {
	paths []string
}

// NewDrop creates the column removal operator.
func NewDrop(paths ...string) Operator {
	return &dropOp{paths: append([]string(nil), paths...)}
}

func (d *dropOp) Name() Name              { return "drop" }
func (d *dropOp) InputKind() ElementKind  { return ElementAnyEvents }
func (d *dropOp) OutputKind() ElementKind { return ElementAnyEvents }

func (d *dropOp) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(d, order)
}

func (d *dropOp) Instantiate(Control) (Instance, error) {
	return &dropInstance{op: d}, nil
}

type dropInstance struct {
	op *dropOp
}

func (d *dropInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	drop := make(map[string]struct{})
	for _, p := range d.op.paths {
		for _, m := range s.Schema().Resolve(p) {
			drop[offsetsKey(m.Offsets)] = struct{}{}
		}
	}
	fields, cols := dropFromRecord(s.Schema(), s.Columns(), nil, drop)
	projected := TableSlice{
		schema:     RecordType(fields...),
		cols:       cols,
		n:          s.Len(),
		importTime: s.importTime,
		offset:     s.offset,
		hasOffset:  s.hasOffset,
	}
	return out.Slice(ctx, projected)
}

func (d *dropInstance) Flush(context.Context, Emitter) error  { return nil }
func (d *dropInstance) Finish(context.Context, Emitter) error { return nil }

func dropFromRecord(rec Type, cols []Array, prefix []int, drop map[string]struct{}) ([]Field, []Array) {
	var fields []Field
	var out []Array
	for i, f := range rec.Fields() {
		offs := append(append([]int(nil), prefix...), i)
		if _, gone := drop[offsetsKey(offs)]; gone {
			continue
		}
		if f.Type.Kind() == KindRecord {
			if ra, ok := cols[i].(*RecordArray); ok {
				subFields, subCols := dropFromRecord(f.Type, ra.Children, offs, drop)
				if len(subFields) == 0 {
					continue
				}
				fields = append(fields, Field{Name: f.Name, Type: RecordType(subFields...)})
				out = append(out, &RecordArray{N: ra.N, Children: subCols, Valid: ra.Valid})
				continue
			}
		}
		fields = append(fields, f)
		out = append(out, cols[i])
	}
	return fields, out
}
