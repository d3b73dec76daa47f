package streamz

import (
	"context"
	"strings"
)

// defaultFlattenSeparator joins nested field names when flattening.
const defaultFlattenSeparator = "."

// flattenOp hoists nested record fields to the top level.
type flattenOp struct {
	sep string
}

// NewFlatten creates the flatten operator with the given separator; an
// empty separator means the default ".".
func NewFlatten(sep string) Operator {
	if sep == "" {
		sep = defaultFlattenSeparator
	}
	return &flattenOp{sep: sep}
}

func (f *flattenOp) Name() Name              { return "flatten" }
func (f *flattenOp) InputKind() ElementKind  { return ElementAnyEvents }
func (f *flattenOp) OutputKind() ElementKind { return ElementAnyEvents }

func (f *flattenOp) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(f, order)
}

func (f *flattenOp) Instantiate(ctl Control) (Instance, error) {
	return &flattenInstance{op: f, ctl: ctl, seen: make(map[uint64]struct{})}, nil
}

type flattenInstance struct {
	op   *flattenOp
	ctl  Control
	seen map[uint64]struct{}
}

func (f *flattenInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	flat, renamed := s.Flatten(f.op.sep)
	// Warn once per schema about conflicting names.
	if len(renamed) > 0 {
		hash := s.Schema().Hash()
		if _, dup := f.seen[hash]; !dup {
			f.seen[hash] = struct{}{}
			names := make([]string, len(renamed))
			for i, r := range renamed {
				names[i] = r.To
			}
			f.ctl.Emit(Warningf("renamed fields with conflicting names after flattening: %s",
				strings.Join(names, ", ")))
		}
	}
	return out.Slice(ctx, flat)
}

func (f *flattenInstance) Flush(context.Context, Emitter) error  { return nil }
func (f *flattenInstance) Finish(context.Context, Emitter) error { return nil }
