package streamz

import (
	"context"
)

// passOp forwards events unchanged. It exists for composition: nested
// pipelines and tests that need an explicit no-op stage.
type passOp struct{}

// NewPass creates the identity operator.
func NewPass() Operator {
	return &passOp{}
}

func (p *passOp) Name() Name              { return "pass" }
func (p *passOp) InputKind() ElementKind  { return ElementAnyEvents }
func (p *passOp) OutputKind() ElementKind { return ElementAnyEvents }

// Optimize removes the operator; identity stages never survive
// optimization.
func (p *passOp) Optimize(filter Expr, order Order) OptimizeResult {
	return OptimizeResult{Replacement: nil, Filter: filter, ResidualOrder: order}
}

func (p *passOp) Instantiate(Control) (Instance, error) {
	return &passInstance{}, nil
}

func (p *passOp) Internal() bool { return true }

type passInstance struct{}

func (p *passInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	return out.Slice(ctx, s)
}

func (p *passInstance) Flush(context.Context, Emitter) error  { return nil }
func (p *passInstance) Finish(context.Context, Emitter) error { return nil }
