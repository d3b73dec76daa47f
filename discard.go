package streamz

import (
	"context"
)

// discardOp consumes events and produces nothing, the null sink.
type discardOp struct{}

// NewDiscard creates the sink that swallows everything.
func NewDiscard() Operator {
	return &discardOp{}
}

func (d *discardOp) Name() Name              { return "discard" }
func (d *discardOp) InputKind() ElementKind  { return ElementAnyEvents }
func (d *discardOp) OutputKind() ElementKind { return ElementVoid }

func (d *discardOp) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(d, order)
}

func (d *discardOp) Instantiate(Control) (Instance, error) {
	return &discardInstance{}, nil
}

type discardInstance struct{}

func (d *discardInstance) Process(context.Context, TableSlice, Emitter) error { return nil }
func (d *discardInstance) Flush(context.Context, Emitter) error               { return nil }
func (d *discardInstance) Finish(context.Context, Emitter) error              { return nil }
