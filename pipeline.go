package streamz

import (
	"context"
	"encoding/binary"
	"fmt"
)

// maxOptimizeRounds bounds the optimization fixed point. Real chains settle
// in one or two rounds; the bound only guards against pathological rewrite
// cycles.
const maxOptimizeRounds = 8

// Pipeline is an ordered sequence of operators with matching element kinds.
// Pipelines nest: a Pipeline is itself an Operator whose external kinds are
// those of its ends, which is how grouped and strict execution carry
// sub-pipelines.
type Pipeline struct {
	name Name
	ops  []Operator
}

// NewPipeline assembles a pipeline from operators in source-to-sink order.
func NewPipeline(name Name, ops ...Operator) *Pipeline {
	return &Pipeline{name: name, ops: ops}
}

// Name returns the pipeline's name.
func (p *Pipeline) Name() Name { return p.name }

// Operators returns the chain in source-to-sink order.
func (p *Pipeline) Operators() []Operator { return p.ops }

// InputKind returns the element kind the pipeline consumes. An empty
// pipeline is the polymorphic identity.
func (p *Pipeline) InputKind() ElementKind {
	if len(p.ops) == 0 {
		return ElementAnyEvents
	}
	return p.ops[0].InputKind()
}

// OutputKind returns the element kind the pipeline produces.
func (p *Pipeline) OutputKind() ElementKind {
	if len(p.ops) == 0 {
		return ElementAnyEvents
	}
	return p.ops[len(p.ops)-1].OutputKind()
}

// TypeCheck verifies that every adjacent operator pair agrees on the
// element kind flowing between them.
func (p *Pipeline) TypeCheck() error {
	for i := 0; i+1 < len(p.ops); i++ {
		out, in := p.ops[i].OutputKind(), p.ops[i+1].InputKind()
		if !out.Unifies(in) {
			return Errorf(CodeKindMismatch, "operator %q produces %s but %q consumes %s",
				p.ops[i].Name(), out, p.ops[i+1].Name(), in)
		}
	}
	return nil
}

// CheckClosed verifies the pipeline is runnable on its own: type-correct
// with void on both ends.
func (p *Pipeline) CheckClosed() error {
	if err := p.TypeCheck(); err != nil {
		return err
	}
	if len(p.ops) == 0 {
		return Errorf(CodeKindMismatch, "empty pipeline cannot run")
	}
	if k := p.ops[0].InputKind(); k != ElementVoid {
		return Errorf(CodeKindMismatch, "pipeline must start with a source, but %q consumes %s", p.ops[0].Name(), k)
	}
	if k := p.ops[len(p.ops)-1].OutputKind(); k != ElementVoid {
		return Errorf(CodeKindMismatch, "pipeline must end with a sink, but %q produces %s", p.ops[len(p.ops)-1].Name(), k)
	}
	return nil
}

// Optimized runs the optimization fixed point: each operator is repeatedly
// offered the predicate and order hint arriving from its downstream
// neighbor until no operator rewrites itself. Filters that are fully
// absorbed vanish from the chain; predicates that cannot travel past an
// operator re-materialize right downstream of it.
func (p *Pipeline) Optimized() *Pipeline {
	ops := append([]Operator(nil), p.ops...)
	for round := 0; round < maxOptimizeRounds; round++ {
		rebuilt, changed := optimizeOnce(ops)
		ops = rebuilt
		if !changed {
			break
		}
	}
	return &Pipeline{name: p.name, ops: ops}
}

func optimizeOnce(ops []Operator) ([]Operator, bool) {
	// Walk sink to source, carrying the accumulated predicate upstream.
	var reversed []Operator
	var filter Expr
	order := OrderOrdered
	for i := len(ops) - 1; i >= 0; i-- {
		res := ops[i].Optimize(filter, order)
		if res.Filter == nil && filter != nil {
			// The predicate stops here; put it back just downstream.
			reversed = append(reversed, NewWhere(filter))
		}
		if res.Replacement != nil {
			reversed = append(reversed, res.Replacement)
		}
		filter = res.Filter
		order = res.ResidualOrder
	}
	if filter != nil {
		// Nothing upstream absorbed the predicate: evaluate it first thing.
		reversed = append(reversed, NewWhere(filter))
	}
	out := make([]Operator, len(reversed))
	for i, op := range reversed {
		out[len(reversed)-1-i] = op
	}
	if len(out) != len(ops) {
		return out, true
	}
	for i := range out {
		if !sameOperator(out[i], ops[i]) {
			return out, true
		}
	}
	return out, false
}

// sameOperator treats two filter operators over the identical predicate
// node as the same stage, so a predicate that bounces off the chain's front
// does not keep the fixed point spinning.
func sameOperator(a, b Operator) bool {
	if a == b {
		return true
	}
	wa, ok1 := a.(*whereOp)
	wb, ok2 := b.(*whereOp)
	return ok1 && ok2 && wa.pred == wb.pred
}

// samePipeline compares chains stage by stage under sameOperator.
func samePipeline(a, b *Pipeline) bool {
	if len(a.ops) != len(b.ops) {
		return false
	}
	for i := range a.ops {
		if !sameOperator(a.ops[i], b.ops[i]) {
			return false
		}
	}
	return true
}

// Optimize implements Operator for nested pipelines: the composer treats a
// sub-pipeline as one compound operator. The downstream predicate is
// threaded through the sub-chain; whatever falls out of its upstream end
// continues past the compound operator.
func (p *Pipeline) Optimize(filter Expr, order Order) OptimizeResult {
	ops := append([]Operator(nil), p.ops...)
	var reversed []Operator
	f := filter
	o := order
	for i := len(ops) - 1; i >= 0; i-- {
		res := ops[i].Optimize(f, o)
		if res.Filter == nil && f != nil {
			reversed = append(reversed, NewWhere(f))
		}
		if res.Replacement != nil {
			reversed = append(reversed, res.Replacement)
		}
		f = res.Filter
		o = res.ResidualOrder
	}
	inner := make([]Operator, len(reversed))
	for i, op := range reversed {
		inner[len(reversed)-1-i] = op
	}
	return OptimizeResult{
		Replacement:   &Pipeline{name: p.name, ops: inner},
		Filter:        f,
		ResidualOrder: o,
	}
}

// Instantiate implements Operator: the nested chain runs fused, each
// operator feeding the next in-line without intermediate links.
func (p *Pipeline) Instantiate(ctl Control) (Instance, error) {
	if err := p.TypeCheck(); err != nil {
		return nil, err
	}
	procs := make([]EventProcessor, 0, len(p.ops))
	for _, op := range p.ops {
		inst, err := op.Instantiate(ctl)
		if err != nil {
			return nil, err
		}
		proc, ok := inst.(EventProcessor)
		if !ok {
			return nil, Errorf(CodeKindMismatch, "operator %q cannot run inside a nested pipeline", op.Name())
		}
		procs = append(procs, proc)
	}
	return &fusedChain{procs: procs}, nil
}

// fusedChain drives a nested pipeline's instances in-line: every slice
// emitted by stage i goes straight into stage i+1.
type fusedChain struct {
	procs []EventProcessor
}

// stageEmitter forwards stage output into the next stage.
type stageEmitter struct {
	chain *fusedChain
	next  int
	final Emitter
}

func (e stageEmitter) Slice(ctx context.Context, s TableSlice) error {
	if e.next >= len(e.chain.procs) {
		return e.final.Slice(ctx, s)
	}
	return e.chain.procs[e.next].Process(ctx, s, stageEmitter{chain: e.chain, next: e.next + 1, final: e.final})
}

func (e stageEmitter) Chunk(ctx context.Context, c *Chunk) error {
	return e.final.Chunk(ctx, c)
}

func (f *fusedChain) Process(ctx context.Context, s TableSlice, out Emitter) error {
	if len(f.procs) == 0 {
		return out.Slice(ctx, s)
	}
	return f.procs[0].Process(ctx, s, stageEmitter{chain: f, next: 1, final: out})
}

// Flush cascades upstream-first so late stages see everything earlier
// stages were buffering.
func (f *fusedChain) Flush(ctx context.Context, out Emitter) error {
	for i, proc := range f.procs {
		if err := proc.Flush(ctx, stageEmitter{chain: f, next: i + 1, final: out}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fusedChain) Finish(ctx context.Context, out Emitter) error {
	for i, proc := range f.procs {
		if err := proc.Finish(ctx, stageEmitter{chain: f, next: i + 1, final: out}); err != nil {
			return err
		}
	}
	return nil
}

// CheckpointState concatenates the child snapshots with length prefixes;
// stateless children contribute empty blobs.
func (f *fusedChain) CheckpointState() ([]byte, error) {
	var buf []byte
	for _, proc := range f.procs {
		var blob []byte
		if st, ok := proc.(Stateful); ok {
			var err error
			blob, err = st.CheckpointState()
			if err != nil {
				return nil, err
			}
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(blob)))
		buf = append(buf, blob...)
	}
	return buf, nil
}

// RestoreState splits the concatenated snapshot back into the children.
func (f *fusedChain) RestoreState(state []byte) error {
	for _, proc := range f.procs {
		if len(state) < 4 {
			return Errorf(CodeStateCorruption, "truncated nested pipeline state")
		}
		n := binary.BigEndian.Uint32(state[:4])
		state = state[4:]
		if uint32(len(state)) < n {
			return Errorf(CodeStateCorruption, "truncated nested pipeline state")
		}
		blob, rest := state[:n], state[n:]
		state = rest
		if st, ok := proc.(Stateful); ok {
			if err := st.RestoreState(blob); err != nil {
				return err
			}
		} else if n != 0 {
			return Errorf(CodeStateCorruption, "state blob for stateless stage")
		}
	}
	if len(state) != 0 {
		return Errorf(CodeStateCorruption, "trailing bytes in nested pipeline state")
	}
	return nil
}

// String renders the chain for logs and error messages.
func (p *Pipeline) String() string {
	s := ""
	for i, op := range p.ops {
		if i > 0 {
			s += " | "
		}
		s += op.Name()
	}
	if s == "" {
		s = "<empty>"
	}
	return fmt.Sprintf("pipeline(%s)", s)
}
