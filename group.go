package streamz

import (
	"context"
	"encoding/binary"
)

// groupOp routes events into one sub-pipeline instance per distinct key.
// Each group sees only its own rows; group outputs interleave downstream.
type groupOp struct {
	over Expr
	sub  *Pipeline
}

// NewGroup creates the grouping operator: over is evaluated per row, and
// every distinct result gets its own copy of the sub-pipeline.
func NewGroup(over Expr, sub *Pipeline) Operator {
	return &groupOp{over: over, sub: sub}
}

func (g *groupOp) Name() Name              { return "group" }
func (g *groupOp) InputKind() ElementKind  { return g.sub.InputKind() }
func (g *groupOp) OutputKind() ElementKind { return g.sub.OutputKind() }

// Optimize keeps the operator opaque: predicates do not move across group
// boundaries, but the sub-pipeline optimizes internally.
func (g *groupOp) Optimize(_ Expr, order Order) OptimizeResult {
	sub := g.sub.Optimized()
	if samePipeline(sub, g.sub) {
		return OrderInvariant(g, order)
	}
	return OrderInvariant(&groupOp{over: g.over, sub: sub}, order)
}

// EventOrder is unordered: outputs of different groups interleave freely,
// though rows within one group stay in order.
func (g *groupOp) EventOrder() Order { return OrderUnordered }

func (g *groupOp) Instantiate(ctl Control) (Instance, error) {
	return &groupInstance{
		op:     g,
		ctl:    ctl,
		groups: make(map[string]*fusedChain),
	}, nil
}

type groupInstance struct {
	op  *groupOp
	ctl Control
	// groups maps encoded key bytes to the group's chain; order remembers
	// first appearance for deterministic finish order.
	groups map[string]*fusedChain
	order  []string
}

func (g *groupInstance) chainFor(key Value) (*fusedChain, error) {
	var raw []byte
	raw = key.Type().appendCanonical(raw)
	raw = appendValue(raw, key)
	id := string(raw)
	if chain, ok := g.groups[id]; ok {
		return chain, nil
	}
	inst, err := g.op.sub.Instantiate(g.ctl)
	if err != nil {
		return nil, err
	}
	chain := inst.(*fusedChain)
	g.groups[id] = chain
	g.order = append(g.order, id)
	return chain, nil
}

func (g *groupInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	if s.Len() == 0 {
		return nil
	}
	keys := Eval(g.op.over, s, g.ctl)
	// Partition into runs of equal keys to keep slices chunky.
	begin := 0
	for i := 1; i <= s.Len(); i++ {
		if i < s.Len() && keys.Value(i).Equal(keys.Value(begin)) {
			continue
		}
		chain, err := g.chainFor(keys.Value(begin))
		if err != nil {
			return err
		}
		if err := chain.Process(ctx, s.subRange(begin, i), out); err != nil {
			return err
		}
		begin = i
	}
	return nil
}

func (g *groupInstance) Flush(ctx context.Context, out Emitter) error {
	for _, id := range g.order {
		if err := g.groups[id].Flush(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (g *groupInstance) Finish(ctx context.Context, out Emitter) error {
	for _, id := range g.order {
		if err := g.groups[id].Finish(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

// CheckpointState saves every group's key and chain state, in group
// creation order.
func (g *groupInstance) CheckpointState() ([]byte, error) {
	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(g.order)))
	for _, id := range g.order {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(id)))
		buf = append(buf, id...)
		state, err := g.groups[id].CheckpointState()
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(state)))
		buf = append(buf, state...)
	}
	return buf, nil
}

// RestoreState rebuilds the groups, re-instantiating one sub-pipeline per
// saved key.
func (g *groupInstance) RestoreState(state []byte) error {
	cur := &cursor{buf: state}
	n, err := cur.u32()
	if err != nil {
		return err
	}
	g.groups = make(map[string]*fusedChain, n)
	g.order = nil
	for i := uint32(0); i < n; i++ {
		id, err := cur.str()
		if err != nil {
			return err
		}
		chainState, err := cur.str()
		if err != nil {
			return err
		}
		keyCur := &cursor{buf: []byte(id)}
		keyType, err := readType(keyCur)
		if err != nil {
			return err
		}
		key, err := readValue(keyCur, keyType)
		if err != nil {
			return err
		}
		chain, err := g.chainFor(key)
		if err != nil {
			return err
		}
		if err := chain.RestoreState([]byte(chainState)); err != nil {
			return err
		}
	}
	return nil
}
