package streamz

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
)

// AggregationFunction folds a stream of series into one final value. The
// engine drives it with Update per input batch and Finish once at the end;
// Save and Restore make the fold survive restarts.
type AggregationFunction interface {
	// Update folds one column of input into the state.
	Update(s Series, diags DiagnosticSink)
	// Finish returns the aggregate.
	Finish() Value
	// Save serializes the fold state.
	Save() ([]byte, error)
	// Restore rebuilds the fold state from Save's output.
	Restore(state []byte) error
}

// AggregationFactory creates a fresh fold.
type AggregationFactory func() AggregationFunction

var (
	aggMu    sync.RWMutex
	aggFuncs = make(map[string]AggregationFactory)
)

// RegisterAggregationFunction makes an aggregation available to the
// aggregate operator.
func RegisterAggregationFunction(name string, factory AggregationFactory) {
	aggMu.Lock()
	defer aggMu.Unlock()
	aggFuncs[name] = factory
}

// LookupAggregationFunction returns a registered factory.
func LookupAggregationFunction(name string) (AggregationFactory, bool) {
	aggMu.RLock()
	defer aggMu.RUnlock()
	f, ok := aggFuncs[name]
	return f, ok
}

// AggregationFunctions lists the registered names, sorted.
func AggregationFunctions() []string {
	aggMu.RLock()
	defer aggMu.RUnlock()
	names := make([]string, 0, len(aggFuncs))
	for name := range aggFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterAggregationFunction("all", func() AggregationFunction { return &boolAgg{conjunction: true, result: true} })
	RegisterAggregationFunction("any", func() AggregationFunction { return &boolAgg{} })
	RegisterAggregationFunction("count", func() AggregationFunction { return &countAgg{} })
	RegisterAggregationFunction("sum", func() AggregationFunction { return &sumAgg{} })
	RegisterAggregationFunction("min", func() AggregationFunction { return &extremumAgg{min: true} })
	RegisterAggregationFunction("max", func() AggregationFunction { return &extremumAgg{} })
	RegisterAggregationFunction("count_distinct", func() AggregationFunction { return &distinctAgg{seen: make(map[string]struct{})} })
	RegisterAggregationFunction("collect", func() AggregationFunction { return &collectAgg{} })
}

// boolAgg implements all (conjunction) and any (disjunction) with
// three-valued semantics: a null input taints a would-be true result for
// all, and a would-be false result for any.
type boolAgg struct {
	conjunction bool
	result      bool
	nulled      bool
	failed      bool
}

func (a *boolAgg) Update(s Series, diags DiagnosticSink) {
	if a.failed {
		return
	}
	switch s.Type.Kind() {
	case KindNull:
		a.nulled = true
	case KindBool:
		arr := s.Array.(*BoolArray)
		if a.conjunction {
			a.result = a.result && arr.FalseCount() == 0
		} else {
			a.result = a.result || arr.TrueCount() > 0
		}
		if arr.NullCount() > 0 {
			a.nulled = true
		}
	default:
		if diags != nil {
			diags.Emit(Warningf("expected type `bool`, got `%s`", s.Type.Kind()))
		}
		a.failed = true
	}
}

func (a *boolAgg) Finish() Value {
	if a.failed {
		return Null()
	}
	if a.nulled {
		// The nulls could have flipped the outcome only in one direction.
		if a.conjunction && a.result {
			return Null()
		}
		if !a.conjunction && !a.result {
			return Null()
		}
	}
	return Bool(a.result)
}

func (a *boolAgg) Save() ([]byte, error) {
	return []byte{boolByte(a.conjunction), boolByte(a.result), boolByte(a.nulled), boolByte(a.failed)}, nil
}

func (a *boolAgg) Restore(state []byte) error {
	if len(state) != 4 {
		return Errorf(CodeStateCorruption, "bool aggregation state has %d bytes, want 4", len(state))
	}
	a.conjunction = state[0] == 1
	a.result = state[1] == 1
	a.nulled = state[2] == 1
	a.failed = state[3] == 1
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// countAgg counts non-null rows.
type countAgg struct {
	n uint64
}

func (a *countAgg) Update(s Series, _ DiagnosticSink) {
	a.n += uint64(s.Len() - s.Array.NullCount())
}

func (a *countAgg) Finish() Value { return Uint64(a.n) }

func (a *countAgg) Save() ([]byte, error) {
	var state [8]byte
	binary.BigEndian.PutUint64(state[:], a.n)
	return state[:], nil
}

func (a *countAgg) Restore(state []byte) error {
	if len(state) != 8 {
		return Errorf(CodeStateCorruption, "count state has %d bytes, want 8", len(state))
	}
	a.n = binary.BigEndian.Uint64(state)
	return nil
}

// sumAgg sums numerics, staying in checked integer arithmetic until a
// double shows up. Overflow nulls the result with a warning instead of
// wrapping.
type sumAgg struct {
	isFloat bool
	started bool
	failed  bool
	i       int64
	f       float64
}

func (a *sumAgg) Update(s Series, diags DiagnosticSink) {
	if a.failed {
		return
	}
	for r := 0; r < s.Len(); r++ {
		v := s.Value(r)
		if v.IsNull() {
			continue
		}
		if f, ok := v.AsDouble(); ok {
			if !a.isFloat {
				a.f = float64(a.i)
				a.isFloat = true
			}
			a.f += f
			a.started = true
			continue
		}
		i, ok := asInt64(v)
		if !ok {
			if diags != nil {
				diags.Emit(Warningf("expected a number, got `%s`", v.Type().Kind()))
			}
			a.failed = true
			return
		}
		if a.isFloat {
			a.f += float64(i)
		} else {
			sum, ok := addInt64(a.i, i)
			if !ok {
				if diags != nil {
					diags.Emit(Warningf("integer overflow in sum"))
				}
				a.failed = true
				return
			}
			a.i = sum
		}
		a.started = true
	}
}

func (a *sumAgg) Finish() Value {
	switch {
	case a.failed, !a.started:
		return Null()
	case a.isFloat:
		return Double(a.f)
	}
	return Int64(a.i)
}

func (a *sumAgg) Save() ([]byte, error) {
	var state [11]byte
	state[0] = boolByte(a.isFloat)
	state[1] = boolByte(a.started)
	state[2] = boolByte(a.failed)
	if a.isFloat {
		binary.BigEndian.PutUint64(state[3:], math.Float64bits(a.f))
	} else {
		binary.BigEndian.PutUint64(state[3:], uint64(a.i))
	}
	return state[:], nil
}

func (a *sumAgg) Restore(state []byte) error {
	if len(state) != 11 {
		return Errorf(CodeStateCorruption, "sum state has %d bytes, want 11", len(state))
	}
	a.isFloat = state[0] == 1
	a.started = state[1] == 1
	a.failed = state[2] == 1
	raw := binary.BigEndian.Uint64(state[3:])
	if a.isFloat {
		a.f = math.Float64frombits(raw)
	} else {
		a.i = int64(raw)
	}
	return nil
}

// extremumAgg tracks min or max under the value ordering.
type extremumAgg struct {
	min  bool
	best Value
	has  bool
}

func (a *extremumAgg) Update(s Series, diags DiagnosticSink) {
	for r := 0; r < s.Len(); r++ {
		v := s.Value(r)
		if v.IsNull() {
			continue
		}
		if !a.has {
			a.best = v
			a.has = true
			continue
		}
		c, ok := v.Compare(a.best)
		if !ok {
			if diags != nil {
				diags.Emit(Warningf("cannot compare `%s` and `%s`", v.Type().Kind(), a.best.Type().Kind()))
			}
			continue
		}
		if (a.min && c < 0) || (!a.min && c > 0) {
			a.best = v
		}
	}
}

func (a *extremumAgg) Finish() Value {
	if !a.has {
		return Null()
	}
	return a.best
}

func (a *extremumAgg) Save() ([]byte, error) {
	state := []byte{boolByte(a.min), boolByte(a.has)}
	if a.has {
		state = a.best.Type().appendCanonical(state)
		state = appendValue(state, a.best)
	}
	return state, nil
}

func (a *extremumAgg) Restore(state []byte) error {
	if len(state) < 2 {
		return Errorf(CodeStateCorruption, "extremum state has %d bytes", len(state))
	}
	a.min = state[0] == 1
	a.has = state[1] == 1
	if !a.has {
		return nil
	}
	cur := &cursor{buf: state[2:]}
	t, err := readType(cur)
	if err != nil {
		return err
	}
	a.best, err = readValue(cur, t)
	return err
}

// distinctAgg counts distinct non-null values by their canonical byte
// encoding.
type distinctAgg struct {
	seen map[string]struct{}
}

func (a *distinctAgg) Update(s Series, _ DiagnosticSink) {
	for r := 0; r < s.Len(); r++ {
		v := s.Value(r)
		if v.IsNull() {
			continue
		}
		var key []byte
		key = v.Type().appendCanonical(key)
		key = appendValue(key, v)
		a.seen[string(key)] = struct{}{}
	}
}

func (a *distinctAgg) Finish() Value { return Uint64(uint64(len(a.seen))) }

func (a *distinctAgg) Save() ([]byte, error) {
	keys := make([]string, 0, len(a.seen))
	for k := range a.seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var state []byte
	state = binary.BigEndian.AppendUint32(state, uint32(len(keys)))
	for _, k := range keys {
		state = appendLenPrefixed(state, k)
	}
	return state, nil
}

func (a *distinctAgg) Restore(state []byte) error {
	cur := &cursor{buf: state}
	n, err := cur.u32()
	if err != nil {
		return err
	}
	a.seen = make(map[string]struct{}, n)
	for i := uint32(0); i < n; i++ {
		k, err := cur.str()
		if err != nil {
			return err
		}
		a.seen[k] = struct{}{}
	}
	return nil
}

// collectAgg gathers every non-null value into a list, preserving order.
type collectAgg struct {
	items []Value
	elem  Type
	typed bool
}

func (a *collectAgg) Update(s Series, _ DiagnosticSink) {
	for r := 0; r < s.Len(); r++ {
		v := s.Value(r)
		if v.IsNull() {
			continue
		}
		if !a.typed {
			a.elem = v.Type()
			a.typed = true
		}
		a.items = append(a.items, v)
	}
}

func (a *collectAgg) Finish() Value {
	elem := a.elem
	if !a.typed {
		elem = NullType()
	}
	return List(elem, a.items...)
}

func (a *collectAgg) Save() ([]byte, error) {
	var state []byte
	state = binary.BigEndian.AppendUint32(state, uint32(len(a.items)))
	for _, v := range a.items {
		state = v.Type().appendCanonical(state)
		state = appendValue(state, v)
	}
	return state, nil
}

func (a *collectAgg) Restore(state []byte) error {
	cur := &cursor{buf: state}
	n, err := cur.u32()
	if err != nil {
		return err
	}
	a.items = nil
	a.typed = false
	for i := uint32(0); i < n; i++ {
		t, err := readType(cur)
		if err != nil {
			return err
		}
		v, err := readValue(cur, t)
		if err != nil {
			return err
		}
		if !a.typed {
			a.elem = t
			a.typed = true
		}
		a.items = append(a.items, v)
	}
	return nil
}

// Aggregation names one output column of the aggregate operator.
type Aggregation struct {
	// Name is the output field name.
	Name string
	// Func is a registered aggregation function.
	Func string
	// Arg is evaluated per input slice and fed to the function.
	Arg Expr
}

// aggregateOp folds the whole stream into a single output row.
type aggregateOp struct {
	aggs []Aggregation
}

// NewAggregate creates the aggregation operator. Every input slice updates
// all folds; one row with one column per aggregation comes out when the
// input ends.
func NewAggregate(aggs ...Aggregation) Operator {
	return &aggregateOp{aggs: append([]Aggregation(nil), aggs...)}
}

func (a *aggregateOp) Name() Name              { return "aggregate" }
func (a *aggregateOp) InputKind() ElementKind  { return ElementAnyEvents }
func (a *aggregateOp) OutputKind() ElementKind { return ElementEvents }

func (a *aggregateOp) Optimize(_ Expr, _ Order) OptimizeResult {
	// Aggregation output does not depend on input order.
	return OrderInvariant(a, OrderUnordered)
}

func (a *aggregateOp) EventOrder() Order { return OrderUnordered }

func (a *aggregateOp) Instantiate(ctl Control) (Instance, error) {
	funcs := make([]AggregationFunction, len(a.aggs))
	for i, agg := range a.aggs {
		factory, ok := LookupAggregationFunction(agg.Func)
		if !ok {
			return nil, Errorf(CodeConfiguration, "unknown aggregation function %q", agg.Func)
		}
		funcs[i] = factory()
	}
	return &aggregateInstance{op: a, funcs: funcs, ctl: ctl}, nil
}

type aggregateInstance struct {
	op    *aggregateOp
	funcs []AggregationFunction
	ctl   Control
	// sinceYield counts rows folded since the last cooperative yield.
	sinceYield int
}

func (a *aggregateInstance) Process(_ context.Context, s TableSlice, _ Emitter) error {
	if s.Len() == 0 {
		return nil
	}
	for i, agg := range a.op.aggs {
		series := Eval(agg.Arg, s, a.ctl)
		a.funcs[i].Update(series, a.ctl)
	}
	a.sinceYield += s.Len() * len(a.funcs)
	if a.sinceYield >= yieldInterval {
		a.sinceYield = 0
		runtime.Gosched()
	}
	return nil
}

// Flush is a no-op: aggregates emit only at end of input, and their fold
// state rides along in the checkpoint instead.
func (a *aggregateInstance) Flush(context.Context, Emitter) error { return nil }

func (a *aggregateInstance) Finish(ctx context.Context, out Emitter) error {
	fields := make([]Field, len(a.funcs))
	vals := make([]Value, len(a.funcs))
	for i, fn := range a.funcs {
		v := fn.Finish()
		fields[i] = Field{Name: a.op.aggs[i].Name, Type: v.Type()}
		vals[i] = v
	}
	schema := RecordType(fields...)
	b := NewSliceBuilder(schema)
	if err := b.Append(Record(schema, vals...)); err != nil {
		return err
	}
	return out.Slice(ctx, b.Finish())
}

func (a *aggregateInstance) CheckpointState() ([]byte, error) {
	var buf []byte
	for _, fn := range a.funcs {
		blob, err := fn.Save()
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(blob)))
		buf = append(buf, blob...)
	}
	return buf, nil
}

func (a *aggregateInstance) RestoreState(state []byte) error {
	for _, fn := range a.funcs {
		if len(state) < 4 {
			return Errorf(CodeStateCorruption, "truncated aggregation state")
		}
		n := binary.BigEndian.Uint32(state[:4])
		state = state[4:]
		if uint32(len(state)) < n {
			return Errorf(CodeStateCorruption, "truncated aggregation state")
		}
		if err := fn.Restore(state[:n]); err != nil {
			return fmt.Errorf("restore aggregation: %w", err)
		}
		state = state[n:]
	}
	if len(state) != 0 {
		return Errorf(CodeStateCorruption, "trailing bytes in aggregation state")
	}
	return nil
}
