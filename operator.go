package streamz

import (
	"context"
	"fmt"
)

// Name identifies processors and operators in paths and diagnostics.
type Name = string

// ElementKind is the payload category of a stream link between operators.
type ElementKind uint8

const (
	// ElementVoid carries nothing: the upstream end of sources and the
	// downstream end of sinks.
	ElementVoid ElementKind = iota
	// ElementBytes carries chunks, the pre-parse form.
	ElementBytes
	// ElementEvents carries table slices.
	ElementEvents
	// ElementAnyEvents is the polymorphic events kind declared by schematic
	// operators: any event schema in, same-shape event schema out.
	ElementAnyEvents
)

var elementNames = [...]string{
	ElementVoid:      "void",
	ElementBytes:     "bytes",
	ElementEvents:    "events",
	ElementAnyEvents: "events",
}

func (k ElementKind) String() string {
	if int(k) < len(elementNames) {
		return elementNames[k]
	}
	return fmt.Sprintf("element(%d)", uint8(k))
}

// Unifies reports whether an output of this kind can feed an input of kind
// other. The polymorphic events kind unifies with plain events.
func (k ElementKind) Unifies(other ElementKind) bool {
	if k == other {
		return true
	}
	isEvents := func(e ElementKind) bool { return e == ElementEvents || e == ElementAnyEvents }
	return isEvents(k) && isEvents(other)
}

// LocationHint expresses where an operator prefers to run.
type LocationHint uint8

const (
	// LocAny runs wherever the executor decides.
	LocAny LocationHint = iota
	// LocLocal must run where the pipeline is instantiated.
	LocLocal
	// LocRemote may be pushed to a data node.
	LocRemote
)

// Order declares what an operator guarantees about its output ordering.
type Order uint8

const (
	// OrderOrdered preserves input order (FIFO).
	OrderOrdered Order = iota
	// OrderUnordered may reorder per-schema runs; intra-run row order is
	// still preserved.
	OrderUnordered
)

// OptimizeResult is an operator's answer to the composer's optimization
// pass.
//
// Replacement is the operator to put in the optimized chain; nil removes
// the operator entirely (a filter fully absorbed upstream vanishes this
// way). Filter and ResidualOrder travel further upstream: a nil Filter
// tells the composer to re-materialize the downstream predicate after this
// operator instead of pushing it past.
type OptimizeResult struct {
	Replacement   Operator
	Filter        Expr
	ResidualOrder Order
}

// PassThrough keeps the operator and lets the downstream predicate travel
// past it, for operators that neither reorder nor touch the referenced
// fields.
func PassThrough(op Operator, filter Expr, order Order) OptimizeResult {
	return OptimizeResult{Replacement: op, Filter: filter, ResidualOrder: order}
}

// OrderInvariant keeps the operator, stops predicate pushdown at it, and
// passes the order hint through.
func OrderInvariant(op Operator, order Order) OptimizeResult {
	return OptimizeResult{Replacement: op, Filter: nil, ResidualOrder: order}
}

// Operator is a pipeline stage declaration: a reusable, immutable recipe
// that Instantiate turns into a running instance. Operators declare their
// input and output element kinds; the composer refuses chains whose kinds
// do not line up.
//
// Optional facets are expressed as additional interfaces: LocationHinted,
// InternalMarker, NonDeterministic, and OrderDeclarer. Operators that omit
// them get the defaults (any location, user-visible, deterministic,
// ordered).
type Operator interface {
	// Name returns the operator's stable identifier.
	Name() Name
	// InputKind returns the element kind consumed.
	InputKind() ElementKind
	// OutputKind returns the element kind produced.
	OutputKind() ElementKind
	// Optimize lets the operator react to the predicate and order hint
	// arriving from its downstream neighbor.
	Optimize(filter Expr, order Order) OptimizeResult
	// Instantiate turns the declaration into a running instance bound to a
	// control plane handle. A CodeConfiguration error aborts the pipeline
	// before any data flows.
	Instantiate(ctl Control) (Instance, error)
}

// LocationHinted is implemented by operators with a placement preference.
type LocationHinted interface {
	OperatorLocation() LocationHint
}

// InternalMarker is implemented by operators excluded from user-visible
// listings.
type InternalMarker interface {
	Internal() bool
}

// NonDeterministic is implemented by operators whose output may differ
// across runs; such operators are never speculatively retried and block
// checkpointing unless they also implement Stateful.
type NonDeterministic interface {
	Deterministic() bool
}

// OrderDeclarer is implemented by operators that relax output ordering.
type OrderDeclarer interface {
	EventOrder() Order
}

// LocationOf returns the operator's placement hint, defaulting to any.
func LocationOf(op Operator) LocationHint {
	if h, ok := op.(LocationHinted); ok {
		return h.OperatorLocation()
	}
	return LocAny
}

// IsInternal reports whether the operator hides from listings.
func IsInternal(op Operator) bool {
	if m, ok := op.(InternalMarker); ok {
		return m.Internal()
	}
	return false
}

// IsDeterministic reports whether the operator replays identically.
func IsDeterministic(op Operator) bool {
	if d, ok := op.(NonDeterministic); ok {
		return d.Deterministic()
	}
	return true
}

// EventOrderOf returns the operator's declared output ordering.
func EventOrderOf(op Operator) Order {
	if d, ok := op.(OrderDeclarer); ok {
		return d.EventOrder()
	}
	return OrderOrdered
}

// Instance is a running operator. The executor drives it according to which
// of the processing facets it implements:
//
//   - SourceInstance for void inputs,
//   - EventProcessor for event inputs,
//   - ChunkProcessor for byte inputs.
//
// Instances that also implement Stateful participate in checkpointing.
type Instance interface{}

// Emitter is the instance-facing side of an output link. Pushing blocks
// while the downstream buffer is full, which is how backpressure suspends
// producers.
type Emitter interface {
	// Slice emits one table slice downstream.
	Slice(ctx context.Context, s TableSlice) error
	// Chunk emits one byte chunk downstream.
	Chunk(ctx context.Context, c *Chunk) error
}

// SourceInstance produces elements with no input. The executor polls it
// until done; between polls it delivers barriers and checks for shutdown.
type SourceInstance interface {
	// Poll produces zero or more elements via out and reports whether the
	// source is exhausted.
	Poll(ctx context.Context, out Emitter) (done bool, err error)
}

// EventProcessor transforms a stream of table slices.
type EventProcessor interface {
	// Process consumes one input slice, emitting any number of outputs.
	Process(ctx context.Context, s TableSlice, out Emitter) error
	// Flush emits everything derived from input consumed so far. The
	// executor calls it when a checkpoint barrier arrives, before the
	// instance's state is snapshotted.
	Flush(ctx context.Context, out Emitter) error
	// Finish is called once after the last input.
	Finish(ctx context.Context, out Emitter) error
}

// ChunkProcessor transforms a stream of byte chunks; parse-like instances
// emit slices instead.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, c *Chunk, out Emitter) error
	Flush(ctx context.Context, out Emitter) error
	Finish(ctx context.Context, out Emitter) error
}

// Stateful instances snapshot and restore opaque state blobs during
// checkpointing. The engine treats the bytes opaquely and only cares about
// byte equality on round-trip.
type Stateful interface {
	// CheckpointState serializes the instance's state.
	CheckpointState() ([]byte, error)
	// RestoreState rebuilds the instance from a snapshot taken by
	// CheckpointState. Undecodable blobs must fail with a
	// CodeStateCorruption error.
	RestoreState(state []byte) error
}

// mapOperator wraps a slice-to-slice function into a stateless schematic
// operator, the quickest way to a custom transformation.
type mapOperator struct {
	name Name
	fn   func(ctx context.Context, s TableSlice, ctl Control) (TableSlice, error)
}

// MapSlices creates a schematic operator that applies fn to every slice.
// The function must preserve row semantics but may change the schema; it
// runs once per input slice with the operator's control plane handle.
func MapSlices(name Name, fn func(ctx context.Context, s TableSlice, ctl Control) (TableSlice, error)) Operator {
	return &mapOperator{name: name, fn: fn}
}

func (m *mapOperator) Name() Name              { return m.name }
func (m *mapOperator) InputKind() ElementKind  { return ElementAnyEvents }
func (m *mapOperator) OutputKind() ElementKind { return ElementAnyEvents }

func (m *mapOperator) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(m, order)
}

func (m *mapOperator) Instantiate(ctl Control) (Instance, error) {
	return &mapInstance{op: m, ctl: ctl}, nil
}

type mapInstance struct {
	op  *mapOperator
	ctl Control
}

func (m *mapInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	res, err := m.op.fn(ctx, s, m.ctl)
	if err != nil {
		return WrapError(CodeRuntime, m.op.name, err)
	}
	return out.Slice(ctx, res)
}

func (m *mapInstance) Flush(context.Context, Emitter) error  { return nil }
func (m *mapInstance) Finish(context.Context, Emitter) error { return nil }
