// Package streamz is a columnar event pipeline engine: operators linked by
// typed streams of immutable batches, driven cooperatively with bounded
// buffering, and recoverable through aligned checkpoint barriers.
//
// # Overview
//
// A pipeline is an ordered chain of operators. Each operator declares what
// flows in and out of it - raw bytes, events (table slices), or nothing -
// and the composer refuses chains whose kinds do not line up. Slices are
// immutable column-major batches: a record schema plus one typed array per
// field, shared by reference and never mutated after production.
//
// # Core Concepts
//
//   - Type, Value, Array, Series: the logical type system and its columnar
//     backing, a tagged union over a closed kind set.
//   - TableSlice: the unit batch. Concatenate, Split, SelectColumns, and
//     Flatten derive new slices, zero-copy where the layout allows.
//   - Expr and Eval: a small expression AST evaluated per slice. Type
//     errors, overflow, and division by zero produce nulls plus warning
//     diagnostics, never aborts.
//   - Operator: the stage contract - kinds, optimization, instantiation,
//     and optional checkpoint state.
//   - Pipeline: composition, kind checking, and the predicate pushdown
//     fixed point. Pipelines nest: a Pipeline is itself an Operator.
//   - Executor: runs pipelines on a bounded worker pool. Links between
//     operators are bounded FIFO buffers; a full link suspends the
//     producer, which is the backpressure mechanism.
//   - CheckpointCoordinator and CheckpointStore: aligned barriers flow
//     through the chain interleaved with data; once every operator has
//     snapshotted, the round commits durably and a restart resumes from
//     it.
//   - Diagnostics: structured notes, warnings, and errors that travel
//     out-of-band on a dedicated sink. Diagnostics are values, not
//     exceptions; error severity fails the emitting operator.
//
// # Usage Example
//
//	slices, _ := streamz.FromRecords(
//	    map[string]any{"a": int64(1), "b": "x"},
//	    map[string]any{"a": int64(3), "b": "z"},
//	)
//	sink := streamz.NewCollectSink()
//	pipe := streamz.NewPipeline("example",
//	    streamz.NewSliceSource(slices...),
//	    streamz.NewWhere(streamz.Bin(streamz.OpGt, streamz.Fieldf("a"), streamz.Lit(int64(2)))),
//	    streamz.NewSelect("a"),
//	    sink,
//	)
//	err := streamz.NewExecutor().Run(context.Background(), pipe)
//
// # Observability
//
// The executor and checkpoint coordinator each expose a metricz registry, a
// tracez tracer, and typed hookz events (OnStarted, OnFailed, OnCommitted,
// ...); the cache exposes a metricz registry only. Components that read the clock take a clockz.Clock
// via WithClock, so tests control time.
package streamz
