package streamz

import (
	"context"
	"testing"
)

func TestPipeline_TypeCheck_KindMismatch(t *testing.T) {
	p := NewPipeline("bad",
		NewChunkSource(NewChunk([]byte("x"))),
		NewSelect("a"), // consumes events, source produces bytes
		NewDiscard(),
	)
	err := p.TypeCheck()
	if err == nil {
		t.Fatal("expected kind mismatch")
	}
	if CodeOf(err) != CodeKindMismatch {
		t.Errorf("code: got %s, want kind_mismatch", CodeOf(err))
	}
}

func TestPipeline_TypeCheck_AnyEventsUnifiesWithEvents(t *testing.T) {
	p := NewPipeline("ok",
		NewSliceSource(), // produces events
		NewSelect("a"),   // schematic: any events
		NewDiscard(),
	)
	if err := p.TypeCheck(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPipeline_CheckClosed_RequiresVoidEnds(t *testing.T) {
	open := NewPipeline("open", NewSelect("a"))
	if err := open.CheckClosed(); err == nil {
		t.Error("open pipeline must not pass CheckClosed")
	}
	closed := NewPipeline("closed", NewSliceSource(), NewDiscard())
	if err := closed.CheckClosed(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPipeline_Optimized_AbsorbsFilter(t *testing.T) {
	pred := Bin(OpGt, Fieldf("a"), Lit(int64(2)))
	p := NewPipeline("opt",
		NewSliceSource(),
		NewWhere(pred),
		NewSelect("a"),
		NewDiscard(),
	)
	got := p.Optimized()
	ops := got.Operators()
	if len(ops) != 4 {
		t.Fatalf("expected 4 operators, got %d (%s)", len(ops), got)
	}
	// The filter travels upstream past nothing absorbable and
	// re-materializes right after the source.
	if ops[0].Name() != "from_slices" || ops[1].Name() != "where" || ops[2].Name() != "select" {
		t.Errorf("unexpected chain: %s", got)
	}
	// The fixed point is stable.
	again := got.Optimized()
	if !samePipeline(got, again) {
		t.Errorf("optimization did not reach a fixed point: %s vs %s", got, again)
	}
}

func TestPipeline_Optimized_RemovesPass(t *testing.T) {
	p := NewPipeline("opt", NewSliceSource(), NewPass(), NewPass(), NewDiscard())
	got := p.Optimized()
	if len(got.Operators()) != 2 {
		t.Errorf("identity stages must vanish, got %s", got)
	}
}

func TestPipeline_MergesAdjacentFilters(t *testing.T) {
	p := NewPipeline("opt",
		NewSliceSource(),
		NewWhere(Bin(OpGt, Fieldf("a"), Lit(int64(1)))),
		NewWhere(Bin(OpLt, Fieldf("a"), Lit(int64(10)))),
		NewDiscard(),
	)
	got := p.Optimized()
	count := 0
	for _, op := range got.Operators() {
		if op.Name() == "where" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("adjacent filters must merge into one, got %d in %s", count, got)
	}
}

func TestPipeline_Nested_RunsFused(t *testing.T) {
	sub := NewPipeline("sub",
		NewSelect("a"),
	)
	inst, err := sub.Instantiate(nil)
	if err != nil {
		t.Fatal(err)
	}
	chain := inst.(*fusedChain)
	var out CollectEmitter
	s := mustSlice(t, map[string]any{"a": int64(1), "b": "x"})
	if err := chain.Process(context.Background(), s, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Slices) != 1 || out.Slices[0].Schema().NumFields() != 1 {
		t.Fatalf("nested pipeline output: %v", out.Slices)
	}
}

func TestPipeline_Nested_KindsAreEnds(t *testing.T) {
	sub := NewPipeline("sub", NewSelect("a"), NewFlatten("."))
	if sub.InputKind() != ElementAnyEvents {
		t.Errorf("input kind: got %s", sub.InputKind())
	}
	if sub.OutputKind() != ElementAnyEvents {
		t.Errorf("output kind: got %s", sub.OutputKind())
	}
}
