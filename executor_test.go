package streamz

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_Run_FilterAndProject(t *testing.T) {
	slices, err := FromRecords(
		map[string]any{"a": int64(1), "b": "x"},
		map[string]any{"a": int64(2), "b": "y"},
		map[string]any{"a": int64(3), "b": "z"},
	)
	if err != nil {
		t.Fatal(err)
	}
	sink := NewCollectSink()
	p := NewPipeline("s2",
		NewSliceSource(slices...),
		NewWhere(Bin(OpGt, Fieldf("a"), Lit(int64(2)))),
		NewSelect("a"),
		sink,
	)
	if err := NewExecutor().Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rows := sink.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	a, _ := rows[0].Field("a")
	if v, ok := a.AsInt64(); !ok || v != 3 {
		t.Errorf("row: got %s, want {a: 3}", rows[0])
	}
	if rows[0].Type().NumFields() != 1 {
		t.Errorf("projection failed: %s", rows[0].Type())
	}
}

func TestExecutor_Run_BatchCoalesces(t *testing.T) {
	var inputs []TableSlice
	for i := int64(1); i <= 5; i++ {
		inputs = append(inputs, intSlice(t, i))
	}
	sink := NewCollectSink()
	p := NewPipeline("s1",
		NewSliceSource(inputs...),
		NewBatch(3, 0),
		sink,
	)
	if err := NewExecutor().Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := sink.Slices()
	if len(got) != 2 || got[0].Len() != 3 || got[1].Len() != 2 {
		lens := make([]int, len(got))
		for i, s := range got {
			lens[i] = s.Len()
		}
		t.Errorf("batch output lengths: %v, want [3 2]", lens)
	}
}

func TestExecutor_Run_PreservesOrder(t *testing.T) {
	var inputs []TableSlice
	var want []int64
	for i := int64(0); i < 100; i++ {
		inputs = append(inputs, intSlice(t, i))
		want = append(want, i)
	}
	sink := NewCollectSink()
	p := NewPipeline("fifo",
		NewSliceSource(inputs...),
		NewBatch(7, 0),
		NewPass(),
		sink,
	)
	if err := NewExecutor().Run(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	var got []int64
	for _, s := range sink.Slices() {
		got = append(got, rowInts(t, s, "a")...)
	}
	if !equalInts(got, want) {
		t.Errorf("rows out of order: %v", got)
	}
}

func TestExecutor_Run_ConfigurationErrorBeforeData(t *testing.T) {
	p := NewPipeline("bad",
		NewSliceSource(intSlice(t, 1)),
		NewAggregate(Aggregation{Name: "x", Func: "no_such_aggregation", Arg: Fieldf("a")}),
		NewDiscard(),
	)
	err := NewExecutor().Run(context.Background(), p)
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if CodeOf(err) != CodeConfiguration {
		t.Errorf("code: got %s, want configuration", CodeOf(err))
	}
}

func TestExecutor_Run_KindMismatchRejected(t *testing.T) {
	p := NewPipeline("bad",
		NewChunkSource(NewChunk([]byte("hi"))),
		NewSelect("a"),
		NewDiscard(),
	)
	err := NewExecutor().Run(context.Background(), p)
	if CodeOf(err) != CodeKindMismatch {
		t.Errorf("expected kind_mismatch, got %v", err)
	}
}

func TestExecutor_Run_ErrorDiagnosticFailsPipeline(t *testing.T) {
	boom := MapSlices("boom", func(_ context.Context, s TableSlice, ctl Control) (TableSlice, error) {
		ctl.Emit(DiagErrorf("cannot handle this input"))
		return s, nil
	})
	var diags CollectingSink
	p := NewPipeline("failing",
		NewSliceSource(intSlice(t, 1)),
		boom,
		NewDiscard(),
	)
	err := NewExecutor().Run(context.Background(), p, WithDiagnostics(&diags))
	if err == nil {
		t.Fatal("expected pipeline failure")
	}
	found := false
	for _, d := range diags.Diagnostics() {
		if d.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Error("error diagnostic must reach the sink")
	}
}

func TestExecutor_Run_WarningDoesNotFailPipeline(t *testing.T) {
	var diags CollectingSink
	p := NewPipeline("warning",
		NewSliceSource(intSlice(t, 1)),
		MapSlices("warn", func(_ context.Context, s TableSlice, ctl Control) (TableSlice, error) {
			ctl.Emit(Warningf("minor trouble"))
			return s, nil
		}),
		NewDiscard(),
	)
	if err := NewExecutor().Run(context.Background(), p, WithDiagnostics(&diags)); err != nil {
		t.Fatalf("warnings must not fail the pipeline: %v", err)
	}
	if len(diags.Diagnostics()) != 1 {
		t.Errorf("expected the warning in the sink, got %v", diags.Diagnostics())
	}
}

func TestExecutor_Run_StrictEscalatesWarnings(t *testing.T) {
	p := NewPipeline("strict",
		NewSliceSource(intSlice(t, 1)),
		NewStrict(MapSlices("warn", func(_ context.Context, s TableSlice, ctl Control) (TableSlice, error) {
			ctl.Emit(Warningf("minor trouble"))
			return s, nil
		})),
		NewDiscard(),
	)
	if err := NewExecutor().Run(context.Background(), p); err == nil {
		t.Error("strict mode must turn warnings into failures")
	}
}

func TestExecutor_Run_OperatorPanicBecomesError(t *testing.T) {
	p := NewPipeline("panicky",
		NewSliceSource(intSlice(t, 1)),
		MapSlices("explode", func(context.Context, TableSlice, Control) (TableSlice, error) {
			panic("kaboom")
		}),
		NewDiscard(),
	)
	err := NewExecutor().Run(context.Background(), p)
	if err == nil {
		t.Fatal("expected failure from panic")
	}
	if CodeOf(err) != CodeRuntime {
		t.Errorf("code: got %s, want runtime", CodeOf(err))
	}
}

func TestExecutor_Shutdown_DrainsAndStops(t *testing.T) {
	ch := make(chan TableSlice)
	sink := NewCollectSink()
	p := NewPipeline("shutdown",
		NewChannelSource(ch, 0),
		sink,
	)
	x := NewExecutor()
	run, err := x.Start(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	ch <- intSlice(t, 1)
	ch <- intSlice(t, 2)
	run.Shutdown()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	if err := run.Wait(); err != nil {
		t.Errorf("graceful shutdown must not error: %v", err)
	}
	var got []int64
	for _, s := range sink.Slices() {
		got = append(got, rowInts(t, s, "a")...)
	}
	if !equalInts(got, []int64{1, 2}) {
		t.Errorf("buffered output must drain before stopping, got %v", got)
	}
}

func TestExecutor_Run_CancelReportsCancelled(t *testing.T) {
	ch := make(chan TableSlice)
	p := NewPipeline("cancelled",
		NewChannelSource(ch, 0),
		NewDiscard(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	x := NewExecutor()
	run, err := x.Start(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	err = run.Wait()
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Code != CodeCanceled {
		t.Errorf("expected cancelled code, got %v", err)
	}
}

func TestExecutor_Run_BytesPipeline(t *testing.T) {
	sink := NewCollectSink()
	p := NewPipeline("lines",
		NewChunkSource(NewChunk([]byte("alpha\nbeta\nga")), NewChunk([]byte("mma\n"))),
		NewReadLines(),
		sink,
	)
	if err := NewExecutor().Run(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, s := range sink.Slices() {
		col, _ := s.ColumnByName("line")
		for i := 0; i < col.Len(); i++ {
			v, _ := col.Value(i).AsString()
			got = append(got, v)
		}
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("lines: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExecutor_Run_GroupRoutesPerKey(t *testing.T) {
	slices, err := FromRecords(
		map[string]any{"k": "a", "v": int64(1)},
		map[string]any{"k": "b", "v": int64(2)},
		map[string]any{"k": "a", "v": int64(3)},
	)
	if err != nil {
		t.Fatal(err)
	}
	sink := NewCollectSink()
	p := NewPipeline("grouped",
		NewSliceSource(slices...),
		NewGroup(Fieldf("k"), NewPipeline("per-key",
			NewAggregate(Aggregation{Name: "total", Func: "sum", Arg: Fieldf("v")}),
		)),
		sink,
	)
	if err := NewExecutor().Run(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	var totals []int64
	for _, s := range sink.Slices() {
		totals = append(totals, rowInts(t, s, "total")...)
	}
	if !equalInts(totals, []int64{4, 2}) {
		t.Errorf("group totals: got %v, want [4 2]", totals)
	}
}
