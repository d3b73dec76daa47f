package streamz

import (
	"context"
	"testing"
)

func TestSort_OrdersRows(t *testing.T) {
	got := runEventOp(t, NewSort(Fieldf("a"), false),
		intSlice(t, 5, 1), intSlice(t, 4, 2, 3))
	var rows []int64
	for _, s := range got {
		rows = append(rows, rowInts(t, s, "a")...)
	}
	if !equalInts(rows, []int64{1, 2, 3, 4, 5}) {
		t.Errorf("sorted: got %v", rows)
	}
}

func TestSort_Descending(t *testing.T) {
	got := runEventOp(t, NewSort(Fieldf("a"), true), intSlice(t, 2, 9, 4))
	var rows []int64
	for _, s := range got {
		rows = append(rows, rowInts(t, s, "a")...)
	}
	if !equalInts(rows, []int64{9, 4, 2}) {
		t.Errorf("descending: got %v", rows)
	}
}

func TestSort_NullsLast(t *testing.T) {
	schema := RecordType(Field{Name: "a", Type: Int64Type()})
	b := NewSliceBuilder(schema)
	for _, v := range []Value{NullOf(Int64Type()), Int64(2), Int64(1)} {
		if err := b.Append(Record(schema, v)); err != nil {
			t.Fatal(err)
		}
	}
	got := runEventOp(t, NewSort(Fieldf("a"), false), b.Finish())
	if len(got) != 1 || got[0].Len() != 3 {
		t.Fatalf("output: %v", got)
	}
	col, _ := got[0].ColumnByName("a")
	if v, _ := col.Value(0).AsInt64(); v != 1 {
		t.Errorf("first row: got %s", col.Value(0))
	}
	if !col.Array.IsNull(2) {
		t.Error("null keys must sort last")
	}
}

func TestSort_VanishesBeforeUnorderedConsumer(t *testing.T) {
	p := NewPipeline("opt",
		NewSliceSource(),
		NewSort(Fieldf("a"), false),
		NewAggregate(Aggregation{Name: "n", Func: "count", Arg: Fieldf("a")}),
		NewDiscard(),
	)
	for _, op := range p.Optimized().Operators() {
		if op.Name() == "sort" {
			t.Error("sorting before an order-insensitive consumer must be optimized away")
		}
	}
}

func TestSort_StateRoundtrip(t *testing.T) {
	inst, err := NewSort(Fieldf("a"), false).Instantiate(nil)
	if err != nil {
		t.Fatal(err)
	}
	s := inst.(*sortInstance)
	ctx := context.Background()
	if err := s.Process(ctx, intSlice(t, 3, 1), nil); err != nil {
		t.Fatal(err)
	}
	state, err := s.CheckpointState()
	if err != nil {
		t.Fatal(err)
	}
	restoredInst, _ := NewSort(Fieldf("a"), false).Instantiate(nil)
	restored := restoredInst.(*sortInstance)
	if err := restored.RestoreState(state); err != nil {
		t.Fatal(err)
	}
	var out CollectEmitter
	if err := restored.Finish(ctx, &out); err != nil {
		t.Fatal(err)
	}
	var rows []int64
	for _, sl := range out.Slices {
		rows = append(rows, rowInts(t, sl, "a")...)
	}
	if !equalInts(rows, []int64{1, 3}) {
		t.Errorf("restored sort output: %v", rows)
	}
}

func TestSet_AddsAndReplacesFields(t *testing.T) {
	in := mustSlice(t,
		map[string]any{"a": int64(2)},
		map[string]any{"a": int64(5)},
	)
	got := runEventOp(t, NewSet(
		Assignment{Field: "double", Expr: Bin(OpMul, Fieldf("a"), Lit(int64(2)))},
		Assignment{Field: "a", Expr: Bin(OpAdd, Fieldf("a"), Lit(int64(100)))},
	), in)
	if len(got) != 1 {
		t.Fatalf("output slices: %d", len(got))
	}
	if !equalInts(rowInts(t, got[0], "double"), []int64{4, 10}) {
		t.Errorf("double: got %v", rowInts(t, got[0], "double"))
	}
	if !equalInts(rowInts(t, got[0], "a"), []int64{102, 105}) {
		t.Errorf("replaced a: got %v", rowInts(t, got[0], "a"))
	}
}
