package streamz

import (
	"context"
	"math"
	"testing"
)

func runAggregate(t *testing.T, agg Aggregation, slices ...TableSlice) Value {
	t.Helper()
	inst, err := NewAggregate(agg).Instantiate(nil)
	if err != nil {
		t.Fatal(err)
	}
	a := inst.(*aggregateInstance)
	ctx := context.Background()
	for _, s := range slices {
		if err := a.Process(ctx, s, nil); err != nil {
			t.Fatal(err)
		}
	}
	var out CollectEmitter
	if err := a.Finish(ctx, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Slices) != 1 || out.Slices[0].Len() != 1 {
		t.Fatalf("aggregate output: %v", out.Slices)
	}
	v, ok := out.Slices[0].Row(0).Field(agg.Name)
	if !ok {
		t.Fatalf("missing output field %q", agg.Name)
	}
	return v
}

func boolRows(t *testing.T, vals ...any) TableSlice {
	t.Helper()
	schema := RecordType(Field{Name: "x", Type: BoolType()})
	b := NewSliceBuilder(schema)
	for _, v := range vals {
		if v == nil {
			if err := b.Append(Record(schema, NullOf(BoolType()))); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := b.Append(Record(schema, Bool(v.(bool)))); err != nil {
			t.Fatal(err)
		}
	}
	return b.Finish()
}

func TestAggregate_All(t *testing.T) {
	agg := Aggregation{Name: "r", Func: "all", Arg: Fieldf("x")}

	got := runAggregate(t, agg, boolRows(t, true, true))
	if v, ok := got.AsBool(); !ok || !v {
		t.Errorf("all(true, true): got %s, want true", got)
	}

	got = runAggregate(t, agg, boolRows(t, true, nil))
	if !got.IsNull() {
		t.Errorf("all(true, null): got %s, want null", got)
	}

	got = runAggregate(t, agg, boolRows(t, true, nil, false))
	if v, ok := got.AsBool(); !ok || v {
		t.Errorf("all with false present: got %s, want false", got)
	}
}

func TestAggregate_Any(t *testing.T) {
	agg := Aggregation{Name: "r", Func: "any", Arg: Fieldf("x")}

	got := runAggregate(t, agg, boolRows(t, false, true))
	if v, ok := got.AsBool(); !ok || !v {
		t.Errorf("any(false, true): got %s, want true", got)
	}
	got = runAggregate(t, agg, boolRows(t, false, nil))
	if !got.IsNull() {
		t.Errorf("any(false, null): got %s, want null", got)
	}
	got = runAggregate(t, agg, boolRows(t, nil, true))
	if v, ok := got.AsBool(); !ok || !v {
		t.Errorf("any with true present: got %s, want true", got)
	}
}

func TestAggregate_SumMinMaxCount(t *testing.T) {
	s := intSlice(t, 5, 1, 9, 3)
	if got := runAggregate(t, Aggregation{Name: "r", Func: "sum", Arg: Fieldf("a")}, s); !got.Equal(Int64(18)) {
		t.Errorf("sum: got %s", got)
	}
	if got := runAggregate(t, Aggregation{Name: "r", Func: "min", Arg: Fieldf("a")}, s); !got.Equal(Int64(1)) {
		t.Errorf("min: got %s", got)
	}
	if got := runAggregate(t, Aggregation{Name: "r", Func: "max", Arg: Fieldf("a")}, s); !got.Equal(Int64(9)) {
		t.Errorf("max: got %s", got)
	}
	if got := runAggregate(t, Aggregation{Name: "r", Func: "count", Arg: Fieldf("a")}, s); !got.Equal(Uint64(4)) {
		t.Errorf("count: got %s", got)
	}
}

func TestAggregate_SumOverflowNulls(t *testing.T) {
	s := intSlice(t, math.MaxInt64, 1)
	got := runAggregate(t, Aggregation{Name: "r", Func: "sum", Arg: Fieldf("a")}, s)
	if !got.IsNull() {
		t.Errorf("overflowing sum: got %s, want null", got)
	}
}

func TestAggregate_CountDistinct(t *testing.T) {
	s := intSlice(t, 1, 2, 2, 3, 1)
	got := runAggregate(t, Aggregation{Name: "r", Func: "count_distinct", Arg: Fieldf("a")}, s)
	if !got.Equal(Uint64(3)) {
		t.Errorf("count_distinct: got %s, want 3", got)
	}
}

func TestAggregate_Collect(t *testing.T) {
	got := runAggregate(t, Aggregation{Name: "r", Func: "collect", Arg: Fieldf("a")},
		intSlice(t, 1, 2), intSlice(t, 3))
	items, ok := got.AsList()
	if !ok || len(items) != 3 {
		t.Fatalf("collect: got %s", got)
	}
	for i, want := range []int64{1, 2, 3} {
		if !items[i].Equal(Int64(want)) {
			t.Errorf("item %d: got %s, want %d", i, items[i], want)
		}
	}
}

func TestAggregate_SaveRestoreRoundtrip(t *testing.T) {
	for _, name := range AggregationFunctions() {
		factory, _ := LookupAggregationFunction(name)
		fn := factory()
		col, err := BuildSeries(Int64Type(), []Value{Int64(1), Int64(2)})
		if err != nil {
			t.Fatal(err)
		}
		fn.Update(col, nil)
		state, err := fn.Save()
		if err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		restored := factory()
		if err := restored.Restore(state); err != nil {
			t.Fatalf("%s: restore: %v", name, err)
		}
		if !fn.Finish().Equal(restored.Finish()) {
			t.Errorf("%s: state roundtrip changed result: %s vs %s",
				name, fn.Finish(), restored.Finish())
		}
	}
}

func TestAggregate_StreamSplitInvariance(t *testing.T) {
	// Feeding the same rows in different batch shapes must not change the
	// result.
	whole := runAggregate(t, Aggregation{Name: "r", Func: "sum", Arg: Fieldf("a")},
		intSlice(t, 1, 2, 3, 4))
	split := runAggregate(t, Aggregation{Name: "r", Func: "sum", Arg: Fieldf("a")},
		intSlice(t, 1), intSlice(t, 2, 3), intSlice(t, 4))
	if !whole.Equal(split) {
		t.Errorf("batch shape changed aggregate: %s vs %s", whole, split)
	}
}
