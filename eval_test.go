package streamz

import (
	"math"
	"testing"
)

func TestEval_FieldAndComparison(t *testing.T) {
	s := mustSlice(t,
		map[string]any{"a": int64(1)},
		map[string]any{"a": int64(2)},
		map[string]any{"a": int64(3)},
	)
	var sink CollectingSink
	got := Eval(Bin(OpGt, Fieldf("a"), Lit(int64(2))), s, &sink)
	if got.Len() != 3 {
		t.Fatalf("length: got %d", got.Len())
	}
	want := []bool{false, false, true}
	for i, w := range want {
		v, ok := got.Value(i).AsBool()
		if !ok || v != w {
			t.Errorf("row %d: got %s, want %v", i, got.Value(i), w)
		}
	}
	if len(sink.Diagnostics()) != 0 {
		t.Errorf("unexpected diagnostics: %v", sink.Diagnostics())
	}
}

func TestEval_DivisionByZero_NullPlusOneWarning(t *testing.T) {
	rows := make([]map[string]any, 10)
	for i := range rows {
		rows[i] = map[string]any{"a": int64(i)}
	}
	s := mustSlice(t, rows...)
	var sink CollectingSink
	got := Eval(Bin(OpDiv, Lit(int64(1)), Lit(int64(0))), s, &sink)
	if got.Len() != 10 {
		t.Fatalf("length: got %d, want 10", got.Len())
	}
	for i := 0; i < got.Len(); i++ {
		if !got.Array.IsNull(i) {
			t.Errorf("row %d: expected null", i)
		}
	}
	diags := sink.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("expected exactly one warning, got %d: %v", len(diags), diags)
	}
	if diags[0].Severity != SeverityWarning {
		t.Errorf("severity: got %s", diags[0].Severity)
	}
}

func TestEval_IntegerOverflow_NullPlusWarning(t *testing.T) {
	s := intSlice(t, 1)
	var sink CollectingSink
	got := Eval(Bin(OpAdd, Lit(int64(math.MaxInt64)), Lit(int64(1))), s, &sink)
	if !got.Array.IsNull(0) {
		t.Error("overflow must yield null, not wrap")
	}
	if len(sink.Diagnostics()) != 1 {
		t.Errorf("expected one warning, got %v", sink.Diagnostics())
	}
}

func TestEval_NullComparison_YieldsNull(t *testing.T) {
	schema := RecordType(Field{Name: "a", Type: Int64Type()})
	b := NewSliceBuilder(schema)
	if err := b.Append(Record(schema, NullOf(Int64Type()))); err != nil {
		t.Fatal(err)
	}
	s := b.Finish()
	var sink CollectingSink
	got := Eval(Bin(OpEq, Fieldf("a"), Lit(int64(1))), s, &sink)
	if !got.Array.IsNull(0) {
		t.Errorf("null == 1 must be null, got %s", got.Value(0))
	}
	got = Eval(Bin(OpLt, Fieldf("a"), Lit(int64(1))), s, &sink)
	if !got.Array.IsNull(0) {
		t.Errorf("null < 1 must be null, got %s", got.Value(0))
	}
}

func TestEval_ThreeValuedLogic(t *testing.T) {
	schema := RecordType(Field{Name: "p", Type: BoolType()})
	b := NewSliceBuilder(schema)
	if err := b.Append(Record(schema, NullOf(BoolType()))); err != nil {
		t.Fatal(err)
	}
	s := b.Finish()
	var sink CollectingSink
	// null && false == false
	got := Eval(Bin(OpAnd, Fieldf("p"), Lit(false)), s, &sink)
	if v, ok := got.Value(0).AsBool(); !ok || v {
		t.Errorf("null && false: got %s, want false", got.Value(0))
	}
	// null && true == null
	got = Eval(Bin(OpAnd, Fieldf("p"), Lit(true)), s, &sink)
	if !got.Array.IsNull(0) {
		t.Errorf("null && true: got %s, want null", got.Value(0))
	}
	// null || true == true
	got = Eval(Bin(OpOr, Fieldf("p"), Lit(true)), s, &sink)
	if v, ok := got.Value(0).AsBool(); !ok || !v {
		t.Errorf("null || true: got %s, want true", got.Value(0))
	}
}

func TestEval_In(t *testing.T) {
	s := mustSlice(t,
		map[string]any{"a": int64(1)},
		map[string]any{"a": int64(5)},
	)
	list := Lit([]any{int64(1), int64(2), int64(3)})
	var sink CollectingSink
	got := Eval(Bin(OpIn, Fieldf("a"), list), s, &sink)
	if v, _ := got.Value(0).AsBool(); !v {
		t.Error("1 in [1,2,3] must be true")
	}
	if v, ok := got.Value(1).AsBool(); !ok || v {
		t.Error("5 in [1,2,3] must be false")
	}
	// null in xs is null.
	schema := RecordType(Field{Name: "a", Type: Int64Type()})
	b := NewSliceBuilder(schema)
	if err := b.Append(Record(schema, NullOf(Int64Type()))); err != nil {
		t.Fatal(err)
	}
	got = Eval(Bin(OpIn, Fieldf("a"), list), b.Finish(), &sink)
	if !got.Array.IsNull(0) {
		t.Errorf("null in xs: got %s, want null", got.Value(0))
	}
}

func TestEval_TypeMismatch_WarnsAndNulls(t *testing.T) {
	s := mustSlice(t, map[string]any{"a": "text"})
	var sink CollectingSink
	got := Eval(Bin(OpMul, Fieldf("a"), Lit(int64(2))), s, &sink)
	if !got.Array.IsNull(0) {
		t.Errorf("string * int: got %s, want null", got.Value(0))
	}
	if len(sink.Diagnostics()) != 1 {
		t.Errorf("expected one warning, got %v", sink.Diagnostics())
	}
}

func TestEval_TemporalArithmetic(t *testing.T) {
	s := intSlice(t, 1)
	var sink CollectingSink
	// duration / duration is a plain ratio.
	got := Eval(Bin(OpDiv, Lit(mustDuration(t, "2h")), Lit(mustDuration(t, "1h"))), s, &sink)
	if f, ok := got.Value(0).AsDouble(); !ok || f != 2 {
		t.Errorf("2h/1h: got %s, want 2", got.Value(0))
	}
	// time + duration saturates instead of wrapping.
	maxTime := Time(timeFromNanos(math.MaxInt64))
	got = Eval(Bin(OpAdd, &Literal{Value: maxTime}, Lit(mustDuration(t, "1h"))), s, &sink)
	tv, ok := got.Value(0).AsTime()
	if !ok || tv.UnixNano() != math.MaxInt64 {
		t.Errorf("saturating add: got %s", got.Value(0))
	}
}

func TestEval_Deterministic(t *testing.T) {
	s := mustSlice(t,
		map[string]any{"a": int64(2), "b": int64(3)},
		map[string]any{"a": int64(5), "b": int64(7)},
	)
	e := Bin(OpAdd, Bin(OpMul, Fieldf("a"), Fieldf("b")), Lit(int64(1)))
	first := Eval(e, s, nil)
	for i := 0; i < 3; i++ {
		again := Eval(e, s, nil)
		for r := 0; r < s.Len(); r++ {
			if !first.Value(r).Equal(again.Value(r)) {
				t.Fatalf("evaluation not deterministic at row %d", r)
			}
		}
	}
}

func TestEval_ScalarFunction(t *testing.T) {
	s := mustSlice(t, map[string]any{"name": "streamz"})
	var sink CollectingSink
	got := Eval(&Call{Func: "length", Args: []Expr{Fieldf("name")}}, s, &sink)
	if v, ok := got.Value(0).AsInt64(); !ok || v != 7 {
		t.Errorf("length: got %s, want 7", got.Value(0))
	}
	got = Eval(&Call{Func: "no_such_function"}, s, &sink)
	if !got.Array.IsNull(0) {
		t.Error("unknown function must evaluate to null")
	}
}

func TestEvalRuns_OnePerSchemaRun(t *testing.T) {
	slices, err := FromRecords(
		map[string]any{"a": int64(1)},
		map[string]any{"a": int64(2)},
		map[string]any{"b": "x"},
		map[string]any{"a": int64(3)},
	)
	if err != nil {
		t.Fatal(err)
	}
	runs := EvalRuns(Fieldf("a"), slices, nil)
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].Len() != 2 || runs[1].Len() != 1 || runs[2].Len() != 1 {
		t.Errorf("run lengths: %d, %d, %d", runs[0].Len(), runs[1].Len(), runs[2].Len())
	}
}
