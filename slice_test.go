package streamz

import (
	"testing"
	"time"
)

func intSlice(t *testing.T, vals ...int64) TableSlice {
	t.Helper()
	rows := make([]map[string]any, len(vals))
	for i, v := range vals {
		rows[i] = map[string]any{"a": v}
	}
	return mustSlice(t, rows...)
}

func TestTableSlice_SplitConcatenate_Roundtrip(t *testing.T) {
	s := intSlice(t, 1, 2, 3, 4, 5)
	for a := 0; a <= s.Len(); a++ {
		for b := a; b <= s.Len(); b++ {
			first, rest := s.Split(a)
			second, _ := rest.Split(b - a)
			got, err := Concatenate([]TableSlice{first, second})
			if err != nil {
				t.Fatalf("concatenate(%d,%d): %v", a, b, err)
			}
			want, _ := s.Split(b)
			if !equalInts(rowInts(t, got, "a"), rowInts(t, want, "a")) {
				t.Errorf("split(%d)/split(%d) roundtrip mismatch", a, b)
			}
		}
	}
}

func TestTableSlice_Split_Clamps(t *testing.T) {
	s := intSlice(t, 1, 2, 3)
	head, tail := s.Split(-1)
	if head.Len() != 0 || tail.Len() != 3 {
		t.Errorf("Split(-1): got %d/%d", head.Len(), tail.Len())
	}
	head, tail = s.Split(10)
	if head.Len() != 3 || tail.Len() != 0 {
		t.Errorf("Split(10): got %d/%d", head.Len(), tail.Len())
	}
}

func TestTableSlice_Split_OffsetsShift(t *testing.T) {
	s := intSlice(t, 1, 2, 3, 4).WithOffset(10)
	_, tail := s.Split(3)
	off, ok := tail.Offset()
	if !ok || off != 13 {
		t.Errorf("tail offset: got %d (ok=%v), want 13", off, ok)
	}
}

func TestConcatenate_SchemaMismatch(t *testing.T) {
	a := mustSlice(t, map[string]any{"a": int64(1)})
	b := mustSlice(t, map[string]any{"b": "x"})
	_, err := Concatenate([]TableSlice{a, b})
	if err == nil {
		t.Fatal("expected schema mismatch error")
	}
	if CodeOf(err) != CodeTypeMismatch {
		t.Errorf("expected type_mismatch code, got %s", CodeOf(err))
	}
}

func TestConcatenate_KeepsLatestImportTime(t *testing.T) {
	early := time.Unix(100, 0).UTC()
	late := time.Unix(200, 0).UTC()
	a := intSlice(t, 1).WithImportTime(early)
	b := intSlice(t, 2).WithImportTime(late)
	got, err := Concatenate([]TableSlice{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if !got.ImportTime().Equal(late) {
		t.Errorf("import time: got %v, want %v", got.ImportTime(), late)
	}
}

func TestTableSlice_SelectColumns(t *testing.T) {
	s := mustSlice(t,
		map[string]any{"a": int64(1), "b": "x", "c": true},
		map[string]any{"a": int64(2), "b": "y", "c": false},
	)
	got := s.SelectColumns([]string{"c", "a", "a"})
	if got.Len() != s.Len() {
		t.Errorf("length changed: %d != %d", got.Len(), s.Len())
	}
	want := RecordType(
		Field{Name: "a", Type: Int64Type()},
		Field{Name: "c", Type: BoolType()},
	)
	if !got.Schema().Equal(want) {
		t.Errorf("schema: got %s, want %s", got.Schema(), want)
	}
}

func TestTableSlice_SelectColumns_NestedProjection(t *testing.T) {
	s := mustSlice(t, map[string]any{
		"conn": map[string]any{"src": "10.0.0.1", "dst": "10.0.0.2"},
		"n":    int64(7),
	})
	got := s.SelectColumns([]string{"conn.src"})
	if got.Schema().NumFields() != 1 {
		t.Fatalf("schema: got %s", got.Schema())
	}
	conn := got.Schema().Fields()[0]
	if conn.Name != "conn" || conn.Type.NumFields() != 1 || conn.Type.Fields()[0].Name != "src" {
		t.Errorf("expected conn{src}, got %s", got.Schema())
	}
}

func TestTableSlice_Flatten(t *testing.T) {
	s := mustSlice(t, map[string]any{
		"x": map[string]any{"y": int64(1), "z": int64(2)},
		"n": int64(9),
	})
	flat, renamed := s.Flatten(".")
	if len(renamed) != 0 {
		t.Errorf("unexpected renames: %v", renamed)
	}
	want := RecordType(
		Field{Name: "n", Type: Int64Type()},
		Field{Name: "x.y", Type: Int64Type()},
		Field{Name: "x.z", Type: Int64Type()},
	)
	if !flat.Schema().Equal(want) {
		t.Errorf("schema: got %s, want %s", flat.Schema(), want)
	}
}

func TestTableSlice_Flatten_RenamesLaterFieldOnCollision(t *testing.T) {
	// The generated name "x.y" collides with a literal top-level "x.y"
	// field; the later field is renamed with the smallest unique suffix.
	schema := RecordType(
		Field{Name: "x", Type: RecordType(Field{Name: "y", Type: Int64Type()})},
		Field{Name: "x.y", Type: Int64Type()},
	)
	b := NewSliceBuilder(schema)
	row := Record(schema,
		Record(schema.Fields()[0].Type, Int64(1)),
		Int64(9),
	)
	if err := b.Append(row); err != nil {
		t.Fatal(err)
	}
	flat, renamed := b.Finish().Flatten(".")
	if len(renamed) != 1 || renamed[0].From != "x.y" || renamed[0].To != "x.y.1" {
		t.Fatalf("renames: got %v", renamed)
	}
	want := RecordType(
		Field{Name: "x.y", Type: Int64Type()},
		Field{Name: "x.y.1", Type: Int64Type()},
	)
	if !flat.Schema().Equal(want) {
		t.Errorf("schema: got %s, want %s", flat.Schema(), want)
	}
	if got := rowInts(t, flat, "x.y"); !equalInts(got, []int64{1}) {
		t.Errorf("x.y: got %v", got)
	}
}

func TestTableSlice_Flatten_Idempotent(t *testing.T) {
	s := mustSlice(t, map[string]any{
		"x": map[string]any{"y": int64(1)},
		"n": int64(2),
	})
	once, _ := s.Flatten(".")
	twice, renamed := once.Flatten(".")
	if len(renamed) != 0 {
		t.Errorf("second flatten renamed fields: %v", renamed)
	}
	if !once.Schema().Equal(twice.Schema()) {
		t.Errorf("flatten not idempotent: %s vs %s", once.Schema(), twice.Schema())
	}
}

func TestTableSlice_Flatten_NullParentNullsLeaves(t *testing.T) {
	inner := RecordType(Field{Name: "y", Type: Int64Type()})
	schema := RecordType(Field{Name: "x", Type: inner})
	b := NewSliceBuilder(schema)
	if err := b.Append(Record(schema, Record(inner, Int64(1)))); err != nil {
		t.Fatal(err)
	}
	if err := b.Append(Record(schema, NullOf(inner))); err != nil {
		t.Fatal(err)
	}
	flat, _ := b.Finish().Flatten(".")
	col, _ := flat.ColumnByName("x.y")
	if col.Array.IsNull(0) {
		t.Error("row 0 should stay valid")
	}
	if !col.Array.IsNull(1) {
		t.Error("row 1 must become null when its parent record is null")
	}
}

func TestSliceBuilder_RejectsWrongSchema(t *testing.T) {
	b := NewSliceBuilder(RecordType(Field{Name: "a", Type: Int64Type()}))
	bad := MustPack(map[string]any{"a": "not an int"})
	if err := b.Append(bad); err == nil {
		t.Error("expected append error for mismatched row")
	}
}
