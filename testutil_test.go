package streamz

import (
	"testing"
	"time"
)

func mustDuration(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := time.ParseDuration(s)
	if err != nil {
		t.Fatalf("ParseDuration(%q): %v", s, err)
	}
	return d
}

func timeFromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// mustSlice packs rows that share one schema into a single slice.
func mustSlice(t *testing.T, rows ...map[string]any) TableSlice {
	t.Helper()
	slices, err := FromRecords(rows...)
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	if len(slices) != 1 {
		t.Fatalf("expected one schema-homogeneous slice, got %d", len(slices))
	}
	return slices[0]
}

// rowInts extracts an int64 column as a plain slice for assertions.
func rowInts(t *testing.T, s TableSlice, field string) []int64 {
	t.Helper()
	col, ok := s.ColumnByName(field)
	if !ok {
		t.Fatalf("no column %q in %s", field, s.Schema())
	}
	out := make([]int64, col.Len())
	for i := range out {
		v, ok := col.Value(i).AsInt64()
		if !ok {
			t.Fatalf("row %d of %q is not int64: %s", i, field, col.Value(i))
		}
		out[i] = v
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
