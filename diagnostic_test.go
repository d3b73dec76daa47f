package streamz

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestDiagnostic_JSONFormat(t *testing.T) {
	d := Warningf("field `%s` not found", "a").
		At(Location{Begin: 4, End: 9}).
		WithNote("schema is record{b: int64}").
		WithHint("did you mean `b`?")
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["severity"] != "warning" {
		t.Errorf("severity: got %v", decoded["severity"])
	}
	if decoded["message"] != "field `a` not found" {
		t.Errorf("message: got %v", decoded["message"])
	}
	locs, ok := decoded["locations"].([]any)
	if !ok || len(locs) != 1 {
		t.Fatalf("locations: got %v", decoded["locations"])
	}
	loc := locs[0].(map[string]any)
	if loc["begin"] != float64(4) || loc["end"] != float64(9) {
		t.Errorf("location: got %v", loc)
	}
	if notes := decoded["notes"].([]any); len(notes) != 1 {
		t.Errorf("notes: got %v", decoded["notes"])
	}
	if hints := decoded["hints"].([]any); len(hints) != 1 {
		t.Errorf("hints: got %v", decoded["hints"])
	}
}

func TestDiagnostic_EmptyLocationsRenderAsArray(t *testing.T) {
	raw, err := json.Marshal(Notef("hello"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["locations"].([]any); !ok {
		t.Errorf("locations must serialize as an array, got %v", decoded["locations"])
	}
}

func TestDiagnostic_SeverityRoundtrip(t *testing.T) {
	for _, s := range []Severity{SeverityNote, SeverityWarning, SeverityError} {
		raw, err := json.Marshal(s)
		if err != nil {
			t.Fatal(err)
		}
		var back Severity
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatal(err)
		}
		if back != s {
			t.Errorf("severity roundtrip: %s became %s", s, back)
		}
	}
}

func TestCollectingSink_Concurrent(t *testing.T) {
	var sink CollectingSink
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				sink.Emit(Notef("n"))
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if got := len(sink.Diagnostics()); got != 800 {
		t.Errorf("expected 800 diagnostics, got %d", got)
	}
}
