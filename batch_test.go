package streamz

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func driveBatch(t *testing.T, inst Instance, slices []TableSlice) []TableSlice {
	t.Helper()
	b := inst.(*batchInstance)
	var out CollectEmitter
	ctx := context.Background()
	for _, s := range slices {
		if err := b.Process(ctx, s, &out); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if err := b.Finish(ctx, &out); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return out.Slices
}

func TestBatch_CoalescesToLimit(t *testing.T) {
	op := NewBatch(3, 0)
	inst, err := op.Instantiate(nil)
	if err != nil {
		t.Fatal(err)
	}
	var inputs []TableSlice
	for i := int64(1); i <= 5; i++ {
		inputs = append(inputs, intSlice(t, i))
	}
	got := driveBatch(t, inst, inputs)
	if len(got) != 2 {
		t.Fatalf("expected 2 output slices, got %d", len(got))
	}
	if got[0].Len() != 3 || got[1].Len() != 2 {
		t.Errorf("lengths: got %d and %d, want 3 and 2", got[0].Len(), got[1].Len())
	}
	if !equalInts(rowInts(t, got[0], "a"), []int64{1, 2, 3}) {
		t.Errorf("first batch rows: %v", rowInts(t, got[0], "a"))
	}
	if !equalInts(rowInts(t, got[1], "a"), []int64{4, 5}) {
		t.Errorf("second batch rows: %v", rowInts(t, got[1], "a"))
	}
}

func TestBatch_SplitsOversizedInput(t *testing.T) {
	op := NewBatch(2, 0)
	inst, _ := op.Instantiate(nil)
	got := driveBatch(t, inst, []TableSlice{intSlice(t, 1, 2, 3, 4, 5)})
	if len(got) != 3 {
		t.Fatalf("expected 3 output slices, got %d", len(got))
	}
	for i, want := range []int{2, 2, 1} {
		if got[i].Len() != want {
			t.Errorf("slice %d: got %d rows, want %d", i, got[i].Len(), want)
		}
	}
}

func TestBatch_SchemaChangeFlushes(t *testing.T) {
	op := NewBatch(100, 0)
	inst, _ := op.Instantiate(nil)
	a := intSlice(t, 1)
	b := mustSlice(t, map[string]any{"s": "x"})
	got := driveBatch(t, inst, []TableSlice{a, b})
	if len(got) != 2 {
		t.Fatalf("expected 2 output slices, got %d", len(got))
	}
	if !got[0].Schema().Equal(a.Schema()) || !got[1].Schema().Equal(b.Schema()) {
		t.Error("schema change must flush the old schema before buffering the new one")
	}
}

func TestBatch_KeepAlivePassesThrough(t *testing.T) {
	op := NewBatch(10, 0)
	inst, _ := op.Instantiate(nil)
	b := inst.(*batchInstance)
	var out CollectEmitter
	if err := b.Process(context.Background(), EmptySlice(intSlice(t, 1).Schema()), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Slices) != 1 || out.Slices[0].Len() != 0 {
		t.Errorf("keep-alive must be forwarded, got %d slices", len(out.Slices))
	}
}

func TestBatch_TimeoutFlushes(t *testing.T) {
	clock := clockz.NewFakeClock()
	op := NewBatch(100, 50*time.Millisecond).(*batchOp).WithClock(clock)
	inst, _ := op.Instantiate(nil)
	b := inst.(*batchInstance)
	var out CollectEmitter
	ctx := context.Background()
	if err := b.Process(ctx, intSlice(t, 1), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Slices) != 0 {
		t.Fatal("nothing should flush before the timeout")
	}
	clock.Advance(60 * time.Millisecond)
	// The next input observes the elapsed timeout and flushes the buffer
	// first.
	if err := b.Process(ctx, intSlice(t, 2), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Slices) != 1 || !equalInts(rowInts(t, out.Slices[0], "a"), []int64{1}) {
		t.Fatalf("expected the buffered row to flush on timeout, got %v", out.Slices)
	}
}

func TestBatch_FlushDrainsBufferAtBarrier(t *testing.T) {
	op := NewBatch(100, 0)
	inst, _ := op.Instantiate(nil)
	b := inst.(*batchInstance)
	var out CollectEmitter
	ctx := context.Background()
	if err := b.Process(ctx, intSlice(t, 1, 2), &out); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(ctx, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Slices) != 1 || out.Slices[0].Len() != 2 {
		t.Fatalf("Flush must emit everything buffered, got %v", out.Slices)
	}
}
