package streamz

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *CheckpointStore {
	t.Helper()
	store, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestCheckpointStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCheckpointStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	id := NewPipelineID()
	if err := store.WriteState(id, 7, 0, []byte("state-zero")); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteState(id, 7, 1, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(id, 7); err != nil {
		t.Fatal(err)
	}
	// The committed marker is exactly eight big-endian bytes.
	marker, err := os.ReadFile(filepath.Join(dir, id.String(), "CHECKPOINT"))
	if err != nil {
		t.Fatal(err)
	}
	if len(marker) != 8 || binary.BigEndian.Uint64(marker) != 7 {
		t.Errorf("CHECKPOINT marker: %v", marker)
	}
	// Blobs live under <pipeline>/<checkpoint>/<operator index>.
	if _, err := os.Stat(filepath.Join(dir, id.String(), "7", "0")); err != nil {
		t.Errorf("blob file missing: %v", err)
	}
	got, err := store.ReadState(id, 7, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "state-zero" {
		t.Errorf("blob roundtrip: got %q", got)
	}
	committed, ok, err := store.Committed(id)
	if err != nil || !ok || committed != 7 {
		t.Errorf("Committed: %d, %v, %v", committed, ok, err)
	}
}

func TestCheckpointStore_CommittedAbsent(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.Committed(NewPipelineID())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("fresh pipeline must have no committed checkpoint")
	}
}

func TestCheckpointStore_Prune(t *testing.T) {
	store := newTestStore(t)
	id := NewPipelineID()
	for cp := uint64(1); cp <= 4; cp++ {
		if err := store.WriteState(id, cp, 0, []byte{byte(cp)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Commit(id, 4); err != nil {
		t.Fatal(err)
	}
	if err := store.Prune(id, 1); err != nil {
		t.Fatal(err)
	}
	ids, err := store.Checkpoints(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 4 {
		t.Errorf("after prune: %v, want [3 4]", ids)
	}
}

func TestCoordinator_LoadLatest_FallsBackPastCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCheckpointStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	id := NewPipelineID()
	if err := store.WriteState(id, 1, 0, []byte("good")); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteState(id, 2, 0, []byte("newer")); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(id, 2); err != nil {
		t.Fatal(err)
	}
	// Corrupt the newer blob so it no longer decompresses.
	blobPath := filepath.Join(dir, id.String(), strconv.Itoa(2), "0")
	if err := os.WriteFile(blobPath, []byte("not zstd at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	coord := NewCheckpointCoordinator(store, time.Second)
	gotID, blobs, ok := coord.loadLatest(id, 1)
	if !ok {
		t.Fatal("expected fallback to the older checkpoint")
	}
	if gotID != 1 || string(blobs[0]) != "good" {
		t.Errorf("fallback: got id %d blob %q", gotID, blobs[0])
	}
}

// slowOp delays each slice so a run spans several checkpoint intervals.
func slowOp(delay time.Duration) Operator {
	return MapSlices("slow", func(ctx context.Context, s TableSlice, _ Control) (TableSlice, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return s, ctx.Err()
		}
		return s, nil
	})
}

func TestCheckpoint_CommitsDuringRun(t *testing.T) {
	store := newTestStore(t)
	coord := NewCheckpointCoordinator(store, 2*time.Millisecond)
	defer coord.Close()

	var inputs []TableSlice
	for i := int64(0); i < 50; i++ {
		inputs = append(inputs, intSlice(t, i))
	}
	id := NewPipelineID()
	p := NewPipeline("ckpt",
		NewSliceSource(inputs...),
		slowOp(time.Millisecond),
		NewDiscard(),
	)
	err := NewExecutor().Run(context.Background(), p,
		WithCheckpoints(coord), WithPipelineID(id))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Committed(id); !ok {
		t.Error("expected at least one committed checkpoint during the run")
	}
}

func TestCheckpoint_RestartResumesExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	coord := NewCheckpointCoordinator(store, 2*time.Millisecond)
	defer coord.Close()

	const total = 200
	var inputs []TableSlice
	for i := int64(0); i < total; i++ {
		inputs = append(inputs, intSlice(t, i))
	}
	id := NewPipelineID()

	committed := make(chan uint64, 16)
	if err := coord.OnCommitted(func(_ context.Context, e CheckpointEvent) error {
		select {
		case committed <- e.ID:
		default:
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// First run: stop somewhere in the middle, after a checkpoint has
	// committed.
	firstSink := NewCollectSink()
	p1 := NewPipeline("resume",
		NewSliceSource(inputs...),
		slowOp(500*time.Microsecond),
		firstSink,
	)
	run, err := NewExecutor().Start(context.Background(), p1,
		WithCheckpoints(coord), WithPipelineID(id))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-committed:
	case <-time.After(5 * time.Second):
		t.Fatal("no checkpoint committed in time")
	}
	run.Shutdown()
	if err := run.Wait(); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The committed source position tells us which rows the restart owes
	// us.
	cp, ok, err := store.Committed(id)
	if err != nil || !ok {
		t.Fatalf("no committed checkpoint: %v", err)
	}
	posBlob, err := store.ReadState(id, cp, 0)
	if err != nil {
		t.Fatal(err)
	}
	k := binary.BigEndian.Uint64(posBlob)
	if k == 0 || k > total {
		t.Fatalf("implausible committed position %d", k)
	}

	// Second run resumes from the committed position and delivers the
	// remaining rows exactly once.
	secondSink := NewCollectSink()
	p2 := NewPipeline("resume",
		NewSliceSource(inputs...),
		slowOp(0),
		secondSink,
	)
	err = NewExecutor().Run(context.Background(), p2,
		WithCheckpoints(coord), WithPipelineID(id))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	var got []int64
	for _, s := range secondSink.Slices() {
		got = append(got, rowInts(t, s, "a")...)
	}
	var want []int64
	for i := int64(k); i < total; i++ {
		want = append(want, i)
	}
	if !equalInts(got, want) {
		t.Errorf("restart output: got %d rows starting %v, want rows %d..%d exactly once",
			len(got), head3(got), k, total-1)
	}
}

func head3(xs []int64) []int64 {
	if len(xs) > 3 {
		return xs[:3]
	}
	return xs
}

func TestCheckpoint_BlockedByNonDeterministicOperator(t *testing.T) {
	store := newTestStore(t)
	coord := NewCheckpointCoordinator(store, time.Millisecond)
	defer coord.Close()

	blocked := make(chan struct{}, 1)
	if err := coord.OnBlocked(func(context.Context, CheckpointEvent) error {
		select {
		case blocked <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ch := make(chan TableSlice)
	p := NewPipeline("blocked",
		NewChannelSource(ch, 0),
		NewDiscard(),
	)
	run, err := NewExecutor().Start(context.Background(), p,
		WithCheckpoints(coord), WithPipelineID(NewPipelineID()))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a blocked checkpoint event")
	}
	close(ch)
	if err := run.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestFusedChain_StateRoundtrip(t *testing.T) {
	sub := NewPipeline("sub", NewHead(10), NewSelect("a"))
	inst, err := sub.Instantiate(nil)
	if err != nil {
		t.Fatal(err)
	}
	chain := inst.(*fusedChain)
	var out CollectEmitter
	if err := chain.Process(context.Background(), intSlice(t, 1, 2, 3), &out); err != nil {
		t.Fatal(err)
	}
	state, err := chain.CheckpointState()
	if err != nil {
		t.Fatal(err)
	}
	restoredInst, err := sub.Instantiate(nil)
	if err != nil {
		t.Fatal(err)
	}
	restored := restoredInst.(*fusedChain)
	if err := restored.RestoreState(state); err != nil {
		t.Fatal(err)
	}
	if got := restored.procs[0].(*headInstance).forwarded; got != 3 {
		t.Errorf("restored head count: got %d, want 3", got)
	}
}
