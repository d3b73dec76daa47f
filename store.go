package streamz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// PipelineID identifies one pipeline across restarts.
type PipelineID = uuid.UUID

// NewPipelineID mints a fresh pipeline identity.
func NewPipelineID() PipelineID { return uuid.New() }

// CheckpointStore persists operator state blobs under a directory tree:
//
//	<dir>/<pipeline>/CHECKPOINT        8 bytes: committed checkpoint id (BE)
//	<dir>/<pipeline>/<checkpoint>/<i>  operator i's state blob
//
// Blobs are written first, synced, and only then is the CHECKPOINT marker
// atomically renamed into place, so a committed id always points at a
// complete checkpoint. Writes are serialized; reads may run concurrently
// with writes.
type CheckpointStore struct {
	dir string
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCheckpointStore opens (and creates if needed) a store rooted at dir.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, WrapError(CodeIO, "checkpoint-store", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, WrapError(CodeIO, "checkpoint-store", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, WrapError(CodeIO, "checkpoint-store", err)
	}
	return &CheckpointStore{dir: dir, enc: enc, dec: dec}, nil
}

func (s *CheckpointStore) pipelineDir(p PipelineID) string {
	return filepath.Join(s.dir, p.String())
}

func (s *CheckpointStore) checkpointDir(p PipelineID, id uint64) string {
	return filepath.Join(s.pipelineDir(p), strconv.FormatUint(id, 10))
}

// WriteState stores one operator's blob for an in-flight checkpoint.
func (s *CheckpointStore) WriteState(p PipelineID, id uint64, index int, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.checkpointDir(p, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	compressed := s.enc.EncodeAll(blob, nil)
	path := filepath.Join(dir, strconv.Itoa(index))
	f, err := os.Create(path)
	if err != nil {
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	if _, err := f.Write(compressed); err != nil {
		f.Close()
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	if err := f.Close(); err != nil {
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	return nil
}

// Commit marks a checkpoint as the committed one by atomically replacing
// the CHECKPOINT marker.
func (s *CheckpointStore) Commit(p PipelineID, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.pipelineDir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	var marker [8]byte
	binary.BigEndian.PutUint64(marker[:], id)
	tmp := filepath.Join(dir, "CHECKPOINT.tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	if _, err := f.Write(marker[:]); err != nil {
		f.Close()
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	if err := f.Close(); err != nil {
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "CHECKPOINT")); err != nil {
		return WrapError(CodeIO, "checkpoint-store", err)
	}
	return nil
}

// Committed returns the committed checkpoint id for a pipeline. The second
// result is false when the pipeline has never committed.
func (s *CheckpointStore) Committed(p PipelineID) (uint64, bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.pipelineDir(p), "CHECKPOINT"))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, WrapError(CodeIO, "checkpoint-store", err)
	}
	if len(raw) != 8 {
		return 0, false, Errorf(CodeStateCorruption, "CHECKPOINT marker has %d bytes, want 8", len(raw))
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// ReadState loads one operator's blob from a checkpoint. A blob that fails
// to decompress surfaces as state corruption.
func (s *CheckpointStore) ReadState(p PipelineID, id uint64, index int) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(s.checkpointDir(p, id), strconv.Itoa(index)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Errorf(CodeStateCorruption, "missing state blob %d for checkpoint %d", index, id)
		}
		return nil, WrapError(CodeIO, "checkpoint-store", err)
	}
	blob, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, WrapError(CodeStateCorruption, "checkpoint-store",
			fmt.Errorf("blob %d of checkpoint %d: %w", index, id, err))
	}
	return blob, nil
}

// Checkpoints lists the checkpoint ids present on disk, oldest first,
// whether or not they committed.
func (s *CheckpointStore) Checkpoints(p PipelineID) ([]uint64, error) {
	entries, err := os.ReadDir(s.pipelineDir(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapError(CodeIO, "checkpoint-store", err)
	}
	var ids []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Prune removes all checkpoints older than the committed one, keeping the
// given number of predecessors as restore fallbacks.
func (s *CheckpointStore) Prune(p PipelineID, keep int) error {
	committed, ok, err := s.Committed(p)
	if err != nil || !ok {
		return err
	}
	ids, err := s.Checkpoints(p)
	if err != nil {
		return err
	}
	var older []uint64
	for _, id := range ids {
		if id < committed {
			older = append(older, id)
		}
	}
	if len(older) <= keep {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range older[:len(older)-keep] {
		if err := os.RemoveAll(s.checkpointDir(p, id)); err != nil {
			return WrapError(CodeIO, "checkpoint-store", err)
		}
	}
	return nil
}
