package streamz

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/zoobzio/clockz"
)

// sliceSource replays a fixed sequence of slices, the workhorse source for
// tests and replays. Its stream position checkpoints at row granularity, so
// a restored pipeline resumes mid-slice without duplicating rows.
type sliceSource struct {
	slices []TableSlice
}

// NewSliceSource creates a source over in-memory slices. Emitted slices are
// stamped with their stable stream offset.
func NewSliceSource(slices ...TableSlice) Operator {
	return &sliceSource{slices: slices}
}

func (s *sliceSource) Name() Name              { return "from_slices" }
func (s *sliceSource) InputKind() ElementKind  { return ElementVoid }
func (s *sliceSource) OutputKind() ElementKind { return ElementEvents }

func (s *sliceSource) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(s, order)
}

func (s *sliceSource) Instantiate(Control) (Instance, error) {
	return &sliceSourceInstance{src: s}, nil
}

type sliceSourceInstance struct {
	src *sliceSource
	// position counts rows already emitted across all slices.
	position uint64
}

func (s *sliceSourceInstance) Poll(ctx context.Context, out Emitter) (bool, error) {
	var passed uint64
	for _, sl := range s.src.slices {
		n := uint64(sl.Len())
		if s.position >= passed+n {
			passed += n
			continue
		}
		skip := s.position - passed
		if skip > 0 {
			_, sl = sl.Split(int(skip))
		}
		sl = sl.WithOffset(s.position)
		s.position += uint64(sl.Len())
		return false, out.Slice(ctx, sl)
	}
	return true, nil
}

func (s *sliceSourceInstance) CheckpointState() ([]byte, error) {
	var state [8]byte
	binary.BigEndian.PutUint64(state[:], s.position)
	return state[:], nil
}

func (s *sliceSourceInstance) RestoreState(state []byte) error {
	if len(state) != 8 {
		return Errorf(CodeStateCorruption, "source state has %d bytes, want 8", len(state))
	}
	s.position = binary.BigEndian.Uint64(state)
	return nil
}

// channelSource pulls slices from a Go channel, bridging in-process
// producers into a pipeline. It cannot be replayed, so it declares itself
// non-deterministic and blocks checkpointing.
type channelSource struct {
	ch        <-chan TableSlice
	keepAlive time.Duration
	clock     clockz.Clock
}

// NewChannelSource creates a source fed by ch; the source ends when the
// channel closes. While idle it emits empty keep-alive slices of the last
// seen schema every keepAlive so downstream timers advance.
func NewChannelSource(ch <-chan TableSlice, keepAlive time.Duration) Operator {
	return &channelSource{ch: ch, keepAlive: keepAlive}
}

// WithClock sets a custom clock for testing.
func (c *channelSource) WithClock(clock clockz.Clock) *channelSource {
	c.clock = clock
	return c
}

func (c *channelSource) getClock() clockz.Clock {
	if c.clock == nil {
		return clockz.RealClock
	}
	return c.clock
}

func (c *channelSource) Name() Name              { return "from_channel" }
func (c *channelSource) InputKind() ElementKind  { return ElementVoid }
func (c *channelSource) OutputKind() ElementKind { return ElementEvents }
func (c *channelSource) Deterministic() bool     { return false }

func (c *channelSource) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(c, order)
}

func (c *channelSource) Instantiate(Control) (Instance, error) {
	return &channelSourceInstance{src: c}, nil
}

// channelIdleTick bounds how long a channel source blocks before handing
// control back to the executor, so shutdown and barrier injection stay
// responsive while the channel is quiet.
const channelIdleTick = 50 * time.Millisecond

type channelSourceInstance struct {
	src        *channelSource
	lastSchema Type
	hasSchema  bool
	position   uint64
}

func (c *channelSourceInstance) Poll(ctx context.Context, out Emitter) (bool, error) {
	wait := c.src.keepAlive
	if wait <= 0 {
		wait = channelIdleTick
	}
	select {
	case s, ok := <-c.src.ch:
		if !ok {
			return true, nil
		}
		if s.Len() > 0 {
			c.lastSchema = s.Schema()
			c.hasSchema = true
			s = s.WithOffset(c.position)
			c.position += uint64(s.Len())
		}
		return false, out.Slice(ctx, s)
	case <-c.src.getClock().After(wait):
		if c.src.keepAlive > 0 && c.hasSchema {
			return false, out.Slice(ctx, EmptySlice(c.lastSchema))
		}
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// wireSource reads framed slices from a byte stream produced by a
// WireWriter, e.g. a file or socket carrying the interchange format.
type wireSource struct {
	r io.Reader
}

// NewWireSource creates a source decoding the framed wire format. Barrier
// frames from the foreign stream are skipped; end-of-stream frames and EOF
// both end the source. Diagnostic frames are re-emitted locally.
func NewWireSource(r io.Reader) Operator {
	return &wireSource{r: r}
}

func (w *wireSource) Name() Name              { return "from_wire" }
func (w *wireSource) InputKind() ElementKind  { return ElementVoid }
func (w *wireSource) OutputKind() ElementKind { return ElementEvents }
func (w *wireSource) Deterministic() bool     { return false }

func (w *wireSource) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(w, order)
}

func (w *wireSource) Instantiate(ctl Control) (Instance, error) {
	reader, err := NewWireReader(w.r)
	if err != nil {
		return nil, err
	}
	return &wireSourceInstance{reader: reader, ctl: ctl}, nil
}

type wireSourceInstance struct {
	reader *WireReader
	ctl    Control
}

func (w *wireSourceInstance) Poll(ctx context.Context, out Emitter) (bool, error) {
	msg, err := w.reader.Read()
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	switch msg.Kind {
	case WireSlice:
		return false, out.Slice(ctx, msg.Slice)
	case WireEndOfStream:
		return true, nil
	case WireDiagnostic:
		w.ctl.Emit(msg.Diagnostic)
	}
	return false, nil
}

// chunkSource replays fixed byte chunks, feeding bytes pipelines.
type chunkSource struct {
	chunks []*Chunk
}

// NewChunkSource creates a bytes source over in-memory chunks.
func NewChunkSource(chunks ...*Chunk) Operator {
	return &chunkSource{chunks: chunks}
}

func (c *chunkSource) Name() Name              { return "from_chunks" }
func (c *chunkSource) InputKind() ElementKind  { return ElementVoid }
func (c *chunkSource) OutputKind() ElementKind { return ElementBytes }

func (c *chunkSource) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(c, order)
}

func (c *chunkSource) Instantiate(Control) (Instance, error) {
	return &chunkSourceInstance{src: c}, nil
}

type chunkSourceInstance struct {
	src  *chunkSource
	next uint64
}

func (c *chunkSourceInstance) Poll(ctx context.Context, out Emitter) (bool, error) {
	if c.next >= uint64(len(c.src.chunks)) {
		return true, nil
	}
	chunk := c.src.chunks[c.next]
	c.next++
	return false, out.Chunk(ctx, chunk)
}

func (c *chunkSourceInstance) CheckpointState() ([]byte, error) {
	var state [8]byte
	binary.BigEndian.PutUint64(state[:], c.next)
	return state[:], nil
}

func (c *chunkSourceInstance) RestoreState(state []byte) error {
	if len(state) != 8 {
		return Errorf(CodeStateCorruption, "source state has %d bytes, want 8", len(state))
	}
	c.next = binary.BigEndian.Uint64(state)
	return nil
}
