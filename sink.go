package streamz

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// CollectSink is a sink that gathers every slice it consumes, for tests and
// in-process consumers. Create it once, wire it into a pipeline, and read
// the results after the run ends.
type CollectSink struct {
	mu     sync.Mutex
	slices []TableSlice
}

// NewCollectSink creates the collecting sink.
func NewCollectSink() *CollectSink {
	return &CollectSink{}
}

func (c *CollectSink) Name() Name              { return "collect" }
func (c *CollectSink) InputKind() ElementKind  { return ElementAnyEvents }
func (c *CollectSink) OutputKind() ElementKind { return ElementVoid }

func (c *CollectSink) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(c, order)
}

func (c *CollectSink) Instantiate(Control) (Instance, error) {
	return &collectSinkInstance{sink: c}, nil
}

// Slices returns a snapshot of everything consumed so far, empty slices
// excluded.
func (c *CollectSink) Slices() []TableSlice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TableSlice(nil), c.slices...)
}

// Rows returns all consumed rows boxed as record values.
func (c *CollectSink) Rows() []Value {
	var out []Value
	for _, s := range c.Slices() {
		out = append(out, s.Rows()...)
	}
	return out
}

// Reset clears the collected slices.
func (c *CollectSink) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slices = nil
}

type collectSinkInstance struct {
	sink *CollectSink
}

func (c *collectSinkInstance) Process(_ context.Context, s TableSlice, _ Emitter) error {
	if s.Len() == 0 {
		return nil
	}
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.slices = append(c.sink.slices, s)
	return nil
}

func (c *collectSinkInstance) Flush(context.Context, Emitter) error  { return nil }
func (c *collectSinkInstance) Finish(context.Context, Emitter) error { return nil }

// wireSink frames consumed slices onto a byte stream in the interchange
// format, ending with an end-of-stream frame.
type wireSink struct {
	w io.Writer
}

// NewWireSink creates a sink writing the framed wire format to w.
func NewWireSink(w io.Writer) Operator {
	return &wireSink{w: w}
}

func (w *wireSink) Name() Name              { return "to_wire" }
func (w *wireSink) InputKind() ElementKind  { return ElementAnyEvents }
func (w *wireSink) OutputKind() ElementKind { return ElementVoid }

func (w *wireSink) OperatorLocation() LocationHint { return LocLocal }

func (w *wireSink) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(w, order)
}

func (w *wireSink) Instantiate(Control) (Instance, error) {
	writer, err := NewWireWriter(w.w)
	if err != nil {
		return nil, err
	}
	return &wireSinkInstance{writer: writer}, nil
}

type wireSinkInstance struct {
	writer *WireWriter
}

func (w *wireSinkInstance) Process(_ context.Context, s TableSlice, _ Emitter) error {
	return w.writer.WriteSlice(s)
}

func (w *wireSinkInstance) Flush(context.Context, Emitter) error { return nil }

func (w *wireSinkInstance) Finish(context.Context, Emitter) error {
	return w.writer.WriteEndOfStream()
}

// printJSON renders events as JSON lines, turning an events stream into a
// bytes stream.
type printJSON struct{}

// NewPrintJSON creates the events-to-bytes printer: one JSON object per
// row, newline-delimited, one chunk per slice.
func NewPrintJSON() Operator {
	return &printJSON{}
}

func (p *printJSON) Name() Name              { return "print_json" }
func (p *printJSON) InputKind() ElementKind  { return ElementAnyEvents }
func (p *printJSON) OutputKind() ElementKind { return ElementBytes }

func (p *printJSON) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(p, order)
}

func (p *printJSON) Instantiate(ctl Control) (Instance, error) {
	return &printJSONInstance{ctl: ctl}, nil
}

type printJSONInstance struct {
	ctl Control
}

func (p *printJSONInstance) Process(ctx context.Context, s TableSlice, out Emitter) error {
	if s.Len() == 0 {
		return nil
	}
	var buf bytes.Buffer
	for i := 0; i < s.Len(); i++ {
		raw, err := json.Marshal(s.Row(i).Unpack())
		if err != nil {
			p.ctl.Emit(Warningf("cannot render row as JSON: %s", err))
			continue
		}
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	return out.Chunk(ctx, NewChunk(buf.Bytes()))
}

func (p *printJSONInstance) Flush(context.Context, Emitter) error  { return nil }
func (p *printJSONInstance) Finish(context.Context, Emitter) error { return nil }

// ChunkSink gathers byte chunks, the bytes counterpart of CollectSink.
type ChunkSink struct {
	mu     sync.Mutex
	chunks []*Chunk
}

// NewChunkSink creates the chunk-collecting sink.
func NewChunkSink() *ChunkSink {
	return &ChunkSink{}
}

func (c *ChunkSink) Name() Name              { return "collect_bytes" }
func (c *ChunkSink) InputKind() ElementKind  { return ElementBytes }
func (c *ChunkSink) OutputKind() ElementKind { return ElementVoid }

func (c *ChunkSink) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(c, order)
}

func (c *ChunkSink) Instantiate(Control) (Instance, error) {
	return &chunkSinkInstance{sink: c}, nil
}

// Chunks returns a snapshot of everything consumed.
func (c *ChunkSink) Chunks() []*Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Chunk(nil), c.chunks...)
}

// Bytes returns the concatenated chunk contents.
func (c *ChunkSink) Bytes() []byte {
	var buf bytes.Buffer
	for _, ch := range c.Chunks() {
		buf.Write(ch.Bytes())
	}
	return buf.Bytes()
}

type chunkSinkInstance struct {
	sink *ChunkSink
}

func (c *chunkSinkInstance) ProcessChunk(_ context.Context, ch *Chunk, _ Emitter) error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.chunks = append(c.sink.chunks, ch)
	return nil
}

func (c *chunkSinkInstance) Flush(context.Context, Emitter) error  { return nil }
func (c *chunkSinkInstance) Finish(context.Context, Emitter) error { return nil }
