package streamz

import (
	"bytes"
	"context"
)

// readLines parses a bytes stream into events, one row per newline-
// terminated line. It is the minimal parse operator; richer formats hang
// off the same contract.
type readLines struct{}

// NewReadLines creates the bytes-to-events line parser. Each output row is
// a record with a single "line" field; a trailing unterminated line is
// emitted at end of input.
func NewReadLines() Operator {
	return &readLines{}
}

// lineSchema is the fixed output schema of the line parser.
var lineSchema = RecordType(Field{Name: "line", Type: StringType()})

func (r *readLines) Name() Name              { return "read_lines" }
func (r *readLines) InputKind() ElementKind  { return ElementBytes }
func (r *readLines) OutputKind() ElementKind { return ElementEvents }

func (r *readLines) Optimize(_ Expr, order Order) OptimizeResult {
	return OrderInvariant(r, order)
}

func (r *readLines) Instantiate(Control) (Instance, error) {
	return &readLinesInstance{}, nil
}

type readLinesInstance struct {
	// pending holds the trailing bytes of the last chunk that did not end
	// in a newline.
	pending []byte
}

func (r *readLinesInstance) ProcessChunk(ctx context.Context, c *Chunk, out Emitter) error {
	data := c.Bytes()
	if len(r.pending) > 0 {
		data = append(r.pending, data...)
		r.pending = nil
	}
	b := NewSliceBuilder(lineSchema)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if err := b.Append(Record(lineSchema, String(string(data[:i])))); err != nil {
			return err
		}
		data = data[i+1:]
	}
	if len(data) > 0 {
		r.pending = append([]byte(nil), data...)
	}
	if b.Len() == 0 {
		return nil
	}
	return out.Slice(ctx, b.Finish())
}

func (r *readLinesInstance) Flush(context.Context, Emitter) error { return nil }

func (r *readLinesInstance) Finish(ctx context.Context, out Emitter) error {
	if len(r.pending) == 0 {
		return nil
	}
	b := NewSliceBuilder(lineSchema)
	if err := b.Append(Record(lineSchema, String(string(r.pending)))); err != nil {
		return err
	}
	r.pending = nil
	return out.Slice(ctx, b.Finish())
}

func (r *readLinesInstance) CheckpointState() ([]byte, error) {
	return append([]byte(nil), r.pending...), nil
}

func (r *readLinesInstance) RestoreState(state []byte) error {
	r.pending = append([]byte(nil), state...)
	return nil
}
