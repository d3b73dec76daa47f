package streamz

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/netip"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// WireKind tags a framed message on the wire.
type WireKind uint16

const (
	WireSlice       WireKind = 0
	WireBarrier     WireKind = 1
	WireEndOfStream WireKind = 2
	WireDiagnostic  WireKind = 3
)

// wireFlagZstd marks a zstd-compressed payload.
const wireFlagZstd uint16 = 1 << 0

// compressThreshold is the payload size above which frames are compressed;
// tiny frames are not worth the header overhead.
const compressThreshold = 512

// WireWriter frames engine elements onto a byte stream. Every frame starts
// with a fixed header {u16 kind, u16 flags, u32 payload_len}, big-endian,
// followed by the payload.
type WireWriter struct {
	w        io.Writer
	enc      *zstd.Encoder
	compress bool
}

// NewWireWriter wraps a writer; compression is on by default for payloads
// worth compressing.
func NewWireWriter(w io.Writer) (*WireWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, WrapError(CodeIO, "wire", err)
	}
	return &WireWriter{w: w, enc: enc, compress: true}, nil
}

// WithCompression toggles payload compression.
func (w *WireWriter) WithCompression(on bool) *WireWriter {
	w.compress = on
	return w
}

func (w *WireWriter) writeFrame(kind WireKind, payload []byte) error {
	var flags uint16
	if w.compress && len(payload) >= compressThreshold {
		payload = w.enc.EncodeAll(payload, nil)
		flags |= wireFlagZstd
	}
	var header [8]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(kind))
	binary.BigEndian.PutUint16(header[2:4], flags)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := w.w.Write(header[:]); err != nil {
		return WrapError(CodeIO, "wire", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return WrapError(CodeIO, "wire", err)
	}
	return nil
}

// WriteSlice frames one table slice.
func (w *WireWriter) WriteSlice(s TableSlice) error {
	return w.writeFrame(WireSlice, encodeSlicePayload(s))
}

// WriteBarrier frames a checkpoint barrier.
func (w *WireWriter) WriteBarrier(id uint64) error {
	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], id)
	return w.writeFrame(WireBarrier, payload[:])
}

// WriteEndOfStream frames the end-of-stream marker.
func (w *WireWriter) WriteEndOfStream() error {
	return w.writeFrame(WireEndOfStream, nil)
}

// WriteDiagnostic frames a diagnostic as JSON.
func (w *WireWriter) WriteDiagnostic(d Diagnostic) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return WrapError(CodeIO, "wire", err)
	}
	return w.writeFrame(WireDiagnostic, payload)
}

// WireMessage is one decoded frame.
type WireMessage struct {
	Kind       WireKind
	Slice      TableSlice
	BarrierID  uint64
	Diagnostic Diagnostic
}

// WireReader decodes frames produced by WireWriter.
type WireReader struct {
	r   io.Reader
	dec *zstd.Decoder
}

// NewWireReader wraps a reader.
func NewWireReader(r io.Reader) (*WireReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, WrapError(CodeIO, "wire", err)
	}
	return &WireReader{r: r, dec: dec}, nil
}

// Read decodes the next frame, returning io.EOF cleanly between frames.
func (r *WireReader) Read() (WireMessage, error) {
	var header [8]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return WireMessage{}, io.EOF
		}
		return WireMessage{}, WrapError(CodeIO, "wire", err)
	}
	kind := WireKind(binary.BigEndian.Uint16(header[0:2]))
	flags := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint32(header[4:8])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return WireMessage{}, WrapError(CodeIO, "wire", err)
	}
	if flags&wireFlagZstd != 0 {
		decoded, err := r.dec.DecodeAll(payload, nil)
		if err != nil {
			return WireMessage{}, WrapError(CodeStateCorruption, "wire", err)
		}
		payload = decoded
	}
	switch kind {
	case WireSlice:
		s, err := decodeSlicePayload(payload)
		if err != nil {
			return WireMessage{}, err
		}
		return WireMessage{Kind: WireSlice, Slice: s}, nil
	case WireBarrier:
		if len(payload) != 8 {
			return WireMessage{}, Errorf(CodeStateCorruption, "barrier frame has %d bytes", len(payload))
		}
		return WireMessage{Kind: WireBarrier, BarrierID: binary.BigEndian.Uint64(payload)}, nil
	case WireEndOfStream:
		return WireMessage{Kind: WireEndOfStream}, nil
	case WireDiagnostic:
		var d Diagnostic
		if err := json.Unmarshal(payload, &d); err != nil {
			return WireMessage{}, WrapError(CodeStateCorruption, "wire", err)
		}
		return WireMessage{Kind: WireDiagnostic, Diagnostic: d}, nil
	}
	return WireMessage{}, Errorf(CodeStateCorruption, "unknown frame kind %d", kind)
}

// encodeSlicePayload lays a slice out as schema, metadata, and column
// values, one column after another, each value behind a null flag.
func encodeSlicePayload(s TableSlice) []byte {
	var buf []byte
	buf = s.Schema().appendCanonical(buf)
	buf = binary.BigEndian.AppendUint32(buf, uint32(s.Len()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.ImportTime().UnixNano()))
	if off, ok := s.Offset(); ok {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint64(buf, off)
	} else {
		buf = append(buf, 0)
	}
	for i := range s.Columns() {
		col := s.Column(i)
		for r := 0; r < s.Len(); r++ {
			buf = appendValue(buf, col.Value(r))
		}
	}
	return buf
}

func decodeSlicePayload(payload []byte) (TableSlice, error) {
	cur := &cursor{buf: payload}
	schema, err := readType(cur)
	if err != nil {
		return TableSlice{}, err
	}
	if schema.Kind() != KindRecord {
		return TableSlice{}, Errorf(CodeStateCorruption, "slice schema is %s, not record", schema.Kind())
	}
	n, err := cur.u32()
	if err != nil {
		return TableSlice{}, err
	}
	importNs, err := cur.u64()
	if err != nil {
		return TableSlice{}, err
	}
	hasOffset, err := cur.u8()
	if err != nil {
		return TableSlice{}, err
	}
	var offset uint64
	if hasOffset == 1 {
		if offset, err = cur.u64(); err != nil {
			return TableSlice{}, err
		}
	}
	cols := make([]Array, schema.NumFields())
	for i, f := range schema.Fields() {
		b := NewArrayBuilder(f.Type)
		for r := uint32(0); r < n; r++ {
			v, err := readValue(cur, f.Type)
			if err != nil {
				return TableSlice{}, err
			}
			if v.IsNull() {
				b.AppendNull()
			} else if err := b.Append(v); err != nil {
				return TableSlice{}, WrapError(CodeStateCorruption, "wire", err)
			}
		}
		cols[i] = b.Finish()
	}
	out, err := NewTableSlice(schema, cols)
	if err != nil {
		return TableSlice{}, err
	}
	out = out.WithImportTime(time.Unix(0, int64(importNs)).UTC())
	if hasOffset == 1 {
		out = out.WithOffset(offset)
	}
	return out, nil
}

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) need(n int) error {
	if c.pos+n > len(c.buf) {
		return Errorf(CodeStateCorruption, "truncated frame at byte %d", c.pos)
	}
	return nil
}

func (c *cursor) u8() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	raw := c.buf[c.pos : c.pos+n]
	c.pos += n
	return raw, nil
}

func (c *cursor) str() (string, error) {
	n, err := c.u32()
	if err != nil {
		return "", err
	}
	raw, err := c.bytes(int(n))
	return string(raw), err
}

// readType parses the canonical type encoding emitted by appendCanonical.
func readType(c *cursor) (Type, error) {
	kindByte, err := c.u8()
	if err != nil {
		return Type{}, err
	}
	kind := Kind(kindByte)
	if kind > KindRecord {
		return Type{}, Errorf(CodeStateCorruption, "unknown type kind %d", kindByte)
	}
	numAttrs, err := c.u32()
	if err != nil {
		return Type{}, err
	}
	attrs := make([]Attribute, 0, numAttrs)
	for i := uint32(0); i < numAttrs; i++ {
		key, err := c.str()
		if err != nil {
			return Type{}, err
		}
		value, err := c.str()
		if err != nil {
			return Type{}, err
		}
		attrs = append(attrs, Attribute{Key: key, Value: value})
	}
	var t Type
	switch kind {
	case KindList:
		elem, err := readType(c)
		if err != nil {
			return Type{}, err
		}
		t = ListType(elem)
	case KindMap:
		key, err := readType(c)
		if err != nil {
			return Type{}, err
		}
		value, err := readType(c)
		if err != nil {
			return Type{}, err
		}
		t = MapType(key, value)
	case KindRecord:
		numFields, err := c.u32()
		if err != nil {
			return Type{}, err
		}
		fields := make([]Field, 0, numFields)
		for i := uint32(0); i < numFields; i++ {
			name, err := c.str()
			if err != nil {
				return Type{}, err
			}
			ft, err := readType(c)
			if err != nil {
				return Type{}, err
			}
			fields = append(fields, Field{Name: name, Type: ft})
		}
		t = RecordType(fields...)
	case KindEnum:
		numVariants, err := c.u32()
		if err != nil {
			return Type{}, err
		}
		variants := make([]EnumVariant, 0, numVariants)
		for i := uint32(0); i < numVariants; i++ {
			name, err := c.str()
			if err != nil {
				return Type{}, err
			}
			value, err := c.u32()
			if err != nil {
				return Type{}, err
			}
			variants = append(variants, EnumVariant{Name: name, Value: value})
		}
		t = EnumType(variants...)
	default:
		t = Type{kind: kind}
	}
	if len(attrs) > 0 {
		t = t.WithAttrs(attrs...)
	}
	return t, nil
}

// appendValue writes one row as a null flag followed by the value bytes.
func appendValue(buf []byte, v Value) []byte {
	if v.IsNull() {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	switch v.Type().Kind() {
	case KindBool:
		b, _ := v.AsBool()
		if b {
			return append(buf, 1)
		}
		return append(buf, 0)
	case KindInt64:
		i, _ := v.AsInt64()
		return binary.BigEndian.AppendUint64(buf, uint64(i))
	case KindUint64:
		u, _ := v.AsUint64()
		return binary.BigEndian.AppendUint64(buf, u)
	case KindDouble:
		f, _ := v.AsDouble()
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
	case KindDuration:
		d, _ := v.AsDuration()
		return binary.BigEndian.AppendUint64(buf, uint64(int64(d)))
	case KindTime:
		t, _ := v.AsTime()
		return binary.BigEndian.AppendUint64(buf, uint64(t.UnixNano()))
	case KindString:
		s, _ := v.AsString()
		return appendLenPrefixed(buf, s)
	case KindBlob:
		raw, _ := v.AsBlob()
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(raw)))
		return append(buf, raw...)
	case KindIP:
		a, _ := v.AsIP()
		raw := a.As16()
		return append(buf, raw[:]...)
	case KindSubnet:
		p, _ := v.AsSubnet()
		addr := p.Addr()
		if addr.Is4() {
			addr = netip.AddrFrom16(addr.As16())
		}
		raw := addr.As16()
		buf = append(buf, raw[:]...)
		return append(buf, byte(p.Bits()))
	case KindEnum:
		e, _ := v.AsEnum()
		return binary.BigEndian.AppendUint32(buf, e)
	case KindList:
		items, _ := v.AsList()
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(items)))
		for _, item := range items {
			buf = appendValue(buf, item)
		}
		return buf
	case KindMap:
		keys, vals, _ := v.AsMap()
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(keys)))
		for i := range keys {
			buf = appendValue(buf, keys[i])
			buf = appendValue(buf, vals[i])
		}
		return buf
	case KindRecord:
		fields, _ := v.AsRecord()
		for _, f := range fields {
			buf = appendValue(buf, f)
		}
		return buf
	}
	return buf
}

func readValue(c *cursor, t Type) (Value, error) {
	flag, err := c.u8()
	if err != nil {
		return Value{}, err
	}
	if flag == 0 {
		return NullOf(t), nil
	}
	switch t.Kind() {
	case KindNull:
		return Null(), nil
	case KindBool:
		b, err := c.u8()
		if err != nil {
			return Value{}, err
		}
		return Bool(b == 1), nil
	case KindInt64:
		u, err := c.u64()
		return Int64(int64(u)), err
	case KindUint64:
		u, err := c.u64()
		return Uint64(u), err
	case KindDouble:
		u, err := c.u64()
		return Double(math.Float64frombits(u)), err
	case KindDuration:
		u, err := c.u64()
		return Duration(time.Duration(int64(u))), err
	case KindTime:
		u, err := c.u64()
		return Time(time.Unix(0, int64(u)).UTC()), err
	case KindString:
		s, err := c.str()
		return String(s), err
	case KindBlob:
		n, err := c.u32()
		if err != nil {
			return Value{}, err
		}
		raw, err := c.bytes(int(n))
		if err != nil {
			return Value{}, err
		}
		return Blob(append([]byte(nil), raw...)), nil
	case KindIP:
		raw, err := c.bytes(16)
		if err != nil {
			return Value{}, err
		}
		var a [16]byte
		copy(a[:], raw)
		return IP(netip.AddrFrom16(a)), nil
	case KindSubnet:
		raw, err := c.bytes(16)
		if err != nil {
			return Value{}, err
		}
		bits, err := c.u8()
		if err != nil {
			return Value{}, err
		}
		var a [16]byte
		copy(a[:], raw)
		return Subnet(netip.PrefixFrom(netip.AddrFrom16(a), int(bits))), nil
	case KindEnum:
		e, err := c.u32()
		return Enum(t, e), err
	case KindList:
		n, err := c.u32()
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, n)
		for i := range items {
			if items[i], err = readValue(c, t.Elem()); err != nil {
				return Value{}, err
			}
		}
		return List(t.Elem(), items...), nil
	case KindMap:
		n, err := c.u32()
		if err != nil {
			return Value{}, err
		}
		keys := make([]Value, n)
		vals := make([]Value, n)
		for i := range keys {
			if keys[i], err = readValue(c, t.KeyType()); err != nil {
				return Value{}, err
			}
			if vals[i], err = readValue(c, t.ValueType()); err != nil {
				return Value{}, err
			}
		}
		return MapValue(t, keys, vals), nil
	case KindRecord:
		fields := make([]Value, t.NumFields())
		for i, f := range t.Fields() {
			if fields[i], err = readValue(c, f.Type); err != nil {
				return Value{}, err
			}
		}
		return Record(t, fields...), nil
	}
	return Value{}, Errorf(CodeStateCorruption, "cannot decode kind %s", t.Kind())
}

// String renders a wire kind for diagnostics.
func (k WireKind) String() string {
	switch k {
	case WireSlice:
		return "slice"
	case WireBarrier:
		return "checkpoint_barrier"
	case WireEndOfStream:
		return "end_of_stream"
	case WireDiagnostic:
		return "diagnostic"
	}
	return fmt.Sprintf("wire(%d)", uint16(k))
}
