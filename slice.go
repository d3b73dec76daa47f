package streamz

import (
	"fmt"
	"sort"
	"time"
)

// TableSlice is the unit batch of the engine: a record schema plus one
// column per top-level field, all of identical length. Slices are immutable
// once produced; operators derive new slices by concatenating, taking row
// sub-ranges, or projecting columns, the latter two zero-copy where the
// backing arrays allow it.
type TableSlice struct {
	schema     Type
	cols       []Array
	n          int
	importTime time.Time
	offset     uint64
	hasOffset  bool
}

// NewTableSlice assembles a slice from a record schema and its columns. It
// fails when the schema is not a record, the column count does not match the
// field count, or column lengths disagree.
func NewTableSlice(schema Type, cols []Array) (TableSlice, error) {
	if schema.Kind() != KindRecord {
		return TableSlice{}, Errorf(CodeTypeMismatch, "slice schema must be a record, got %s", schema.Kind())
	}
	if len(cols) != schema.NumFields() {
		return TableSlice{}, Errorf(CodeTypeMismatch, "schema has %d fields, got %d columns", schema.NumFields(), len(cols))
	}
	n := 0
	if len(cols) > 0 {
		n = cols[0].Len()
	}
	for i, c := range cols {
		if c.Len() != n {
			return TableSlice{}, Errorf(CodeTypeMismatch, "column %q has length %d, want %d", schema.Fields()[i].Name, c.Len(), n)
		}
	}
	return TableSlice{schema: schema, cols: cols, n: n}, nil
}

// EmptySlice returns a zero-row slice with the given schema. Empty slices
// act as keep-alives that drive downstream timers.
func EmptySlice(schema Type) TableSlice {
	cols := make([]Array, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = MakeNullArray(f.Type, 0)
	}
	return TableSlice{schema: schema, cols: cols}
}

// Schema returns the slice's record schema.
func (s TableSlice) Schema() Type { return s.schema }

// Len returns the number of rows.
func (s TableSlice) Len() int { return s.n }

// Columns returns the top-level columns in schema order.
func (s TableSlice) Columns() []Array { return s.cols }

// Column returns the i-th top-level column as a series.
func (s TableSlice) Column(i int) Series {
	return Series{Type: s.schema.Fields()[i].Type, Array: s.cols[i]}
}

// ColumnByName returns the named top-level column.
func (s TableSlice) ColumnByName(name string) (Series, bool) {
	i := s.schema.FieldIndex(name)
	if i < 0 {
		return Series{}, false
	}
	return s.Column(i), true
}

// ColumnAt descends into nested records along the given offsets and returns
// the addressed column merged with its type.
func (s TableSlice) ColumnAt(offsets []int) (Series, bool) {
	if len(offsets) == 0 || offsets[0] >= len(s.cols) {
		return Series{}, false
	}
	cur := s.Column(offsets[0])
	for _, off := range offsets[1:] {
		rec, ok := cur.Array.(*RecordArray)
		if !ok || off >= len(rec.Children) {
			return Series{}, false
		}
		cur = Series{Type: cur.Type.Fields()[off].Type, Array: rec.Children[off]}
	}
	return cur, true
}

// ImportTime returns the slice's import timestamp metadata.
func (s TableSlice) ImportTime() time.Time { return s.importTime }

// WithImportTime returns a copy carrying the given import time.
func (s TableSlice) WithImportTime(t time.Time) TableSlice {
	s.importTime = t
	return s
}

// Offset returns the slice's stable position in the logical stream. The
// boolean result is false when no offset was assigned.
func (s TableSlice) Offset() (uint64, bool) { return s.offset, s.hasOffset }

// WithOffset returns a copy positioned at the given stream offset.
func (s TableSlice) WithOffset(off uint64) TableSlice {
	s.offset = off
	s.hasOffset = true
	return s
}

// Row boxes row i into a record value.
func (s TableSlice) Row(i int) Value {
	fields := make([]Value, len(s.cols))
	for j := range s.cols {
		fields[j] = s.Column(j).Value(i)
	}
	return Record(s.schema, fields...)
}

// Rows boxes all rows; meant for tests and diagnostics.
func (s TableSlice) Rows() []Value {
	out := make([]Value, s.n)
	for i := range out {
		out[i] = s.Row(i)
	}
	return out
}

// Split cuts the slice into the first n rows and the rest, both zero-copy
// views. n is clamped to [0, Len]. The second half keeps a shifted stream
// offset when the input carries one.
func (s TableSlice) Split(n int) (TableSlice, TableSlice) {
	if n < 0 {
		n = 0
	}
	if n > s.n {
		n = s.n
	}
	head := s.subRange(0, n)
	tail := s.subRange(n, s.n)
	if s.hasOffset {
		tail.offset = s.offset + uint64(n)
	}
	return head, tail
}

func (s TableSlice) subRange(begin, end int) TableSlice {
	cols := make([]Array, len(s.cols))
	for i, c := range s.cols {
		cols[i] = c.Slice(begin, end)
	}
	out := TableSlice{schema: s.schema, cols: cols, n: end - begin, importTime: s.importTime}
	if s.hasOffset {
		out.offset = s.offset + uint64(begin)
		out.hasOffset = true
	}
	return out
}

// Concatenate appends slices that share an identical schema. The result's
// import time is the latest input import time, and its offset is the first
// input's offset.
func Concatenate(slices []TableSlice) (TableSlice, error) {
	slices = nonEmpty(slices)
	if len(slices) == 0 {
		return TableSlice{}, Errorf(CodeTypeMismatch, "cannot concatenate zero slices")
	}
	first := slices[0]
	if len(slices) == 1 {
		return first, nil
	}
	total := 0
	for _, s := range slices {
		if !s.schema.Equal(first.schema) {
			return TableSlice{}, WrapError(CodeTypeMismatch, "concatenate",
				fmt.Errorf("%w: %s vs %s", ErrSchemaMismatch, first.schema, s.schema))
		}
		total += s.n
	}
	cols := make([]Array, first.schema.NumFields())
	for i, f := range first.schema.Fields() {
		b := NewArrayBuilder(f.Type)
		for _, s := range slices {
			col := s.Column(i)
			for r := 0; r < col.Len(); r++ {
				if err := b.Append(col.Value(r)); err != nil {
					return TableSlice{}, WrapError(CodeTypeMismatch, "concatenate", err)
				}
			}
		}
		cols[i] = b.Finish()
	}
	out := TableSlice{schema: first.schema, cols: cols, n: total}
	out.importTime = first.importTime
	for _, s := range slices[1:] {
		if s.importTime.After(out.importTime) {
			out.importTime = s.importTime
		}
	}
	if first.hasOffset {
		out.offset = first.offset
		out.hasOffset = true
	}
	return out, nil
}

// nonEmpty drops zero-row slices; when every input is empty the first one
// survives so the schema is preserved.
func nonEmpty(slices []TableSlice) []TableSlice {
	out := slices[:0:0]
	for _, s := range slices {
		if s.n > 0 {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(slices) > 0 {
		out = append(out, slices[0])
	}
	return out
}

// SelectColumns projects the slice onto the columns matched by the given
// dot-separated paths. Duplicate matches are deduplicated and the retained
// columns keep the original schema order; nesting is preserved.
func (s TableSlice) SelectColumns(paths []string) TableSlice {
	keep := make(map[string]struct{})
	for _, p := range paths {
		for _, m := range s.schema.Resolve(p) {
			keep[offsetsKey(m.Offsets)] = struct{}{}
		}
	}
	fields, cols := projectRecord(s.schema, s.cols, nil, keep)
	return TableSlice{
		schema:     RecordType(fields...),
		cols:       cols,
		n:          s.n,
		importTime: s.importTime,
		offset:     s.offset,
		hasOffset:  s.hasOffset,
	}
}

func offsetsKey(offsets []int) string {
	key := make([]byte, 0, len(offsets)*4)
	for _, o := range offsets {
		key = append(key, byte(o>>24), byte(o>>16), byte(o>>8), byte(o))
	}
	return string(key)
}

// projectRecord keeps a field when its offset path or any descendant path is
// selected; partially selected records recurse, fully selected ones are
// passed through zero-copy.
func projectRecord(rec Type, cols []Array, prefix []int, keep map[string]struct{}) ([]Field, []Array) {
	var fields []Field
	var out []Array
	for i, f := range rec.Fields() {
		offs := append(append([]int(nil), prefix...), i)
		if _, ok := keep[offsetsKey(offs)]; ok {
			fields = append(fields, f)
			out = append(out, cols[i])
			continue
		}
		if f.Type.Kind() == KindRecord {
			if ra, ok := cols[i].(*RecordArray); ok && anySelectedBelow(offs, keep) {
				subFields, subCols := projectRecord(f.Type, ra.Children, offs, keep)
				if len(subFields) > 0 {
					fields = append(fields, Field{Name: f.Name, Type: RecordType(subFields...)})
					out = append(out, &RecordArray{N: ra.N, Children: subCols, Valid: ra.Valid})
				}
			}
		}
	}
	return fields, out
}

func anySelectedBelow(prefix []int, keep map[string]struct{}) bool {
	p := offsetsKey(prefix)
	for k := range keep {
		if len(k) > len(p) && k[:len(p)] == p {
			return true
		}
	}
	return false
}

// RenamedField records one collision rename performed by Flatten.
type RenamedField struct {
	From string
	To   string
}

// Flatten hoists nested record fields to the top level, joining names with
// sep. When a generated name collides with an earlier field, the later field
// is renamed to the first unique "<name><sep><N>" with N >= 1, and the
// renames are reported. Flattening an already-flat slice returns it
// unchanged, so the operation is idempotent.
func (s TableSlice) Flatten(sep string) (TableSlice, []RenamedField) {
	type leaf struct {
		name string
		typ  Type
		arr  Array
	}
	var leaves []leaf
	var walk func(rec Type, cols []Array, prefix string, nullMask *Bitmap)
	walk = func(rec Type, cols []Array, prefix string, nullMask *Bitmap) {
		for i, f := range rec.Fields() {
			name := f.Name
			if prefix != "" {
				name = prefix + sep + f.Name
			}
			if f.Type.Kind() == KindRecord {
				ra := cols[i].(*RecordArray)
				walk(f.Type, ra.Children, name, mergeMask(nullMask, ra.Valid, ra.N))
				continue
			}
			arr := cols[i]
			if nullMask != nil {
				arr = maskNulls(f.Type, arr, nullMask)
			}
			leaves = append(leaves, leaf{name: name, typ: f.Type, arr: arr})
		}
	}
	walk(s.schema, s.cols, "", nil)

	flat := true
	for _, f := range s.schema.Fields() {
		if f.Type.Kind() == KindRecord {
			flat = false
			break
		}
	}
	if flat {
		return s, nil
	}

	used := make(map[string]struct{}, len(leaves))
	var renamed []RenamedField
	fields := make([]Field, len(leaves))
	cols := make([]Array, len(leaves))
	for i, l := range leaves {
		name := l.name
		if _, taken := used[name]; taken {
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s%s%d", l.name, sep, n)
				if _, taken := used[candidate]; !taken {
					name = candidate
					break
				}
			}
			renamed = append(renamed, RenamedField{From: l.name, To: name})
		}
		used[name] = struct{}{}
		fields[i] = Field{Name: name, Type: l.typ}
		cols[i] = l.arr
	}
	return TableSlice{
		schema:     RecordType(fields...),
		cols:       cols,
		n:          s.n,
		importTime: s.importTime,
		offset:     s.offset,
		hasOffset:  s.hasOffset,
	}, renamed
}

// mergeMask combines an inherited null mask with a record's own validity.
// nil means no ancestor nulls.
func mergeMask(parent, own *Bitmap, n int) *Bitmap {
	if own == nil {
		return parent
	}
	if parent == nil {
		return own
	}
	merged := newBitmap(n)
	for i := 0; i < n; i++ {
		if parent.Get(i) && own.Get(i) {
			merged.set(i)
		}
	}
	return merged
}

// maskNulls nulls out the rows whose ancestors were null. This is the one
// place flattening has to copy.
func maskNulls(t Type, arr Array, mask *Bitmap) Array {
	b := NewArrayBuilder(t)
	src := Series{Type: t, Array: arr}
	for i := 0; i < arr.Len(); i++ {
		if !mask.Get(i) {
			b.AppendNull()
			continue
		}
		if err := b.Append(src.Value(i)); err != nil {
			b.AppendNull()
		}
	}
	return b.Finish()
}

// SliceBuilder assembles a slice row by row from record values. All rows
// must share the builder's schema.
type SliceBuilder struct {
	schema   Type
	children []ArrayBuilder
	n        int
}

// NewSliceBuilder returns a builder for slices with the given record schema.
func NewSliceBuilder(schema Type) *SliceBuilder {
	if schema.Kind() != KindRecord {
		panic(fmt.Sprintf("streamz: slice schema must be a record, got %s", schema.Kind()))
	}
	children := make([]ArrayBuilder, schema.NumFields())
	for i, f := range schema.Fields() {
		children[i] = NewArrayBuilder(f.Type)
	}
	return &SliceBuilder{schema: schema, children: children}
}

// Append adds one record row.
func (b *SliceBuilder) Append(row Value) error {
	fields, ok := row.AsRecord()
	if !ok || len(fields) != len(b.children) {
		return Errorf(CodeTypeMismatch, "row does not match schema %s", b.schema)
	}
	for i, f := range fields {
		if err := b.children[i].Append(f); err != nil {
			return err
		}
	}
	b.n++
	return nil
}

// Len returns the number of rows appended so far.
func (b *SliceBuilder) Len() int { return b.n }

// Finish freezes the builder into a slice.
func (b *SliceBuilder) Finish() TableSlice {
	cols := make([]Array, len(b.children))
	for i, c := range b.children {
		cols[i] = c.Finish()
	}
	s := TableSlice{schema: b.schema, cols: cols, n: b.n}
	b.children = nil
	b.n = 0
	return s
}

// FromRecords packs Go-native rows into slices, one slice per run of rows
// that share a schema. Field names are sorted, matching Pack.
func FromRecords(rows ...map[string]any) ([]TableSlice, error) {
	var out []TableSlice
	var b *SliceBuilder
	for _, row := range rows {
		v, err := Pack(row)
		if err != nil {
			return nil, err
		}
		if b == nil || !b.schema.Equal(v.Type()) {
			if b != nil {
				out = append(out, b.Finish())
			}
			b = NewSliceBuilder(v.Type())
		}
		if err := b.Append(v); err != nil {
			return nil, err
		}
	}
	if b != nil {
		out = append(out, b.Finish())
	}
	return out, nil
}

// sortedFieldNames returns the slice's top-level field names sorted, which
// tests use for stable assertions.
func (s TableSlice) sortedFieldNames() []string {
	names := make([]string, s.schema.NumFields())
	for i, f := range s.schema.Fields() {
		names[i] = f.Name
	}
	sort.Strings(names)
	return names
}
