package streamz

import (
	"fmt"
	"net/netip"
)

// Bitmap is a packed validity bitmap with an element offset, so views over a
// sub-range share the backing words instead of copying. A nil *Bitmap means
// "all valid" throughout the array code.
type Bitmap struct {
	words []uint64
	off   int
	n     int
}

func newBitmap(n int) *Bitmap {
	return &Bitmap{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the number of bits in the view.
func (b *Bitmap) Len() int {
	if b == nil {
		return 0
	}
	return b.n
}

// Get reports whether bit i is set. Out-of-range access panics like a slice.
func (b *Bitmap) Get(i int) bool {
	if i < 0 || i >= b.n {
		panic(fmt.Sprintf("streamz: bitmap index %d out of range [0,%d)", i, b.n))
	}
	j := b.off + i
	return b.words[j>>6]&(1<<(j&63)) != 0
}

func (b *Bitmap) set(i int) {
	j := b.off + i
	b.words[j>>6] |= 1 << (j & 63)
}

// Slice returns a zero-copy view of bits [begin, end).
func (b *Bitmap) Slice(begin, end int) *Bitmap {
	if b == nil {
		return nil
	}
	return &Bitmap{words: b.words, off: b.off + begin, n: end - begin}
}

// CountSet returns the number of set bits in the view.
func (b *Bitmap) CountSet() int {
	if b == nil {
		return 0
	}
	n := 0
	for i := 0; i < b.n; i++ {
		if b.Get(i) {
			n++
		}
	}
	return n
}

// Array is a contiguous column of values of one kind with a validity bitmap.
// Arrays are immutable once built; Slice returns zero-copy views wherever the
// layout allows it.
type Array interface {
	// Len returns the number of rows.
	Len() int
	// ArrayKind returns the kind of element the array stores.
	ArrayKind() Kind
	// IsNull reports whether row i is null.
	IsNull(i int) bool
	// NullCount returns the number of null rows.
	NullCount() int
	// Slice returns the rows in [begin, end) as a view.
	Slice(begin, end int) Array
}

// valid reports row validity given an optional bitmap; nil means all valid.
func valid(b *Bitmap, i int) bool {
	return b == nil || b.Get(i)
}

func nullCount(b *Bitmap, n int) int {
	if b == nil {
		return 0
	}
	return n - b.CountSet()
}

// NullArray is a column of nothing but nulls.
type NullArray struct{ N int }

func (a *NullArray) Len() int             { return a.N }
func (a *NullArray) ArrayKind() Kind      { return KindNull }
func (a *NullArray) IsNull(int) bool      { return true }
func (a *NullArray) NullCount() int       { return a.N }
func (a *NullArray) Slice(b, e int) Array { return &NullArray{N: e - b} }

// BoolArray is a column of booleans.
type BoolArray struct {
	Vals  []bool
	Valid *Bitmap
}

func (a *BoolArray) Len() int        { return len(a.Vals) }
func (a *BoolArray) ArrayKind() Kind { return KindBool }
func (a *BoolArray) IsNull(i int) bool {
	return !valid(a.Valid, i)
}
func (a *BoolArray) NullCount() int { return nullCount(a.Valid, len(a.Vals)) }
func (a *BoolArray) Slice(b, e int) Array {
	return &BoolArray{Vals: a.Vals[b:e], Valid: a.Valid.Slice(b, e)}
}

// TrueCount returns the number of valid true rows.
func (a *BoolArray) TrueCount() int {
	n := 0
	for i, v := range a.Vals {
		if v && valid(a.Valid, i) {
			n++
		}
	}
	return n
}

// FalseCount returns the number of valid false rows.
func (a *BoolArray) FalseCount() int {
	n := 0
	for i, v := range a.Vals {
		if !v && valid(a.Valid, i) {
			n++
		}
	}
	return n
}

// Int64Array is a column of signed integers; it also backs duration and
// timestamp columns, which store nanoseconds.
type Int64Array struct {
	kind  Kind
	Vals  []int64
	Valid *Bitmap
}

// NewInt64Array wraps values into an integer column.
func NewInt64Array(vals []int64, validBits *Bitmap) *Int64Array {
	return &Int64Array{kind: KindInt64, Vals: vals, Valid: validBits}
}

// NewDurationArray wraps nanosecond counts into a duration column.
func NewDurationArray(vals []int64, validBits *Bitmap) *Int64Array {
	return &Int64Array{kind: KindDuration, Vals: vals, Valid: validBits}
}

// NewTimeArray wraps nanoseconds-since-epoch into a timestamp column.
func NewTimeArray(vals []int64, validBits *Bitmap) *Int64Array {
	return &Int64Array{kind: KindTime, Vals: vals, Valid: validBits}
}

func (a *Int64Array) Len() int          { return len(a.Vals) }
func (a *Int64Array) ArrayKind() Kind   { return a.kind }
func (a *Int64Array) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *Int64Array) NullCount() int    { return nullCount(a.Valid, len(a.Vals)) }
func (a *Int64Array) Slice(b, e int) Array {
	return &Int64Array{kind: a.kind, Vals: a.Vals[b:e], Valid: a.Valid.Slice(b, e)}
}

// Uint64Array is a column of unsigned integers.
type Uint64Array struct {
	Vals  []uint64
	Valid *Bitmap
}

func (a *Uint64Array) Len() int          { return len(a.Vals) }
func (a *Uint64Array) ArrayKind() Kind   { return KindUint64 }
func (a *Uint64Array) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *Uint64Array) NullCount() int    { return nullCount(a.Valid, len(a.Vals)) }
func (a *Uint64Array) Slice(b, e int) Array {
	return &Uint64Array{Vals: a.Vals[b:e], Valid: a.Valid.Slice(b, e)}
}

// DoubleArray is a column of 64-bit floats.
type DoubleArray struct {
	Vals  []float64
	Valid *Bitmap
}

func (a *DoubleArray) Len() int          { return len(a.Vals) }
func (a *DoubleArray) ArrayKind() Kind   { return KindDouble }
func (a *DoubleArray) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *DoubleArray) NullCount() int    { return nullCount(a.Valid, len(a.Vals)) }
func (a *DoubleArray) Slice(b, e int) Array {
	return &DoubleArray{Vals: a.Vals[b:e], Valid: a.Valid.Slice(b, e)}
}

// bytesColumn is the shared offsets+data layout behind string and blob
// columns. Offsets are absolute into Data so views stay zero-copy.
type bytesColumn struct {
	Offsets []int32 // len n+1
	Data    []byte
	Valid   *Bitmap
}

func (c *bytesColumn) n() int { return len(c.Offsets) - 1 }

func (c *bytesColumn) at(i int) []byte {
	return c.Data[c.Offsets[i]:c.Offsets[i+1]]
}

func (c *bytesColumn) slice(b, e int) bytesColumn {
	return bytesColumn{Offsets: c.Offsets[b : e+1], Data: c.Data, Valid: c.Valid.Slice(b, e)}
}

// StringArray is a column of strings in offsets+data layout.
type StringArray struct{ col bytesColumn }

func (a *StringArray) Len() int          { return a.col.n() }
func (a *StringArray) ArrayKind() Kind   { return KindString }
func (a *StringArray) IsNull(i int) bool { return !valid(a.col.Valid, i) }
func (a *StringArray) NullCount() int    { return nullCount(a.col.Valid, a.col.n()) }
func (a *StringArray) Slice(b, e int) Array {
	return &StringArray{col: a.col.slice(b, e)}
}

// At returns row i as a string.
func (a *StringArray) At(i int) string { return string(a.col.at(i)) }

// BlobArray is a column of opaque byte strings.
type BlobArray struct{ col bytesColumn }

func (a *BlobArray) Len() int          { return a.col.n() }
func (a *BlobArray) ArrayKind() Kind   { return KindBlob }
func (a *BlobArray) IsNull(i int) bool { return !valid(a.col.Valid, i) }
func (a *BlobArray) NullCount() int    { return nullCount(a.col.Valid, a.col.n()) }
func (a *BlobArray) Slice(b, e int) Array {
	return &BlobArray{col: a.col.slice(b, e)}
}

// At returns row i. The returned slice aliases the column; callers must not
// mutate it.
func (a *BlobArray) At(i int) []byte { return a.col.at(i) }

// IPArray is a column of 16-byte addresses.
type IPArray struct {
	Data  []byte // 16*n
	Valid *Bitmap
}

func (a *IPArray) Len() int          { return len(a.Data) / 16 }
func (a *IPArray) ArrayKind() Kind   { return KindIP }
func (a *IPArray) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *IPArray) NullCount() int    { return nullCount(a.Valid, a.Len()) }
func (a *IPArray) Slice(b, e int) Array {
	return &IPArray{Data: a.Data[16*b : 16*e], Valid: a.Valid.Slice(b, e)}
}

// At returns row i as an address.
func (a *IPArray) At(i int) netip.Addr {
	var raw [16]byte
	copy(raw[:], a.Data[16*i:16*i+16])
	return netip.AddrFrom16(raw)
}

// SubnetArray is a column of subnets: parallel address bytes and prefix
// lengths.
type SubnetArray struct {
	Addrs    []byte // 16*n
	Prefixes []uint8
	Valid    *Bitmap
}

func (a *SubnetArray) Len() int          { return len(a.Prefixes) }
func (a *SubnetArray) ArrayKind() Kind   { return KindSubnet }
func (a *SubnetArray) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *SubnetArray) NullCount() int    { return nullCount(a.Valid, a.Len()) }
func (a *SubnetArray) Slice(b, e int) Array {
	return &SubnetArray{Addrs: a.Addrs[16*b : 16*e], Prefixes: a.Prefixes[b:e], Valid: a.Valid.Slice(b, e)}
}

// At returns row i as a prefix.
func (a *SubnetArray) At(i int) netip.Prefix {
	var raw [16]byte
	copy(raw[:], a.Addrs[16*i:16*i+16])
	return netip.PrefixFrom(netip.AddrFrom16(raw), int(a.Prefixes[i]))
}

// EnumArray is a column of enum variant values. Variant names live on the
// enum type, which the owning Series carries.
type EnumArray struct {
	Vals  []uint32
	Valid *Bitmap
}

func (a *EnumArray) Len() int          { return len(a.Vals) }
func (a *EnumArray) ArrayKind() Kind   { return KindEnum }
func (a *EnumArray) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *EnumArray) NullCount() int    { return nullCount(a.Valid, len(a.Vals)) }
func (a *EnumArray) Slice(b, e int) Array {
	return &EnumArray{Vals: a.Vals[b:e], Valid: a.Valid.Slice(b, e)}
}

// ListArray is a column of lists: absolute offsets into a child element
// array.
type ListArray struct {
	Offsets []int32 // len n+1
	Elems   Array
	Valid   *Bitmap
}

func (a *ListArray) Len() int          { return len(a.Offsets) - 1 }
func (a *ListArray) ArrayKind() Kind   { return KindList }
func (a *ListArray) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *ListArray) NullCount() int    { return nullCount(a.Valid, a.Len()) }
func (a *ListArray) Slice(b, e int) Array {
	return &ListArray{Offsets: a.Offsets[b : e+1], Elems: a.Elems, Valid: a.Valid.Slice(b, e)}
}

// ListAt returns the element range of row i as a view over the child array.
func (a *ListArray) ListAt(i int) Array {
	return a.Elems.Slice(int(a.Offsets[i]), int(a.Offsets[i+1]))
}

// MapArray is a column of maps: absolute offsets into parallel key and value
// child arrays.
type MapArray struct {
	Offsets []int32
	Keys    Array
	Vals    Array
	Valid   *Bitmap
}

func (a *MapArray) Len() int          { return len(a.Offsets) - 1 }
func (a *MapArray) ArrayKind() Kind   { return KindMap }
func (a *MapArray) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *MapArray) NullCount() int    { return nullCount(a.Valid, a.Len()) }
func (a *MapArray) Slice(b, e int) Array {
	return &MapArray{Offsets: a.Offsets[b : e+1], Keys: a.Keys, Vals: a.Vals, Valid: a.Valid.Slice(b, e)}
}

// RecordArray is a column of records as a struct of child columns.
type RecordArray struct {
	N        int
	Children []Array
	Valid    *Bitmap
}

func (a *RecordArray) Len() int          { return a.N }
func (a *RecordArray) ArrayKind() Kind   { return KindRecord }
func (a *RecordArray) IsNull(i int) bool { return !valid(a.Valid, i) }
func (a *RecordArray) NullCount() int    { return nullCount(a.Valid, a.N) }
func (a *RecordArray) Slice(b, e int) Array {
	children := make([]Array, len(a.Children))
	for i, c := range a.Children {
		children[i] = c.Slice(b, e)
	}
	return &RecordArray{N: e - b, Children: children, Valid: a.Valid.Slice(b, e)}
}

// MakeNullArray builds an array of n nulls shaped for the given type, so
// downstream consumers see the kind they expect instead of a bare null
// column.
func MakeNullArray(t Type, n int) Array {
	b := NewArrayBuilder(t)
	for i := 0; i < n; i++ {
		b.AppendNull()
	}
	return b.Finish()
}

// ArrayBuilder accumulates values into an immutable Array. Builders are
// created per target type and type-check every appended value against it.
type ArrayBuilder interface {
	// Append adds one value. The value's type must be subsumed by the
	// builder's type.
	Append(v Value) error
	// AppendNull adds one null row.
	AppendNull()
	// Len returns the number of rows appended so far.
	Len() int
	// Finish freezes the builder into an Array. The builder must not be
	// used afterwards.
	Finish() Array
}

// NewArrayBuilder returns a builder for columns of the given type.
func NewArrayBuilder(t Type) ArrayBuilder {
	switch t.Kind() {
	case KindNull:
		return &nullBuilder{}
	case KindBool:
		return &boolBuilder{}
	case KindInt64, KindDuration, KindTime:
		return &int64Builder{kind: t.Kind()}
	case KindUint64:
		return &uint64Builder{}
	case KindDouble:
		return &doubleBuilder{}
	case KindString:
		return &bytesBuilder{kind: KindString, offsets: []int32{0}}
	case KindBlob:
		return &bytesBuilder{kind: KindBlob, offsets: []int32{0}}
	case KindIP:
		return &ipBuilder{}
	case KindSubnet:
		return &subnetBuilder{}
	case KindEnum:
		return &enumBuilder{typ: t}
	case KindList:
		return &listBuilder{elems: NewArrayBuilder(t.Elem()), offsets: []int32{0}}
	case KindMap:
		return &mapBuilder{keys: NewArrayBuilder(t.KeyType()), vals: NewArrayBuilder(t.ValueType()), offsets: []int32{0}}
	case KindRecord:
		children := make([]ArrayBuilder, t.NumFields())
		for i, f := range t.Fields() {
			children[i] = NewArrayBuilder(f.Type)
		}
		return &recordBuilder{typ: t, children: children}
	}
	panic(fmt.Sprintf("streamz: no builder for kind %s", t.Kind()))
}

// validityBuilder tracks nulls lazily: the bitmap materializes only once the
// first null arrives.
type validityBuilder struct {
	nulls []int
	n     int
}

func (v *validityBuilder) appendValid()   { v.n++ }
func (v *validityBuilder) appendNull()    { v.nulls = append(v.nulls, v.n); v.n++ }
func (v *validityBuilder) finish() *Bitmap {
	if len(v.nulls) == 0 {
		return nil
	}
	b := newBitmap(v.n)
	null := make(map[int]struct{}, len(v.nulls))
	for _, i := range v.nulls {
		null[i] = struct{}{}
	}
	for i := 0; i < v.n; i++ {
		if _, isNull := null[i]; !isNull {
			b.set(i)
		}
	}
	return b
}

func typeError(want Kind, v Value) error {
	return fmt.Errorf("cannot append %s value to %s column", v.Type().Kind(), want)
}

type nullBuilder struct{ n int }

func (b *nullBuilder) Append(v Value) error {
	if !v.IsNull() {
		return typeError(KindNull, v)
	}
	b.n++
	return nil
}
func (b *nullBuilder) AppendNull()   { b.n++ }
func (b *nullBuilder) Len() int      { return b.n }
func (b *nullBuilder) Finish() Array { return &NullArray{N: b.n} }

type boolBuilder struct {
	vals  []bool
	valid validityBuilder
}

func (b *boolBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	x, ok := v.AsBool()
	if !ok {
		return typeError(KindBool, v)
	}
	b.vals = append(b.vals, x)
	b.valid.appendValid()
	return nil
}
func (b *boolBuilder) AppendNull() {
	b.vals = append(b.vals, false)
	b.valid.appendNull()
}
func (b *boolBuilder) Len() int { return len(b.vals) }
func (b *boolBuilder) Finish() Array {
	return &BoolArray{Vals: b.vals, Valid: b.valid.finish()}
}

type int64Builder struct {
	kind  Kind
	vals  []int64
	valid validityBuilder
}

func (b *int64Builder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	var x int64
	switch b.kind {
	case KindInt64:
		i, ok := v.AsInt64()
		if !ok {
			return typeError(KindInt64, v)
		}
		x = i
	case KindDuration:
		d, ok := v.AsDuration()
		if !ok {
			return typeError(KindDuration, v)
		}
		x = int64(d)
	case KindTime:
		t, ok := v.AsTime()
		if !ok {
			return typeError(KindTime, v)
		}
		x = t.UnixNano()
	}
	b.vals = append(b.vals, x)
	b.valid.appendValid()
	return nil
}
func (b *int64Builder) AppendNull() {
	b.vals = append(b.vals, 0)
	b.valid.appendNull()
}
func (b *int64Builder) Len() int { return len(b.vals) }
func (b *int64Builder) Finish() Array {
	return &Int64Array{kind: b.kind, Vals: b.vals, Valid: b.valid.finish()}
}

type uint64Builder struct {
	vals  []uint64
	valid validityBuilder
}

func (b *uint64Builder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	x, ok := v.AsUint64()
	if !ok {
		return typeError(KindUint64, v)
	}
	b.vals = append(b.vals, x)
	b.valid.appendValid()
	return nil
}
func (b *uint64Builder) AppendNull() {
	b.vals = append(b.vals, 0)
	b.valid.appendNull()
}
func (b *uint64Builder) Len() int { return len(b.vals) }
func (b *uint64Builder) Finish() Array {
	return &Uint64Array{Vals: b.vals, Valid: b.valid.finish()}
}

type doubleBuilder struct {
	vals  []float64
	valid validityBuilder
}

func (b *doubleBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	x, ok := v.AsDouble()
	if !ok {
		return typeError(KindDouble, v)
	}
	b.vals = append(b.vals, x)
	b.valid.appendValid()
	return nil
}
func (b *doubleBuilder) AppendNull() {
	b.vals = append(b.vals, 0)
	b.valid.appendNull()
}
func (b *doubleBuilder) Len() int { return len(b.vals) }
func (b *doubleBuilder) Finish() Array {
	return &DoubleArray{Vals: b.vals, Valid: b.valid.finish()}
}

type bytesBuilder struct {
	kind    Kind
	offsets []int32
	data    []byte
	valid   validityBuilder
}

func (b *bytesBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	var raw []byte
	switch b.kind {
	case KindString:
		s, ok := v.AsString()
		if !ok {
			return typeError(KindString, v)
		}
		raw = []byte(s)
	case KindBlob:
		x, ok := v.AsBlob()
		if !ok {
			return typeError(KindBlob, v)
		}
		raw = x
	}
	b.data = append(b.data, raw...)
	b.offsets = append(b.offsets, int32(len(b.data)))
	b.valid.appendValid()
	return nil
}
func (b *bytesBuilder) AppendNull() {
	b.offsets = append(b.offsets, int32(len(b.data)))
	b.valid.appendNull()
}
func (b *bytesBuilder) Len() int { return len(b.offsets) - 1 }
func (b *bytesBuilder) Finish() Array {
	col := bytesColumn{Offsets: b.offsets, Data: b.data, Valid: b.valid.finish()}
	if b.kind == KindBlob {
		return &BlobArray{col: col}
	}
	return &StringArray{col: col}
}

type ipBuilder struct {
	data  []byte
	valid validityBuilder
}

func (b *ipBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	a, ok := v.AsIP()
	if !ok {
		return typeError(KindIP, v)
	}
	raw := a.As16()
	b.data = append(b.data, raw[:]...)
	b.valid.appendValid()
	return nil
}
func (b *ipBuilder) AppendNull() {
	b.data = append(b.data, make([]byte, 16)...)
	b.valid.appendNull()
}
func (b *ipBuilder) Len() int { return len(b.data) / 16 }
func (b *ipBuilder) Finish() Array {
	return &IPArray{Data: b.data, Valid: b.valid.finish()}
}

type subnetBuilder struct {
	addrs    []byte
	prefixes []uint8
	valid    validityBuilder
}

func (b *subnetBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	p, ok := v.AsSubnet()
	if !ok {
		return typeError(KindSubnet, v)
	}
	// The Subnet constructor already normalized into 16-byte form.
	raw := p.Addr().As16()
	b.addrs = append(b.addrs, raw[:]...)
	b.prefixes = append(b.prefixes, uint8(p.Bits()))
	b.valid.appendValid()
	return nil
}
func (b *subnetBuilder) AppendNull() {
	b.addrs = append(b.addrs, make([]byte, 16)...)
	b.prefixes = append(b.prefixes, 0)
	b.valid.appendNull()
}
func (b *subnetBuilder) Len() int { return len(b.prefixes) }
func (b *subnetBuilder) Finish() Array {
	return &SubnetArray{Addrs: b.addrs, Prefixes: b.prefixes, Valid: b.valid.finish()}
}

type enumBuilder struct {
	typ   Type
	vals  []uint32
	valid validityBuilder
}

func (b *enumBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	x, ok := v.AsEnum()
	if !ok {
		if i, iok := v.AsInt64(); iok && i >= 0 {
			x, ok = uint32(i), true
		} else if u, uok := v.AsUint64(); uok {
			x, ok = uint32(u), true
		}
	}
	if !ok {
		return typeError(KindEnum, v)
	}
	b.vals = append(b.vals, x)
	b.valid.appendValid()
	return nil
}
func (b *enumBuilder) AppendNull() {
	b.vals = append(b.vals, 0)
	b.valid.appendNull()
}
func (b *enumBuilder) Len() int { return len(b.vals) }
func (b *enumBuilder) Finish() Array {
	return &EnumArray{Vals: b.vals, Valid: b.valid.finish()}
}

type listBuilder struct {
	elems   ArrayBuilder
	offsets []int32
	valid   validityBuilder
}

func (b *listBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	items, ok := v.AsList()
	if !ok {
		return typeError(KindList, v)
	}
	for _, item := range items {
		if err := b.elems.Append(item); err != nil {
			return err
		}
	}
	b.offsets = append(b.offsets, int32(b.elems.Len()))
	b.valid.appendValid()
	return nil
}
func (b *listBuilder) AppendNull() {
	b.offsets = append(b.offsets, int32(b.elems.Len()))
	b.valid.appendNull()
}
func (b *listBuilder) Len() int { return len(b.offsets) - 1 }
func (b *listBuilder) Finish() Array {
	return &ListArray{Offsets: b.offsets, Elems: b.elems.Finish(), Valid: b.valid.finish()}
}

type mapBuilder struct {
	keys    ArrayBuilder
	vals    ArrayBuilder
	offsets []int32
	valid   validityBuilder
}

func (b *mapBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	keys, vals, ok := v.AsMap()
	if !ok {
		return typeError(KindMap, v)
	}
	for i := range keys {
		if err := b.keys.Append(keys[i]); err != nil {
			return err
		}
		if err := b.vals.Append(vals[i]); err != nil {
			return err
		}
	}
	b.offsets = append(b.offsets, int32(b.keys.Len()))
	b.valid.appendValid()
	return nil
}
func (b *mapBuilder) AppendNull() {
	b.offsets = append(b.offsets, int32(b.keys.Len()))
	b.valid.appendNull()
}
func (b *mapBuilder) Len() int { return len(b.offsets) - 1 }
func (b *mapBuilder) Finish() Array {
	return &MapArray{Offsets: b.offsets, Keys: b.keys.Finish(), Vals: b.vals.Finish(), Valid: b.valid.finish()}
}

type recordBuilder struct {
	typ      Type
	children []ArrayBuilder
	n        int
	valid    validityBuilder
}

func (b *recordBuilder) Append(v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	fields, ok := v.AsRecord()
	if !ok || len(fields) != len(b.children) {
		return typeError(KindRecord, v)
	}
	for i, f := range fields {
		if err := b.children[i].Append(f); err != nil {
			return err
		}
	}
	b.n++
	b.valid.appendValid()
	return nil
}
func (b *recordBuilder) AppendNull() {
	for _, c := range b.children {
		c.AppendNull()
	}
	b.n++
	b.valid.appendNull()
}
func (b *recordBuilder) Len() int { return b.n }
func (b *recordBuilder) Finish() Array {
	children := make([]Array, len(b.children))
	for i, c := range b.children {
		children[i] = c.Finish()
	}
	return &RecordArray{N: b.n, Children: children, Valid: b.valid.finish()}
}
