package streamz

import (
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strings"
	"time"
)

// Value is a dynamically typed datum: one instance of any Type. Values are
// immutable and safe to share. The zero Value is null.
//
// Construct values with the typed constructors (Bool, Int64, ...) or from Go
// natives with Pack; inspect them with Unpack or the As* accessors.
type Value struct {
	typ  Type
	null bool

	b    bool
	i    int64
	u    uint64
	f    float64
	dur  time.Duration
	ts   time.Time
	s    string
	raw  []byte
	addr netip.Addr
	pfx  netip.Prefix
	enum uint32

	list []Value
	keys []Value
	vals []Value
	rec  []Value
}

// Null returns the null value.
func Null() Value { return Value{typ: NullType(), null: true} }

// NullOf returns a null value that still remembers its nominal type, which
// matters for schema-preserving operations over columns with gaps.
func NullOf(t Type) Value { return Value{typ: t, null: true} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{typ: BoolType(), b: b} }

// Int64 returns a signed integer value.
func Int64(i int64) Value { return Value{typ: Int64Type(), i: i} }

// Uint64 returns an unsigned integer value.
func Uint64(u uint64) Value { return Value{typ: Uint64Type(), u: u} }

// Double returns a floating point value.
func Double(f float64) Value { return Value{typ: DoubleType(), f: f} }

// Duration returns a duration value with nanosecond resolution.
func Duration(d time.Duration) Value { return Value{typ: DurationType(), dur: d} }

// Time returns a timestamp value with nanosecond resolution.
func Time(t time.Time) Value { return Value{typ: TimeType(), ts: t} }

// String returns a string value.
func String(s string) Value { return Value{typ: StringType(), s: s} }

// Blob returns an opaque bytes value. The slice is not copied; callers hand
// over ownership.
func Blob(b []byte) Value { return Value{typ: BlobType(), raw: b} }

// IP returns an address value. IPv4 addresses are mapped into IPv6 form so
// every address occupies 16 bytes.
func IP(a netip.Addr) Value {
	if a.Is4() {
		a = netip.AddrFrom16(a.As16())
	}
	return Value{typ: IPType(), addr: a}
}

// Subnet returns a subnet value. Addresses normalize into 16-byte form and
// IPv4 prefix lengths shift accordingly, so the length is always 0..128.
func Subnet(p netip.Prefix) Value {
	addr := p.Addr()
	bits := p.Bits()
	if addr.Is4() {
		addr = netip.AddrFrom16(addr.As16())
		if bits >= 0 && bits <= 32 {
			bits += 96
		}
	}
	return Value{typ: SubnetType(), pfx: netip.PrefixFrom(addr, bits)}
}

// Enum returns an enum value of the given enum type.
func Enum(t Type, v uint32) Value { return Value{typ: t, enum: v} }

// List returns a list value with the given element type.
func List(elem Type, items ...Value) Value {
	return Value{typ: ListType(elem), list: items}
}

// MapValue returns a map value over parallel key/value slices.
func MapValue(t Type, keys, vals []Value) Value {
	return Value{typ: t, keys: keys, vals: vals}
}

// Record returns a record value; fields are given in schema order.
func Record(t Type, fields ...Value) Value {
	if len(fields) != t.NumFields() {
		panic(fmt.Sprintf("streamz: record value has %d fields, type has %d", len(fields), t.NumFields()))
	}
	return Value{typ: t, rec: fields}
}

// Type returns the value's type. Null values constructed with Null() report
// the null type; nulls from NullOf keep their nominal type.
func (v Value) Type() Type { return v.typ }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.null }

// AsBool unpacks a boolean; the second result is false for nulls and
// non-boolean values.
func (v Value) AsBool() (bool, bool) {
	return v.b, !v.null && v.typ.Kind() == KindBool
}

// AsInt64 unpacks a signed integer.
func (v Value) AsInt64() (int64, bool) {
	return v.i, !v.null && v.typ.Kind() == KindInt64
}

// AsUint64 unpacks an unsigned integer.
func (v Value) AsUint64() (uint64, bool) {
	return v.u, !v.null && v.typ.Kind() == KindUint64
}

// AsDouble unpacks a float.
func (v Value) AsDouble() (float64, bool) {
	return v.f, !v.null && v.typ.Kind() == KindDouble
}

// AsDuration unpacks a duration.
func (v Value) AsDuration() (time.Duration, bool) {
	return v.dur, !v.null && v.typ.Kind() == KindDuration
}

// AsTime unpacks a timestamp.
func (v Value) AsTime() (time.Time, bool) {
	return v.ts, !v.null && v.typ.Kind() == KindTime
}

// AsString unpacks a string.
func (v Value) AsString() (string, bool) {
	return v.s, !v.null && v.typ.Kind() == KindString
}

// AsBlob unpacks opaque bytes.
func (v Value) AsBlob() ([]byte, bool) {
	return v.raw, !v.null && v.typ.Kind() == KindBlob
}

// AsIP unpacks an address.
func (v Value) AsIP() (netip.Addr, bool) {
	return v.addr, !v.null && v.typ.Kind() == KindIP
}

// AsSubnet unpacks a subnet.
func (v Value) AsSubnet() (netip.Prefix, bool) {
	return v.pfx, !v.null && v.typ.Kind() == KindSubnet
}

// AsEnum unpacks an enum's raw variant value.
func (v Value) AsEnum() (uint32, bool) {
	return v.enum, !v.null && v.typ.Kind() == KindEnum
}

// AsList unpacks list elements.
func (v Value) AsList() ([]Value, bool) {
	return v.list, !v.null && v.typ.Kind() == KindList
}

// AsRecord unpacks record fields in schema order.
func (v Value) AsRecord() ([]Value, bool) {
	return v.rec, !v.null && v.typ.Kind() == KindRecord
}

// AsMap unpacks parallel key/value slices.
func (v Value) AsMap() (keys, vals []Value, ok bool) {
	return v.keys, v.vals, !v.null && v.typ.Kind() == KindMap
}

// Field returns the named field of a record value.
func (v Value) Field(name string) (Value, bool) {
	if v.null || v.typ.Kind() != KindRecord {
		return Value{}, false
	}
	i := v.typ.FieldIndex(name)
	if i < 0 {
		return Value{}, false
	}
	return v.rec[i], true
}

// Pack converts a Go native value into a Value. Supported inputs: nil, bool,
// all int/uint widths, float64, time.Duration, time.Time, string, []byte,
// netip.Addr, netip.Prefix, []any (lists must be homogeneous after packing),
// map[string]any (packed as a record with sorted field names), and Value
// itself (returned unchanged).
func Pack(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int64(int64(x)), nil
	case int8:
		return Int64(int64(x)), nil
	case int16:
		return Int64(int64(x)), nil
	case int32:
		return Int64(int64(x)), nil
	case int64:
		return Int64(x), nil
	case uint:
		return Uint64(uint64(x)), nil
	case uint8:
		return Uint64(uint64(x)), nil
	case uint16:
		return Uint64(uint64(x)), nil
	case uint32:
		return Uint64(uint64(x)), nil
	case uint64:
		return Uint64(x), nil
	case float32:
		return Double(float64(x)), nil
	case float64:
		return Double(x), nil
	case time.Duration:
		return Duration(x), nil
	case time.Time:
		return Time(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Blob(x), nil
	case netip.Addr:
		return IP(x), nil
	case netip.Prefix:
		return Subnet(x), nil
	case []any:
		items := make([]Value, len(x))
		elem := NullType()
		for i, e := range x {
			v, err := Pack(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
			if !v.IsNull() && elem.Kind() == KindNull {
				elem = v.Type()
			}
		}
		for _, v := range items {
			if !v.IsNull() && !elem.Subsumes(v.Type()) {
				return Value{}, fmt.Errorf("cannot pack heterogeneous list: %s vs %s", elem, v.Type())
			}
		}
		return List(elem, items...), nil
	case map[string]any:
		names := make([]string, 0, len(x))
		for name := range x {
			names = append(names, name)
		}
		sort.Strings(names)
		fields := make([]Field, len(names))
		vals := make([]Value, len(names))
		for i, name := range names {
			v, err := Pack(x[name])
			if err != nil {
				return Value{}, err
			}
			fields[i] = Field{Name: name, Type: v.Type()}
			vals[i] = v
		}
		return Record(RecordType(fields...), vals...), nil
	default:
		return Value{}, fmt.Errorf("cannot pack %T", x)
	}
}

// MustPack is Pack for inputs known statically to be convertible.
func MustPack(x any) Value {
	v, err := Pack(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Unpack converts the value back into a Go native. Lists become []any,
// records map[string]any, maps map-of-unpacked-keys only when the key type
// is string, otherwise a pair of slices.
func (v Value) Unpack() any {
	if v.null {
		return nil
	}
	switch v.typ.Kind() {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt64:
		return v.i
	case KindUint64:
		return v.u
	case KindDouble:
		return v.f
	case KindDuration:
		return v.dur
	case KindTime:
		return v.ts
	case KindString:
		return v.s
	case KindBlob:
		return v.raw
	case KindIP:
		return v.addr
	case KindSubnet:
		return v.pfx
	case KindEnum:
		return v.enum
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Unpack()
		}
		return out
	case KindMap:
		if v.typ.KeyType().Kind() == KindString {
			out := make(map[string]any, len(v.keys))
			for i, k := range v.keys {
				ks, _ := k.AsString()
				out[ks] = v.vals[i].Unpack()
			}
			return out
		}
		keys := make([]any, len(v.keys))
		vals := make([]any, len(v.vals))
		for i := range v.keys {
			keys[i] = v.keys[i].Unpack()
			vals[i] = v.vals[i].Unpack()
		}
		return [2]any{keys, vals}
	case KindRecord:
		out := make(map[string]any, len(v.rec))
		for i, f := range v.typ.Fields() {
			out[f.Name] = v.rec[i].Unpack()
		}
		return out
	}
	return nil
}

// Equal reports structural equality. Null equals only null; enum values
// compare by raw variant value so numerically compatible enums agree.
func (v Value) Equal(o Value) bool {
	if v.null || o.null {
		return v.null == o.null
	}
	if v.typ.Kind() != o.typ.Kind() {
		// Numeric compatibility across enum and integer kinds.
		if e, ok := v.AsEnum(); ok {
			return integerEquals(o, e)
		}
		if e, ok := o.AsEnum(); ok {
			return integerEquals(v, e)
		}
		return false
	}
	switch v.typ.Kind() {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt64:
		return v.i == o.i
	case KindUint64:
		return v.u == o.u
	case KindDouble:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindDuration:
		return v.dur == o.dur
	case KindTime:
		return v.ts.Equal(o.ts)
	case KindString:
		return v.s == o.s
	case KindBlob:
		return string(v.raw) == string(o.raw)
	case KindIP:
		return v.addr == o.addr
	case KindSubnet:
		return v.pfx == o.pfx
	case KindEnum:
		return v.enum == o.enum
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.keys) != len(o.keys) {
			return false
		}
		for i := range v.keys {
			if !v.keys[i].Equal(o.keys[i]) || !v.vals[i].Equal(o.vals[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if !v.typ.Equal(o.typ) {
			return false
		}
		for i := range v.rec {
			if !v.rec[i].Equal(o.rec[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values of the same kind; numeric kinds (int64, uint64,
// double, enum) also compare with each other. The second result is false
// when either side is null or the kinds are not comparable.
func (v Value) Compare(o Value) (int, bool) {
	if v.null || o.null {
		return 0, false
	}
	vk, ok := v.numericKey()
	if ok {
		if okk, ok2 := o.numericKey(); ok2 {
			switch {
			case vk < okk:
				return -1, true
			case vk > okk:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if v.typ.Kind() != o.typ.Kind() {
		return 0, false
	}
	switch v.typ.Kind() {
	case KindBool:
		return boolCompare(v.b, o.b), true
	case KindString:
		return strings.Compare(v.s, o.s), true
	case KindBlob:
		return strings.Compare(string(v.raw), string(o.raw)), true
	case KindDuration:
		return int64Compare(int64(v.dur), int64(o.dur)), true
	case KindTime:
		return v.ts.Compare(o.ts), true
	case KindIP:
		return v.addr.Compare(o.addr), true
	}
	return 0, false
}

func (v Value) numericKey() (float64, bool) {
	switch v.typ.Kind() {
	case KindInt64:
		return float64(v.i), true
	case KindUint64:
		return float64(v.u), true
	case KindDouble:
		return v.f, true
	case KindEnum:
		return float64(v.enum), true
	}
	return 0, false
}

func integerEquals(v Value, e uint32) bool {
	if i, ok := v.AsInt64(); ok {
		return i == int64(e)
	}
	if u, ok := v.AsUint64(); ok {
		return u == uint64(e)
	}
	return false
}

func boolCompare(a, b bool) int {
	switch {
	case a == b:
		return 0
	case b:
		return -1
	}
	return 1
}

func int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String renders the value for diagnostics and tests.
func (v Value) String() string {
	if v.null {
		return "null"
	}
	switch v.typ.Kind() {
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindRecord:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, f := range v.typ.Fields() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name)
			sb.WriteString(": ")
			sb.WriteString(v.rec[i].String())
		}
		sb.WriteByte('}')
		return sb.String()
	case KindList:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.list {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		return fmt.Sprintf("%v", v.Unpack())
	}
}
