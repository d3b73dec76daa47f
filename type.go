package streamz

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/dchest/siphash"
)

// Kind identifies the shape of a Type. The set is closed: primitives first,
// containers last.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUint64
	KindDouble
	KindDuration
	KindTime
	KindString
	KindBlob
	KindIP
	KindSubnet
	KindEnum
	KindList
	KindMap
	KindRecord
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt64:    "int64",
	KindUint64:   "uint64",
	KindDouble:   "double",
	KindDuration: "duration",
	KindTime:     "time",
	KindString:   "string",
	KindBlob:     "blob",
	KindIP:       "ip",
	KindSubnet:   "subnet",
	KindEnum:     "enum",
	KindList:     "list",
	KindMap:      "map",
	KindRecord:   "record",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Primitive reports whether the kind is a leaf type (not a container).
func (k Kind) Primitive() bool {
	return k < KindList
}

// Numeric reports whether values of this kind participate in arithmetic.
func (k Kind) Numeric() bool {
	return k == KindInt64 || k == KindUint64 || k == KindDouble
}

// Temporal reports whether values of this kind participate in time arithmetic.
func (k Kind) Temporal() bool {
	return k == KindDuration || k == KindTime
}

// Attribute is a free-form key/value annotation on a type. Attributes take
// part in structural equality and hashing, so two types that differ only in
// attributes are distinct.
type Attribute struct {
	Key   string
	Value string
}

// Field is a named entry of a record type.
type Field struct {
	Name string
	Type Type
}

// EnumVariant is a named integer variant of an enum type.
type EnumVariant struct {
	Name  string
	Value uint32
}

// Type is the logical type of a column or value. It is a tagged union over
// the closed Kind set. Types are immutable values; the zero Type is the null
// type. Construct types with the *Type constructors and compare them with
// Equal, never with ==, since attribute and field slices are not comparable.
type Type struct {
	kind     Kind
	attrs    []Attribute
	fields   []Field
	elem     *Type
	key      *Type
	value    *Type
	variants []EnumVariant
}

// NullType returns the null type.
func NullType() Type { return Type{kind: KindNull} }

// BoolType returns the boolean type.
func BoolType() Type { return Type{kind: KindBool} }

// Int64Type returns the signed 64-bit integer type.
func Int64Type() Type { return Type{kind: KindInt64} }

// Uint64Type returns the unsigned 64-bit integer type.
func Uint64Type() Type { return Type{kind: KindUint64} }

// DoubleType returns the 64-bit floating point type.
func DoubleType() Type { return Type{kind: KindDouble} }

// DurationType returns the signed nanosecond duration type.
func DurationType() Type { return Type{kind: KindDuration} }

// TimeType returns the nanosecond-since-epoch timestamp type.
func TimeType() Type { return Type{kind: KindTime} }

// StringType returns the UTF-8 string type.
func StringType() Type { return Type{kind: KindString} }

// BlobType returns the opaque bytes type.
func BlobType() Type { return Type{kind: KindBlob} }

// IPType returns the IP address type. Addresses are stored as 16 bytes with
// IPv4 mapped into IPv6 form.
func IPType() Type { return Type{kind: KindIP} }

// SubnetType returns the subnet type (address plus prefix length 0..128).
func SubnetType() Type { return Type{kind: KindSubnet} }

// EnumType returns an enum type over the given named integer variants.
// Variant names must be unique; EnumType panics otherwise, as a duplicate
// variant is a programming error, not an input error.
func EnumType(variants ...EnumVariant) Type {
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if _, dup := seen[v.Name]; dup {
			panic(fmt.Sprintf("streamz: duplicate enum variant %q", v.Name))
		}
		seen[v.Name] = struct{}{}
	}
	return Type{kind: KindEnum, variants: append([]EnumVariant(nil), variants...)}
}

// ListType returns a list type with the given element type.
func ListType(elem Type) Type {
	return Type{kind: KindList, elem: &elem}
}

// MapType returns a map type with the given key and value types.
func MapType(key, value Type) Type {
	return Type{kind: KindMap, key: &key, value: &value}
}

// RecordType returns a record type over the given fields. Field names must
// be unique per record; RecordType panics otherwise.
func RecordType(fields ...Field) Type {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			panic(fmt.Sprintf("streamz: duplicate record field %q", f.Name))
		}
		seen[f.Name] = struct{}{}
	}
	return Type{kind: KindRecord, fields: append([]Field(nil), fields...)}
}

// Kind returns the type's kind tag.
func (t Type) Kind() Kind { return t.kind }

// WithAttrs returns a copy of the type with the given attributes appended.
func (t Type) WithAttrs(attrs ...Attribute) Type {
	t.attrs = append(append([]Attribute(nil), t.attrs...), attrs...)
	return t
}

// Attr looks up an attribute by key. Lookup is linear in the number of
// attributes.
func (t Type) Attr(key string) (string, bool) {
	for _, a := range t.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Attrs returns the type's attributes in declaration order.
func (t Type) Attrs() []Attribute { return t.attrs }

// Fields returns the fields of a record type, nil for any other kind.
func (t Type) Fields() []Field { return t.fields }

// NumFields returns the number of fields of a record type.
func (t Type) NumFields() int { return len(t.fields) }

// FieldIndex returns the index of the named field, or -1.
func (t Type) FieldIndex(name string) int {
	for i, f := range t.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Elem returns the element type of a list type.
func (t Type) Elem() Type {
	if t.elem == nil {
		return NullType()
	}
	return *t.elem
}

// KeyType returns the key type of a map type.
func (t Type) KeyType() Type {
	if t.key == nil {
		return NullType()
	}
	return *t.key
}

// ValueType returns the value type of a map type.
func (t Type) ValueType() Type {
	if t.value == nil {
		return NullType()
	}
	return *t.value
}

// Variants returns the variants of an enum type.
func (t Type) Variants() []EnumVariant { return t.variants }

// VariantName returns the name for an enum value, or "" if unknown.
func (t Type) VariantName(value uint32) string {
	for _, v := range t.variants {
		if v.Value == value {
			return v.Name
		}
	}
	return ""
}

// Equal reports structural equality: two types are equal iff their structure
// and attributes coincide.
func (t Type) Equal(o Type) bool {
	if t.kind != o.kind || len(t.attrs) != len(o.attrs) {
		return false
	}
	for i := range t.attrs {
		if t.attrs[i] != o.attrs[i] {
			return false
		}
	}
	switch t.kind {
	case KindList:
		return t.Elem().Equal(o.Elem())
	case KindMap:
		return t.KeyType().Equal(o.KeyType()) && t.ValueType().Equal(o.ValueType())
	case KindRecord:
		if len(t.fields) != len(o.fields) {
			return false
		}
		for i := range t.fields {
			if t.fields[i].Name != o.fields[i].Name || !t.fields[i].Type.Equal(o.fields[i].Type) {
				return false
			}
		}
		return true
	case KindEnum:
		if len(t.variants) != len(o.variants) {
			return false
		}
		for i := range t.variants {
			if t.variants[i] != o.variants[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Fixed keys so hashes are stable across processes, which checkpoint restore
// depends on.
const (
	typeHashK0 = 0x736c6963657a2121
	typeHashK1 = 0x73747265616d7a21
)

// Hash returns a structural hash of the type. Equal types hash equally.
func (t Type) Hash() uint64 {
	var buf []byte
	buf = t.appendCanonical(buf)
	return siphash.Hash(typeHashK0, typeHashK1, buf)
}

func (t Type) appendCanonical(buf []byte) []byte {
	buf = append(buf, byte(t.kind))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.attrs)))
	for _, a := range t.attrs {
		buf = appendLenPrefixed(buf, a.Key)
		buf = appendLenPrefixed(buf, a.Value)
	}
	switch t.kind {
	case KindList:
		buf = t.Elem().appendCanonical(buf)
	case KindMap:
		buf = t.KeyType().appendCanonical(buf)
		buf = t.ValueType().appendCanonical(buf)
	case KindRecord:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.fields)))
		for _, f := range t.fields {
			buf = appendLenPrefixed(buf, f.Name)
			buf = f.Type.appendCanonical(buf)
		}
	case KindEnum:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.variants)))
		for _, v := range t.variants {
			buf = appendLenPrefixed(buf, v.Name)
			buf = binary.BigEndian.AppendUint32(buf, v.Value)
		}
	}
	return buf
}

func appendLenPrefixed(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Subsumes reports whether a value of the actual type is assignable to this
// nominal type: the types are identical, either side is null, or the pair is
// numerically compatible through an enum.
func (t Type) Subsumes(actual Type) bool {
	if t.kind == KindNull || actual.kind == KindNull {
		return true
	}
	if t.kind == KindEnum && (actual.kind == KindInt64 || actual.kind == KindUint64) {
		return true
	}
	if actual.kind == KindEnum && (t.kind == KindInt64 || t.kind == KindUint64) {
		return true
	}
	return t.Equal(actual)
}

// String renders the type in the canonical textual form, e.g.
// "record{a: int64, xs: list<string>}".
func (t Type) String() string {
	var sb strings.Builder
	t.render(&sb)
	return sb.String()
}

func (t Type) render(sb *strings.Builder) {
	switch t.kind {
	case KindList:
		sb.WriteString("list<")
		t.Elem().render(sb)
		sb.WriteByte('>')
	case KindMap:
		sb.WriteString("map<")
		t.KeyType().render(sb)
		sb.WriteString(", ")
		t.ValueType().render(sb)
		sb.WriteByte('>')
	case KindRecord:
		sb.WriteString("record{")
		for i, f := range t.fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name)
			sb.WriteString(": ")
			f.Type.render(sb)
		}
		sb.WriteByte('}')
	case KindEnum:
		sb.WriteString("enum{")
		for i, v := range t.variants {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s: %d", v.Name, v.Value)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString(t.kind.String())
	}
}

// ResolvedField is one concrete column matched by a path expression. Offsets
// index nested record fields from the schema root; Name is the full dotted
// name of the column.
type ResolvedField struct {
	Offsets []int
	Name    string
	Type    Type
}

// Resolve returns all columns of a record schema matched by a dot-separated
// path. A path matches a field either from the root or as a suffix of nested
// field names; a trailing ".*" expands a matched record into its leaves.
// Results come back in schema order.
func (t Type) Resolve(path string) []ResolvedField {
	if t.kind != KindRecord {
		return nil
	}
	expand := strings.HasSuffix(path, ".*")
	if expand {
		path = strings.TrimSuffix(path, ".*")
	}
	var out []ResolvedField
	var walk func(rec Type, prefix string, offsets []int)
	match := func(name string) bool {
		if name == path {
			return true
		}
		return strings.HasSuffix(name, "."+path)
	}
	walk = func(rec Type, prefix string, offsets []int) {
		for i, f := range rec.fields {
			name := f.Name
			if prefix != "" {
				name = prefix + "." + f.Name
			}
			offs := append(append([]int(nil), offsets...), i)
			if match(name) {
				if expand && f.Type.kind == KindRecord {
					out = append(out, leavesOf(f.Type, name, offs)...)
				} else {
					out = append(out, ResolvedField{Offsets: offs, Name: name, Type: f.Type})
				}
				continue
			}
			if f.Type.kind == KindRecord {
				walk(f.Type, name, offs)
			}
		}
	}
	walk(t, "", nil)
	return out
}

func leavesOf(rec Type, prefix string, offsets []int) []ResolvedField {
	var out []ResolvedField
	for i, f := range rec.fields {
		name := prefix + "." + f.Name
		offs := append(append([]int(nil), offsets...), i)
		if f.Type.kind == KindRecord {
			out = append(out, leavesOf(f.Type, name, offs)...)
		} else {
			out = append(out, ResolvedField{Offsets: offs, Name: name, Type: f.Type})
		}
	}
	return out
}

// ResolveOne resolves a path to a single column. When several columns match,
// the longest dotted name wins, and among equal lengths the lexicographically
// first. The boolean result is false when nothing matches.
func (t Type) ResolveOne(path string) (ResolvedField, bool) {
	matches := t.Resolve(path)
	if len(matches) == 0 {
		return ResolvedField{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		li, lj := len(matches[i].Name), len(matches[j].Name)
		if li != lj {
			return li > lj
		}
		return matches[i].Name < matches[j].Name
	})
	return matches[0], true
}
