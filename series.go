package streamz

import (
	"fmt"
	"time"
)

// Series is a single column paired with its logical element type. The type
// carries what the raw array cannot: enum variants, attributes, and nested
// field names.
type Series struct {
	Type  Type
	Array Array
}

// NullSeries returns a series of n nulls shaped for the given type.
func NullSeries(t Type, n int) Series {
	return Series{Type: t, Array: MakeNullArray(t, n)}
}

// Len returns the number of rows.
func (s Series) Len() int {
	if s.Array == nil {
		return 0
	}
	return s.Array.Len()
}

// Slice returns rows [begin, end) as a view.
func (s Series) Slice(begin, end int) Series {
	return Series{Type: s.Type, Array: s.Array.Slice(begin, end)}
}

// Value boxes row i into a dynamic Value.
func (s Series) Value(i int) Value {
	if s.Array.IsNull(i) {
		return NullOf(s.Type)
	}
	switch a := s.Array.(type) {
	case *NullArray:
		return Null()
	case *BoolArray:
		return Bool(a.Vals[i])
	case *Int64Array:
		switch a.kind {
		case KindDuration:
			return Duration(time.Duration(a.Vals[i]))
		case KindTime:
			return Time(time.Unix(0, a.Vals[i]).UTC())
		default:
			return Int64(a.Vals[i])
		}
	case *Uint64Array:
		return Uint64(a.Vals[i])
	case *DoubleArray:
		return Double(a.Vals[i])
	case *StringArray:
		return String(a.At(i))
	case *BlobArray:
		return Blob(a.At(i))
	case *IPArray:
		return IP(a.At(i))
	case *SubnetArray:
		return Subnet(a.At(i))
	case *EnumArray:
		return Enum(s.Type, a.Vals[i])
	case *ListArray:
		elems := Series{Type: s.Type.Elem(), Array: a.ListAt(i)}
		items := make([]Value, elems.Len())
		for j := range items {
			items[j] = elems.Value(j)
		}
		return List(s.Type.Elem(), items...)
	case *MapArray:
		begin, end := int(a.Offsets[i]), int(a.Offsets[i+1])
		keys := Series{Type: s.Type.KeyType(), Array: a.Keys.Slice(begin, end)}
		vals := Series{Type: s.Type.ValueType(), Array: a.Vals.Slice(begin, end)}
		ks := make([]Value, keys.Len())
		vs := make([]Value, vals.Len())
		for j := range ks {
			ks[j] = keys.Value(j)
			vs[j] = vals.Value(j)
		}
		return MapValue(s.Type, ks, vs)
	case *RecordArray:
		fields := make([]Value, len(a.Children))
		for j, f := range s.Type.Fields() {
			fields[j] = Series{Type: f.Type, Array: a.Children[j]}.Value(i)
		}
		return Record(s.Type, fields...)
	}
	panic(fmt.Sprintf("streamz: unhandled array %T", s.Array))
}

// Values boxes the whole column. Meant for tests and small series; hot paths
// work on the arrays directly.
func (s Series) Values() []Value {
	out := make([]Value, s.Len())
	for i := range out {
		out[i] = s.Value(i)
	}
	return out
}

// BuildSeries packs dynamic values into a typed column.
func BuildSeries(t Type, vals []Value) (Series, error) {
	b := NewArrayBuilder(t)
	for _, v := range vals {
		if err := b.Append(v); err != nil {
			return Series{}, err
		}
	}
	return Series{Type: t, Array: b.Finish()}, nil
}
