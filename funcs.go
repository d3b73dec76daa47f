package streamz

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// ScalarInvocation carries one scalar function call: the evaluated argument
// series, the row count of the enclosing slice, and the call's source
// location for diagnostics.
type ScalarInvocation struct {
	Args   []Series
	Length int
	Loc    Location
}

// ScalarFunction evaluates a call into a series of Length rows. Returning
// an error turns the whole call into a null series plus one warning.
type ScalarFunction func(inv ScalarInvocation) (Series, error)

var (
	scalarMu    sync.RWMutex
	scalarFuncs = make(map[string]ScalarFunction)
)

// RegisterScalarFunction makes a scalar function available to expressions.
// Registering a taken name replaces the previous function, which plugin
// tests rely on.
func RegisterScalarFunction(name string, fn ScalarFunction) {
	scalarMu.Lock()
	defer scalarMu.Unlock()
	scalarFuncs[name] = fn
}

func lookupScalarFunction(name string) (ScalarFunction, bool) {
	scalarMu.RLock()
	defer scalarMu.RUnlock()
	fn, ok := scalarFuncs[name]
	return fn, ok
}

// mapRows builds a result series by applying fn to each row of the first
// argument.
func mapRows(arg Series, out Type, n int, fn func(v Value) (Value, bool)) (Series, error) {
	b := NewArrayBuilder(out)
	for i := 0; i < n; i++ {
		v, ok := fn(arg.Value(i))
		if !ok {
			b.AppendNull()
			continue
		}
		if err := b.Append(v); err != nil {
			b.AppendNull()
		}
	}
	return Series{Type: out, Array: b.Finish()}, nil
}

func wantArgs(inv ScalarInvocation, n int) error {
	if len(inv.Args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(inv.Args))
	}
	return nil
}

func init() {
	RegisterScalarFunction("length", func(inv ScalarInvocation) (Series, error) {
		if err := wantArgs(inv, 1); err != nil {
			return Series{}, err
		}
		return mapRows(inv.Args[0], Int64Type(), inv.Length, func(v Value) (Value, bool) {
			if s, ok := v.AsString(); ok {
				return Int64(int64(len(s))), true
			}
			if xs, ok := v.AsList(); ok {
				return Int64(int64(len(xs))), true
			}
			if raw, ok := v.AsBlob(); ok {
				return Int64(int64(len(raw))), true
			}
			return Value{}, false
		})
	})
	RegisterScalarFunction("abs", func(inv ScalarInvocation) (Series, error) {
		if err := wantArgs(inv, 1); err != nil {
			return Series{}, err
		}
		arg := inv.Args[0]
		switch arg.Type.Kind() {
		case KindDouble:
			return mapRows(arg, DoubleType(), inv.Length, func(v Value) (Value, bool) {
				f, ok := v.AsDouble()
				if !ok {
					return Value{}, false
				}
				return Double(math.Abs(f)), true
			})
		case KindDuration:
			return mapRows(arg, DurationType(), inv.Length, func(v Value) (Value, bool) {
				d, ok := v.AsDuration()
				if !ok || int64(d) == math.MinInt64 {
					return Value{}, false
				}
				if d < 0 {
					d = -d
				}
				return Duration(d), true
			})
		default:
			return mapRows(arg, Int64Type(), inv.Length, func(v Value) (Value, bool) {
				i, ok := asInt64(v)
				if !ok || i == math.MinInt64 {
					return Value{}, false
				}
				if i < 0 {
					i = -i
				}
				return Int64(i), true
			})
		}
	})
	RegisterScalarFunction("round", func(inv ScalarInvocation) (Series, error) {
		if err := wantArgs(inv, 1); err != nil {
			return Series{}, err
		}
		return mapRows(inv.Args[0], Int64Type(), inv.Length, func(v Value) (Value, bool) {
			if f, ok := v.AsDouble(); ok {
				r := math.Round(f)
				if r > math.MaxInt64 || r < math.MinInt64 || math.IsNaN(r) {
					return Value{}, false
				}
				return Int64(int64(r)), true
			}
			if i, ok := asInt64(v); ok {
				return Int64(i), true
			}
			return Value{}, false
		})
	})
	RegisterScalarFunction("floor", func(inv ScalarInvocation) (Series, error) {
		if err := wantArgs(inv, 1); err != nil {
			return Series{}, err
		}
		return mapRows(inv.Args[0], Int64Type(), inv.Length, func(v Value) (Value, bool) {
			if f, ok := v.AsDouble(); ok && !math.IsNaN(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
				return Int64(int64(math.Floor(f))), true
			}
			if i, ok := asInt64(v); ok {
				return Int64(i), true
			}
			return Value{}, false
		})
	})
	RegisterScalarFunction("ceil", func(inv ScalarInvocation) (Series, error) {
		if err := wantArgs(inv, 1); err != nil {
			return Series{}, err
		}
		return mapRows(inv.Args[0], Int64Type(), inv.Length, func(v Value) (Value, bool) {
			if f, ok := v.AsDouble(); ok && !math.IsNaN(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
				return Int64(int64(math.Ceil(f))), true
			}
			if i, ok := asInt64(v); ok {
				return Int64(i), true
			}
			return Value{}, false
		})
	})
	RegisterScalarFunction("lower", stringFunc(strings.ToLower))
	RegisterScalarFunction("upper", stringFunc(strings.ToUpper))
	RegisterScalarFunction("trim", stringFunc(strings.TrimSpace))
	RegisterScalarFunction("starts_with", func(inv ScalarInvocation) (Series, error) {
		if err := wantArgs(inv, 2); err != nil {
			return Series{}, err
		}
		return zipStrings(inv, func(s, prefix string) Value { return Bool(strings.HasPrefix(s, prefix)) }, BoolType())
	})
	RegisterScalarFunction("ends_with", func(inv ScalarInvocation) (Series, error) {
		if err := wantArgs(inv, 2); err != nil {
			return Series{}, err
		}
		return zipStrings(inv, func(s, suffix string) Value { return Bool(strings.HasSuffix(s, suffix)) }, BoolType())
	})
}

func stringFunc(fn func(string) string) ScalarFunction {
	return func(inv ScalarInvocation) (Series, error) {
		if err := wantArgs(inv, 1); err != nil {
			return Series{}, err
		}
		return mapRows(inv.Args[0], StringType(), inv.Length, func(v Value) (Value, bool) {
			s, ok := v.AsString()
			if !ok {
				return Value{}, false
			}
			return String(fn(s)), true
		})
	}
}

func zipStrings(inv ScalarInvocation, fn func(a, b string) Value, out Type) (Series, error) {
	b := NewArrayBuilder(out)
	for i := 0; i < inv.Length; i++ {
		av, aok := inv.Args[0].Value(i).AsString()
		bv, bok := inv.Args[1].Value(i).AsString()
		if !aok || !bok {
			b.AppendNull()
			continue
		}
		if err := b.Append(fn(av, bv)); err != nil {
			b.AppendNull()
		}
	}
	return Series{Type: out, Array: b.Finish()}, nil
}
