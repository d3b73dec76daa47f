package streamz

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// Eval evaluates an expression over one slice and returns a series of the
// same length. Evaluation never fails: type errors, overflow, and division
// by zero produce null rows plus a warning diagnostic pinned to the
// expression's source location, emitted at most once per evaluation.
func Eval(e Expr, s TableSlice, diags DiagnosticSink) Series {
	ev := &evaluator{slice: s, diags: diags, warned: make(map[string]struct{})}
	return ev.eval(e)
}

// EvalRuns evaluates an expression over consecutive slices, yielding one
// series per schema-homogeneous run: adjacent slices that share a schema
// contribute to the same output series.
func EvalRuns(e Expr, slices []TableSlice, diags DiagnosticSink) []Series {
	var out []Series
	i := 0
	for i < len(slices) {
		j := i + 1
		run := []TableSlice{slices[i]}
		for j < len(slices) && slices[j].Schema().Equal(slices[i].Schema()) {
			run = append(run, slices[j])
			j++
		}
		merged, err := Concatenate(run)
		if err != nil {
			merged = slices[i]
			j = i + 1
		}
		out = append(out, Eval(e, merged, diags))
		i = j
	}
	return out
}

type evaluator struct {
	slice  TableSlice
	diags  DiagnosticSink
	warned map[string]struct{}
	regexps map[string]*regexp.Regexp
}

// warnOnce emits a warning at most once per distinct message and location
// within a single evaluation, so a ten-row failure produces one diagnostic,
// not ten.
func (ev *evaluator) warnOnce(loc Location, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	key := fmt.Sprintf("%d:%d:%s", loc.Begin, loc.End, msg)
	if _, dup := ev.warned[key]; dup {
		return
	}
	ev.warned[key] = struct{}{}
	if ev.diags != nil {
		ev.diags.Emit(Warningf("%s", msg).At(loc))
	}
}

func (ev *evaluator) nullSeries() Series {
	return Series{Type: NullType(), Array: &NullArray{N: ev.slice.Len()}}
}

func (ev *evaluator) eval(e Expr) Series {
	n := ev.slice.Len()
	switch e := e.(type) {
	case *Literal:
		b := NewArrayBuilder(e.Value.Type())
		for i := 0; i < n; i++ {
			if err := b.Append(e.Value); err != nil {
				b.AppendNull()
			}
		}
		return Series{Type: e.Value.Type(), Array: b.Finish()}
	case *FieldRef:
		resolved, ok := ev.slice.Schema().ResolveOne(e.Path)
		if !ok {
			ev.warnOnce(e.Loc(), "field `%s` not found in `%s`", e.Path, ev.slice.Schema())
			return ev.nullSeries()
		}
		col, ok := ev.slice.ColumnAt(resolved.Offsets)
		if !ok {
			return ev.nullSeries()
		}
		return col
	case *Unary:
		return ev.evalUnary(e)
	case *Binary:
		return ev.evalBinary(e)
	case *Call:
		return ev.evalCall(e)
	case *Subpipeline:
		ev.warnOnce(e.Loc(), "nested pipelines cannot be evaluated as scalar expressions")
		return ev.nullSeries()
	}
	ev.warnOnce(Location{}, "unsupported expression %T", e)
	return ev.nullSeries()
}

func (ev *evaluator) evalUnary(e *Unary) Series {
	x := ev.eval(e.Expr)
	n := x.Len()
	switch e.Op {
	case OpNot:
		if x.Type.Kind() != KindBool && x.Type.Kind() != KindNull {
			ev.warnOnce(e.Loc(), "expected `bool`, got `%s`", x.Type.Kind())
			return ev.nullSeries()
		}
		b := NewArrayBuilder(BoolType())
		for i := 0; i < n; i++ {
			v := x.Value(i)
			if bv, ok := v.AsBool(); ok {
				_ = b.Append(Bool(!bv))
			} else {
				b.AppendNull()
			}
		}
		return Series{Type: BoolType(), Array: b.Finish()}
	case OpNeg:
		switch x.Type.Kind() {
		case KindInt64, KindNull:
			b := NewArrayBuilder(Int64Type())
			for i := 0; i < n; i++ {
				v := x.Value(i)
				if iv, ok := v.AsInt64(); ok {
					if iv == math.MinInt64 {
						ev.warnOnce(e.Loc(), "integer overflow in negation")
						b.AppendNull()
						continue
					}
					_ = b.Append(Int64(-iv))
				} else {
					b.AppendNull()
				}
			}
			return Series{Type: Int64Type(), Array: b.Finish()}
		case KindUint64:
			b := NewArrayBuilder(Int64Type())
			for i := 0; i < n; i++ {
				v := x.Value(i)
				if uv, ok := v.AsUint64(); ok && uv <= math.MaxInt64 {
					_ = b.Append(Int64(-int64(uv)))
				} else {
					if !v.IsNull() {
						ev.warnOnce(e.Loc(), "integer overflow in negation")
					}
					b.AppendNull()
				}
			}
			return Series{Type: Int64Type(), Array: b.Finish()}
		case KindDouble:
			b := NewArrayBuilder(DoubleType())
			for i := 0; i < n; i++ {
				if fv, ok := x.Value(i).AsDouble(); ok {
					_ = b.Append(Double(-fv))
				} else {
					b.AppendNull()
				}
			}
			return Series{Type: DoubleType(), Array: b.Finish()}
		case KindDuration:
			b := NewArrayBuilder(DurationType())
			for i := 0; i < n; i++ {
				if dv, ok := x.Value(i).AsDuration(); ok {
					_ = b.Append(Duration(-dv))
				} else {
					b.AppendNull()
				}
			}
			return Series{Type: DurationType(), Array: b.Finish()}
		}
		ev.warnOnce(e.Loc(), "cannot negate `%s`", x.Type.Kind())
		return ev.nullSeries()
	case OpBitNot:
		switch x.Type.Kind() {
		case KindInt64, KindNull:
			b := NewArrayBuilder(Int64Type())
			for i := 0; i < n; i++ {
				if iv, ok := x.Value(i).AsInt64(); ok {
					_ = b.Append(Int64(^iv))
				} else {
					b.AppendNull()
				}
			}
			return Series{Type: Int64Type(), Array: b.Finish()}
		case KindUint64:
			b := NewArrayBuilder(Uint64Type())
			for i := 0; i < n; i++ {
				if uv, ok := x.Value(i).AsUint64(); ok {
					_ = b.Append(Uint64(^uv))
				} else {
					b.AppendNull()
				}
			}
			return Series{Type: Uint64Type(), Array: b.Finish()}
		}
		ev.warnOnce(e.Loc(), "cannot apply `~` to `%s`", x.Type.Kind())
		return ev.nullSeries()
	}
	return ev.nullSeries()
}

func (ev *evaluator) evalCall(e *Call) Series {
	fn, ok := lookupScalarFunction(e.Func)
	if !ok {
		ev.warnOnce(e.Loc(), "unknown function `%s`", e.Func)
		return ev.nullSeries()
	}
	args := make([]Series, len(e.Args))
	for i, a := range e.Args {
		args[i] = ev.eval(a)
	}
	out, err := fn(ScalarInvocation{Args: args, Length: ev.slice.Len(), Loc: e.Loc()})
	if err != nil {
		ev.warnOnce(e.Loc(), "%s: %s", e.Func, err)
		return ev.nullSeries()
	}
	return out
}

func (ev *evaluator) evalBinary(e *Binary) Series {
	switch e.Op {
	case OpAnd, OpOr:
		return ev.evalLogical(e)
	case OpIn:
		return ev.evalIn(e)
	case OpMatch:
		return ev.evalMatch(e)
	}
	l := ev.eval(e.Left)
	r := ev.eval(e.Right)
	if e.Op.Comparison() {
		return ev.evalComparison(e, l, r)
	}
	return ev.evalArithmetic(e, l, r)
}

// evalLogical implements three-valued boolean logic: null && false is
// false, null && true is null, and dually for ||.
func (ev *evaluator) evalLogical(e *Binary) Series {
	l := ev.eval(e.Left)
	r := ev.eval(e.Right)
	for _, s := range []Series{l, r} {
		if s.Type.Kind() != KindBool && s.Type.Kind() != KindNull {
			ev.warnOnce(e.Loc(), "expected `bool`, got `%s`", s.Type.Kind())
			return ev.nullSeries()
		}
	}
	n := ev.slice.Len()
	b := NewArrayBuilder(BoolType())
	for i := 0; i < n; i++ {
		lv, lok := l.Value(i).AsBool()
		rv, rok := r.Value(i).AsBool()
		switch e.Op {
		case OpAnd:
			switch {
			case lok && rok:
				_ = b.Append(Bool(lv && rv))
			case lok && !lv, rok && !rv:
				_ = b.Append(Bool(false))
			default:
				b.AppendNull()
			}
		case OpOr:
			switch {
			case lok && rok:
				_ = b.Append(Bool(lv || rv))
			case lok && lv, rok && rv:
				_ = b.Append(Bool(true))
			default:
				b.AppendNull()
			}
		}
	}
	return Series{Type: BoolType(), Array: b.Finish()}
}

// evalIn implements membership: true iff the right-hand list contains the
// left-hand value under structural equality. A null needle or list yields
// null, never false.
func (ev *evaluator) evalIn(e *Binary) Series {
	l := ev.eval(e.Left)
	r := ev.eval(e.Right)
	if r.Type.Kind() != KindList && r.Type.Kind() != KindNull {
		ev.warnOnce(e.Loc(), "right-hand side of `in` must be a list, got `%s`", r.Type.Kind())
		return ev.nullSeries()
	}
	n := ev.slice.Len()
	b := NewArrayBuilder(BoolType())
	for i := 0; i < n; i++ {
		needle := l.Value(i)
		items, ok := r.Value(i).AsList()
		if needle.IsNull() || !ok {
			b.AppendNull()
			continue
		}
		found := false
		sawNull := false
		for _, item := range items {
			if item.IsNull() {
				sawNull = true
				continue
			}
			if needle.Equal(item) {
				found = true
				break
			}
		}
		switch {
		case found:
			_ = b.Append(Bool(true))
		case sawNull:
			b.AppendNull()
		default:
			_ = b.Append(Bool(false))
		}
	}
	return Series{Type: BoolType(), Array: b.Finish()}
}

func (ev *evaluator) evalMatch(e *Binary) Series {
	l := ev.eval(e.Left)
	r := ev.eval(e.Right)
	if l.Type.Kind() != KindString && l.Type.Kind() != KindNull {
		ev.warnOnce(e.Loc(), "left-hand side of `match` must be a string, got `%s`", l.Type.Kind())
		return ev.nullSeries()
	}
	n := ev.slice.Len()
	b := NewArrayBuilder(BoolType())
	for i := 0; i < n; i++ {
		sv, sok := l.Value(i).AsString()
		pv, pok := r.Value(i).AsString()
		if !sok || !pok {
			b.AppendNull()
			continue
		}
		re, err := ev.compile(pv)
		if err != nil {
			ev.warnOnce(e.Loc(), "invalid pattern `%s`: %s", pv, err)
			b.AppendNull()
			continue
		}
		_ = b.Append(Bool(re.MatchString(sv)))
	}
	return Series{Type: BoolType(), Array: b.Finish()}
}

func (ev *evaluator) compile(pattern string) (*regexp.Regexp, error) {
	if ev.regexps == nil {
		ev.regexps = make(map[string]*regexp.Regexp)
	}
	if re, ok := ev.regexps[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	ev.regexps[pattern] = re
	return re, nil
}

// evalComparison orders or equates row pairs. Comparing null with anything
// yields null, not false.
func (ev *evaluator) evalComparison(e *Binary, l, r Series) Series {
	n := ev.slice.Len()
	b := NewArrayBuilder(BoolType())
	warnedIncompatible := false
	for i := 0; i < n; i++ {
		lv := l.Value(i)
		rv := r.Value(i)
		if lv.IsNull() || rv.IsNull() {
			b.AppendNull()
			continue
		}
		switch e.Op {
		case OpEq:
			_ = b.Append(Bool(lv.Equal(rv)))
		case OpNe:
			_ = b.Append(Bool(!lv.Equal(rv)))
		default:
			c, ok := lv.Compare(rv)
			if !ok {
				if !warnedIncompatible {
					ev.warnOnce(e.Loc(), "cannot compare `%s` and `%s`", l.Type.Kind(), r.Type.Kind())
					warnedIncompatible = true
				}
				b.AppendNull()
				continue
			}
			var res bool
			switch e.Op {
			case OpLt:
				res = c < 0
			case OpLe:
				res = c <= 0
			case OpGt:
				res = c > 0
			case OpGe:
				res = c >= 0
			}
			_ = b.Append(Bool(res))
		}
	}
	return Series{Type: BoolType(), Array: b.Finish()}
}

// arithCategory buckets operand kinds for arithmetic dispatch.
func arithCategory(k Kind) int {
	switch k {
	case KindInt64, KindUint64, KindDouble, KindNull:
		return 1
	case KindDuration, KindTime:
		return 2
	}
	return 0
}

func (ev *evaluator) evalArithmetic(e *Binary, l, r Series) Series {
	lc, rc := arithCategory(l.Type.Kind()), arithCategory(r.Type.Kind())
	if lc == 0 || rc == 0 {
		ev.warnOnce(e.Loc(), "cannot apply `%s` to `%s` and `%s`", e.Op, l.Type.Kind(), r.Type.Kind())
		return ev.nullSeries()
	}
	if lc == 2 || rc == 2 {
		return ev.evalTemporal(e, l, r)
	}
	switch e.Op {
	case OpBitAnd, OpBitOr, OpBitXor:
		return ev.evalBitwise(e, l, r)
	}
	// Promote to double when either side is double; otherwise stay in
	// checked integer arithmetic.
	if l.Type.Kind() == KindDouble || r.Type.Kind() == KindDouble {
		b := NewArrayBuilder(DoubleType())
		for i := 0; i < ev.slice.Len(); i++ {
			lf, lok := asDouble(l.Value(i))
			rf, rok := asDouble(r.Value(i))
			if !lok || !rok {
				b.AppendNull()
				continue
			}
			switch e.Op {
			case OpAdd:
				_ = b.Append(Double(lf + rf))
			case OpSub:
				_ = b.Append(Double(lf - rf))
			case OpMul:
				_ = b.Append(Double(lf * rf))
			case OpDiv:
				if rf == 0 {
					ev.warnOnce(e.Loc(), "division by zero")
					b.AppendNull()
					continue
				}
				_ = b.Append(Double(lf / rf))
			case OpMod:
				if rf == 0 {
					ev.warnOnce(e.Loc(), "division by zero")
					b.AppendNull()
					continue
				}
				_ = b.Append(Double(math.Mod(lf, rf)))
			}
		}
		return Series{Type: DoubleType(), Array: b.Finish()}
	}
	if l.Type.Kind() == KindUint64 && r.Type.Kind() == KindUint64 {
		b := NewArrayBuilder(Uint64Type())
		for i := 0; i < ev.slice.Len(); i++ {
			lu, lok := l.Value(i).AsUint64()
			ru, rok := r.Value(i).AsUint64()
			if !lok || !rok {
				b.AppendNull()
				continue
			}
			res, ok, divZero := checkedUint64(e.Op, lu, ru)
			switch {
			case divZero:
				ev.warnOnce(e.Loc(), "division by zero")
				b.AppendNull()
			case !ok:
				ev.warnOnce(e.Loc(), "integer overflow in `%s`", e.Op)
				b.AppendNull()
			default:
				_ = b.Append(Uint64(res))
			}
		}
		return Series{Type: Uint64Type(), Array: b.Finish()}
	}
	b := NewArrayBuilder(Int64Type())
	for i := 0; i < ev.slice.Len(); i++ {
		li, lok := asInt64(l.Value(i))
		ri, rok := asInt64(r.Value(i))
		if !lok || !rok {
			if overflows(l.Value(i)) || overflows(r.Value(i)) {
				ev.warnOnce(e.Loc(), "integer overflow")
			}
			b.AppendNull()
			continue
		}
		res, ok, divZero := checkedInt64(e.Op, li, ri)
		switch {
		case divZero:
			ev.warnOnce(e.Loc(), "division by zero")
			b.AppendNull()
		case !ok:
			ev.warnOnce(e.Loc(), "integer overflow in `%s`", e.Op)
			b.AppendNull()
		default:
			_ = b.Append(Int64(res))
		}
	}
	return Series{Type: Int64Type(), Array: b.Finish()}
}

func (ev *evaluator) evalBitwise(e *Binary, l, r Series) Series {
	if l.Type.Kind() == KindUint64 && r.Type.Kind() == KindUint64 {
		b := NewArrayBuilder(Uint64Type())
		for i := 0; i < ev.slice.Len(); i++ {
			lu, lok := l.Value(i).AsUint64()
			ru, rok := r.Value(i).AsUint64()
			if !lok || !rok {
				b.AppendNull()
				continue
			}
			switch e.Op {
			case OpBitAnd:
				_ = b.Append(Uint64(lu & ru))
			case OpBitOr:
				_ = b.Append(Uint64(lu | ru))
			case OpBitXor:
				_ = b.Append(Uint64(lu ^ ru))
			}
		}
		return Series{Type: Uint64Type(), Array: b.Finish()}
	}
	b := NewArrayBuilder(Int64Type())
	for i := 0; i < ev.slice.Len(); i++ {
		li, lok := asInt64(l.Value(i))
		ri, rok := asInt64(r.Value(i))
		if !lok || !rok {
			b.AppendNull()
			continue
		}
		switch e.Op {
		case OpBitAnd:
			_ = b.Append(Int64(li & ri))
		case OpBitOr:
			_ = b.Append(Int64(li | ri))
		case OpBitXor:
			_ = b.Append(Int64(li ^ ri))
		}
	}
	return Series{Type: Int64Type(), Array: b.Finish()}
}

// evalTemporal covers time and duration arithmetic. Time arithmetic
// saturates at the representable bounds instead of wrapping.
func (ev *evaluator) evalTemporal(e *Binary, l, r Series) Series {
	lk, rk := l.Type.Kind(), r.Type.Kind()
	n := ev.slice.Len()
	emit := func(t Type, f func(i int, b ArrayBuilder)) Series {
		b := NewArrayBuilder(t)
		for i := 0; i < n; i++ {
			f(i, b)
		}
		return Series{Type: t, Array: b.Finish()}
	}
	switch {
	case lk == KindTime && rk == KindDuration && (e.Op == OpAdd || e.Op == OpSub):
		return emit(TimeType(), func(i int, b ArrayBuilder) {
			tv, tok := l.Value(i).AsTime()
			dv, dok := r.Value(i).AsDuration()
			if !tok || !dok {
				b.AppendNull()
				return
			}
			if e.Op == OpSub {
				dv = -dv
			}
			_ = b.Append(Time(saturatingAdd(tv, dv)))
		})
	case lk == KindDuration && rk == KindTime && e.Op == OpAdd:
		return emit(TimeType(), func(i int, b ArrayBuilder) {
			dv, dok := l.Value(i).AsDuration()
			tv, tok := r.Value(i).AsTime()
			if !tok || !dok {
				b.AppendNull()
				return
			}
			_ = b.Append(Time(saturatingAdd(tv, dv)))
		})
	case lk == KindTime && rk == KindTime && e.Op == OpSub:
		return emit(DurationType(), func(i int, b ArrayBuilder) {
			lt, lok := l.Value(i).AsTime()
			rt, rok := r.Value(i).AsTime()
			if !lok || !rok {
				b.AppendNull()
				return
			}
			_ = b.Append(Duration(saturatingSub(lt, rt)))
		})
	case lk == KindDuration && rk == KindDuration && (e.Op == OpAdd || e.Op == OpSub):
		return emit(DurationType(), func(i int, b ArrayBuilder) {
			ld, lok := l.Value(i).AsDuration()
			rd, rok := r.Value(i).AsDuration()
			if !lok || !rok {
				b.AppendNull()
				return
			}
			if e.Op == OpSub {
				rd = -rd
			}
			sum, ok := addInt64(int64(ld), int64(rd))
			if !ok {
				sum = saturateInt64(int64(ld) > 0)
			}
			_ = b.Append(Duration(time.Duration(sum)))
		})
	case lk == KindDuration && rk == KindDuration && e.Op == OpDiv:
		return emit(DoubleType(), func(i int, b ArrayBuilder) {
			ld, lok := l.Value(i).AsDuration()
			rd, rok := r.Value(i).AsDuration()
			if !lok || !rok {
				b.AppendNull()
				return
			}
			if rd == 0 {
				ev.warnOnce(e.Loc(), "division by zero")
				b.AppendNull()
				return
			}
			_ = b.Append(Double(float64(ld) / float64(rd)))
		})
	case lk == KindDuration && arithCategory(rk) == 1 && (e.Op == OpMul || e.Op == OpDiv):
		return emit(DurationType(), func(i int, b ArrayBuilder) {
			ld, lok := l.Value(i).AsDuration()
			rf, rok := asDouble(r.Value(i))
			if !lok || !rok {
				b.AppendNull()
				return
			}
			if e.Op == OpDiv {
				if rf == 0 {
					ev.warnOnce(e.Loc(), "division by zero")
					b.AppendNull()
					return
				}
				_ = b.Append(Duration(time.Duration(float64(ld) / rf)))
				return
			}
			_ = b.Append(Duration(time.Duration(float64(ld) * rf)))
		})
	case arithCategory(lk) == 1 && rk == KindDuration && e.Op == OpMul:
		return ev.evalTemporal(&Binary{Op: OpMul, Left: e.Right, Right: e.Left, Location: e.Location}, r, l)
	}
	ev.warnOnce(e.Loc(), "cannot apply `%s` to `%s` and `%s`", e.Op, lk, rk)
	return ev.nullSeries()
}

func asDouble(v Value) (float64, bool) {
	if f, ok := v.AsDouble(); ok {
		return f, true
	}
	if i, ok := v.AsInt64(); ok {
		return float64(i), true
	}
	if u, ok := v.AsUint64(); ok {
		return float64(u), true
	}
	return 0, false
}

func asInt64(v Value) (int64, bool) {
	if i, ok := v.AsInt64(); ok {
		return i, true
	}
	if u, ok := v.AsUint64(); ok && u <= math.MaxInt64 {
		return int64(u), true
	}
	return 0, false
}

// overflows reports whether a non-null integer cannot be represented as
// int64, which distinguishes overflow warnings from plain null propagation.
func overflows(v Value) bool {
	u, ok := v.AsUint64()
	return ok && u > math.MaxInt64
}

func saturateInt64(positive bool) int64 {
	if positive {
		return math.MaxInt64
	}
	return math.MinInt64
}

func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
		return 0, false
	}
	return sum, true
}

func subInt64(a, b int64) (int64, bool) {
	if b == math.MinInt64 {
		if a >= 0 {
			return 0, false
		}
		return a - b, true
	}
	return addInt64(a, -b)
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if b == -1 && a == math.MinInt64 {
		return 0, false
	}
	prod := a * b
	if prod/b != a {
		return 0, false
	}
	return prod, true
}

func checkedInt64(op BinaryOp, a, b int64) (res int64, ok, divZero bool) {
	switch op {
	case OpAdd:
		res, ok = addInt64(a, b)
	case OpSub:
		res, ok = subInt64(a, b)
	case OpMul:
		res, ok = mulInt64(a, b)
	case OpDiv:
		if b == 0 {
			return 0, false, true
		}
		if a == math.MinInt64 && b == -1 {
			return 0, false, false
		}
		res, ok = a/b, true
	case OpMod:
		if b == 0 {
			return 0, false, true
		}
		res, ok = a%b, true
	}
	return res, ok, false
}

func checkedUint64(op BinaryOp, a, b uint64) (res uint64, ok, divZero bool) {
	switch op {
	case OpAdd:
		res = a + b
		ok = res >= a
	case OpSub:
		if b > a {
			return 0, false, false
		}
		res, ok = a-b, true
	case OpMul:
		if a == 0 || b == 0 {
			return 0, true, false
		}
		res = a * b
		ok = res/b == a
	case OpDiv:
		if b == 0 {
			return 0, false, true
		}
		res, ok = a/b, true
	case OpMod:
		if b == 0 {
			return 0, false, true
		}
		res, ok = a%b, true
	}
	return res, ok, false
}

// saturatingAdd clamps time-plus-duration at the representable bounds.
func saturatingAdd(t time.Time, d time.Duration) time.Time {
	ns := t.UnixNano()
	sum, ok := addInt64(ns, int64(d))
	if !ok {
		sum = saturateInt64(int64(d) > 0)
	}
	return time.Unix(0, sum).UTC()
}

// saturatingSub clamps time-minus-time at the duration bounds.
func saturatingSub(a, b time.Time) time.Duration {
	diff, ok := subInt64(a.UnixNano(), b.UnixNano())
	if !ok {
		diff = saturateInt64(a.UnixNano() > b.UnixNano())
	}
	return time.Duration(diff)
}
