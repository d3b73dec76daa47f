package streamz

import (
	"fmt"
	"strings"
)

// Expr is a node of the expression AST that filters and projections are
// built from. Expressions are immutable; rewrites build new nodes.
type Expr interface {
	fmt.Stringer
	// Loc returns the node's byte range in the original query text, for
	// pinning diagnostics. A zero Location means unknown.
	Loc() Location
	walk(v Visitor)
}

// Visitor is the argument to Walk. Visit is invoked for each node; when the
// returned visitor is non-nil the walk descends into the node's children
// with it, followed by a call of w.Visit(nil).
type Visitor interface {
	Visit(Expr) Visitor
}

// Walk traverses an expression in depth-first order.
func Walk(v Visitor, e Expr) {
	if e == nil {
		return
	}
	w := v.Visit(e)
	if w != nil {
		e.walk(w)
		w.Visit(nil)
	}
}

type visitorFunc func(Expr) bool

func (f visitorFunc) Visit(e Expr) Visitor {
	if e == nil || !f(e) {
		return nil
	}
	return f
}

// VisitAll calls fn for every node; returning false prunes the subtree.
func VisitAll(e Expr, fn func(Expr) bool) {
	Walk(visitorFunc(fn), e)
}

// UnaryOp enumerates unary operators.
type UnaryOp uint8

const (
	OpNeg UnaryOp = iota
	OpNot
	OpBitNot
)

var unaryNames = [...]string{OpNeg: "-", OpNot: "!", OpBitNot: "~"}

func (o UnaryOp) String() string { return unaryNames[o] }

// BinaryOp enumerates binary operators.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
	OpBitOr
	OpBitXor
	OpAnd
	OpOr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpMatch
)

var binaryNames = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^",
	OpAnd: "&&", OpOr: "||",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpIn: "in", OpMatch: "match",
}

func (o BinaryOp) String() string { return binaryNames[o] }

// Comparison reports whether the operator yields a boolean ordering or
// equality result.
func (o BinaryOp) Comparison() bool {
	return o >= OpEq && o <= OpGe
}

// Literal is a constant value.
type Literal struct {
	Value    Value
	Location Location
}

// Lit wraps a Go native into a literal node.
func Lit(x any) *Literal {
	return &Literal{Value: MustPack(x)}
}

func (l *Literal) Loc() Location  { return l.Location }
func (l *Literal) walk(Visitor)   {}
func (l *Literal) String() string { return l.Value.String() }

// FieldRef references a column by dot-separated path. Resolution happens per
// schema at evaluation time; when several columns match, the longest then
// lexicographically first dotted name wins.
type FieldRef struct {
	Path     string
	Location Location
}

// Fieldf builds a field reference.
func Fieldf(format string, args ...any) *FieldRef {
	return &FieldRef{Path: fmt.Sprintf(format, args...)}
}

func (f *FieldRef) Loc() Location  { return f.Location }
func (f *FieldRef) walk(Visitor)   {}
func (f *FieldRef) String() string { return f.Path }

// Unary applies a unary operator.
type Unary struct {
	Op       UnaryOp
	Expr     Expr
	Location Location
}

func (u *Unary) Loc() Location { return u.Location }
func (u *Unary) walk(v Visitor) {
	Walk(v, u.Expr)
}
func (u *Unary) String() string {
	return fmt.Sprintf("%s%s", u.Op, u.Expr)
}

// Binary applies a binary operator.
type Binary struct {
	Op       BinaryOp
	Left     Expr
	Right    Expr
	Location Location
}

// Bin builds a binary node.
func Bin(op BinaryOp, left, right Expr) *Binary {
	return &Binary{Op: op, Left: left, Right: right}
}

func (b *Binary) Loc() Location { return b.Location }
func (b *Binary) walk(v Visitor) {
	Walk(v, b.Left)
	Walk(v, b.Right)
}
func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// Call invokes a registered scalar function.
type Call struct {
	Func     string
	Args     []Expr
	Location Location
}

func (c *Call) Loc() Location { return c.Location }
func (c *Call) walk(v Visitor) {
	for _, a := range c.Args {
		Walk(v, a)
	}
}
func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Func, strings.Join(args, ", "))
}

// Subpipeline embeds a nested pipeline as an expression operand, as used by
// grouped execution.
type Subpipeline struct {
	Pipe     *Pipeline
	Location Location
}

func (s *Subpipeline) Loc() Location  { return s.Location }
func (s *Subpipeline) walk(Visitor)   {}
func (s *Subpipeline) String() string { return "{ ... }" }

// ReferencedFields returns the distinct field paths the expression reads, in
// first-appearance order. The optimizer uses this to decide whether a
// predicate may move past an operator.
func ReferencedFields(e Expr) []string {
	var out []string
	seen := make(map[string]struct{})
	VisitAll(e, func(n Expr) bool {
		if f, ok := n.(*FieldRef); ok {
			if _, dup := seen[f.Path]; !dup {
				seen[f.Path] = struct{}{}
				out = append(out, f.Path)
			}
		}
		return true
	})
	return out
}

// ConjoinFilters combines two optional predicates with a logical and. Either
// side may be nil.
func ConjoinFilters(a, b Expr) Expr {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return Bin(OpAnd, a, b)
}
