package streamz

// strictOp wraps another operator and escalates its warnings to errors, so
// a pipeline that would normally degrade gracefully fails loudly instead.
// Wrapping a strict operator again is a no-op.
type strictOp struct {
	op Operator
}

// NewStrict wraps an operator in strict mode.
func NewStrict(op Operator) Operator {
	if inner, ok := op.(*strictOp); ok {
		op = inner.op
	}
	return &strictOp{op: op}
}

// NewStrictPipeline wraps every operator of a pipeline in strict mode.
func NewStrictPipeline(p *Pipeline) *Pipeline {
	ops := make([]Operator, len(p.Operators()))
	for i, op := range p.Operators() {
		ops[i] = NewStrict(op)
	}
	return NewPipeline(p.Name(), ops...)
}

func (s *strictOp) Name() Name              { return "strict" }
func (s *strictOp) InputKind() ElementKind  { return s.op.InputKind() }
func (s *strictOp) OutputKind() ElementKind { return s.op.OutputKind() }

func (s *strictOp) OperatorLocation() LocationHint { return LocationOf(s.op) }
func (s *strictOp) Internal() bool                 { return IsInternal(s.op) }
func (s *strictOp) Deterministic() bool            { return IsDeterministic(s.op) }
func (s *strictOp) EventOrder() Order              { return EventOrderOf(s.op) }

// Optimize delegates to the wrapped operator and re-wraps whatever comes
// back, so strictness survives rewrites.
func (s *strictOp) Optimize(filter Expr, order Order) OptimizeResult {
	res := s.op.Optimize(filter, order)
	if res.Replacement == nil {
		return res
	}
	if pipe, ok := res.Replacement.(*Pipeline); ok {
		res.Replacement = NewStrictPipeline(pipe)
		return res
	}
	res.Replacement = NewStrict(res.Replacement)
	return res
}

func (s *strictOp) Instantiate(ctl Control) (Instance, error) {
	return s.op.Instantiate(strictControl{Control: ctl})
}

// strictControl upgrades warnings to errors before they reach the real
// control plane, which marks the emitting operator as failed.
type strictControl struct {
	Control
}

func (s strictControl) Emit(d Diagnostic) {
	if d.Severity == SeverityWarning {
		d.Severity = SeverityError
	}
	s.Control.Emit(d)
}
