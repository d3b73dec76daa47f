package streamz

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// OperatorPlugin registers an operator with the engine: a stable name plus
// a parse hook that turns arguments into an operator instance. Scalar and
// aggregation functions register through their own registries; connectors
// claim URI schemes; aspects expose named on-demand tables.
type OperatorPlugin struct {
	// Name is the operator's stable identifier.
	Name Name
	// Make parses arguments into an operator.
	Make func(args ...string) (Operator, error)
	// Internal operators are excluded from user-visible listings.
	Internal bool
}

// ConnectorPlugin provides byte sources and sinks for the URI schemes it
// claims.
type ConnectorPlugin struct {
	// Schemes lists the URI schemes the connector handles, e.g. "file".
	Schemes []string
	// Source builds a bytes source for a URI, nil if the connector cannot
	// load.
	Source func(uri string) (Operator, error)
	// Sink builds a bytes sink for a URI, nil if the connector cannot
	// save.
	Sink func(uri string) (Operator, error)
}

// AspectPlugin exposes a named on-demand table about the engine itself.
type AspectPlugin struct {
	// Name is the aspect's identifier.
	Name string
	// Collect produces the aspect's rows.
	Collect func() ([]TableSlice, error)
}

// Registry holds everything plugins contribute. The package-level Default
// registry serves the common case; embedders may keep isolated ones.
type Registry struct {
	mu         sync.RWMutex
	operators  map[Name]OperatorPlugin
	connectors map[string]ConnectorPlugin
	aspects    map[string]AspectPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		operators:  make(map[Name]OperatorPlugin),
		connectors: make(map[string]ConnectorPlugin),
		aspects:    make(map[string]AspectPlugin),
	}
}

// Default is the process-wide registry.
var Default = NewRegistry()

// RegisterOperator adds an operator plugin. Later registrations of the
// same name win, which lets embedders shadow built-ins.
func (r *Registry) RegisterOperator(p OperatorPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[p.Name] = p
}

// Operator looks up an operator plugin by name.
func (r *Registry) Operator(name Name) (OperatorPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.operators[name]
	return p, ok
}

// Operators lists registered operator names, sorted, excluding internal
// ones.
func (r *Registry) Operators() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Name, 0, len(r.operators))
	for name, p := range r.operators {
		if !p.Internal {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RegisterConnector adds a connector for its claimed schemes.
func (r *Registry) RegisterConnector(p ConnectorPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range p.Schemes {
		r.connectors[scheme] = p
	}
}

// Connector looks up the connector claiming a scheme.
func (r *Registry) Connector(scheme string) (ConnectorPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.connectors[scheme]
	return p, ok
}

// RegisterAspect adds an aspect.
func (r *Registry) RegisterAspect(p AspectPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aspects[p.Name] = p
}

// Aspect looks up an aspect by name.
func (r *Registry) Aspect(name string) (AspectPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.aspects[name]
	return p, ok
}

// Aspects lists registered aspect names, sorted.
func (r *Registry) Aspects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.aspects))
	for name := range r.aspects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Default.RegisterOperator(OperatorPlugin{
		Name: "batch",
		Make: func(args ...string) (Operator, error) {
			var limit uint64
			var timeout time.Duration
			if len(args) > 0 {
				n, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return nil, WrapError(CodeParse, "batch", err)
				}
				if n == 0 {
					return nil, Errorf(CodeParse, "batch size must not be 0")
				}
				limit = n
			}
			if len(args) > 1 {
				d, err := time.ParseDuration(args[1])
				if err != nil {
					return nil, WrapError(CodeParse, "batch", err)
				}
				if d <= 0 {
					return nil, Errorf(CodeParse, "timeout must be a positive duration")
				}
				timeout = d
			}
			return NewBatch(limit, timeout), nil
		},
	})
	Default.RegisterOperator(OperatorPlugin{
		Name: "select",
		Make: func(args ...string) (Operator, error) {
			if len(args) == 0 {
				return nil, Errorf(CodeParse, "select needs at least one field")
			}
			return NewSelect(args...), nil
		},
	})
	Default.RegisterOperator(OperatorPlugin{
		Name: "drop",
		Make: func(args ...string) (Operator, error) {
			if len(args) == 0 {
				return nil, Errorf(CodeParse, "drop needs at least one field")
			}
			return NewDrop(args...), nil
		},
	})
	Default.RegisterOperator(OperatorPlugin{
		Name: "flatten",
		Make: func(args ...string) (Operator, error) {
			sep := ""
			if len(args) > 0 {
				sep = args[0]
			}
			return NewFlatten(sep), nil
		},
	})
	Default.RegisterOperator(OperatorPlugin{
		Name: "head",
		Make: func(args ...string) (Operator, error) {
			limit := uint64(10)
			if len(args) > 0 {
				n, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return nil, WrapError(CodeParse, "head", err)
				}
				limit = n
			}
			return NewHead(limit), nil
		},
	})
	Default.RegisterOperator(OperatorPlugin{
		Name: "unique",
		Make: func(...string) (Operator, error) { return NewUnique(), nil },
	})
	Default.RegisterOperator(OperatorPlugin{
		Name: "discard",
		Make: func(...string) (Operator, error) { return NewDiscard(), nil },
	})
	Default.RegisterOperator(OperatorPlugin{
		Name:     "pass",
		Internal: true,
		Make:     func(...string) (Operator, error) { return NewPass(), nil },
	})
	Default.RegisterOperator(OperatorPlugin{
		Name: "read_lines",
		Make: func(...string) (Operator, error) { return NewReadLines(), nil },
	})
	Default.RegisterOperator(OperatorPlugin{
		Name: "print_json",
		Make: func(...string) (Operator, error) { return NewPrintJSON(), nil },
	})
	Default.RegisterAspect(AspectPlugin{
		Name: "aggregations",
		Collect: func() ([]TableSlice, error) {
			schema := RecordType(Field{Name: "name", Type: StringType()})
			b := NewSliceBuilder(schema)
			for _, name := range AggregationFunctions() {
				if err := b.Append(Record(schema, String(name))); err != nil {
					return nil, err
				}
			}
			return []TableSlice{b.Finish()}, nil
		},
	})
}
