package streamz

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// Severity grades a diagnostic.
type Severity uint8

const (
	SeverityNote Severity = iota
	SeverityWarning
	SeverityError
)

var severityNames = [...]string{
	SeverityNote:    "note",
	SeverityWarning: "warning",
	SeverityError:   "error",
}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("severity(%d)", uint8(s))
}

// MarshalJSON renders the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range severityNames {
		if n == name {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", name)
}

// Location is a byte range into the original query text.
type Location struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Unknown reports whether the location carries no information.
func (l Location) Unknown() bool { return l == Location{} }

// Diagnostic is a structured note, warning, or error that flows out-of-band
// alongside the data. Diagnostics are values, not exceptions: operators emit
// them through their control plane handle and keep going unless the severity
// is error.
type Diagnostic struct {
	Severity  Severity   `json:"severity"`
	Message   string     `json:"message"`
	Locations []Location `json:"locations"`
	Notes     []string   `json:"notes,omitempty"`
	Hints     []string   `json:"hints,omitempty"`
}

// Notef builds a note diagnostic.
func Notef(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityNote, Message: fmt.Sprintf(format, args...)}
}

// Warningf builds a warning diagnostic.
func Warningf(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
}

// DiagErrorf builds an error diagnostic. Emitting one also makes the
// emitting operator fail, which the executor surfaces to the caller.
func DiagErrorf(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Message: fmt.Sprintf(format, args...)}
}

// At pins the diagnostic to a source location.
func (d Diagnostic) At(loc Location) Diagnostic {
	if !loc.Unknown() {
		d.Locations = append(append([]Location(nil), d.Locations...), loc)
	}
	return d
}

// WithNote attaches a structured note.
func (d Diagnostic) WithNote(format string, args ...any) Diagnostic {
	d.Notes = append(append([]string(nil), d.Notes...), fmt.Sprintf(format, args...))
	return d
}

// WithHint attaches a hint.
func (d Diagnostic) WithHint(format string, args ...any) Diagnostic {
	d.Hints = append(append([]string(nil), d.Hints...), fmt.Sprintf(format, args...))
	return d
}

// MarshalJSON renders the diagnostic in the interchange format. A nil
// location list still renders as [].
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	type alias Diagnostic
	a := alias(d)
	if a.Locations == nil {
		a.Locations = []Location{}
	}
	return json.Marshal(a)
}

// String renders the diagnostic for logs.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// DiagnosticSink receives diagnostics out-of-band. The control plane owns
// the sink; operators only see the Emit side.
type DiagnosticSink interface {
	Emit(d Diagnostic)
}

// CollectingSink is a DiagnosticSink that buffers everything it receives.
// It is safe for concurrent use.
type CollectingSink struct {
	mu    sync.Mutex
	diags []Diagnostic
}

// Emit implements DiagnosticSink.
func (c *CollectingSink) Emit(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diags = append(c.diags, d)
}

// Diagnostics returns a snapshot of everything received so far.
func (c *CollectingSink) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Diagnostic(nil), c.diags...)
}

// funcSink adapts a function into a DiagnosticSink.
type funcSink func(Diagnostic)

func (f funcSink) Emit(d Diagnostic) { f(d) }

// SinkFunc adapts a function into a DiagnosticSink.
func SinkFunc(f func(Diagnostic)) DiagnosticSink { return funcSink(f) }
