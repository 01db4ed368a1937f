// Package types defines the value types shared by every analysis stage.
// It includes source positions, spans and the diagnostics attached to an analysis result.
package types

import "fmt"

// Position is a 1-based line and 0-based column in the source text
type Position struct {
	Line   int `json:"line" yaml:"line"`
	Column int `json:"column" yaml:"column"`
}

// Before reports whether p comes strictly before q
func (p Position) Before(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Column < q.Column
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span is a half-open source range
type Span struct {
	Start Position `json:"start" yaml:"start"`
	End   Position `json:"end" yaml:"end"`
}

// Contains reports whether the position lies inside the span
func (s Span) Contains(p Position) bool {
	return !p.Before(s.Start) && p.Before(s.End)
}

func (s Span) String() string {
	return s.Start.String() + "-" + s.End.String()
}

// DiagnosticKind classifies a diagnostic
type DiagnosticKind string

const (
	DiagInput       DiagnosticKind = "input_error"  // malformed syntax tree region
	DiagScopeConfig DiagnosticKind = "scope_config" // bad global/nonlocal declaration
	DiagInternal    DiagnosticKind = "internal"     // analysis invariant violated, function dropped
)

// Severity is how serious a diagnostic is
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic describes a problem found while analysing one file
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind" yaml:"kind"`
	Severity Severity       `json:"severity" yaml:"severity"`
	File     string         `json:"file" yaml:"file"`
	Scope    string         `json:"scope,omitempty" yaml:"scope,omitempty"`
	Function string         `json:"function,omitempty" yaml:"function,omitempty"`
	Line     int            `json:"line" yaml:"line"`
	Column   int            `json:"column" yaml:"column"`
	Message  string         `json:"message" yaml:"message"`
}

func (d Diagnostic) String() string {
	where := d.File
	if where == "" {
		where = "<input>"
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", where, d.Line, d.Column, d.Kind, d.Message)
}

// Diagnostics is an ordered list of diagnostics
type Diagnostics []Diagnostic

// HasKind reports whether any diagnostic has the given kind
func (ds Diagnostics) HasKind(kind DiagnosticKind) bool {
	for _, d := range ds {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// OfKind returns the diagnostics with the given kind
func (ds Diagnostics) OfKind(kind DiagnosticKind) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
