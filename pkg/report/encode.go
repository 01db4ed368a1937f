package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Format is an output encoding
type Format string

const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

// Encode writes v in the given format. v is a Report or any part of one;
// the text format only renders whole reports.
func Encode(w io.Writer, v any, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding JSON: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding YAML: %w", err)
		}
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		enc.SetOmitEmpty(true)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding msgpack: %w", err)
		}
	case FormatText, "":
		r, ok := v.(*Report)
		if !ok {
			return fmt.Errorf("text format needs a report, got %T", v)
		}
		return WriteText(w, r)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
	return nil
}

// Decode reads back a report written by Encode in a structured format
func Decode(data []byte, format Format) (*Report, error) {
	r := &Report{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("decoding JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("decoding YAML: %w", err)
		}
	case FormatMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(r); err != nil {
			return nil, fmt.Errorf("decoding msgpack: %w", err)
		}
	default:
		return nil, fmt.Errorf("cannot decode format: %s", format)
	}
	return r, nil
}

// WriteText renders a report for reading in a terminal
func WriteText(w io.Writer, r *Report) error {
	p := &printer{w: w}
	p.printf("=== %s (%s) ===\n", r.File, r.Module)
	p.printf("Digest: %s\n", r.Digest)
	if r.Stopped {
		p.printf("Analysis stopped early: malformed input\n")
	}

	p.printf("\nScopes (%d):\n", len(r.Scopes))
	for _, s := range r.Scopes {
		p.printf("  %s [%s] line %d", s.Name, s.Kind, s.Line)
		if len(s.Locals) > 0 {
			p.printf(" locals: %s", strings.Join(s.Locals, ", "))
		}
		if len(s.Free) > 0 {
			p.printf(" free: %s", strings.Join(s.Free, ", "))
		}
		if len(s.Cell) > 0 {
			p.printf(" cell: %s", strings.Join(s.Cell, ", "))
		}
		p.printf("\n")
	}

	if len(r.Unresolved) > 0 {
		p.printf("\nUnresolved names (%d):\n", len(r.Unresolved))
		for _, u := range r.Unresolved {
			p.printf("  %s in %s at %d:%d\n", u.Name, u.Scope, u.Line, u.Column)
		}
	}

	p.printf("\nFunctions (%d):\n", len(r.Functions))
	for _, f := range r.Functions {
		writeFunction(p, f)
	}

	writeCalls(p, r.Calls)

	if len(r.Diagnostics) > 0 {
		p.printf("\nDiagnostics (%d):\n", len(r.Diagnostics))
		for _, d := range r.Diagnostics {
			p.printf("  %s\n", d)
		}
	}
	return p.err
}

// WriteFunction renders the blocks and dataflow facts of one function
func WriteFunction(w io.Writer, f Function) error {
	p := &printer{w: w}
	writeFunction(p, f)
	return p.err
}

// WriteCalls renders a call graph
func WriteCalls(w io.Writer, cg CallGraph) error {
	p := &printer{w: w}
	writeCalls(p, cg)
	return p.err
}

func writeFunction(p *printer, f Function) {
	if f.Failed {
		p.printf("  %s (line %d): analysis failed\n", f.Name, f.Line)
		return
	}
	p.printf("  %s (line %d) complexity %d, %d blocks, %d loops\n",
		f.Name, f.Line, f.Complexity, len(f.Blocks), len(f.Loops))
	for _, b := range f.Blocks {
		p.printf("    block %d %s lines %d-%d", b.ID, b.Type, b.StartLine, b.EndLine)
		if b.Unreachable {
			p.printf(" unreachable")
		}
		if len(b.Succs) > 0 {
			p.printf(" -> %v", b.Succs)
		}
		if b.IDom != nil {
			p.printf(" idom %d", *b.IDom)
		}
		p.printf("\n")
		if len(b.LiveIn) > 0 || len(b.LiveOut) > 0 {
			p.printf("      live in: [%s] out: [%s]\n", strings.Join(b.LiveIn, ", "), strings.Join(b.LiveOut, ", "))
		}
	}
	for _, d := range f.Definitions {
		p.printf("    def %s line %d", d.Name, d.Line)
		if d.Param {
			p.printf(" param")
		}
		if d.Constant != "" {
			p.printf(" = %s", d.Constant)
		}
		if d.Dead {
			p.printf(" dead")
		}
		if len(d.Uses) > 0 {
			p.printf(" used at %v", d.Uses)
		}
		p.printf("\n")
	}
	for _, path := range f.Paths {
		p.printf("    path %v\n", path)
	}
}

func writeCalls(p *printer, cg CallGraph) {
	p.printf("\nCall sites (%d):\n", len(cg.Sites))
	for _, s := range cg.Sites {
		if s.Target != "" {
			p.printf("  %s -> %s (line %d)\n", s.Caller, s.Target, s.Line)
			continue
		}
		p.printf("  %s -> %s [%s] (line %d)\n", s.Caller, s.Callee, s.Reason, s.Line)
	}
	p.printf("Entry points: %s\n", strings.Join(cg.EntryPoints, ", "))
	p.printf("Leaves: %s\n", strings.Join(cg.Leaves, ", "))
	if len(cg.Recursive) > 0 {
		p.printf("Recursive: %s\n", strings.Join(cg.Recursive, ", "))
	}
	for _, c := range cg.Cycles {
		p.printf("Cycle: %s\n", strings.Join(c, " -> "))
	}
}

// printer keeps the first write error
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
