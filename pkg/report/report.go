// Package report flattens an analysis bundle into a self-contained view
// whose fields name symbols by qualified name and positions by line, and
// encodes it as text, JSON, YAML or MessagePack.
package report

import (
	"fmt"
	"sort"

	"github.com/l3aro/pystruct/pkg/callgraph"
	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/dfg"
	"github.com/l3aro/pystruct/pkg/engine"
	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/types"
)

// Options controls how much of a bundle goes into a report
type Options struct {
	// MaxPaths caps the entry to exit paths listed per function, 0 lists none
	MaxPaths int
	// IncludeUnreachable keeps blocks no path from the entry reaches
	IncludeUnreachable bool
}

// Report is the serializable view of one analysed module
type Report struct {
	File        string             `json:"file" yaml:"file"`
	Module      string             `json:"module" yaml:"module"`
	Digest      string             `json:"digest" yaml:"digest"`
	Stopped     bool               `json:"stopped,omitempty" yaml:"stopped,omitempty"`
	Scopes      []Scope            `json:"scopes" yaml:"scopes"`
	Symbols     []Symbol           `json:"symbols" yaml:"symbols"`
	Unresolved  []Reference        `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Functions   []Function         `json:"functions" yaml:"functions"`
	Calls       CallGraph          `json:"calls" yaml:"calls"`
	Diagnostics []types.Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Scope is one lexical scope
type Scope struct {
	Name      string   `json:"name" yaml:"name"`
	Kind      string   `json:"kind" yaml:"kind"`
	Parent    string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Line      int      `json:"line" yaml:"line"`
	Locals    []string `json:"locals,omitempty" yaml:"locals,omitempty"`
	Globals   []string `json:"globals,omitempty" yaml:"globals,omitempty"`
	Nonlocals []string `json:"nonlocals,omitempty" yaml:"nonlocals,omitempty"`
	Free      []string `json:"free,omitempty" yaml:"free,omitempty"`
	Cell      []string `json:"cell,omitempty" yaml:"cell,omitempty"`
	Truncated bool     `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

// Symbol is one declared name
type Symbol struct {
	Name       string   `json:"name" yaml:"name"`
	Qualified  string   `json:"qualified_name" yaml:"qualified_name"`
	Kind       string   `json:"kind" yaml:"kind"`
	Scope      string   `json:"scope" yaml:"scope"`
	Line       int      `json:"line" yaml:"line"`
	Column     int      `json:"column" yaml:"column"`
	Docstring  string   `json:"docstring,omitempty" yaml:"docstring,omitempty"`
	Decorators []string `json:"decorators,omitempty" yaml:"decorators,omitempty"`
	Bases      []string `json:"bases,omitempty" yaml:"bases,omitempty"`
	Annotation string   `json:"annotation,omitempty" yaml:"annotation,omitempty"`
	ImportPath string   `json:"import_path,omitempty" yaml:"import_path,omitempty"`
	Async      bool     `json:"async,omitempty" yaml:"async,omitempty"`
}

// Reference is a name occurrence that resolved to nothing
type Reference struct {
	Name   string `json:"name" yaml:"name"`
	Scope  string `json:"scope" yaml:"scope"`
	Mode   string `json:"mode" yaml:"mode"`
	Line   int    `json:"line" yaml:"line"`
	Column int    `json:"column" yaml:"column"`
}

// Function holds the control and data flow facts of one def
type Function struct {
	Name        string       `json:"name" yaml:"name"`
	Line        int          `json:"line" yaml:"line"`
	Failed      bool         `json:"failed,omitempty" yaml:"failed,omitempty"`
	Complexity  int          `json:"complexity" yaml:"complexity"`
	Blocks      []Block      `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Edges       []cfg.Edge   `json:"edges,omitempty" yaml:"edges,omitempty"`
	Loops       []cfg.Loop   `json:"loops,omitempty" yaml:"loops,omitempty"`
	Definitions []Definition `json:"definitions,omitempty" yaml:"definitions,omitempty"`
	Paths       [][]int      `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// Block is one basic block with the facts holding at its boundaries
type Block struct {
	ID          int      `json:"id" yaml:"id"`
	Type        string   `json:"type" yaml:"type"`
	StartLine   int      `json:"start_line" yaml:"start_line"`
	EndLine     int      `json:"end_line" yaml:"end_line"`
	Succs       []int    `json:"successors,omitempty" yaml:"successors,omitempty"`
	IDom        *int     `json:"idom,omitempty" yaml:"idom,omitempty"`
	Unreachable bool     `json:"unreachable,omitempty" yaml:"unreachable,omitempty"`
	ReachingIn  []string `json:"reaching_in,omitempty" yaml:"reaching_in,omitempty"`
	LiveIn      []string `json:"live_in,omitempty" yaml:"live_in,omitempty"`
	LiveOut     []string `json:"live_out,omitempty" yaml:"live_out,omitempty"`
}

// Definition is one assignment of a local variable with the reads it reaches
type Definition struct {
	Name     string `json:"name" yaml:"name"`
	Line     int    `json:"line" yaml:"line"`
	Column   int    `json:"column" yaml:"column"`
	Block    int    `json:"block" yaml:"block"`
	Param    bool   `json:"param,omitempty" yaml:"param,omitempty"`
	Dead     bool   `json:"dead,omitempty" yaml:"dead,omitempty"`
	Constant string `json:"constant,omitempty" yaml:"constant,omitempty"`
	Uses     []int  `json:"uses,omitempty" yaml:"uses,omitempty"`
}

// CallGraph lists the call sites and the classification of the callables
type CallGraph struct {
	Sites       []CallSite `json:"sites" yaml:"sites"`
	EntryPoints []string   `json:"entry_points" yaml:"entry_points"`
	Leaves      []string   `json:"leaves" yaml:"leaves"`
	Recursive   []string   `json:"recursive,omitempty" yaml:"recursive,omitempty"`
	Cycles      [][]string `json:"cycles,omitempty" yaml:"cycles,omitempty"`
}

// CallSite is one call expression
type CallSite struct {
	Caller      string `json:"caller" yaml:"caller"`
	Callee      string `json:"callee" yaml:"callee"`
	Target      string `json:"target,omitempty" yaml:"target,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Line        int    `json:"line" yaml:"line"`
	Column      int    `json:"column" yaml:"column"`
	Constructor bool   `json:"constructor,omitempty" yaml:"constructor,omitempty"`
	StarArgs    bool   `json:"star_args,omitempty" yaml:"star_args,omitempty"`
	KwArgs      bool   `json:"kw_args,omitempty" yaml:"kw_args,omitempty"`
}

// New builds the report of a bundle
func New(b *engine.Bundle, opts Options) *Report {
	r := &Report{
		File:        b.File,
		Module:      b.Module,
		Digest:      fmt.Sprintf("%016x", b.Digest),
		Stopped:     b.Stopped,
		Diagnostics: b.Diagnostics,
	}
	if b.Table == nil {
		return r
	}
	r.addScopes(b.Table)
	r.addSymbols(b.Table)
	if b.Resolution != nil {
		r.addUnresolved(b.Table, b.Resolution)
	}
	for _, id := range b.Functions {
		r.Functions = append(r.Functions, function(b, id, opts))
	}
	if b.CallGraph != nil {
		r.Calls = calls(b.Table, b.CallGraph)
	}
	return r
}

// Function returns the report entry of a def by qualified name
func (r *Report) Function(name string) (Function, bool) {
	for _, f := range r.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

func (r *Report) addScopes(t *symbols.Table) {
	for _, s := range t.Scopes {
		sc := Scope{
			Name:      s.QualifiedName,
			Kind:      string(s.Kind),
			Line:      s.Span.Start.Line,
			Locals:    s.Locals,
			Globals:   keys(s.Globals),
			Nonlocals: keys(s.Nonlocals),
			Free:      keys(s.Free),
			Cell:      keys(s.Cell),
			Truncated: s.Truncated,
		}
		if p := t.Scope(s.Parent); p != nil {
			sc.Parent = p.QualifiedName
		}
		r.Scopes = append(r.Scopes, sc)
	}
}

func keys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Report) addSymbols(t *symbols.Table) {
	for _, s := range t.Symbols {
		sym := Symbol{
			Name:       s.Name,
			Qualified:  s.QualifiedName,
			Kind:       string(s.Kind),
			Line:       s.Span.Start.Line,
			Column:     s.Span.Start.Column,
			Docstring:  s.Docstring,
			Decorators: s.Decorators,
			Bases:      s.Bases,
			Annotation: s.Annotation,
			ImportPath: s.ImportPath,
			Async:      s.IsAsync,
		}
		if sc := t.Scope(s.Scope); sc != nil {
			sym.Scope = sc.QualifiedName
		}
		r.Symbols = append(r.Symbols, sym)
	}
}

func (r *Report) addUnresolved(t *symbols.Table, res *resolve.Resolution) {
	for _, ref := range res.Unresolved() {
		u := Reference{
			Name:   ref.Name,
			Mode:   string(ref.Mode),
			Line:   ref.Span.Start.Line,
			Column: ref.Span.Start.Column,
		}
		if sc := t.Scope(ref.Scope); sc != nil {
			u.Scope = sc.QualifiedName
		}
		r.Unresolved = append(r.Unresolved, u)
	}
}

func function(b *engine.Bundle, id symbols.SymbolID, opts Options) Function {
	sym := b.Table.Symbol(id)
	f := Function{Name: sym.QualifiedName, Line: sym.Span.Start.Line}
	g, ok := b.CFGs[id]
	if !ok {
		f.Failed = true
		return f
	}
	df := b.Dataflow[id]

	f.Complexity = g.CyclomaticComplexity()
	f.Loops = g.Loops
	for _, blk := range g.Blocks {
		reachable := g.Reachable(blk.ID)
		if !reachable && !opts.IncludeUnreachable {
			continue
		}
		f.Blocks = append(f.Blocks, block(g, df, blk, reachable))
	}
	for _, e := range g.Edges {
		if opts.IncludeUnreachable || g.Reachable(e.From) {
			f.Edges = append(f.Edges, e)
		}
	}
	if df != nil {
		f.Definitions = definitions(b.Resolution, df)
	}

	if opts.MaxPaths > 0 {
		for path := range g.Paths() {
			ids := make([]int, len(path))
			for i, p := range path {
				ids[i] = int(p)
			}
			f.Paths = append(f.Paths, ids)
			if len(f.Paths) == opts.MaxPaths {
				break
			}
		}
	}
	return f
}

func block(g *cfg.Graph, df *dfg.Result, blk *cfg.Block, reachable bool) Block {
	out := Block{
		ID:          int(blk.ID),
		Type:        string(blk.Type),
		StartLine:   blk.StartLine,
		EndLine:     blk.EndLine,
		Unreachable: !reachable,
	}
	for _, s := range blk.Succs {
		out.Succs = append(out.Succs, int(s))
	}
	if d, ok := g.IDom[blk.ID]; ok {
		idom := int(d)
		out.IDom = &idom
	}
	if df == nil {
		return out
	}
	if defs, ok := df.ReachingIn(blk.ID); ok {
		for _, d := range defs {
			out.ReachingIn = append(out.ReachingIn, fmt.Sprintf("%s@%d", d.Name, d.Span.Start.Line))
		}
	}
	out.LiveIn, _ = df.LiveIn(blk.ID)
	out.LiveOut, _ = df.LiveOut(blk.ID)
	return out
}

func definitions(res *resolve.Resolution, df *dfg.Result) []Definition {
	var out []Definition
	for _, d := range df.Defs {
		def := Definition{
			Name:   d.Name,
			Line:   d.Span.Start.Line,
			Column: d.Span.Start.Column,
			Block:  int(d.Block),
			Param:  d.IsParam,
			Dead:   df.IsDead(d.ID),
		}
		if c, ok := df.ConstantOf(d.ID); ok {
			def.Constant = c.String()
		}
		for _, use := range df.DefUse[d.ID] {
			if ref := res.Ref(use); ref != nil {
				def.Uses = append(def.Uses, ref.Span.Start.Line)
			}
		}
		out = append(out, def)
	}
	return out
}

func calls(t *symbols.Table, g *callgraph.Graph) CallGraph {
	name := func(id symbols.SymbolID) string {
		if s := t.Symbol(id); s != nil {
			return s.QualifiedName
		}
		return callgraph.ModuleCaller
	}
	names := func(ids []symbols.SymbolID) []string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, name(id))
		}
		return out
	}

	cg := CallGraph{
		EntryPoints: names(g.EntryPoints),
		Leaves:      names(g.Leaves),
		Recursive:   names(g.Recursive),
	}
	for _, cycle := range g.Cycles {
		cg.Cycles = append(cg.Cycles, names(cycle))
	}
	for _, s := range g.Sites {
		site := CallSite{
			Caller:      s.CallerName,
			Callee:      s.CalleeName,
			Reason:      string(s.Reason),
			Line:        s.Span.Start.Line,
			Column:      s.Span.Start.Column,
			Constructor: s.IsConstructor,
			StarArgs:    s.HasStarArgs,
			KwArgs:      s.HasKwArgs,
		}
		if s.IsResolved() {
			site.Target = name(s.Callee)
		}
		cg.Sites = append(cg.Sites, site)
	}
	return cg
}
