// Package engine runs the whole structure analysis of one Python module:
// symbol table, name resolution, one CFG and one dataflow result per
// function, and the call graph. Every invocation owns its results; nothing
// is shared between calls, so independent modules may be analysed
// concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cespare/xxhash/v2"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/internal/log"
	"github.com/l3aro/pystruct/pkg/callgraph"
	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/dfg"
	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
	"github.com/l3aro/pystruct/pkg/types"
)

// Bundle is the result of analysing one module. It is not modified after
// Analyze returns.
type Bundle struct {
	File   string `json:"file"`
	Module string `json:"module"`
	// Digest is the xxhash64 of the source text
	Digest uint64 `json:"digest"`

	Table      *symbols.Table      `json:"symbols"`
	Resolution *resolve.Resolution `json:"resolution"`
	// Functions lists the analysed defs in declaration order
	Functions []symbols.SymbolID               `json:"functions"`
	CFGs      map[symbols.SymbolID]*cfg.Graph  `json:"cfgs"`
	Dataflow  map[symbols.SymbolID]*dfg.Result `json:"dataflow"`
	CallGraph *callgraph.Graph                 `json:"call_graph"`

	Diagnostics types.Diagnostics `json:"diagnostics,omitempty"`
	// Stopped is set when a malformed region cut part of the module short
	Stopped bool `json:"stopped,omitempty"`

	Elapsed time.Duration `json:"-"`
}

// Function looks a def up by qualified, module-relative or unambiguous bare
// name and returns its graph and dataflow facts.
func (b *Bundle) Function(name string) (*symbols.Symbol, *cfg.Graph, *dfg.Result, bool) {
	if b.Table == nil {
		return nil, nil, nil, false
	}
	sym, ok := b.Table.FindFunction(name)
	if !ok {
		return nil, nil, nil, false
	}
	g, ok := b.CFGs[sym.ID]
	if !ok {
		return sym, nil, nil, false
	}
	return sym, g, b.Dataflow[sym.ID], true
}

// Failed reports whether the analysis of a def was aborted by an internal error
func (b *Bundle) Failed(id symbols.SymbolID) bool {
	_, ok := b.CFGs[id]
	return !ok
}

// Analyze runs every stage over an already parsed tree. The tree must stay
// open while the bundle is in use. It never panics: a
// failure inside one function's CFG or dataflow becomes an internal
// diagnostic and the other functions are still analysed.
func Analyze(tree *sitter.Tree, src []byte, fileID string, opts ...Option) *Bundle {
	o := newOptions(opts)
	start := time.Now()

	module := o.module
	if module == "" {
		module = symbols.ModuleName(fileID)
	}
	b := &Bundle{
		File:     fileID,
		Module:   module,
		Digest:   xxhash.Sum64(src),
		CFGs:     make(map[symbols.SymbolID]*cfg.Graph),
		Dataflow: make(map[symbols.SymbolID]*dfg.Result),
	}

	var root *sitter.Node
	if tree != nil {
		root = tree.RootNode()
	}
	if root == nil {
		b.Diagnostics = append(b.Diagnostics, types.Diagnostic{
			Kind:     types.DiagInput,
			Severity: types.SeverityError,
			File:     fileID,
			Line:     1,
			Message:  syntax.ErrNilTree.Error(),
		})
		b.Stopped = true
		o.logger.Warn("no syntax tree", "file", fileID)
		return b
	}

	b.Table = symbols.Build(root, src, fileID, module)
	b.Diagnostics = append(b.Diagnostics, b.Table.Diagnostics...)
	b.Resolution = resolve.Resolve(b.Table, root, src, syntax.NewBuiltins(o.builtins...))
	b.Diagnostics = append(b.Diagnostics, b.Resolution.Diagnostics...)
	o.logger.Debug("resolved names", "file", fileID,
		"symbols", len(b.Table.Symbols), "scopes", len(b.Table.Scopes), "refs", len(b.Resolution.Refs))

	for _, fn := range b.Table.Functions() {
		b.Functions = append(b.Functions, fn.ID)
		b.guard(o.logger, fn, func() error {
			return b.analyzeFunction(fn, src)
		})
	}

	cg, err := callgraph.Build(b.Table, b.Resolution, src)
	if err != nil {
		b.internal(nil, err)
	}
	b.CallGraph = cg

	b.Stopped = b.Diagnostics.HasKind(types.DiagInput)
	b.Elapsed = time.Since(start)
	o.logger.Debug("analyzed module", "file", fileID, "module", module,
		"functions", len(b.Functions), "diagnostics", len(b.Diagnostics), "elapsed", b.Elapsed)
	return b
}

// AnalyzeSource parses src and analyses the resulting tree. The bundle keeps
// syntax nodes of the tree, so the tree is left to the garbage collector
// rather than closed here.
func AnalyzeSource(ctx context.Context, src []byte, fileID string, opts ...Option) (*Bundle, error) {
	tree, err := syntax.Parse(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", fileID, err)
	}
	return Analyze(tree, src, fileID, opts...), nil
}

// analyzeFunction builds the CFG then runs the dataflow analyses. Results
// are only stored once both succeeded.
func (b *Bundle) analyzeFunction(fn *symbols.Symbol, src []byte) error {
	g, err := cfg.Build(b.Table, fn, src)
	if err != nil {
		return err
	}
	result, err := dfg.Analyze(g, b.Table, b.Resolution, src)
	if err != nil {
		return err
	}
	b.CFGs[fn.ID] = g
	b.Dataflow[fn.ID] = result
	return nil
}

// guard runs one function's analysis and turns an error or a panic into an
// internal diagnostic for that function.
func (b *Bundle) guard(logger log.Logger, fn *symbols.Symbol, step func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("function analysis panicked", "function", fn.QualifiedName,
				"panic", r, "stack", string(debug.Stack()))
			b.internal(fn, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := step(); err != nil {
		logger.Warn("function analysis failed", "function", fn.QualifiedName, "error", err)
		b.internal(fn, err)
	}
}

func (b *Bundle) internal(fn *symbols.Symbol, err error) {
	d := types.Diagnostic{
		Kind:     types.DiagInternal,
		Severity: types.SeverityError,
		File:     b.File,
		Line:     1,
		Message:  err.Error(),
	}
	if fn != nil {
		d.Function = fn.QualifiedName
		d.Scope = fn.QualifiedName
		d.Line = fn.Span.Start.Line
		d.Column = fn.Span.Start.Column
		if errors.Is(err, cfg.ErrNoConvergence) {
			d.Message = fmt.Sprintf("dominators of %s did not converge: %v", fn.QualifiedName, err)
		}
		delete(b.CFGs, fn.ID)
		delete(b.Dataflow, fn.ID)
	}
	b.Diagnostics = append(b.Diagnostics, d)
}
