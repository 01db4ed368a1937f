package resolve

import (
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
	"github.com/l3aro/pystruct/pkg/types"
)

type resolver struct {
	src      []byte
	table    *symbols.Table
	builtins *syntax.Builtins
	res      *Resolution
	// badDecl holds global/nonlocal declarations that failed validation, by scope
	badDecl map[symbols.ScopeID]map[string]bool
	halted  bool
}

// Resolve walks the module tree again with the finished symbol table and
// produces a reference for every name occurrence. Free and cell sets of the
// table's scopes are filled in as a side effect.
func Resolve(table *symbols.Table, root *sitter.Node, src []byte, builtins *syntax.Builtins) *Resolution {
	if builtins == nil {
		builtins = syntax.NewBuiltins()
	}
	r := &resolver{
		src:      src,
		table:    table,
		builtins: builtins,
		res: &Resolution{
			byNode:   make(map[syntax.NodeKey]RefID),
			bySymbol: make(map[symbols.SymbolID][]RefID),
			byScope:  make(map[symbols.ScopeID][]RefID),
		},
		badDecl: make(map[symbols.ScopeID]map[string]bool),
	}
	r.checkDeclarations()
	if root != nil {
		r.walkBlock(root, table.ModuleScope())
	}
	return r.res
}

func (r *resolver) scope(id symbols.ScopeID) *symbols.Scope {
	return r.table.Scope(id)
}

func (r *resolver) scopeError(s *symbols.Scope, name, format string, args ...interface{}) {
	if r.badDecl[s.ID] == nil {
		r.badDecl[s.ID] = make(map[string]bool)
	}
	r.badDecl[s.ID][name] = true

	pos := types.Position{Line: s.Span.Start.Line, Column: s.Span.Start.Column}
	d := types.Diagnostic{
		Kind:     types.DiagScopeConfig,
		Severity: types.SeverityError,
		File:     r.table.File,
		Scope:    s.QualifiedName,
		Line:     pos.Line,
		Column:   pos.Column,
		Message:  fmt.Sprintf(format, args...),
	}
	if s.Kind == symbols.ScopeFunction {
		d.Function = s.QualifiedName
	}
	s.Diagnostics = append(s.Diagnostics, d)
	r.res.Diagnostics = append(r.res.Diagnostics, d)
}

// checkDeclarations validates every global and nonlocal statement up front
func (r *resolver) checkDeclarations() {
	mod := r.table.ModuleScope()
	for _, s := range r.table.Scopes {
		for _, name := range sortedKeys(s.Globals) {
			if s.Kind == symbols.ScopeModule {
				continue
			}
			if !mod.Binds(name) {
				r.scopeError(s, name, "global %q has no module-level binding", name)
			}
			if id, ok := s.Lookup(name); ok && r.table.Symbols[id].Kind == symbols.KindParameter {
				r.scopeError(s, name, "name %q is a parameter and declared global", name)
			}
		}
		for _, name := range sortedKeys(s.Nonlocals) {
			if s.Kind == symbols.ScopeModule {
				r.scopeError(s, name, "nonlocal %q at module level", name)
				continue
			}
			if binder := r.nonlocalBinder(s, name); binder == nil {
				r.scopeError(s, name, "no binding for nonlocal %q found in an enclosing function", name)
			}
		}
	}
}

// nonlocalBinder finds the enclosing function scope that owns a nonlocal name
func (r *resolver) nonlocalBinder(s *symbols.Scope, name string) *symbols.Scope {
	for p := r.scope(s.Parent); p != nil && p.Kind != symbols.ScopeModule; p = r.scope(p.Parent) {
		if p.Kind == symbols.ScopeClass {
			continue
		}
		if p.Globals[name] {
			return nil
		}
		if p.Nonlocals[name] {
			return r.nonlocalBinder(p, name)
		}
		if p.Binds(name) {
			return p
		}
	}
	return nil
}

func (r *resolver) markFree(from, binder *symbols.Scope, name string) {
	for q := from; q != nil && q.ID != binder.ID; q = r.scope(q.Parent) {
		q.Free[name] = true
	}
	binder.Cell[name] = true
}

// lookup classifies a read of name occurring in s
func (r *resolver) lookup(s *symbols.Scope, name string) (symbols.SymbolID, Tier) {
	mod := r.table.ModuleScope()
	if s.Kind != symbols.ScopeModule && s.Globals[name] {
		return r.global(s, name)
	}
	if s.Nonlocals[name] {
		return r.nonlocal(s, name)
	}
	if id, ok := s.Lookup(name); ok {
		if s.Kind == symbols.ScopeModule {
			return id, TierGlobal
		}
		return id, TierLocal
	}
	for p := r.scope(s.Parent); p != nil && p.Kind != symbols.ScopeModule; p = r.scope(p.Parent) {
		if p.Kind == symbols.ScopeClass {
			continue
		}
		if p.Globals[name] {
			return r.global(p, name)
		}
		if p.Nonlocals[name] {
			binder := r.nonlocalBinder(p, name)
			if binder == nil {
				return symbols.NoSymbol, TierUnresolved
			}
			r.markFree(s, binder, name)
			return binder.Bindings[name], TierEnclosing
		}
		if id, ok := p.Lookup(name); ok {
			r.markFree(s, p, name)
			return id, TierEnclosing
		}
	}
	if id, ok := mod.Lookup(name); ok {
		return id, TierGlobal
	}
	if r.builtins.Has(name) {
		return symbols.NoSymbol, TierBuiltin
	}
	return symbols.NoSymbol, TierUnresolved
}

func (r *resolver) global(s *symbols.Scope, name string) (symbols.SymbolID, Tier) {
	if r.badDecl[s.ID][name] {
		return symbols.NoSymbol, TierUnresolved
	}
	if id, ok := r.table.ModuleScope().Lookup(name); ok {
		return id, TierGlobal
	}
	return symbols.NoSymbol, TierUnresolved
}

func (r *resolver) nonlocal(s *symbols.Scope, name string) (symbols.SymbolID, Tier) {
	if r.badDecl[s.ID][name] {
		return symbols.NoSymbol, TierUnresolved
	}
	binder := r.nonlocalBinder(s, name)
	if binder == nil {
		return symbols.NoSymbol, TierUnresolved
	}
	r.markFree(s, binder, name)
	return binder.Bindings[name], TierEnclosing
}

// bindingOf classifies a write of name occurring in s
func (r *resolver) bindingOf(s *symbols.Scope, name string) (symbols.SymbolID, Tier) {
	if s.Kind != symbols.ScopeModule && s.Globals[name] {
		return r.global(s, name)
	}
	if s.Nonlocals[name] {
		return r.nonlocal(s, name)
	}
	if id, ok := s.Lookup(name); ok {
		if s.Kind == symbols.ScopeModule {
			return id, TierGlobal
		}
		return id, TierLocal
	}
	return symbols.NoSymbol, TierUnresolved
}

func (r *resolver) add(ref *Reference) *Reference {
	ref.ID = RefID(len(r.res.Refs))
	ref.Span = syntax.SpanOf(ref.Node)
	r.res.Refs = append(r.res.Refs, ref)
	r.res.byNode[syntax.Key(ref.Node)] = ref.ID
	r.res.byScope[ref.Scope] = append(r.res.byScope[ref.Scope], ref.ID)
	if ref.Symbol != symbols.NoSymbol {
		r.res.bySymbol[ref.Symbol] = append(r.res.bySymbol[ref.Symbol], ref.ID)
	}
	return ref
}

func (r *resolver) read(n *sitter.Node, s *symbols.Scope) {
	name := syntax.Text(n, r.src)
	sym, tier := r.lookup(s, name)
	r.add(&Reference{Name: name, Mode: ModeRead, Context: CtxLoad, Symbol: sym, Scope: s.ID, Tier: tier, Node: n})
}

func (r *resolver) write(n *sitter.Node, s *symbols.Scope, mode Mode, ctx Context, value *sitter.Node) *Reference {
	name := syntax.Text(n, r.src)
	sym, tier := r.bindingOf(s, name)
	return r.add(&Reference{Name: name, Mode: mode, Context: ctx, Symbol: sym, Scope: s.ID, Tier: tier, Node: n, Value: value})
}

// writeSymbol records a write bound to a known symbol, used for def and class names
func (r *resolver) writeSymbol(n *sitter.Node, s *symbols.Scope, sym symbols.SymbolID, ctx Context) {
	tier := TierLocal
	if owner := r.table.Symbol(sym); owner != nil && owner.Scope == 0 {
		tier = TierGlobal
	}
	r.add(&Reference{Name: syntax.Text(n, r.src), Mode: ModeWrite, Context: ctx, Symbol: sym, Scope: s.ID, Tier: tier, Node: n})
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
