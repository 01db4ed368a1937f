package callgraph

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
)

// resolver maps called expressions to symbols using only what the symbol
// table knows statically.
type resolver struct {
	table *symbols.Table
	res   *resolve.Resolution
	src   []byte
}

// callee resolves the function part of a call. A nil symbol comes with the
// reason the call stays unresolved.
func (r *resolver) callee(fn *sitter.Node) (*symbols.Symbol, Reason) {
	fn = syntax.Unparen(fn)
	if fn == nil {
		return nil, ReasonDynamic
	}
	switch fn.Type() {
	case "identifier":
		return r.name(fn)
	case "attribute":
		return r.attribute(fn)
	}
	return nil, ReasonDynamic
}

// name resolves f() through the reference the resolver created for f
func (r *resolver) name(n *sitter.Node) (*symbols.Symbol, Reason) {
	ref, ok := r.res.At(n)
	if !ok {
		return nil, ReasonUndefined
	}
	switch ref.Tier {
	case resolve.TierBuiltin:
		return nil, ReasonBuiltin
	case resolve.TierUnresolved:
		return nil, ReasonUndefined
	}
	sym := r.table.Symbol(ref.Symbol)
	if sym == nil {
		return nil, ReasonUndefined
	}
	switch sym.Kind {
	case symbols.KindFunction, symbols.KindClass:
		return sym, ""
	case symbols.KindImport:
		return nil, ReasonImported
	}
	return nil, ReasonDynamic
}

// attribute resolves obj.m() when the class of obj is known: obj is the
// self or cls parameter of a method, a class name, or a variable with a
// class annotation or a single constructor assignment.
func (r *resolver) attribute(n *sitter.Node) (*symbols.Symbol, Reason) {
	obj := syntax.Unparen(n.ChildByFieldName("object"))
	attr := n.ChildByFieldName("attribute")
	if obj == nil || attr == nil || obj.Type() != "identifier" {
		return nil, ReasonDynamic
	}
	ref, ok := r.res.At(obj)
	if !ok {
		return nil, ReasonDynamic
	}
	switch ref.Tier {
	case resolve.TierBuiltin:
		return nil, ReasonBuiltin
	case resolve.TierUnresolved:
		return nil, ReasonUndefined
	}
	sym := r.table.Symbol(ref.Symbol)
	if sym == nil {
		return nil, ReasonDynamic
	}

	var class *symbols.Symbol
	switch sym.Kind {
	case symbols.KindImport:
		return nil, ReasonImported
	case symbols.KindClass:
		class = sym
	case symbols.KindParameter, symbols.KindVariable:
		if c, ok := r.receiverClass(sym); ok {
			class = c
		} else if c, ok := r.declaredClass(sym); ok {
			class = c
		}
	}
	if class == nil {
		return nil, ReasonDynamic
	}

	member, ok := r.member(class, syntax.Text(attr, r.src), make(map[symbols.SymbolID]bool))
	if !ok {
		return nil, ReasonUnknownMember
	}
	if !member.IsCallable() {
		return nil, ReasonDynamic
	}
	return member, ""
}

// receiverClass returns the class of a method when sym is the method's
// first parameter, also when read from a closure inside the method. Static
// methods have no receiver.
func (r *resolver) receiverClass(sym *symbols.Symbol) (*symbols.Symbol, bool) {
	if sym.Kind != symbols.KindParameter {
		return nil, false
	}
	fs := r.table.Scope(sym.Scope)
	if fs == nil || fs.Kind != symbols.ScopeFunction {
		return nil, false
	}
	method := r.table.Symbol(fs.Owner)
	if method == nil || method.IsStaticMethod || method.Node == nil {
		return nil, false
	}
	params := syntax.Params(method.Node.ChildByFieldName("parameters"))
	if len(params) == 0 || params[0].Star || params[0].DoubleStar {
		return nil, false
	}
	if syntax.Text(params[0].Name, r.src) != sym.Name {
		return nil, false
	}
	return r.table.EnclosingClass(fs.ID)
}

// declaredClass returns the class a variable statically holds: its
// annotation names a class, or its only binding is a call to a class.
func (r *resolver) declaredClass(sym *symbols.Symbol) (*symbols.Symbol, bool) {
	if sym.Annotation != "" {
		return r.classNamed(sym.Scope, sym.Annotation)
	}
	var value *sitter.Node
	writes := 0
	for _, ref := range r.res.OfSymbol(sym.ID) {
		if !ref.Mode.Writes() {
			continue
		}
		writes++
		if ref.Mode == resolve.ModeWrite && ref.Context == resolve.CtxAssign {
			value = ref.Value
		}
	}
	if writes != 1 || value == nil {
		return nil, false
	}
	value = syntax.Unparen(value)
	if value.Type() != "call" {
		return nil, false
	}
	fn := syntax.Unparen(value.ChildByFieldName("function"))
	if fn == nil || fn.Type() != "identifier" {
		return nil, false
	}
	ref, ok := r.res.At(fn)
	if !ok {
		return nil, false
	}
	class := r.table.Symbol(ref.Symbol)
	if class == nil || class.Kind != symbols.KindClass {
		return nil, false
	}
	return class, true
}

// classNamed looks a plain class name up from a scope outwards, skipping
// class bodies other than the starting one.
func (r *resolver) classNamed(from symbols.ScopeID, name string) (*symbols.Symbol, bool) {
	for s := r.table.Scope(from); s != nil; s = r.table.Scope(s.Parent) {
		if s.Kind == symbols.ScopeClass && s.ID != from {
			continue
		}
		id, ok := s.Lookup(name)
		if !ok {
			continue
		}
		sym := r.table.Symbol(id)
		if sym != nil && sym.Kind == symbols.KindClass {
			return sym, true
		}
		return nil, false
	}
	return nil, false
}

// member finds name in a class body or, depth first in declaration order,
// in the bodies of base classes defined in the same module.
func (r *resolver) member(class *symbols.Symbol, name string, seen map[symbols.SymbolID]bool) (*symbols.Symbol, bool) {
	if seen[class.ID] {
		return nil, false
	}
	seen[class.ID] = true
	if sym, ok := r.table.Members(class, name); ok {
		return sym, true
	}
	for _, base := range class.Bases {
		parent, ok := r.classNamed(class.Scope, base)
		if !ok {
			continue
		}
		if sym, ok := r.member(parent, name, seen); ok {
			return sym, true
		}
	}
	return nil, false
}
