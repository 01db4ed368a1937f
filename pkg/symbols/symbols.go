// Package symbols builds the lexical scope tree and symbol table of one Python module.
//
// The table is an arena: symbols and scopes live in slices owned by Table and refer
// to each other through SymbolID and ScopeID handles.
package symbols

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/syntax"
	"github.com/l3aro/pystruct/pkg/types"
)

// SymbolID is an index into Table.Symbols
type SymbolID int

// ScopeID is an index into Table.Scopes
type ScopeID int

const (
	NoSymbol SymbolID = -1
	NoScope  ScopeID  = -1
)

// SymbolKind represents what a name is bound to
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindClass     SymbolKind = "class"
	KindVariable  SymbolKind = "variable"
	KindImport    SymbolKind = "import"
	KindParameter SymbolKind = "parameter"
)

// ScopeKind represents the construct that introduced a scope
type ScopeKind string

const (
	ScopeModule        ScopeKind = "module"
	ScopeClass         ScopeKind = "class"
	ScopeFunction      ScopeKind = "function"
	ScopeComprehension ScopeKind = "comprehension"
	ScopeLambda        ScopeKind = "lambda"
)

// Symbol is a named entity declared in a scope
type Symbol struct {
	ID            SymbolID   `json:"id"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualified_name"`
	Kind          SymbolKind `json:"kind"`
	Span          types.Span `json:"span"`
	Scope         ScopeID    `json:"scope"`
	// Body is the scope introduced by a def or class, NoScope otherwise
	Body           ScopeID  `json:"body"`
	Docstring      string   `json:"docstring,omitempty"`
	Decorators     []string `json:"decorators,omitempty"`
	Bases          []string `json:"bases,omitempty"`
	Annotation     string   `json:"annotation,omitempty"`
	ImportPath     string   `json:"import_path,omitempty"`
	IsAsync        bool     `json:"is_async,omitempty"`
	IsStaticMethod bool     `json:"is_static_method,omitempty"`
	IsClassMethod  bool     `json:"is_class_method,omitempty"`

	Node *sitter.Node `json:"-"`
}

// IsCallable reports whether the symbol is a def or class
func (s *Symbol) IsCallable() bool {
	return s.Kind == KindFunction || s.Kind == KindClass
}

// Scope is a region of code with its own name bindings
type Scope struct {
	ID            ScopeID   `json:"id"`
	Kind          ScopeKind `json:"kind"`
	Name          string    `json:"name"`
	QualifiedName string    `json:"qualified_name"`
	Parent        ScopeID   `json:"parent"`
	Children      []ScopeID `json:"children,omitempty"`
	// Owner is the def or class symbol whose body this is
	Owner SymbolID `json:"owner"`
	// Locals lists bound names in first-binding order
	Locals   []string            `json:"locals,omitempty"`
	Bindings map[string]SymbolID `json:"-"`

	Globals   map[string]bool `json:"-"`
	Nonlocals map[string]bool `json:"-"`
	// Free and Cell are filled in by the resolver
	Free map[string]bool `json:"-"`
	Cell map[string]bool `json:"-"`

	// Truncated is set when a malformed statement stopped the walk of this
	// body; statements starting at or after StopByte are not analysed.
	Truncated bool   `json:"truncated,omitempty"`
	StopByte  uint32 `json:"-"`

	Diagnostics types.Diagnostics `json:"diagnostics,omitempty"`
	Span        types.Span        `json:"span"`
	Node        *sitter.Node      `json:"-"`
}

// Lookup returns the symbol bound to name directly in this scope
func (s *Scope) Lookup(name string) (SymbolID, bool) {
	id, ok := s.Bindings[name]
	return id, ok
}

// Binds reports whether name is bound directly in this scope
func (s *Scope) Binds(name string) bool {
	_, ok := s.Bindings[name]
	return ok
}

// IsFunctionLike reports scopes that can hold closure cells
func (s *Scope) IsFunctionLike() bool {
	switch s.Kind {
	case ScopeFunction, ScopeLambda, ScopeComprehension:
		return true
	}
	return false
}

// Skips reports whether a statement starting at byte offset start lies past
// the point where a malformed statement stopped this scope's walk.
func (s *Scope) Skips(start uint32) bool {
	return s.Truncated && start >= s.StopByte
}

func (s *Scope) bind(name string, id SymbolID) {
	if _, ok := s.Bindings[name]; !ok {
		s.Locals = append(s.Locals, name)
	}
	s.Bindings[name] = id
}

// Table is the symbol table of one module
type Table struct {
	File        string            `json:"file"`
	Module      string            `json:"module"`
	Symbols     []*Symbol         `json:"symbols"`
	Scopes      []*Scope          `json:"scopes"`
	Diagnostics types.Diagnostics `json:"diagnostics,omitempty"`

	byNode  map[syntax.NodeKey]ScopeID
	byQName map[string]SymbolID
}

func newTable(file, module string) *Table {
	return &Table{
		File:    file,
		Module:  module,
		byNode:  make(map[syntax.NodeKey]ScopeID),
		byQName: make(map[string]SymbolID),
	}
}

// Symbol returns the symbol with the given handle, or nil
func (t *Table) Symbol(id SymbolID) *Symbol {
	if id < 0 || int(id) >= len(t.Symbols) {
		return nil
	}
	return t.Symbols[id]
}

// Scope returns the scope with the given handle, or nil
func (t *Table) Scope(id ScopeID) *Scope {
	if id < 0 || int(id) >= len(t.Scopes) {
		return nil
	}
	return t.Scopes[id]
}

// ModuleScope returns the root scope
func (t *Table) ModuleScope() *Scope {
	return t.Scopes[0]
}

// ScopeFor returns the scope introduced by a def, class, lambda or comprehension node
func (t *Table) ScopeFor(n *sitter.Node) (ScopeID, bool) {
	id, ok := t.byNode[syntax.Key(n)]
	return id, ok
}

// ByQualifiedName finds a symbol by its qualified name
func (t *Table) ByQualifiedName(qname string) (*Symbol, bool) {
	id, ok := t.byQName[qname]
	if !ok {
		return nil, false
	}
	return t.Symbols[id], true
}

// Functions returns every def symbol in declaration order
func (t *Table) Functions() []*Symbol {
	var out []*Symbol
	for _, sym := range t.Symbols {
		if sym.Kind == KindFunction && sym.Body != NoScope {
			out = append(out, sym)
		}
	}
	return out
}

// Callables returns every def and class symbol in declaration order
func (t *Table) Callables() []*Symbol {
	var out []*Symbol
	for _, sym := range t.Symbols {
		if sym.IsCallable() && sym.Body != NoScope {
			out = append(out, sym)
		}
	}
	return out
}

// FindFunction resolves a user supplied function name: a qualified name, a
// name relative to the module, or a bare name if it is unambiguous.
func (t *Table) FindFunction(name string) (*Symbol, bool) {
	if sym, ok := t.byQName[name]; ok && t.Symbols[sym].IsCallable() {
		return t.Symbols[sym], true
	}
	if sym, ok := t.byQName[t.Module+"."+name]; ok && t.Symbols[sym].IsCallable() {
		return t.Symbols[sym], true
	}
	var found *Symbol
	for _, sym := range t.Functions() {
		if sym.Name != name {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = sym
	}
	return found, found != nil
}

// EnclosingFunction returns the nearest def scope at or above id, or NoScope
// when the code runs at module or class level.
func (t *Table) EnclosingFunction(id ScopeID) ScopeID {
	for s := t.Scope(id); s != nil; s = t.Scope(s.Parent) {
		switch s.Kind {
		case ScopeFunction:
			return s.ID
		case ScopeClass, ScopeModule:
			return NoScope
		}
	}
	return NoScope
}

// EnclosingClass returns the class whose body directly contains the def scope id
func (t *Table) EnclosingClass(id ScopeID) (*Symbol, bool) {
	s := t.Scope(id)
	if s == nil || s.Kind != ScopeFunction {
		return nil, false
	}
	parent := t.Scope(s.Parent)
	if parent == nil || parent.Kind != ScopeClass {
		return nil, false
	}
	owner := t.Symbol(parent.Owner)
	return owner, owner != nil
}

// Members returns the symbol bound to name in a class body
func (t *Table) Members(class *Symbol, name string) (*Symbol, bool) {
	body := t.Scope(class.Body)
	if body == nil {
		return nil, false
	}
	id, ok := body.Lookup(name)
	if !ok {
		return nil, false
	}
	return t.Symbols[id], true
}

// ModuleName derives a dotted module name from a file identifier:
// "pkg/mod.py" becomes "pkg.mod" and a trailing __init__ is dropped.
func ModuleName(fileID string) string {
	p := strings.ReplaceAll(fileID, "\\", "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	p = strings.TrimSuffix(p, ".pyi")
	p = strings.TrimSuffix(p, ".py")
	p = strings.TrimSuffix(p, "/__init__")
	if p == "" || p == "." || p == "__init__" {
		return "__main__"
	}
	return strings.ReplaceAll(p, "/", ".")
}
