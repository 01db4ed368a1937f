// Package resolve links every name occurrence in a module to the symbol it denotes,
// following Python's local, enclosing, global, builtin lookup order.
package resolve

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
	"github.com/l3aro/pystruct/pkg/types"
)

// RefID is an index into Resolution.Refs
type RefID int

// Mode is how a reference accesses its name
type Mode string

const (
	ModeRead      Mode = "read"
	ModeWrite     Mode = "write"
	ModeDelete    Mode = "delete"
	ModeReadWrite Mode = "read_write" // augmented assignment
)

// Reads reports whether the access observes the current value
func (m Mode) Reads() bool { return m == ModeRead || m == ModeReadWrite }

// Writes reports whether the access stores a new value
func (m Mode) Writes() bool { return m == ModeWrite || m == ModeReadWrite }

// Tier is the lookup level a reference resolved at
type Tier string

const (
	TierLocal      Tier = "local"
	TierEnclosing  Tier = "enclosing"
	TierGlobal     Tier = "global"
	TierBuiltin    Tier = "builtin"
	TierUnresolved Tier = "unresolved"
)

// Context says which construct produced a reference
type Context string

const (
	CtxLoad      Context = "load"
	CtxAssign    Context = "assign"
	CtxAugAssign Context = "aug_assign"
	CtxParam     Context = "param"
	CtxDef       Context = "def"
	CtxImport    Context = "import"
	CtxFor       Context = "for"
	CtxWith      Context = "with"
	CtxExcept    Context = "except"
	CtxWalrus    Context = "walrus"
	CtxPattern   Context = "pattern"
	CtxDelete    Context = "delete"
)

// Reference is one occurrence of a name
type Reference struct {
	ID      RefID            `json:"id"`
	Name    string           `json:"name"`
	Mode    Mode             `json:"mode"`
	Context Context          `json:"context"`
	Symbol  symbols.SymbolID `json:"symbol"`
	Scope   symbols.ScopeID  `json:"scope"`
	Tier    Tier             `json:"tier"`
	Span    types.Span       `json:"span"`

	Node *sitter.Node `json:"-"`
	// Value is the expression whose result a plain-name write stores. For an
	// augmented assignment it is the whole statement. Nil when the stored
	// value is not a single expression (unpacking, loop targets, imports).
	Value *sitter.Node `json:"-"`
}

// Resolved reports whether the reference is bound to a symbol
func (r *Reference) Resolved() bool {
	return r.Symbol != symbols.NoSymbol
}

// Call is a call expression together with where it appears
type Call struct {
	Node  *sitter.Node
	Scope symbols.ScopeID
	// Caller is the def whose body contains the call, NoSymbol at module or class level
	Caller symbols.SymbolID
}

// Resolution is the result of resolving one module
type Resolution struct {
	Refs        []*Reference      `json:"refs"`
	Calls       []Call            `json:"-"`
	Diagnostics types.Diagnostics `json:"diagnostics,omitempty"`

	byNode   map[syntax.NodeKey]RefID
	bySymbol map[symbols.SymbolID][]RefID
	byScope  map[symbols.ScopeID][]RefID
}

// At returns the reference created for an identifier node
func (r *Resolution) At(n *sitter.Node) (*Reference, bool) {
	id, ok := r.byNode[syntax.Key(n)]
	if !ok {
		return nil, false
	}
	return r.Refs[id], true
}

// Ref returns the reference with the given handle
func (r *Resolution) Ref(id RefID) *Reference {
	if id < 0 || int(id) >= len(r.Refs) {
		return nil
	}
	return r.Refs[id]
}

// OfSymbol returns the references bound to a symbol in source order
func (r *Resolution) OfSymbol(id symbols.SymbolID) []*Reference {
	return r.collect(r.bySymbol[id])
}

// InScope returns the references occurring directly in a scope
func (r *Resolution) InScope(id symbols.ScopeID) []*Reference {
	return r.collect(r.byScope[id])
}

// Unresolved returns every reference that bound to no symbol and is not a builtin
func (r *Resolution) Unresolved() []*Reference {
	var out []*Reference
	for _, ref := range r.Refs {
		if ref.Tier == TierUnresolved {
			out = append(out, ref)
		}
	}
	return out
}

func (r *Resolution) collect(ids []RefID) []*Reference {
	out := make([]*Reference, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.Refs[id])
	}
	return out
}
