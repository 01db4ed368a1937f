// Package callgraph links the call expressions of one module to the
// functions and classes they invoke and classifies the resulting graph:
// entry points, leaf functions and recursive call chains.
package callgraph

import (
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
	"github.com/l3aro/pystruct/pkg/types"
)

// ModuleCaller names the synthetic caller of calls made at module or class level
const ModuleCaller = "<module>"

// Status tells whether a call site was linked to a symbol
type Status string

const (
	Resolved   Status = "resolved"
	Unresolved Status = "unresolved"
)

// Reason explains why a call site stayed unresolved
type Reason string

const (
	// ReasonBuiltin is a call to a builtin such as len or getattr
	ReasonBuiltin Reason = "builtin"
	// ReasonImported is a call through a name bound by an import
	ReasonImported Reason = "imported"
	// ReasonUndefined is a call to a name bound nowhere
	ReasonUndefined Reason = "undefined"
	// ReasonUnknownMember is an attribute call on a known class that defines no such member
	ReasonUnknownMember Reason = "unknown_member"
	// ReasonDynamic covers computed callees: subscripts, calls of calls, lambdas,
	// variables and attributes of values of unknown type
	ReasonDynamic Reason = "dynamic"
)

// CallSite is one call expression
type CallSite struct {
	// ID is the index of the site in Graph.Sites
	ID int `json:"id"`
	// Caller is the def whose body holds the call, NoSymbol at module or class level
	Caller     symbols.SymbolID `json:"caller"`
	CallerName string           `json:"caller_name"`
	// CalleeName is the source text of the called expression
	CalleeName string `json:"callee_name"`
	// Callee is the resolved function or class, NoSymbol when unresolved
	Callee symbols.SymbolID `json:"callee"`
	Status Status           `json:"status"`
	Reason Reason           `json:"reason,omitempty"`
	// HasArgs is set when the call passes any argument
	HasArgs     bool `json:"has_args,omitempty"`
	HasStarArgs bool `json:"has_starargs,omitempty"`
	HasKwArgs   bool `json:"has_kwargs,omitempty"`
	// IsConstructor is set when the callee is a class
	IsConstructor bool       `json:"is_constructor,omitempty"`
	Span          types.Span `json:"span"`

	Node *sitter.Node `json:"-"`
}

// IsResolved reports whether the site is linked to a symbol
func (c *CallSite) IsResolved() bool {
	return c.Status == Resolved
}

func (c *CallSite) String() string {
	if c.IsResolved() {
		return fmt.Sprintf("%s -> %s (%s)", c.CallerName, c.CalleeName, c.Span)
	}
	return fmt.Sprintf("%s -> %s [%s] (%s)", c.CallerName, c.CalleeName, c.Reason, c.Span)
}

// Graph is the call graph of one module. Nodes are the functions and
// classes of the symbol table; resolved call sites are its edges.
type Graph struct {
	Nodes []symbols.SymbolID `json:"nodes"`
	Sites []*CallSite        `json:"sites"`
	// EntryPoints are the nodes no resolved call from another function reaches
	EntryPoints []symbols.SymbolID `json:"entry_points"`
	// Leaves are the nodes making no call at all
	Leaves []symbols.SymbolID `json:"leaves"`
	// Recursive are the nodes calling themselves directly or through a cycle
	Recursive []symbols.SymbolID `json:"recursive"`
	// Cycles are the strongly connected components with more than one node
	Cycles [][]symbols.SymbolID `json:"cycles,omitempty"`

	out map[symbols.SymbolID][]*CallSite
	in  map[symbols.SymbolID][]*CallSite
}

// Build extracts and resolves every call recorded by the scope resolver
func Build(table *symbols.Table, res *resolve.Resolution, src []byte) (*Graph, error) {
	if table == nil || res == nil {
		return nil, fmt.Errorf("call graph: missing symbol table or resolution")
	}
	g := &Graph{
		out: make(map[symbols.SymbolID][]*CallSite),
		in:  make(map[symbols.SymbolID][]*CallSite),
	}
	for _, sym := range table.Callables() {
		g.Nodes = append(g.Nodes, sym.ID)
	}

	r := &resolver{table: table, res: res, src: src}
	for _, call := range res.Calls {
		site := r.site(call)
		site.ID = len(g.Sites)
		g.Sites = append(g.Sites, site)
		if site.Caller != symbols.NoSymbol {
			g.out[site.Caller] = append(g.out[site.Caller], site)
		}
		if site.IsResolved() {
			g.in[site.Callee] = append(g.in[site.Callee], site)
		}
	}

	g.classify()
	g.findRecursion()
	return g, nil
}

func (r *resolver) site(call resolve.Call) *CallSite {
	site := &CallSite{
		Caller:     call.Caller,
		CallerName: ModuleCaller,
		Callee:     symbols.NoSymbol,
		Status:     Unresolved,
		Span:       syntax.SpanOf(call.Node),
		Node:       call.Node,
	}
	if caller := r.table.Symbol(call.Caller); caller != nil {
		site.CallerName = caller.QualifiedName
	}
	fn := call.Node.ChildByFieldName("function")
	site.CalleeName = syntax.Text(fn, r.src)
	argumentShape(call.Node.ChildByFieldName("arguments"), site)

	callee, reason := r.callee(fn)
	if callee == nil {
		site.Reason = reason
		return site
	}
	site.Callee = callee.ID
	site.Status = Resolved
	site.IsConstructor = callee.Kind == symbols.KindClass
	return site
}

// argumentShape records which argument forms a call passes
func argumentShape(args *sitter.Node, site *CallSite) {
	if args == nil {
		return
	}
	// a bare generator argument: f(x for x in xs)
	if args.Type() == "generator_expression" {
		site.HasArgs = true
		return
	}
	for _, arg := range syntax.NamedChildren(args) {
		site.HasArgs = true
		switch arg.Type() {
		case "list_splat":
			site.HasStarArgs = true
		case "dictionary_splat":
			site.HasKwArgs = true
		}
	}
}

func (g *Graph) classify() {
	for _, id := range g.Nodes {
		if len(g.out[id]) == 0 {
			g.Leaves = append(g.Leaves, id)
		}
		entry := true
		for _, site := range g.in[id] {
			// module level calls do not make a caller; a recursive call does
			if site.Caller != symbols.NoSymbol {
				entry = false
				break
			}
		}
		if entry {
			g.EntryPoints = append(g.EntryPoints, id)
		}
	}
}

// SitesFrom returns the call sites inside a function body in source order
func (g *Graph) SitesFrom(id symbols.SymbolID) []*CallSite {
	return g.out[id]
}

// SitesTo returns the resolved call sites targeting a symbol
func (g *Graph) SitesTo(id symbols.SymbolID) []*CallSite {
	return g.in[id]
}

// Callees returns the distinct symbols a function calls
func (g *Graph) Callees(id symbols.SymbolID) []symbols.SymbolID {
	seen := make(map[symbols.SymbolID]bool)
	for _, site := range g.out[id] {
		if site.IsResolved() {
			seen[site.Callee] = true
		}
	}
	return sortedIDs(seen)
}

// Callers returns the distinct functions calling a symbol. Module level
// callers are not included.
func (g *Graph) Callers(id symbols.SymbolID) []symbols.SymbolID {
	seen := make(map[symbols.SymbolID]bool)
	for _, site := range g.in[id] {
		if site.Caller != symbols.NoSymbol {
			seen[site.Caller] = true
		}
	}
	return sortedIDs(seen)
}

// Unresolved returns the call sites not linked to any symbol
func (g *Graph) Unresolved() []*CallSite {
	var out []*CallSite
	for _, site := range g.Sites {
		if !site.IsResolved() {
			out = append(out, site)
		}
	}
	return out
}

// IsEntryPoint reports whether no other function calls the symbol
func (g *Graph) IsEntryPoint(id symbols.SymbolID) bool {
	return contains(g.EntryPoints, id)
}

// IsLeaf reports whether the symbol makes no call
func (g *Graph) IsLeaf(id symbols.SymbolID) bool {
	return contains(g.Leaves, id)
}

// IsRecursive reports whether the symbol can reach itself through calls
func (g *Graph) IsRecursive(id symbols.SymbolID) bool {
	return contains(g.Recursive, id)
}

func contains(ids []symbols.SymbolID, id symbols.SymbolID) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

func sortedIDs(set map[symbols.SymbolID]bool) []symbols.SymbolID {
	out := make([]symbols.SymbolID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
