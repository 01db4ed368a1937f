// Package dfg runs the classical dataflow analyses over the CFG of one function:
// reaching definitions, live variables, def-use chains, constant propagation
// and dead assignment detection.
package dfg

import (
	"github.com/bits-and-blooms/bitset"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/types"
)

// DefID is an index into Result.Defs
type DefID int

// Definition is one assignment site of a local variable.
type Definition struct {
	ID      DefID            `json:"id"`
	Name    string           `json:"name"`
	Symbol  symbols.SymbolID `json:"symbol"`
	Ref     resolve.RefID    `json:"ref"`
	Block   cfg.BlockID      `json:"block"`
	// Copies are the other blocks holding the same finally clause statement
	Copies  []cfg.BlockID    `json:"copies,omitempty"`
	Context resolve.Context  `json:"context"`
	Span    types.Span       `json:"span"`
	IsParam bool             `json:"is_param,omitempty"`

	// Stmt is the block statement holding the definition, nil for parameters
	Stmt  *sitter.Node `json:"-"`
	Node  *sitter.Node `json:"-"`
	Value *sitter.Node `json:"-"`
}

// Result holds the dataflow facts of one function. Facts of blocks that
// cannot be reached from the entry are computed but not reported.
type Result struct {
	Function symbols.SymbolID `json:"function"`
	Name     string           `json:"name"`
	Defs     []*Definition    `json:"definitions"`
	// Vars are the local variable names, indexing the live-variable sets
	Vars        []string                      `json:"variables"`
	DefUse      map[DefID][]resolve.RefID     `json:"def_use"`
	UseDef      map[resolve.RefID][]DefID     `json:"use_def"`
	Constants   map[DefID]Constant            `json:"constants"`
	Dead        []DefID                       `json:"dead"`
	Unreachable []cfg.BlockID                 `json:"unreachable"`
	UseBlock    map[resolve.RefID]cfg.BlockID `json:"-"`

	graph *cfg.Graph
	table *symbols.Table
	res   *resolve.Resolution
	scope *symbols.Scope
	src   []byte

	events [][]event
	varOf  map[string]int
	defsOf []*bitset.BitSet

	gen, kill         []*bitset.BitSet
	useSet, defSet    []*bitset.BitSet
	reachIn, reachOut []*bitset.BitSet
	liveIn, liveOut   []*bitset.BitSet
}

// Def returns the definition with the given handle, or nil
func (r *Result) Def(id DefID) *Definition {
	if id < 0 || int(id) >= len(r.Defs) {
		return nil
	}
	return r.Defs[id]
}

// DefsOf returns the definitions of a variable in source order
func (r *Result) DefsOf(name string) []*Definition {
	var out []*Definition
	for _, d := range r.Defs {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// ReachingIn returns the definitions reaching the entry of a block. The
// second result is false for unreachable blocks.
func (r *Result) ReachingIn(b cfg.BlockID) ([]*Definition, bool) {
	return r.defsIn(r.reachIn, b)
}

// ReachingOut returns the definitions reaching the end of a block
func (r *Result) ReachingOut(b cfg.BlockID) ([]*Definition, bool) {
	return r.defsIn(r.reachOut, b)
}

func (r *Result) defsIn(sets []*bitset.BitSet, b cfg.BlockID) ([]*Definition, bool) {
	if !r.graph.Reachable(b) || int(b) >= len(sets) {
		return nil, false
	}
	var out []*Definition
	for i, ok := sets[b].NextSet(0); ok; i, ok = sets[b].NextSet(i + 1) {
		out = append(out, r.Defs[i])
	}
	return out, true
}

// LiveIn returns the variables live at the entry of a block
func (r *Result) LiveIn(b cfg.BlockID) ([]string, bool) {
	return r.varsIn(r.liveIn, b)
}

// LiveOut returns the variables live at the end of a block
func (r *Result) LiveOut(b cfg.BlockID) ([]string, bool) {
	return r.varsIn(r.liveOut, b)
}

func (r *Result) varsIn(sets []*bitset.BitSet, b cfg.BlockID) ([]string, bool) {
	if !r.graph.Reachable(b) || int(b) >= len(sets) {
		return nil, false
	}
	var out []string
	for i, ok := sets[b].NextSet(0); ok; i, ok = sets[b].NextSet(i + 1) {
		out = append(out, r.Vars[i])
	}
	return out, true
}

// IsDead reports whether a definition was flagged as a dead assignment
func (r *Result) IsDead(id DefID) bool {
	for _, d := range r.Dead {
		if d == id {
			return true
		}
	}
	return false
}

// ConstantOf returns the value of a definition when it is constant
func (r *Result) ConstantOf(id DefID) (Constant, bool) {
	c, ok := r.Constants[id]
	return c, ok
}

// ConstantAt returns the value a read observes when every definition
// reaching it agrees on one constant.
func (r *Result) ConstantAt(ref resolve.RefID) (Constant, bool) {
	defs, ok := r.UseDef[ref]
	if !ok || len(defs) == 0 {
		return Constant{}, false
	}
	first, ok := r.Constants[defs[0]]
	if !ok {
		return Constant{}, false
	}
	for _, d := range defs[1:] {
		c, ok := r.Constants[d]
		if !ok || !c.Equal(first) {
			return Constant{}, false
		}
	}
	return first, true
}

// Recompute runs the reaching-definitions and live-variables iterations
// again from the current facts and reports whether any fact changed.
func (r *Result) Recompute() bool {
	changed := r.solveReaching()
	if r.solveLiveness() {
		changed = true
	}
	return changed
}
