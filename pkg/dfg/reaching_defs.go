package dfg

import (
	"container/list"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/symbols"
)

type eventKind int

const (
	eventUse eventKind = iota
	eventDef
	eventUseDef // augmented assignment reads then stores
	eventKill   // del
)

// event is one access to a local variable inside a block, in evaluation order
type event struct {
	kind eventKind
	ref  resolve.RefID
	v    int
	def  DefID
}

// stmtRange is the byte range of one block statement
type stmtRange struct {
	start, end uint32
	block      cfg.BlockID
	stmt       *sitter.Node
}

// Analyze computes every dataflow fact of one function's CFG. References
// are taken from the resolution of the same module.
func Analyze(g *cfg.Graph, table *symbols.Table, res *resolve.Resolution, src []byte) (*Result, error) {
	if g == nil || table == nil || res == nil {
		return nil, fmt.Errorf("dataflow: missing cfg, symbol table or resolution")
	}
	fn := table.Symbol(g.Function)
	if fn == nil {
		return nil, fmt.Errorf("dataflow for %s: unknown function symbol", g.Name)
	}
	scope := table.Scope(fn.Body)
	if scope == nil {
		return nil, fmt.Errorf("dataflow for %s: function has no scope", g.Name)
	}

	r := &Result{
		Function:  g.Function,
		Name:      g.Name,
		DefUse:    make(map[DefID][]resolve.RefID),
		UseDef:    make(map[resolve.RefID][]DefID),
		Constants: make(map[DefID]Constant),
		UseBlock:  make(map[resolve.RefID]cfg.BlockID),
		graph:     g,
		table:     table,
		res:       res,
		scope:     scope,
		src:       src,
		varOf:     make(map[string]int),
	}
	r.collect()
	r.initialize()
	r.solveReaching()
	r.buildDefUseChains()
	r.solveLiveness()
	r.propagateConstants()
	r.findDead()
	return r, nil
}

// statementRanges lists the statements of every block sorted by position
func (r *Result) statementRanges() []stmtRange {
	var ranges []stmtRange
	for _, blk := range r.graph.Blocks {
		for _, stmt := range blk.Statements {
			ranges = append(ranges, stmtRange{start: stmt.StartByte(), end: stmt.EndByte(), block: blk.ID, stmt: stmt})
		}
	}
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	return ranges
}

// findRanges returns the innermost statement holding n. A finally clause is
// built once per way of leaving its try, so one statement may sit in several
// blocks; every copy is returned, in block order.
func findRanges(ranges []stmtRange, n *sitter.Node) []stmtRange {
	start, end := n.StartByte(), n.EndByte()
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].start > start })
	if i == 0 {
		return nil
	}
	rg := ranges[i-1]
	if end > rg.end {
		return nil
	}
	j := i - 1
	for j > 0 && ranges[j-1].start == rg.start && ranges[j-1].end == rg.end {
		j--
	}
	var out []stmtRange
	for ; j < i; j++ {
		if ranges[j].end == rg.end {
			out = append(out, ranges[j])
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].block < out[b].block })
	return out
}

// collect turns the references of the function into per-block events. Local
// reads and writes count, as do reads of local variables from nested scopes.
// Parameters are definitions at the start of the entry block.
func (r *Result) collect() {
	ranges := r.statementRanges()
	r.events = make([][]event, len(r.graph.Blocks))

	for _, ref := range r.res.Refs {
		sym := r.table.Symbol(ref.Symbol)
		if sym == nil || sym.Scope != r.scope.ID {
			continue
		}
		nested := ref.Scope != r.scope.ID
		if nested && !ref.Mode.Reads() {
			continue
		}

		var blocks []cfg.BlockID
		var stmt *sitter.Node
		if ref.Context == resolve.CtxParam && !nested {
			blocks = []cfg.BlockID{r.graph.Entry}
		} else {
			found := findRanges(ranges, ref.Node)
			if len(found) == 0 {
				continue
			}
			stmt = found[0].stmt
			for _, rg := range found {
				blocks = append(blocks, rg.block)
			}
		}

		ev := event{ref: ref.ID, v: r.variable(ref.Name), def: -1}
		switch {
		case nested || ref.Mode == resolve.ModeRead:
			ev.kind = eventUse
		case ref.Mode == resolve.ModeWrite:
			ev.kind = eventDef
		case ref.Mode == resolve.ModeReadWrite:
			ev.kind = eventUseDef
		default:
			ev.kind = eventKill
		}
		if ev.kind == eventDef || ev.kind == eventUseDef {
			ev.def = r.addDef(ref, blocks, stmt)
		}
		if ev.kind == eventUse || ev.kind == eventUseDef {
			r.UseBlock[ref.ID] = blocks[0]
		}
		for _, block := range blocks {
			r.events[block] = append(r.events[block], ev)
		}
	}
}

func (r *Result) variable(name string) int {
	if v, ok := r.varOf[name]; ok {
		return v
	}
	v := len(r.Vars)
	r.varOf[name] = v
	r.Vars = append(r.Vars, name)
	return v
}

func (r *Result) addDef(ref *resolve.Reference, blocks []cfg.BlockID, stmt *sitter.Node) DefID {
	d := &Definition{
		ID:      DefID(len(r.Defs)),
		Name:    ref.Name,
		Symbol:  ref.Symbol,
		Ref:     ref.ID,
		Block:   blocks[0],
		Copies:  blocks[1:],
		Context: ref.Context,
		Span:    ref.Span,
		IsParam: ref.Context == resolve.CtxParam,
		Stmt:    stmt,
		Node:    ref.Node,
		Value:   ref.Value,
	}
	r.Defs = append(r.Defs, d)
	return d.ID
}

// initialize builds the per-variable definition sets and the gen/kill and
// use/def sets of every block.
func (r *Result) initialize() {
	nd, nv := uint(len(r.Defs)), uint(len(r.Vars))
	r.defsOf = make([]*bitset.BitSet, nv)
	for v := range r.defsOf {
		r.defsOf[v] = bitset.New(nd)
	}
	for _, d := range r.Defs {
		r.defsOf[r.varOf[d.Name]].Set(uint(d.ID))
	}

	n := len(r.graph.Blocks)
	r.gen, r.kill = make([]*bitset.BitSet, n), make([]*bitset.BitSet, n)
	r.useSet, r.defSet = make([]*bitset.BitSet, n), make([]*bitset.BitSet, n)
	r.reachIn, r.reachOut = make([]*bitset.BitSet, n), make([]*bitset.BitSet, n)
	r.liveIn, r.liveOut = make([]*bitset.BitSet, n), make([]*bitset.BitSet, n)

	for b := 0; b < n; b++ {
		gen, kill := bitset.New(nd), bitset.New(nd)
		use, def := bitset.New(nv), bitset.New(nv)
		for _, ev := range r.events[b] {
			v := uint(ev.v)
			if (ev.kind == eventUse || ev.kind == eventUseDef) && !def.Test(v) {
				use.Set(v)
			}
			if ev.kind == eventUse {
				continue
			}
			gen.InPlaceDifference(r.defsOf[ev.v])
			kill.InPlaceUnion(r.defsOf[ev.v])
			def.Set(v)
			if ev.kind != eventKill {
				gen.Set(uint(ev.def))
			}
		}
		r.gen[b], r.kill[b] = gen, kill
		r.useSet[b], r.defSet[b] = use, def
		r.reachIn[b], r.reachOut[b] = bitset.New(nd), bitset.New(nd)
		r.liveIn[b], r.liveOut[b] = bitset.New(nv), bitset.New(nv)
	}
}

// solveReaching iterates reaching definitions to a fixed point with a
// worklist of blocks and reports whether any set changed.
func (r *Result) solveReaching() bool {
	changed := false
	worklist := list.New()
	queued := make([]bool, len(r.graph.Blocks))
	for _, blk := range r.graph.Blocks {
		worklist.PushBack(blk.ID)
		queued[blk.ID] = true
	}

	for worklist.Len() > 0 {
		id := worklist.Remove(worklist.Front()).(cfg.BlockID)
		queued[id] = false

		// in[block] = union of out[pred] for all predecessors
		in := r.unionPreds(id)
		if !in.Equal(r.reachIn[id]) {
			r.reachIn[id] = in
			changed = true
		}

		out := r.computeOut(in, id)
		if out.Equal(r.reachOut[id]) {
			continue
		}
		r.reachOut[id] = out
		changed = true
		for _, s := range r.graph.Blocks[id].Succs {
			if !queued[s] {
				worklist.PushBack(s)
				queued[s] = true
			}
		}
	}
	return changed
}

// unionPreds merges the reaching-out sets of the predecessors. A reachable
// block ignores unreachable predecessors so dead code never feeds live facts.
func (r *Result) unionPreds(id cfg.BlockID) *bitset.BitSet {
	result := bitset.New(uint(len(r.Defs)))
	reachable := r.graph.Reachable(id)
	for _, p := range r.graph.Blocks[id].Preds {
		if reachable && !r.graph.Reachable(p) {
			continue
		}
		result.InPlaceUnion(r.reachOut[p])
	}
	return result
}

// computeOut computes out[block] = gen[block] U (in[block] - kill[block])
func (r *Result) computeOut(in *bitset.BitSet, id cfg.BlockID) *bitset.BitSet {
	return in.Difference(r.kill[id]).Union(r.gen[id])
}

// buildDefUseChains links every read to the definitions reaching it by
// replaying each block's events from the block's reaching-in set.
func (r *Result) buildDefUseChains() {
	for b, events := range r.events {
		cur := r.reachIn[b].Clone()
		for _, ev := range events {
			if ev.kind == eventUse || ev.kind == eventUseDef {
				r.link(ev.ref, cur.Intersection(r.defsOf[ev.v]))
			}
			if ev.kind == eventUse {
				continue
			}
			cur.InPlaceDifference(r.defsOf[ev.v])
			if ev.kind != eventKill {
				cur.Set(uint(ev.def))
			}
		}
	}
}

// link merges the definitions reaching one read. A read inside a finally
// clause is linked once per copy of the clause.
func (r *Result) link(ref resolve.RefID, defs *bitset.BitSet) {
	chain, seen := r.UseDef[ref], r.UseDef[ref] != nil
	if chain == nil {
		chain = make([]DefID, 0, defs.Count())
	}
	for i, ok := defs.NextSet(0); ok; i, ok = defs.NextSet(i + 1) {
		d := DefID(i)
		if seen && containsDef(chain, d) {
			continue
		}
		chain = append(chain, d)
		r.DefUse[d] = append(r.DefUse[d], ref)
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i] < chain[j] })
	r.UseDef[ref] = chain
}

func containsDef(defs []DefID, d DefID) bool {
	for _, x := range defs {
		if x == d {
			return true
		}
	}
	return false
}

// findDead flags reachable definitions nobody reads. Parameters and
// variables captured by nested scopes are never dead.
func (r *Result) findDead() {
	r.Unreachable = r.graph.Unreachable()
	for _, d := range r.Defs {
		if d.IsParam || r.scope.Cell[d.Name] || !r.defReachable(d) {
			continue
		}
		if len(r.DefUse[d.ID]) == 0 {
			r.Dead = append(r.Dead, d.ID)
		}
	}
}

func (r *Result) defReachable(d *Definition) bool {
	if r.graph.Reachable(d.Block) {
		return true
	}
	for _, b := range d.Copies {
		if r.graph.Reachable(b) {
			return true
		}
	}
	return false
}
