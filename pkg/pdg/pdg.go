package pdg

import (
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/dfg"
	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/syntax"
)

// controller is a block another block is control dependent on, with the
// kind of the CFG edge that decided it.
type controller struct {
	block cfg.BlockID
	label string
}

// pdgBuilder constructs a PDG from one function's CFG and dataflow result.
type pdgBuilder struct {
	cfg  *cfg.Graph
	dfg  *dfg.Result
	res  *resolve.Resolution
	src  []byte
	pdg  *Graph
	seen map[Edge]bool

	// nodesOf lists the statement nodes of each block in order
	nodesOf map[cfg.BlockID][]NodeID
}

// Build creates the dependence graph of a function. Only blocks reachable
// from the entry contribute nodes.
func Build(g *cfg.Graph, df *dfg.Result, res *resolve.Resolution, src []byte) (*Graph, error) {
	if g == nil || df == nil || res == nil {
		return nil, fmt.Errorf("building pdg: missing cfg, dataflow result or resolution")
	}
	if df.Function != g.Function {
		return nil, fmt.Errorf("building pdg for %s: dataflow result belongs to %s", g.Name, df.Name)
	}

	b := &pdgBuilder{
		cfg:     g,
		dfg:     df,
		res:     res,
		src:     src,
		pdg:     &Graph{Function: g.Function, Name: g.Name},
		seen:    make(map[Edge]bool),
		nodesOf: make(map[cfg.BlockID][]NodeID),
	}
	b.createNodes()
	b.addControlEdges()
	b.addDataEdges()

	sort.Slice(b.pdg.Edges, func(i, j int) bool {
		x, y := b.pdg.Edges[i], b.pdg.Edges[j]
		if x.From != y.From {
			return x.From < y.From
		}
		if x.To != y.To {
			return x.To < y.To
		}
		if x.Type != y.Type {
			return x.Type < y.Type
		}
		return x.Label < y.Label
	})
	b.pdg.in = make(map[NodeID][]Edge)
	b.pdg.out = make(map[NodeID][]Edge)
	for _, e := range b.pdg.Edges {
		b.pdg.out[e.From] = append(b.pdg.out[e.From], e)
		b.pdg.in[e.To] = append(b.pdg.in[e.To], e)
	}
	return b.pdg, nil
}

func (b *pdgBuilder) createNodes() {
	entry := b.cfg.Block(b.cfg.Entry)
	b.pdg.Nodes = append(b.pdg.Nodes, &Node{
		ID:        EntryNode,
		Type:      NodeTypeEntry,
		Block:     b.cfg.Entry,
		StartLine: entry.StartLine,
		EndLine:   entry.StartLine,
		Text:      b.pdg.Name,
	})

	for _, blk := range b.cfg.Blocks {
		if !b.cfg.Reachable(blk.ID) {
			continue
		}
		for i, stmt := range blk.Statements {
			typ := NodeTypeStatement
			if i == len(blk.Statements)-1 && len(blk.Succs) > 1 {
				typ = NodeTypePredicate
			}
			span := syntax.SpanOf(stmt)
			n := &Node{
				ID:        NodeID(len(b.pdg.Nodes)),
				Type:      typ,
				Block:     blk.ID,
				StartLine: span.Start.Line,
				EndLine:   span.End.Line,
				Text:      firstLine(syntax.Text(stmt, b.src)),
				Stmt:      stmt,
			}
			b.pdg.Nodes = append(b.pdg.Nodes, n)
			b.nodesOf[blk.ID] = append(b.nodesOf[blk.ID], n.ID)
		}
	}
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

// addControlEdges links every statement to the predicates it is control
// dependent on. A block B depends on A when B post-dominates a successor of
// A but not A itself. Statements with no such predicate depend on the entry.
func (b *pdgBuilder) addControlEdges() {
	deps := b.controlDependence()

	for _, blk := range b.cfg.Blocks {
		for _, id := range b.nodesOf[blk.ID] {
			linked := false
			for _, c := range deps[blk.ID] {
				from, ok := b.predicateOf(c.block)
				if !ok || from == id {
					continue
				}
				b.addEdge(Edge{From: from, To: id, Type: DepTypeControl, Label: c.label})
				linked = true
			}
			if !linked {
				b.addEdge(Edge{From: EntryNode, To: id, Type: DepTypeControl})
			}
		}
	}
}

// predicateOf returns the node deciding which successor of a block runs
func (b *pdgBuilder) predicateOf(block cfg.BlockID) (NodeID, bool) {
	nodes := b.nodesOf[block]
	if len(nodes) == 0 {
		if block == b.cfg.Entry {
			return EntryNode, true
		}
		return 0, false
	}
	return nodes[len(nodes)-1], true
}

// controlDependence computes, for each block, the blocks it is control
// dependent on. Post-dominators are the dominators of the reversed CFG rooted
// at the exit; blocks that never reach the exit take no part.
func (b *pdgBuilder) controlDependence() map[cfg.BlockID][]controller {
	deps := make(map[cfg.BlockID][]controller)
	if !b.cfg.Reachable(b.cfg.Exit) {
		return deps
	}

	rev := simple.NewDirectedGraph()
	for _, blk := range b.cfg.Blocks {
		if b.cfg.Reachable(blk.ID) && b.cfg.ReachesExit(blk.ID) {
			rev.AddNode(simple.Node(blk.ID))
		}
	}
	inTree := func(id cfg.BlockID) bool { return rev.Node(int64(id)) != nil }
	for _, e := range b.cfg.Edges {
		if e.From == e.To || !inTree(e.From) || !inTree(e.To) {
			continue
		}
		rev.SetEdge(rev.NewEdge(simple.Node(e.To), simple.Node(e.From)))
	}
	tree := flow.Dominators(simple.Node(b.cfg.Exit), rev)

	ipdom := func(id cfg.BlockID) (cfg.BlockID, bool) {
		n := tree.DominatorOf(int64(id))
		if n == nil {
			return cfg.NoBlock, false
		}
		return cfg.BlockID(n.ID()), true
	}
	postDominates := func(p, x cfg.BlockID) bool {
		for {
			if x == p {
				return true
			}
			next, ok := ipdom(x)
			if !ok {
				return false
			}
			x = next
		}
	}

	for _, e := range b.cfg.Edges {
		if !inTree(e.From) || !inTree(e.To) || postDominates(e.To, e.From) {
			continue
		}
		stop, _ := ipdom(e.From)
		for runner := e.To; runner != stop; {
			deps[runner] = addController(deps[runner], controller{block: e.From, label: string(e.Type)})
			next, ok := ipdom(runner)
			if !ok {
				break
			}
			runner = next
		}
	}
	return deps
}

func addController(cs []controller, c controller) []controller {
	for _, x := range cs {
		if x.block == c.block {
			return cs
		}
	}
	return append(cs, c)
}

// addDataEdges links each definition to the reads it reaches. Definitions
// of parameters sit on the entry node. A statement of a finally clause has
// one node per copy of the clause, and every copy is linked.
func (b *pdgBuilder) addDataEdges() {
	uses := make([]resolve.RefID, 0, len(b.dfg.UseDef))
	for ref := range b.dfg.UseDef {
		uses = append(uses, ref)
	}
	sort.Slice(uses, func(i, j int) bool { return uses[i] < uses[j] })

	for _, refID := range uses {
		ref := b.res.Ref(refID)
		if ref == nil {
			continue
		}
		targets := b.nodesHolding(ref.Node)
		for _, defID := range b.dfg.UseDef[refID] {
			def := b.dfg.Def(defID)
			if def == nil {
				continue
			}
			sources := []NodeID{EntryNode}
			if def.Stmt != nil {
				sources = b.nodesHolding(def.Stmt)
			}
			for _, from := range sources {
				for _, to := range targets {
					b.addEdge(Edge{From: from, To: to, Type: DepTypeData, Label: def.Name})
				}
			}
		}
	}
}

// nodesHolding lists the statement nodes, one per block copy, containing n
func (b *pdgBuilder) nodesHolding(n *sitter.Node) []NodeID {
	if n == nil {
		return nil
	}
	var out []NodeID
	for _, node := range b.pdg.Nodes[1:] {
		if syntax.Contains(node.Stmt, n) {
			out = append(out, node.ID)
		}
	}
	return out
}

func (b *pdgBuilder) addEdge(e Edge) {
	if b.seen[e] {
		return
	}
	b.seen[e] = true
	b.pdg.Edges = append(b.pdg.Edges, e)
}
