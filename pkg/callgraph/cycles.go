package callgraph

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/l3aro/pystruct/pkg/symbols"
)

// findRecursion marks self calls and the members of every strongly
// connected component of the resolved edges.
func (g *Graph) findRecursion() {
	dg := simple.NewDirectedGraph()
	for _, id := range g.Nodes {
		dg.AddNode(simple.Node(id))
	}

	recursive := make(map[symbols.SymbolID]bool)
	for _, site := range g.Sites {
		if !site.IsResolved() || site.Caller == symbols.NoSymbol {
			continue
		}
		if site.Caller == site.Callee {
			// simple graphs reject self edges
			recursive[site.Caller] = true
			continue
		}
		if dg.Node(int64(site.Caller)) == nil || dg.Node(int64(site.Callee)) == nil {
			continue
		}
		dg.SetEdge(dg.NewEdge(simple.Node(site.Caller), simple.Node(site.Callee)))
	}

	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) < 2 {
			continue
		}
		cycle := make([]symbols.SymbolID, 0, len(scc))
		for _, n := range scc {
			id := symbols.SymbolID(n.ID())
			cycle = append(cycle, id)
			recursive[id] = true
		}
		sort.Slice(cycle, func(i, j int) bool { return cycle[i] < cycle[j] })
		g.Cycles = append(g.Cycles, cycle)
	}
	sort.Slice(g.Cycles, func(i, j int) bool { return g.Cycles[i][0] < g.Cycles[j][0] })
	g.Recursive = sortedIDs(recursive)
}
