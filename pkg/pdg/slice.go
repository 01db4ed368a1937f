package pdg

import (
	"container/list"
	"sort"
)

// NodesAt returns the nodes whose lines include line, entry excluded unless
// line is the def line.
func (g *Graph) NodesAt(line int) []NodeID {
	var ids []NodeID
	for _, n := range g.Nodes {
		if line >= n.StartLine && line <= n.EndLine {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// lines extracts the sorted unique line numbers covered by a set of nodes.
func (g *Graph) lines(ids []NodeID) []int {
	set := make(map[int]struct{})
	for _, id := range ids {
		n := g.Node(id)
		if n == nil {
			continue
		}
		for line := n.StartLine; line <= n.EndLine; line++ {
			set[line] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for line := range set {
		out = append(out, line)
	}
	sort.Ints(out)
	return out
}

// BackwardSlice returns the lines that may affect the statements on line.
// A non-empty variable restricts data dependences to that variable.
func (g *Graph) BackwardSlice(line int, variable string) []int {
	return g.slice(line, variable, g.in, func(e Edge) NodeID { return e.From })
}

// ForwardSlice returns the lines that may be affected by the statements on line.
func (g *Graph) ForwardSlice(line int, variable string) []int {
	return g.slice(line, variable, g.out, func(e Edge) NodeID { return e.To })
}

func (g *Graph) slice(line int, variable string, edges map[NodeID][]Edge, next func(Edge) NodeID) []int {
	start := g.NodesAt(line)
	if len(start) == 0 {
		return nil
	}

	visited := make(map[NodeID]bool)
	queue := list.New()
	for _, id := range start {
		queue.PushBack(id)
		visited[id] = true
	}

	var result []NodeID
	for queue.Len() > 0 {
		cur := queue.Remove(queue.Front()).(NodeID)
		result = append(result, cur)
		for _, e := range edges[cur] {
			if variable != "" && e.Type == DepTypeData && e.Label != variable {
				continue
			}
			n := next(e)
			if visited[n] {
				continue
			}
			visited[n] = true
			queue.PushBack(n)
		}
	}
	return g.lines(result)
}

// Dependencies returns the edges entering and leaving the nodes on line
func (g *Graph) Dependencies(line int) Dependencies {
	var d Dependencies
	seen := make(map[Edge]bool)
	add := func(e Edge, incoming bool) {
		if seen[e] {
			return
		}
		seen[e] = true
		switch {
		case e.Type == DepTypeControl && incoming:
			d.ControlIn = append(d.ControlIn, e)
		case e.Type == DepTypeControl:
			d.ControlOut = append(d.ControlOut, e)
		case incoming:
			d.DataIn = append(d.DataIn, e)
		default:
			d.DataOut = append(d.DataOut, e)
		}
	}
	for _, id := range g.NodesAt(line) {
		for _, e := range g.in[id] {
			add(e, true)
		}
		for _, e := range g.out[id] {
			add(e, false)
		}
	}
	return d
}

// Variables returns the variables carried by data edges
func (g *Graph) Variables() []string {
	set := make(map[string]bool)
	for _, e := range g.Edges {
		if e.Type == DepTypeData {
			set[e.Label] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
