package cfg

import (
	"fmt"
	"iter"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/yourbasic/graph"

	"github.com/l3aro/pystruct/pkg/syntax"
)

// finish computes everything derived from the block structure
func (g *Graph) finish() error {
	for _, blk := range g.Blocks {
		if len(blk.Statements) == 0 {
			continue
		}
		// the entry keeps the def line, where parameters are bound
		if blk.ID != g.Entry || blk.StartLine == 0 {
			blk.StartLine = syntax.Pos(blk.Statements[0]).Line
		}
		blk.EndLine = syntax.SpanOf(blk.Statements[len(blk.Statements)-1]).End.Line
	}
	if blk := g.Block(g.Entry); blk == nil || len(blk.Preds) > 0 {
		return fmt.Errorf("entry block has predecessors: %w", ErrInvariant)
	}

	g.computeReachability()
	if err := g.computeDominators(); err != nil {
		return err
	}
	g.findLoops()
	return nil
}

// flowGraph is the block graph as a yourbasic/graph adjacency structure
func (g *Graph) flowGraph() *graph.Mutable {
	fg := graph.New(len(g.Blocks))
	for _, blk := range g.Blocks {
		for _, s := range blk.Succs {
			fg.Add(int(blk.ID), int(s))
		}
	}
	return fg
}

func (g *Graph) computeReachability() {
	fg := g.flowGraph()
	g.reachable = make([]bool, len(g.Blocks))
	g.reachable[g.Entry] = true
	graph.BFS(fg, int(g.Entry), func(_, w int, _ int64) {
		g.reachable[w] = true
	})

	g.toExit = make([]bool, len(g.Blocks))
	g.toExit[g.Exit] = true
	graph.BFS(graph.Transpose(fg), int(g.Exit), func(_, w int, _ int64) {
		g.toExit[w] = true
	})
}

// reversePostorder lists the reachable blocks in reverse postorder from the entry
func (g *Graph) reversePostorder() []BlockID {
	seen := make([]bool, len(g.Blocks))
	var post []BlockID
	var visit func(id BlockID)
	visit = func(id BlockID) {
		seen[id] = true
		for _, s := range g.Blocks[id].Succs {
			if !seen[s] {
				visit(s)
			}
		}
		post = append(post, id)
	}
	visit(g.Entry)

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// computeDominators runs the iterative set-intersection algorithm over the
// reachable blocks and derives immediate dominators from the result.
func (g *Graph) computeDominators() error {
	n := uint(len(g.Blocks))
	order := g.reversePostorder()

	all := bitset.New(n)
	for _, id := range order {
		all.Set(uint(id))
	}
	dom := make([]*bitset.BitSet, n)
	for _, id := range order {
		if id == g.Entry {
			dom[id] = bitset.New(n).Set(uint(id))
			continue
		}
		dom[id] = all.Clone()
	}

	limit := len(order)*len(order) + 1
	for round := 0; ; round++ {
		if round > limit {
			return fmt.Errorf("%s after %d rounds: %w", g.Name, round, ErrNoConvergence)
		}
		changed := false
		for _, id := range order {
			if id == g.Entry {
				continue
			}
			var next *bitset.BitSet
			for _, p := range g.Blocks[id].Preds {
				if dom[p] == nil {
					continue
				}
				if next == nil {
					next = dom[p].Clone()
				} else {
					next.InPlaceIntersection(dom[p])
				}
			}
			if next == nil {
				next = bitset.New(n)
			}
			next.Set(uint(id))
			if !next.Equal(dom[id]) {
				dom[id] = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	g.dom = dom

	g.IDom = make(map[BlockID]BlockID, len(order))
	for _, id := range order {
		if id == g.Entry {
			continue
		}
		want := dom[id].Count() - 1
		for d, ok := dom[id].NextSet(0); ok; d, ok = dom[id].NextSet(d + 1) {
			if BlockID(d) != id && dom[d].Count() == want {
				g.IDom[id] = BlockID(d)
				break
			}
		}
	}
	return nil
}

// findLoops collects back edges (head dominates tail) and their natural loops
func (g *Graph) findLoops() {
	g.BackEdges = nil
	g.Loops = nil
	seen := make(map[[2]BlockID]bool)
	byHeader := make(map[BlockID]*Loop)
	var headers []BlockID

	for _, e := range g.Edges {
		key := [2]BlockID{e.From, e.To}
		if seen[key] || !g.Reachable(e.From) || !g.Dominates(e.To, e.From) {
			continue
		}
		seen[key] = true
		g.BackEdges = append(g.BackEdges, Edge{From: e.From, To: e.To, Type: EdgeTypeBackEdge})

		loop, ok := byHeader[e.To]
		if !ok {
			loop = &Loop{Header: e.To}
			byHeader[e.To] = loop
			headers = append(headers, e.To)
		}
		loop.Tails = append(loop.Tails, e.From)
	}

	for _, h := range headers {
		loop := byHeader[h]
		loop.Body = g.naturalLoop(h, loop.Tails)
		g.Loops = append(g.Loops, *loop)
	}
}

// naturalLoop is the header plus every block that reaches a tail without passing the header
func (g *Graph) naturalLoop(header BlockID, tails []BlockID) []BlockID {
	in := map[BlockID]bool{header: true}
	stack := make([]BlockID, 0, len(tails))
	for _, t := range tails {
		if !in[t] {
			in[t] = true
			stack = append(stack, t)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.Blocks[id].Preds {
			if !in[p] && g.Reachable(p) {
				in[p] = true
				stack = append(stack, p)
			}
		}
	}

	body := make([]BlockID, 0, len(in))
	for id := range in {
		body = append(body, id)
	}
	sort.Slice(body, func(i, j int) bool { return body[i] < body[j] })
	return body
}

// Paths enumerates the simple entry→exit paths depth first. A path never
// revisits a block, so loops contribute at most one trip. Every iteration of
// the returned sequence starts over from the entry.
func (g *Graph) Paths() iter.Seq[[]BlockID] {
	return func(yield func([]BlockID) bool) {
		onPath := make([]bool, len(g.Blocks))
		var path []BlockID
		var walk func(id BlockID) bool
		walk = func(id BlockID) bool {
			path = append(path, id)
			onPath[id] = true
			defer func() {
				path = path[:len(path)-1]
				onPath[id] = false
			}()

			if id == g.Exit {
				out := make([]BlockID, len(path))
				copy(out, path)
				return yield(out)
			}
			for _, s := range g.Blocks[id].Succs {
				if onPath[s] {
					continue
				}
				if !walk(s) {
					return false
				}
			}
			return true
		}
		walk(g.Entry)
	}
}
