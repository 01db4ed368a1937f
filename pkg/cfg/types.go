// Package cfg builds per-function Control Flow Graphs (CFGs) for Python code.
// It provides types for blocks, edges and the complete graph together with
// dominator, loop and reachability information.
package cfg

import (
	"errors"

	"github.com/bits-and-blooms/bitset"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/symbols"
)

var (
	// ErrNoConvergence is returned when the dominator iteration exceeds its round bound
	ErrNoConvergence = errors.New("dominator computation did not converge")
	// ErrInvariant is returned when a finished graph violates a structural invariant
	ErrInvariant = errors.New("cfg invariant violated")
)

// BlockID is an index into Graph.Blocks
type BlockID int

// NoBlock is the null block handle
const NoBlock BlockID = -1

// BlockType represents the type of a CFG block.
type BlockType string

const (
	BlockTypeEntry       BlockType = "entry"       // Function entry point
	BlockTypeExit        BlockType = "exit"        // Function exit point
	BlockTypePlain       BlockType = "plain"       // Regular statements
	BlockTypeBranch      BlockType = "branch"      // Ends with an if/elif condition or match subject
	BlockTypeLoopHeader  BlockType = "loop_header" // Loop test or iteration step
	BlockTypeLoopBody    BlockType = "loop_body"   // First block of a loop body
	BlockTypeLoopExit    BlockType = "loop_exit"   // Where a loop continues after finishing
	BlockTypeJoin        BlockType = "join"        // Merge point after branches
	BlockTypeHandler     BlockType = "handler"     // except clause
	BlockTypeFinally     BlockType = "finally"     // finally clause
	BlockTypeCase        BlockType = "case"        // match arm
	BlockTypeUnreachable BlockType = "unreachable" // Statements after return/raise/break/continue
)

// EdgeType represents the type of a CFG edge.
type EdgeType string

const (
	EdgeTypeUnconditional EdgeType = "unconditional" // Unconditional jump
	EdgeTypeTrue          EdgeType = "true"          // True branch of conditional
	EdgeTypeFalse         EdgeType = "false"         // False branch of conditional
	EdgeTypeBackEdge      EdgeType = "back_edge"     // Back edge (loop continuation)
	EdgeTypeBreak         EdgeType = "break"         // Break from loop
	EdgeTypeContinue      EdgeType = "continue"      // Continue to next iteration
	EdgeTypeException     EdgeType = "exception"     // Raised exception to handler or exit
	EdgeTypeFinally       EdgeType = "finally"       // Abrupt exit routed through finally
	EdgeTypeCase          EdgeType = "case"          // match subject to arm
	EdgeTypeReturn        EdgeType = "return"        // return statement to exit
)

// Block represents a basic block in the Control Flow Graph.
// A block is a sequence of statements with a single entry and exit point.
type Block struct {
	ID        BlockID   `json:"id"`
	Type      BlockType `json:"type"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	// Statements are nodes of the syntax tree. Compound statements contribute
	// only their header parts (conditions, targets, patterns).
	Statements []*sitter.Node `json:"-"`
	Preds      []BlockID      `json:"predecessors"`
	Succs      []BlockID      `json:"successors"`
}

// Edge represents a directed edge between two CFG blocks.
type Edge struct {
	From      BlockID  `json:"from"`
	To        BlockID  `json:"to"`
	Type      EdgeType `json:"type"`
	Condition string   `json:"condition,omitempty"`
}

// Loop is a natural loop found from a back edge
type Loop struct {
	Header BlockID   `json:"header"`
	Tails  []BlockID `json:"tails"`
	Body   []BlockID `json:"body"`
}

// Graph is the Control Flow Graph of one function
type Graph struct {
	Function symbols.SymbolID `json:"function"`
	Name     string           `json:"name"`
	Entry    BlockID          `json:"entry"`
	Exit     BlockID          `json:"exit"`
	Blocks   []*Block         `json:"blocks"`
	Edges    []Edge           `json:"edges"`
	// IDom maps every reachable block except the entry to its immediate dominator
	IDom      map[BlockID]BlockID `json:"idom"`
	BackEdges []Edge              `json:"back_edges"`
	Loops     []Loop              `json:"loops"`

	dom       []*bitset.BitSet
	reachable []bool
	toExit    []bool
}

// Block returns the block with the given handle, or nil
func (g *Graph) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(g.Blocks) {
		return nil
	}
	return g.Blocks[id]
}

// IsEntry reports whether id is the entry block
func (g *Graph) IsEntry(id BlockID) bool { return id == g.Entry }

// IsExit reports whether id is the exit block
func (g *Graph) IsExit(id BlockID) bool { return id == g.Exit }

// Reachable reports whether the block can be reached from the entry
func (g *Graph) Reachable(id BlockID) bool {
	return id >= 0 && int(id) < len(g.reachable) && g.reachable[id]
}

// ReachesExit reports whether the exit can be reached from the block
func (g *Graph) ReachesExit(id BlockID) bool {
	return id >= 0 && int(id) < len(g.toExit) && g.toExit[id]
}

// Unreachable returns the blocks that cannot be reached from the entry
func (g *Graph) Unreachable() []BlockID {
	var out []BlockID
	for _, b := range g.Blocks {
		if !g.Reachable(b.ID) {
			out = append(out, b.ID)
		}
	}
	return out
}

// Dominates reports whether every path from the entry to b passes through a
func (g *Graph) Dominates(a, b BlockID) bool {
	if !g.Reachable(a) || !g.Reachable(b) {
		return false
	}
	return g.dom[b].Test(uint(a))
}

// Dominators returns the dominator set of b in block order
func (g *Graph) Dominators(b BlockID) []BlockID {
	if !g.Reachable(b) {
		return nil
	}
	var out []BlockID
	for i, ok := g.dom[b].NextSet(0); ok; i, ok = g.dom[b].NextSet(i + 1) {
		out = append(out, BlockID(i))
	}
	return out
}

// EdgesFrom returns the outgoing edges of a block
func (g *Graph) EdgesFrom(id BlockID) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// IsBackEdge reports whether from→to is a back edge
func (g *Graph) IsBackEdge(from, to BlockID) bool {
	for _, e := range g.BackEdges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// CyclomaticComplexity is E - N + 2 over the reachable part of the graph
func (g *Graph) CyclomaticComplexity() int {
	nodes := 0
	for _, b := range g.Blocks {
		if g.Reachable(b.ID) {
			nodes++
		}
	}
	edges := 0
	for _, e := range g.Edges {
		if g.Reachable(e.From) {
			edges++
		}
	}
	return edges - nodes + 2
}
