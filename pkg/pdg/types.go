// Package pdg builds the Program Dependence Graph (PDG) of one function from
// its control flow graph and dataflow facts, and slices it by source line.
package pdg

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/symbols"
)

// NodeID is an index into Graph.Nodes
type NodeID int

// EntryNode stands for the function entry. Parameters are defined there and
// statements without another controlling predicate depend on it.
const EntryNode NodeID = 0

// NodeType represents the type of a PDG node.
type NodeType string

const (
	NodeTypeEntry     NodeType = "entry"     // Function entry point
	NodeTypeStatement NodeType = "statement" // Regular statement node
	NodeTypePredicate NodeType = "predicate" // Last statement of a block with several successors
)

// DepType represents the type of dependence in a PDG edge.
type DepType string

const (
	DepTypeControl DepType = "control" // Control dependence
	DepTypeData    DepType = "data"    // Data dependence
)

// Node is one statement, or header part of a compound statement, of a
// reachable CFG block.
type Node struct {
	ID        NodeID      `json:"id"`
	Type      NodeType    `json:"type"`
	Block     cfg.BlockID `json:"block"`
	StartLine int         `json:"start_line"`
	EndLine   int         `json:"end_line"`
	Text      string      `json:"text"`

	Stmt *sitter.Node `json:"-"`
}

// Edge is a dependence of To on From. Data edges are labelled with the
// variable carried, control edges with the CFG edge kind leaving the predicate.
type Edge struct {
	From  NodeID  `json:"from"`
	To    NodeID  `json:"to"`
	Type  DepType `json:"type"`
	Label string  `json:"label,omitempty"`
}

// Graph is the dependence graph of one function
type Graph struct {
	Function symbols.SymbolID `json:"function"`
	Name     string           `json:"name"`
	Nodes    []*Node          `json:"nodes"`
	Edges    []Edge           `json:"edges"`

	in  map[NodeID][]Edge
	out map[NodeID][]Edge
}

// Node returns the node with the given handle, or nil
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[id]
}

// Dependencies contains the control and data dependencies of one line.
type Dependencies struct {
	ControlIn  []Edge `json:"control_in"`
	ControlOut []Edge `json:"control_out"`
	DataIn     []Edge `json:"data_in"`
	DataOut    []Edge `json:"data_out"`
}
