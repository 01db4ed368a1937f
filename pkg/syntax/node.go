package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/types"
)

// NodeKey identifies a node within one tree independent of the *sitter.Node
// wrapper used to reach it.
type NodeKey struct {
	Start uint32
	End   uint32
	Type  string
}

// Key returns the identity key of n
func Key(n *sitter.Node) NodeKey {
	if n == nil {
		return NodeKey{}
	}
	return NodeKey{Start: n.StartByte(), End: n.EndByte(), Type: n.Type()}
}

// Text extracts the text content of a node from the source.
func Text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	start := n.StartByte()
	end := n.EndByte()
	if start >= uint32(len(src)) || end > uint32(len(src)) || start > end {
		return ""
	}
	return string(src[start:end])
}

// Pos returns the start position of n with a 1-based line
func Pos(n *sitter.Node) types.Position {
	if n == nil {
		return types.Position{}
	}
	p := n.StartPoint()
	return types.Position{Line: int(p.Row) + 1, Column: int(p.Column)}
}

// SpanOf returns the source span of n
func SpanOf(n *sitter.Node) types.Span {
	if n == nil {
		return types.Span{}
	}
	s, e := n.StartPoint(), n.EndPoint()
	return types.Span{
		Start: types.Position{Line: int(s.Row) + 1, Column: int(s.Column)},
		End:   types.Position{Line: int(e.Row) + 1, Column: int(e.Column)},
	}
}

// Contains reports whether inner lies within outer's byte range
func Contains(outer, inner *sitter.Node) bool {
	if outer == nil || inner == nil {
		return false
	}
	return inner.StartByte() >= outer.StartByte() && inner.EndByte() <= outer.EndByte()
}

// IsTrivia reports nodes that carry no program meaning
func IsTrivia(n *sitter.Node) bool {
	if n == nil {
		return true
	}
	switch n.Type() {
	case "comment", "line_continuation":
		return true
	}
	return false
}

// NamedChildren returns the named, non-comment children of n
func NamedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil || IsTrivia(child) {
			continue
		}
		out = append(out, child)
	}
	return out
}

// ChildOfType returns the first direct child with the given type
func ChildOfType(n *sitter.Node, typ string) *sitter.Node {
	if n == nil {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child != nil && child.Type() == typ {
			return child
		}
	}
	return nil
}

// ChildrenOfType returns every direct named child with the given type
func ChildrenOfType(n *sitter.Node, typ string) []*sitter.Node {
	var out []*sitter.Node
	for _, child := range NamedChildren(n) {
		if child.Type() == typ {
			out = append(out, child)
		}
	}
	return out
}

// HasToken reports whether n has an anonymous child token with the given text, e.g. "async"
func HasToken(n *sitter.Node, token string) bool {
	if n == nil {
		return false
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child != nil && !child.IsNamed() && child.Type() == token {
			return true
		}
	}
	return false
}

// IsMalformed reports whether n itself is an error or a parser-inserted missing node
func IsMalformed(n *sitter.Node) bool {
	return n != nil && (n.Type() == "ERROR" || n.IsMissing())
}

// FirstMalformed returns the first error or missing node at or below n in source order
func FirstMalformed(n *sitter.Node) *sitter.Node {
	if n == nil || !n.HasError() && !n.IsMissing() {
		return nil
	}
	if IsMalformed(n) {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := FirstMalformed(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

// Body returns the statement block of a compound node: the "body" field, a
// "consequence" field, or the first block child.
func Body(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if body := n.ChildByFieldName("body"); body != nil {
		return body
	}
	if body := n.ChildByFieldName("consequence"); body != nil {
		return body
	}
	return ChildOfType(n, "block")
}

// Statements returns the statements of a block node. A non-block node is
// treated as a single statement, matching one-line suites.
func Statements(block *sitter.Node) []*sitter.Node {
	if block == nil {
		return nil
	}
	if block.Type() != "block" && block.Type() != "module" {
		return []*sitter.Node{block}
	}
	return NamedChildren(block)
}

// Unparen strips redundant parentheses around an expression
func Unparen(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "parenthesized_expression" {
		inner := NamedChildren(n)
		if len(inner) != 1 {
			return n
		}
		n = inner[0]
	}
	return n
}

// CaseClauses returns the case arms of a match statement. Older grammar
// versions put them directly under the statement, newer ones in a block.
func CaseClauses(match *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, child := range NamedChildren(match) {
		switch child.Type() {
		case "case_clause":
			out = append(out, child)
		case "block":
			out = append(out, ChildrenOfType(child, "case_clause")...)
		}
	}
	return out
}

// ExceptParts splits an except clause into its exception type expression and
// the "as" target; either may be nil.
func ExceptParts(clause *sitter.Node) (typ, alias *sitter.Node) {
	var exprs []*sitter.Node
	for _, child := range NamedChildren(clause) {
		if child.Type() == "block" {
			continue
		}
		exprs = append(exprs, child)
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	if first := exprs[0]; first.Type() == "as_pattern" {
		parts := NamedChildren(first)
		if len(parts) > 0 {
			typ = parts[0]
		}
		if target := first.ChildByFieldName("alias"); target != nil {
			alias = target
		} else if len(parts) > 1 {
			alias = parts[len(parts)-1]
		}
		return typ, alias
	}
	typ = exprs[0]
	if len(exprs) > 1 {
		alias = exprs[1]
	}
	return typ, alias
}

// Docstring returns the unquoted leading string literal of a block, if any
func Docstring(block *sitter.Node, src []byte) string {
	stmts := Statements(block)
	if len(stmts) == 0 || stmts[0].Type() != "expression_statement" {
		return ""
	}
	exprs := NamedChildren(stmts[0])
	if len(exprs) != 1 {
		return ""
	}
	switch exprs[0].Type() {
	case "string":
		s, _ := UnquoteString(Text(exprs[0], src))
		return s
	case "concatenated_string":
		var out string
		for _, part := range ChildrenOfType(exprs[0], "string") {
			s, _ := UnquoteString(Text(part, src))
			out += s
		}
		return out
	}
	return ""
}
