package syntax

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Broken reports whether a statement cannot be analysed. A compound statement
// whose only errors sit inside one of its nested blocks is not broken; the
// walk over that block deals with them.
func Broken(stmt *sitter.Node) bool {
	if stmt == nil {
		return false
	}
	if IsMalformed(stmt) {
		return true
	}
	if !stmt.HasError() {
		return false
	}
	bad := FirstMalformed(stmt)
	if bad == nil {
		return true
	}
	for p := bad.Parent(); p != nil && Key(p) != Key(stmt); p = p.Parent() {
		if p.Type() == "block" {
			return false
		}
	}
	return true
}

// Param is one formal parameter of a def or lambda
type Param struct {
	Name       *sitter.Node
	Annotation *sitter.Node
	Default    *sitter.Node
	Star       bool
	DoubleStar bool
}

// Params flattens a parameters or lambda_parameters node
func Params(params *sitter.Node) []Param {
	var out []Param
	for _, child := range NamedChildren(params) {
		switch child.Type() {
		case "identifier":
			out = append(out, Param{Name: child})
		case "typed_parameter":
			p := Param{Annotation: child.ChildByFieldName("type")}
			for _, inner := range NamedChildren(child) {
				if p.Annotation != nil && Key(inner) == Key(p.Annotation) {
					continue
				}
				p = splatParam(inner, p)
				break
			}
			if p.Name != nil {
				out = append(out, p)
			}
		case "default_parameter", "typed_default_parameter":
			name := child.ChildByFieldName("name")
			if name == nil || name.Type() != "identifier" {
				continue
			}
			out = append(out, Param{
				Name:       name,
				Annotation: child.ChildByFieldName("type"),
				Default:    child.ChildByFieldName("value"),
			})
		case "list_splat_pattern", "dictionary_splat_pattern":
			if p := splatParam(child, Param{}); p.Name != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

func splatParam(n *sitter.Node, p Param) Param {
	switch n.Type() {
	case "identifier":
		p.Name = n
	case "list_splat_pattern":
		p.Star = true
		p.Name = ChildOfType(n, "identifier")
	case "dictionary_splat_pattern":
		p.DoubleStar = true
		p.Name = ChildOfType(n, "identifier")
	}
	return p
}

// ImportBinding is one name bound by an import statement
type ImportBinding struct {
	Name string
	Path string
	Node *sitter.Node
}

// ImportBindings lists the names an import statement binds in the current scope.
// Wildcard and __future__ imports bind nothing.
func ImportBindings(n *sitter.Node, src []byte) []ImportBinding {
	var out []ImportBinding
	switch n.Type() {
	case "import_statement":
		for _, child := range NamedChildren(n) {
			switch child.Type() {
			case "dotted_name":
				path := Text(child, src)
				first := path
				if i := strings.IndexByte(path, '.'); i >= 0 {
					first = path[:i]
				}
				out = append(out, ImportBinding{Name: first, Path: path, Node: child})
			case "aliased_import":
				alias := child.ChildByFieldName("alias")
				if alias == nil {
					continue
				}
				path := Text(child.ChildByFieldName("name"), src)
				out = append(out, ImportBinding{Name: Text(alias, src), Path: path, Node: alias})
			}
		}
	case "import_from_statement":
		module := n.ChildByFieldName("module_name")
		prefix := Text(module, src)
		for _, child := range NamedChildren(n) {
			if module != nil && Key(child) == Key(module) {
				continue
			}
			switch child.Type() {
			case "dotted_name":
				name := Text(child, src)
				out = append(out, ImportBinding{Name: name, Path: joinModule(prefix, name), Node: child})
			case "aliased_import":
				alias := child.ChildByFieldName("alias")
				if alias == nil {
					continue
				}
				name := Text(child.ChildByFieldName("name"), src)
				out = append(out, ImportBinding{Name: Text(alias, src), Path: joinModule(prefix, name), Node: alias})
			}
		}
	}
	return out
}

func joinModule(prefix, name string) string {
	if prefix == "" || strings.HasSuffix(prefix, ".") {
		return prefix + name
	}
	return prefix + "." + name
}

// WithItem is one context manager of a with statement
type WithItem struct {
	Expr   *sitter.Node
	Target *sitter.Node
}

// WithItems lists the context managers of a with statement in order
func WithItems(n *sitter.Node) []WithItem {
	var out []WithItem
	for _, clause := range ChildrenOfType(n, "with_clause") {
		for _, item := range ChildrenOfType(clause, "with_item") {
			value := item.ChildByFieldName("value")
			if value == nil {
				continue
			}
			if value.Type() == "as_pattern" {
				parts := NamedChildren(value)
				wi := WithItem{Target: value.ChildByFieldName("alias")}
				if len(parts) > 0 {
					wi.Expr = parts[0]
				}
				out = append(out, wi)
				continue
			}
			out = append(out, WithItem{Expr: value})
		}
	}
	return out
}

// ComprehensionKind maps a comprehension node type to its scope label
func ComprehensionKind(typ string) (string, bool) {
	switch typ {
	case "list_comprehension":
		return "listcomp", true
	case "set_comprehension":
		return "setcomp", true
	case "dictionary_comprehension":
		return "dictcomp", true
	case "generator_expression":
		return "genexpr", true
	}
	return "", false
}

// ForInParts splits a comprehension for clause into its targets and iterables
func ForInParts(clause *sitter.Node) (left *sitter.Node, iters []*sitter.Node) {
	left = clause.ChildByFieldName("left")
	for _, child := range NamedChildren(clause) {
		if left != nil && Key(child) == Key(left) {
			continue
		}
		iters = append(iters, child)
	}
	return left, iters
}

// ComprehensionClauses returns the for/if clauses of a comprehension in source order
func ComprehensionClauses(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, child := range NamedChildren(n) {
		switch child.Type() {
		case "for_in_clause", "if_clause":
			out = append(out, child)
		}
	}
	return out
}

// MatchSubjects returns the subject expressions of a match statement
func MatchSubjects(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, child := range NamedChildren(n) {
		switch child.Type() {
		case "block", "case_clause":
			continue
		}
		out = append(out, child)
	}
	return out
}

// CaseParts splits a case clause into patterns, guard and body
func CaseParts(clause *sitter.Node) (patterns []*sitter.Node, guard, body *sitter.Node) {
	guard = clause.ChildByFieldName("guard")
	body = clause.ChildByFieldName("consequence")
	if body == nil {
		body = ChildOfType(clause, "block")
	}
	for _, child := range NamedChildren(clause) {
		if guard != nil && Key(child) == Key(guard) || body != nil && Key(child) == Key(body) {
			continue
		}
		patterns = append(patterns, child)
	}
	return patterns, guard, body
}

// IsIrrefutable reports whether a case arm matches every subject: `case _:` or
// a bare capture name, with no guard.
func IsIrrefutable(clause *sitter.Node, src []byte) bool {
	patterns, guard, _ := CaseParts(clause)
	if guard != nil || len(patterns) != 1 {
		return false
	}
	p := patterns[0]
	for p.Type() == "case_pattern" && len(NamedChildren(p)) == 1 {
		p = NamedChildren(p)[0]
	}
	text := strings.TrimSpace(Text(p, src))
	if text == "_" {
		return true
	}
	switch p.Type() {
	case "identifier", "dotted_name":
		return !strings.Contains(text, ".")
	}
	return false
}

// PatternCaptures returns the identifiers a case pattern binds. Dotted value
// patterns, keyword argument names and class names are not captures.
func PatternCaptures(n *sitter.Node, src []byte) []*sitter.Node {
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "identifier":
			if Text(n, src) != "_" {
				out = append(out, n)
			}
			return
		case "dotted_name":
			ids := NamedChildren(n)
			if len(ids) == 1 && Text(ids[0], src) != "_" {
				out = append(out, ids[0])
			}
			return
		case "class_pattern":
			for _, child := range NamedChildren(n) {
				if child.Type() == "dotted_name" {
					continue
				}
				walk(child)
			}
			return
		case "keyword_pattern":
			children := NamedChildren(n)
			for i, child := range children {
				if i == 0 && child.Type() == "identifier" {
					continue
				}
				walk(child)
			}
			return
		case "string", "integer", "float", "true", "false", "none", "concatenated_string",
			"complex_pattern":
			return
		}
		for _, child := range NamedChildren(n) {
			walk(child)
		}
	}
	walk(n)
	return out
}
