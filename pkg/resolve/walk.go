package resolve

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
)

// walkBlock visits statements in evaluation order, honouring the point where
// the symbol table builder stopped a malformed body.
func (r *resolver) walkBlock(block *sitter.Node, s *symbols.Scope) {
	for _, stmt := range syntax.Statements(block) {
		if r.halted || s.Skips(stmt.StartByte()) {
			return
		}
		if syntax.Broken(stmt) {
			if s.Kind == symbols.ScopeModule {
				continue
			}
			r.halted = true
			return
		}
		r.walkStmt(stmt, s)
	}
}

func (r *resolver) walkStmt(n *sitter.Node, s *symbols.Scope) {
	switch n.Type() {
	case "function_definition":
		r.walkFunction(n, s, nil)
	case "class_definition":
		r.walkClass(n, s, nil)
	case "decorated_definition":
		decorators := syntax.ChildrenOfType(n, "decorator")
		def := n.ChildByFieldName("definition")
		if def == nil {
			return
		}
		switch def.Type() {
		case "function_definition":
			r.walkFunction(def, s, decorators)
		case "class_definition":
			r.walkClass(def, s, decorators)
		}
	case "import_statement", "import_from_statement":
		for _, imp := range syntax.ImportBindings(n, r.src) {
			name := imp.Name
			sym, tier := r.bindingOf(s, name)
			r.add(&Reference{Name: name, Mode: ModeWrite, Context: CtxImport, Symbol: sym, Scope: s.ID, Tier: tier, Node: imp.Node})
		}
	case "future_import_statement", "global_statement", "nonlocal_statement",
		"pass_statement", "break_statement", "continue_statement":
	case "expression_statement":
		for _, child := range syntax.NamedChildren(n) {
			r.walkExprStmt(child, s)
		}
	case "if_statement":
		r.walkExpr(n.ChildByFieldName("condition"), s)
		r.walkBlock(n.ChildByFieldName("consequence"), s)
		for _, alt := range syntax.NamedChildren(n) {
			switch alt.Type() {
			case "elif_clause":
				r.walkExpr(alt.ChildByFieldName("condition"), s)
				r.walkBlock(alt.ChildByFieldName("consequence"), s)
			case "else_clause":
				r.walkBlock(syntax.Body(alt), s)
			}
		}
	case "for_statement":
		r.walkExpr(n.ChildByFieldName("right"), s)
		r.walkTarget(n.ChildByFieldName("left"), s, CtxFor, nil)
		r.walkBlock(n.ChildByFieldName("body"), s)
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			r.walkBlock(syntax.Body(alt), s)
		}
	case "while_statement":
		r.walkExpr(n.ChildByFieldName("condition"), s)
		r.walkBlock(n.ChildByFieldName("body"), s)
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			r.walkBlock(syntax.Body(alt), s)
		}
	case "try_statement":
		r.walkBlock(n.ChildByFieldName("body"), s)
		for _, clause := range syntax.NamedChildren(n) {
			switch clause.Type() {
			case "except_clause", "except_group_clause":
				r.walkExceptHeader(clause, s)
				r.walkBlock(syntax.Body(clause), s)
			case "else_clause", "finally_clause":
				r.walkBlock(syntax.Body(clause), s)
			}
		}
	case "with_statement":
		for _, item := range syntax.WithItems(n) {
			r.walkWithItem(item, s)
		}
		r.walkBlock(n.ChildByFieldName("body"), s)
	case "match_statement":
		for _, subject := range syntax.MatchSubjects(n) {
			r.walkExpr(subject, s)
		}
		for _, clause := range syntax.CaseClauses(n) {
			if r.halted {
				return
			}
			r.walkCaseHeader(clause, s)
			_, _, body := syntax.CaseParts(clause)
			r.walkBlock(body, s)
		}
	case "delete_statement":
		for _, target := range syntax.NamedChildren(n) {
			r.walkDelete(target, s)
		}
	default:
		r.walkExpr(n, s)
	}
}

// walkExceptHeader resolves the exception type and the "as" target of a handler
func (r *resolver) walkExceptHeader(clause *sitter.Node, s *symbols.Scope) {
	typ, alias := syntax.ExceptParts(clause)
	r.walkExpr(typ, s)
	r.walkTarget(alias, s, CtxExcept, nil)
}

func (r *resolver) walkWithItem(item syntax.WithItem, s *symbols.Scope) {
	r.walkExpr(item.Expr, s)
	r.walkTarget(item.Target, s, CtxWith, nil)
}

func (r *resolver) walkCaseHeader(clause *sitter.Node, s *symbols.Scope) {
	patterns, guard, _ := syntax.CaseParts(clause)
	for _, p := range patterns {
		r.walkPattern(p, s)
	}
	r.walkExpr(guard, s)
}

// walkPattern writes capture names and reads dotted value patterns and class names
func (r *resolver) walkPattern(p *sitter.Node, s *symbols.Scope) {
	captures := make(map[syntax.NodeKey]bool)
	for _, id := range syntax.PatternCaptures(p, r.src) {
		captures[syntax.Key(id)] = true
	}
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "identifier":
			if captures[syntax.Key(n)] {
				r.write(n, s, ModeWrite, CtxPattern, nil)
			} else if n.Parent() != nil && n.Parent().Type() == "dotted_name" {
				if first := syntax.NamedChildren(n.Parent()); len(first) > 0 && syntax.Key(first[0]) == syntax.Key(n) {
					r.read(n, s)
				}
			}
			return
		}
		for _, child := range syntax.NamedChildren(n) {
			walk(child)
		}
	}
	walk(p)
}

func (r *resolver) walkDelete(n *sitter.Node, s *symbols.Scope) {
	switch n.Type() {
	case "identifier":
		r.write(n, s, ModeDelete, CtxDelete, nil)
	case "expression_list", "tuple", "list", "parenthesized_expression":
		for _, child := range syntax.NamedChildren(n) {
			r.walkDelete(child, s)
		}
	default:
		r.walkExpr(n, s)
	}
}

func (r *resolver) walkExprStmt(n *sitter.Node, s *symbols.Scope) {
	switch n.Type() {
	case "assignment":
		r.walkAssignment(n, s)
	case "augmented_assignment":
		r.walkExpr(n.ChildByFieldName("right"), s)
		left := n.ChildByFieldName("left")
		if left != nil && left.Type() == "identifier" {
			r.write(left, s, ModeReadWrite, CtxAugAssign, n)
			return
		}
		r.walkExpr(left, s)
	default:
		r.walkExpr(n, s)
	}
}

// walkAssignment visits the right-hand side first, then binds the targets
func (r *resolver) walkAssignment(n *sitter.Node, s *symbols.Scope) {
	r.walkExpr(n.ChildByFieldName("type"), s)
	right := n.ChildByFieldName("right")
	value := right
	for value != nil && value.Type() == "assignment" {
		value = value.ChildByFieldName("right")
	}
	if right != nil {
		if right.Type() == "assignment" {
			r.walkAssignment(right, s)
		} else {
			r.walkExprStmt(right, s)
		}
	}
	left := n.ChildByFieldName("left")
	if right == nil {
		// annotation only: declares the name without storing a value
		if left != nil && left.Type() != "identifier" {
			r.walkExpr(left, s)
		}
		return
	}
	r.walkTarget(left, s, CtxAssign, value)
}

// walkTarget writes plain names in a binding target and reads everything else
func (r *resolver) walkTarget(n *sitter.Node, s *symbols.Scope, ctx Context, value *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		r.write(n, s, ModeWrite, ctx, value)
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list", "expression_list",
		"parenthesized_expression", "list_splat_pattern", "list_splat", "as_pattern_target":
		children := syntax.NamedChildren(n)
		if len(children) == 1 && (n.Type() == "parenthesized_expression" || n.Type() == "as_pattern_target") {
			r.walkTarget(children[0], s, ctx, value)
			return
		}
		for _, child := range children {
			r.walkTarget(child, s, ctx, nil)
		}
	default:
		r.walkExpr(n, s)
	}
}

func (r *resolver) walkExpr(n *sitter.Node, s *symbols.Scope) {
	if n == nil || syntax.IsMalformed(n) {
		return
	}
	switch n.Type() {
	case "identifier":
		r.read(n, s)
		return
	case "attribute":
		r.walkExpr(n.ChildByFieldName("object"), s)
		return
	case "keyword_argument":
		r.walkExpr(n.ChildByFieldName("value"), s)
		return
	case "call":
		r.res.Calls = append(r.res.Calls, Call{Node: n, Scope: s.ID, Caller: r.callerOf(s)})
	case "lambda":
		r.walkLambda(n, s)
		return
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		r.walkComprehension(n, s)
		return
	case "named_expression":
		r.walkExpr(n.ChildByFieldName("value"), s)
		if name := n.ChildByFieldName("name"); name != nil {
			target := r.walrusScope(s)
			ref := r.write(name, target, ModeWrite, CtxWalrus, n.ChildByFieldName("value"))
			// the comprehension stores through a cell of the enclosing function
			if target != s && ref.Tier == TierLocal {
				r.markFree(s, target, ref.Name)
			}
		}
		return
	case "integer", "float", "true", "false", "none", "ellipsis":
		return
	}
	for _, child := range syntax.NamedChildren(n) {
		r.walkExpr(child, s)
	}
}

func (r *resolver) walrusScope(s *symbols.Scope) *symbols.Scope {
	for s.Kind == symbols.ScopeComprehension {
		s = r.scope(s.Parent)
	}
	return s
}

func (r *resolver) callerOf(s *symbols.Scope) symbols.SymbolID {
	fn := r.table.Scope(r.table.EnclosingFunction(s.ID))
	if fn == nil {
		return symbols.NoSymbol
	}
	return fn.Owner
}

func (r *resolver) walkFunction(n *sitter.Node, s *symbols.Scope, decorators []*sitter.Node) {
	id, ok := r.table.ScopeFor(n)
	if !ok {
		return
	}
	fs := r.scope(id)
	for _, d := range decorators {
		r.walkExpr(d, s)
	}
	params := syntax.Params(n.ChildByFieldName("parameters"))
	for _, p := range params {
		r.walkExpr(p.Default, s)
		r.walkExpr(p.Annotation, s)
	}
	r.walkExpr(n.ChildByFieldName("return_type"), s)
	r.writeSymbol(n.ChildByFieldName("name"), s, fs.Owner, CtxDef)

	for _, p := range params {
		r.write(p.Name, fs, ModeWrite, CtxParam, nil)
	}
	r.walkBody(n.ChildByFieldName("body"), fs)
}

func (r *resolver) walkClass(n *sitter.Node, s *symbols.Scope, decorators []*sitter.Node) {
	id, ok := r.table.ScopeFor(n)
	if !ok {
		return
	}
	cs := r.scope(id)
	for _, d := range decorators {
		r.walkExpr(d, s)
	}
	r.walkExpr(n.ChildByFieldName("superclasses"), s)
	r.walkBody(n.ChildByFieldName("body"), cs)
	r.writeSymbol(n.ChildByFieldName("name"), s, cs.Owner, CtxDef)
}

func (r *resolver) walkBody(body *sitter.Node, s *symbols.Scope) {
	prev := r.halted
	r.halted = false
	r.walkBlock(body, s)
	r.halted = prev
}

func (r *resolver) walkLambda(n *sitter.Node, s *symbols.Scope) {
	id, ok := r.table.ScopeFor(n)
	if !ok {
		return
	}
	ls := r.scope(id)
	params := syntax.Params(n.ChildByFieldName("parameters"))
	for _, p := range params {
		r.walkExpr(p.Default, s)
	}
	for _, p := range params {
		r.write(p.Name, ls, ModeWrite, CtxParam, nil)
	}
	r.walkExpr(n.ChildByFieldName("body"), ls)
}

func (r *resolver) walkComprehension(n *sitter.Node, s *symbols.Scope) {
	id, ok := r.table.ScopeFor(n)
	if !ok {
		return
	}
	cs := r.scope(id)
	first := true
	for _, clause := range syntax.ComprehensionClauses(n) {
		switch clause.Type() {
		case "for_in_clause":
			left, iters := syntax.ForInParts(clause)
			outer := cs
			if first {
				outer = s
			}
			for _, it := range iters {
				r.walkExpr(it, outer)
			}
			first = false
			r.walkTarget(left, cs, CtxFor, nil)
		case "if_clause":
			for _, cond := range syntax.NamedChildren(clause) {
				r.walkExpr(cond, cs)
			}
		}
	}
	r.walkExpr(n.ChildByFieldName("body"), cs)
}
