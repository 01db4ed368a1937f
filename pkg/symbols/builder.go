package symbols

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/syntax"
	"github.com/l3aro/pystruct/pkg/types"
)

// builder walks the module tree once, declaring every binding it meets
type builder struct {
	src    []byte
	table  *Table
	halted bool
}

// Build constructs the symbol table and scope tree for a module. It never
// fails: malformed regions produce input-error diagnostics on the table.
func Build(root *sitter.Node, src []byte, file, module string) *Table {
	if module == "" {
		module = ModuleName(file)
	}
	t := newTable(file, module)
	if root == nil {
		t.newScope(ScopeModule, module, module, NoScope, NoSymbol, nil)
		return t
	}

	b := &builder{src: src, table: t}
	mod := t.newScope(ScopeModule, module, module, NoScope, NoSymbol, root)
	b.collectDeclarations(root, mod)
	b.walkBlock(root, mod)
	return t
}

func (t *Table) newScope(kind ScopeKind, name, qname string, parent ScopeID, owner SymbolID, node *sitter.Node) *Scope {
	s := &Scope{
		ID:            ScopeID(len(t.Scopes)),
		Kind:          kind,
		Name:          name,
		QualifiedName: qname,
		Parent:        parent,
		Owner:         owner,
		Bindings:      make(map[string]SymbolID),
		Globals:       make(map[string]bool),
		Nonlocals:     make(map[string]bool),
		Free:          make(map[string]bool),
		Cell:          make(map[string]bool),
		Span:          syntax.SpanOf(node),
		Node:          node,
	}
	t.Scopes = append(t.Scopes, s)
	if p := t.Scope(parent); p != nil {
		p.Children = append(p.Children, s.ID)
	}
	if node != nil {
		t.byNode[syntax.Key(node)] = s.ID
	}
	return s
}

// uniqueQName appends a #n ordinal when qname is already taken
func (t *Table) uniqueQName(qname string) string {
	if _, taken := t.byQName[qname]; !taken {
		return qname
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s#%d", qname, n)
		if _, taken := t.byQName[candidate]; !taken {
			return candidate
		}
	}
}

func (t *Table) newSymbol(scope *Scope, name string, kind SymbolKind, node *sitter.Node) *Symbol {
	sym := &Symbol{
		ID:            SymbolID(len(t.Symbols)),
		Name:          name,
		QualifiedName: t.uniqueQName(scope.QualifiedName + "." + name),
		Kind:          kind,
		Span:          syntax.SpanOf(node),
		Scope:         scope.ID,
		Body:          NoScope,
		Node:          node,
	}
	t.Symbols = append(t.Symbols, sym)
	t.byQName[sym.QualifiedName] = sym.ID
	scope.bind(name, sym.ID)
	return sym
}

// target returns the scope a binding of name in s lands in
func (b *builder) target(s *Scope, name string) (*Scope, bool) {
	if s.Globals[name] {
		return b.table.ModuleScope(), true
	}
	if s.Nonlocals[name] {
		return nil, false
	}
	return s, true
}

// bindVariable binds name in s, reusing an existing binding
func (b *builder) bindVariable(s *Scope, name string, node *sitter.Node, kind SymbolKind) *Symbol {
	target, ok := b.target(s, name)
	if !ok || name == "" {
		return nil
	}
	if id, ok := target.Lookup(name); ok {
		return b.table.Symbols[id]
	}
	return b.table.newSymbol(target, name, kind, node)
}

// declare creates a fresh def or class symbol; a redefinition gets its own symbol
func (b *builder) declare(s *Scope, name string, kind SymbolKind, node *sitter.Node) *Symbol {
	target, ok := b.target(s, name)
	if !ok {
		target = s
	}
	return b.table.newSymbol(target, name, kind, node)
}

func (b *builder) inputError(s *Scope, node *sitter.Node, reason string) {
	bad := syntax.FirstMalformed(node)
	if bad == nil {
		bad = node
	}
	pos := syntax.Pos(bad)
	d := types.Diagnostic{
		Kind:     types.DiagInput,
		Severity: types.SeverityError,
		File:     b.table.File,
		Scope:    s.QualifiedName,
		Line:     pos.Line,
		Column:   pos.Column,
		Message:  reason,
	}
	if s.Kind == ScopeFunction {
		d.Function = s.QualifiedName
	}
	b.table.Diagnostics = append(b.table.Diagnostics, d)
}

// walkBlock declares the statements of a block. Inside a def or class body
// the first malformed statement ends the walk; at module level it is skipped.
func (b *builder) walkBlock(block *sitter.Node, s *Scope) {
	for _, stmt := range syntax.Statements(block) {
		if b.halted {
			return
		}
		if syntax.Broken(stmt) {
			if s.Kind == ScopeModule {
				b.inputError(s, stmt, "malformed statement skipped")
				continue
			}
			b.inputError(s, stmt, "malformed statement; rest of body not analysed")
			s.Truncated = true
			s.StopByte = stmt.StartByte()
			b.halted = true
			return
		}
		b.walkStmt(stmt, s)
	}
}

func (b *builder) walkStmt(n *sitter.Node, s *Scope) {
	switch n.Type() {
	case "function_definition":
		b.declareFunction(n, s, nil)
	case "class_definition":
		b.declareClass(n, s, nil)
	case "decorated_definition":
		decorators := syntax.ChildrenOfType(n, "decorator")
		def := n.ChildByFieldName("definition")
		if def == nil {
			return
		}
		switch def.Type() {
		case "function_definition":
			b.declareFunction(def, s, decorators)
		case "class_definition":
			b.declareClass(def, s, decorators)
		}
	case "import_statement", "import_from_statement":
		for _, imp := range syntax.ImportBindings(n, b.src) {
			if sym := b.bindVariable(s, imp.Name, imp.Node, KindImport); sym != nil && sym.Kind == KindImport && sym.ImportPath == "" {
				sym.ImportPath = imp.Path
			}
		}
	case "future_import_statement", "global_statement", "nonlocal_statement",
		"pass_statement", "break_statement", "continue_statement":
	case "expression_statement":
		for _, child := range syntax.NamedChildren(n) {
			b.walkExprStmt(child, s)
		}
	case "if_statement":
		b.walkExpr(n.ChildByFieldName("condition"), s)
		b.walkBlock(n.ChildByFieldName("consequence"), s)
		for _, alt := range syntax.NamedChildren(n) {
			switch alt.Type() {
			case "elif_clause":
				b.walkExpr(alt.ChildByFieldName("condition"), s)
				b.walkBlock(alt.ChildByFieldName("consequence"), s)
			case "else_clause":
				b.walkBlock(syntax.Body(alt), s)
			}
		}
	case "for_statement":
		b.walkExpr(n.ChildByFieldName("right"), s)
		b.bindTarget(n.ChildByFieldName("left"), s, nil)
		b.walkBlock(n.ChildByFieldName("body"), s)
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			b.walkBlock(syntax.Body(alt), s)
		}
	case "while_statement":
		b.walkExpr(n.ChildByFieldName("condition"), s)
		b.walkBlock(n.ChildByFieldName("body"), s)
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			b.walkBlock(syntax.Body(alt), s)
		}
	case "try_statement":
		b.walkBlock(n.ChildByFieldName("body"), s)
		for _, clause := range syntax.NamedChildren(n) {
			switch clause.Type() {
			case "except_clause", "except_group_clause":
				typ, alias := syntax.ExceptParts(clause)
				b.walkExpr(typ, s)
				b.bindTarget(alias, s, nil)
				b.walkBlock(syntax.Body(clause), s)
			case "else_clause", "finally_clause":
				b.walkBlock(syntax.Body(clause), s)
			}
		}
	case "with_statement":
		for _, item := range syntax.WithItems(n) {
			b.walkExpr(item.Expr, s)
			b.bindTarget(item.Target, s, nil)
		}
		b.walkBlock(n.ChildByFieldName("body"), s)
	case "match_statement":
		for _, subject := range syntax.MatchSubjects(n) {
			b.walkExpr(subject, s)
		}
		for _, clause := range syntax.CaseClauses(n) {
			if b.halted {
				return
			}
			patterns, guard, body := syntax.CaseParts(clause)
			for _, p := range patterns {
				for _, id := range syntax.PatternCaptures(p, b.src) {
					b.bindVariable(s, syntax.Text(id, b.src), id, KindVariable)
				}
			}
			b.walkExpr(guard, s)
			b.walkBlock(body, s)
		}
	case "delete_statement":
		for _, target := range syntax.NamedChildren(n) {
			b.bindTarget(target, s, nil)
		}
	default:
		b.walkExpr(n, s)
	}
}

func (b *builder) walkExprStmt(n *sitter.Node, s *Scope) {
	switch n.Type() {
	case "assignment":
		b.walkAssignment(n, s)
	case "augmented_assignment":
		b.walkExpr(n.ChildByFieldName("right"), s)
		b.bindTarget(n.ChildByFieldName("left"), s, nil)
	default:
		b.walkExpr(n, s)
	}
}

func (b *builder) walkAssignment(n *sitter.Node, s *Scope) {
	annotation := n.ChildByFieldName("type")
	b.walkExpr(annotation, s)
	if right := n.ChildByFieldName("right"); right != nil {
		if right.Type() == "assignment" {
			b.walkAssignment(right, s)
		} else {
			b.walkExprStmt(right, s)
		}
	}
	b.bindTarget(n.ChildByFieldName("left"), s, annotation)
}

// bindTarget binds every plain name in an assignment target
func (b *builder) bindTarget(n *sitter.Node, s *Scope, annotation *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		sym := b.bindVariable(s, syntax.Text(n, b.src), n, KindVariable)
		if sym != nil && annotation != nil && sym.Annotation == "" {
			sym.Annotation = syntax.Text(annotation, b.src)
		}
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list", "expression_list",
		"parenthesized_expression", "list_splat_pattern", "list_splat", "as_pattern_target":
		for _, child := range syntax.NamedChildren(n) {
			b.bindTarget(child, s, nil)
		}
	default:
		b.walkExpr(n, s)
	}
}

// walkExpr finds the scopes and walrus bindings inside an expression
func (b *builder) walkExpr(n *sitter.Node, s *Scope) {
	if n == nil || syntax.IsMalformed(n) {
		return
	}
	switch n.Type() {
	case "lambda":
		b.declareLambda(n, s)
		return
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		b.declareComprehension(n, s)
		return
	case "named_expression":
		b.walkExpr(n.ChildByFieldName("value"), s)
		if name := n.ChildByFieldName("name"); name != nil {
			b.bindVariable(b.walrusScope(s), syntax.Text(name, b.src), name, KindVariable)
		}
		return
	case "identifier", "string", "integer", "float", "true", "false", "none":
		return
	}
	for _, child := range syntax.NamedChildren(n) {
		b.walkExpr(child, s)
	}
}

// walrusScope is the nearest enclosing scope that is not a comprehension
func (b *builder) walrusScope(s *Scope) *Scope {
	for s.Kind == ScopeComprehension {
		s = b.table.Scopes[s.Parent]
	}
	return s
}

func (b *builder) declareFunction(n *sitter.Node, s *Scope, decorators []*sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		b.inputError(s, n, "function definition without a name")
		return
	}
	name := syntax.Text(nameNode, b.src)

	for _, d := range decorators {
		b.walkExpr(d, s)
	}
	params := syntax.Params(n.ChildByFieldName("parameters"))
	for _, p := range params {
		b.walkExpr(p.Default, s)
		b.walkExpr(p.Annotation, s)
	}
	returnType := n.ChildByFieldName("return_type")
	b.walkExpr(returnType, s)

	sym := b.declare(s, name, KindFunction, n)
	body := n.ChildByFieldName("body")
	sym.Docstring = syntax.Docstring(body, b.src)
	sym.Annotation = syntax.Text(returnType, b.src)
	sym.IsAsync = syntax.HasToken(n, "async")
	for _, d := range decorators {
		dec := syntax.ParseDecorator(d, b.src)
		sym.Decorators = append(sym.Decorators, dec.Text)
		switch {
		case dec.Is("staticmethod"):
			sym.IsStaticMethod = true
		case dec.Is("classmethod"):
			sym.IsClassMethod = true
		}
	}

	fs := b.table.newScope(ScopeFunction, name, sym.QualifiedName, s.ID, sym.ID, n)
	sym.Body = fs.ID
	for _, p := range params {
		param := b.table.newSymbol(fs, syntax.Text(p.Name, b.src), KindParameter, p.Name)
		param.Annotation = syntax.Text(p.Annotation, b.src)
	}
	b.walkBody(body, fs)
}

func (b *builder) declareClass(n *sitter.Node, s *Scope, decorators []*sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		b.inputError(s, n, "class definition without a name")
		return
	}
	name := syntax.Text(nameNode, b.src)

	for _, d := range decorators {
		b.walkExpr(d, s)
	}
	supers := n.ChildByFieldName("superclasses")
	b.walkExpr(supers, s)

	sym := b.declare(s, name, KindClass, n)
	body := n.ChildByFieldName("body")
	sym.Docstring = syntax.Docstring(body, b.src)
	for _, d := range decorators {
		sym.Decorators = append(sym.Decorators, syntax.ParseDecorator(d, b.src).Text)
	}
	for _, base := range syntax.NamedChildren(supers) {
		if base.Type() == "keyword_argument" {
			continue
		}
		sym.Bases = append(sym.Bases, syntax.Text(base, b.src))
	}

	cs := b.table.newScope(ScopeClass, name, sym.QualifiedName, s.ID, sym.ID, n)
	sym.Body = cs.ID
	b.walkBody(body, cs)
}

// walkBody walks a def or class body in its own scope
func (b *builder) walkBody(body *sitter.Node, s *Scope) {
	b.collectDeclarations(body, s)
	prev := b.halted
	b.halted = false
	b.walkBlock(body, s)
	b.halted = prev
}

func anonymousName(label string, n *sitter.Node) string {
	pos := syntax.Pos(n)
	return fmt.Sprintf("<%s@%d:%d>", label, pos.Line, pos.Column)
}

func (b *builder) declareLambda(n *sitter.Node, s *Scope) {
	params := syntax.Params(n.ChildByFieldName("parameters"))
	for _, p := range params {
		b.walkExpr(p.Default, s)
	}
	name := anonymousName("lambda", n)
	ls := b.table.newScope(ScopeLambda, name, s.QualifiedName+"."+name, s.ID, NoSymbol, n)
	for _, p := range params {
		b.table.newSymbol(ls, syntax.Text(p.Name, b.src), KindParameter, p.Name)
	}
	b.walkExpr(n.ChildByFieldName("body"), ls)
}

func (b *builder) declareComprehension(n *sitter.Node, s *Scope) {
	label, _ := syntax.ComprehensionKind(n.Type())
	clauses := syntax.ComprehensionClauses(n)

	// the first iterable is evaluated in the enclosing scope
	first := true
	for _, clause := range clauses {
		if clause.Type() == "for_in_clause" {
			_, iters := syntax.ForInParts(clause)
			for _, it := range iters {
				b.walkExpr(it, s)
			}
			break
		}
	}

	name := anonymousName(label, n)
	cs := b.table.newScope(ScopeComprehension, name, s.QualifiedName+"."+name, s.ID, NoSymbol, n)
	for _, clause := range clauses {
		switch clause.Type() {
		case "for_in_clause":
			left, iters := syntax.ForInParts(clause)
			if !first {
				for _, it := range iters {
					b.walkExpr(it, cs)
				}
			}
			first = false
			b.bindTarget(left, cs, nil)
		case "if_clause":
			for _, cond := range syntax.NamedChildren(clause) {
				b.walkExpr(cond, cs)
			}
		}
	}
	b.walkExpr(n.ChildByFieldName("body"), cs)
}

// collectDeclarations records global and nonlocal statements of a body
// before any binding in it is processed.
func (b *builder) collectDeclarations(n *sitter.Node, s *Scope) {
	for _, child := range syntax.NamedChildren(n) {
		switch child.Type() {
		case "function_definition", "class_definition", "decorated_definition", "lambda":
			continue
		case "global_statement":
			for _, id := range syntax.ChildrenOfType(child, "identifier") {
				s.Globals[syntax.Text(id, b.src)] = true
			}
			continue
		case "nonlocal_statement":
			for _, id := range syntax.ChildrenOfType(child, "identifier") {
				s.Nonlocals[syntax.Text(id, b.src)] = true
			}
			continue
		}
		b.collectDeclarations(child, s)
	}
}
