package cfg

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
)

type frameKind int

const (
	frameLoop frameKind = iota
	frameTry
)

type exitKind int

const (
	exitNormal exitKind = iota
	exitReturn
	exitRaise
	exitBreak
	exitContinue
)

type handler struct {
	block    *Block
	types    []string
	catchAll bool
}

// finallyRegion is a finally clause. Its body is built once for every way
// control leaves the try statement, and each copy continues only where that
// exit goes.
type finallyRegion struct {
	entries map[exitKind]*Block
}

// frame is one enclosing loop or try statement
type frame struct {
	kind     frameKind
	header   *Block
	exit     *Block
	handlers []handler
	finally  *finallyRegion
}

// pythonCFGBuilder builds the CFG of one Python function.
type pythonCFGBuilder struct {
	src   []byte
	scope *symbols.Scope
	g     *Graph
	exit  *Block

	// cur is nil when the next statement cannot be reached by falling through
	cur *Block
	// split is set when cur ended with a raising statement inside a try body
	split  bool
	frames []frame
	halted bool
	edges  map[Edge]bool
}

// Build constructs the CFG of a def symbol from the table.
func Build(table *symbols.Table, fn *symbols.Symbol, src []byte) (*Graph, error) {
	if fn == nil || fn.Kind != symbols.KindFunction {
		return nil, fmt.Errorf("building cfg: not a function symbol")
	}
	scope := table.Scope(fn.Body)
	if scope == nil || fn.Node == nil {
		return nil, fmt.Errorf("building cfg for %s: function has no body", fn.QualifiedName)
	}

	b := &pythonCFGBuilder{
		src:   src,
		scope: scope,
		g: &Graph{
			Function: fn.ID,
			Name:     fn.QualifiedName,
			IDom:     make(map[BlockID]BlockID),
		},
		edges: make(map[Edge]bool),
	}
	entry := b.newBlock(BlockTypeEntry)
	b.exit = b.newBlock(BlockTypeExit)
	b.g.Entry, b.g.Exit = entry.ID, b.exit.ID
	entry.StartLine, entry.EndLine = fn.Span.Start.Line, fn.Span.Start.Line
	b.exit.StartLine, b.exit.EndLine = fn.Span.End.Line, fn.Span.End.Line

	b.cur = entry
	b.processBlock(fn.Node.ChildByFieldName("body"))
	if b.cur != nil {
		b.addEdge(b.cur, b.exit, EdgeTypeUnconditional, "")
	}

	if err := b.g.finish(); err != nil {
		return nil, fmt.Errorf("building cfg for %s: %w", fn.QualifiedName, err)
	}
	return b.g, nil
}

func (b *pythonCFGBuilder) newBlock(typ BlockType) *Block {
	blk := &Block{ID: BlockID(len(b.g.Blocks)), Type: typ}
	b.g.Blocks = append(b.g.Blocks, blk)
	return blk
}

func (b *pythonCFGBuilder) addEdge(from, to *Block, typ EdgeType, cond string) {
	if from == nil || to == nil {
		return
	}
	e := Edge{From: from.ID, To: to.ID, Type: typ, Condition: cond}
	if b.edges[e] {
		return
	}
	b.edges[e] = true
	b.g.Edges = append(b.g.Edges, e)
	if !containsBlock(from.Succs, to.ID) {
		from.Succs = append(from.Succs, to.ID)
		to.Preds = append(to.Preds, from.ID)
	}
}

func containsBlock(ids []BlockID, id BlockID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (b *pythonCFGBuilder) nodeText(n *sitter.Node) string {
	text := syntax.Text(n, b.src)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return text
}

// ensureBlock makes cur a block the next statement can be appended to
func (b *pythonCFGBuilder) ensureBlock() {
	switch {
	case b.cur == nil:
		b.cur = b.newBlock(BlockTypeUnreachable)
	case b.split:
		next := b.newBlock(BlockTypePlain)
		b.addEdge(b.cur, next, EdgeTypeUnconditional, "")
		b.cur = next
	}
	b.split = false
}

// appendNode adds a statement or header part to the current block. Inside a
// try, a raising node ends its block with exception edges.
func (b *pythonCFGBuilder) appendNode(n *sitter.Node, raising bool) {
	if n == nil {
		return
	}
	b.ensureBlock()
	b.cur.Statements = append(b.cur.Statements, n)
	if raising && b.guarded() {
		b.raiseFrom(b.cur, "")
		b.split = true
	}
}

// startBranch returns the block a construct branches from, closing any pending split
func (b *pythonCFGBuilder) startBranch(typ BlockType) *Block {
	b.ensureBlock()
	from := b.cur
	if from.Type == BlockTypePlain {
		from.Type = typ
	}
	return from
}

func (b *pythonCFGBuilder) guarded() bool {
	for _, f := range b.frames {
		if f.kind == frameTry {
			return true
		}
	}
	return false
}

func (b *pythonCFGBuilder) push(f frame) { b.frames = append(b.frames, f) }
func (b *pythonCFGBuilder) pop()         { b.frames = b.frames[:len(b.frames)-1] }

// processBlock processes the statements of a block in order.
func (b *pythonCFGBuilder) processBlock(block *sitter.Node) {
	for _, stmt := range syntax.Statements(block) {
		if b.halted {
			return
		}
		if b.scope.Skips(stmt.StartByte()) || syntax.Broken(stmt) {
			b.halted = true
			return
		}
		b.processStatement(stmt)
	}
}

func (b *pythonCFGBuilder) processStatement(n *sitter.Node) {
	switch n.Type() {
	case "if_statement":
		b.processIf(n)
	case "for_statement":
		b.processFor(n)
	case "while_statement":
		b.processWhile(n)
	case "try_statement":
		b.processTry(n)
	case "with_statement":
		b.processWith(n)
	case "match_statement":
		b.processMatch(n)
	case "return_statement":
		b.appendNode(n, canRaise(n))
		b.jumpReturn(b.cur)
		b.cur = nil
	case "raise_statement":
		b.appendNode(n, false)
		b.raiseFrom(b.cur, raisedType(n, b.src))
		b.cur = nil
	case "break_statement":
		b.appendNode(n, false)
		b.jumpBreak(b.cur)
		b.cur = nil
	case "continue_statement":
		b.appendNode(n, false)
		b.jumpContinue(b.cur)
		b.cur = nil
	case "function_definition":
		b.appendNode(n, false)
	case "class_definition", "decorated_definition":
		b.appendNode(n, true)
	default:
		b.appendNode(n, canRaise(n))
	}
}

func (b *pythonCFGBuilder) processIf(n *sitter.Node) {
	cond := n.ChildByFieldName("condition")
	b.appendNode(cond, canRaise(cond))
	branch := b.startBranch(BlockTypeBranch)
	b.split = false

	var tails []*Block
	b.cur = b.newBlock(BlockTypePlain)
	b.addEdge(branch, b.cur, EdgeTypeTrue, b.nodeText(cond))
	b.processBlock(n.ChildByFieldName("consequence"))
	if b.cur != nil {
		tails = append(tails, b.cur)
	}

	hasElse := false
	for _, alt := range syntax.NamedChildren(n) {
		switch alt.Type() {
		case "elif_clause":
			elifCond := alt.ChildByFieldName("condition")
			test := b.newBlock(BlockTypeBranch)
			b.addEdge(branch, test, EdgeTypeFalse, b.nodeText(cond))
			b.cur, b.split = test, false
			b.appendNode(elifCond, canRaise(elifCond))
			b.split = false
			branch, cond = test, elifCond

			b.cur = b.newBlock(BlockTypePlain)
			b.addEdge(branch, b.cur, EdgeTypeTrue, b.nodeText(cond))
			b.processBlock(alt.ChildByFieldName("consequence"))
			if b.cur != nil {
				tails = append(tails, b.cur)
			}
		case "else_clause":
			hasElse = true
			b.cur, b.split = b.newBlock(BlockTypePlain), false
			b.addEdge(branch, b.cur, EdgeTypeFalse, b.nodeText(cond))
			b.processBlock(syntax.Body(alt))
			if b.cur != nil {
				tails = append(tails, b.cur)
			}
		}
	}

	if len(tails) == 0 && hasElse {
		b.cur = nil
		return
	}
	join := b.newBlock(BlockTypeJoin)
	for _, t := range tails {
		b.addEdge(t, join, EdgeTypeUnconditional, "")
	}
	if !hasElse {
		b.addEdge(branch, join, EdgeTypeFalse, b.nodeText(cond))
	}
	b.cur, b.split = join, false
}

func (b *pythonCFGBuilder) processWhile(n *sitter.Node) {
	cond := n.ChildByFieldName("condition")
	header := b.newBlock(BlockTypeLoopHeader)
	if b.cur != nil {
		b.ensureBlock()
		b.addEdge(b.cur, header, EdgeTypeUnconditional, "")
	}
	b.cur, b.split = header, false
	b.appendNode(cond, canRaise(cond))
	b.split = false
	b.loop(n, header, b.nodeText(cond), alwaysTrue(cond, b.src))
}

func (b *pythonCFGBuilder) processFor(n *sitter.Node) {
	right := n.ChildByFieldName("right")
	b.appendNode(right, true)
	header := b.newBlock(BlockTypeLoopHeader)
	b.ensureBlock()
	b.addEdge(b.cur, header, EdgeTypeUnconditional, "")
	b.cur, b.split = header, false
	left := n.ChildByFieldName("left")
	b.appendNode(left, false)
	b.loop(n, header, b.nodeText(left)+" in "+b.nodeText(right), false)
}

// loop wires the body, else clause and exit of a loop whose header is built
func (b *pythonCFGBuilder) loop(n *sitter.Node, header *Block, cond string, infinite bool) {
	body := b.newBlock(BlockTypeLoopBody)
	exit := b.newBlock(BlockTypeLoopExit)
	b.addEdge(header, body, EdgeTypeTrue, cond)

	b.push(frame{kind: frameLoop, header: header, exit: exit})
	b.cur, b.split = body, false
	b.processBlock(n.ChildByFieldName("body"))
	b.pop()
	if b.cur != nil {
		b.ensureBlock()
		b.addEdge(b.cur, header, EdgeTypeBackEdge, "")
	}

	if !infinite {
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			b.cur, b.split = b.newBlock(BlockTypePlain), false
			b.addEdge(header, b.cur, EdgeTypeFalse, cond)
			b.processBlock(syntax.Body(alt))
			if b.cur != nil {
				b.ensureBlock()
				b.addEdge(b.cur, exit, EdgeTypeUnconditional, "")
			}
		} else {
			b.addEdge(header, exit, EdgeTypeFalse, cond)
		}
	}
	b.cur, b.split = exit, false
}

func (b *pythonCFGBuilder) processWith(n *sitter.Node) {
	for _, clause := range syntax.ChildrenOfType(n, "with_clause") {
		b.appendNode(clause, true)
	}
	b.processBlock(n.ChildByFieldName("body"))
}

func (b *pythonCFGBuilder) processMatch(n *sitter.Node) {
	for _, subject := range syntax.MatchSubjects(n) {
		b.appendNode(subject, canRaise(subject))
	}
	branch := b.startBranch(BlockTypeBranch)
	b.split = false

	var tails []*Block
	exhaustive := false
	for _, clause := range syntax.CaseClauses(n) {
		if b.halted {
			break
		}
		if syntax.Broken(clause) {
			b.halted = true
			break
		}
		patterns, guard, body := syntax.CaseParts(clause)
		arm := b.newBlock(BlockTypeCase)
		label := ""
		if len(patterns) > 0 {
			label = b.nodeText(patterns[0])
		}
		b.addEdge(branch, arm, EdgeTypeCase, label)
		b.cur, b.split = arm, false
		for _, p := range patterns {
			b.appendNode(p, false)
		}
		b.appendNode(guard, canRaise(guard))
		b.processBlock(body)
		if b.cur != nil {
			tails = append(tails, b.cur)
		}
		if syntax.IsIrrefutable(clause, b.src) {
			exhaustive = true
		}
	}

	if len(tails) == 0 && exhaustive {
		b.cur = nil
		return
	}
	join := b.newBlock(BlockTypeJoin)
	for _, t := range tails {
		b.addEdge(t, join, EdgeTypeUnconditional, "")
	}
	if !exhaustive {
		b.addEdge(branch, join, EdgeTypeFalse, "no case matched")
	}
	b.cur, b.split = join, false
}

func (b *pythonCFGBuilder) processTry(n *sitter.Node) {
	var excepts []*sitter.Node
	var elseClause, finallyClause *sitter.Node
	for _, clause := range syntax.NamedChildren(n) {
		switch clause.Type() {
		case "except_clause", "except_group_clause":
			excepts = append(excepts, clause)
		case "else_clause":
			elseClause = clause
		case "finally_clause":
			finallyClause = clause
		}
	}

	var fin *finallyRegion
	if finallyClause != nil {
		fin = &finallyRegion{entries: make(map[exitKind]*Block)}
	}
	handlers := make([]handler, 0, len(excepts))
	for _, clause := range excepts {
		typ, _ := syntax.ExceptParts(clause)
		h := handler{block: b.newBlock(BlockTypeHandler), types: handlerTypes(typ, b.src)}
		h.catchAll = typ == nil
		for _, t := range h.types {
			if syntax.IsCatchAll(t) {
				h.catchAll = true
			}
		}
		handlers = append(handlers, h)
	}

	start := b.newBlock(BlockTypePlain)
	if b.cur != nil {
		b.ensureBlock()
		b.addEdge(b.cur, start, EdgeTypeUnconditional, "")
	}
	b.cur, b.split = start, false

	b.push(frame{kind: frameTry, handlers: handlers, finally: fin})
	b.processBlock(n.ChildByFieldName("body"))
	b.pop()

	// the else clause and handlers are guarded only by the finally clause
	if fin != nil {
		b.push(frame{kind: frameTry, finally: fin})
	}
	var tails []*Block
	if b.cur != nil && elseClause != nil {
		b.ensureBlock()
		next := b.newBlock(BlockTypePlain)
		b.addEdge(b.cur, next, EdgeTypeUnconditional, "")
		b.cur, b.split = next, false
		b.processBlock(syntax.Body(elseClause))
	}
	if b.cur != nil {
		tails = append(tails, b.cur)
	}
	for i, clause := range excepts {
		b.cur, b.split = handlers[i].block, false
		typ, alias := syntax.ExceptParts(clause)
		b.appendNode(typ, false)
		b.appendNode(alias, false)
		b.processBlock(syntax.Body(clause))
		if b.cur != nil {
			tails = append(tails, b.cur)
		}
	}
	if fin != nil {
		b.pop()
	}

	if fin == nil {
		if len(tails) == 0 {
			b.cur = nil
			return
		}
		join := b.newBlock(BlockTypeJoin)
		for _, t := range tails {
			b.addEdge(t, join, EdgeTypeUnconditional, "")
		}
		b.cur, b.split = join, false
		return
	}

	for _, t := range tails {
		b.addEdge(t, b.finallyEntry(fin, exitNormal), EdgeTypeUnconditional, "")
	}

	var normal *Block
	for _, kind := range []exitKind{exitNormal, exitReturn, exitRaise, exitBreak, exitContinue} {
		entry, ok := fin.entries[kind]
		if !ok {
			continue
		}
		b.cur, b.split = entry, false
		b.processBlock(syntax.Body(finallyClause))
		if b.cur == nil {
			continue
		}
		b.ensureBlock()
		switch kind {
		case exitNormal:
			normal = b.cur
		case exitReturn:
			b.jumpReturn(b.cur)
		case exitRaise:
			b.raiseFrom(b.cur, "")
		case exitBreak:
			b.jumpBreak(b.cur)
		case exitContinue:
			b.jumpContinue(b.cur)
		}
	}
	if normal == nil {
		b.cur = nil
		return
	}
	join := b.newBlock(BlockTypeJoin)
	b.addEdge(normal, join, EdgeTypeUnconditional, "")
	b.cur, b.split = join, false
}

// finallyEntry returns the first block of the finally copy for one exit kind
func (b *pythonCFGBuilder) finallyEntry(fin *finallyRegion, kind exitKind) *Block {
	if blk, ok := fin.entries[kind]; ok {
		return blk
	}
	blk := b.newBlock(BlockTypeFinally)
	fin.entries[kind] = blk
	return blk
}

// raiseFrom routes an exception leaving from to the handlers that could catch
// it, then through finally clauses, and finally to the function exit.
func (b *pythonCFGBuilder) raiseFrom(from *Block, raised string) {
	if from == nil {
		return
	}
	for i := len(b.frames) - 1; i >= 0; i-- {
		f := b.frames[i]
		if f.kind != frameTry {
			continue
		}
		for _, h := range f.handlers {
			if !mayCatch(h, raised) {
				continue
			}
			b.addEdge(from, h.block, EdgeTypeException, strings.Join(h.types, ", "))
			if h.catchAll || definitelyCatches(h, raised) {
				return
			}
		}
		if f.finally != nil {
			b.addEdge(from, b.finallyEntry(f.finally, exitRaise), EdgeTypeFinally, "raise")
			return
		}
	}
	b.addEdge(from, b.exit, EdgeTypeException, "")
}

func (b *pythonCFGBuilder) jumpReturn(from *Block) {
	if from == nil {
		return
	}
	for i := len(b.frames) - 1; i >= 0; i-- {
		if f := b.frames[i]; f.kind == frameTry && f.finally != nil {
			b.addEdge(from, b.finallyEntry(f.finally, exitReturn), EdgeTypeFinally, "return")
			return
		}
	}
	b.addEdge(from, b.exit, EdgeTypeReturn, "")
}

func (b *pythonCFGBuilder) jumpBreak(from *Block) {
	b.jumpLoop(from, exitBreak)
}

func (b *pythonCFGBuilder) jumpContinue(from *Block) {
	b.jumpLoop(from, exitContinue)
}

func (b *pythonCFGBuilder) jumpLoop(from *Block, kind exitKind) {
	if from == nil {
		return
	}
	for i := len(b.frames) - 1; i >= 0; i-- {
		f := b.frames[i]
		switch {
		case f.kind == frameLoop && kind == exitBreak:
			b.addEdge(from, f.exit, EdgeTypeBreak, "")
			return
		case f.kind == frameLoop:
			b.addEdge(from, f.header, EdgeTypeContinue, "")
			return
		case f.finally != nil:
			label := "break"
			if kind == exitContinue {
				label = "continue"
			}
			b.addEdge(from, b.finallyEntry(f.finally, kind), EdgeTypeFinally, label)
			return
		}
	}
}

// handlerTypes lists the exception names an except clause names
func handlerTypes(typ *sitter.Node, src []byte) []string {
	typ = syntax.Unparen(typ)
	if typ == nil {
		return nil
	}
	if typ.Type() == "tuple" || typ.Type() == "expression_list" {
		var out []string
		for _, child := range syntax.NamedChildren(typ) {
			out = append(out, syntax.Text(child, src))
		}
		return out
	}
	return []string{syntax.Text(typ, src)}
}

// raisedType names the class a raise statement raises, or "" when unknown
func raisedType(n *sitter.Node, src []byte) string {
	exprs := syntax.NamedChildren(n)
	if len(exprs) == 0 {
		return ""
	}
	expr := exprs[0]
	if expr.Type() == "call" {
		expr = expr.ChildByFieldName("function")
	}
	name, ok := syntax.DottedName(expr, src)
	if !ok {
		return ""
	}
	return name
}

// builtinParent is the builtin exception hierarchy for the common classes
var builtinParent = map[string]string{
	"Exception":           "BaseException",
	"KeyboardInterrupt":   "BaseException",
	"SystemExit":          "BaseException",
	"GeneratorExit":       "BaseException",
	"ArithmeticError":     "Exception",
	"ZeroDivisionError":   "ArithmeticError",
	"OverflowError":       "ArithmeticError",
	"LookupError":         "Exception",
	"KeyError":            "LookupError",
	"IndexError":          "LookupError",
	"OSError":             "Exception",
	"FileNotFoundError":   "OSError",
	"PermissionError":     "OSError",
	"TimeoutError":        "OSError",
	"ValueError":          "Exception",
	"UnicodeError":        "ValueError",
	"TypeError":           "Exception",
	"RuntimeError":        "Exception",
	"NotImplementedError": "RuntimeError",
	"RecursionError":      "RuntimeError",
	"NameError":           "Exception",
	"AttributeError":      "Exception",
	"AssertionError":      "Exception",
	"ImportError":         "Exception",
	"ModuleNotFoundError": "ImportError",
	"StopIteration":       "Exception",
}

func isBuiltinException(name string) bool {
	_, ok := builtinParent[name]
	return ok || name == "BaseException"
}

// definitelyCatches reports whether the handler names raised or one of its builtin ancestors
func definitelyCatches(h handler, raised string) bool {
	if raised == "" {
		return false
	}
	for cls := raised; cls != ""; cls = builtinParent[cls] {
		for _, t := range h.types {
			if t == cls {
				return true
			}
		}
	}
	return false
}

// mayCatch is false only when both sides are builtin exceptions and the
// handler is not an ancestor of the raised class.
func mayCatch(h handler, raised string) bool {
	if h.catchAll || raised == "" || !isBuiltinException(raised) {
		return true
	}
	if definitelyCatches(h, raised) {
		return true
	}
	for _, t := range h.types {
		if !isBuiltinException(t) {
			return true
		}
	}
	return false
}

// canRaise reports whether evaluating n may raise an exception
func canRaise(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "call", "attribute", "subscript", "await", "binary_operator", "assert_statement",
		"raise_statement", "import_statement", "import_from_statement", "delete_statement",
		"yield", "with_clause", "print_statement", "exec_statement":
		return true
	case "lambda", "function_definition":
		return false
	}
	for _, child := range syntax.NamedChildren(n) {
		if canRaise(child) {
			return true
		}
	}
	return false
}

// alwaysTrue reports conditions that are literally true, making a loop infinite
func alwaysTrue(cond *sitter.Node, src []byte) bool {
	cond = syntax.Unparen(cond)
	if cond == nil {
		return false
	}
	switch cond.Type() {
	case "true":
		return true
	case "integer":
		text := strings.TrimLeft(strings.ReplaceAll(syntax.Text(cond, src), "_", ""), "0")
		return text != ""
	}
	return false
}
