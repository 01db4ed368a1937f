package dfg

import (
	"go/constant"
	"go/token"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/syntax"
)

// Constant is a compile-time value of a Python expression
type Constant struct {
	Value constant.Value
	None  bool
}

func (c Constant) String() string {
	switch {
	case c.None:
		return "None"
	case c.Value == nil:
		return "?"
	case c.Value.Kind() == constant.Bool:
		if constant.BoolVal(c.Value) {
			return "True"
		}
		return "False"
	}
	return c.Value.ExactString()
}

// MarshalText renders the constant the way Python would print its literal
func (c Constant) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Equal reports whether two constants are the same value of the same kind
func (c Constant) Equal(o Constant) bool {
	if c.None || o.None {
		return c.None == o.None
	}
	if c.Value == nil || o.Value == nil || c.Value.Kind() != o.Value.Kind() {
		return false
	}
	return constant.Compare(c.Value, token.EQL, o.Value)
}

type latticeState int

const (
	stateUndef latticeState = iota
	stateConst
	stateNonConst
)

// cell is a lattice value: undefined < one constant < not constant
type cell struct {
	state latticeState
	val   Constant
}

var nonConst = cell{state: stateNonConst}

func constCell(v constant.Value) cell {
	if v == nil || v.Kind() == constant.Unknown {
		return nonConst
	}
	return cell{state: stateConst, val: Constant{Value: v}}
}

func join(a, b cell) cell {
	switch {
	case a.state == stateUndef:
		return b
	case b.state == stateUndef:
		return a
	case a.state == stateNonConst || b.state == stateNonConst:
		return nonConst
	case a.val.Equal(b.val):
		return a
	}
	return nonConst
}

// propagateConstants evaluates every definition's stored value over the
// values of the definitions reaching its operands until nothing changes.
func (r *Result) propagateConstants() {
	cells := make([]cell, len(r.Defs))
	for _, d := range r.Defs {
		if d.IsParam || d.Value == nil {
			cells[d.ID] = nonConst
		}
	}

	for changed := true; changed; {
		changed = false
		for _, d := range r.Defs {
			if cells[d.ID].state == stateNonConst {
				continue
			}
			next := join(cells[d.ID], r.evalDef(d, cells))
			if next.state != cells[d.ID].state {
				cells[d.ID] = next
				changed = true
			}
		}
	}

	for id, c := range cells {
		if c.state == stateConst {
			r.Constants[DefID(id)] = c.val
		}
	}
}

func (r *Result) evalDef(d *Definition, cells []cell) cell {
	if d.Context != resolve.CtxAugAssign {
		return r.evalExpr(d.Value, cells)
	}
	op := d.Value.ChildByFieldName("operator")
	if op == nil {
		return nonConst
	}
	left := r.readDefs(d.Ref, cells)
	right := r.evalExpr(d.Value.ChildByFieldName("right"), cells)
	return combine(left, right, func(x, y Constant) (Constant, bool) {
		return binaryOp(strings.TrimSuffix(r.text(op), "="), x, y)
	})
}

func (r *Result) text(n *sitter.Node) string {
	return syntax.Text(n, r.src)
}

// readDefs joins the values of the definitions reaching a read
func (r *Result) readDefs(ref resolve.RefID, cells []cell) cell {
	defs, ok := r.UseDef[ref]
	if !ok || len(defs) == 0 {
		return nonConst
	}
	acc := cell{}
	for _, d := range defs {
		acc = join(acc, cells[d])
	}
	return acc
}

func combine(x, y cell, f func(x, y Constant) (Constant, bool)) cell {
	if x.state == stateNonConst || y.state == stateNonConst {
		return nonConst
	}
	if x.state == stateUndef || y.state == stateUndef {
		return cell{}
	}
	v, ok := f(x.val, y.val)
	if !ok {
		return nonConst
	}
	return cell{state: stateConst, val: v}
}

func (r *Result) evalExpr(n *sitter.Node, cells []cell) cell {
	n = syntax.Unparen(n)
	if n == nil {
		return nonConst
	}
	switch n.Type() {
	case "integer":
		text := strings.ToLower(r.text(n))
		if strings.HasSuffix(text, "j") || strings.HasSuffix(text, "l") {
			return nonConst
		}
		return constCell(constant.MakeFromLiteral(text, token.INT, 0))
	case "float":
		text := strings.ReplaceAll(strings.ToLower(r.text(n)), "_", "")
		if strings.HasSuffix(text, "j") {
			return nonConst
		}
		return constCell(constant.MakeFromLiteral(text, token.FLOAT, 0))
	case "string":
		lit, ok := syntax.DecodeString(r.text(n))
		if !ok || lit.Bytes || lit.Formatted {
			return nonConst
		}
		return constCell(constant.MakeString(lit.Value))
	case "true":
		return constCell(constant.MakeBool(true))
	case "false":
		return constCell(constant.MakeBool(false))
	case "none":
		return cell{state: stateConst, val: Constant{None: true}}
	case "identifier":
		ref, ok := r.res.At(n)
		if !ok {
			return nonConst
		}
		return r.readDefs(ref.ID, cells)
	case "unary_operator":
		op := n.ChildByFieldName("operator")
		x := r.evalExpr(n.ChildByFieldName("argument"), cells)
		if op == nil {
			return nonConst
		}
		return combine(x, x, func(x, _ Constant) (Constant, bool) {
			return unaryOp(r.text(op), x)
		})
	case "not_operator":
		x := r.evalExpr(n.ChildByFieldName("argument"), cells)
		return combine(x, x, func(x, _ Constant) (Constant, bool) {
			t, ok := truthy(x)
			return Constant{Value: constant.MakeBool(!t)}, ok
		})
	case "binary_operator":
		op := n.ChildByFieldName("operator")
		if op == nil {
			return nonConst
		}
		x := r.evalExpr(n.ChildByFieldName("left"), cells)
		y := r.evalExpr(n.ChildByFieldName("right"), cells)
		return combine(x, y, func(x, y Constant) (Constant, bool) {
			return binaryOp(r.text(op), x, y)
		})
	case "boolean_operator":
		return r.evalBoolean(n, cells)
	case "comparison_operator":
		operands := syntax.NamedChildren(n)
		if len(operands) != 2 {
			return nonConst
		}
		op := strings.TrimSpace(string(r.src[operands[0].EndByte():operands[1].StartByte()]))
		x := r.evalExpr(operands[0], cells)
		y := r.evalExpr(operands[1], cells)
		return combine(x, y, func(x, y Constant) (Constant, bool) {
			return compare(op, x, y)
		})
	}
	return nonConst
}

// evalBoolean follows Python's and/or, which yield one of their operands
func (r *Result) evalBoolean(n *sitter.Node, cells []cell) cell {
	op := n.ChildByFieldName("operator")
	if op == nil {
		return nonConst
	}
	left := r.evalExpr(n.ChildByFieldName("left"), cells)
	if left.state != stateConst {
		return left
	}
	t, ok := truthy(left.val)
	if !ok {
		return nonConst
	}
	if (r.text(op) == "and") != t {
		return left
	}
	return r.evalExpr(n.ChildByFieldName("right"), cells)
}

func truthy(c Constant) (bool, bool) {
	if c.None {
		return false, true
	}
	switch c.Value.Kind() {
	case constant.Bool:
		return constant.BoolVal(c.Value), true
	case constant.Int, constant.Float:
		return constant.Sign(c.Value) != 0, true
	case constant.String:
		return constant.StringVal(c.Value) != "", true
	}
	return false, false
}

// numeric converts bools to ints and reports whether the value is a number
func numeric(c Constant) (constant.Value, bool) {
	if c.None {
		return nil, false
	}
	switch c.Value.Kind() {
	case constant.Int, constant.Float:
		return c.Value, true
	case constant.Bool:
		if constant.BoolVal(c.Value) {
			return constant.MakeInt64(1), true
		}
		return constant.MakeInt64(0), true
	}
	return nil, false
}

func unaryOp(op string, c Constant) (Constant, bool) {
	x, ok := numeric(c)
	if !ok {
		return Constant{}, false
	}
	switch op {
	case "-":
		return Constant{Value: constant.UnaryOp(token.SUB, x, 0)}, true
	case "+":
		return Constant{Value: x}, true
	case "~":
		if x.Kind() != constant.Int {
			return Constant{}, false
		}
		return Constant{Value: constant.UnaryOp(token.XOR, x, 0)}, true
	}
	return Constant{}, false
}

var arithmetic = map[string]token.Token{
	"+": token.ADD,
	"-": token.SUB,
	"*": token.MUL,
	"&": token.AND,
	"|": token.OR,
	"^": token.XOR,
}

// binaryOp evaluates x op y with Python semantics, reporting false when the
// operation would raise or is not modelled.
func binaryOp(op string, xc, yc Constant) (Constant, bool) {
	if op == "+" && !xc.None && !yc.None &&
		xc.Value.Kind() == constant.String && yc.Value.Kind() == constant.String {
		return Constant{Value: constant.BinaryOp(xc.Value, token.ADD, yc.Value)}, true
	}
	x, ok := numeric(xc)
	if !ok {
		return Constant{}, false
	}
	y, ok := numeric(yc)
	if !ok {
		return Constant{}, false
	}
	ints := x.Kind() == constant.Int && y.Kind() == constant.Int

	if tok, ok := arithmetic[op]; ok {
		if (tok == token.AND || tok == token.OR || tok == token.XOR) && !ints {
			return Constant{}, false
		}
		return Constant{Value: constant.BinaryOp(x, tok, y)}, true
	}

	switch op {
	case "/":
		if constant.Sign(y) == 0 {
			return Constant{}, false
		}
		return Constant{Value: constant.BinaryOp(constant.ToFloat(x), token.QUO, constant.ToFloat(y))}, true
	case "//", "%":
		if !ints || constant.Sign(y) == 0 {
			return Constant{}, false
		}
		q := constant.BinaryOp(x, token.QUO_ASSIGN, y)
		m := constant.BinaryOp(x, token.REM, y)
		// Python floors towards negative infinity
		if constant.Sign(m) != 0 && constant.Sign(m) != constant.Sign(y) {
			q = constant.BinaryOp(q, token.SUB, constant.MakeInt64(1))
			m = constant.BinaryOp(m, token.ADD, y)
		}
		if op == "//" {
			return Constant{Value: q}, true
		}
		return Constant{Value: m}, true
	case "**":
		n, exact := constant.Int64Val(y)
		if !ints || !exact || n < 0 || n > 256 {
			return Constant{}, false
		}
		result := constant.MakeInt64(1)
		for i := int64(0); i < n; i++ {
			result = constant.BinaryOp(result, token.MUL, x)
		}
		return Constant{Value: result}, true
	case "<<", ">>":
		n, exact := constant.Int64Val(y)
		if !ints || !exact || n < 0 || n > 1024 {
			return Constant{}, false
		}
		tok := token.SHL
		if op == ">>" {
			tok = token.SHR
		}
		return Constant{Value: constant.Shift(x, tok, uint(n))}, true
	}
	return Constant{}, false
}

var comparisons = map[string]token.Token{
	"==": token.EQL,
	"!=": token.NEQ,
	"<":  token.LSS,
	"<=": token.LEQ,
	">":  token.GTR,
	">=": token.GEQ,
}

func compare(op string, xc, yc Constant) (Constant, bool) {
	tok, ok := comparisons[op]
	if !ok {
		return Constant{}, false
	}
	if xc.None || yc.None {
		if tok != token.EQL && tok != token.NEQ {
			return Constant{}, false
		}
		return Constant{Value: constant.MakeBool((xc.None == yc.None) == (tok == token.EQL))}, true
	}

	x, xNum := numeric(xc)
	y, yNum := numeric(yc)
	strs := xc.Value.Kind() == constant.String && yc.Value.Kind() == constant.String
	switch {
	case xNum && yNum:
		return Constant{Value: constant.MakeBool(constant.Compare(x, tok, y))}, true
	case strs:
		return Constant{Value: constant.MakeBool(constant.Compare(xc.Value, tok, yc.Value))}, true
	case tok == token.EQL || tok == token.NEQ:
		// values of unrelated kinds are never equal
		return Constant{Value: constant.MakeBool(tok == token.NEQ)}, true
	}
	return Constant{}, false
}
