package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// DecoratorForm is the shape of a decorator expression
type DecoratorForm int

const (
	DecoratorName      DecoratorForm = iota // @name
	DecoratorAttribute                      // @pkg.name
	DecoratorCall                           // @name(...) or @pkg.name(...)
	DecoratorOther                          // any other expression (PEP 614)
)

func (f DecoratorForm) String() string {
	switch f {
	case DecoratorName:
		return "name"
	case DecoratorAttribute:
		return "attribute"
	case DecoratorCall:
		return "call"
	default:
		return "other"
	}
}

// Decorator is a classified decorator
type Decorator struct {
	Form DecoratorForm
	// Target is the dotted name being applied, without call arguments.
	// Empty for DecoratorOther.
	Target string
	// Text is the expression after the @ verbatim
	Text string
	Node *sitter.Node
}

// Is reports whether the decorator applies the given dotted name, with or without arguments
func (d Decorator) Is(name string) bool {
	return d.Target == name
}

// ParseDecorator classifies a decorator node
func ParseDecorator(node *sitter.Node, src []byte) Decorator {
	expr := node
	if node != nil && node.Type() == "decorator" {
		children := NamedChildren(node)
		if len(children) > 0 {
			expr = children[0]
		}
	}
	d := Decorator{Form: DecoratorOther, Text: Text(expr, src), Node: expr}
	if expr == nil {
		return d
	}

	switch expr.Type() {
	case "identifier":
		d.Form = DecoratorName
		d.Target = d.Text
	case "attribute":
		if name, ok := DottedName(expr, src); ok {
			d.Form = DecoratorAttribute
			d.Target = name
		}
	case "call":
		if name, ok := DottedName(expr.ChildByFieldName("function"), src); ok {
			d.Form = DecoratorCall
			d.Target = name
		}
	}
	return d
}

// DottedName renders an identifier or a chain of attribute accesses on an
// identifier as "a.b.c". It reports false for any other expression.
func DottedName(n *sitter.Node, src []byte) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case "identifier":
		return Text(n, src), true
	case "attribute":
		base, ok := DottedName(n.ChildByFieldName("object"), src)
		if !ok {
			return "", false
		}
		attr := n.ChildByFieldName("attribute")
		if attr == nil {
			return "", false
		}
		return base + "." + Text(attr, src), true
	case "dotted_name":
		return Text(n, src), true
	}
	return "", false
}
