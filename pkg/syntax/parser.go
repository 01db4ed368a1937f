// Package syntax holds the thin layer between go-tree-sitter and the analysis stages:
// a convenience parser for Python source, node helpers, decorator classification and
// the builtin name table.
package syntax

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ErrNilTree is returned when the parser produced no tree
var ErrNilTree = errors.New("parser returned no syntax tree")

// NewPythonParser creates a new tree-sitter parser for Python.
func NewPythonParser() *sitter.Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return parser
}

// Parse parses Python source into a syntax tree. A tree with syntax errors is
// still returned; malformed regions show up as ERROR or missing nodes.
func Parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := NewPythonParser()
	defer parser.Close()

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing python source: %w", err)
	}
	if tree == nil {
		return nil, ErrNilTree
	}
	return tree, nil
}

// MustParse parses source and panics on failure. Intended for tests and fixtures.
func MustParse(src string) *sitter.Tree {
	tree, err := Parse(context.Background(), []byte(src))
	if err != nil {
		panic(err)
	}
	return tree
}
