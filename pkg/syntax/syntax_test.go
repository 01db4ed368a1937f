package syntax

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWellFormed(t *testing.T) {
	src := []byte("def f(a):\n    return a\n")
	tree, err := Parse(context.Background(), src)
	require.NoError(t, err)

	root := tree.RootNode()
	assert.Equal(t, "module", root.Type())
	assert.False(t, root.HasError())
	assert.Nil(t, FirstMalformed(root))

	stmts := Statements(root)
	require.Len(t, stmts, 1)
	assert.Equal(t, "function_definition", stmts[0].Type())
	assert.Equal(t, "f", Text(stmts[0].ChildByFieldName("name"), src))

	pos := Pos(stmts[0])
	assert.Equal(t, 1, pos.Line)
	assert.Equal(t, 0, pos.Column)
}

func TestParseMalformed(t *testing.T) {
	src := []byte("def good():\n    return 1\n\ndef f(\n")
	tree, err := Parse(context.Background(), src)
	require.NoError(t, err)

	root := tree.RootNode()
	assert.True(t, root.HasError())
	bad := FirstMalformed(root)
	require.NotNil(t, bad)
	assert.GreaterOrEqual(t, Pos(bad).Line, 1)
}

func TestDocstring(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{name: "double quoted", code: "def f():\n    \"\"\"Adds things.\"\"\"\n    pass\n", want: "Adds things."},
		{name: "single quoted", code: "def f():\n    'one'\n", want: "one"},
		{name: "raw prefix", code: "def f():\n    r'a\\b'\n", want: `a\b`},
		{name: "no docstring", code: "def f():\n    x = 'no'\n", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := []byte(tt.code)
			tree := MustParse(tt.code)
			fn := Statements(tree.RootNode())[0]
			assert.Equal(t, tt.want, Docstring(fn.ChildByFieldName("body"), src))
		})
	}
}

func TestDecodeString(t *testing.T) {
	tests := []struct {
		text      string
		want      string
		ok        bool
		formatted bool
		bytes     bool
	}{
		{text: `"abc"`, want: "abc", ok: true},
		{text: `'a\nb'`, want: "a\nb", ok: true},
		{text: `b'xy'`, want: "xy", ok: true, bytes: true},
		{text: `f"{x}"`, want: "{x}", ok: true, formatted: true},
		{text: `'''tri'''`, want: "tri", ok: true},
		{text: `abc`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			lit, ok := DecodeString(tt.text)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.want, lit.Value)
			assert.Equal(t, tt.formatted, lit.Formatted)
			assert.Equal(t, tt.bytes, lit.Bytes)
		})
	}
}

func TestParseDecorator(t *testing.T) {
	code := `@staticmethod
@functools.lru_cache
@app.route("/x")
@handlers[0]
def f():
    pass
`
	src := []byte(code)
	tree := MustParse(code)
	decorated := Statements(tree.RootNode())[0]
	require.Equal(t, "decorated_definition", decorated.Type())

	decorators := ChildrenOfType(decorated, "decorator")
	require.Len(t, decorators, 4)

	want := []struct {
		form   DecoratorForm
		target string
	}{
		{DecoratorName, "staticmethod"},
		{DecoratorAttribute, "functools.lru_cache"},
		{DecoratorCall, "app.route"},
		{DecoratorOther, ""},
	}
	for i, w := range want {
		d := ParseDecorator(decorators[i], src)
		assert.Equal(t, w.form, d.Form, "decorator %d", i)
		assert.Equal(t, w.target, d.Target, "decorator %d", i)
	}
	assert.Equal(t, `app.route("/x")`, ParseDecorator(decorators[2], src).Text)
	assert.True(t, ParseDecorator(decorators[0], src).Is("staticmethod"))
}

func TestExceptParts(t *testing.T) {
	code := `try:
    pass
except ValueError as err:
    pass
except KeyError:
    pass
except:
    pass
`
	src := []byte(code)
	tree := MustParse(code)
	try := Statements(tree.RootNode())[0]
	clauses := ChildrenOfType(try, "except_clause")
	require.Len(t, clauses, 3)

	typ, alias := ExceptParts(clauses[0])
	assert.Equal(t, "ValueError", Text(typ, src))
	assert.Equal(t, "err", Text(alias, src))

	typ, alias = ExceptParts(clauses[1])
	assert.Equal(t, "KeyError", Text(typ, src))
	assert.Nil(t, alias)

	typ, alias = ExceptParts(clauses[2])
	assert.Nil(t, typ)
	assert.Nil(t, alias)
}

func TestBuiltins(t *testing.T) {
	b := NewBuiltins("reveal_type")
	assert.True(t, b.Has("len"))
	assert.True(t, b.Has("ValueError"))
	assert.True(t, b.Has("reveal_type"))
	assert.False(t, b.Has("helper"))
	assert.True(t, IsCatchAll(""))
	assert.True(t, IsCatchAll("Exception"))
	assert.False(t, IsCatchAll("KeyError"))
}
