package syntax

import "sort"

// pythonBuiltins is the builtins module namespace of CPython 3.12
var pythonBuiltins = []string{
	// functions
	"abs", "aiter", "all", "anext", "any", "ascii", "bin", "bool", "breakpoint", "bytearray",
	"bytes", "callable", "chr", "classmethod", "compile", "complex", "delattr", "dict", "dir",
	"divmod", "enumerate", "eval", "exec", "filter", "float", "format", "frozenset", "getattr",
	"globals", "hasattr", "hash", "help", "hex", "id", "input", "int", "isinstance", "issubclass",
	"iter", "len", "list", "locals", "map", "max", "memoryview", "min", "next", "object", "oct",
	"open", "ord", "pow", "print", "property", "range", "repr", "reversed", "round", "set",
	"setattr", "slice", "sorted", "staticmethod", "str", "sum", "super", "tuple", "type", "vars",
	"zip", "__import__",

	// constants and module attributes
	"Ellipsis", "NotImplemented", "__name__", "__doc__", "__file__", "__spec__", "__loader__",
	"__package__", "__builtins__", "__debug__", "copyright", "credits", "license", "exit", "quit",

	// exceptions
	"BaseException", "BaseExceptionGroup", "Exception", "ExceptionGroup", "ArithmeticError",
	"AssertionError", "AttributeError", "BlockingIOError", "BrokenPipeError", "BufferError",
	"ChildProcessError", "ConnectionAbortedError", "ConnectionError", "ConnectionRefusedError",
	"ConnectionResetError", "EOFError", "EnvironmentError", "FileExistsError",
	"FileNotFoundError", "FloatingPointError", "GeneratorExit", "IOError", "ImportError",
	"IndentationError", "IndexError", "InterruptedError", "IsADirectoryError", "KeyError",
	"KeyboardInterrupt", "LookupError", "MemoryError", "ModuleNotFoundError", "NameError",
	"NotADirectoryError", "NotImplementedError", "OSError", "OverflowError", "PermissionError",
	"ProcessLookupError", "RecursionError", "ReferenceError", "RuntimeError", "StopAsyncIteration",
	"StopIteration", "SyntaxError", "SystemError", "SystemExit", "TabError", "TimeoutError",
	"TypeError", "UnboundLocalError", "UnicodeDecodeError", "UnicodeEncodeError", "UnicodeError",
	"UnicodeTranslateError", "ValueError", "ZeroDivisionError",

	// warnings
	"BytesWarning", "DeprecationWarning", "EncodingWarning", "FutureWarning", "ImportWarning",
	"PendingDeprecationWarning", "ResourceWarning", "RuntimeWarning", "SyntaxWarning",
	"UnicodeWarning", "UserWarning", "Warning",
}

// Builtins is a set of names resolvable after the module scope
type Builtins struct {
	names map[string]bool
}

// NewBuiltins returns the Python builtins plus any extra names
func NewBuiltins(extra ...string) *Builtins {
	b := &Builtins{names: make(map[string]bool, len(pythonBuiltins)+len(extra))}
	for _, name := range pythonBuiltins {
		b.names[name] = true
	}
	for _, name := range extra {
		if name != "" {
			b.names[name] = true
		}
	}
	return b
}

// Has reports whether name is a builtin
func (b *Builtins) Has(name string) bool {
	if b == nil {
		return false
	}
	return b.names[name]
}

// Names returns the builtin names in sorted order
func (b *Builtins) Names() []string {
	out := make([]string, 0, len(b.names))
	for name := range b.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// catchAll lists handler types that catch every ordinary exception
var catchAll = map[string]bool{
	"BaseException": true,
	"Exception":     true,
}

// IsCatchAll reports whether an except clause type expression catches everything.
// An empty text means a bare except.
func IsCatchAll(typeText string) bool {
	return typeText == "" || catchAll[typeText]
}
