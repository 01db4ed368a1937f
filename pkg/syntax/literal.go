package syntax

import (
	"strings"
)

// StringLiteral is a decoded Python string literal
type StringLiteral struct {
	Value     string
	Bytes     bool
	Raw       bool
	Formatted bool
}

// DecodeString decodes the source text of a single Python string literal.
// It reports false when the text is not a string literal.
func DecodeString(text string) (StringLiteral, bool) {
	var lit StringLiteral
	i := 0
	for i < len(text) && strings.ContainsRune("rRbBuUfF", rune(text[i])) {
		switch text[i] {
		case 'r', 'R':
			lit.Raw = true
		case 'b', 'B':
			lit.Bytes = true
		case 'f', 'F':
			lit.Formatted = true
		}
		i++
	}
	body := text[i:]

	var quote string
	switch {
	case strings.HasPrefix(body, `"""`), strings.HasPrefix(body, `'''`):
		quote = body[:3]
	case strings.HasPrefix(body, `"`), strings.HasPrefix(body, `'`):
		quote = body[:1]
	default:
		return lit, false
	}
	if len(body) < 2*len(quote) || !strings.HasSuffix(body, quote) {
		return lit, false
	}
	body = body[len(quote) : len(body)-len(quote)]

	if lit.Raw {
		lit.Value = body
	} else {
		lit.Value = unescape(body)
	}
	return lit, true
}

// UnquoteString strips prefixes and quotes and resolves simple escapes
func UnquoteString(text string) (string, bool) {
	lit, ok := DecodeString(text)
	return lit.Value, ok
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '0':
			sb.WriteByte(0)
		case '\\', '\'', '"':
			sb.WriteByte(s[i])
		case '\n':
			// line continuation inside the literal
		default:
			sb.WriteByte('\\')
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
