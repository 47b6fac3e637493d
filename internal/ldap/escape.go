package ldap

import (
	"strings"
)

// escapedChars are the characters Escape prefixes with a backslash.
const escapedChars = `,#+<>;"=`

// Escape backslash-escapes the characters , # + < > ; " and = in value.
//
// Examples:
//   - "a,b#c" → "a\,b\#c"
//   - "x=y" → "x\=y"
func Escape(value string) string {
	if !strings.ContainsAny(value, escapedChars) {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 8)

	for _, r := range value {
		if strings.ContainsRune(escapedChars, r) {
			result.WriteByte('\\')
		}
		result.WriteRune(r)
	}

	return result.String()
}

// EscapeRecursive escapes every string leaf of v. Slices and maps are
// modified in place; the (possibly new) value is returned so that scalars
// can be escaped too.
func EscapeRecursive(v any) any {
	switch val := v.(type) {
	case string:
		return Escape(val)
	case []string:
		for i := range val {
			val[i] = Escape(val[i])
		}
		return val
	case []any:
		for i := range val {
			val[i] = EscapeRecursive(val[i])
		}
		return val
	case map[string]string:
		for k := range val {
			val[k] = Escape(val[k])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = EscapeRecursive(val[k])
		}
		return val
	case Attributes:
		for k := range val {
			val[k] = EscapeRecursive(val[k])
		}
		return val
	default:
		return v
	}
}

// Unescape removes backslash escaping from value, including two-digit hex
// escapes such as \2c.
func Unescape(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}

	var result strings.Builder
	result.Grow(len(value))

	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i == len(value)-1 {
			result.WriteByte(c)
			continue
		}

		if i+2 < len(value) && isHex(value[i+1]) && isHex(value[i+2]) {
			result.WriteByte(unhex(value[i+1])<<4 | unhex(value[i+2]))
			i += 2
			continue
		}

		i++
		result.WriteByte(value[i])
	}

	return result.String()
}

// UnescapeAll applies Unescape to every value.
func UnescapeAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = Unescape(v)
	}
	return out
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// rewriteFilter turns a literal `\,` into `\5c,` so that a backslash-escaped
// comma in a filter value matches the stored backslash.
func rewriteFilter(filter string) string {
	return strings.ReplaceAll(filter, `\,`, `\5c,`)
}
