package ldap

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// normalizeEntry converts a protocol entry into an Entry. Attribute names are
// lower-cased, attributes with exactly one value become a string, attributes
// with more become a []string, and the DN is always present under "dn".
func normalizeEntry(entry *ldap.Entry) *Entry {
	if entry == nil {
		return nil
	}

	return &Entry{
		DN:         entry.DN,
		Attributes: normalizeAttributes(entry.DN, entry.Attributes),
	}
}

func normalizeAttributes(dn string, attributes []*ldap.EntryAttribute) Attributes {
	collected := make(map[string][]string, len(attributes))
	order := make([]string, 0, len(attributes))

	for _, attr := range attributes {
		if attr == nil || len(attr.Values) == 0 {
			continue
		}

		name := strings.ToLower(attr.Name)
		if name == "dn" {
			continue
		}

		if _, seen := collected[name]; !seen {
			order = append(order, name)
		}
		collected[name] = append(collected[name], attr.Values...)
	}

	out := make(Attributes, len(order)+1)
	for _, name := range order {
		out[name] = collapseValues(collected[name])
	}
	out["dn"] = dn

	return out
}

// collapseValues returns a string for a single value and a []string otherwise.
func collapseValues(values []string) any {
	if len(values) == 1 {
		return values[0]
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// toStringValues converts a change value to a slice of strings.
func toStringValues(v any) ([]string, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		return []string{val}, true
	case []string:
		return val, true
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// compactValues drops empty strings.
func compactValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
