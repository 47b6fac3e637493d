package auth

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// AttributeRef names the directory attribute a profile field is copied from.
// An empty DNTemplate stands for the server's lookup DN.
type AttributeRef struct {
	DNTemplate string
	Attribute  string
}

// String returns the "<dnTemplate>|<attribute>" form, or only the attribute
// when the template is empty.
func (r AttributeRef) String() string {
	if r.DNTemplate == "" {
		return r.Attribute
	}
	return r.DNTemplate + "|" + r.Attribute
}

// FieldMapping maps local profile field names to directory attributes.
type FieldMapping map[string]AttributeRef

// MappingGroup is the set of fields read from one DN template.
type MappingGroup struct {
	DNTemplate string
	Fields     []FieldRef
}

// FieldRef is one field of a MappingGroup.
type FieldRef struct {
	Field     string
	Attribute string
}

// ParseAttributeRef decodes "<dnTemplate>|<attribute>" or "<attribute>".
func ParseAttributeRef(value string) (AttributeRef, error) {
	template, attribute, found := strings.Cut(value, "|")
	if !found {
		template, attribute = "", value
	}

	template = strings.TrimSpace(template)
	attribute = strings.TrimSpace(attribute)

	if attribute == "" {
		return AttributeRef{}, fmt.Errorf("%w: %q has no attribute", ErrInvalidMapping, value)
	}
	if strings.Contains(attribute, "|") {
		return AttributeRef{}, fmt.Errorf("%w: %q has more than one separator", ErrInvalidMapping, value)
	}
	if found && template == "" {
		return AttributeRef{}, fmt.Errorf("%w: %q has an empty DN template", ErrInvalidMapping, value)
	}

	return AttributeRef{DNTemplate: template, Attribute: attribute}, nil
}

// ParseFieldMapping decodes a table of field name to attribute reference.
func ParseFieldMapping(raw map[string]string) (FieldMapping, error) {
	mapping := make(FieldMapping, len(raw))
	for field, value := range raw {
		if strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidMapping)
		}

		ref, err := ParseAttributeRef(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		mapping[field] = ref
	}
	return mapping, nil
}

// Raw encodes the mapping back into its string table.
func (m FieldMapping) Raw() map[string]string {
	out := make(map[string]string, len(m))
	for field, ref := range m {
		out[field] = ref.String()
	}
	return out
}

// Groups buckets the mapping by DN template, substituting lookupDN for empty
// templates. Groups and their fields are sorted.
func (m FieldMapping) Groups(lookupDN string) []MappingGroup {
	byTemplate := make(map[string][]FieldRef)
	for _, field := range slices.Sorted(maps.Keys(m)) {
		ref := m[field]
		template := ref.DNTemplate
		if template == "" {
			template = lookupDN
		}
		byTemplate[template] = append(byTemplate[template], FieldRef{Field: field, Attribute: ref.Attribute})
	}

	groups := make([]MappingGroup, 0, len(byTemplate))
	for _, template := range slices.Sorted(maps.Keys(byTemplate)) {
		groups = append(groups, MappingGroup{DNTemplate: template, Fields: byTemplate[template]})
	}
	return groups
}
