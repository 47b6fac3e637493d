// Package helpers provides conversions between directory attributes and
// Terraform values shared by resources, data sources and functions.
package helpers

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
)

// AttributeMapType is the Terraform type of an attribute map: attribute name
// to list of values.
var AttributeMapType = types.MapType{ElemType: types.ListType{ElemType: types.StringType}}

// SelectAttributes returns the values of names in attrs, keyed by the given
// spelling of each name. Names are matched case-insensitively and absent
// attributes are omitted. A nil names selects every attribute except dn.
// Values are unescaped.
func SelectAttributes(attrs ldapclient.Attributes, names []string) map[string][]string {
	if names == nil {
		names = attrs.Names()
	}

	out := make(map[string][]string, len(names))
	for _, name := range names {
		values := attrs.Values(name)
		if len(values) == 0 {
			continue
		}
		out[name] = ldapclient.UnescapeAll(values)
	}
	return out
}

// AttributeMapValue converts attribute values to a Terraform map of lists.
func AttributeMapValue(ctx context.Context, values map[string][]string) (types.Map, diag.Diagnostics) {
	if values == nil {
		values = map[string][]string{}
	}
	return types.MapValueFrom(ctx, AttributeMapType.ElemType, values)
}

// AttributeMapFromValue converts a Terraform map of lists to attribute
// values. Null and unknown maps yield nil.
func AttributeMapFromValue(ctx context.Context, value types.Map) (map[string][]string, diag.Diagnostics) {
	if value.IsNull() || value.IsUnknown() {
		return nil, nil
	}

	var out map[string][]string
	diags := value.ElementsAs(ctx, &out, false)
	return out, diags
}

// AttributeChanges returns the changes that turn prior into planned, in the
// form accepted by Client.WriteAttributes: planned attributes are replaced
// and attributes no longer planned become an empty string, which deletes
// them if present. Names are compared case-insensitively.
func AttributeChanges(prior, planned map[string][]string) map[string]any {
	changes := make(map[string]any, len(prior)+len(planned))

	plannedNames := make(map[string]struct{}, len(planned))
	for name, values := range planned {
		plannedNames[strings.ToLower(name)] = struct{}{}
		changes[name] = slices.Clone(values)
	}

	for _, name := range slices.Sorted(maps.Keys(prior)) {
		if _, ok := plannedNames[strings.ToLower(name)]; ok {
			continue
		}
		changes[name] = ""
	}

	return changes
}

// AttributeNames returns the keys of values, sorted.
func AttributeNames(values map[string][]string) []string {
	return slices.Sorted(maps.Keys(values))
}
