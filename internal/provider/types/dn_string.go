package types

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"
	"github.com/hashicorp/terraform-plugin-go/tftypes"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
)

var (
	_ basetypes.StringTypable                    = DNStringType{}
	_ basetypes.StringValuableWithSemanticEquals = DNStringValue{}
)

// DNStringType is the schema type of distinguished name attributes. Values
// that name the same entry compare equal regardless of case and spacing, so
// a server echoing a DN in its own spelling does not produce a diff.
type DNStringType struct {
	basetypes.StringType
}

func (t DNStringType) String() string { return "DNStringType" }

func (t DNStringType) ValueType(context.Context) attr.Value { return DNStringValue{} }

func (t DNStringType) Equal(o attr.Type) bool {
	other, ok := o.(DNStringType)
	return ok && t.StringType.Equal(other.StringType)
}

func (t DNStringType) ValueFromString(_ context.Context, in basetypes.StringValue) (basetypes.StringValuable, diag.Diagnostics) {
	return DNStringValue{StringValue: in}, nil
}

func (t DNStringType) ValueFromTerraform(ctx context.Context, in tftypes.Value) (attr.Value, error) {
	value, err := t.StringType.ValueFromTerraform(ctx, in)
	if err != nil {
		return nil, err
	}

	str, ok := value.(basetypes.StringValue)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T for DNStringType", value)
	}

	return DNStringValue{StringValue: str}, nil
}

// DNStringValue holds a distinguished name.
type DNStringValue struct {
	basetypes.StringValue
}

// NewDNStringValue returns a known DNStringValue.
func NewDNStringValue(dn string) DNStringValue {
	return DNStringValue{StringValue: basetypes.NewStringValue(dn)}
}

func (v DNStringValue) Type(context.Context) attr.Type { return DNStringType{} }

func (v DNStringValue) Equal(o attr.Value) bool {
	other, ok := o.(DNStringValue)
	return ok && v.StringValue.Equal(other.StringValue)
}

// StringSemanticEquals compares two known DNs with ldap.EqualDN.
func (v DNStringValue) StringSemanticEquals(_ context.Context, newValuable basetypes.StringValuable) (bool, diag.Diagnostics) {
	var diags diag.Diagnostics

	other, ok := newValuable.(DNStringValue)
	if !ok {
		diags.AddError(
			"Semantic Equality Check Error",
			fmt.Sprintf("Expected a DNStringValue, got %T. This is a bug in the provider.", newValuable),
		)
		return false, diags
	}

	if v.IsNull() || v.IsUnknown() || other.IsNull() || other.IsUnknown() {
		return v.Equal(other), diags
	}

	return ldapclient.EqualDN(v.ValueString(), other.ValueString()), diags
}

// RenameTarget returns the modify-DN arguments that turn v into target:
// the new RDN, and the new parent or "" when the parent does not change.
func (v DNStringValue) RenameTarget(target DNStringValue) (newRDN, newParent string, err error) {
	newRDN, newParent, err = ldapclient.SplitDN(target.ValueString())
	if err != nil {
		return "", "", err
	}

	_, oldParent, err := ldapclient.SplitDN(v.ValueString())
	if err != nil {
		return "", "", err
	}

	if ldapclient.EqualDN(oldParent, newParent) {
		newParent = ""
	}
	return newRDN, newParent, nil
}
