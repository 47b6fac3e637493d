package validators

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
)

var _ validator.String = syntaxValidator{}

// syntaxValidator rejects configured strings that check refuses. Null and
// unknown values are not validated.
type syntaxValidator struct {
	description string
	summary     string
	kind        string
	allowEmpty  bool
	check       func(string) error
}

func (v syntaxValidator) Description(_ context.Context) string {
	return v.description
}

func (v syntaxValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v syntaxValidator) ValidateString(_ context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if value == "" && v.allowEmpty {
		return
	}

	if err := v.check(value); err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			v.summary,
			fmt.Sprintf("The value %q is not a valid %s: %s", value, v.kind, err.Error()),
		)
	}
}

// IsValidDN returns a validator which ensures that any configured
// attribute value is a valid Distinguished Name (DN).
func IsValidDN() validator.String {
	return syntaxValidator{
		description: "value must be a valid Distinguished Name (DN)",
		summary:     "Invalid Distinguished Name",
		kind:        "Distinguished Name format",
		check:       ldapclient.ValidateDNSyntax,
	}
}

// IsValidDNOrEmpty is IsValidDN that also accepts the empty string, which
// relative searches use to address the base DN itself.
func IsValidDNOrEmpty() validator.String {
	return syntaxValidator{
		description: "value must be empty or a valid Distinguished Name (DN)",
		summary:     "Invalid Distinguished Name",
		kind:        "Distinguished Name format",
		allowEmpty:  true,
		check:       ldapclient.ValidateDNSyntax,
	}
}

// IsValidFilter returns a validator which ensures that any configured
// attribute value compiles as an LDAP search filter.
func IsValidFilter() validator.String {
	return syntaxValidator{
		description: "value must be a valid LDAP search filter",
		summary:     "Invalid Search Filter",
		kind:        "LDAP search filter",
		check: func(value string) error {
			_, err := ldap.CompileFilter(value)
			return err
		},
	}
}
