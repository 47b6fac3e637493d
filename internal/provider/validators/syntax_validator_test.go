package validators_test

import (
	"strings"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"

	"github.com/isometry/terraform-provider-directory/internal/provider/validators"
)

func TestDNValidator(t *testing.T) {
	t.Parallel()

	type testCase struct {
		validator   validator.String
		val         types.String
		expectError bool
		detail      string
	}

	testCases := map[string]testCase{
		"valid DN simple": {
			validator: validators.IsValidDN(),
			val:       types.StringValue("cn=Test,dc=example,dc=com"),
		},
		"valid DN with escaped comma": {
			validator: validators.IsValidDN(),
			val:       types.StringValue(`cn=Doe\, John,ou=people,dc=example,dc=com`),
		},
		"valid DN with spaces": {
			validator: validators.IsValidDN(),
			val:       types.StringValue("cn=Test User,ou=Domain Users,dc=example,dc=com"),
		},
		"invalid DN empty": {
			validator:   validators.IsValidDN(),
			val:         types.StringValue(""),
			expectError: true,
			detail:      `The value "" is not a valid Distinguished Name format:`,
		},
		"invalid DN malformed": {
			validator:   validators.IsValidDN(),
			val:         types.StringValue("invalid-dn"),
			expectError: true,
			detail:      `The value "invalid-dn" is not a valid Distinguished Name format:`,
		},
		"empty allowed": {
			validator: validators.IsValidDNOrEmpty(),
			val:       types.StringValue(""),
		},
		"empty allowed still checks syntax": {
			validator:   validators.IsValidDNOrEmpty(),
			val:         types.StringValue("invalid-dn"),
			expectError: true,
		},
		"null value": {
			validator: validators.IsValidDN(),
			val:       types.StringNull(),
		},
		"unknown value": {
			validator: validators.IsValidDN(),
			val:       types.StringUnknown(),
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			request := validator.StringRequest{
				Path:        path.Root("test"),
				ConfigValue: test.val,
			}
			response := validator.StringResponse{}

			test.validator.ValidateString(t.Context(), request, &response)

			if !response.Diagnostics.HasError() && test.expectError {
				t.Fatal("expected error, got no error")
			}

			if response.Diagnostics.HasError() && !test.expectError {
				t.Fatalf("got unexpected error: %s", response.Diagnostics)
			}

			if test.expectError {
				if len(response.Diagnostics) != 1 {
					t.Fatalf("expected exactly 1 error, got %d", len(response.Diagnostics))
				}

				err := response.Diagnostics[0]
				if err.Summary() != "Invalid Distinguished Name" {
					t.Errorf("unexpected summary %q", err.Summary())
				}

				if test.detail != "" && !strings.HasPrefix(err.Detail(), test.detail) {
					t.Errorf("expected detail to start with %q, got %q", test.detail, err.Detail())
				}
			}
		})
	}
}

func TestDNValidatorDescription(t *testing.T) {
	v := validators.IsValidDN()

	expected := "value must be a valid Distinguished Name (DN)"
	if v.Description(t.Context()) != expected {
		t.Errorf("expected description %q, got %q", expected, v.Description(t.Context()))
	}

	if v.MarkdownDescription(t.Context()) != expected {
		t.Errorf("expected markdown description %q, got %q", expected, v.MarkdownDescription(t.Context()))
	}
}

func TestFilterValidator(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		val         types.String
		expectError bool
	}{
		"presence":       {val: types.StringValue("(objectClass=*)")},
		"conjunction":    {val: types.StringValue("(&(objectClass=person)(uid=alice))")},
		"escaped value":  {val: types.StringValue(`(cn=Doe\2c John)`)},
		"missing parens": {val: types.StringValue("uid=alice"), expectError: true},
		"unbalanced":     {val: types.StringValue("(&(uid=alice)"), expectError: true},
		"empty":          {val: types.StringValue(""), expectError: true},
		"null value":     {val: types.StringNull()},
		"unknown value":  {val: types.StringUnknown()},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			request := validator.StringRequest{
				Path:        path.Root("filter"),
				ConfigValue: test.val,
			}
			response := validator.StringResponse{}

			validators.IsValidFilter().ValidateString(t.Context(), request, &response)

			if response.Diagnostics.HasError() != test.expectError {
				t.Fatalf("expected error %t, got diagnostics: %s", test.expectError, response.Diagnostics)
			}
			if test.expectError && response.Diagnostics[0].Summary() != "Invalid Search Filter" {
				t.Errorf("unexpected summary %q", response.Diagnostics[0].Summary())
			}
		})
	}
}
