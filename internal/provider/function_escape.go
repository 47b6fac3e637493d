package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/function"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
)

var _ function.Function = &EscapeFunction{}

// EscapeFunction implements the escape function.
type EscapeFunction struct{}

func NewEscapeFunction() function.Function {
	return &EscapeFunction{}
}

// Metadata returns the function name.
func (f EscapeFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "escape"
}

// Definition returns the function schema.
func (f EscapeFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:             "Escape a value for use in a DN or filter",
		Description:         "Backslash-escapes the characters , # + < > ; \" = in value.",
		MarkdownDescription: "Backslash-escapes the characters `,` `#` `+` `<` `>` `;` `\"` `=` in `value`, so it can be used as an RDN value or in a search filter.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:                "value",
				Description:         "The value to escape.",
				MarkdownDescription: "The value to escape.",
			},
		},
		Return: function.StringReturn{},
	}
}

// Run implements the function logic.
func (f EscapeFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var value string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &value))
	if resp.Error != nil {
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, ldapclient.Escape(value)))
}
