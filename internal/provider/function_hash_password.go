package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/function"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
)

var _ function.Function = &HashPasswordFunction{}

// HashPasswordFunction implements the hash_password function.
type HashPasswordFunction struct{}

func NewHashPasswordFunction() function.Function {
	return &HashPasswordFunction{}
}

// Metadata returns the function name.
func (f HashPasswordFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "hash_password"
}

// Definition returns the function schema.
func (f HashPasswordFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:             "Hash a password for userPassword",
		Description:         "Returns {MD5} followed by the base64 encoded MD5 digest of password.",
		MarkdownDescription: "Returns `{MD5}` followed by the base64 encoded MD5 digest of `password`, the form accepted for `userPassword`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:                "password",
				Description:         "The plain text password.",
				MarkdownDescription: "The plain text password.",
			},
		},
		Return: function.StringReturn{},
	}
}

// Run implements the function logic.
func (f HashPasswordFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var password string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &password))
	if resp.Error != nil {
		return
	}

	if password == "" {
		resp.Error = function.NewArgumentFuncError(0, "password must not be empty")
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, ldapclient.HashPassword(password)))
}
