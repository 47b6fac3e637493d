package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// initializeLogging initializes the provider subsystem for consistent logging.
// This should be called at the beginning of each data source Read method
// and resource Create/Read/Update/Delete methods.
func initializeLogging(ctx context.Context) context.Context {
	// Pattern: TF_LOG_PROVIDER_DIRECTORY_<SUBSYSTEM>
	return tflog.NewSubsystem(ctx, "provider",
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_DIRECTORY_PROVIDER"))
}

// initializeLDAPLogging initializes the subsystem used by the directory client.
func initializeLDAPLogging(ctx context.Context) context.Context {
	return tflog.NewSubsystem(ctx, "ldap",
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_DIRECTORY_LDAP"))
}

// diagnosticsError returns the first error in diags as an error, for
// operation completion logging.
func diagnosticsError(diags diag.Diagnostics) error {
	for _, d := range diags.Errors() {
		return fmt.Errorf("%s: %s", d.Summary(), d.Detail())
	}
	return nil
}
