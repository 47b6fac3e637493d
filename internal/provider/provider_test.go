package provider

import (
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	"github.com/hashicorp/terraform-plugin-go/tfprotov6"
)

// testAccProtoV6ProviderFactories serves a fresh directory provider to each
// Terraform CLI invocation of an acceptance test.
var testAccProtoV6ProviderFactories = map[string]func() (tfprotov6.ProviderServer, error){
	"directory": providerserver.NewProtocol6WithError(New("test")()),
}

// testAccPreCheck skips unless a writable server is configured, and
// returns the DN under which the test may create entries.
func testAccPreCheck(t *testing.T) string {
	t.Helper()
	return testAccPreCheckWithConfig(t).ContainerDN()
}
