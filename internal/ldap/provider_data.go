package ldap

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ProviderData is handed to Terraform resources and data sources. It
// carries the registry and the server used when a component names none.
type ProviderData struct {
	Registry      *Registry
	DefaultServer string
}

// NewProviderData creates a new provider data wrapper.
func NewProviderData(registry *Registry, defaultServer string) *ProviderData {
	return &ProviderData{
		Registry:      registry,
		DefaultServer: defaultServer,
	}
}

// ServerRef returns ref, or the default server when ref is empty.
func (pd *ProviderData) ServerRef(ref string) string {
	if ref != "" {
		return ref
	}
	return pd.DefaultServer
}

// Client resolves ref (or the default server) to a client bound with the
// server's admin credentials.
func (pd *ProviderData) Client(ctx context.Context, ref string) (*Client, error) {
	if pd == nil || pd.Registry == nil {
		return nil, fmt.Errorf("directory registry is not initialized")
	}

	ref = pd.ServerRef(ref)
	if ref == "" {
		return nil, fmt.Errorf("no server given and no default server configured: %w", ErrInvalidServerRef)
	}

	client, err := pd.Registry.Resolve(ctx, ref, "", "")
	if err != nil {
		return nil, err
	}

	tflog.Trace(ctx, "Resolved directory client", map[string]any{
		"server":  ref,
		"bind_dn": client.BindDN(),
	})

	return client, nil
}
