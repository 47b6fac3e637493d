package provider

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/ephemeral"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
	"github.com/isometry/terraform-provider-directory/internal/store"
)

// Ensure DirectoryProvider satisfies various provider interfaces.
var _ provider.Provider = &DirectoryProvider{}
var _ provider.ProviderWithFunctions = &DirectoryProvider{}
var _ provider.ProviderWithEphemeralResources = &DirectoryProvider{}
var _ provider.ProviderWithConfigValidators = &DirectoryProvider{}

// inlineServerID is the ID of the server described by the inline provider settings.
const inlineServerID = 1

// DirectoryProvider defines the provider implementation.
type DirectoryProvider struct {
	// Version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	Version string
}

// DirectoryProviderModel describes the provider data model.
type DirectoryProviderModel struct {
	// Server source - mutually exclusive
	ConfigFile types.String `tfsdk:"config_file"`
	Host       types.String `tfsdk:"host"`

	// Default server reference
	Server types.String `tfsdk:"server"`

	// Inline server settings
	Port          types.Int64  `tfsdk:"port"`
	BaseDN        types.String `tfsdk:"base_dn"`
	BindDN        types.String `tfsdk:"bind_dn"`
	BindPassword  types.String `tfsdk:"bind_password"`
	StartTLS      types.Bool   `tfsdk:"start_tls"`
	SkipTLSVerify types.Bool   `tfsdk:"skip_tls_verify"`
	Timeout       types.Int64  `tfsdk:"timeout"`
}

func (p *DirectoryProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "directory"
	resp.Version = p.Version
}

func (p *DirectoryProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "The directory provider manages entries of LDAP directory servers. " +
			"Servers are described either inline or by a YAML configuration file listing several servers.",
		Attributes: map[string]schema.Attribute{
			"config_file": schema.StringAttribute{
				MarkdownDescription: "Path to a YAML configuration file listing directory servers. " +
					"Mutually exclusive with `host`. Can be set via the `DIRECTORY_CONFIG_FILE` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"host": schema.StringAttribute{
				MarkdownDescription: "Host name of a single directory server. " +
					"Mutually exclusive with `config_file`. Can be set via the `DIRECTORY_HOST` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"server": schema.StringAttribute{
				MarkdownDescription: "Default server, by ID or name, used by resources and data sources that do not name one. " +
					"Defaults to the inline server when `host` is used. " +
					"Can be set via the `DIRECTORY_SERVER` environment variable.",
				Optional: true,
			},
			"port": schema.Int64Attribute{
				MarkdownDescription: "Port of the inline server. Defaults to `389`. " +
					"Can be set via the `DIRECTORY_PORT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.Between(1, 65535),
				},
			},
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "Base DN of the inline server, used by relative searches. " +
					"Can be set via the `DIRECTORY_BASE_DN` environment variable.",
				Optional: true,
			},
			"bind_dn": schema.StringAttribute{
				MarkdownDescription: "DN to bind the inline server as. An empty value binds anonymously. " +
					"Can be set via the `DIRECTORY_BIND_DN` environment variable.",
				Optional: true,
			},
			"bind_password": schema.StringAttribute{
				MarkdownDescription: "Password for `bind_dn`. " +
					"Can be set via the `DIRECTORY_BIND_PASSWORD` environment variable.",
				Optional:  true,
				Sensitive: true,
			},
			"start_tls": schema.BoolAttribute{
				MarkdownDescription: "Upgrade the inline server connection with StartTLS before binding. Defaults to `false`. " +
					"Can be set via the `DIRECTORY_START_TLS` environment variable.",
				Optional: true,
			},
			"skip_tls_verify": schema.BoolAttribute{
				MarkdownDescription: "Skip certificate verification after StartTLS. Not recommended for production. Defaults to `false`. " +
					"Can be set via the `DIRECTORY_SKIP_TLS_VERIFY` environment variable.",
				Optional: true,
			},
			"timeout": schema.Int64Attribute{
				MarkdownDescription: "Dial and per-request timeout in seconds for the inline server. Defaults to `30`. " +
					"Can be set via the `DIRECTORY_TIMEOUT` environment variable.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
		},
	}
}

// ConfigValidators implements provider.ProviderWithConfigValidators.
func (p *DirectoryProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		providervalidator.Conflicting(
			path.MatchRoot("config_file"),
			path.MatchRoot("host"),
		),
	}
}

func (p *DirectoryProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data DirectoryProviderModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)

	tflog.Info(ctx, "Configuring directory provider", map[string]any{
		"version": p.Version,
	})

	source, defaultServer := p.buildSource(&data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	logger := ldapclient.NewTFLogger(initializeLDAPLogging(ctx), "ldap")
	registry := ldapclient.NewRegistry(source, ldapclient.WithRegistryLogger(logger))
	if fileSource, ok := source.(*store.FileConfigStore); ok {
		fileSource.OnChange(registry.Invalidate)
	}

	if defaultServer != "" {
		start := time.Now()
		client, err := registry.Resolve(ctx, defaultServer, "", "")
		if err != nil {
			tflog.Error(ctx, "Default server resolution failed", map[string]any{
				"server":      defaultServer,
				"error":       err.Error(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			resp.Diagnostics.AddError(
				"Unable to Connect to Directory Server",
				"The provider could not connect and bind to the default directory server "+strconv.Quote(defaultServer)+". "+
					"Please verify your configuration settings.\n\n"+
					"Error: "+err.Error(),
			)
			return
		}

		tflog.Info(ctx, "Default server resolved", map[string]any{
			"server":      defaultServer,
			"bind_dn":     client.BindDN(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}

	tflog.Info(ctx, "Directory provider configured successfully")

	providerData := ldapclient.NewProviderData(registry, defaultServer)

	resp.DataSourceData = providerData
	resp.ResourceData = providerData
}

// configureLogging sets up logging configuration based on environment variables.
func (p *DirectoryProvider) configureLogging(ctx context.Context) context.Context {
	ctx = tflog.SetField(ctx, "provider", "directory")
	ctx = tflog.SetField(ctx, "provider_version", p.Version)

	tflog.Debug(ctx, "Directory provider logging configured")

	return ctx
}

// buildSource returns the server source described by the provider
// configuration and environment, and the default server reference.
func (p *DirectoryProvider) buildSource(data *DirectoryProviderModel, diags *diag.Diagnostics) (ldapclient.ConfigSource, string) {
	configFile := p.getStringValue(data.ConfigFile, "DIRECTORY_CONFIG_FILE")
	host := p.getStringValue(data.Host, "DIRECTORY_HOST")
	defaultServer := p.getStringValue(data.Server, "DIRECTORY_SERVER")

	switch {
	case configFile != "" && host != "":
		diags.AddError(
			"Conflicting Server Configuration",
			"Only one of 'config_file' and 'host' can be set, either in the provider block or through "+
				"the DIRECTORY_CONFIG_FILE and DIRECTORY_HOST environment variables.",
		)
		return nil, ""

	case configFile != "":
		source, err := store.LoadConfigFile(configFile)
		if err != nil {
			diags.AddError(
				"Unable to Load Configuration File",
				"The provider could not load the directory configuration file.\n\n"+
					"Error: "+err.Error(),
			)
			return nil, ""
		}
		return source, defaultServer

	case host != "":
		config := &ldapclient.ServerConfig{
			ID:                 inlineServerID,
			Name:               "default",
			Host:               host,
			Port:               int(p.getInt64Value(data.Port, "DIRECTORY_PORT", 389)),
			BaseDN:             p.getStringValue(data.BaseDN, "DIRECTORY_BASE_DN"),
			AdminDN:            p.getStringValue(data.BindDN, "DIRECTORY_BIND_DN"),
			AdminPassword:      p.getStringValue(data.BindPassword, "DIRECTORY_BIND_PASSWORD"),
			UseTLS:             p.getBoolValue(data.StartTLS, "DIRECTORY_START_TLS", false),
			InsecureSkipVerify: p.getBoolValue(data.SkipTLSVerify, "DIRECTORY_SKIP_TLS_VERIFY", false),
			Timeout:            time.Duration(p.getInt64Value(data.Timeout, "DIRECTORY_TIMEOUT", 30)) * time.Second,
		}

		if err := config.Validate(); err != nil {
			diags.AddError(
				"Invalid Server Configuration",
				"The inline directory server configuration is invalid.\n\n"+
					"Error: "+err.Error(),
			)
			return nil, ""
		}

		source, err := ldapclient.NewStaticSource(config)
		if err != nil {
			diags.AddError("Invalid Server Configuration", err.Error())
			return nil, ""
		}

		if defaultServer == "" {
			defaultServer = strconv.Itoa(inlineServerID)
		}
		return source, defaultServer

	default:
		diags.AddError(
			"Missing Server Configuration",
			"Either 'config_file' or 'host' must be configured. "+
				"They can also be set through the DIRECTORY_CONFIG_FILE and DIRECTORY_HOST environment variables.",
		)
		return nil, ""
	}
}

// Helper functions for configuration value resolution

func (p *DirectoryProvider) getStringValue(configValue types.String, envVar string) string {
	if !configValue.IsNull() && configValue.ValueString() != "" {
		return configValue.ValueString()
	}
	return os.Getenv(envVar)
}

func (p *DirectoryProvider) getBoolValue(configValue types.Bool, envVar string, defaultValue bool) bool {
	if !configValue.IsNull() {
		return configValue.ValueBool()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseBool(envValue); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *DirectoryProvider) getInt64Value(configValue types.Int64, envVar string, defaultValue int64) int64 {
	if !configValue.IsNull() {
		return configValue.ValueInt64()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *DirectoryProvider) Resources(ctx context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		NewEntryResource,
	}
}

func (p *DirectoryProvider) EphemeralResources(ctx context.Context) []func() ephemeral.EphemeralResource {
	return []func() ephemeral.EphemeralResource{}
}

func (p *DirectoryProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewEntryDataSource,
		NewSearchDataSource,
		NewServersDataSource,
	}
}

func (p *DirectoryProvider) Functions(ctx context.Context) []func() function.Function {
	return []func() function.Function{
		NewEscapeFunction,
		NewHashPasswordFunction,
	}
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &DirectoryProvider{
			Version: version,
		}
	}
}
