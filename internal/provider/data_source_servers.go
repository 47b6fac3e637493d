package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &ServersDataSource{}
var _ datasource.DataSourceWithConfigure = &ServersDataSource{}

func NewServersDataSource() datasource.DataSource {
	return &ServersDataSource{}
}

// ServersDataSource lists the configured servers.
type ServersDataSource struct {
	providerData *ldapclient.ProviderData
}

// ServersDataSourceModel describes the data source data model.
type ServersDataSourceModel struct {
	ID           types.String        `tfsdk:"id"`
	IncludeEmpty types.Bool          `tfsdk:"include_empty"`
	Servers      []ServerOptionModel `tfsdk:"servers"`
}

// ServerOptionModel is one server option.
type ServerOptionModel struct {
	Key  types.String `tfsdk:"key"`
	Name types.String `tfsdk:"name"`
}

func (d *ServersDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_servers"
}

func (d *ServersDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Lists the configured directory servers ordered by id.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "Static identifier of the server list.",
				Computed:            true,
			},
			"include_empty": schema.BoolAttribute{
				MarkdownDescription: "Whether the list starts with a `" + ldapclient.NoneServerKey + "` option.",
				Optional:            true,
			},
			"servers": schema.ListNestedAttribute{
				MarkdownDescription: "The server options.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"key": schema.StringAttribute{
							MarkdownDescription: "The server id, or `" + ldapclient.NoneServerKey + "`.",
							Computed:            true,
						},
						"name": schema.StringAttribute{
							MarkdownDescription: "The server name.",
							Computed:            true,
						},
					},
				},
			},
		},
	}
}

func (d *ServersDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	// Prevent panic if the provider has not been configured.
	if req.ProviderData == nil {
		return
	}

	providerData, ok := req.ProviderData.(*ldapclient.ProviderData)
	if !ok {
		resp.Diagnostics.AddError(
			"Unexpected Data Source Configure Type",
			fmt.Sprintf("Expected *ldapclient.ProviderData, got: %T. Please report this issue to the provider developers.", req.ProviderData),
		)
		return
	}

	d.providerData = providerData
}

func (d *ServersDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data ServersDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	logCompletion := ldapclient.LogDataSourceOperation(ctx, "directory_servers", "read", map[string]any{
		"include_empty": data.IncludeEmpty.ValueBool(),
	})
	defer func() {
		logCompletion(diagnosticsError(resp.Diagnostics))
	}()

	options, err := d.providerData.Registry.ListServers(ctx, data.IncludeEmpty.ValueBool())
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Listing Servers",
			"Could not list the configured directory servers.\n\nError: "+err.Error(),
		)
		return
	}

	data.Servers = make([]ServerOptionModel, len(options))
	for i, option := range options {
		data.Servers[i] = ServerOptionModel{
			Key:  types.StringValue(option.Key),
			Name: types.StringValue(option.Name),
		}
	}
	data.ID = types.StringValue("servers")

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
