package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
	"github.com/isometry/terraform-provider-directory/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-directory/internal/provider/types"
	"github.com/isometry/terraform-provider-directory/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &EntryDataSource{}
var _ datasource.DataSourceWithConfigure = &EntryDataSource{}

func NewEntryDataSource() datasource.DataSource {
	return &EntryDataSource{}
}

// EntryDataSource reads every attribute of one directory entry.
type EntryDataSource struct {
	providerData *ldapclient.ProviderData
}

// EntryDataSourceModel describes the data source data model.
type EntryDataSourceModel struct {
	ID         types.String              `tfsdk:"id"`
	DN         customtypes.DNStringValue `tfsdk:"dn"`
	Server     types.String              `tfsdk:"server"`
	Attributes types.Map                 `tfsdk:"attributes"`
}

func (d *EntryDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_entry"
}

func (d *EntryDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads every attribute of a directory entry. Attribute names are returned in lower case.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The distinguished name of the entry.",
				Computed:            true,
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "The distinguished name of the entry to read.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"server": schema.StringAttribute{
				MarkdownDescription: "The server to read from, by id or name. Defaults to the provider's `server`.",
				Optional:            true,
			},
			"attributes": schema.MapAttribute{
				MarkdownDescription: "The attributes of the entry, each a list of values.",
				Computed:            true,
				ElementType:         types.ListType{ElemType: types.StringType},
			},
		},
	}
}

func (d *EntryDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
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

func (d *EntryDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data EntryDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "directory_entry", "read", map[string]any{
		"dn":     dn,
		"server": data.Server.ValueString(),
	})
	defer func() {
		logCompletion(diagnosticsError(resp.Diagnostics))
	}()

	client, err := d.providerData.Client(ctx, data.Server.ValueString())
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Connecting to Directory",
			"Could not resolve a directory client.\n\nError: "+err.Error(),
		)
		return
	}

	current, err := client.RetrieveAttributes(ctx, dn)
	if err == nil && len(current) == 0 {
		err = fmt.Errorf("entry %s not found", dn)
	}
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Reading Entry",
			fmt.Sprintf("Could not read directory entry %s.\n\nError: %s", dn, err.Error()),
		)
		return
	}

	attributes, diags := helpers.AttributeMapValue(ctx, helpers.SelectAttributes(current, nil))
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	data.ID = types.StringValue(dn)
	data.Attributes = attributes

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
