package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
	"github.com/isometry/terraform-provider-directory/internal/provider/helpers"
	"github.com/isometry/terraform-provider-directory/internal/provider/validators"
)

const defaultSearchFilter = "(objectClass=*)"

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &SearchDataSource{}
var _ datasource.DataSourceWithConfigure = &SearchDataSource{}

func NewSearchDataSource() datasource.DataSource {
	return &SearchDataSource{}
}

// SearchDataSource runs a subtree search and returns the matching entries.
type SearchDataSource struct {
	providerData *ldapclient.ProviderData
}

// SearchDataSourceModel describes the data source data model.
type SearchDataSourceModel struct {
	ID         types.String       `tfsdk:"id"`
	Server     types.String       `tfsdk:"server"`
	BaseDN     types.String       `tfsdk:"base_dn"`
	Filter     types.String       `tfsdk:"filter"`
	Attributes types.List         `tfsdk:"attributes"`
	Relative   types.Bool         `tfsdk:"relative"`
	Entries    []SearchEntryModel `tfsdk:"entries"`
}

// SearchEntryModel is one entry of a search result.
type SearchEntryModel struct {
	DN         types.String `tfsdk:"dn"`
	Attributes types.Map    `tfsdk:"attributes"`
}

func (d *SearchDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_search"
}

func (d *SearchDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Searches the directory below a base DN and returns the matching entries. " +
			"Results are capped at 100 entries; hitting a size limit returns the entries received up to it.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "Identifier of the search, built from the base DN and filter.",
				Computed:            true,
			},
			"server": schema.StringAttribute{
				MarkdownDescription: "The server to search, by id or name. Defaults to the provider's `server`.",
				Optional:            true,
			},
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "The search base. Defaults to the server's base DN. With `relative`, it is joined to the server's base DN.",
				Optional:            true,
				Validators: []validator.String{
					validators.IsValidDNOrEmpty(),
				},
			},
			"filter": schema.StringAttribute{
				MarkdownDescription: "The search filter. Defaults to `" + defaultSearchFilter + "`.",
				Optional:            true,
				Validators: []validator.String{
					validators.IsValidFilter(),
				},
			},
			"attributes": schema.ListAttribute{
				MarkdownDescription: "The attributes to return. Defaults to every user attribute.",
				Optional:            true,
				ElementType:         types.StringType,
			},
			"relative": schema.BoolAttribute{
				MarkdownDescription: "Whether `base_dn` is relative to the server's base DN.",
				Optional:            true,
			},
			"entries": schema.ListNestedAttribute{
				MarkdownDescription: "The matching entries.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"dn": schema.StringAttribute{
							MarkdownDescription: "The distinguished name of the entry.",
							Computed:            true,
						},
						"attributes": schema.MapAttribute{
							MarkdownDescription: "The returned attributes, each a list of values.",
							Computed:            true,
							ElementType:         types.ListType{ElemType: types.StringType},
						},
					},
				},
			},
		},
	}
}

func (d *SearchDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
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

func (d *SearchDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data SearchDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	filter := data.Filter.ValueString()
	if filter == "" {
		filter = defaultSearchFilter
	}

	var names []string
	if !data.Attributes.IsNull() {
		resp.Diagnostics.Append(data.Attributes.ElementsAs(ctx, &names, false)...)
		if resp.Diagnostics.HasError() {
			return
		}
	}

	logCompletion := ldapclient.LogDataSourceOperation(ctx, "directory_search", "read", map[string]any{
		"base_dn":  data.BaseDN.ValueString(),
		"filter":   filter,
		"relative": data.Relative.ValueBool(),
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

	var entries []*ldapclient.Entry
	if data.Relative.ValueBool() {
		entries, err = client.SearchRelative(ctx, data.BaseDN.ValueString(), filter, names...)
	} else {
		baseDN := data.BaseDN.ValueString()
		if baseDN == "" {
			baseDN = client.Config().BaseDN
		}
		entries, err = client.Search(ctx, baseDN, filter, names...)
	}
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Searching Directory",
			fmt.Sprintf("Could not search for %s.\n\nError: %s", filter, err.Error()),
		)
		return
	}

	tflog.Debug(ctx, "Directory search returned entries", map[string]any{
		"filter":      filter,
		"entry_count": len(entries),
	})

	data.Entries = make([]SearchEntryModel, 0, len(entries))
	for _, entry := range entries {
		attributes, diags := helpers.AttributeMapValue(ctx, helpers.SelectAttributes(entry.Attributes, names))
		resp.Diagnostics.Append(diags...)
		if resp.Diagnostics.HasError() {
			return
		}
		data.Entries = append(data.Entries, SearchEntryModel{
			DN:         types.StringValue(entry.DN),
			Attributes: attributes,
		})
	}

	data.ID = types.StringValue(fmt.Sprintf("%s|%s", data.BaseDN.ValueString(), filter))

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
