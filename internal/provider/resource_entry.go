package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/booldefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
	"github.com/isometry/terraform-provider-directory/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-directory/internal/provider/types"
	"github.com/isometry/terraform-provider-directory/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ resource.Resource = &EntryResource{}
var _ resource.ResourceWithConfigure = &EntryResource{}
var _ resource.ResourceWithImportState = &EntryResource{}

const entryResourceName = "directory_entry"

func NewEntryResource() resource.Resource {
	return &EntryResource{}
}

// EntryResource manages a single directory entry.
type EntryResource struct {
	providerData *ldapclient.ProviderData
}

// EntryResourceModel describes the resource data model.
type EntryResourceModel struct {
	ID              types.String              `tfsdk:"id"` // Same as dn
	DN              customtypes.DNStringValue `tfsdk:"dn"`
	Server          types.String              `tfsdk:"server"`
	Attributes      types.Map                 `tfsdk:"attributes"`
	Password        types.String              `tfsdk:"password"`
	HashPassword    types.Bool                `tfsdk:"hash_password"`
	RecursiveDelete types.Bool                `tfsdk:"recursive_delete"`
}

func (r *EntryResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_entry"
}

func (r *EntryResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Manages a directory entry and the attributes listed in `attributes`. Attributes present on the entry but not listed are left untouched.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The distinguished name of the entry.",
				Computed:            true,
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.UseStateForUnknown(),
				},
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "The distinguished name of the entry (e.g., `uid=alice,ou=people,dc=example,dc=com`). Changing it renames or moves the entry.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"server": schema.StringAttribute{
				MarkdownDescription: "The server holding the entry, by id or name. Defaults to the provider's `server`.",
				Optional:            true,
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.RequiresReplace(),
				},
			},
			"attributes": schema.MapAttribute{
				MarkdownDescription: "The managed attributes, each a list of values. Removing an attribute from the map deletes it from the entry.",
				Required:            true,
				ElementType:         types.ListType{ElemType: types.StringType},
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "A password written to `userPassword`.",
				Optional:            true,
				Sensitive:           true,
			},
			"hash_password": schema.BoolAttribute{
				MarkdownDescription: "Whether `password` is hashed with `{MD5}` before it is written. Values already carrying a `{SCHEME}` prefix are written unchanged. Defaults to `true`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(true),
			},
			"recursive_delete": schema.BoolAttribute{
				MarkdownDescription: "Whether destroying the entry also deletes every entry below it. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
			},
		},
	}
}

func (r *EntryResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	// Prevent panic if the provider has not been configured.
	if req.ProviderData == nil {
		return
	}

	providerData, ok := req.ProviderData.(*ldapclient.ProviderData)
	if !ok {
		resp.Diagnostics.AddError(
			"Unexpected Resource Configure Type",
			fmt.Sprintf("Expected *ldapclient.ProviderData, got: %T. Please report this issue to the provider developers.", req.ProviderData),
		)
		return
	}

	r.providerData = providerData
}

func (r *EntryResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)

	// Read Terraform plan data into the model
	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	done := ldapclient.LogResourceOperation(ctx, entryResourceName, "create", map[string]any{
		"dn":     dn,
		"server": data.Server.ValueString(),
	})

	client, err := r.providerData.Client(ctx, data.Server.ValueString())
	if err != nil {
		done(err)
		resp.Diagnostics.AddError(
			"Error Connecting to Directory",
			"Could not resolve a directory client.\n\nError: "+err.Error(),
		)
		return
	}

	values, diags := helpers.AttributeMapFromValue(ctx, data.Attributes)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	attributes := make(map[string]any, len(values)+1)
	for name, v := range values {
		attributes[name] = v
	}
	if password, ok := passwordValue(data); ok {
		attributes[ldapclient.PasswordAttribute] = password
	}

	err = client.CreateEntry(ctx, dn, attributes)
	done(err)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Creating Entry",
			fmt.Sprintf("Could not create directory entry %s.\n\nError: %s", dn, err.Error()),
		)
		return
	}

	data.ID = types.StringValue(dn)

	// Save data into Terraform state
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *EntryResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)

	// Read Terraform prior state data into the model
	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	done := ldapclient.LogResourceOperation(ctx, entryResourceName, "read", map[string]any{
		"dn": dn,
	})

	client, err := r.providerData.Client(ctx, data.Server.ValueString())
	if err != nil {
		done(err)
		resp.Diagnostics.AddError(
			"Error Connecting to Directory",
			"Could not resolve a directory client.\n\nError: "+err.Error(),
		)
		return
	}

	current, err := client.RetrieveAttributes(ctx, dn)
	done(err)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			tflog.Debug(ctx, "Directory entry no longer exists, removing from state", map[string]any{
				"dn": dn,
			})
			resp.State.RemoveResource(ctx)
			return
		}

		resp.Diagnostics.AddError(
			"Error Reading Entry",
			fmt.Sprintf("Could not read directory entry %s.\n\nError: %s", dn, err.Error()),
		)
		return
	}

	if len(current) == 0 {
		resp.State.RemoveResource(ctx)
		return
	}

	resp.Diagnostics.Append(r.updateModelFromEntry(ctx, &data, current)...)
	if resp.Diagnostics.HasError() {
		return
	}

	// Save updated data into Terraform state
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *EntryResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var plan, state EntryResourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Plan.Get(ctx, &plan)...)
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	oldDN := state.DN.ValueString()
	newDN := plan.DN.ValueString()
	done := ldapclient.LogResourceOperation(ctx, entryResourceName, "update", map[string]any{
		"dn":     oldDN,
		"new_dn": newDN,
	})

	client, err := r.providerData.Client(ctx, plan.Server.ValueString())
	if err != nil {
		done(err)
		resp.Diagnostics.AddError(
			"Error Connecting to Directory",
			"Could not resolve a directory client.\n\nError: "+err.Error(),
		)
		return
	}

	if !ldapclient.EqualDN(oldDN, newDN) {
		if err := renameEntry(ctx, client, state.DN, plan.DN); err != nil {
			done(err)
			resp.Diagnostics.AddError(
				"Error Renaming Entry",
				fmt.Sprintf("Could not rename directory entry %s to %s.\n\nError: %s", oldDN, newDN, err.Error()),
			)
			return
		}
	}

	prior, diags := helpers.AttributeMapFromValue(ctx, state.Attributes)
	resp.Diagnostics.Append(diags...)
	planned, diags := helpers.AttributeMapFromValue(ctx, plan.Attributes)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	changes := escapeChanges(helpers.AttributeChanges(prior, planned))
	if !plan.Password.Equal(state.Password) || !plan.HashPassword.Equal(state.HashPassword) {
		if password, ok := passwordValue(plan); ok {
			changes[ldapclient.PasswordAttribute] = password
		} else {
			changes[ldapclient.PasswordAttribute] = ""
		}
	}

	tflog.Debug(ctx, "Writing directory entry attributes", map[string]any{
		"dn":           newDN,
		"change_count": len(changes),
	})

	err = client.WriteAttributes(ctx, newDN, changes)
	done(err)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Updating Entry",
			fmt.Sprintf("Could not update directory entry %s.\n\nError: %s", newDN, err.Error()),
		)
		return
	}

	plan.ID = types.StringValue(newDN)

	resp.Diagnostics.Append(resp.State.Set(ctx, &plan)...)
}

func (r *EntryResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	recursive := data.RecursiveDelete.ValueBool()
	done := ldapclient.LogResourceOperation(ctx, entryResourceName, "delete", map[string]any{
		"dn":        dn,
		"recursive": recursive,
	})

	client, err := r.providerData.Client(ctx, data.Server.ValueString())
	if err != nil {
		done(err)
		resp.Diagnostics.AddError(
			"Error Connecting to Directory",
			"Could not resolve a directory client.\n\nError: "+err.Error(),
		)
		return
	}

	deleted, err := client.DeleteEntry(ctx, dn, recursive)
	if err != nil && ldapclient.IsNotFoundError(err) && len(deleted) == 0 {
		tflog.Debug(ctx, "Directory entry already deleted", map[string]any{"dn": dn})
		err = nil
	}
	done(err)

	tflog.Debug(ctx, "Deleted directory entries", map[string]any{
		"dn":      dn,
		"deleted": deleted,
	})

	if err != nil {
		resp.Diagnostics.AddError(
			"Error Deleting Entry",
			fmt.Sprintf("Could not delete directory entry %s after deleting %d entries.\n\nError: %s", dn, len(deleted), err.Error()),
		)
	}
}

// ImportState accepts either a DN or "<server>:<dn>".
func (r *EntryResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	server, dn := parseEntryImportID(req.ID)

	if err := ldapclient.ValidateDNSyntax(dn); err != nil {
		resp.Diagnostics.AddError(
			"Invalid Import ID",
			fmt.Sprintf("Expected a distinguished name or <server>:<dn>, got %q.\n\nError: %s", req.ID, err.Error()),
		)
		return
	}

	tflog.Debug(ctx, "Importing directory entry", map[string]any{
		"dn":     dn,
		"server": server,
	})

	resp.Diagnostics.Append(resp.State.SetAttribute(ctx, path.Root("id"), dn)...)
	resp.Diagnostics.Append(resp.State.SetAttribute(ctx, path.Root("dn"), dn)...)
	resp.Diagnostics.Append(resp.State.SetAttribute(ctx, path.Root("hash_password"), true)...)
	resp.Diagnostics.Append(resp.State.SetAttribute(ctx, path.Root("recursive_delete"), false)...)
	if server != "" {
		resp.Diagnostics.Append(resp.State.SetAttribute(ctx, path.Root("server"), server)...)
	}
}

// updateModelFromEntry refreshes the managed attributes from current. A
// null attribute map, as left by import, adopts every attribute.
func (r *EntryResource) updateModelFromEntry(ctx context.Context, model *EntryResourceModel, current ldapclient.Attributes) diag.Diagnostics {
	var names []string
	if !model.Attributes.IsNull() {
		prior, diags := helpers.AttributeMapFromValue(ctx, model.Attributes)
		if diags.HasError() {
			return diags
		}
		names = helpers.AttributeNames(prior)
	} else {
		for _, name := range current.Names() {
			if strings.EqualFold(name, ldapclient.PasswordAttribute) {
				continue
			}
			names = append(names, name)
		}
	}

	attributes, diags := helpers.AttributeMapValue(ctx, helpers.SelectAttributes(current, names))
	if diags.HasError() {
		return diags
	}

	model.Attributes = attributes
	if model.ID.IsNull() || model.ID.IsUnknown() {
		model.ID = types.StringValue(model.DN.ValueString())
	}
	return diags
}

// passwordValue returns the userPassword value to write for model.
func passwordValue(model EntryResourceModel) (string, bool) {
	if model.Password.IsNull() || model.Password.IsUnknown() || model.Password.ValueString() == "" {
		return "", false
	}

	password := model.Password.ValueString()
	if model.HashPassword.ValueBool() && !ldapclient.IsHashedPassword(password) {
		password = ldapclient.HashPassword(password)
	}
	return password, true
}

// escapeChanges escapes replacement values the same way CreateEntry does.
func escapeChanges(changes map[string]any) map[string]any {
	for name, change := range changes {
		values, ok := change.([]string)
		if !ok {
			continue
		}
		escaped := make([]string, len(values))
		for i, v := range values {
			escaped[i] = ldapclient.Escape(v)
		}
		changes[name] = escaped
	}
	return changes
}

func renameEntry(ctx context.Context, client *ldapclient.Client, from, to customtypes.DNStringValue) error {
	newRDN, newParent, err := from.RenameTarget(to)
	if err != nil {
		return err
	}
	return client.RenameEntry(ctx, from.ValueString(), newRDN, newParent, true)
}

func parseEntryImportID(id string) (server, dn string) {
	id = strings.TrimSpace(id)
	prefix, rest, found := strings.Cut(id, ":")
	if !found || strings.Contains(prefix, "=") {
		return "", id
	}
	return strings.TrimSpace(prefix), strings.TrimSpace(rest)
}
