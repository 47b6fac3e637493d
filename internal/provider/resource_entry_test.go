package provider

import (
	"fmt"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
	"github.com/stretchr/testify/assert"

	ldapclient "github.com/isometry/terraform-provider-directory/internal/ldap"
)

func TestParseEntryImportID(t *testing.T) {
	tests := []struct {
		id     string
		server string
		dn     string
	}{
		{id: "uid=alice,dc=example,dc=com", dn: "uid=alice,dc=example,dc=com"},
		{id: "primary:uid=alice,dc=example,dc=com", server: "primary", dn: "uid=alice,dc=example,dc=com"},
		{id: " 2 : ou=people,dc=example,dc=com ", server: "2", dn: "ou=people,dc=example,dc=com"},
		{id: "cn=a:b,dc=example,dc=com", dn: "cn=a:b,dc=example,dc=com"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			server, dn := parseEntryImportID(tt.id)
			assert.Equal(t, tt.server, server)
			assert.Equal(t, tt.dn, dn)
		})
	}
}

func TestPasswordValue(t *testing.T) {
	model := func(password types.String, hash bool) EntryResourceModel {
		return EntryResourceModel{Password: password, HashPassword: types.BoolValue(hash)}
	}

	_, ok := passwordValue(model(types.StringNull(), true))
	assert.False(t, ok)

	_, ok = passwordValue(model(types.StringValue(""), true))
	assert.False(t, ok)

	value, ok := passwordValue(model(types.StringValue("secret"), true))
	assert.True(t, ok)
	assert.Equal(t, ldapclient.HashPassword("secret"), value)

	value, ok = passwordValue(model(types.StringValue("secret"), false))
	assert.True(t, ok)
	assert.Equal(t, "secret", value)

	value, ok = passwordValue(model(types.StringValue("{SSHA}abcdef"), true))
	assert.True(t, ok)
	assert.Equal(t, "{SSHA}abcdef", value)
}

func TestEscapeChanges(t *testing.T) {
	changes := escapeChanges(map[string]any{
		"cn":          []string{"Doe, John"},
		"description": "",
	})

	assert.Equal(t, []string{`Doe\, John`}, changes["cn"])
	assert.Equal(t, "", changes["description"])
}

func TestAccEntryResource_basic(t *testing.T) {
	config := GetTestConfig()
	dn := ldapclient.JoinDN("ou="+GenerateTestName(TestEntryPrefix), config.ContainerDN())
	renamed := ldapclient.JoinDN("ou="+GenerateTestName(TestEntryPrefix), config.ContainerDN())

	resource.Test(t, resource.TestCase{
		PreCheck:                 func() { testAccPreCheck(t) },
		ProtoV6ProviderFactories: testAccProtoV6ProviderFactories,
		CheckDestroy:             TestCheckEntryDestroy,
		Steps: []resource.TestStep{
			{
				Config: TestProviderConfig() + GenerateEntryConfig(dn, "created"),
				Check: resource.ComposeAggregateTestCheckFunc(
					TestCheckEntryExists("directory_entry.test"),
					resource.TestCheckResourceAttr("directory_entry.test", "id", dn),
					resource.TestCheckResourceAttr("directory_entry.test", "attributes.description.0", "created"),
					resource.TestCheckResourceAttr("directory_entry.test", "hash_password", "true"),
				),
			},
			{
				Config: TestProviderConfig() + GenerateEntryConfig(dn, "updated"),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("directory_entry.test", "attributes.description.0", "updated"),
				),
			},
			{
				ResourceName:            "directory_entry.test",
				ImportState:             true,
				ImportStateId:           dn,
				ImportStateVerify:       true,
				ImportStateVerifyIgnore: []string{"attributes"},
			},
			{
				Config: TestProviderConfig() + GenerateEntryConfig(renamed, "renamed"),
				Check: resource.ComposeAggregateTestCheckFunc(
					TestCheckEntryExists("directory_entry.test"),
					resource.TestCheckResourceAttr("directory_entry.test", "id", renamed),
				),
			},
		},
	})
}

func TestAccEntryResource_password(t *testing.T) {
	config := GetTestConfig()
	ouDN := ldapclient.JoinDN("ou="+GenerateTestName(TestEntryPrefix), config.ContainerDN())
	userDN := ldapclient.JoinDN("uid=tf-user", ouDN)

	resource.Test(t, resource.TestCase{
		PreCheck:                 func() { testAccPreCheck(t) },
		ProtoV6ProviderFactories: testAccProtoV6ProviderFactories,
		CheckDestroy:             TestCheckEntryDestroy,
		Steps: []resource.TestStep{
			{
				Config: TestProviderConfig() + fmt.Sprintf(`
resource "directory_entry" "ou" {
  dn               = %[1]q
  recursive_delete = true

  attributes = {
    objectClass = ["top", "organizationalUnit"]
  }
}

resource "directory_entry" "user" {
  dn       = %[2]q
  password = "initial-secret"

  attributes = {
    objectClass = ["top", "person", "organizationalPerson", "inetOrgPerson"]
    cn          = ["TF User"]
    sn          = ["User"]
  }

  depends_on = [directory_entry.ou]
}`, ouDN, userDN),
				Check: resource.ComposeAggregateTestCheckFunc(
					TestCheckEntryExists("directory_entry.user"),
					resource.TestCheckResourceAttr("directory_entry.user", "password", "initial-secret"),
				),
			},
		},
	})
}
