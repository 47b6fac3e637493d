package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/terraform-provider-directory/internal/auth"
	"github.com/isometry/terraform-provider-directory/internal/ldaptest"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfig(t *testing.T) {
	unsetEnv(t, envConfig, envMySQLDSN, envPassword, "DIRAUTH_DEBUG")

	config, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, Config{ConfigFile: defaultConfigFile}, config)

	t.Setenv(envConfig, "/etc/dirauth.yaml")
	t.Setenv(envMySQLDSN, "user:pw@tcp(db:3306)/dirauth")
	t.Setenv(envPassword, "secret")
	t.Setenv("DIRAUTH_DEBUG", "true")

	config, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, Config{
		ConfigFile: "/etc/dirauth.yaml",
		MySQLDSN:   "user:pw@tcp(db:3306)/dirauth",
		Password:   "secret",
		Debug:      true,
	}, config)

	t.Setenv("DIRAUTH_DEBUG", "maybe")
	_, err = loadConfig()
	assert.Error(t, err)
}

func writeTestConfig(t *testing.T) string {
	t.Helper()

	srv := ldaptest.NewServer(t)
	srv.AddUser("cn=admin,dc=example,dc=com", "admin-secret")
	srv.AddUser("uid=alice,ou=people,dc=example,dc=com", "pw")
	srv.AddEntry("ou=people,dc=example,dc=com", map[string]string{
		"ou": "people",
	})
	srv.AddEntry("uid=alice,ou=people,dc=example,dc=com", map[string]string{
		"uid":  "alice",
		"mail": "alice@example.com",
	})

	path := filepath.Join(t.TempDir(), "dirauth.yaml")
	require.NoError(t, os.WriteFile(path, fmt.Appendf(nil, `
servers:
  - id: 3
    name: local
    host: %s
    port: %d
    base_dn: dc=example,dc=com
    admin_dn: cn=admin,dc=example,dc=com
    admin_password: admin-secret
    timeout: 5s
auth:
  - server_id: 3
    enabled: true
    lookup_dn: uid=%%username%%,ou=people,dc=example,dc=com
    enable_mapping: true
    field_mapping:
      email: mail
`, srv.Host, srv.Port), 0o600))

	return path
}

func TestRun_Hash(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"hash", "-password", "secret"}, &out, Config{})
	require.NoError(t, err)
	assert.Equal(t, "{MD5}Xr4ilOzQ4PCOq3aQ0qbuaQ==\n", out.String())

	out.Reset()
	err = run([]string{"hash"}, &out, Config{Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "{MD5}Xr4ilOzQ4PCOq3aQ0qbuaQ==\n", out.String())

	err = run([]string{"hash"}, &out, Config{})
	assert.Error(t, err)
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer

	require.Error(t, run(nil, &out, Config{}))
	assert.Contains(t, out.String(), "usage: dirauth")

	out.Reset()
	err := run([]string{"frobnicate"}, &out, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")

	out.Reset()
	require.NoError(t, run([]string{"help"}, &out, Config{}))
	assert.Contains(t, out.String(), envMySQLDSN)
}

func TestRun_Servers(t *testing.T) {
	env := Config{ConfigFile: writeTestConfig(t)}

	var out bytes.Buffer
	require.NoError(t, run([]string{"servers", "-include-empty"}, &out, env))
	assert.Equal(t, "none\tNone\n3\tlocal\n", out.String())

	out.Reset()
	require.NoError(t, run([]string{"servers"}, &out, env))
	assert.Equal(t, "3\tlocal\n", out.String())
}

func TestRun_Search(t *testing.T) {
	env := Config{ConfigFile: writeTestConfig(t)}

	var out bytes.Buffer
	err := run([]string{"search", "-server", "local", "-base", "ou=people,dc=example,dc=com", "-attr", "mail"}, &out, env)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "dn: uid=alice,ou=people,dc=example,dc=com")
	assert.Contains(t, out.String(), "- alice@example.com")

	err = run([]string{"search"}, &out, env)
	assert.ErrorContains(t, err, "-server is required")
}

func TestRun_Login(t *testing.T) {
	config := writeTestConfig(t)

	var out bytes.Buffer
	err := run([]string{"login", "-username", "alice"}, &out, Config{ConfigFile: config, Password: "pw"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "username: alice")
	assert.Contains(t, out.String(), "origin: "+auth.OriginDirectory)

	out.Reset()
	err = run([]string{"login", "-username", "alice"}, &out, Config{ConfigFile: config, Password: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrNoServerMatched)
	assert.Contains(t, err.Error(), "no_server_matched")

	err = run([]string{"login"}, &out, Config{ConfigFile: config})
	assert.ErrorContains(t, err, "-username is required")
}

func TestFailureKind(t *testing.T) {
	tests := map[string]error{
		"empty_password":    auth.ErrEmptyPassword,
		"no_server_matched": fmt.Errorf("wrapped: %w", auth.ErrNoServerMatched),
		"origin_conflict":   auth.ErrAccountOriginConflict,
		"sync_failure":      auth.ErrSyncFailure,
		"error":             fmt.Errorf("boom"),
	}

	for kind, err := range tests {
		assert.Equal(t, kind, failureKind(err))
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"mail", "cn"}, splitList(" mail, ,cn "))
}
