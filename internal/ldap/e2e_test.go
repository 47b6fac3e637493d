package ldap_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/terraform-provider-directory/internal/ldap"
	"github.com/isometry/terraform-provider-directory/internal/ldaptest"
)

func TestClient_AgainstServer(t *testing.T) {
	srv := ldaptest.NewServer(t)
	srv.AddUser("cn=admin,dc=example,dc=com", "secret")
	srv.AddEntry("uid=alice,ou=people,dc=example,dc=com", map[string]string{
		"uid":  "alice",
		"mail": "alice@example.com",
		"cn":   "Alice",
	})

	config := &ldap.ServerConfig{
		ID:            1,
		Name:          "local",
		Host:          srv.Host,
		Port:          srv.Port,
		BaseDN:        "dc=example,dc=com",
		AdminDN:       "cn=admin,dc=example,dc=com",
		AdminPassword: "secret",
		Timeout:       5 * time.Second,
	}

	t.Run("bind and read", func(t *testing.T) {
		client, err := ldap.NewClient(config, ldap.WithLogger(ldap.NewZapLogger(nil)))
		require.NoError(t, err)
		defer client.Disconnect()

		err = client.Connect(t.Context(), ldap.Credential{BindDN: config.AdminDN, Password: config.AdminPassword})
		require.NoError(t, err)

		attrs, err := client.RetrieveAttributes(t.Context(), "uid=alice,ou=people,dc=example,dc=com")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", attrs["mail"])
		assert.Equal(t, "Alice", attrs["cn"])
		assert.Contains(t, srv.Binds(), config.AdminDN)
	})

	t.Run("wrong password", func(t *testing.T) {
		client, err := ldap.NewClient(config, ldap.WithLogger(ldap.NewZapLogger(nil)))
		require.NoError(t, err)

		err = client.Connect(t.Context(), ldap.Credential{BindDN: config.AdminDN, Password: "wrong"})
		require.Error(t, err)
		assert.True(t, ldap.IsBindError(err))
		assert.Equal(t, ldap.StateFailed, client.State())
	})

	t.Run("unreachable server", func(t *testing.T) {
		closed := *config
		closed.Port = closedPort(t)
		closed.Timeout = time.Second

		client, err := ldap.NewClient(&closed, ldap.WithLogger(ldap.NewZapLogger(nil)))
		require.NoError(t, err)

		err = client.Connect(t.Context(), ldap.Credential{BindDN: config.AdminDN, Password: config.AdminPassword})
		require.Error(t, err)
		assert.True(t, ldap.IsConnectError(err))
	})
}

func closedPort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())

	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return p
}
