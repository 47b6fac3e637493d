/*
Package ldap provides the directory client used by the provider and by the
authentication engine.

# Architecture Overview

  - Client: one exclusively owned connection to one server, with search,
    attribute retrieval, write, create, rename and delete operations
  - Registry: resolves a server ID or name to a bound Client, caching
    admin binds only
  - Escape/Unescape: value quoting for , # + < > ; " and =
  - HashPassword: {MD5} userPassword values

# Connection Lifecycle

A Client moves Disconnected → Connecting → Bound, or to Failed when the
dial, the optional StartTLS upgrade or the bind fails. go-ldap always speaks
protocol version 3 and never follows referrals, so no further negotiation is
needed. Every request is bounded by the server timeout and by the context
deadline, whichever is sooner.

# Search Results

Entries are normalized before they are returned: attribute names are
lower-cased, an attribute with one value is a string, an attribute with more
is a []string, and "dn" is always present. Search is a subtree search capped
at SearchSizeLimit entries; hitting the cap returns the entries received.

# Error Handling

All failures are *LDAPError values carrying the operation (connect,
start_tls, bind, search, add, modify, rename, delete) and a category. Use
IsConnectError, IsBindError, IsTLSError, IsTimeoutError and IsNotFoundError
to classify them.

# Recursive Delete

DeleteEntry with recursive set removes children depth-first before the
parent. The cascade stops at the first failure without rolling back; the
returned DN list tells the caller what is already gone.

# Example Usage

	source, err := ldap.NewStaticSource(&ldap.ServerConfig{
		ID:            1,
		Name:          "corp",
		Host:          "ldap.example.com",
		BaseDN:        "dc=example,dc=com",
		AdminDN:       "cn=admin,dc=example,dc=com",
		AdminPassword: "secret",
	})
	if err != nil {
		return err
	}

	registry := ldap.NewRegistry(source)
	defer registry.Close()

	client, err := registry.Resolve(ctx, "corp", "", "")
	if err != nil {
		return err
	}

	entries, err := client.Search(ctx, "ou=people,dc=example,dc=com", "(uid=alice)", "mail")
*/
package ldap
