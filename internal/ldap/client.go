package ldap

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Client owns one bound connection to one directory server.
//
// State moves Disconnected → Connecting → Bound, or to Failed when any step
// of Connect fails. Connect may be called again from any state; it first
// releases the current connection. Disconnect is idempotent.
type Client struct {
	mu     sync.Mutex
	config *ServerConfig
	dial   DialFunc
	logger Logger

	conn   Conn
	state  State
	bindDN string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialer replaces the function used to open connections.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithLogger sets the logger used by the client.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a disconnected client for the server described by config.
func NewClient(config *ServerConfig, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("server configuration is required")
	}

	cfg := *config
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	c := &Client{
		config: &cfg,
		dial:   DefaultDial,
		logger: NewTFLogger(context.Background(), "ldap"),
		state:  StateDisconnected,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Config returns a copy of the server configuration.
func (c *Client) Config() ServerConfig {
	return *c.config
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BindDN returns the DN of the last successful bind.
func (c *Client) BindDN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindDN
}

// Connect dials the server, optionally upgrades the connection with
// StartTLS, and performs a simple bind with cred. A credential with neither
// DN nor password skips the bind and leaves an anonymous session.
func (c *Client) Connect(ctx context.Context, cred Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.closeLocked()
	}
	c.state = StateConnecting

	fields := map[string]any{
		"server_id": c.config.ID,
		"server":    c.config.Name,
		"address":   c.config.Address(),
		"use_tls":   c.config.UseTLS,
		"bind_dn":   cred.BindDN,
	}

	err := LogOperation(c.logger, "connect", fields, func() error {
		conn, err := c.dial(ctx, c.config)
		if err != nil {
			return NewLDAPError(OpConnect, err)
		}

		conn.SetTimeout(requestTimeout(ctx, c.config.Timeout))

		if c.config.UseTLS {
			if err := conn.StartTLS(c.config.TLSConfig()); err != nil {
				_ = conn.Close()
				return NewLDAPError(OpStartTLS, err)
			}
		}

		if !cred.IsAnonymous() {
			if err := conn.Bind(cred.BindDN, cred.Password); err != nil {
				_ = conn.Close()
				return newOperationError(OpBind, cred.BindDN, err)
			}
		}

		c.conn = conn
		return nil
	})
	if err != nil {
		c.state = StateFailed
		return err
	}

	c.state = StateBound
	c.bindDN = cred.BindDN
	return nil
}

// Disconnect closes the connection. It is safe to call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
		c.logger.Debug("Connection closed", map[string]any{
			"server_id": c.config.ID,
		})
	}
	c.state = StateDisconnected
	c.bindDN = ""
	return err
}

// withConn runs fn against the bound connection with the request timeout
// derived from ctx. Errors are wrapped as *LDAPError for operation and dn.
func (c *Client) withConn(ctx context.Context, operation, dn string, fn func(Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBound || c.conn == nil {
		return newOperationError(operation, dn, ErrNotConnected)
	}

	if err := ctx.Err(); err != nil {
		return newOperationError(operation, dn, err)
	}

	c.conn.SetTimeout(requestTimeout(ctx, c.config.Timeout))

	if err := fn(c.conn); err != nil {
		LogLDAPError(c.logger, operation, err, map[string]any{
			"server_id": c.config.ID,
			"dn":        dn,
		})
		return newOperationError(operation, dn, err)
	}

	return nil
}

func (c *Client) search(ctx context.Context, baseDN string, scope int, filter string, attributes []string, sizeLimit int) ([]*Entry, error) {
	req := ldap.NewSearchRequest(
		baseDN,
		scope,
		ldap.NeverDerefAliases,
		sizeLimit,
		int(c.config.Timeout/time.Second),
		false,
		filter,
		attributes,
		nil,
	)

	var entries []*Entry
	err := c.withConn(ctx, OpSearch, baseDN, func(conn Conn) error {
		result, err := conn.Search(req)
		if err != nil && !(ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && result != nil) {
			return err
		}
		if err != nil {
			c.logger.Warn("Search size limit reached, returning partial results", map[string]any{
				"base_dn":    baseDN,
				"size_limit": sizeLimit,
			})
		}

		if result == nil {
			entries = []*Entry{}
			return nil
		}

		entries = make([]*Entry, 0, len(result.Entries))
		for _, e := range result.Entries {
			entries = append(entries, normalizeEntry(e))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Trace("Search completed", map[string]any{
		"base_dn":      baseDN,
		"filter":       filter,
		"scope":        scope,
		"result_count": len(entries),
	})

	return entries, nil
}

// Search runs a subtree search below baseDN, capped at SearchSizeLimit
// entries. No matches yields an empty slice and a nil error; a failed search
// yields an error.
func (c *Client) Search(ctx context.Context, baseDN, filter string, attributes ...string) ([]*Entry, error) {
	return c.search(ctx, baseDN, ldap.ScopeWholeSubtree, rewriteFilter(filter), attributes, SearchSizeLimit)
}

// SearchRelative searches below relativeDN joined with the configured base DN.
func (c *Client) SearchRelative(ctx context.Context, relativeDN, filter string, attributes ...string) ([]*Entry, error) {
	return c.Search(ctx, JoinDN(relativeDN, c.config.BaseDN), filter, attributes...)
}

// RetrieveAttributes reads the entry at dn. It returns an empty map when the
// search succeeds but yields no entry.
func (c *Client) RetrieveAttributes(ctx context.Context, dn string) (Attributes, error) {
	entries, err := c.search(ctx, dn, ldap.ScopeBaseObject, matchAllFilter, nil, 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return Attributes{}, nil
	}
	return entries[0].Attributes, nil
}

// RetrieveAttribute returns the first value of one attribute of dn.
func (c *Client) RetrieveAttribute(ctx context.Context, dn, name string) (string, bool, error) {
	attrs, err := c.RetrieveAttributes(ctx, dn)
	if err != nil {
		return "", false, err
	}
	value, ok := attrs.Value(name)
	return value, ok, nil
}

// RetrieveAttributeArray returns all values of one attribute of dn.
func (c *Client) RetrieveAttributeArray(ctx context.Context, dn, name string) ([]string, error) {
	attrs, err := c.RetrieveAttributes(ctx, dn)
	if err != nil {
		return nil, err
	}
	values := attrs.Values(name)
	if values == nil {
		values = []string{}
	}
	return values, nil
}

// WriteAttributes applies changes to dn. A change is a string or a []string.
//
// An empty string, or a sequence that is empty once empty elements are
// dropped, deletes the attribute if it currently has a value and is
// otherwise skipped. Everything else is sent in a single replace request.
func (c *Client) WriteAttributes(ctx context.Context, dn string, changes map[string]any) error {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	slices.Sort(names)

	req := ldap.NewModifyRequest(dn, nil)
	var deletes []string

	for _, name := range names {
		values, ok := toStringValues(changes[name])
		if !ok {
			return newOperationError(OpModify, dn, fmt.Errorf("unsupported value type %T for attribute %q", changes[name], name))
		}

		values = compactValues(values)
		if len(values) == 0 {
			deletes = append(deletes, name)
			continue
		}

		req.Replace(name, values)
	}

	if len(deletes) > 0 {
		current, err := c.RetrieveAttributes(ctx, dn)
		if err != nil {
			return err
		}

		for _, name := range deletes {
			if !current.Has(name) {
				c.logger.Trace("Skipping delete of absent attribute", map[string]any{
					"dn":        dn,
					"attribute": name,
				})
				continue
			}
			if err := c.DeleteAttribute(ctx, dn, name); err != nil {
				return err
			}
		}
	}

	if len(req.Changes) == 0 {
		return nil
	}

	return c.withConn(ctx, OpModify, dn, func(conn Conn) error {
		return conn.Modify(req)
	})
}

// AddAttributeValue appends value to attr unless it is already present.
func (c *Client) AddAttributeValue(ctx context.Context, dn, attr, value string) error {
	current, err := c.RetrieveAttributeArray(ctx, dn, attr)
	if err != nil {
		return err
	}

	if slices.Contains(current, value) {
		return nil
	}

	return c.WriteAttributes(ctx, dn, map[string]any{
		attr: append(current, Escape(value)),
	})
}

// RemoveAttributeValue removes every exact occurrence of value from attr.
// Removing the last value deletes the attribute.
func (c *Client) RemoveAttributeValue(ctx context.Context, dn, attr, value string) error {
	current, err := c.RetrieveAttributeArray(ctx, dn, attr)
	if err != nil {
		return err
	}

	remaining := slices.DeleteFunc(current, func(v string) bool {
		return v == value
	})

	return c.WriteAttributes(ctx, dn, map[string]any{
		attr: remaining,
	})
}

// CreateEntry adds an entry at dn. Values are escaped with Escape except
// for PasswordAttribute, which is written verbatim. Attributes without a
// non-empty value are dropped.
func (c *Client) CreateEntry(ctx context.Context, dn string, attributes map[string]any) error {
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	slices.Sort(names)

	req := ldap.NewAddRequest(dn, nil)
	for _, name := range names {
		values, ok := toStringValues(attributes[name])
		if !ok {
			return newOperationError(OpAdd, dn, fmt.Errorf("unsupported value type %T for attribute %q", attributes[name], name))
		}

		values = compactValues(values)
		if len(values) == 0 {
			continue
		}

		if !strings.EqualFold(name, PasswordAttribute) {
			escaped := make([]string, len(values))
			for i, v := range values {
				escaped[i] = Escape(v)
			}
			values = escaped
		}

		req.Attribute(name, values)
	}

	return c.withConn(ctx, OpAdd, dn, func(conn Conn) error {
		return conn.Add(req)
	})
}

// EntryExists reports whether a base-scope read of dn succeeds. A missing
// entry is reported as false with a nil error.
func (c *Client) EntryExists(ctx context.Context, dn string) (bool, error) {
	_, err := c.search(ctx, dn, ldap.ScopeBaseObject, matchAllFilter, []string{noAttributes}, 0)
	if err == nil {
		return true, nil
	}
	if IsNotFoundError(err) {
		return false, nil
	}
	return false, err
}

// RenameEntry changes the RDN of dn and optionally moves it below newParentDN.
func (c *Client) RenameEntry(ctx context.Context, dn, newRDN, newParentDN string, deleteOldRDN bool) error {
	req := ldap.NewModifyDNRequest(dn, newRDN, deleteOldRDN, newParentDN)

	c.logger.Debug("Renaming entry", map[string]any{
		"dn":             dn,
		"new_rdn":        newRDN,
		"new_parent_dn":  newParentDN,
		"delete_old_rdn": deleteOldRDN,
	})

	return c.withConn(ctx, OpRename, dn, func(conn Conn) error {
		return conn.ModifyDN(req)
	})
}

// DeleteEntry deletes dn and returns the DNs that were removed, in deletion
// order. With recursive set, the children one level below dn are deleted
// depth-first before dn itself. The first failure aborts the cascade; the
// returned slice lists what was deleted before it.
func (c *Client) DeleteEntry(ctx context.Context, dn string, recursive bool) ([]string, error) {
	deleted := []string{}

	if !recursive {
		if err := c.deleteOne(ctx, dn); err != nil {
			return deleted, err
		}
		return append(deleted, dn), nil
	}

	err := c.deleteTree(ctx, dn, &deleted)
	if err != nil {
		c.logger.Warn("Recursive delete aborted", map[string]any{
			"dn":            dn,
			"deleted_count": len(deleted),
			"error":         err.Error(),
		})
	}
	return deleted, err
}

func (c *Client) deleteTree(ctx context.Context, dn string, deleted *[]string) error {
	children, err := c.search(ctx, dn, ldap.ScopeSingleLevel, matchAllFilter, []string{noAttributes}, 0)
	if err != nil {
		return err
	}

	for _, child := range children {
		if err := c.deleteTree(ctx, child.DN, deleted); err != nil {
			return err
		}
	}

	if err := c.deleteOne(ctx, dn); err != nil {
		return err
	}
	*deleted = append(*deleted, dn)
	return nil
}

func (c *Client) deleteOne(ctx context.Context, dn string) error {
	return c.withConn(ctx, OpDelete, dn, func(conn Conn) error {
		return conn.Del(ldap.NewDelRequest(dn, nil))
	})
}

// DeleteAttribute removes attr from dn unconditionally. Use it for
// attributes without an equality matching rule.
func (c *Client) DeleteAttribute(ctx context.Context, dn, attr string) error {
	req := ldap.NewModifyRequest(dn, nil)
	req.Delete(attr, []string{})

	return c.withConn(ctx, OpModify, dn, func(conn Conn) error {
		return conn.Modify(req)
	})
}
