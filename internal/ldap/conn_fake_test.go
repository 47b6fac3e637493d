package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"
)

// MockConn implements Conn for testing single requests.
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Bind(username, password string) error {
	args := m.Called(username, password)
	return args.Error(0)
}

func (m *MockConn) StartTLS(config *tls.Config) error {
	args := m.Called(config)
	return args.Error(0)
}

func (m *MockConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(req)
	result, _ := args.Get(0).(*ldap.SearchResult)
	return result, args.Error(1)
}

func (m *MockConn) Add(req *ldap.AddRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *MockConn) Modify(req *ldap.ModifyRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *MockConn) ModifyDN(req *ldap.ModifyDNRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *MockConn) Del(req *ldap.DelRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *MockConn) SetTimeout(timeout time.Duration) {
	m.Called(timeout)
}

func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

// newMockConn returns a MockConn that accepts timeouts and close calls.
func newMockConn() *MockConn {
	m := &MockConn{}
	m.On("SetTimeout", mock.Anything).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

func dialConn(conn Conn) DialFunc {
	return func(context.Context, *ServerConfig) (Conn, error) {
		return conn, nil
	}
}

// memoryConn is an in-memory directory tree implementing Conn. Filters are
// ignored: every entry in scope matches.
type memoryConn struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	failDelete map[string]error
	deleted    []string
	modifies   int
	closed     bool
}

type memoryEntry struct {
	dn    string
	attrs map[string][]string
	order []string
}

func newMemoryConn() *memoryConn {
	return &memoryConn{
		entries:    make(map[string]*memoryEntry),
		failDelete: make(map[string]error),
	}
}

func (c *memoryConn) put(dn string, attrs map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &memoryEntry{dn: dn, attrs: make(map[string][]string)}
	for name, values := range attrs {
		e.set(name, values)
	}
	c.entries[strings.ToLower(dn)] = e
}

func (c *memoryConn) get(dn string) *memoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[strings.ToLower(dn)]
}

func (e *memoryEntry) set(name string, values []string) {
	for _, existing := range e.order {
		if strings.EqualFold(existing, name) {
			e.attrs[existing] = slices.Clone(values)
			return
		}
	}
	e.order = append(e.order, name)
	e.attrs[name] = slices.Clone(values)
}

func (e *memoryEntry) remove(name string) bool {
	for i, existing := range e.order {
		if strings.EqualFold(existing, name) {
			delete(e.attrs, existing)
			e.order = slices.Delete(e.order, i, i+1)
			return true
		}
	}
	return false
}

func (e *memoryEntry) values(name string) []string {
	for _, existing := range e.order {
		if strings.EqualFold(existing, name) {
			return e.attrs[existing]
		}
	}
	return nil
}

func parentOf(dn string) string {
	_, parent, err := SplitDN(dn)
	if err != nil {
		return ""
	}
	return strings.ToLower(parent)
}

func noSuchObject(dn string) error {
	return ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object: "+dn))
}

func (c *memoryConn) Bind(string, string) error { return nil }

func (c *memoryConn) StartTLS(*tls.Config) error { return nil }

func (c *memoryConn) SetTimeout(time.Duration) {}

func (c *memoryConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *memoryConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := strings.ToLower(req.BaseDN)
	if _, ok := c.entries[base]; !ok {
		return nil, noSuchObject(req.BaseDN)
	}

	var keys []string
	for key := range c.entries {
		switch req.Scope {
		case ldap.ScopeBaseObject:
			if key == base {
				keys = append(keys, key)
			}
		case ldap.ScopeSingleLevel:
			if parentOf(key) == base {
				keys = append(keys, key)
			}
		default:
			if key == base || strings.HasSuffix(key, ","+base) {
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)

	result := &ldap.SearchResult{}
	for _, key := range keys {
		if req.SizeLimit > 0 && len(result.Entries) == req.SizeLimit {
			return result, ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit exceeded"))
		}

		e := c.entries[key]
		entry := &ldap.Entry{DN: e.dn}
		if !slices.Contains(req.Attributes, noAttributes) {
			for _, name := range e.order {
				if len(req.Attributes) > 0 && !slices.ContainsFunc(req.Attributes, func(a string) bool {
					return strings.EqualFold(a, name)
				}) {
					continue
				}
				entry.Attributes = append(entry.Attributes, &ldap.EntryAttribute{
					Name:   name,
					Values: slices.Clone(e.attrs[name]),
				})
			}
		}
		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

func (c *memoryConn) Add(req *ldap.AddRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(req.DN)
	if _, ok := c.entries[key]; ok {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("entry already exists"))
	}

	e := &memoryEntry{dn: req.DN, attrs: make(map[string][]string)}
	for _, attr := range req.Attributes {
		e.set(attr.Type, attr.Vals)
	}
	c.entries[key] = e
	return nil
}

func (c *memoryConn) Modify(req *ldap.ModifyRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[strings.ToLower(req.DN)]
	if !ok {
		return noSuchObject(req.DN)
	}
	c.modifies++

	for _, change := range req.Changes {
		name := change.Modification.Type
		vals := change.Modification.Vals

		switch change.Operation {
		case ldap.ReplaceAttribute:
			if len(vals) == 0 {
				e.remove(name)
			} else {
				e.set(name, vals)
			}
		case ldap.AddAttribute:
			e.set(name, append(slices.Clone(e.values(name)), vals...))
		case ldap.DeleteAttribute:
			if len(vals) == 0 {
				if !e.remove(name) {
					return ldap.NewError(ldap.LDAPResultNoSuchAttribute, errors.New("no such attribute: "+name))
				}
				continue
			}
			remaining := slices.DeleteFunc(slices.Clone(e.values(name)), func(v string) bool {
				return slices.Contains(vals, v)
			})
			if len(remaining) == 0 {
				e.remove(name)
			} else {
				e.set(name, remaining)
			}
		}
	}

	return nil
}

func (c *memoryConn) ModifyDN(req *ldap.ModifyDNRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(req.DN)
	e, ok := c.entries[key]
	if !ok {
		return noSuchObject(req.DN)
	}

	parent := req.NewSuperior
	if parent == "" {
		_, parent, _ = SplitDN(req.DN)
	}

	delete(c.entries, key)
	e.dn = JoinDN(req.NewRDN, parent)
	c.entries[strings.ToLower(e.dn)] = e
	return nil
}

func (c *memoryConn) Del(req *ldap.DelRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(req.DN)
	if err, ok := c.failDelete[key]; ok {
		return err
	}
	if _, ok := c.entries[key]; !ok {
		return noSuchObject(req.DN)
	}
	for other := range c.entries {
		if parentOf(other) == key {
			return ldap.NewError(ldap.LDAPResultNotAllowedOnNonLeaf, errors.New("entry has children"))
		}
	}

	delete(c.entries, key)
	c.deleted = append(c.deleted, req.DN)
	return nil
}
