// Package ldaptest runs an in-process directory server for tests.
package ldaptest

import (
	"cmp"
	"maps"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"

	godap "github.com/bradleypeabody/godap"
)

// Server is a minimal directory that answers simple binds and searches.
// A search ignores its scope and returns the entry at the base DN and every
// entry below it, shortest DN first.
type Server struct {
	Host string
	Port int

	srv godap.LDAPServer

	mu        sync.Mutex
	passwords map[string]string
	entries   map[string]map[string]string
	binds     []string
}

// NewServer starts a server on a free loopback port and stops it when the
// test finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Host:      "127.0.0.1",
		Port:      lis.Addr().(*net.TCPAddr).Port,
		passwords: make(map[string]string),
		entries:   make(map[string]map[string]string),
	}
	s.srv.Listener = lis
	s.srv.Handlers = append(s.srv.Handlers, &godap.LDAPBindFuncHandler{LDAPBindFunc: s.bind})
	s.srv.Handlers = append(s.srv.Handlers, &godap.LDAPSimpleSearchFuncHandler{LDAPSimpleSearchFunc: s.search})

	go func() {
		_ = s.srv.Serve()
	}()

	t.Cleanup(func() {
		_ = lis.Close()
	})

	return s
}

// AddUser registers a bind identity.
func (s *Server) AddUser(dn, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[strings.ToLower(dn)] = password
}

// AddEntry stores an entry. Attribute values are single strings.
func (s *Server) AddEntry(dn string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[dn] = maps.Clone(attrs)
}

// Binds returns the DNs of successful binds in order.
func (s *Server) Binds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.binds...)
}

func (s *Server) bind(binddn string, bindpw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	password, ok := s.passwords[strings.ToLower(binddn)]
	if !ok || password != string(bindpw) {
		return false
	}
	s.binds = append(s.binds, binddn)
	return true
}

func (s *Server) search(req *godap.LDAPSimpleSearchRequest) []*godap.LDAPSimpleSearchResultEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := strings.ToLower(req.BaseDN)
	ret := make([]*godap.LDAPSimpleSearchResultEntry, 0)

	dns := slices.Sorted(maps.Keys(s.entries))
	slices.SortStableFunc(dns, func(a, b string) int {
		return cmp.Compare(len(a), len(b))
	})

	for _, dn := range dns {
		lower := strings.ToLower(dn)
		if lower != base && !strings.HasSuffix(lower, ","+base) {
			continue
		}

		attrs := s.entries[dn]
		values := make(map[string]any, len(attrs))
		for k, v := range attrs {
			values[k] = v
		}
		ret = append(ret, &godap.LDAPSimpleSearchResultEntry{
			DN:    dn,
			Attrs: values,
		})
	}

	return ret
}
