package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
)

const (
	// SearchSizeLimit caps the number of entries returned by Search.
	SearchSizeLimit = 100

	// PasswordAttribute is written verbatim by CreateEntry.
	PasswordAttribute = "userPassword"

	// UsernamePlaceholder is substituted with the login name in DN templates.
	UsernamePlaceholder = "%username%"

	matchAllFilter = "(objectClass=*)"
	noAttributes   = "1.1"
)

// ServerConfig describes one directory server.
type ServerConfig struct {
	ID                 int64         `yaml:"id"`
	Name               string        `yaml:"name"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port" default:"389"`
	BaseDN             string        `yaml:"base_dn"`
	AdminDN            string        `yaml:"admin_dn"`
	AdminPassword      string        `yaml:"admin_password"`
	UseTLS             bool          `yaml:"use_tls"`               // Upgrade the connection with StartTLS
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`  // Skip certificate verification after StartTLS
	Timeout            time.Duration `yaml:"timeout" default:"30s"` // Dial and per-request timeout
}

// NewServerConfig returns a ServerConfig with defaults applied.
func NewServerConfig() *ServerConfig {
	config := &ServerConfig{}
	_ = defaults.Set(config)
	return config
}

// ApplyDefaults fills unset fields with their default values.
func (c *ServerConfig) ApplyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("failed to set default values: %w", err)
	}
	return nil
}

// Validate checks that the configuration can be used to dial a server.
func (c *ServerConfig) Validate() error {
	if c == nil {
		return errors.New("server configuration is nil")
	}

	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}

	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	return nil
}

// Address returns the host:port pair of the server.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the ldap:// URL used to dial the server.
func (c *ServerConfig) URL() string {
	return "ldap://" + c.Address()
}

// TLSConfig returns the TLS configuration used for StartTLS.
func (c *ServerConfig) TLSConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in via configuration
	}
}

// Credential is a bind identity. It is used for a single bind and never stored.
type Credential struct {
	BindDN   string
	Password string
}

// IsAnonymous reports whether the credential carries neither a DN nor a password.
func (c Credential) IsAnonymous() bool {
	return c.BindDN == "" && c.Password == ""
}

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateBound
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *ldap.Conn used by Client.
type Conn interface {
	Bind(username, password string) error
	StartTLS(config *tls.Config) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(addRequest *ldap.AddRequest) error
	Modify(modifyRequest *ldap.ModifyRequest) error
	ModifyDN(modifyDNRequest *ldap.ModifyDNRequest) error
	Del(delRequest *ldap.DelRequest) error
	SetTimeout(timeout time.Duration)
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// DialFunc opens a transport to the server described by config.
type DialFunc func(ctx context.Context, config *ServerConfig) (Conn, error)

// Attributes maps lower-cased attribute names to either a string (exactly one
// value) or a []string (two or more values).
type Attributes map[string]any

// Has reports whether the attribute is present.
func (a Attributes) Has(name string) bool {
	_, ok := a[strings.ToLower(name)]
	return ok
}

// Value returns the first value of the attribute.
func (a Attributes) Value(name string) (string, bool) {
	switch v := a[strings.ToLower(name)].(type) {
	case string:
		return v, true
	case []string:
		if len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}

// Values returns every value of the attribute; a scalar becomes a one-element slice.
func (a Attributes) Values(name string) []string {
	switch v := a[strings.ToLower(name)].(type) {
	case string:
		return []string{v}
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	}
	return nil
}

// Names returns the attribute names, excluding dn.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		if name == "dn" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Entry is a normalized directory entry.
type Entry struct {
	DN         string
	Attributes Attributes
}

// ServerOption is one element of the ordered server list returned by Registry.ListServers.
type ServerOption struct {
	Key  string // Server ID, or NoneServerKey for the empty option
	Name string
}

const (
	NoneServerKey  = "none"
	NoneServerName = "None"
)
