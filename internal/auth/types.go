package auth

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/isometry/terraform-provider-directory/internal/ldap"
)

// OriginDirectory tags accounts provisioned by the authentication engine.
const OriginDirectory = "ldap"

// EmailField is the profile field subject to the unique email policy.
const EmailField = "email"

// AuthConfig is the per-server authentication configuration.
type AuthConfig struct {
	ServerID      int64
	Enabled       bool
	LookupDN      string // Bind DN template containing %username%
	EnableMapping bool
	AlwaysSync    bool
	FieldMapping  FieldMapping
}

// Account is a local user account.
type Account struct {
	ID               int64
	Username         string
	Origin           string
	Registered       time.Time
	LastLogin        time.Time
	DefaultProfileID int64 // Zero when the account has no profile yet
}

// Profile is a local profile record with field-level change tracking.
type Profile struct {
	ID        int64 // Zero until the record is first saved
	AccountID int64

	fields   map[string]string
	original map[string]string
}

// NewProfile returns an unsaved, empty profile for accountID.
func NewProfile(accountID int64) *Profile {
	return &Profile{
		AccountID: accountID,
		fields:    make(map[string]string),
		original:  make(map[string]string),
	}
}

// LoadedProfile returns a profile whose fields are treated as persisted.
func LoadedProfile(id, accountID int64, fields map[string]string) *Profile {
	p := NewProfile(accountID)
	p.ID = id
	maps.Copy(p.fields, fields)
	maps.Copy(p.original, fields)
	return p
}

// IsNew reports whether the profile has never been saved.
func (p *Profile) IsNew() bool {
	return p.ID == 0
}

// Get returns the current value of a field.
func (p *Profile) Get(name string) string {
	return p.fields[name]
}

// Set updates a field.
func (p *Profile) Set(name, value string) {
	p.fields[name] = value
}

// Original returns the value a field had when the profile was loaded.
func (p *Profile) Original(name string) string {
	return p.original[name]
}

// Revert restores a field to its loaded value.
func (p *Profile) Revert(name string) {
	if v, ok := p.original[name]; ok {
		p.fields[name] = v
		return
	}
	delete(p.fields, name)
}

// Changed reports whether a field differs from its loaded value.
func (p *Profile) Changed(name string) bool {
	cur, curOK := p.fields[name]
	orig, origOK := p.original[name]
	return curOK != origOK || cur != orig
}

// ChangedFields returns the sorted names of changed fields.
func (p *Profile) ChangedFields() []string {
	var out []string
	for name := range p.fields {
		if p.Changed(name) {
			out = append(out, name)
		}
	}
	for name := range p.original {
		if _, ok := p.fields[name]; !ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Fields returns a copy of the current field values.
func (p *Profile) Fields() map[string]string {
	return maps.Clone(p.fields)
}

// MarkSaved records the current values as persisted under id.
func (p *Profile) MarkSaved(id int64) {
	p.ID = id
	p.original = maps.Clone(p.fields)
}

// ConfigStore provides authentication configuration.
type ConfigStore interface {
	// EnabledAuthConfigs returns the enabled configurations ordered by server ID.
	EnabledAuthConfigs(ctx context.Context) ([]*AuthConfig, error)
	AuthConfig(ctx context.Context, serverID int64) (*AuthConfig, error)
}

// AccountStore persists accounts. Lookups of unknown accounts return an
// error wrapping ErrAccountNotFound.
type AccountStore interface {
	AccountByUsername(ctx context.Context, username string) (*Account, error)
	AccountByID(ctx context.Context, id int64) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) (*Account, error)
	// TouchAccount records a login of account id at the given time.
	TouchAccount(ctx context.Context, id int64, at time.Time) error
}

// ProfileStore persists profiles. Lookups of unknown profiles return an
// error wrapping ErrProfileNotFound.
type ProfileStore interface {
	Profile(ctx context.Context, id int64) (*Profile, error)
	// SaveProfile inserts a new profile or updates an existing one and marks
	// it saved.
	SaveProfile(ctx context.Context, profile *Profile) error
	// EmailInUse reports whether an account other than excludeAccountID has a
	// profile with this email.
	EmailInUse(ctx context.Context, email string, excludeAccountID int64) (bool, error)
}

// Settings exposes system-wide policies.
type Settings interface {
	UniqueEmail(ctx context.Context) (bool, error)
}

// Directory reads entries from a bound directory connection. Callers close
// every directory they resolve.
type Directory interface {
	RetrieveAttributes(ctx context.Context, dn string) (ldap.Attributes, error)
	Close() error
}

// Resolver returns a directory bound to serverID. Empty bindDN and password
// select the server's admin credentials.
type Resolver interface {
	Resolve(ctx context.Context, serverID int64, bindDN, password string) (Directory, error)
}

// RegistryResolver adapts an ldap.Registry to Resolver.
type RegistryResolver struct {
	Registry *ldap.Registry
}

func (r RegistryResolver) Resolve(ctx context.Context, serverID int64, bindDN, password string) (Directory, error) {
	client, err := r.Registry.Resolve(ctx, formatServerID(serverID), bindDN, password)
	if err != nil {
		return nil, err
	}
	return registryDirectory{Client: client, owned: bindDN != "" || password != ""}, nil
}

// registryDirectory disconnects on Close only when the client was bound for
// this caller; shared admin clients stay with the registry.
type registryDirectory struct {
	*ldap.Client
	owned bool
}

func (d registryDirectory) Close() error {
	if !d.owned {
		return nil
	}
	return d.Client.Disconnect()
}
