package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/isometry/terraform-provider-directory/internal/auth"
	"github.com/isometry/terraform-provider-directory/internal/ldap"
)

// ErrDuplicateServerName is returned when a server name is already used by
// another server.
var ErrDuplicateServerName = errors.New("server name already in use")

// Document is the on-disk layout of the configuration file.
type Document struct {
	Servers  []*ldap.ServerConfig `yaml:"servers"`
	Auth     []AuthDocument       `yaml:"auth"`
	Settings SettingsDocument     `yaml:"settings"`
}

// AuthDocument is the on-disk form of an auth.AuthConfig.
type AuthDocument struct {
	ServerID      int64             `yaml:"server_id"`
	Enabled       bool              `yaml:"enabled"`
	LookupDN      string            `yaml:"lookup_dn"`
	EnableMapping bool              `yaml:"enable_mapping"`
	AlwaysSync    bool              `yaml:"always_sync"`
	FieldMapping  map[string]string `yaml:"field_mapping,omitempty"`
}

// SettingsDocument holds system-wide policies.
type SettingsDocument struct {
	UniqueEmail bool `yaml:"unique_email"`
}

// ChangeHook is called with the ID of a server whose configuration changed
// or was deleted.
type ChangeHook func(serverID int64)

// FileConfigStore holds server and authentication configuration, optionally
// backed by a YAML file that is rewritten on every change.
//
// It implements ldap.ConfigSource, auth.ConfigStore and auth.Settings.
type FileConfigStore struct {
	path string

	mu          sync.RWMutex
	servers     map[int64]*ldap.ServerConfig
	auth        map[int64]*auth.AuthConfig
	uniqueEmail bool
	hooks       []ChangeHook
}

var (
	_ ldap.ConfigSource = (*FileConfigStore)(nil)
	_ auth.ConfigStore  = (*FileConfigStore)(nil)
	_ auth.Settings     = (*FileConfigStore)(nil)
)

// LoadConfigFile reads the configuration at path. Changes are written back
// to the same path.
func LoadConfigFile(path string) (*FileConfigStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	s, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.path = path

	return s, nil
}

// ParseConfig decodes a YAML document into an in-memory store.
func ParseConfig(data []byte) (*FileConfigStore, error) {
	var doc Document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return NewFileConfigStore(doc)
}

// NewFileConfigStore builds an in-memory store from doc. Server defaults are
// applied, names must be unique and field mappings are decoded.
func NewFileConfigStore(doc Document) (*FileConfigStore, error) {
	s := &FileConfigStore{
		servers:     make(map[int64]*ldap.ServerConfig),
		auth:        make(map[int64]*auth.AuthConfig),
		uniqueEmail: doc.Settings.UniqueEmail,
	}

	for _, server := range doc.Servers {
		if server == nil {
			continue
		}
		if _, ok := s.servers[server.ID]; ok {
			return nil, fmt.Errorf("duplicate server id %d", server.ID)
		}
		cfg, err := s.prepareServer(server)
		if err != nil {
			return nil, err
		}
		s.servers[cfg.ID] = cfg
	}

	for _, a := range doc.Auth {
		cfg, err := decodeAuth(a)
		if err != nil {
			return nil, err
		}
		if _, ok := s.servers[cfg.ServerID]; !ok {
			return nil, fmt.Errorf("auth config references unknown server %d", cfg.ServerID)
		}
		s.auth[cfg.ServerID] = cfg
	}

	return s, nil
}

func decodeAuth(a AuthDocument) (*auth.AuthConfig, error) {
	mapping, err := auth.ParseFieldMapping(a.FieldMapping)
	if err != nil {
		return nil, fmt.Errorf("auth config for server %d: %w", a.ServerID, err)
	}

	return &auth.AuthConfig{
		ServerID:      a.ServerID,
		Enabled:       a.Enabled,
		LookupDN:      a.LookupDN,
		EnableMapping: a.EnableMapping,
		AlwaysSync:    a.AlwaysSync,
		FieldMapping:  mapping,
	}, nil
}

func encodeAuth(cfg *auth.AuthConfig) AuthDocument {
	doc := AuthDocument{
		ServerID:      cfg.ServerID,
		Enabled:       cfg.Enabled,
		LookupDN:      cfg.LookupDN,
		EnableMapping: cfg.EnableMapping,
		AlwaysSync:    cfg.AlwaysSync,
	}
	if len(cfg.FieldMapping) > 0 {
		doc.FieldMapping = cfg.FieldMapping.Raw()
	}
	return doc
}

// prepareServer copies server, applies defaults, validates it and checks the
// name is unique. The caller holds the lock or has exclusive access.
func (s *FileConfigStore) prepareServer(server *ldap.ServerConfig) (*ldap.ServerConfig, error) {
	cfg := *server
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server %d: %w", cfg.ID, err)
	}

	cfg.Name = strings.TrimSpace(cfg.Name)
	for id, other := range s.servers {
		if cfg.Name != "" && id != cfg.ID && strings.EqualFold(other.Name, cfg.Name) {
			return nil, fmt.Errorf("%w: %q is used by server %d", ErrDuplicateServerName, cfg.Name, id)
		}
	}

	return &cfg, nil
}

// OnChange registers a hook called after a server is updated or deleted.
func (s *FileConfigStore) OnChange(hook ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *FileConfigStore) notify(serverID int64) {
	s.mu.RLock()
	hooks := slices.Clone(s.hooks)
	s.mu.RUnlock()

	for _, hook := range hooks {
		hook(serverID)
	}
}

func (s *FileConfigStore) Server(_ context.Context, id int64) (*ldap.ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.servers[id]
	if !ok {
		return nil, fmt.Errorf("server %d: %w", id, ldap.ErrServerNotFound)
	}
	copied := *cfg
	return &copied, nil
}

func (s *FileConfigStore) ServerByName(_ context.Context, name string) (*ldap.ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cfg := range s.servers {
		if strings.EqualFold(cfg.Name, name) {
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("server %q: %w", name, ldap.ErrServerNotFound)
}

// Servers returns every server ordered by ID.
func (s *FileConfigStore) Servers(_ context.Context) ([]*ldap.ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ldap.ServerConfig, 0, len(s.servers))
	for _, id := range slices.Sorted(maps.Keys(s.servers)) {
		copied := *s.servers[id]
		out = append(out, &copied)
	}
	return out, nil
}

// PutServer creates or replaces a server and returns its ID. A zero ID
// allocates the next free ID; server itself is not modified. Nothing changes
// when the file cannot be written.
func (s *FileConfigStore) PutServer(_ context.Context, server *ldap.ServerConfig) (int64, error) {
	s.mu.Lock()

	candidate := *server
	if candidate.ID == 0 {
		for id := range s.servers {
			candidate.ID = max(candidate.ID, id)
		}
		candidate.ID++
	}

	cfg, err := s.prepareServer(&candidate)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	servers := maps.Clone(s.servers)
	servers[cfg.ID] = cfg

	err = s.commitLocked(servers, s.auth)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.notify(cfg.ID)
	return cfg.ID, nil
}

// DeleteServer removes a server together with its authentication config.
func (s *FileConfigStore) DeleteServer(_ context.Context, id int64) error {
	s.mu.Lock()

	if _, ok := s.servers[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("server %d: %w", id, ldap.ErrServerNotFound)
	}

	servers := maps.Clone(s.servers)
	authConfigs := maps.Clone(s.auth)
	delete(servers, id)
	delete(authConfigs, id)

	err := s.commitLocked(servers, authConfigs)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(id)
	return nil
}

// PutAuthConfig creates or replaces the authentication config of an
// existing server.
func (s *FileConfigStore) PutAuthConfig(_ context.Context, cfg *auth.AuthConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[cfg.ServerID]; !ok {
		return fmt.Errorf("server %d: %w", cfg.ServerID, ldap.ErrServerNotFound)
	}

	copied := *cfg
	copied.FieldMapping = maps.Clone(cfg.FieldMapping)

	authConfigs := maps.Clone(s.auth)
	authConfigs[cfg.ServerID] = &copied

	return s.commitLocked(s.servers, authConfigs)
}

// EnabledAuthConfigs returns the enabled configurations ordered by server ID.
func (s *FileConfigStore) EnabledAuthConfigs(_ context.Context) ([]*auth.AuthConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*auth.AuthConfig
	for _, id := range slices.Sorted(maps.Keys(s.auth)) {
		cfg := s.auth[id]
		if !cfg.Enabled {
			continue
		}
		copied := *cfg
		out = append(out, &copied)
	}
	return out, nil
}

func (s *FileConfigStore) AuthConfig(_ context.Context, serverID int64) (*auth.AuthConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.auth[serverID]
	if !ok {
		return nil, fmt.Errorf("server %d: %w", serverID, auth.ErrAuthConfigNotFound)
	}
	copied := *cfg
	return &copied, nil
}

func (s *FileConfigStore) UniqueEmail(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uniqueEmail, nil
}

// Document returns the current configuration in its on-disk layout.
func (s *FileConfigStore) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document(s.servers, s.auth)
}

func (s *FileConfigStore) document(servers map[int64]*ldap.ServerConfig, authConfigs map[int64]*auth.AuthConfig) Document {
	doc := Document{Settings: SettingsDocument{UniqueEmail: s.uniqueEmail}}

	for _, id := range slices.Sorted(maps.Keys(servers)) {
		copied := *servers[id]
		doc.Servers = append(doc.Servers, &copied)
	}
	for _, id := range slices.Sorted(maps.Keys(authConfigs)) {
		doc.Auth = append(doc.Auth, encodeAuth(authConfigs[id]))
	}

	return doc
}

// commitLocked writes servers and authConfigs and installs them once the
// write has succeeded.
func (s *FileConfigStore) commitLocked(servers map[int64]*ldap.ServerConfig, authConfigs map[int64]*auth.AuthConfig) error {
	if err := s.save(s.document(servers, authConfigs)); err != nil {
		return err
	}
	s.servers = servers
	s.auth = authConfigs
	return nil
}

// save writes doc to the backing file, if any, by replacing it with a fully
// written temporary file.
func (s *FileConfigStore) save(doc Document) error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".dirauth-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
