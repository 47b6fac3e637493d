package ldap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultNegativeTTL is how long a failed resolution is served from cache.
const DefaultNegativeTTL = time.Minute

// ConfigSource loads server configurations. Lookups for unknown servers
// return an error wrapping ErrServerNotFound.
type ConfigSource interface {
	Server(ctx context.Context, id int64) (*ServerConfig, error)
	ServerByName(ctx context.Context, name string) (*ServerConfig, error)
	Servers(ctx context.Context) ([]*ServerConfig, error)
}

// RegistryStats provides statistics about registry usage.
type RegistryStats struct {
	Entries  int
	Hits     int64
	Misses   int64
	Failures int64
}

type registryKey struct {
	serverID    int64
	bindDN      string
	fingerprint string
}

func (k registryKey) String() string {
	return strconv.FormatInt(k.serverID, 10) + "|" + k.bindDN + "|" + k.fingerprint
}

type registryEntry struct {
	client  *Client
	err     error
	created time.Time
}

// Registry resolves server references to bound clients.
//
// Clients bound with a server's admin credentials are cached, keyed by
// server ID, admin DN and a fingerprint of the admin password; failed admin
// resolutions are cached for the negative TTL. Concurrent first resolutions
// of the same key share one connection attempt. Clients bound with override
// credentials are never cached: every call binds again and the caller owns
// the returned client.
type Registry struct {
	source      ConfigSource
	clientOpts  []ClientOption
	logger      Logger
	negativeTTL time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[registryKey]*registryEntry
	group   singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClientOptions sets the options passed to every client the registry creates.
func WithClientOptions(opts ...ClientOption) RegistryOption {
	return func(r *Registry) {
		r.clientOpts = append(r.clientOpts, opts...)
	}
}

// WithRegistryLogger sets the registry logger. It is also passed to the
// clients the registry creates unless WithClientOptions overrides it.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNegativeTTL sets how long failures are cached. Zero caches them until
// the next invalidation.
func WithNegativeTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.negativeTTL = ttl
	}
}

// NewRegistry creates a registry over source.
func NewRegistry(source ConfigSource, opts ...RegistryOption) *Registry {
	r := &Registry{
		source:      source,
		logger:      NewTFLogger(context.Background(), "ldap"),
		negativeTTL: DefaultNegativeTTL,
		now:         time.Now,
		entries:     make(map[registryKey]*registryEntry),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.clientOpts = append([]ClientOption{WithLogger(r.logger)}, r.clientOpts...)

	return r
}

// Lookup resolves ref to a server configuration. A ref made only of digits
// is treated as an ID, anything else as a name.
func (r *Registry) Lookup(ctx context.Context, ref string) (*ServerConfig, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrInvalidServerRef
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return r.source.Server(ctx, id)
	}

	return r.source.ServerByName(ctx, ref)
}

// Resolve returns a bound client for the server identified by ref.
//
// With empty username and password the server's admin credentials are used
// and the client is shared through the cache; a cached failure is returned
// until the negative TTL passes. Non-empty username or password override the
// respective admin credential and always perform a fresh bind. Such a client
// is not cached and must be disconnected by the caller.
func (r *Registry) Resolve(ctx context.Context, ref, username, password string) (*Client, error) {
	config, err := r.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	cred := Credential{BindDN: config.AdminDN, Password: config.AdminPassword}
	if username == "" && password == "" {
		return r.resolveAdmin(ctx, config, cred)
	}

	if username != "" {
		cred.BindDN = username
	}
	if password != "" {
		cred.Password = password
	}

	r.misses.Add(1)
	entry := r.connect(ctx, config, cred)
	return entry.client, entry.err
}

func (r *Registry) resolveAdmin(ctx context.Context, config *ServerConfig, cred Credential) (*Client, error) {
	key := registryKey{
		serverID:    config.ID,
		bindDN:      strings.ToLower(cred.BindDN),
		fingerprint: fingerprint(cred.Password),
	}

	if entry, ok := r.cached(key); ok {
		r.hits.Add(1)
		r.logger.Trace("Registry cache hit", map[string]any{
			"server_id": config.ID,
			"bind_dn":   cred.BindDN,
			"failed":    entry.err != nil,
		})
		return entry.client, entry.err
	}

	v, _, _ := r.group.Do(key.String(), func() (any, error) {
		if entry, ok := r.cached(key); ok {
			r.hits.Add(1)
			return entry, nil
		}

		r.misses.Add(1)
		entry := r.connect(ctx, config, cred)

		r.mu.Lock()
		r.sweepLocked()
		if previous, ok := r.entries[key]; ok && previous.client != nil {
			_ = previous.client.Disconnect()
		}
		r.entries[key] = entry
		r.mu.Unlock()

		return entry, nil
	})

	entry := v.(*registryEntry)
	return entry.client, entry.err
}

func (r *Registry) connect(ctx context.Context, config *ServerConfig, cred Credential) *registryEntry {
	entry := &registryEntry{created: r.now()}

	client, err := NewClient(config, r.clientOpts...)
	if err == nil {
		err = client.Connect(ctx, cred)
	}

	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("Server resolution failed", map[string]any{
			"server_id": config.ID,
			"server":    config.Name,
			"bind_dn":   cred.BindDN,
			"error":     err.Error(),
		})
		entry.err = err
		return entry
	}

	r.logger.Info("Server resolved", map[string]any{
		"server_id": config.ID,
		"server":    config.Name,
		"bind_dn":   cred.BindDN,
	})
	entry.client = client
	return entry
}

func (r *Registry) cached(key registryKey) (*registryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil, false
	}

	if r.expired(entry) {
		delete(r.entries, key)
		return nil, false
	}

	return entry, true
}

func (r *Registry) expired(entry *registryEntry) bool {
	return entry.err != nil && r.negativeTTL > 0 && r.now().Sub(entry.created) >= r.negativeTTL
}

// sweepLocked drops every failure whose negative TTL has passed.
func (r *Registry) sweepLocked() {
	for key, entry := range r.entries {
		if r.expired(entry) {
			delete(r.entries, key)
		}
	}
}

// ListServers returns every configured server ordered by ID. With
// includeEmpty the list starts with the NoneServerKey option.
func (r *Registry) ListServers(ctx context.Context, includeEmpty bool) ([]ServerOption, error) {
	servers, err := r.source.Servers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	servers = slices.Clone(servers)
	slices.SortFunc(servers, func(a, b *ServerConfig) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	options := make([]ServerOption, 0, len(servers)+1)
	if includeEmpty {
		options = append(options, ServerOption{Key: NoneServerKey, Name: NoneServerName})
	}
	for _, s := range servers {
		options = append(options, ServerOption{Key: strconv.FormatInt(s.ID, 10), Name: s.Name})
	}

	return options, nil
}

// Invalidate disconnects and evicts every cached entry for serverID. It is meant
// to be registered as a change hook of the configuration store.
func (r *Registry) Invalidate(serverID int64) {
	r.mu.Lock()
	var evicted []*registryEntry
	for key, entry := range r.entries {
		if key.serverID == serverID {
			evicted = append(evicted, entry)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, entry := range evicted {
		if entry.client != nil {
			_ = entry.client.Disconnect()
		}
	}

	r.logger.Debug("Registry entries invalidated", map[string]any{
		"server_id": serverID,
		"evicted":   len(evicted),
	})
}

// Close disconnects every cached client and empties the registry. Clients
// returned for override credentials are not affected.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[registryKey]*registryEntry)
	r.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if entry.client != nil {
			if err := entry.client.Disconnect(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Stats returns registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	entries := len(r.entries)
	r.mu.Unlock()

	return RegistryStats{
		Entries:  entries,
		Hits:     r.hits.Load(),
		Misses:   r.misses.Load(),
		Failures: r.failures.Load(),
	}
}

func fingerprint(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:8])
}

// StaticSource is a ConfigSource over a fixed set of servers.
type StaticSource struct {
	servers []*ServerConfig
}

// NewStaticSource creates a source over servers. Defaults are applied to
// copies of the given configurations.
func NewStaticSource(servers ...*ServerConfig) (*StaticSource, error) {
	s := &StaticSource{}
	names := make(map[string]int64, len(servers))

	for _, server := range servers {
		cfg := *server
		if err := cfg.ApplyDefaults(); err != nil {
			return nil, err
		}

		name := strings.ToLower(cfg.Name)
		if other, ok := names[name]; ok && name != "" {
			return nil, fmt.Errorf("server name %q is used by servers %d and %d", cfg.Name, other, cfg.ID)
		}
		names[name] = cfg.ID

		s.servers = append(s.servers, &cfg)
	}

	return s, nil
}

func (s *StaticSource) Server(_ context.Context, id int64) (*ServerConfig, error) {
	for _, server := range s.servers {
		if server.ID == id {
			cfg := *server
			return &cfg, nil
		}
	}
	return nil, fmt.Errorf("server %d: %w", id, ErrServerNotFound)
}

func (s *StaticSource) ServerByName(_ context.Context, name string) (*ServerConfig, error) {
	for _, server := range s.servers {
		if strings.EqualFold(server.Name, name) {
			cfg := *server
			return &cfg, nil
		}
	}
	return nil, fmt.Errorf("server %q: %w", name, ErrServerNotFound)
}

func (s *StaticSource) Servers(_ context.Context) ([]*ServerConfig, error) {
	out := make([]*ServerConfig, 0, len(s.servers))
	for _, server := range s.servers {
		cfg := *server
		out = append(out, &cfg)
	}
	return out, nil
}
