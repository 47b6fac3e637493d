package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/isometry/terraform-provider-directory/internal/ldap"
)

// Engine authenticates local accounts against the configured directory
// servers and synchronizes mapped directory attributes into profiles.
type Engine struct {
	resolver Resolver
	configs  ConfigStore
	accounts AccountStore
	profiles ProfileStore
	settings Settings
	logger   ldap.Logger
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger ldap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces the time source used for account timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an authentication engine.
func NewEngine(resolver Resolver, configs ConfigStore, accounts AccountStore, profiles ProfileStore, settings Settings, opts ...EngineOption) *Engine {
	e := &Engine{
		resolver: resolver,
		configs:  configs,
		accounts: accounts,
		profiles: profiles,
		settings: settings,
		logger:   ldap.NewTFLogger(context.Background(), "auth"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ValidateLogin tries the enabled servers in server ID order and returns the
// local account for the first one that accepts username and password.
//
// A server that cannot be reached or rejects the bind is skipped, as is a
// server after which creating the local account fails. An existing account
// of another origin fails the login with ErrAccountOriginConflict and a
// failed attribute sync with ErrSyncFailure. When no server succeeds the
// error is ErrNoServerMatched. Attributes are read through the user's own
// bind, and the last login of an existing account is updated.
func (e *Engine) ValidateLogin(ctx context.Context, username, password string) (*Account, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}

	configs, err := e.configs.EnabledAuthConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load authentication configs: %w", err)
	}
	configs = slices.Clone(configs)
	slices.SortStableFunc(configs, func(a, b *AuthConfig) int {
		return compareInt64(a.ServerID, b.ServerID)
	})

	for _, cfg := range configs {
		account, next, err := e.tryServer(ctx, cfg, username, password)
		if next {
			continue
		}
		return account, err
	}

	return nil, fmt.Errorf("%w: tried %d servers", ErrNoServerMatched, len(configs))
}

// tryServer attempts the login against one server. next reports that the
// caller should move on to the following server.
func (e *Engine) tryServer(ctx context.Context, cfg *AuthConfig, username, password string) (_ *Account, next bool, _ error) {
	bindDN := ldap.SubstituteUsername(cfg.LookupDN, username)

	fields := map[string]any{
		"server_id": cfg.ServerID,
		"bind_dn":   bindDN,
	}

	dir, err := e.resolver.Resolve(ctx, cfg.ServerID, bindDN, password)
	if err != nil {
		fields["error"] = err.Error()
		fields["category"] = string(ldap.GetErrorCategory(err))
		e.logger.Debug("Directory bind failed, trying next server", fields)
		return nil, true, nil
	}
	defer e.closeDirectory(dir, cfg.ServerID)

	account, created, err := e.loadOrCreateAccount(ctx, username)
	if errors.Is(err, errCreateAccount) {
		fields["error"] = err.Error()
		e.logger.Warn("Account creation failed, trying next server", fields)
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if account.Origin != OriginDirectory {
		e.logger.Warn("Username belongs to an account of another origin", map[string]any{
			"server_id": cfg.ServerID,
			"username":  username,
			"origin":    account.Origin,
		})
		return nil, false, ErrAccountOriginConflict
	}

	var profileID int64
	if !created {
		profileID = account.DefaultProfileID
	}

	if err := e.sync(ctx, cfg.ServerID, account.ID, profileID, dir); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrSyncFailure, err)
	}

	if !created {
		e.touch(ctx, account)
	}

	e.logger.Info("Login validated", map[string]any{
		"server_id":  cfg.ServerID,
		"username":   username,
		"account_id": account.ID,
	})

	return account, false, nil
}

func (e *Engine) touch(ctx context.Context, account *Account) {
	now := e.now()
	if err := e.accounts.TouchAccount(ctx, account.ID, now); err != nil {
		e.logger.Warn("Failed to record last login", map[string]any{
			"account_id": account.ID,
			"error":      err.Error(),
		})
		return
	}
	account.LastLogin = now
}

func (e *Engine) closeDirectory(dir Directory, serverID int64) {
	if err := dir.Close(); err != nil {
		e.logger.Debug("Failed to close directory", map[string]any{
			"server_id": serverID,
			"error":     err.Error(),
		})
	}
}

var errCreateAccount = errors.New("failed to create account")

func (e *Engine) loadOrCreateAccount(ctx context.Context, username string) (_ *Account, created bool, _ error) {
	account, err := e.accounts.AccountByUsername(ctx, username)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, fmt.Errorf("failed to load account %q: %w", username, err)
	}

	now := e.now()
	account, err = e.accounts.CreateAccount(ctx, &Account{
		Username:   username,
		Origin:     OriginDirectory,
		Registered: now,
		LastLogin:  now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w %q: %w", errCreateAccount, username, err)
	}

	e.logger.Info("Account created from directory login", map[string]any{
		"username":   username,
		"account_id": account.ID,
	})

	return account, true, nil
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func formatServerID(id int64) string {
	return strconv.FormatInt(id, 10)
}
