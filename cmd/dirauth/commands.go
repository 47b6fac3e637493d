package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/isometry/terraform-provider-directory/internal/auth"
	"github.com/isometry/terraform-provider-directory/internal/ldap"
	"github.com/isometry/terraform-provider-directory/internal/store"
)

type cli struct {
	log    *zap.Logger
	stdout io.Writer
	config Config

	configs  *store.FileConfigStore
	registry *ldap.Registry
	closers  []func() error
}

// accountView is the printed form of an account.
type accountView struct {
	ID               int64     `yaml:"id"`
	Username         string    `yaml:"username"`
	Origin           string    `yaml:"origin"`
	Registered       time.Time `yaml:"registered"`
	LastLogin        time.Time `yaml:"last_login"`
	DefaultProfileID int64     `yaml:"default_profile_id,omitempty"`
}

// entryView is the printed form of a directory entry.
type entryView struct {
	DN         string              `yaml:"dn"`
	Attributes map[string][]string `yaml:"attributes"`
}

func (c *cli) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.log.Warn("close failed", zap.Error(err))
		}
	}
}

// directory loads the configuration store and the registry over it.
func (c *cli) directory() error {
	if c.registry != nil {
		return nil
	}

	path := c.config.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}

	configs, err := store.LoadConfigFile(path)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	registry := ldap.NewRegistry(configs, ldap.WithRegistryLogger(ldap.NewZapLogger(c.log)))
	configs.OnChange(registry.Invalidate)

	c.configs = configs
	c.registry = registry
	c.closers = append(c.closers, registry.Close)

	c.log.Debug("configuration loaded", zap.String("path", path))
	return nil
}

// accounts returns the account and profile stores: MySQL when a DSN is
// configured, memory otherwise.
func (c *cli) accounts(ctx context.Context) (auth.AccountStore, auth.ProfileStore, error) {
	dsn := c.config.MySQLDSN
	if dsn == "" {
		c.log.Debug("using in-memory account store")
		s := store.NewMemoryStore()
		return s, s, nil
	}

	s, err := store.OpenSQLStore(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open account store: %w", err)
	}
	c.closers = append(c.closers, s.Close)
	return s, s, nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(c.stdout)
	username := fs.String("username", "", "username to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" {
		return fmt.Errorf("login: -username is required")
	}

	if err := c.directory(); err != nil {
		return err
	}

	accounts, profiles, err := c.accounts(ctx)
	if err != nil {
		return err
	}

	log := c.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("username", *username),
	)

	engine := auth.NewEngine(auth.RegistryResolver{Registry: c.registry}, c.configs, accounts, profiles, c.configs,
		auth.WithEngineLogger(ldap.NewZapLogger(log)),
	)

	account, err := engine.ValidateLogin(ctx, *username, c.config.Password)
	if err != nil {
		kind := failureKind(err)
		log.Info("login rejected", zap.String("kind", kind), zap.Error(err))
		return fmt.Errorf("login failed (%s): %w", kind, err)
	}

	log.Info("login accepted", zap.Int64("account_id", account.ID))

	return c.printYAML(accountView{
		ID:               account.ID,
		Username:         account.Username,
		Origin:           account.Origin,
		Registered:       account.Registered,
		LastLogin:        account.LastLogin,
		DefaultProfileID: account.DefaultProfileID,
	})
}

func (c *cli) servers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("servers", flag.ContinueOnError)
	fs.SetOutput(c.stdout)
	includeEmpty := fs.Bool("include-empty", false, "start the list with the empty option")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := c.directory(); err != nil {
		return err
	}

	options, err := c.registry.ListServers(ctx, *includeEmpty)
	if err != nil {
		return err
	}

	for _, option := range options {
		if _, err := fmt.Fprintf(c.stdout, "%s\t%s\n", option.Key, option.Name); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(c.stdout)
	server := fs.String("server", "", "server id or name")
	base := fs.String("base", "", "search base (default: the server's base DN)")
	filter := fs.String("filter", "(objectClass=*)", "search filter")
	attrs := fs.String("attr", "", "comma separated attributes to return")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *server == "" {
		return fmt.Errorf("search: -server is required")
	}

	if err := c.directory(); err != nil {
		return err
	}

	client, err := c.registry.Resolve(ctx, *server, "", "")
	if err != nil {
		return err
	}

	baseDN := *base
	if baseDN == "" {
		baseDN = client.Config().BaseDN
	}

	names := splitList(*attrs)
	entries, err := client.Search(ctx, baseDN, *filter, names...)
	if err != nil {
		return err
	}

	views := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		selected := names
		if len(selected) == 0 {
			selected = entry.Attributes.Names()
		}

		view := entryView{DN: entry.DN, Attributes: make(map[string][]string, len(selected))}
		for _, name := range selected {
			if values := entry.Attributes.Values(name); len(values) > 0 {
				view.Attributes[strings.ToLower(name)] = values
			}
		}
		views = append(views, view)
	}

	return c.printYAML(views)
}

func (c *cli) hash(args []string) error {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(c.stdout)
	password := fs.String("password", "", "password to hash (default: "+envPassword+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	value := *password
	if value == "" {
		value = c.config.Password
	}
	if value == "" {
		return fmt.Errorf("hash: a password is required")
	}

	_, err := fmt.Fprintln(c.stdout, ldap.HashPassword(value))
	return err
}

func (c *cli) printYAML(v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.stdout.Write(out)
	return err
}

// failureKind names the reason a login was rejected.
func failureKind(err error) string {
	switch {
	case errors.Is(err, auth.ErrEmptyPassword):
		return "empty_password"
	case errors.Is(err, auth.ErrNoServerMatched):
		return "no_server_matched"
	case errors.Is(err, auth.ErrAccountOriginConflict):
		return "origin_conflict"
	case errors.Is(err, auth.ErrSyncFailure):
		return "sync_failure"
	default:
		return "error"
	}
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
