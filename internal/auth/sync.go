package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/isometry/terraform-provider-directory/internal/ldap"
)

// Sync copies the mapped directory attributes of an account into its
// profile. profileID zero, or an unknown ID, starts a new profile.
//
// Nothing is read or written when mapping is disabled for the server, or
// when the profile already exists and AlwaysSync is off. Each distinct DN
// template is read once with the server's admin credentials; a DN that does
// not exist and attributes the entry lacks are skipped. A changed email
// that another account already uses is reverted when the unique email
// policy is on.
func (e *Engine) Sync(ctx context.Context, serverID, accountID, profileID int64) error {
	return e.sync(ctx, serverID, accountID, profileID, nil)
}

// sync reads through dir, or through the admin bind when dir is nil.
func (e *Engine) sync(ctx context.Context, serverID, accountID, profileID int64, dir Directory) error {
	cfg, err := e.configs.AuthConfig(ctx, serverID)
	if err != nil {
		return fmt.Errorf("failed to load authentication config for server %d: %w", serverID, err)
	}

	if !cfg.EnableMapping {
		return nil
	}

	profile, err := e.loadProfile(ctx, accountID, profileID)
	if err != nil {
		return err
	}
	if !profile.IsNew() && !cfg.AlwaysSync {
		e.logger.Trace("Profile exists and always_sync is off, skipping", map[string]any{
			"server_id":  serverID,
			"profile_id": profile.ID,
		})
		return nil
	}

	account, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account %d: %w", accountID, err)
	}

	if dir == nil {
		dir, err = e.resolver.Resolve(ctx, serverID, "", "")
		if err != nil {
			return fmt.Errorf("failed to resolve server %d: %w", serverID, err)
		}
		defer e.closeDirectory(dir, serverID)
	}

	values, err := e.collect(ctx, dir, cfg, account.Username)
	if err != nil {
		return err
	}

	for field, value := range values {
		profile.Set(field, value)
	}

	if err := e.enforceUniqueEmail(ctx, profile, accountID); err != nil {
		return err
	}

	changed := profile.ChangedFields()
	if err := e.profiles.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to save profile for account %d: %w", accountID, err)
	}

	e.logger.Debug("Profile synchronized", map[string]any{
		"server_id":      serverID,
		"account_id":     accountID,
		"profile_id":     profile.ID,
		"changed_fields": changed,
	})

	return nil
}

func (e *Engine) loadProfile(ctx context.Context, accountID, profileID int64) (*Profile, error) {
	if profileID == 0 {
		return NewProfile(accountID), nil
	}

	profile, err := e.profiles.Profile(ctx, profileID)
	if errors.Is(err, ErrProfileNotFound) {
		return NewProfile(accountID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %d: %w", profileID, err)
	}
	return profile, nil
}

// collect reads every mapping group and returns field to value. A
// multi-valued attribute contributes its first value; the rest are traced.
func (e *Engine) collect(ctx context.Context, dir Directory, cfg *AuthConfig, username string) (map[string]string, error) {
	values := make(map[string]string)

	for _, group := range cfg.FieldMapping.Groups(cfg.LookupDN) {
		dn := ldap.SubstituteUsername(group.DNTemplate, username)

		attrs, err := dir.RetrieveAttributes(ctx, dn)
		if ldap.IsNotFoundError(err) {
			e.logger.Debug("Mapped entry not found, skipping", map[string]any{
				"server_id": cfg.ServerID,
				"dn":        dn,
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dn, err)
		}

		for _, ref := range group.Fields {
			value, ok := attrs.Value(ref.Attribute)
			if !ok {
				continue
			}
			if all := attrs.Values(ref.Attribute); len(all) > 1 {
				e.logger.Trace("Multi-valued attribute, keeping first value", map[string]any{
					"server_id": cfg.ServerID,
					"dn":        dn,
					"attribute": ref.Attribute,
					"dropped":   all[1:],
				})
			}
			values[ref.Field] = value
		}
	}

	return values, nil
}

func (e *Engine) enforceUniqueEmail(ctx context.Context, profile *Profile, accountID int64) error {
	if !profile.Changed(EmailField) {
		return nil
	}

	unique, err := e.settings.UniqueEmail(ctx)
	if err != nil {
		return fmt.Errorf("failed to read unique email setting: %w", err)
	}
	if !unique {
		return nil
	}

	email := profile.Get(EmailField)
	inUse, err := e.profiles.EmailInUse(ctx, email, accountID)
	if err != nil {
		return fmt.Errorf("failed to check email uniqueness: %w", err)
	}

	if inUse {
		e.logger.Info("Email used by another account, keeping previous value", map[string]any{
			"account_id": accountID,
		})
		profile.Revert(EmailField)
	}

	return nil
}
