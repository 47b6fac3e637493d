package auth

import "errors"

var (
	// ErrEmptyPassword is returned for a login attempt without a password.
	ErrEmptyPassword = errors.New("empty password")

	// ErrAccountOriginConflict is returned when the username belongs to an
	// account that was not provisioned from a directory.
	ErrAccountOriginConflict = errors.New("username is taken by an account of another origin")

	// ErrNoServerMatched is returned when no enabled server accepted the credentials.
	ErrNoServerMatched = errors.New("no directory server accepted the credentials")

	// ErrSyncFailure wraps failures of the attribute synchronization.
	ErrSyncFailure = errors.New("attribute synchronization failed")

	// ErrAccountNotFound is wrapped by AccountStore lookups of unknown accounts.
	ErrAccountNotFound = errors.New("account not found")

	// ErrProfileNotFound is wrapped by ProfileStore lookups of unknown profiles.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrAuthConfigNotFound is wrapped by ConfigStore lookups of unknown servers.
	ErrAuthConfigNotFound = errors.New("authentication config not found")

	// ErrInvalidMapping is wrapped by field mapping decoding errors.
	ErrInvalidMapping = errors.New("invalid field mapping")
)
