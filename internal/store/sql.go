package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/isometry/terraform-provider-directory/internal/auth"
)

const mysqlDuplicateEntry = 1062

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		origin VARCHAR(32) NOT NULL,
		registered DATETIME NOT NULL,
		last_login DATETIME NOT NULL,
		UNIQUE KEY accounts_username (username)
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		fields JSON NOT NULL,
		KEY profiles_account (account_id),
		CONSTRAINT profiles_account_fk FOREIGN KEY (account_id) REFERENCES accounts (id) ON DELETE CASCADE
	)`,
}

const accountColumns = `a.id, a.username, a.origin, a.registered, a.last_login,
	COALESCE((SELECT MIN(p.id) FROM profiles p WHERE p.account_id = a.id), 0)`

// SQLStore keeps accounts and profiles in MySQL. It implements
// auth.AccountStore and auth.ProfileStore.
type SQLStore struct {
	db *sql.DB
}

var (
	_ auth.AccountStore = (*SQLStore)(nil)
	_ auth.ProfileStore = (*SQLStore)(nil)
)

// NormalizeDSN parses a MySQL DSN and enables the options the store relies on.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}

	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return cfg.FormatDSN(), nil
}

// OpenSQLStore connects to MySQL and creates the schema if needed.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	dsn, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := NewSQLStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the tables used by the store.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) AccountByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.username = ?`, username)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", username, auth.ErrAccountNotFound)
	}
	return account, err
}

func (s *SQLStore) AccountByID(ctx context.Context, id int64) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.id = ?`, id)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, auth.ErrAccountNotFound)
	}
	return account, err
}

func (s *SQLStore) TouchAccount(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_login = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account %d: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.requireRow(ctx, "accounts", id, fmt.Errorf("account %d: %w", id, auth.ErrAccountNotFound))
	}
	return nil
}

// requireRow returns notFound when table has no row with id. MySQL reports
// zero affected rows for an unchanged row, so updates check existence here.
func (s *SQLStore) requireRow(ctx context.Context, table string, id int64, notFound error) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check %s %d: %w", table, id, err)
	}
	if !exists {
		return notFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*auth.Account, error) {
	var account auth.Account
	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Origin,
		&account.Registered,
		&account.LastLogin,
		&account.DefaultProfileID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &account, nil
}

func (s *SQLStore) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, origin, registered, last_login) VALUES (?, ?, ?, ?)`,
		account.Username, account.Origin, account.Registered.UTC(), account.LastLogin.UTC(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateUsername, account.Username)
		}
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read account id: %w", err)
	}

	created := *account
	created.ID = id
	created.DefaultProfileID = 0
	return &created, nil
}

func (s *SQLStore) Profile(ctx context.Context, id int64) (*auth.Profile, error) {
	var (
		accountID int64
		raw       []byte
	)

	err := s.db.QueryRowContext(ctx, `SELECT account_id, fields FROM profiles WHERE id = ?`, id).Scan(&accountID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %d: %w", id, auth.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %d: %w", id, err)
	}

	fields := make(map[string]string)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("profile %d has invalid fields: %w", id, err)
	}

	return auth.LoadedProfile(id, accountID, fields), nil
}

func (s *SQLStore) SaveProfile(ctx context.Context, profile *auth.Profile) error {
	raw, err := json.Marshal(profile.Fields())
	if err != nil {
		return fmt.Errorf("failed to encode profile fields: %w", err)
	}

	if profile.IsNew() {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO profiles (account_id, fields) VALUES (?, ?)`, profile.AccountID, raw)
		if err != nil {
			return fmt.Errorf("failed to insert profile: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read profile id: %w", err)
		}
		profile.MarkSaved(id)
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET account_id = ?, fields = ? WHERE id = ?`, profile.AccountID, raw, profile.ID)
	if err != nil {
		return fmt.Errorf("failed to update profile %d: %w", profile.ID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if err := s.requireRow(ctx, "profiles", profile.ID, fmt.Errorf("profile %d: %w", profile.ID, auth.ErrProfileNotFound)); err != nil {
			return err
		}
	}

	profile.MarkSaved(profile.ID)
	return nil
}

func (s *SQLStore) EmailInUse(ctx context.Context, email string, excludeAccountID int64) (bool, error) {
	if email == "" {
		return false, nil
	}

	var inUse bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM profiles
		WHERE account_id <> ?
		AND LOWER(JSON_UNQUOTE(JSON_EXTRACT(fields, '$.email'))) = LOWER(?)
	)`, excludeAccountID, email).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}

	return inUse, nil
}
