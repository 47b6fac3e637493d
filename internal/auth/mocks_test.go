package auth

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/isometry/terraform-provider-directory/internal/ldap"
)

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, serverID int64, bindDN, password string) (Directory, error) {
	args := m.Called(ctx, serverID, bindDN, password)
	dir, _ := args.Get(0).(Directory)
	return dir, args.Error(1)
}

type MockDirectory struct {
	mock.Mock
	closed int
}

func (m *MockDirectory) Close() error {
	m.closed++
	return nil
}

func (m *MockDirectory) RetrieveAttributes(ctx context.Context, dn string) (ldap.Attributes, error) {
	args := m.Called(ctx, dn)
	attrs, _ := args.Get(0).(ldap.Attributes)
	return attrs, args.Error(1)
}

type MockConfigStore struct {
	mock.Mock
}

func (m *MockConfigStore) EnabledAuthConfigs(ctx context.Context) ([]*AuthConfig, error) {
	args := m.Called(ctx)
	configs, _ := args.Get(0).([]*AuthConfig)
	return configs, args.Error(1)
}

func (m *MockConfigStore) AuthConfig(ctx context.Context, serverID int64) (*AuthConfig, error) {
	args := m.Called(ctx, serverID)
	cfg, _ := args.Get(0).(*AuthConfig)
	return cfg, args.Error(1)
}

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) AccountByUsername(ctx context.Context, username string) (*Account, error) {
	args := m.Called(ctx, username)
	account, _ := args.Get(0).(*Account)
	return account, args.Error(1)
}

func (m *MockAccountStore) AccountByID(ctx context.Context, id int64) (*Account, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*Account)
	return account, args.Error(1)
}

func (m *MockAccountStore) CreateAccount(ctx context.Context, account *Account) (*Account, error) {
	args := m.Called(ctx, account)
	created, _ := args.Get(0).(*Account)
	return created, args.Error(1)
}

func (m *MockAccountStore) TouchAccount(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) Profile(ctx context.Context, id int64) (*Profile, error) {
	args := m.Called(ctx, id)
	profile, _ := args.Get(0).(*Profile)
	return profile, args.Error(1)
}

func (m *MockProfileStore) SaveProfile(ctx context.Context, profile *Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockProfileStore) EmailInUse(ctx context.Context, email string, excludeAccountID int64) (bool, error) {
	args := m.Called(ctx, email, excludeAccountID)
	return args.Bool(0), args.Error(1)
}

type MockSettings struct {
	mock.Mock
}

func (m *MockSettings) UniqueEmail(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

type engineMocks struct {
	resolver *MockResolver
	configs  *MockConfigStore
	accounts *MockAccountStore
	profiles *MockProfileStore
	settings *MockSettings
}

func (m *engineMocks) assertExpectations(t mock.TestingT) {
	m.resolver.AssertExpectations(t)
	m.configs.AssertExpectations(t)
	m.accounts.AssertExpectations(t)
	m.profiles.AssertExpectations(t)
	m.settings.AssertExpectations(t)
}
