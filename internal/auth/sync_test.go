package auth

import (
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	dirldap "github.com/isometry/terraform-provider-directory/internal/ldap"
)

const lookupDN = "uid=%username%,ou=people,dc=example,dc=com"

func mappingConfig(alwaysSync bool) *AuthConfig {
	return &AuthConfig{
		ServerID:      1,
		Enabled:       true,
		LookupDN:      lookupDN,
		EnableMapping: true,
		AlwaysSync:    alwaysSync,
		FieldMapping: FieldMapping{
			"email":      {Attribute: "mail"},
			"first_name": {Attribute: "givenName"},
			"phone":      {Attribute: "telephoneNumber"},
			"department": {DNTemplate: "cn=%username%,ou=hr,dc=example,dc=com", Attribute: "ou"},
		},
	}
}

func notFound() error {
	return dirldap.NewLDAPError(dirldap.OpSearch, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")))
}

func TestSync_MappingDisabled(t *testing.T) {
	engine, m := newTestEngine()
	m.configs.On("AuthConfig", mock.Anything, int64(1)).Return(&AuthConfig{ServerID: 1, EnableMapping: false}, nil)

	require.NoError(t, engine.Sync(t.Context(), 1, 5, 0))

	m.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.profiles.AssertNotCalled(t, "SaveProfile", mock.Anything, mock.Anything)
}

func TestSync_ExistingProfileWithoutAlwaysSync(t *testing.T) {
	engine, m := newTestEngine()
	m.configs.On("AuthConfig", mock.Anything, int64(1)).Return(mappingConfig(false), nil)
	m.profiles.On("Profile", mock.Anything, int64(8)).Return(LoadedProfile(8, 5, map[string]string{"email": "old@example.com"}), nil)

	require.NoError(t, engine.Sync(t.Context(), 1, 5, 8))

	m.profiles.AssertNotCalled(t, "SaveProfile", mock.Anything, mock.Anything)
	m.profiles.AssertNotCalled(t, "EmailInUse", mock.Anything, mock.Anything, mock.Anything)
	m.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.accounts.AssertNotCalled(t, "AccountByID", mock.Anything, mock.Anything)
}

func TestSync_NewProfile(t *testing.T) {
	engine, m := newTestEngine()
	dir := &MockDirectory{}

	m.configs.On("AuthConfig", mock.Anything, int64(1)).Return(mappingConfig(false), nil)
	m.accounts.On("AccountByID", mock.Anything, int64(5)).Return(&Account{ID: 5, Username: "alice", Origin: OriginDirectory}, nil)
	m.resolver.On("Resolve", mock.Anything, int64(1), "", "").Return(dir, nil).Once()

	dir.On("RetrieveAttributes", mock.Anything, "uid=alice,ou=people,dc=example,dc=com").Return(dirldap.Attributes{
		"mail":      "alice@example.com",
		"givenname": "Alice",
		"dn":        "uid=alice,ou=people,dc=example,dc=com",
	}, nil).Once()
	dir.On("RetrieveAttributes", mock.Anything, "cn=alice,ou=hr,dc=example,dc=com").Return(nil, notFound()).Once()

	m.settings.On("UniqueEmail", mock.Anything).Return(false, nil)

	var saved *Profile
	m.profiles.On("SaveProfile", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*Profile)
		saved.MarkSaved(42)
	}).Return(nil).Once()

	require.NoError(t, engine.Sync(t.Context(), 1, 5, 0))
	require.NotNil(t, saved)

	assert.Equal(t, int64(42), saved.ID)
	assert.Equal(t, int64(5), saved.AccountID)
	assert.Equal(t, map[string]string{
		"email":      "alice@example.com",
		"first_name": "Alice",
	}, saved.Fields())

	dir.AssertExpectations(t)
	assert.Equal(t, 1, dir.closed)
	m.profiles.AssertNotCalled(t, "EmailInUse", mock.Anything, mock.Anything, mock.Anything)
}

func TestSync_MultiValuedAttributeUsesFirstValue(t *testing.T) {
	engine, m := newTestEngine()
	core, logs := observer.New(zapcore.DebugLevel)
	WithEngineLogger(dirldap.NewZapLogger(zap.New(core)))(engine)
	dir := &MockDirectory{}

	m.configs.On("AuthConfig", mock.Anything, int64(1)).Return(&AuthConfig{
		ServerID:      1,
		LookupDN:      lookupDN,
		EnableMapping: true,
		FieldMapping:  FieldMapping{"phone": {Attribute: "telephoneNumber"}},
	}, nil)
	m.accounts.On("AccountByID", mock.Anything, int64(5)).Return(&Account{ID: 5, Username: "alice"}, nil)
	m.resolver.On("Resolve", mock.Anything, int64(1), "", "").Return(dir, nil)
	dir.On("RetrieveAttributes", mock.Anything, mock.Anything).Return(dirldap.Attributes{
		"telephonenumber": []string{"+1 555 0100", "+1 555 0101"},
	}, nil)

	var saved *Profile
	m.profiles.On("SaveProfile", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*Profile)
	}).Return(nil)

	require.NoError(t, engine.Sync(t.Context(), 1, 5, 0))
	assert.Equal(t, "+1 555 0100", saved.Get("phone"))

	dropped := logs.FilterMessage("Multi-valued attribute, keeping first value").All()
	require.Len(t, dropped, 1)
	fields := dropped[0].ContextMap()
	assert.Equal(t, "telephoneNumber", fields["attribute"])
	assert.Equal(t, "uid=alice,ou=people,dc=example,dc=com", fields["dn"])
	assert.Equal(t, []any{"+1 555 0101"}, fields["dropped"])
}

func TestSync_UniqueEmail(t *testing.T) {
	setup := func(t *testing.T, inUse bool) *Profile {
		t.Helper()

		engine, m := newTestEngine()
		dir := &MockDirectory{}

		m.configs.On("AuthConfig", mock.Anything, int64(1)).Return(mappingConfig(true), nil)
		m.profiles.On("Profile", mock.Anything, int64(8)).Return(LoadedProfile(8, 5, map[string]string{
			"email":      "old@example.com",
			"first_name": "Al",
		}), nil)
		m.accounts.On("AccountByID", mock.Anything, int64(5)).Return(&Account{ID: 5, Username: "alice"}, nil)
		m.resolver.On("Resolve", mock.Anything, int64(1), "", "").Return(dir, nil)
		dir.On("RetrieveAttributes", mock.Anything, "uid=alice,ou=people,dc=example,dc=com").Return(dirldap.Attributes{
			"mail":      "shared@example.com",
			"givenname": "Alice",
		}, nil)
		dir.On("RetrieveAttributes", mock.Anything, "cn=alice,ou=hr,dc=example,dc=com").Return(dirldap.Attributes{
			"ou": "Engineering",
		}, nil)
		m.settings.On("UniqueEmail", mock.Anything).Return(true, nil)
		m.profiles.On("EmailInUse", mock.Anything, "shared@example.com", int64(5)).Return(inUse, nil).Once()

		var saved *Profile
		m.profiles.On("SaveProfile", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			saved = args.Get(1).(*Profile)
		}).Return(nil).Once()

		require.NoError(t, engine.Sync(t.Context(), 1, 5, 8))
		m.assertExpectations(t)
		return saved
	}

	t.Run("conflicting email is reverted", func(t *testing.T) {
		saved := setup(t, true)
		assert.Equal(t, "old@example.com", saved.Get("email"))
		assert.Equal(t, "Alice", saved.Get("first_name"))
		assert.Equal(t, "Engineering", saved.Get("department"))
		assert.Equal(t, []string{"department", "first_name"}, saved.ChangedFields())
	})

	t.Run("free email is kept", func(t *testing.T) {
		saved := setup(t, false)
		assert.Equal(t, "shared@example.com", saved.Get("email"))
	})
}

func TestSync_UnknownProfileStartsNew(t *testing.T) {
	engine, m := newTestEngine()
	dir := &MockDirectory{}

	m.configs.On("AuthConfig", mock.Anything, int64(1)).Return(&AuthConfig{
		ServerID:      1,
		LookupDN:      lookupDN,
		EnableMapping: true,
	}, nil)
	m.profiles.On("Profile", mock.Anything, int64(99)).Return(nil, ErrProfileNotFound)
	m.accounts.On("AccountByID", mock.Anything, int64(5)).Return(&Account{ID: 5, Username: "alice"}, nil)
	m.resolver.On("Resolve", mock.Anything, int64(1), "", "").Return(dir, nil)
	m.profiles.On("SaveProfile", mock.Anything, mock.MatchedBy(func(p *Profile) bool {
		return p.IsNew() && p.AccountID == 5
	})).Return(nil).Once()

	require.NoError(t, engine.Sync(t.Context(), 1, 5, 99))
	m.profiles.AssertExpectations(t)
	dir.AssertNotCalled(t, "RetrieveAttributes", mock.Anything, mock.Anything)
}

func TestSync_DirectoryFailure(t *testing.T) {
	engine, m := newTestEngine()
	dir := &MockDirectory{}

	m.configs.On("AuthConfig", mock.Anything, int64(1)).Return(mappingConfig(false), nil)
	m.accounts.On("AccountByID", mock.Anything, int64(5)).Return(&Account{ID: 5, Username: "alice"}, nil)
	m.resolver.On("Resolve", mock.Anything, int64(1), "", "").Return(dir, nil)
	dir.On("RetrieveAttributes", mock.Anything, mock.Anything).
		Return(nil, dirldap.NewLDAPError(dirldap.OpSearch, ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("denied"))))

	err := engine.Sync(t.Context(), 1, 5, 0)
	require.Error(t, err)
	assert.True(t, dirldap.IsPermissionError(err))
	m.profiles.AssertNotCalled(t, "SaveProfile", mock.Anything, mock.Anything)
}

func TestSync_ResolveFailure(t *testing.T) {
	engine, m := newTestEngine()

	m.configs.On("AuthConfig", mock.Anything, int64(1)).Return(mappingConfig(false), nil)
	m.accounts.On("AccountByID", mock.Anything, int64(5)).Return(&Account{ID: 5, Username: "alice"}, nil)
	m.resolver.On("Resolve", mock.Anything, int64(1), "", "").Return(nil, bindFailure())

	err := engine.Sync(t.Context(), 1, 5, 0)
	require.Error(t, err)
	assert.True(t, dirldap.IsBindError(err))
}
