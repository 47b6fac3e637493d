package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/isometry/terraform-provider-directory/internal/auth"
)

// ErrDuplicateUsername is returned when an account with the same username
// already exists.
var ErrDuplicateUsername = errors.New("username already exists")

// MemoryStore keeps accounts and profiles in memory. It implements
// auth.AccountStore and auth.ProfileStore.
type MemoryStore struct {
	mu            sync.RWMutex
	accounts      map[int64]*auth.Account
	profiles      map[int64]*memoryProfile
	nextAccountID int64
	nextProfileID int64
}

type memoryProfile struct {
	accountID int64
	fields    map[string]string
}

var (
	_ auth.AccountStore = (*MemoryStore)(nil)
	_ auth.ProfileStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]*auth.Account),
		profiles: make(map[int64]*memoryProfile),
	}
}

func (s *MemoryStore) AccountByUsername(_ context.Context, username string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if strings.EqualFold(account.Username, username) {
			return s.accountLocked(account), nil
		}
	}
	return nil, fmt.Errorf("%q: %w", username, auth.ErrAccountNotFound)
}

func (s *MemoryStore) AccountByID(_ context.Context, id int64) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, auth.ErrAccountNotFound)
	}
	return s.accountLocked(account), nil
}

func (s *MemoryStore) TouchAccount(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %d: %w", id, auth.ErrAccountNotFound)
	}
	account.LastLogin = at
	return nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, account *auth.Account) (*auth.Account, error) {
	if strings.TrimSpace(account.Username) == "" {
		return nil, errors.New("username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, account.Username) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateUsername, account.Username)
		}
	}

	s.nextAccountID++
	created := *account
	created.ID = s.nextAccountID
	created.DefaultProfileID = 0
	s.accounts[created.ID] = &created

	return s.accountLocked(&created), nil
}

// accountLocked returns a copy of account with its default profile, the
// lowest profile ID owned by the account.
func (s *MemoryStore) accountLocked(account *auth.Account) *auth.Account {
	out := *account
	out.DefaultProfileID = 0
	for id, p := range s.profiles {
		if p.accountID == account.ID && (out.DefaultProfileID == 0 || id < out.DefaultProfileID) {
			out.DefaultProfileID = id
		}
	}
	return &out
}

func (s *MemoryStore) Profile(_ context.Context, id int64) (*auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %d: %w", id, auth.ErrProfileNotFound)
	}
	return auth.LoadedProfile(id, p.accountID, p.fields), nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, profile *auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[profile.AccountID]; !ok {
		return fmt.Errorf("account %d: %w", profile.AccountID, auth.ErrAccountNotFound)
	}

	id := profile.ID
	if profile.IsNew() {
		s.nextProfileID++
		id = s.nextProfileID
	} else if _, ok := s.profiles[id]; !ok {
		return fmt.Errorf("profile %d: %w", id, auth.ErrProfileNotFound)
	}

	s.profiles[id] = &memoryProfile{
		accountID: profile.AccountID,
		fields:    profile.Fields(),
	}
	profile.MarkSaved(id)

	return nil
}

func (s *MemoryStore) EmailInUse(_ context.Context, email string, excludeAccountID int64) (bool, error) {
	if email == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.accountID != excludeAccountID && strings.EqualFold(p.fields[auth.EmailField], email) {
			return true, nil
		}
	}
	return false, nil
}
