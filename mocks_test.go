package chaty

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockIdentityAdmin implements IdentityAdmin
type MockIdentityAdmin struct {
	mock.Mock
}

func (m *MockIdentityAdmin) AddUser(ctx context.Context, params SignupParams) (*IdentityUser, error) {
	args := m.Called(ctx, params)
	user, _ := args.Get(0).(*IdentityUser)
	return user, args.Error(1)
}

func (m *MockIdentityAdmin) SendVerifyEmail(ctx context.Context, userID, redirectURL string) error {
	args := m.Called(ctx, userID, redirectURL)
	return args.Error(0)
}

// MockTokenClient implements TokenClient
type MockTokenClient struct {
	mock.Mock
}

func (m *MockTokenClient) Token(ctx context.Context, params SigninParams) (*TokenSet, error) {
	args := m.Called(ctx, params)
	tokens, _ := args.Get(0).(*TokenSet)
	return tokens, args.Error(1)
}

func (m *MockTokenClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	tokens, _ := args.Get(0).(*TokenSet)
	return tokens, args.Error(1)
}

func (m *MockTokenClient) Introspect(ctx context.Context, token string) (*TokenIntrospection, error) {
	args := m.Called(ctx, token)
	res, _ := args.Get(0).(*TokenIntrospection)
	return res, args.Error(1)
}

func (m *MockTokenClient) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	args := m.Called(ctx, token)
	info, _ := args.Get(0).(*UserInfo)
	return info, args.Error(1)
}

func (m *MockTokenClient) RevokeToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// memAccounts is an in memory AccountStore.
type memAccounts struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*User
	failErr error
	// afterFind runs once a read has been served, outside the lock.
	afterFind func(id uuid.UUID)
}

var _ AccountStore = (*memAccounts)(nil)

func newMemAccounts(users ...*User) *memAccounts {
	m := &memAccounts{users: map[uuid.UUID]*User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memAccounts) SaveUser(_ context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	if _, ok := m.users[user.ID]; ok {
		return nil, withMeta(ErrUserAlreadyExists, nil, map[string]any{"id": user.ID.String()})
	}
	prepareUserDefaults(user)
	clone := *user
	m.users[user.ID] = &clone
	return user, nil
}

func (m *memAccounts) FindUser(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	user, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return nil, repository.NewRecordNotFound()
	}
	clone := *user
	hook := m.afterFind
	m.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return &clone, nil
}

func (m *memAccounts) UpdateVerificationState(_ context.Context, id uuid.UUID, state VerificationState, verifiedAt *time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	user, ok := m.users[id]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	if user.VerificationState == VerificationVerified {
		if state == VerificationVerified {
			clone := *user
			return &clone, nil
		}
		return nil, ErrTerminalState
	}
	user.VerificationState = state
	if state == VerificationVerified {
		user.EmailVerified = true
		user.VerifiedAt = verifiedAt
	}
	clone := *user
	return &clone, nil
}

func (m *memAccounts) UpdateVerifiedEmail(ctx context.Context, id uuid.UUID) (*User, error) {
	now := time.Now()
	return m.UpdateVerificationState(ctx, id, VerificationVerified, &now)
}

func (m *memAccounts) state(id uuid.UUID) VerificationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		return user.VerificationState
	}
	return ""
}

// memContacts is an in memory ContactStore.
type memContacts map[uuid.UUID][]*Contact

func (m memContacts) ListByUserID(_ context.Context, userID uuid.UUID) ([]*Contact, error) {
	return m[userID], nil
}

// recordingSink captures activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
