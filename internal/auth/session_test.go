package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]model.User)}
}

func (f *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return model.User{}, apperr.New(apperr.KindNotFound, "user not found")
	}
	return u, nil
}

func (f *fakeUserStore) GetByLogin(_ context.Context, tenantID uuid.UUID, username string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.TenantID != nil && *u.TenantID == tenantID && u.Username == username {
			return u, nil
		}
	}
	return model.User{}, apperr.New(apperr.KindNotFound, "user not found")
}

func (f *fakeUserStore) FindConflict(_ context.Context, tenantID uuid.UUID, username, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.TenantID != nil && *u.TenantID == tenantID && u.Username == username {
			return "username", nil
		}
	}
	return "", nil
}

func (f *fakeUserStore) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "user not found")
	}
	u.LastLoginAt = &at
	f.users[id] = u
	return nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "user not found")
	}
	u.PasswordHash = hash
	f.users[id] = u
	return nil
}

func (f *fakeUserStore) add(u model.User) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	f.users[u.ID] = u
	return u
}

// fakeSessionStore keeps sessions in a map. Replace consumes, revokes and
// inserts under one lock, matching the transaction the Postgres repo runs.
// findGate, when set, runs after FindByRefreshHash releases the lock so tests
// can widen the window between the read and the write.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.Session
	findGate func()
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]model.Session)}
}

func sameTenant(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (f *fakeSessionStore) Replace(_ context.Context, s model.Session, replaced *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if replaced != nil {
		prior, ok := f.sessions[*replaced]
		if !ok || prior.RevokedAt != nil {
			return apperr.New(apperr.KindAuthentication, "session already rotated")
		}
		successor := s.ID
		prior.RevokedAt = &now
		prior.ReplacedBy = &successor
		f.sessions[*replaced] = prior
	}
	for id, existing := range f.sessions {
		if existing.UserID == s.UserID && sameTenant(existing.TenantID, s.TenantID) && existing.RevokedAt == nil {
			existing.RevokedAt = &now
			f.sessions[id] = existing
		}
	}
	s.CreatedAt = now
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return model.Session{}, apperr.New(apperr.KindNotFound, "session not found")
	}
	return s, nil
}

func (f *fakeSessionStore) FindByRefreshHash(_ context.Context, hash string) (model.Session, error) {
	f.mu.Lock()
	var found *model.Session
	for _, s := range f.sessions {
		if s.RefreshTokenHash == hash {
			c := s
			found = &c
			break
		}
	}
	f.mu.Unlock()
	if f.findGate != nil {
		f.findGate()
	}
	if found == nil {
		return model.Session{}, apperr.New(apperr.KindNotFound, "session not found")
	}
	return *found, nil
}

func (f *fakeSessionStore) RevokeAll(_ context.Context, userID uuid.UUID, tenantID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for id, s := range f.sessions {
		if s.UserID == userID && sameTenant(s.TenantID, tenantID) && s.RevokedAt == nil {
			s.RevokedAt = &now
			f.sessions[id] = s
		}
	}
	return nil
}

func (f *fakeSessionStore) liveCount(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	now := time.Now()
	for _, s := range f.sessions {
		if s.UserID == userID && s.Live(now) {
			n++
		}
	}
	return n
}

type sessionFixture struct {
	users    *fakeUserStore
	sessions *fakeSessionStore
	svc      *SessionService
	tenantID uuid.UUID
	user     model.User
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)

	users := newFakeUserStore()
	sessions := newFakeSessionStore()
	tenantID := uuid.New()
	user := users.add(model.User{
		TenantID:     &tenantID,
		Username:     "alice",
		Email:        "alice@example.com",
		Phone:        "+861234567890",
		PasswordHash: hash,
		RoleCode:     model.RoleOperator,
		RoleLevel:    50,
		Active:       true,
	})

	jwtSvc := NewJWTService("test-secret-at-least-32-bytes-long", time.Hour)
	return &sessionFixture{
		users:    users,
		sessions: sessions,
		svc:      NewSessionService(users, sessions, jwtSvc, 7*24*time.Hour),
		tenantID: tenantID,
		user:     user,
	}
}

func TestLogin(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	user, pair, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotNil(t, user.LastLoginAt)
	assert.Equal(t, 1, fx.sessions.liveCount(fx.user.ID))
}

func TestLogin_badCredentials(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, _, err := fx.svc.Login(ctx, "alice", "wrong-pass", fx.tenantID)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	wrongPass := err.Error()

	_, _, err = fx.svc.Login(ctx, "nobody", "s3cret-pass", fx.tenantID)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	assert.Equal(t, wrongPass, err.Error(), "unknown user and wrong password are indistinguishable")
}

func TestLogin_deactivatedAccount(t *testing.T) {
	fx := newSessionFixture(t)
	u := fx.user
	u.Active = false
	fx.users.add(u)

	_, _, err := fx.svc.Login(context.Background(), "alice", "s3cret-pass", fx.tenantID)
	assert.Equal(t, apperr.KindBusiness, apperr.KindOf(err))
	assert.Equal(t, 0, fx.sessions.liveCount(fx.user.ID))
}

func TestIssue_singleLiveSession(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := fx.svc.Issue(ctx, &fx.user)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fx.sessions.liveCount(fx.user.ID),
		"a new login supersedes the prior session for the same (user, tenant)")
}

func TestRefresh_rotation(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, first, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)

	second, err := fx.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 1, fx.sessions.liveCount(fx.user.ID))

	// The consumed token is dead; only the rotated one works.
	_, err = fx.svc.Refresh(ctx, first.RefreshToken)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))

	_, err = fx.svc.Refresh(ctx, second.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_reuseUnderConcurrency(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, pair, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)

	// Hold every caller at the read until all of them have seen the live
	// session, so each passes the liveness check before any rotation lands.
	// Single-use must then come from the store's conditional consume.
	const callers = 8
	var barrier sync.WaitGroup
	barrier.Add(callers)
	fx.sessions.findGate = func() {
		barrier.Done()
		barrier.Wait()
	}

	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := fx.svc.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}

	var successes int
	for i := 0; i < callers; i++ {
		if err := <-results; err == nil {
			successes++
		} else {
			assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
		}
	}
	assert.Equal(t, 1, successes, "a refresh token rotates exactly once")
	assert.Equal(t, 1, fx.sessions.liveCount(fx.user.ID))
}

func TestRefresh_invalidInputs(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Refresh(ctx, "")
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))

	_, err = fx.svc.Refresh(ctx, "never-issued-token")
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}

func TestRefresh_deactivatedUser(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, pair, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)

	u := fx.user
	u.Active = false
	fx.users.add(u)

	_, err = fx.svc.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}

func TestRevokeAll_idempotent(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, pair, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)

	require.NoError(t, fx.svc.RevokeAll(ctx, fx.user.ID, &fx.tenantID))
	assert.Equal(t, 0, fx.sessions.liveCount(fx.user.ID))

	require.NoError(t, fx.svc.RevokeAll(ctx, fx.user.ID, &fx.tenantID))

	_, err = fx.svc.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}

func TestLogout(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, pair, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Logout(ctx, pair.RefreshToken))
	assert.Equal(t, 0, fx.sessions.liveCount(fx.user.ID))

	err = fx.svc.Logout(ctx, pair.RefreshToken)
	assert.NoError(t, err, "logout of an already revoked session is a no-op")
}

func TestChangePassword(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, pair, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)

	err = fx.svc.ChangePassword(ctx, fx.user.ID, "wrong-pass", "new-pass")
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	assert.Equal(t, 1, fx.sessions.liveCount(fx.user.ID), "failed change leaves sessions alone")

	require.NoError(t, fx.svc.ChangePassword(ctx, fx.user.ID, "s3cret-pass", "new-pass"))
	assert.Equal(t, 0, fx.sessions.liveCount(fx.user.ID), "password change revokes every session")

	_, err = fx.svc.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))

	_, _, err = fx.svc.Login(ctx, "alice", "new-pass", fx.tenantID)
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	_, pair, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)

	user, claims, err := fx.svc.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, fx.user.ID, user.ID)
	assert.Equal(t, fx.user.ID, claims.UserID)
}

func TestValidate_unauthenticatedOutcomes(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	// Garbage token.
	user, claims, err := fx.svc.Validate(ctx, "not-a-jwt")
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Nil(t, claims)

	// Revoked session behind a still-valid JWT.
	_, pair, err := fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)
	require.NoError(t, fx.svc.RevokeAll(ctx, fx.user.ID, &fx.tenantID))

	user, _, err = fx.svc.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, user)

	// Deactivated user behind a live session.
	_, pair, err = fx.svc.Login(ctx, "alice", "s3cret-pass", fx.tenantID)
	require.NoError(t, err)
	u := fx.user
	u.Active = false
	fx.users.add(u)

	user, _, err = fx.svc.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, user)
}
