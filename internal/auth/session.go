package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/perm"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/repo"
)

// TokenPair is an issued access/refresh credential pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// SessionService handles login, session issuance, refresh rotation and
// revocation. At most one live session exists per (user, tenant).
type SessionService struct {
	users      repo.UserRepo
	sessions   repo.SessionRepo
	jwt        *JWTService
	refreshTTL time.Duration
}

// NewSessionService creates a session service.
func NewSessionService(users repo.UserRepo, sessions repo.SessionRepo, jwt *JWTService, refreshTTL time.Duration) *SessionService {
	return &SessionService{users: users, sessions: sessions, jwt: jwt, refreshTTL: refreshTTL}
}

// Login verifies the credentials of a tenant user and issues a session.
// Wrong username and wrong password are indistinguishable to the caller.
func (s *SessionService) Login(ctx context.Context, username, password string, tenantID uuid.UUID) (*model.User, *TokenPair, error) {
	user, err := s.users.GetByLogin(ctx, tenantID, username)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil, apperr.New(apperr.KindAuthentication, "invalid username or password")
		}
		return nil, nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperr.New(apperr.KindAuthentication, "invalid username or password")
	}

	if !user.Active {
		return nil, nil, apperr.New(apperr.KindBusiness, "account is deactivated")
	}

	pair, err := s.Issue(ctx, &user)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, nil, err
	}
	user.LastLoginAt = &now

	return &user, pair, nil
}

// Issue signs a token pair for the principal and persists the backing
// session, revoking any prior session for the same (user, tenant).
func (s *SessionService) Issue(ctx context.Context, user *model.User) (*TokenPair, error) {
	return s.issue(ctx, user, nil)
}

func (s *SessionService) issue(ctx context.Context, user *model.User, replaced *uuid.UUID) (*TokenPair, error) {
	dept := ""
	if user.Department != nil {
		dept = *user.Department
	}
	caps := perm.Compute(user.RoleCode, dept)

	sessionID := uuid.New()
	access, expiresAt, err := s.jwt.SignAccessToken(user, caps, sessionID)
	if err != nil {
		return nil, err
	}

	refresh, refreshHash, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	err = s.sessions.Replace(ctx, model.Session{
		ID:               sessionID,
		UserID:           user.ID,
		TenantID:         user.TenantID,
		RefreshTokenHash: refreshHash,
		ExpiresAt:        time.Now().Add(s.refreshTTL),
	}, replaced)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}, nil
}

// Refresh rotates the session backing refreshToken: the consumed session is
// revoked and a fresh pair is issued. The liveness checks here are a fast
// path only; the store consumes the rotated session with a conditional
// update, so concurrent refreshes of the same token cannot both succeed.
// Any validation failure, unknown token, revoked or expired session or
// deactivated user, reports the same authentication error.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	invalid := apperr.New(apperr.KindAuthentication, "invalid refresh token")
	if refreshToken == "" {
		return nil, invalid
	}

	session, err := s.sessions.FindByRefreshHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, invalid
		}
		return nil, err
	}
	if !session.Live(time.Now()) {
		return nil, invalid
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, invalid
		}
		return nil, err
	}
	if !user.Active {
		return nil, invalid
	}

	pair, err := s.issue(ctx, &user, &session.ID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuthentication {
			return nil, invalid
		}
		return nil, err
	}
	return pair, nil
}

// RevokeAll marks every session for the (user, tenant) pair revoked.
// Idempotent; used after a password change.
func (s *SessionService) RevokeAll(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID) error {
	return s.sessions.RevokeAll(ctx, userID, tenantID)
}

// Logout revokes the session backing the refresh token.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.sessions.FindByRefreshHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.New(apperr.KindAuthentication, "invalid refresh token")
		}
		return err
	}
	return s.sessions.RevokeAll(ctx, session.UserID, session.TenantID)
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every session of the principal.
func (s *SessionService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return apperr.New(apperr.KindValidation, "new password is required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindAuthentication, "current password is incorrect")
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.sessions.RevokeAll(ctx, userID, user.TenantID)
}

// Validate resolves an access token to its principal. A plain "not
// authenticated" outcome — bad signature, missing session, revoked or expired
// — returns (nil, nil, nil); the caller treats nil as unauthenticated.
func (s *SessionService) Validate(ctx context.Context, accessToken string) (*model.User, *Claims, error) {
	claims, err := s.jwt.VerifyAccessToken(accessToken)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuthentication {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if !session.Live(time.Now()) {
		return nil, nil, nil
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if !user.Active {
		return nil, nil, nil
	}

	return &user, claims, nil
}
