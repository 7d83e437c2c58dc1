// Package verify issues and consumes single-use, purpose-typed verification
// tokens. A token proves that one step of a flow (for example phone
// verification during registration) was completed; it can be consumed at most
// once, and the check-and-mark is atomic at the store.
package verify

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/repo"
)

// PurposePhoneVerification tags tokens issued by the registration flow.
const PurposePhoneVerification = "phone_verification"

// Service issues and consumes verification tokens.
type Service struct {
	tokens repo.VerificationRepo
}

// NewService creates a verification token service.
func NewService(tokens repo.VerificationRepo) *Service {
	return &Service{tokens: tokens}
}

// Issue creates an unguessable token bound to (purpose, tenant, subject) with
// the given payload and time to live, and returns the opaque token string.
func (s *Service) Issue(ctx context.Context, purpose string, tenantID uuid.UUID, subject string, payload map[string]string, ttl time.Duration) (string, error) {
	if purpose == "" {
		return "", apperr.New(apperr.KindValidation, "token purpose is required")
	}
	if ttl <= 0 {
		return "", apperr.New(apperr.KindValidation, "token ttl must be positive")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apperr.Wrap(apperr.KindCrypto, "generate verification token", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	_, err := s.tokens.Create(ctx, model.VerificationToken{
		Token:     token,
		Purpose:   purpose,
		TenantID:  tenantID,
		Subject:   subject,
		Payload:   payload,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// RecentIssueCount reports how many tokens were issued to the subject within
// the window, consumed or not. Callers use it to throttle re-issue.
func (s *Service) RecentIssueCount(ctx context.Context, purpose string, tenantID uuid.UUID, subject string, window time.Duration) (int, error) {
	return s.tokens.CountRecentBySubject(ctx, tenantID, subject, purpose, time.Now().Add(-window))
}

// VerifyAndConsume atomically consumes the token and returns its bound data.
// Every failure mode (malformed, unknown, wrong purpose, consumed, expired)
// reports apperr.ErrInvalidToken; the one state transition is irreversible.
func (s *Service) VerifyAndConsume(ctx context.Context, token, expectedPurpose string) (model.VerificationToken, error) {
	if token == "" || expectedPurpose == "" {
		return model.VerificationToken{}, apperr.ErrInvalidToken
	}
	return s.tokens.Consume(ctx, token, expectedPurpose)
}
