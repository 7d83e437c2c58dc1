// Package register implements the whitelist-gated registration flow:
// an inviter creates a PENDING whitelist entry out of band, the invitee
// proves control of the phone via a verification token, then completes
// registration, flipping the entry to REGISTERED exactly once.
package register

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/auth"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/perm"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/repo"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/verify"
)

// verificationTTL bounds the window between phone verification and
// registration completion.
const verificationTTL = 30 * time.Minute

// Per-phone issue throttle, checked against the store so it holds across
// service instances.
const (
	requestWindow        = 10 * time.Minute
	maxRequestsPerWindow = 3
)

// ErrTooManyRequests reports that the phone exhausted its verification
// requests for the window. Plain sentinel, always wrapped in a business-kind
// error; the HTTP layer matches it by identity and maps it to 429.
var ErrTooManyRequests = errors.New("too many verification requests for this phone")

// payloadEntryID keys the whitelist entry id inside the token payload.
const payloadEntryID = "whitelist_entry_id"

// Service orchestrates the registration state machine.
type Service struct {
	tenants   repo.TenantRepo
	whitelist repo.WhitelistRepo
	users     repo.UserRepo
	tokens    *verify.Service
}

// NewService creates a registration service.
func NewService(tenants repo.TenantRepo, whitelist repo.WhitelistRepo, users repo.UserRepo, tokens *verify.Service) *Service {
	return &Service{tenants: tenants, whitelist: whitelist, users: users, tokens: tokens}
}

// RequestVerification checks the invitation for (tenant, phone) and issues a
// phone-verification token carrying the entry id. An entry past its expiry is
// flipped to EXPIRED before the call fails; the flip sticks.
func (s *Service) RequestVerification(ctx context.Context, tenantID uuid.UUID, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", apperr.New(apperr.KindValidation, "phone is required")
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !tenant.Active {
		return "", apperr.New(apperr.KindBusiness, "tenant is not active")
	}

	entry, err := s.whitelist.GetByPhone(ctx, tenantID, phone)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return "", apperr.New(apperr.KindValidation, "phone is not invited")
		}
		return "", err
	}

	switch entry.Status {
	case model.WhitelistRegistered:
		return "", apperr.New(apperr.KindConflict, "phone is already registered")
	case model.WhitelistExpired:
		return "", apperr.New(apperr.KindBusiness, "invitation expired")
	}

	if entry.ExpiresAt != nil && !entry.ExpiresAt.After(time.Now()) {
		if err := s.whitelist.MarkExpired(ctx, entry.ID); err != nil {
			return "", err
		}
		return "", apperr.New(apperr.KindBusiness, "invitation expired")
	}

	count, err := s.tokens.RecentIssueCount(ctx, verify.PurposePhoneVerification, tenantID, phone, requestWindow)
	if err != nil {
		return "", err
	}
	if count >= maxRequestsPerWindow {
		return "", apperr.Wrap(apperr.KindBusiness, "request throttled", ErrTooManyRequests)
	}

	return s.tokens.Issue(ctx, verify.PurposePhoneVerification, tenantID, phone,
		map[string]string{payloadEntryID: entry.ID.String()}, verificationTTL)
}

// CompleteInput carries the registration completion request.
type CompleteInput struct {
	Phone    string
	Username string
	Password string
	Email    string
	FullName string
	Token    string
}

// CompleteRegistration consumes the verification token and creates the
// principal. The new user starts deactivated: an administrator must activate
// the account before it can log in. The user insert and the whitelist flip to
// REGISTERED commit together or not at all.
func (s *Service) CompleteRegistration(ctx context.Context, in CompleteInput) (model.User, error) {
	in.Phone = strings.TrimSpace(in.Phone)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Phone == "" || in.Username == "" || in.Password == "" || in.Email == "" {
		return model.User{}, apperr.New(apperr.KindValidation, "phone, username, password and email are required")
	}

	token, err := s.tokens.VerifyAndConsume(ctx, in.Token, verify.PurposePhoneVerification)
	if err != nil {
		return model.User{}, err
	}
	if token.Subject != in.Phone {
		return model.User{}, apperr.New(apperr.KindValidation, "phone does not match verification token")
	}

	entryID, err := uuid.Parse(token.Payload[payloadEntryID])
	if err != nil {
		return model.User{}, apperr.Wrap(apperr.KindValidation, "verification token carries no invitation", err)
	}

	// Re-check the entry: it may have changed between verification and
	// completion. The repo re-asserts PENDING inside the transaction; this
	// early check just produces a cleaner failure.
	entry, err := s.whitelist.GetByID(ctx, entryID)
	if err != nil {
		return model.User{}, err
	}
	if entry.Status != model.WhitelistPending {
		return model.User{}, apperr.New(apperr.KindValidation, "invitation is no longer pending")
	}

	if field, err := s.users.FindConflict(ctx, entry.TenantID, in.Username, in.Email); err != nil {
		return model.User{}, err
	} else if field != "" {
		return model.User{}, apperr.Newf(apperr.KindConflict, "%s already taken", field)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return model.User{}, err
	}

	tenantID := entry.TenantID
	caps := perm.Compute(model.RoleOperator, "")
	user := model.User{
		TenantID:     &tenantID,
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hash,
		RoleCode:     model.RoleOperator,
		RoleLevel:    caps.RoleLevel,
		Active:       false,
	}
	return s.whitelist.CompleteRegistration(ctx, entryID, user)
}
