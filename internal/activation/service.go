// Package activation validates and redeems activation codes against device
// identity, enforcing the usage cap at the store's transaction boundary.
package activation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/repo"
)

// Service is the activation redemption engine. It depends only on its own
// transactional store; both endpoints are callable without authentication.
type Service struct {
	codes repo.ActivationRepo
}

// NewService creates an activation service.
func NewService(codes repo.ActivationRepo) *Service {
	return &Service{codes: codes}
}

// Info is the result of a successful validation.
type Info struct {
	Code          string
	Type          model.ActivationCodeType
	TenantID      *uuid.UUID
	RemainingUses int
	ValidUntil    *time.Time
}

// Validate checks whether the device could redeem the code right now. Its
// only side effects are the lazy expired/exhausted status flips, which are
// idempotent and persist even though the call then fails.
func (s *Service) Validate(ctx context.Context, code, deviceID string) (*Info, error) {
	code, deviceID, err := normalize(code, deviceID)
	if err != nil {
		return nil, err
	}

	c, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if c.Status != model.ActivationStatusActive {
		return nil, apperr.Newf(apperr.KindValidation, "activation code is %s", c.Status)
	}
	if c.ValidUntil != nil && !c.ValidUntil.After(time.Now()) {
		if err := s.codes.MarkExpired(ctx, c.ID); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.KindValidation, "activation code expired")
	}
	if c.UsedCount >= c.MaxUses {
		if err := s.codes.MarkExhausted(ctx, c.ID); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.KindValidation, "activation code exhausted")
	}

	redeemed, err := s.codes.HasRecord(ctx, c.ID, deviceID)
	if err != nil {
		return nil, err
	}
	if redeemed {
		return nil, apperr.New(apperr.KindValidation, "device already activated with this code")
	}

	return &Info{
		Code:          c.Code,
		Type:          c.Type,
		TenantID:      c.TenantID,
		RemainingUses: c.Remaining(),
		ValidUntil:    c.ValidUntil,
	}, nil
}

// Redeem runs the same checks as Validate plus the mutation, inside one store
// transaction: record inserted, used_count incremented, status flipped to
// exhausted at the cap. Two concurrent redemptions of a nearly-exhausted code
// cannot both succeed past the cap, and a device can redeem a given code at
// most once.
func (s *Service) Redeem(ctx context.Context, code, deviceID, deviceInfo, ipAddress string) (model.ActivationRecord, error) {
	code, deviceID, err := normalize(code, deviceID)
	if err != nil {
		return model.ActivationRecord{}, err
	}
	return s.codes.Redeem(ctx, code, deviceID, deviceInfo, ipAddress)
}

func normalize(code, deviceID string) (string, string, error) {
	code = strings.TrimSpace(code)
	deviceID = strings.TrimSpace(deviceID)
	if code == "" {
		return "", "", apperr.New(apperr.KindValidation, "activation code is required")
	}
	if deviceID == "" {
		return "", "", apperr.New(apperr.KindValidation, "device id is required")
	}
	return code, deviceID, nil
}
