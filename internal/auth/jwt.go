package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/perm"
)

// Claims are the access-token claims: principal identity, tenant binding,
// role, department, a capability summary, and the backing session id.
type Claims struct {
	UserID     uuid.UUID  `json:"uid"`
	SessionID  uuid.UUID  `json:"sid"`
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
	Role       model.Role `json:"role"`
	RoleLevel  int        `json:"role_level"`
	Department string     `json:"department,omitempty"`
	Modules    []string   `json:"modules,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies HS256 access tokens.
type JWTService struct {
	secret    []byte
	accessTTL time.Duration
}

// NewJWTService creates a JWT service with the given signing secret and
// access-token lifetime.
func NewJWTService(secret string, accessTTL time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), accessTTL: accessTTL}
}

// SignAccessToken creates an access token for the user backed by sessionID.
func (s *JWTService) SignAccessToken(user *model.User, caps perm.Capabilities, sessionID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)

	dept := ""
	if user.Department != nil {
		dept = *user.Department
	}
	claims := &Claims{
		UserID:     user.ID,
		SessionID:  sessionID,
		TenantID:   user.TenantID,
		Role:       user.RoleCode,
		RoleLevel:  caps.RoleLevel,
		Department: dept,
		Modules:    caps.Modules(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.KindCrypto, "sign access token", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken verifies the signature and expiry and returns the claims.
func (s *JWTService) VerifyAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, "parse access token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.New(apperr.KindAuthentication, "invalid access token")
	}
	return claims, nil
}
