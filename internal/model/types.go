package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user role code. Lower RoleLevel means more privileged;
// platform-level roles use zero or negative levels.
type Role string

const (
	RoleDeveloper          Role = "developer"
	RolePlatformSuperAdmin Role = "platform_super_admin"
	RoleFactorySuperAdmin  Role = "factory_super_admin"
	RolePermissionAdmin    Role = "permission_admin"
	RoleDepartmentAdmin    Role = "department_admin"
	RoleOperator           Role = "operator"
)

// Tenant is an isolated organizational unit (a factory). All tenant-scoped
// rows carry its id.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// User is a principal. Platform users carry a nil TenantID and Platform=true;
// tenant users are bound to exactly one tenant. Users are never physically
// deleted; deactivation flips Active.
type User struct {
	ID           uuid.UUID
	TenantID     *uuid.UUID
	Platform     bool
	Username     string
	Email        string
	Phone        string
	FullName     string
	PasswordHash string
	RoleCode     Role
	RoleLevel    int
	Department   *string
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

// WhitelistStatus is the lifecycle state of an invitation.
// PENDING -> REGISTERED (on completed registration) and
// PENDING -> EXPIRED (lazily, on read past expiry) are the only transitions;
// both targets are terminal.
type WhitelistStatus string

const (
	WhitelistPending    WhitelistStatus = "PENDING"
	WhitelistRegistered WhitelistStatus = "REGISTERED"
	WhitelistExpired    WhitelistStatus = "EXPIRED"
)

// WhitelistEntry is a pre-authorized invitation pairing a phone number with a
// tenant. Unique per (tenant, phone).
type WhitelistEntry struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Phone     string
	Status    WhitelistStatus
	ExpiresAt *time.Time
	InvitedBy *uuid.UUID
	CreatedAt time.Time
}

// VerificationToken is a short-lived, single-use, purpose-typed credential.
// Consumed flips exactly once; stale rows are ignored, not purged.
type VerificationToken struct {
	ID        uuid.UUID
	Token     string
	Purpose   string
	TenantID  uuid.UUID
	Subject   string
	Payload   map[string]string
	ExpiresAt time.Time
	Consumed  bool
	CreatedAt time.Time
}

// Session backs an issued access/refresh token pair. At most one live row per
// (user, tenant); rotation revokes the consumed row and records its successor.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	TenantID         *uuid.UUID
	RefreshTokenHash string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	RevokedAt        *time.Time
	ReplacedBy       *uuid.UUID
}

// Live reports whether the session can still authenticate at the given time.
func (s Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// ActivationCodeType classifies what a code activates.
type ActivationCodeType string

const (
	ActivationTypeDevice    ActivationCodeType = "device"
	ActivationTypeUser      ActivationCodeType = "user"
	ActivationTypeTenant    ActivationCodeType = "tenant"
	ActivationTypeTrial     ActivationCodeType = "trial"
	ActivationTypePermanent ActivationCodeType = "permanent"
)

// ActivationCodeStatus is the lifecycle state of a code.
type ActivationCodeStatus string

const (
	ActivationStatusActive    ActivationCodeStatus = "active"
	ActivationStatusExpired   ActivationCodeStatus = "expired"
	ActivationStatusExhausted ActivationCodeStatus = "exhausted"
	ActivationStatusDisabled  ActivationCodeStatus = "disabled"
)

// ActivationCode is a redeemable code bounded by a usage cap and an optional
// deadline. UsedCount never exceeds MaxUses; status flips to exhausted exactly
// when the cap is reached and to expired when read past ValidUntil.
// Tenant-type codes are intentionally unbound (nil TenantID).
type ActivationCode struct {
	ID         uuid.UUID
	Code       string
	Type       ActivationCodeType
	TenantID   *uuid.UUID
	MaxUses    int
	UsedCount  int
	ValidUntil *time.Time
	Status     ActivationCodeStatus
	CreatedAt  time.Time
}

// Remaining returns the number of redemptions left on the code.
func (c ActivationCode) Remaining() int {
	if c.UsedCount >= c.MaxUses {
		return 0
	}
	return c.MaxUses - c.UsedCount
}

// ActivationRecord is the immutable proof of one redemption,
// unique per (code, device).
type ActivationRecord struct {
	ID         uuid.UUID
	CodeID     uuid.UUID
	DeviceID   string
	DeviceInfo string
	IPAddress  string
	CreatedAt  time.Time
}
