package auth

import (
	"github.com/google/uuid"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/apperr"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
)

// Scope describes which tenants a principal may read or write.
type Scope struct {
	// AllTenants is true for platform principals operating tenant-unscoped.
	AllTenants bool
	// TenantID is the single tenant the scope is narrowed to, when set.
	TenantID *uuid.UUID
}

// ResolveScope computes the tenant scope for a principal. Platform users get
// an all-tenant scope, narrowed when they name an explicit tenant. Tenant
// users are always confined to their own tenant; naming another tenant is a
// validation failure.
func ResolveScope(user *model.User, explicitTenant *uuid.UUID) (Scope, error) {
	if user.Platform {
		if explicitTenant != nil {
			return Scope{TenantID: explicitTenant}, nil
		}
		return Scope{AllTenants: true}, nil
	}

	if user.TenantID == nil {
		return Scope{}, apperr.New(apperr.KindValidation, "tenant principal without tenant binding")
	}
	if explicitTenant != nil && *explicitTenant != *user.TenantID {
		return Scope{}, apperr.New(apperr.KindValidation, "principal may not access another tenant")
	}
	return Scope{TenantID: user.TenantID}, nil
}

// CanAccess reports whether rows of the given tenant are within scope.
func (s Scope) CanAccess(tenantID uuid.UUID) bool {
	if s.AllTenants {
		return true
	}
	return s.TenantID != nil && *s.TenantID == tenantID
}
