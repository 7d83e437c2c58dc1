// Package perm computes role capabilities. Compute is a pure function over
// (role, department): same inputs, same output, no I/O. The rules live in one
// priority-ordered table rather than scattered conditionals.
package perm

import (
	"github.com/j4xie/my-prototype-logistics-sub021/internal/model"
)

// Department codes used by department-scoped roles.
const (
	DeptFarming    = "farming"
	DeptProcessing = "processing"
	DeptLogistics  = "logistics"
)

// Capabilities is the resolved permission set for a principal.
type Capabilities struct {
	// Module flags, one per business module.
	Farming    bool
	Processing bool
	Logistics  bool
	Trace      bool // read-only traceability, granted to every role
	Admin      bool
	Platform   bool

	Features   []string
	RoleLevel  int
	Department string
}

// Modules lists the enabled module names, for embedding in token claims.
func (c Capabilities) Modules() []string {
	var out []string
	for _, m := range []struct {
		name string
		on   bool
	}{
		{"farming", c.Farming},
		{"processing", c.Processing},
		{"logistics", c.Logistics},
		{"trace", c.Trace},
		{"admin", c.Admin},
		{"platform", c.Platform},
	} {
		if m.on {
			out = append(out, m.name)
		}
	}
	return out
}

type rule struct {
	role       model.Role
	level      int
	allModules bool
	admin      bool
	platform   bool
	deptScoped bool // grant only the principal's own department module
	features   []string
}

// Priority order: developer > platform super admin > factory super admin >
// permission admin > department admin > operator. Developer and platform
// super admin are deliberately distinct rows: their feature sets overlap but
// are not identical.
var rules = []rule{
	{
		role: model.RoleDeveloper, level: -1,
		allModules: true, admin: true, platform: true,
		features: []string{"debug_access", "cross_platform_access", "system_config"},
	},
	{
		role: model.RolePlatformSuperAdmin, level: 0,
		allModules: true, admin: true, platform: true,
		features: []string{"cross_platform_access", "tenant_management"},
	},
	{
		role: model.RoleFactorySuperAdmin, level: 1,
		allModules: true, admin: true,
		features: []string{"user_management_all", "stats_view_all"},
	},
	{
		role: model.RolePermissionAdmin, level: 5,
		allModules: true, admin: true,
		features: []string{"user_management_all"},
	},
	{
		role: model.RoleDepartmentAdmin, level: 10,
		deptScoped: true,
		features:   []string{"user_management_own_dept", "stats_view_own_dept"},
	},
	{
		role: model.RoleOperator, level: 50,
		deptScoped: true,
	},
}

// Compute maps (role, department) to a capability set. Unknown roles fall
// through to the operator row.
func Compute(role model.Role, department string) Capabilities {
	r := rules[len(rules)-1]
	for _, candidate := range rules {
		if candidate.role == role {
			r = candidate
			break
		}
	}

	caps := Capabilities{
		Trace:      true,
		Admin:      r.admin,
		Platform:   r.platform,
		Features:   append([]string(nil), r.features...),
		RoleLevel:  r.level,
		Department: department,
	}

	switch {
	case r.allModules:
		caps.Farming = true
		caps.Processing = true
		caps.Logistics = true
	case r.deptScoped:
		switch department {
		case DeptFarming:
			caps.Farming = true
		case DeptProcessing:
			caps.Processing = true
		case DeptLogistics:
			caps.Logistics = true
		}
	}

	return caps
}
