package auth

import "sort"

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID          string
	Kind        PrincipalKind
	Role        string
	TenantID    string
	Email       string
	KeyID       string
	Permissions map[string]struct{}
}

// NewPrincipal builds a principal with the given permission keys.
func NewPrincipal(id string, kind PrincipalKind, role, tenant string, perms []string) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return Principal{ID: id, Kind: kind, Role: role, TenantID: tenant, Permissions: set}
}

// HasPermission reports whether the principal holds key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// HasAny reports whether the principal holds at least one of keys.
func (p Principal) HasAny(keys ...string) bool {
	for _, k := range keys {
		if p.HasPermission(k) {
			return true
		}
	}
	return false
}

// PermissionList returns the permission set sorted.
func (p Principal) PermissionList() []string {
	out := make([]string, 0, len(p.Permissions))
	for k := range p.Permissions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
