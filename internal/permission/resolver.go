// Package permission decides whether a principal may use a route. All inputs
// come from configuration and are copied at construction, so a Resolver is
// safe for concurrent use and never does I/O.
package permission

import (
	"slices"
	"sort"

	"authgate.org/internal/auth"
	"authgate.org/internal/config"
)

// Decision reasons.
const (
	ReasonPublic             = "public_route"
	ReasonSuperAdmin         = "super_admin"
	ReasonGranted            = "permission_granted"
	ReasonRouteNotConfigured = "route_not_configured"
	ReasonMissingPermission  = "missing_permission"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

type role struct {
	perms Set
	super bool
}

type route struct {
	required Set
	public   bool
}

// Resolver answers permission questions from an immutable snapshot of roles,
// routes and navigation.
type Resolver struct {
	roles  map[string]role
	routes map[string]route
	nav    []config.NavSection
}

var _ auth.PermissionSource = (*Resolver)(nil)

// New snapshots the role, route and navigation configuration.
func New(cfg *config.Config) *Resolver {
	r := &Resolver{
		roles:  make(map[string]role, len(cfg.Roles)),
		routes: make(map[string]route, len(cfg.Routes)),
	}
	for name, rc := range cfg.Roles {
		r.roles[name] = role{perms: NewSet(rc.Permissions...), super: rc.SuperAdmin}
	}
	for key, rc := range cfg.Routes {
		r.routes[key] = route{required: NewSet(rc.Permissions...), public: rc.Public}
	}
	r.nav = make([]config.NavSection, 0, len(cfg.Navigation))
	for _, sec := range cfg.Navigation {
		sec.Items = slices.Clone(sec.Items)
		r.nav = append(r.nav, sec)
	}
	return r
}

// PermissionsForRole returns the sorted permission keys granted by name.
// Unknown roles grant nothing.
func (r *Resolver) PermissionsForRole(name string) []string {
	return r.roles[name].perms.Sorted()
}

// IsSuperAdmin reports whether name satisfies every requirement.
func (r *Resolver) IsSuperAdmin(name string) bool {
	return r.roles[name].super
}

// CanDelegate reports whether p may hand out credentials carrying role.
// The role must exist and grant nothing p lacks; only super admins may
// delegate a super-admin role.
func (r *Resolver) CanDelegate(p auth.Principal, name string) bool {
	target, ok := r.roles[name]
	if !ok {
		return false
	}
	if r.IsSuperAdmin(p.Role) {
		return true
	}
	if target.super {
		return false
	}
	held := Set(p.Permissions)
	for k := range target.perms {
		if !held.Contains(k) {
			return false
		}
	}
	return true
}

// IsPublic reports whether routeKey is configured and explicitly public.
func (r *Resolver) IsPublic(routeKey string) bool {
	rt, ok := r.routes[routeKey]
	return ok && rt.public
}

// Configured reports whether routeKey has a policy at all.
func (r *Resolver) Configured(routeKey string) bool {
	_, ok := r.routes[routeKey]
	return ok
}

// Authorize decides whether p may use routeKey. Holding any one of the
// route's permissions suffices. Routes without a policy are denied.
func (r *Resolver) Authorize(p auth.Principal, routeKey string) Decision {
	rt, ok := r.routes[routeKey]
	if !ok {
		return Decision{Reason: ReasonRouteNotConfigured}
	}
	if rt.public {
		return Decision{Allowed: true, Reason: ReasonPublic}
	}
	if r.IsSuperAdmin(p.Role) {
		return Decision{Allowed: true, Reason: ReasonSuperAdmin}
	}
	if Set(p.Permissions).Intersects(rt.required) {
		return Decision{Allowed: true, Reason: ReasonGranted}
	}
	return Decision{Reason: ReasonMissingPermission}
}

// AccessibleRoutes lists every configured route p may use, sorted.
func (r *Resolver) AccessibleRoutes(p auth.Principal) []string {
	out := make([]string, 0, len(r.routes))
	for key := range r.routes {
		if r.Authorize(p, key).Allowed {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// NavigationFor filters the navigation tree down to items p may open.
// Configured order is kept and sections left empty are dropped.
func (r *Resolver) NavigationFor(p auth.Principal) []config.NavSection {
	out := make([]config.NavSection, 0, len(r.nav))
	for _, sec := range r.nav {
		items := make([]config.NavItem, 0, len(sec.Items))
		for _, it := range sec.Items {
			if r.Authorize(p, it.Route).Allowed {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}
		sec.Items = items
		out = append(out, sec)
	}
	return out
}
