package security

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/opera-os/opera/internal/tools"
)

// Roles
const (
	RoleOwner    = "owner"
	RoleOperator = "operator"
	RoleReadonly = "readonly"
)

// ValidRoles lists all valid roles.
var ValidRoles = []string{RoleOwner, RoleOperator, RoleReadonly}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// rolePermissions are the tool permissions a role grants when its token
// carries no explicit permissions claim.
var rolePermissions = map[string][]tools.Permission{
	RoleOwner:    {tools.PermRead, tools.PermWrite, tools.PermDelete, tools.PermNetwork, tools.PermSystem},
	RoleOperator: {tools.PermRead, tools.PermWrite},
	RoleReadonly: {tools.PermRead},
}

// RolePermissions returns a copy of the default permissions for role.
func RolePermissions(role string) []tools.Permission {
	return append([]tools.Permission{}, rolePermissions[role]...)
}

// routePermission defines which roles can access a method+path prefix.
type routePermission struct {
	Method string // "*" matches any method
	Prefix string
	Roles  []string
}

// routes is checked in order; the first matching entry decides. Planning
// endpoints are POSTs but have no side effects, so readonly may call them.
var routes = []routePermission{
	{Method: "POST", Prefix: "/api/intent/", Roles: []string{RoleOwner, RoleOperator, RoleReadonly}},
	{Method: "POST", Prefix: "/api/plan/", Roles: []string{RoleOwner, RoleOperator, RoleReadonly}},
	{Method: "POST", Prefix: "/api/action/", Roles: []string{RoleOwner, RoleOperator, RoleReadonly}},
	{Method: "POST", Prefix: "/api/search/", Roles: []string{RoleOwner, RoleOperator, RoleReadonly}},
	{Method: "GET", Prefix: "/api/stream", Roles: []string{RoleOwner, RoleOperator}},
	{Method: "GET", Prefix: "/api/", Roles: []string{RoleOwner, RoleOperator, RoleReadonly}},
	{Method: "POST", Prefix: "/api/", Roles: []string{RoleOwner, RoleOperator}},
	{Method: "*", Prefix: "/api/", Roles: []string{RoleOwner}},
}

// CheckPermission reports whether role may call method on path. Owner always
// has access.
func CheckPermission(role, method, path string) bool {
	if role == RoleOwner {
		return true
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	for _, rt := range routes {
		if rt.Method != "*" && rt.Method != method {
			continue
		}
		if !strings.HasPrefix(path, strings.TrimSuffix(rt.Prefix, "/")+"/") {
			continue
		}
		for _, r := range rt.Roles {
			if r == role {
				return true
			}
		}
		return false
	}
	return false
}

// RBACMiddleware rejects requests whose role may not call the route. Requests
// without claims (dev mode) pass through.
func RBACMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !CheckPermission(claims.Role, r.Method, r.URL.Path) {
				http.Error(w, fmt.Sprintf(`{"error":%q}`, ErrInsufficientRole.Error()), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
