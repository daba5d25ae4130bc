package rbac

import (
	"context"
	"slices"
	"strings"
)

// Checker answers permission questions for a role. Patterns may end in "*"
// to grant a whole namespace ("session:*"); a bare "*" grants everything.
type Checker struct {
	RolePermissions map[string][]string
}

func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	return &Checker{RolePermissions: rp}
}

func (c *Checker) Has(role, perm string) bool {
	return slices.ContainsFunc(c.RolePermissions[role], func(p string) bool {
		return matchPerm(p, perm)
	})
}

func (c *Checker) Any(role string, perms ...string) bool {
	return slices.ContainsFunc(perms, func(p string) bool { return c.Has(role, p) })
}

func (c *Checker) All(role string, perms ...string) bool {
	for _, p := range perms {
		if !c.Has(role, p) {
			return false
		}
	}
	return true
}

// Permissions lists the patterns granted to role, sorted.
func (c *Checker) Permissions(role string) []string {
	out := slices.Clone(c.RolePermissions[role])
	slices.Sort(out)
	return out
}

func matchPerm(pattern, perm string) bool {
	if pattern == "*" || pattern == perm {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(perm, prefix)
	}
	return false
}

// ---- role in context ----

type roleKey struct{}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	s, _ := ctx.Value(roleKey{}).(string)
	return s
}
