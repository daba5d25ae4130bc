package rbac

import (
	"log/slog"
	"net/http"
)

var defaultChecker = NewChecker(nil)

// Default returns the checker used by the middleware.
func Default() *Checker { return defaultChecker }

func guard(allowed func(role string) bool, what []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !allowed(role) {
				slog.DebugContext(r.Context(), "rbac denied", "role", role, "need", what, "path", r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return guard(func(role string) bool { return defaultChecker.Has(role, perm) }, []string{perm})
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return guard(func(role string) bool { return defaultChecker.Any(role, perms...) }, perms)
}

// RequireAll enforces that the role has all of the permissions.
func RequireAll(perms ...string) func(http.Handler) http.Handler {
	return guard(func(role string) bool { return defaultChecker.All(role, perms...) }, perms)
}
