package auth

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

// AttachRoleFromDB replaces the token's role with the one stored for the
// subject, so demotions apply before the token expires. Subjects without a
// user row keep their claimed role only when it is admin (the bootstrap
// account) or allowClaimFallback is set.
func AttachRoleFromDB(db *sql.DB, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := SubjectFromContext(ctx)
			claimRole := rbac.RoleFromContext(ctx)

			var role string
			err := db.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1`, sub).Scan(&role)
			switch {
			case err == nil && role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
			case err == nil, errors.Is(err, sql.ErrNoRows):
				if claimRole == "admin" || (allowClaimFallback && claimRole != "") {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
			default:
				slog.ErrorContext(ctx, "role lookup failed", "sub", sub, "err", err)
				if allowClaimFallback && claimRole != "" {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}
