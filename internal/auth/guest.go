// Package auth holds login flows that sit beside the bearer-token middleware.
package auth

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
)

const guestCookie = "mq_guest_id"

// GuestLoginHandler issues a student token for an anonymous visitor so they
// can practice without an account. The guest id is kept in a cookie and
// reused while its user row still exists, which keeps their sessions,
// favorites and wrong questions across visits.
func GuestLoginHandler(a *authmw.AuthService, db *sql.DB, secureCookie bool) http.HandlerFunc {
	type out struct {
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
		Username    string `json:"username"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var userID, username string

		if c, err := r.Cookie(guestCookie); err == nil && strings.HasPrefix(c.Value, "guest|") {
			var role string
			err := db.QueryRowContext(ctx, `SELECT username, role FROM users WHERE id=$1`, c.Value).Scan(&username, &role)
			if err == nil && role == "student" {
				userID = c.Value
			}
		}

		if userID == "" {
			sfx := strings.ReplaceAll(uuid.NewString(), "-", "")
			userID = "guest|" + sfx
			username = "guest-" + sfx[:8]
			if _, err := db.ExecContext(ctx, `INSERT INTO users (id, username, role, created_at)
				VALUES ($1,$2,'student',$3)`, userID, username, time.Now().Unix()); err != nil {
				slog.ErrorContext(ctx, "create guest", "err", err)
				http.Error(w, "could not create guest", http.StatusInternalServerError)
				return
			}
		}

		tok, err := a.IssueJWT(userID, "student")
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     guestCookie,
			Value:    userID,
			Path:     "/",
			HttpOnly: true,
			Secure:   secureCookie,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(30 * 24 * time.Hour),
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out{AccessToken: tok, UserID: userID, Username: username})
	}
}
