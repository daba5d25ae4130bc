package http

import (
	"database/sql"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type changePasswordReq struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6,nefield=OldPassword"`
}

// POST /users/change-password
func ChangePasswordHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		var req changePasswordReq
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		var storedHash string
		err := dbh.QueryRowContext(r.Context(), `SELECT password_hash FROM users WHERE id=$1`, uid).Scan(&storedHash)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(req.OldPassword)) != nil {
			http.Error(w, "incorrect old password", http.StatusForbidden)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), 12)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := dbh.ExecContext(r.Context(), `UPDATE users SET password_hash=$1 WHERE id=$2`, string(hash), uid); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
