package http

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

type userRow struct {
	ID       string `json:"id" validate:"required,max=128"`
	Username string `json:"username" validate:"required,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=student teacher admin"`
	Password string `json:"password,omitempty"` // plaintext, hashed on write
}

// POST /users/bulk  JSON array, or CSV with header id,username,role[,password]
// when Content-Type is text/csv.
func BulkUpsertUsersHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []userRow
		if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
			rs, err := parseCSV(r.Body)
			if err != nil {
				writeError(w, r, badRequest("bad csv: %v", err))
				return
			}
			rows = rs
		} else if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			writeError(w, r, badRequest("expected JSON array of users"))
			return
		}
		for i := range rows {
			rows[i].Role = strings.ToLower(strings.TrimSpace(rows[i].Role))
			if err := validate.Struct(rows[i]); err != nil {
				writeError(w, r, badRequest("row %d: %v", i+1, err))
				return
			}
		}
		if len(rows) == 0 {
			writeJSON(w, http.StatusOK, map[string]int{"inserted": 0, "updated": 0})
			return
		}

		ins, upd, err := upsertUsers(r.Context(), dbh, rows)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

// GET /users?role
func ListUsersHandler(dbh *sql.DB) http.HandlerFunc {
	type user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		query := `SELECT id, username, role FROM users`
		var args []any
		if role := r.URL.Query().Get("role"); role != "" {
			query += ` WHERE role=$1`
			args = append(args, role)
		}
		rows, err := dbh.QueryContext(r.Context(), query+` ORDER BY username`, args...)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rows.Close()
		out := []user{}
		for rows.Next() {
			var u user
			if err := rows.Scan(&u.ID, &u.Username, &u.Role); err != nil {
				writeError(w, r, err)
				return
			}
			out = append(out, u)
		}
		if err := rows.Err(); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func parseCSV(r io.Reader) ([]userRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range []string{"id", "username", "role"} {
		if _, ok := idx[k]; !ok {
			return nil, errors.New("missing column: " + k)
		}
	}
	var rows []userRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := userRow{
			ID:       rec[idx["id"]],
			Username: rec[idx["username"]],
			Role:     rec[idx["role"]],
		}
		if i, ok := idx["password"]; ok {
			row.Password = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// upsertUsers writes rows in one transaction. New users need a password;
// existing ones keep their hash unless a new password is given.
func upsertUsers(ctx context.Context, dbh *sql.DB, rows []userRow) (inserted, updated int, err error) {
	now := time.Now().Unix()
	err = db.WithTx(ctx, dbh, nil, func(tx *sql.Tx) error {
		for _, u := range rows {
			if u.Role == "" {
				u.Role = "student"
			}
			var phash string
			if u.Password != "" {
				b, err := bcrypt.GenerateFromPassword([]byte(u.Password), 12)
				if err != nil {
					return err
				}
				phash = string(b)
			}

			err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=$1`, u.ID).Scan(new(int))
			switch {
			case err == nil:
				if phash != "" {
					_, err = tx.ExecContext(ctx, `UPDATE users SET username=$1, role=$2, password_hash=$3 WHERE id=$4`,
						u.Username, u.Role, phash, u.ID)
				} else {
					_, err = tx.ExecContext(ctx, `UPDATE users SET username=$1, role=$2 WHERE id=$3`,
						u.Username, u.Role, u.ID)
				}
				if err != nil {
					return fmt.Errorf("update %s: %w", u.ID, err)
				}
				updated++
			case errors.Is(err, sql.ErrNoRows):
				if phash == "" {
					return badRequest("password required for new user %s", u.Username)
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO users (id, username, password_hash, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
					u.ID, u.Username, phash, u.Role, now); err != nil {
					if db.IsUniqueViolation(err) {
						return badRequest("username %s already taken", u.Username)
					}
					return fmt.Errorf("insert %s: %w", u.ID, err)
				}
				inserted++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}
