package auth

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

type AuthService struct {
	hmac   []byte
	issuer string
	ttl    time.Duration
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{hmac: []byte(secret), issuer: "mindengage-quiz", ttl: 8 * time.Hour}
}

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"` // student|teacher|admin
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub:  sub,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.issuer))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" {
		return nil, errors.New("invalid token claims")
	}
	return c, nil
}

// Admin is the bootstrap account configured through the environment. It
// can log in before any user rows exist.
type Admin struct {
	Username     string
	PasswordHash string // bcrypt
}

var validate = validator.New()

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /auth/login  { "username": "...", "password": "..." }
func LoginHandler(a *AuthService, db *sql.DB, admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "username and password required", http.StatusBadRequest)
			return
		}

		sub, role, err := authenticate(r, db, admin, req)
		if err != nil {
			slog.WarnContext(r.Context(), "login rejected", "username", req.Username, "err", err)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		tok, err := a.IssueJWT(sub, role)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok, "user_id": sub, "role": role})
	}
}

func authenticate(r *http.Request, db *sql.DB, admin Admin, req loginReq) (sub, role string, err error) {
	var hash string
	err = db.QueryRowContext(r.Context(),
		`SELECT id, role, password_hash FROM users WHERE username=$1`, req.Username,
	).Scan(&sub, &role, &hash)
	switch {
	case err == nil:
		if hash == "" {
			return "", "", errors.New("no password set")
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
			return "", "", errors.New("password mismatch")
		}
		return sub, role, nil
	case errors.Is(err, sql.ErrNoRows):
		if admin.Username != "" && req.Username == admin.Username && admin.PasswordHash != "" &&
			bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)) == nil {
			return admin.Username, "admin", nil
		}
		return "", "", errors.New("unknown user")
	default:
		return "", "", fmt.Errorf("lookup user: %w", err)
	}
}

// JWTMiddleware validates the bearer token and puts subject and role in the
// request context.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := WithSubject(r.Context(), c.Sub)
			ctx = rbac.WithRole(ctx, c.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
