package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/favorite"
	"github.com/mind-engage/mindengage-quiz/internal/question"
	"github.com/mind-engage/mindengage-quiz/internal/session"
	"github.com/mind-engage/mindengage-quiz/internal/wrongbook"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unrecognised is a
// 500 and is logged with the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, question.ErrNotFound),
		errors.Is(err, favorite.ErrNotFound),
		errors.Is(err, wrongbook.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, favorite.ErrAlreadyFavorited):
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", session.ErrValidation, fmt.Sprintf(format, args...))
}

// decode reads a JSON body into dst and validates its struct tags.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("bad json")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return badRequest("%s failed %s", fe.Namespace(), fe.Tag())
		}
		return badRequest("%v", err)
	}
	return nil
}

// userID returns the authenticated subject or writes a 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sub := authmw.SubjectFromContext(r.Context())
	if sub == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return sub, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", key)
	}
	return n, nil
}

func pathInt64(r *http.Request, key string) (int64, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || n <= 0 {
		return 0, badRequest("invalid %s", key)
	}
	return n, nil
}

// queryBool parses an optional boolean filter; absent means nil.
func queryBool(r *http.Request, key string) (*bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, badRequest("%s must be true or false", key)
	}
	return &b, nil
}
