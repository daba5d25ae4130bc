package http

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/favorite"
	"github.com/mind-engage/mindengage-quiz/internal/question"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
	"github.com/mind-engage/mindengage-quiz/internal/session"
	syncx "github.com/mind-engage/mindengage-quiz/internal/sync"
	"github.com/mind-engage/mindengage-quiz/internal/wrongbook"
)

type Deps struct {
	DB        *sql.DB
	Auth      *authmw.AuthService
	Sessions  *session.Engine
	Questions *question.SQLStore
	Favorites *favorite.SQLStore
	Wrong     *wrongbook.SQLStore
	Events    *syncx.EventRepo

	// AllowClaimRole lets tokens for subjects without a user row keep their
	// claimed role (offline/dev).
	AllowClaimRole bool
}

// MountProtected registers every route that needs a bearer token.
func MountProtected(r chi.Router, d Deps) {
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth))
		pr.Use(authmw.AttachRoleFromDB(d.DB, d.AllowClaimRole))

		pr.Get("/auth/me", MeHandler())

		pr.Route("/sessions", func(sr chi.Router) {
			sr.Use(rbac.Require("session:play"))
			sr.Post("/start", StartSessionHandler(d.Sessions))
			sr.Get("/ongoing", OngoingSessionsHandler(d.Sessions))
			sr.Post("/reset", ResetSessionHandler(d.Sessions))
			sr.Get("/", ListSessionsHandler(d.Sessions))
			sr.Get("/recent", RecentSessionsHandler(d.Sessions))
			sr.Get("/{token}", GetSessionHandler(d.Sessions))
			sr.Get("/{token}/detail", SessionDetailHandler(d.Sessions))
			sr.Post("/{token}/answer", SubmitAnswerHandler(d.Sessions))
			sr.Post("/{token}/submit", SubmitExamHandler(d.Sessions))
			sr.Put("/{token}/complete", CompleteSessionHandler(d.Sessions))
			sr.Delete("/{token}", DeleteSessionHandler(d.Sessions))
		})

		pr.With(rbac.Require("bank:view")).Get("/banks", ListBanksHandler(d.Questions))
		pr.With(rbac.Require("bank:create")).Post("/banks", UploadBankHandler(d.Questions))
		pr.With(rbac.Require("bank:view")).Get("/banks/{bankID}/questions", BankQuestionsHandler(d.Questions))
		pr.With(rbac.Require("bank:edit")).Post("/banks/{bankID}/questions", AddQuestionHandler(d.Questions))
		pr.With(rbac.Require("bank:edit")).Put("/questions/{questionID}/enabled", SetQuestionEnabledHandler(d.Questions))

		pr.Route("/favorites", func(fr chi.Router) {
			fr.Use(rbac.Require("favorite:manage"))
			fr.Post("/", AddFavoriteHandler(d.Favorites))
			fr.Get("/", ListFavoritesHandler(d.Favorites))
			fr.Get("/{questionID}", FavoriteStatusHandler(d.Favorites))
			fr.Delete("/{questionID}", RemoveFavoriteHandler(d.Favorites))
			fr.Put("/{questionID}/notes", UpdateFavoriteNotesHandler(d.Favorites))
		})

		pr.Route("/wrong-questions", func(wr chi.Router) {
			wr.Use(rbac.Require("wrong:manage"))
			wr.Get("/", ListWrongQuestionsHandler(d.Wrong))
			wr.Get("/count", CountWrongQuestionsHandler(d.Wrong))
			wr.Put("/batch-status", BatchWrongMasteredHandler(d.Wrong))
			wr.Put("/{questionID}/mastered", SetWrongMasteredHandler(d.Wrong))
			wr.Delete("/{questionID}", RemoveWrongQuestionHandler(d.Wrong))
		})

		pr.With(rbac.Require("events:view")).Get("/events", ListEventsHandler(d.Events))

		pr.With(rbac.Require("users:bulk_upsert")).Post("/users/bulk", BulkUpsertUsersHandler(d.DB))
		pr.With(rbac.Require("users:list")).Get("/users", ListUsersHandler(d.DB))
		pr.With(rbac.Require("user:change_password")).Post("/users/change-password", ChangePasswordHandler(d.DB))
	})
}

// GET /auth/me
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := userID(w, r)
		if !ok {
			return
		}
		role := rbac.RoleFromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":     uid,
			"role":        role,
			"permissions": rbac.Default().Permissions(role),
		})
	}
}

// ReadyHandler reports ready once the database answers a ping.
func ReadyHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbh.PingContext(ctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
