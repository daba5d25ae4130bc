package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/mind-engage/mindengage-quiz/internal/api/http"
	"github.com/mind-engage/mindengage-quiz/internal/auth"
	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/db"
	"github.com/mind-engage/mindengage-quiz/internal/favorite"
	"github.com/mind-engage/mindengage-quiz/internal/question"
	"github.com/mind-engage/mindengage-quiz/internal/session"
	syncx "github.com/mind-engage/mindengage-quiz/internal/sync"
	"github.com/mind-engage/mindengage-quiz/internal/wrongbook"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// --- DB ---
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		logger.Error("bad DB_DRIVER", "err", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbh, err := db.Open(ctx, driver, cfg.DBDSN)
	cancel()
	if err != nil {
		logger.Error("db open failed", "err", err)
		os.Exit(1)
	}
	defer dbh.Close()

	questions := question.NewSQLStore(dbh)
	wrong := wrongbook.NewSQLStore(dbh)
	favs := favorite.NewSQLStore(dbh)
	events := syncx.NewEventRepo(dbh, cfg.SiteID)
	engine := session.NewEngine(dbh, driver, questions, wrong, favs,
		session.WithLogger(logger.With("component", "session")),
		session.WithEvents(events),
	)

	// --- Auth (local JWT) ---
	authSvc := authmw.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.EnableLocalAuth {
		r.Post("/auth/login", authmw.LoginHandler(authSvc, dbh, authmw.Admin{
			Username:     cfg.AdminUser,
			PasswordHash: cfg.AdminPassHash,
		}))
	}
	if cfg.EnableGuestAuth {
		r.Post("/auth/guest", auth.GuestLoginHandler(authSvc, dbh, cfg.Mode == config.ModeOnline))
	}

	api.MountProtected(r, api.Deps{
		DB:             dbh,
		Auth:           authSvc,
		Sessions:       engine,
		Questions:      questions,
		Favorites:      favs,
		Wrong:          wrong,
		Events:         events,
		AllowClaimRole: cfg.Mode == config.ModeOffline,
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", api.ReadyHandler(dbh))

	// --- Server ---
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("forced shutdown", "err", err)
		}
	}()

	logger.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
