package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string
	SiteID   string // stamped on event_log rows

	DBDriver string
	DBDSN    string

	AuthHMACSecret  string
	EnableLocalAuth bool
	EnableGuestAuth bool

	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

// Load reads a .env file when present and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)
	return FromEnv()
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:               mode,
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		SiteID:             envOr("SITE_ID", "local"),
		DBDriver:           envOr("DB_DRIVER", "sqlite"),
		DBDSN:              envOr("DB_DSN", ""),
		AuthHMACSecret:     envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		EnableLocalAuth:    envBool("ENABLE_LOCAL_AUTH", true),
		EnableGuestAuth:    envBool("ENABLE_GUEST_AUTH", mode == ModeOffline),
		AdminUser:          envOr("ADMIN_USER", "admin"),
		AdminPassHash:      envOr("ADMIN_PASS_HASH", ""),
		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://quiz.mindengage.ai"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:5173"),
		RequestTimeout:     envDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:           envLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// CORSOrigins returns the allow-list for the configured mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envLevel(k string, def slog.Level) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(os.Getenv(k))); err != nil {
		return def
	}
	return l
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
