// Package dbtest opens throwaway in-memory SQLite databases with the full
// schema applied.
package dbtest

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

// Open returns a private in-memory database that is closed when t ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	h, err := db.Open(context.Background(), db.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}
