package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so stores can run
// inside or outside a caller-owned transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx starts a transaction, runs fn, and commits if fn returns nil.
// If fn returns an error (or panics) the transaction is rolled back.
//
//	err := db.WithTx(ctx, dbh, nil, func(tx *sql.Tx) error {
//	    // use tx.ExecContext / tx.QueryContext ...
//	    return nil
//	})
func WithTx(ctx context.Context, d *sql.DB, opts *sql.TxOptions, fn func(*sql.Tx) error) (err error) {
	if d == nil {
		return errors.New("db: nil handle")
	}
	tx, err := d.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("db: commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}

// WithSavepoint runs fn inside a named savepoint of tx. When fn fails only
// the work done since the savepoint is undone; the outer transaction stays
// usable and fn's error is returned for the caller to report.
func WithSavepoint(ctx context.Context, tx *sql.Tx, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("db: savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("db: rollback to %s: %w", name, rbErr))
		}
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("db: release %s: %w", name, err)
	}
	return nil
}

// ForUpdate returns the row-lock suffix for driver, optionally restricted to
// the given table aliases. SQLite has no row locks; its single-connection
// pool already serialises writers.
func ForUpdate(driver Driver, of ...string) string {
	if driver != DriverPostgres {
		return ""
	}
	if len(of) == 0 {
		return " FOR UPDATE"
	}
	return " FOR UPDATE OF " + strings.Join(of, ", ")
}

// Placeholders renders "$start,$start+1,..." for n args.
func Placeholders(start, n int) string {
	buf := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '$')
		buf = fmt.Appendf(buf, "%d", start+i)
	}
	return string(buf)
}
