// Package sqlitestore keeps install check states in a local SQLite file or a
// remote libSQL (Turso) database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/sundayezeilo/deeplink/checkstate"
	"github.com/sundayezeilo/deeplink/errx"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS install_check_states (
	install_id    TEXT PRIMARY KEY,
	has_checked   INTEGER NOT NULL DEFAULT 0,
	cached_result TEXT,
	updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const (
	getStateSQL = `SELECT has_checked, cached_result FROM install_check_states WHERE install_id = ?`

	putStateSQL = `INSERT INTO install_check_states (install_id, has_checked, cached_result, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(install_id) DO UPDATE SET
	has_checked = excluded.has_checked,
	cached_result = excluded.cached_result,
	updated_at = CURRENT_TIMESTAMP`

	deleteStateSQL = `DELETE FROM install_check_states WHERE install_id = ?`
)

// Repo is a checkstate.Repository over database/sql.
type Repo struct {
	db *sql.DB
}

var _ checkstate.Repository = (*Repo)(nil)

// DriverFor picks the libsql driver for remote URLs and modernc sqlite for
// everything else.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") ||
		strings.HasPrefix(dsn, "https://") || strings.HasPrefix(dsn, "http://") {
		return "libsql"
	}
	return "sqlite"
}

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	const op = "sqlitestore.Open"

	if dsn == "" {
		return nil, errx.New(op, errx.NotConfigured, "sqlite dsn is required")
	}

	driver := DriverFor(dsn)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	if driver == "sqlite" {
		// A single writer avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errx.E(op, errx.Unavailable, err)
	}

	r := New(db)
	if err := r.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an existing handle. The schema is not created; see EnsureSchema.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	const op = "sqlitestore.Repo.EnsureSchema"

	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return errx.E(op, errx.Unavailable, fmt.Errorf("create schema: %w", err))
	}
	return nil
}

func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) Get(ctx context.Context, installID string) (checkstate.State, error) {
	const op = "sqlitestore.Repo.Get"

	var (
		checked bool
		raw     sql.NullString
	)
	err := r.db.QueryRowContext(ctx, getStateSQL, installID).Scan(&checked, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return checkstate.State{}, nil
	}
	if err != nil {
		return checkstate.State{}, errx.E(op, errx.Unavailable, err)
	}

	var cached []byte
	if raw.Valid {
		cached = []byte(raw.String)
	}
	result, err := checkstate.DecodeResult(cached)
	if err != nil {
		return checkstate.State{}, errx.E(op, errx.Unavailable, err)
	}

	return checkstate.State{
		HasCheckedForDeferredDeepLink: checked,
		CachedResult:                  result,
	}, nil
}

func (r *Repo) Put(ctx context.Context, installID string, s checkstate.State) error {
	const op = "sqlitestore.Repo.Put"

	raw, err := checkstate.EncodeResult(s.CachedResult)
	if err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	cached := sql.NullString{String: string(raw), Valid: raw != nil}
	if _, err := r.db.ExecContext(ctx, putStateSQL, installID, s.HasCheckedForDeferredDeepLink, cached); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, installID string) error {
	const op = "sqlitestore.Repo.Delete"

	if _, err := r.db.ExecContext(ctx, deleteStateSQL, installID); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}
