// Package pgstore keeps install check states in PostgreSQL.
package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/deeplink/checkstate"
	"github.com/sundayezeilo/deeplink/errx"
)

const (
	getStateSQL = `
SELECT has_checked, cached_result
FROM install_check_states
WHERE install_id = $1`

	putStateSQL = `
INSERT INTO install_check_states (install_id, has_checked, cached_result)
VALUES ($1, $2, $3)
ON CONFLICT (install_id) DO UPDATE
SET has_checked = EXCLUDED.has_checked,
    cached_result = EXCLUDED.cached_result,
    updated_at = now()`

	deleteStateSQL = `DELETE FROM install_check_states WHERE install_id = $1`
)

// querier is the subset of *pgxpool.Pool the repository needs.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type repo struct {
	q querier
}

// New returns a checkstate.Repository backed by q, typically a *pgxpool.Pool.
func New(q querier) checkstate.Repository {
	return &repo{q: q}
}

func (r *repo) Get(ctx context.Context, installID string) (checkstate.State, error) {
	const op = "pgstore.repo.Get"

	var (
		checked bool
		raw     []byte
	)
	err := r.q.QueryRow(ctx, getStateSQL, installID).Scan(&checked, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkstate.State{}, nil
	}
	if err != nil {
		return checkstate.State{}, errx.E(op, errx.Unavailable, err)
	}

	cached, err := checkstate.DecodeResult(raw)
	if err != nil {
		return checkstate.State{}, errx.E(op, errx.Unavailable, err)
	}

	return checkstate.State{
		HasCheckedForDeferredDeepLink: checked,
		CachedResult:                  cached,
	}, nil
}

func (r *repo) Put(ctx context.Context, installID string, s checkstate.State) error {
	const op = "pgstore.repo.Put"

	raw, err := checkstate.EncodeResult(s.CachedResult)
	if err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	if _, err := r.q.Exec(ctx, putStateSQL, installID, s.HasCheckedForDeferredDeepLink, raw); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, installID string) error {
	const op = "pgstore.repo.Delete"

	if _, err := r.q.Exec(ctx, deleteStateSQL, installID); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}
