// Package checkstate persists whether an install has already performed its
// deferred deep link check, along with the last matched result.
package checkstate

import (
	"context"
	"encoding/json"

	"github.com/sundayezeilo/deeplink/errx"
	"github.com/sundayezeilo/deeplink/link"
)

// State is the persisted check state of a single install.
type State struct {
	HasCheckedForDeferredDeepLink bool         `json:"has_checked_for_deferred_deep_link"`
	CachedResult                  *link.Result `json:"cached_result,omitempty"`
}

// Store loads and saves the State of one install. Reset clears both fields
// in one operation.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	Reset(ctx context.Context) error
}

// Repository persists states keyed by install ID. Get returns the zero
// State for an install it has never seen.
type Repository interface {
	Get(ctx context.Context, installID string) (State, error)
	Put(ctx context.Context, installID string, s State) error
	Delete(ctx context.Context, installID string) error
}

// For binds repo to a single install.
func For(repo Repository, installID string) Store {
	return boundStore{repo: repo, installID: installID}
}

type boundStore struct {
	repo      Repository
	installID string
}

func (b boundStore) Load(ctx context.Context) (State, error) {
	return b.repo.Get(ctx, b.installID)
}

func (b boundStore) Save(ctx context.Context, s State) error {
	return b.repo.Put(ctx, b.installID, s)
}

func (b boundStore) Reset(ctx context.Context) error {
	return b.repo.Delete(ctx, b.installID)
}

// EncodeResult returns the JSON form of r, or nil when r is nil.
func EncodeResult(r *link.Result) ([]byte, error) {
	const op = "checkstate.EncodeResult"

	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, errx.E(op, errx.Invalid, err)
	}
	return b, nil
}

// DecodeResult parses a result stored by EncodeResult. Empty input yields nil.
func DecodeResult(b []byte) (*link.Result, error) {
	const op = "checkstate.DecodeResult"

	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var r link.Result
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	return &r, nil
}
