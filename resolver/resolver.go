// Package resolver decides, once per install, whether the app was installed
// through a deep link and which link that was.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sundayezeilo/deeplink/checkstate"
	"github.com/sundayezeilo/deeplink/errx"
	"github.com/sundayezeilo/deeplink/link"
	"github.com/sundayezeilo/deeplink/referrer"
)

const DefaultReferrerTimeout = 5 * time.Second

// Attributor matches a URL to a link. *attribution.Client implements it.
type Attributor interface {
	Attribute(ctx context.Context, rawURL string, isDeferred bool) (link.Result, error)
}

// ReferrerSource returns the raw install referrer, or "" when there is none.
// It may fail with errx.InstallReferrerUnavailable or
// errx.InstallReferrerTimeout and must honor ctx.
type ReferrerSource interface {
	Referrer(ctx context.Context) (string, error)
}

// ReferrerFunc adapts a function to ReferrerSource.
type ReferrerFunc func(ctx context.Context) (string, error)

func (f ReferrerFunc) Referrer(ctx context.Context) (string, error) { return f(ctx) }

// StaticReferrer returns a source that always yields raw.
func StaticReferrer(raw string) ReferrerSource {
	return ReferrerFunc(func(context.Context) (string, error) { return raw, nil })
}

// Mode names the kind of resolution for metrics and logs.
type Mode string

const (
	ModeDeferred Mode = "deferred"
	ModeDirect   Mode = "direct"
)

// Outcome names how a resolution ended.
type Outcome string

const (
	OutcomeCached     Outcome = "cached"
	OutcomeMatched    Outcome = "matched"
	OutcomeNotMatched Outcome = "not_matched"
	OutcomeNoReferrer Outcome = "no_referrer"
	OutcomeEmulator   Outcome = "emulator"
	OutcomeError      Outcome = "error"
)

// Recorder receives one call per finished resolution.
type Recorder interface {
	Resolution(mode Mode, outcome Outcome)
}

type Config struct {
	Client    Attributor
	Store     checkstate.Store
	Referrers ReferrerSource

	// IsEmulator reports whether the host is an emulator. Nil means never.
	IsEmulator    func() bool
	AllowEmulator bool

	// ReferrerTimeout bounds the referrer fetch. When it expires the install
	// is treated as having no referrer.
	ReferrerTimeout time.Duration

	// Locker serializes every resolution. Share one Locker between resolvers
	// that share a Store. Defaults to a private sync.Mutex.
	Locker sync.Locker

	Recorder Recorder
	Logger   *slog.Logger
}

// Resolver is safe for concurrent use. A nil *Resolver fails every call with
// errx.NotConfigured.
type Resolver struct {
	client          Attributor
	store           checkstate.Store
	referrers       ReferrerSource
	isEmulator      func() bool
	allowEmulator   bool
	referrerTimeout time.Duration
	mu              sync.Locker
	recorder        Recorder
	logger          *slog.Logger
}

func New(cfg Config) (*Resolver, error) {
	const op = "resolver.New"

	if cfg.Client == nil {
		return nil, errx.New(op, errx.NotConfigured, "attribution client is required")
	}
	if cfg.Store == nil {
		return nil, errx.New(op, errx.NotConfigured, "check state store is required")
	}

	isEmulator := cfg.IsEmulator
	if isEmulator == nil {
		isEmulator = func() bool { return false }
	}

	timeout := cfg.ReferrerTimeout
	if timeout <= 0 {
		timeout = DefaultReferrerTimeout
	}

	mu := cfg.Locker
	if mu == nil {
		mu = &sync.Mutex{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		client:          cfg.Client,
		store:           cfg.Store,
		referrers:       cfg.Referrers,
		isEmulator:      isEmulator,
		allowEmulator:   cfg.AllowEmulator,
		referrerTimeout: timeout,
		mu:              mu,
		recorder:        cfg.Recorder,
		logger:          logger,
	}, nil
}

// ResolveDeferred performs the one-shot deferred deep link check. Once the
// check has been consumed, later calls return the cached result (or a
// negative one) without touching the network until Reset.
func (r *Resolver) ResolveDeferred(ctx context.Context) (link.Result, error) {
	const op = "resolver.Resolver.ResolveDeferred"

	if r == nil {
		return link.Result{}, errx.New(op, errx.NotConfigured, "resolver is not configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, outcome, err := r.resolveDeferred(ctx)
	r.finish(ctx, ModeDeferred, outcome, res, err)
	return res, err
}

func (r *Resolver) resolveDeferred(ctx context.Context) (link.Result, Outcome, error) {
	const op = "resolver.Resolver.ResolveDeferred"

	st, err := r.store.Load(ctx)
	if err != nil {
		return link.Result{}, OutcomeError, err
	}

	if st.HasCheckedForDeferredDeepLink {
		if st.CachedResult != nil {
			return *st.CachedResult, OutcomeCached, nil
		}
		return link.NotMatched(true), OutcomeCached, nil
	}

	st.HasCheckedForDeferredDeepLink = true

	if r.isEmulator() && !r.allowEmulator {
		if err := r.store.Save(ctx, st); err != nil {
			return link.Result{}, OutcomeError, err
		}
		return link.Result{}, OutcomeEmulator,
			errx.New(op, errx.Emulator, "deferred deep links are disabled on emulators")
	}

	raw, err := r.fetchReferrer(ctx)
	if err != nil {
		return link.Result{}, OutcomeError, err
	}

	target, ok := referrer.Parse(raw)
	if !ok {
		if err := r.store.Save(ctx, st); err != nil {
			return link.Result{}, OutcomeError, err
		}
		return link.NotMatched(true), OutcomeNoReferrer, nil
	}

	res, err := r.client.Attribute(ctx, target, true)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return link.Result{}, OutcomeError, ctxErr
		}
		if saveErr := r.store.Save(ctx, st); saveErr != nil {
			r.logger.ErrorContext(ctx, "failed to persist consumed check", "error", saveErr)
		}
		return link.Result{}, OutcomeError, err
	}

	if res.Matched {
		st.CachedResult = &res
	}
	if err := r.store.Save(ctx, st); err != nil {
		return link.Result{}, OutcomeError, err
	}

	if res.Matched {
		return res, OutcomeMatched, nil
	}
	return res, OutcomeNotMatched, nil
}

// fetchReferrer asks the source for the raw referrer under the resolver's
// timeout. Expiry of that timeout yields "" rather than an error; caller
// cancellation yields the caller's context error.
func (r *Resolver) fetchReferrer(ctx context.Context) (string, error) {
	const op = "resolver.Resolver.fetchReferrer"

	if r.referrers == nil {
		return "", errx.New(op, errx.InstallReferrerUnavailable, "no install referrer source configured")
	}

	rctx, cancel := context.WithTimeout(ctx, r.referrerTimeout)
	defer cancel()

	raw, err := r.referrers.Referrer(rctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			r.logger.WarnContext(ctx, "install referrer timed out, treating as absent",
				"timeout", r.referrerTimeout)
			return "", nil
		}
		return "", err
	}
	return raw, nil
}

// ResolveDirect resolves a link the app was opened with. It always consumes
// the deferred check first, so a direct open suppresses any later deferred
// resolution for this install.
func (r *Resolver) ResolveDirect(ctx context.Context, rawURL string) (link.Result, error) {
	const op = "resolver.Resolver.ResolveDirect"

	if r == nil {
		return link.Result{}, errx.New(op, errx.NotConfigured, "resolver is not configured")
	}

	if err := validateIntent(rawURL); err != nil {
		err = errx.E(op, errx.InvalidIntent, err)
		r.finish(ctx, ModeDirect, OutcomeError, link.Result{}, err)
		return link.Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, outcome, err := r.resolveDirect(ctx, rawURL)
	r.finish(ctx, ModeDirect, outcome, res, err)
	return res, err
}

func (r *Resolver) resolveDirect(ctx context.Context, rawURL string) (link.Result, Outcome, error) {
	st, err := r.store.Load(ctx)
	if err != nil {
		return link.Result{}, OutcomeError, err
	}

	st.HasCheckedForDeferredDeepLink = true
	if err := r.store.Save(ctx, st); err != nil {
		return link.Result{}, OutcomeError, err
	}

	res, err := r.client.Attribute(ctx, rawURL, false)
	if err != nil {
		return link.Result{}, OutcomeError, err
	}
	if !res.Matched {
		return res, OutcomeNotMatched, nil
	}

	st.CachedResult = &res
	if err := r.store.Save(ctx, st); err != nil {
		return link.Result{}, OutcomeError, err
	}
	return res, OutcomeMatched, nil
}

func validateIntent(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("link is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("link must be an http or https URL")
	}
	if u.Host == "" {
		return errors.New("link has no host")
	}
	return nil
}

// Reset clears the check state so the next ResolveDeferred checks again.
func (r *Resolver) Reset(ctx context.Context) error {
	const op = "resolver.Resolver.Reset"

	if r == nil {
		return errx.New(op, errx.NotConfigured, "resolver is not configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Reset(ctx); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "check state reset")
	return nil
}

// State returns the persisted check state.
func (r *Resolver) State(ctx context.Context) (checkstate.State, error) {
	const op = "resolver.Resolver.State"

	if r == nil {
		return checkstate.State{}, errx.New(op, errx.NotConfigured, "resolver is not configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.Load(ctx)
}

func (r *Resolver) finish(ctx context.Context, mode Mode, outcome Outcome, res link.Result, err error) {
	if r.recorder != nil {
		r.recorder.Resolution(mode, outcome)
	}

	if err != nil {
		r.logger.WarnContext(ctx, "resolution failed",
			"mode", mode,
			"outcome", outcome,
			"error_kind", errx.KindOf(err),
			"error", err,
		)
		return
	}

	attrs := []any{"mode", mode, "outcome", outcome, "matched", res.Matched}
	if res.Link != nil {
		attrs = append(attrs, "link_id", res.Link.ID)
	}
	r.logger.InfoContext(ctx, "resolution finished", attrs...)
}
