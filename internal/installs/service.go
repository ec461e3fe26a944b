// Package installs runs the resolver on behalf of devices, keyed by install
// ID, and exposes it over HTTP.
package installs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sundayezeilo/deeplink/checkstate"
	"github.com/sundayezeilo/deeplink/errx"
	"github.com/sundayezeilo/deeplink/link"
	"github.com/sundayezeilo/deeplink/resolver"
)

const MaxInstallIDLength = 128

// DeferredRequest carries what the device knows at first launch.
type DeferredRequest struct {
	Referrer   string
	IsEmulator bool
}

// Service defines the resolution operations available per install.
type Service interface {
	Deferred(ctx context.Context, installID string, req DeferredRequest) (link.Result, error)
	Direct(ctx context.Context, installID, rawURL string) (link.Result, error)
	State(ctx context.Context, installID string) (checkstate.State, error)
	Link(ctx context.Context, installID string) (link.Result, error)
	Reset(ctx context.Context, installID string) error
}

// ServiceConfig holds the dependencies shared by every install.
type ServiceConfig struct {
	Repo            checkstate.Repository
	Client          resolver.Attributor
	AllowEmulator   bool
	ReferrerTimeout time.Duration
	Recorder        resolver.Recorder
	Logger          *slog.Logger
}

type service struct {
	repo            checkstate.Repository
	client          resolver.Attributor
	locks           *Locks
	allowEmulator   bool
	referrerTimeout time.Duration
	recorder        resolver.Recorder
	logger          *slog.Logger
}

// NewService creates a Service. Repo and Client are required.
func NewService(cfg ServiceConfig) (Service, error) {
	const op = "installs.NewService"

	if cfg.Repo == nil {
		return nil, errx.New(op, errx.NotConfigured, "check state repository is required")
	}
	if cfg.Client == nil {
		return nil, errx.New(op, errx.NotConfigured, "attribution client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		repo:            cfg.Repo,
		client:          cfg.Client,
		locks:           NewLocks(),
		allowEmulator:   cfg.AllowEmulator,
		referrerTimeout: cfg.ReferrerTimeout,
		recorder:        cfg.Recorder,
		logger:          logger,
	}, nil
}

// resolverFor builds a resolver bound to one install. All resolvers for the
// same install share its lock, so concurrent requests run one at a time.
func (s *service) resolverFor(installID string, referrer resolver.ReferrerSource, isEmulator bool) (*resolver.Resolver, error) {
	return resolver.New(resolver.Config{
		Client:          s.client,
		Store:           checkstate.For(s.repo, installID),
		Referrers:       referrer,
		IsEmulator:      func() bool { return isEmulator },
		AllowEmulator:   s.allowEmulator,
		ReferrerTimeout: s.referrerTimeout,
		Locker:          s.locks.For(installID),
		Recorder:        s.recorder,
		Logger:          s.logger.With("install_id", installID),
	})
}

func (s *service) Deferred(ctx context.Context, installID string, req DeferredRequest) (link.Result, error) {
	const op = "installs.service.Deferred"

	if err := ValidateInstallID(installID); err != nil {
		return link.Result{}, errx.E(op, errx.Invalid, err)
	}

	r, err := s.resolverFor(installID, resolver.StaticReferrer(req.Referrer), req.IsEmulator)
	if err != nil {
		return link.Result{}, err
	}
	return r.ResolveDeferred(ctx)
}

func (s *service) Direct(ctx context.Context, installID, rawURL string) (link.Result, error) {
	const op = "installs.service.Direct"

	if err := ValidateInstallID(installID); err != nil {
		return link.Result{}, errx.E(op, errx.Invalid, err)
	}

	r, err := s.resolverFor(installID, nil, false)
	if err != nil {
		return link.Result{}, err
	}
	return r.ResolveDirect(ctx, rawURL)
}

func (s *service) State(ctx context.Context, installID string) (checkstate.State, error) {
	const op = "installs.service.State"

	if err := ValidateInstallID(installID); err != nil {
		return checkstate.State{}, errx.E(op, errx.Invalid, err)
	}

	r, err := s.resolverFor(installID, nil, false)
	if err != nil {
		return checkstate.State{}, err
	}
	return r.State(ctx)
}

// Link returns the cached matched result, or an errx.NoMatch error when the
// install has none.
func (s *service) Link(ctx context.Context, installID string) (link.Result, error) {
	const op = "installs.service.Link"

	st, err := s.State(ctx, installID)
	if err != nil {
		return link.Result{}, err
	}
	if st.CachedResult == nil {
		return link.Result{}, errx.New(op, errx.NoMatch, "no link has been matched for this install")
	}
	return *st.CachedResult, nil
}

func (s *service) Reset(ctx context.Context, installID string) error {
	const op = "installs.service.Reset"

	if err := ValidateInstallID(installID); err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	r, err := s.resolverFor(installID, nil, false)
	if err != nil {
		return err
	}
	return r.Reset(ctx)
}

// ValidateInstallID accepts 1 to 128 characters from [A-Za-z0-9._-].
func ValidateInstallID(id string) error {
	if id == "" {
		return errors.New("install id is required")
	}
	if len(id) > MaxInstallIDLength {
		return errors.New("install id is too long")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return errors.New("install id may only contain letters, digits, '.', '_' and '-'")
		}
	}
	return nil
}
