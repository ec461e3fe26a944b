package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sundayezeilo/deeplink/attribution"
	"github.com/sundayezeilo/deeplink/checkstate"
	"github.com/sundayezeilo/deeplink/checkstate/sqlitestore"
	"github.com/sundayezeilo/deeplink/internal/app"
	"github.com/sundayezeilo/deeplink/internal/config"
	"github.com/sundayezeilo/deeplink/link"
	"github.com/sundayezeilo/deeplink/resolver"
)

const (
	defaultInstallID = "local"
	defaultStateDSN  = "deeplink.db"
)

// deps are the pieces of the CLI that touch the outside world.
type deps struct {
	openRepo      func(ctx context.Context, dsn string) (checkstate.Repository, io.Closer, error)
	loadConfig    func() (*config.ClientConfig, error)
	newAttributor func(cfg config.AttributionConfig, logger *slog.Logger) (resolver.Attributor, error)
}

func defaultDeps() deps {
	return deps{
		openRepo: func(ctx context.Context, dsn string) (checkstate.Repository, io.Closer, error) {
			repo, err := sqlitestore.Open(ctx, dsn)
			if err != nil {
				return nil, nil, err
			}
			return repo, repo, nil
		},
		loadConfig: config.LoadClient,
		newAttributor: func(cfg config.AttributionConfig, logger *slog.Logger) (resolver.Attributor, error) {
			return attribution.New(attribution.Config{
				BaseURL:    cfg.BaseURL,
				APIKey:     cfg.APIKey,
				Platform:   cfg.Platform,
				MaxRetries: cfg.MaxRetries,
				Timeout:    cfg.RequestTimeout,
				Logger:     logger,
			})
		},
	}
}

type options struct {
	installID string
	stateDSN  string
}

// stateOutput is the JSON printed by the state command.
type stateOutput struct {
	InstallID    string       `json:"install_id"`
	HasChecked   bool         `json:"has_checked"`
	CachedResult *link.Result `json:"cached_result"`
}

func newRootCommand(d deps, out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "deeplink",
		Short:         "Resolve deferred and direct deep links for an install",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.installID, "install", defaultInstallID, "install ID whose state is used")
	root.PersistentFlags().StringVar(&opts.stateDSN, "state", defaultStateDSN,
		"SQLite file or libSQL URL holding check state")

	root.AddCommand(
		deferredCommand(d, opts, out),
		directCommand(d, opts, out),
		stateCommand(d, opts, out),
		resetCommand(d, opts, out),
	)
	return root
}

func deferredCommand(d deps, opts *options, out io.Writer) *cobra.Command {
	var (
		raw      string
		emulator bool
	)

	cmd := &cobra.Command{
		Use:   "deferred",
		Short: "Run the one-time deferred deep link check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withResolver(cmd.Context(), d, opts, resolver.StaticReferrer(raw), emulator,
				func(ctx context.Context, r *resolver.Resolver) error {
					res, err := r.ResolveDeferred(ctx)
					if err != nil {
						return err
					}
					return writeJSON(out, res)
				})
		},
	}
	cmd.Flags().StringVar(&raw, "referrer", "", "raw install referrer string")
	cmd.Flags().BoolVar(&emulator, "emulator", false, "treat the host as an emulator")
	return cmd
}

func directCommand(d deps, opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "direct URL",
		Short: "Resolve a link the app was opened with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolver(cmd.Context(), d, opts, nil, false,
				func(ctx context.Context, r *resolver.Resolver) error {
					res, err := r.ResolveDirect(ctx, args[0])
					if err != nil {
						return err
					}
					return writeJSON(out, res)
				})
		},
	}
}

func stateCommand(d deps, opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the stored check state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), d, opts, func(ctx context.Context, store checkstate.Store) error {
				st, err := store.Load(ctx)
				if err != nil {
					return err
				}
				return writeJSON(out, stateOutput{
					InstallID:    opts.installID,
					HasChecked:   st.HasCheckedForDeferredDeepLink,
					CachedResult: st.CachedResult,
				})
			})
		},
	}
}

func resetCommand(d deps, opts *options, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the check state so the next deferred check runs again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), d, opts, func(ctx context.Context, store checkstate.Store) error {
				if err := store.Reset(ctx); err != nil {
					return err
				}
				return writeJSON(out, map[string]any{"install_id": opts.installID, "reset": true})
			})
		},
	}
}

func withStore(ctx context.Context, d deps, opts *options, fn func(context.Context, checkstate.Store) error) error {
	repo, closer, err := d.openRepo(ctx, opts.stateDSN)
	if err != nil {
		return fmt.Errorf("open state %q: %w", opts.stateDSN, err)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	return fn(ctx, checkstate.For(repo, opts.installID))
}

func withResolver(
	ctx context.Context,
	d deps,
	opts *options,
	referrers resolver.ReferrerSource,
	emulator bool,
	fn func(context.Context, *resolver.Resolver) error,
) error {
	cfg, err := d.loadConfig()
	if err != nil {
		return err
	}

	logger := app.NewLogger(os.Stderr, cfg.App.LogLevel)

	client, err := d.newAttributor(cfg.Attribution, logger)
	if err != nil {
		return err
	}

	return withStore(ctx, d, opts, func(ctx context.Context, store checkstate.Store) error {
		r, err := resolver.New(resolver.Config{
			Client:          client,
			Store:           store,
			Referrers:       referrers,
			IsEmulator:      func() bool { return emulator },
			AllowEmulator:   cfg.Attribution.AllowEmulator,
			ReferrerTimeout: cfg.Attribution.ReferrerTimeout,
			Logger:          logger.With("install_id", opts.installID),
		})
		if err != nil {
			return err
		}
		return fn(ctx, r)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
