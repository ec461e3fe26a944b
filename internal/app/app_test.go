package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.opentelemetry.io/otel"

	"github.com/sundayezeilo/deeplink/checkstate"
	"github.com/sundayezeilo/deeplink/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSetupTracing(t *testing.T) {
	t.Run("disabled installs propagator only", func(t *testing.T) {
		tp := setupTracing(config.ObservabilityConfig{Enabled: false}, discardLogger())
		if tp != nil {
			t.Error("expected no tracer provider when disabled")
		}
		fields := otel.GetTextMapPropagator().Fields()
		if !contains(fields, "traceparent") {
			t.Errorf("propagator fields = %v, want traceparent", fields)
		}
	})

	t.Run("enabled returns provider", func(t *testing.T) {
		tp := setupTracing(config.ObservabilityConfig{
			Enabled:           true,
			ServiceName:       "deeplink-test",
			ServiceVersion:    "test",
			TracingSampleRate: 0.5,
		}, discardLogger())
		if tp == nil {
			t.Fatal("expected tracer provider")
		}
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() = %v", err)
		}
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	roundTrip := func(t *testing.T, repo checkstate.Repository) {
		t.Helper()
		if err := repo.Put(ctx, "i", checkstate.State{HasCheckedForDeferredDeepLink: true}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		st, err := repo.Get(ctx, "i")
		if err != nil || !st.HasCheckedForDeferredDeepLink {
			t.Fatalf("Get() = %+v, %v", st, err)
		}
	}

	t.Run("memory", func(t *testing.T) {
		a := &App{Config: &config.Config{State: config.StateConfig{Backend: config.BackendMemory}}, Logger: discardLogger()}
		repo, err := a.openRepository(ctx)
		if err != nil {
			t.Fatalf("openRepository: %v", err)
		}
		roundTrip(t, repo)
	})

	t.Run("sqlite", func(t *testing.T) {
		a := &App{Config: &config.Config{State: config.StateConfig{
			Backend:   config.BackendSQLite,
			SQLiteDSN: filepath.Join(t.TempDir(), "state.db"),
		}}, Logger: discardLogger()}

		repo, err := a.openRepository(ctx)
		if err != nil {
			t.Fatalf("openRepository: %v", err)
		}
		if a.SQLite == nil {
			t.Fatal("expected SQLite handle to be kept for shutdown")
		}
		roundTrip(t, repo)
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() = %v", err)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		a := &App{Config: &config.Config{State: config.StateConfig{
			Backend:      config.BackendRedis,
			RedisAddress: mr.Addr(),
			KeyPrefix:    "test:",
		}}, Logger: discardLogger()}

		repo, err := a.openRepository(ctx)
		if err != nil {
			t.Fatalf("openRepository: %v", err)
		}
		roundTrip(t, repo)
		if !mr.Exists("test:i") {
			t.Error("expected state under the configured prefix")
		}
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() = %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		a := &App{Config: &config.Config{State: config.StateConfig{Backend: "etcd"}}, Logger: discardLogger()}
		if _, err := a.openRepository(ctx); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}
