package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sundayezeilo/deeplink/attribution"
	"github.com/sundayezeilo/deeplink/checkstate/pgstore"
	"github.com/sundayezeilo/deeplink/internal/config"
	"github.com/sundayezeilo/deeplink/internal/installs"
	"github.com/sundayezeilo/deeplink/internal/metrics"
	"github.com/sundayezeilo/deeplink/internal/server"
	"github.com/sundayezeilo/deeplink/link"
)

// testApp holds the application components for e2e testing
type testApp struct {
	url          string
	dbPool       *pgxpool.Pool
	attributions *atomic.Int32
}

// fakeAttribution answers like the attribution service: links whose path
// starts with /known match, everything else does not.
func fakeAttribution(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.URL.Path != "/links/attribute" || r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			URL        string `json:"url"`
			IsDeferred bool   `json:"is_deferred"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if !strings.Contains(req.URL, "/known") {
			_, _ = io.WriteString(w, `{"matched":false}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"matched":     true,
			"confidence":  "high",
			"match_score": 97,
			"link":        map[string]any{"id": "lnk_1", "deep_link_value": "product/42"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupTestApp creates a test application with a real database
func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := pgstore.Migrate(connStr, pgstore.Up); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	dbPool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(dbPool.Close)

	if err := dbPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calls := &atomic.Int32{}
	upstream := fakeAttribution(t, calls)

	client, err := attribution.New(attribution.Config{
		BaseURL: upstream.URL,
		APIKey:  "test-key",
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("failed to create attribution client: %v", err)
	}

	m := metrics.New()
	svc, err := installs.NewService(installs.ServiceConfig{
		Repo:     pgstore.New(dbPool),
		Client:   client,
		Recorder: m,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	cfg := &config.Config{
		App: config.AppConfig{Environment: "test", LogLevel: "error"},
		Observability: config.ObservabilityConfig{
			ServiceName:    "deeplink-test",
			ServiceVersion: "test",
		},
	}
	srv := server.New(cfg, logger, installs.NewHandler(installs.HandlerConfig{Service: svc, Logger: logger}), m)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testApp{url: ts.URL, dbPool: dbPool, attributions: calls}
}

func (a *testApp) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.url+path, r)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp.StatusCode, b
}

func TestDeferredLifecycle_E2E(t *testing.T) {
	app := setupTestApp(t)
	referrer := `{"referrer":"url=https%3A%2F%2Fl.test%2Fknown%2F42"}`

	status, body := app.do(t, http.MethodPost, "/v1/installs/dev-1/deferred", referrer)
	if status != http.StatusOK {
		t.Fatalf("deferred status = %d, body=%s", status, body)
	}
	var res link.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if !res.Matched || res.Link == nil || res.Link.ID != "lnk_1" || !res.IsDeferred {
		t.Fatalf("result = %+v, want deferred match lnk_1", res)
	}
	if res.MatchScore == nil || *res.MatchScore != 97 {
		t.Errorf("match score = %v, want 97", res.MatchScore)
	}

	// Second call answers from the database.
	status, _ = app.do(t, http.MethodPost, "/v1/installs/dev-1/deferred", referrer)
	if status != http.StatusOK {
		t.Fatalf("second deferred status = %d", status)
	}
	if got := app.attributions.Load(); got != 1 {
		t.Errorf("attribution calls = %d, want 1", got)
	}

	var stored []byte
	if err := app.dbPool.QueryRow(context.Background(),
		"SELECT cached_result FROM install_check_states WHERE install_id = $1", "dev-1",
	).Scan(&stored); err != nil {
		t.Fatalf("failed to read stored state: %v", err)
	}
	if !strings.Contains(string(stored), `"lnk_1"`) {
		t.Errorf("stored result = %s", stored)
	}

	status, body = app.do(t, http.MethodGet, "/v1/installs/dev-1/link", "")
	if status != http.StatusOK || !strings.Contains(string(body), "product/42") {
		t.Errorf("link = %d %s", status, body)
	}

	status, _ = app.do(t, http.MethodDelete, "/v1/installs/dev-1/state", "")
	if status != http.StatusNoContent {
		t.Fatalf("reset status = %d", status)
	}

	status, body = app.do(t, http.MethodGet, "/v1/installs/dev-1/state", "")
	if status != http.StatusOK || strings.TrimSpace(string(body)) != `{"has_checked":false,"cached_result":null}` {
		t.Errorf("state after reset = %d %s", status, body)
	}
}

func TestNoMatch_E2E(t *testing.T) {
	app := setupTestApp(t)

	status, body := app.do(t, http.MethodPost, "/v1/installs/dev-2/direct", `{"url":"https://l.test/unknown"}`)
	if status != http.StatusOK || !strings.Contains(string(body), `"matched":false`) {
		t.Fatalf("direct = %d %s", status, body)
	}

	status, body = app.do(t, http.MethodGet, "/v1/installs/dev-2/link", "")
	if status != http.StatusNotFound || !strings.Contains(string(body), "no_match") {
		t.Errorf("link = %d %s, want 404 no_match", status, body)
	}

	// The direct open consumed the deferred check.
	status, body = app.do(t, http.MethodPost, "/v1/installs/dev-2/deferred",
		`{"referrer":"url=https%3A%2F%2Fl.test%2Fknown%2F1"}`)
	if status != http.StatusOK || !strings.Contains(string(body), `"matched":false`) {
		t.Errorf("deferred after direct = %d %s", status, body)
	}
	if got := app.attributions.Load(); got != 1 {
		t.Errorf("attribution calls = %d, want 1", got)
	}
}

func TestInvalidRequests_E2E(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode string
		status   int
	}{
		{"bad install id", http.MethodGet, "/v1/installs/bad$id/state", "", "invalid_input", http.StatusBadRequest},
		{"bad intent", http.MethodPost, "/v1/installs/dev-3/direct", `{"url":"ftp://x"}`, "invalid_intent", http.StatusBadRequest},
		{"emulator", http.MethodPost, "/v1/installs/dev-3/deferred", `{"referrer":"","is_emulator":true}`, "emulator", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := app.do(t, tt.method, tt.path, tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d; body=%s", status, tt.status, body)
			}
			if !strings.Contains(string(body), `"error":"`+tt.wantCode+`"`) {
				t.Errorf("body = %s, want code %s", body, tt.wantCode)
			}
		})
	}
}
