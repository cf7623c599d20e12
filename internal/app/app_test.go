package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/abrezinsky/chanpoll/internal/config"
	"github.com/abrezinsky/chanpoll/internal/logger"
)

func testConfig() config.Config {
	return config.Config{
		BindAddr:         ":0",
		DBPath:           ":memory:",
		LogLevel:         "error",
		MetricsNamespace: "test",
		CommandPrefix:    "!",
	}
}

func TestNew_InitializesApp(t *testing.T) {
	log := logger.NewWithWriter(io.Discard, slog.LevelError)

	a, err := New(log, testConfig())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer a.Close()

	if a.handlers == nil {
		t.Error("expected handlers to be initialized")
	}
	if a.repo == nil {
		t.Error("expected repo to be initialized")
	}
}

func TestNew_FailsWithBadDBPath(t *testing.T) {
	log := logger.NewWithWriter(io.Discard, slog.LevelError)
	cfg := testConfig()
	cfg.DBPath = "/nonexistent/path/db.sqlite"

	if _, err := New(log, cfg); err == nil {
		t.Error("expected error for invalid db path")
	}
}

func TestApp_ServesHealth(t *testing.T) {
	log := logger.NewWithWriter(io.Discard, slog.LevelError)

	a, err := New(log, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
