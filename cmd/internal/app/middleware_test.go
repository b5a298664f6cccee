package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLoggingCapturesStatus(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}
	if rr.Body.String() != "short and stout" {
		t.Fatalf("body was not passed through")
	}
}

func TestLoggingResponseWriterPreservesFlusher(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	flushed := false
	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
			flushed = true
		}
	}), log)

	// httptest.ResponseRecorder implements http.Flusher.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !flushed {
		t.Fatalf("wrapped writer must still expose http.Flusher")
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("TRAQ_HTTP_ADDR", "")
	t.Setenv("TRAQ_DATABASE_URL", "")
	t.Setenv("TRAQ_MIGRATE_ON_START", "")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if !cfg.MigrateOnStart {
		t.Fatalf("MigrateOnStart must default to true")
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("DBMaxConns = %d", cfg.DBMaxConns)
	}
}
