package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewJSONLoggerIncludesComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentIndex, Output: buf})

	logger.Info("bootstrap finished", FieldScanned, 3)

	out := buf.String()
	if !strings.Contains(out, `"component":"index"`) || !strings.Contains(out, `"scanned":3`) {
		t.Fatalf("unexpected output: %s", out)
	}
	if strings.Count(out, `"component"`) != 1 {
		t.Fatalf("component should appear once: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogErrorAddsFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Format: "text", Output: buf})
	logger.LogError(context.Background(), "merge failed", errors.New("disk full"), OpMerge)

	out := buf.String()
	if !strings.Contains(out, "operation=merge") || !strings.Contains(out, `error="disk full"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestMiddlewareInjectsLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Format: "text", Output: buf, Component: ComponentHTTP})

	var injected bool
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		injected = FromContext(r.Context()).Component() == ComponentHTTP
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if !injected {
		t.Fatal("handler did not receive request logger")
	}
	if !strings.Contains(buf.String(), "status_code=418") || !strings.Contains(buf.String(), "request_id=req_") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}
