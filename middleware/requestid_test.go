package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDAssigned(t *testing.T) {
	p := NewRequestIDProcessor(nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	var inner *http.Request
	err := p.Process(w, r, func(_ http.ResponseWriter, r2 *http.Request) error {
		inner = r2
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	id := w.Header().Get("X-Request-Id")
	if id == "" {
		t.Fatal("no X-Request-Id header set")
	}
	if Logger(inner.Context()) == nil {
		t.Error("no logger attached to the context")
	}
}

func TestRequestIDReused(t *testing.T) {
	p := NewRequestIDProcessor(nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "upstream-id")

	err := p.Process(w, r, func(http.ResponseWriter, *http.Request) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if got := w.Header().Get("X-Request-Id"); got != "upstream-id" {
		t.Errorf("X-Request-Id = %q, want the caller's value", got)
	}
}

func TestRequestIDOversizedReplaced(t *testing.T) {
	p := NewRequestIDProcessor(nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", strings.Repeat("x", 200))

	err := p.Process(w, r, func(http.ResponseWriter, *http.Request) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	got := w.Header().Get("X-Request-Id")
	if got == "" || len(got) > 64 {
		t.Errorf("X-Request-Id = %q, want a fresh bounded id", got)
	}
}

func TestLoggerWithoutProcessor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if Logger(r.Context()) == nil {
		t.Error("Logger must fall back to a usable logger")
	}
}
