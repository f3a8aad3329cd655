package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/logging"
)

func TestCORSPolicy_Allows(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"no list", nil, "http://anything", true},
		{"wildcard", []string{"*"}, "http://anything", true},
		{"listed", []string{"http://billing.local"}, "http://billing.local", true},
		{"not listed", []string{"http://billing.local"}, "http://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newCORSPolicy(tt.origins, nil, nil).allows(tt.origin); got != tt.want {
				t.Errorf("allows(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestCORSPolicy_RejectedOriginGetsNoHeaders(t *testing.T) {
	p := newCORSPolicy([]string{"http://billing.local"}, []string{"GET"}, nil)
	h := p.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("CORS header set for a rejected origin")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRecoverPanics(t *testing.T) {
	s := &Server{logger: logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")}
	h := withRequestID(s.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Error("request ID missing on recovered response")
	}
}

func TestLimitBody(t *testing.T) {
	h := limitBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dst struct{}
		if err := decodeJSON(r, &dst); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(`{"name":"too long"}`)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestRecorder(t *testing.T) {
	base := httptest.NewRecorder()
	rec := &recorder{ResponseWriter: base}

	if rec.code() != http.StatusOK {
		t.Errorf("code() before write = %d, want 200", rec.code())
	}
	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusOK)
	n, err := rec.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if rec.code() != http.StatusTeapot || rec.written != 5 {
		t.Errorf("recorder = %d/%d, want 418/5", rec.code(), rec.written)
	}
}
