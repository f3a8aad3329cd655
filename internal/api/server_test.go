package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mosys-billing/tvfleet/internal/device"
	"github.com/mosys-billing/tvfleet/internal/dispatch"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/logging"
	"github.com/mosys-billing/tvfleet/internal/scan"
	"github.com/mosys-billing/tvfleet/internal/store"
	"github.com/mosys-billing/tvfleet/internal/transport"
)

// fakeAdapter is an ADB-like adapter that records sends and can be told
// to fail for an address.
type fakeAdapter struct {
	mu      sync.Mutex
	sends   []string
	failFor map[string]bool
	pushed  string
	overlay string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failFor: make(map[string]bool)}
}

func (a *fakeAdapter) Kind() transport.Kind { return transport.KindADB }

func (a *fakeAdapter) Resolve(command string) (transport.Opcode, error) {
	switch command {
	case "power_off", "volume_up":
		return transport.Opcode(command), nil
	}
	return "", fmt.Errorf("%w: %q", transport.ErrInvalidCommand, command)
}

func (a *fakeAdapter) Commands() []string { return []string{"power_off", "volume_up"} }

func (a *fakeAdapter) outcome(address string) transport.Outcome {
	if a.failFor[address] {
		return transport.Outcome{Status: transport.StatusTimeout, Detail: "no answer"}
	}
	return transport.Outcome{Status: transport.StatusSuccess, DurationMS: 3}
}

func (a *fakeAdapter) Send(_ context.Context, address string, op transport.Opcode) transport.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, address+" "+string(op))
	return a.outcome(address)
}

func (a *fakeAdapter) MediaPath(filename string) string { return "/sdcard/Download/" + filename }

func (a *fakeAdapter) PushFile(_ context.Context, address, localPath, _ string) transport.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, _ := os.ReadFile(localPath)
	a.pushed = string(body)
	return a.outcome(address)
}

func (a *fakeAdapter) PlayMedia(_ context.Context, _, _ string) transport.Outcome {
	return transport.Outcome{Status: transport.StatusSuccess}
}

func (a *fakeAdapter) ShowOverlay(_ context.Context, address string, _ int, text string) transport.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.overlay = text
	return a.outcome(address)
}

func (a *fakeAdapter) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sends...)
}

// fakeSweeper reports a fixed set of hosts.
type fakeSweeper struct {
	devices []scan.Device
}

func (fakeSweeper) Method() string { return "fake" }

func (s fakeSweeper) Sweep(ctx context.Context, _ []string) ([]scan.Device, error) {
	return s.devices, ctx.Err()
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return fmt.Errorf("broker unreachable") }

type testEnv struct {
	srv      *Server
	handler  http.Handler
	registry *device.Registry
	adapter  *fakeAdapter
	scanner  *scan.Scanner
}

// newTestEnv wires a server over real registry, dispatcher and scanner
// instances backed by a temp-dir file store.
func newTestEnv(t *testing.T, checks map[string]HealthChecker) *testEnv {
	t.Helper()

	backend, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	docs := store.NewDocuments(backend, "adb")

	registry := device.NewRegistry(docs)
	adapter := newFakeAdapter()
	disp := dispatch.New(registry, adapter, docs, dispatch.Config{TempDir: t.TempDir()})
	t.Cleanup(disp.Close)

	scanner := scan.New(fakeSweeper{devices: []scan.Device{
		{Address: "192.168.1.20", Name: "Unknown Device at 192.168.1.20"},
	}}, docs, scan.Config{})
	t.Cleanup(scanner.Close)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Backend: transport.KindADB,
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     log,
		Registry:   registry,
		Dispatcher: disp,
		Scanner:    scanner,
		Settings:   docs,
		Version:    "test",
		Checks:     checks,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return &testEnv{
		srv:      srv,
		handler:  srv.buildRouter(),
		registry: registry,
		adapter:  adapter,
		scanner:  scanner,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, name, address string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/devices", map[string]string{"name": name, "address": address})
	if rec.Code != http.StatusOK {
		t.Fatalf("register %s: status = %d, body = %s", address, rec.Code, rec.Body.String())
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e Error
	decodeBody(t, rec, &e)
	return e.Code
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without registry should fail")
	}
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["backend"] != "adb" {
		t.Errorf("backend = %v, want adb", body["backend"])
	}
	if body["devices"] != float64(1) {
		t.Errorf("devices = %v, want 1", body["devices"])
	}
}

func TestHealth_DegradedDependency(t *testing.T) {
	env := newTestEnv(t, map[string]HealthChecker{"mqtt": failingCheck{}})

	rec := env.do(t, http.MethodGet, "/health", nil)
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Dependencies["mqtt"] != "broker unreachable" {
		t.Errorf("mqtt = %q", body.Dependencies["mqtt"])
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-id-1", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/devices", nil)
	req.Header.Set("Origin", "http://billing.local")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin missing")
	}
}

func TestDevices_RegisterListStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")
	env.register(t, "TV 2", "192.168.1.11")

	rec := env.do(t, http.MethodGet, "/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list map[string]device.Record
	decodeBody(t, rec, &list)
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if got := list["192.168.1.10"]; got.Name != "TV 1" || got.Status != device.StatusChecking {
		t.Errorf("record = %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/devices/stats", nil)
	var stats device.Stats
	decodeBody(t, rec, &stats)
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
}

func TestDevices_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"duplicate", "/devices", map[string]string{"name": "Again", "address": "192.168.1.10"}, http.StatusBadRequest, ErrCodeConflict},
		{"bad address", "/devices", map[string]string{"name": "TV", "address": "999.1.1"}, http.StatusBadRequest, ErrCodeValidation},
		{"empty name", "/devices", map[string]string{"name": "", "address": "192.168.1.12"}, http.StatusBadRequest, ErrCodeValidation},
		{"invalid json", "/devices", "{not json", http.StatusBadRequest, ErrCodeValidation},
		{"remove unknown", "/devices/remove", map[string]string{"address": "192.168.1.99"}, http.StatusNotFound, ErrCodeNotFound},
		{"remove missing address", "/devices/remove", map[string]string{}, http.StatusBadRequest, ErrCodeValidation},
		{"edit unknown", "/devices/edit", map[string]string{"oldAddress": "192.168.1.99", "newName": "X"}, http.StatusNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := errorCode(t, rec); got != tt.wantErr {
				t.Errorf("code = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestDevices_EditAndRemove(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")

	rec := env.do(t, http.MethodPost, "/devices/edit", map[string]string{
		"oldAddress": "192.168.1.10",
		"newName":    "Lobby",
		"newAddress": "192.168.1.20",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if env.registry.Exists("192.168.1.10") {
		t.Error("old address still registered")
	}
	got, err := env.registry.Get("192.168.1.20")
	if err != nil || got.Name != "Lobby" {
		t.Fatalf("Get(new) = %+v, %v", got, err)
	}

	rec = env.do(t, http.MethodPost, "/devices/remove", map[string]string{"address": "192.168.1.20"})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d", rec.Code)
	}
	if env.registry.Count() != 0 {
		t.Errorf("Count() = %d, want 0", env.registry.Count())
	}
}

func TestCommands_List(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/commands", nil)
	var body struct {
		Backend  string   `json:"backend"`
		Commands []string `json:"commands"`
	}
	decodeBody(t, rec, &body)
	if body.Backend != "adb" || len(body.Commands) != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestCommand_Send(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")
	env.register(t, "TV 2", "192.168.1.11")
	env.adapter.failFor["192.168.1.11"] = true

	tests := []struct {
		name     string
		body     map[string]string
		wantCode int
		wantErr  string
	}{
		{"success", map[string]string{"address": "192.168.1.10", "commandName": "power_off"}, http.StatusOK, ""},
		{"transport failure", map[string]string{"address": "192.168.1.11", "commandName": "power_off"}, http.StatusInternalServerError, ErrCodeTransportFailure},
		{"unknown device", map[string]string{"address": "192.168.1.99", "commandName": "power_off"}, http.StatusNotFound, ErrCodeNotFound},
		{"invalid command", map[string]string{"address": "192.168.1.10", "commandName": "self_destruct"}, http.StatusBadRequest, ErrCodeInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/command", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" {
				if got := errorCode(t, rec); got != tt.wantErr {
					t.Errorf("code = %q, want %q", got, tt.wantErr)
				}
				return
			}
			var body struct {
				Outcome transport.Outcome `json:"outcome"`
			}
			decodeBody(t, rec, &body)
			if !body.Outcome.OK() {
				t.Errorf("outcome = %+v", body.Outcome)
			}
		})
	}

	if sent := env.adapter.sent(); len(sent) != 2 {
		t.Errorf("sends = %v, want 2 (rejected requests never reach the adapter)", sent)
	}
}

func TestCommand_Batch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")
	env.register(t, "TV 2", "192.168.1.11")
	env.adapter.failFor["192.168.1.11"] = true

	rec := env.do(t, http.MethodPost, "/command/batch", map[string]any{
		"addresses":   []string{"192.168.1.10", "192.168.1.11", "192.168.1.99", " "},
		"commandName": "volume_up",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Results   map[string]batchResultResponse `json:"results"`
		Total     int                            `json:"total"`
		Succeeded int                            `json:"succeeded"`
	}
	decodeBody(t, rec, &body)

	if body.Total != 4 || body.Succeeded != 1 {
		t.Errorf("total = %d, succeeded = %d", body.Total, body.Succeeded)
	}
	if got := body.Results["192.168.1.10"].Status; got != string(transport.StatusSuccess) {
		t.Errorf(".10 status = %q", got)
	}
	if got := body.Results["192.168.1.11"].Status; got != string(transport.StatusTimeout) {
		t.Errorf(".11 status = %q", got)
	}
	if got := body.Results["192.168.1.99"]; got.Status != "rejected" || got.Code != ErrCodeNotFound {
		t.Errorf(".99 = %+v", got)
	}
	if got := body.Results[" "]; got.Status != "rejected" || got.Code != ErrCodeValidation {
		t.Errorf("blank entry = %+v", got)
	}

	rec = env.do(t, http.MethodPost, "/command/batch", map[string]any{"addresses": []string{}, "commandName": "volume_up"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
}

func TestCommand_Timers(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")

	for _, delay := range []float64{0, -5, 86401} {
		rec := env.do(t, http.MethodPost, "/command/timer", map[string]any{
			"address": "192.168.1.10", "commandName": "power_off", "delaySeconds": delay,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("delay %v: status = %d, want 400", delay, rec.Code)
		}
	}

	rec := env.do(t, http.MethodPost, "/command/timer", map[string]any{
		"address": "192.168.1.10", "commandName": "power_off", "delaySeconds": 3600,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var scheduled struct {
		Timer struct {
			ID      string `json:"id"`
			Address string `json:"address"`
		} `json:"timer"`
	}
	decodeBody(t, rec, &scheduled)
	if scheduled.Timer.ID == "" {
		t.Fatal("timer id empty")
	}

	rec = env.do(t, http.MethodGet, "/command/timers", nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	rec = env.do(t, http.MethodPost, "/command/timer/cancel", map[string]string{"id": scheduled.Timer.ID})
	if rec.Code != http.StatusOK {
		t.Errorf("cancel status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/command/timer/cancel", map[string]string{"id": scheduled.Timer.ID})
	if rec.Code != http.StatusNotFound {
		t.Errorf("second cancel status = %d, want 404", rec.Code)
	}
}

func TestScan_StartAndResults(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/scan/results", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("results before scan: status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/scan", map[string]any{"rangeStart": 300})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad range: status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/scan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.scanner.Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	rec = env.do(t, http.MethodGet, "/scan/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("results status = %d", rec.Code)
	}
	var body struct {
		Results scan.Snapshot `json:"results"`
	}
	decodeBody(t, rec, &body)
	if body.Results.RangeStart != 1 || body.Results.RangeEnd != 254 {
		t.Errorf("range = %d..%d, want 1..254", body.Results.RangeStart, body.Results.RangeEnd)
	}
	if len(body.Results.Devices) != 1 || body.Results.Devices[0].Address != "192.168.1.20" {
		t.Errorf("devices = %+v", body.Results.Devices)
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestMedia_Stream(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")

	tests := []struct {
		name     string
		address  string
		field    string
		filename string
		wantCode int
	}{
		{"uploads and plays", "192.168.1.10", "file", "promo.mp4", http.StatusOK},
		{"unknown device", "192.168.1.99", "file", "promo.mp4", http.StatusNotFound},
		{"missing file field", "192.168.1.10", "other", "promo.mp4", http.StatusBadRequest},
		{"traversal filename", "192.168.1.10", "file", "..", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, tt.filename, "video-bytes")
			req := httptest.NewRequest(http.MethodPost, "/media/"+tt.address, body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	if env.adapter.pushed != "video-bytes" {
		t.Errorf("pushed = %q, want video-bytes", env.adapter.pushed)
	}
}

func TestMedia_UploadFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")
	env.srv.cfg.MaxUploadMB = 1
	handler := env.srv.buildRouter()

	oversized, ct := multipartBody(t, "file", "big.mp4", strings.Repeat("v", 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/media/192.168.1.10", oversized)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized status = %d, want 413 (body %s)", rec.Code, rec.Body.String())
	}

	full, ct := multipartBody(t, "file", "cut.mp4", "video-bytes")
	// Drop everything after the payload, closing boundary included.
	raw := full.Bytes()
	cut := raw[:bytes.Index(raw, []byte("video-bytes"))+len("video-bytes")]
	req = httptest.NewRequest(http.MethodPost, "/media/192.168.1.10", bytes.NewReader(cut))
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body Error
	decodeBody(t, rec, &body)
	if rec.Code != http.StatusInternalServerError || body.Code != ErrCodeTransportFailure {
		t.Errorf("truncated upload = %d/%q, want 500 %s", rec.Code, body.Code, ErrCodeTransportFailure)
	}
	if env.adapter.pushed != "" {
		t.Errorf("pushed = %q, want nothing", env.adapter.pushed)
	}
}

func TestMedia_NotMultipart(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")

	rec := env.do(t, http.MethodPost, "/media/192.168.1.10", map[string]string{"file": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestOverlay_TextSettingsAndShow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "TV 1", "192.168.1.10")

	rec := env.do(t, http.MethodGet, "/settings/overlay-text", nil)
	var text map[string]string
	decodeBody(t, rec, &text)
	if text["custom_text"] != store.DefaultOverlayText {
		t.Errorf("default text = %q", text["custom_text"])
	}

	rec = env.do(t, http.MethodPost, "/settings/overlay-text", map[string]string{"custom_text": "Time is up"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/overlay", map[string]any{"address": "192.168.1.10", "seconds": 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("overlay status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if env.adapter.overlay != "Time is up" {
		t.Errorf("overlay text = %q, want saved text", env.adapter.overlay)
	}

	rec = env.do(t, http.MethodPost, "/overlay", map[string]any{"address": "192.168.1.10", "seconds": 0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero seconds status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/settings/overlay-text", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing custom_text status = %d, want 400", rec.Code)
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := newWSClient(nil, parseChannels(ChannelCommandOutcome))
	other := newWSClient(nil, parseChannels(ChannelScanCompleted))
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(ChannelCommandOutcome, map[string]string{"address": "192.168.1.10"})

	select {
	case msg := <-subscribed.out:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != ChannelCommandOutcome {
			t.Errorf("event_type = %q", wsMsg.EventType)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.out:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}

	hub.Unregister(other)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
	if _, open := <-other.out; open {
		t.Error("queue still open after Unregister")
	}
	if other.deliver([]byte("late")) {
		t.Error("deliver() = true on a closed client")
	}
}

func TestParseChannels(t *testing.T) {
	all := parseChannels("")
	if len(all) != len(allChannels) {
		t.Errorf("blank list = %d channels, want %d", len(all), len(allChannels))
	}

	got := parseChannels(" device.added, ,scan.completed")
	if len(got) != 2 {
		t.Fatalf("parseChannels() = %v, want two channels", got)
	}
	for _, ch := range []string{string(device.EventAdded), ChannelScanCompleted} {
		if _, ok := got[ch]; !ok {
			t.Errorf("missing %q", ch)
		}
	}
}

func TestWebSocket_RegistryEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?channels=" + string(device.EventAdded)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	env.register(t, "TV 1", "192.168.1.10")

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type      string       `json:"type"`
		EventType string       `json:"event_type"`
		Payload   device.Event `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != string(device.EventAdded) {
		t.Errorf("message = %+v", msg)
	}
	if msg.Payload.Address != "192.168.1.10" || msg.Payload.Record == nil {
		t.Errorf("payload = %+v", msg.Payload)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var pong WSMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
		{fmt.Errorf("wrap: %w", device.ErrDeviceExists), http.StatusBadRequest, ErrCodeConflict},
		{scan.ErrScanInProgress, http.StatusBadRequest, ErrCodeConflict},
		{transport.ErrInvalidCommand, http.StatusBadRequest, ErrCodeInvalidCommand},
		{transport.ErrUnsupported, http.StatusBadRequest, ErrCodeValidation},
		{dispatch.ErrTransferFailed, http.StatusInternalServerError, ErrCodeTransportFailure},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := classify(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("classify() = %d %q, want %d %q", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}
