package handlers

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/ledger"
	"github.com/MrSnakeDoc/moor/internal/logger"
	"github.com/MrSnakeDoc/moor/internal/rate"
)

// fakeRegistry serves canned snapshots.
type fakeRegistry struct {
	snaps map[string]domain.ServiceSnapshot
}

func (f *fakeRegistry) Snapshot(name string) (domain.ServiceSnapshot, error) {
	snap, ok := f.snaps[name]
	if !ok {
		return domain.ServiceSnapshot{}, domain.ErrServiceUnknown
	}
	return snap, nil
}

func (f *fakeRegistry) SnapshotAll() []domain.ServiceSnapshot {
	out := make([]domain.ServiceSnapshot, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s)
	}
	return out
}

func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("backend port: %v", err)
	}
	return port
}

func proxyDeps(reg domain.Registry, led *ledger.Ledger, timeout time.Duration) deps.Deps {
	return deps.Deps{
		Logger:       logger.New("error", false),
		Registry:     reg,
		Limiter:      rate.NewLimiter(),
		Ledger:       led,
		ProxyTimeout: timeout,
	}
}

func newProxyRouter(d deps.Deps) *chi.Mux {
	r := chi.NewRouter()
	h := Proxy(d)
	r.HandleFunc("/{service}", h)
	r.HandleFunc("/{service}/*", h)
	return r
}

func runningSnap(name string, port, limit int) domain.ServiceSnapshot {
	return domain.ServiceSnapshot{
		Name:               name,
		Status:             domain.StatusRunning,
		AssignedPort:       port,
		RateLimitPerMinute: limit,
	}
}

func TestProxy_ForwardsVerbatim(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hello" {
			t.Errorf("upstream path = %q, want /hello (prefix stripped)", r.URL.Path)
		}
		if r.URL.Query().Get("x") != "1" {
			t.Errorf("upstream query lost: %q", r.URL.RawQuery)
		}
		w.Header().Set("X-Upstream", "game")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "pong")
	}))
	defer backend.Close()

	led := ledger.New(10)
	reg := &fakeRegistry{snaps: map[string]domain.ServiceSnapshot{
		"game": runningSnap("game", backendPort(t, backend), 0),
	}}
	router := newProxyRouter(proxyDeps(reg, led, 2*time.Second))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/game/hello?x=1", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201 relayed from upstream", rec.Code)
	}
	if got := rec.Header().Get("X-Upstream"); got != "game" {
		t.Errorf("X-Upstream = %q, want game", got)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "pong" {
		t.Errorf("body = %q, want pong", body)
	}
	if entries := led.Recent(0); len(entries) != 0 {
		t.Errorf("successful proxy appended entries: %+v", entries)
	}
}

func TestProxy_UnknownService(t *testing.T) {
	led := ledger.New(10)
	router := newProxyRouter(proxyDeps(&fakeRegistry{snaps: map[string]domain.ServiceSnapshot{}}, led, time.Second))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ghost/x", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(led.Recent(0)) != 0 {
		t.Error("unknown service appended a ledger entry")
	}
}

func TestProxy_ServiceNotRunning(t *testing.T) {
	led := ledger.New(10)
	reg := &fakeRegistry{snaps: map[string]domain.ServiceSnapshot{
		"down": {Name: "down", Status: domain.StatusCrashed},
	}}
	router := newProxyRouter(proxyDeps(reg, led, time.Second))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down/x", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	entries := led.Filter("down", 0)
	if len(entries) != 1 || entries[0].Action != ledger.ActionProxyError {
		t.Errorf("ledger = %+v, want one proxy_error entry", entries)
	}
}

func TestProxy_RateLimited(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	led := ledger.New(100)
	reg := &fakeRegistry{snaps: map[string]domain.ServiceSnapshot{
		"game": runningSnap("game", backendPort(t, backend), 5),
	}}
	router := newProxyRouter(proxyDeps(reg, led, 2*time.Second))

	// 7 requests against a limit of 5: exactly 5 forwarded, 2 rejected.
	var forwarded, limited int
	for i := 0; i < 7; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/game/x", nil))
		switch rec.Code {
		case http.StatusOK:
			forwarded++
		case http.StatusTooManyRequests:
			limited++
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After header")
			}
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	if forwarded != 5 || limited != 2 {
		t.Errorf("forwarded = %d, limited = %d, want 5 and 2", forwarded, limited)
	}

	var rateLimited int
	for _, e := range led.Filter("game", 0) {
		if e.Action == ledger.ActionRateLimited {
			rateLimited++
		}
	}
	if rateLimited != 2 {
		t.Errorf("rate_limited entries = %d, want 2", rateLimited)
	}
}

func TestProxy_UpstreamTimeout(t *testing.T) {
	block := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Accepts the connection, never answers in time.
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()
	defer close(block)

	led := ledger.New(10)
	reg := &fakeRegistry{snaps: map[string]domain.ServiceSnapshot{
		"slow": runningSnap("slow", backendPort(t, backend), 0),
	}}
	router := newProxyRouter(proxyDeps(reg, led, 50*time.Millisecond))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow/x", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
	entries := led.Filter("slow", 0)
	if len(entries) != 1 || entries[0].Action != ledger.ActionProxyError {
		t.Errorf("ledger = %+v, want exactly one proxy_error entry", entries)
	}
}
