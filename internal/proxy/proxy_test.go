package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/relaywatch/relaywatch/internal/config"
	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/internal/proxystate"
	"github.com/relaywatch/relaywatch/internal/tracker"
	"github.com/relaywatch/relaywatch/pkg/eventbus"
)

// stubRegistry satisfies the Endpoints interface with a fixed endpoint
// list and auth map, standing in for a real registry in tests.
type stubRegistry struct {
	eps  []*domain.Endpoint
	auth map[string]string
}

func (s *stubRegistry) All() []*domain.Endpoint { return s.eps }
func (s *stubRegistry) AuthFor(u string) string { return s.auth[u] }

func newEndpoint(t *testing.T, rawURL string) *domain.Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	return &domain.Endpoint{URL: u, URLString: rawURL, DisplayName: rawURL}
}

func noRetryConfig() config.RetryConfig {
	return config.RetryConfig{Enabled: false, MaxAttempts: 1}
}

func newTestProxy(t *testing.T, eps []*domain.Endpoint, retry config.RetryConfig) (*Proxy, *proxystate.State) {
	t.Helper()
	reg := &stubRegistry{eps: eps, auth: map[string]string{}}
	state := proxystate.New(eps, nil)
	track := tracker.New()
	bus := eventbus.New[domain.Event]()
	p := New(reg, state, track, bus, retry, nil)
	return p, state
}

func TestForwardReturns503WhenNoCurrentEndpoint(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	ep := newEndpoint(t, up.URL)
	p, _ := newTestProxy(t, []*domain.Endpoint{ep}, noRetryConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no current endpoint, got %d", rec.Code)
	}
}

func TestForwardProxiesToCurrentEndpoint(t *testing.T) {
	var sawAuth, sawPath string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		sawPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("upstream-ok"))
	}))
	defer up.Close()

	ep := newEndpoint(t, up.URL)
	reg := &stubRegistry{eps: []*domain.Endpoint{ep}, auth: map[string]string{ep.Identity(): "secret-token"}}
	state := proxystate.New([]*domain.Endpoint{ep}, nil)
	state.Switch(ep.Identity(), 0, 10, domain.ReasonInitial)
	track := tracker.New()
	bus := eventbus.New[domain.Event]()
	p := New(reg, state, track, bus, noRetryConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer client-supplied")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if sawAuth != "Bearer secret-token" {
		t.Fatalf("expected endpoint's own token forwarded, got %q", sawAuth)
	}
	if sawPath != "/v1/chat/completions" {
		t.Fatalf("expected path preserved, got %q", sawPath)
	}
	if rec.Body.String() != "upstream-ok" {
		t.Fatalf("expected upstream body forwarded, got %q", rec.Body.String())
	}

	if track.Snapshot().ActiveCount != 0 {
		t.Fatal("expected tracker entry completed after request")
	}
}

func TestForwardPassesThrough4xxUnchanged(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer up.Close()

	ep := newEndpoint(t, up.URL)
	p, state := newTestProxy(t, []*domain.Endpoint{ep}, noRetryConfig())
	state.Switch(ep.Identity(), 0, 0, domain.ReasonInitial)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 4xx passed through unchanged, got %d", rec.Code)
	}
}

func TestForwardFallsBackToSecondEndpointOnFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("good"))
	}))
	defer good.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close() // connection refused on every attempt

	epDead := newEndpoint(t, deadURL)
	epGood := newEndpoint(t, good.URL)

	p, state := newTestProxy(t, []*domain.Endpoint{epDead, epGood}, noRetryConfig())
	state.Switch(epDead.Identity(), 0, 0, domain.ReasonInitial)
	// Seed the fallback candidate as already known-available so it's tried first.
	state.SetStatus(epGood.Identity(), domain.NewCheckingStatus(epGood.Identity(), nil).WithSuccess(time.Now(), 5))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected fallback to succeed with 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "good" {
		t.Fatalf("expected body from fallback endpoint, got %q", rec.Body.String())
	}
	if state.Current() != epGood.Identity() {
		t.Fatalf("expected silent switch to fallback endpoint, got %q", state.Current())
	}

	st, ok := state.StatusFor(epDead.Identity())
	if !ok || st.Available {
		t.Fatal("expected primary marked unavailable after fallback")
	}
}

func TestForwardReturns503WhenAllEndpointsFail(t *testing.T) {
	deadA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	urlA := deadA.URL
	deadA.Close()

	deadB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	urlB := deadB.URL
	deadB.Close()

	epA := newEndpoint(t, urlA)
	epB := newEndpoint(t, urlB)
	p, state := newTestProxy(t, []*domain.Endpoint{epA, epB}, noRetryConfig())
	state.Switch(epA.Identity(), 0, 0, domain.ReasonInitial)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when every candidate fails, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "All endpoints unavailable\n" {
		t.Fatalf("unexpected body: %q", string(body))
	}
}

func TestSpecialPathsDelegateToInjectedHandlers(t *testing.T) {
	ep := newEndpoint(t, "http://unused.invalid")
	p, _ := newTestProxy(t, []*domain.Endpoint{ep}, noRetryConfig())

	called := map[string]bool{}
	handlerFor := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called[name] = true
			w.WriteHeader(http.StatusOK)
		})
	}
	p.SetIntrospectionHandlers(handlerFor("status"), handlerFor("diagnostics"), handlerFor("health"))

	for _, path := range []string{"/status", "/diagnostics", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected %s to be handled by injected handler, got %d", path, rec.Code)
		}
	}
	if !called["status"] || !called["diagnostics"] || !called["health"] {
		t.Fatalf("expected all three introspection handlers invoked, got %+v", called)
	}
}

func TestRetryDelayGrowsByBackoffMultiplier(t *testing.T) {
	d1 := retryDelay(1000, 2.0, 1)
	d2 := retryDelay(1000, 2.0, 2)
	d3 := retryDelay(1000, 2.0, 3)

	if d1 != 1000*time.Millisecond {
		t.Fatalf("expected first retry delay 1000ms, got %v", d1)
	}
	if d2 != 2000*time.Millisecond {
		t.Fatalf("expected second retry delay 2000ms, got %v", d2)
	}
	if d3 != 4000*time.Millisecond {
		t.Fatalf("expected third retry delay 4000ms, got %v", d3)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if !isRetryable(ctx.Err()) {
		t.Fatal("expected deadline-exceeded to be retryable")
	}
	if isRetryable(nil) {
		t.Fatal("expected nil error to be non-retryable")
	}
}

func TestRewriteURLConcatenatesPathAndQuery(t *testing.T) {
	orig, _ := url.Parse("/v1/chat/completions?stream=true")
	got, err := rewriteURL("http://upstream.local:8080", orig)
	if err != nil {
		t.Fatal(err)
	}
	want := "http://upstream.local:8080/v1/chat/completions?stream=true"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
