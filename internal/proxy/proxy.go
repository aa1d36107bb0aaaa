// Package proxy implements the Proxy Pipeline (C9): the HTTP front door
// that accepts client requests, forwards them to the current upstream with
// same-endpoint retry, falls back across the remaining endpoints on
// exhaustion, and drives the connection tracker's lifecycle for every
// request (§4.9).
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/relaywatch/relaywatch/internal/config"
	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/internal/proxystate"
	"github.com/relaywatch/relaywatch/internal/tracker"
	"github.com/relaywatch/relaywatch/pkg/eventbus"
	"github.com/relaywatch/relaywatch/pkg/pool"
)

const (
	// DefaultAttemptTimeout bounds every outbound request and body drain (§5).
	DefaultAttemptTimeout = 300 * time.Second
	// DefaultFallbackBudget bounds the whole cross-endpoint fallback sequence.
	DefaultFallbackBudget = 600 * time.Second

	defaultStreamBufferSize = 8 * 1024

	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 5
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultDialKeepAlive       = 60 * time.Second
)

// Endpoints is the subset of the registry the proxy needs: the ordered
// full list and a lookup for auth credentials.
type Endpoints interface {
	All() []*domain.Endpoint
	AuthFor(url string) string
}

// Proxy is the HTTP handler mounted at 127.0.0.1:<port>.
type Proxy struct {
	reg     Endpoints
	state   *proxystate.State
	track   *tracker.Tracker
	bus     *eventbus.EventBus[domain.Event]
	retry   config.RetryConfig
	client  *http.Client
	bufPool *pool.Pool[*[]byte]
	log     *slog.Logger

	statusHandler      http.Handler
	diagnosticsHandler http.Handler
	healthHandler      http.Handler
}

// New builds a Proxy with a connection-reusing transport tuned the same
// way as a long-lived streaming reverse proxy: modest idle-connection
// pooling and Nagle disabled so token-by-token responses aren't delayed.
func New(reg Endpoints, state *proxystate.State, track *tracker.Tracker, bus *eventbus.EventBus[domain.Event], retry config.RetryConfig, log *slog.Logger) *Proxy {
	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultDialKeepAlive}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if terr := tcpConn.SetNoDelay(true); terr != nil && log != nil {
					log.Warn("failed to set TCP_NODELAY", "err", terr)
				}
			}
			return conn, nil
		},
	}

	bufPool := pool.NewLitePool(func() *[]byte {
		buf := make([]byte, defaultStreamBufferSize)
		return &buf
	})

	return &Proxy{
		reg:     reg,
		state:   state,
		track:   track,
		bus:     bus,
		retry:   retry,
		client:  &http.Client{Transport: transport},
		bufPool: bufPool,
		log:     log,
	}
}

// SetIntrospectionHandlers wires the three in-band short-circuit paths
// (§6.4); the proxy itself knows nothing about their response shape.
func (p *Proxy) SetIntrospectionHandlers(status, diagnostics, health http.Handler) {
	p.statusHandler = status
	p.diagnosticsHandler = diagnostics
	p.healthHandler = health
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/status":
		if p.statusHandler != nil {
			p.statusHandler.ServeHTTP(w, r)
			return
		}
	case "/diagnostics":
		if p.diagnosticsHandler != nil {
			p.diagnosticsHandler.ServeHTTP(w, r)
			return
		}
	case "/health":
		if p.healthHandler != nil {
			p.healthHandler.ServeHTTP(w, r)
			return
		}
	}
	p.forward(w, r)
}

// forward implements the seven-step request-handling protocol (§4.9).
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request) {
	currentURL := p.state.Current()
	if currentURL == "" {
		http.Error(w, "no endpoint available yet", http.StatusServiceUnavailable)
		return
	}
	currentAuth := p.reg.AuthFor(currentURL)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to buffer request body", http.StatusInternalServerError)
		return
	}
	r.Body.Close()

	connID := p.track.Start(currentURL)
	p.track.SetStatus(connID, domain.Processing)
	now := time.Now()
	p.bus.Publish(domain.ConnectionStarted{ConnectionID: connID, EndpointURL: currentURL, Timestamp: now})
	p.bus.Publish(domain.RequestReceived{EndpointURL: currentURL, Timestamp: now})

	succeeded := false
	defer func() {
		duration, ok := p.track.Complete(connID)
		if !ok {
			duration = time.Since(now)
		}
		p.bus.Publish(domain.ConnectionCompleted{
			ConnectionID: connID,
			EndpointURL:  currentURL,
			Duration:     duration,
			Succeeded:    succeeded,
			Timestamp:    time.Now(),
		})
	}()

	attemptErr := p.attemptWithRetry(r.Context(), w, r, currentURL, currentAuth, body)
	if attemptErr == nil {
		succeeded = true
		p.track.SetStatus(connID, domain.Finishing)
		return
	}

	p.state.MarkFailed(currentURL, attemptErr.Error())

	if p.runFallback(r.Context(), w, r, currentURL, body) {
		succeeded = true
	} else {
		http.Error(w, "All endpoints unavailable", http.StatusServiceUnavailable)
	}
	p.track.SetStatus(connID, domain.Finishing)
}

// attemptWithRetry runs the same-endpoint retry policy (§4.9) against a
// single endpoint and writes a successful response directly to w.
func (p *Proxy) attemptWithRetry(ctx context.Context, w http.ResponseWriter, r *http.Request, endpointURL, auth string, body []byte) error {
	maxAttempts := 1
	if p.retry.Enabled && p.retry.MaxAttempts > 1 {
		maxAttempts = p.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryDelay(p.retry.BaseDelayMS, p.retry.BackoffMultiplier, attempt-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		resp, cancel, err := p.doAttempt(ctx, r, endpointURL, auth, body)
		if err == nil {
			p.writeResponse(w, resp)
			cancel()
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

// doAttempt performs one outbound request against endpointURL, bounded by
// the per-attempt timeout, and classifies 5xx responses as retryable
// errors rather than success. The timeout must keep running through the
// body drain (§5), so on success it hands the cancel func back to the
// caller instead of deferring it here; the caller cancels it once
// writeResponse has finished draining the body.
func (p *Proxy) doAttempt(ctx context.Context, r *http.Request, endpointURL, auth string, body []byte) (*http.Response, context.CancelFunc, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, DefaultAttemptTimeout)

	upstreamURL, err := rewriteURL(endpointURL, r.URL)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(attemptCtx, r.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	rewriteHeaders(req, r.Header, upstreamURL, auth)

	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return resp, cancel, nil
}

// writeResponse drains the upstream body into w under the per-attempt
// timeout, recording full end-to-end duration as part of the latency
// semantics the dashboard relies on (§4.9 body handling).
func (p *Proxy) writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	buf := p.bufPool.Get()
	defer p.bufPool.Put(buf)
	io.CopyBuffer(w, resp.Body, *buf)
}

// runFallback implements cross-endpoint fallback (§4.9): try every other
// endpoint, available first, then unavailable, in registry order, within
// an outer wall-clock budget.
func (p *Proxy) runFallback(ctx context.Context, w http.ResponseWriter, r *http.Request, primaryURL string, body []byte) bool {
	fallbackCtx, cancel := context.WithTimeout(ctx, DefaultFallbackBudget)
	defer cancel()

	for _, ep := range p.fallbackCandidates(primaryURL) {
		select {
		case <-fallbackCtx.Done():
			return false
		default:
		}

		auth := p.reg.AuthFor(ep.Identity())
		err := p.attemptWithRetry(fallbackCtx, w, r, ep.Identity(), auth, body)
		if err == nil {
			p.state.SwitchSilent(ep.Identity(), 0, 0, domain.ReasonFallback)
			return true
		}
		p.state.MarkFailed(ep.Identity(), err.Error())
	}
	return false
}

// fallbackCandidates orders every endpoint but the primary: available
// endpoints first, then unavailable ones, preserving registry order
// within each group (§4.9 step 1).
func (p *Proxy) fallbackCandidates(primaryURL string) []*domain.Endpoint {
	all := p.reg.All()
	var available, unavailable []*domain.Endpoint
	for _, ep := range all {
		if ep.Identity() == primaryURL {
			continue
		}
		st, ok := p.state.StatusFor(ep.Identity())
		if ok && st.Available {
			available = append(available, ep)
		} else {
			unavailable = append(unavailable, ep)
		}
	}
	return append(available, unavailable...)
}

func rewriteURL(endpointURL string, orig *url.URL) (string, error) {
	base, err := url.Parse(endpointURL)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint url: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + orig.Path
	base.RawQuery = orig.RawQuery
	return base.String(), nil
}

// rewriteHeaders applies §4.9's request-rewriting rule: replace host,
// strip any inbound authorization, set a fresh bearer token if configured.
func rewriteHeaders(req *http.Request, src http.Header, upstreamURL, auth string) {
	req.Header = src.Clone()
	req.Header.Del("Authorization")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	if u, err := url.Parse(upstreamURL); err == nil {
		req.Host = u.Host
	}
}

func retryDelay(baseMS int, multiplier float64, k int) time.Duration {
	if baseMS <= 0 {
		baseMS = 1
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	factor := 1.0
	for i := 0; i < k-1; i++ {
		factor *= multiplier
	}
	return time.Duration(float64(baseMS)*factor) * time.Millisecond
}

// isRetryable classifies an error as retryable: client-observed timeouts,
// connection errors, and (pre-classified by doAttempt) 5xx responses.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED:
			return true
		}
	}

	return hasConnectionErrorText(err)
}

var connectionErrorSubstrings = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"no route to host",
	"connection timed out",
	"i/o timeout",
	"dial tcp",
	"upstream returned 5",
}

func hasConnectionErrorText(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range connectionErrorSubstrings {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
