package easyfetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func boolPtr(v bool) *bool {
	return &v
}

// forwardProxy answers absolute-URI requests itself instead of forwarding
// them.
func forwardProxy(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			http.Error(w, "not a proxy request", http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Proxy-Auth", r.Header.Get("Proxy-Authorization"))
		fmt.Fprintf(w, "proxied %s", r.URL.Host)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMerge(t *testing.T) {
	direct := transportDelta{transport: roundTripFunc(nil), route: routeDirect}
	proxy := &transportDelta{route: routeProxy}
	custom := &transportDelta{route: routeCustom}
	caching := &transportDelta{route: routeDNSCache}

	assert.Equal(t, routeProxy, merge(timeoutDelta{}, proxy, custom, caching, direct).route)
	assert.Equal(t, routeCustom, merge(timeoutDelta{}, nil, custom, caching, direct).route)
	assert.Equal(t, routeDNSCache, merge(timeoutDelta{}, nil, nil, caching, direct).route)
	assert.Equal(t, routeDirect, merge(timeoutDelta{}, nil, nil, nil, direct).route)
	assert.Equal(t, time.Second, merge(timeoutDelta{timeout: time.Second}, proxy, nil, nil, direct).timeout)
}

func TestTimeoutStep(t *testing.T) {
	c := newTestClient(t, newStubLookup())
	assert.Zero(t, c.timeoutStep(&RequestOptions{}).timeout)
	assert.Equal(t, 50*time.Millisecond, c.timeoutStep(&RequestOptions{Timeout: 50 * time.Millisecond}).timeout)

	c.opts.Timeout = time.Second
	assert.Equal(t, time.Second, c.timeoutStep(&RequestOptions{}).timeout)
	assert.Zero(t, c.timeoutStep(&RequestOptions{Timeout: -1}).timeout)
}

func TestProxyDisablesDNSCaching(t *testing.T) {
	proxy := forwardProxy(t)
	lookup := newStubLookup()
	lookup.set("origin.test", "127.0.0.1")
	c := newTestClient(t, lookup)

	for i := 0; i < 2; i++ {
		resp, err := c.Fetch(context.Background(), "http://origin.test/path", &RequestOptions{Proxy: proxy.URL})
		require.NoError(t, err)
		assert.Equal(t, "proxied origin.test", readBody(t, resp))
	}
	assert.Zero(t, lookup.calls.Load())
	assert.Equal(t, float64(2), requests(c, routeProxy))
	assert.Zero(t, requests(c, routeDNSCache))
	assert.Len(t, c.proxies.transports, 1, "proxy transport is reused")
}

func TestProxyConfig(t *testing.T) {
	proxy := forwardProxy(t)
	p, err := strconv.Atoi(port(t, proxy.URL))
	require.NoError(t, err)
	c := newTestClient(t, newStubLookup())

	resp, err := c.Fetch(context.Background(), "http://origin.test/", &RequestOptions{
		ProxyConfig: &Proxy{Host: "127.0.0.1", Port: p, Username: "user", Password: "secret"},
		DNSCaching:  boolPtr(true),
	})
	require.NoError(t, err)
	auth := resp.Header.Get("X-Proxy-Auth")
	assert.Equal(t, "proxied origin.test", readBody(t, resp))
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("user:secret")), auth)
	assert.Equal(t, float64(1), requests(c, routeProxy))
}

func TestInvalidProxy(t *testing.T) {
	c := newTestClient(t, newStubLookup())
	for _, raw := range []string{"ftp://127.0.0.1:21", "http://", "::"} {
		_, err := c.Fetch(context.Background(), "http://origin.test/", &RequestOptions{Proxy: raw})
		require.Error(t, err, raw)
		var transportErr *TransportError
		assert.False(t, errors.As(err, &transportErr), raw)
	}
	assert.Zero(t, requests(c, routeProxy))
}

func TestDNSCachingDisabled(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer origin.Close()
	c := newTestClient(t, newStubLookup())

	resp, err := c.Fetch(context.Background(), origin.URL, &RequestOptions{DNSCaching: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "ok", readBody(t, resp))
	assert.Equal(t, float64(1), requests(c, routeDirect))

	c.opts.DNSCaching = false
	resp, err = c.Fetch(context.Background(), origin.URL, nil)
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, float64(2), requests(c, routeDirect))

	resp, err = c.Fetch(context.Background(), origin.URL, &RequestOptions{DNSCaching: boolPtr(true)})
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, float64(1), requests(c, routeDNSCache))
}

func TestCallerTransport(t *testing.T) {
	var seen []string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = append(seen, req.Method+" "+req.URL.String()+" "+req.Header.Get("X-Test"))
		return &http.Response{
			StatusCode: http.StatusTeapot,
			Body:       io.NopCloser(strings.NewReader("tea")),
			Request:    req,
		}, nil
	})
	lookup := newStubLookup()
	c := newTestClient(t, lookup)

	resp, err := c.Fetch(context.Background(), "http://origin.test/pot", &RequestOptions{
		Method:    http.MethodPost,
		Header:    http.Header{"X-Test": {"1"}},
		Body:      strings.NewReader("brew"),
		Transport: rt,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "tea", readBody(t, resp))
	assert.Equal(t, []string{"POST http://origin.test/pot 1"}, seen)
	assert.Zero(t, lookup.calls.Load())
	assert.Equal(t, float64(1), requests(c, routeCustom))
}

func TestTimeout(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
			fmt.Fprint(w, "late")
		case <-r.Context().Done():
		}
	}))
	defer origin.Close()
	c := newTestClient(t, newStubLookup())

	start := time.Now()
	_, err := c.Fetch(context.Background(), origin.URL, &RequestOptions{Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Duration)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.True(t, timeoutErr.Timeout())
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 190*time.Millisecond)
	assert.Equal(t, int64(0), c.pending.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.Timeouts))
}

func TestTimeoutMockClock(t *testing.T) {
	entered := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	}))
	defer origin.Close()
	mock := clock.NewMock()
	c := newTestClient(t, newStubLookup(), WithClock(mock))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), origin.URL, &RequestOptions{Timeout: time.Second})
		errCh <- err
	}()
	<-entered
	assert.Equal(t, int64(1), c.pending.Load())
	mock.Add(time.Second)

	select {
	case err := <-errCh:
		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, time.Second, timeoutErr.Duration)
	case <-time.After(5 * time.Second):
		t.Fatal("request was not aborted")
	}
	assert.Equal(t, int64(0), c.pending.Load())
}

func TestTimeoutClearedOnSuccess(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		fmt.Fprint(w, "done")
	}))
	defer origin.Close()
	mock := clock.NewMock()
	c := newTestClient(t, newStubLookup(), WithClock(mock))

	resp, err := c.Fetch(context.Background(), origin.URL, &RequestOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.pending.Load())

	// the timer is stopped, so the body is still readable past the timeout
	mock.Add(2 * time.Second)
	assert.Equal(t, "done", readBody(t, resp))
	assert.Zero(t, testutil.ToFloat64(c.metrics.Timeouts))
}

func TestProxyString(t *testing.T) {
	assert.Equal(t, "http://proxy.local:8080", Proxy{Host: "proxy.local", Port: 8080}.String())
	assert.Equal(t, "https://u:p@proxy.local:443", Proxy{HTTPS: true, Host: "proxy.local", Port: 443, Username: "u", Password: "p"}.String())
	assert.Equal(t, "http://proxy.local:3128", Proxy{Host: "proxy.local", Port: 3128, Username: "u"}.String())
	assert.Equal(t, "http://[::1]:3128", Proxy{Host: "::1", Port: 3128}.String())
}
