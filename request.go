package easyfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RequestOptions tunes a single request. The zero value uses the client
// defaults.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   io.Reader

	// Timeout aborts the request when the response headers have not arrived
	// in time. Zero falls back to Options.Timeout; negative disables it.
	Timeout time.Duration
	// Proxy is a proxy URL, http://, https:// or socks5://. ProxyConfig is
	// used when Proxy is empty. Either one disables DNS caching.
	Proxy       string
	ProxyConfig *Proxy
	// DNSCaching overrides Options.DNSCaching when set.
	DNSCaching *bool
	// Transport carries the request when no proxy is set, in place of the
	// DNS caching transports.
	Transport http.RoundTripper
}

const (
	routeProxy    = "proxy"
	routeCustom   = "custom"
	routeDNSCache = "dns-cache"
	routeDirect   = "direct"
)

type timeoutDelta struct {
	timeout time.Duration
}

type transportDelta struct {
	transport http.RoundTripper
	route     string
}

// requestConfig is the effective configuration of one request.
type requestConfig struct {
	timeout   time.Duration
	transport http.RoundTripper
	route     string
}

func (c *Client) timeoutStep(ro *RequestOptions) timeoutDelta {
	switch {
	case ro.Timeout > 0:
		return timeoutDelta{timeout: ro.Timeout}
	case ro.Timeout == 0 && c.opts.Timeout > 0:
		return timeoutDelta{timeout: c.opts.Timeout}
	}
	return timeoutDelta{}
}

func (c *Client) proxyStep(ro *RequestOptions) (*transportDelta, error) {
	raw := ro.Proxy
	if raw == "" && ro.ProxyConfig != nil {
		raw = ro.ProxyConfig.String()
	}
	if raw == "" {
		return nil, nil
	}
	u, err := parseProxy(raw)
	if err != nil {
		return nil, err
	}
	t, err := c.proxies.get(u)
	if err != nil {
		return nil, err
	}
	return &transportDelta{transport: t, route: routeProxy}, nil
}

func (c *Client) dnsCachingStep(ro *RequestOptions) *transportDelta {
	enabled := c.opts.DNSCaching
	if ro.DNSCaching != nil {
		enabled = *ro.DNSCaching
	}
	if !enabled {
		return nil
	}
	return &transportDelta{transport: c.agents, route: routeDNSCache}
}

// merge builds the effective configuration. A proxy owns the dial path, so
// it wins over a caller transport, which wins over DNS caching.
func merge(timeout timeoutDelta, proxy, custom, caching *transportDelta, direct transportDelta) requestConfig {
	cfg := requestConfig{timeout: timeout.timeout}
	switch {
	case proxy != nil:
		cfg.transport, cfg.route = proxy.transport, proxy.route
	case custom != nil:
		cfg.transport, cfg.route = custom.transport, custom.route
	case caching != nil:
		cfg.transport, cfg.route = caching.transport, caching.route
	default:
		cfg.transport, cfg.route = direct.transport, direct.route
	}
	return cfg
}

func (c *Client) configure(ro *RequestOptions) (requestConfig, error) {
	timeout := c.timeoutStep(ro)
	proxy, err := c.proxyStep(ro)
	if err != nil {
		return requestConfig{}, err
	}
	var custom *transportDelta
	if ro.Transport != nil {
		custom = &transportDelta{transport: ro.Transport, route: routeCustom}
	}
	caching := c.dnsCachingStep(ro)
	return merge(timeout, proxy, custom, caching, transportDelta{transport: c.direct, route: routeDirect}), nil
}

// Fetch sends a request for rawURL. Method defaults to GET.
func (c *Client) Fetch(ctx context.Context, rawURL string, ro *RequestOptions) (*http.Response, error) {
	if ro == nil {
		ro = &RequestOptions{}
	}
	method := ro.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, ro.Body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for k, vs := range ro.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(req, ro)
}

// Do sends req with the timeout, proxy and DNS caching behaviour of ro.
// Method, Header and Body of ro are ignored. On success the caller must
// close the response body.
func (c *Client) Do(req *http.Request, ro *RequestOptions) (*http.Response, error) {
	if ro == nil {
		ro = &RequestOptions{}
	}
	cfg, err := c.configure(ro)
	if err != nil {
		return nil, err
	}
	c.metrics.Requests.WithLabelValues(cfg.route).Inc()

	var d *deadline
	if cfg.timeout > 0 {
		d = c.arm(req.Context(), cfg.timeout)
		req = req.WithContext(d.ctx)
	}
	client := &http.Client{Transport: cfg.transport}
	resp, err := client.Do(req)
	if d != nil {
		d.clear()
	}
	if err != nil {
		if d != nil {
			d.release()
		}
		err = classify(err, d)
		c.logger.Debug("request failed", "url", req.URL.Redacted(), "transport", cfg.route, "err", err)
		return nil, err
	}
	if d != nil {
		resp.Body = &releaseBody{ReadCloser: resp.Body, release: d.release}
	}
	c.logger.Debug("request", "method", req.Method, "url", req.URL.Redacted(), "transport", cfg.route, "status", resp.StatusCode)
	return resp, nil
}
