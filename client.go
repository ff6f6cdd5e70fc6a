// Package easyfetch is an HTTP client with per-request timeouts, proxy
// routing and a round-robin DNS cache for direct connections.
package easyfetch

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/taodev/easyfetch/internal/agent"
	"github.com/taodev/easyfetch/internal/cache"
	"github.com/taodev/easyfetch/internal/metrics"
	"github.com/taodev/easyfetch/internal/resolver"
	"github.com/taodev/easyfetch/internal/rewrite"
	"github.com/taodev/easyfetch/internal/route"
	"github.com/taodev/easyfetch/internal/transport"
	"github.com/taodev/easyfetch/pkg/bootstrap"
)

type Client struct {
	opts   *Options
	logger *slog.Logger
	clock  clock.Clock

	cache    *cache.Cache
	resolver *resolver.Resolver
	agents   *agent.Pair
	direct   *http.Transport
	proxies  *proxyPool
	metrics  *metrics.Metrics

	// armed request timers not yet cleared
	pending   atomic.Int64
	closeOnce sync.Once
}

type config struct {
	clock    clock.Clock
	registry prometheus.Registerer
	lookup   resolver.LookupFunc
}

type Option func(*config)

// WithClock replaces the clock driving cache expiry and request timeouts.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) {
		cfg.clock = c
	}
}

// WithRegisterer registers the client metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *config) {
		cfg.registry = reg
	}
}

// WithLookup replaces the configured DNS upstreams with fn.
func WithLookup(fn resolver.LookupFunc) Option {
	return func(cfg *config) {
		cfg.lookup = fn
	}
}

// New builds a client. opts must already carry its defaults, see
// Options.Default. A nil logger logs text to stdout at opts.LogLevel.
func New(opts *Options, logger *slog.Logger, options ...Option) (*Client, error) {
	cfg := &config{clock: clock.New()}
	for _, o := range options {
		o(cfg)
	}
	if logger == nil {
		logger = NewLogger(opts.LoggerLevel())
	}
	c := &Client{
		opts:    opts,
		logger:  logger,
		clock:   cfg.clock,
		metrics: metrics.New(cfg.registry),
	}

	lookup := cfg.lookup
	if lookup == nil {
		router, err := newRouter(&opts.Resolver)
		if err != nil {
			return nil, err
		}
		lookup = router.LookupA
	}

	var err error
	// 初始化缓存
	if c.cache, err = cache.New(&opts.Cache); err != nil {
		return nil, fmt.Errorf("dns cache: %w", err)
	}
	c.resolver = resolver.New(resolver.Config{
		Cache:   c.cache,
		Lookup:  lookup,
		Clock:   c.clock,
		Metrics: c.metrics,
		Timeout: opts.Resolver.Timeout,
	})
	if c.agents, err = agent.NewPair(opts.Transport, c.resolver); err != nil {
		c.cache.Close()
		return nil, err
	}
	if c.direct, err = agent.NewDirect(opts.Transport); err != nil {
		c.cache.Close()
		return nil, err
	}
	c.proxies = newProxyPool(opts.Transport, logger)
	return c, nil
}

func newRouter(opts *ResolverOptions) (*route.Router, error) {
	// 初始化 bootstrap dns
	if len(opts.BootstrapDNS) > 0 {
		if err := bootstrap.SetDNS(opts.BootstrapDNS); err != nil {
			return nil, err
		}
	}
	upstream := opts.Upstream
	if len(upstream) == 0 {
		upstream = transport.SystemUpstreams(opts.ResolvConf)
	}
	outbounds, err := transport.NewManager(upstream)
	if err != nil {
		return nil, err
	}
	rewriter, err := rewrite.NewRewriter(opts.Hosts)
	if err != nil {
		return nil, err
	}
	return route.NewRouter(&opts.Route, outbounds, rewriter)
}

// NewLogger returns a text logger with a 2006-01-02 15:04:05 time format.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				// 自定义时间格式：2006-01-02 15:04:05
				t := a.Value.Time()
				a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
			}
			return a
		},
	}))
}

// Close drops idle connections of every transport and the address cache.
// The client must not be used afterwards.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.agents.CloseIdleConnections()
		c.direct.CloseIdleConnections()
		c.proxies.closeIdle()
		c.cache.Close()
	})
	return nil
}
