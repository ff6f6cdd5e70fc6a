package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/taodev/easyfetch/internal/adapter"
	"github.com/taodev/easyfetch/internal/cache"
	"github.com/taodev/easyfetch/internal/metrics"
	"github.com/taodev/easyfetch/internal/utils"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 5 * time.Second
	familyIPv4     = 4
)

// ErrNoAddresses is reported when an upstream answer carries no A record.
var ErrNoAddresses = errors.New("no addresses")

type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// LookupFunc performs one upstream A resolution and returns every address
// with its TTL, in answer order.
type LookupFunc func(ctx context.Context, host string) ([]adapter.Address, error)

type Answer struct {
	Address string
	Family  int
}

type Config struct {
	Cache   *cache.Cache
	Lookup  LookupFunc
	Clock   clock.Clock
	Metrics *metrics.Metrics
	// Timeout bounds a single upstream lookup.
	Timeout time.Duration
}

type Resolver struct {
	cache   *cache.Cache
	lookup  LookupFunc
	clock   clock.Clock
	metrics *metrics.Metrics
	timeout time.Duration
	group   singleflight.Group
}

func New(cfg Config) *Resolver {
	r := &Resolver{
		cache:   cfg.Cache,
		lookup:  cfg.Lookup,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		timeout: cfg.Timeout,
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	return r
}

// Resolve returns one IPv4 address for host. A live cached record is
// rotated; otherwise the upstream is queried and its first address is
// returned. Cancelling ctx abandons the wait but not the lookup, which still
// fills the cache.
func (r *Resolver) Resolve(ctx context.Context, host string) (Answer, error) {
	key := utils.NormalizeHost(host)
	if rec, ok := r.cache.Get(key); ok {
		if addr, ok := rec.Next(r.clock.Now()); ok {
			r.metrics.CacheHits.Inc()
			slog.Debug("dns cache hit", "host", key, "addr", addr)
			return Answer{Address: addr, Family: familyIPv4}, nil
		}
		// only drop the record we saw expire, not a fresher one
		if cur, ok := r.cache.Get(key); ok && cur == rec {
			r.cache.Delete(key)
		}
		r.metrics.CacheExpired.Inc()
		slog.Debug("dns cache expired", "host", key)
	}
	r.metrics.CacheMisses.Inc()

	ch := r.group.DoChan(key, func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Answer{}, res.Err
		}
		return Answer{Address: res.Val.(string), Family: familyIPv4}, nil
	case <-ctx.Done():
		return Answer{}, &ResolutionError{Host: key, Err: ctx.Err()}
	}
}

func (r *Resolver) refresh(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		r.metrics.Lookups.WithLabelValues("error").Inc()
		slog.Warn("dns lookup failed", "host", host, "err", err)
		return "", &ResolutionError{Host: host, Err: err}
	}
	if len(addrs) == 0 {
		r.metrics.Lookups.WithLabelValues("empty").Inc()
		slog.Warn("dns lookup returned no addresses", "host", host)
		return "", &ResolutionError{Host: host, Err: ErrNoAddresses}
	}

	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	ttl := time.Duration(utils.MinTTL(addrs)) * time.Second
	rec := cache.NewRecord(ips, ttl, r.clock.Now())
	r.cache.Put(host, rec)
	r.metrics.Lookups.WithLabelValues("ok").Inc()
	slog.Info("dns lookup", "host", host, "addrs", ips, "ttl", ttl)
	return rec.First(), nil
}
