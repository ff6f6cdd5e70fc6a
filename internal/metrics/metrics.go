package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "easyfetch"

type Metrics struct {
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheExpired prometheus.Counter
	// Lookups counts upstream resolutions by result: ok, error, empty.
	Lookups *prometheus.CounterVec
	// Requests counts outbound requests by the transport that carried them:
	// proxy, custom, dns-cache, direct.
	Requests *prometheus.CounterVec
	Timeouts prometheus.Counter
}

// New creates the collectors and registers them on reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dns_cache",
			Name:      "hits_total",
			Help:      "Resolutions served from the address cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dns_cache",
			Name:      "misses_total",
			Help:      "Resolutions that required an upstream lookup.",
		}),
		CacheExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dns_cache",
			Name:      "expired_total",
			Help:      "Cached records dropped because their TTL elapsed.",
		}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dns",
			Name:      "lookups_total",
			Help:      "Upstream A lookups by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Outbound requests by transport.",
		}, []string{"transport"}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_timeouts_total",
			Help:      "Requests aborted by their timeout.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheHits, m.CacheMisses, m.CacheExpired, m.Lookups, m.Requests, m.Timeouts)
	}
	return m
}
