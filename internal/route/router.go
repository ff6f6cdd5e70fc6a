package route

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/miekg/dns"
	"github.com/taodev/easyfetch/internal/adapter"
	"github.com/taodev/easyfetch/internal/rewrite"
	"github.com/taodev/easyfetch/internal/utils"
)

type RuleOptions struct {
	// 域名，同时匹配其子域名
	Domain string `yaml:"domain"`
	// 上游
	Upstream string `yaml:"upstream"`
}

type Options struct {
	// 路由规则
	Rules []RuleOptions `yaml:"rules"`
	// 默认上游
	Default string `yaml:"default"`
}

type rule struct {
	suffix   string
	outbound adapter.Outbound
}

type Router struct {
	rules    []rule
	outbound adapter.OutboundManager
	endpoint adapter.Outbound
	rewriter *rewrite.Rewriter
}

// NewRouter binds every rule to its outbound. Without a default the first
// tag of the manager is used.
func NewRouter(options *Options, outbound adapter.OutboundManager, rewriter *rewrite.Rewriter) (*Router, error) {
	router := &Router{
		outbound: outbound,
		rewriter: rewriter,
	}
	def := options.Default
	if def == "" {
		if tags := outbound.Tags(); len(tags) > 0 {
			def = tags[0]
		}
	}
	var ok bool
	if router.endpoint, ok = outbound.Get(def); !ok {
		return nil, fmt.Errorf("default outbound %q not found", def)
	}
	for _, opt := range options.Rules {
		out, ok := outbound.Get(opt.Upstream)
		if !ok {
			return nil, fmt.Errorf("outbound %s not found for rule %s", opt.Upstream, opt.Domain)
		}
		router.rules = append(router.rules, rule{
			suffix:   utils.NormalizeHost(opt.Domain),
			outbound: out,
		})
	}
	return router, nil
}

// Route returns the outbound of the first rule whose domain equals host or
// is a parent of it.
func (r *Router) Route(domain string) adapter.Outbound {
	domain = utils.NormalizeHost(domain)
	for _, rule := range r.rules {
		if domain == rule.suffix || strings.HasSuffix(domain, "."+rule.suffix) {
			return rule.outbound
		}
	}
	return r.endpoint
}

// LookupA resolves the IPv4 addresses of host with their TTLs, in answer
// order. Static hosts win over upstreams.
func (r *Router) LookupA(ctx context.Context, host string) ([]adapter.Address, error) {
	if r.rewriter != nil {
		if addrs, ok := r.rewriter.Rewrite(host); ok {
			slog.Debug("request", "upstream", "rewrite", "domain", host)
			return addrs, nil
		}
	}

	outbound := r.Route(host)
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(utils.NormalizeHost(host)), dns.TypeA)
	req.RecursionDesired = true
	resp, rtt, err := outbound.Exchange(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", outbound.Tag(), err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s: %s", outbound.Tag(), dns.RcodeToString[resp.Rcode])
	}

	var addrs []adapter.Address
	for _, rr := range resp.Answer {
		// CNAME 链直接跳过
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		addrs = append(addrs, adapter.Address{IP: net.IP(a.A).String(), TTL: a.Hdr.Ttl})
	}
	slog.Debug("route", "domain", host, "outbound", outbound.Tag(), "answers", len(addrs), "rtt", rtt)
	return addrs, nil
}
