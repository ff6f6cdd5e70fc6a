package rewrite

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/creasty/defaults"
	"github.com/taodev/easyfetch/internal/adapter"
	"github.com/taodev/easyfetch/internal/utils"
)

// 静态解析规则
type RuleOptions struct {
	// 域名
	Domain string `yaml:"domain"`
	// IPv4 地址
	Value string `yaml:"value"`
	// TTL
	TTL time.Duration `yaml:"ttl" default:"60s"`
}

type Options struct {
	// 规则
	Rules []RuleOptions `yaml:"rules"`
}

// Rewriter answers A lookups from static rules before any upstream is asked.
type Rewriter struct {
	hosts map[string][]adapter.Address
}

func NewRewriter(opts Options) (*Rewriter, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	r := &Rewriter{hosts: make(map[string][]adapter.Address)}
	for i, rule := range opts.Rules {
		ip := net.ParseIP(rule.Value)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("hosts rule %d: %q is not an IPv4 address", i, rule.Value)
		}
		if rule.Domain == "" {
			return nil, fmt.Errorf("hosts rule %d: empty domain", i)
		}
		domain := utils.NormalizeHost(rule.Domain)
		r.hosts[domain] = append(r.hosts[domain], adapter.Address{
			IP:  ip.To4().String(),
			TTL: uint32(rule.TTL.Seconds()),
		})
	}
	return r, nil
}

// Rewrite returns the static addresses of domain, in rule order.
func (r *Rewriter) Rewrite(domain string) ([]adapter.Address, bool) {
	addrs, ok := r.hosts[utils.NormalizeHost(domain)]
	if !ok {
		return nil, false
	}
	slog.Debug("hosts rewrite", "domain", domain, "count", len(addrs))
	return append([]adapter.Address(nil), addrs...), true
}
