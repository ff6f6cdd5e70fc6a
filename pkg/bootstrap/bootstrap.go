package bootstrap

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

const queryTimeout = time.Second

var (
	bootstrapDNS = []string{
		"223.5.5.5:53",
		"223.6.6.6:53",
	}
	bootstrapMux sync.RWMutex
)

// SetDNS replaces the servers used to resolve upstream hostnames. Every
// entry must be an IP literal, with or without a port.
func SetDNS(servers []string) (err error) {
	if len(servers) == 0 {
		return fmt.Errorf("bootstrap: empty dns server")
	}

	var dnsList []string
	for i, addr := range servers {
		if addr == "" {
			return fmt.Errorf("bootstrap: dns[%d] is empty", i)
		}
		if strings.Contains(addr, "://") {
			return fmt.Errorf("bootstrap: dns[%d] is invalid dns: %s", i, addr)
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			// 若用户未加端口，尝试补 ":53"
			addr = net.JoinHostPort(addr, "53")
			host, port, err = net.SplitHostPort(addr)
			if err != nil {
				return fmt.Errorf("bootstrap: dns[%d] is invalid dns: %s", i, addr)
			}
		}
		if net.ParseIP(host) == nil {
			return fmt.Errorf("bootstrap: dns[%d] is invalid dns: %s", i, addr)
		}
		dnsList = append(dnsList, net.JoinHostPort(host, port))
	}

	bootstrapMux.Lock()
	bootstrapDNS = dnsList
	bootstrapMux.Unlock()
	return
}

// Servers returns a copy of the configured bootstrap servers.
func Servers() []string {
	bootstrapMux.RLock()
	defer bootstrapMux.RUnlock()
	return append([]string(nil), bootstrapDNS...)
}

// Resolve returns the first A record for domain, asking each bootstrap
// server in turn.
func Resolve(ctx context.Context, domain string) (string, error) {
	c := &dns.Client{
		Net:     "udp",
		Timeout: queryTimeout, // 最长 1 秒
	}
	for _, v := range Servers() {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
		r, _, err := c.ExchangeContext(ctx, m, v)
		if err != nil {
			continue
		}
		if r.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, a := range r.Answer {
			if a, ok := a.(*dns.A); ok {
				return a.A.String(), nil
			}
		}
	}
	return "", fmt.Errorf("bootstrap: no A record found for %s", domain)
}
