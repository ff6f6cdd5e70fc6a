package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/taodev/easyfetch/internal/adapter"
	"github.com/taodev/easyfetch/internal/transport/http"
	"github.com/taodev/easyfetch/internal/transport/tcp"
	"github.com/taodev/easyfetch/internal/transport/udp"
	"github.com/taodev/easyfetch/internal/utils"
	"github.com/taodev/easyfetch/pkg/bootstrap"
)

var defaultPorts = map[string]string{
	utils.TypeUDP:   "53",
	utils.TypeTCP:   "53",
	utils.TypeTLS:   "853",
	utils.TypeHTTPS: "443",
}

type Manager struct {
	access sync.RWMutex

	outbounds map[string]adapter.Outbound
}

// NewManager builds one outbound per tag. An address without a scheme is
// taken as udp.
func NewManager(opts map[string]string) (*Manager, error) {
	m := &Manager{
		outbounds: make(map[string]adapter.Outbound),
	}
	for tag, addr := range opts {
		if err := m.Add(tag, addr); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Add(tag string, addr string) error {
	if !strings.Contains(addr, "://") {
		addr = "udp://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", tag, err)
	}
	port, ok := defaultPorts[u.Scheme]
	if !ok {
		// 暂时不支持的协议
		return fmt.Errorf("upstream %s: unsupported protocol %q", tag, u.Scheme)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("upstream %s: missing host in %q", tag, addr)
	}
	ip := host
	if net.ParseIP(host) == nil {
		// 处理域名
		if ip, err = bootstrap.Cache(host); err != nil {
			return fmt.Errorf("upstream %s: %w", tag, err)
		}
	}
	dialAddr := net.JoinHostPort(ip, port)

	var out adapter.Outbound
	switch u.Scheme {
	case utils.TypeTCP, utils.TypeTLS:
		out = tcp.NewOutbound(tag, u.Scheme, dialAddr, host)
	case utils.TypeHTTPS:
		if out, err = http.NewOutbound(tag, u.Scheme, addr, dialAddr); err != nil {
			return fmt.Errorf("upstream %s: %w", tag, err)
		}
	case utils.TypeUDP:
		out = udp.NewOutbound(tag, u.Scheme, dialAddr)
	}

	m.access.Lock()
	m.outbounds[tag] = out
	m.access.Unlock()
	slog.Info("upstream added", "tag", tag, "addr", addr, "dial", dialAddr)
	return nil
}

// 获取 Outbound
func (m *Manager) Get(tag string) (adapter.Outbound, bool) {
	m.access.RLock()
	defer m.access.RUnlock()
	outbound, ok := m.outbounds[tag]
	return outbound, ok
}

// Tags returns every configured tag in sorted order.
func (m *Manager) Tags() []string {
	m.access.RLock()
	defer m.access.RUnlock()
	tags := make([]string, 0, len(m.outbounds))
	for tag := range m.outbounds {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// 移除 Outbound
func (m *Manager) Remove(tag string) {
	m.access.Lock()
	defer m.access.Unlock()
	delete(m.outbounds, tag)
}

// 请求
func (m *Manager) Exchange(ctx context.Context, tag string, in *dns.Msg) (*dns.Msg, time.Duration, error) {
	outbound, ok := m.Get(tag)
	if !ok {
		return nil, 0, fmt.Errorf("outbound:%s not found", tag)
	}
	return outbound.Exchange(ctx, in)
}

// SystemUpstreams reads the nameservers of a resolv.conf file as udp
// upstreams tagged "system", "system-1", ... When the file is missing or
// lists no server, the bootstrap servers are used instead.
func SystemUpstreams(path string) map[string]string {
	var servers []string
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		slog.Debug("resolv.conf unavailable, using bootstrap dns", "path", path, "err", err)
	} else {
		for _, s := range conf.Servers {
			// scoped ipv6 addresses can not be dialed by ip alone
			if net.ParseIP(s) == nil {
				slog.Debug("skip nameserver", "server", s)
				continue
			}
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(servers) == 0 {
		servers = bootstrap.Servers()
	}
	upstreams := make(map[string]string, len(servers))
	for i, s := range servers {
		tag := "system"
		if i > 0 {
			tag = fmt.Sprintf("system-%d", i)
		}
		upstreams[tag] = "udp://" + s
	}
	return upstreams
}
