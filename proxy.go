package easyfetch

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/taodev/easyfetch/internal/agent"
)

// Proxy is the structured form of a proxy address.
type Proxy struct {
	HTTPS    bool   `yaml:"https"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// String renders p as scheme://[user:pass@]host:port. Credentials are only
// included when both username and password are set.
func (p Proxy) String() string {
	scheme := "http"
	if p.HTTPS {
		scheme = "https"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.Username != "" && p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

func parseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("invalid proxy %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", raw)
	}
	return u, nil
}

// proxyPool keeps one transport per proxy URL so connections to a proxy are
// reused across requests.
type proxyPool struct {
	access     sync.Mutex
	opts       agent.Options
	logger     *slog.Logger
	transports map[string]*http.Transport
}

func newProxyPool(opts agent.Options, logger *slog.Logger) *proxyPool {
	return &proxyPool{
		opts:       opts,
		logger:     logger,
		transports: make(map[string]*http.Transport),
	}
}

func (p *proxyPool) get(u *url.URL) (*http.Transport, error) {
	key := u.String()
	p.access.Lock()
	defer p.access.Unlock()
	if t, ok := p.transports[key]; ok {
		return t, nil
	}
	t, err := agent.NewProxied(p.opts, u)
	if err != nil {
		return nil, err
	}
	p.transports[key] = t
	p.logger.Info("proxy transport", "proxy", u.Redacted())
	return t, nil
}

func (p *proxyPool) closeIdle() {
	p.access.Lock()
	defer p.access.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}
