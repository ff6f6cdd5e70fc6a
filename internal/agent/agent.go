package agent

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/taodev/easyfetch/internal/resolver"
	"golang.org/x/net/http2"
)

type Options struct {
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max-idle-conns" default:"100"`
	// 每个主机最大空闲连接数
	MaxIdleConnsPerHost int `yaml:"max-idle-conns-per-host" default:"10"`
	// 空闲连接超时
	IdleConnTimeout time.Duration `yaml:"idle-conn-timeout" default:"90s"`
	// 建连超时
	DialTimeout time.Duration `yaml:"dial-timeout" default:"30s"`
	KeepAlive   time.Duration `yaml:"keep-alive" default:"30s"`
	// TLS 握手超时
	TLSHandshakeTimeout time.Duration `yaml:"tls-handshake-timeout" default:"10s"`
	// 是否启用 HTTP/2
	HTTP2              bool `yaml:"http2" default:"true"`
	InsecureSkipVerify bool `yaml:"insecure-skip-verify"`
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Resolver interface {
	Resolve(ctx context.Context, host string) (resolver.Answer, error)
}

// Pair is the plain and the encrypted keep-alive transport used by requests
// with DNS caching. Both dial through the same resolver.
type Pair struct {
	plain    *http.Transport
	secure   *http.Transport
	resolver Resolver
	dialer   *net.Dialer
}

func NewPair(opts Options, r Resolver) (*Pair, error) {
	p := &Pair{
		resolver: r,
		dialer:   newDialer(opts),
	}
	var err error
	if p.plain, err = newTransport(opts, p.DialContext, false); err != nil {
		return nil, err
	}
	if p.secure, err = newTransport(opts, p.DialContext, true); err != nil {
		return nil, err
	}
	return p, nil
}

// NewDirect returns a transport that resolves hosts with the system
// resolver on every dial.
func NewDirect(opts Options) (*http.Transport, error) {
	return newTransport(opts, newDialer(opts).DialContext, true)
}

// NewProxied returns a transport sending every request through proxy.
// http, https and socks5 proxies are supported.
func NewProxied(opts Options, proxy *url.URL) (*http.Transport, error) {
	t, err := NewDirect(opts)
	if err != nil {
		return nil, err
	}
	t.Proxy = http.ProxyURL(proxy)
	return t, nil
}

func newDialer(opts Options) *net.Dialer {
	return &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: opts.KeepAlive,
	}
}

func newTransport(opts Options, dial dialFunc, secure bool) (*http.Transport, error) {
	t := &http.Transport{
		DialContext:         dial,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		TLSHandshakeTimeout: opts.TLSHandshakeTimeout,
	}
	if !secure {
		return t, nil
	}
	t.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	if opts.HTTP2 {
		h2, err := http2.ConfigureTransports(t)
		if err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
		h2.ReadIdleTimeout = opts.IdleConnTimeout / 3
	}
	return t, nil
}

// Lookup resolves host to one IPv4 address and its family.
func (p *Pair) Lookup(ctx context.Context, host string) (string, int, error) {
	ans, err := p.resolver.Resolve(ctx, host)
	if err != nil {
		return "", 0, err
	}
	return ans.Address, ans.Family, nil
}

// DialContext connects to addr, resolving a hostname through the cache.
// IP literals are dialed as given.
func (p *Pair) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(host) != nil {
		return p.dialer.DialContext(ctx, network, addr)
	}
	ip, family, err := p.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	if family == 4 {
		network = "tcp4"
	}
	slog.Debug("dial", "host", host, "addr", ip, "port", port)
	return p.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

// Select returns the encrypted transport for https targets and the plain one
// otherwise.
func (p *Pair) Select(u *url.URL) *http.Transport {
	if u != nil && u.Scheme == "https" {
		return p.secure
	}
	return p.plain
}

func (p *Pair) RoundTrip(req *http.Request) (*http.Response, error) {
	return p.Select(req.URL).RoundTrip(req)
}

func (p *Pair) CloseIdleConnections() {
	p.plain.CloseIdleConnections()
	p.secure.CloseIdleConnections()
}
