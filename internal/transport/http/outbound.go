package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/miekg/dns"
	"github.com/taodev/easyfetch/internal/adapter"
)

const (
	defaultTimeout = 10 * time.Second
	dnsContentType = "application/dns-message"
)

// Outbound is a DNS-over-HTTPS upstream.
type Outbound struct {
	tag    string
	typ    string
	url    string
	client *http.Client
}

// NewOutbound returns a DoH outbound posting to rawURL. When addr is not
// empty every connection is dialed to addr instead of resolving the URL
// host, which still serves as the TLS server name.
func NewOutbound(tag, typ, rawURL, addr string) (adapter.Outbound, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse http outbound url: %w", err)
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			ServerName: u.Hostname(),
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2: true,
		IdleConnTimeout:   90 * time.Second,
	}
	if addr != "" {
		var dialer net.Dialer
		transport.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		}
	}
	return &Outbound{
		tag: tag,
		typ: typ,
		url: rawURL,
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
	}, nil
}

func (h *Outbound) Tag() string {
	return h.tag
}

func (h *Outbound) Type() string {
	return h.typ
}

func (h *Outbound) Exchange(ctx context.Context, req *dns.Msg) (resp *dns.Msg, rtt time.Duration, err error) {
	now := time.Now()
	// In order to maximize HTTP cache friendliness, DoH clients using media
	// formats that include the ID field from the DNS message header, such as
	// "application/dns-message", SHOULD use a DNS ID of 0 in every DNS request.
	//
	// See https://www.rfc-editor.org/rfc/rfc8484.html.
	id := req.Id
	req.Id = 0
	defer func() {
		// Restore the original ID to not break compatibility with proxies.
		req.Id = id
		if resp != nil {
			resp.Id = id
		}
	}()

	buf, err := req.Pack()
	if err != nil {
		return nil, time.Since(now), err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(buf))
	if err != nil {
		return nil, time.Since(now), err
	}
	httpReq.Header.Set("User-Agent", "")
	httpReq.Header.Set("Content-Type", dnsContentType)
	httpReq.Header.Set("Accept", dnsContentType)
	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, time.Since(now), err
	}
	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, time.Since(now), err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, time.Since(now), fmt.Errorf("unexpected status code: %d", httpResp.StatusCode)
	}

	resp = new(dns.Msg)
	if err = resp.Unpack(respBody); err != nil {
		return nil, time.Since(now), err
	}
	if resp.Id != 0 {
		return nil, time.Since(now), fmt.Errorf("unexpected id: %d", resp.Id)
	}
	return resp, time.Since(now), nil
}
