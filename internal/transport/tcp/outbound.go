package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/taodev/easyfetch/internal/adapter"
)

const (
	defaultTimeout = 10 * time.Second
)

type dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

type Outbound struct {
	tag    string
	typ    string
	addr   string
	dialer dialer
}

// NewOutbound returns a DNS-over-TCP outbound for typ "tcp", or DNS over TLS
// for typ "tls" verified against serverName.
func NewOutbound(tag, typ, addr, serverName string) adapter.Outbound {
	out := &Outbound{
		tag:  tag,
		typ:  typ,
		addr: addr,
	}
	switch typ {
	case "tls":
		out.dialer = &tls.Dialer{Config: &tls.Config{
			ServerName: serverName,
			MinVersion: tls.VersionTLS12,
		}}
	default:
		out.dialer = new(net.Dialer)
	}
	return out
}

func (h *Outbound) Tag() string {
	return h.tag
}

func (h *Outbound) Type() string {
	return h.typ
}

func (h *Outbound) Exchange(ctx context.Context, in *dns.Msg) (resp *dns.Msg, rtt time.Duration, err error) {
	now := time.Now()
	conn, err := h.dialer.DialContext(ctx, "tcp", h.addr)
	if err != nil {
		return nil, time.Since(now), err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	deadline := now.Add(defaultTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err = conn.SetDeadline(deadline); err != nil {
		return nil, time.Since(now), err
	}
	if err = write(conn, in); err != nil {
		return nil, time.Since(now), err
	}
	if resp, err = read(conn); err != nil {
		return nil, time.Since(now), err
	}
	if resp.Id != in.Id {
		return nil, time.Since(now), fmt.Errorf("unexpected id: %d", resp.Id)
	}
	return resp, time.Since(now), nil
}
