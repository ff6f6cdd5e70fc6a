package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/miekg/dns"
	"github.com/taodev/easyfetch/internal/adapter"
	"github.com/taodev/easyfetch/internal/transport/tcp"
)

const (
	defaultTimeout = 3 * time.Second
	udpBufferSize  = 4096
)

type Outbound struct {
	tag      string
	typ      string
	addr     string
	fallback adapter.Outbound
}

func NewOutbound(tag, typ, addr string) adapter.Outbound {
	return &Outbound{
		tag:      tag,
		typ:      typ,
		addr:     addr,
		fallback: tcp.NewOutbound(tag, "tcp", addr, ""),
	}
}

func (o *Outbound) Tag() string {
	return o.tag
}

func (o *Outbound) Type() string {
	return o.typ
}

func (o *Outbound) Exchange(ctx context.Context, req *dns.Msg) (resp *dns.Msg, rtt time.Duration, err error) {
	now := time.Now()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", o.addr)
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
	buf, err := req.Pack()
	if err != nil {
		return nil, time.Since(now), err
	}
	if _, err = conn.Write(buf); err != nil {
		return nil, time.Since(now), err
	}
	respBuf := mcache.Malloc(udpBufferSize)
	defer mcache.Free(respBuf)
	n, err := conn.Read(respBuf)
	if err != nil {
		return nil, time.Since(now), err
	}
	resp = new(dns.Msg)
	if err = resp.Unpack(respBuf[:n]); err != nil {
		return nil, time.Since(now), err
	}
	if resp.Id != req.Id {
		return nil, time.Since(now), fmt.Errorf("unexpected id: %d", resp.Id)
	}
	if resp.Truncated {
		slog.Debug("udp answer truncated, retrying over tcp", "upstream", o.tag)
		return o.fallback.Exchange(ctx, req)
	}
	return resp, time.Since(now), nil
}
