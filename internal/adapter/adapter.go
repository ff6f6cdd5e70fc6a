package adapter

import (
	"context"
	"time"

	"github.com/miekg/dns"
)

// Address is one A record of an upstream answer.
type Address struct {
	IP  string
	TTL uint32 // seconds
}

type Outbound interface {
	Tag() string
	Exchange(ctx context.Context, req *dns.Msg) (*dns.Msg, time.Duration, error)
}

type OutboundManager interface {
	Get(tag string) (Outbound, bool)
	Tags() []string
}

// Lookuper is the upstream resolution primitive consumed by the resolver.
type Lookuper interface {
	LookupA(ctx context.Context, host string) ([]Address, error)
}
