package utils

import (
	"strings"

	"github.com/taodev/easyfetch/internal/adapter"
	"golang.org/x/net/idna"
)

const (
	TypeUDP   = "udp"
	TypeTCP   = "tcp"
	TypeTLS   = "tls"
	TypeHTTPS = "https"
)

// MinTTL returns the smallest TTL across addrs, zero included.
func MinTTL(addrs []adapter.Address) uint32 {
	if len(addrs) == 0 {
		return 0
	}
	minTTL := addrs[0].TTL
	for _, a := range addrs[1:] {
		if a.TTL < minTTL {
			minTTL = a.TTL
		}
	}
	return minTTL
}

// NormalizeHost lower-cases host, strips the trailing dot and converts
// internationalized names to their ASCII form so that every spelling of a
// hostname maps to the same cache key.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}
