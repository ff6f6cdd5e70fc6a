// Package dnstest runs in-process DNS servers for tests.
package dnstest

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// Server answers A questions from a static table over both UDP and TCP on
// the same loopback port.
type Server struct {
	Addr string

	mu       sync.RWMutex
	answers  map[string][]dns.RR
	rcode    int
	truncate bool
	queries  atomic.Int32
}

// NewServer starts a server that is shut down when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{answers: make(map[string][]dns.RR)}

	var (
		pc  net.PacketConn
		ln  net.Listener
		err error
	)
	for i := 0; i < 10; i++ {
		if ln, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
			continue
		}
		if pc, err = net.ListenPacket("udp", ln.Addr().String()); err == nil {
			break
		}
		ln.Close()
	}
	if err != nil {
		t.Fatalf("dnstest: listen: %v", err)
	}
	s.Addr = ln.Addr().String()

	for _, srv := range []*dns.Server{
		{PacketConn: pc, Handler: dns.HandlerFunc(s.serveUDP)},
		{Listener: ln, Handler: dns.HandlerFunc(s.serveTCP)},
	} {
		started := make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started) }
		go srv.ActivateAndServe()
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("dnstest: server did not start")
		}
		t.Cleanup(func() { srv.Shutdown() })
	}
	return s
}

// SetA replaces the A answer for name; each ip carries its own ttl.
func (s *Server) SetA(name string, ttl uint32, ips ...string) {
	rrs := make([]dns.RR, 0, len(ips))
	for _, ip := range ips {
		rrs = append(rrs, &dns.A{
			Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
			A:   net.ParseIP(ip).To4(),
		})
	}
	s.Set(name, rrs...)
}

// Set replaces the answer section for name.
func (s *Server) Set(name string, rrs ...dns.RR) {
	s.mu.Lock()
	s.answers[strings.ToLower(dns.Fqdn(name))] = rrs
	s.mu.Unlock()
}

// SetRcode makes every reply carry rcode.
func (s *Server) SetRcode(rcode int) {
	s.mu.Lock()
	s.rcode = rcode
	s.mu.Unlock()
}

// SetTruncate makes UDP replies empty and truncated.
func (s *Server) SetTruncate(v bool) {
	s.mu.Lock()
	s.truncate = v
	s.mu.Unlock()
}

// Queries returns how many questions were answered.
func (s *Server) Queries() int {
	return int(s.queries.Load())
}

func (s *Server) reply(req *dns.Msg) *dns.Msg {
	s.queries.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := new(dns.Msg)
	resp.SetRcode(req, s.rcode)
	if s.rcode != dns.RcodeSuccess || len(req.Question) == 0 {
		return resp
	}
	resp.Answer = append(resp.Answer, s.answers[strings.ToLower(req.Question[0].Name)]...)
	return resp
}

func (s *Server) serveUDP(w dns.ResponseWriter, req *dns.Msg) {
	resp := s.reply(req)
	s.mu.RLock()
	truncate := s.truncate
	s.mu.RUnlock()
	if truncate {
		resp.Answer = nil
		resp.Truncated = true
	}
	w.WriteMsg(resp)
}

func (s *Server) serveTCP(w dns.ResponseWriter, req *dns.Msg) {
	w.WriteMsg(s.reply(req))
}
