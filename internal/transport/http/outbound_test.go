package http

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dohHandler(t *testing.T) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, nethttp.MethodPost, r.Method)
		assert.Equal(t, dnsContentType, r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		req := new(dns.Msg)
		require.NoError(t, req.Unpack(body))
		assert.Equal(t, uint16(0), req.Id)

		resp := new(dns.Msg)
		resp.SetReply(req)
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 42},
			A:   []byte{4, 4, 4, 4},
		})
		buf, err := resp.Pack()
		require.NoError(t, err)
		w.Header().Set("Content-Type", dnsContentType)
		w.Write(buf)
	}
}

func TestExchange(t *testing.T) {
	srv := httptest.NewServer(dohHandler(t))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	// dial the listener directly while the url names another host
	out, err := NewOutbound("doh", "https", "http://doh.test:"+u.Port()+"/dns-query", u.Host)
	require.NoError(t, err)
	assert.Equal(t, "doh", out.Tag())

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.Id = 1234
	resp, _, err := out.Exchange(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), resp.Id)
	assert.Equal(t, uint16(1234), req.Id)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, uint32(42), resp.Answer[0].Header().Ttl)
}

func TestExchangeStatus(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.Error(w, "nope", nethttp.StatusBadGateway)
	}))
	defer srv.Close()

	out, err := NewOutbound("doh", "https", srv.URL, "")
	require.NoError(t, err)
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	_, _, err = out.Exchange(context.Background(), req)
	assert.ErrorContains(t, err, "502")
}
