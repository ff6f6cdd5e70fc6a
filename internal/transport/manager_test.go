package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taodev/easyfetch/internal/dnstest"
)

func query(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	return m
}

func TestManagerExchange(t *testing.T) {
	srv := dnstest.NewServer(t)
	srv.SetA("example.com", 60, "1.1.1.1", "2.2.2.2")

	m, err := NewManager(map[string]string{
		"plain": srv.Addr,
		"udp":   "udp://" + srv.Addr,
		"tcp":   "tcp://" + srv.Addr,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", "tcp", "udp"}, m.Tags())

	for _, tag := range m.Tags() {
		req := query("example.com")
		resp, _, err := m.Exchange(context.Background(), tag, req)
		require.NoError(t, err, tag)
		assert.Equal(t, req.Id, resp.Id)
		require.Len(t, resp.Answer, 2, tag)
		assert.Equal(t, "1.1.1.1", resp.Answer[0].(*dns.A).A.String())
	}

	m.Remove("tcp")
	_, ok := m.Get("tcp")
	assert.False(t, ok)
	_, _, err = m.Exchange(context.Background(), "tcp", query("example.com"))
	assert.Error(t, err)
}

func TestManagerUDPFallsBackToTCP(t *testing.T) {
	srv := dnstest.NewServer(t)
	srv.SetA("big.example", 60, "10.0.0.1")
	srv.SetTruncate(true)

	m, err := NewManager(map[string]string{"udp": srv.Addr})
	require.NoError(t, err)
	resp, _, err := m.Exchange(context.Background(), "udp", query("big.example"))
	require.NoError(t, err)
	assert.False(t, resp.Truncated)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, 2, srv.Queries())
}

func TestManagerRejectsBadUpstream(t *testing.T) {
	_, err := NewManager(map[string]string{"x": "quic://1.1.1.1"})
	assert.Error(t, err)
	_, err = NewManager(map[string]string{"x": "udp://:53"})
	assert.Error(t, err)
}

func TestExchangeHonoursContext(t *testing.T) {
	m, err := NewManager(map[string]string{"tcp": "tcp://127.0.0.1:1"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = m.Exchange(ctx, "tcp", query("example.com"))
	assert.Error(t, err)
}

func TestSystemUpstreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("nameserver 10.0.0.53\nnameserver fe80::1%eth0\nnameserver 10.0.0.54\n"), 0o644))
	assert.Equal(t, map[string]string{
		"system":   "udp://10.0.0.53:53",
		"system-1": "udp://10.0.0.54:53",
	}, SystemUpstreams(path))

	fallback := SystemUpstreams(filepath.Join(t.TempDir(), "missing.conf"))
	assert.NotEmpty(t, fallback)
	assert.Contains(t, fallback, "system")
}
