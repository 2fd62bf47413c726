package server

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sinkdns/sinkdns/config"
	"github.com/sinkdns/sinkdns/mock"
)

type echoHandler struct{}

func (echoHandler) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(req)
	_ = w.WriteMsg(msg)
}

func testServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()

	cfg := new(config.Config)
	cfg.Bind = "127.0.0.1:0"
	for _, m := range mutate {
		m(cfg)
	}

	s, err := New(cfg, echoHandler{})
	require.NoError(t, err)

	return s
}

func Test_ServerLifecycle(t *testing.T) {
	s := testServer(t)

	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, "stopped", st.State)

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)

	st = s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, "running", st.State)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	assert.False(t, s.Status().Running)
}

func Test_ServerBindFailure(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	s := testServer(t, func(cfg *config.Config) { cfg.Bind = pc.LocalAddr().String() })

	err = s.Start()
	require.Error(t, err)

	st := s.Status()
	assert.False(t, st.Running)
	assert.NotEmpty(t, st.LastErr)
}

func Test_ServerServes(t *testing.T) {
	s := testServer(t)
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	addr := s.udp.PacketConn.LocalAddr().String()

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	client := &dns.Client{Net: "udp", Timeout: time.Second}
	resp, _, err := client.Exchange(req, addr)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
}

func Test_ServerRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("restart waits out the settle delay")
	}

	s := testServer(t)

	assert.ErrorIs(t, s.Restart(), ErrNotRunning)

	require.NoError(t, s.Start())
	require.NoError(t, s.Restart())
	defer func() { _ = s.Stop() }()

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.Restarts)
}

func Test_AccessList(t *testing.T) {
	s := testServer(t, func(cfg *config.Config) { cfg.AccessList = []string{"10.0.0.0/8"} })

	w := mock.NewWriter("udp", "10.1.2.3:5353")
	s.serve(w, new(dns.Msg))
	assert.True(t, w.Written())

	w = mock.NewWriter("udp", "192.168.1.20:5353")
	s.serve(w, new(dns.Msg))
	assert.False(t, w.Written())

	_, err := newAccessList([]string{"not-a-cidr"})
	assert.Error(t, err)
}

func Test_RateLimit(t *testing.T) {
	limiter := newRateLimiter(2)

	ip := net.ParseIP("192.168.1.50")
	assert.True(t, limiter.allow(ip))
	assert.True(t, limiter.allow(ip))
	assert.False(t, limiter.allow(ip))

	// other clients have their own budget
	assert.True(t, limiter.allow(net.ParseIP("192.168.1.51")))

	// loopback is exempt
	lo := net.ParseIP("127.0.0.1")
	for i := 0; i < 10; i++ {
		assert.True(t, limiter.allow(lo))
	}

	// zero disables limiting
	off := newRateLimiter(0)
	for i := 0; i < 10; i++ {
		assert.True(t, off.allow(ip))
	}
}
