package mock

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Writer(t *testing.T) {
	w := NewWriter("udp", "192.168.1.20:0")

	assert.False(t, w.Written())
	assert.Equal(t, dns.RcodeServerFailure, w.Rcode())
	assert.Equal(t, "udp", w.LocalAddr().Network())

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	msg := new(dns.Msg)
	msg.SetReply(req)

	require.NoError(t, w.WriteMsg(msg))
	assert.True(t, w.Written())
	assert.Equal(t, dns.RcodeSuccess, w.Rcode())
	assert.Equal(t, msg, w.Msg())

	wt := NewWriter("tcp", "192.168.1.20:0")
	assert.Equal(t, "tcp", wt.LocalAddr().Network())

	packed, err := msg.Pack()
	require.NoError(t, err)

	n, err := wt.Write(packed)
	require.NoError(t, err)
	assert.Equal(t, len(packed), n)
	assert.True(t, wt.Written())
}
