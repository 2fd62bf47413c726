// Package mock provides a dns.ResponseWriter test double that captures the
// written message instead of sending it anywhere.
package mock

import (
	"net"

	"github.com/miekg/dns"
)

// Writer implements dns.ResponseWriter and records the last written message.
type Writer struct {
	msg *dns.Msg

	localAddr  net.Addr
	remoteAddr net.Addr
}

// NewWriter returns a writer pretending the query arrived over proto from addr.
func NewWriter(proto, addr string) *Writer {
	w := &Writer{}

	switch proto {
	case "tcp":
		w.localAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveTCPAddr("tcp", addr)
	default:
		w.localAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveUDPAddr("udp", addr)
	}

	return w
}

// Msg returns the captured message, nil when nothing was written.
func (w *Writer) Msg() *dns.Msg { return w.msg }

// Rcode returns the captured response code, SERVFAIL when nothing was written.
func (w *Writer) Rcode() int {
	if w.msg == nil {
		return dns.RcodeServerFailure
	}

	return w.msg.Rcode
}

// Written reports whether a message was captured.
func (w *Writer) Written() bool { return w.msg != nil }

func (w *Writer) WriteMsg(msg *dns.Msg) error {
	w.msg = msg
	return nil
}

func (w *Writer) Write(b []byte) (int, error) {
	w.msg = new(dns.Msg)
	if err := w.msg.Unpack(b); err != nil {
		return 0, err
	}

	return len(b), nil
}

func (w *Writer) LocalAddr() net.Addr  { return w.localAddr }
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }

func (w *Writer) Close() error           { return nil }
func (w *Writer) Hijack()                {}
func (w *Writer) TsigStatus() error      { return nil }
func (w *Writer) TsigTimersOnly(ok bool) {}
