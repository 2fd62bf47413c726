// Package server owns the DNS listener lifecycle: bind, serve, stop,
// restart. The handler is fixed at construction, the listener can cycle
// through start/stop any number of times.
package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/sinkdns/sinkdns/config"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotRunning     = errors.New("server not running")
)

// restartSettle is how long Restart waits between stopping the old
// listener and binding the new one, so the port is reliably free.
const restartSettle = 2 * time.Second

// State is the listener lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}

	return "stopped"
}

// Server serves DNS over UDP, and optionally TCP, on one bind address.
type Server struct {
	addr    string
	tcp     bool
	handler dns.Handler

	access  *accessList
	limiter *rateLimiter

	mu       sync.Mutex
	state    State
	udp      *dns.Server
	tcpSrv   *dns.Server
	started  time.Time
	lastErr  error
	restarts int
}

// New returns a stopped server for the bind address in cfg.
func New(cfg *config.Config, handler dns.Handler) (*Server, error) {
	access, err := newAccessList(cfg.AccessList)
	if err != nil {
		return nil, err
	}

	return &Server{
		addr:    cfg.Bind,
		tcp:     cfg.TCP,
		handler: handler,
		access:  access,
		limiter: newRateLimiter(cfg.ClientRateLimit),
	}, nil
}

// Start binds the listener and begins serving. A bind failure is returned
// to the caller and leaves the server stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return ErrAlreadyRunning
	}
	s.state = Starting

	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		s.state = Stopped
		s.lastErr = err

		return err
	}

	s.udp = &dns.Server{PacketConn: pc, Net: "udp", Handler: dns.HandlerFunc(s.serve)}
	go s.activate(s.udp, "udp")

	if s.tcp {
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			_ = pc.Close()
			s.udp = nil
			s.state = Stopped
			s.lastErr = err

			return err
		}

		s.tcpSrv = &dns.Server{Listener: ln, Net: "tcp", Handler: dns.HandlerFunc(s.serve)}
		go s.activate(s.tcpSrv, "tcp")
	}

	s.state = Running
	s.started = time.Now()
	s.lastErr = nil

	zlog.Info("DNS server listening...", "net", "udp", "addr", s.addr, "tcp", s.tcp)

	return nil
}

func (s *Server) activate(srv *dns.Server, network string) {
	if err := srv.ActivateAndServe(); err != nil {
		s.mu.Lock()
		if s.state == Running {
			s.lastErr = err
			zlog.Error("DNS listener failed", "net", network, "error", err.Error())
		}
		s.mu.Unlock()
	}
}

// Stop shuts the listeners down. In-flight queries finish, the port is
// released.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return ErrNotRunning
	}
	s.state = Stopping

	if s.udp != nil {
		_ = s.udp.Shutdown()
		s.udp = nil
	}

	if s.tcpSrv != nil {
		_ = s.tcpSrv.Shutdown()
		s.tcpSrv = nil
	}

	s.state = Stopped

	zlog.Info("DNS server stopped", "addr", s.addr)

	return nil
}

// Restart stops the server, waits for the port to settle and starts it
// again on the same address.
func (s *Server) Restart() error {
	if err := s.Stop(); err != nil {
		return err
	}

	time.Sleep(restartSettle)

	if err := s.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()

	return nil
}

// Handler returns the wrapped query handler.
func (s *Server) Handler() dns.Handler {
	return s.handler
}

// Status describes the current listener state.
type Status struct {
	State    string        `json:"state"`
	Running  bool          `json:"running"`
	Addr     string        `json:"addr"`
	TCP      bool          `json:"tcp"`
	Uptime   time.Duration `json:"uptime"`
	Restarts int           `json:"restarts"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Status returns a snapshot of the listener state.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:    s.state.String(),
		Running:  s.state == Running,
		Addr:     s.addr,
		TCP:      s.tcp,
		Restarts: s.restarts,
	}

	if s.state == Running {
		st.Uptime = time.Since(s.started)
	}

	if s.lastErr != nil {
		st.LastErr = s.lastErr.Error()
	}

	return st
}

// serve gates each query through the access list and the per-client rate
// limit before handing it to the resolver. Rejected queries are dropped
// without a reply.
func (s *Server) serve(w dns.ResponseWriter, req *dns.Msg) {
	ip := remoteIP(w)

	if !s.access.allowed(ip) {
		zlog.Debug("Query refused by access list", "client", ip.String())
		return
	}

	if !s.limiter.allow(ip) {
		zlog.Debug("Query dropped by rate limit", "client", ip.String())
		return
	}

	s.handler.ServeDNS(w, req)
}

func remoteIP(w dns.ResponseWriter) net.IP {
	switch addr := w.RemoteAddr().(type) {
	case *net.UDPAddr:
		return addr.IP
	case *net.TCPAddr:
		return addr.IP
	}

	return nil
}
