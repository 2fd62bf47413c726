package forwarder

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/semihalev/zlog/v2"

	"github.com/sinkdns/sinkdns/config"
)

// ErrAllFailed is returned when every configured upstream failed to produce
// a usable answer. The caller maps this to SERVFAIL.
var ErrAllFailed = errors.New("all upstreams failed")

var upstreamQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dns_upstream_queries_total",
	Help: "Total number of upstream queries by server and result",
}, []string{"upstream", "result"})

func init() {
	prometheus.MustRegister(upstreamQueries)
}

// Forwarder sends queries to an ordered list of upstream resolvers and
// returns the first usable answer. Earlier entries are preferred, no
// load balancing or latency based reordering is done.
type Forwarder struct {
	mu      sync.RWMutex
	servers []string

	timeout time.Duration
}

// New returns a forwarder for the upstreams in cfg. Entries that are not
// ip:port are dropped with an error log.
func New(cfg *config.Config) *Forwarder {
	f := &Forwarder{timeout: cfg.Timeout.Duration}

	if f.timeout == 0 {
		f.timeout = 3 * time.Second
	}

	f.SetServers(cfg.Upstreams)

	return f
}

// SetServers replaces the upstream list, keeping only valid ip:port entries.
func (f *Forwarder) SetServers(servers []string) {
	var valid []string

	for _, s := range servers {
		host, _, err := net.SplitHostPort(s)
		if err != nil || net.ParseIP(host) == nil {
			zlog.Error("Upstream server is not correct. Check your config.", "server", s)
			continue
		}
		valid = append(valid, s)
	}

	f.mu.Lock()
	f.servers = valid
	f.mu.Unlock()
}

// Servers returns the current upstream list in order.
func (f *Forwarder) Servers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]string(nil), f.servers...)
}

// Forward tries each upstream in order over UDP and returns the first
// response carrying at least one answer record, together with the address
// of the upstream that produced it. A network error, a timeout or an empty
// answer section counts as a failure for that upstream and the next one is
// tried.
func (f *Forwarder) Forward(ctx context.Context, req *dns.Msg) (*dns.Msg, string, error) {
	client := &dns.Client{Net: "udp", Timeout: f.timeout}

	for _, server := range f.Servers() {
		resp, _, err := client.ExchangeContext(ctx, req, server)
		if err != nil {
			zlog.Warn("Upstream query failed", "query", formatQuestion(req.Question[0]), "upstream", server, "error", err.Error())
			upstreamQueries.WithLabelValues(server, "failure").Inc()
			continue
		}

		if len(resp.Answer) == 0 {
			upstreamQueries.WithLabelValues(server, "failure").Inc()
			continue
		}

		upstreamQueries.WithLabelValues(server, "success").Inc()

		return resp, server, nil
	}

	return nil, "", ErrAllFailed
}

// Stat holds per-upstream success and failure counts.
type Stat struct {
	Success uint64
	Failed  uint64
}

// Stats returns per-upstream success/failure counts for the current server
// list, read back from the prometheus counters.
func (f *Forwarder) Stats() map[string]Stat {
	stats := make(map[string]Stat)

	for _, server := range f.Servers() {
		stats[server] = Stat{
			Success: counterValue(server, "success"),
			Failed:  counterValue(server, "failure"),
		}
	}

	return stats
}

func counterValue(upstream, result string) uint64 {
	var m dto.Metric
	if err := upstreamQueries.WithLabelValues(upstream, result).Write(&m); err != nil {
		return 0
	}

	return uint64(m.GetCounter().GetValue())
}

func formatQuestion(q dns.Question) string {
	return strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype]
}
