// Package resolver decides every query: sinkhole it, answer from cache, or
// forward it upstream. Every decision is recorded in the query log before
// the response is written.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sinkdns/sinkdns/cache"
	"github.com/sinkdns/sinkdns/filter"
	"github.com/sinkdns/sinkdns/forwarder"
	"github.com/sinkdns/sinkdns/querylog"
)

const sinkholeTTL = 60

var (
	queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dns_queries_total",
		Help: "Total number of handled queries by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(queriesTotal)
}

// Resolver ties the filter, the cache, the forwarder and the query log
// together into one dns.Handler.
type Resolver struct {
	filter *filter.Filter
	cache  *cache.Cache
	fwd    *forwarder.Forwarder
	store  *querylog.Store

	group singleflight.Group
}

// New returns a resolver over the given components.
func New(f *filter.Filter, c *cache.Cache, fwd *forwarder.Forwarder, store *querylog.Store) *Resolver {
	return &Resolver{filter: f, cache: c, fwd: fwd, store: store}
}

// ServeDNS handles one query end to end.
func (r *Resolver) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	if len(req.Question) == 0 {
		msg := new(dns.Msg)
		msg.SetRcodeFormatError(req)
		_ = w.WriteMsg(msg)

		return
	}

	q := req.Question[0]
	domain := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	qtype := dns.TypeToString[q.Qtype]
	client := clientIP(w)
	started := time.Now()

	if r.filter.IsBlocked(domain) {
		queriesTotal.WithLabelValues("blocked").Inc()

		if err := r.store.InsertBlocked(querylog.BlockedRecord{
			Timestamp: started,
			ClientIP:  client,
			Domain:    domain,
		}); err != nil {
			zlog.Warn("Query log write failed", "domain", domain, "error", err.Error())
		}

		zlog.Debug("Query blocked", "domain", domain, "client", client, "type", qtype)
		_ = w.WriteMsg(sinkhole(req))

		return
	}

	if resp, ok := r.cache.Get(q.Name, q.Qtype); ok {
		resp.Id = req.Id
		r.store.RecordCacheHit()
		queriesTotal.WithLabelValues("cached").Inc()

		r.logQuery(querylog.QueryRecord{
			Timestamp:    started,
			ClientIP:     client,
			Domain:       domain,
			QueryType:    qtype,
			ResponseCode: dns.RcodeToString[resp.Rcode],
			ResponseTime: msSince(started),
			Cached:       true,
		})

		_ = w.WriteMsg(resp)

		return
	}

	r.store.RecordCacheMiss()

	resp, upstream, err := r.forward(context.Background(), req, q)
	if err != nil {
		queriesTotal.WithLabelValues("failed").Inc()
		zlog.Warn("Resolution failed", "domain", domain, "client", client, "error", err.Error())

		r.logQuery(querylog.QueryRecord{
			Timestamp:    started,
			ClientIP:     client,
			Domain:       domain,
			QueryType:    qtype,
			ResponseCode: dns.RcodeToString[dns.RcodeServerFailure],
			ResponseTime: msSince(started),
		})

		msg := new(dns.Msg)
		msg.SetRcode(req, dns.RcodeServerFailure)
		_ = w.WriteMsg(msg)

		return
	}

	resp.Id = req.Id
	queriesTotal.WithLabelValues("forwarded").Inc()

	r.logQuery(querylog.QueryRecord{
		Timestamp:    started,
		ClientIP:     client,
		Domain:       domain,
		QueryType:    qtype,
		ResponseCode: dns.RcodeToString[resp.Rcode],
		ResponseTime: msSince(started),
		Upstream:     upstream,
	})

	_ = w.WriteMsg(resp)
}

// forward collapses concurrent identical queries into one upstream exchange
// and stores the shared answer in the cache.
func (r *Resolver) forward(ctx context.Context, req *dns.Msg, q dns.Question) (*dns.Msg, string, error) {
	key := fmt.Sprintf("%s:%d", strings.ToLower(q.Name), q.Qtype)

	type result struct {
		resp     *dns.Msg
		upstream string
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		resp, upstream, err := r.fwd.Forward(ctx, req)
		if err != nil {
			return nil, err
		}

		r.cache.Store(q.Name, q.Qtype, resp)

		return result{resp: resp, upstream: upstream}, nil
	})
	if err != nil {
		return nil, "", err
	}

	res := v.(result)

	return res.resp.Copy(), res.upstream, nil
}

func (r *Resolver) logQuery(rec querylog.QueryRecord) {
	if err := r.store.InsertQuery(rec); err != nil {
		zlog.Warn("Query log write failed", "domain", rec.Domain, "error", err.Error())
	}
}

// sinkhole builds the blocked-domain response: 0.0.0.0 for A, :: for AAAA,
// NXDOMAIN for everything else.
func sinkhole(req *dns.Msg) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Authoritative = true
	msg.RecursionAvailable = true

	q := req.Question[0]
	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: sinkholeTTL}

	switch q.Qtype {
	case dns.TypeA:
		msg.Answer = append(msg.Answer, &dns.A{Hdr: hdr, A: net.IPv4zero})
	case dns.TypeAAAA:
		msg.Answer = append(msg.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.IPv6zero})
	default:
		msg.Rcode = dns.RcodeNameError
	}

	return msg
}

func clientIP(w dns.ResponseWriter) string {
	switch addr := w.RemoteAddr().(type) {
	case *net.UDPAddr:
		return addr.IP.String()
	case *net.TCPAddr:
		return addr.IP.String()
	}

	host, _, err := net.SplitHostPort(w.RemoteAddr().String())
	if err != nil {
		return w.RemoteAddr().String()
	}

	return host
}

func msSince(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000
}
