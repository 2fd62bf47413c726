/*
Package main implements sinkdns - a filtering DNS forwarder with query history.

sinkdns sits between local clients and public resolvers and provides:

  - Domain blocking from remote blocklists (hosts, Adblock Plus and plain
    domain formats) with suffix matching for subdomains
  - A whitelist that always wins over blocking
  - Sinkhole answers for blocked names (0.0.0.0 / ::) so clients fail fast
  - Upstream forwarding with ordered failover across multiple resolvers
  - A fixed-TTL resolution cache for upstream answers
  - Durable query, block and event history in SQLite with statistics
  - IP-based access control and per-client rate limiting
  - Metrics via Prometheus

Query path:

Each query passes the access list and the rate limiter, then the filter
decides: blocked names get a sinkhole answer, everything else is served
from the cache or forwarded to the first upstream that returns a usable
answer. Every decision is recorded in the query log before the response
is written.

Configuration:

sinkdns uses a TOML configuration file (default: sinkdns.toml) that is
generated on first start. It covers the bind address, upstream resolvers,
blocklist sources, cache TTL, history retention and logging.

Usage:

	sinkdns [flags]

Flags:

	-c, --config string   Location of config file (default "sinkdns.toml")
	-h, --help            Help for sinkdns
	-v, --version         Print version information

Example:

	# Start with default config
	sinkdns

	# Start with custom config
	sinkdns -c /etc/sinkdns/sinkdns.toml
*/
package main
