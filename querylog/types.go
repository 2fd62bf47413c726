package querylog

import "time"

// QueryRecord is one resolved query, appended after the terminal transition
// and never mutated.
type QueryRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	ClientIP     string    `json:"client_ip"`
	Domain       string    `json:"domain"`
	QueryType    string    `json:"query_type"`
	ResponseCode string    `json:"response_code"`
	ResponseTime float64   `json:"response_time"`
	Upstream     string    `json:"upstream,omitempty"`
	Cached       bool      `json:"cached"`
}

// BlockedRecord is one blocked query.
type BlockedRecord struct {
	Timestamp time.Time `json:"timestamp"`
	ClientIP  string    `json:"client_ip"`
	Domain    string    `json:"domain"`
	Reason    string    `json:"reason"`
}

// EventRecord is one server lifecycle event.
type EventRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	Details     string    `json:"details,omitempty"`
}

// DomainCount pairs a domain with its query count.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

// ClientCount pairs a client address with its query count.
type ClientCount struct {
	ClientIP string `json:"client_ip"`
	Count    int64  `json:"count"`
}

// CacheStats holds the in-memory cache hit/miss counters.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// UpstreamStat holds success/failure counts for one upstream, filled in by
// the caller from the forwarder.
type UpstreamStat struct {
	Success uint64 `json:"success"`
	Failed  uint64 `json:"failed"`
}

// Stats is the aggregate for a trailing time window. TotalQueries counts
// resolved and blocked queries together.
type Stats struct {
	PeriodHours    int                     `json:"period_hours"`
	TotalQueries   int64                   `json:"total_queries"`
	BlockedQueries int64                   `json:"blocked_queries"`
	AllowedQueries int64                   `json:"allowed_queries"`
	BlockRate      float64                 `json:"block_rate"`
	QueryTypes     map[string]int64        `json:"query_types"`
	TopDomains     []DomainCount           `json:"top_domains"`
	TopClients     []ClientCount           `json:"top_clients"`
	TopBlocked     []DomainCount           `json:"top_blocked_domains"`
	Cache          CacheStats              `json:"cache_stats"`
	Upstreams      map[string]UpstreamStat `json:"upstream_stats,omitempty"`
}

// HourlyStat is one hour bucket of query and block counts.
type HourlyStat struct {
	Hour    string `json:"hour"`
	Queries int64  `json:"queries"`
	Blocked int64  `json:"blocked"`
	Allowed int64  `json:"allowed"`
}

// ClientStat is the per-client aggregate for a trailing time window.
type ClientStat struct {
	ClientIP       string  `json:"client_ip"`
	TotalQueries   int64   `json:"total_queries"`
	BlockedQueries int64   `json:"blocked_queries"`
	AllowedQueries int64   `json:"allowed_queries"`
	CachedQueries  int64   `json:"cached_queries"`
	BlockRate      float64 `json:"block_rate"`
}

// CleanupResult reports how many rows a retention cleanup removed.
type CleanupResult struct {
	QueriesDeleted int64 `json:"queries_deleted"`
	BlockedDeleted int64 `json:"blocked_deleted"`
	EventsDeleted  int64 `json:"events_deleted"`
}

// Export is a dump of query and block history for a date range.
type Export struct {
	Queries    []QueryRecord   `json:"queries"`
	Blocked    []BlockedRecord `json:"blocked"`
	ExportTime time.Time       `json:"export_time"`
}
