package querylog

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable query/block/event history. Writes are serialized by
// a single mutex, statistics reads run concurrently with them.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

// Open opens or creates the history database.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open query log db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dns_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		client_ip TEXT NOT NULL,
		domain TEXT NOT NULL,
		query_type TEXT NOT NULL,
		response_code TEXT,
		response_time REAL,
		upstream_server TEXT,
		cached BOOLEAN DEFAULT FALSE
	);
	CREATE TABLE IF NOT EXISTS blocked_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		client_ip TEXT NOT NULL,
		domain TEXT NOT NULL,
		reason TEXT DEFAULT 'adblock'
	);
	CREATE TABLE IF NOT EXISTS server_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		description TEXT,
		details TEXT
	);
	CREATE TABLE IF NOT EXISTS daily_stats (
		date TEXT PRIMARY KEY,
		total_queries INTEGER DEFAULT 0,
		blocked_queries INTEGER DEFAULT 0,
		cache_hits INTEGER DEFAULT 0,
		cache_misses INTEGER DEFAULT 0,
		top_domains TEXT,
		top_clients TEXT
	);
	CREATE TABLE IF NOT EXISTS dns_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queries_timestamp ON dns_queries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_queries_domain ON dns_queries(domain);
	CREATE INDEX IF NOT EXISTS idx_queries_client ON dns_queries(client_ip);
	CREATE INDEX IF NOT EXISTS idx_blocked_timestamp ON blocked_queries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_blocked_domain ON blocked_queries(domain);
	`
	_, err := s.db.Exec(schema)

	return err
}

// InsertQuery appends one query record.
func (s *Store) InsertQuery(rec QueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO dns_queries (timestamp, client_ip, domain, query_type, response_code, response_time, upstream_server, cached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.Unix(), rec.ClientIP, rec.Domain, rec.QueryType,
		rec.ResponseCode, rec.ResponseTime, rec.Upstream, rec.Cached)

	return err
}

// InsertBlocked appends one blocked query record.
func (s *Store) InsertBlocked(rec BlockedRecord) error {
	if rec.Reason == "" {
		rec.Reason = "adblock"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO blocked_queries (timestamp, client_ip, domain, reason)
		VALUES (?, ?, ?, ?)`,
		rec.Timestamp.Unix(), rec.ClientIP, rec.Domain, rec.Reason)

	return err
}

// InsertEvent appends one server lifecycle event.
func (s *Store) InsertEvent(eventType, description, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO server_events (timestamp, event_type, description, details)
		VALUES (?, ?, ?, ?)`,
		time.Now().Unix(), eventType, description, details)

	return err
}

// RecordCacheHit bumps the in-memory cache hit counter.
func (s *Store) RecordCacheHit() { s.cacheHits.Add(1) }

// RecordCacheMiss bumps the in-memory cache miss counter.
func (s *Store) RecordCacheMiss() { s.cacheMisses.Add(1) }

// CacheCounters returns the in-memory cache hit/miss counters.
func (s *Store) CacheCounters() CacheStats {
	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()

	total := hits + misses
	if total == 0 {
		total = 1
	}

	return CacheStats{
		Hits:    hits,
		Misses:  misses,
		HitRate: round2(float64(hits) / float64(total) * 100),
	}
}

// SetConfig stores a runtime setting, last write wins.
func (s *Store) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO dns_config (key, value, updated_at)
		VALUES (?, ?, ?)`, key, value, time.Now().Unix())

	return err
}

// GetConfig returns a runtime setting, ok is false when the key is unset.
func (s *Store) GetConfig(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM dns_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

// AllConfig returns every stored runtime setting.
func (s *Store) AllConfig() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM dns_config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		config[k] = v
	}

	return config, rows.Err()
}

// Cleanup removes history rows older than retention.
func (s *Store) Cleanup(retention time.Duration) (CleanupResult, error) {
	cutoff := time.Now().Add(-retention).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	var result CleanupResult

	for _, d := range []struct {
		table string
		out   *int64
	}{
		{"dns_queries", &result.QueriesDeleted},
		{"blocked_queries", &result.BlockedDeleted},
		{"server_events", &result.EventsDeleted},
	} {
		res, err := s.db.Exec("DELETE FROM "+d.table+" WHERE timestamp < ?", cutoff)
		if err != nil {
			return result, err
		}
		*d.out, _ = res.RowsAffected()
	}

	return result, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
