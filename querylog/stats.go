package querylog

import (
	"encoding/json"
	"sort"
	"time"
)

// QueryStats aggregates the trailing window of hours. Totals count resolved
// and blocked queries together so the block rate is blocked/total.
func (s *Store) QueryStats(hours int) (*Stats, error) {
	now := time.Now()
	since := now.Add(-time.Duration(hours) * time.Hour).Unix()
	until := now.Unix() + 1

	stats := &Stats{
		PeriodHours: hours,
		QueryTypes:  make(map[string]int64),
		Cache:       s.CacheCounters(),
	}

	var resolved int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM dns_queries WHERE timestamp > ?`, since).Scan(&resolved)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRow(`SELECT COUNT(*) FROM blocked_queries WHERE timestamp > ?`, since).Scan(&stats.BlockedQueries)
	if err != nil {
		return nil, err
	}

	stats.TotalQueries = resolved + stats.BlockedQueries
	stats.AllowedQueries = resolved

	total := stats.TotalQueries
	if total == 0 {
		total = 1
	}
	stats.BlockRate = round2(float64(stats.BlockedQueries) / float64(total) * 100)

	rows, err := s.db.Query(`
		SELECT query_type, COUNT(*) FROM dns_queries
		WHERE timestamp > ?
		GROUP BY query_type
		ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var qtype string
		var count int64
		if err := rows.Scan(&qtype, &count); err != nil {
			return nil, err
		}
		stats.QueryTypes[qtype] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TopDomains, err = s.topDomains("dns_queries", since, until, 10); err != nil {
		return nil, err
	}

	if stats.TopBlocked, err = s.topDomains("blocked_queries", since, until, 10); err != nil {
		return nil, err
	}

	if stats.TopClients, err = s.topClients(since, until, 10); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Store) topDomains(table string, since, until int64, limit int) ([]DomainCount, error) {
	rows, err := s.db.Query(`
		SELECT domain, COUNT(*) as count FROM `+table+`
		WHERE timestamp > ? AND timestamp < ?
		GROUP BY domain
		ORDER BY count DESC
		LIMIT ?`, since, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DomainCount
	for rows.Next() {
		var dc DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}

	return out, rows.Err()
}

func (s *Store) topClients(since, until int64, limit int) ([]ClientCount, error) {
	rows, err := s.db.Query(`
		SELECT client_ip, COUNT(*) as count FROM dns_queries
		WHERE timestamp > ? AND timestamp < ?
		GROUP BY client_ip
		ORDER BY count DESC
		LIMIT ?`, since, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientCount
	for rows.Next() {
		var cc ClientCount
		if err := rows.Scan(&cc.ClientIP, &cc.Count); err != nil {
			return nil, err
		}
		out = append(out, cc)
	}

	return out, rows.Err()
}

// RecentQueries returns the newest resolved queries, newest first.
func (s *Store) RecentQueries(limit int) ([]QueryRecord, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, client_ip, domain, query_type, response_code, response_time, upstream_server, cached
		FROM dns_queries
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueryRecord
	for rows.Next() {
		var rec QueryRecord
		var ts int64
		if err := rows.Scan(&ts, &rec.ClientIP, &rec.Domain, &rec.QueryType,
			&rec.ResponseCode, &rec.ResponseTime, &rec.Upstream, &rec.Cached); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(ts, 0)
		out = append(out, rec)
	}

	return out, rows.Err()
}

// RecentBlocked returns the newest blocked queries, newest first.
func (s *Store) RecentBlocked(limit int) ([]BlockedRecord, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, client_ip, domain, reason
		FROM blocked_queries
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlockedRecord
	for rows.Next() {
		var rec BlockedRecord
		var ts int64
		if err := rows.Scan(&ts, &rec.ClientIP, &rec.Domain, &rec.Reason); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(ts, 0)
		out = append(out, rec)
	}

	return out, rows.Err()
}

// RecentEvents returns the newest server lifecycle events, newest first.
func (s *Store) RecentEvents(limit int) ([]EventRecord, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, event_type, description, details
		FROM server_events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var ts int64
		if err := rows.Scan(&ts, &rec.EventType, &rec.Description, &rec.Details); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(ts, 0)
		out = append(out, rec)
	}

	return out, rows.Err()
}

// HourlyStats returns per-hour counts for the trailing window of hours,
// ordered oldest first. Queries counts resolved and blocked together so the
// buckets sum up the same way QueryStats does.
func (s *Store) HourlyStats(hours int) ([]HourlyStat, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()

	allowed, err := s.hourlyCounts("dns_queries", since)
	if err != nil {
		return nil, err
	}

	blocked, err := s.hourlyCounts("blocked_queries", since)
	if err != nil {
		return nil, err
	}

	hourSet := make(map[string]struct{}, len(allowed)+len(blocked))
	for h := range allowed {
		hourSet[h] = struct{}{}
	}
	for h := range blocked {
		hourSet[h] = struct{}{}
	}

	hourList := make([]string, 0, len(hourSet))
	for h := range hourSet {
		hourList = append(hourList, h)
	}
	sort.Strings(hourList)

	out := make([]HourlyStat, 0, len(hourList))
	for _, h := range hourList {
		out = append(out, HourlyStat{
			Hour:    h,
			Queries: allowed[h] + blocked[h],
			Blocked: blocked[h],
			Allowed: allowed[h],
		})
	}

	return out, nil
}

func (s *Store) hourlyCounts(table string, since int64) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT strftime('%Y-%m-%d %H:00:00', timestamp, 'unixepoch') as hour, COUNT(*)
		FROM `+table+`
		WHERE timestamp > ?
		GROUP BY hour`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var hour string
		var count int64
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, err
		}
		counts[hour] = count
	}

	return counts, rows.Err()
}

// ClientStats returns per-client aggregates for the trailing window of
// hours, busiest clients first, at most 20 rows.
func (s *Store) ClientStats(hours int) ([]ClientStat, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()

	rows, err := s.db.Query(`
		SELECT client_ip, COUNT(*) as total, SUM(CASE WHEN cached THEN 1 ELSE 0 END)
		FROM dns_queries
		WHERE timestamp > ?
		GROUP BY client_ip
		ORDER BY total DESC
		LIMIT 20`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientStat
	for rows.Next() {
		var cs ClientStat
		if err := rows.Scan(&cs.ClientIP, &cs.TotalQueries, &cs.CachedQueries); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		err := s.db.QueryRow(`
			SELECT COUNT(*) FROM blocked_queries
			WHERE client_ip = ? AND timestamp > ?`, out[i].ClientIP, since).Scan(&out[i].BlockedQueries)
		if err != nil {
			return nil, err
		}

		total := out[i].TotalQueries + out[i].BlockedQueries
		out[i].AllowedQueries = out[i].TotalQueries
		out[i].TotalQueries = total

		div := total
		if div == 0 {
			div = 1
		}
		out[i].BlockRate = round2(float64(out[i].BlockedQueries) / float64(div) * 100)
	}

	return out, nil
}

// RollupDaily writes the daily_stats row for the given day, replacing any
// previous rollup of the same day.
func (s *Store) RollupDaily(day time.Time) error {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	date := start.Format("2006-01-02")

	var total, hits int64
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END), 0)
		FROM dns_queries
		WHERE timestamp >= ? AND timestamp < ?`, start.Unix(), end.Unix()).Scan(&total, &hits)
	if err != nil {
		return err
	}

	var blocked int64
	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM blocked_queries
		WHERE timestamp >= ? AND timestamp < ?`, start.Unix(), end.Unix()).Scan(&blocked)
	if err != nil {
		return err
	}

	topDomains, err := s.topDomains("dns_queries", start.Unix()-1, end.Unix(), 10)
	if err != nil {
		return err
	}

	topClients, err := s.topClients(start.Unix()-1, end.Unix(), 10)
	if err != nil {
		return err
	}

	domainsJSON, _ := json.Marshal(topDomains)
	clientsJSON, _ := json.Marshal(topClients)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO daily_stats (date, total_queries, blocked_queries, cache_hits, cache_misses, top_domains, top_clients)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		date, total+blocked, blocked, hits, total-hits, string(domainsJSON), string(clientsJSON))

	return err
}

// ExportRange dumps query and block history between start and end.
func (s *Store) ExportRange(start, end time.Time) (*Export, error) {
	export := &Export{ExportTime: time.Now()}

	rows, err := s.db.Query(`
		SELECT timestamp, client_ip, domain, query_type, response_code, response_time, upstream_server, cached
		FROM dns_queries
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec QueryRecord
		var ts int64
		if err := rows.Scan(&ts, &rec.ClientIP, &rec.Domain, &rec.QueryType,
			&rec.ResponseCode, &rec.ResponseTime, &rec.Upstream, &rec.Cached); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(ts, 0)
		export.Queries = append(export.Queries, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`
		SELECT timestamp, client_ip, domain, reason
		FROM blocked_queries
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec BlockedRecord
		var ts int64
		if err := rows.Scan(&ts, &rec.ClientIP, &rec.Domain, &rec.Reason); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(ts, 0)
		export.Blocked = append(export.Blocked, rec)
	}

	return export, rows.Err()
}
