// Package admin is the operator surface: it wires the resolver stack
// together and exposes lifecycle, filter management and statistics
// operations as one facade.
package admin

import (
	"context"
	"strings"
	"time"

	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sinkdns/sinkdns/cache"
	"github.com/sinkdns/sinkdns/config"
	"github.com/sinkdns/sinkdns/filter"
	"github.com/sinkdns/sinkdns/forwarder"
	"github.com/sinkdns/sinkdns/querylog"
	"github.com/sinkdns/sinkdns/resolver"
	"github.com/sinkdns/sinkdns/server"
)

// Admin owns every component of the resolver and is the only entry point
// for control operations.
type Admin struct {
	cfg    *config.Config
	filter *filter.Filter
	cache  *cache.Cache
	fwd    *forwarder.Forwarder
	store  *querylog.Store
	srv    *server.Server
}

// New builds the full component stack from cfg.
func New(cfg *config.Config) (*Admin, error) {
	f, err := filter.New(cfg)
	if err != nil {
		return nil, err
	}

	store, err := querylog.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	c := cache.New(time.Duration(cfg.CacheTTL) * time.Second)
	fwd := forwarder.New(cfg)

	srv, err := server.New(cfg, resolver.New(f, c, fwd, store))
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Admin{
		cfg:    cfg,
		filter: f,
		cache:  c,
		fwd:    fwd,
		store:  store,
		srv:    srv,
	}, nil
}

// Start brings the DNS listener up and records the event.
func (a *Admin) Start() error {
	if err := a.srv.Start(); err != nil {
		a.event("start_failed", "server start failed", err.Error())
		return err
	}

	a.event("started", "server started", a.cfg.Bind)

	return nil
}

// Stop takes the listener down and records the event.
func (a *Admin) Stop() error {
	if err := a.srv.Stop(); err != nil {
		return err
	}

	a.event("stopped", "server stopped", "")

	return nil
}

// Restart cycles the listener on the same address.
func (a *Admin) Restart() error {
	if err := a.srv.Restart(); err != nil {
		a.event("restart_failed", "server restart failed", err.Error())
		return err
	}

	a.event("restarted", "server restarted", a.cfg.Bind)

	return nil
}

// Status is the combined runtime snapshot.
type Status struct {
	Server    server.Status             `json:"server"`
	Filter    filter.Stats              `json:"filter"`
	Cache     querylog.CacheStats       `json:"cache"`
	CacheSize int                       `json:"cache_size"`
	Upstreams map[string]forwarder.Stat `json:"upstreams"`
}

// Status returns the current state of every component.
func (a *Admin) Status() Status {
	return Status{
		Server:    a.srv.Status(),
		Filter:    a.filter.Stats(),
		Cache:     a.store.CacheCounters(),
		CacheSize: a.cache.Len(),
		Upstreams: a.fwd.Stats(),
	}
}

// ClearCache drops every cached answer.
func (a *Admin) ClearCache() {
	n := a.cache.Len()
	a.cache.Clear()
	a.event("cache_cleared", "resolution cache cleared", "")

	zlog.Info("Cache cleared", "entries", n)
}

// UpdateBlocklists refetches every enabled source and reloads the filter.
// The result maps source name to fetch success.
func (a *Admin) UpdateBlocklists(ctx context.Context) map[string]bool {
	results := a.filter.Update(ctx)

	var failed []string
	for name, ok := range results {
		if !ok {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		a.event("blocklists_updated", "blocklist update finished with failures", strings.Join(failed, ","))
	} else {
		a.event("blocklists_updated", "blocklist update finished", "")
	}

	return results
}

// AddToWhitelist exempts a domain and its subdomains from blocking.
func (a *Admin) AddToWhitelist(domain string) error {
	if err := a.filter.AddToAllow(domain); err != nil {
		return err
	}

	a.cache.Clear()
	a.event("whitelist_add", "domain whitelisted", domain)

	return nil
}

// RemoveFromWhitelist drops a whitelist entry.
func (a *Admin) RemoveFromWhitelist(domain string) error {
	if err := a.filter.RemoveFromAllow(domain); err != nil {
		return err
	}

	a.cache.Clear()
	a.event("whitelist_remove", "domain removed from whitelist", domain)

	return nil
}

// AddToBlocklist blocks a domain and its subdomains.
func (a *Admin) AddToBlocklist(domain string) error {
	if err := a.filter.AddToBlock(domain); err != nil {
		return err
	}

	a.cache.Clear()
	a.event("blocklist_add", "domain blocked", domain)

	return nil
}

// RemoveFromBlocklist drops a custom blocklist entry.
func (a *Admin) RemoveFromBlocklist(domain string) error {
	if err := a.filter.RemoveFromBlock(domain); err != nil {
		return err
	}

	a.cache.Clear()
	a.event("blocklist_remove", "domain removed from blocklist", domain)

	return nil
}

// EnableSource turns a blocklist source on, effective on the next update.
func (a *Admin) EnableSource(name string) { a.filter.EnableSource(name) }

// DisableSource turns a blocklist source off, effective on the next update.
func (a *Admin) DisableSource(name string) { a.filter.DisableSource(name) }

// SetUpstreams replaces the upstream resolver list at runtime and persists
// it as a runtime setting.
func (a *Admin) SetUpstreams(servers []string) error {
	a.fwd.SetServers(servers)

	if err := a.store.SetConfig("upstreams", strings.Join(a.fwd.Servers(), ",")); err != nil {
		return err
	}

	a.event("upstreams_changed", "upstream servers replaced", strings.Join(a.fwd.Servers(), ","))

	return nil
}

// GetQueryStats returns aggregate statistics for the trailing window of
// hours, with the live upstream counters folded in.
func (a *Admin) GetQueryStats(hours int) (*querylog.Stats, error) {
	stats, err := a.store.QueryStats(hours)
	if err != nil {
		return nil, err
	}

	stats.Upstreams = make(map[string]querylog.UpstreamStat)
	for server, st := range a.fwd.Stats() {
		stats.Upstreams[server] = querylog.UpstreamStat{Success: st.Success, Failed: st.Failed}
	}

	return stats, nil
}

// GetRecentQueries returns the newest resolved queries.
func (a *Admin) GetRecentQueries(limit int) ([]querylog.QueryRecord, error) {
	return a.store.RecentQueries(limit)
}

// GetRecentBlockedQueries returns the newest blocked queries.
func (a *Admin) GetRecentBlockedQueries(limit int) ([]querylog.BlockedRecord, error) {
	return a.store.RecentBlocked(limit)
}

// GetHourlyStats returns per-hour counts for the trailing window of hours.
func (a *Admin) GetHourlyStats(hours int) ([]querylog.HourlyStat, error) {
	return a.store.HourlyStats(hours)
}

// GetClientStats returns per-client aggregates for the trailing window of
// hours.
func (a *Admin) GetClientStats(hours int) ([]querylog.ClientStat, error) {
	return a.store.ClientStats(hours)
}

// ExportHistory dumps query and block history between start and end.
func (a *Admin) ExportHistory(start, end time.Time) (*querylog.Export, error) {
	return a.store.ExportRange(start, end)
}

// SetConfig stores one runtime setting.
func (a *Admin) SetConfig(key, value string) error {
	return a.store.SetConfig(key, value)
}

// GetConfig returns one runtime setting.
func (a *Admin) GetConfig(key string) (string, bool, error) {
	return a.store.GetConfig(key)
}

// AllConfig returns every runtime setting.
func (a *Admin) AllConfig() (map[string]string, error) {
	return a.store.AllConfig()
}

// Run drives the background loops until ctx is cancelled: periodic
// blocklist updates, list file watching and nightly history maintenance.
func (a *Admin) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.filter.AutoUpdate(ctx, a.cfg.UpdateInterval.Duration)
		return nil
	})

	g.Go(func() error {
		return a.filter.Watch(ctx)
	})

	g.Go(func() error {
		a.maintenanceLoop(ctx)
		return nil
	})

	return g.Wait()
}

// maintenanceLoop rolls up yesterday's statistics and prunes history past
// retention, once at startup and then once per day. The startup pass keeps
// frequently restarted processes from never reaching the first tick.
func (a *Admin) maintenanceLoop(ctx context.Context) {
	a.maintain()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.maintain()
		}
	}
}

func (a *Admin) maintain() {
	if err := a.store.RollupDaily(time.Now().AddDate(0, 0, -1)); err != nil {
		zlog.Warn("Daily stats rollup failed", "error", err.Error())
	}

	result, err := a.store.Cleanup(a.cfg.Retention.Duration)
	if err != nil {
		zlog.Warn("History cleanup failed", "error", err.Error())
		return
	}

	zlog.Info("History cleanup done", "queries", result.QueriesDeleted,
		"blocked", result.BlockedDeleted, "events", result.EventsDeleted)
}

// Close stops the server if needed and releases the query log.
func (a *Admin) Close() error {
	if a.srv.Status().Running {
		_ = a.Stop()
	}

	return a.store.Close()
}

func (a *Admin) event(eventType, description, details string) {
	if err := a.store.InsertEvent(eventType, description, details); err != nil {
		zlog.Warn("Event log write failed", "event", eventType, "error", err.Error())
	}
}
