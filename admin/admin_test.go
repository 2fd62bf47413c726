package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sinkdns/sinkdns/config"
	"github.com/sinkdns/sinkdns/mock"
	"github.com/sinkdns/sinkdns/querylog"
)

func testAdmin(t *testing.T, mutate ...func(*config.Config)) *Admin {
	t.Helper()

	dir := t.TempDir()

	cfg := new(config.Config)
	cfg.Bind = "127.0.0.1:0"
	cfg.BlockListDir = filepath.Join(dir, "lists")
	cfg.DBPath = filepath.Join(dir, "history.db")
	cfg.CacheTTL = 300
	cfg.Upstreams = []string{"127.0.0.1:1"}
	cfg.Timeout.Duration = 200 * time.Millisecond
	for _, m := range mutate {
		m(cfg)
	}

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	return a
}

// events returns recorded event types in chronological order.
func events(t *testing.T, a *Admin) []string {
	t.Helper()

	recs, err := a.store.RecentEvents(100)
	require.NoError(t, err)

	out := make([]string, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i].EventType)
	}

	return out
}

func Test_AdminLifecycle(t *testing.T) {
	a := testAdmin(t)

	require.NoError(t, a.Start())
	assert.Error(t, a.Start())

	st := a.Status()
	assert.True(t, st.Server.Running)

	require.NoError(t, a.Stop())
	assert.Error(t, a.Stop())

	assert.Equal(t, []string{"started", "stopped"}, events(t, a))
}

func Test_AdminWhitelist(t *testing.T) {
	a := testAdmin(t)

	require.NoError(t, a.AddToBlocklist("ads.example.com"))
	require.NoError(t, a.AddToWhitelist("safe.ads.example.com"))

	assert.Error(t, a.AddToWhitelist("not..valid"))

	require.NoError(t, a.RemoveFromWhitelist("safe.ads.example.com"))
	require.NoError(t, a.RemoveFromBlocklist("ads.example.com"))

	assert.Equal(t, []string{"blocklist_add", "whitelist_add", "whitelist_remove", "blocklist_remove"}, events(t, a))
}

func Test_AdminClearCache(t *testing.T) {
	a := testAdmin(t)

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	a.cache.Store("example.com.", dns.TypeA, msg)
	require.Equal(t, 1, a.cache.Len())

	a.ClearCache()
	assert.Equal(t, 0, a.cache.Len())
	assert.Equal(t, 0, a.Status().CacheSize)
}

func Test_AdminUpdateBlocklists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ads.example.com\n"))
	}))
	defer srv.Close()

	a := testAdmin(t, func(cfg *config.Config) {
		cfg.Sources = []config.Source{{Name: "test", URL: srv.URL, Format: "domains", Enabled: true}}
	})

	results := a.UpdateBlocklists(context.Background())
	assert.Equal(t, map[string]bool{"test": true}, results)
	assert.True(t, a.filter.IsBlocked("ads.example.com"))
}

func Test_AdminSetUpstreams(t *testing.T) {
	a := testAdmin(t)

	require.NoError(t, a.SetUpstreams([]string{"9.9.9.9:53", "bogus"}))
	assert.Equal(t, []string{"9.9.9.9:53"}, a.fwd.Servers())

	v, ok, err := a.GetConfig("upstreams")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "9.9.9.9:53", v)
}

func Test_AdminStats(t *testing.T) {
	a := testAdmin(t)

	// drive one blocked query through the resolver
	require.NoError(t, a.AddToBlocklist("ads.example.com"))

	req := new(dns.Msg)
	req.SetQuestion("ads.example.com.", dns.TypeA)

	w := mock.NewWriter("udp", "192.168.1.20:5353")
	a.srv.Handler().ServeDNS(w, req)
	require.True(t, w.Written())

	stats, err := a.GetQueryStats(24)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.BlockedQueries)
	assert.Equal(t, 100.0, stats.BlockRate)
	assert.NotNil(t, stats.Upstreams)

	queries, err := a.GetRecentQueries(10)
	require.NoError(t, err)
	assert.Empty(t, queries)

	blocked, err := a.GetRecentBlockedQueries(10)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "ads.example.com", blocked[0].Domain)

	hourly, err := a.GetHourlyStats(24)
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, int64(1), hourly[0].Blocked)

	clients, err := a.GetClientStats(24)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "192.168.1.20", clients[0].ClientIP)

	export, err := a.ExportHistory(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, export.Blocked, 1)
}

func Test_AdminConfigKV(t *testing.T) {
	a := testAdmin(t)

	require.NoError(t, a.SetConfig("log_level", "debug"))

	all, err := a.AllConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", all["log_level"])
}

func Test_AdminRunMaintenance(t *testing.T) {
	a := testAdmin(t, func(cfg *config.Config) {
		cfg.Retention.Duration = 24 * time.Hour
	})

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, a.store.InsertQuery(querylog.QueryRecord{Timestamp: old, ClientIP: "10.0.0.1", Domain: "stale.com", QueryType: "A"}))
	require.NoError(t, a.store.InsertQuery(querylog.QueryRecord{Timestamp: time.Now(), ClientIP: "10.0.0.1", Domain: "fresh.com", QueryType: "A"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = a.Run(ctx) }()

	// the startup pass prunes expired history without waiting for a tick
	deadline := time.Now().Add(2 * time.Second)
	for {
		queries, err := a.GetRecentQueries(10)
		require.NoError(t, err)

		if len(queries) == 1 {
			assert.Equal(t, "fresh.com", queries[0].Domain)
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("expected stale history to be pruned, still have %d rows", len(queries))
		}

		time.Sleep(20 * time.Millisecond)
	}
}

func Test_AdminRunCancel(t *testing.T) {
	a := testAdmin(t)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
