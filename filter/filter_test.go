package filter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sinkdns/sinkdns/config"
)

func testFilter(t *testing.T, cfg *config.Config) *Filter {
	t.Helper()

	if cfg == nil {
		cfg = new(config.Config)
	}
	if cfg.BlockListDir == "" {
		cfg.BlockListDir = t.TempDir()
	}

	f, err := New(cfg)
	require.NoError(t, err)

	return f
}

func Test_IsBlocked(t *testing.T) {
	cfg := &config.Config{
		Blocklist: []string{"doubleclick.net", "example.com"},
		Whitelist: []string{"safe.example.com"},
	}

	f := testFilter(t, cfg)

	assert.True(t, f.IsBlocked("doubleclick.net"))
	assert.True(t, f.IsBlocked("ads.doubleclick.net"))
	assert.True(t, f.IsBlocked("DoubleClick.NET."))
	assert.False(t, f.IsBlocked("baidu.com"))
	assert.False(t, f.IsBlocked(""))

	// allow wins over block for the domain and everything under it
	assert.True(t, f.IsBlocked("example.com"))
	assert.False(t, f.IsBlocked("safe.example.com"))
	assert.False(t, f.IsBlocked("cdn.safe.example.com"))
}

func Test_AllowList(t *testing.T) {
	f := testFilter(t, &config.Config{Blocklist: []string{"example.com"}})

	assert.True(t, f.IsBlocked("example.com"))

	require.NoError(t, f.AddToAllow("Example.COM"))
	assert.False(t, f.IsBlocked("example.com"))
	assert.False(t, f.IsBlocked("sub.example.com"))

	// persisted and idempotent
	require.NoError(t, f.AddToAllow("example.com"))
	data, err := os.ReadFile(filepath.Join(f.dir, whitelistFile))
	require.NoError(t, err)
	assert.Equal(t, "example.com\n", string(data))

	require.NoError(t, f.RemoveFromAllow("example.com"))
	assert.True(t, f.IsBlocked("example.com"))

	assert.Error(t, f.AddToAllow("localhost"))
}

func Test_CustomBlocklist(t *testing.T) {
	f := testFilter(t, nil)

	require.NoError(t, f.AddToBlock("ads.example.org"))
	assert.True(t, f.IsBlocked("ads.example.org"))
	assert.True(t, f.IsBlocked("x.ads.example.org"))

	// survives a reload
	require.NoError(t, f.Load())
	assert.True(t, f.IsBlocked("ads.example.org"))

	require.NoError(t, f.RemoveFromBlock("ads.example.org"))
	assert.False(t, f.IsBlocked("ads.example.org"))

	assert.Error(t, f.AddToBlock("a..b.com"))
}

func Test_Update(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("doubleclick.net\n# comment\ninvalid\n"))
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	cfg := &config.Config{
		BlockListDir: t.TempDir(),
		Sources: []config.Source{
			{Name: "good", URL: good.URL, Format: "domains", Enabled: true},
			{Name: "bad", URL: bad.URL, Format: "domains", Enabled: true},
			{Name: "off", URL: bad.URL, Format: "domains", Enabled: false},
		},
	}

	f := testFilter(t, cfg)

	results := f.Update(context.Background())
	assert.Equal(t, map[string]bool{"good": true, "bad": false}, results)

	// partial failure still loads the successful source
	assert.True(t, f.IsBlocked("doubleclick.net"))
	assert.False(t, f.IsBlocked("invalid"))

	stats := f.Stats()
	assert.Equal(t, 1, stats.BlockedDomains)
	assert.False(t, stats.LastUpdate.IsZero())
	assert.True(t, stats.Sources["good"])
	assert.False(t, stats.Sources["off"])
}

func Test_SourceToggle(t *testing.T) {
	f := testFilter(t, &config.Config{
		BlockListDir: t.TempDir(),
		Sources:      []config.Source{{Name: "one", URL: "http://127.0.0.1:0", Format: "hosts", Enabled: false}},
	})

	f.EnableSource("one")
	assert.True(t, f.Stats().Sources["one"])

	f.DisableSource("one")
	assert.False(t, f.Stats().Sources["one"])
}
