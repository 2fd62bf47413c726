package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Config(t *testing.T) {
	cfgfile := filepath.Join(t.TempDir(), "sinkdns.toml")

	cfg, err := Load(cfgfile, "0.0.0")
	assert.NoError(t, err)

	_, err = os.Stat(cfgfile)
	assert.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8053", cfg.Bind)
	assert.Equal(t, uint32(300), cfg.CacheTTL)
	assert.Equal(t, 3*time.Second, cfg.Timeout.Duration)
	assert.Equal(t, 24*time.Hour, cfg.UpdateInterval.Duration)
	assert.Len(t, cfg.Upstreams, 4)
	assert.Len(t, cfg.Sources, 5)
	assert.Equal(t, "hosts", cfg.Sources[3].Format)
	assert.Equal(t, "0.0.0", cfg.ServerVersion())

	// loading the generated file again must not regenerate it
	cfg2, err := Load(cfgfile, "0.0.0")
	assert.NoError(t, err)
	assert.Equal(t, cfg.Bind, cfg2.Bind)
}

func Test_ConfigError(t *testing.T) {
	cfgfile := filepath.Join(t.TempDir(), "broken.toml")
	err := os.WriteFile(cfgfile, []byte("bind = [42"), 0644)
	assert.NoError(t, err)

	_, err = Load(cfgfile, "0.0.0")
	assert.Error(t, err)
}
