package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type
type Config struct {
	Version         string
	Bind            string
	TCP             bool
	Upstreams       []string
	Timeout         Duration
	CacheTTL        uint32
	BlockListDir    string
	DBPath          string
	LogLevel        string
	AccessList      []string
	ClientRateLimit int
	Metrics         string
	Blocklist       []string
	Whitelist       []string
	Sources         []Source
	UpdateInterval  Duration
	Retention       Duration

	sVersion string
}

// Source describes one remote blocklist source.
type Source struct {
	Name    string
	URL     string
	Format  string
	Enabled bool
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the DNS server
bind = "0.0.0.0:8053"

# Also serve DNS over TCP on the same address
tcp = true

# Ordered upstream resolvers, earlier entries are preferred
upstreams = [
"8.8.8.8:53",
"1.1.1.1:53",
"114.114.114.114:53",
"223.5.5.5:53"
]

# Network timeout for each upstream exchange in duration
timeout = "3s"

# Fixed TTL for cached answers in seconds
cachettl = 300

# Directory for downloaded blocklist files, the custom blocklist and the whitelist
blocklistdir = "data/blocklists"

# Location of the query log database
dbpath = "data/dns.db"

# What kind of information should be logged, Log verbosity level [error,warn,info,debug]
loglevel = "info"

# Which clients allowed to make queries
accesslist = [
"0.0.0.0/0",
"::0/0"
]

# Client ip address based ratelimit per minute, 0 for disabled
clientratelimit = 0

# Address to bind to for the prometheus metrics endpoint, left blank for disabled
metrics = ""

# Manual blocklist entries
blocklist = []

# Manual whitelist entries
whitelist = []

# How often the remote blocklist sources are refreshed (checked hourly)
updateinterval = "24h"

# Query and block history older than this is removed by the cleanup task
retention = "720h"

# Remote blocklist sources. Formats: hosts, adblock, domains
[[sources]]
name = "easylist"
url = "https://easylist.to/easylist/easylist.txt"
format = "adblock"
enabled = true

[[sources]]
name = "easylist_china"
url = "https://easylist-downloads.adblockplus.org/easylistchina.txt"
format = "adblock"
enabled = true

[[sources]]
name = "adguard_base"
url = "https://filters.adtidy.org/extension/chromium/filters/2.txt"
format = "adblock"
enabled = true

[[sources]]
name = "steven_black"
url = "https://raw.githubusercontent.com/StevenBlack/hosts/master/hosts"
format = "hosts"
enabled = true

[[sources]]
name = "malware_domains"
url = "https://mirror1.malwaredomains.com/files/justdomains"
format = "domains"
enabled = true
`

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %s", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version

	if config.Bind == "" {
		config.Bind = "0.0.0.0:8053"
	}

	if config.Timeout.Duration == 0 {
		config.Timeout.Duration = 3 * time.Second
	}

	if config.CacheTTL == 0 {
		config.CacheTTL = 300
	}

	if config.UpdateInterval.Duration == 0 {
		config.UpdateInterval.Duration = 24 * time.Hour
	}

	if config.Retention.Duration == 0 {
		config.Retention.Duration = 30 * 24 * time.Hour
	}

	return config, nil
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %s", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %s", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
