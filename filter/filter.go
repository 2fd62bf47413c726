package filter

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"
	"github.com/sinkdns/sinkdns/config"
)

const (
	customFile    = "custom_blocklist.txt"
	whitelistFile = "whitelist.txt"
)

// Source is a remote blocklist source with a runtime enable toggle.
type Source struct {
	Name    string
	URL     string
	Format  Format
	Enabled bool
}

// Filter holds the merged domain block and allow sets. The merged sets are
// replaced wholesale on reload so readers never observe a partial set.
type Filter struct {
	mu sync.RWMutex

	blocked map[string]struct{}
	allowed map[string]struct{}
	custom  map[string]struct{}

	sources []Source

	manualBlock []string
	manualAllow []string

	dir        string
	lastUpdate time.Time

	client *http.Client
}

// New builds a Filter from config and loads the locally cached list files.
func New(cfg *config.Config) (*Filter, error) {
	dir := cfg.BlockListDir
	if dir == "" {
		dir = "."
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("error creating blocklist directory: %s", err)
	}

	f := &Filter{
		blocked:     make(map[string]struct{}),
		allowed:     make(map[string]struct{}),
		custom:      make(map[string]struct{}),
		manualBlock: cfg.Blocklist,
		manualAllow: cfg.Whitelist,
		dir:         dir,
		client:      &http.Client{Timeout: 30 * time.Second},
	}

	for _, src := range cfg.Sources {
		format, err := ParseFormat(src.Format)
		if err != nil {
			return nil, err
		}

		f.sources = append(f.sources, Source{
			Name:    src.Name,
			URL:     src.URL,
			Format:  format,
			Enabled: src.Enabled,
		})
	}

	if err := f.Load(); err != nil {
		return nil, err
	}

	return f, nil
}

// IsBlocked reports whether domain or any parent of it is in the block set
// and not allow-listed. Allow always wins. The walk checks each shortening
// of the name so lookup cost depends on label count, not set size.
func (f *Filter) IsBlocked(domain string) bool {
	domain = Normalize(domain)
	if domain == "" {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	labels := strings.Split(domain, ".")

	for i := range labels {
		if _, ok := f.allowed[strings.Join(labels[i:], ".")]; ok {
			return false
		}
	}

	for i := range labels {
		if _, ok := f.blocked[strings.Join(labels[i:], ".")]; ok {
			return true
		}
	}

	return false
}

// AddToAllow inserts domain into the allow set and persists the whitelist
// file. Adding an existing entry is a no-op.
func (f *Filter) AddToAllow(domain string) error {
	domain = Normalize(domain)
	if !IsValidDomain(domain) {
		return fmt.Errorf("invalid domain: %q", domain)
	}

	f.mu.Lock()
	f.allowed[domain] = struct{}{}
	entries := keys(f.allowed)
	f.mu.Unlock()

	return f.persist(whitelistFile, entries)
}

// RemoveFromAllow removes domain from the allow set and persists the
// whitelist file. Removing a missing entry is a no-op.
func (f *Filter) RemoveFromAllow(domain string) error {
	domain = Normalize(domain)

	f.mu.Lock()
	delete(f.allowed, domain)
	entries := keys(f.allowed)
	f.mu.Unlock()

	return f.persist(whitelistFile, entries)
}

// AddToBlock inserts domain into the user-managed custom block list.
func (f *Filter) AddToBlock(domain string) error {
	domain = Normalize(domain)
	if !IsValidDomain(domain) {
		return fmt.Errorf("invalid domain: %q", domain)
	}

	f.mu.Lock()
	f.custom[domain] = struct{}{}
	f.blocked[domain] = struct{}{}
	entries := keys(f.custom)
	f.mu.Unlock()

	return f.persist(customFile, entries)
}

// RemoveFromBlock removes domain from the custom block list. The domain
// stays blocked if a downloaded source also lists it.
func (f *Filter) RemoveFromBlock(domain string) error {
	domain = Normalize(domain)

	f.mu.Lock()
	delete(f.custom, domain)
	entries := keys(f.custom)
	f.mu.Unlock()

	if err := f.persist(customFile, entries); err != nil {
		return err
	}

	return f.Load()
}

// Load rebuilds the merged sets from all per-source files, the custom block
// list, the whitelist and the manual config entries, then swaps them in.
func (f *Filter) Load() error {
	blocked := make(map[string]struct{})
	allowed := make(map[string]struct{})
	custom := make(map[string]struct{})

	for _, src := range f.sources {
		path := filepath.Join(f.dir, src.Name+".txt")
		if err := readDomainFile(path, blocked); err != nil {
			zlog.Warn("Blocklist file read failed", "path", path, "error", err.Error())
		}
	}

	if err := readDomainFile(filepath.Join(f.dir, customFile), custom); err != nil {
		zlog.Warn("Custom blocklist read failed", "error", err.Error())
	}

	if err := readDomainFile(filepath.Join(f.dir, whitelistFile), allowed); err != nil {
		zlog.Warn("Whitelist read failed", "error", err.Error())
	}

	for _, entry := range f.manualBlock {
		if domain := Normalize(entry); IsValidDomain(domain) {
			blocked[domain] = struct{}{}
		}
	}

	for _, entry := range f.manualAllow {
		if domain := Normalize(entry); IsValidDomain(domain) {
			allowed[domain] = struct{}{}
		}
	}

	for domain := range custom {
		blocked[domain] = struct{}{}
	}

	f.mu.Lock()
	f.blocked = blocked
	f.allowed = allowed
	f.custom = custom
	f.mu.Unlock()

	zlog.Info("Blocked domains loaded", "total", len(blocked), "whitelist", len(allowed))

	return nil
}

// Stats describes the loaded filter state.
type Stats struct {
	BlockedDomains int
	AllowedDomains int
	LastUpdate     time.Time
	Sources        map[string]bool
}

// Stats returns the loaded filter state.
func (f *Filter) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	sources := make(map[string]bool, len(f.sources))
	for _, src := range f.sources {
		sources[src.Name] = src.Enabled
	}

	return Stats{
		BlockedDomains: len(f.blocked),
		AllowedDomains: len(f.allowed),
		LastUpdate:     f.lastUpdate,
		Sources:        sources,
	}
}

// EnableSource enables a blocklist source by name.
func (f *Filter) EnableSource(name string) { f.setSource(name, true) }

// DisableSource disables a blocklist source by name.
func (f *Filter) DisableSource(name string) { f.setSource(name, false) }

func (f *Filter) setSource(name string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.sources {
		if f.sources[i].Name == name {
			f.sources[i].Enabled = enabled
		}
	}
}

// persist writes entries sorted one per line to a file in the list dir.
func (f *Filter) persist(name string, entries []string) error {
	sort.Strings(entries)

	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(entry)
		sb.WriteByte('\n')
	}

	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("error writing %s: %s", name, err)
	}

	return nil
}

func readDomainFile(path string, into map[string]struct{}) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	domains, err := parseDomains(file)
	if err != nil {
		return err
	}

	for _, domain := range domains {
		into[domain] = struct{}{}
	}

	return nil
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	return out
}
