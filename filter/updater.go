package filter

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/semihalev/zlog/v2"
)

const userAgent = "sinkdns/1.0 (+https://github.com/sinkdns/sinkdns)"

// checkInterval is how often the auto updater looks at the refresh deadline.
const checkInterval = time.Hour

// Update fetches every enabled source, writes the parsed domains to the
// per-source file and reloads the merged sets. A failing source is recorded
// and the remaining sources are still processed; the currently loaded sets
// are only replaced after all sources finished.
func (f *Filter) Update(ctx context.Context) map[string]bool {
	f.mu.RLock()
	sources := make([]Source, len(f.sources))
	copy(sources, f.sources)
	f.mu.RUnlock()

	results := make(map[string]bool)

	for _, src := range sources {
		if !src.Enabled {
			continue
		}

		zlog.Info("Fetching blocklist", "source", src.Name, "url", src.URL)

		if err := f.fetchSource(ctx, src); err != nil {
			zlog.Error("Fetching blocklist failed", "source", src.Name, "error", err.Error())
			results[src.Name] = false
			continue
		}

		results[src.Name] = true
	}

	if err := f.Load(); err != nil {
		zlog.Error("Reload after update failed", "error", err.Error())
	}

	f.mu.Lock()
	f.lastUpdate = time.Now()
	f.mu.Unlock()

	return results
}

func (f *Filter) fetchSource(ctx context.Context, src Source) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("error building request: %s", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("error downloading source: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	domains, err := Parse(src.Format, resp.Body)
	if err != nil {
		return fmt.Errorf("error parsing source: %s", err)
	}

	sort.Strings(domains)

	path := filepath.Join(f.dir, src.Name+".txt")
	if err := os.WriteFile(path, []byte(strings.Join(domains, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("error writing file: %s", err)
	}

	zlog.Info("Blocklist source updated", "source", src.Name, "domains", len(domains))

	return nil
}

// AutoUpdate refreshes the sources whenever the update interval elapsed.
// The deadline is checked hourly so a changed interval takes effect without
// restarting. Blocks until ctx is canceled.
func (f *Filter) AutoUpdate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.mu.RLock()
			last := f.lastUpdate
			f.mu.RUnlock()

			if last.IsZero() || time.Since(last) > interval {
				f.Update(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}
