package filter

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// Watch reloads the merged sets when the custom blocklist or the whitelist
// is edited outside the process. Blocks until ctx is canceled.
func (f *Filter) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(f.dir); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			name := filepath.Base(event.Name)
			if name != customFile && name != whitelistFile {
				continue
			}

			zlog.Info("List file changed, reloading", "file", name)

			if err := f.Load(); err != nil {
				zlog.Error("Reload after file change failed", "error", err.Error())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zlog.Warn("List watcher error", "error", err.Error())
		case <-ctx.Done():
			return nil
		}
	}
}
