package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oremus-labs/ol-ops-console/internal/logutil"
)

const configDebounce = 250 * time.Millisecond

// watchConfig calls apply with the named context's refresh interval every time
// the config file changes, until ctx is cancelled. The directory is watched
// so editors that replace the file atomically are still seen.
func watchConfig(ctx context.Context, path, contextName string, apply func(time.Duration)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, err := filepath.Abs(evt.Name); err != nil || name != abs {
				continue
			}
			debounce = time.After(configDebounce)
		case <-debounce:
			debounce = nil
			interval, err := reloadInterval(abs, contextName)
			if err != nil {
				logutil.Warn("config_reload_failed", err, logutil.Fields{"path": abs})
				continue
			}
			logutil.Debug("config_reloaded", logutil.Fields{"refreshInterval": interval.String()})
			apply(interval)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logutil.Warn("config_watch_error", err, nil)
		}
	}
}

func reloadInterval(path, contextName string) (time.Duration, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return 0, err
	}
	ctx, err := cfg.Resolve(contextName, overrideURL, overrideToken)
	if err != nil {
		return 0, err
	}
	return feedConfig(ctx).RefreshInterval, nil
}
