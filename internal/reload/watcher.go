// Package reload drives hot-reloading of a zonestore.Store: an
// fsnotify-based fast path reacts to filesystem write events immediately,
// with a slower mtime-polling fallback catching anything fsnotify misses
// (network filesystems, editors that replace-by-rename in ways fsnotify
// can't watch continuously, etc).
package reload

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/dnsauth/dnsauthd/internal/eventbus"
	"github.com/dnsauth/dnsauthd/internal/metrics"
	"github.com/dnsauth/dnsauthd/internal/zonestore"
	"github.com/fsnotify/fsnotify"
)

// Watcher periodically (or event-drivenly) calls ReloadChanged on a store
// and publishes a zone.reload event after each scan.
type Watcher struct {
	store        *zonestore.Store
	bus          *eventbus.Bus
	pollInterval time.Duration
	watchedDirs  []string
	logger       *log.Logger
	metrics      *metrics.Metrics
}

// Config controls a Watcher's polling cadence and the directories its
// fsnotify fast path watches (typically the directories containing zone
// files, not the files themselves, so atomic replace-by-rename is seen).
type Config struct {
	PollInterval time.Duration
	WatchDirs    []string
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

// New creates a Watcher. Call Run to start it; Run blocks until ctx is
// canceled.
func New(store *zonestore.Store, bus *eventbus.Bus, cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Watcher{
		store:        store,
		bus:          bus,
		pollInterval: cfg.PollInterval,
		watchedDirs:  cfg.WatchDirs,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// Run blocks, reloading changed zones either when fsnotify reports a
// filesystem event in a watched directory or when the poll interval
// elapses, whichever comes first. It returns when ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("reload: fsnotify unavailable, falling back to polling only: %v", err)
		return w.pollOnly(ctx)
	}
	defer watcher.Close()

	dirs := make(map[string]bool)
	for _, d := range w.watchedDirs {
		dir := filepath.Clean(d)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := watcher.Add(dir); err != nil {
			w.logger.Printf("reload: watching %s: %v", dir, err)
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.scan()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("reload: fsnotify error: %v", err)
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) pollOnly(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) scan() {
	reloaded, err := w.store.ReloadChanged()
	if err != nil {
		w.logger.Printf("reload: zone reload scan reported errors: %v", err)
	}
	if len(reloaded) > 0 {
		w.logger.Printf("reload: reloaded zones: %v", reloaded)
	}
	if w.metrics != nil {
		if err != nil {
			w.metrics.ZoneReloads.WithLabelValues("error").Inc()
		}
		for range reloaded {
			w.metrics.ZoneReloads.WithLabelValues("success").Inc()
		}
	}
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Topic: eventbus.ZoneReload, Origins: reloaded, Err: err})
	}
}
