// Package config provides quota file watching.
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

const defaultReloadDelay = 100 * time.Millisecond

// QuotaUpdater installs quota configs.
type QuotaUpdater interface {
	UpdateConfig(dependency string, cfg core.QuotaConfig) error
}

// QuotaWatcher re-applies the quota list whenever the config file changes.
// Entries that fail validation are skipped and keep their previous config.
// Entries removed from the file stay installed until restart.
type QuotaWatcher struct {
	path    string
	updater QuotaUpdater
	logger  observability.Logger
	delay   time.Duration
}

// NewQuotaWatcher constructs a QuotaWatcher.
func NewQuotaWatcher(path string, updater QuotaUpdater, logger observability.Logger) (*QuotaWatcher, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	if updater == nil {
		return nil, errors.New("quota updater is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &QuotaWatcher{path: absPath, updater: updater, logger: logger, delay: defaultReloadDelay}, nil
}

// Reload reads the file once and applies every valid entry.
func (w *QuotaWatcher) Reload() (int, error) {
	entries, err := LoadQuotas(w.path)
	if err != nil {
		w.logger.Error("failed to reload quotas", map[string]any{
			"path":  w.path,
			"error": err.Error(),
		})
		return 0, err
	}
	applied := 0
	for _, entry := range entries {
		cfg, err := entry.QuotaConfig()
		if err == nil {
			err = w.updater.UpdateConfig(cfg.Dependency, cfg)
		}
		if err != nil {
			w.logger.Warn("skipped quota entry", map[string]any{
				"dependency": entry.Dependency,
				"error":      err.Error(),
			})
			continue
		}
		applied++
	}
	w.logger.Info("quotas reloaded", map[string]any{
		"path":    w.path,
		"applied": applied,
		"skipped": len(entries) - applied,
	})
	return applied, nil
}

// Start watches the file until ctx is done. The directory is watched so
// editors that replace the file by rename are still observed.
func (w *QuotaWatcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("quota watcher is not configured")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	name := filepath.Base(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	w.logger.Info("watching quota file", map[string]any{"path": w.path})

	var debounce *time.Timer
	var pending <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.delay)
			} else {
				debounce.Reset(w.delay)
			}
			pending = debounce.C
		case <-pending:
			pending = nil
			_, _ = w.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("quota file watcher error", map[string]any{"error": err.Error()})
		}
	}
}
