package observer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gnemet/PoemWeaver/internal/config"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc receives every successfully loaded and validated configuration.
type ReloadFunc func(ctx context.Context, cfg *config.Config) error

// Observer watches the config file and reloads it on change.
type Observer struct {
	path     string
	onReload ReloadFunc
	logger   *zap.Logger
	load     func(path string) (*config.Config, error)
	Debounce time.Duration

	ready chan struct{}
}

func NewObserver(path string, onReload ReloadFunc, logger *zap.Logger) *Observer {
	return &Observer{
		path:     path,
		onReload: onReload,
		logger:   logger,
		load:     config.LoadConfig,
		Debounce: DefaultDebounce,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the watcher is registered.
func (o *Observer) Ready() <-chan struct{} {
	return o.ready
}

// Start blocks until ctx is done. The directory is watched rather than the
// file so that editors replacing the file by rename are seen.
func (o *Observer) Start(ctx context.Context) error {
	target, err := filepath.Abs(o.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	close(o.ready)

	o.logger.Info("Config observer started", zap.String("file", target))

	var reload <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				o.logger.Debug("Detected change in config", zap.String("file", event.Name), zap.String("op", event.Op.String()))
				// Editors write in several steps; wait for them to settle.
				reload = time.After(o.Debounce)
			}
		case <-reload:
			reload = nil
			o.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logger.Warn("Watcher error", zap.Error(err))
		case <-ctx.Done():
			return nil
		}
	}
}

func (o *Observer) reload(ctx context.Context) {
	cfg, err := o.load(o.path)
	if err != nil {
		o.logger.Warn("Ignoring config change: load failed", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		o.logger.Warn("Ignoring config change: invalid configuration", zap.Error(err))
		return
	}
	if err := o.onReload(ctx, cfg); err != nil {
		o.logger.Warn("Config reload rejected", zap.Error(err))
		return
	}
	o.logger.Info("Configuration reloaded", zap.String("provider", cfg.AI.ActiveProvider), zap.String("model", cfg.AI.Active().Model))
}
