package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultReloadDebounce batches the burst of events an editor save produces.
const defaultReloadDebounce = 250 * time.Millisecond

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Watcher reloads the configuration file when it changes on disk and hands
// each valid result to subscribers. An invalid file is logged and ignored;
// the last good configuration stays current.
type Watcher struct {
	path     string
	logger   Logger
	debounce time.Duration

	mu          sync.RWMutex
	current     *Config
	subscribers []func(*Config)
}

// NewWatcher creates a watcher for path, starting from initial.
func NewWatcher(path string, initial *Config, logger Logger) *Watcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Watcher{
		path:     filepath.Clean(path),
		logger:   logger,
		debounce: defaultReloadDebounce,
		current:  initial,
	}
}

// Subscribe registers fn to receive every reloaded configuration.
func (w *Watcher) Subscribe(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Current returns the last good configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches the file until ctx is cancelled.
//
// The containing directory is watched rather than the file itself so that
// editors which save by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", w.path, err)
	}
	w.logger.Info("watching config file", "path", w.path)

	var (
		timer   *time.Timer
		reloadC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			reloadC = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-reloadC:
			reloadC = nil
			w.reload()
		}
	}
}

// reload loads the file and notifies subscribers on success.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload rejected, keeping previous", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	subs := make([]func(*Config), len(w.subscribers))
	copy(subs, w.subscribers)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	for _, fn := range subs {
		fn(cfg)
	}
}
