package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/settings"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 150 * time.Millisecond

// WatchOptions configures WatchSettings.
type WatchOptions struct {
	Debounce time.Duration
	Logger   logging.Logger
}

// Watcher re-applies the settings section of a config file whenever the
// file changes.
type Watcher struct {
	path     string
	apply    func(settings.Settings)
	debounce time.Duration
	logger   logging.Logger

	fs   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// WatchSettings watches path and calls apply with the freshly loaded settings
// after each change. Invalid files are logged and skipped. The parent
// directory is watched so atomic rename-on-save is observed.
func WatchSettings(path string, apply func(settings.Settings), optFns ...func(o *WatchOptions)) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watch settings: empty path")
	}
	if apply == nil {
		return nil, errors.New("watch settings: nil apply func")
	}

	opts := WatchOptions{Debounce: DefaultDebounce, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch settings: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch settings: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch settings %s: %w", abs, err)
	}

	w := &Watcher{
		path:     abs,
		apply:    apply,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		fs:       fw,
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Close stops watching. Pending reloads are dropped.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload skipped", "path", w.path, "error", err)
		return
	}
	w.logger.Info("runtime settings reloaded", "path", w.path, "model", cfg.Settings.Model)
	w.apply(cfg.Settings)
}
