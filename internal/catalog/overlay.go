package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// overlayFile is the on-disk shape of an optional catalog overlay: a plain
// list of mappings that replaces the compiled-in table wholesale.
type overlayFile struct {
	Mappings []ModelMapping `yaml:"mappings"`
}

// LoadOverlay reads a YAML overlay file and builds a Catalog from it. An
// empty or missing mapping list falls back to the compiled-in table.
func LoadOverlay(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog overlay: %w", err)
	}

	var f overlayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog overlay: %w", err)
	}

	return New(f.Mappings), nil
}

// Watcher holds the live Catalog and swaps it atomically whenever the
// overlay file on disk changes, applied once at startup and again on every
// subsequent write.
type Watcher struct {
	current atomic.Pointer[Catalog]
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher loads path once and returns a Watcher ready to serve Get()
// immediately. Call Start to begin watching for further changes.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cat, err := LoadOverlay(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, logger: logger}
	w.current.Store(cat)
	return w, nil
}

// Get returns the current Catalog. Safe for concurrent use.
func (w *Watcher) Get() *Catalog {
	return w.current.Load()
}

// Start begins watching the overlay file for changes, reloading and
// atomically swapping in a fresh Catalog on each write.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.path); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = w.watcher.Close()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("catalog overlay watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cat, err := LoadOverlay(w.path)
	if err != nil {
		w.logger.Error("failed to reload model catalog overlay, keeping current", "error", err)
		return
	}
	w.current.Store(cat)
	w.logger.Info("model catalog overlay reloaded")
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
