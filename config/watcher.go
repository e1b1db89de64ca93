package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the configuration when one of its layer files changes.
type Watcher struct {
	watcher    *fsnotify.Watcher
	projectDir string
	files      map[string]bool
	debounce   time.Duration
	logger     *logrus.Entry
	onReload   func(*Config)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the directories holding the configuration layers of projectDir.
// onReload receives every successfully reloaded configuration; invalid edits are logged and ignored.
func NewWatcher(projectDir string, debounce time.Duration, logger *logrus.Entry, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fw,
		projectDir: projectDir,
		files:      make(map[string]bool),
		debounce:   debounce,
		logger:     logger,
		onReload:   onReload,
	}

	watchedDirs := make(map[string]bool)
	for _, file := range LayerFiles(projectDir) {
		w.files[filepath.Clean(file)] = true
		dir := filepath.Dir(file)
		if watchedDirs[dir] {
			continue
		}
		// Missing directories are simply not watched.
		if err := fw.Add(dir); err == nil {
			watchedDirs[dir] = true
		}
	}

	return w, nil
}

// Run processes file events until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
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
	cfg, err := LoadFromWithLogger(w.projectDir, w.logger.Logger)
	if err != nil {
		w.logger.WithError(err).Warn("Ignoring invalid configuration change")
		return
	}
	w.logger.Info("Configuration reloaded")
	w.onReload(cfg)
}
