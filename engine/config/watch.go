package config

import (
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/halcyon/engine/core"
)

// Watcher reloads a config file when it changes on disk and hands the new
// snapshot to a callback. Only live-tunable fields should be acted on by the
// callback; structural fields (backend, resolution) need a restart.
type Watcher struct {
	path     string
	onChange func(*Config)

	done     chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

// Watch starts watching path. The parent directory is registered rather than
// the file itself so editors that replace the file atomically still trigger.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.Errorf("failed to create config watcher: %w", err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}

	dir := filepath.Dir(path)
	if err := fsWatch.Add(dir); err != nil {
		fsWatch.Close()
		return nil, core.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.start()
	return w, nil
}

func (w *Watcher) start() {
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != filepath.Clean(w.path) {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				core.LogWarn("config reload skipped: %s", err)
				continue
			}
			core.LogInfo("config reloaded from %s", w.path)
			w.onChange(cfg)

		case e, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("%s", e.Error())

		case <-w.done:
			w.fsnotify.Close()
			return
		}
	}
}

// Close stops the watcher. Safe to call once.
func (w *Watcher) Close() error {
	if w.isClosed {
		return errors.New("config watcher already closed")
	}
	w.isClosed = true
	close(w.done)
	return nil
}
