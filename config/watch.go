package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file on change and hands the result to the
// callback. A cooldown window absorbs editor save storms.
type Watcher struct {
	log      *zap.Logger
	path     string
	cooldown time.Duration
	onChange func(NodeConfig)

	mu         sync.Mutex
	lastReload time.Time
	watcher    *fsnotify.Watcher
	done       chan struct{}
	stopped    chan struct{}
}

func NewWatcher(log *zap.Logger, path string, cooldown time.Duration, onChange func(NodeConfig)) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	if cooldown <= 0 {
		cooldown = time.Second
	}
	return &Watcher{log: log, path: path, cooldown: cooldown, onChange: onChange}
}

func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return fmt.Errorf("config watcher: add %s: %w", w.path, err)
	}
	w.watcher = fw
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	go w.loop()
	w.log.Info("config watcher started", zap.String("path", w.path))
	return nil
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.cooldown {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.log.Info("config reloaded", zap.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	select {
	case <-w.stopped:
	case <-time.After(time.Second):
		w.log.Warn("config watcher stop timed out")
	}
	w.watcher = nil
}
