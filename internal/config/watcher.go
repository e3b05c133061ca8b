package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/logging"
)

// debounceWindow collapses the write bursts editors and config management
// tools produce into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the YAML config file on change and hands validated
// snapshots to a callback. Only dynamic knobs should be applied live;
// callers decide which fields they honor.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	done     chan struct{}
	log      *logrus.Entry
}

// NewWatcher creates a watcher for the config file at path. The callback
// receives each successfully loaded and validated snapshot.
func NewWatcher(path string, callback func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		callback: callback,
		done:     make(chan struct{}),
		log:      logging.Component("config"),
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic rename-into-place updates are seen. Call Stop to
// clean up.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop()
	w.log.WithField("path", w.path).Info("watching config file for changes")
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)

	var debounce *time.Timer
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
			if !w.matches(evt) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) matches(evt fsnotify.Event) bool {
	if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(evt.Name) == filepath.Clean(w.path)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Warn("config reload rejected, keeping previous snapshot")
		return
	}
	w.log.Info("config reloaded")
	if w.callback != nil {
		w.callback(cfg)
	}
}
