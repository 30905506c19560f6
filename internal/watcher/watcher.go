// Package watcher reloads the configuration file when its contents change.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Default timings for the watcher loop.
const (
	// defaultDebounce coalesces the burst of events editors emit on save.
	defaultDebounce = 250 * time.Millisecond
	// defaultPollInterval re-checks the file in case an event was missed.
	defaultPollInterval = 30 * time.Second
)

// ReloadFunc re-reads the watched file and applies it.
type ReloadFunc func(ctx context.Context) error

// Watcher watches one file and calls reload once per content change.
type Watcher struct {
	path   string
	reload ReloadFunc

	debounce     time.Duration
	pollInterval time.Duration

	mu   sync.Mutex
	hash string
}

// New constructs a Watcher for path. The current contents are taken as the baseline.
func New(path string, reload ReloadFunc) *Watcher {
	w := &Watcher{
		path:         filepath.Clean(path),
		reload:       reload,
		debounce:     defaultDebounce,
		pollInterval: defaultPollInterval,
	}
	w.hash, _ = fileHash(w.path)
	return w
}

// Run blocks until ctx is done. The parent directory is watched so that
// editors replacing the file through a rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.reload == nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create: %w", err)
	}
	defer func() { _ = fsw.Close() }()
	if errAdd := fsw.Add(filepath.Dir(w.path)); errAdd != nil {
		return fmt.Errorf("watcher: watch %s: %w", filepath.Dir(w.path), errAdd)
	}
	log.Infof("config watcher started (path=%s)", w.path)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(w.debounce)
		case errWatch, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.WithError(errWatch).Warn("config watcher: fsnotify error")
		case <-pending:
			pending = nil
			w.Check(ctx)
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check reloads when the file hash differs from the last applied one.
// It reports whether a reload happened.
func (w *Watcher) Check(ctx context.Context) bool {
	hash, errHash := fileHash(w.path)
	if errHash != nil || hash == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if hash == w.hash {
		return false
	}
	if errReload := w.reload(ctx); errReload != nil {
		log.WithError(errReload).Warn("config watcher: reload failed, keeping previous settings")
		return false
	}
	w.hash = hash
	log.Infof("config watcher: reloaded %s", w.path)
	return true
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
