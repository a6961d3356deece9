package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"exiftool-manager/internal/logger"
	"exiftool-manager/internal/metrics"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultSettle is how long a file must stay quiet before it is handled.
const DefaultSettle = 2 * time.Second

// Handler is called once a created or written file has settled.
type Handler func(ctx context.Context, path string)

// Options configures the watcher behavior.
type Options struct {
	// Watch subdirectories, including ones created later
	Recursive bool

	// Quiet period after the last event on a file
	Settle time.Duration

	// Files rejected by Filter are ignored; nil accepts everything
	Filter func(path string) bool
}

// Watcher monitors directories and hands settled files to a Handler.
type Watcher struct {
	fs      *fsnotify.Watcher
	dirs    []string
	options Options
	handler Handler
	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	watched map[string]bool
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New validates dirs and prepares a watcher. Invalid directories are skipped
// with a warning; none valid is an error.
func New(dirs []string, options Options, handler Handler, logger logrus.FieldLogger, m *metrics.Metrics) (*Watcher, error) {
	var valid []string
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			logger.Warnf("Skipping invalid directory %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			logger.Warnf("Skipping non-directory path %s", dir)
			continue
		}
		valid = append(valid, dir)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid directories to watch")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if options.Settle <= 0 {
		options.Settle = DefaultSettle
	}

	w := &Watcher{
		fs:      fsWatcher,
		dirs:    valid,
		options: options,
		handler: handler,
		logger:  logger.WithField("component", "watcher"),
		metrics: m,
		watched: make(map[string]bool),
		pending: make(map[string]*time.Timer),
	}

	for _, dir := range valid {
		if options.Recursive {
			w.addRecursive(dir)
		} else {
			w.add(dir)
		}
	}
	return w, nil
}

// WatchedDirs returns the number of watched directories.
func (w *Watcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// Run processes events until ctx is done, then waits for running handlers
// and closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.WithField("dirs", w.WatchedDirs()).Info("File watcher started")
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if w.metrics != nil {
		w.metrics.IncWatchEvent(strings.ToLower(event.Op.String()))
	}

	// only create and write events matter
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return // gone already
	}
	if info.IsDir() {
		if w.options.Recursive && event.Has(fsnotify.Create) {
			w.addRecursive(event.Name)
		}
		return
	}
	if w.options.Filter != nil && !w.options.Filter(event.Name) {
		return
	}

	w.schedule(ctx, event.Name)
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok && timer.Stop() {
		timer.Reset(w.options.Settle)
		return
	}

	// a fired timer whose callback is still waiting for mu is replaced
	var timer *time.Timer
	w.wg.Add(1)
	timer = time.AfterFunc(w.options.Settle, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		logger.WithFile(w.logger, path).Debug("Handling settled file")
		w.handler(ctx, path)
	})
	w.pending[path] = timer
}

func (w *Watcher) addRecursive(root string) {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			w.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}
		if info.IsDir() {
			w.add(path)
		}
		return nil
	})
	if err != nil {
		w.logger.Errorf("Error walking directory %s: %v", root, err)
	}
}

func (w *Watcher) add(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watched[dir] {
		return
	}
	if err := w.fs.Add(dir); err != nil {
		w.logger.WithError(err).WithField("dir", dir).Warn("Failed to watch directory")
		return
	}
	w.watched[dir] = true
	w.logger.WithField("dir", dir).Debug("Watching directory")
	if w.metrics != nil {
		w.metrics.SetWatchedDirs(len(w.watched))
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	for path, timer := range w.pending {
		if timer.Stop() {
			// the callback will never run, release its slot
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	if err := w.fs.Close(); err != nil {
		w.logger.WithError(err).Warn("Failed to close file watcher")
	}
	w.logger.Info("File watcher stopped")
}
