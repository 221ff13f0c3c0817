package unit

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"roadie/internal/logging"
)

// Watcher observes the units directory and invokes a callback when unit files
// change. Events are debounced so an editor writing a file in several steps
// produces one reload.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	watcher   *fsnotify.Watcher
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewWatcher builds a watcher for dir. onChange runs after the debounce window
// closes; it must be safe to call from a background goroutine.
func NewWatcher(dir string, debounce time.Duration, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("unit watcher requires a change callback")
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create unit watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logging.NewComponentLogger(logger, "unit-watcher"),
		watcher:  fsw,
		quit:     make(chan struct{}),
	}, nil
}

// Start begins watching. The context bounds the event loop alongside Close.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch units directory %s: %w", w.dir, err)
	}
	w.logger.Debug("watching units directory", logging.String("dir", w.dir))
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops the watcher and waits for its goroutine. Idempotent.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.quit)
		err = w.watcher.Close()
		w.wg.Wait()
		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isUnitFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.logger.Debug("unit file changed",
				logging.String("file", filepath.Base(event.Name)),
				logging.String("op", event.Op.String()))
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("unit watcher error", logging.Error(err))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func isUnitFile(path string) bool {
	return strings.HasSuffix(path, unitFileExt)
}
