package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/deploygate/internal/audit"
	"github.com/blackwell-systems/deploygate/internal/store"
)

// Handler receives records as they are indexed.
type Handler func(recs []audit.Record)

// WatcherOptions tunes a Watcher.
type WatcherOptions struct {
	// Debounce collapses bursts of file events into one pass.
	Debounce time.Duration
	// PollInterval is the fallback pass interval for filesystems that do
	// not deliver events.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// DefaultWatcherOptions returns the options used by history --follow.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Debounce:     200 * time.Millisecond,
		PollInterval: 30 * time.Second,
	}
}

// Watcher keeps the history index current while the audit log grows.
type Watcher struct {
	store   *store.Store
	logPath string
	handler Handler
	opts    WatcherOptions
	logger  *slog.Logger

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for logPath. handler may be nil.
func NewWatcher(st *store.Store, logPath string, handler Handler, opts *WatcherOptions) (*Watcher, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		store:   st,
		logPath: filepath.Clean(logPath),
		handler: handler,
		opts:    *opts,
		logger:  logger,
		fsw:     fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start indexes what is already in the log, then watches the log's
// directory until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.logPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	// The directory is watched so the log can be created or replaced.
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.pass()

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop halts the watcher after a final pass.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.fsw.Close()
		w.pass()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	poll := w.opts.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.logPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			timerC = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "path", w.logPath, "error", err)
		case <-timerC:
			timerC = nil
			w.pass()
		case <-ticker.C:
			w.pass()
		}
	}
}

// pass runs Process until the log is drained.
func (w *Watcher) pass() {
	for {
		res, err := Process(w.store, w.logPath, w.logger)
		if err != nil {
			w.logger.Warn("history index update failed", "path", w.logPath, "error", err)
			return
		}
		if len(res.Records) > 0 && w.handler != nil {
			w.handler(res.Records)
		}
		if len(res.Records) < maxRecordsPerPass {
			return
		}
	}
}
