package triggers

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/engine"
	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
	"golang.org/x/time/rate"
)

// DefaultDebounce is how long a file must stay quiet before it is scanned.
const DefaultDebounce = 500 * time.Millisecond

// WatchConfig tunes the watcher.
type WatchConfig struct {
	Debounce time.Duration
	// Exclude lists directories whose events are ignored.
	Exclude []string
	// EventRate and EventBurst limit how fast scans are dispatched.
	EventRate  rate.Limit
	EventBurst int
}

// FileEvent is published for every accepted file system event.
type FileEvent struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// WatchState is published when the watcher starts, stops or fails.
type WatchState struct {
	Active    bool     `json:"active"`
	Locations []string `json:"locations"`
	Error     string   `json:"error,omitempty"`
}

// Watcher scans files as they appear or change under the configured
// locations.
type Watcher struct {
	cfg     WatchConfig
	runner  Runner
	events  events.Publisher
	logger  *logrus.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	// cfgMu serializes Configure and Close.
	cfgMu sync.Mutex
	sub   *subscription
	roots []string
	// scanned holds the roots of the last successful subscription. It survives
	// a failed Configure so a later retry does not rescan them.
	scanned []string

	mu     sync.Mutex
	closed bool
	scans  sync.WaitGroup
}

// NewWatcher returns an idle watcher. Call Configure to start watching.
func NewWatcher(runner Runner, publisher events.Publisher, cfg WatchConfig, logger *logrus.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.EventRate <= 0 {
		cfg.EventRate = rate.Limit(20)
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:     cfg,
		runner:  runner,
		events:  publisher,
		logger:  logger,
		limiter: rate.NewLimiter(cfg.EventRate, cfg.EventBurst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Configure replaces the watched locations. The previous subscription is
// fully closed before the new one starts. Locations that were not watched
// before get one automatic scan.
func (w *Watcher) Configure(locations []string) error {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()
	if w.isClosed() {
		return errors.New("watcher is closed")
	}

	if w.sub != nil {
		w.sub.stop()
		w.sub = nil
	}

	previous := make(map[string]struct{}, len(w.scanned))
	for _, r := range w.scanned {
		previous[r] = struct{}{}
	}
	w.roots = nil

	if len(locations) == 0 {
		w.scanned = nil
		w.publish(events.WatchStatus, WatchState{Active: false, Locations: []string{}})
		w.logger.Info("File watcher stopped, no locations configured")
		return nil
	}

	sub, err := w.subscribe(locations)
	if err != nil {
		w.publish(events.WatchStatus, WatchState{Active: false, Locations: locations, Error: err.Error()})
		w.logger.WithError(err).Error("Failed to start file watcher")
		return err
	}
	w.sub = sub
	w.roots = append([]string(nil), locations...)
	w.scanned = w.roots

	for _, root := range locations {
		if _, ok := previous[root]; ok {
			continue
		}
		w.dispatch(func(ctx context.Context) error {
			return w.runner.ScanFolder(ctx, root, models.ScanTypeAutoscan, engine.DropPolicy)
		}, root)
	}

	w.publish(events.WatchStatus, WatchState{Active: true, Locations: w.roots})
	w.logger.WithField("locations", locations).Info("File watcher started")
	return nil
}

// Locations returns the watched roots.
func (w *Watcher) Locations() []string {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()
	return append([]string(nil), w.roots...)
}

// Close stops watching, cancels running scans and waits for them.
func (w *Watcher) Close() {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	if w.sub != nil {
		w.sub.stop()
		w.sub = nil
	}
	w.roots = nil

	w.cancel()
	w.scans.Wait()
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Watcher) publish(t events.Type, data interface{}) {
	if w.events != nil {
		w.events.Publish(t, data)
	}
}

// dispatch runs fn in its own goroutine unless the watcher is closed.
func (w *Watcher) dispatch(fn func(ctx context.Context) error, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.scans.Add(1)
	go func() {
		defer w.scans.Done()
		if err := w.limiter.Wait(w.ctx); err != nil {
			return
		}
		err := fn(w.ctx)
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrRootBusy), errors.Is(err, engine.ErrCancelled):
			w.logger.WithError(err).WithField("path", path).Debug("Scan skipped")
		default:
			w.logger.WithError(err).WithField("path", path).Error("Triggered scan failed")
		}
	}()
}

func (w *Watcher) excluded(path string) bool {
	for _, dir := range w.cfg.Exclude {
		if dir != "" && engine.Within(path, dir) {
			return true
		}
	}
	return false
}

// subscription is one fsnotify watcher and its event loop.
type subscription struct {
	w    *Watcher
	fw   *fsnotify.Watcher
	done chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func (w *Watcher) subscribe(locations []string) (*subscription, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &subscription{
		w:      w,
		fw:     fw,
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
	for _, root := range locations {
		if err := s.addTree(root); err != nil {
			fw.Close()
			return nil, err
		}
	}
	go s.run()
	return s, nil
}

// addTree watches root and every directory below it.
func (s *subscription) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.w.logger.WithError(err).WithField("path", path).Warn("Cannot watch directory")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if s.w.excluded(path) {
			return filepath.SkipDir
		}
		if err := s.fw.Add(path); err != nil {
			if path == root {
				return err
			}
			s.w.logger.WithError(err).WithField("path", path).Warn("Cannot watch directory")
		}
		return nil
	})
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.fw.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.fw.Errors:
			if !ok {
				return
			}
			s.w.logger.WithError(err).Warn("File watcher error")
		}
	}
}

func (s *subscription) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	path := filepath.Clean(ev.Name)
	if s.w.excluded(path) {
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		return
	}

	s.w.publish(events.FileChanged, FileEvent{Path: path, Op: ev.Op.String()})

	switch {
	case info.IsDir():
		if !ev.Has(fsnotify.Create) {
			return
		}
		if err := s.addTree(path); err != nil {
			s.w.logger.WithError(err).WithField("path", path).Warn("Cannot watch new directory")
		}
		s.w.dispatch(func(ctx context.Context) error {
			return s.w.runner.ScanFolder(ctx, path, models.ScanTypeCustom, engine.QueuePolicy)
		}, path)
	case info.Mode().IsRegular():
		s.debounce(path)
	}
}

// debounce scans path once it has been quiet for the configured delay.
func (s *subscription) debounce(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers == nil {
		return
	}
	if t, ok := s.timers[path]; ok {
		t.Reset(s.w.cfg.Debounce)
		return
	}
	s.timers[path] = time.AfterFunc(s.w.cfg.Debounce, func() {
		s.mu.Lock()
		if s.timers == nil {
			s.mu.Unlock()
			return
		}
		delete(s.timers, path)
		s.mu.Unlock()

		s.w.dispatch(func(ctx context.Context) error {
			return s.w.runner.ScanFile(ctx, path, models.ScanTypeCustom)
		}, path)
	})
}

// stop closes the fsnotify watcher and waits for the event loop to exit.
// Pending debounced scans are dropped.
func (s *subscription) stop() {
	s.fw.Close()
	<-s.done

	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()
}
