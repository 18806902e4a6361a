// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package watch turns file system events into plugin invalidations and
// incremental rebuilds.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

// DefaultDelay is the debounce delay used by the command line tool.
const DefaultDelay = 100 * time.Millisecond

// FileWatcher watches directories and reports debounced batches of changes
// to its handlers.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	logger    *slog.Logger
	mutex     sync.RWMutex

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether changes to path are of interest.
type FileFilter func(path string) bool

// ChangeHandler handles a batch of changes.
type ChangeHandler func(events []ChangeEvent) error

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithLogger sets the logger. It defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(fw *FileWatcher) {
		fw.logger = logger
	}
}

// NewFileWatcher creates a watcher that batches changes arriving within
// delay of each other.
func NewFileWatcher(delay time.Duration, opts ...Option) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(delay),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(fw)
	}
	return fw, nil
}

// AddFilter adds a file filter. An event must pass every filter.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath adds a single directory or file to watch.
func (fw *FileWatcher) AddPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path %s: %w", path, err)
	}
	return fw.watcher.Add(abs)
}

// AddRecursive watches root and every directory below it that the filters
// do not exclude.
func (fw *FileWatcher) AddRecursive(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid root path %s: %w", root, err)
	}
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs && !fw.accepts(path) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// Start runs the watcher until ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) {
	ctx, fw.cancel = context.WithCancel(ctx)
	fw.wg.Go(func() { fw.debouncer.Run(ctx) })
	fw.wg.Go(func() { fw.processEvents(ctx) })
	fw.wg.Go(func() { fw.watchLoop(ctx) })
}

// Stop stops the watcher and waits for its goroutines.
func (fw *FileWatcher) Stop() error {
	if fw.cancel != nil {
		fw.cancel()
	}
	err := fw.watcher.Close()
	fw.wg.Wait()
	fw.debouncer.stop()
	return err
}

func (fw *FileWatcher) accepts(path string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	for _, filter := range fw.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	info, statErr := os.Stat(event.Name)

	// New directories are watched as they appear.
	if statErr == nil && info.IsDir() {
		if event.Op.Has(fsnotify.Create) && fw.accepts(event.Name) {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn("Cannot watch new directory", "dir", event.Name, "error", err)
			}
		}
		return
	}
	if !fw.accepts(event.Name) {
		return
	}

	change := ChangeEvent{Path: event.Name, Type: eventType(event.Op)}
	if statErr == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}
	fw.debouncer.Add(change)
}

func eventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.Output():
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			var errs error
			for _, handler := range handlers {
				errs = multierr.Append(errs, handler(events))
			}
			if errs != nil {
				fw.logger.Error("File watcher handler failed", "error", errs)
			}
		}
	}
}

// Debouncer groups rapid file changes together
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

// NewDebouncer returns a debouncer emitting a batch once no event arrived
// for delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:  delay,
		events: make(chan ChangeEvent, 100),
		output: make(chan []ChangeEvent, 10),
	}
}

// Add queues an event. Events are dropped while the queue is full; the
// next event of the same file still triggers a batch.
func (d *Debouncer) Add(event ChangeEvent) {
	select {
	case d.events <- event:
	default:
	}
}

// Output returns the channel batches are sent on.
func (d *Debouncer) Output() <-chan []ChangeEvent {
	return d.output
}

// Run moves queued events into the pending batch until ctx is done.
func (d *Debouncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// flush sends the pending events, one per path with the latest event
// winning, sorted by path.
func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}
	latest := make(map[string]ChangeEvent, len(d.pending))
	for _, event := range d.pending {
		latest[event.Path] = event
	}
	events := make([]ChangeEvent, 0, len(latest))
	for _, event := range latest {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- events:
		d.pending = d.pending[:0]
	default:
		// The batch stays pending and goes out with the next one.
	}
}

// Paths returns the paths of events.
func Paths(events []ChangeEvent) []string {
	paths := make([]string, len(events))
	for i, event := range events {
		paths[i] = event.Path
	}
	return paths
}

// SourceFilter accepts the files an Angular build reads: sources,
// templates, styles and JSON.
func SourceFilter(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case "", ".ts", ".tsx", ".js", ".mjs", ".html", ".css", ".scss", ".sass", ".less", ".styl", ".json", ".xlf", ".xliff", ".xmb", ".xtb":
		return true
	}
	return false
}

// NoNodeModulesFilter rejects installed packages.
func NoNodeModulesFilter(path string) bool {
	return !hasSegment(path, "node_modules")
}

// NoGitFilter rejects the repository metadata.
func NoGitFilter(path string) bool {
	return !hasSegment(path, ".git")
}

// NoOutputFilter rejects files below dir, so that writing the build
// output does not trigger another build.
func NoOutputFilter(dir string) FileFilter {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	return func(path string) bool {
		p, err := filepath.Abs(path)
		if err != nil {
			return true
		}
		return p != abs && !strings.HasPrefix(p, abs+string(filepath.Separator))
	}
}

func hasSegment(path, segment string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == segment {
			return true
		}
	}
	return false
}
