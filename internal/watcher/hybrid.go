package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher watches one directory with fsnotify, or by polling when
// fsnotify cannot be initialised, and emits debounced batches of events
// for the files Options accepts. Subdirectories are not followed.
type DirWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	debouncer      *Debouncer
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	dir            string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewDirWatcher creates a watcher with the given options.
func NewDirWatcher(opts Options) (*DirWatcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()
	w := &DirWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}
	if !opts.PollOnly {
		if fsw, err := fsnotify.NewWatcher(); err == nil {
			w.fsWatcher = fsw
		}
	}
	if w.fsWatcher == nil {
		w.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}
	return w, nil
}

// Start watches dir until ctx is done or Stop is called.
func (w *DirWatcher) Start(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", dir)
	}
	w.mu.Lock()
	w.dir = abs
	w.mu.Unlock()

	go w.forward(ctx)
	if w.fsWatcher != nil {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *DirWatcher) runFsnotify(ctx context.Context) error {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("add directory to watcher: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *DirWatcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case ev, ok := <-w.pollWatcher.Events():
				if !ok {
					return
				}
				if w.opts.accepts(ev.Name) {
					w.debouncer.Add(ev)
				}
			case err, ok := <-w.pollWatcher.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()
	return w.pollWatcher.Start(ctx, w.dir)
}

func (w *DirWatcher) handle(ev fsnotify.Event) {
	if filepath.Dir(ev.Name) != w.dir {
		return
	}
	name := filepath.Base(ev.Name)
	if !w.opts.accepts(name) {
		return
	}
	var op Operation
	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			return
		}
		op = OpCreate
	case ev.Op.Has(fsnotify.Write):
		op = OpModify
	case ev.Op.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Op.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Name: name, Operation: op, Timestamp: time.Now()})
}

func (w *DirWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emitBatch(batch)
		}
	}
}

func (w *DirWatcher) emitBatch(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped || len(batch) == 0 {
		return
	}
	select {
	case w.events <- batch:
	default:
		w.droppedBatches.Add(1)
	}
}

func (w *DirWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and closes its channels. Safe to call multiple
// times.
func (w *DirWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	if w.pollWatcher != nil {
		_ = w.pollWatcher.Stop()
	}
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced batches. It is closed by Stop.
func (w *DirWatcher) Events() <-chan []FileEvent { return w.events }

// Errors returns non-fatal watcher errors. It is closed by Stop.
func (w *DirWatcher) Errors() <-chan error { return w.errors }

// DroppedBatches returns how many batches were dropped on a full buffer.
func (w *DirWatcher) DroppedBatches() uint64 { return w.droppedBatches.Load() }

// Mode returns "fsnotify" or "polling".
func (w *DirWatcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}
