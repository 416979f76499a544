package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer collects file events until the directory has been quiet for
// one window, then emits them as a single batch. Events for one file
// collapse into one:
//   - CREATE then MODIFY stays CREATE
//   - CREATE then DELETE disappears
//   - DELETE then CREATE becomes MODIFY
//   - anything else keeps the latest operation
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]FileEvent
	order   []string
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, 4),
	}
}

// Add records an event and restarts the quiet window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	prev, seen := d.pending[event.Name]
	switch {
	case !seen:
		d.pending[event.Name] = event
		d.order = append(d.order, event.Name)
	default:
		op, keep := merge(prev.Operation, event.Operation)
		if !keep {
			delete(d.pending, event.Name)
			break
		}
		event.Operation = op
		d.pending[event.Name] = event
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func merge(first, next Operation) (Operation, bool) {
	switch {
	case first == OpCreate && next == OpModify:
		return OpCreate, true
	case first == OpCreate && (next == OpDelete || next == OpRename):
		return 0, false
	case first == OpDelete && next == OpCreate:
		return OpModify, true
	}
	return next, true
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, name := range d.order {
		if ev, ok := d.pending[name]; ok {
			batch = append(batch, ev)
			delete(d.pending, name)
		}
	}
	d.order = d.order[:0]

	select {
	case d.output <- batch:
	default:
		slog.Warn("watch_batch_dropped", slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop drops pending events and closes the output channel. Safe to call
// multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
