package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// PollingWatcher detects changes by listing the directory at an interval.
// Used as a fallback when fsnotify is not available.
type PollingWatcher struct {
	interval time.Duration
	dir      string
	state    map[string]fileSnapshot
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	mu       sync.Mutex
	stopped  bool
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a polling watcher with the given interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		state:    make(map[string]fileSnapshot),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start lists dir once as a baseline and then polls until ctx is done or
// Stop is called.
func (p *PollingWatcher) Start(ctx context.Context, dir string) error {
	p.dir = dir
	current, err := p.list()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}
	p.mu.Lock()
	p.state = current
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				p.mu.Lock()
				if !p.stopped {
					select {
					case p.errors <- err:
					default:
					}
				}
				p.mu.Unlock()
			}
		}
	}
}

// Stop stops polling and closes the channels.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent { return p.events }

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error { return p.errors }

// list snapshots the regular files directly inside the directory.
func (p *PollingWatcher) list() (map[string]fileSnapshot, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]fileSnapshot, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return out, nil
}

func (p *PollingWatcher) detectChanges() error {
	current, err := p.list()
	if err != nil {
		return fmt.Errorf("list %s: %w", p.dir, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for name, snap := range current {
		prev, ok := p.state[name]
		switch {
		case !ok:
			p.emit(FileEvent{Name: name, Operation: OpCreate, Timestamp: now})
		case prev != snap:
			p.emit(FileEvent{Name: name, Operation: OpModify, Timestamp: now})
		}
	}
	for name := range p.state {
		if _, ok := current[name]; !ok {
			p.emit(FileEvent{Name: name, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
	return nil
}

// emit must be called with the lock held.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("name", event.Name),
			slog.String("op", event.Operation.String()))
	}
}
