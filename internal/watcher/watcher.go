package watcher

import (
	"errors"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpRename indicates a file was renamed away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a change to one file of the watched directory.
type FileEvent struct {
	// Name is the file name relative to the watched directory.
	Name string

	Operation Operation
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 2s
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the size of the batch channel buffer.
	// Default: 16
	EventBufferSize int

	// PollOnly skips fsnotify and polls from the start.
	PollOnly bool

	// Filter reports whether a file name is of interest. Nil accepts every
	// file that is not hidden or temporary.
	Filter func(name string) bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  2 * time.Second,
		PollInterval:    5 * time.Second,
		EventBufferSize: 16,
	}
}

// Validate rejects negative durations and buffer sizes.
func (o Options) Validate() error {
	if o.DebounceWindow < 0 || o.PollInterval < 0 {
		return errors.New("watcher durations must not be negative")
	}
	if o.EventBufferSize < 0 {
		return errors.New("event buffer size must not be negative")
	}
	return nil
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// accepts applies the hidden and temporary file rules, then the filter.
func (o Options) accepts(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
		return false
	}
	return o.Filter == nil || o.Filter(name)
}
