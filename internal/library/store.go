package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

// ErrCorrupt is returned when library.json or book.json cannot be parsed.
var ErrCorrupt = errors.New("metadata file is corrupt")

// Store reads and writes library.json and book.json for one index root.
// Update serializes writers inside the process with a mutex and across
// processes with a flock on .library.lock.
type Store struct {
	layout Layout
	now    func() time.Time

	mu sync.Mutex
}

// NewStore creates a metadata store for layout.
func NewStore(layout Layout) *Store {
	return &Store{layout: layout, now: func() time.Time { return time.Now().UTC() }}
}

// Layout returns the index root layout.
func (s *Store) Layout() Layout { return s.layout }

// Now returns the store clock. Tests replace it via SetClock.
func (s *Store) Now() time.Time { return s.now() }

// SetClock overrides the clock used for timestamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Load reads library.json. A missing file yields (nil, nil).
func (s *Store) Load() (*Library, error) {
	data, err := os.ReadFile(s.layout.LibraryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, aerrors.New(aerrors.ErrCodeFileNotFound, "read library.json", err)
	}

	var lib Library
	if err := json.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("%w: library.json: %v", ErrCorrupt, err)
	}
	if lib.Books == nil {
		lib.Books = []*Book{}
	}
	return &lib, nil
}

// LoadOrNew reads library.json or returns a fresh empty library.
func (s *Store) LoadOrNew() (*Library, error) {
	lib, err := s.Load()
	if err != nil || lib != nil {
		return lib, err
	}
	return NewLibrary(s.now()), nil
}

// Save writes lib atomically. Failures are fatal metadata errors.
func (s *Store) Save(lib *Library) error {
	if lib.Version == "" {
		lib.Version = Version
	}
	if err := WriteJSONAtomic(s.layout.LibraryPath(), lib); err != nil {
		return aerrors.New(aerrors.ErrCodeMetadataWrite, "write library.json", err)
	}
	return nil
}

// Update loads library.json (or a fresh library), applies fn and saves the
// result, all under the metadata lock. Nothing is written when fn fails.
func (s *Store) Update(fn func(lib *Library) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.layout.Root, 0o755); err != nil {
		return aerrors.New(aerrors.ErrCodeMetadataWrite, "create index root", err)
	}
	fl := flock.New(s.layout.MetaLockPath())
	if err := fl.Lock(); err != nil {
		return aerrors.New(aerrors.ErrCodeMetadataWrite, "lock library.json", err)
	}
	defer func() { _ = fl.Unlock() }()

	lib, err := s.LoadOrNew()
	if err != nil {
		return err
	}
	if err := fn(lib); err != nil {
		return err
	}
	lib.UpdatedAt = s.now()
	return s.Save(lib)
}

// ReadBook reads books/<id>/book.json. A missing file yields (nil, nil).
func (s *Store) ReadBook(id string) (*Book, error) {
	data, err := os.ReadFile(s.layout.BookJSON(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var b Book
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	return &b, nil
}

// WriteBook writes books/<id>/book.json atomically.
func (s *Store) WriteBook(b *Book) error {
	if err := WriteJSONAtomic(s.layout.BookJSON(b.BookID), b); err != nil {
		return aerrors.New(aerrors.ErrCodeMetadataWrite, "write book.json", err).WithDetail("book_id", b.BookID)
	}
	return nil
}

// CheckRevision returns a stale conflict when rev no longer matches the
// current library.json. An empty rev always passes.
func (s *Store) CheckRevision(rev string) error {
	if rev == "" {
		return nil
	}
	lib, err := s.Load()
	if err != nil {
		return err
	}
	current := ""
	if lib != nil {
		current = lib.Revision()
	}
	if current != rev {
		return aerrors.StaleError("library changed since revision " + rev).
			WithDetail("current_revision", current)
	}
	return nil
}
