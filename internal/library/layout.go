package library

import (
	"os"
	"path/filepath"
	"strings"
)

// File and directory names inside an index root.
const (
	LibraryFile = "library.json"
	BookFile    = "book.json"
	ChunksFile  = "chunks.jsonl"
	SourceStem  = "source"
	BooksDir    = "books"
	SearchDir   = "search"
	PacksDir    = "packs"
	LockFile    = ".atrium.lock"
	MetaLock    = ".library.lock"
	TmpSuffix   = ".tmp"
)

// Layout resolves paths inside one index root.
type Layout struct {
	Root string
}

// NewLayout returns a Layout for root, made absolute when possible.
func NewLayout(root string) Layout {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return Layout{Root: root}
}

func (l Layout) LibraryPath() string { return filepath.Join(l.Root, LibraryFile) }
func (l Layout) BooksPath() string { return filepath.Join(l.Root, BooksDir) }
func (l Layout) BookDir(id string) string { return filepath.Join(l.Root, BooksDir, id) }
func (l Layout) BookJSON(id string) string { return filepath.Join(l.BookDir(id), BookFile) }
func (l Layout) ChunksPath(id string) string { return filepath.Join(l.BookDir(id), ChunksFile) }
func (l Layout) SearchPath() string { return filepath.Join(l.Root, SearchDir) }
func (l Layout) PackDir(id string) string { return filepath.Join(l.Root, PacksDir, id) }
func (l Layout) LockPath() string { return filepath.Join(l.Root, LockFile) }
func (l Layout) MetaLockPath() string { return filepath.Join(l.Root, MetaLock) }

// SourcePath returns where the original file for a book is kept. The
// extension of the uploaded file is preserved (".pdf" by default).
func (l Layout) SourcePath(id, ext string) string {
	if ext == "" {
		ext = ".pdf"
	}
	return filepath.Join(l.BookDir(id), SourceStem+strings.ToLower(ext))
}

// FindSource returns the stored source file for a book, if any.
func (l Layout) FindSource(id string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(l.BookDir(id), SourceStem+".*"))
	for _, m := range matches {
		if strings.HasSuffix(m, TmpSuffix) {
			continue
		}
		return m, true
	}
	return "", false
}

// BookIDs lists the directory names under books/, sorted.
func (l Layout) BookIDs() ([]string, error) {
	entries, err := os.ReadDir(l.BooksPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Exists reports whether the index root has a library.json.
func (l Layout) Exists() bool {
	info, err := os.Stat(l.LibraryPath())
	return err == nil && !info.IsDir()
}
