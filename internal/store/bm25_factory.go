package store

import (
	"fmt"
	"os"
	"path/filepath"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

// BM25Backend names the keyword index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite stores search/bm25.db (default).
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve stores the search/bm25.bleve directory.
	BM25BackendBleve BM25Backend = "bleve"
)

// ParseBM25Backend maps a config value to a backend. Empty means sqlite.
func ParseBM25Backend(s string) (BM25Backend, error) {
	switch s {
	case "", string(BM25BackendSQLite):
		return BM25BackendSQLite, nil
	case string(BM25BackendBleve):
		return BM25BackendBleve, nil
	default:
		return "", fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", s)
	}
}

// BM25IndexPath returns the artifact path for backend inside dir.
func BM25IndexPath(dir string, backend BM25Backend) string {
	base := filepath.Join(dir, "bm25")
	if backend == BM25BackendBleve {
		return base + ".bleve"
	}
	return base + ".db"
}

// CreateBM25Index creates an empty index for backend inside dir. The search
// rebuild writes into a fresh directory, so an existing artifact is an
// error. An empty dir creates an in-memory index.
func CreateBM25Index(dir string, backend BM25Backend, config BM25Config) (BM25Index, error) {
	var path string
	if dir != "" {
		path = BM25IndexPath(dir, backend)
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("bm25 index already exists at %s", path)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	switch backend {
	case BM25BackendSQLite, "":
		return createSQLiteBM25Index(path, config)
	case BM25BackendBleve:
		return createBleveBM25Index(path, config)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// OpenBM25Index opens the artifact in dir for searching. A missing or
// unreadable artifact returns ErrCodeCorruptIndex; the artifact is left in
// place for repair to replace.
func OpenBM25Index(dir string, backend BM25Backend, config BM25Config) (BM25Index, error) {
	path := BM25IndexPath(dir, backend)
	if _, err := os.Stat(path); err != nil {
		return nil, corruptIndex(path, err)
	}

	switch backend {
	case BM25BackendSQLite, "":
		return openSQLiteBM25Index(path, config)
	case BM25BackendBleve:
		return openBleveBM25Index(path)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend reports which backend's artifact exists in dir, or ""
// when neither does.
func DetectBM25Backend(dir string) BM25Backend {
	if fileExists(BM25IndexPath(dir, BM25BackendSQLite)) {
		return BM25BackendSQLite
	}
	if dirExists(BM25IndexPath(dir, BM25BackendBleve)) {
		return BM25BackendBleve
	}
	return ""
}

func corruptIndex(path string, cause error) error {
	return aerrors.New(aerrors.ErrCodeCorruptIndex, fmt.Sprintf("search index %s is unreadable", filepath.Base(path)), cause).
		WithDetail("path", path).
		WithSuggestion("Run 'atrium repair' to rebuild the search index")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
