package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteBM25Index implements BM25Index using SQLite FTS5. This is the
// default backend behind search/bm25.db.
//
// A writable index exists only during a search rebuild and is built in
// one pass; readers open the finished file with query_only set.
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	readOnly  bool
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

const sqliteBM25Schema = `
CREATE VIRTUAL TABLE chunk_fts USING fts5(
	chunk_id UNINDEXED,
	content,
	tokenize='unicode61'
);`

// createSQLiteBM25Index creates the FTS5 table at path, or in memory when
// path is empty. The rollback journal stays in memory: a failed rebuild
// discards the whole file.
func createSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	idx, err := newSQLiteBM25(dsn, path, config, false,
		"PRAGMA journal_mode = MEMORY",
		"PRAGMA synchronous = OFF",
		"PRAGMA temp_store = MEMORY")
	if err != nil {
		return nil, err
	}
	if _, err := idx.db.Exec(sqliteBM25Schema); err != nil {
		_ = idx.db.Close()
		return nil, fmt.Errorf("create bm25 schema: %w", err)
	}
	return idx, nil
}

// openSQLiteBM25Index opens a finished bm25.db after a quick integrity
// check.
func openSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	idx, err := newSQLiteBM25("file:"+path+"?mode=ro", path, config, true,
		"PRAGMA busy_timeout = 5000",
		"PRAGMA query_only = ON")
	if err != nil {
		return nil, corruptIndex(path, err)
	}
	if err := idx.check(); err != nil {
		_ = idx.db.Close()
		return nil, corruptIndex(path, err)
	}
	return idx, nil
}

func newSQLiteBM25(dsn, path string, config BM25Config, readOnly bool, pragmas ...string) (*SQLiteBM25Index, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives only as long as its one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN parameters.
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if config.MinTokenLength == 0 {
		config.MinTokenLength = DefaultBM25Config().MinTokenLength
	}
	return &SQLiteBM25Index{
		db:        db,
		path:      path,
		readOnly:  readOnly,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

func (s *SQLiteBM25Index) check() error {
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'chunk_fts'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if n == 0 {
		return errors.New("table chunk_fts missing")
	}
	return nil
}

// Index appends documents in one transaction. Chunk ids are unique within
// a rebuild, so nothing is deleted first.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return fmt.Errorf("index is closed")
	case s.readOnly:
		return fmt.Errorf("index %s is open for searching only", s.path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_fts(chunk_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		content := strings.Join(analyze(doc.Content, s.config, s.stopWords), " ")
		if _, err := stmt.ExecContext(ctx, doc.ID, content); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns chunks matching every query term, scored by BM25.
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	tokens := analyze(queryStr, s.config, s.stopWords)
	if len(tokens) == 0 {
		return []*BM25Result{}, nil
	}

	// Quoting each term keeps FTS5 from reading words like "near" or "not"
	// as operators.
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}

	// bm25() is negative; lower is a better match.
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, bm25(chunk_fts) AS score
		FROM chunk_fts
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?`, strings.Join(quoted, " "), limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*BM25Result{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*BM25Result
	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &BM25Result{DocID: id, Score: -score, MatchedTerms: tokens})
	}
	return results, rows.Err()
}

// Stats returns the number of indexed chunks.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &IndexStats{}
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunk_fts`).Scan(&count); err != nil {
		return &IndexStats{}
	}
	return &IndexStats{DocumentCount: count}
}

// Close releases the database. Closing twice is a no-op.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
