package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// maxZeroResultRows bounds the stored zero-result queries.
const maxZeroResultRows = 100

const schema = `
CREATE TABLE IF NOT EXISTS query_daily (
	date TEXT PRIMARY KEY,
	queries INTEGER NOT NULL DEFAULT 0,
	zero_results INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS book_hits (
	book TEXT PRIMARY KEY,
	hits INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);
`

// SQLiteStore persists telemetry in a SQLite file. Several processes may
// share one file; writers wait on each other through busy_timeout.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the telemetry database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure telemetry database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Add applies b in one transaction.
func (s *SQLiteStore) Add(b Batch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO query_daily (date, queries, zero_results) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			queries = queries + excluded.queries,
			zero_results = zero_results + excluded.zero_results
	`, b.Date, b.Queries, b.ZeroResults); err != nil {
		return fmt.Errorf("add daily counts: %w", err)
	}

	for bucket, count := range b.Latency {
		if _, err := tx.Exec(`
			INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
		`, b.Date, string(bucket), count); err != nil {
			return fmt.Errorf("add latency count: %w", err)
		}
	}

	for term, count := range b.Terms {
		if _, err := tx.Exec(`
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = CURRENT_TIMESTAMP
		`, term, count); err != nil {
			return fmt.Errorf("add term count: %w", err)
		}
	}

	for book, hits := range b.Books {
		if _, err := tx.Exec(`
			INSERT INTO book_hits (book, hits, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(book) DO UPDATE SET
				hits = hits + excluded.hits,
				last_seen = CURRENT_TIMESTAMP
		`, book, hits); err != nil {
			return fmt.Errorf("add book hits: %w", err)
		}
	}

	if len(b.ZeroQueries) > 0 {
		for _, z := range b.ZeroQueries {
			if _, err := tx.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`,
				z.Query, z.At.UTC()); err != nil {
				return fmt.Errorf("insert zero-result query: %w", err)
			}
		}
		if _, err := tx.Exec(`
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)
		`, maxZeroResultRows); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Report is the stored telemetry for a date range.
type Report struct {
	From              string                  `json:"from"`
	To                string                  `json:"to"`
	Queries           int64                   `json:"queries"`
	ZeroResults       int64                   `json:"zero_results"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	TopBooks          []BookHits              `json:"top_books"`
	ZeroResultQueries []ZeroResult            `json:"zero_result_queries"`
}

// Report reads the daily counts between from and to (inclusive,
// YYYY-MM-DD) and the all-time top terms, books and recent zero-result
// queries, each limited to limit rows.
func (s *SQLiteStore) Report(from, to string, limit int) (*Report, error) {
	if limit <= 0 {
		limit = 10
	}
	r := &Report{From: from, To: to, Latency: map[LatencyBucket]int64{}}

	if err := s.db.QueryRow(`
		SELECT COALESCE(SUM(queries), 0), COALESCE(SUM(zero_results), 0)
		FROM query_daily WHERE date >= ? AND date <= ?
	`, from, to).Scan(&r.Queries, &r.ZeroResults); err != nil {
		return nil, fmt.Errorf("query daily counts: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Latency[LatencyBucket(bucket)] = count
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.TopTerms = append(r.TopTerms, tc)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT book, hits FROM book_hits ORDER BY hits DESC, book LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top books: %w", err)
	}
	for rows.Next() {
		var bh BookHits
		if err := rows.Scan(&bh.Book, &bh.Hits); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.TopBooks = append(r.TopBooks, bh)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT query, timestamp FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	for rows.Next() {
		var z ZeroResult
		if err := rows.Scan(&z.Query, &z.At); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.ZeroResultQueries = append(r.ZeroResultQueries, z)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return r, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Today returns the date key for t.
func Today(t time.Time) string {
	return t.Format("2006-01-02")
}
