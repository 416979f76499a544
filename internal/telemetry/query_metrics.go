// Package telemetry records what readers search for: frequent terms, the
// books that answer them, queries that find nothing and how long queries
// take. Data stays on the host.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one search.
type QueryEvent struct {
	Query       string
	ResultCount int
	// Books holds the book name of every hit, duplicates included.
	Books     []string
	Latency   time.Duration
	Timestamp time.Time
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases query and keeps the words of 3 or more letters.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// BookHits is a book and how many hits it contributed.
type BookHits struct {
	Book string `json:"book"`
	Hits int64  `json:"hits"`
}

// Snapshot is a point-in-time copy of the in-memory metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	TopTerms            []TermCount             `json:"top_terms"`
	TopBooks            []BookHits              `json:"top_books"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// ZeroResult is a query that found nothing.
type ZeroResult struct {
	Query string    `json:"query"`
	At    time.Time `json:"at"`
}

// Batch is everything recorded between two flushes.
type Batch struct {
	Date        string
	Queries     int64
	ZeroResults int64
	Latency     map[LatencyBucket]int64
	Terms       map[string]int64
	Books       map[string]int64
	ZeroQueries []ZeroResult
}

// Store persists flushed batches. Add applies a whole batch or nothing.
type Store interface {
	Add(b Batch) error
	Close() error
}

// Config configures a QueryMetrics.
type Config struct {
	TopTermsCapacity      int           // terms tracked in memory (default 100)
	TopBooksCapacity      int           // books tracked in memory (default 100)
	ZeroResultsCapacity   int           // zero-result queries kept (default 100)
	RecentQueriesCapacity int           // query hashes kept for repeat detection (default 500)
	FlushInterval         time.Duration // 0 disables the flush loop
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		TopBooksCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

func newBatch() Batch {
	return Batch{
		Terms:   make(map[string]int64),
		Books:   make(map[string]int64),
		Latency: make(map[LatencyBucket]int64),
	}
}

// QueryMetrics aggregates query events in memory and flushes the
// increments to a Store. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	topTerms        *lru.Cache[string, int64]
	topBooks        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	recentQueries   *lru.Cache[string, struct{}]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	exactRepeats    int64
	startTime       time.Time

	store   Store
	pending Batch
	logger  *slog.Logger
	stopCh  chan struct{}
	done    chan struct{}
	closed  bool
}

// New creates a collector. A nil store keeps metrics in memory only.
func New(store Store, cfg Config, logger *slog.Logger) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.TopBooksCapacity <= 0 {
		cfg.TopBooksCapacity = def.TopBooksCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	topBooks, _ := lru.New[string, int64](cfg.TopBooksCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		topTerms:      topTerms,
		topBooks:      topBooks,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recent,
		latencies:     make(map[LatencyBucket]int64),
		startTime:     time.Now(),
		store:         store,
		pending:       newBatch(),
		logger:        logger,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.done)
	}
	return m
}

func (m *QueryMetrics) flushLoop(every time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record adds one query.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.totalQueries++
	m.pending.Queries++
	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pending.Terms[term]++
	}
	for _, book := range event.Books {
		if book == "" {
			continue
		}
		count, _ := m.topBooks.Get(book)
		m.topBooks.Add(book, count+1)
		m.pending.Books[book]++
	}
	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		m.pending.ZeroResults++
		m.pending.ZeroQueries = append(m.pending.ZeroQueries, ZeroResult{Query: event.Query, At: event.Timestamp})
	}
	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pending.Latency[bucket]++

	key := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeats++
	}
	m.recentQueries.Add(key, struct{}{})
}

func hashQuery(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns current metrics for reporting.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	books := make([]BookHits, 0, m.topBooks.Len())
	for _, key := range m.topBooks.Keys() {
		if hits, ok := m.topBooks.Peek(key); ok {
			books = append(books, BookHits{Book: key, Hits: hits})
		}
	}
	sort.SliceStable(books, func(i, j int) bool {
		if books[i].Hits != books[j].Hits {
			return books[i].Hits > books[j].Hits
		}
		return books[i].Book < books[j].Book
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var repeatRate float64
	if m.totalQueries > 0 {
		repeatRate = float64(m.exactRepeats) / float64(m.totalQueries)
	}

	return &Snapshot{
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		ExactRepeatCount:    m.exactRepeats,
		ExactRepeatRate:     repeatRate,
		TopTerms:            terms,
		TopBooks:            books,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		Since:               m.startTime,
	}
}

// Flush writes what was recorded since the last flush to the store. On
// failure the batch is kept for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	b := m.pending
	m.pending = newBatch()
	m.mu.Unlock()

	if b.Queries == 0 {
		return nil
	}
	b.Date = Today(time.Now())
	if err := m.store.Add(b); err != nil {
		m.mu.Lock()
		m.pending.merge(b)
		m.mu.Unlock()
		return err
	}
	return nil
}

// merge adds o into b.
func (b *Batch) merge(o Batch) {
	b.Queries += o.Queries
	b.ZeroResults += o.ZeroResults
	for k, v := range o.Terms {
		b.Terms[k] += v
	}
	for k, v := range o.Books {
		b.Books[k] += v
	}
	for k, v := range o.Latency {
		b.Latency[k] += v
	}
	b.ZeroQueries = append(o.ZeroQueries, b.ZeroQueries...)
}

// Close stops the flush loop, flushes once more and closes the store.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case <-m.done:
	default:
		close(m.stopCh)
		<-m.done
	}

	if m.store == nil {
		return nil
	}
	err := m.Flush()
	if cerr := m.store.Close(); err == nil {
		err = cerr
	}
	return err
}
