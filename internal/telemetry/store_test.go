package telemetry

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "telemetry.db")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteStore_AddAccumulates(t *testing.T) {
	// Given: two batches on the same day
	s, _ := openTestStore(t)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	first := Batch{
		Date: "2026-03-02", Queries: 3, ZeroResults: 1,
		Latency:     map[LatencyBucket]int64{BucketP10: 3},
		Terms:       map[string]int64{"cell": 2, "atp": 1},
		Books:       map[string]int64{"Biology": 4},
		ZeroQueries: []ZeroResult{{Query: "quasar", At: at}},
	}
	second := Batch{
		Date: "2026-03-02", Queries: 1,
		Latency: map[LatencyBucket]int64{BucketP50: 1},
		Terms:   map[string]int64{"cell": 1},
		Books:   map[string]int64{"Anatomy": 1},
	}

	// When: adding both and reading the day back
	require.NoError(t, s.Add(first))
	require.NoError(t, s.Add(second))
	r, err := s.Report("2026-03-02", "2026-03-02", 10)

	// Then: counts are summed
	require.NoError(t, err)
	assert.Equal(t, int64(4), r.Queries)
	assert.Equal(t, int64(1), r.ZeroResults)
	assert.Equal(t, map[LatencyBucket]int64{BucketP10: 3, BucketP50: 1}, r.Latency)
	assert.Equal(t, []TermCount{{"cell", 3}, {"atp", 1}}, r.TopTerms)
	assert.Equal(t, []BookHits{{"Biology", 4}, {"Anatomy", 1}}, r.TopBooks)
	require.Len(t, r.ZeroResultQueries, 1)
	assert.Equal(t, "quasar", r.ZeroResultQueries[0].Query)
	assert.True(t, at.Equal(r.ZeroResultQueries[0].At))
}

func TestSQLiteStore_ReportDateRange(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.Add(Batch{Date: "2026-03-01", Queries: 2}))
	require.NoError(t, s.Add(Batch{Date: "2026-03-05", Queries: 7}))

	r, err := s.Report("2026-03-02", "2026-03-31", 5)

	require.NoError(t, err)
	assert.Equal(t, int64(7), r.Queries)
}

func TestSQLiteStore_ZeroResultQueriesAreBounded(t *testing.T) {
	s, _ := openTestStore(t)
	var zq []ZeroResult
	for i := 0; i < maxZeroResultRows+20; i++ {
		zq = append(zq, ZeroResult{Query: fmt.Sprintf("q%d", i), At: time.Now()})
	}
	require.NoError(t, s.Add(Batch{Date: "2026-03-01", Queries: int64(len(zq)), ZeroQueries: zq}))

	r, err := s.Report("2026-03-01", "2026-03-01", 1000)

	require.NoError(t, err)
	assert.Len(t, r.ZeroResultQueries, maxZeroResultRows)
	assert.Equal(t, fmt.Sprintf("q%d", maxZeroResultRows+19), r.ZeroResultQueries[0].Query)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Add(Batch{Date: "2026-03-01", Queries: 1, Terms: map[string]int64{"lipid": 1}}))
	require.NoError(t, s.Close())

	again, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = again.Close() }()
	r, err := again.Report("2026-03-01", "2026-03-01", 10)

	require.NoError(t, err)
	assert.Equal(t, []TermCount{{"lipid", 1}}, r.TopTerms)
}

func TestQueryMetrics_WithSQLiteStore(t *testing.T) {
	// Given: a collector writing to a real database
	s, path := openTestStore(t)
	m := New(s, noFlush(), nil)
	m.Record(QueryEvent{Query: "respiration", ResultCount: 2, Books: []string{"Biology", "Biology"}})

	// When: closing the collector
	require.NoError(t, m.Close())

	// Then: a fresh handle sees today's counts
	again, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = again.Close() }()
	today := Today(time.Now())
	r, err := again.Report(today, today, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Queries)
	assert.Equal(t, []BookHits{{"Biology", 2}}, r.TopBooks)
}
