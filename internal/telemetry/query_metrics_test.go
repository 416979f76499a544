package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records batches and can be told to fail.
type fakeStore struct {
	mu      sync.Mutex
	batches []Batch
	fail    bool
	closed  bool
}

func (f *fakeStore) Add(b Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func noFlush() Config {
	cfg := DefaultConfig()
	cfg.FlushInterval = 0
	return cfg
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.d))
		})
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"krebs", "cycle", "atp"}, ExtractTerms("  Krebs cycle, ATP? of "))
	assert.Nil(t, ExtractTerms("a an"))
	assert.Nil(t, ExtractTerms(""))
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	b := NewCircularBuffer[string](3)
	for _, s := range []string{"a", "b", "c", "d"} {
		b.Add(s)
	}

	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []string{"b", "c", "d"}, b.Items())
}

func TestQueryMetrics_Snapshot(t *testing.T) {
	// Given: three queries, one repeated and one with no hits
	m := New(nil, noFlush(), nil)
	m.Record(QueryEvent{Query: "cell membrane", ResultCount: 2, Books: []string{"Biology", "Biology"}, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Query: "Cell  Membrane", ResultCount: 1, Books: []string{"Anatomy"}, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "quasar", Latency: 5 * time.Millisecond})

	// When: taking a snapshot
	s := m.Snapshot()

	// Then: the aggregates reflect all three
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, int64(1), s.ExactRepeatCount)
	assert.InDelta(t, 1.0/3, s.ExactRepeatRate, 1e-9)
	assert.InDelta(t, 100.0/3, s.ZeroResultPercentage(), 1e-9)
	assert.Equal(t, []TermCount{{"cell", 2}, {"membrane", 2}, {"quasar", 1}}, s.TopTerms)
	assert.Equal(t, []BookHits{{"Biology", 2}, {"Anatomy", 1}}, s.TopBooks)
	assert.Equal(t, []string{"quasar"}, s.ZeroResultQueries)
	assert.Equal(t, int64(2), s.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP50])
}

func TestQueryMetrics_FlushSendsIncrementsOnly(t *testing.T) {
	// Given: a collector with a store
	store := &fakeStore{}
	m := New(store, noFlush(), nil)
	m.Record(QueryEvent{Query: "enzyme kinetics", ResultCount: 1, Books: []string{"Biochem"}})

	// When: flushing twice with one more query in between
	require.NoError(t, m.Flush())
	m.Record(QueryEvent{Query: "enzyme"})
	require.NoError(t, m.Flush())

	// Then: each batch holds only its own queries
	require.Len(t, store.batches, 2)
	assert.Equal(t, int64(1), store.batches[0].Queries)
	assert.Equal(t, int64(1), store.batches[0].Terms["enzyme"])
	assert.Equal(t, int64(1), store.batches[0].Books["Biochem"])
	assert.Equal(t, int64(1), store.batches[1].Queries)
	assert.Equal(t, int64(1), store.batches[1].ZeroResults)
	require.Len(t, store.batches[1].ZeroQueries, 1)
	assert.Equal(t, "enzyme", store.batches[1].ZeroQueries[0].Query)
	assert.Equal(t, Today(time.Now()), store.batches[1].Date)
}

func TestQueryMetrics_FailedFlushIsRetried(t *testing.T) {
	store := &fakeStore{fail: true}
	m := New(store, noFlush(), nil)
	m.Record(QueryEvent{Query: "osmosis", ResultCount: 3})

	require.Error(t, m.Flush())
	m.Record(QueryEvent{Query: "osmosis", ResultCount: 3})
	store.fail = false
	require.NoError(t, m.Flush())

	require.Len(t, store.batches, 1)
	assert.Equal(t, int64(2), store.batches[0].Queries)
	assert.Equal(t, int64(2), store.batches[0].Terms["osmosis"])
}

func TestQueryMetrics_EmptyFlushWritesNothing(t *testing.T) {
	store := &fakeStore{}
	m := New(store, noFlush(), nil)

	require.NoError(t, m.Flush())

	assert.Empty(t, store.batches)
}

func TestQueryMetrics_CloseFlushesAndStopsRecording(t *testing.T) {
	// Given: a collector with a running flush loop
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	m := New(store, cfg, nil)
	m.Record(QueryEvent{Query: "mitosis", ResultCount: 1})

	// When: closing it twice
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	m.Record(QueryEvent{Query: "late"})

	// Then: the pending query was written once and the store closed
	require.Len(t, store.batches, 1)
	assert.True(t, store.closed)
	assert.Equal(t, int64(1), m.Snapshot().TotalQueries)
}

func TestQueryMetrics_FlushLoop(t *testing.T) {
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	m := New(store, cfg, nil)
	defer func() { _ = m.Close() }()

	m.Record(QueryEvent{Query: "photosynthesis", ResultCount: 1})

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.batches) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := New(nil, noFlush(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Record(QueryEvent{Query: "glycolysis", ResultCount: 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), m.Snapshot().TotalQueries)
}
