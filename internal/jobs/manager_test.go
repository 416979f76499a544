package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
	"github.com/Aman-CERP/atrium/internal/index"
)

// newTestManager returns a manager whose build type runs task.
func newTestManager(t *testing.T, opts Options, task Task) *Manager {
	t.Helper()
	m := NewManager(opts)
	m.Register(TypeBuild, func(context.Context, string, any) (*Work, error) {
		return &Work{Run: task}, nil
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// drain reads a stream to its end and returns every snapshot.
func drain(t *testing.T, ch <-chan Job) []Job {
	t.Helper()
	var out []Job
	timeout := time.After(5 * time.Second)
	for {
		select {
		case j, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, j)
		case <-timeout:
			t.Fatal("stream did not finish")
			return out
		}
	}
}

func waitTerminal(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	ch, err := m.Stream(context.Background(), id)
	require.NoError(t, err)
	snaps := drain(t, ch)
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	require.True(t, last.Terminal(), "last snapshot %s", last.Status)
	return last
}

func TestManager_CreateRejectsUnknownType(t *testing.T) {
	m := newTestManager(t, Options{}, nil)

	_, err := m.Create(context.Background(), TypeRepair, nil)

	require.Error(t, err)
	assert.True(t, aerrors.IsValidation(err))
	assert.Empty(t, m.List(Filter{}))
}

func TestManager_ValidationFailureCreatesNoJob(t *testing.T) {
	// Given: a preparer that rejects its payload
	m := NewManager(Options{})
	m.Register(TypeUpload, func(_ context.Context, _ string, payload any) (*Work, error) {
		return nil, aerrors.ValidationError("file is required", nil)
	})

	// When: a job is requested
	id, err := m.Create(context.Background(), TypeUpload, "")

	// Then: the error is returned synchronously and nothing is registered
	assert.Empty(t, id)
	assert.True(t, aerrors.IsValidation(err))
	assert.Empty(t, m.List(Filter{}))
}

func TestManager_CompletesWithResultAndMonotonicProgress(t *testing.T) {
	// Given: a task that reports progress out of order
	release := make(chan struct{})
	m := newTestManager(t, Options{}, func(ctx context.Context, rt *Runtime) (Result, error) {
		<-release
		rt.Progress("ingesting", "one", 1, 3)
		rt.Progress("ingesting", "three", 3, 3)
		rt.Progress("ingesting", "back", 2, 3)
		rt.Progress("ingesting", "overshoot", 5, 3)
		return Result{Build: &index.BuildReport{Built: true}}, nil
	})

	id, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)
	ch, err := m.Stream(context.Background(), id)
	require.NoError(t, err)
	close(release)

	// When: the stream is drained
	snaps := drain(t, ch)

	// Then: progress never goes back or past its total
	for i := 1; i < len(snaps); i++ {
		assert.GreaterOrEqual(t, snaps[i].Progress.Current, snaps[i-1].Progress.Current)
		assert.LessOrEqual(t, snaps[i].Progress.Current, snaps[i].Progress.Total)
	}
	last := snaps[len(snaps)-1]
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, Progress{Current: 5, Total: 5}, last.Progress)
	require.NotNil(t, last.Result)
	require.NotNil(t, last.Result.Build)
	assert.True(t, last.Result.Build.Built)
	assert.NotNil(t, last.FinishedAt)

	got, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, last.Status, got.Status)
}

func TestManager_CancelIsCooperative(t *testing.T) {
	// Given: a task that only stops at its checkpoints
	var released atomic.Bool
	started := make(chan struct{})
	m := NewManager(Options{})
	m.Register(TypeBuild, func(context.Context, string, any) (*Work, error) {
		return &Work{
			Run: func(ctx context.Context, rt *Runtime) (Result, error) {
				close(started)
				for {
					if err := rt.Checkpoint(); err != nil {
						return Result{Build: &index.BuildReport{}}, err
					}
					time.Sleep(5 * time.Millisecond)
				}
			},
			Release: func() { released.Store(true) },
		}, nil
	})
	id, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)
	<-started

	// When: cancelled while running
	require.NoError(t, m.Cancel(context.Background(), id))

	// Then: the job ends cancelled and its resources are released
	last := waitTerminal(t, m, id)
	assert.Equal(t, StatusCancelled, last.Status)
	assert.Equal(t, "Cancelled", last.Message)
	assert.True(t, released.Load())

	// And: cancelling again is a no-op
	assert.NoError(t, m.Cancel(context.Background(), id))
	got, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestManager_CancelQueuedJobNeverRuns(t *testing.T) {
	// Given: one slot held by a blocked job
	block := make(chan struct{})
	var runs atomic.Int32
	m := newTestManager(t, Options{MaxConcurrent: 1}, func(ctx context.Context, rt *Runtime) (Result, error) {
		runs.Add(1)
		<-block
		return Result{}, nil
	})
	first, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)
	got, err := m.Get(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)

	// When: the queued job is cancelled
	require.NoError(t, m.Cancel(context.Background(), second))

	// Then: it is cancelled without running
	assert.Equal(t, StatusCancelled, waitTerminal(t, m, second).Status)
	close(block)
	assert.Equal(t, StatusCompleted, waitTerminal(t, m, first).Status)
	assert.Equal(t, int32(1), runs.Load())
}

func TestManager_FailuresAndPanics(t *testing.T) {
	m := NewManager(Options{})
	m.Register(TypeBuild, func(context.Context, string, any) (*Work, error) {
		return &Work{Run: func(context.Context, *Runtime) (Result, error) {
			return Result{}, errors.New("write library.json: disk full")
		}}, nil
	})
	m.Register(TypeRepair, func(context.Context, string, any) (*Work, error) {
		return &Work{Run: func(context.Context, *Runtime) (Result, error) {
			panic("boom")
		}}, nil
	})

	id, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)
	failed := waitTerminal(t, m, id)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "write library.json: disk full", failed.Error)
	assert.Nil(t, failed.Result)

	id, err = m.Create(context.Background(), TypeRepair, nil)
	require.NoError(t, err)
	panicked := waitTerminal(t, m, id)
	assert.Equal(t, StatusFailed, panicked.Status)
	assert.Contains(t, panicked.Error, "boom")
}

func TestManager_EverySubscriberGetsTerminal(t *testing.T) {
	// Given: several subscribers that never read until the job is over
	finish := make(chan struct{})
	m := newTestManager(t, Options{}, func(ctx context.Context, rt *Runtime) (Result, error) {
		<-finish
		for i := 1; i <= 50; i++ {
			rt.Progress("indexing", "", i, 50)
		}
		return Result{}, nil
	})
	id, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)

	streams := make([]<-chan Job, 3)
	for i := range streams {
		streams[i], err = m.Stream(context.Background(), id)
		require.NoError(t, err)
	}
	close(finish)

	// Then: each ends with exactly one terminal snapshot
	for _, ch := range streams {
		snaps := drain(t, ch)
		terminal := 0
		for _, s := range snaps {
			if s.Terminal() {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal)
		assert.Equal(t, StatusCompleted, snaps[len(snaps)-1].Status)
	}

	// And: a late subscriber sees only the terminal snapshot
	late, err := m.Stream(context.Background(), id)
	require.NoError(t, err)
	snaps := drain(t, late)
	require.Len(t, snaps, 1)
	assert.Equal(t, StatusCompleted, snaps[0].Status)
}

func TestManager_StreamEndsWithContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	m := newTestManager(t, Options{}, func(ctx context.Context, rt *Runtime) (Result, error) {
		<-block
		return Result{}, nil
	})
	id, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Stream(ctx, id)
	require.NoError(t, err)
	cancel()

	snaps := drain(t, ch)
	require.NotEmpty(t, snaps)
	assert.False(t, snaps[len(snaps)-1].Terminal())
}

func TestManager_UnknownJob(t *testing.T) {
	m := NewManager(Options{})
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.True(t, aerrors.IsNotFound(err))
	_, err = m.Stream(ctx, "missing")
	assert.True(t, aerrors.IsNotFound(err))
	assert.True(t, aerrors.IsNotFound(m.Cancel(ctx, "missing")))
}

func TestManager_ListAndGC(t *testing.T) {
	m := newTestManager(t, Options{Retention: time.Minute}, func(context.Context, *Runtime) (Result, error) {
		return Result{}, nil
	})
	m.Register(TypeRepair, func(context.Context, string, any) (*Work, error) {
		return &Work{Run: func(context.Context, *Runtime) (Result, error) { return Result{}, nil }}, nil
	})

	a, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)
	b, err := m.Create(context.Background(), TypeRepair, nil)
	require.NoError(t, err)
	waitTerminal(t, m, a)
	waitTerminal(t, m, b)

	assert.Len(t, m.List(Filter{}), 2)
	repairs := m.List(Filter{Type: TypeRepair})
	require.Len(t, repairs, 1)
	assert.Equal(t, b, repairs[0].ID)
	assert.Len(t, m.List(Filter{Status: StatusCompleted}), 2)
	assert.Zero(t, m.Active())

	// Retention not yet elapsed
	assert.Zero(t, m.GC(time.Now().UTC()))
	// After the retention window
	assert.Equal(t, 2, m.GC(time.Now().UTC().Add(2*time.Minute)))
	_, err = m.Get(context.Background(), a)
	assert.True(t, aerrors.IsNotFound(err))
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := newTestManager(t, Options{Metrics: metrics}, func(context.Context, *Runtime) (Result, error) {
		return Result{}, nil
	})

	id, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)
	waitTerminal(t, m, id)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Created.WithLabelValues("build")))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Finished.WithLabelValues("build", "completed")) == 1 &&
			testutil.ToFloat64(metrics.Running.WithLabelValues("build")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ShutdownCancelsQueuedJobs(t *testing.T) {
	m := NewManager(Options{MaxConcurrent: 1})
	m.Register(TypeBuild, func(context.Context, string, any) (*Work, error) {
		return &Work{Run: func(ctx context.Context, rt *Runtime) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}}, nil
	})
	running, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)
	queued, err := m.Create(context.Background(), TypeBuild, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	r, _ := m.Get(context.Background(), running)
	q, _ := m.Get(context.Background(), queued)
	assert.True(t, r.Terminal())
	assert.True(t, q.Terminal())

	_, err = m.Create(context.Background(), TypeBuild, nil)
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("pack_install")
	require.NoError(t, err)
	assert.Equal(t, TypePackInstall, typ)

	_, err = ParseType("reindex")
	assert.Equal(t, aerrors.ErrCodeInvalidJobType, aerrors.GetCode(err))
}

func TestManager_ShutdownDuringPrepareReleasesWork(t *testing.T) {
	// Given: a preparer that takes a lock and sees the manager shut down
	// before it returns
	m := NewManager(Options{})
	var released, ran atomic.Bool
	m.Register(TypeBuild, func(context.Context, string, any) (*Work, error) {
		require.NoError(t, m.Shutdown(context.Background()))
		return &Work{
			Run: func(context.Context, *Runtime) (Result, error) {
				ran.Store(true)
				return Result{}, nil
			},
			Release: func() { released.Store(true) },
		}, nil
	})

	// When: creating the job
	id, err := m.Create(context.Background(), TypeBuild, nil)

	// Then: no job starts and the prepared lock is freed
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, released.Load())
	assert.False(t, ran.Load())
	assert.Empty(t, m.List(Filter{}))
}
