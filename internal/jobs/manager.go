package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

const (
	// DefaultMaxConcurrent bounds how many jobs execute at once.
	DefaultMaxConcurrent = 4

	// DefaultRetention is how long finished jobs stay queryable.
	DefaultRetention = time.Hour

	mirrorTimeout = 2 * time.Second
)

// Task is the work of one job. A nil error completes the job, ErrCancelled
// cancels it and any other error fails it. The returned result is kept in
// every case.
type Task func(ctx context.Context, rt *Runtime) (Result, error)

// Work is a validated request ready to run.
type Work struct {
	Run Task

	// Release, if set, runs once after the job is terminal, whether or not
	// Run was ever started. Locks taken while preparing are freed here.
	Release func()
}

// Preparer validates a request payload on the caller's goroutine and
// returns the work to run. jobID is the id the job will get; an error
// means no job is created.
type Preparer func(ctx context.Context, jobID string, payload any) (*Work, error)

// Options configures a Manager.
type Options struct {
	MaxConcurrent int
	Retention     time.Duration
	Metrics       *Metrics
	Mirror        Mirror
	Logger        *slog.Logger
}

// Manager is the registry of jobs.
type Manager struct {
	jobs      *xsync.MapOf[string, *entry]
	preparers map[Type]Preparer
	sem       *semaphore.Weighted
	retention time.Duration
	metrics   *Metrics
	mirrorTo  Mirror
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// NewManager creates a manager. Register a Preparer per job type before
// calling Create.
func NewManager(opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		jobs:      xsync.NewMapOf[string, *entry](),
		preparers: map[Type]Preparer{},
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		retention: opts.Retention,
		metrics:   opts.Metrics,
		mirrorTo:  opts.Mirror,
		logger:    opts.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       ctx,
		stop:      stop,
	}
}

// Register sets the preparer for a job type.
func (m *Manager) Register(t Type, p Preparer) {
	m.preparers[t] = p
}

// Create validates payload and starts a job. It returns as soon as the job
// is queued.
func (m *Manager) Create(ctx context.Context, t Type, payload any) (string, error) {
	prepare, ok := m.preparers[t]
	if !ok {
		return "", aerrors.New(aerrors.ErrCodeInvalidJobType, fmt.Sprintf("unknown job type %q", t), nil)
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", aerrors.InternalError("job manager is shut down", nil)
	}

	id := uuid.NewString()
	work, err := prepare(ctx, id, payload)
	if err != nil {
		return "", err
	}
	if work == nil || work.Run == nil {
		return "", aerrors.InternalError(fmt.Sprintf("no task prepared for %s job", t), nil)
	}

	// Shutdown may have started while preparing. The closed check and
	// wg.Add share mu so Shutdown never waits on a group that can grow.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if work.Release != nil {
			work.Release()
		}
		return "", aerrors.InternalError("job manager is shut down", nil)
	}
	m.wg.Add(1)
	m.mu.Unlock()

	now := m.now()
	job := Job{
		ID:        id,
		Type:      t,
		Status:    StatusQueued,
		Phase:     string(StatusQueued),
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	e := newEntry(job)
	m.jobs.Store(job.ID, e)
	m.metrics.created(t)
	m.mirror(job)
	m.logger.Info("job_created", slog.String("job_id", job.ID), slog.String("type", string(t)))

	go m.run(e, work)
	return job.ID, nil
}

func (m *Manager) run(e *entry, work *Work) {
	defer m.wg.Done()
	release := func() {}
	if work.Release != nil {
		release = sync.OnceFunc(work.Release)
	}
	defer release()

	// Wait for a slot, giving up on cancel or shutdown.
	waitCtx, stopWait := context.WithCancel(m.ctx)
	go func() {
		select {
		case <-e.cancelCh:
			stopWait()
		case <-waitCtx.Done():
		}
	}()
	err := m.sem.Acquire(waitCtx, 1)
	stopWait()
	if err != nil {
		if e.cancelRequested() {
			m.finish(e, Result{}, ErrCancelled, release)
		} else {
			m.finish(e, Result{}, fmt.Errorf("job manager shut down: %w", err), release)
		}
		return
	}
	defer m.sem.Release(1)

	if e.cancelRequested() {
		m.finish(e, Result{}, ErrCancelled, release)
		return
	}

	job, _ := e.update(m.now(), func(j *Job) {
		j.Status = StatusRunning
		j.Phase = string(StatusRunning)
		j.Message = "Running"
	})
	m.mirror(job)
	m.metrics.started(job.Type)
	defer m.metrics.stopped(job.Type)

	result, err := m.call(e, work.Run)
	m.finish(e, result, err, release)
}

// call runs the task, turning a panic into a failure.
func (m *Manager) call(e *entry, task Task) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job_panicked",
				slog.String("job_id", e.job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = aerrors.InternalError(fmt.Sprintf("job panicked: %v", r), nil)
		}
	}()
	return task(m.ctx, &Runtime{m: m, e: e})
}

// finish moves the job to its terminal state and delivers the terminal
// snapshot to every subscriber. release runs first, so a caller that sees
// the terminal snapshot can immediately start a job that needs the same
// resources.
func (m *Manager) finish(e *entry, result Result, err error, release func()) {
	release()
	now := m.now()
	job, changed := e.update(now, func(j *Job) {
		switch {
		case err == nil:
			j.Status = StatusCompleted
			if j.Phase == "" || j.Phase == string(StatusRunning) {
				j.Phase = "done"
			}
			if j.Message == "" || j.Message == "Running" {
				j.Message = "Done"
			}
		case errors.Is(err, ErrCancelled):
			j.Status = StatusCancelled
			j.Message = "Cancelled"
		default:
			j.Status = StatusFailed
			j.Error = err.Error()
			j.Message = err.Error()
		}
		if !result.Empty() {
			r := result
			j.Result = &r
		}
		j.FinishedAt = &now
	})
	if !changed {
		return
	}
	m.metrics.finished(job, now.Sub(job.CreatedAt))
	m.mirror(job)

	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("status", string(job.Status)),
		slog.Duration("elapsed", now.Sub(job.CreatedAt)),
	}
	if job.Status == StatusFailed {
		m.logger.Warn("job_finished", append(attrs, aerrors.LogAttrs(err)...)...)
	} else {
		m.logger.Info("job_finished", attrs...)
	}
}

func (m *Manager) mirror(job Job) {
	if m.mirrorTo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := m.mirrorTo.Save(ctx, job); err != nil {
		m.logger.Warn("job_mirror_failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

// Get returns a snapshot of the job. Jobs no longer held locally are looked
// up in the mirror when it supports loading.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	if e, ok := m.jobs.Load(id); ok {
		return e.snapshot(), nil
	}
	if loader, ok := m.mirrorTo.(Loader); ok {
		return loader.Load(ctx, id)
	}
	return Job{}, aerrors.NotFoundError("job", id)
}

// Stream returns snapshots of the job: the current one first, then
// updates as they happen. A slow reader may miss intermediate snapshots but
// always receives the terminal one, after which the channel is closed. If
// ctx ends first the channel is closed without it.
func (m *Manager) Stream(ctx context.Context, id string) (<-chan Job, error) {
	e, ok := m.jobs.Load(id)
	if !ok {
		return nil, aerrors.NotFoundError("job", id)
	}
	subID, ch := e.subscribe()
	if subID >= 0 {
		go func() {
			select {
			case <-ctx.Done():
				e.unsubscribe(subID)
			case <-e.done:
			}
		}()
	}
	return ch, nil
}

// Cancel requests cancellation. Cancelling a terminal job is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	e, ok := m.jobs.Load(id)
	if !ok {
		if _, err := m.Get(ctx, id); err != nil {
			return err
		}
		// Known only to the mirror: finished or owned by another process.
		return nil
	}
	if e.snapshot().Terminal() {
		return nil
	}
	e.requestCancel()
	m.logger.Info("job_cancel_requested", slog.String("job_id", id))
	return nil
}

// List returns snapshots matching filter, oldest first.
func (m *Manager) List(filter Filter) []Job {
	var out []Job
	m.jobs.Range(func(_ string, e *entry) bool {
		if j := e.snapshot(); filter.match(j) {
			out = append(out, j)
		}
		return true
	})
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// GC forgets terminal jobs that finished before now minus the retention
// window and returns how many were removed.
func (m *Manager) GC(now time.Time) int {
	cutoff := now.Add(-m.retention)
	removed := 0
	m.jobs.Range(func(id string, e *entry) bool {
		j := e.snapshot()
		if j.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			m.jobs.Delete(id)
			removed++
		}
		return true
	})
	if removed > 0 {
		m.logger.Debug("jobs_collected", slog.Int("removed", removed))
	}
	return removed
}

// StartGC runs GC every interval until ctx is done or the manager shuts
// down.
func (m *Manager) StartGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			case now := <-ticker.C:
				m.GC(now.UTC())
			}
		}
	}()
}

// Active reports how many jobs are not yet terminal.
func (m *Manager) Active() int {
	n := 0
	m.jobs.Range(func(_ string, e *entry) bool {
		if !e.snapshot().Terminal() {
			n++
		}
		return true
	})
	return n
}

// Shutdown stops accepting jobs, cancels every active job and waits for the
// tasks to return or ctx to end. Running tasks see their context cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.jobs.Range(func(_ string, e *entry) bool {
		e.requestCancel()
		return true
	})
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
