package jobs

import (
	"sync"
	"time"
)

// entry is the manager's record of one job: the current snapshot, the
// cancellation token and the stream subscribers. All fields are guarded by
// mu; the running task is the only writer besides Cancel.
type entry struct {
	mu   sync.Mutex
	job  Job
	subs map[int]chan Job
	next int

	cancelOnce sync.Once
	cancelCh   chan struct{}

	// done is closed when the job becomes terminal.
	done chan struct{}
}

func newEntry(job Job) *entry {
	return &entry{
		job:      job,
		subs:     map[int]chan Job{},
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (e *entry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

func (e *entry) requestCancel() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

func (e *entry) cancelRequested() bool {
	select {
	case <-e.cancelCh:
		return true
	default:
		return false
	}
}

// update applies fn to the job unless it is terminal, stamps it and
// broadcasts the result. It reports whether anything changed.
func (e *entry) update(now time.Time, fn func(j *Job)) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Terminal() {
		return e.job, false
	}
	fn(&e.job)
	e.job.UpdatedAt = now
	e.broadcast()
	if e.job.Terminal() {
		close(e.done)
	}
	return e.job, true
}

// subscribe registers a stream. The current snapshot is queued first; a
// terminal job yields a channel that is already closed after it.
func (e *entry) subscribe() (int, <-chan Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan Job, 1)
	ch <- e.job
	if e.job.Terminal() {
		close(ch)
		return -1, ch
	}
	id := e.next
	e.next++
	e.subs[id] = ch
	return id, ch
}

func (e *entry) unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

// broadcast hands the current snapshot to every subscriber without
// blocking. Each subscriber buffers one snapshot and the newest wins. The
// terminal snapshot is always delivered, then the channel is closed. Only
// broadcast sends, under mu, so after draining a slot the send cannot
// block.
func (e *entry) broadcast() {
	for id, ch := range e.subs {
		select {
		case ch <- e.job:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- e.job
		}
		if e.job.Terminal() {
			delete(e.subs, id)
			close(ch)
		}
	}
}
