package jobs

// Runtime is the running task's handle on its job.
type Runtime struct {
	m *Manager
	e *entry
}

// JobID returns the id of the running job.
func (rt *Runtime) JobID() string { return rt.e.job.ID }

// Progress publishes phase, message and counters. Counters are clamped so
// that current never decreases and never exceeds total.
func (rt *Runtime) Progress(phase, message string, current, total int) {
	prevPhase := ""
	job, changed := rt.e.update(rt.m.now(), func(j *Job) {
		prevPhase = j.Phase
		if current < j.Progress.Current {
			current = j.Progress.Current
		}
		if total < current {
			total = current
		}
		j.Phase = phase
		j.Message = message
		j.Progress = Progress{Current: current, Total: total}
	})
	if changed && phase != prevPhase {
		rt.m.mirror(job)
	}
}

// Phase publishes a new phase and message and keeps the counters.
func (rt *Runtime) Phase(phase, message string) {
	p := rt.e.snapshot().Progress
	rt.Progress(phase, message, p.Current, p.Total)
}

// Checkpoint returns ErrCancelled once cancellation was requested. Tasks
// call it only where stopping leaves no partial state behind.
func (rt *Runtime) Checkpoint() error {
	if rt.e.cancelRequested() {
		return ErrCancelled
	}
	return nil
}

// Cancelled reports whether cancellation was requested.
func (rt *Runtime) Cancelled() bool { return rt.e.cancelRequested() }
